package mcpserver

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlasrisk/atlas/internal/alert"
	"github.com/atlasrisk/atlas/internal/audit"
	"github.com/atlasrisk/atlas/internal/automation"
	"github.com/atlasrisk/atlas/internal/model"
	"github.com/atlasrisk/atlas/internal/pattern"
	"github.com/atlasrisk/atlas/internal/profile"
	"github.com/atlasrisk/atlas/internal/risk"
	"github.com/atlasrisk/atlas/internal/stream"
)

// --- Test helpers ---

var anchor = time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)

// stubScorer returns canned scores keyed by event ID so handler tests can
// steer the pipeline without a trained model. It validates input like the
// real engine does.
type stubScorer struct {
	byEvent map[string]int
	base    int
}

func (s *stubScorer) Score(_ context.Context, ev *risk.Event) (*risk.Assessment, error) {
	if err := risk.ValidateEvent(ev); err != nil {
		return nil, err
	}
	score := s.base
	if v, ok := s.byEvent[ev.ID]; ok {
		score = v
	}
	level := risk.LevelForScore(score)
	return &risk.Assessment{
		EventID:           ev.ID,
		UserID:            ev.UserID,
		RiskScore:         score,
		RiskLevel:         level,
		Confidence:        0.9,
		RecommendedAction: risk.StandardPolicy{}.ActionFor(level, false),
		ModelVersion:      "stub-1",
		TopFactors: []risk.Contribution{{
			FeatureName:      "amount_zscore",
			DisplayName:      "Transaction amount",
			Value:            4.2,
			Impact:           25,
			ImpactPercentage: 60,
			Direction:        risk.DirectionIncreasesRisk,
		}},
		ScoredAt: ev.Timestamp,
	}, nil
}

type testEnv struct {
	deps   Deps
	h      *Handlers
	scorer *stubScorer
	alerts *alert.Manager
	store  *alert.MemoryStore
	sink   *audit.MemorySink
	users  *profile.MemoryStore
}

func newTestEnv() *testEnv {
	scorer := &stubScorer{base: 20, byEvent: map[string]int{}}
	store := alert.NewMemoryStore()
	alerts := alert.NewManager(store)
	rules := automation.NewEngine(nil)
	users := profile.NewMemoryStore()
	sink := audit.NewMemorySink()

	proc := stream.NewProcessor(scorer,
		stream.WithAlerts(alerts),
		stream.WithPatterns(pattern.NewDetector()),
		stream.WithAutomation(rules),
	)

	deps := Deps{
		Pipeline: proc,
		Profiles: users,
		Alerts:   alerts,
		Rules:    rules,
		Audit:    sink,
		Trail:    sink,
		Model:    model.NewHandle(model.Builtin()),
	}
	return &testEnv{
		deps:   deps,
		h:      NewHandlers(deps),
		scorer: scorer,
		alerts: alerts,
		store:  store,
		sink:   sink,
		users:  users,
	}
}

func makeRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	if args == nil {
		args = map[string]any{}
	}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content, "expected at least one content block")
	tc, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text
}

// eventArg builds the "event" tool argument the way an MCP client would
// send it: a plain JSON object.
func eventArg(id, user string, amount float64) map[string]any {
	return map[string]any{
		"event": map[string]any{
			"id":                id,
			"user_id":           user,
			"amount":            amount,
			"currency":          "USD",
			"timestamp":         anchor.Format(time.RFC3339),
			"merchant":          "merch_9",
			"merchant_category": "electronics",
			"location":          map[string]any{"country": "US", "city": "City_1", "lat": 40.7, "lon": -74.0},
			"device":            map[string]any{"fingerprint": "fp_1", "type": "mobile"},
		},
	}
}

// seedDecision writes a system scoring record for eventID straight into the
// audit sink, as the scoring engine would after an assessment.
func seedDecision(t *testing.T, env *testEnv, eventID string, score int) *audit.Record {
	t.Helper()
	level := risk.LevelForScore(score)
	rec := audit.NewDecision(&risk.Assessment{
		EventID:           eventID,
		UserID:            "user_1",
		RiskScore:         score,
		RiskLevel:         level,
		Confidence:        0.91,
		RecommendedAction: risk.StandardPolicy{}.ActionFor(level, false),
		ModelVersion:      "stub-1",
		TopFactors: []risk.Contribution{
			{FeatureName: "amount_zscore", Impact: 25},
		},
	})
	require.NoError(t, env.sink.Append(context.Background(), rec))
	return rec
}

// ============================================================
// score_event
// ============================================================

func TestHandleScoreEvent_LowRisk(t *testing.T) {
	env := newTestEnv()

	result, err := env.h.HandleScoreEvent(context.Background(), makeRequest(eventArg("txn_1", "user_1", 250)))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "Risk assessment for txn_1")
	assert.Contains(t, text, "Score: 20/100 (low)")
	assert.Contains(t, text, "Recommended action: APPROVE")
	assert.Contains(t, text, "Transaction amount")
	assert.NotContains(t, text, "Alert raised")
	assert.Equal(t, 0, env.store.Len())
}

func TestHandleScoreEvent_CriticalRaisesAlertAndBlocks(t *testing.T) {
	env := newTestEnv()
	env.scorer.byEvent["txn_hot"] = 90

	result, err := env.h.HandleScoreEvent(context.Background(), makeRequest(eventArg("txn_hot", "user_2", 9800)))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "Score: 90/100 (critical)")
	assert.Contains(t, text, "Recommended action: BLOCK")
	assert.Contains(t, text, "Alert raised: alert_")
	assert.Contains(t, text, "Automated response: auto_block")
	assert.Equal(t, 1, env.store.Len())
}

func TestHandleScoreEvent_MissingEvent(t *testing.T) {
	env := newTestEnv()

	result, err := env.h.HandleScoreEvent(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "event is required")
}

func TestHandleScoreEvent_EventNotAnObject(t *testing.T) {
	env := newTestEnv()

	result, err := env.h.HandleScoreEvent(context.Background(), makeRequest(map[string]any{"event": "txn_1"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "JSON object")
}

func TestHandleScoreEvent_RejectedByValidation(t *testing.T) {
	env := newTestEnv()

	// Blank event ID fails validation inside the scorer.
	result, err := env.h.HandleScoreEvent(context.Background(), makeRequest(eventArg("", "user_1", 250)))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "Scoring failed")
}

// ============================================================
// get_user_profile
// ============================================================

func TestHandleGetUserProfile_NewUser(t *testing.T) {
	env := newTestEnv()

	result, err := env.h.HandleGetUserProfile(context.Background(), makeRequest(map[string]any{"user_id": "user_new"}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "Profile for user_new")
	assert.Contains(t, text, "population defaults")
}

func TestHandleGetUserProfile_WithHistory(t *testing.T) {
	env := newTestEnv()
	ev := &risk.Event{
		ID:        "txn_1",
		UserID:    "user_7",
		Amount:    decimal.NewFromInt(120),
		Currency:  "USD",
		Timestamp: anchor,
		Location:  &risk.Location{Country: "DE", City: "Berlin", Lat: 52.5, Lon: 13.4},
		Device:    &risk.Device{Fingerprint: "fp_9", Type: "mobile"},
	}
	require.NoError(t, env.users.Update(context.Background(), ev))

	result, err := env.h.HandleGetUserProfile(context.Background(), makeRequest(map[string]any{"user_id": "user_7"}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "Transactions: 1")
	assert.Contains(t, text, "Countries: DE")
	assert.Contains(t, text, "Known devices: 1")
	assert.NotContains(t, text, "population defaults")
}

func TestHandleGetUserProfile_MissingID(t *testing.T) {
	env := newTestEnv()

	result, err := env.h.HandleGetUserProfile(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "user_id is required")
}

// ============================================================
// get_audit_trail
// ============================================================

func TestHandleGetAuditTrail_Empty(t *testing.T) {
	env := newTestEnv()

	result, err := env.h.HandleGetAuditTrail(context.Background(), makeRequest(map[string]any{"event_id": "txn_missing"}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), "No audit records for event txn_missing")
}

func TestHandleGetAuditTrail_FormatsRecords(t *testing.T) {
	env := newTestEnv()
	seedDecision(t, env, "txn_7", 87)

	result, err := env.h.HandleGetAuditTrail(context.Background(), makeRequest(map[string]any{"event_id": "txn_7"}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "Audit trail for txn_7 (1 record(s))")
	assert.Contains(t, text, "score by system")
	assert.Contains(t, text, "Score 87 (critical), action block, confidence 91%")
	assert.Contains(t, text, "Integrity: verified")
	assert.NotContains(t, text, "HASH MISMATCH")
}

func TestHandleGetAuditTrail_FlagsTampering(t *testing.T) {
	env := newTestEnv()
	rec := seedDecision(t, env, "txn_8", 55)
	rec.RiskScore = 5 // mutate after sealing

	result, err := env.h.HandleGetAuditTrail(context.Background(), makeRequest(map[string]any{"event_id": "txn_8"}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "HASH MISMATCH")
	assert.Contains(t, text, "1 record(s) failed integrity verification")
}

// ============================================================
// override_action
// ============================================================

func TestHandleOverrideAction_RecordsOverride(t *testing.T) {
	env := newTestEnv()
	seedDecision(t, env, "txn_9", 87) // recommends block

	result, err := env.h.HandleOverrideAction(context.Background(), makeRequest(map[string]any{
		"event_id": "txn_9",
		"action":   "approve",
		"reason":   "verified with cardholder",
		"analyst":  "analyst_7",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "overridden: block -> approve")
	assert.Contains(t, text, "analyst_7")

	records, err := env.sink.Trail(context.Background(), "txn_9")
	require.NoError(t, err)
	require.Len(t, records, 2)

	last := records[1]
	assert.Equal(t, "override_to_approve", last.Action)
	assert.Equal(t, audit.ActorOperator, last.ActorType)
	assert.Equal(t, "analyst_7", last.ActorID)
	assert.Equal(t, "verified with cardholder", last.Reason)
	require.NotNil(t, last.PreviousState)
	assert.Equal(t, risk.ActionBlock, last.PreviousState.Action)
	assert.True(t, last.Verify())
}

func TestHandleOverrideAction_DefaultAnalyst(t *testing.T) {
	env := newTestEnv()
	seedDecision(t, env, "txn_10", 87)

	result, err := env.h.HandleOverrideAction(context.Background(), makeRequest(map[string]any{
		"event_id": "txn_10",
		"action":   "review",
		"reason":   "needs a second look",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	records, err := env.sink.Trail(context.Background(), "txn_10")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "mcp-analyst", records[1].ActorID)
}

func TestHandleOverrideAction_NoHistory(t *testing.T) {
	env := newTestEnv()

	result, err := env.h.HandleOverrideAction(context.Background(), makeRequest(map[string]any{
		"event_id": "txn_unseen",
		"action":   "approve",
		"reason":   "n/a",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "score it first")
}

func TestHandleOverrideAction_SameAction(t *testing.T) {
	env := newTestEnv()
	seedDecision(t, env, "txn_11", 20) // recommends approve

	result, err := env.h.HandleOverrideAction(context.Background(), makeRequest(map[string]any{
		"event_id": "txn_11",
		"action":   "approve",
		"reason":   "looks fine",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), "already approve")
	assert.Equal(t, 1, env.sink.Len(), "no override record should be written")
}

func TestHandleOverrideAction_UnknownAction(t *testing.T) {
	env := newTestEnv()
	seedDecision(t, env, "txn_12", 87)

	result, err := env.h.HandleOverrideAction(context.Background(), makeRequest(map[string]any{
		"event_id": "txn_12",
		"action":   "quarantine",
		"reason":   "n/a",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "approve, review, or block")
}

// ============================================================
// list_alerts
// ============================================================

func TestHandleListAlerts_Empty(t *testing.T) {
	env := newTestEnv()

	result, err := env.h.HandleListAlerts(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Equal(t, "No open alerts.", resultText(t, result))
}

func TestHandleListAlerts_FiltersBySeverity(t *testing.T) {
	env := newTestEnv()
	env.scorer.byEvent["txn_hot"] = 90

	_, err := env.h.HandleScoreEvent(context.Background(), makeRequest(eventArg("txn_hot", "user_2", 9800)))
	require.NoError(t, err)
	_, err = env.alerts.RaisePattern(context.Background(), alert.PatternAlert{
		PatternID:   "pattern_1",
		EventID:     "txn_hot",
		Description: "3 users share device fp_1.",
		Confidence:  0.5,
	})
	require.NoError(t, err)

	result, err := env.h.HandleListAlerts(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), "2 open alert(s)")

	result, err = env.h.HandleListAlerts(context.Background(), makeRequest(map[string]any{"severity": "critical"}))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "1 open alert(s)")
	assert.Contains(t, text, "[critical]")
	assert.Contains(t, text, "Event txn_hot")
	assert.NotContains(t, text, "Fraud pattern")
}

// ============================================================
// acknowledge_alert / close_alert
// ============================================================

func TestHandleAcknowledgeAlert_Lifecycle(t *testing.T) {
	env := newTestEnv()
	al, err := env.alerts.RaisePattern(context.Background(), alert.PatternAlert{
		PatternID:   "pattern_2",
		EventID:     "txn_20",
		Description: "Velocity burst.",
		Confidence:  0.9,
	})
	require.NoError(t, err)

	result, err := env.h.HandleAcknowledgeAlert(context.Background(), makeRequest(map[string]any{"alert_id": al.ID}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), "acknowledged by mcp-analyst")

	result, err = env.h.HandleCloseAlert(context.Background(), makeRequest(map[string]any{
		"alert_id": al.ID,
		"outcome":  "resolved",
		"note":     "card reissued",
		"analyst":  "analyst_7",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	text := resultText(t, result)
	assert.Contains(t, text, "closed as resolved by analyst_7")
	assert.Contains(t, text, "card reissued")

	// A closed alert can't be acknowledged again.
	result, err = env.h.HandleAcknowledgeAlert(context.Background(), makeRequest(map[string]any{"alert_id": al.ID}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "already closed")
}

func TestHandleAcknowledgeAlert_NotFound(t *testing.T) {
	env := newTestEnv()

	result, err := env.h.HandleAcknowledgeAlert(context.Background(), makeRequest(map[string]any{"alert_id": "alert_nope"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "No alert alert_nope")
}

func TestHandleCloseAlert_Dismissed(t *testing.T) {
	env := newTestEnv()
	al, err := env.alerts.RaisePattern(context.Background(), alert.PatternAlert{
		PatternID:   "pattern_3",
		EventID:     "txn_21",
		Description: "Merchant cluster.",
		Confidence:  0.75,
	})
	require.NoError(t, err)

	result, err := env.h.HandleCloseAlert(context.Background(), makeRequest(map[string]any{
		"alert_id": al.ID,
		"outcome":  "dismissed",
		"note":     "known travel",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), "closed as dismissed")
}

func TestHandleCloseAlert_BadOutcome(t *testing.T) {
	env := newTestEnv()

	result, err := env.h.HandleCloseAlert(context.Background(), makeRequest(map[string]any{
		"alert_id": "alert_x",
		"outcome":  "ignored",
		"note":     "n/a",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "resolved or dismissed")
}

func TestHandleCloseAlert_RequiresNote(t *testing.T) {
	env := newTestEnv()

	result, err := env.h.HandleCloseAlert(context.Background(), makeRequest(map[string]any{
		"alert_id": "alert_x",
		"outcome":  "resolved",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "note is required")
}

// ============================================================
// get_risk_stats
// ============================================================

func TestHandleGetRiskStats_ReportsPosture(t *testing.T) {
	env := newTestEnv()
	env.scorer.byEvent["txn_hot"] = 90

	_, err := env.h.HandleScoreEvent(context.Background(), makeRequest(eventArg("txn_hot", "user_2", 9800)))
	require.NoError(t, err)

	result, err := env.h.HandleGetRiskStats(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "Alert queue:")
	assert.Contains(t, text, "Open: 1")
	assert.Contains(t, text, "critical: 1")
	assert.Contains(t, text, "auto_block_critical: 1")
	assert.Contains(t, text, "Model: 1.0.0-builtin")
	assert.Contains(t, text, "roc_auc 0.931")
}

func TestHandleGetRiskStats_QuietSystem(t *testing.T) {
	env := newTestEnv()

	result, err := env.h.HandleGetRiskStats(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "Open: 0")
	assert.NotContains(t, text, "Automated responses")
}

// ============================================================
// Server wiring
// ============================================================

func TestNewMCPServer_RegistersAllTools(t *testing.T) {
	env := newTestEnv()
	s := NewMCPServer(env.deps)
	require.NotNil(t, s)
}

// ============================================================
// Edge cases: handler never returns Go error
// ============================================================

func TestHandlers_NeverReturnGoError(t *testing.T) {
	// All handlers should return (result, nil) even on bad input. The
	// failure is encoded in result.IsError, not in the Go error.
	env := newTestEnv()

	tests := []struct {
		name string
		fn   func() (*mcp.CallToolResult, error)
	}{
		{"ScoreEvent_NoArgs", func() (*mcp.CallToolResult, error) {
			return env.h.HandleScoreEvent(context.Background(), makeRequest(nil))
		}},
		{"GetUserProfile_NoArgs", func() (*mcp.CallToolResult, error) {
			return env.h.HandleGetUserProfile(context.Background(), makeRequest(nil))
		}},
		{"GetAuditTrail_NoArgs", func() (*mcp.CallToolResult, error) {
			return env.h.HandleGetAuditTrail(context.Background(), makeRequest(nil))
		}},
		{"OverrideAction_NoArgs", func() (*mcp.CallToolResult, error) {
			return env.h.HandleOverrideAction(context.Background(), makeRequest(nil))
		}},
		{"AcknowledgeAlert_NoArgs", func() (*mcp.CallToolResult, error) {
			return env.h.HandleAcknowledgeAlert(context.Background(), makeRequest(nil))
		}},
		{"CloseAlert_NoArgs", func() (*mcp.CallToolResult, error) {
			return env.h.HandleCloseAlert(context.Background(), makeRequest(nil))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := tt.fn()
			assert.NoError(t, err, "handler should never return Go error")
			require.NotNil(t, result, "handler should always return a result")
			assert.True(t, result.IsError, "missing arguments should produce isError result")
		})
	}
}

func TestHandlers_ConcurrentCalls(t *testing.T) {
	env := newTestEnv()

	done := make(chan struct{})
	for i := 0; i < 20; i++ {
		go func(n int) {
			defer func() { done <- struct{}{} }()
			id := fmt.Sprintf("txn_%d", n)
			env.h.HandleScoreEvent(context.Background(), makeRequest(eventArg(id, "user_c", 100)))
			env.h.HandleGetUserProfile(context.Background(), makeRequest(map[string]any{"user_id": "user_c"}))
			env.h.HandleGetRiskStats(context.Background(), makeRequest(nil))
		}(i)
	}
	for i := 0; i < 20; i++ {
		<-done
	}
}
