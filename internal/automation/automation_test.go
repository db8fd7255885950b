package automation

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/atlasrisk/atlas/internal/risk"
)

var baseAt = time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)

func assessed(eventID, userID string, score int, at time.Time) *risk.Assessment {
	return &risk.Assessment{
		EventID:   eventID,
		UserID:    userID,
		RiskScore: score,
		RiskLevel: risk.LevelForScore(score),
		ScoredAt:  at,
	}
}

func TestCriticalBlocks(t *testing.T) {
	e := NewEngine(nil)

	v := e.Apply(context.Background(), assessed("evt_1", "user_1", 85, baseAt))
	if v == nil {
		t.Fatal("expected a verdict for a critical assessment")
	}
	if v.Response != ResponseBlock || v.Rule != "auto_block_critical" {
		t.Errorf("verdict = %s/%s, want auto_block/auto_block_critical", v.Response, v.Rule)
	}
	if v.EventID != "evt_1" || v.UserID != "user_1" {
		t.Errorf("identity not stamped: %s/%s", v.EventID, v.UserID)
	}
	if !strings.Contains(v.Reason, "85") {
		t.Errorf("Reason = %q", v.Reason)
	}
	if v.IssuedAt.IsZero() {
		t.Error("IssuedAt not set")
	}
}

func TestHighGoesToReview(t *testing.T) {
	e := NewEngine(nil)

	v := e.Apply(context.Background(), assessed("evt_2", "user_2", 65, baseAt))
	if v == nil {
		t.Fatal("expected a verdict for a high assessment")
	}
	if v.Response != ResponseReview || v.Rule != "auto_review_high" {
		t.Errorf("verdict = %s/%s", v.Response, v.Rule)
	}
}

func TestLowAndMediumPassThrough(t *testing.T) {
	e := NewEngine(nil)

	for _, score := range []int{5, 39, 40, 59} {
		if v := e.Apply(context.Background(), assessed("evt", "user", score, baseAt)); v != nil {
			t.Errorf("score %d produced verdict %s, want none", score, v.Rule)
		}
	}
	if v := e.Apply(context.Background(), nil); v != nil {
		t.Errorf("nil assessment produced a verdict: %v", v)
	}
}

func TestRepeatCriticalsEscalate(t *testing.T) {
	e := NewEngine(nil)
	ctx := context.Background()

	// First two criticals block; the third completes the streak.
	for i := 0; i < 2; i++ {
		v := e.Apply(ctx, assessed(fmt.Sprintf("evt_%d", i), "user_r", 90, baseAt.Add(time.Duration(i)*time.Hour)))
		if v == nil || v.Response != ResponseBlock {
			t.Fatalf("critical %d: verdict = %+v, want auto_block", i, v)
		}
	}

	v := e.Apply(ctx, assessed("evt_2", "user_r", 90, baseAt.Add(2*time.Hour)))
	if v == nil {
		t.Fatal("expected a verdict")
	}
	if v.Response != ResponseEscalate || v.Rule != "auto_escalate" {
		t.Errorf("verdict = %s/%s, want auto_escalate", v.Response, v.Rule)
	}
	if !strings.Contains(v.Reason, "3 critical assessments") {
		t.Errorf("Reason = %q", v.Reason)
	}

	// The streak keeps escalating while it stays inside the window.
	v = e.Apply(ctx, assessed("evt_3", "user_r", 90, baseAt.Add(3*time.Hour)))
	if v == nil || v.Response != ResponseEscalate {
		t.Errorf("fourth critical verdict = %+v, want auto_escalate", v)
	}
}

func TestEscalationWindowSlides(t *testing.T) {
	e := NewEngine(nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		e.Apply(ctx, assessed(fmt.Sprintf("evt_%d", i), "user_w", 90, baseAt.Add(time.Duration(i)*time.Hour)))
	}

	// Thirty hours on, the old streak has aged out: back to a plain block.
	v := e.Apply(ctx, assessed("evt_late", "user_w", 90, baseAt.Add(30*time.Hour)))
	if v == nil {
		t.Fatal("expected a verdict")
	}
	if v.Response != ResponseBlock {
		t.Errorf("verdict = %s/%s, want auto_block after the window slid", v.Response, v.Rule)
	}
}

func TestEscalationIsPerUser(t *testing.T) {
	e := NewEngine(nil)
	ctx := context.Background()

	e.Apply(ctx, assessed("evt_a1", "user_a", 90, baseAt))
	e.Apply(ctx, assessed("evt_a2", "user_a", 90, baseAt.Add(time.Minute)))

	v := e.Apply(ctx, assessed("evt_b1", "user_b", 90, baseAt.Add(2*time.Minute)))
	if v == nil || v.Response != ResponseBlock {
		t.Errorf("user_b inherited user_a's streak: %+v", v)
	}
}

func TestLogAndStats(t *testing.T) {
	e := NewEngine(nil)
	ctx := context.Background()

	e.Apply(ctx, assessed("evt_1", "user_1", 85, baseAt))
	e.Apply(ctx, assessed("evt_2", "user_2", 65, baseAt.Add(time.Minute)))
	e.Apply(ctx, assessed("evt_3", "user_3", 10, baseAt.Add(2*time.Minute)))

	log := e.Log(0)
	if len(log) != 2 {
		t.Fatalf("log has %d verdicts, want 2", len(log))
	}
	if log[0].EventID != "evt_2" || log[1].EventID != "evt_1" {
		t.Errorf("log not newest-first: %s, %s", log[0].EventID, log[1].EventID)
	}

	limited := e.Log(1)
	if len(limited) != 1 || limited[0].EventID != "evt_2" {
		t.Errorf("Log(1) = %d verdicts", len(limited))
	}

	stats := e.Stats()
	if stats["auto_block_critical"] != 1 || stats["auto_review_high"] != 1 {
		t.Errorf("Stats = %v", stats)
	}
}

func TestLogCap(t *testing.T) {
	e := NewEngine(nil)
	e.cap = 2
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		e.Apply(ctx, assessed(fmt.Sprintf("evt_%d", i), fmt.Sprintf("user_%d", i), 65, baseAt.Add(time.Duration(i)*time.Minute)))
	}
	log := e.Log(0)
	if len(log) != 2 {
		t.Fatalf("log kept %d verdicts, want 2", len(log))
	}
	if log[0].EventID != "evt_3" || log[1].EventID != "evt_2" {
		t.Errorf("log kept wrong window: %s, %s", log[0].EventID, log[1].EventID)
	}
}

// stubRule fires on everything, for ordering tests.
type stubRule struct{ name string }

func (r *stubRule) Name() string { return r.name }

func (r *stubRule) Evaluate(_ context.Context, _ *UserHistory, _ *risk.Assessment) *Verdict {
	return &Verdict{Response: ResponseReview, Rule: r.name, Reason: "stub"}
}

func TestFirstMatchWins(t *testing.T) {
	e := NewEngine([]Rule{&stubRule{name: "first"}, &stubRule{name: "second"}})

	v := e.Apply(context.Background(), assessed("evt", "user", 10, baseAt))
	if v == nil || v.Rule != "first" {
		t.Errorf("verdict = %+v, want the first rule", v)
	}
}

func TestUserHistoryPrunes(t *testing.T) {
	h := NewUserHistory()

	h.Record("user_1", baseAt)
	h.Record("user_1", baseAt.Add(time.Hour))
	if n := h.CriticalCount("user_1", escalationWindow, baseAt.Add(time.Hour)); n != 2 {
		t.Errorf("count = %d, want 2", n)
	}

	// A record a day later shrinks the retained slice to the window.
	h.Record("user_1", baseAt.Add(26*time.Hour))
	if n := h.CriticalCount("user_1", escalationWindow, baseAt.Add(26*time.Hour)); n != 1 {
		t.Errorf("count after prune = %d, want 1", n)
	}
}
