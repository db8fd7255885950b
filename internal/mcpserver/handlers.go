package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/atlasrisk/atlas/internal/alert"
	"github.com/atlasrisk/atlas/internal/audit"
	"github.com/atlasrisk/atlas/internal/automation"
	"github.com/atlasrisk/atlas/internal/model"
	"github.com/atlasrisk/atlas/internal/profile"
	"github.com/atlasrisk/atlas/internal/risk"
	"github.com/atlasrisk/atlas/internal/stream"
)

// defaultAnalyst identifies tool calls that don't name their operator.
const defaultAnalyst = "mcp-analyst"

// TrailReader reads back an event's audit records, oldest first.
type TrailReader interface {
	Trail(ctx context.Context, eventID string) ([]*audit.Record, error)
}

// Deps are the engine-side collaborators the tools call into. Everything is
// in-process: the MCP server embeds the scoring pipeline rather than talking
// to a daemon over the network.
type Deps struct {
	Pipeline *stream.Processor
	Profiles profile.Store
	Alerts   *alert.Manager
	Rules    *automation.Engine
	Audit    audit.Sink
	Trail    TrailReader
	Model    *model.Handle
}

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	deps Deps
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(deps Deps) *Handlers {
	return &Handlers{deps: deps}
}

// HandleScoreEvent runs one transaction through the full pipeline.
func (h *Handlers) HandleScoreEvent(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw := req.GetArguments()["event"]
	if raw == nil {
		return mcp.NewToolResultError("event is required"), nil
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return mcp.NewToolResultError("event must be a JSON object"), nil
	}

	data, err := json.Marshal(obj)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to encode event: %v", err)), nil
	}
	var ev risk.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Malformed event: %v", err)), nil
	}

	res, err := h.deps.Pipeline.Process(ctx, &ev)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Scoring failed: %v", err)), nil
	}

	return mcp.NewToolResultText(formatScoreResult(res)), nil
}

// HandleGetUserProfile returns a user's behavioral profile.
func (h *Handlers) HandleGetUserProfile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID := req.GetString("user_id", "")
	if userID == "" {
		return mcp.NewToolResultError("user_id is required"), nil
	}

	prof, err := h.deps.Profiles.Get(ctx, userID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to load profile: %v", err)), nil
	}

	return mcp.NewToolResultText(formatProfile(prof)), nil
}

// HandleGetAuditTrail returns the decision history for one event.
func (h *Handlers) HandleGetAuditTrail(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	eventID := req.GetString("event_id", "")
	if eventID == "" {
		return mcp.NewToolResultError("event_id is required"), nil
	}

	records, err := h.deps.Trail.Trail(ctx, eventID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to read audit trail: %v", err)), nil
	}
	if len(records) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("No audit records for event %s.", eventID)), nil
	}

	return mcp.NewToolResultText(formatTrail(eventID, records)), nil
}

// HandleOverrideAction records an operator override for a scored event.
func (h *Handlers) HandleOverrideAction(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	eventID := req.GetString("event_id", "")
	if eventID == "" {
		return mcp.NewToolResultError("event_id is required"), nil
	}
	reason := req.GetString("reason", "")
	if reason == "" {
		return mcp.NewToolResultError("reason is required"), nil
	}
	analyst := req.GetString("analyst", defaultAnalyst)

	var newAction risk.Action
	switch req.GetString("action", "") {
	case "approve":
		newAction = risk.ActionApprove
	case "review":
		newAction = risk.ActionReview
	case "block":
		newAction = risk.ActionBlock
	default:
		return mcp.NewToolResultError("action must be approve, review, or block"), nil
	}

	records, err := h.deps.Trail.Trail(ctx, eventID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to read audit trail: %v", err)), nil
	}
	if len(records) == 0 {
		return mcp.NewToolResultError(fmt.Sprintf("No recorded decision for event %s; score it first.", eventID)), nil
	}

	last := records[len(records)-1]
	prev := last.NewState.RecommendedAction
	if prev == newAction {
		return mcp.NewToolResultText(fmt.Sprintf(
			"The current action for event %s is already %s; nothing to override.", eventID, newAction)), nil
	}

	rec := audit.NewOverride(assessmentFromRecord(last), newAction, analyst, reason)
	if err := h.deps.Audit.Append(ctx, rec); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to record override: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf(
		"Action for event %s overridden: %s -> %s.\n"+
			"Reason: %s\n"+
			"Recorded as %s by %s.",
		eventID, prev, newAction, reason, rec.ID, analyst)), nil
}

// HandleListAlerts lists the open alert queue.
func (h *Handlers) HandleListAlerts(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	severity := req.GetString("severity", "")
	limit := req.GetInt("limit", 20)

	alerts, err := h.deps.Alerts.ListActive(ctx, alert.Filter{
		Severity: alert.Severity(severity),
		Limit:    limit,
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list alerts: %v", err)), nil
	}
	if len(alerts) == 0 {
		return mcp.NewToolResultText("No open alerts."), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d open alert(s):\n\n", len(alerts))
	for i, al := range alerts {
		fmt.Fprintf(&sb, "%d. %s [%s] %s\n", i+1, al.ID, al.Severity, al.Title)
		fmt.Fprintf(&sb, "   Event %s | user %s | score %d | raised %s\n",
			al.EventID, al.UserID, al.RiskScore, al.CreatedAt.UTC().Format(time.RFC3339))
		if al.Status == alert.StatusAcknowledged {
			fmt.Fprintf(&sb, "   Acknowledged by %s\n", al.AcknowledgedBy)
		}
		if i < len(alerts)-1 {
			sb.WriteString("\n")
		}
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleAcknowledgeAlert marks an alert as being worked.
func (h *Handlers) HandleAcknowledgeAlert(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	alertID := req.GetString("alert_id", "")
	if alertID == "" {
		return mcp.NewToolResultError("alert_id is required"), nil
	}
	analyst := req.GetString("analyst", defaultAnalyst)

	al, err := h.deps.Alerts.Acknowledge(ctx, alertID, analyst)
	if err != nil {
		return alertLifecycleError(alertID, err), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf(
		"Alert %s acknowledged by %s.\n"+
			"%s (severity %s). Close it with close_alert when the investigation ends.",
		al.ID, analyst, al.Title, al.Severity)), nil
}

// HandleCloseAlert resolves or dismisses an alert.
func (h *Handlers) HandleCloseAlert(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	alertID := req.GetString("alert_id", "")
	if alertID == "" {
		return mcp.NewToolResultError("alert_id is required"), nil
	}
	note := req.GetString("note", "")
	if note == "" {
		return mcp.NewToolResultError("note is required"), nil
	}
	analyst := req.GetString("analyst", defaultAnalyst)

	var (
		al  *alert.Alert
		err error
	)
	switch req.GetString("outcome", "") {
	case "resolved":
		al, err = h.deps.Alerts.Resolve(ctx, alertID, analyst, note)
	case "dismissed":
		al, err = h.deps.Alerts.Dismiss(ctx, alertID, analyst, note)
	default:
		return mcp.NewToolResultError("outcome must be resolved or dismissed"), nil
	}
	if err != nil {
		return alertLifecycleError(alertID, err), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf(
		"Alert %s closed as %s by %s.\nNote: %s",
		al.ID, al.Status, analyst, note)), nil
}

// HandleGetRiskStats summarizes the current risk posture.
func (h *Handlers) HandleGetRiskStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := h.deps.Alerts.Stats(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to load alert stats: %v", err)), nil
	}

	var sb strings.Builder
	sb.WriteString("Alert queue:\n")
	fmt.Fprintf(&sb, "  Open: %d (total retained: %d)\n", stats.Active, stats.Total)
	for _, sev := range []alert.Severity{alert.SeverityCritical, alert.SeverityHigh, alert.SeverityMedium} {
		if n := stats.BySeverity[sev]; n > 0 {
			fmt.Fprintf(&sb, "    %s: %d\n", sev, n)
		}
	}
	if len(stats.ByType) > 0 {
		types := make([]string, 0, len(stats.ByType))
		for t := range stats.ByType {
			types = append(types, string(t))
		}
		sort.Strings(types)
		sb.WriteString("  By type:\n")
		for _, t := range types {
			fmt.Fprintf(&sb, "    %s: %d\n", t, stats.ByType[alert.Type(t)])
		}
	}

	verdicts := h.deps.Rules.Stats()
	if len(verdicts) > 0 {
		rules := make([]string, 0, len(verdicts))
		for r := range verdicts {
			rules = append(rules, r)
		}
		sort.Strings(rules)
		sb.WriteString("\nAutomated responses:\n")
		for _, r := range rules {
			fmt.Fprintf(&sb, "  %s: %d\n", r, verdicts[r])
		}
	}

	if artifact, err := h.deps.Model.Current(); err == nil {
		fmt.Fprintf(&sb, "\nModel: %s (created %s)\n",
			artifact.Version, artifact.CreatedAt.UTC().Format(time.RFC3339))
		fmt.Fprintf(&sb, "  Features: %d\n", len(artifact.FeatureNames))
		if artifact.TrainingSamples > 0 {
			fmt.Fprintf(&sb, "  Training samples: %d\n", artifact.TrainingSamples)
		}
		if len(artifact.Metrics) > 0 {
			names := make([]string, 0, len(artifact.Metrics))
			for m := range artifact.Metrics {
				names = append(names, m)
			}
			sort.Strings(names)
			sb.WriteString("  Metrics:")
			for i, m := range names {
				if i > 0 {
					sb.WriteString(",")
				}
				fmt.Fprintf(&sb, " %s %.3f", m, artifact.Metrics[m])
			}
			sb.WriteString("\n")
		}
	} else {
		sb.WriteString("\nModel: unavailable\n")
	}

	return mcp.NewToolResultText(sb.String()), nil
}

// --- Formatting helpers ---

func formatScoreResult(res *stream.Result) string {
	a := res.Assessment

	var sb strings.Builder
	fmt.Fprintf(&sb, "Risk assessment for %s:\n", a.EventID)
	fmt.Fprintf(&sb, "  Score: %d/100 (%s)\n", a.RiskScore, a.RiskLevel)
	fmt.Fprintf(&sb, "  Recommended action: %s\n", strings.ToUpper(string(a.RecommendedAction)))
	fmt.Fprintf(&sb, "  Confidence: %.0f%%\n", a.Confidence*100)
	if a.IsAnomaly {
		fmt.Fprintf(&sb, "  Anomalous: yes (%.2f)\n", a.AnomalyScore)
	}
	fmt.Fprintf(&sb, "  Model: %s\n", a.ModelVersion)
	if a.Degraded {
		sb.WriteString("  Note: profile store unavailable, scored on population defaults\n")
	}
	if a.Truncated {
		sb.WriteString("  Note: latency budget exceeded, explanation truncated\n")
	}

	if len(a.TopFactors) > 0 {
		sb.WriteString("\nTop factors:\n")
		for i, f := range a.TopFactors {
			fmt.Fprintf(&sb, "  %d. %s: %+.1f pts (%.0f%% of signal)\n",
				i+1, f.DisplayName, f.Impact, f.ImpactPercentage)
		}
	}

	if a.Explanation != nil && a.Explanation.Business != nil {
		fmt.Fprintf(&sb, "\nSummary: %s\n", a.Explanation.Business.Summary)
	}

	if res.Alert != nil {
		fmt.Fprintf(&sb, "\nAlert raised: %s (%s, %s)\n", res.Alert.ID, res.Alert.Severity, res.Alert.Type)
	}
	for _, p := range res.Patterns {
		fmt.Fprintf(&sb, "Pattern detected: %s\n", p.Description)
	}
	if res.Verdict != nil {
		fmt.Fprintf(&sb, "Automated response: %s (%s)\n", res.Verdict.Response, res.Verdict.Reason)
	}

	return sb.String()
}

func formatProfile(p *profile.UserProfile) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Profile for %s:\n", p.UserID)
	if p.TotalEvents == 0 {
		sb.WriteString("  No transaction history; population defaults in effect.\n")
	}
	fmt.Fprintf(&sb, "  Transactions: %d\n", p.TotalEvents)
	fmt.Fprintf(&sb, "  Typical amount: $%.2f (std $%.2f)\n", p.AvgAmount, p.StdAmount)
	fmt.Fprintf(&sb, "  Activity: %.1f transactions/day\n", p.AvgPerDay)
	if len(p.Countries) > 0 {
		countries := make([]string, 0, len(p.Countries))
		for c := range p.Countries {
			countries = append(countries, c)
		}
		sort.Strings(countries)
		fmt.Fprintf(&sb, "  Countries: %s\n", strings.Join(countries, ", "))
	}
	fmt.Fprintf(&sb, "  Known devices: %d\n", len(p.Devices))
	if p.FraudIncidents > 0 {
		fmt.Fprintf(&sb, "  Confirmed fraud incidents: %d\n", p.FraudIncidents)
	}
	if !p.LastEventAt.IsZero() {
		fmt.Fprintf(&sb, "  Last seen: %s\n", p.LastEventAt.UTC().Format(time.RFC3339))
	}
	return sb.String()
}

func formatTrail(eventID string, records []*audit.Record) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Audit trail for %s (%d record(s)):\n\n", eventID, len(records))

	tampered := 0
	for i, r := range records {
		actor := string(r.ActorType)
		if r.ActorID != "" {
			actor += " " + r.ActorID
		}
		fmt.Fprintf(&sb, "%d. [%s] %s by %s\n",
			i+1, r.Timestamp.UTC().Format(time.RFC3339), r.Action, actor)
		fmt.Fprintf(&sb, "   Score %d (%s), action %s, confidence %.0f%%\n",
			r.NewState.RiskScore, r.NewState.RiskLevel,
			r.NewState.RecommendedAction, r.NewState.Confidence*100)
		if r.PreviousState != nil {
			fmt.Fprintf(&sb, "   Replaced: %s\n", r.PreviousState.Action)
		}
		if r.Reason != "" {
			fmt.Fprintf(&sb, "   Reason: %s\n", r.Reason)
		}
		if r.Verify() {
			sb.WriteString("   Integrity: verified\n")
		} else {
			tampered++
			sb.WriteString("   Integrity: HASH MISMATCH (record altered after write)\n")
		}
		if i < len(records)-1 {
			sb.WriteString("\n")
		}
	}

	if tampered > 0 {
		fmt.Fprintf(&sb, "\nWARNING: %d record(s) failed integrity verification.\n", tampered)
	}
	return sb.String()
}

// assessmentFromRecord rebuilds enough of an assessment from its audit state
// to seal an override against it.
func assessmentFromRecord(r *audit.Record) *risk.Assessment {
	a := &risk.Assessment{
		EventID:           r.EventID,
		RiskScore:         r.NewState.RiskScore,
		RiskLevel:         r.NewState.RiskLevel,
		RecommendedAction: r.NewState.RecommendedAction,
		Confidence:        r.NewState.Confidence,
		ProcessingTimeMS:  r.NewState.ProcessingTimeMS,
		ModelVersion:      r.ModelVersion,
	}
	for _, f := range r.NewState.TopFactors {
		a.TopFactors = append(a.TopFactors, risk.Contribution{
			FeatureName: f.Name,
			Impact:      f.Impact,
		})
	}
	return a
}

func alertLifecycleError(alertID string, err error) *mcp.CallToolResult {
	switch {
	case errors.Is(err, alert.ErrNotFound):
		return mcp.NewToolResultError(fmt.Sprintf("No alert %s.", alertID))
	case errors.Is(err, alert.ErrClosed):
		return mcp.NewToolResultError(fmt.Sprintf("Alert %s is already closed.", alertID))
	default:
		return mcp.NewToolResultError(fmt.Sprintf("Alert update failed: %v", err))
	}
}
