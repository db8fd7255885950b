// Package audit provides tamper-evident audit records for risk decisions
// and append-only persistence behind an asynchronous writer.
//
// Every assessment produces exactly one decision record. Operator overrides
// produce a second record pointing back at the same event, so the full
// decision history of a transaction is reconstructible from its trail.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/atlasrisk/atlas/internal/idgen"
	"github.com/atlasrisk/atlas/internal/risk"
)

// ActorType identifies who made a decision.
type ActorType string

const (
	ActorSystem   ActorType = "system"
	ActorOperator ActorType = "operator"
)

// Factor is a compact (name, impact) pair snapshotted into the audit state.
type Factor struct {
	Name   string  `json:"name"`
	Impact float64 `json:"impact"`
}

// State is the decision outcome captured by a record.
type State struct {
	RiskScore         int         `json:"risk_score"`
	RiskLevel         risk.Level  `json:"risk_level"`
	RecommendedAction risk.Action `json:"recommended_action"`
	Confidence        float64     `json:"confidence"`
	ProcessingTimeMS  float64     `json:"processing_time_ms"`
	TopFactors        []Factor    `json:"top_factors"`
}

// PreviousState records what a decision replaced. Only override records
// carry one.
type PreviousState struct {
	Action       risk.Action `json:"action"`
	DecisionType string      `json:"decision_type"`
}

// Record is one immutable entry in the audit trail. RecordHash covers the
// identifying fields and the new state, so any later mutation of a stored
// record is detectable by Verify.
type Record struct {
	ID            string         `json:"id"`
	EventID       string         `json:"event_id"`
	Action        string         `json:"action"`
	PreviousState *PreviousState `json:"previous_state,omitempty"`
	NewState      State          `json:"new_state"`
	RiskScore     int            `json:"risk_score"`
	ModelVersion  string         `json:"model_version"`
	ActorType     ActorType      `json:"actor_type"`
	ActorID       string         `json:"actor_id,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
	RecordHash    string         `json:"record_hash"`
}

// NewDecision builds a sealed audit record for a completed assessment.
func NewDecision(a *risk.Assessment) *Record {
	r := &Record{
		ID:           newID(),
		EventID:      a.EventID,
		Action:       "score",
		NewState:     stateOf(a),
		RiskScore:    a.RiskScore,
		ModelVersion: a.ModelVersion,
		ActorType:    ActorSystem,
		Timestamp:    now(),
	}
	r.RecordHash = r.computeHash()
	return r
}

// NewOverride builds a sealed record for an operator replacing the system's
// recommended action. The original recommendation is preserved as the
// previous state.
func NewOverride(a *risk.Assessment, newAction risk.Action, operatorID, reason string) *Record {
	st := stateOf(a)
	st.RecommendedAction = newAction
	r := &Record{
		ID:      newID(),
		EventID: a.EventID,
		Action:  fmt.Sprintf("override_to_%s", newAction),
		PreviousState: &PreviousState{
			Action:       a.RecommendedAction,
			DecisionType: "system",
		},
		NewState:     st,
		RiskScore:    a.RiskScore,
		ModelVersion: a.ModelVersion,
		ActorType:    ActorOperator,
		ActorID:      operatorID,
		Reason:       reason,
		Timestamp:    now(),
	}
	r.RecordHash = r.computeHash()
	return r
}

// Verify recomputes the tamper-detection hash and reports whether it still
// matches the stored one.
func (r *Record) Verify() bool {
	return r.RecordHash == r.computeHash()
}

// computeHash hashes the canonical JSON of the identifying fields. Maps are
// used so every level serializes with sorted keys, independent of struct
// field order.
func (r *Record) computeHash() string {
	factors := make([]map[string]any, len(r.NewState.TopFactors))
	for i, f := range r.NewState.TopFactors {
		factors[i] = map[string]any{"name": f.Name, "impact": f.Impact}
	}
	content := map[string]any{
		"id":       r.ID,
		"event_id": r.EventID,
		"action":   r.Action,
		"new_state": map[string]any{
			"risk_score":         r.NewState.RiskScore,
			"risk_level":         string(r.NewState.RiskLevel),
			"recommended_action": string(r.NewState.RecommendedAction),
			"confidence":         r.NewState.Confidence,
			"processing_time_ms": r.NewState.ProcessingTimeMS,
			"top_factors":        factors,
		},
		"risk_score": r.RiskScore,
		"timestamp":  r.Timestamp.UTC().Format(time.RFC3339Nano),
		"actor_type": string(r.ActorType),
		"actor_id":   r.ActorID,
	}
	// Marshal of map[string]any cannot fail for these value types.
	b, _ := json.Marshal(content)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func stateOf(a *risk.Assessment) State {
	factors := make([]Factor, len(a.TopFactors))
	for i, c := range a.TopFactors {
		factors[i] = Factor{Name: c.FeatureName, Impact: c.Impact}
	}
	return State{
		RiskScore:         a.RiskScore,
		RiskLevel:         a.RiskLevel,
		RecommendedAction: a.RecommendedAction,
		Confidence:        a.Confidence,
		ProcessingTimeMS:  a.ProcessingTimeMS,
		TopFactors:        factors,
	}
}

func newID() string {
	return "audit_" + idgen.Hex(8)
}

// now truncates to microseconds so the hashed timestamp survives a
// round trip through TIMESTAMPTZ columns unchanged.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
