package audit

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/atlasrisk/atlas/internal/risk"
)

func sampleAssessment() *risk.Assessment {
	return &risk.Assessment{
		EventID:           "evt_audit_1",
		UserID:            "user_1",
		RiskScore:         72,
		RiskLevel:         risk.LevelHigh,
		Confidence:        0.84,
		RecommendedAction: risk.ActionReview,
		ModelVersion:      "1.0.0-builtin",
		ProcessingTimeMS:  3.2,
		TopFactors: []risk.Contribution{
			{FeatureName: "amount_zscore", Impact: 14.5},
			{FeatureName: "velocity_1h", Impact: 9.1},
		},
		ScoredAt: time.Now(),
	}
}

func TestNewDecision(t *testing.T) {
	rec := NewDecision(sampleAssessment())

	if !strings.HasPrefix(rec.ID, "audit_") {
		t.Errorf("expected audit_ prefix, got %s", rec.ID)
	}
	if len(rec.ID) != len("audit_")+16 {
		t.Errorf("expected 16 hex chars after prefix, got %s", rec.ID)
	}
	if rec.Action != "score" {
		t.Errorf("expected action score, got %s", rec.Action)
	}
	if rec.ActorType != ActorSystem {
		t.Errorf("expected system actor, got %s", rec.ActorType)
	}
	if rec.PreviousState != nil {
		t.Error("decision record should not carry a previous state")
	}
	if rec.NewState.RiskScore != 72 || rec.NewState.RecommendedAction != risk.ActionReview {
		t.Errorf("new state does not reflect assessment: %+v", rec.NewState)
	}
	if len(rec.NewState.TopFactors) != 2 {
		t.Fatalf("expected 2 top factors, got %d", len(rec.NewState.TopFactors))
	}
	if rec.NewState.TopFactors[0].Name != "amount_zscore" {
		t.Errorf("unexpected factor order: %+v", rec.NewState.TopFactors)
	}
	if rec.RecordHash == "" {
		t.Fatal("record should be sealed at creation")
	}
	if !rec.Verify() {
		t.Error("freshly created record should verify")
	}
}

func TestNewOverride(t *testing.T) {
	a := sampleAssessment()
	rec := NewOverride(a, risk.ActionApprove, "op_9", "verified with customer by phone")

	if rec.Action != "override_to_approve" {
		t.Errorf("expected override_to_approve, got %s", rec.Action)
	}
	if rec.ActorType != ActorOperator || rec.ActorID != "op_9" {
		t.Errorf("expected operator actor, got %s/%s", rec.ActorType, rec.ActorID)
	}
	if rec.PreviousState == nil {
		t.Fatal("override should record the previous state")
	}
	if rec.PreviousState.Action != risk.ActionReview {
		t.Errorf("previous action should be the system recommendation, got %s", rec.PreviousState.Action)
	}
	if rec.PreviousState.DecisionType != "system" {
		t.Errorf("expected system decision type, got %s", rec.PreviousState.DecisionType)
	}
	if rec.NewState.RecommendedAction != risk.ActionApprove {
		t.Errorf("new state should carry the override action, got %s", rec.NewState.RecommendedAction)
	}
	if !rec.Verify() {
		t.Error("override record should verify")
	}
}

func TestVerify_DetectsTampering(t *testing.T) {
	mutations := []struct {
		name   string
		mutate func(*Record)
	}{
		{"risk score", func(r *Record) { r.RiskScore = 5 }},
		{"action", func(r *Record) { r.Action = "override_to_approve" }},
		{"event id", func(r *Record) { r.EventID = "evt_other" }},
		{"new state score", func(r *Record) { r.NewState.RiskScore = 1 }},
		{"new state action", func(r *Record) { r.NewState.RecommendedAction = risk.ActionApprove }},
		{"actor", func(r *Record) { r.ActorType = ActorOperator }},
		{"timestamp", func(r *Record) { r.Timestamp = r.Timestamp.Add(time.Second) }},
		{"factor impact", func(r *Record) { r.NewState.TopFactors[0].Impact = 0 }},
	}

	for _, tt := range mutations {
		t.Run(tt.name, func(t *testing.T) {
			rec := NewDecision(sampleAssessment())
			tt.mutate(rec)
			if rec.Verify() {
				t.Errorf("tampered %s should fail verification", tt.name)
			}
		})
	}
}

func TestVerify_ReasonNotCovered(t *testing.T) {
	// The hash covers decision-identifying fields; free-text reason edits
	// are visible in the record itself but not part of the seal, matching
	// the stored hash contract.
	rec := NewOverride(sampleAssessment(), risk.ActionBlock, "op_1", "original")
	rec.Reason = "edited"
	if !rec.Verify() {
		t.Error("reason is not part of the hash content")
	}
}

func TestMemorySink_Trail(t *testing.T) {
	sink := NewMemorySink()
	ctx := context.Background()

	a := sampleAssessment()
	first := NewDecision(a)
	second := NewOverride(a, risk.ActionApprove, "op_2", "false positive")
	other := NewDecision(&risk.Assessment{EventID: "evt_other", RiskScore: 10, RiskLevel: risk.LevelLow, RecommendedAction: risk.ActionApprove})

	if err := sink.Append(ctx, first, second, other); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if sink.Len() != 3 {
		t.Fatalf("expected 3 records, got %d", sink.Len())
	}

	trail, err := sink.Trail(ctx, a.EventID)
	if err != nil {
		t.Fatalf("trail failed: %v", err)
	}
	if len(trail) != 2 {
		t.Fatalf("expected 2 records in trail, got %d", len(trail))
	}
	if trail[0].ID != first.ID || trail[1].ID != second.ID {
		t.Error("trail should be ordered oldest first")
	}
	for _, r := range trail {
		if !r.Verify() {
			t.Errorf("stored record %s should verify", r.ID)
		}
	}
}

func TestFanoutSink(t *testing.T) {
	a := NewMemorySink()
	b := NewMemorySink()
	fan := NewFanoutSink(a, b)

	rec := NewDecision(sampleAssessment())
	if err := fan.Append(context.Background(), rec); err != nil {
		t.Fatalf("fanout append failed: %v", err)
	}
	if a.Len() != 1 || b.Len() != 1 {
		t.Errorf("expected both sinks to receive the record, got %d and %d", a.Len(), b.Len())
	}
}

type failingSink struct{ err error }

func (s *failingSink) Append(context.Context, ...*Record) error { return s.err }

func TestFanoutSink_PartialFailure(t *testing.T) {
	ok := NewMemorySink()
	fan := NewFanoutSink(&failingSink{err: context.DeadlineExceeded}, ok)

	err := fan.Append(context.Background(), NewDecision(sampleAssessment()))
	if err == nil {
		t.Fatal("expected error from failing sink")
	}
	if ok.Len() != 1 {
		t.Error("healthy sink should still receive the record")
	}
}
