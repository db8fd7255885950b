// Package scoring orchestrates the assessment pipeline: validation, profile
// lookup, feature extraction, model scoring, attribution, explanation, and
// audit emission.
//
// One Engine serves many concurrent Score calls. All per-call state lives on
// the stack; the only shared data is the read-only model handle and the
// profile store, which serializes same-user updates itself.
package scoring

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/atlasrisk/atlas/internal/attribution"
	"github.com/atlasrisk/atlas/internal/audit"
	"github.com/atlasrisk/atlas/internal/explain"
	"github.com/atlasrisk/atlas/internal/features"
	"github.com/atlasrisk/atlas/internal/logging"
	"github.com/atlasrisk/atlas/internal/metrics"
	"github.com/atlasrisk/atlas/internal/model"
	"github.com/atlasrisk/atlas/internal/profile"
	"github.com/atlasrisk/atlas/internal/risk"
	"github.com/atlasrisk/atlas/internal/traces"
)

// DefaultLatencyBudget bounds one Score call end to end. Past it the call
// still returns, but with the explanation cut down to the technical tier.
const DefaultLatencyBudget = 100 * time.Millisecond

// DefaultTopFactors is how many leading contributions an assessment carries.
const DefaultTopFactors = 5

// Auditor receives one sealed decision record per assessment. audit.Writer
// satisfies it; tests substitute their own.
type Auditor interface {
	Enqueue(*audit.Record)
}

// Engine scores transaction events against the currently loaded model.
type Engine struct {
	profiles profile.Store
	handle   *model.Handle
	composer *explain.Composer
	policy   risk.ActionPolicy
	auditor  Auditor
	logger   *slog.Logger
	budget   time.Duration
	topN     int
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithPolicy replaces the action policy applied to scored levels.
func WithPolicy(p risk.ActionPolicy) Option {
	return func(e *Engine) {
		if p != nil {
			e.policy = p
		}
	}
}

// WithAuditor sets the audit record consumer.
func WithAuditor(a Auditor) Option {
	return func(e *Engine) { e.auditor = a }
}

// WithLatencyBudget overrides the per-call budget.
func WithLatencyBudget(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.budget = d
		}
	}
}

// WithTopFactors overrides how many leading contributions are attached.
func WithTopFactors(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.topN = n
		}
	}
}

// NewEngine creates a scoring engine over a profile store and model handle.
func NewEngine(profiles profile.Store, handle *model.Handle, opts ...Option) *Engine {
	e := &Engine{
		profiles: profiles,
		handle:   handle,
		composer: explain.NewComposer(),
		policy:   risk.StandardPolicy{},
		logger:   slog.Default(),
		budget:   DefaultLatencyBudget,
		topN:     DefaultTopFactors,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ModelVersion reports the version of the currently loaded artifact.
func (e *Engine) ModelVersion() string {
	return e.handle.Version()
}

// Score assesses one event. The returned assessment is immutable and always
// internally consistent: every degradation taken on the way (default
// profile, approximate attribution, truncated explanation) is flagged on it
// explicitly.
func (e *Engine) Score(ctx context.Context, ev *risk.Event) (*risk.Assessment, error) {
	start := time.Now()

	if err := risk.ValidateEvent(ev); err != nil {
		return nil, err
	}

	ctx = logging.WithEventID(ctx, ev.ID)
	ctx, span := traces.StartSpan(ctx, "scoring.Score",
		traces.EventID(ev.ID), traces.UserID(ev.UserID))
	defer span.End()

	artifact, err := e.handle.Current()
	if err != nil {
		return nil, err
	}

	// Profile lookup. A store failure degrades to the population default
	// rather than failing the assessment.
	stage := time.Now()
	prof, err := e.profiles.Get(ctx, ev.UserID)
	degraded := false
	if err != nil {
		degraded = true
		prof = profile.NewDefault(ev.UserID)
		metrics.DegradedAssessmentsTotal.Inc()
		logging.L(ctx).Warn("profile unavailable, scoring on population defaults",
			"user_id", ev.UserID, "error", err)
	}
	metrics.StageDuration.WithLabelValues("profile").Observe(time.Since(stage).Seconds())

	stage = time.Now()
	vector := features.Extract(ev, prof)
	vals := vector.Values()
	metrics.StageDuration.WithLabelValues("features").Observe(time.Since(stage).Seconds())

	stage = time.Now()
	anomaly := artifact.Anomaly.Score(vals)
	isAnomaly := artifact.Anomaly.IsAnomalous(anomaly)
	p := artifact.Calibration.Apply(artifact.RawProbability(vals))
	score := clampScore(int(math.Round(100 * p)))
	level := risk.LevelForScore(score)
	action := e.policy.ActionFor(level, isAnomaly)
	confidence := artifact.Calibration.Confidence(p)
	halfWidth := artifact.Calibration.HalfWidth(p)
	interval := [2]float64{
		math.Max(0, float64(score)-halfWidth),
		math.Min(100, float64(score)+halfWidth),
	}
	metrics.StageDuration.WithLabelValues("model").Observe(time.Since(stage).Seconds())

	stage = time.Now()
	attr := attribution.Attribute(artifact, vals, score)
	if attr.Approximate {
		span.RecordError(risk.ErrAttributionApproximate)
	}
	metrics.StageDuration.WithLabelValues("attribution").Observe(time.Since(stage).Seconds())

	in := explain.Input{
		Event:        ev,
		Vector:       vector,
		Attribution:  attr,
		Score:        score,
		Level:        level,
		ModelVersion: artifact.Version,
		Interval:     interval,
	}

	// Budget check happens once, before narrative composition: the score
	// and attribution above are mandatory, the business and user tiers
	// are what a late call sheds.
	stage = time.Now()
	truncated := false
	var expl *risk.Explanation
	if e.budget > 0 && time.Since(start) > e.budget {
		truncated = true
		expl = e.composer.TechnicalOnly(in)
		metrics.TruncatedAssessmentsTotal.Inc()
		span.RecordError(risk.ErrLatencyExceeded)
		logging.L(ctx).Warn("latency budget exceeded, explanation truncated",
			"budget_ms", e.budget.Milliseconds(), "elapsed_ms", time.Since(start).Milliseconds())
	} else {
		expl = e.composer.Compose(in)
	}
	metrics.StageDuration.WithLabelValues("explanation").Observe(time.Since(stage).Seconds())

	elapsed := time.Since(start)
	assessment := &risk.Assessment{
		EventID:                ev.ID,
		UserID:                 ev.UserID,
		RiskScore:              score,
		RiskLevel:              level,
		Confidence:             confidence,
		RecommendedAction:      action,
		AnomalyScore:           anomaly,
		IsAnomaly:              isAnomaly,
		ModelVersion:           artifact.Version,
		ProcessingTimeMS:       float64(elapsed.Microseconds()) / 1000.0,
		TopFactors:             attr.Top(e.topN),
		Explanation:            expl,
		Degraded:               degraded,
		AttributionApproximate: attr.Approximate,
		Truncated:              truncated,
		ScoredAt:               start.UTC(),
	}

	span.SetAttributes(
		traces.RiskScore(float64(score)),
		traces.RiskLevel(string(level)),
		traces.ModelVersion(artifact.Version),
	)
	metrics.AssessmentsTotal.WithLabelValues(string(level), string(action)).Inc()
	metrics.AssessmentDuration.Observe(elapsed.Seconds())

	// Exactly one audit record per scored event, enqueued fire-and-forget.
	if e.auditor != nil {
		e.auditor.Enqueue(audit.NewDecision(assessment))
	}

	// The profile learns the event only after the assessment is assembled,
	// so the score reflects history strictly before this event.
	if err := e.profiles.Update(ctx, ev); err != nil {
		logging.L(ctx).Warn("profile update failed", "user_id", ev.UserID, "error", err)
	}

	return assessment, nil
}

func clampScore(s int) int {
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}
