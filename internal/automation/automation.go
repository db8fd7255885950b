// Package automation turns assessments into automated responses: blocking
// critical transactions, queueing high-risk ones for review, and escalating
// users who keep tripping the critical band. Rules are ordered and the first
// match wins, so escalation outranks a plain block.
package automation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/atlasrisk/atlas/internal/metrics"
	"github.com/atlasrisk/atlas/internal/risk"
)

// Response is the automated action taken for an assessment.
type Response string

const (
	ResponseBlock    Response = "auto_block"
	ResponseReview   Response = "auto_review"
	ResponseEscalate Response = "auto_escalate"
)

// Verdict is the result of the first matching rule.
type Verdict struct {
	Response Response  `json:"response"`
	Rule     string    `json:"rule"`
	Reason   string    `json:"reason"`
	EventID  string    `json:"event_id"`
	UserID   string    `json:"user_id"`
	IssuedAt time.Time `json:"issued_at"`
}

// Rule is one automated response rule.
type Rule interface {
	Name() string
	Evaluate(ctx context.Context, hist *UserHistory, a *risk.Assessment) *Verdict
}

// logCap bounds the in-memory execution log.
const logCap = 1000

// Engine runs the ordered rule set over each assessment. The first verdict
// wins; assessments matching no rule produce no automated response.
type Engine struct {
	mu      sync.Mutex
	rules   []Rule
	history *UserHistory
	log     []*Verdict
	counts  map[string]int
	cap     int
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an engine with the given rules in evaluation order,
// or the default rule set when none are given.
func NewEngine(rules []Rule, opts ...Option) *Engine {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	e := &Engine{
		rules:   rules,
		history: NewUserHistory(),
		counts:  make(map[string]int),
		cap:     logCap,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Apply evaluates the rules against one assessment and returns the first
// verdict, or nil when no rule matches. Critical assessments are recorded
// in the per-user history before evaluation, so an arrival can complete
// its own escalation streak.
func (e *Engine) Apply(ctx context.Context, a *risk.Assessment) *Verdict {
	if a == nil {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if a.RiskLevel == risk.LevelCritical {
		e.history.Record(a.UserID, assessedAt(a, e.now))
	}

	for _, rule := range e.rules {
		v := rule.Evaluate(ctx, e.history, a)
		if v == nil {
			continue
		}
		v.EventID = a.EventID
		v.UserID = a.UserID
		v.IssuedAt = e.now().UTC()

		e.log = append(e.log, v)
		if len(e.log) > e.cap {
			e.log = e.log[len(e.log)-e.cap:]
		}
		e.counts[v.Rule]++
		metrics.AutomationVerdictsTotal.WithLabelValues(v.Rule).Inc()
		e.logger.Info("automated response",
			"rule", v.Rule,
			"response", string(v.Response),
			"event_id", v.EventID,
			"user_id", v.UserID,
			"reason", v.Reason,
		)
		return v
	}
	return nil
}

// Log returns issued verdicts, newest first.
func (e *Engine) Log(limit int) []*Verdict {
	e.mu.Lock()
	defer e.mu.Unlock()

	if limit <= 0 || limit > len(e.log) {
		limit = len(e.log)
	}
	result := make([]*Verdict, 0, limit)
	for i := len(e.log) - 1; i >= 0 && len(result) < limit; i-- {
		result = append(result, e.log[i])
	}
	return result
}

// Stats returns how many verdicts each rule has issued.
func (e *Engine) Stats() map[string]int {
	e.mu.Lock()
	defer e.mu.Unlock()

	stats := make(map[string]int, len(e.counts))
	for rule, n := range e.counts {
		stats[rule] = n
	}
	return stats
}

// DefaultRules returns the built-in response rules in evaluation order.
// Escalation comes first so a repeat offender's verdict names the streak
// rather than the individual block.
func DefaultRules() []Rule {
	return []Rule{
		&EscalateRepeatCriticalsRule{},
		&BlockCriticalRule{},
		&ReviewHighRule{},
	}
}

// assessedAt is the assessment's event time, falling back to the clock for
// hand-built assessments that never went through the scorer.
func assessedAt(a *risk.Assessment, now func() time.Time) time.Time {
	if !a.ScoredAt.IsZero() {
		return a.ScoredAt
	}
	return now().UTC()
}

// ---------------------------------------------------------------------------
// UserHistory: per-user critical assessment tracking
// ---------------------------------------------------------------------------

// UserHistory remembers when each user last tripped the critical band.
// Entries age out of the escalation window on write and on read.
type UserHistory struct {
	mu        sync.Mutex
	criticals map[string][]time.Time
}

// NewUserHistory creates an empty history.
func NewUserHistory() *UserHistory {
	return &UserHistory{criticals: make(map[string][]time.Time)}
}

// Record notes one critical assessment for the user.
func (h *UserHistory) Record(userID string, at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()

	kept := prune(h.criticals[userID], at.Add(-escalationWindow))
	h.criticals[userID] = append(kept, at)
}

// CriticalCount returns how many criticals the user accumulated inside the
// window ending at asOf.
func (h *UserHistory) CriticalCount(userID string, window time.Duration, asOf time.Time) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	times := h.criticals[userID]
	cutoff := asOf.Add(-window)
	n := 0
	for _, t := range times {
		if !t.Before(cutoff) {
			n++
		}
	}
	return n
}

func prune(times []time.Time, cutoff time.Time) []time.Time {
	kept := times[:0]
	for _, t := range times {
		if !t.Before(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}

// ---------------------------------------------------------------------------
// EscalateRepeatCriticalsRule: repeated criticals for one user within 24h
// ---------------------------------------------------------------------------

const (
	escalationThreshold = 3
	escalationWindow    = 24 * time.Hour
)

type EscalateRepeatCriticalsRule struct{}

func (r *EscalateRepeatCriticalsRule) Name() string { return "auto_escalate" }

func (r *EscalateRepeatCriticalsRule) Evaluate(_ context.Context, hist *UserHistory, a *risk.Assessment) *Verdict {
	if a.RiskLevel != risk.LevelCritical {
		return nil
	}
	n := hist.CriticalCount(a.UserID, escalationWindow, assessedAt(a, time.Now))
	if n < escalationThreshold {
		return nil
	}
	return &Verdict{
		Response: ResponseEscalate,
		Rule:     r.Name(),
		Reason: fmt.Sprintf("%d critical assessments for user %s within %s",
			n, a.UserID, escalationWindow),
	}
}

// ---------------------------------------------------------------------------
// BlockCriticalRule: critical band blocks outright
// ---------------------------------------------------------------------------

type BlockCriticalRule struct{}

func (r *BlockCriticalRule) Name() string { return "auto_block_critical" }

func (r *BlockCriticalRule) Evaluate(_ context.Context, _ *UserHistory, a *risk.Assessment) *Verdict {
	if a.RiskLevel != risk.LevelCritical {
		return nil
	}
	return &Verdict{
		Response: ResponseBlock,
		Rule:     r.Name(),
		Reason:   fmt.Sprintf("risk score %d is in the critical band", a.RiskScore),
	}
}

// ---------------------------------------------------------------------------
// ReviewHighRule: high band goes to manual review
// ---------------------------------------------------------------------------

type ReviewHighRule struct{}

func (r *ReviewHighRule) Name() string { return "auto_review_high" }

func (r *ReviewHighRule) Evaluate(_ context.Context, _ *UserHistory, a *risk.Assessment) *Verdict {
	if a.RiskLevel != risk.LevelHigh {
		return nil
	}
	return &Verdict{
		Response: ResponseReview,
		Rule:     r.Name(),
		Reason:   fmt.Sprintf("risk score %d requires manual review", a.RiskScore),
	}
}
