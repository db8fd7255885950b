// Package stream runs transaction events through the full scoring pipeline:
// assess, raise alerts, detect cross-transaction patterns, and apply
// automated responses. Events arrive either from a Kafka topic (Consumer)
// or from a generator replay when no brokers are configured.
package stream

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/atlasrisk/atlas/internal/alert"
	"github.com/atlasrisk/atlas/internal/automation"
	"github.com/atlasrisk/atlas/internal/metrics"
	"github.com/atlasrisk/atlas/internal/pattern"
	"github.com/atlasrisk/atlas/internal/risk"
)

// Scorer produces a risk assessment for one event.
type Scorer interface {
	Score(ctx context.Context, ev *risk.Event) (*risk.Assessment, error)
}

// Result collects everything one event produced on its way through the
// pipeline.
type Result struct {
	Assessment *risk.Assessment
	Alert      *alert.Alert        // nil unless the assessment warranted one
	Patterns   []*pattern.Pattern  // patterns this event completed
	Verdict    *automation.Verdict // nil when no automated rule matched
}

// Processor wires the scoring engine to the downstream stages. Every stage
// past scoring is optional and best-effort: an alert store failure is logged
// and the event still counts as processed, because the assessment itself
// already reached the audit trail.
type Processor struct {
	scorer   Scorer
	alerts   *alert.Manager
	patterns *pattern.Detector
	rules    *automation.Engine
	logger   *slog.Logger
}

// Option configures a Processor.
type Option func(*Processor)

// WithAlerts attaches an alert manager for high and critical assessments.
func WithAlerts(m *alert.Manager) Option {
	return func(p *Processor) { p.alerts = m }
}

// WithPatterns attaches a cross-transaction pattern detector.
func WithPatterns(d *pattern.Detector) Option {
	return func(p *Processor) { p.patterns = d }
}

// WithAutomation attaches an automated response engine.
func WithAutomation(e *automation.Engine) Option {
	return func(p *Processor) { p.rules = e }
}

// WithLogger sets the processor's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) { p.logger = logger }
}

// NewProcessor creates a pipeline around the given scorer. Downstream stages
// are attached with options; a bare processor just scores.
func NewProcessor(scorer Scorer, opts ...Option) *Processor {
	p := &Processor{
		scorer: scorer,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process runs one event through every attached stage and returns what came
// out. Scoring failures are returned to the caller; downstream failures are
// logged and absorbed so one broken stage cannot stall the stream.
func (p *Processor) Process(ctx context.Context, ev *risk.Event) (*Result, error) {
	a, err := p.scorer.Score(ctx, ev)
	if err != nil {
		if errors.Is(err, risk.ErrInvalidEvent) {
			metrics.StreamEventsTotal.WithLabelValues("invalid").Inc()
		} else {
			metrics.StreamEventsTotal.WithLabelValues("error").Inc()
		}
		return nil, err
	}
	res := &Result{Assessment: a}

	if p.alerts != nil {
		al, err := p.alerts.Raise(ctx, ev, a)
		if err != nil {
			p.logger.Error("failed to raise alert",
				"event_id", a.EventID, "error", err)
		} else {
			res.Alert = al
		}
	}

	if p.patterns != nil {
		res.Patterns = p.patterns.Observe(ev, a)
		if p.alerts != nil {
			for _, pt := range res.Patterns {
				pa := alert.PatternAlert{
					PatternID:   pt.ID,
					EventID:     a.EventID,
					Description: pt.Description,
					Confidence:  pt.Confidence,
				}
				if len(pt.UserIDs) == 1 {
					pa.UserID = pt.UserIDs[0]
				}
				if _, err := p.alerts.RaisePattern(ctx, pa); err != nil {
					p.logger.Error("failed to raise pattern alert",
						"pattern_id", pt.ID, "error", err)
				}
			}
		}
	}

	if p.rules != nil {
		res.Verdict = p.rules.Apply(ctx, a)
	}

	metrics.StreamEventsTotal.WithLabelValues("ok").Inc()
	return res, nil
}

// Replay feeds events from next through the pipeline at a fixed cadence
// until the context is canceled or next returns nil. It is the demo fallback
// used when no Kafka brokers are configured.
func (p *Processor) Replay(ctx context.Context, next func() *risk.Event, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ev := next()
			if ev == nil {
				return
			}
			if _, err := p.Process(ctx, ev); err != nil && ctx.Err() == nil {
				p.logger.Error("failed to process replayed event",
					"event_id", ev.ID, "error", err)
			}
		}
	}
}
