package profile

import (
	"context"
	"fmt"

	"github.com/atlasrisk/atlas/internal/circuitbreaker"
	"github.com/atlasrisk/atlas/internal/risk"
)

// breakerKey is the circuit key for the profile backend. The store is one
// dependency, so one key covers it.
const breakerKey = "profile_store"

// BreakerStore guards a Store with a circuit breaker. While the circuit is
// open, Get fails fast with risk.ErrProfileUnavailable so scoring degrades
// to population defaults instead of stalling on a dead backend.
type BreakerStore struct {
	inner   Store
	breaker *circuitbreaker.Breaker
}

// Compile-time check.
var _ Store = (*BreakerStore)(nil)

// NewBreakerStore wraps inner with the given circuit breaker.
func NewBreakerStore(inner Store, b *circuitbreaker.Breaker) *BreakerStore {
	return &BreakerStore{inner: inner, breaker: b}
}

// Get loads the profile, tripping the circuit on repeated backend failures.
func (s *BreakerStore) Get(ctx context.Context, userID string) (*UserProfile, error) {
	if !s.breaker.Allow(breakerKey) {
		return nil, fmt.Errorf("profile store circuit open: %w", risk.ErrProfileUnavailable)
	}
	p, err := s.inner.Get(ctx, userID)
	if err != nil {
		s.breaker.RecordFailure(breakerKey)
		return nil, fmt.Errorf("%v: %w", err, risk.ErrProfileUnavailable)
	}
	s.breaker.RecordSuccess(breakerKey)
	return p, nil
}

// Update writes through. Update failures count against the circuit but are
// returned as-is: a failed profile update is an audit concern, not a
// scoring degradation.
func (s *BreakerStore) Update(ctx context.Context, ev *risk.Event) error {
	if !s.breaker.Allow(breakerKey) {
		return fmt.Errorf("profile store circuit open: %w", risk.ErrProfileUnavailable)
	}
	if err := s.inner.Update(ctx, ev); err != nil {
		s.breaker.RecordFailure(breakerKey)
		return err
	}
	s.breaker.RecordSuccess(breakerKey)
	return nil
}

// MarkFraud writes through with the same circuit policy as Update.
func (s *BreakerStore) MarkFraud(ctx context.Context, userID string) error {
	if !s.breaker.Allow(breakerKey) {
		return fmt.Errorf("profile store circuit open: %w", risk.ErrProfileUnavailable)
	}
	if err := s.inner.MarkFraud(ctx, userID); err != nil {
		s.breaker.RecordFailure(breakerKey)
		return err
	}
	s.breaker.RecordSuccess(breakerKey)
	return nil
}
