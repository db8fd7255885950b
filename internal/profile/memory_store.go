package profile

import (
	"context"
	"fmt"
	"sync"

	"github.com/atlasrisk/atlas/internal/risk"
	"github.com/atlasrisk/atlas/internal/syncutil"
)

// MemoryStore is an in-memory Store for tests, the demo loop, and
// single-process deployments. Updates clone-and-swap the profile under a
// per-user lock, so readers always see a consistent snapshot.
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]*UserProfile
	locks    syncutil.ShardedMutex
}

// NewMemoryStore creates an empty in-memory profile store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{profiles: make(map[string]*UserProfile)}
}

// Get returns a snapshot of the user's profile, or the population default
// for unseen users.
func (s *MemoryStore) Get(_ context.Context, userID string) (*UserProfile, error) {
	if userID == "" {
		return nil, fmt.Errorf("profile: user id is required")
	}
	s.mu.RLock()
	p, ok := s.profiles[userID]
	s.mu.RUnlock()
	if !ok {
		return NewDefault(userID), nil
	}
	return p.Clone(), nil
}

// Update folds the event into the user's profile. Same-user updates are
// serialized; different users proceed concurrently.
func (s *MemoryStore) Update(_ context.Context, ev *risk.Event) error {
	if ev == nil || ev.UserID == "" {
		return fmt.Errorf("profile: update requires a user id")
	}
	unlock := s.locks.Lock(ev.UserID)
	defer unlock()

	next := s.snapshot(ev.UserID)
	next.Apply(ev)
	s.swap(ev.UserID, next)
	return nil
}

// MarkFraud increments the user's confirmed fraud incident count.
func (s *MemoryStore) MarkFraud(_ context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("profile: user id is required")
	}
	unlock := s.locks.Lock(userID)
	defer unlock()

	next := s.snapshot(userID)
	next.FraudIncidents++
	s.swap(userID, next)
	return nil
}

// snapshot returns a private copy of the stored profile, or a fresh default.
// Caller must hold the user's lock when the copy will be written back.
func (s *MemoryStore) snapshot(userID string) *UserProfile {
	s.mu.RLock()
	p, ok := s.profiles[userID]
	s.mu.RUnlock()
	if !ok {
		return NewDefault(userID)
	}
	return p.Clone()
}

func (s *MemoryStore) swap(userID string, p *UserProfile) {
	s.mu.Lock()
	s.profiles[userID] = p
	s.mu.Unlock()
}

// Len reports how many users currently have stored profiles.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.profiles)
}
