package profile

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/atlasrisk/atlas/internal/retry"
	"github.com/atlasrisk/atlas/internal/risk"
	"github.com/atlasrisk/atlas/internal/syncutil"
)

// PostgresStore persists user profiles in PostgreSQL as one JSONB document
// per user. Same-user updates are serialized twice: an in-process keyed
// mutex keeps local goroutines ordered, and SELECT ... FOR UPDATE keeps
// replicas of the service from interleaving the read-modify-write.
type PostgresStore struct {
	db    *sql.DB
	locks *syncutil.ContextShardedMutex
}

// Compile-time check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a PostgreSQL-backed profile store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{
		db:    db,
		locks: syncutil.NewContextShardedMutex(),
	}
}

// Migrate creates the user_profiles table if it doesn't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS user_profiles (
			user_id      VARCHAR(128) PRIMARY KEY,
			total_events BIGINT NOT NULL DEFAULT 0 CHECK (total_events >= 0),
			profile      JSONB NOT NULL,
			updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_user_profiles_updated_at
			ON user_profiles (updated_at DESC);
	`)
	return err
}

// Get returns a snapshot of the user's profile, or the population default
// when the user has never been seen.
func (s *PostgresStore) Get(ctx context.Context, userID string) (*UserProfile, error) {
	if userID == "" {
		return nil, fmt.Errorf("profile: user id is required")
	}
	var doc []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT profile FROM user_profiles WHERE user_id = $1
	`, userID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return NewDefault(userID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user profile: %w", err)
	}
	var p UserProfile
	if err := json.Unmarshal(doc, &p); err != nil {
		return nil, fmt.Errorf("failed to decode user profile: %w", err)
	}
	p.UserID = userID
	return &p, nil
}

// Update folds the event into the user's profile inside a transaction.
func (s *PostgresStore) Update(ctx context.Context, ev *risk.Event) error {
	if ev == nil || ev.UserID == "" {
		return fmt.Errorf("profile: update requires a user id")
	}
	return s.mutate(ctx, ev.UserID, func(p *UserProfile) {
		p.Apply(ev)
	})
}

// MarkFraud increments the user's confirmed fraud incident count.
func (s *PostgresStore) MarkFraud(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("profile: user id is required")
	}
	return s.mutate(ctx, userID, func(p *UserProfile) {
		p.FraudIncidents++
	})
}

// mutate runs fn against the current stored profile (or a fresh default)
// and writes the result back, holding both the in-process keyed lock and a
// row lock for the duration. Transient database failures are retried with
// backoff; the keyed lock is released during the sleep so other users on
// the same shard are not blocked. Each attempt re-reads the row under
// FOR UPDATE, so dropping the lock between attempts cannot lose updates.
func (s *PostgresStore) mutate(ctx context.Context, userID string, fn func(*UserProfile)) error {
	unlock, err := s.locks.LockContext(ctx, userID)
	if err != nil {
		return err
	}
	defer func() { unlock() }()

	unlockFn := func() { unlock() }
	relockFn := func() {
		u, lockErr := s.locks.LockContext(ctx, userID)
		if lockErr != nil {
			// Context cancelled while re-acquiring; the retry loop returns
			// the context error, so leave unlock as a no-op.
			unlock = func() {}
			return
		}
		unlock = u
	}
	return retry.DoWithUnlock(ctx, 3, 25*time.Millisecond, unlockFn, relockFn, func() error {
		return s.applyOnce(ctx, userID, fn)
	})
}

// applyOnce performs one read-modify-write attempt inside a transaction.
func (s *PostgresStore) applyOnce(ctx context.Context, userID string, fn func(*UserProfile)) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin profile update: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var doc []byte
	p := NewDefault(userID)
	err = tx.QueryRowContext(ctx, `
		SELECT profile FROM user_profiles WHERE user_id = $1 FOR UPDATE
	`, userID).Scan(&doc)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// First event for this user; start from the default.
	case err != nil:
		return fmt.Errorf("failed to lock user profile: %w", err)
	default:
		p = &UserProfile{}
		if err := json.Unmarshal(doc, p); err != nil {
			// Corrupt document; retrying cannot fix it.
			return retry.Permanent(fmt.Errorf("failed to decode user profile: %w", err))
		}
		p.UserID = userID
	}

	fn(p)

	out, err := json.Marshal(p)
	if err != nil {
		return retry.Permanent(fmt.Errorf("failed to encode user profile: %w", err))
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO user_profiles (user_id, total_events, profile, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			total_events = EXCLUDED.total_events,
			profile      = EXCLUDED.profile,
			updated_at   = EXCLUDED.updated_at
	`, userID, p.TotalEvents, out)
	if err != nil {
		return fmt.Errorf("failed to store user profile: %w", err)
	}
	return tx.Commit()
}
