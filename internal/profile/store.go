package profile

import (
	"context"

	"github.com/atlasrisk/atlas/internal/risk"
)

// Store loads and updates user profiles.
//
// Get must return a snapshot the caller may read without locking, and must
// return a population-default profile (not an error) for users with no
// history. Errors from Get mean the backing store is unreachable; callers
// degrade to defaults rather than failing the assessment.
//
// Update must serialize concurrent updates for the same user so aggregate
// math never interleaves. Updates for different users may run concurrently.
type Store interface {
	// Get returns a snapshot of the user's profile.
	Get(ctx context.Context, userID string) (*UserProfile, error)

	// Update folds the event into the user's profile.
	Update(ctx context.Context, ev *risk.Event) error

	// MarkFraud increments the user's confirmed fraud incident count.
	MarkFraud(ctx context.Context, userID string) error
}
