package editlock

import (
	"context"
	"time"
)

// Store persists locks. A row counts as active when its RenewedAt is after
// cutoff. Every method is scoped by the organization in its key.
type Store interface {
	// FindActive returns the active lock for key, or nil when there is none.
	FindActive(ctx context.Context, key Key, cutoff time.Time) (*Lock, error)
	// DeleteExpired removes the row for key when it is no longer active and
	// returns what it removed, or nil.
	DeleteExpired(ctx context.Context, key Key, cutoff time.Time) (*Lock, error)
	// Claim atomically inserts lock, takes over an expired row, or refreshes
	// RenewedAt on a row already held by lock.HolderUserID. When another user
	// holds an active lock it returns that lock and false.
	Claim(ctx context.Context, lock Lock, cutoff time.Time) (Lock, bool, error)
	// Renew sets RenewedAt to now on the active row held by holderUserID and
	// returns it, or nil when no such row exists.
	Renew(ctx context.Context, key Key, holderUserID string, now, cutoff time.Time) (*Lock, error)
	// Release deletes the row held by holderUserID.
	Release(ctx context.Context, key Key, holderUserID string) (bool, error)
	// ForceRelease deletes the row regardless of holder.
	ForceRelease(ctx context.Context, key Key) (bool, error)
	ListActive(ctx context.Context, organizationID string, cutoff time.Time) ([]Lock, error)
	// SweepExpired deletes every inactive row across organizations.
	SweepExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// Observer receives lock outcomes, typically for metrics.
type Observer interface {
	ObserveAcquire(entityType EntityType, outcome string)
	ObserveRenew(entityType EntityType, outcome string)
	ObserveRelease(entityType EntityType, forced bool)
	ObserveSweep(removed int64)
}

const (
	OutcomeAcquired  = "acquired"
	OutcomeRefreshed = "refreshed"
	OutcomeTakenOver = "taken_over"
	OutcomeContended = "contended"
	OutcomeRenewed   = "renewed"
	OutcomeLost      = "lost"
)

type noopObserver struct{}

func (noopObserver) ObserveAcquire(EntityType, string) {}
func (noopObserver) ObserveRenew(EntityType, string)   {}
func (noopObserver) ObserveRelease(EntityType, bool)   {}
func (noopObserver) ObserveSweep(int64)                {}
