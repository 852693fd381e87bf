package editlock

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
)

const maxClaimAttempts = 3

type Manager struct {
	store    Store
	timeout  time.Duration
	now      func() time.Time
	observer Observer
}

type Option func(*Manager)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func WithObserver(observer Observer) Option {
	return func(m *Manager) {
		if observer != nil {
			m.observer = observer
		}
	}
}

// NewManager builds a Manager. A non-positive timeout falls back to DefaultTimeout.
func NewManager(store Store, timeout time.Duration, opts ...Option) *Manager {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	m := &Manager{
		store:    store,
		timeout:  timeout,
		now:      time.Now,
		observer: noopObserver{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) Timeout() time.Duration {
	return m.timeout
}

// clock reads the current time at millisecond precision, the finest every
// backend stores.
func (m *Manager) clock() time.Time {
	return m.now().UTC().Truncate(time.Millisecond)
}

func (m *Manager) cutoff(now time.Time) time.Time {
	return now.Add(-m.timeout)
}

func (m *Manager) decorate(lock Lock) Lock {
	lock.ExpiresAt = lock.RenewedAt.Add(m.timeout)
	return lock
}

func (m *Manager) Check(ctx context.Context, key Key) (CheckResult, error) {
	if err := key.Validate(); err != nil {
		return CheckResult{}, err
	}
	lock, err := m.store.FindActive(ctx, key, m.cutoff(m.clock()))
	if err != nil {
		return CheckResult{}, fmt.Errorf("check lock %s: %w", key, err)
	}
	if lock == nil {
		return CheckResult{IsLocked: false}, nil
	}
	decorated := m.decorate(*lock)
	return CheckResult{IsLocked: true, Lock: &decorated}, nil
}

func (m *Manager) Acquire(ctx context.Context, key Key, holder Holder) (AcquireResult, error) {
	if err := key.Validate(); err != nil {
		return AcquireResult{}, err
	}
	if holder.UserID == "" {
		return AcquireResult{}, ErrUnauthenticated
	}

	now := m.clock()
	cutoff := m.cutoff(now)

	expired, err := m.store.DeleteExpired(ctx, key, cutoff)
	if err != nil {
		return AcquireResult{}, fmt.Errorf("delete expired lock %s: %w", key, err)
	}

	candidate := Lock{
		EntityType:        key.EntityType,
		EntityID:          key.EntityID,
		OrganizationID:    key.OrganizationID,
		HolderUserID:      holder.UserID,
		HolderDisplayName: holder.DisplayName,
		AcquiredAt:        now,
		RenewedAt:         now,
	}

	var (
		current Lock
		claimed bool
	)
	for attempt := 1; ; attempt++ {
		current, claimed, err = m.store.Claim(ctx, candidate, cutoff)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrClaimConflict) || attempt >= maxClaimAttempts {
			return AcquireResult{}, fmt.Errorf("claim lock %s: %w", key, err)
		}
	}

	current = m.decorate(current)
	if !claimed {
		m.observer.ObserveAcquire(key.EntityType, OutcomeContended)
		log.Printf("editlock: %s contended, held by %s, requested by %s", key, current.HolderUserID, holder.UserID)
		return AcquireResult{Acquired: false, Lock: current}, nil
	}

	switch {
	case current.AcquiredAt.Before(now):
		m.observer.ObserveAcquire(key.EntityType, OutcomeRefreshed)
	case expired != nil && expired.HolderUserID != holder.UserID:
		m.observer.ObserveAcquire(key.EntityType, OutcomeTakenOver)
		log.Printf("editlock: %s taken over by %s after %s went silent", key, holder.UserID, expired.HolderUserID)
	default:
		m.observer.ObserveAcquire(key.EntityType, OutcomeAcquired)
	}
	return AcquireResult{Acquired: true, Lock: current}, nil
}

func (m *Manager) Renew(ctx context.Context, key Key, holder Holder) (RenewResult, error) {
	if err := key.Validate(); err != nil {
		return RenewResult{}, err
	}
	if holder.UserID == "" {
		return RenewResult{}, ErrUnauthenticated
	}

	now := m.clock()
	cutoff := m.cutoff(now)
	renewed, err := m.store.Renew(ctx, key, holder.UserID, now, cutoff)
	if err != nil {
		return RenewResult{}, fmt.Errorf("renew lock %s: %w", key, err)
	}
	if renewed != nil {
		m.observer.ObserveRenew(key.EntityType, OutcomeRenewed)
		decorated := m.decorate(*renewed)
		return RenewResult{Renewed: true, Lock: &decorated}, nil
	}

	m.observer.ObserveRenew(key.EntityType, OutcomeLost)
	current, err := m.store.FindActive(ctx, key, cutoff)
	if err != nil {
		return RenewResult{}, fmt.Errorf("check lost lock %s: %w", key, err)
	}
	if current != nil && current.HolderUserID != holder.UserID {
		decorated := m.decorate(*current)
		log.Printf("editlock: %s heartbeat from %s lost to %s", key, holder.UserID, current.HolderUserID)
		return RenewResult{Renewed: false, Lock: &decorated, Reason: ReasonHeldByOther}, nil
	}
	return RenewResult{Renewed: false, Reason: ReasonNotHeld}, nil
}

// Release drops the caller's lock. Releasing a lock held by someone else, or
// no lock at all, is a no-op; the returned bool reports whether a row went away.
func (m *Manager) Release(ctx context.Context, key Key, holder Holder) (bool, error) {
	if err := key.Validate(); err != nil {
		return false, err
	}
	if holder.UserID == "" {
		return false, ErrUnauthenticated
	}
	released, err := m.store.Release(ctx, key, holder.UserID)
	if err != nil {
		return false, fmt.Errorf("release lock %s: %w", key, err)
	}
	if released {
		m.observer.ObserveRelease(key.EntityType, false)
	}
	return released, nil
}

// ForceRelease breaks a lock whoever holds it. Authorization is the caller's job.
func (m *Manager) ForceRelease(ctx context.Context, key Key, by Holder) (bool, error) {
	if err := key.Validate(); err != nil {
		return false, err
	}
	if by.UserID == "" {
		return false, ErrUnauthenticated
	}
	released, err := m.store.ForceRelease(ctx, key)
	if err != nil {
		return false, fmt.Errorf("force release lock %s: %w", key, err)
	}
	if released {
		m.observer.ObserveRelease(key.EntityType, true)
		log.Printf("editlock: %s broken by %s", key, by.UserID)
	}
	return released, nil
}

func (m *Manager) ListActive(ctx context.Context, organizationID string) ([]Lock, error) {
	if organizationID == "" {
		return nil, ErrUnauthenticated
	}
	locks, err := m.store.ListActive(ctx, organizationID, m.cutoff(m.clock()))
	if err != nil {
		return nil, fmt.Errorf("list locks for %s: %w", organizationID, err)
	}
	items := make([]Lock, 0, len(locks))
	for _, lock := range locks {
		items = append(items, m.decorate(lock))
	}
	return items, nil
}

// Sweep deletes every expired lock and returns how many went away.
func (m *Manager) Sweep(ctx context.Context) (int64, error) {
	removed, err := m.store.SweepExpired(ctx, m.cutoff(m.clock()))
	if err != nil {
		return 0, fmt.Errorf("sweep expired locks: %w", err)
	}
	m.observer.ObserveSweep(removed)
	return removed, nil
}
