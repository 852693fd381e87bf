package app

import (
	"context"

	"dealroom/api/internal/editlock"
)

// Lock operations always take the organization from the session, never from
// the request, so one tenant cannot name another tenant's locks.

func (s *Service) CheckLock(ctx context.Context, session Session, entityType, entityID string) (editlock.CheckResult, error) {
	key, err := editlock.NewKey(session.OrganizationID, entityType, entityID)
	if err != nil {
		return editlock.CheckResult{}, err
	}
	return s.locks.Check(ctx, key)
}

func (s *Service) AcquireLock(ctx context.Context, session Session, entityType, entityID string) (editlock.AcquireResult, error) {
	key, err := editlock.NewKey(session.OrganizationID, entityType, entityID)
	if err != nil {
		return editlock.AcquireResult{}, err
	}
	return s.locks.Acquire(ctx, key, session.Holder())
}

func (s *Service) RenewLock(ctx context.Context, session Session, entityType, entityID string) (editlock.RenewResult, error) {
	key, err := editlock.NewKey(session.OrganizationID, entityType, entityID)
	if err != nil {
		return editlock.RenewResult{}, err
	}
	return s.locks.Renew(ctx, key, session.Holder())
}

func (s *Service) ReleaseLock(ctx context.Context, session Session, entityType, entityID string) (bool, error) {
	key, err := editlock.NewKey(session.OrganizationID, entityType, entityID)
	if err != nil {
		return false, err
	}
	return s.locks.Release(ctx, key, session.Holder())
}

func (s *Service) BreakLock(ctx context.Context, session Session, entityType, entityID string) (bool, error) {
	key, err := editlock.NewKey(session.OrganizationID, entityType, entityID)
	if err != nil {
		return false, err
	}
	return s.locks.ForceRelease(ctx, key, session.Holder())
}

func (s *Service) ListLocks(ctx context.Context, session Session) ([]editlock.Lock, error) {
	return s.locks.ListActive(ctx, session.OrganizationID)
}
