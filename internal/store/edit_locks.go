package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"dealroom/api/internal/editlock"
)

var _ editlock.Store = (*PostgresStore)(nil)

func scanLock(row interface{ Scan(...any) error }, key editlock.Key) (editlock.Lock, error) {
	lock := editlock.Lock{
		EntityType:     key.EntityType,
		EntityID:       key.EntityID,
		OrganizationID: key.OrganizationID,
	}
	if err := row.Scan(&lock.HolderUserID, &lock.HolderDisplayName, &lock.AcquiredAt, &lock.RenewedAt); err != nil {
		return editlock.Lock{}, err
	}
	lock.AcquiredAt = lock.AcquiredAt.UTC()
	lock.RenewedAt = lock.RenewedAt.UTC()
	return lock, nil
}

func (s *PostgresStore) FindActive(ctx context.Context, key editlock.Key, cutoff time.Time) (*editlock.Lock, error) {
	lock, err := scanLock(s.db.QueryRowContext(ctx, `
		SELECT holder_user_id, holder_display_name, acquired_at, renewed_at
		FROM edit_locks
		WHERE organization_id = $1 AND entity_type = $2 AND entity_id = $3 AND renewed_at > $4
	`, key.OrganizationID, string(key.EntityType), key.EntityID, cutoff), key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find active lock: %w", err)
	}
	return &lock, nil
}

func (s *PostgresStore) DeleteExpired(ctx context.Context, key editlock.Key, cutoff time.Time) (*editlock.Lock, error) {
	lock, err := scanLock(s.db.QueryRowContext(ctx, `
		DELETE FROM edit_locks
		WHERE organization_id = $1 AND entity_type = $2 AND entity_id = $3 AND renewed_at <= $4
		RETURNING holder_user_id, holder_display_name, acquired_at, renewed_at
	`, key.OrganizationID, string(key.EntityType), key.EntityID, cutoff), key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("delete expired lock: %w", err)
	}
	return &lock, nil
}

// Claim is a single conditional upsert on the lock triple. The update branch
// only fires when the existing row is expired or already ours; otherwise no
// row comes back and the current holder is read instead.
func (s *PostgresStore) Claim(ctx context.Context, lock editlock.Lock, cutoff time.Time) (editlock.Lock, bool, error) {
	key := lock.Key()
	claimed, err := scanLock(s.db.QueryRowContext(ctx, `
		INSERT INTO edit_locks (organization_id, entity_type, entity_id, holder_user_id, holder_display_name, acquired_at, renewed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (organization_id, entity_type, entity_id) DO UPDATE SET
			holder_user_id = EXCLUDED.holder_user_id,
			holder_display_name = CASE WHEN edit_locks.renewed_at > $8 THEN edit_locks.holder_display_name ELSE EXCLUDED.holder_display_name END,
			acquired_at = CASE WHEN edit_locks.renewed_at > $8 THEN edit_locks.acquired_at ELSE EXCLUDED.acquired_at END,
			renewed_at = EXCLUDED.renewed_at
		WHERE edit_locks.renewed_at <= $8 OR edit_locks.holder_user_id = EXCLUDED.holder_user_id
		RETURNING holder_user_id, holder_display_name, acquired_at, renewed_at
	`,
		key.OrganizationID,
		string(key.EntityType),
		key.EntityID,
		lock.HolderUserID,
		lock.HolderDisplayName,
		lock.AcquiredAt,
		lock.RenewedAt,
		cutoff,
	), key)
	if err == nil {
		return claimed, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return editlock.Lock{}, false, fmt.Errorf("claim lock: %w", err)
	}

	current, err := s.FindActive(ctx, key, cutoff)
	if err != nil {
		return editlock.Lock{}, false, err
	}
	if current == nil {
		return editlock.Lock{}, false, editlock.ErrClaimConflict
	}
	return *current, false, nil
}

func (s *PostgresStore) Renew(ctx context.Context, key editlock.Key, holderUserID string, now, cutoff time.Time) (*editlock.Lock, error) {
	lock, err := scanLock(s.db.QueryRowContext(ctx, `
		UPDATE edit_locks
		SET renewed_at = $5
		WHERE organization_id = $1 AND entity_type = $2 AND entity_id = $3
			AND holder_user_id = $4 AND renewed_at > $6
		RETURNING holder_user_id, holder_display_name, acquired_at, renewed_at
	`, key.OrganizationID, string(key.EntityType), key.EntityID, holderUserID, now, cutoff), key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("renew lock: %w", err)
	}
	return &lock, nil
}

func (s *PostgresStore) Release(ctx context.Context, key editlock.Key, holderUserID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM edit_locks
		WHERE organization_id = $1 AND entity_type = $2 AND entity_id = $3 AND holder_user_id = $4
	`, key.OrganizationID, string(key.EntityType), key.EntityID, holderUserID)
	if err != nil {
		return false, fmt.Errorf("release lock: %w", err)
	}
	return rowsAffected(result)
}

func (s *PostgresStore) ForceRelease(ctx context.Context, key editlock.Key) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM edit_locks
		WHERE organization_id = $1 AND entity_type = $2 AND entity_id = $3
	`, key.OrganizationID, string(key.EntityType), key.EntityID)
	if err != nil {
		return false, fmt.Errorf("force release lock: %w", err)
	}
	return rowsAffected(result)
}

func (s *PostgresStore) ListActive(ctx context.Context, organizationID string, cutoff time.Time) ([]editlock.Lock, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_type, entity_id, holder_user_id, holder_display_name, acquired_at, renewed_at
		FROM edit_locks
		WHERE organization_id = $1 AND renewed_at > $2
		ORDER BY renewed_at DESC
	`, organizationID, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list locks: %w", err)
	}
	defer rows.Close()

	items := make([]editlock.Lock, 0)
	for rows.Next() {
		var entityType string
		item := editlock.Lock{OrganizationID: organizationID}
		if err := rows.Scan(&entityType, &item.EntityID, &item.HolderUserID, &item.HolderDisplayName, &item.AcquiredAt, &item.RenewedAt); err != nil {
			return nil, fmt.Errorf("scan lock: %w", err)
		}
		item.EntityType = editlock.EntityType(entityType)
		item.AcquiredAt = item.AcquiredAt.UTC()
		item.RenewedAt = item.RenewedAt.UTC()
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate locks: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) SweepExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM edit_locks WHERE renewed_at <= $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep locks: %w", err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sweep locks rows: %w", err)
	}
	return removed, nil
}

func rowsAffected(result sql.Result) (bool, error) {
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}
