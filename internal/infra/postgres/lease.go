package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// LeaseStore keeps model leases in model_leases. Renew is a single
// conditional upsert, so concurrent invocations never move a lease backwards.
type LeaseStore struct {
	pool *pgxpool.Pool
}

func NewLeaseStore(pool *pgxpool.Pool) *LeaseStore {
	return &LeaseStore{pool: pool}
}

func (s *LeaseStore) Renew(ctx context.Context, resourceID string, expiry time.Time) (bool, error) {
	query := `
		INSERT INTO model_leases (resource_id, expires_at, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (resource_id) DO UPDATE
			SET expires_at = EXCLUDED.expires_at, updated_at = now()
			WHERE model_leases.expires_at <= EXCLUDED.expires_at`

	tag, err := s.pool.Exec(ctx, query, resourceID, expiry.UTC())
	if err != nil {
		return false, fmt.Errorf("renew lease %s: %w", resourceID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *LeaseStore) Get(ctx context.Context, resourceID string) (time.Time, bool, error) {
	var expiry time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT expires_at FROM model_leases WHERE resource_id=$1`, resourceID,
	).Scan(&expiry)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("get lease %s: %w", resourceID, err)
	}
	return expiry, true, nil
}

func (s *LeaseStore) DeleteExpired(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`DELETE FROM model_leases WHERE expires_at < $1 RETURNING resource_id`, now.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("delete expired leases: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collect expired leases: %w", err)
	}
	return ids, nil
}

// CursorStore keeps inference progress in inference_cursors.
type CursorStore struct {
	pool *pgxpool.Pool
}

func NewCursorStore(pool *pgxpool.Pool) *CursorStore {
	return &CursorStore{pool: pool}
}

func (s *CursorStore) Get(ctx context.Context, unitID string) (int, error) {
	var cursor int
	err := s.pool.QueryRow(ctx,
		`SELECT frame_cursor FROM inference_cursors WHERE unit_id=$1`, unitID,
	).Scan(&cursor)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get cursor %s: %w", unitID, err)
	}
	return cursor, nil
}

func (s *CursorStore) Put(ctx context.Context, unitID string, cursor int) error {
	query := `
		INSERT INTO inference_cursors (unit_id, frame_cursor, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (unit_id) DO UPDATE
			SET frame_cursor = EXCLUDED.frame_cursor, updated_at = now()
			WHERE inference_cursors.frame_cursor < EXCLUDED.frame_cursor`

	if _, err := s.pool.Exec(ctx, query, unitID, cursor); err != nil {
		return fmt.Errorf("put cursor %s: %w", unitID, err)
	}
	return nil
}
