package port

import (
	"context"
	"time"
)

// LeaseStore keeps the time-to-live of shared model resources.
type LeaseStore interface {
	// Renew stores expiry for resourceID only if no lease exists or the stored
	// expiry is not later than expiry. It reports whether the write happened.
	Renew(ctx context.Context, resourceID string, expiry time.Time) (bool, error)
	// Get returns the stored expiry; ok is false when no lease exists.
	Get(ctx context.Context, resourceID string) (expiry time.Time, ok bool, err error)
	// DeleteExpired removes and returns every resource whose lease ended before now.
	DeleteExpired(ctx context.Context, now time.Time) ([]string, error)
}

// CursorStore persists how far a unit's ordered work list has been durably processed.
type CursorStore interface {
	Get(ctx context.Context, unitID string) (int, error)
	// Put never moves a cursor backwards.
	Put(ctx context.Context, unitID string, cursor int) error
}
