package domain

import (
	"context"
	"time"
)

// SnapshotStore persists daily wallet snapshots. The engine only reads;
// Insert exists for the ingest path, ListBefore/DeleteBefore for archival.
type SnapshotStore interface {
	Insert(ctx context.Context, snap Snapshot) error

	// Latest returns the most recent snapshot at or before the given date.
	Latest(ctx context.Context, userID string, atOrBefore time.Time) (Snapshot, error)

	// Closest returns the snapshot nearest to target (either side) within
	// the given window, preferring the earlier one on a tie.
	Closest(ctx context.Context, userID string, target time.Time, window time.Duration) (Snapshot, error)

	// Oldest returns the first snapshot ever captured for the user.
	Oldest(ctx context.Context, userID string) (Snapshot, error)

	// Range returns snapshots within [from, to] ordered by date ascending.
	Range(ctx context.Context, userID string, from, to time.Time) ([]Snapshot, error)

	// ListBefore returns all snapshots dated strictly before the cutoff,
	// across users, ordered by date ascending.
	ListBefore(ctx context.Context, before time.Time) ([]Snapshot, error)

	// DeleteBefore removes snapshots dated strictly before the cutoff and
	// returns the number of rows removed.
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// RateHistoryStore persists computed rates so the validator can compare new
// values against each identity's own history.
type RateHistoryStore interface {
	// Record upserts one observation keyed by (user, identity, period, day).
	Record(ctx context.Context, obs RateObservation) error

	// List returns up to limit most recent APY values for the key, ordered
	// oldest first.
	List(ctx context.Context, userID, identity, period string, limit int) ([]float64, error)
}
