package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/yieldscope/internal/domain"
)

// SnapshotStore implements domain.SnapshotStore using PostgreSQL.
type SnapshotStore struct {
	pool *pgxpool.Pool
}

// NewSnapshotStore creates a SnapshotStore backed by the given pool.
func NewSnapshotStore(pool *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

const snapshotSelectCols = `id, user_id, wallet_address, snapshot_date, positions, tokens, created_at`

func scanSnapshotRow(row pgx.Row) (domain.Snapshot, error) {
	var (
		s              domain.Snapshot
		positionsJSON  []byte
		tokensJSON     []byte
	)
	err := row.Scan(&s.ID, &s.UserID, &s.WalletAddress, &s.Date, &positionsJSON, &tokensJSON, &s.CreatedAt)
	if err != nil {
		return domain.Snapshot{}, err
	}
	if err := json.Unmarshal(positionsJSON, &s.Positions); err != nil {
		return domain.Snapshot{}, fmt.Errorf("decode positions for %s: %w", s.ID, err)
	}
	if err := json.Unmarshal(tokensJSON, &s.Tokens); err != nil {
		return domain.Snapshot{}, fmt.Errorf("decode tokens for %s: %w", s.ID, err)
	}
	s.Date = domain.Day(s.Date)
	return s, nil
}

func scanSnapshotRows(rows pgx.Rows) ([]domain.Snapshot, error) {
	var snaps []domain.Snapshot
	for rows.Next() {
		s, err := scanSnapshotRow(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, s)
	}
	return snaps, rows.Err()
}

// Insert persists a new snapshot. A snapshot for the same user, wallet, and
// day already existing is reported as domain.ErrAlreadyExists; snapshots are
// immutable once written.
func (s *SnapshotStore) Insert(ctx context.Context, snap domain.Snapshot) error {
	positionsJSON, err := json.Marshal(snap.Positions)
	if err != nil {
		return fmt.Errorf("postgres: encode positions: %w", err)
	}
	tokensJSON, err := json.Marshal(snap.Tokens)
	if err != nil {
		return fmt.Errorf("postgres: encode tokens: %w", err)
	}

	const query = `
		INSERT INTO snapshots (id, user_id, wallet_address, snapshot_date, positions, tokens, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, wallet_address, snapshot_date) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query,
		snap.ID, snap.UserID, snap.WalletAddress, snap.Date,
		positionsJSON, tokensJSON, snap.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert snapshot %s: %w", snap.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAlreadyExists
	}
	return nil
}

// Latest returns the most recent snapshot at or before the given date.
func (s *SnapshotStore) Latest(ctx context.Context, userID string, atOrBefore time.Time) (domain.Snapshot, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+snapshotSelectCols+` FROM snapshots
		 WHERE user_id = $1 AND snapshot_date <= $2
		 ORDER BY snapshot_date DESC LIMIT 1`,
		userID, domain.Day(atOrBefore))

	snap, err := scanSnapshotRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Snapshot{}, domain.ErrNotFound
		}
		return domain.Snapshot{}, fmt.Errorf("postgres: latest snapshot for %s: %w", userID, err)
	}
	return snap, nil
}

// Closest returns the snapshot nearest to target on either side, within the
// given window. Ties prefer the earlier snapshot so a lookback period never
// silently shortens.
func (s *SnapshotStore) Closest(ctx context.Context, userID string, target time.Time, window time.Duration) (domain.Snapshot, error) {
	day := domain.Day(target)
	from := domain.Day(target.Add(-window))
	to := domain.Day(target.Add(window))

	row := s.pool.QueryRow(ctx,
		`SELECT `+snapshotSelectCols+` FROM snapshots
		 WHERE user_id = $1 AND snapshot_date BETWEEN $2 AND $3
		 ORDER BY ABS(EXTRACT(EPOCH FROM (snapshot_date - $4::date))), snapshot_date ASC
		 LIMIT 1`,
		userID, from, to, day)

	snap, err := scanSnapshotRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Snapshot{}, domain.ErrNotFound
		}
		return domain.Snapshot{}, fmt.Errorf("postgres: closest snapshot for %s: %w", userID, err)
	}
	return snap, nil
}

// Oldest returns the first snapshot ever captured for the user.
func (s *SnapshotStore) Oldest(ctx context.Context, userID string) (domain.Snapshot, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+snapshotSelectCols+` FROM snapshots
		 WHERE user_id = $1
		 ORDER BY snapshot_date ASC LIMIT 1`,
		userID)

	snap, err := scanSnapshotRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Snapshot{}, domain.ErrNotFound
		}
		return domain.Snapshot{}, fmt.Errorf("postgres: oldest snapshot for %s: %w", userID, err)
	}
	return snap, nil
}

// Range returns snapshots within [from, to] ordered by date ascending.
func (s *SnapshotStore) Range(ctx context.Context, userID string, from, to time.Time) ([]domain.Snapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+snapshotSelectCols+` FROM snapshots
		 WHERE user_id = $1 AND snapshot_date BETWEEN $2 AND $3
		 ORDER BY snapshot_date ASC`,
		userID, domain.Day(from), domain.Day(to))
	if err != nil {
		return nil, fmt.Errorf("postgres: range snapshots for %s: %w", userID, err)
	}
	defer rows.Close()

	snaps, err := scanSnapshotRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan range for %s: %w", userID, err)
	}
	return snaps, nil
}

// ListBefore returns all snapshots dated strictly before the cutoff, across
// users, ordered by date ascending. Used by the archiver.
func (s *SnapshotStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Snapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+snapshotSelectCols+` FROM snapshots
		 WHERE snapshot_date < $1
		 ORDER BY snapshot_date ASC`,
		domain.Day(before))
	if err != nil {
		return nil, fmt.Errorf("postgres: list snapshots before %s: %w", before.Format("2006-01-02"), err)
	}
	defer rows.Close()

	snaps, err := scanSnapshotRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan snapshots before cutoff: %w", err)
	}
	return snaps, nil
}

// DeleteBefore removes snapshots dated strictly before the cutoff.
func (s *SnapshotStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM snapshots WHERE snapshot_date < $1`,
		domain.Day(before))
	if err != nil {
		return 0, fmt.Errorf("postgres: delete snapshots before %s: %w", before.Format("2006-01-02"), err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.SnapshotStore = (*SnapshotStore)(nil)
