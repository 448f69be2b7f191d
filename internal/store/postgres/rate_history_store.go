package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/yieldscope/internal/domain"
)

// RateHistoryStore implements domain.RateHistoryStore using PostgreSQL.
type RateHistoryStore struct {
	pool *pgxpool.Pool
}

// NewRateHistoryStore creates a RateHistoryStore backed by the given pool.
func NewRateHistoryStore(pool *pgxpool.Pool) *RateHistoryStore {
	return &RateHistoryStore{pool: pool}
}

// Record upserts one observation. Recomputing the same day overwrites the
// earlier value, so intraday recalculations cannot inflate the history.
func (s *RateHistoryStore) Record(ctx context.Context, obs domain.RateObservation) error {
	const query = `
		INSERT INTO apy_history (user_id, identity, period, observed_on, apy)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, identity, period, observed_on)
		DO UPDATE SET apy = EXCLUDED.apy`

	_, err := s.pool.Exec(ctx, query,
		obs.UserID, obs.Identity, obs.Period, domain.Day(obs.Date), obs.APY)
	if err != nil {
		return fmt.Errorf("postgres: record rate for %s/%s: %w", obs.UserID, obs.Identity, err)
	}
	return nil
}

// List returns up to limit most recent APY values for the key, ordered
// oldest first so callers can treat the last element as the most recent.
func (s *RateHistoryStore) List(ctx context.Context, userID, identity, period string, limit int) ([]float64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT apy FROM (
			SELECT apy, observed_on FROM apy_history
			WHERE user_id = $1 AND identity = $2 AND period = $3
			ORDER BY observed_on DESC
			LIMIT $4
		 ) recent ORDER BY observed_on ASC`,
		userID, identity, period, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list rate history for %s/%s: %w", userID, identity, err)
	}
	defer rows.Close()

	var values []float64
	for rows.Next() {
		var apy float64
		if err := rows.Scan(&apy); err != nil {
			return nil, fmt.Errorf("postgres: scan rate history: %w", err)
		}
		values = append(values, apy)
	}
	return values, rows.Err()
}

// Compile-time interface check.
var _ domain.RateHistoryStore = (*RateHistoryStore)(nil)
