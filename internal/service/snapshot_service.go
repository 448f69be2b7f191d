package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alanyoungcy/yieldscope/internal/domain"
)

// Broadcaster pushes an event payload to every subscriber of a channel.
// The websocket hub implements it; a nil Broadcaster disables push updates.
type Broadcaster interface {
	Broadcast(channel string, payload []byte)
}

// SnapshotService owns the ingest path: it validates, normalizes, and
// persists wallet snapshots, invalidates stale cached results, and notifies
// live subscribers that fresh yields are available.
type SnapshotService struct {
	snapshots domain.SnapshotStore
	yields    *YieldService
	hub       Broadcaster
	logger    *slog.Logger
}

// NewSnapshotService creates a SnapshotService. hub may be nil.
func NewSnapshotService(snapshots domain.SnapshotStore, yields *YieldService, hub Broadcaster, logger *slog.Logger) *SnapshotService {
	return &SnapshotService{
		snapshots: snapshots,
		yields:    yields,
		hub:       hub,
		logger:    logger.With(slog.String("component", "snapshot_service")),
	}
}

// Record persists a new snapshot. The snapshot is normalized before insert
// and the user's cached results are invalidated afterwards so the next read
// recomputes against the fresh data. Re-submitting the same (user, wallet,
// date) triple returns domain.ErrAlreadyExists.
func (s *SnapshotService) Record(ctx context.Context, snap domain.Snapshot) (domain.Snapshot, error) {
	if err := s.validate(&snap); err != nil {
		return domain.Snapshot{}, err
	}

	if snap.ID == "" {
		snap.ID = uuid.NewString()
	}
	snap.Normalize()
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now().UTC()
	}

	if err := s.snapshots.Insert(ctx, snap); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return domain.Snapshot{}, domain.ErrAlreadyExists
		}
		return domain.Snapshot{}, fmt.Errorf("snapshot_service: insert snapshot: %w", err)
	}

	// Invalidation failure is survivable: cached entries age out on their
	// own TTL, so log and keep going rather than failing the write.
	if err := s.yields.InvalidateUser(ctx, snap.UserID); err != nil {
		s.logger.WarnContext(ctx, "cache invalidation after ingest failed",
			slog.String("user_id", snap.UserID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "snapshot recorded",
		slog.String("user_id", snap.UserID),
		slog.String("snapshot_id", snap.ID),
		slog.Time("date", snap.Date),
		slog.Int("positions", len(snap.Positions)),
		slog.Int("tokens", len(snap.Tokens)),
	)

	s.notify(snap)
	return snap, nil
}

// ListRange returns the user's stored snapshots dated within [from, to],
// oldest first. A zero from means "from the first snapshot"; a zero to means
// "up to now".
func (s *SnapshotService) ListRange(ctx context.Context, userID string, from, to time.Time) ([]domain.Snapshot, error) {
	var problems []string
	if userID == "" {
		problems = append(problems, "user_id is required")
	}
	if to.IsZero() {
		to = time.Now().UTC()
	}
	if !from.IsZero() && to.Before(from) {
		problems = append(problems, "to must not be before from")
	}
	if len(problems) > 0 {
		return nil, &domain.ValidationError{Problems: problems}
	}

	snaps, err := s.snapshots.Range(ctx, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("snapshot_service: list range: %w", err)
	}
	return snaps, nil
}

func (s *SnapshotService) validate(snap *domain.Snapshot) error {
	var problems []string
	if snap.UserID == "" {
		problems = append(problems, "user_id is required")
	}
	if snap.Date.IsZero() {
		problems = append(problems, "date is required")
	}
	if snap.WalletAddress != "" {
		if !common.IsHexAddress(snap.WalletAddress) {
			problems = append(problems, fmt.Sprintf("invalid wallet address %q", snap.WalletAddress))
		} else {
			snap.WalletAddress = common.HexToAddress(snap.WalletAddress).Hex()
		}
	}
	if len(snap.Positions) == 0 && len(snap.Tokens) == 0 {
		problems = append(problems, "snapshot has no positions or tokens")
	}
	if len(problems) > 0 {
		return &domain.ValidationError{Problems: problems}
	}
	return nil
}

// notify pushes a yield_updated event onto the user's channel so connected
// clients can refetch.
func (s *SnapshotService) notify(snap domain.Snapshot) {
	if s.hub == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"event":   "yield_updated",
		"user_id": snap.UserID,
		"date":    snap.Date.Format("2006-01-02"),
	})
	if err != nil {
		return
	}
	s.hub.Broadcast("user:"+snap.UserID, payload)
}
