package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/yieldscope/internal/domain"
)

// SnapshotService defines the snapshot methods the handler needs.
type SnapshotService interface {
	Record(ctx context.Context, snap domain.Snapshot) (domain.Snapshot, error)
	ListRange(ctx context.Context, userID string, from, to time.Time) ([]domain.Snapshot, error)
}

// SnapshotHandler serves the snapshot ingest endpoint.
type SnapshotHandler struct {
	snapshots SnapshotService
	logger    *slog.Logger
}

// NewSnapshotHandler creates a SnapshotHandler with the given service and
// logger.
func NewSnapshotHandler(snapshots SnapshotService, logger *slog.Logger) *SnapshotHandler {
	return &SnapshotHandler{
		snapshots: snapshots,
		logger:    logger,
	}
}

// maxSnapshotBody bounds the ingest request body. A full wallet snapshot with
// hundreds of positions stays well under this.
const maxSnapshotBody = 4 << 20

// RecordSnapshot ingests one daily wallet snapshot.
// POST /api/snapshots
func (h *SnapshotHandler) RecordSnapshot(w http.ResponseWriter, r *http.Request) {
	var snap domain.Snapshot
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSnapshotBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&snap); err != nil {
		writeError(w, http.StatusBadRequest, "invalid snapshot payload: "+err.Error())
		return
	}

	stored, err := h.snapshots.Record(r.Context(), snap)
	if err != nil {
		verr, isValidation := domain.AsValidationError(err)
		switch {
		case isValidation:
			writeValidationError(w, verr)
		case errors.Is(err, domain.ErrAlreadyExists):
			writeError(w, http.StatusConflict, "snapshot already recorded for this user, wallet, and date")
		default:
			h.logger.ErrorContext(r.Context(), "handler: record snapshot failed",
				slog.String("user_id", snap.UserID),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to record snapshot")
		}
		return
	}

	writeJSON(w, http.StatusCreated, stored)
}

// ListSnapshots returns the user's stored snapshots within a date range,
// oldest first. Omitted bounds widen to the full history.
// GET /api/users/{id}/snapshots?from=2026-08-01&to=2026-08-29
func (h *SnapshotHandler) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	userID := pathParam(r, "id")
	from, ok := boundParam(r, "from")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid from date, expected YYYY-MM-DD")
		return
	}
	to, ok := boundParam(r, "to")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid to date, expected YYYY-MM-DD")
		return
	}

	snaps, err := h.snapshots.ListRange(r.Context(), userID, from, to)
	if err != nil {
		if verr, ok := domain.AsValidationError(err); ok {
			writeValidationError(w, verr)
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: list snapshots failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list snapshots")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":   userID,
		"count":     len(snaps),
		"snapshots": snaps,
	})
}
