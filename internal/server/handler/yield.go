package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/yieldscope/internal/domain"
)

// YieldService defines the methods the yield handler requires from the
// service layer. It is declared locally so the handler package does not
// depend on the concrete service implementation.
type YieldService interface {
	UserYield(ctx context.Context, userID string, target time.Time) (domain.UserYield, error)
	PositionYield(ctx context.Context, userID, identity, period string, target time.Time) (*domain.APYResult, error)
	InvalidateUser(ctx context.Context, userID string) error
}

// YieldHandler serves the computed-yield HTTP endpoints.
type YieldHandler struct {
	yields YieldService
	logger *slog.Logger
}

// NewYieldHandler creates a YieldHandler with the given service and logger.
func NewYieldHandler(yields YieldService, logger *slog.Logger) *YieldHandler {
	return &YieldHandler{
		yields: yields,
		logger: logger,
	}
}

// GetUserYield returns the full per-identity, per-period result set for a
// user, optionally at a historical date.
// GET /api/users/{id}/yield?date=2026-08-29
func (h *YieldHandler) GetUserYield(w http.ResponseWriter, r *http.Request) {
	userID := pathParam(r, "id")
	target, ok := dateParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid date, expected YYYY-MM-DD")
		return
	}

	uy, err := h.yields.UserYield(r.Context(), userID, target)
	if err != nil {
		if verr, ok := domain.AsValidationError(err); ok {
			writeValidationError(w, verr)
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: user yield failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to compute yields")
		return
	}

	writeJSON(w, http.StatusOK, uy)
}

// GetPositionYield returns one identity's result for a single period.
// GET /api/users/{id}/yield/{identity}?period=weekly&date=2026-08-29
func (h *YieldHandler) GetPositionYield(w http.ResponseWriter, r *http.Request) {
	userID := pathParam(r, "id")
	identity := pathParam(r, "identity")
	period := r.URL.Query().Get("period")
	if period == "" {
		period = "daily"
	}
	target, ok := dateParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid date, expected YYYY-MM-DD")
		return
	}

	res, err := h.yields.PositionYield(r.Context(), userID, identity, period, target)
	if err != nil {
		verr, isValidation := domain.AsValidationError(err)
		switch {
		case isValidation:
			writeValidationError(w, verr)
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "position not found")
		default:
			h.logger.ErrorContext(r.Context(), "handler: position yield failed",
				slog.String("user_id", userID),
				slog.String("identity", identity),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to compute yield")
		}
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// InvalidateCache drops every cached result for a user so the next read
// recomputes from fresh snapshots.
// POST /api/users/{id}/cache/invalidate
func (h *YieldHandler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	userID := pathParam(r, "id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "missing user id")
		return
	}

	if err := h.yields.InvalidateUser(r.Context(), userID); err != nil {
		h.logger.ErrorContext(r.Context(), "handler: cache invalidation failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to invalidate cache")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated", "user_id": userID})
}
