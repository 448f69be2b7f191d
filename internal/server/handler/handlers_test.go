package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/yieldscope/internal/domain"
)

type stubYieldService struct {
	userYield     domain.UserYield
	positionYield *domain.APYResult
	err           error
	invalidated   []string
}

func (s *stubYieldService) UserYield(_ context.Context, userID string, _ time.Time) (domain.UserYield, error) {
	if s.err != nil {
		return domain.UserYield{}, s.err
	}
	uy := s.userYield
	uy.UserID = userID
	return uy, nil
}

func (s *stubYieldService) PositionYield(context.Context, string, string, string, time.Time) (*domain.APYResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.positionYield, nil
}

func (s *stubYieldService) InvalidateUser(_ context.Context, userID string) error {
	if s.err != nil {
		return s.err
	}
	s.invalidated = append(s.invalidated, userID)
	return nil
}

type stubRecorder struct {
	recorded []domain.Snapshot
	stored   []domain.Snapshot
	err      error
	ranges   [][2]time.Time
}

func (s *stubRecorder) Record(_ context.Context, snap domain.Snapshot) (domain.Snapshot, error) {
	if s.err != nil {
		return domain.Snapshot{}, s.err
	}
	snap.ID = "generated"
	s.recorded = append(s.recorded, snap)
	return snap, nil
}

func (s *stubRecorder) ListRange(_ context.Context, userID string, from, to time.Time) ([]domain.Snapshot, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.ranges = append(s.ranges, [2]time.Time{from, to})
	var out []domain.Snapshot
	for _, snap := range s.stored {
		if snap.UserID == userID {
			out = append(out, snap)
		}
	}
	return out, nil
}

func newTestMux(yields *stubYieldService, snaps *stubRecorder) *http.ServeMux {
	logger := slog.New(slog.DiscardHandler)
	yh := NewYieldHandler(yields, logger)
	sh := NewSnapshotHandler(snaps, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/users/{id}/yield", yh.GetUserYield)
	mux.HandleFunc("GET /api/users/{id}/yield/{identity}", yh.GetPositionYield)
	mux.HandleFunc("POST /api/users/{id}/cache/invalidate", yh.InvalidateCache)
	mux.HandleFunc("POST /api/snapshots", sh.RecordSnapshot)
	mux.HandleFunc("GET /api/users/{id}/snapshots", sh.ListSnapshots)
	return mux
}

func TestGetUserYield(t *testing.T) {
	svc := &stubYieldService{userYield: domain.UserYield{
		Results: map[string]map[string]*domain.APYResult{
			"aave:ethereum:lending:usdc": {"daily": {APY: 4.5}},
		},
	}}
	mux := newTestMux(svc, &stubRecorder{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/users/u1/yield", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got domain.UserYield
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "u1", got.UserID)
	assert.Contains(t, got.Results, "aave:ethereum:lending:usdc")
}

func TestGetUserYieldBadDate(t *testing.T) {
	mux := newTestMux(&stubYieldService{}, &stubRecorder{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/users/u1/yield?date=not-a-date", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetUserYieldValidationError(t *testing.T) {
	svc := &stubYieldService{err: &domain.ValidationError{Problems: []string{"target date is more than one day in the future"}}}
	mux := newTestMux(svc, &stubRecorder{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/users/u1/yield", nil))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "future")
}

func TestGetPositionYieldNotFound(t *testing.T) {
	svc := &stubYieldService{err: domain.ErrNotFound}
	mux := newTestMux(svc, &stubRecorder{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/users/u1/yield/aave:ethereum:lending:usdc", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetPositionYield(t *testing.T) {
	svc := &stubYieldService{positionYield: &domain.APYResult{APY: 12.34, CalculationMethod: "value_change"}}
	mux := newTestMux(svc, &stubRecorder{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/users/u1/yield/aave:ethereum:lending:usdc?period=weekly", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got domain.APYResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.InDelta(t, 12.34, got.APY, 0.001)
}

func TestInvalidateCache(t *testing.T) {
	svc := &stubYieldService{}
	mux := newTestMux(svc, &stubRecorder{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/users/u1/cache/invalidate", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"u1"}, svc.invalidated)
}

func TestRecordSnapshot(t *testing.T) {
	snaps := &stubRecorder{}
	mux := newTestMux(&stubYieldService{}, snaps)

	body := `{"user_id":"u1","date":"2026-08-29T00:00:00Z","positions":[{"protocol":"aave","chain":"ethereum","name":"Lending","total_value":1000}]}`
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/snapshots", strings.NewReader(body)))

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, snaps.recorded, 1)
	assert.Equal(t, "u1", snaps.recorded[0].UserID)
	assert.Contains(t, rec.Body.String(), `"generated"`)
}

func TestRecordSnapshotMalformedBody(t *testing.T) {
	mux := newTestMux(&stubYieldService{}, &stubRecorder{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/snapshots", strings.NewReader(`{"user_id":`)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListSnapshots(t *testing.T) {
	snaps := &stubRecorder{stored: []domain.Snapshot{
		{ID: "s1", UserID: "u1", Date: time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC)},
		{ID: "s2", UserID: "u1", Date: time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)},
	}}
	mux := newTestMux(&stubYieldService{}, snaps)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/users/u1/snapshots?from=2026-08-01&to=2026-08-29", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got struct {
		UserID    string            `json:"user_id"`
		Count     int               `json:"count"`
		Snapshots []domain.Snapshot `json:"snapshots"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, 2, got.Count)
	require.Len(t, snaps.ranges, 1)
	assert.Equal(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), snaps.ranges[0][0])
}

func TestListSnapshotsBadBounds(t *testing.T) {
	mux := newTestMux(&stubYieldService{}, &stubRecorder{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/users/u1/snapshots?from=yesterday", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	svc := &stubRecorder{err: &domain.ValidationError{Problems: []string{"to must not be before from"}}}
	mux = newTestMux(&stubYieldService{}, svc)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/users/u1/snapshots?from=2026-08-29&to=2026-08-01", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "before")
}

func TestRecordSnapshotConflict(t *testing.T) {
	mux := newTestMux(&stubYieldService{}, &stubRecorder{err: domain.ErrAlreadyExists})

	body := `{"user_id":"u1","date":"2026-08-29T00:00:00Z"}`
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/snapshots", strings.NewReader(body)))

	assert.Equal(t, http.StatusConflict, rec.Code)
}
