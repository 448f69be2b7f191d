package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/yieldscope/internal/apy"
	"github.com/alanyoungcy/yieldscope/internal/cache/memory"
	"github.com/alanyoungcy/yieldscope/internal/domain"
)

// ---------------------------------------------------------------------------
// Stubs
// ---------------------------------------------------------------------------

type stubSnapshotStore struct {
	mu          sync.Mutex
	snaps       []domain.Snapshot
	latestCalls int
	failReads   bool
}

var errStubDown = errors.New("store down")

func (s *stubSnapshotStore) Insert(_ context.Context, snap domain.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.snaps {
		if existing.UserID == snap.UserID &&
			existing.WalletAddress == snap.WalletAddress &&
			existing.Date.Equal(snap.Date) {
			return domain.ErrAlreadyExists
		}
	}
	s.snaps = append(s.snaps, snap)
	return nil
}

func (s *stubSnapshotStore) Latest(_ context.Context, userID string, atOrBefore time.Time) (domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latestCalls++
	if s.failReads {
		return domain.Snapshot{}, errStubDown
	}
	var best *domain.Snapshot
	for i := range s.snaps {
		snap := &s.snaps[i]
		if snap.UserID != userID || snap.Date.After(atOrBefore) {
			continue
		}
		if best == nil || snap.Date.After(best.Date) {
			best = snap
		}
	}
	if best == nil {
		return domain.Snapshot{}, domain.ErrNotFound
	}
	return *best, nil
}

func (s *stubSnapshotStore) Closest(_ context.Context, userID string, target time.Time, window time.Duration) (domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failReads {
		return domain.Snapshot{}, errStubDown
	}
	var best *domain.Snapshot
	var bestDist time.Duration
	for i := range s.snaps {
		snap := &s.snaps[i]
		if snap.UserID != userID {
			continue
		}
		dist := snap.Date.Sub(target)
		if dist < 0 {
			dist = -dist
		}
		if dist > window {
			continue
		}
		if best == nil || dist < bestDist || (dist == bestDist && snap.Date.Before(best.Date)) {
			best = snap
			bestDist = dist
		}
	}
	if best == nil {
		return domain.Snapshot{}, domain.ErrNotFound
	}
	return *best, nil
}

func (s *stubSnapshotStore) Oldest(_ context.Context, userID string) (domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failReads {
		return domain.Snapshot{}, errStubDown
	}
	var best *domain.Snapshot
	for i := range s.snaps {
		snap := &s.snaps[i]
		if snap.UserID != userID {
			continue
		}
		if best == nil || snap.Date.Before(best.Date) {
			best = snap
		}
	}
	if best == nil {
		return domain.Snapshot{}, domain.ErrNotFound
	}
	return *best, nil
}

func (s *stubSnapshotStore) Range(_ context.Context, userID string, from, to time.Time) ([]domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failReads {
		return nil, errStubDown
	}
	var out []domain.Snapshot
	for _, snap := range s.snaps {
		if snap.UserID == userID && !snap.Date.Before(from) && !snap.Date.After(to) {
			out = append(out, snap)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (s *stubSnapshotStore) ListBefore(_ context.Context, before time.Time) ([]domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Snapshot
	for _, snap := range s.snaps {
		if snap.Date.Before(before) {
			out = append(out, snap)
		}
	}
	return out, nil
}

func (s *stubSnapshotStore) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []domain.Snapshot
	var deleted int64
	for _, snap := range s.snaps {
		if snap.Date.Before(before) {
			deleted++
			continue
		}
		kept = append(kept, snap)
	}
	s.snaps = kept
	return deleted, nil
}

type stubHistoryStore struct {
	mu   sync.Mutex
	data map[string][]float64
}

func newStubHistoryStore() *stubHistoryStore {
	return &stubHistoryStore{data: map[string][]float64{}}
}

func historyKey(userID, identity, period string) string {
	return fmt.Sprintf("%s|%s|%s", userID, identity, period)
}

func (s *stubHistoryStore) Record(_ context.Context, obs domain.RateObservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := historyKey(obs.UserID, obs.Identity, obs.Period)
	s.data[k] = append(s.data[k], obs.APY)
	return nil
}

func (s *stubHistoryStore) List(_ context.Context, userID, identity, period string, limit int) ([]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	vals := s.data[historyKey(userID, identity, period)]
	if len(vals) > limit {
		vals = vals[len(vals)-limit:]
	}
	out := make([]float64, len(vals))
	copy(out, vals)
	return out, nil
}

// ---------------------------------------------------------------------------
// Fixtures
// ---------------------------------------------------------------------------

func lendingPosition(total float64) domain.Position {
	return domain.Position{
		Protocol:   "aave",
		Chain:      "ethereum",
		Name:       "Lending",
		TotalValue: total,
		SupplyTokens: []domain.TokenAmount{
			{Symbol: "USDC", Amount: total, Price: 1, USDValue: total},
		},
	}
}

func newTestYieldService(t *testing.T, snaps *stubSnapshotStore) (*YieldService, *stubHistoryStore, *memory.Cache) {
	t.Helper()
	results := memory.New(0)
	t.Cleanup(results.Stop)
	history := newStubHistoryStore()
	svc := NewYieldService(
		snaps,
		history,
		results,
		apy.NewCalculator(apy.CalculatorConfig{}),
		apy.NewValidator(),
		YieldOptions{},
		slog.New(slog.DiscardHandler),
	)
	return svc, history, results
}

const lendingIdentity = "aave:ethereum:lending:usdc"

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestUserYieldMonthlyGrowth(t *testing.T) {
	today := domain.Day(time.Now().UTC())
	snaps := &stubSnapshotStore{snaps: []domain.Snapshot{
		{ID: "old", UserID: "u1", Date: today.AddDate(0, 0, -30), Positions: []domain.Position{lendingPosition(1000)}, CreatedAt: today.AddDate(0, 0, -30)},
		{ID: "new", UserID: "u1", Date: today, Positions: []domain.Position{lendingPosition(1013.50)}, CreatedAt: today},
	}}
	svc, _, _ := newTestYieldService(t, snaps)

	uy, err := svc.UserYield(context.Background(), "u1", today)
	require.NoError(t, err)
	require.Len(t, uy.Results, 1)

	perPeriod, ok := uy.Results[lendingIdentity]
	require.True(t, ok, "expected identity %s, got %v", lendingIdentity, uy.Results)
	require.Len(t, perPeriod, 5)

	// The only prior snapshot is 30 days back, so daily and weekly have no
	// reference within their match windows and fall back to bootstrap.
	daily := perPeriod["daily"]
	require.NotNil(t, daily)
	assert.True(t, daily.IsNewPosition)
	assert.Zero(t, daily.APY)
	assert.Equal(t, domain.ConfidenceLow, daily.Confidence)

	monthly := perPeriod["monthly"]
	require.NotNil(t, monthly)
	assert.Equal(t, apy.MethodValueChange, monthly.CalculationMethod)
	assert.False(t, monthly.IsNewPosition)
	assert.InDelta(t, 30, monthly.Days, 0.01)
	assert.InDelta(t, 1.35, monthly.PeriodReturn, 0.001)
	wantAPY := math.Round((math.Pow(1.0135, 365.0/30)-1)*100*100) / 100
	assert.InDelta(t, wantAPY, monthly.APY, 0.001)
	assert.Equal(t, domain.ConfidenceHigh, monthly.Confidence)
	assert.Empty(t, monthly.Warnings)

	// all_time spans the same two snapshots.
	allTime := perPeriod[domain.PeriodAllTime]
	require.NotNil(t, allTime)
	assert.InDelta(t, monthly.APY, allTime.APY, 0.001)

	assert.InDelta(t, 100, uy.Quality.DataCompleteness, 0.001)
	assert.Equal(t, domain.ConfidenceMedium, uy.Quality.OverallConfidence)
	assert.Equal(t, today, uy.Quality.LastDataUpdate)
}

func TestUserYieldCachedOnSecondRead(t *testing.T) {
	today := domain.Day(time.Now().UTC())
	snaps := &stubSnapshotStore{snaps: []domain.Snapshot{
		{ID: "s1", UserID: "u1", Date: today, Positions: []domain.Position{lendingPosition(500)}, CreatedAt: today},
	}}
	svc, _, _ := newTestYieldService(t, snaps)

	first, err := svc.UserYield(context.Background(), "u1", today)
	require.NoError(t, err)
	readsAfterFirst := snaps.latestCalls

	second, err := svc.UserYield(context.Background(), "u1", today)
	require.NoError(t, err)
	assert.Equal(t, readsAfterFirst, snaps.latestCalls, "second read should be served from cache")
	assert.Equal(t, first.Results, second.Results)
}

func TestInvalidateUserForcesRecompute(t *testing.T) {
	today := domain.Day(time.Now().UTC())
	snaps := &stubSnapshotStore{snaps: []domain.Snapshot{
		{ID: "s1", UserID: "u1", Date: today, Positions: []domain.Position{lendingPosition(500)}, CreatedAt: today},
	}}
	svc, _, _ := newTestYieldService(t, snaps)

	_, err := svc.UserYield(context.Background(), "u1", today)
	require.NoError(t, err)
	readsAfterFirst := snaps.latestCalls

	require.NoError(t, svc.InvalidateUser(context.Background(), "u1"))

	_, err = svc.UserYield(context.Background(), "u1", today)
	require.NoError(t, err)
	assert.Greater(t, snaps.latestCalls, readsAfterFirst)
}

func TestUserYieldNoData(t *testing.T) {
	svc, _, _ := newTestYieldService(t, &stubSnapshotStore{})

	uy, err := svc.UserYield(context.Background(), "nobody", time.Now().UTC())
	require.NoError(t, err)
	assert.Empty(t, uy.Results)
	assert.Equal(t, domain.ConfidenceLow, uy.Quality.OverallConfidence)
	require.Len(t, uy.Warnings, 1)
	assert.Contains(t, uy.Warnings[0], "no snapshot data")
}

func TestUserYieldStoreFailureDegrades(t *testing.T) {
	svc, _, _ := newTestYieldService(t, &stubSnapshotStore{failReads: true})

	uy, err := svc.UserYield(context.Background(), "u1", time.Now().UTC())
	require.NoError(t, err, "store failures degrade the result instead of erroring")
	assert.Empty(t, uy.Results)
	assert.Equal(t, domain.ConfidenceLow, uy.Quality.OverallConfidence)
	require.Len(t, uy.Warnings, 1)
	assert.Contains(t, uy.Warnings[0], "temporarily unavailable")
}

func TestPositionYieldStoreFailureDegrades(t *testing.T) {
	svc, _, _ := newTestYieldService(t, &stubSnapshotStore{failReads: true})

	res, err := svc.PositionYield(context.Background(), "u1", lendingIdentity, "daily", time.Now().UTC())
	require.NoError(t, err, "store failures degrade the result instead of erroring")
	assert.Equal(t, domain.ConfidenceLow, res.Confidence)
	assert.Equal(t, "unavailable", res.CalculationMethod)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "temporarily unavailable")
}

func TestUserYieldRejectsBadParams(t *testing.T) {
	svc, _, _ := newTestYieldService(t, &stubSnapshotStore{})

	_, err := svc.UserYield(context.Background(), "", time.Now().UTC())
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Problems[0], "user id")

	_, err = svc.UserYield(context.Background(), "u1", time.Now().UTC().AddDate(0, 0, 7))
	require.ErrorAs(t, err, &verr)

	_, err = svc.UserYield(context.Background(), "u1", time.Now().UTC().AddDate(-6, 0, 0))
	require.ErrorAs(t, err, &verr)
}

func TestPositionYield(t *testing.T) {
	today := domain.Day(time.Now().UTC())
	snaps := &stubSnapshotStore{snaps: []domain.Snapshot{
		{ID: "old", UserID: "u1", Date: today.AddDate(0, 0, -30), Positions: []domain.Position{lendingPosition(1000)}, CreatedAt: today.AddDate(0, 0, -30)},
		{ID: "new", UserID: "u1", Date: today, Positions: []domain.Position{lendingPosition(1013.50)}, CreatedAt: today},
	}}
	svc, _, _ := newTestYieldService(t, snaps)

	res, err := svc.PositionYield(context.Background(), "u1", lendingIdentity, "monthly", today)
	require.NoError(t, err)
	assert.Equal(t, apy.MethodValueChange, res.CalculationMethod)
	assert.InDelta(t, 1.35, res.PeriodReturn, 0.001)

	_, err = svc.PositionYield(context.Background(), "u1", "compound:ethereum:lending:dai", "monthly", today)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = svc.PositionYield(context.Background(), "u1", lendingIdentity, "fortnightly", today)
	var verr *domain.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestUserYieldRecordsHistory(t *testing.T) {
	today := domain.Day(time.Now().UTC())
	snaps := &stubSnapshotStore{snaps: []domain.Snapshot{
		{ID: "old", UserID: "u1", Date: today.AddDate(0, 0, -30), Positions: []domain.Position{lendingPosition(1000)}, CreatedAt: today.AddDate(0, 0, -30)},
		{ID: "new", UserID: "u1", Date: today, Positions: []domain.Position{lendingPosition(1013.50)}, CreatedAt: today},
	}}
	svc, history, _ := newTestYieldService(t, snaps)

	_, err := svc.UserYield(context.Background(), "u1", today)
	require.NoError(t, err)

	vals, err := history.List(context.Background(), "u1", lendingIdentity, "monthly", 30)
	require.NoError(t, err)
	require.Len(t, vals, 1)
	assert.Greater(t, vals[0], 0.0)
}

func TestWalletTokensGetYields(t *testing.T) {
	today := domain.Day(time.Now().UTC())
	snaps := &stubSnapshotStore{snaps: []domain.Snapshot{
		{
			ID: "s1", UserID: "u1", Date: today, CreatedAt: today,
			Tokens: []domain.TokenAmount{{Symbol: "ETH", Amount: 2, Price: 3000}},
		},
	}}
	svc, _, _ := newTestYieldService(t, snaps)

	uy, err := svc.UserYield(context.Background(), "u1", today)
	require.NoError(t, err)
	perPeriod, ok := uy.Results["token:eth"]
	require.True(t, ok)
	require.NotNil(t, perPeriod["daily"])
	assert.True(t, perPeriod["daily"].IsNewPosition)
}
