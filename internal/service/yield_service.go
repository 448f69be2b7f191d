// Package service contains the engine's orchestration layer: the yield
// aggregator that fans calculations out across identities and lookback
// periods, and the snapshot ingest service that owns the write-invalidate
// hook.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/alanyoungcy/yieldscope/internal/apy"
	"github.com/alanyoungcy/yieldscope/internal/cache"
	"github.com/alanyoungcy/yieldscope/internal/domain"
)

// YieldOptions tunes the aggregator.
type YieldOptions struct {
	// SnapshotTimeout bounds each snapshot store read.
	SnapshotTimeout time.Duration

	// HistoryLimit is how many historical rates the validator sees.
	HistoryLimit int

	// MinMatchWindow is the smallest tolerance when matching a historical
	// snapshot to a lookback date; longer periods widen it to a quarter of
	// the period length.
	MinMatchWindow time.Duration
}

// DefaultYieldOptions returns the standard tuning.
func DefaultYieldOptions() YieldOptions {
	return YieldOptions{
		SnapshotTimeout: 10 * time.Second,
		HistoryLimit:    30,
		MinMatchWindow:  48 * time.Hour,
	}
}

// YieldService computes annualized yields for every identity in a user's
// newest snapshot across the fixed period set, validates them against
// history, and memoizes the assembled response with confidence-based expiry.
type YieldService struct {
	snapshots domain.SnapshotStore
	history   domain.RateHistoryStore
	results   domain.ResultCache
	calc      *apy.Calculator
	validator *apy.Validator
	logger    *slog.Logger
	opts      YieldOptions

	// flight coalesces concurrent computations of the same key. Duplicate
	// computation would be harmless (the pipeline is deterministic); this
	// just avoids wasted snapshot reads under request bursts.
	flight singleflight.Group
}

// NewYieldService creates a YieldService with all required dependencies.
func NewYieldService(
	snapshots domain.SnapshotStore,
	history domain.RateHistoryStore,
	results domain.ResultCache,
	calc *apy.Calculator,
	validator *apy.Validator,
	opts YieldOptions,
	logger *slog.Logger,
) *YieldService {
	def := DefaultYieldOptions()
	if opts.SnapshotTimeout <= 0 {
		opts.SnapshotTimeout = def.SnapshotTimeout
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = def.HistoryLimit
	}
	if opts.MinMatchWindow <= 0 {
		opts.MinMatchWindow = def.MinMatchWindow
	}
	return &YieldService{
		snapshots: snapshots,
		history:   history,
		results:   results,
		calc:      calc,
		validator: validator,
		logger:    logger.With(slog.String("component", "yield_service")),
		opts:      opts,
	}
}

// ---------------------------------------------------------------------------
// Cache key scheme. Documented so callers can join identities against
// display data: apy:{user}:summary:{date} for full result sets,
// apy:{user}:{identity}:{period}:{date} for single results.
// ---------------------------------------------------------------------------

func userPrefix(userID string) string {
	return "apy:" + userID + ":"
}

func summaryKey(userID string, day time.Time) string {
	return userPrefix(userID) + "summary:" + day.Format("2006-01-02")
}

func positionKey(userID, identity, period string, day time.Time) string {
	return userPrefix(userID) + identity + ":" + period + ":" + day.Format("2006-01-02")
}

// validateParams rejects malformed request parameters before any snapshot
// read happens. This is the only error class handlers surface as 4xx.
func validateParams(userID string, target time.Time) error {
	var problems []string
	if userID == "" {
		problems = append(problems, "user id is required")
	}
	now := time.Now().UTC()
	if target.After(now.Add(24 * time.Hour)) {
		problems = append(problems, "target date is more than one day in the future")
	}
	if target.Before(now.AddDate(-5, 0, 0)) {
		problems = append(problems, "target date is more than five years in the past")
	}
	if len(problems) > 0 {
		return &domain.ValidationError{Problems: problems}
	}
	return nil
}

// UserYield returns the full per-identity, per-period result set for one
// user at the given target date, served from cache when possible.
func (s *YieldService) UserYield(ctx context.Context, userID string, target time.Time) (domain.UserYield, error) {
	if err := validateParams(userID, target); err != nil {
		return domain.UserYield{}, err
	}

	day := domain.Day(target)
	key := summaryKey(userID, day)

	if data, err := s.results.Get(ctx, key); err == nil {
		var cached domain.UserYield
		if err := json.Unmarshal(data, &cached); err == nil {
			return cached, nil
		}
		s.logger.WarnContext(ctx, "discarding undecodable cache entry", slog.String("key", key))
	}

	v, err, _ := s.flight.Do(key, func() (any, error) {
		return s.computeUserYield(ctx, userID, day, key)
	})
	if err != nil {
		return domain.UserYield{}, err
	}
	return v.(domain.UserYield), nil
}

// PositionYield returns a single identity's result for one period,
// served from cache when possible. It returns domain.ErrNotFound when the
// identity is absent from the newest snapshot or carries no value.
func (s *YieldService) PositionYield(ctx context.Context, userID, identity, period string, target time.Time) (*domain.APYResult, error) {
	if err := validateParams(userID, target); err != nil {
		return nil, err
	}
	if !validPeriod(period) {
		return nil, &domain.ValidationError{Problems: []string{fmt.Sprintf("unknown period %q", period)}}
	}

	day := domain.Day(target)
	key := positionKey(userID, identity, period, day)

	if data, err := s.results.Get(ctx, key); err == nil {
		var cached domain.APYResult
		if err := json.Unmarshal(data, &cached); err == nil {
			return &cached, nil
		}
	}

	v, err, _ := s.flight.Do(key, func() (any, error) {
		return s.computePositionYield(ctx, userID, identity, period, day, key)
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.APYResult), nil
}

// InvalidateUser purges every cached result for the user. Ingest calls this
// before any read after new data is considered authoritative.
func (s *YieldService) InvalidateUser(ctx context.Context, userID string) error {
	n, err := s.results.DeletePrefix(ctx, userPrefix(userID))
	if err != nil {
		return fmt.Errorf("yield_service: invalidate user %s: %w", userID, err)
	}
	s.logger.DebugContext(ctx, "user cache invalidated",
		slog.String("user_id", userID),
		slog.Int64("entries", n),
	)
	return nil
}

// InvalidatePosition purges cached results for one identity plus the user's
// summaries, which embed the identity's numbers.
func (s *YieldService) InvalidatePosition(ctx context.Context, userID, identity string) error {
	if _, err := s.results.DeletePrefix(ctx, userPrefix(userID)+identity+":"); err != nil {
		return fmt.Errorf("yield_service: invalidate position %s/%s: %w", userID, identity, err)
	}
	if _, err := s.results.DeletePrefix(ctx, userPrefix(userID)+"summary:"); err != nil {
		return fmt.Errorf("yield_service: invalidate summaries for %s: %w", userID, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Computation
// ---------------------------------------------------------------------------

func validPeriod(name string) bool {
	if name == domain.PeriodAllTime {
		return true
	}
	for _, p := range domain.Periods() {
		if p.Name == name {
			return true
		}
	}
	return false
}

// observations extracts the identity -> observation map from a snapshot.
// Positions and wallet tokens share one namespace; token keys carry the
// "token:" prefix so they cannot collide with position keys.
func observations(snap domain.Snapshot) map[string]apy.Observation {
	obs := make(map[string]apy.Observation, len(snap.Positions)+len(snap.Tokens))
	for _, p := range snap.Positions {
		obs[apy.PositionIdentity(p)] = apy.Observation{
			Value:       p.TotalValue,
			RewardValue: p.RewardValue(),
			Date:        snap.Date,
		}
	}
	for _, t := range snap.Tokens {
		obs[apy.TokenIdentity(t)] = apy.Observation{
			Value: t.Value(),
			Date:  snap.Date,
		}
	}
	return obs
}

// matchWindow widens the snapshot matching tolerance for longer lookbacks.
func (s *YieldService) matchWindow(days int) time.Duration {
	w := time.Duration(days) * 24 * time.Hour / 4
	if w < s.opts.MinMatchWindow {
		w = s.opts.MinMatchWindow
	}
	return w
}

// readTimeout derives the per-read context for snapshot store access.
func (s *YieldService) readTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opts.SnapshotTimeout)
}

// referenceSnapshots fetches the historical comparison snapshot for every
// period concurrently. Missing snapshots come back as nil entries; store
// failures are reported through the returned warning list rather than
// aborting the whole computation.
func (s *YieldService) referenceSnapshots(ctx context.Context, userID string, current domain.Snapshot) (map[string]*domain.Snapshot, []string) {
	type periodRef struct {
		name string
		snap *domain.Snapshot
		warn string
	}

	periods := domain.Periods()
	refs := make([]periodRef, len(periods)+1)

	g, gctx := errgroup.WithContext(ctx)
	for i, p := range periods {
		g.Go(func() error {
			rctx, cancel := s.readTimeout(gctx)
			defer cancel()

			targetDay := current.Date.AddDate(0, 0, -p.Days)
			snap, err := s.snapshots.Closest(rctx, userID, targetDay, s.matchWindow(p.Days))
			switch {
			case err == nil && snap.ID != current.ID:
				refs[i] = periodRef{name: p.Name, snap: &snap}
			case err == nil || errors.Is(err, domain.ErrNotFound):
				// A self-match means the newest snapshot is the only one near
				// the lookback date; there is no usable prior observation.
				refs[i] = periodRef{name: p.Name}
			default:
				s.logger.ErrorContext(rctx, "reference snapshot read failed",
					slog.String("user_id", userID),
					slog.String("period", p.Name),
					slog.String("error", err.Error()),
				)
				refs[i] = periodRef{name: p.Name, warn: fmt.Sprintf("historical data for period %q temporarily unavailable", p.Name)}
			}
			return nil
		})
	}
	g.Go(func() error {
		rctx, cancel := s.readTimeout(gctx)
		defer cancel()

		snap, err := s.snapshots.Oldest(rctx, userID)
		switch {
		case err == nil && snap.ID != current.ID:
			refs[len(periods)] = periodRef{name: domain.PeriodAllTime, snap: &snap}
		case err == nil || errors.Is(err, domain.ErrNotFound):
			// The oldest snapshot being the current one means there is no
			// prior observation at all; all_time degenerates to bootstrap.
			refs[len(periods)] = periodRef{name: domain.PeriodAllTime}
		default:
			s.logger.ErrorContext(rctx, "oldest snapshot read failed",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
			refs[len(periods)] = periodRef{name: domain.PeriodAllTime, warn: "all-time history temporarily unavailable"}
		}
		return nil
	})
	_ = g.Wait()

	out := make(map[string]*domain.Snapshot, len(refs))
	var warnings []string
	for _, r := range refs {
		out[r.name] = r.snap
		if r.warn != "" {
			warnings = append(warnings, r.warn)
		}
	}
	return out, warnings
}

func (s *YieldService) computeUserYield(ctx context.Context, userID string, day time.Time, key string) (domain.UserYield, error) {
	rctx, cancel := s.readTimeout(ctx)
	current, err := s.snapshots.Latest(rctx, userID, day)
	cancel()
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			uy := domain.UserYield{
				UserID:   userID,
				Date:     day,
				Results:  map[string]map[string]*domain.APYResult{},
				Quality:  domain.QualityMetrics{OverallConfidence: domain.ConfidenceLow},
				Warnings: []string{"no snapshot data for this user"},
			}
			s.store(ctx, key, uy, cache.TTLLowConfidence)
			return uy, nil
		}
		// System error: degraded result, cached briefly so repeated requests
		// do not hammer the failing store.
		s.logger.ErrorContext(ctx, "snapshot read failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		uy := domain.UserYield{
			UserID:   userID,
			Date:     day,
			Results:  map[string]map[string]*domain.APYResult{},
			Quality:  domain.QualityMetrics{OverallConfidence: domain.ConfidenceLow},
			Warnings: []string{"snapshot data temporarily unavailable"},
		}
		s.store(ctx, key, uy, cache.TTLError)
		return uy, nil
	}

	refs, warnings := s.referenceSnapshots(ctx, userID, current)

	refObs := make(map[string]map[string]apy.Observation, len(refs))
	for name, snap := range refs {
		if snap != nil {
			refObs[name] = observations(*snap)
		}
	}

	periodNames := make([]string, 0, len(domain.Periods())+1)
	for _, p := range domain.Periods() {
		periodNames = append(periodNames, p.Name)
	}
	periodNames = append(periodNames, domain.PeriodAllTime)

	curObs := observations(current)
	results := make(map[string]map[string]*domain.APYResult, len(curObs))
	var computed, total int

	for identity, cur := range curObs {
		perPeriod := make(map[string]*domain.APYResult, len(periodNames))
		for _, period := range periodNames {
			total++
			res := s.computeOne(ctx, userID, identity, period, cur, refObs[period], current.Date)
			perPeriod[period] = res
			if res != nil {
				computed++
			}
		}
		results[identity] = perPeriod
	}

	uy := domain.UserYield{
		UserID:   userID,
		Date:     day,
		Results:  results,
		Quality:  qualityMetrics(results, computed, total, current),
		Warnings: warnings,
	}

	s.store(ctx, key, uy, cache.TTLFor(uy.Quality))
	return uy, nil
}

// computeOne runs the calculate-validate-record pipeline for one identity
// and period. A panic inside the pipeline is contained here so one corrupt
// position cannot abort the rest of the batch.
func (s *YieldService) computeOne(
	ctx context.Context,
	userID, identity, period string,
	cur apy.Observation,
	refs map[string]apy.Observation,
	snapDate time.Time,
) (res *domain.APYResult) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.ErrorContext(ctx, "calculation panicked",
				slog.String("user_id", userID),
				slog.String("identity", identity),
				slog.String("period", period),
				slog.Any("panic", r),
			)
			res = nil
		}
	}()

	var prior *apy.Observation
	if refs != nil {
		if po, ok := refs[identity]; ok {
			prior = &po
		}
	}

	res = s.calc.Compute(cur, prior)
	if res == nil {
		return nil
	}

	hist, err := s.history.List(ctx, userID, identity, period, s.opts.HistoryLimit)
	if err != nil {
		s.logger.WarnContext(ctx, "rate history read failed, validating without history",
			slog.String("identity", identity),
			slog.String("error", err.Error()),
		)
	}
	s.validator.Validate(res, hist)

	if err := s.history.Record(ctx, domain.RateObservation{
		UserID:   userID,
		Identity: identity,
		Period:   period,
		Date:     snapDate,
		APY:      res.APY,
	}); err != nil {
		s.logger.WarnContext(ctx, "rate history write failed",
			slog.String("identity", identity),
			slog.String("error", err.Error()),
		)
	}

	return res
}

func (s *YieldService) computePositionYield(ctx context.Context, userID, identity, period string, day time.Time, key string) (*domain.APYResult, error) {
	rctx, cancel := s.readTimeout(ctx)
	current, err := s.snapshots.Latest(rctx, userID, day)
	cancel()
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrNotFound
		}
		// System error: degraded result, cached briefly so repeated requests
		// do not hammer the failing store. Mirrors the summary path.
		s.logger.ErrorContext(ctx, "snapshot read failed",
			slog.String("user_id", userID),
			slog.String("identity", identity),
			slog.String("error", err.Error()),
		)
		res := &domain.APYResult{
			Confidence:        domain.ConfidenceLow,
			CalculationMethod: "unavailable",
			Warnings:          []string{"snapshot data temporarily unavailable"},
		}
		if data, err := json.Marshal(res); err == nil {
			if err := s.results.Set(ctx, key, data, cache.TTLError); err != nil {
				s.logger.WarnContext(ctx, "result cache write failed", slog.String("key", key), slog.String("error", err.Error()))
			}
		}
		return res, nil
	}

	curObs := observations(current)
	cur, ok := curObs[identity]
	if !ok {
		return nil, domain.ErrNotFound
	}

	var refs map[string]apy.Observation
	if period == domain.PeriodAllTime {
		rctx, cancel := s.readTimeout(ctx)
		oldest, err := s.snapshots.Oldest(rctx, userID)
		cancel()
		if err == nil && oldest.ID != current.ID {
			refs = map[string]apy.Observation{}
			for id, o := range observations(oldest) {
				refs[id] = o
			}
		}
	} else {
		days := periodDays(period)
		rctx, cancel := s.readTimeout(ctx)
		ref, err := s.snapshots.Closest(rctx, userID, current.Date.AddDate(0, 0, -days), s.matchWindow(days))
		cancel()
		if err == nil && ref.ID != current.ID {
			refs = observations(ref)
		}
	}

	res := s.computeOne(ctx, userID, identity, period, cur, refs, current.Date)
	if res == nil {
		return nil, domain.ErrNotFound
	}

	// Single results borrow the summary TTL policy with full completeness.
	ttl := cache.TTLFor(domain.QualityMetrics{
		OverallConfidence: res.Confidence,
		DataCompleteness:  100,
	})
	if data, err := json.Marshal(res); err == nil {
		if err := s.results.Set(ctx, key, data, ttl); err != nil {
			s.logger.WarnContext(ctx, "result cache write failed", slog.String("key", key), slog.String("error", err.Error()))
		}
	}
	return res, nil
}

func periodDays(name string) int {
	for _, p := range domain.Periods() {
		if p.Name == name {
			return p.Days
		}
	}
	return 0
}

func qualityMetrics(results map[string]map[string]*domain.APYResult, computed, total int, current domain.Snapshot) domain.QualityMetrics {
	q := domain.QualityMetrics{
		OverallConfidence: domain.ConfidenceLow,
		LastDataUpdate:    current.CreatedAt,
	}
	if q.LastDataUpdate.IsZero() {
		q.LastDataUpdate = current.Date
	}
	if total > 0 {
		q.DataCompleteness = math.Round(float64(computed)/float64(total)*100*100) / 100
	}

	var scoreSum float64
	var n int
	for _, perPeriod := range results {
		for _, res := range perPeriod {
			if res != nil {
				scoreSum += res.Confidence.Score()
				n++
			}
		}
	}
	if n > 0 {
		q.OverallConfidence = domain.ConfidenceFromScore(scoreSum / float64(n))
	}
	return q
}

// store serializes and caches a summary, logging rather than failing on
// cache errors; caching is an optimization, never a correctness dependency.
func (s *YieldService) store(ctx context.Context, key string, uy domain.UserYield, ttl time.Duration) {
	data, err := json.Marshal(uy)
	if err != nil {
		s.logger.ErrorContext(ctx, "encode summary failed", slog.String("key", key), slog.String("error", err.Error()))
		return
	}
	if err := s.results.Set(ctx, key, data, ttl); err != nil {
		s.logger.WarnContext(ctx, "summary cache write failed", slog.String("key", key), slog.String("error", err.Error()))
	}
}
