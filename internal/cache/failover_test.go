package cache

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/yieldscope/internal/cache/memory"
	"github.com/alanyoungcy/yieldscope/internal/domain"
)

// brokenCache fails every operation, simulating an unreachable backend.
type brokenCache struct{}

var errBackendDown = errors.New("connection refused")

func (brokenCache) Get(context.Context, string) ([]byte, error) { return nil, errBackendDown }
func (brokenCache) Set(context.Context, string, []byte, time.Duration) error {
	return errBackendDown
}
func (brokenCache) DeletePrefix(context.Context, string) (int64, error) { return 0, errBackendDown }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFailover_BrokenPrimaryFallsBack(t *testing.T) {
	fallback := memory.New(time.Minute)
	defer fallback.Stop()
	f := NewFailover(brokenCache{}, fallback, discardLogger())
	ctx := context.Background()

	require.NoError(t, f.Set(ctx, "k", []byte("v"), time.Minute))

	got, err := f.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
}

func TestFailover_PrimaryMissIsAuthoritative(t *testing.T) {
	primary := memory.New(time.Minute)
	defer primary.Stop()
	fallback := memory.New(time.Minute)
	defer fallback.Stop()
	ctx := context.Background()

	// A stale entry lingering in the fallback must not be served while the
	// primary is healthy.
	require.NoError(t, fallback.Set(ctx, "k", []byte("stale"), time.Minute))

	f := NewFailover(primary, fallback, discardLogger())
	_, err := f.Get(ctx, "k")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestFailover_NilPrimaryRunsFallbackOnly(t *testing.T) {
	fallback := memory.New(time.Minute)
	defer fallback.Stop()
	f := NewFailover(nil, fallback, discardLogger())
	ctx := context.Background()

	require.NoError(t, f.Set(ctx, "k", []byte("v"), time.Minute))
	got, err := f.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
}

func TestFailover_DeletePrefixPurgesBothBackends(t *testing.T) {
	primary := memory.New(time.Minute)
	defer primary.Stop()
	fallback := memory.New(time.Minute)
	defer fallback.Stop()
	ctx := context.Background()

	require.NoError(t, primary.Set(ctx, "apy:u1:a", []byte("p"), time.Minute))
	require.NoError(t, fallback.Set(ctx, "apy:u1:b", []byte("f"), time.Minute))

	f := NewFailover(primary, fallback, discardLogger())
	n, err := f.DeletePrefix(ctx, "apy:u1:")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	_, err = primary.Get(ctx, "apy:u1:a")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = fallback.Get(ctx, "apy:u1:b")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTTLFor_Tiers(t *testing.T) {
	tests := []struct {
		name string
		q    domain.QualityMetrics
		want time.Duration
	}{
		{
			name: "high confidence and complete",
			q:    domain.QualityMetrics{OverallConfidence: domain.ConfidenceHigh, DataCompleteness: 90},
			want: TTLHighConfidence,
		},
		{
			name: "high confidence but sparse",
			q:    domain.QualityMetrics{OverallConfidence: domain.ConfidenceHigh, DataCompleteness: 50},
			want: TTLLowConfidence,
		},
		{
			name: "medium confidence",
			q:    domain.QualityMetrics{OverallConfidence: domain.ConfidenceMedium, DataCompleteness: 70},
			want: TTLMediumConfidence,
		},
		{
			name: "low confidence",
			q:    domain.QualityMetrics{OverallConfidence: domain.ConfidenceLow, DataCompleteness: 100},
			want: TTLLowConfidence,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TTLFor(tt.q))
		})
	}
}
