package apy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/yieldscope/internal/domain"
)

func result(apy, days float64, conf domain.Confidence) *domain.APYResult {
	return &domain.APYResult{
		APY:        apy,
		Days:       days,
		Confidence: conf,
	}
}

func flagChecks(flags []Flag) map[string]Severity {
	out := make(map[string]Severity, len(flags))
	for _, f := range flags {
		out[f.Check] = f.Severity
	}
	return out
}

func TestValidate_OutlierAgainstHistory(t *testing.T) {
	v := NewValidator()
	history := []float64{5, 6, 5.5, 6.2, 5.8}

	res := result(200, 30, domain.ConfidenceHigh)
	flags := v.Validate(res, history)

	checks := flagChecks(flags)
	assert.Equal(t, SeverityHigh, checks["z_score"])
	assert.Equal(t, SeverityHigh, checks["iqr"])
	assert.Equal(t, SeverityHigh, checks["step_change"])

	assert.Equal(t, domain.ConfidenceLow, res.Confidence)
	assert.Len(t, res.Warnings, len(flags))
}

func TestValidate_ConsistentValuePasses(t *testing.T) {
	v := NewValidator()
	history := []float64{5, 6, 5.5, 6.2, 5.8}

	res := result(5.9, 30, domain.ConfidenceHigh)
	flags := v.Validate(res, history)

	assert.Empty(t, flags)
	assert.Equal(t, domain.ConfidenceHigh, res.Confidence)
	assert.Empty(t, res.Warnings)
}

func TestValidate_ShortWindowVolatility(t *testing.T) {
	v := NewValidator()

	// No history at all: the short-window check still fires.
	res := result(517.46, 1, domain.ConfidenceHigh)
	flags := v.Validate(res, nil)

	checks := flagChecks(flags)
	assert.Equal(t, SeverityHigh, checks["short_window"])
	assert.NotEqual(t, domain.ConfidenceHigh, res.Confidence)
}

func TestValidate_MarketContextBands(t *testing.T) {
	tests := []struct {
		name         string
		apy          float64
		wantCheck    bool
		wantSeverity Severity
	}{
		{name: "typical lending rate", apy: 4.5, wantCheck: false},
		{name: "plausible LP rate", apy: 150, wantCheck: false},
		{name: "only extreme risk explains it", apy: 5000, wantCheck: true, wantSeverity: SeverityMedium},
		{name: "outside every band", apy: 20000, wantCheck: true, wantSeverity: SeverityHigh},
		{name: "total loss and then some", apy: -150, wantCheck: true, wantSeverity: SeverityHigh},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := checkMarketContext(tt.apy)
			if !tt.wantCheck {
				assert.Nil(t, f)
				return
			}
			require.NotNil(t, f)
			assert.Equal(t, tt.wantSeverity, f.Severity)
		})
	}
}

func TestValidate_InsufficientHistorySkipsStatisticalChecks(t *testing.T) {
	v := NewValidator()

	// Two observations: not enough for z-score (3) or IQR (5).
	res := result(200, 30, domain.ConfidenceHigh)
	flags := v.Validate(res, []float64{5, 6})

	checks := flagChecks(flags)
	_, hasZ := checks["z_score"]
	_, hasIQR := checks["iqr"]
	assert.False(t, hasZ)
	assert.False(t, hasIQR)

	// The step-change check needs only one prior value and still fires.
	assert.Equal(t, SeverityHigh, checks["step_change"])
}

func TestValidate_NeverUpgradesBaseline(t *testing.T) {
	v := NewValidator()

	res := result(5.5, 30, domain.ConfidenceMedium)
	flags := v.Validate(res, []float64{5, 6, 5.5, 6.2, 5.8})

	assert.Empty(t, flags)
	assert.Equal(t, domain.ConfidenceMedium, res.Confidence)
}

func TestValidate_FlatHistoryHasZeroDeviation(t *testing.T) {
	v := NewValidator()

	// Identical history values: stddev is zero, z-score must not divide by
	// it. IQR fences collapse to the single value, so the new rate is still
	// flagged there.
	res := result(50, 30, domain.ConfidenceHigh)
	flags := v.Validate(res, []float64{5, 5, 5, 5, 5})

	checks := flagChecks(flags)
	_, hasZ := checks["z_score"]
	assert.False(t, hasZ)
	assert.Equal(t, SeverityHigh, checks["iqr"])
}

func TestConfidenceDowngradeFloorsAtLow(t *testing.T) {
	c := domain.ConfidenceHigh
	assert.Equal(t, domain.ConfidenceLow, c.Downgrade(5, domain.ConfidenceLow))
	assert.Equal(t, domain.ConfidenceMedium, c.Downgrade(1, domain.ConfidenceLow))
	assert.Equal(t, domain.ConfidenceLow, domain.ConfidenceLow.Downgrade(2, domain.ConfidenceLow))
}
