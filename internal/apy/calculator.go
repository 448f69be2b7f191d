package apy

import (
	"fmt"
	"math"
	"time"

	"github.com/alanyoungcy/yieldscope/internal/domain"
)

// Calculation method tags. Downstream consumers use these to tell
// assumption-bound results from observed ones.
const (
	MethodNewPositionRewards   = "new_position_rewards"
	MethodNewPositionNoRewards = "new_position_no_rewards"
	MethodValueChange          = "value_change"
	MethodRewardsAccrual       = "rewards_accrual"
)

// minElapsedDays floors the annualization divisor so same-day comparisons do
// not blow up the exponent.
const minElapsedDays = 0.1

// Observation is the value of one identity in one snapshot.
type Observation struct {
	Value       float64
	RewardValue float64
	Date        time.Time
}

// CalculatorConfig tunes the heuristic branches of the calculator. The
// rewards-accrual window bounds have no principled derivation; they bound
// how long a pile of unclaimed rewards is assumed to have accumulated.
type CalculatorConfig struct {
	// FlatThreshold is the relative principal change below which a position
	// is considered unchanged and the rewards-accrual branch applies.
	FlatThreshold float64

	// MinAccrualDays and MaxAccrualDays bound the assumed accrual window
	// for the rewards-based estimate.
	MinAccrualDays float64
	MaxAccrualDays float64

	// AccrualAPYCap caps the rewards-accrual APY so a too-short assumed
	// window cannot compound into absurdity.
	AccrualAPYCap float64
}

// DefaultCalculatorConfig returns the standard tuning.
func DefaultCalculatorConfig() CalculatorConfig {
	return CalculatorConfig{
		FlatThreshold:  0.01,
		MinAccrualDays: 7,
		MaxAccrualDays: 30,
		AccrualAPYCap:  200,
	}
}

// Calculator converts a value change over an elapsed span into an annualized
// return. It is pure and deterministic: identical inputs produce identical
// results.
type Calculator struct {
	cfg CalculatorConfig
}

// NewCalculator creates a Calculator. Zero-valued config fields fall back to
// the defaults.
func NewCalculator(cfg CalculatorConfig) *Calculator {
	def := DefaultCalculatorConfig()
	if cfg.FlatThreshold <= 0 {
		cfg.FlatThreshold = def.FlatThreshold
	}
	if cfg.MinAccrualDays <= 0 {
		cfg.MinAccrualDays = def.MinAccrualDays
	}
	if cfg.MaxAccrualDays <= cfg.MinAccrualDays {
		cfg.MaxAccrualDays = def.MaxAccrualDays
	}
	if cfg.AccrualAPYCap <= 0 {
		cfg.AccrualAPYCap = def.AccrualAPYCap
	}
	return &Calculator{cfg: cfg}
}

// Compute runs the per-identity state machine. prior is nil when the
// identity was absent from the matched historical snapshot. A nil return
// means "no result": zero-value positions produce no APY record at all.
func (c *Calculator) Compute(current Observation, prior *Observation) *domain.APYResult {
	if current.Value <= 0 {
		return nil
	}

	// A prior observation with non-positive value is indistinguishable from
	// no observation; treat it as a bootstrap.
	if prior == nil || prior.Value <= 0 {
		return c.newPosition(current)
	}

	change := current.Value/prior.Value - 1

	// Pure value-change is too noisy for positions whose principal barely
	// moves day to day yet which are visibly earning rewards; estimate from
	// the reward pile instead.
	if math.Abs(change) < c.cfg.FlatThreshold && current.RewardValue > 0 {
		return c.rewardsAccrual(current)
	}

	return c.valueChange(current, prior, change)
}

// newPosition handles the bootstrap branch: no usable prior observation.
// Unclaimed rewards, if any, are assumed to have accrued over a single day.
func (c *Calculator) newPosition(current Observation) *domain.APYResult {
	if current.RewardValue <= 0 {
		return &domain.APYResult{
			APY:               0,
			PeriodReturn:      0,
			Days:              1,
			IsNewPosition:     true,
			Confidence:        domain.ConfidenceLow,
			CalculationMethod: MethodNewPositionNoRewards,
			CurrentValue:      round2(current.Value),
			Warnings: []string{
				"new position with no unclaimed rewards; yield unknown until a second snapshot exists",
			},
		}
	}

	dailyReturn := current.RewardValue / current.Value
	return &domain.APYResult{
		APY:               round2(dailyReturn * 365 * 100),
		PeriodReturn:      round2(dailyReturn * 100),
		Days:              1,
		IsNewPosition:     true,
		Confidence:        domain.ConfidenceMedium,
		CalculationMethod: MethodNewPositionRewards,
		CurrentValue:      round2(current.Value),
		RewardValue:       round2(current.RewardValue),
		Warnings: []string{
			"estimated from unclaimed rewards assuming one day of accrual",
		},
	}
}

// valueChange annualizes an observed period return by compounding it to a
// 365-day basis.
func (c *Calculator) valueChange(current Observation, prior *Observation, change float64) *domain.APYResult {
	elapsed := current.Date.Sub(prior.Date).Hours() / 24
	actualDays := math.Max(minElapsedDays, elapsed)

	apy := (math.Pow(1+change, 365/actualDays) - 1) * 100

	return &domain.APYResult{
		APY:               round2(apy),
		PeriodReturn:      round2(change * 100),
		Days:              actualDays,
		Confidence:        domain.ConfidenceHigh,
		CalculationMethod: MethodValueChange,
		CurrentValue:      round2(current.Value),
		PreviousValue:     round2(prior.Value),
		RewardValue:       round2(current.RewardValue),
	}
}

// rewardsAccrual estimates yield from the unclaimed reward pile of a
// flat-principal position. The accrual window is assumed, not observed: it
// scales with the reward-to-principal ratio and is clamped to the configured
// bounds, and the resulting APY is capped.
func (c *Calculator) rewardsAccrual(current Observation) *domain.APYResult {
	ratio := current.RewardValue / current.Value

	// A bigger reward pile relative to principal implies a longer
	// accumulation window. 2% of principal or more maps to the full window.
	scale := math.Min(1, ratio/0.02)
	assumedDays := c.cfg.MinAccrualDays + (c.cfg.MaxAccrualDays-c.cfg.MinAccrualDays)*scale

	dailyReturn := ratio / assumedDays
	apy := dailyReturn * 365 * 100

	warnings := []string{
		fmt.Sprintf("estimated from rewards accrual over an assumed %.0f-day window", assumedDays),
	}
	if apy > c.cfg.AccrualAPYCap {
		apy = c.cfg.AccrualAPYCap
		warnings = append(warnings, fmt.Sprintf("rewards-based estimate capped at %.0f%%", c.cfg.AccrualAPYCap))
	}

	return &domain.APYResult{
		APY:               round2(apy),
		PeriodReturn:      round2(ratio * 100),
		Days:              assumedDays,
		Confidence:        domain.ConfidenceMedium,
		CalculationMethod: MethodRewardsAccrual,
		CurrentValue:      round2(current.Value),
		RewardValue:       round2(current.RewardValue),
		Warnings:          warnings,
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
