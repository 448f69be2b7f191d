package apy

import (
	"fmt"
	"math"
	"sort"

	"github.com/alanyoungcy/yieldscope/internal/domain"
)

// Severity of a validation flag. No flag is individually fatal; flags only
// downgrade confidence and add warnings.
type Severity string

const (
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Flag is one triggered validation check.
type Flag struct {
	Check    string
	Severity Severity
	Message  string
}

// marketBand is an expected APY range for a class of DeFi strategy.
type marketBand struct {
	name string
	min  float64
	max  float64
}

// Bands ordered from most to least conservative. A rate landing only in the
// extreme-risk band is suspicious; a rate landing in none of them is flagged
// hard.
var marketBands = []marketBand{
	{"lending", 0, 25},
	{"stable_defi", 0, 50},
	{"liquidity_provision", -20, 200},
	{"yield_farming", -50, 1000},
	{"extreme_risk", -100, 10000},
}

const (
	zScoreMediumThreshold = 3
	zScoreHighThreshold   = 5

	iqrMediumMultiplier = 1.5
	iqrHighMultiplier   = 3

	pctChangeMediumThreshold = 50
	pctChangeHighThreshold   = 100

	shortWindowDays   = 7
	shortWindowMaxAPY = 500
)

// Validator runs statistical and contextual sanity checks on a computed rate
// and downgrades its confidence accordingly.
type Validator struct{}

// NewValidator creates a Validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks res against the identity's rolling APY history (oldest
// first; may be empty) and mutates the result in place: each triggered flag
// appends a warning and downgrades confidence by one step (medium severity)
// or two (high severity), floored at low and never raised above the
// baseline the calculator assigned.
func (v *Validator) Validate(res *domain.APYResult, history []float64) []Flag {
	if res == nil {
		return nil
	}

	flags := v.check(res, history)

	conf := res.Confidence
	for _, f := range flags {
		steps := 1
		if f.Severity == SeverityHigh {
			steps = 2
		}
		conf = conf.Downgrade(steps, domain.ConfidenceLow)
		res.Warnings = append(res.Warnings, f.Message)
	}
	res.Confidence = conf

	return flags
}

func (v *Validator) check(res *domain.APYResult, history []float64) []Flag {
	var flags []Flag

	if f := checkZScore(res.APY, history); f != nil {
		flags = append(flags, *f)
	}
	if f := checkIQR(res.APY, history); f != nil {
		flags = append(flags, *f)
	}
	if f := checkStepChange(res.APY, history); f != nil {
		flags = append(flags, *f)
	}
	if f := checkShortWindow(res.APY, res.Days); f != nil {
		flags = append(flags, *f)
	}
	if f := checkMarketContext(res.APY); f != nil {
		flags = append(flags, *f)
	}

	return flags
}

// checkZScore flags values far from the historical mean in standard
// deviations. Needs at least 3 historical observations.
func checkZScore(apy float64, history []float64) *Flag {
	if len(history) < 3 {
		return nil
	}

	m := mean(history)
	sd := stddev(history, m)
	if sd == 0 {
		return nil
	}

	z := math.Abs(apy-m) / sd
	switch {
	case z > zScoreHighThreshold:
		return &Flag{
			Check:    "z_score",
			Severity: SeverityHigh,
			Message:  fmt.Sprintf("APY %.2f%% deviates %.1f standard deviations from its history (mean %.2f%%)", apy, z, m),
		}
	case z > zScoreMediumThreshold:
		return &Flag{
			Check:    "z_score",
			Severity: SeverityMedium,
			Message:  fmt.Sprintf("APY %.2f%% deviates %.1f standard deviations from its history (mean %.2f%%)", apy, z, m),
		}
	}
	return nil
}

// checkIQR flags values outside the interquartile fences. Needs at least 5
// historical observations.
func checkIQR(apy float64, history []float64) *Flag {
	if len(history) < 5 {
		return nil
	}

	sorted := append([]float64(nil), history...)
	sort.Float64s(sorted)
	q1 := sorted[len(sorted)/4]
	q3 := sorted[len(sorted)*3/4]
	iqr := q3 - q1

	if apy < q1-iqrHighMultiplier*iqr || apy > q3+iqrHighMultiplier*iqr {
		return &Flag{
			Check:    "iqr",
			Severity: SeverityHigh,
			Message:  fmt.Sprintf("APY %.2f%% is far outside the historical interquartile range [%.2f, %.2f]", apy, q1, q3),
		}
	}
	if apy < q1-iqrMediumMultiplier*iqr || apy > q3+iqrMediumMultiplier*iqr {
		return &Flag{
			Check:    "iqr",
			Severity: SeverityMedium,
			Message:  fmt.Sprintf("APY %.2f%% is outside the historical interquartile range [%.2f, %.2f]", apy, q1, q3),
		}
	}
	return nil
}

// checkStepChange flags a large jump relative to the most recent historical
// value.
func checkStepChange(apy float64, history []float64) *Flag {
	if len(history) == 0 {
		return nil
	}

	last := history[len(history)-1]
	if last == 0 {
		return nil
	}

	changePct := math.Abs(apy-last) / math.Abs(last) * 100
	switch {
	case changePct > pctChangeHighThreshold:
		return &Flag{
			Check:    "step_change",
			Severity: SeverityHigh,
			Message:  fmt.Sprintf("APY moved %.0f%% in a single step (%.2f%% -> %.2f%%)", changePct, last, apy),
		}
	case changePct > pctChangeMediumThreshold:
		return &Flag{
			Check:    "step_change",
			Severity: SeverityMedium,
			Message:  fmt.Sprintf("APY moved %.0f%% in a single step (%.2f%% -> %.2f%%)", changePct, last, apy),
		}
	}
	return nil
}

// checkShortWindow flags extreme annualized rates produced from very short
// observation windows, where compounding amplifies daily noise. Fires
// regardless of history.
func checkShortWindow(apy, days float64) *Flag {
	if days < shortWindowDays && math.Abs(apy) > shortWindowMaxAPY {
		return &Flag{
			Check:    "short_window",
			Severity: SeverityHigh,
			Message:  fmt.Sprintf("APY %.2f%% annualized from only %.1f days of data", apy, days),
		}
	}
	return nil
}

// checkMarketContext classifies the rate against known DeFi strategy bands.
func checkMarketContext(apy float64) *Flag {
	var containing []string
	for _, b := range marketBands {
		if apy >= b.min && apy <= b.max {
			containing = append(containing, b.name)
		}
	}

	if len(containing) == 0 {
		return &Flag{
			Check:    "market_context",
			Severity: SeverityHigh,
			Message:  fmt.Sprintf("APY %.2f%% is outside every known market range", apy),
		}
	}
	if len(containing) == 1 && containing[0] == "extreme_risk" {
		return &Flag{
			Check:    "market_context",
			Severity: SeverityMedium,
			Message:  fmt.Sprintf("APY %.2f%% is only consistent with extreme-risk strategies", apy),
		}
	}
	return nil
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// stddev is the population standard deviation.
func stddev(values []float64, m float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		d := v - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)))
}
