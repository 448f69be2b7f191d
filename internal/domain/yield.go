package domain

import "time"

// Confidence is a qualitative reliability label attached to a computed rate.
type Confidence string

const (
	ConfidenceHigh    Confidence = "high"
	ConfidenceMedium  Confidence = "medium"
	ConfidenceLow     Confidence = "low"
	ConfidenceVeryLow Confidence = "very_low"
)

// Score maps a confidence label to a numeric weight for aggregation.
func (c Confidence) Score() float64 {
	switch c {
	case ConfidenceHigh:
		return 3
	case ConfidenceMedium:
		return 2
	case ConfidenceLow:
		return 1
	default:
		return 0
	}
}

// ConfidenceFromScore maps an aggregate score back to a label.
func ConfidenceFromScore(score float64) Confidence {
	switch {
	case score >= 2.5:
		return ConfidenceHigh
	case score >= 1.5:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// Downgrade lowers a confidence label by the given number of steps, never
// below floor.
func (c Confidence) Downgrade(steps int, floor Confidence) Confidence {
	order := []Confidence{ConfidenceHigh, ConfidenceMedium, ConfidenceLow, ConfidenceVeryLow}
	idx := 0
	for i, v := range order {
		if v == c {
			idx = i
			break
		}
	}
	floorIdx := len(order) - 1
	for i, v := range order {
		if v == floor {
			floorIdx = i
			break
		}
	}
	idx += steps
	if idx > floorIdx {
		idx = floorIdx
	}
	return order[idx]
}

// Period is a named lookback window.
type Period struct {
	Name string
	Days int
}

// PeriodAllTime marks the oldest-snapshot-to-current window; its day count
// is derived from the data rather than fixed.
const PeriodAllTime = "all_time"

// Periods is the fixed set of lookback windows computed for every identity.
func Periods() []Period {
	return []Period{
		{Name: "daily", Days: 1},
		{Name: "weekly", Days: 7},
		{Name: "monthly", Days: 30},
		{Name: "six_month", Days: 180},
	}
}

// APYResult is the computed annualized yield for one identity over one
// lookback period.
type APYResult struct {
	APY               float64    `json:"apy"`
	PeriodReturn      float64    `json:"period_return"`
	Days              float64    `json:"days"`
	IsNewPosition     bool       `json:"is_new_position"`
	Confidence        Confidence `json:"confidence"`
	Warnings          []string   `json:"warnings,omitempty"`
	CalculationMethod string     `json:"calculation_method"`
	CurrentValue      float64    `json:"current_value"`
	PreviousValue     float64    `json:"previous_value,omitempty"`
	RewardValue       float64    `json:"reward_value,omitempty"`
}

// QualityMetrics summarizes the reliability of a full per-user result set.
type QualityMetrics struct {
	// DataCompleteness is the percentage of (identity, period) pairs that
	// produced a result.
	DataCompleteness  float64    `json:"data_completeness"`
	OverallConfidence Confidence `json:"overall_confidence"`
	LastDataUpdate    time.Time  `json:"last_data_update"`
}

// UserYield is the full per-user response: for every identity present in the
// newest snapshot, a map of period name to result (nil when no result could
// be computed), plus portfolio-level quality metrics.
type UserYield struct {
	UserID   string                           `json:"user_id"`
	Date     time.Time                        `json:"date"`
	Results  map[string]map[string]*APYResult `json:"results"`
	Quality  QualityMetrics                   `json:"_qualityMetrics"`
	Warnings []string                         `json:"warnings,omitempty"`
}

// RateObservation is one historical computed rate, persisted so later
// calculations can be checked against the identity's own history.
type RateObservation struct {
	UserID   string
	Identity string
	Period   string
	Date     time.Time
	APY      float64
}
