package cache

import (
	"time"

	"github.com/alanyoungcy/yieldscope/internal/domain"
)

// TTL tiers. Fresher expiry for shakier data: a high-confidence, mostly
// complete result can live an hour, while anything doubtful is recomputed
// within minutes. Error placeholders expire fast enough not to mask a
// recovering dependency while still damping retry storms.
const (
	TTLHighConfidence   = time.Hour        // high confidence, >=80% complete
	TTLMediumConfidence = 30 * time.Minute // medium confidence, >=60% complete
	TTLLowConfidence    = 15 * time.Minute // everything else
	TTLError            = time.Minute      // degraded placeholder results
)

// TTLFor selects the expiry tier for a result set from its quality metrics.
func TTLFor(q domain.QualityMetrics) time.Duration {
	switch {
	case q.OverallConfidence == domain.ConfidenceHigh && q.DataCompleteness >= 80:
		return TTLHighConfidence
	case q.OverallConfidence == domain.ConfidenceMedium && q.DataCompleteness >= 60:
		return TTLMediumConfidence
	default:
		return TTLLowConfidence
	}
}
