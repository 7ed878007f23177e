package reporting

import (
	"math"

	"github.com/bl4ck0w1/idlynx/pkg/models"
)

const maxExposureScore = 10.0

// ExposureScorer turns severity counts into a single 0-10 figure.
type ExposureScorer struct {
	severityWeights map[models.Severity]float64
}

func NewExposureScorer() *ExposureScorer {
	return NewExposureScorerWithWeights(nil)
}

func NewExposureScorerWithWeights(override map[models.Severity]float64) *ExposureScorer {
	base := map[models.Severity]float64{
		models.SeverityCritical: 2.5,
		models.SeverityHigh:     1.5,
		models.SeverityMedium:   0.75,
		models.SeverityLow:      0.25,
	}
	for k, v := range override {
		base[k] = v
	}
	return &ExposureScorer{severityWeights: base}
}

func (es *ExposureScorer) Weight(s models.Severity) float64 {
	return es.severityWeights[s]
}

// Score is the weighted sum of the counts, capped at 10 and rounded to two
// places.
func (es *ExposureScorer) Score(counts models.SeverityCounts) float64 {
	total := float64(counts.Critical)*es.Weight(models.SeverityCritical) +
		float64(counts.High)*es.Weight(models.SeverityHigh) +
		float64(counts.Medium)*es.Weight(models.SeverityMedium) +
		float64(counts.Low)*es.Weight(models.SeverityLow)
	if total > maxExposureScore {
		return maxExposureScore
	}
	return math.Round(total*100) / 100
}

// Rating buckets a score for the human-readable formats.
func Rating(score float64) string {
	switch {
	case score >= 7.5:
		return "Severe"
	case score >= 5:
		return "Elevated"
	case score >= 2.5:
		return "Moderate"
	case score > 0:
		return "Limited"
	default:
		return "None"
	}
}
