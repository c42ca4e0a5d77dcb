package recall

import "math"

// computeConfidence fills the five-component confidence breakdown:
// overall = 0.35*rel + 0.25*qual + 0.15*rec + 0.15*cons + 0.10*comp.
func computeConfidence(it Item, consistency, completeness, tauRecDays float64) Confidence {
	rec := expDecay(it.AgeDays, tauRecDays)
	c := Confidence{
		SemanticRelevance: clamp01(it.SemanticScore),
		SourceQuality:     clamp01(it.Quality),
		Recency:           clamp01(rec),
		Consistency:       clamp01(consistency),
		Completeness:      clamp01(completeness),
	}
	c.Overall = 0.35*c.SemanticRelevance + 0.25*c.SourceQuality + 0.15*c.Recency + 0.15*c.Consistency + 0.10*c.Completeness
	c.Level = levelFor(c.Overall)
	return c
}

func levelFor(overall float64) string {
	switch {
	case overall >= 0.85:
		return "very_high"
	case overall >= 0.65:
		return "high"
	case overall >= 0.4:
		return "medium"
	case overall >= 0.2:
		return "low"
	default:
		return "very_low"
	}
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// consistencyScore approximates how much a result agrees with its peers: the
// fraction of other items in the pool whose semantic score lies within 0.2 of
// its own (a cheap proxy for semantic consistency across the result set).
func consistencyScore(it Item, pool []Item) float64 {
	if len(pool) <= 1 {
		return 1
	}
	agree := 0
	for _, other := range pool {
		if other.Layer == it.Layer && other.ID == it.ID {
			continue
		}
		if math.Abs(other.SemanticScore-it.SemanticScore) < 0.2 {
			agree++
		}
	}
	return float64(agree) / float64(len(pool)-1)
}

// completenessScore approximates how much of the item's content is
// substantive rather than a stub, by length relative to a target.
func completenessScore(contentLen int) float64 {
	const target = 120
	if contentLen >= target {
		return 1
	}
	return float64(contentLen) / float64(target)
}
