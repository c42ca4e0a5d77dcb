package recall

import (
	"math"
	"sort"
)

// itemKey identifies a result uniquely across tiers/layers for dedup.
type itemKey struct {
	layer Layer
	id    int64
}

// rrfFuse combines one or more per-source rankings of the same item set by
// reciprocal rank fusion).
// Each ranking is a slice of itemKey ordered best-first; ranks are 1-based.
func rrfFuse(rankings [][]itemKey, rrfK int) map[itemKey]float64 {
	scores := make(map[itemKey]float64)
	for _, ranking := range rankings {
		for i, k := range ranking {
			rank := i + 1
			scores[k] += 1.0 / float64(rrfK+rank)
		}
	}
	return scores
}

// mergeItems folds per-tier Item sets into one deduplicated, RRF-fused set.
// Copies of the same (layer, id) from different tiers carry different
// fields (e.g. a semantic_score Tier 1 didn't compute), so duplicates are
// merged field-by-field rather than one copy replacing the other.
func mergeItems(tierResults [][]Item, rrfK int) []Item {
	byKey := make(map[itemKey]Item)
	var rankings [][]itemKey
	for _, tier := range tierResults {
		ranking := make([]itemKey, 0, len(tier))
		for _, it := range tier {
			k := itemKey{it.Layer, it.ID}
			ranking = append(ranking, k)
			if existing, ok := byKey[k]; ok {
				byKey[k] = mergeFields(existing, it)
			} else {
				byKey[k] = it
			}
		}
		rankings = append(rankings, ranking)
	}
	fused := rrfFuse(rankings, rrfK)

	out := make([]Item, 0, len(byKey))
	for k, it := range byKey {
		it.RankFusion = fused[k]
		out = append(out, it)
	}
	return out
}

// mergeFields combines two copies of the same item, keeping the best value
// of every score so no tier's computation is dropped.
func mergeFields(base, next Item) Item {
	if next.SemanticScore > base.SemanticScore {
		base.SemanticScore = next.SemanticScore
	}
	if next.Usefulness > base.Usefulness {
		base.Usefulness = next.Usefulness
	}
	if next.Quality > base.Quality {
		base.Quality = next.Quality
	}
	if base.Content == "" {
		base.Content = next.Content
	}
	if base.LastActivation.IsZero() {
		base.LastActivation = next.LastActivation
	}
	return base
}

// rescore applies the composite rescoring formula:
//
//	composite = w_sem*semantic + w_rec*exp(-age_days/tau_rec) + w_use*usefulness
func rescore(items []Item, wSem, wRec, wUse, tauRecDays float64) {
	for i := range items {
		recency := expDecay(items[i].AgeDays, tauRecDays)
		items[i].Composite = wSem*items[i].SemanticScore + wRec*recency + wUse*items[i].Usefulness
	}
}

func expDecay(ageDays, tau float64) float64 {
	if tau <= 0 {
		return 0
	}
	return math.Exp(-ageDays / tau)
}

// sortByComposite orders items by composite score descending, breaking ties
// by confidence.overall (if present) then newer last_activation.
func sortByComposite(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Composite != items[j].Composite {
			return items[i].Composite > items[j].Composite
		}
		ci, cj := 0.0, 0.0
		if items[i].Confidence != nil {
			ci = items[i].Confidence.Overall
		}
		if items[j].Confidence != nil {
			cj = items[j].Confidence.Overall
		}
		if ci != cj {
			return ci > cj
		}
		return items[i].LastActivation.After(items[j].LastActivation)
	})
}
