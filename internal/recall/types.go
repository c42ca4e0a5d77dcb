package recall

import (
	"time"

	"agentmem/internal/hooks"
)

// Layer names an addressable result source.
type Layer string

const (
	LayerEpisodic   Layer = "episodic"
	LayerSemantic   Layer = "semantic"
	LayerProcedural Layer = "procedural"
	LayerProspective Layer = "prospective"
	LayerGraph      Layer = "graph"
	LayerSynthesis  Layer = "synthesis"
)

// Confidence is the five-component confidence breakdown for a recall item.
type Confidence struct {
	SemanticRelevance float64 `json:"semantic_relevance"`
	SourceQuality     float64 `json:"source_quality"`
	Recency           float64 `json:"recency"`
	Consistency       float64 `json:"consistency"`
	Completeness      float64 `json:"completeness"`
	Overall           float64 `json:"overall"`
	Level             string  `json:"level"`
}

// Item is one recall result, already carrying its fusion and composite
// scores plus (if requested) a confidence breakdown.
type Item struct {
	Layer          Layer      `json:"layer"`
	ID             int64      `json:"id"`
	Content        string     `json:"content"`
	SemanticScore  float64    `json:"semantic_score"`
	RankFusion     float64    `json:"rank_fusion_score"`
	Composite      float64    `json:"composite_score"`
	Usefulness     float64    `json:"usefulness_score,omitempty"`
	Quality        float64    `json:"quality,omitempty"`
	AgeDays        float64    `json:"age_days"`
	LastActivation time.Time  `json:"last_activation,omitempty"`
	Confidence     *Confidence `json:"confidence,omitempty"`
}

// Explanation accompanies a Response when Request.Explain is set.
type Explanation struct {
	QueryType          QueryType        `json:"query_type"`
	TiersExecuted      []int            `json:"tiers_executed"`
	LayersSearched     []Layer          `json:"layers_searched"`
	CandidatesPerLayer map[Layer]int    `json:"candidates_per_layer"`
	FusionScores       map[string]float64 `json:"fusion_scores"`
	Degraded           bool             `json:"degraded,omitempty"`
}

// Request is the input to Router.Recall.
type Request struct {
	QueryText         string
	Project           string
	Context           *hooks.RecoveryPayload // optional explicit session context
	SessionID         string
	K                 int
	CascadeDepth      int // clamped to {1,2,3}
	IncludeConfidence bool
	Explain           bool
	DisableActivation bool // test mode: suppress activation side effects
}

// Response is the output of Router.Recall.
type Response struct {
	Status          string       `json:"status"`
	Summary         string       `json:"summary"`
	Items           []Item       `json:"items"`
	Degraded        bool         `json:"degraded"`
	SynthesisSkipped bool        `json:"synthesis_skipped,omitempty"`
	Explanation     *Explanation `json:"explanation,omitempty"`
}

// clampDepth clamps an out-of-range cascade depth into {1,2,3}.
func clampDepth(d int) int {
	if d < 1 {
		return 1
	}
	if d > 3 {
		return 3
	}
	return d
}
