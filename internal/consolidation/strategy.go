// Package consolidation implements the dual-process consolidation engine:
// a fast statistical pass (System 1) that clusters episodic events and
// drafts candidate patterns, and a slow LLM-validated pass (System 2)
// that confirms high-uncertainty candidates before they are promoted into
// semantic Memories or Procedures.
package consolidation

import "time"

// Strategy names one of the four consolidation presets.
type Strategy string

const (
	StrategyMinimal  Strategy = "minimal"
	StrategySpeed    Strategy = "speed"
	StrategyBalanced Strategy = "balanced"
	StrategyQuality  Strategy = "quality"
)

// Params parametrises one run of the pipeline: clustering threshold,
// validation threshold, whether System 2 is consulted at all, and fanout.
// Numeric thresholds across strategy levels were left undocumented by
// Open Questions; this table is the fixed decision.
type Params struct {
	ClusterTau          float64
	ValidationThreshold float64
	ForceS2             bool // quality: validate every candidate regardless of uncertainty
	DisableS2           bool // speed: never consult S2; every candidate takes the fast-accept path
	TemporalHalfLife    time.Duration
	OverFetch           int
	SelectionWindow     time.Duration // 0 means no lower time bound (see Select)
}

// strategyParams fixes the numeric behaviour of each strategy preset.
var strategyParams = map[Strategy]Params{
	StrategyMinimal: {
		ClusterTau:          0.25,
		ValidationThreshold: 0.7,
		TemporalHalfLife:     15 * time.Minute,
		OverFetch:           2,
		SelectionWindow:     0, // no time bound; narrowed by the session argument
	},
	StrategySpeed: {
		ClusterTau:          0.3,
		ValidationThreshold: 1.1, // unreachable: DisableS2 takes precedence anyway
		DisableS2:           true,
		TemporalHalfLife:     20 * time.Minute,
		OverFetch:           2,
		SelectionWindow:     2 * time.Hour,
	},
	StrategyBalanced: {
		ClusterTau:          0.35,
		ValidationThreshold: 0.5,
		TemporalHalfLife:     30 * time.Minute,
		OverFetch:           3,
		SelectionWindow:     6 * time.Hour,
	},
	StrategyQuality: {
		ClusterTau:          0.45,
		ValidationThreshold: 0.0,
		ForceS2:             true,
		TemporalHalfLife:     45 * time.Minute,
		OverFetch:           4,
		SelectionWindow:     0, // all active events ("deep")
	},
}

// ParamsFor returns the fixed parameter set for a strategy, falling back to
// balanced for an unrecognised value.
func ParamsFor(s Strategy) Params {
	if p, ok := strategyParams[s]; ok {
		return p
	}
	return strategyParams[StrategyBalanced]
}
