package consolidation

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"agentmem/internal/types"
)

// Candidate is a draft pattern extracted from one Cluster, carrying the uncertainty score that decides
// whether System 2 validation is required.
type Candidate struct {
	ClusterKey      string
	Content         string
	SupportCount    int
	Cohesion        float64
	OutcomeVariance float64
	Uncertainty     float64
	SourceEventIDs  []int64
	IsProcedural    bool
	TriggerPattern  string
	SuggestedType   types.MemoryType
}

func outcomeValue(o types.Outcome) float64 {
	switch o {
	case types.OutcomeSuccess:
		return 1
	case types.OutcomePartial:
		return 0.5
	case types.OutcomeOngoing:
		return 0.25
	default:
		return 0
	}
}

func variance(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var mean float64
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	var sumSq float64
	for _, v := range values {
		d := v - mean
		sumSq += d * d
	}
	return sumSq / float64(len(values))
}

func cohesion(events []types.Event, halfLife64 float64) float64 {
	if len(events) < 2 {
		return 1
	}
	var total float64
	var n int
	for i := 0; i < len(events); i++ {
		for j := i + 1; j < len(events); j++ {
			total += pairDistance(events[i], events[j], 0)
			n++
		}
	}
	if n == 0 {
		return 1
	}
	avgDist := total / float64(n)
	return math.Max(0, 1-avgDist)
}

// isRepeatedAction reports whether a cluster looks like the same action
// recurring across sessions, by checking if a normalized content prefix
// repeats across at least two distinct sessions.
func isRepeatedAction(events []types.Event) (bool, string) {
	counts := make(map[string]map[string]bool) // normalized content -> sessions seen
	for _, e := range events {
		if e.EventType != types.EventAction {
			continue
		}
		key := strings.ToLower(strings.Join(strings.Fields(e.Content), " "))
		if len(key) > 60 {
			key = key[:60]
		}
		if counts[key] == nil {
			counts[key] = make(map[string]bool)
		}
		counts[key][e.SessionID] = true
	}
	var best string
	bestCount := 0
	for key, sessions := range counts {
		if len(sessions) > bestCount {
			best, bestCount = key, len(sessions)
		}
	}
	return bestCount >= 2, best
}

// Extract derives one Candidate pattern per cluster. Uncertainty combines
// cluster cohesion, support count, and outcome variance.
func Extract(clusters []Cluster) []Candidate {
	candidates := make([]Candidate, 0, len(clusters))
	for _, c := range clusters {
		if len(c.Events) == 0 {
			continue
		}
		cohesionScore := cohesion(c.Events, 0)

		outcomes := make([]float64, len(c.Events))
		var ids []int64
		contents := make([]string, 0, len(c.Events))
		for i, e := range c.Events {
			outcomes[i] = outcomeValue(e.Outcome)
			ids = append(ids, e.ID)
			if !containsString(contents, e.Content) {
				contents = append(contents, e.Content)
			}
		}
		outVar := variance(outcomes)

		support := len(c.Events)
		supportFactor := 1.0 / float64(support+1)
		uncertainty := (1-cohesionScore)*0.5 + outVar*0.3 + supportFactor*0.2
		if uncertainty > 1 {
			uncertainty = 1
		}

		repeated, trigger := isRepeatedAction(c.Events)

		suggestedType := types.MemoryPattern
		if allSameEventType(c.Events, types.EventError) {
			suggestedType = types.MemoryFact
		} else if allSameEventType(c.Events, types.EventDecision) {
			suggestedType = types.MemoryDecision
		}

		sort.Strings(contents)
		summary := strings.Join(contents, "; ")
		if len(summary) > 400 {
			summary = summary[:400]
		}

		candidates = append(candidates, Candidate{
			ClusterKey:      c.Key,
			Content:         fmt.Sprintf("Pattern from %d related events: %s", support, summary),
			SupportCount:    support,
			Cohesion:        cohesionScore,
			OutcomeVariance: outVar,
			Uncertainty:     uncertainty,
			SourceEventIDs:  ids,
			IsProcedural:    repeated,
			TriggerPattern:  trigger,
			SuggestedType:   suggestedType,
		})
	}
	return candidates
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func allSameEventType(events []types.Event, t types.EventType) bool {
	for _, e := range events {
		if e.EventType != t {
			return false
		}
	}
	return true
}
