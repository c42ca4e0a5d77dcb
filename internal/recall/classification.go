// Package recall implements the unified query router and cascading recall
// pipeline: classification, tiered layer fanout, reciprocal-rank fusion,
// composite rescoring, and confidence/explanation.
package recall

import "strings"

// QueryType is the classification bucket a query is routed by.
type QueryType string

const (
	TypeTemporal   QueryType = "temporal"
	TypeFactual    QueryType = "factual"
	TypeRelational QueryType = "relational"
	TypeProcedural QueryType = "procedural"
	TypeProspective QueryType = "prospective"
	TypeMeta       QueryType = "meta"
	TypePlanning   QueryType = "planning"
)

// markerTable is the deterministic lexical rule table. Order within a type
// doesn't matter; precedence across types is handled explicitly in Classify.
var markerTable = map[QueryType][]string{
	TypePlanning: {
		"plan", "should i", "what next", "roadmap", "strategy", "next step", "prioritize",
	},
	TypeProcedural: {
		"how do i", "how to", "steps to", "procedure", "workflow", "recipe", "template",
	},
	TypeRelational: {
		"related to", "connected to", "depends on", "who", "relationship", "linked", "graph",
	},
	TypeTemporal: {
		"when", "yesterday", "last week", "recently", "history", "timeline", "ago",
	},
	TypeProspective: {
		"todo", "task", "due", "deadline", "goal", "pending",
	},
	TypeMeta: {
		"coverage", "expertise", "gaps", "how much do i know", "memory health",
	},
}

// classificationPrecedence breaks ties when more than one type's markers
// fire in the same query: planning markers win over procedural, relational
// over temporal, temporal over factual.
var classificationPrecedence = []QueryType{
	TypePlanning, TypeProcedural, TypeMeta, TypeProspective, TypeRelational, TypeTemporal, TypeFactual,
}

// Classify assigns a QueryType to a natural-language query using the
// lexical marker table, defaulting to factual when nothing fires.
func Classify(query string) QueryType {
	lower := strings.ToLower(query)
	matched := make(map[QueryType]bool)
	for qt, markers := range markerTable {
		for _, m := range markers {
			if strings.Contains(lower, m) {
				matched[qt] = true
				break
			}
		}
	}
	for _, qt := range classificationPrecedence {
		if matched[qt] {
			return qt
		}
	}
	return TypeFactual
}
