package recall

import (
	"context"
	"fmt"
	"strings"

	"agentmem/internal/logging"
)

const tier3SystemPrompt = `You answer questions about a developer's prior work using only the
supplied memory excerpts. Cite which excerpts you used by their item
number. If the excerpts don't support an answer, say so plainly.`

const tier3TopN = 5

// tier3 asks the LLM client to synthesize an answer grounded in the merged
// result pool. On LLM unavailability it reports
// ok=false so the caller degrades to Tier 2 and sets synthesis_skipped.
func (r *Router) tier3(ctx context.Context, req Request, pool []Item) (Item, bool) {
	if r.LLM == nil {
		return Item{}, false
	}
	top := pool
	if len(top) > tier3TopN {
		top = top[:tier3TopN]
	}
	if len(top) == 0 {
		return Item{}, false
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nExcerpts:\n", req.QueryText)
	for i, it := range top {
		fmt.Fprintf(&b, "[%d] (%s) %s\n", i+1, it.Layer, it.Content)
	}

	text, err := r.LLM.Complete(ctx, tier3SystemPrompt, b.String())
	if err != nil {
		logging.Get(logging.CategoryRecall).Warn("tier3: synthesis unavailable, degrading to tier 2: %v", err)
		return Item{}, false
	}

	return Item{
		Layer:         LayerSynthesis,
		ID:            0,
		Content:       text,
		SemanticScore: 1,
		Composite:     1,
	}, true
}
