package hooks

import (
	"context"
	"sync"

	"agentmem/internal/types"
)

// chainState tracks the call stack and per-hook breadth counters for one
// firing chain. It is task-local: created fresh for a root Fire call and
// threaded through nested Fire calls via the context, rather than kept as
// package-level mutable state.
type chainState struct {
	mu      sync.Mutex
	stack   []ID
	breadth map[ID]int // hook -> count of child fires it triggered (a repeated child counts again)
}

func newChainState() *chainState {
	return &chainState{breadth: make(map[ID]int)}
}

type ctxKey struct{}

var chainCtxKey = ctxKey{}

// chainFrom returns the chain carried on ctx, or a fresh one if this is the
// root of a new cascade.
func chainFrom(ctx context.Context) (context.Context, *chainState) {
	if c, ok := ctx.Value(chainCtxKey).(*chainState); ok {
		return ctx, c
	}
	c := newChainState()
	return context.WithValue(ctx, chainCtxKey, c), c
}

// enter pushes hookID onto the stack, checking for cycle/nesting/fan-out
// violations. Returns a pop func to call
// when the fire completes, and a non-nil *types.EngineError if a guard
// tripped (the chain must then be aborted, not partially persisted).
func (c *chainState) enter(hookID ID, maxDepth, maxBreadth int) (func(), *types.EngineError) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, h := range c.stack {
		if h == hookID {
			return func() {}, types.NewError(types.ErrCascadeViolation, false,
				"cycle: hook %q already on the firing stack", hookID)
		}
	}
	if len(c.stack)+1 > maxDepth {
		return func() {}, types.NewError(types.ErrCascadeViolation, false,
			"nesting overflow: depth %d exceeds max_depth %d", len(c.stack)+1, maxDepth)
	}
	if len(c.stack) > 0 {
		parent := c.stack[len(c.stack)-1]
		if c.breadth[parent]+1 > maxBreadth {
			return func() {}, types.NewError(types.ErrCascadeViolation, false,
				"fan-out overflow: hook %q triggered more than max_breadth %d others", parent, maxBreadth)
		}
		c.breadth[parent]++
	}

	c.stack = append(c.stack, hookID)
	popped := false
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if popped || len(c.stack) == 0 {
			return
		}
		c.stack = c.stack[:len(c.stack)-1]
		popped = true
	}, nil
}

// Depth reports the current stack depth, for callers that want to surface
// it in diagnostics.
func (c *chainState) Depth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.stack)
}
