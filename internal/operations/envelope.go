package operations

import (
	"context"

	"agentmem/internal/types"
)

// Pagination carries the summary-first contract's paging state.
type Pagination struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	Total   int  `json:"total"`
	HasMore bool `json:"has_more"`
}

// Envelope is the mandatory response shape for every invoke call:
// summary-first, with drill_down pointing at the operation a caller
// should call next for full detail.
type Envelope struct {
	Status     string         `json:"status"`
	Summary    string         `json:"summary"`
	Data       any            `json:"data,omitempty"`
	Counts     map[string]int `json:"counts,omitempty"`
	Pagination Pagination     `json:"pagination"`
	DrillDown  string         `json:"drill_down,omitempty"`
	Code       string         `json:"code,omitempty"`
	Message    string         `json:"message,omitempty"`
	Retriable  bool           `json:"retriable,omitempty"`
}

const (
	defaultLimit = 10
	maxLimit     = 100
)

// Invoke dispatches one operation call, enforcing pagination defaults
// and mapping handler errors onto the error envelope shape.
func (r *Registry) Invoke(ctx context.Context, operationID string, args map[string]any, limit, offset int) Envelope {
	op, ok := r.Get(operationID)
	if !ok {
		return errorEnvelope(types.ErrNotFound, false, "unknown operation: "+operationID)
	}

	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if args == nil {
		args = map[string]any{}
	}
	args["__limit"] = limit
	args["__offset"] = offset

	res, err := op.Handler(ctx, args)
	if err != nil {
		if ee, ok := err.(*types.EngineError); ok {
			return errorEnvelope(ee.Kind, ee.Retriable, ee.Message)
		}
		return errorEnvelope(types.ErrInternal, false, err.Error())
	}

	hasMore := offset+limit < res.Total
	drill := ""
	if res.Total > 0 {
		drill = operationID
	}
	return Envelope{
		Status:     "ok",
		Summary:    res.Summary,
		Data:       res.Data,
		Counts:     map[string]int{"total": res.Total},
		Pagination: Pagination{Limit: limit, Offset: offset, Total: res.Total, HasMore: hasMore},
		DrillDown:  drill,
	}
}

func errorEnvelope(kind types.ErrorKind, retriable bool, message string) Envelope {
	return Envelope{
		Status:    "error",
		Code:      string(kind),
		Message:   message,
		Retriable: retriable,
		Pagination: Pagination{Limit: defaultLimit},
	}
}
