package engine

import (
	"time"

	"agentmem/internal/types"
)

// Argument accessors for operation handlers. Invoke hands handlers a raw
// map[string]any decoded from JSON, so numbers arrive as float64 and lists
// as []any; these helpers normalise that without panicking.

func argString(args map[string]any, key, def string) string {
	if v, ok := args[key].(string); ok && v != "" {
		return v
	}
	return def
}

func requireString(args map[string]any, key string) (string, error) {
	v, ok := args[key].(string)
	if !ok || v == "" {
		return "", types.NewError(types.ErrInvalidArgument, false, "missing required argument %q", key)
	}
	return v, nil
}

func argInt(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

func argInt64(args map[string]any, key string, def int64) int64 {
	switch v := args[key].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	}
	return def
}

func requireInt64(args map[string]any, key string) (int64, error) {
	switch v := args[key].(type) {
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		return int64(v), nil
	}
	return 0, types.NewError(types.ErrInvalidArgument, false, "missing required argument %q", key)
}

func argFloat(args map[string]any, key string, def float64) float64 {
	switch v := args[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return def
}

func argBool(args map[string]any, key string) bool {
	v, _ := args[key].(bool)
	return v
}

func argStrings(args map[string]any, key string) []string {
	switch v := args[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func argTime(args map[string]any, key string) (time.Time, error) {
	s, ok := args[key].(string)
	if !ok || s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, types.NewError(types.ErrInvalidArgument, false, "argument %q: not RFC3339: %v", key, err)
	}
	return t, nil
}

// pageWindow clamps the registry-injected limit/offset against total and
// returns the slice bounds.
func pageWindow(args map[string]any, total int) (int, int) {
	limit := argInt(args, "__limit", 10)
	offset := argInt(args, "__offset", 0)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return offset, end
}

// snippet truncates s for summary-first listings.
func snippet(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
