package dispatch

import (
	"fmt"

	"github.com/hoardlabs/hoard/internal/store"
)

// Argument decoding for JSON-shaped tool inputs. Everything arrives as
// map[string]any off the wire; these helpers normalize the usual
// float64-for-number and []any-for-array JSON artifacts.

func strArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func requireStr(args map[string]any, key string) (string, error) {
	s, ok := args[key].(string)
	if !ok || s == "" {
		return "", fmt.Errorf("%w: %s is required", store.ErrIntegrityViolation, key)
	}
	return s, nil
}

func strPtrArg(args map[string]any, key string) *string {
	if s, ok := args[key].(string); ok && s != "" {
		return &s
	}
	return nil
}

func intArg(args map[string]any, key string, fallback int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return fallback
}

func intPtrArg(args map[string]any, key string) *int {
	switch v := args[key].(type) {
	case float64:
		n := int(v)
		return &n
	case int:
		return &v
	}
	return nil
}

func boolArg(args map[string]any, key string, fallback bool) bool {
	if b, ok := args[key].(bool); ok {
		return b
	}
	return fallback
}

func strSliceArg(args map[string]any, key string) []string {
	raw, ok := args[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
