package tools

import (
	"fmt"
	"strconv"
	"strings"
)

// Loosely typed parameter maps exist only at the boundary where model output
// was parsed; these helpers convert them into the typed values each tool
// actually works with.

func stringArg(params map[string]any, key string) (string, bool) {
	v, present := params[key]
	if !present {
		return "", false
	}
	s, isString := v.(string)
	if !isString {
		return "", false
	}
	return s, true
}

func requiredString(params map[string]any, key string) (string, error) {
	s, present := stringArg(params, key)
	if !present || strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("parameter %q must be a non-empty string", key)
	}
	return s, nil
}

func boolArg(params map[string]any, key string, fallback bool) bool {
	v, present := params[key]
	if !present {
		return fallback
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		if err != nil {
			return fallback
		}
		return parsed
	default:
		return fallback
	}
}

func intArg(params map[string]any, key string, fallback int) int {
	v, present := params[key]
	if !present {
		return fallback
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return fallback
		}
		return parsed
	default:
		return fallback
	}
}

func stringSliceArg(params map[string]any, key string) []string {
	v, present := params[key]
	if !present {
		return nil
	}
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, isString := item.(string); isString {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
