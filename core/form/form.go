// Package form expands form-style bracketed keys (wiki_page[title]) into nested JSON values.
package form

import (
	"fmt"
	"strconv"
	"strings"
)

// Expand rewrites every bracketed key of data into nested maps and slices.
// Plain keys are copied as they are. An empty index segment addresses
// element 0, except a trailing one whose value already is a list.
func Expand(data map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(data))
	for key, value := range data {
		path := splitKey(key)
		if len(path) > 1 && path[len(path)-1] == "0" && isList(value) {
			path = path[:len(path)-1]
		}

		head := path[0]
		child, err := assign(out[head], path[1:], value)
		if err != nil {
			return nil, fmt.Errorf("form key %q: %w", key, err)
		}
		out[head] = child
	}
	return out, nil
}

func splitKey(key string) []string {
	parts := strings.Split(strings.ReplaceAll(key, "]", ""), "[")
	for i, part := range parts {
		if i > 0 && part == "" {
			parts[i] = "0"
		}
	}
	return parts
}

func assign(node any, path []string, value any) (any, error) {
	if len(path) == 0 {
		return value, nil
	}

	key := path[0]
	index, numeric := parseIndex(key)

	if node == nil {
		if numeric {
			node = []any{}
		} else {
			node = map[string]any{}
		}
	}

	switch n := node.(type) {
	case map[string]any:
		child, err := assign(n[key], path[1:], value)
		if err != nil {
			return nil, err
		}
		n[key] = child
		return n, nil

	case []any:
		if !numeric {
			return nil, fmt.Errorf("segment %q addresses a list by name", key)
		}
		for len(n) <= index {
			n = append(n, nil)
		}
		child, err := assign(n[index], path[1:], value)
		if err != nil {
			return nil, err
		}
		n[index] = child
		return n, nil

	default:
		return nil, fmt.Errorf("segment %q descends into a %T value", key, node)
	}
}

func parseIndex(key string) (int, bool) {
	index, err := strconv.Atoi(key)
	if err != nil || index < 0 {
		return 0, false
	}
	return index, true
}

func isList(value any) bool {
	switch value.(type) {
	case []any, []string, []int, []float64, []map[string]any:
		return true
	}
	return false
}
