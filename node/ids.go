package node

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// idString normalizes a remote id; numbers arrive as json.Number.
func idString(v any) string {
	switch id := v.(type) {
	case nil:
		return ""
	case string:
		return id
	case json.Number:
		return id.String()
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	case int:
		return strconv.Itoa(id)
	case int64:
		return strconv.FormatInt(id, 10)
	default:
		return fmt.Sprint(id)
	}
}

func stringOf(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprint(s)
	}
}

func asObject(body any) (map[string]any, error) {
	data, ok := body.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected an object in the response, got %T", body)
	}
	// envelopes like {"quiz_submissions": [{...}]} around a single record
	if len(data) == 1 {
		for _, inner := range data {
			if list, ok := inner.([]any); ok && len(list) == 1 {
				if record, ok := list[0].(map[string]any); ok {
					return record, nil
				}
			}
		}
	}
	return data, nil
}

// asRecords accepts a list of objects, or a single-key object wrapping one.
func asRecords(body any) ([]map[string]any, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []any:
		records := make([]map[string]any, 0, len(b))
		for i, item := range b {
			record, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("item %d of the listing is %T, not an object", i, item)
			}
			records = append(records, record)
		}
		return records, nil
	case map[string]any:
		if len(b) == 1 {
			for _, inner := range b {
				if list, ok := inner.([]any); ok {
					return asRecords(list)
				}
			}
		}
	}
	return nil, fmt.Errorf("expected a list in the response, got %T", body)
}
