package caller

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// EncodeQuery turns loosely typed parameters into a query string the way the
// Canvas API expects them: lists become repeated "name[]" pairs and nested
// maps become "name[key]" pairs.
func EncodeQuery(params map[string]any) (url.Values, error) {
	queryParams := url.Values{}
	if len(params) == 0 {
		return queryParams, nil
	}

	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := addQueryParam(queryParams, name, params[name]); err != nil {
			return nil, err
		}
	}
	return queryParams, nil
}

func addQueryParam(queryParams url.Values, name string, value any) error {
	switch v := value.(type) {
	case nil:
		return nil
	case string:
		queryParams.Add(name, v)
	case int:
		queryParams.Add(name, strconv.Itoa(v))
	case int64:
		queryParams.Add(name, strconv.FormatInt(v, 10))
	case float64:
		queryParams.Add(name, strconv.FormatFloat(v, 'f', -1, 64))
	case json.Number:
		queryParams.Add(name, v.String())
	case bool:
		queryParams.Add(name, strconv.FormatBool(v))
	case []string:
		for _, item := range v {
			queryParams.Add(listName(name), item)
		}
	case []any:
		for _, item := range v {
			if err := addQueryParam(queryParams, listName(name), item); err != nil {
				return err
			}
		}
	case map[string]any:
		for key, item := range v {
			if err := addQueryParam(queryParams, fmt.Sprintf("%s[%s]", name, key), item); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("unsupported query parameter type for '%s': %T", name, value)
	}
	return nil
}

func listName(name string) string {
	if strings.HasSuffix(name, "[]") {
		return name
	}
	return name + "[]"
}
