package component

import (
	"encoding/json"
	"fmt"
)

type ParameterValidator struct{}

func (v *ParameterValidator) Validate(a *Action, params map[string]any) error {
	for _, param := range a.Params {
		value, exists := params[param.Name]
		if !exists || value == nil {
			if param.Required {
				return fmt.Errorf("missing required parameter '%s'", param.Name)
			}
			continue
		}
		if err := v.validateParamValue(param, value); err != nil {
			return err
		}
	}
	for paramName := range params {
		found := false
		for _, param := range a.Params {
			if param.Name == paramName {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("unknown parameter '%s' provided", paramName)
		}
	}
	return nil
}

func (v *ParameterValidator) validateParamValue(param Param, value any) error {
	switch param.Type {
	case "":
		return nil
	case "string":
		if _, ok := value.(string); !ok {
			return fmt.Errorf("parameter '%s' must be a string, got %T", param.Name, value)
		}
	case "int":
		switch n := value.(type) {
		case int, int64:
		case float64:
			if float64(int64(n)) != n {
				return fmt.Errorf("parameter '%s' must be an integer, got %v (non-integer float)", param.Name, n)
			}
		case json.Number:
			if _, err := n.Int64(); err != nil {
				return fmt.Errorf("parameter '%s' must be an integer, got %v", param.Name, n)
			}
		default:
			return fmt.Errorf("parameter '%s' must be an int, got %T", param.Name, value)
		}
	case "float64":
		switch value.(type) {
		case float64, json.Number:
		default:
			return fmt.Errorf("parameter '%s' must be a float64, got %T", param.Name, value)
		}
	case "bool":
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("parameter '%s' must be a bool, got %T", param.Name, value)
		}
	case "object":
		if _, ok := value.(map[string]any); !ok {
			return fmt.Errorf("parameter '%s' must be an object (map[string]any), got %T", param.Name, value)
		}
	case "array":
		if _, ok := value.([]any); !ok {
			return fmt.Errorf("parameter '%s' must be an array ([]any), got %T", param.Name, value)
		}
	default:
		return fmt.Errorf("unsupported parameter type '%s' for '%s'", param.Type, param.Name)
	}
	return nil
}
