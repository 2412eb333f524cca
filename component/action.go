package component

import (
	"fmt"
	"strings"
)

type (
	HTTPMethod string

	// Param describes one body parameter of an action.
	Param struct {
		Name     string
		Type     string
		Required bool
		Default  any
		// FromEntity seeds the value from the entity field of the same name.
		FromEntity bool
	}

	// Action is a named call on a single resource, sent to
	// "<item path>/<Suffix>". The returned object replaces the entity's fields.
	Action struct {
		Name   string
		Method HTTPMethod
		Suffix string
		Params []Param
	}
)

const (
	GET    HTTPMethod = "GET"
	POST   HTTPMethod = "POST"
	PUT    HTTPMethod = "PUT"
	DELETE HTTPMethod = "DELETE"
)

var (
	ValidHTTPMethods = map[HTTPMethod]bool{
		GET:    true,
		POST:   true,
		PUT:    true,
		DELETE: true,
	}

	ValidParamTypes = map[string]bool{
		"string":  true,
		"int":     true,
		"float64": true,
		"bool":    true,
		"object":  true,
		"array":   true,
	}
)

// Validate checks the declaration itself and fills in defaults.
func (a *Action) Validate() error {
	if a.Name == "" {
		return fmt.Errorf("action name is required")
	}
	if a.Method == "" {
		a.Method = POST
	}
	a.Method = HTTPMethod(strings.ToUpper(string(a.Method)))
	if !ValidHTTPMethods[a.Method] {
		return fmt.Errorf("action '%s': invalid HTTP method '%s'", a.Name, a.Method)
	}

	seen := make(map[string]bool, len(a.Params))
	for i := range a.Params {
		p := &a.Params[i]
		if p.Name == "" {
			return fmt.Errorf("action '%s': parameter %d has no name", a.Name, i)
		}
		if seen[p.Name] {
			return fmt.Errorf("action '%s': duplicate parameter '%s'", a.Name, p.Name)
		}
		seen[p.Name] = true

		// untyped parameters accept any value
		if p.Type != "" && !ValidParamTypes[p.Type] {
			return fmt.Errorf("action '%s': invalid type '%s' for parameter '%s'", a.Name, p.Type, p.Name)
		}
	}
	return nil
}

// Path appends the action suffix to the item path.
func (a *Action) Path(itemPath string) string {
	if a.Suffix == "" {
		return itemPath
	}
	return strings.TrimRight(itemPath, "/") + "/" + strings.TrimLeft(a.Suffix, "/")
}

// BuildBody assembles the request body: declared defaults first, then the
// entity's own fields for FromEntity parameters, then caller params.
func (a *Action) BuildBody(fields map[string]any, params map[string]any) (map[string]any, error) {
	body := make(map[string]any, len(a.Params))
	for _, p := range a.Params {
		if p.Default != nil {
			body[p.Name] = p.Default
		}
		if p.FromEntity {
			if value, ok := fields[p.Name]; ok && value != nil {
				body[p.Name] = value
			}
		}
	}
	for name, value := range params {
		body[name] = value
	}

	validator := &ParameterValidator{}
	if err := validator.Validate(a, body); err != nil {
		return nil, fmt.Errorf("action '%s': %w", a.Name, err)
	}
	return body, nil
}
