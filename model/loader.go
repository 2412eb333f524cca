package model

import (
	"fmt"
	"os"
	"reflect"
	"regexp"
	"strconv"

	"github.com/hashicorp/go-multierror"
	"github.com/mitchellh/mapstructure"
	"github.com/world-in-progress/canopy/component"
	"github.com/world-in-progress/canopy/core/fault"
	"github.com/world-in-progress/canopy/node/nodepath"
	"github.com/world-in-progress/canopy/node/nodeschema"
	"gopkg.in/yaml.v3"
)

type (
	descriptorFile struct {
		Descriptors []descriptorDecl `mapstructure:"descriptors"`
	}

	// pathDecl is either a bare string or a mapping with root flags.
	// "{n}" in the segment is replaced with ancestors[n].
	pathDecl struct {
		Segment        string `mapstructure:"segment"`
		RootIndividual *bool  `mapstructure:"root_individual"`
		RootCollection *bool  `mapstructure:"root_collection"`
	}

	childDecl struct {
		Name string `mapstructure:"name"`
		Type string `mapstructure:"type"`
		// Embedded names a list field of the parent that already holds the children.
		Embedded string `mapstructure:"embedded"`
	}

	paramDecl struct {
		Name       string `mapstructure:"name"`
		Type       string `mapstructure:"type"`
		Required   bool   `mapstructure:"required"`
		Default    any    `mapstructure:"default"`
		FromEntity bool   `mapstructure:"from_entity"`
	}

	actionDecl struct {
		Name   string      `mapstructure:"name"`
		Method string      `mapstructure:"method"`
		Suffix string      `mapstructure:"suffix"`
		Params []paramDecl `mapstructure:"params"`
	}

	descriptorDecl struct {
		Name         string            `mapstructure:"name"`
		Path         *pathDecl         `mapstructure:"path"`
		PostKey      string            `mapstructure:"post_key"`
		IDField      string            `mapstructure:"id_field"`
		Title        string            `mapstructure:"title"`
		TitleMirrors []string          `mapstructure:"title_mirrors"`
		HTML         string            `mapstructure:"html"`
		URL          string            `mapstructure:"url"`
		URLTemplate  string            `mapstructure:"url_template"`
		Children     []childDecl       `mapstructure:"children"`
		Disabled     map[string]string `mapstructure:"disabled"`
		ExpandSelf   bool              `mapstructure:"expand_self"`
		Actions      []actionDecl      `mapstructure:"actions"`
	}
)

var placeholder = regexp.MustCompile(`\{(\d+)\}`)

// LoadDescriptors reads descriptors from a YAML file.
func LoadDescriptors(path string) ([]nodeschema.Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read descriptor file: %v", err)
	}
	return ParseDescriptors(data)
}

// ParseDescriptors decodes a YAML document of the form
//
//	descriptors:
//	  - name: announcement
//	    path: discussion_topics
//	    title: title
func ParseDescriptors(data []byte) ([]nodeschema.Descriptor, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fault.Config("descriptors", "failed to unmarshal YAML: %v", err)
	}

	var file descriptorFile
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:  mapstructure.DecodeHookFuncType(stringToPathHook),
		ErrorUnused: true,
		Result:      &file,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fault.Config("descriptors", "%v", err)
	}

	var result *multierror.Error
	descs := make([]nodeschema.Descriptor, 0, len(file.Descriptors))
	for i, decl := range file.Descriptors {
		desc, err := decl.build()
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("descriptor %d (%s): %w", i, decl.Name, err))
			continue
		}
		descs = append(descs, desc)
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}
	return descs, nil
}

func stringToPathHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if to.Kind() == reflect.Ptr {
		to = to.Elem()
	}
	if from.Kind() != reflect.String || to != reflect.TypeOf(pathDecl{}) {
		return data, nil
	}
	return map[string]any{"segment": data}, nil
}

func (d descriptorDecl) build() (nodeschema.Descriptor, error) {
	if d.Name == "" {
		return nodeschema.Descriptor{}, fault.Config("name", "descriptor name is required")
	}
	if d.Path == nil || d.Path.Segment == "" {
		return nodeschema.Descriptor{}, fault.Config(d.Name+".path", "path needs to be defined")
	}
	if d.URL != "" && d.URLTemplate != "" {
		return nodeschema.Descriptor{}, fault.Config(d.Name+".url", "url and url_template are exclusive")
	}

	desc := nodeschema.Descriptor{
		Name:         d.Name,
		Path:         d.Path.spec(),
		PostKey:      d.PostKey,
		IDField:      d.IDField,
		Title:        d.Title,
		TitleMirrors: d.TitleMirrors,
		HTML:         d.HTML,
		URLField:     d.URL,
		ExpandSelf:   d.ExpandSelf,
	}
	if d.URLTemplate != "" {
		tmpl := d.URLTemplate
		desc.URLFunc = func(ids []string) string {
			url, _ := expand(tmpl, ids)
			return url
		}
	}

	for _, c := range d.Children {
		child := nodeschema.ChildDescriptor{Name: c.Name, Type: c.Type}
		if c.Embedded != "" {
			child.Embedded = embeddedField(c.Embedded)
		}
		desc.Children = append(desc.Children, child)
	}

	if len(d.Disabled) > 0 {
		desc.Disabled = make(map[nodeschema.Operation]string, len(d.Disabled))
		for op, reason := range d.Disabled {
			desc.Disabled[nodeschema.Operation(op)] = reason
		}
	}

	for _, a := range d.Actions {
		action := component.Action{Name: a.Name, Method: component.HTTPMethod(a.Method), Suffix: a.Suffix}
		for _, p := range a.Params {
			action.Params = append(action.Params, component.Param{
				Name:       p.Name,
				Type:       p.Type,
				Required:   p.Required,
				Default:    p.Default,
				FromEntity: p.FromEntity,
			})
		}
		desc.Actions = append(desc.Actions, action)
	}
	return desc, nil
}

func (p *pathDecl) spec() nodepath.Spec {
	rootIndividual := p.RootIndividual == nil || *p.RootIndividual
	rootCollection := p.RootCollection == nil || *p.RootCollection
	if !placeholder.MatchString(p.Segment) {
		return nodepath.Flags(p.Segment, rootIndividual, rootCollection)
	}

	segment := p.Segment
	return nodepath.Dynamic(func(ancestors []string, _ bool) nodepath.Spec {
		resolved, ok := expand(segment, ancestors)
		if !ok {
			return nodepath.Spec{}
		}
		return nodepath.Flags(resolved, rootIndividual, rootCollection)
	})
}

// expand fills "{n}" placeholders from ids. ok is false if an index is out of range.
func expand(tmpl string, ids []string) (string, bool) {
	ok := true
	out := placeholder.ReplaceAllStringFunc(tmpl, func(m string) string {
		i, err := strconv.Atoi(m[1 : len(m)-1])
		if err != nil || i >= len(ids) || ids[i] == "" {
			ok = false
			return ""
		}
		return ids[i]
	})
	return out, ok
}

func embeddedField(field string) nodeschema.EmbedFunc {
	return func(parent map[string]any) ([]map[string]any, bool) {
		raw, ok := parent[field].([]any)
		if !ok {
			return nil, false
		}
		records := make([]map[string]any, 0, len(raw))
		for _, item := range raw {
			if record, ok := item.(map[string]any); ok {
				records = append(records, record)
			}
		}
		return records, true
	}
}
