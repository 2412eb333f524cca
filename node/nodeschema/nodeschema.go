package nodeschema

import (
	"fmt"
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/world-in-progress/canopy/component"
	"github.com/world-in-progress/canopy/core/fault"
	"github.com/world-in-progress/canopy/node/nodepath"
)

// DefaultIDField names the identifier in remote records unless a descriptor overrides it.
const DefaultIDField = "id"

type (
	Operation string

	// EmbedFunc extracts child records already present in the parent's fields.
	// ok is false when the parent data is not enough and the child must be fetched.
	EmbedFunc func(parent map[string]any) (records []map[string]any, ok bool)

	// URLFunc builds a site-relative URL from the ancestor ids plus the item's own id.
	URLFunc func(ids []string) string

	ChildDescriptor struct {
		Name     string
		Type     string
		Embedded EmbedFunc
	}

	// Descriptor declares one resource kind. Only Name and Path are required.
	Descriptor struct {
		Name    string
		Path    nodepath.Spec
		PostKey string
		IDField string

		Title        string
		TitleMirrors []string
		HTML         string
		URLField     string
		URLFunc      URLFunc

		Children []ChildDescriptor
		Actions  []component.Action

		// Disabled maps an operation to the reason it always fails.
		Disabled map[Operation]string

		// ExpandSelf refetches the item itself when it is expanded, for kinds
		// whose listings return partial records.
		ExpandSelf bool
	}

	// Spec is a compiled descriptor. It is shared and read-only.
	Spec struct {
		desc     Descriptor
		children []ChildDescriptor
		actions  map[string]component.Action
	}

	// Registry holds descriptors by kind and compiles each one once.
	Registry struct {
		descriptors map[string]Descriptor
		cache       map[string]*Spec
		mu          sync.RWMutex
	}
)

const (
	OpGet    Operation = "get"
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

var validOperations = map[Operation]bool{
	OpGet:    true,
	OpCreate: true,
	OpUpdate: true,
	OpDelete: true,
}

func NewRegistry() *Registry {
	return &Registry{
		descriptors: make(map[string]Descriptor),
		cache:       make(map[string]*Spec),
	}
}

// Register adds descriptors. A kind can only be registered once.
func (r *Registry) Register(descs ...Descriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, desc := range descs {
		if desc.Name == "" {
			return fault.Config("name", "descriptor name must be a non-empty string")
		}
		if _, exists := r.descriptors[desc.Name]; exists {
			return fault.Config(desc.Name, "descriptor already registered")
		}
		r.descriptors[desc.Name] = desc
	}
	return nil
}

// Has reports whether kind is registered.
func (r *Registry) Has(kind string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.descriptors[kind]
	return ok
}

// Names lists the registered kinds in lexical order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.descriptors))
	for name := range r.descriptors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Compile returns the compiled spec of kind. Repeated calls return the same *Spec.
func (r *Registry) Compile(kind string) (*Spec, error) {
	r.mu.RLock()
	if cached, ok := r.cache[kind]; ok {
		r.mu.RUnlock()
		return cached, nil
	}
	desc, ok := r.descriptors[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fault.Config(kind, "no descriptor registered for resource kind")
	}

	spec, err := compile(desc, r.Has)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// another caller may have compiled it first; keep theirs
	if cached, ok := r.cache[kind]; ok {
		return cached, nil
	}
	r.cache[kind] = spec
	return spec, nil
}

// Validate compiles every registered kind and reports all problems at once.
func (r *Registry) Validate() error {
	var result *multierror.Error
	for _, name := range r.Names() {
		if _, err := r.Compile(name); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func compile(desc Descriptor, known func(string) bool) (*Spec, error) {
	if desc.Path.IsZero() {
		return nil, fault.Config(desc.Name+".path", "path needs to be defined")
	}
	if desc.IDField == "" {
		desc.IDField = DefaultIDField
	}
	if desc.URLField != "" && desc.URLFunc != nil {
		return nil, fault.Config(desc.Name+".url", "url is either a field name or a function, not both")
	}
	if len(desc.TitleMirrors) > 0 && desc.Title == "" {
		return nil, fault.Config(desc.Name+".title", "title mirrors need a title field")
	}

	for op := range desc.Disabled {
		if !validOperations[op] {
			return nil, fault.Config(desc.Name+".disabled", "unknown operation %q", op)
		}
	}

	children := make([]ChildDescriptor, 0, len(desc.Children))
	seen := make(map[string]bool, len(desc.Children))
	for i, child := range desc.Children {
		if child.Name == "" || child.Type == "" {
			return nil, fault.Config(fmt.Sprintf("%s.children[%d]", desc.Name, i), "child needs both name and type")
		}
		if seen[child.Name] {
			return nil, fault.Config(desc.Name+".children", "duplicate child name %q", child.Name)
		}
		if !known(child.Type) {
			return nil, fault.Config(desc.Name+".children."+child.Name, "unknown resource kind %q", child.Type)
		}
		seen[child.Name] = true
		children = append(children, child)
	}

	actions := make(map[string]component.Action, len(desc.Actions))
	for _, action := range desc.Actions {
		if err := action.Validate(); err != nil {
			return nil, fault.Config(desc.Name+".actions", "%v", err)
		}
		if _, exists := actions[action.Name]; exists {
			return nil, fault.Config(desc.Name+".actions", "duplicate action %q", action.Name)
		}
		actions[action.Name] = action
	}

	return &Spec{desc: desc, children: children, actions: actions}, nil
}

func (s *Spec) Name() string { return s.desc.Name }
func (s *Spec) Path() nodepath.Spec { return s.desc.Path }
func (s *Spec) PostKey() string { return s.desc.PostKey }
func (s *Spec) IDField() string { return s.desc.IDField }
func (s *Spec) ExpandSelf() bool { return s.desc.ExpandSelf }
func (s *Spec) HTMLField() (string, bool) { return s.desc.HTML, s.desc.HTML != "" }

// TitleFields returns every field a title write goes to, the title field first.
func (s *Spec) TitleFields() ([]string, bool) {
	if s.desc.Title == "" {
		return nil, false
	}
	return append([]string{s.desc.Title}, s.desc.TitleMirrors...), true
}

// URL returns either the URL field name or the URL function.
func (s *Spec) URL() (field string, fn URLFunc, ok bool) {
	return s.desc.URLField, s.desc.URLFunc, s.desc.URLField != "" || s.desc.URLFunc != nil
}

// Children returns the child relations in declaration order.
func (s *Spec) Children() []ChildDescriptor {
	return s.children
}

func (s *Spec) Action(name string) (component.Action, bool) {
	a, ok := s.actions[name]
	return a, ok
}

// Check fails with an UnsupportedOperationError if the kind disables op.
func (s *Spec) Check(op Operation) error {
	if reason, disabled := s.desc.Disabled[op]; disabled {
		return fault.Unsupported(s.desc.Name, string(op), reason)
	}
	return nil
}

// Wrap nests body under the post key, if the kind has one.
func (s *Spec) Wrap(body map[string]any) map[string]any {
	if s.desc.PostKey == "" {
		return body
	}
	return map[string]any{s.desc.PostKey: body}
}

// Unwrap undoes a wrapping the caller already applied. Other top-level keys
// are kept beside the unwrapped fields.
func (s *Spec) Unwrap(data map[string]any) map[string]any {
	if s.desc.PostKey == "" {
		return data
	}
	inner, ok := data[s.desc.PostKey].(map[string]any)
	if !ok {
		return data
	}
	out := make(map[string]any, len(inner)+len(data)-1)
	for k, v := range data {
		if k != s.desc.PostKey {
			out[k] = v
		}
	}
	for k, v := range inner {
		out[k] = v
	}
	return out
}
