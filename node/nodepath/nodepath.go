// Package nodepath turns a resource kind's path declaration and an ancestor id
// chain into a concrete API path.
package nodepath

import (
	"fmt"
	"strings"
)

const (
	DefaultPrefix = "/api/v1"
	DefaultRoot   = "courses"
)

type (
	// Func computes a path from the ancestor ids (root first, own id excluded).
	// It may return another static Spec with its own root flags; it is
	// resolved once and must not return a further Func.
	Func func(ancestors []string, individual bool) Spec

	// Spec is a path declaration. Zero flags mean the root ancestor segment
	// ("courses/<id>") is included in both modes.
	Spec struct {
		Segment string
		Func    Func

		OmitRootIndividual bool
		OmitRootCollection bool
	}

	// Resolver builds paths below Prefix. RootSegment names the collection the
	// first ancestor id belongs to.
	Resolver struct {
		Prefix      string
		RootSegment string
	}
)

// Static is a plain segment under the root ancestor.
func Static(segment string) Spec {
	return Spec{Segment: segment}
}

// Rooted sets the root flag for both modes at once.
func Rooted(segment string, includeRoot bool) Spec {
	return Flags(segment, includeRoot, includeRoot)
}

// Detached is a segment addressed from the API prefix, never under the root.
func Detached(segment string) Spec {
	return Rooted(segment, false)
}

// Flags sets the root flag per mode.
func Flags(segment string, rootIndividual, rootCollection bool) Spec {
	return Spec{
		Segment:            segment,
		OmitRootIndividual: !rootIndividual,
		OmitRootCollection: !rootCollection,
	}
}

// Dynamic defers the path to f.
func Dynamic(f Func) Spec {
	return Spec{Func: f}
}

// IsZero reports a missing declaration.
func (s Spec) IsZero() bool {
	return s.Segment == "" && s.Func == nil
}

func (s Spec) includesRoot(individual bool) bool {
	if individual {
		return !s.OmitRootIndividual
	}
	return !s.OmitRootCollection
}

func NewResolver() *Resolver {
	return &Resolver{Prefix: DefaultPrefix, RootSegment: DefaultRoot}
}

// Resolve returns the collection path, or with individual the path of the
// item whose id is id.
func (r *Resolver) Resolve(spec Spec, ancestors []string, id string, individual bool) (string, error) {
	if spec.IsZero() {
		return "", fmt.Errorf("path is not declared")
	}

	segment := spec.Segment
	includeRoot := spec.includesRoot(individual)
	if spec.Func != nil {
		inner := spec.Func(ancestors, individual)
		if inner.Func != nil {
			return "", fmt.Errorf("path function returned another path function")
		}
		if inner.Segment == "" {
			return "", fmt.Errorf("path function returned an empty path")
		}
		segment = inner.Segment
		includeRoot = includeRoot && inner.includesRoot(individual)
	}

	parts := []string{strings.TrimRight(r.Prefix, "/")}
	if includeRoot {
		if len(ancestors) == 0 || ancestors[0] == "" {
			return "", fmt.Errorf("path %q needs a root ancestor id", segment)
		}
		parts = append(parts, r.RootSegment, ancestors[0])
	}
	parts = append(parts, strings.Trim(segment, "/"))
	if individual {
		if id == "" {
			return "", fmt.Errorf("path %q needs an item id", segment)
		}
		parts = append(parts, id)
	}
	return strings.Join(parts, "/"), nil
}
