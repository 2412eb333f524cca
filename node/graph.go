package node

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"sync"

	"github.com/world-in-progress/canopy/caller"
	nodeinterface "github.com/world-in-progress/canopy/node/interface"
	"github.com/world-in-progress/canopy/node/nodepath"
	"github.com/world-in-progress/canopy/node/nodeschema"
)

type (
	// EntityFactory builds an unsynced entity of one kind.
	EntityFactory func(ancestors []string, id string) *Entity

	// CollectionFactory builds an empty collection of one kind.
	CollectionFactory func(name string, ancestors []string) *Collection

	// Graph wires descriptors to the dispatcher. Every Entity and Collection
	// carries the Graph that built it instead of reaching for globals.
	Graph struct {
		dispatcher nodeinterface.IDispatcher
		registry   *nodeschema.Registry
		resolver   *nodepath.Resolver
		siteRoot   *url.URL

		entityFactories     map[string]EntityFactory
		collectionFactories map[string]CollectionFactory
		mu                  sync.Mutex

		// lifecycle subscriptions keyed by entity; entities never see their observers
		observers  map[*Entity][]nodeinterface.IObserver
		observerMu sync.RWMutex
	}

	GraphOption func(g *Graph)
)

// WithSiteRoot sets the root that descriptor URL functions are resolved against.
func WithSiteRoot(root string) GraphOption {
	return func(g *Graph) {
		if u, err := url.Parse(root); err == nil {
			g.siteRoot = u
		}
	}
}

func NewGraph(dispatcher nodeinterface.IDispatcher, registry *nodeschema.Registry, opts ...GraphOption) *Graph {
	g := &Graph{
		dispatcher:          dispatcher,
		registry:            registry,
		resolver:            nodepath.NewResolver(),
		siteRoot:            &url.URL{Scheme: "https", Host: "byui.instructure.com"},
		entityFactories:     make(map[string]EntityFactory),
		collectionFactories: make(map[string]CollectionFactory),
		observers:           make(map[*Entity][]nodeinterface.IObserver),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Graph) Registry() *nodeschema.Registry {
	return g.registry
}

// Factories compiles kind once and returns its two constructors.
func (g *Graph) Factories(kind string) (EntityFactory, CollectionFactory, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if ef, ok := g.entityFactories[kind]; ok {
		return ef, g.collectionFactories[kind], nil
	}

	spec, err := g.registry.Compile(kind)
	if err != nil {
		return nil, nil, err
	}
	// descendant kinds are checked up front so building an entity cannot fail later
	if err := g.compileDescendants(spec, map[string]bool{kind: true}); err != nil {
		return nil, nil, err
	}

	ef := func(ancestors []string, id string) *Entity {
		return newEntity(g, spec, ancestors, id)
	}
	cf := func(name string, ancestors []string) *Collection {
		return newCollection(g, spec, name, ancestors)
	}
	g.entityFactories[kind] = ef
	g.collectionFactories[kind] = cf
	return ef, cf, nil
}

func (g *Graph) compileDescendants(spec *nodeschema.Spec, visited map[string]bool) error {
	for _, child := range spec.Children() {
		if visited[child.Type] {
			continue
		}
		visited[child.Type] = true
		childSpec, err := g.registry.Compile(child.Type)
		if err != nil {
			return fmt.Errorf("child %q of %s: %w", child.Name, spec.Name(), err)
		}
		if err := g.compileDescendants(childSpec, visited); err != nil {
			return err
		}
	}
	return nil
}

// NewEntity builds an unsynced entity of kind.
func (g *Graph) NewEntity(kind string, ancestors []string, id string) (*Entity, error) {
	ef, _, err := g.Factories(kind)
	if err != nil {
		return nil, err
	}
	return ef(ancestors, id), nil
}

// NewCollection builds an empty collection of kind.
func (g *Graph) NewCollection(kind string, ancestors ...string) (*Collection, error) {
	_, cf, err := g.Factories(kind)
	if err != nil {
		return nil, err
	}
	return cf(kind, ancestors), nil
}

func (g *Graph) mustCollection(kind, name string, ancestors []string) *Collection {
	_, cf, err := g.Factories(kind)
	if err != nil {
		// Factories of the parent already compiled every child kind
		panic(fmt.Sprintf("child kind %q is not compilable: %v", kind, err))
	}
	return cf(name, ancestors)
}

func (g *Graph) execute(ctx context.Context, req caller.Request) (any, error) {
	return g.dispatcher.Execute(ctx, req)
}

func (g *Graph) path(spec *nodeschema.Spec, ancestors []string, id string, individual bool) (string, error) {
	return g.resolver.Resolve(spec.Path(), ancestors, id, individual)
}

func (g *Graph) siteURL(relative string) string {
	ref, err := url.Parse(relative)
	if err != nil {
		return relative
	}
	return g.siteRoot.ResolveReference(ref).String()
}

// Subscribe registers o for the fetch and delete events of e. Subscribing
// twice has no further effect.
func (g *Graph) Subscribe(e *Entity, o nodeinterface.IObserver) {
	g.observerMu.Lock()
	defer g.observerMu.Unlock()
	if !slices.Contains(g.observers[e], o) {
		g.observers[e] = append(g.observers[e], o)
	}
}

func (g *Graph) Unsubscribe(e *Entity, o nodeinterface.IObserver) {
	g.observerMu.Lock()
	defer g.observerMu.Unlock()
	rest := slices.DeleteFunc(g.observers[e], func(x nodeinterface.IObserver) bool { return x == o })
	if len(rest) == 0 {
		delete(g.observers, e)
		return
	}
	g.observers[e] = rest
}

// Observers lists the current subscribers of e.
func (g *Graph) Observers(e *Entity) []nodeinterface.IObserver {
	g.observerMu.RLock()
	defer g.observerMu.RUnlock()
	return slices.Clone(g.observers[e])
}

// notify runs fn for every subscriber of e. No lock is held while fn runs.
func (g *Graph) notify(e *Entity, fn func(o nodeinterface.IObserver)) {
	for _, o := range g.Observers(e) {
		fn(o)
	}
}
