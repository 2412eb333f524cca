package node

import (
	"context"
	"slices"
	"sync"

	"github.com/world-in-progress/canopy/caller"
	"github.com/world-in-progress/canopy/core/fault"
	"github.com/world-in-progress/canopy/core/form"
	nodeinterface "github.com/world-in-progress/canopy/node/interface"
	"github.com/world-in-progress/canopy/node/nodeschema"
	"golang.org/x/sync/errgroup"
)

type (
	// Collection is an ordered set of entities of one kind under a common
	// ancestor chain. Members are unique by id; the index keeps lookups and
	// in-place refreshes O(1) while items keeps fetch order.
	Collection struct {
		graph *Graph
		spec  *nodeschema.Spec
		name  string

		ancestors []string
		items     []*Entity
		index     map[string]*Entity
		mu        sync.RWMutex
	}
)

var _ nodeinterface.IObserver = (*Collection)(nil)

func newCollection(g *Graph, spec *nodeschema.Spec, name string, ancestors []string) *Collection {
	return &Collection{
		graph:     g,
		spec:      spec,
		name:      name,
		ancestors: slices.Clone(ancestors),
		index:     make(map[string]*Entity),
	}
}

// Name is the relation name under the parent, or the kind for a top-level collection.
func (c *Collection) Name() string {
	return c.name
}

func (c *Collection) Kind() string {
	return c.spec.Name()
}

func (c *Collection) Ancestors() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.ancestors)
}

func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Items returns the members in order.
func (c *Collection) Items() []*Entity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.items)
}

func (c *Collection) Find(id string) (*Entity, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.index[id]
	return e, ok
}

// Get fetches the listing (every page) and merges it in: known ids are
// refreshed in place, new ones are appended.
func (c *Collection) Get(ctx context.Context, query map[string]any) error {
	q, err := caller.EncodeQuery(query)
	if err != nil {
		return err
	}
	path, err := c.graph.path(c.spec, c.Ancestors(), "", false)
	if err != nil {
		return err
	}
	resp, err := c.graph.execute(ctx, caller.Get(path, q))
	if err != nil {
		return err
	}
	records, err := asRecords(resp)
	if err != nil {
		return err
	}
	for _, record := range records {
		c.classify(record)
	}
	return nil
}

// GetWithChildren fetches the listing and expands every member.
func (c *Collection) GetWithChildren(ctx context.Context, query map[string]any) error {
	if err := c.Get(ctx, query); err != nil {
		return err
	}
	return c.expandMembers(ctx)
}

// GetOne refreshes the member with id, or fetches and appends it. The same
// *Entity is returned for the same id.
func (c *Collection) GetOne(ctx context.Context, id string, query map[string]any) (*Entity, error) {
	q, err := caller.EncodeQuery(query)
	if err != nil {
		return nil, err
	}
	if e, ok := c.Find(id); ok {
		return e, e.fetch(ctx, q)
	}

	e := newEntity(c.graph, c.spec, c.Ancestors(), id)
	if err := e.fetch(ctx, q); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// a concurrent call may have added it meanwhile
	if existing, ok := c.index[id]; ok {
		existing.SetData(e.Fields())
		return existing, nil
	}
	c.appendLocked(e)
	return e, nil
}

// Create normalizes data (bracketed keys, a pre-applied post key), creates the
// item remotely and appends it.
func (c *Collection) Create(ctx context.Context, data map[string]any) (*Entity, error) {
	expanded, err := form.Expand(data)
	if err != nil {
		return nil, err
	}

	e := newEntity(c.graph, c.spec, c.Ancestors(), "")
	e.assign(c.spec.Unwrap(expanded))
	if err := e.Create(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.appendLocked(e)
	return e, nil
}

// Delete deletes the member with id and drops it from the collection. An id
// that is not a member is still deleted remotely, leaving the collection
// untouched; a remote 404 then becomes a NotFoundError.
func (c *Collection) Delete(ctx context.Context, id string, query map[string]any) error {
	q, err := caller.EncodeQuery(query)
	if err != nil {
		return err
	}

	if e, ok := c.Find(id); ok {
		removal, err := e.remove(ctx, q)
		if err != nil {
			return err
		}
		c.consume(removal)
		// anyone else watching the entity, this collection no longer is
		c.graph.notify(e, func(o nodeinterface.IObserver) { o.EntityDeleted(e) })
		return nil
	}

	e := newEntity(c.graph, c.spec, c.Ancestors(), id)
	if _, err := e.remove(ctx, q); err != nil {
		if fault.IsNotFound(err) {
			return fault.NotFound(c.Kind(), id, err)
		}
		return err
	}
	return nil
}

// Update runs Update on every member concurrently.
func (c *Collection) Update(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, e := range c.Items() {
		g.Go(func() error {
			return e.Update(gctx)
		})
	}
	return g.Wait()
}

// HasChanged is true if any member or any of its descendants changed.
func (c *Collection) HasChanged() bool {
	for _, e := range c.Items() {
		if self, children := e.GetChanged(); self || children {
			return true
		}
	}
	return false
}

// Flatten lists members and, down to depth further levels, their
// descendants in pre-order.
func (c *Collection) Flatten(depth int) []*Entity {
	var out []*Entity
	for _, e := range c.Items() {
		out = append(out, e)
		if depth <= 0 {
			continue
		}
		for _, child := range e.Children() {
			out = append(out, child.Flatten(depth-1)...)
		}
	}
	return out
}

// SetData replaces all members with entities built from records.
func (c *Collection) SetData(records []map[string]any) {
	c.mu.Lock()
	old := c.items
	c.items = nil
	c.index = make(map[string]*Entity, len(records))
	for _, record := range records {
		e := newEntity(c.graph, c.spec, c.ancestors, idString(record[c.spec.IDField()]))
		e.SetData(record)
		c.appendLocked(e)
	}
	c.mu.Unlock()

	for _, e := range old {
		c.graph.Unsubscribe(e, c)
	}
}

func (c *Collection) EntityFetched(nodeinterface.IEntity) {}

// EntityDeleted drops an entity deleted directly through Entity.Delete.
func (c *Collection) EntityDeleted(ie nodeinterface.IEntity) {
	if e, ok := ie.(*Entity); ok {
		c.consume(Removal{Entity: e})
	}
}

// consume drops the slot of a removed entity and ends the subscription.
// Consuming a removal twice is a no-op.
func (c *Collection) consume(r Removal) {
	c.mu.Lock()
	i := slices.Index(c.items, r.Entity)
	if i >= 0 {
		c.items = slices.Delete(c.items, i, i+1)
		if id := r.Entity.GetID(); c.index[id] == r.Entity {
			delete(c.index, id)
		}
	}
	c.mu.Unlock()

	if i >= 0 {
		c.graph.Unsubscribe(r.Entity, c)
	}
}

// classify merges one listing record: an existing member is refreshed in
// place, anything else becomes a new member.
func (c *Collection) classify(record map[string]any) *Entity {
	id := idString(record[c.spec.IDField()])

	c.mu.Lock()
	defer c.mu.Unlock()
	if id != "" {
		if e, ok := c.index[id]; ok {
			e.SetData(record)
			return e
		}
	}
	e := newEntity(c.graph, c.spec, c.ancestors, id)
	e.SetData(record)
	c.appendLocked(e)
	return e
}

func (c *Collection) appendLocked(e *Entity) {
	c.items = append(c.items, e)
	if id := e.GetID(); id != "" {
		c.index[id] = e
	}
	c.graph.Subscribe(e, c)
}

func (c *Collection) expandMembers(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, e := range c.Items() {
		g.Go(func() error {
			return e.expand(gctx)
		})
	}
	return g.Wait()
}

// rebase moves the collection under a new ancestor chain, used once the
// parent received its id.
func (c *Collection) rebase(ancestors []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ancestors = slices.Clone(ancestors)
}
