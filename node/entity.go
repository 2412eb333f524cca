package node

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"sync"

	"github.com/world-in-progress/canopy/caller"
	"github.com/world-in-progress/canopy/core/fault"
	"github.com/world-in-progress/canopy/core/logger"
	nodeinterface "github.com/world-in-progress/canopy/node/interface"
	"github.com/world-in-progress/canopy/node/nodeschema"
	"golang.org/x/sync/errgroup"
)

type State int

const (
	Unsynced State = iota
	Synced
	Deleted
)

// ErrAlreadyCreated is returned by Create on an entity that has been synced.
var ErrAlreadyCreated = errors.New("entity already exists remotely")

type (
	// Entity mirrors one remote resource. Fields are replaced wholesale on every
	// successful fetch, create, update or delete; the snapshot taken at that
	// moment is what dirty checks compare against.
	Entity struct {
		graph *Graph
		spec  *nodeschema.Spec

		ancestors []string
		id        string
		fields    map[string]any
		snapshot  []byte
		state     State
		mu        sync.RWMutex

		// fixed at construction, in declaration order
		children   []*Collection
		childIndex map[string]*Collection
	}

	// Removal is the outcome of a remote delete, handed to whoever owns the
	// entity so it can drop its slot.
	Removal struct {
		Entity *Entity
		// Remote is the representation the API returned, nil if there was none.
		Remote map[string]any
	}
)

var _ nodeinterface.IEntity = (*Entity)(nil)

func (s State) String() string {
	switch s {
	case Unsynced:
		return "unsynced"
	case Synced:
		return "synced"
	case Deleted:
		return "deleted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

func newEntity(g *Graph, spec *nodeschema.Spec, ancestors []string, id string) *Entity {
	e := &Entity{
		graph:      g,
		spec:       spec,
		ancestors:  slices.Clone(ancestors),
		id:         id,
		fields:     make(map[string]any),
		childIndex: make(map[string]*Collection),
	}

	chain := e.chain()
	for _, child := range spec.Children() {
		c := g.mustCollection(child.Type, child.Name, chain)
		e.children = append(e.children, c)
		e.childIndex[child.Name] = c
	}
	return e
}

func (e *Entity) GetID() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.id
}

func (e *Entity) Kind() string {
	return e.spec.Name()
}

func (e *Entity) Ancestors() []string {
	return slices.Clone(e.ancestors)
}

func (e *Entity) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Fields returns a shallow copy of the raw remote fields.
func (e *Entity) Fields() map[string]any {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]any, len(e.fields))
	for k, v := range e.fields {
		out[k] = v
	}
	return out
}

func (e *Entity) Field(name string) (any, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.fields[name]
	return v, ok
}

// Set changes one field locally. Nothing is sent until Update.
func (e *Entity) Set(name string, value any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fields[name] = value
}

// Child returns the child collection registered under name.
func (e *Entity) Child(name string) (*Collection, bool) {
	c, ok := e.childIndex[name]
	return c, ok
}

func (e *Entity) Children() []*Collection {
	return slices.Clone(e.children)
}

// SetData replaces every field and marks the entity synced.
func (e *Entity) SetData(data map[string]any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.setDataLocked(data)
}

func (e *Entity) setDataLocked(data map[string]any) {
	if data == nil {
		data = make(map[string]any)
	}
	e.fields = data
	e.snapshot = serialize(data)
	if e.state != Deleted {
		e.state = Synced
	}
}

// assign sets fields of an entity pending creation. No snapshot is taken.
func (e *Entity) assign(data map[string]any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for k, v := range data {
		e.fields[k] = v
	}
}

func (e *Entity) resetSnapshot() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Unsynced {
		e.snapshot = serialize(e.fields)
	}
}

// GetChanged reports whether this entity's fields differ from the last sync,
// and whether any member of any child collection does.
func (e *Entity) GetChanged() (selfChanged, childrenChanged bool) {
	e.mu.RLock()
	selfChanged = e.state != Unsynced && !bytes.Equal(serialize(e.fields), e.snapshot)
	e.mu.RUnlock()

	for _, c := range e.children {
		if c.HasChanged() {
			childrenChanged = true
			break
		}
	}
	return selfChanged, childrenChanged
}

// Get fetches the item and replaces its fields.
func (e *Entity) Get(ctx context.Context) error {
	return e.fetch(ctx, nil)
}

// GetWithChildren fetches the item and then every child collection, recursively.
func (e *Entity) GetWithChildren(ctx context.Context) error {
	if err := e.Get(ctx); err != nil {
		return err
	}
	return e.expandChildren(ctx)
}

// Create posts the pending fields to the collection path and adopts the
// returned id, which child collections inherit in their ancestor chain.
func (e *Entity) Create(ctx context.Context) error {
	if err := e.spec.Check(nodeschema.OpCreate); err != nil {
		return err
	}

	e.mu.RLock()
	state := e.state
	body := make(map[string]any, len(e.fields))
	for k, v := range e.fields {
		body[k] = v
	}
	e.mu.RUnlock()
	if state != Unsynced {
		return fmt.Errorf("create %s %s: %w", e.Kind(), e.GetID(), ErrAlreadyCreated)
	}

	path, err := e.graph.path(e.spec, e.ancestors, "", false)
	if err != nil {
		return fmt.Errorf("create %s: %w", e.Kind(), err)
	}
	resp, err := e.graph.execute(ctx, caller.Post(path, e.spec.Wrap(body)))
	if err != nil {
		return err
	}
	data, err := asObject(resp)
	if err != nil {
		return fmt.Errorf("create %s: %w", e.Kind(), err)
	}
	id := idString(data[e.spec.IDField()])
	if id == "" {
		return fmt.Errorf("create %s: response has no %q field", e.Kind(), e.spec.IDField())
	}

	e.mu.Lock()
	e.id = id
	e.setDataLocked(data)
	e.mu.Unlock()

	chain := e.chain()
	for _, c := range e.children {
		c.rebase(chain)
	}
	logger.Debug("created %s %s", e.Kind(), id)
	return nil
}

// Update writes local changes. Only a changed entity is PUT, and child
// collections are only visited when one of their members changed, so an
// unchanged tree costs no requests.
func (e *Entity) Update(ctx context.Context) error {
	if err := e.writable(nodeschema.OpUpdate); err != nil {
		return err
	}

	selfChanged, childrenChanged := e.GetChanged()
	if selfChanged {
		if err := e.put(ctx, e.spec.Wrap(e.Fields())); err != nil {
			return err
		}
	}
	if !childrenChanged {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range e.children {
		g.Go(func() error {
			return c.Update(gctx)
		})
	}
	return g.Wait()
}

// UpdateWith PUTs body as given, changed or not. A body the caller already
// wrapped in the post key is not wrapped twice.
func (e *Entity) UpdateWith(ctx context.Context, body map[string]any) error {
	if err := e.writable(nodeschema.OpUpdate); err != nil {
		return err
	}
	return e.put(ctx, e.spec.Wrap(e.spec.Unwrap(body)))
}

// Delete removes the item remotely and keeps whatever representation the
// remote returned. Subscribers registered with the Graph, such as the owning
// collection, are told afterwards.
func (e *Entity) Delete(ctx context.Context) error {
	if _, err := e.remove(ctx, nil); err != nil {
		return err
	}
	e.graph.notify(e, func(o nodeinterface.IObserver) { o.EntityDeleted(e) })
	return nil
}

// Invoke runs a custom action declared by the kind.
func (e *Entity) Invoke(ctx context.Context, name string, params map[string]any) error {
	action, ok := e.spec.Action(name)
	if !ok {
		return fault.Unsupported(e.Kind(), name, "no such action")
	}
	if e.State() == Deleted {
		return fault.NotFound(e.Kind(), e.GetID(), nil)
	}

	path, err := e.itemPath()
	if err != nil {
		return err
	}
	body, err := action.BuildBody(e.Fields(), params)
	if err != nil {
		return err
	}

	req := caller.Request{Method: string(action.Method), Path: action.Path(path)}
	if req.Method == http.MethodGet || req.Method == http.MethodDelete {
		if req.Query, err = caller.EncodeQuery(body); err != nil {
			return err
		}
	} else {
		req.Body = body
	}

	resp, err := e.graph.execute(ctx, req)
	if err != nil {
		return err
	}
	if data, ok := resp.(map[string]any); ok {
		e.SetData(data)
	}
	return nil
}

func (e *Entity) Title() (string, error) {
	fields, ok := e.spec.TitleFields()
	if !ok {
		return "", fault.Unsupported(e.Kind(), "title", "no title field declared")
	}
	v, _ := e.Field(fields[0])
	return stringOf(v), nil
}

// SetTitle writes the title field and its mirrors.
func (e *Entity) SetTitle(title string) error {
	fields, ok := e.spec.TitleFields()
	if !ok {
		return fault.Unsupported(e.Kind(), "title", "no title field declared")
	}
	for _, f := range fields {
		e.Set(f, title)
	}
	return nil
}

func (e *Entity) HTML() (string, error) {
	field, ok := e.spec.HTMLField()
	if !ok {
		return "", fault.Unsupported(e.Kind(), "html", "no html field declared")
	}
	v, _ := e.Field(field)
	return stringOf(v), nil
}

func (e *Entity) SetHTML(html string) error {
	field, ok := e.spec.HTMLField()
	if !ok {
		return fault.Unsupported(e.Kind(), "html", "no html field declared")
	}
	e.Set(field, html)
	return nil
}

// URL is the browser address of the item.
func (e *Entity) URL() (string, error) {
	field, fn, ok := e.spec.URL()
	if !ok {
		return "", fault.Unsupported(e.Kind(), "url", "no url declared")
	}
	if fn != nil {
		return e.graph.siteURL(fn(e.chain())), nil
	}
	v, _ := e.Field(field)
	return stringOf(v), nil
}

// Path is the API path of the item.
func (e *Entity) Path() (string, error) {
	return e.itemPath()
}

func (e *Entity) fetch(ctx context.Context, query url.Values) error {
	if err := e.spec.Check(nodeschema.OpGet); err != nil {
		return err
	}
	path, err := e.itemPath()
	if err != nil {
		return err
	}
	resp, err := e.graph.execute(ctx, caller.Get(path, query))
	if err != nil {
		return err
	}
	data, err := asObject(resp)
	if err != nil {
		return fmt.Errorf("get %s %s: %w", e.Kind(), e.GetID(), err)
	}
	e.SetData(data)
	e.graph.notify(e, func(o nodeinterface.IObserver) { o.EntityFetched(e) })
	return nil
}

// expand is what a collection does to each member when fetching with
// children: kinds with partial listings refetch themselves first.
func (e *Entity) expand(ctx context.Context) error {
	if e.spec.ExpandSelf() {
		if err := e.Get(ctx); err != nil {
			return err
		}
	}
	return e.expandChildren(ctx)
}

func (e *Entity) expandChildren(ctx context.Context) error {
	if len(e.children) == 0 {
		return nil
	}

	fields := e.Fields()
	g, gctx := errgroup.WithContext(ctx)
	for i, child := range e.spec.Children() {
		c := e.children[i]
		if child.Embedded != nil {
			if records, ok := child.Embedded(fields); ok {
				c.SetData(records)
				g.Go(func() error {
					return c.expandMembers(gctx)
				})
				continue
			}
		}
		g.Go(func() error {
			return c.GetWithChildren(gctx, nil)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// fetching children must not mark the parent dirty
	e.resetSnapshot()
	return nil
}

func (e *Entity) put(ctx context.Context, body map[string]any) error {
	path, err := e.itemPath()
	if err != nil {
		return err
	}
	resp, err := e.graph.execute(ctx, caller.Put(path, body))
	if err != nil {
		return err
	}
	data, err := asObject(resp)
	if err != nil {
		return fmt.Errorf("update %s %s: %w", e.Kind(), e.GetID(), err)
	}
	e.SetData(data)
	return nil
}

// remove deletes the item remotely and marks it Deleted. Nobody is notified;
// the caller decides who consumes the Removal.
func (e *Entity) remove(ctx context.Context, query url.Values) (Removal, error) {
	if err := e.writable(nodeschema.OpDelete); err != nil {
		return Removal{}, err
	}
	path, err := e.itemPath()
	if err != nil {
		return Removal{}, err
	}
	resp, err := e.graph.execute(ctx, caller.Delete(path, query))
	if err != nil {
		return Removal{}, err
	}

	removal := Removal{Entity: e}
	e.mu.Lock()
	if data, ok := resp.(map[string]any); ok {
		e.setDataLocked(data)
		removal.Remote = data
	}
	e.state = Deleted
	e.mu.Unlock()

	logger.Debug("deleted %s %s", e.Kind(), e.GetID())
	return removal, nil
}

// writable fails for operations the kind disables, and for any write after
// the item was deleted.
func (e *Entity) writable(op nodeschema.Operation) error {
	if err := e.spec.Check(op); err != nil {
		return err
	}
	if e.State() == Deleted {
		return fault.NotFound(e.Kind(), e.GetID(), nil)
	}
	return nil
}

func (e *Entity) itemPath() (string, error) {
	path, err := e.graph.path(e.spec, e.ancestors, e.GetID(), true)
	if err != nil {
		return "", fmt.Errorf("%s: %w", e.Kind(), err)
	}
	return path, nil
}

// chain is the ancestor ids followed by the item's own id.
func (e *Entity) chain() []string {
	return append(slices.Clone(e.ancestors), e.GetID())
}

func serialize(fields map[string]any) []byte {
	b, err := json.Marshal(fields)
	if err != nil {
		// unmarshalable values still compare by their printed form
		return []byte(fmt.Sprintf("%#v", fields))
	}
	return b
}
