package node

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/world-in-progress/canopy/caller"
	"github.com/world-in-progress/canopy/core/fault"
	nodeinterface "github.com/world-in-progress/canopy/node/interface"
)

// fakeCanvas is an in-memory stand-in for the remote API. Collections are
// keyed by their path; items live at "<collection path>/<id>".
type fakeCanvas struct {
	mu          sync.Mutex
	collections map[string]*fakeCollection
	calls       []caller.Request
	nextID      int
	failPaths   map[string]int
}

type fakeCollection struct {
	idField string
	order   []string
	records map[string]map[string]any
}

func newFakeCanvas() *fakeCanvas {
	return &fakeCanvas{
		collections: make(map[string]*fakeCollection),
		nextID:      1000,
		failPaths:   make(map[string]int),
	}
}

func (f *fakeCanvas) seed(path, idField string, records ...map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.collection(path, idField)
	for _, r := range records {
		id := idString(r[idField])
		if _, ok := c.records[id]; !ok {
			c.order = append(c.order, id)
		}
		c.records[id] = r
	}
}

func (f *fakeCanvas) collection(path, idField string) *fakeCollection {
	c, ok := f.collections[path]
	if !ok {
		c = &fakeCollection{idField: idField, records: make(map[string]map[string]any)}
		f.collections[path] = c
	}
	return c
}

func (f *fakeCanvas) failWith(path string, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failPaths[path] = status
}

func (f *fakeCanvas) requests() []caller.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

func (f *fakeCanvas) count(method string) int {
	n := 0
	for _, r := range f.requests() {
		if r.Method == method {
			n++
		}
	}
	return n
}

func (f *fakeCanvas) record(path, id string) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.collections[path]; ok {
		return c.records[id]
	}
	return nil
}

func (f *fakeCanvas) Execute(_ context.Context, req caller.Request) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)

	if status, ok := f.failPaths[req.Path]; ok {
		return nil, f.apiError(req, status)
	}

	if c, ok := f.collections[req.Path]; ok {
		switch req.Method {
		case http.MethodGet:
			out := make([]any, 0, len(c.order))
			for _, id := range c.order {
				out = append(out, copyRecord(c.records[id]))
			}
			return out, nil
		case http.MethodPost:
			f.nextID++
			record := unwrapBody(req.Body)
			record[c.idField] = json.Number(strconv.Itoa(f.nextID))
			id := idString(record[c.idField])
			c.order = append(c.order, id)
			c.records[id] = record
			return copyRecord(record), nil
		}
		return nil, f.apiError(req, http.StatusMethodNotAllowed)
	}

	cut := strings.LastIndex(req.Path, "/")
	parent, id := req.Path[:cut], req.Path[cut+1:]
	c, ok := f.collections[parent]
	if !ok && req.Method == http.MethodPost {
		return f.action(req, parent, id)
	}
	if !ok {
		if req.Method == http.MethodGet {
			return []any{}, nil
		}
		return nil, f.apiError(req, http.StatusNotFound)
	}
	record, ok := c.records[id]
	if !ok {
		return nil, f.apiError(req, http.StatusNotFound)
	}

	switch req.Method {
	case http.MethodGet:
		return copyRecord(record), nil
	case http.MethodPut:
		for k, v := range unwrapBody(req.Body) {
			record[k] = v
		}
		return copyRecord(record), nil
	case http.MethodDelete:
		delete(c.records, id)
		c.order = slices.DeleteFunc(c.order, func(x string) bool { return x == id })
		out := copyRecord(record)
		out["workflow_state"] = "deleted"
		return out, nil
	}
	return nil, f.apiError(req, http.StatusMethodNotAllowed)
}

// action answers "<item path>/<suffix>" with the item plus the action name and its body.
func (f *fakeCanvas) action(req caller.Request, itemPath, suffix string) (any, error) {
	cut := strings.LastIndex(itemPath, "/")
	c, ok := f.collections[itemPath[:cut]]
	if !ok {
		return nil, f.apiError(req, http.StatusNotFound)
	}
	record, ok := c.records[itemPath[cut+1:]]
	if !ok {
		return nil, f.apiError(req, http.StatusNotFound)
	}
	out := copyRecord(record)
	out["action"] = suffix
	out["action_body"] = req.Body
	return out, nil
}

func (f *fakeCanvas) apiError(req caller.Request, status int) error {
	return &fault.APIError{Method: req.Method, URL: req.Path, StatusCode: status}
}

// unwrapBody strips a single-key post wrapper.
func unwrapBody(body any) map[string]any {
	m, _ := body.(map[string]any)
	if len(m) == 1 {
		for _, v := range m {
			if inner, ok := v.(map[string]any); ok {
				return copyRecord(inner)
			}
		}
	}
	return copyRecord(m)
}

func copyRecord(r map[string]any) map[string]any {
	out := make(map[string]any, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

type recordingObserver struct {
	mu     sync.Mutex
	events []string
}

func (o *recordingObserver) EntityFetched(e nodeinterface.IEntity) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, "fetched:"+e.GetID())
}

func (o *recordingObserver) EntityDeleted(e nodeinterface.IEntity) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, "deleted:"+e.GetID())
}
