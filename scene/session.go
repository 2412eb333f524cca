// Package scene wires configuration, the dispatcher and the resource graph
// into a single client handle.
package scene

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/world-in-progress/canopy/caller"
	"github.com/world-in-progress/canopy/config"
	"github.com/world-in-progress/canopy/core/form"
	"github.com/world-in-progress/canopy/model"
	"github.com/world-in-progress/canopy/node"
	"github.com/world-in-progress/canopy/node/nodeschema"
)

type Session struct {
	Config     config.ClientConfig
	Dispatcher *caller.Dispatcher
	Graph      *node.Graph
}

// NewSession builds a session for cfg on the built-in Canvas catalogue plus
// extra descriptors.
func NewSession(cfg config.ClientConfig, extra ...nodeschema.Descriptor) (*Session, error) {
	dispatcher, err := caller.NewDispatcher(cfg)
	if err != nil {
		return nil, err
	}

	registry, err := model.NewCanvasRegistry(extra...)
	if err != nil {
		dispatcher.Close()
		return nil, fmt.Errorf("failed to build descriptor registry: %w", err)
	}

	return &Session{
		Config:     cfg,
		Dispatcher: dispatcher,
		Graph:      node.NewGraph(dispatcher, registry, node.WithSiteRoot(cfg.Root())),
	}, nil
}

// Course returns the root entity of course id, not yet fetched.
func (s *Session) Course(id string) (*node.Entity, error) {
	return s.Graph.NewEntity("course", nil, id)
}

// Collection returns an empty collection of kind below ancestors.
func (s *Session) Collection(kind string, ancestors ...string) (*node.Collection, error) {
	return s.Graph.NewCollection(kind, ancestors...)
}

// Raw sends one request outside the resource graph. For GET and DELETE the
// body is encoded as the query string; paginated GETs are still concatenated.
func (s *Session) Raw(ctx context.Context, method, path string, body map[string]any) (any, error) {
	method = strings.ToUpper(method)
	if !strings.HasPrefix(path, "/") && !strings.Contains(path, "://") {
		path = "/api/v1/" + path
	}

	req := caller.Request{Method: method, Path: path}
	switch method {
	case http.MethodGet, http.MethodDelete:
		query, err := caller.EncodeQuery(body)
		if err != nil {
			return nil, err
		}
		req.Query = query
	case http.MethodPost, http.MethodPut:
		if body != nil {
			expanded, err := form.Expand(body)
			if err != nil {
				return nil, err
			}
			req.Body = expanded
		}
	default:
		return nil, fmt.Errorf("unsupported method %q", method)
	}
	return s.Dispatcher.Execute(ctx, req)
}

// Remaining is the last rate-limit budget the remote reported.
func (s *Session) Remaining() float64 {
	return s.Dispatcher.Remaining()
}

func (s *Session) Close() {
	s.Dispatcher.Close()
}
