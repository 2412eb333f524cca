package nodeinterface

import (
	"context"

	"github.com/world-in-progress/canopy/caller"
)

type (
	// IDispatcher executes one logical API call.
	IDispatcher interface {
		Execute(ctx context.Context, req caller.Request) (any, error)
	}

	// IEntity is the read side of one remote resource.
	IEntity interface {
		GetID() string
		Kind() string
		Ancestors() []string
		Fields() map[string]any
	}

	// IObserver receives lifecycle notifications from the entities it subscribed to.
	IObserver interface {
		EntityFetched(e IEntity)
		EntityDeleted(e IEntity)
	}

	// IRepository is the interface for CRUD operations of some repository.
	IRepository interface {
		Create(ctx context.Context, table string, record map[string]any) (string, error)
		ReadOne(ctx context.Context, table string, filter map[string]any) (map[string]any, error)
		ReadAll(ctx context.Context, table string, filter map[string]any) ([]map[string]any, error)
		Update(ctx context.Context, table string, filter map[string]any, update map[string]any) error
		Upsert(ctx context.Context, table string, filter map[string]any, record map[string]any) error
		Delete(ctx context.Context, table string, filter map[string]any) error
		Count(ctx context.Context, table string, filter map[string]any) (int64, error)
	}
)
