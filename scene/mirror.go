package scene

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/world-in-progress/canopy/core/logger"
	"github.com/world-in-progress/canopy/core/threading"
	"github.com/world-in-progress/canopy/db"
	"github.com/world-in-progress/canopy/node"
)

type (
	// MirrorResult summarizes one export.
	MirrorResult struct {
		SyncID   string
		SyncedAt time.Time
		// Written counts records per table.
		Written map[string]int
		// Skipped counts entities that were not synced with the remote.
		Skipped int
	}

	indexer interface {
		EnsureIndex(ctx context.Context, table string, fields ...string) error
	}
)

// Mirror writes the synced members of c and, down to depth further levels,
// their descendants into repo. Each kind gets its own table and each record is
// keyed by "<kind>-<id>", so repeated exports overwrite in place.
func Mirror(ctx context.Context, repo db.Repository, c *node.Collection, depth int) (*MirrorResult, error) {
	return mirror(ctx, repo, c.Flatten(depth))
}

// MirrorEntity writes e itself and its descendants down to depth levels.
func MirrorEntity(ctx context.Context, repo db.Repository, e *node.Entity, depth int) (*MirrorResult, error) {
	entities := []*node.Entity{e}
	if depth > 0 {
		for _, child := range e.Children() {
			entities = append(entities, child.Flatten(depth-1)...)
		}
	}
	return mirror(ctx, repo, entities)
}

func mirror(ctx context.Context, repo db.Repository, entities []*node.Entity) (*MirrorResult, error) {
	result := &MirrorResult{
		SyncID:   uuid.New().String(),
		SyncedAt: time.Now().UTC(),
		Written:  make(map[string]int),
	}

	byKind := make(map[string][]*node.Entity)
	for _, e := range entities {
		if e.State() != node.Synced {
			result.Skipped++
			continue
		}
		byKind[e.Kind()] = append(byKind[e.Kind()], e)
	}

	kinds := make([]string, 0, len(byKind))
	for kind := range byKind {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)

	// one routine per table; records of a table are written in order
	written := make([]int, len(kinds))
	group := threading.NewRoutineGroup()
	for i, kind := range kinds {
		members := byKind[kind]
		group.Run(func() error {
			if ix, ok := repo.(indexer); ok {
				if err := ix.EnsureIndex(ctx, kind, "sync_id"); err != nil {
					return fmt.Errorf("failed to index %s: %w", kind, err)
				}
			}
			for _, e := range members {
				record := mirrorRecord(e, result)
				filter := map[string]any{db.IDKey: record[db.IDKey]}
				if err := repo.Upsert(ctx, kind, filter, record); err != nil {
					return fmt.Errorf("failed to mirror %s: %w", record[db.IDKey], err)
				}
				written[i]++
			}
			return nil
		})
	}
	err := group.Wait()

	for i, kind := range kinds {
		result.Written[kind] = written[i]
	}
	logger.WithFields(map[string]any{
		"sync_id": result.SyncID,
		"tables":  len(kinds),
		"skipped": result.Skipped,
	}).Info("mirror finished")
	return result, err
}

func mirrorRecord(e *node.Entity, result *MirrorResult) map[string]any {
	return map[string]any{
		db.IDKey:    e.Kind() + "-" + e.GetID(),
		"kind":      e.Kind(),
		"id":        e.GetID(),
		"ancestors": e.Ancestors(),
		"fields":    e.Fields(),
		"synced_at": result.SyncedAt,
		"sync_id":   result.SyncID,
	}
}
