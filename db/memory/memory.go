package memory

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/world-in-progress/canopy/db"
)

// MemoryRepository keeps tables in process. It backs tests and dry runs.
type MemoryRepository struct {
	tables map[string]map[string]map[string]any
	mu     sync.RWMutex
}

var _ db.Repository = (*MemoryRepository)(nil)

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{tables: make(map[string]map[string]map[string]any)}
}

func (r *MemoryRepository) Create(ctx context.Context, table string, record map[string]any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := copyRecord(record)
	id, ok := stored[db.IDKey].(string)
	if !ok || id == "" {
		id = uuid.New().String()
		stored[db.IDKey] = id
	}
	rows := r.table(table)
	if _, exists := rows[id]; exists {
		return "", fmt.Errorf("duplicate key %q in table %s", id, table)
	}
	rows[id] = stored
	return id, nil
}

func (r *MemoryRepository) ReadOne(ctx context.Context, table string, filter map[string]any) (map[string]any, error) {
	records, err := r.ReadAll(ctx, table, filter)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, db.ErrNotFound
	}
	return records[0], nil
}

// ReadAll returns copies of the matching records ordered by key.
func (r *MemoryRepository) ReadAll(ctx context.Context, table string, filter map[string]any) ([]map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	rows := r.tables[table]
	keys := make([]string, 0, len(rows))
	for key, record := range rows {
		if matches(record, filter) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	results := make([]map[string]any, 0, len(keys))
	for _, key := range keys {
		results = append(results, copyRecord(rows[key]))
	}
	return results, nil
}

// Update sets fields on the first matching record.
func (r *MemoryRepository) Update(ctx context.Context, table string, filter map[string]any, update map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.first(table, filter)
	if !ok {
		return db.ErrNotFound
	}
	for k, v := range update {
		if k != db.IDKey {
			record[k] = v
		}
	}
	return nil
}

// Upsert replaces the first matching record, or inserts record when none matches.
func (r *MemoryRepository) Upsert(ctx context.Context, table string, filter map[string]any, record map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := copyRecord(record)
	if existing, ok := r.first(table, filter); ok {
		stored[db.IDKey] = existing[db.IDKey]
	} else if id, ok := stored[db.IDKey].(string); !ok || id == "" {
		if id, ok = filter[db.IDKey].(string); ok {
			stored[db.IDKey] = id
		} else {
			stored[db.IDKey] = uuid.New().String()
		}
	}
	r.table(table)[stored[db.IDKey].(string)] = stored
	return nil
}

func (r *MemoryRepository) Delete(ctx context.Context, table string, filter map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if record, ok := r.first(table, filter); ok {
		delete(r.tables[table], record[db.IDKey].(string))
	}
	return nil
}

func (r *MemoryRepository) Count(ctx context.Context, table string, filter map[string]any) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var n int64
	for _, record := range r.tables[table] {
		if matches(record, filter) {
			n++
		}
	}
	return n, nil
}

// Tables lists the tables holding at least one record.
func (r *MemoryRepository) Tables() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tables))
	for name, rows := range r.tables {
		if len(rows) > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func (r *MemoryRepository) table(name string) map[string]map[string]any {
	rows, ok := r.tables[name]
	if !ok {
		rows = make(map[string]map[string]any)
		r.tables[name] = rows
	}
	return rows
}

// first picks the matching record with the lowest key so results are stable.
func (r *MemoryRepository) first(table string, filter map[string]any) (map[string]any, bool) {
	var (
		bestKey string
		best    map[string]any
	)
	for key, record := range r.tables[table] {
		if matches(record, filter) && (best == nil || key < bestKey) {
			bestKey, best = key, record
		}
	}
	return best, best != nil
}

func matches(record, filter map[string]any) bool {
	for k, want := range filter {
		got, ok := record[k]
		if !ok || !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}

func copyRecord(record map[string]any) map[string]any {
	out := make(map[string]any, len(record)+1)
	for k, v := range record {
		out[k] = v
	}
	return out
}
