package docstore

import (
	"context"
	"sort"
	"sync"

	"github.com/agrimesh/refsync/internal/query"
)

// MemoryStore is an in-memory Store used by tests and local development. It
// evaluates the query AST with the in-memory evaluator, which keeps its
// semantics aligned with the SQL translation.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]Document
}

// NewMemoryStore creates an empty in-memory document store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]map[string]Document)}
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

func (m *MemoryStore) EnsureCollection(ctx context.Context, collection string) error {
	if _, err := tableFor(collection); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[collection]; !ok {
		m.collections[collection] = make(map[string]Document)
	}
	return nil
}

func (m *MemoryStore) FindByIDs(ctx context.Context, collection string, ids []string) (map[string]Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Document, len(ids))
	coll := m.collections[collection]
	for _, id := range ids {
		if doc, ok := coll[id]; ok {
			out[id] = doc.Clone()
		}
	}
	return out, nil
}

func (m *MemoryStore) BulkUpsert(ctx context.Context, collection string, docs []Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	coll, ok := m.collections[collection]
	if !ok {
		coll = make(map[string]Document)
		m.collections[collection] = coll
	}
	for _, doc := range docs {
		coll[doc.ID()] = doc.Clone()
	}
	return nil
}

func (m *MemoryStore) Find(ctx context.Context, collection string, opts FindOptions) ([]Document, error) {
	m.mu.RLock()
	matched := m.match(collection, opts.Filter)
	m.mu.RUnlock()

	if len(opts.Sort) > 0 {
		raw := make([]map[string]interface{}, len(matched))
		for i, d := range matched {
			raw[i] = d
		}
		query.SortDocs(raw, opts.Sort)
		for i, d := range raw {
			matched[i] = Document(d)
		}
	} else {
		sort.Slice(matched, func(i, j int) bool { return matched[i].ID() < matched[j].ID() })
	}

	if opts.Skip > 0 {
		if opts.Skip >= len(matched) {
			return nil, nil
		}
		matched = matched[opts.Skip:]
	}
	if opts.Top > 0 && opts.Top < len(matched) {
		matched = matched[:opts.Top]
	}
	return matched, nil
}

func (m *MemoryStore) Count(ctx context.Context, collection string, filter query.Filter) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.match(collection, filter))), nil
}

// match returns clones of matching documents; callers hold at least a read lock.
func (m *MemoryStore) match(collection string, filter query.Filter) []Document {
	if filter == nil {
		filter = query.Empty{}
	}
	var out []Document
	for _, doc := range m.collections[collection] {
		if query.Matches(filter, doc) {
			out = append(out, doc.Clone())
		}
	}
	return out
}
