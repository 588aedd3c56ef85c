package lineage

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory lineage store used by tests.
type MemoryStore struct {
	mu      sync.RWMutex
	parents map[string]Parent
	events  map[string]Event
}

// NewMemoryStore creates an empty in-memory lineage store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		parents: make(map[string]Parent),
		events:  make(map[string]Event),
	}
}

func (m *MemoryStore) EnsureIndexes(ctx context.Context) error { return nil }

func (m *MemoryStore) WriteBatch(ctx context.Context, events []Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, par := range parentsFor(events) {
		existing, ok := m.parents[par.ID]
		if !ok {
			m.parents[par.ID] = par
			continue
		}
		// immutables keep their set-on-insert values
		existing.CurrentStatus = par.CurrentStatus
		existing.LastModifiedByImport = par.LastModifiedByImport
		existing.LastModifiedAt = par.LastModifiedAt
		m.parents[par.ID] = existing
	}
	for _, ev := range events {
		if _, dup := m.events[ev.ID]; dup {
			continue
		}
		m.events[ev.ID] = ev
	}
	return nil
}

func (m *MemoryStore) GetLifecycle(ctx context.Context, collection, recordID string) (*Lifecycle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	parent, ok := m.parents[ParentID(collection, recordID)]
	if !ok {
		return nil, ErrNotFound
	}
	return &Lifecycle{Parent: parent, Events: m.eventsForLocked(parent.ID)}, nil
}

func (m *MemoryStore) GetLifecyclePage(ctx context.Context, collection, recordID string, skip, top int) (*LifecyclePage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	parent, ok := m.parents[ParentID(collection, recordID)]
	if !ok {
		return nil, ErrNotFound
	}
	all := m.eventsForLocked(parent.ID)
	total := int64(len(all))
	if skip < len(all) {
		all = all[skip:]
	} else {
		all = nil
	}
	if top > 0 && top < len(all) {
		all = all[:top]
	}
	imports := make([]string, 0, 2)
	seen := map[string]bool{}
	for _, ev := range all {
		if !seen[ev.ImportID] {
			seen[ev.ImportID] = true
			imports = append(imports, ev.ImportID)
		}
	}
	return &LifecyclePage{
		TotalEvents:    total,
		Skip:           skip,
		Top:            top,
		Count:          len(all),
		Events:         all,
		CurrentStatus:  parent.CurrentStatus,
		CreatedAt:      parent.CreatedAt,
		LastModifiedAt: parent.LastModifiedAt,
		Imports:        imports,
	}, nil
}

func (m *MemoryStore) eventsForLocked(parentID string) []Event {
	var out []Event
	for _, ev := range m.events {
		if ev.ParentID == parentID {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
