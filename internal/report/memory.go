package report

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store used by tests.
type MemoryStore struct {
	mu      sync.RWMutex
	reports map[string]*ImportReport
	files   map[string]*ImportFileRecord // keyed by importID+"/"+fileKey
}

// NewMemoryStore creates an empty in-memory report store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		reports: make(map[string]*ImportReport),
		files:   make(map[string]*ImportFileRecord),
	}
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

func (m *MemoryStore) UpsertReport(ctx context.Context, r *ImportReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports[r.ImportID] = cloneReport(r)
	return nil
}

func (m *MemoryStore) GetReport(ctx context.Context, importID string) (*ImportReport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.reports[importID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneReport(r), nil
}

func (m *MemoryStore) ListReports(ctx context.Context, skip, top int) ([]ImportReport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := make([]*ImportReport, 0, len(m.reports))
	for _, r := range m.reports {
		all = append(all, r)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].StartedAt.After(all[j].StartedAt) })
	if skip >= len(all) {
		return nil, nil
	}
	all = all[skip:]
	if top > 0 && top < len(all) {
		all = all[:top]
	}
	out := make([]ImportReport, 0, len(all))
	for _, r := range all {
		out = append(out, *cloneReport(r))
	}
	return out, nil
}

func (m *MemoryStore) UpsertFileRecord(ctx context.Context, rec *ImportFileRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	cp := *rec
	m.files[rec.ImportID+"/"+rec.FileKey] = &cp
	return nil
}

func (m *MemoryStore) IsFileProcessed(ctx context.Context, fileKey, etag string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, rec := range m.files {
		if rec.FileKey == fileKey && rec.ETag == etag &&
			(rec.Status == FileAcquired || rec.Status == FileIngested) {
			return true, nil
		}
	}
	return false, nil
}

// FileRecords returns every stored file record; test helper.
func (m *MemoryStore) FileRecords() []ImportFileRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ImportFileRecord, 0, len(m.files))
	for _, rec := range m.files {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FileKey < out[j].FileKey })
	return out
}

func cloneReport(r *ImportReport) *ImportReport {
	raw, _ := json.Marshal(r)
	var cp ImportReport
	_ = json.Unmarshal(raw, &cp)
	return &cp
}
