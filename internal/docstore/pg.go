package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/lib/pq"

	"github.com/agrimesh/refsync/internal/query"
)

// PGStore persists documents into Postgres, one table per collection with the
// document body in a JSONB column under a GIN index (the wildcard index).
type PGStore struct {
	db *sql.DB

	mu      sync.Mutex
	ensured map[string]bool
}

// NewPGStore constructs a Postgres-backed document store.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db, ensured: make(map[string]bool)}
}

// Ping verifies connectivity to Postgres.
func (p *PGStore) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// EnsureCollection creates the backing table and its wildcard index if they
// do not exist. Index failure is tolerated and logged; the table is required.
func (p *PGStore) EnsureCollection(ctx context.Context, collection string) error {
	table, err := tableFor(collection)
	if err != nil {
		return err
	}

	p.mu.Lock()
	done := p.ensured[table]
	p.mu.Unlock()
	if done {
		return nil
	}

	q := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (id text PRIMARY KEY, doc jsonb NOT NULL)`, table)
	if _, err := p.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("create collection %s: %w", collection, err)
	}
	idx := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_doc_gin ON %s USING gin (doc)`, table, table)
	if _, err := p.db.ExecContext(ctx, idx); err != nil {
		log.Printf("[docstore] wildcard index on %s not created: %v", collection, err)
	}

	p.mu.Lock()
	p.ensured[table] = true
	p.mu.Unlock()
	return nil
}

// FindByIDs fetches the listed documents in one round-trip.
func (p *PGStore) FindByIDs(ctx context.Context, collection string, ids []string) (map[string]Document, error) {
	table, err := tableFor(collection)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Document, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	q := fmt.Sprintf(`SELECT id, doc FROM %s WHERE id = ANY($1)`, table)
	rows, err := p.db.QueryContext(ctx, q, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("find by ids in %s: %w", collection, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id  string
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", collection, err)
		}
		doc, err := decodeDocument(raw)
		if err != nil {
			return nil, err
		}
		out[id] = doc
	}
	return out, rows.Err()
}

// BulkUpsert writes the batch as one multi-row INSERT .. ON CONFLICT DO
// UPDATE. Rows are independent; later duplicates of the same id within one
// batch are collapsed to the last occurrence first (Postgres rejects a
// double-hit on the conflict target inside a single statement).
func (p *PGStore) BulkUpsert(ctx context.Context, collection string, docs []Document) error {
	table, err := tableFor(collection)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		return nil
	}

	// last-write-wins within the batch
	byID := make(map[string]int, len(docs))
	deduped := docs[:0:0]
	for _, doc := range docs {
		if i, seen := byID[doc.ID()]; seen {
			deduped[i] = doc
			continue
		}
		byID[doc.ID()] = len(deduped)
		deduped = append(deduped, doc)
	}

	var (
		sb   strings.Builder
		args []interface{}
	)
	fmt.Fprintf(&sb, `INSERT INTO %s (id, doc) VALUES `, table)
	for i, doc := range deduped {
		raw, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("marshal document %q: %w", doc.ID(), err)
		}
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "($%d, $%d)", len(args)+1, len(args)+2)
		args = append(args, doc.ID(), string(raw))
	}
	sb.WriteString(` ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc`)

	if _, err := p.db.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("bulk upsert into %s: %w", collection, err)
	}
	return nil
}

// Find translates the AST to SQL over the jsonb column and returns the page.
func (p *PGStore) Find(ctx context.Context, collection string, opts FindOptions) ([]Document, error) {
	table, err := tableFor(collection)
	if err != nil {
		return nil, err
	}

	where, args, err := filterSQL(opts.Filter, nil)
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, `SELECT doc FROM %s WHERE %s`, table, where)
	if len(opts.Sort) > 0 {
		sb.WriteString(" ORDER BY ")
		for i, sf := range opts.Sort {
			if i > 0 {
				sb.WriteString(", ")
			}
			args = append(args, fieldPath(sf.Field))
			fmt.Fprintf(&sb, "doc #> $%d::text[]", len(args))
			if sf.Desc {
				sb.WriteString(" DESC")
			} else {
				sb.WriteString(" ASC")
			}
		}
	} else {
		sb.WriteString(" ORDER BY id ASC")
	}
	if opts.Top > 0 {
		args = append(args, opts.Top)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}
	if opts.Skip > 0 {
		args = append(args, opts.Skip)
		fmt.Fprintf(&sb, " OFFSET $%d", len(args))
	}

	rows, err := p.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("find in %s: %w", collection, err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", collection, err)
		}
		doc, err := decodeDocument(raw)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// Count counts documents matching the filter.
func (p *PGStore) Count(ctx context.Context, collection string, filter query.Filter) (int64, error) {
	table, err := tableFor(collection)
	if err != nil {
		return 0, err
	}
	where, args, err := filterSQL(filter, nil)
	if err != nil {
		return 0, err
	}
	var n int64
	q := fmt.Sprintf(`SELECT count(*) FROM %s WHERE %s`, table, where)
	if err := p.db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count in %s: %w", collection, err)
	}
	return n, nil
}
