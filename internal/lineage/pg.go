package lineage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// PGStore persists the lineage log into Postgres.
type PGStore struct {
	db *sql.DB
}

// NewPGStore constructs a Postgres-backed lineage store.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

// Ping verifies connectivity to Postgres.
func (p *PGStore) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// EnsureIndexes creates the lineage tables and the parent-id index.
func (p *PGStore) EnsureIndexes(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS lineage_parents (
			id                      text PRIMARY KEY,
			collection_name         text NOT NULL,
			record_id               text NOT NULL,
			current_status          text NOT NULL,
			created_by_import       text NOT NULL,
			created_at              timestamptz NOT NULL,
			last_modified_by_import text NOT NULL,
			last_modified_at        timestamptz NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS lineage_events (
			id                text PRIMARY KEY,
			lineage_parent_id text NOT NULL,
			collection_name   text NOT NULL,
			record_id         text NOT NULL,
			event_type        text NOT NULL,
			import_id         text NOT NULL,
			file_key          text NOT NULL,
			event_time        timestamptz NOT NULL,
			change_type       text NOT NULL,
			previous_values   jsonb,
			new_values        jsonb
		)`,
		`CREATE INDEX IF NOT EXISTS lineage_events_parent_idx ON lineage_events (lineage_parent_id)`,
	}
	for _, q := range stmts {
		if _, err := p.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("ensure lineage schema: %w", err)
		}
	}
	return nil
}

// WriteBatch upserts the derived parents, then inserts the events. Both
// statements are unordered: independent rows never block each other and
// replayed event ids are ignored.
func (p *PGStore) WriteBatch(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	if err := p.upsertParents(ctx, parentsFor(events)); err != nil {
		return err
	}
	return p.insertEvents(ctx, events)
}

func (p *PGStore) upsertParents(ctx context.Context, parents []Parent) error {
	var (
		sb   strings.Builder
		args []interface{}
	)
	sb.WriteString(`INSERT INTO lineage_parents
		(id, collection_name, record_id, current_status, created_by_import, created_at, last_modified_by_import, last_modified_at)
		VALUES `)
	for i, par := range parents {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := len(args)
		fmt.Fprintf(&sb, "($%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8)
		args = append(args, par.ID, par.CollectionName, par.RecordID, string(par.CurrentStatus),
			par.CreatedByImport, par.CreatedAt, par.LastModifiedByImport, par.LastModifiedAt)
	}
	// set-on-insert for the immutables, set for the mutables
	sb.WriteString(` ON CONFLICT (id) DO UPDATE SET
		current_status = EXCLUDED.current_status,
		last_modified_by_import = EXCLUDED.last_modified_by_import,
		last_modified_at = EXCLUDED.last_modified_at`)

	if _, err := p.db.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("upsert lineage parents: %w", err)
	}
	return nil
}

func (p *PGStore) insertEvents(ctx context.Context, events []Event) error {
	var (
		sb   strings.Builder
		args []interface{}
	)
	sb.WriteString(`INSERT INTO lineage_events
		(id, lineage_parent_id, collection_name, record_id, event_type, import_id, file_key, event_time, change_type, previous_values, new_values)
		VALUES `)
	seen := make(map[string]bool, len(events))
	first := true
	for _, ev := range events {
		if seen[ev.ID] {
			continue
		}
		seen[ev.ID] = true
		prev, err := marshalValues(ev.PreviousValues)
		if err != nil {
			return err
		}
		next, err := marshalValues(ev.NewValues)
		if err != nil {
			return err
		}
		if !first {
			sb.WriteString(", ")
		}
		first = false
		base := len(args)
		fmt.Fprintf(&sb, "($%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10, base+11)
		args = append(args, ev.ID, ev.ParentID, ev.CollectionName, ev.RecordID, string(ev.EventType),
			ev.ImportID, ev.FileKey, ev.EventTime, ev.ChangeType, prev, next)
	}
	sb.WriteString(` ON CONFLICT (id) DO NOTHING`)

	if _, err := p.db.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("insert lineage events: %w", err)
	}
	return nil
}

func marshalValues(v map[string]interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal lineage values: %w", err)
	}
	return string(raw), nil
}

// GetLifecycle is an O(1) parent lookup plus a range scan on events ordered
// by id; deterministic ids make that order chronological.
func (p *PGStore) GetLifecycle(ctx context.Context, collection, recordID string) (*Lifecycle, error) {
	parent, err := p.getParent(ctx, ParentID(collection, recordID))
	if err != nil {
		return nil, err
	}
	events, err := p.queryEvents(ctx, parent.ID, 0, 0)
	if err != nil {
		return nil, err
	}
	return &Lifecycle{Parent: *parent, Events: events}, nil
}

// GetLifecyclePage returns one page of the history plus summary fields.
func (p *PGStore) GetLifecyclePage(ctx context.Context, collection, recordID string, skip, top int) (*LifecyclePage, error) {
	parent, err := p.getParent(ctx, ParentID(collection, recordID))
	if err != nil {
		return nil, err
	}
	var total int64
	countQ := `SELECT count(*) FROM lineage_events WHERE lineage_parent_id = $1`
	if err := p.db.QueryRowContext(ctx, countQ, parent.ID).Scan(&total); err != nil {
		return nil, fmt.Errorf("count lineage events: %w", err)
	}
	events, err := p.queryEvents(ctx, parent.ID, skip, top)
	if err != nil {
		return nil, err
	}
	imports := make([]string, 0, 2)
	seen := map[string]bool{}
	for _, ev := range events {
		if !seen[ev.ImportID] {
			seen[ev.ImportID] = true
			imports = append(imports, ev.ImportID)
		}
	}
	return &LifecyclePage{
		TotalEvents:    total,
		Skip:           skip,
		Top:            top,
		Count:          len(events),
		Events:         events,
		CurrentStatus:  parent.CurrentStatus,
		CreatedAt:      parent.CreatedAt,
		LastModifiedAt: parent.LastModifiedAt,
		Imports:        imports,
	}, nil
}

func (p *PGStore) getParent(ctx context.Context, id string) (*Parent, error) {
	q := `SELECT id, collection_name, record_id, current_status, created_by_import, created_at, last_modified_by_import, last_modified_at
		FROM lineage_parents WHERE id = $1`
	var (
		par    Parent
		status string
	)
	err := p.db.QueryRowContext(ctx, q, id).Scan(&par.ID, &par.CollectionName, &par.RecordID, &status,
		&par.CreatedByImport, &par.CreatedAt, &par.LastModifiedByImport, &par.LastModifiedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query lineage parent: %w", err)
	}
	par.CurrentStatus = Status(status)
	par.CreatedAt = par.CreatedAt.UTC()
	par.LastModifiedAt = par.LastModifiedAt.UTC()
	return &par, nil
}

func (p *PGStore) queryEvents(ctx context.Context, parentID string, skip, top int) ([]Event, error) {
	q := `SELECT id, lineage_parent_id, collection_name, record_id, event_type, import_id, file_key, event_time, change_type, previous_values, new_values
		FROM lineage_events WHERE lineage_parent_id = $1 ORDER BY id ASC`
	args := []interface{}{parentID}
	if top > 0 {
		args = append(args, top)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if skip > 0 {
		args = append(args, skip)
		q += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query lineage events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			ev         Event
			evType     string
			eventTime  time.Time
			prev, next []byte
		)
		if err := rows.Scan(&ev.ID, &ev.ParentID, &ev.CollectionName, &ev.RecordID, &evType,
			&ev.ImportID, &ev.FileKey, &eventTime, &ev.ChangeType, &prev, &next); err != nil {
			return nil, fmt.Errorf("scan lineage event: %w", err)
		}
		ev.EventType = EventType(evType)
		ev.EventTime = eventTime.UTC()
		if len(prev) > 0 && string(prev) != "null" {
			if err := json.Unmarshal(prev, &ev.PreviousValues); err != nil {
				return nil, fmt.Errorf("decode previous values: %w", err)
			}
		}
		if len(next) > 0 && string(next) != "null" {
			if err := json.Unmarshal(next, &ev.NewValues); err != nil {
				return nil, fmt.Errorf("decode new values: %w", err)
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
