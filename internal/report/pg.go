package report

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// PGStore persists reports and file records into Postgres. Reports are
// stored whole as JSONB so every transition is one upsert and partial writes
// cannot break phase invariants.
type PGStore struct {
	db *sql.DB
}

// NewPGStore constructs a Postgres-backed report store.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

// Ping verifies connectivity to Postgres.
func (p *PGStore) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// EnsureSchema creates the reporting tables if they do not exist.
func (p *PGStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS import_reports (
			id         text PRIMARY KEY,
			started_at timestamptz NOT NULL,
			doc        jsonb NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS import_files (
			import_id  text NOT NULL,
			file_key   text NOT NULL,
			etag       text NOT NULL,
			status     text NOT NULL,
			updated_at timestamptz NOT NULL,
			doc        jsonb NOT NULL,
			PRIMARY KEY (import_id, file_key)
		)`,
		`CREATE INDEX IF NOT EXISTS import_files_dedup ON import_files (file_key, etag, status)`,
	}
	for _, q := range stmts {
		if _, err := p.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("ensure reporting schema: %w", err)
		}
	}
	return nil
}

// UpsertReport writes the whole report document.
func (p *PGStore) UpsertReport(ctx context.Context, r *ImportReport) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal report %s: %w", r.ImportID, err)
	}
	q := `
		INSERT INTO import_reports (id, started_at, doc)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET started_at = EXCLUDED.started_at, doc = EXCLUDED.doc
	`
	if _, err := p.db.ExecContext(ctx, q, r.ImportID, r.StartedAt, raw); err != nil {
		return fmt.Errorf("upsert report %s: %w", r.ImportID, err)
	}
	return nil
}

// GetReport fetches one report by import id.
func (p *PGStore) GetReport(ctx context.Context, importID string) (*ImportReport, error) {
	var raw []byte
	q := `SELECT doc FROM import_reports WHERE id = $1`
	if err := p.db.QueryRowContext(ctx, q, importID).Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query report %s: %w", importID, err)
	}
	var r ImportReport
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("decode report %s: %w", importID, err)
	}
	return &r, nil
}

// ListReports pages reports descending by start time.
func (p *PGStore) ListReports(ctx context.Context, skip, top int) ([]ImportReport, error) {
	q := `SELECT doc FROM import_reports ORDER BY started_at DESC LIMIT $1 OFFSET $2`
	rows, err := p.db.QueryContext(ctx, q, top, skip)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	var out []ImportReport
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan report row: %w", err)
		}
		var r ImportReport
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, fmt.Errorf("decode report row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpsertFileRecord writes one file outcome row.
func (p *PGStore) UpsertFileRecord(ctx context.Context, rec *ImportFileRecord) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal file record %s: %w", rec.FileKey, err)
	}
	q := `
		INSERT INTO import_files (import_id, file_key, etag, status, updated_at, doc)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (import_id, file_key) DO UPDATE
		  SET etag = EXCLUDED.etag, status = EXCLUDED.status,
		      updated_at = EXCLUDED.updated_at, doc = EXCLUDED.doc
	`
	if _, err := p.db.ExecContext(ctx, q, rec.ImportID, rec.FileKey, rec.ETag, string(rec.Status), rec.UpdatedAt, raw); err != nil {
		return fmt.Errorf("upsert file record %s: %w", rec.FileKey, err)
	}
	return nil
}

// IsFileProcessed is a point query against the dedup key
// (file_key, etag, status in Acquired|Ingested).
func (p *PGStore) IsFileProcessed(ctx context.Context, fileKey, etag string) (bool, error) {
	var exists bool
	q := `
		SELECT EXISTS (
			SELECT 1 FROM import_files
			WHERE file_key = $1 AND etag = $2 AND status IN ($3, $4)
		)
	`
	err := p.db.QueryRowContext(ctx, q, fileKey, etag, string(FileAcquired), string(FileIngested)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query processed files: %w", err)
	}
	return exists, nil
}
