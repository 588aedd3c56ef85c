package report

import "context"

// Store is the persistence abstraction for reports and file records.
type Store interface {
	// UpsertReport writes the whole report document, replacing any previous
	// version for the same import id.
	UpsertReport(ctx context.Context, r *ImportReport) error

	// GetReport fetches one report by import id.
	GetReport(ctx context.Context, importID string) (*ImportReport, error)

	// ListReports pages reports descending by start time.
	ListReports(ctx context.Context, skip, top int) ([]ImportReport, error)

	// UpsertFileRecord writes one file outcome row keyed by (import_id, file_key).
	UpsertFileRecord(ctx context.Context, rec *ImportFileRecord) error

	// IsFileProcessed reports whether any run already acquired or ingested
	// the (file_key, etag) pair.
	IsFileProcessed(ctx context.Context, fileKey, etag string) (bool, error)

	// Ping validates the store is reachable.
	Ping(ctx context.Context) error
}
