package report

import (
	"context"
	"fmt"
	"log"
	"time"
)

// Service drives report lifecycle transitions. Pipelines mutate the
// in-memory report and call Save; every transition persists the whole
// document so phase counters stay consistent.
type Service struct {
	store Store
}

// NewService wraps a report store.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// StartImport inserts a fresh report with both phases NotStarted.
func (s *Service) StartImport(ctx context.Context, importID, sourceType string) (*ImportReport, error) {
	if importID == "" {
		importID = NewImportID()
	}
	r := &ImportReport{
		ImportID:    importID,
		SourceType:  sourceType,
		Status:      StatusStarted,
		StartedAt:   time.Now().UTC(),
		Acquisition: AcquisitionPhase{Status: StatusNotStarted},
		Ingestion:   IngestionPhase{Status: StatusNotStarted},
	}
	if err := s.store.UpsertReport(ctx, r); err != nil {
		return nil, fmt.Errorf("start import %s: %w", importID, err)
	}
	log.Printf("[report] import %s started (source=%s)", importID, sourceType)
	return r, nil
}

// Save persists the caller-mutated report.
func (s *Service) Save(ctx context.Context, r *ImportReport) error {
	return s.store.UpsertReport(ctx, r)
}

// CompleteImport flips the report to Completed and persists it.
func (s *Service) CompleteImport(ctx context.Context, r *ImportReport) error {
	now := time.Now().UTC()
	r.Status = StatusCompleted
	r.CompletedAt = &now
	if err := s.store.UpsertReport(ctx, r); err != nil {
		return fmt.Errorf("complete import %s: %w", r.ImportID, err)
	}
	log.Printf("[report] import %s completed", r.ImportID)
	return nil
}

// FailImport records the failure on the report. A failure to write the
// failure record is logged, never raised, so it cannot mask the underlying
// error.
func (s *Service) FailImport(ctx context.Context, r *ImportReport, cause error) {
	now := time.Now().UTC()
	r.Status = StatusFailed
	r.CompletedAt = &now
	if cause != nil {
		r.Error = cause.Error()
	}
	if err := s.store.UpsertReport(ctx, r); err != nil {
		log.Printf("[report] recording failure for import %s failed: %v (cause: %v)", r.ImportID, err, cause)
	}
}

// RecordFile persists one file outcome row.
func (s *Service) RecordFile(ctx context.Context, rec *ImportFileRecord) error {
	return s.store.UpsertFileRecord(ctx, rec)
}

// RecordFileFailure persists a Failed file row, logging instead of raising
// on a write error for the same reason as FailImport.
func (s *Service) RecordFileFailure(ctx context.Context, rec *ImportFileRecord, cause error) {
	rec.Status = FileFailed
	if cause != nil {
		rec.Error = cause.Error()
	}
	if err := s.store.UpsertFileRecord(ctx, rec); err != nil {
		log.Printf("[report] recording file failure for %s failed: %v (cause: %v)", rec.FileKey, err, cause)
	}
}

// IsFileProcessed reports whether a previous run already acquired or
// ingested the (fileKey, etag) pair.
func (s *Service) IsFileProcessed(ctx context.Context, fileKey, etag string) (bool, error) {
	return s.store.IsFileProcessed(ctx, fileKey, etag)
}

// ImportSummaries pages reports descending by start time.
func (s *Service) ImportSummaries(ctx context.Context, skip, top int) ([]ImportReport, error) {
	if top <= 0 {
		top = 50
	}
	return s.store.ListReports(ctx, skip, top)
}

// GetReport fetches one report.
func (s *Service) GetReport(ctx context.Context, importID string) (*ImportReport, error) {
	return s.store.GetReport(ctx, importID)
}
