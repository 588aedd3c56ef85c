// package orchestrate runs a full import: acquisition, then ingestion, with
// the report tracking both phases and the overall outcome.
package orchestrate

import (
	"context"
	"fmt"
	"log"

	"github.com/agrimesh/refsync/internal/acquire"
	"github.com/agrimesh/refsync/internal/ingest"
	"github.com/agrimesh/refsync/internal/lineage"
	"github.com/agrimesh/refsync/internal/report"
)

// Orchestrator sequences the two pipeline halves of an import run.
type Orchestrator struct {
	acquire *acquire.Pipeline
	ingest  *ingest.Pipeline
	lineage lineage.Store
	reports *report.Service

	// sourceType labels the run on its report, e.g. "s3".
	sourceType string
}

// New wires an orchestrator.
func New(acq *acquire.Pipeline, ing *ingest.Pipeline, lin lineage.Store, reports *report.Service, sourceType string) *Orchestrator {
	return &Orchestrator{
		acquire:    acq,
		ingest:     ing,
		lineage:    lin,
		reports:    reports,
		sourceType: sourceType,
	}
}

// Run executes one import end to end. Any phase failure marks the report
// Failed and propagates; the report always reaches a terminal status.
func (o *Orchestrator) Run(ctx context.Context, importID string) (*report.ImportReport, error) {
	if err := o.lineage.EnsureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("ensure lineage indexes: %w", err)
	}

	r, err := o.reports.StartImport(ctx, importID, o.sourceType)
	if err != nil {
		return nil, err
	}

	if err := o.acquire.Run(ctx, r); err != nil {
		o.reports.FailImport(ctx, r, err)
		return r, fmt.Errorf("acquisition: %w", err)
	}
	if err := o.ingest.Run(ctx, r); err != nil {
		o.reports.FailImport(ctx, r, err)
		return r, fmt.Errorf("ingestion: %w", err)
	}

	if err := o.reports.CompleteImport(ctx, r); err != nil {
		return r, err
	}
	log.Printf("[orchestrate] import %s finished: %d acquired, %d skipped, %d files ingested",
		r.ImportID, r.Acquisition.FilesProcessed, r.Acquisition.FilesSkipped, r.Ingestion.FilesProcessed)
	return r, nil
}
