// package ingest streams decrypted snapshot files out of the internal store
// and folds their rows into the document database, recording a lineage event
// for every record mutation.
package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/agrimesh/refsync/internal/blob"
	"github.com/agrimesh/refsync/internal/catalogue"
	"github.com/agrimesh/refsync/internal/dataset"
	"github.com/agrimesh/refsync/internal/docstore"
	"github.com/agrimesh/refsync/internal/lineage"
	"github.com/agrimesh/refsync/internal/report"
)

const (
	// bulkBatchSize is how many rows are folded into one bulk write.
	bulkBatchSize = 1000

	// progressEvery is how often (in rows) the report progress block refreshes.
	progressEvery = 100

	// downloadBufSize is the copy buffer used when spooling files to disk.
	downloadBufSize = 80 * 1024
)

// Change codes carried by the snapshot rows.
const (
	changeInsert = "I"
	changeUpdate = "U"
	changeDelete = "D"
)

// Pipeline is the ingestion half of an import run.
type Pipeline struct {
	store        blob.Reader
	cat          *catalogue.Service
	docs         docstore.Store
	lin          *lineage.Recorder
	reports      *report.Service
	lookbackDays int
}

// New wires an ingestion pipeline over the internal store. lookbackDays <= 0
// selects the acquisition default so both phases see the same file sets.
func New(store blob.Reader, cat *catalogue.Service, docs docstore.Store, lin *lineage.Recorder, reports *report.Service, lookbackDays int) *Pipeline {
	if lookbackDays <= 0 {
		lookbackDays = 100
	}
	return &Pipeline{
		store:        store,
		cat:          cat,
		docs:         docs,
		lin:          lin,
		reports:      reports,
		lookbackDays: lookbackDays,
	}
}

// fileCounters accumulates per-file outcomes.
type fileCounters struct {
	processed int64
	created   int64
	updated   int64
	deleted   int64
	skipped   int64
}

// Run ingests every file the catalogue discovers in the internal store, in
// timestamp order per dataset. The first fatal error aborts the run.
func (p *Pipeline) Run(ctx context.Context, r *report.ImportReport) error {
	sets, err := p.cat.ForDays(ctx, p.lookbackDays)
	if err != nil {
		return fmt.Errorf("discover file sets: %w", err)
	}

	now := time.Now().UTC()
	r.Ingestion.Status = report.StatusStarted
	r.Ingestion.StartedAt = &now
	if err := p.reports.Save(ctx, r); err != nil {
		return fmt.Errorf("save report: %w", err)
	}
	log.Printf("[ingest] import %s: %d files across %d datasets",
		r.ImportID, catalogue.TotalFiles(sets), len(sets))

	for _, set := range sets {
		for _, file := range set.Files {
			if err := ctx.Err(); err != nil {
				p.reports.FailImport(ctx, r, err)
				return err
			}
			if err := p.processFile(ctx, r, set.Definition, file); err != nil {
				r.Ingestion.Status = report.StatusFailed
				_ = p.reports.Save(ctx, r)
				return fmt.Errorf("ingest %s: %w", file.Key, err)
			}
			r.Ingestion.FilesProcessed++
			if err := p.reports.Save(ctx, r); err != nil {
				return fmt.Errorf("save report: %w", err)
			}
		}
	}

	done := time.Now().UTC()
	r.Ingestion.Status = report.StatusCompleted
	r.Ingestion.CompletedAt = &done
	if err := p.reports.Save(ctx, r); err != nil {
		return fmt.Errorf("save report: %w", err)
	}
	log.Printf("[ingest] import %s: %d files, %d created, %d updated, %d deleted",
		r.ImportID, r.Ingestion.FilesProcessed, r.Ingestion.RecordsCreated,
		r.Ingestion.RecordsUpdated, r.Ingestion.RecordsDeleted)
	return nil
}

// processFile spools one file to disk, validates its header and folds its
// rows into the collection in batches. Failures mark the file Failed and
// propagate.
func (p *Pipeline) processFile(ctx context.Context, r *report.ImportReport, def dataset.Definition, file catalogue.File) error {
	rec := &report.ImportFileRecord{
		ImportID:    r.ImportID,
		FileKey:     file.Key,
		DatasetName: def.Name,
		ETag:        blob.NormalizeETag(file.ETag),
		FileSize:    file.ContentLength,
	}
	details, err := p.ingestFile(ctx, r, def, file)
	if err != nil {
		p.reports.RecordFileFailure(ctx, rec, err)
		return err
	}

	rec.Status = report.FileIngested
	rec.Ingestion = details
	if err := p.reports.RecordFile(ctx, rec); err != nil {
		return fmt.Errorf("record ingestion: %w", err)
	}
	r.Ingestion.RecordsCreated += details.RecordsCreated
	r.Ingestion.RecordsUpdated += details.RecordsUpdated
	r.Ingestion.RecordsDeleted += details.RecordsDeleted
	log.Printf("[ingest] %s: %d rows (%d created, %d updated, %d deleted, %d skipped)",
		file.Key, details.RecordsProcessed, details.RecordsCreated,
		details.RecordsUpdated, details.RecordsDeleted, details.RecordsSkipped)
	return nil
}

func (p *Pipeline) ingestFile(ctx context.Context, r *report.ImportReport, def dataset.Definition, file catalogue.File) (*report.IngestionDetails, error) {
	path, downloadMS, err := p.downloadToTemp(ctx, file.Key)
	if err != nil {
		return nil, err
	}
	defer os.Remove(path)

	estimate, err := estimateRows(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open spooled file: %w", err)
	}
	defer f.Close()

	cr := csv.NewReader(f)
	cr.Comma = def.FieldDelimiter()
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = false

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	mapper, err := newRowMapper(def, header)
	if err != nil {
		return nil, err
	}

	if err := p.docs.EnsureCollection(ctx, def.Name); err != nil {
		return nil, err
	}

	tracker := NewTracker(file.Key, estimate)
	start := time.Now()
	var counters fileCounters
	batch := make([][]string, 0, bulkBatchSize)
	rowNums := make([]int64, 0, bulkBatchSize)
	var rowNum int64

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		err := p.processBatch(ctx, def, mapper, batch, rowNums, &counters, r.ImportID, file.Key)
		batch = batch[:0]
		rowNums = rowNums[:0]
		return err
	}

	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		rowNum++
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				counters.skipped++
				log.Printf("[ingest] %s: %v", file.Key, &RowError{Row: rowNum, Err: err})
				continue
			}
			return nil, fmt.Errorf("read row %d: %w", rowNum, err)
		}
		batch = append(batch, record)
		rowNums = append(rowNums, rowNum)
		if len(batch) >= bulkBatchSize {
			if err := flush(); err != nil {
				return nil, err
			}
		}
		if rowNum%progressEvery == 0 {
			tracker.Update(rowNum)
			r.Ingestion.CurrentFileStatus = tracker.Status()
			if err := p.reports.Save(ctx, r); err != nil {
				log.Printf("[ingest] save progress: %v", err)
			}
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	if err := p.lin.Flush(ctx); err != nil {
		return nil, err
	}

	tracker.Update(rowNum)
	tracker.Complete()
	r.Ingestion.CurrentFileStatus = tracker.Status()

	return &report.IngestionDetails{
		RecordsProcessed:   counters.processed,
		RecordsCreated:     counters.created,
		RecordsUpdated:     counters.updated,
		RecordsDeleted:     counters.deleted,
		RecordsSkipped:     counters.skipped,
		DownloadDurationMS: downloadMS,
		IngestDurationMS:   time.Since(start).Milliseconds(),
	}, nil
}

// processBatch resolves the batch's existing documents in one round-trip,
// folds each row into its target document and writes the final states with
// one bulk upsert. Lineage events are recorded only after the write lands.
func (p *Pipeline) processBatch(ctx context.Context, def dataset.Definition, mapper *rowMapper,
	batch [][]string, rowNums []int64, counters *fileCounters, importID, fileKey string) error {

	ids := make([]string, 0, len(batch))
	idByRow := make([]string, len(batch))
	for i, rec := range batch {
		id := mapper.id(rec)
		idByRow[i] = id
		ids = append(ids, id)
	}

	existing, err := p.docs.FindByIDs(ctx, def.Name, ids)
	if err != nil {
		return fmt.Errorf("find existing documents: %w", err)
	}

	// current carries each document's in-batch state so a later row in the
	// same batch sees the effect of an earlier one.
	current := make(map[string]docstore.Document, len(existing))
	for id, doc := range existing {
		current[id] = doc
	}

	type pendingEvent struct {
		recordID   string
		eventType  lineage.EventType
		changeType string
		eventTime  time.Time
		previous   map[string]interface{}
		next       map[string]interface{}
	}
	var events []pendingEvent
	var order []string
	touched := make(map[string]bool)

	base := time.Now().UTC()
	for i, rec := range batch {
		counters.processed++
		id := idByRow[i]
		// Event ids are keyed on time; spacing rows a microsecond apart keeps
		// them unique and in row order within the batch.
		evTime := base.Add(time.Duration(i) * time.Microsecond)
		prev := current[id]

		var next docstore.Document
		var evNext docstore.Document
		var evType lineage.EventType
		ct := mapper.changeType(rec)
		switch ct {
		case changeDelete:
			if prev == nil {
				counters.skipped++
				log.Printf("[ingest] %s: %v", fileKey, &RowError{Row: rowNums[i], Err: fmt.Errorf("delete for unknown record %s", id)})
				continue
			}
			// The document is soft-deleted in place; the event carries no new
			// values, only what the record looked like before.
			next = softDelete(prev, evTime)
			evNext = nil
			evType = lineage.EventDeleted
			counters.deleted++
		case changeInsert, changeUpdate:
			incoming := mapper.document(rec, id, evTime)
			next = mapper.mergeForUpsert(prev, incoming, evTime)
			evNext = next
			switch {
			case prev == nil:
				evType = lineage.EventCreated
				counters.created++
			case prev.IsDeleted():
				evType = lineage.EventUndeleted
				counters.updated++
			default:
				evType = lineage.EventUpdated
				counters.updated++
			}
		default:
			counters.skipped++
			log.Printf("[ingest] %s: %v", fileKey, &RowError{Row: rowNums[i], Err: fmt.Errorf("unknown change type %q", ct)})
			continue
		}

		if !touched[id] {
			touched[id] = true
			order = append(order, id)
		}
		current[id] = next
		events = append(events, pendingEvent{
			recordID:   id,
			eventType:  evType,
			changeType: ct,
			eventTime:  evTime,
			previous:   prev,
			next:       evNext,
		})
	}

	if len(order) == 0 {
		return nil
	}
	docs := make([]docstore.Document, 0, len(order))
	for _, id := range order {
		docs = append(docs, current[id])
	}
	if err := p.docs.BulkUpsert(ctx, def.Name, docs); err != nil {
		return fmt.Errorf("bulk upsert: %w", err)
	}

	for _, ev := range events {
		p.lin.Record(def.Name, ev.recordID, ev.eventType, importID, fileKey, ev.changeType,
			ev.eventTime, ev.previous, ev.next)
	}
	return p.lin.MaybeFlush(ctx)
}

// downloadToTemp spools the object body to a temp file so the CSV pass reads
// from local disk. The caller removes the file.
func (p *Pipeline) downloadToTemp(ctx context.Context, key string) (string, int64, error) {
	src, err := p.store.OpenRead(ctx, key)
	if err != nil {
		return "", 0, err
	}
	defer src.Close()

	tmp, err := os.CreateTemp("", "refsync-ingest-*.csv")
	if err != nil {
		return "", 0, fmt.Errorf("create temp file: %w", err)
	}

	start := time.Now()
	buf := make([]byte, downloadBufSize)
	_, err = io.CopyBuffer(tmp, src, buf)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return "", 0, fmt.Errorf("spool %s: %w", key, err)
	}
	return tmp.Name(), time.Since(start).Milliseconds(), nil
}

// estimateRows counts data rows by newline, excluding the header. A trailing
// line without a newline still counts.
func estimateRows(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open spooled file: %w", err)
	}
	defer f.Close()

	var lines int64
	var lastByte byte
	buf := make([]byte, downloadBufSize)
	for {
		n, err := f.Read(buf)
		for _, b := range buf[:n] {
			if b == '\n' {
				lines++
			}
		}
		if n > 0 {
			lastByte = buf[n-1]
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("count rows: %w", err)
		}
	}
	if lastByte != 0 && lastByte != '\n' {
		lines++
	}
	if lines > 0 {
		// Exclude the header.
		lines--
	}
	return lines, nil
}
