package ingest_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/agrimesh/refsync/internal/blob"
	"github.com/agrimesh/refsync/internal/catalogue"
	"github.com/agrimesh/refsync/internal/dataset"
	"github.com/agrimesh/refsync/internal/docstore"
	"github.com/agrimesh/refsync/internal/ingest"
	"github.com/agrimesh/refsync/internal/lineage"
	"github.com/agrimesh/refsync/internal/report"
)

type harness struct {
	store   *blob.MemoryStore
	docs    *docstore.MemoryStore
	lineage *lineage.MemoryStore
	reports *report.Service
	pipe    *ingest.Pipeline
}

func newHarness(t *testing.T, defs []dataset.Definition) *harness {
	t.Helper()
	reg, err := dataset.NewRegistry(defs)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	store := blob.NewMemoryStore("")
	docs := docstore.NewMemoryStore()
	lin := lineage.NewMemoryStore()
	reports := report.NewService(report.NewMemoryStore())
	pipe := ingest.New(store, catalogue.New(store, reg), docs, lineage.NewRecorder(lin, nil), reports, 1)
	return &harness{store: store, docs: docs, lineage: lin, reports: reports, pipe: pipe}
}

func farmsDef() dataset.Definition {
	return dataset.Definition{
		Name:              "farms",
		FilePrefixFormat:  "farms/FARM_{date}",
		DatePattern:       "20060102",
		DateTimePattern:   "20060102150405",
		PrimaryKeyHeaders: []string{"REGION", "FARM_ID"},
		ChangeTypeHeader:  "CHANGE_TYPE",
		Accumulators:      map[string]bool{"CERTIFICATIONS": true},
	}
}

// seedFile writes one snapshot for today with the given run time suffix.
func (h *harness) seedFile(hhmmss, body string) string {
	key := "farms/FARM_" + time.Now().UTC().Format("20060102") + hhmmss + ".csv"
	h.store.Put(key, []byte(body), "text/csv")
	return key
}

func (h *harness) run(t *testing.T, importID string) (*report.ImportReport, error) {
	t.Helper()
	r, err := h.reports.StartImport(context.Background(), importID, "memory")
	if err != nil {
		t.Fatalf("StartImport: %v", err)
	}
	return r, h.pipe.Run(context.Background(), r)
}

func (h *harness) doc(t *testing.T, id string) docstore.Document {
	t.Helper()
	got, err := h.docs.FindByIDs(context.Background(), "farms", []string{id})
	if err != nil {
		t.Fatalf("FindByIDs: %v", err)
	}
	doc, ok := got[id]
	if !ok {
		t.Fatalf("document %s not found", id)
	}
	return doc
}

func TestIngestInsertsNewRecords(t *testing.T) {
	h := newHarness(t, []dataset.Definition{farmsDef()})
	h.seedFile("090000", "REGION|FARM_ID|NAME|CHANGE_TYPE\nNORTH|F001|Alpha|I\nSOUTH|F002|Beta|I\n")

	r, err := h.run(t, "import-1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if r.Ingestion.Status != report.StatusCompleted {
		t.Fatalf("ingestion status = %s", r.Ingestion.Status)
	}
	if r.Ingestion.RecordsCreated != 2 || r.Ingestion.RecordsUpdated != 0 || r.Ingestion.RecordsDeleted != 0 {
		t.Fatalf("counters = %+v", r.Ingestion)
	}

	doc := h.doc(t, "NORTH__F001")
	if doc["NAME"] != "Alpha" || doc["REGION"] != "NORTH" {
		t.Fatalf("doc = %v", doc)
	}
	if doc.IsDeleted() {
		t.Fatalf("fresh insert must not be deleted")
	}
	if doc["created_at"] == nil || doc["updated_at"] == nil {
		t.Fatalf("audit fields missing: %v", doc)
	}
	if _, present := doc["deleted_at"]; present {
		t.Fatalf("deleted_at must be absent on active documents")
	}
	h.doc(t, "SOUTH__F002")

	lc, err := h.lineage.GetLifecycle(context.Background(), "farms", "NORTH__F001")
	if err != nil {
		t.Fatalf("GetLifecycle: %v", err)
	}
	if len(lc.Events) != 1 || lc.Events[0].EventType != lineage.EventCreated {
		t.Fatalf("lineage = %+v", lc.Events)
	}
	if lc.Parent.CurrentStatus != lineage.StatusActive {
		t.Fatalf("parent status = %s", lc.Parent.CurrentStatus)
	}
}

func TestIngestUpdatesOverwriteScalars(t *testing.T) {
	h := newHarness(t, []dataset.Definition{farmsDef()})
	h.seedFile("090000", "REGION|FARM_ID|NAME|CHANGE_TYPE\nNORTH|F001|Alpha|I\n")
	h.seedFile("100000", "REGION|FARM_ID|NAME|CHANGE_TYPE\nNORTH|F001|Alpha Renamed|U\n")

	r, err := h.run(t, "import-1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if r.Ingestion.RecordsCreated != 1 || r.Ingestion.RecordsUpdated != 1 {
		t.Fatalf("counters = %+v", r.Ingestion)
	}

	doc := h.doc(t, "NORTH__F001")
	if doc["NAME"] != "Alpha Renamed" {
		t.Fatalf("NAME = %v", doc["NAME"])
	}
	if doc["created_at"] == doc["updated_at"] {
		t.Fatalf("updated_at must move on update")
	}

	lc, _ := h.lineage.GetLifecycle(context.Background(), "farms", "NORTH__F001")
	if len(lc.Events) != 2 || lc.Events[1].EventType != lineage.EventUpdated {
		t.Fatalf("lineage = %+v", lc.Events)
	}
}

func TestIngestSoftDeleteThenUndelete(t *testing.T) {
	h := newHarness(t, []dataset.Definition{farmsDef()})
	h.seedFile("090000", "REGION|FARM_ID|NAME|CHANGE_TYPE\nNORTH|F001|Alpha|I\n")
	h.seedFile("100000", "REGION|FARM_ID|NAME|CHANGE_TYPE\nNORTH|F001||D\n")

	if _, err := h.run(t, "import-1"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	doc := h.doc(t, "NORTH__F001")
	if !doc.IsDeleted() {
		t.Fatalf("expected soft delete")
	}
	if doc["deleted_at"] == nil {
		t.Fatalf("deleted_at must be set on delete")
	}
	// The delete must not blank the record's fields.
	if doc["NAME"] != "Alpha" {
		t.Fatalf("delete blanked NAME: %v", doc["NAME"])
	}

	lc1, _ := h.lineage.GetLifecycle(context.Background(), "farms", "NORTH__F001")
	var del *lineage.Event
	for i := range lc1.Events {
		if lc1.Events[i].EventType == lineage.EventDeleted {
			del = &lc1.Events[i]
		}
	}
	if del == nil {
		t.Fatalf("no Deleted event recorded: %+v", lc1.Events)
	}
	if del.NewValues != nil {
		t.Fatalf("delete event must carry no new values: %v", del.NewValues)
	}
	if del.PreviousValues == nil || del.PreviousValues["NAME"] != "Alpha" {
		t.Fatalf("delete event previous values = %v", del.PreviousValues)
	}

	h.seedFile("110000", "REGION|FARM_ID|NAME|CHANGE_TYPE\nNORTH|F001|Alpha Revived|I\n")
	if _, err := h.run(t, "import-2"); err != nil {
		t.Fatalf("second run: %v", err)
	}
	doc = h.doc(t, "NORTH__F001")
	if doc.IsDeleted() {
		t.Fatalf("expected undelete")
	}
	if _, present := doc["deleted_at"]; present {
		t.Fatalf("deleted_at must be unset on undelete")
	}
	if doc["NAME"] != "Alpha Revived" {
		t.Fatalf("NAME = %v", doc["NAME"])
	}

	lc, _ := h.lineage.GetLifecycle(context.Background(), "farms", "NORTH__F001")
	types := make([]lineage.EventType, 0, len(lc.Events))
	for _, ev := range lc.Events {
		types = append(types, ev.EventType)
	}
	// Created and Deleted from the first run repeat on the second run's
	// replay of the same files, then Undeleted.
	if lc.Parent.CurrentStatus != lineage.StatusActive {
		t.Fatalf("parent status = %s after undelete", lc.Parent.CurrentStatus)
	}
	if types[len(types)-1] != lineage.EventUndeleted {
		t.Fatalf("last event = %v", types)
	}
}

func TestIngestAccumulatorUnion(t *testing.T) {
	h := newHarness(t, []dataset.Definition{farmsDef()})
	h.seedFile("090000", "REGION|FARM_ID|CERTIFICATIONS|CHANGE_TYPE\nNORTH|F001|organic|I\n")
	h.seedFile("100000", "REGION|FARM_ID|CERTIFICATIONS|CHANGE_TYPE\nNORTH|F001|fairtrade|U\nNORTH|F001|organic|U\n")

	if _, err := h.run(t, "import-1"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	doc := h.doc(t, "NORTH__F001")
	vals, ok := doc["CERTIFICATIONS"].([]interface{})
	if !ok {
		t.Fatalf("CERTIFICATIONS = %T", doc["CERTIFICATIONS"])
	}
	if len(vals) != 2 || vals[0] != "fairtrade" || vals[1] != "organic" {
		t.Fatalf("CERTIFICATIONS = %v", vals)
	}
}

func TestIngestEmptyScalarsBecomeNull(t *testing.T) {
	h := newHarness(t, []dataset.Definition{farmsDef()})
	h.seedFile("090000", "REGION|FARM_ID|NAME|CERTIFICATIONS|CHANGE_TYPE\nNORTH|F001|||I\n")

	if _, err := h.run(t, "import-1"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	doc := h.doc(t, "NORTH__F001")
	if v, present := doc["NAME"]; !present || v != nil {
		t.Fatalf("empty scalar must be stored as null, got %v", v)
	}
	if vals, ok := doc["CERTIFICATIONS"].([]interface{}); !ok || len(vals) != 0 {
		t.Fatalf("empty accumulator must be an empty array, got %v", doc["CERTIFICATIONS"])
	}
}

func TestIngestMissingPrimaryKeyColumnFailsFile(t *testing.T) {
	h := newHarness(t, []dataset.Definition{farmsDef()})
	h.seedFile("090000", "REGION|NAME|CHANGE_TYPE\nNORTH|Alpha|I\n")

	r, err := h.run(t, "import-1")
	if err == nil {
		t.Fatalf("expected schema error")
	}
	var serr *ingest.SchemaError
	if !errors.As(err, &serr) {
		t.Fatalf("expected *SchemaError, got %v", err)
	}
	if len(serr.Missing) != 1 || serr.Missing[0] != "FARM_ID" {
		t.Fatalf("missing = %v", serr.Missing)
	}
	if r.Ingestion.Status != report.StatusFailed {
		t.Fatalf("ingestion status = %s", r.Ingestion.Status)
	}

	n, _ := h.docs.Count(context.Background(), "farms", nil)
	if n != 0 {
		t.Fatalf("no documents may be written on schema failure, have %d", n)
	}
}

func TestIngestSkipsMalformedRows(t *testing.T) {
	h := newHarness(t, []dataset.Definition{farmsDef()})
	// Second row has an empty key part (kept, not skipped); third has an
	// unknown change code (skipped).
	h.seedFile("090000", strings.Join([]string{
		"REGION|FARM_ID|NAME|CHANGE_TYPE",
		"NORTH|F001|Alpha|I",
		"NORTH||Broken|I",
		"SOUTH|F002|Beta|X",
		"",
	}, "\n"))

	r, err := h.run(t, "import-1")
	if err != nil {
		t.Fatalf("malformed rows must not fail the file: %v", err)
	}
	if r.Ingestion.RecordsCreated != 2 {
		t.Fatalf("counters = %+v", r.Ingestion)
	}

	got, err := h.docs.FindByIDs(context.Background(), "farms", []string{"NORTH__F001", "NORTH__"})
	if err != nil {
		t.Fatalf("FindByIDs: %v", err)
	}
	if _, ok := got["NORTH__"]; !ok {
		t.Fatalf("empty key part must still produce a document, have %v", got)
	}
	n, _ := h.docs.Count(context.Background(), "farms", nil)
	if n != 2 {
		t.Fatalf("expected 2 documents, have %d", n)
	}
}

func TestIngestDeleteForUnknownRecordIsSkipped(t *testing.T) {
	h := newHarness(t, []dataset.Definition{farmsDef()})
	h.seedFile("090000", "REGION|FARM_ID|NAME|CHANGE_TYPE\nNORTH|F404||D\n")

	r, err := h.run(t, "import-1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if r.Ingestion.RecordsDeleted != 0 {
		t.Fatalf("counters = %+v", r.Ingestion)
	}
	n, _ := h.docs.Count(context.Background(), "farms", nil)
	if n != 0 {
		t.Fatalf("unexpected documents: %d", n)
	}
}
