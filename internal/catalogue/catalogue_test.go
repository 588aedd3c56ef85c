package catalogue_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/agrimesh/refsync/internal/blob"
	"github.com/agrimesh/refsync/internal/catalogue"
	"github.com/agrimesh/refsync/internal/dataset"
)

func testRegistry(t *testing.T) *dataset.Registry {
	t.Helper()
	reg, err := dataset.NewRegistry([]dataset.Definition{{
		Name:              "farms",
		FilePrefixFormat:  "farms/FARM_{date}",
		DatePattern:       "20060102",
		DateTimePattern:   "20060102150405",
		PrimaryKeyHeaders: []string{"REGION", "FARM_ID"},
		ChangeTypeHeader:  "CHANGE_TYPE",
	}})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return reg
}

func TestParseTimestamp(t *testing.T) {
	def := dataset.Definition{DateTimePattern: "20060102150405"}

	ts, err := catalogue.ParseTimestamp(def, "farms/FARM_20240105_20240105093000.csv.enc")
	if err != nil {
		t.Fatalf("ParseTimestamp error: %v", err)
	}
	want := time.Date(2024, 1, 5, 9, 30, 0, 0, time.UTC)
	if !ts.Equal(want) {
		t.Fatalf("timestamp %v, want %v", ts, want)
	}

	// Extra trailing characters after the 14 digits are tolerated.
	if _, err := catalogue.ParseTimestamp(def, "farms/FARM_20240105093000v2.csv"); err != nil {
		t.Fatalf("ParseTimestamp with suffix: %v", err)
	}
}

func TestParseTimestampRejectsMalformedKeys(t *testing.T) {
	def := dataset.Definition{DateTimePattern: "20060102150405"}
	for _, key := range []string{
		"farms/FARM_NODATE.csv",
		"farms/FARM_2024.csv",
		"farms/FARM_20241399999999.csv",
	} {
		_, err := catalogue.ParseTimestamp(def, key)
		var cerr *catalogue.Error
		if !errors.As(err, &cerr) {
			t.Fatalf("key %q: expected *catalogue.Error, got %v", key, err)
		}
	}
}

func TestForRangeOrdersFilesByTimestamp(t *testing.T) {
	store := blob.NewMemoryStore("")
	day := time.Now().UTC().Format("20060102")
	// Seeded newest first; the catalogue must hand them back oldest first.
	store.Put("farms/FARM_"+day+"150000.csv", []byte("newest"), "text/csv")
	store.Put("farms/FARM_"+day+"090000.csv", []byte("oldest"), "text/csv")
	store.Put("farms/FARM_"+day+"120000.csv", []byte("middle"), "text/csv")

	svc := catalogue.New(store, testRegistry(t))
	sets, err := svc.ForDays(context.Background(), 1)
	if err != nil {
		t.Fatalf("ForDays error: %v", err)
	}
	if len(sets) != 1 {
		t.Fatalf("expected 1 set, got %d", len(sets))
	}
	files := sets[0].Files
	if len(files) != 3 {
		t.Fatalf("expected 3 files, got %d", len(files))
	}
	for i := 1; i < len(files); i++ {
		if files[i].Timestamp.Before(files[i-1].Timestamp) {
			t.Fatalf("files out of order: %v after %v", files[i].Timestamp, files[i-1].Timestamp)
		}
	}
	if catalogue.TotalFiles(sets) != 3 {
		t.Fatalf("TotalFiles = %d, want 3", catalogue.TotalFiles(sets))
	}
}

func TestForRangeSpansDays(t *testing.T) {
	store := blob.NewMemoryStore("")
	store.Put("farms/FARM_20240101_20240101120000.csv", []byte("a"), "text/csv")
	store.Put("farms/FARM_20240102_20240102120000.csv", []byte("b"), "text/csv")
	store.Put("farms/FARM_20240110_20240110120000.csv", []byte("out of range"), "text/csv")

	svc := catalogue.New(store, testRegistry(t))
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 1, 2, 23, 0, 0, 0, time.UTC)
	sets, err := svc.ForRange(context.Background(), from, to)
	if err != nil {
		t.Fatalf("ForRange error: %v", err)
	}
	if got := catalogue.TotalFiles(sets); got != 2 {
		t.Fatalf("TotalFiles = %d, want 2", got)
	}
}

func TestForRangeFailsOnUnparseableKey(t *testing.T) {
	store := blob.NewMemoryStore("")
	day := time.Now().UTC().Format("20060102")
	store.Put("farms/FARM_"+day+"090000.csv", []byte("good"), "text/csv")
	store.Put("farms/FARM_"+day+"bad.csv", []byte("bad"), "text/csv")

	svc := catalogue.New(store, testRegistry(t))
	_, err := svc.ForDays(context.Background(), 1)
	var cerr *catalogue.Error
	if !errors.As(err, &cerr) {
		t.Fatalf("expected *catalogue.Error, got %v", err)
	}
}
