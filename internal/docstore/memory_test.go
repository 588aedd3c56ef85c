package docstore_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/agrimesh/refsync/internal/docstore"
	"github.com/agrimesh/refsync/internal/query"
)

func seedProducts(t *testing.T, store docstore.Store, n int) {
	t.Helper()
	ctx := context.Background()
	if err := store.EnsureCollection(ctx, "products"); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}
	var docs []docstore.Document
	for i := 0; i < n; i++ {
		docs = append(docs, docstore.Document{
			"_id":        fmt.Sprintf("P%03d", i),
			"ProductId":  fmt.Sprintf("P%03d", i),
			"Price":      int64(10 * (i + 1)),
			"Category":   []string{"Electronics", "Toys"}[i%2],
			"is_deleted": false,
		})
	}
	if err := store.BulkUpsert(ctx, "products", docs); err != nil {
		t.Fatalf("BulkUpsert: %v", err)
	}
}

func TestMemoryStoreUpsertAndFindByIDs(t *testing.T) {
	store := docstore.NewMemoryStore()
	seedProducts(t, store, 5)

	got, err := store.FindByIDs(context.Background(), "products", []string{"P000", "P003", "P999"})
	if err != nil {
		t.Fatalf("FindByIDs: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(got))
	}
	if got["P003"]["Price"] != int64(40) {
		t.Fatalf("P003 price = %v", got["P003"]["Price"])
	}

	// Returned documents are clones; mutating them must not touch the store.
	got["P000"]["Price"] = int64(0)
	again, _ := store.FindByIDs(context.Background(), "products", []string{"P000"})
	if again["P000"]["Price"] != int64(10) {
		t.Fatalf("store document mutated through a returned clone")
	}
}

func TestMemoryStoreFindFilterSortPage(t *testing.T) {
	store := docstore.NewMemoryStore()
	seedProducts(t, store, 20)

	filter, err := query.ParseFilter("Category eq 'Electronics' and Price gt 50")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	sort, _ := query.ParseSort("Price desc")

	docs, err := store.Find(context.Background(), "products", docstore.FindOptions{
		Filter: filter,
		Sort:   sort,
		Skip:   1,
		Top:    3,
	})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(docs) != 3 {
		t.Fatalf("expected 3 documents, got %d", len(docs))
	}
	// Matching prices descending are 190,170,...,70; skip 1 / top 3 is the
	// exact window below regardless of map iteration order.
	want := []int64{170, 150, 130}
	for i, d := range docs {
		if p := d["Price"].(int64); p != want[i] {
			t.Fatalf("page[%d] price = %d, want %d", i, p, want[i])
		}
		if d["Category"] != "Electronics" {
			t.Fatalf("document %v escapes the filter", d["_id"])
		}
	}
}

func TestMemoryStoreCount(t *testing.T) {
	store := docstore.NewMemoryStore()
	seedProducts(t, store, 10)

	filter, _ := query.ParseFilter("Category eq 'Toys'")
	n, err := store.Count(context.Background(), "products", filter)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 5 {
		t.Fatalf("Count = %d, want 5", n)
	}
}

func TestMemoryStoreDefaultIDSort(t *testing.T) {
	store := docstore.NewMemoryStore()
	seedProducts(t, store, 4)

	docs, err := store.Find(context.Background(), "products", docstore.FindOptions{})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	for i := 1; i < len(docs); i++ {
		if docs[i].ID() < docs[i-1].ID() {
			t.Fatalf("default order not by id")
		}
	}
}
