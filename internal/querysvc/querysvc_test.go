package querysvc_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/agrimesh/refsync/internal/dataset"
	"github.com/agrimesh/refsync/internal/docstore"
	"github.com/agrimesh/refsync/internal/querysvc"
)

func newService(t *testing.T) (*querysvc.Service, *docstore.MemoryStore) {
	t.Helper()
	reg, err := dataset.NewRegistry([]dataset.Definition{{
		Name:              "products",
		FilePrefixFormat:  "products/PRODUCT_{date}",
		DatePattern:       "20060102",
		DateTimePattern:   "20060102150405",
		PrimaryKeyHeaders: []string{"PRODUCT_ID"},
		ChangeTypeHeader:  "CHANGE_TYPE",
	}})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	docs := docstore.NewMemoryStore()
	return querysvc.New(reg, docs), docs
}

func seedProducts(t *testing.T, docs *docstore.MemoryStore, n int) {
	t.Helper()
	ctx := context.Background()
	if err := docs.EnsureCollection(ctx, "products"); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}
	batch := make([]docstore.Document, 0, n)
	categories := []string{"Electronics", "Toys", "Garden"}
	for i := 0; i < n; i++ {
		batch = append(batch, docstore.Document{
			"_id":       fmt.Sprintf("P%03d", i),
			"ProductId": fmt.Sprintf("P%03d", i),
			"Category":  categories[i%len(categories)],
			"Price":     int64(5 * (i + 1)),
			"Rating":    float64(i%5) + 0.5,
			"Name":      fmt.Sprintf("Product %03d", i),
		})
	}
	if err := docs.BulkUpsert(ctx, "products", batch); err != nil {
		t.Fatalf("BulkUpsert: %v", err)
	}
}

func TestExecuteFilterSortPageProject(t *testing.T) {
	svc, docs := newService(t)
	seedProducts(t, docs, 150)

	res, err := svc.Execute(context.Background(), querysvc.Request{
		Collection: "Products", // case-insensitive
		Filter:     "Category eq 'Electronics' and Price gt 200",
		OrderBy:    "Rating desc, Price asc",
		Select:     "ProductId,Price,Category",
		Skip:       5,
		Top:        15,
		Count:      true,
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if len(res.Data) > 15 || res.Count != len(res.Data) {
		t.Fatalf("page size = %d count = %d", len(res.Data), res.Count)
	}
	if res.TotalCount == nil || *res.TotalCount <= 15 {
		t.Fatalf("total count = %v", res.TotalCount)
	}
	if res.Skip != 5 || res.Top != 15 || res.Collection != "products" {
		t.Fatalf("envelope = %+v", res)
	}
	if res.ExecutedAt.IsZero() {
		t.Fatalf("executedAt not stamped")
	}

	for _, d := range res.Data {
		if len(d) != 3 {
			t.Fatalf("projection leaked fields: %v", d)
		}
		if d["Category"] != "Electronics" {
			t.Fatalf("filter violated: %v", d)
		}
		if price := d["Price"].(int64); price <= 200 {
			t.Fatalf("filter violated: price %d", price)
		}
	}

	// Rating is projected away above, so verify the compound order on an
	// unprojected run of the same query.
	res2, err := svc.Execute(context.Background(), querysvc.Request{
		Collection: "products",
		Filter:     "Category eq 'Electronics' and Price gt 200",
		OrderBy:    "Rating desc, Price asc",
		Skip:       5,
		Top:        15,
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	for i := 1; i < len(res2.Data); i++ {
		a, b := res2.Data[i-1], res2.Data[i]
		ra, rb := a["Rating"].(float64), b["Rating"].(float64)
		if rb > ra {
			t.Fatalf("not sorted by Rating desc")
		}
		if ra == rb && b["Price"].(int64) < a["Price"].(int64) {
			t.Fatalf("Price tiebreak not ascending")
		}
	}
}

func TestExecuteDefaultsAndClampsTop(t *testing.T) {
	svc, docs := newService(t)
	seedProducts(t, docs, 150)

	res, err := svc.Execute(context.Background(), querysvc.Request{Collection: "products"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Top != querysvc.DefaultTop || len(res.Data) != querysvc.DefaultTop {
		t.Fatalf("default top = %d rows = %d", res.Top, len(res.Data))
	}

	res, err = svc.Execute(context.Background(), querysvc.Request{Collection: "products", Top: 5000})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Top != querysvc.MaxTop {
		t.Fatalf("top not clamped: %d", res.Top)
	}
}

func TestExecuteRejectsBadRequests(t *testing.T) {
	svc, docs := newService(t)
	seedProducts(t, docs, 3)

	cases := []querysvc.Request{
		{Collection: "nope"},
		{Collection: "products", Filter: "Price gt"},
		{Collection: "products", OrderBy: "Price sideways"},
		{Collection: "products", Skip: -1},
		{Collection: "products", Top: -5},
	}
	for _, req := range cases {
		_, err := svc.Execute(context.Background(), req)
		var qerr *querysvc.QueryError
		if !errors.As(err, &qerr) {
			t.Fatalf("request %+v: expected *QueryError, got %v", req, err)
		}
	}
}

func TestExecuteEmptyResultIsNotAnError(t *testing.T) {
	svc, docs := newService(t)
	seedProducts(t, docs, 3)

	res, err := svc.Execute(context.Background(), querysvc.Request{
		Collection: "products",
		Filter:     "Category eq 'NoSuchCategory'",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Data == nil || len(res.Data) != 0 {
		t.Fatalf("expected empty data slice, got %v", res.Data)
	}
}
