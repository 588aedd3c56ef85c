// package querysvc is the read facade over the document store: it parses the
// filter/sort/select expressions, bounds the page size and shapes the result
// envelope handed back to API callers.
package querysvc

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/agrimesh/refsync/internal/dataset"
	"github.com/agrimesh/refsync/internal/docstore"
	"github.com/agrimesh/refsync/internal/query"
)

const (
	// DefaultTop is the page size applied when the caller does not pass one.
	DefaultTop = 100

	// MaxTop caps the page size; larger requests are clamped, not rejected.
	MaxTop = 1000
)

// QueryError marks a request the caller can fix: unknown collection, bad
// filter syntax, invalid paging.
type QueryError struct {
	Msg string
	Err error
}

func (e *QueryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("query: %s: %v", e.Msg, e.Err)
	}
	return "query: " + e.Msg
}

func (e *QueryError) Unwrap() error { return e.Err }

// Request is one query against a collection, expressed in the wire syntax.
type Request struct {
	Collection string
	Filter     string
	OrderBy    string
	Select     string
	Skip       int
	Top        int
	Count      bool
}

// Result is the envelope returned to callers.
type Result struct {
	Collection string              `json:"collection"`
	Data       []docstore.Document `json:"data"`
	Count      int                 `json:"count"`
	TotalCount *int64              `json:"totalCount,omitempty"`
	Skip       int                 `json:"skip"`
	Top        int                 `json:"top"`
	Filter     string              `json:"filter,omitempty"`
	OrderBy    string              `json:"orderBy,omitempty"`
	Select     string              `json:"select,omitempty"`
	ExecutedAt time.Time           `json:"executedAt"`
}

// Service executes queries against registered collections only.
type Service struct {
	registry *dataset.Registry
	docs     docstore.Store
}

// New wires the facade.
func New(registry *dataset.Registry, docs docstore.Store) *Service {
	return &Service{registry: registry, docs: docs}
}

// Collections lists the queryable collection names.
func (s *Service) Collections() []string {
	defs := s.registry.All()
	names := make([]string, 0, len(defs))
	for _, d := range defs {
		names = append(names, strings.ToLower(d.Name))
	}
	return names
}

// Execute parses, bounds and runs one query.
func (s *Service) Execute(ctx context.Context, req Request) (*Result, error) {
	def, ok := s.registry.Lookup(req.Collection)
	if !ok {
		return nil, &QueryError{Msg: fmt.Sprintf("unknown collection %q", req.Collection)}
	}
	if req.Skip < 0 {
		return nil, &QueryError{Msg: "skip must not be negative"}
	}
	if req.Top < 0 {
		return nil, &QueryError{Msg: "top must not be negative"}
	}

	top := req.Top
	if top == 0 {
		top = DefaultTop
	}
	if top > MaxTop {
		log.Printf("[query] %s: top %d clamped to %d", def.Name, top, MaxTop)
		top = MaxTop
	}

	filter, err := query.ParseFilter(req.Filter)
	if err != nil {
		return nil, &QueryError{Msg: "invalid filter", Err: err}
	}
	sort, err := query.ParseSort(req.OrderBy)
	if err != nil {
		return nil, &QueryError{Msg: "invalid order by", Err: err}
	}
	projection := query.ParseSelect(req.Select)

	docs, err := s.docs.Find(ctx, def.Name, docstore.FindOptions{
		Filter: filter,
		Sort:   sort,
		Skip:   req.Skip,
		Top:    top,
	})
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", def.Name, err)
	}
	if docs == nil {
		docs = []docstore.Document{}
	}
	for i, d := range docs {
		docs[i] = docstore.Document(projection.Apply(d))
	}

	res := &Result{
		Collection: strings.ToLower(def.Name),
		Data:       docs,
		Count:      len(docs),
		Skip:       req.Skip,
		Top:        top,
		Filter:     req.Filter,
		OrderBy:    req.OrderBy,
		Select:     req.Select,
		ExecutedAt: time.Now().UTC(),
	}
	if req.Count {
		total, err := s.docs.Count(ctx, def.Name, filter)
		if err != nil {
			return nil, fmt.Errorf("count %s: %w", def.Name, err)
		}
		res.TotalCount = &total
	}
	return res, nil
}
