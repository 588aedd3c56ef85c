// package docstore is the document-database abstraction the ingestion
// pipeline and the query facade write to and read from. The production
// implementation keeps one Postgres table per collection with the whole
// document as a JSONB column; a memory implementation backs tests.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/agrimesh/refsync/internal/query"
)

// Document is one stored document. The "_id" field is the primary key and is
// always a string.
type Document map[string]interface{}

// ID returns the document's primary key.
func (d Document) ID() string {
	id, _ := d["_id"].(string)
	return id
}

// IsDeleted reports the document's soft-delete flag.
func (d Document) IsDeleted() bool {
	del, _ := d["is_deleted"].(bool)
	return del
}

// Clone returns a deep copy via a JSON round-trip.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	raw, err := json.Marshal(d)
	if err != nil {
		// Documents originate from JSON; a marshal failure means a caller bug.
		panic(fmt.Sprintf("docstore: clone: %v", err))
	}
	out, err := decodeDocument(raw)
	if err != nil {
		panic(fmt.Sprintf("docstore: clone: %v", err))
	}
	return out
}

// FindOptions shapes a Find call.
type FindOptions struct {
	Filter query.Filter
	Sort   query.Sort
	Skip   int
	Top    int
}

// Store is the capability set both pipeline and facade depend on.
type Store interface {
	// EnsureCollection idempotently creates the collection and its wildcard
	// index. Index-creation failures are tolerated and logged.
	EnsureCollection(ctx context.Context, collection string) error

	// FindByIDs fetches the listed documents in a single round-trip, keyed by id.
	FindByIDs(ctx context.Context, collection string, ids []string) (map[string]Document, error)

	// BulkUpsert writes the documents with unordered semantics: rows are
	// independent and a conflict on one does not block the others.
	BulkUpsert(ctx context.Context, collection string, docs []Document) error

	// Find runs a filtered, sorted, paginated query.
	Find(ctx context.Context, collection string, opts FindOptions) ([]Document, error)

	// Count counts documents matching the filter.
	Count(ctx context.Context, collection string, filter query.Filter) (int64, error)

	// Ping validates the store is reachable.
	Ping(ctx context.Context) error
}

// ErrInvalidCollection is returned for collection names that cannot be used
// as identifiers.
var ErrInvalidCollection = errors.New("docstore: invalid collection name")

var collectionNameRE = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// tableFor maps a collection name onto its backing table. Names are
// validated before interpolation into SQL.
func tableFor(collection string) (string, error) {
	name := strings.ToLower(collection)
	if !collectionNameRE.MatchString(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidCollection, collection)
	}
	return "ds_" + name, nil
}

// decodeDocument unmarshals JSONB bytes keeping integer fields integral.
func decodeDocument(raw []byte) (Document, error) {
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	var generic map[string]interface{}
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return Document(normalizeValue(generic).(map[string]interface{})), nil
}

// normalizeValue rewrites json.Number leaves to int64 when integral, float64
// otherwise, recursing through nested maps and lists.
func normalizeValue(v interface{}) interface{} {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil && !strings.ContainsAny(t.String(), ".eE") {
			return n
		}
		f, _ := t.Float64()
		return f
	case map[string]interface{}:
		for k, vv := range t {
			t[k] = normalizeValue(vv)
		}
		return t
	case []interface{}:
		for i, vv := range t {
			t[i] = normalizeValue(vv)
		}
		return t
	default:
		return v
	}
}
