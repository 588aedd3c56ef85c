package ingest

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/agrimesh/refsync/internal/dataset"
	"github.com/agrimesh/refsync/internal/docstore"
)

// idDelimiter joins composite primary key values into one document id.
const idDelimiter = "__"

// SchemaError reports a CSV header that does not carry the columns the
// dataset definition requires. It aborts the file.
type SchemaError struct {
	Dataset   string
	Missing   []string
	Available []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("ingest: %s: header missing columns %v (available: %v)",
		e.Dataset, e.Missing, e.Available)
}

// RowError reports one malformed row. The row is skipped, the file continues.
type RowError struct {
	Row int64
	Err error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("ingest: row %d: %v", e.Row, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }

// rowMapper binds a dataset definition to one file's header, resolving the
// column positions used to build document ids and change types.
type rowMapper struct {
	def       dataset.Definition
	headers   []string
	keyIdx    []int
	changeIdx int
}

// newRowMapper validates the header against the definition. Headers are
// unquoted and trimmed before matching; matching is case-insensitive.
func newRowMapper(def dataset.Definition, rawHeaders []string) (*rowMapper, error) {
	headers := make([]string, len(rawHeaders))
	pos := make(map[string]int, len(rawHeaders))
	for i, h := range rawHeaders {
		h = strings.TrimSpace(strings.Trim(strings.TrimSpace(h), `"`))
		headers[i] = h
		pos[strings.ToLower(h)] = i
	}

	m := &rowMapper{def: def, headers: headers, changeIdx: -1}
	var missing []string
	for _, key := range def.PrimaryKeyHeaders {
		i, ok := pos[strings.ToLower(key)]
		if !ok {
			missing = append(missing, key)
			continue
		}
		m.keyIdx = append(m.keyIdx, i)
	}
	if i, ok := pos[strings.ToLower(def.ChangeTypeHeader)]; ok {
		m.changeIdx = i
	} else {
		missing = append(missing, def.ChangeTypeHeader)
	}
	if len(missing) > 0 {
		return nil, &SchemaError{Dataset: def.Name, Missing: missing, Available: headers}
	}
	return m, nil
}

// id composes the document id from the primary key values, in definition
// order. Empty key parts are kept as-is, so a row with a blank leading key
// column still yields a stable id like "__F002".
func (m *rowMapper) id(rec []string) string {
	parts := make([]string, 0, len(m.keyIdx))
	for _, i := range m.keyIdx {
		var v string
		if i < len(rec) {
			v = rec[i]
		}
		parts = append(parts, v)
	}
	return strings.Join(parts, idDelimiter)
}

// changeType returns the row's change code, uppercased.
func (m *rowMapper) changeType(rec []string) string {
	if m.changeIdx >= len(rec) {
		return ""
	}
	return strings.ToUpper(strings.TrimSpace(rec[m.changeIdx]))
}

// document builds a fresh document from one row: scalar columns become
// fields (empty → null), accumulator columns become single-element or empty
// arrays, and the audit fields are stamped.
func (m *rowMapper) document(rec []string, id string, now time.Time) docstore.Document {
	doc := docstore.Document{
		"_id":        id,
		"created_at": now.Format(time.RFC3339Nano),
		"updated_at": now.Format(time.RFC3339Nano),
		"is_deleted": false,
	}
	for i, h := range m.headers {
		if i == m.changeIdx || h == "" {
			continue
		}
		var v string
		if i < len(rec) {
			v = rec[i]
		}
		if m.def.IsAccumulator(h) {
			if v == "" {
				doc[h] = []interface{}{}
			} else {
				doc[h] = []interface{}{v}
			}
			continue
		}
		if v == "" {
			doc[h] = nil
		} else {
			doc[h] = v
		}
	}
	return doc
}

// mergeForUpsert folds an incoming row into the existing document: scalar
// fields are overwritten, accumulator fields are set-unioned, and the
// document is undeleted if it was soft deleted. existing may be nil.
func (m *rowMapper) mergeForUpsert(existing, incoming docstore.Document, now time.Time) docstore.Document {
	if existing == nil {
		return incoming
	}
	merged := existing.Clone()
	for k, v := range incoming {
		switch k {
		case "_id", "created_at":
			continue
		}
		if m.def.IsAccumulator(k) {
			merged[k] = unionValues(merged[k], v)
			continue
		}
		merged[k] = v
	}
	merged["updated_at"] = now.Format(time.RFC3339Nano)
	merged["is_deleted"] = false
	delete(merged, "deleted_at")
	return merged
}

// softDelete marks the existing document deleted without touching its fields.
func softDelete(existing docstore.Document, now time.Time) docstore.Document {
	doc := existing.Clone()
	doc["is_deleted"] = true
	doc["deleted_at"] = now.Format(time.RFC3339Nano)
	doc["updated_at"] = now.Format(time.RFC3339Nano)
	return doc
}

// unionValues merges two accumulator values into one sorted, deduplicated
// array. Either side may be a scalar, an array, or absent.
func unionValues(existing, incoming interface{}) []interface{} {
	seen := make(map[string]bool)
	var out []interface{}
	var add func(v interface{})
	add = func(v interface{}) {
		switch t := v.(type) {
		case nil:
		case []interface{}:
			for _, e := range t {
				add(e)
			}
		default:
			key := fmt.Sprintf("%v", t)
			if key == "" || seen[key] {
				return
			}
			seen[key] = true
			out = append(out, t)
		}
	}
	add(existing)
	add(incoming)
	sort.Slice(out, func(i, j int) bool {
		return fmt.Sprintf("%v", out[i]) < fmt.Sprintf("%v", out[j])
	})
	if out == nil {
		return []interface{}{}
	}
	return out
}
