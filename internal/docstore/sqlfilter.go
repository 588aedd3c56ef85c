package docstore

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/agrimesh/refsync/internal/query"
)

// fieldPath turns a dotted field name into a jsonb path parameter, keeping
// field names out of the SQL text entirely.
func fieldPath(field string) interface{} {
	return pq.Array(strings.Split(field, "."))
}

// filterSQL renders the portable filter AST as a WHERE fragment over the
// jsonb document column. jsonb comparison keeps numbers numeric, so gt/lt on
// numeric fields behaves as callers expect.
func filterSQL(f query.Filter, args []interface{}) (string, []interface{}, error) {
	switch n := f.(type) {
	case nil:
		return "TRUE", args, nil
	case query.Empty:
		return "TRUE", args, nil
	case query.Logical:
		left, args, err := filterSQL(n.Left, args)
		if err != nil {
			return "", nil, err
		}
		right, args, err := filterSQL(n.Right, args)
		if err != nil {
			return "", nil, err
		}
		op := "AND"
		if n.Op == query.OpOr {
			op = "OR"
		}
		return fmt.Sprintf("(%s %s %s)", left, op, right), args, nil
	case query.Not:
		inner, args, err := filterSQL(n.Inner, args)
		if err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("(NOT %s)", inner), args, nil
	case query.Comparison:
		return comparisonSQL(n, args)
	case query.TextMatch:
		args = append(args, fieldPath(n.Field))
		pathIdx := len(args)
		args = append(args, matchPattern(n.Kind, n.Value))
		return fmt.Sprintf("(doc #>> $%d::text[] ~* $%d)", pathIdx, len(args)), args, nil
	case query.In:
		args = append(args, fieldPath(n.Field))
		pathIdx := len(args)
		vals := make([]string, 0, len(n.Values))
		for _, v := range n.Values {
			raw, err := jsonValue(v.V)
			if err != nil {
				return "", nil, err
			}
			vals = append(vals, raw)
		}
		args = append(args, pq.Array(vals))
		return fmt.Sprintf("(doc #> $%d::text[] = ANY($%d::jsonb[]))", pathIdx, len(args)), args, nil
	case query.Exists:
		args = append(args, fieldPath(n.Field))
		idx := len(args)
		return fmt.Sprintf("(doc #> $%d::text[] IS NOT NULL AND doc #> $%d::text[] <> 'null'::jsonb)", idx, idx), args, nil
	default:
		return "", nil, query.Errorf("unsupported filter node %T", f)
	}
}

func comparisonSQL(n query.Comparison, args []interface{}) (string, []interface{}, error) {
	args = append(args, fieldPath(n.Field))
	pathIdx := len(args)

	if n.Value.V == nil {
		switch n.Op {
		case query.OpEq:
			return fmt.Sprintf("(doc #> $%d::text[] IS NULL OR doc #> $%d::text[] = 'null'::jsonb)", pathIdx, pathIdx), args, nil
		case query.OpNe:
			return fmt.Sprintf("(doc #> $%d::text[] IS NOT NULL AND doc #> $%d::text[] <> 'null'::jsonb)", pathIdx, pathIdx), args, nil
		default:
			return "", nil, query.Errorf("null only supports eq/ne")
		}
	}

	raw, err := jsonValue(n.Value.V)
	if err != nil {
		return "", nil, err
	}
	args = append(args, raw)
	valIdx := len(args)

	switch n.Op {
	case query.OpEq:
		return fmt.Sprintf("(doc #> $%d::text[] = $%d::jsonb)", pathIdx, valIdx), args, nil
	case query.OpNe:
		// IS DISTINCT FROM keeps documents without the field in the result.
		return fmt.Sprintf("(doc #> $%d::text[] IS DISTINCT FROM $%d::jsonb)", pathIdx, valIdx), args, nil
	case query.OpGt:
		return fmt.Sprintf("(doc #> $%d::text[] > $%d::jsonb)", pathIdx, valIdx), args, nil
	case query.OpGe:
		return fmt.Sprintf("(doc #> $%d::text[] >= $%d::jsonb)", pathIdx, valIdx), args, nil
	case query.OpLt:
		return fmt.Sprintf("(doc #> $%d::text[] < $%d::jsonb)", pathIdx, valIdx), args, nil
	case query.OpLe:
		return fmt.Sprintf("(doc #> $%d::text[] <= $%d::jsonb)", pathIdx, valIdx), args, nil
	default:
		return "", nil, query.Errorf("unsupported comparison %q", n.Op)
	}
}

// matchPattern builds the anchored, escaped regex for a text-match node.
func matchPattern(kind query.MatchKind, literal string) string {
	quoted := regexp.QuoteMeta(literal)
	switch kind {
	case query.MatchStartsWith:
		return "^" + quoted
	case query.MatchEndsWith:
		return quoted + "$"
	default:
		return quoted
	}
}

// jsonValue serializes a constant as JSON text for a ::jsonb cast. Times are
// stored in documents as RFC3339 strings, so they compare as such.
func jsonValue(v interface{}) (string, error) {
	if t, ok := v.(time.Time); ok {
		v = t.UTC().Format(time.RFC3339Nano)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal constant: %w", err)
	}
	return string(raw), nil
}
