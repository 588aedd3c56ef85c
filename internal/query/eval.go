package query

import (
	"sort"
	"strings"
	"time"
)

// Matches evaluates a filter against a flat-or-nested document in memory.
// Field lookup is case-insensitive; dots descend into nested maps.
func Matches(f Filter, doc map[string]interface{}) bool {
	switch n := f.(type) {
	case Empty:
		return true
	case Logical:
		if n.Op == OpAnd {
			return Matches(n.Left, doc) && Matches(n.Right, doc)
		}
		return Matches(n.Left, doc) || Matches(n.Right, doc)
	case Not:
		return !Matches(n.Inner, doc)
	case Comparison:
		got, ok := Field(doc, n.Field)
		if !ok {
			// Absent fields only satisfy ne and eq-null comparisons.
			if n.Value.V == nil {
				return n.Op == OpEq
			}
			return n.Op == OpNe
		}
		if n.Value.V == nil {
			switch n.Op {
			case OpEq:
				return got == nil
			case OpNe:
				return got != nil
			default:
				return false
			}
		}
		cmp, comparable := compareValues(got, n.Value.V)
		if !comparable {
			return n.Op == OpNe
		}
		switch n.Op {
		case OpEq:
			return cmp == 0
		case OpNe:
			return cmp != 0
		case OpGt:
			return cmp > 0
		case OpGe:
			return cmp >= 0
		case OpLt:
			return cmp < 0
		case OpLe:
			return cmp <= 0
		}
		return false
	case TextMatch:
		got, ok := Field(doc, n.Field)
		if !ok {
			return false
		}
		s, ok := got.(string)
		if !ok {
			return false
		}
		s = strings.ToLower(s)
		needle := strings.ToLower(n.Value)
		switch n.Kind {
		case MatchContains:
			return strings.Contains(s, needle)
		case MatchStartsWith:
			return strings.HasPrefix(s, needle)
		case MatchEndsWith:
			return strings.HasSuffix(s, needle)
		}
		return false
	case In:
		got, ok := Field(doc, n.Field)
		if !ok {
			return false
		}
		for _, v := range n.Values {
			if cmp, comparable := compareValues(got, v.V); comparable && cmp == 0 {
				return true
			}
		}
		return false
	case Exists:
		got, ok := Field(doc, n.Field)
		return ok && got != nil
	default:
		return false
	}
}

// Field resolves a possibly dotted field path case-insensitively.
func Field(doc map[string]interface{}, path string) (interface{}, bool) {
	cur := doc
	parts := strings.Split(path, ".")
	for i, part := range parts {
		var (
			val   interface{}
			found bool
		)
		for k, v := range cur {
			if strings.EqualFold(k, part) {
				val, found = v, true
				break
			}
		}
		if !found {
			return nil, false
		}
		if i == len(parts)-1 {
			return val, true
		}
		next, ok := val.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur = next
	}
	return nil, false
}

// compareValues orders two scalar values of possibly different concrete
// types. Numbers compare numerically across int/float; strings bytewise;
// times chronologically; bools with false < true.
func compareValues(a, b interface{}) (int, bool) {
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			switch {
			case af < bf:
				return -1, true
			case af > bf:
				return 1, true
			default:
				return 0, true
			}
		}
		return 0, false
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		if !ok {
			if bt, isTime := b.(time.Time); isTime {
				// Ingested timestamps round-trip as RFC3339 strings.
				if at, err := time.Parse(time.RFC3339Nano, av); err == nil {
					return compareTimes(at, bt), true
				}
			}
			return 0, false
		}
		return strings.Compare(av, bv), true
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case av == bv:
			return 0, true
		case !av:
			return -1, true
		default:
			return 1, true
		}
	case time.Time:
		switch bv := b.(type) {
		case time.Time:
			return compareTimes(av, bv), true
		case string:
			if bt, err := time.Parse(time.RFC3339Nano, bv); err == nil {
				return compareTimes(av, bt), true
			}
		}
		return 0, false
	default:
		return 0, false
	}
}

func compareTimes(a, b time.Time) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	default:
		return 0
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// SortDocs orders documents in place by the compound sort. Missing fields
// sort first ascending.
func SortDocs(docs []map[string]interface{}, s Sort) {
	if len(s) == 0 {
		return
	}
	sort.SliceStable(docs, func(i, j int) bool {
		for _, sf := range s {
			av, aok := Field(docs[i], sf.Field)
			bv, bok := Field(docs[j], sf.Field)
			var cmp int
			switch {
			case !aok && !bok:
				cmp = 0
			case !aok:
				cmp = -1
			case !bok:
				cmp = 1
			default:
				var comparable bool
				cmp, comparable = compareValues(av, bv)
				if !comparable {
					cmp = 0
				}
			}
			if cmp == 0 {
				continue
			}
			if sf.Desc {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
}
