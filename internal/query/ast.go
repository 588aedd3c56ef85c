// package query defines the portable filter/sort/projection AST, the parsers
// that build it from user-supplied OData-subset expressions, and an in-memory
// evaluator. Store adapters translate the AST to their native primitives, so
// the grammar stays testable without any store.
package query

import (
	"fmt"
	"time"
)

// Error is the per-request query error kind: unsupported grammar, unknown
// collection, invalid paging. It surfaces to callers as a 4xx equivalent.
type Error struct {
	msg string
}

func (e *Error) Error() string { return "query: " + e.msg }

// Errorf builds a *Error.
func Errorf(format string, args ...interface{}) *Error {
	return &Error{msg: fmt.Sprintf(format, args...)}
}

// CompareOp is a primitive comparison operator.
type CompareOp string

const (
	OpEq CompareOp = "eq"
	OpNe CompareOp = "ne"
	OpGt CompareOp = "gt"
	OpGe CompareOp = "ge"
	OpLt CompareOp = "lt"
	OpLe CompareOp = "le"
)

// LogicalOp joins two filters.
type LogicalOp string

const (
	OpAnd LogicalOp = "and"
	OpOr  LogicalOp = "or"
)

// MatchKind is a case-insensitive text match flavor.
type MatchKind string

const (
	MatchContains   MatchKind = "contains"
	MatchStartsWith MatchKind = "startswith"
	MatchEndsWith   MatchKind = "endswith"
)

// Value is a typed constant operand: string, bool, int64, float64 or
// time.Time (UTC).
type Value struct {
	V interface{}
}

// Filter is the tagged filter variant. Implementations are Comparison,
// Logical, Not, TextMatch, In, Exists and Empty.
type Filter interface {
	isFilter()
}

// Comparison compares a (possibly nested, possibly open) property against a
// constant.
type Comparison struct {
	Field string
	Op    CompareOp
	Value Value
}

// Logical joins two sub-filters with and/or.
type Logical struct {
	Op    LogicalOp
	Left  Filter
	Right Filter
}

// Not inverts a sub-filter.
type Not struct {
	Inner Filter
}

// TextMatch is a case-insensitive anchored match on an escaped literal.
type TextMatch struct {
	Field string
	Kind  MatchKind
	Value string
}

// In matches when the property equals any of the listed constants.
type In struct {
	Field  string
	Values []Value
}

// Exists matches documents that carry the property (non-null).
type Exists struct {
	Field string
}

// Empty matches every document.
type Empty struct{}

func (Comparison) isFilter() {}
func (Logical) isFilter()    {}
func (Not) isFilter()        {}
func (TextMatch) isFilter()  {}
func (In) isFilter()         {}
func (Exists) isFilter()     {}
func (Empty) isFilter()      {}

// SortField orders by one field; SingleFieldSort in the portable model.
type SortField struct {
	Field string
	Desc  bool
}

// Sort is a compound ordering applied left to right.
type Sort []SortField

// String renders a value for diagnostics.
func (v Value) String() string {
	switch t := v.V.(type) {
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case string:
		return fmt.Sprintf("%q", t)
	default:
		return fmt.Sprintf("%v", t)
	}
}
