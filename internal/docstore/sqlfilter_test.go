package docstore

import (
	"testing"

	"github.com/agrimesh/refsync/internal/query"
)

func TestFilterSQLComparison(t *testing.T) {
	f, err := query.ParseFilter("Price gt 200")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	where, args, err := filterSQL(f, nil)
	if err != nil {
		t.Fatalf("filterSQL: %v", err)
	}
	want := "(doc #> $1::text[] > $2::jsonb)"
	if where != want {
		t.Fatalf("where = %q, want %q", where, want)
	}
	if len(args) != 2 {
		t.Fatalf("expected 2 args, got %d", len(args))
	}
	if args[1] != "200" {
		t.Fatalf("value arg = %v, want jsonb text 200", args[1])
	}
}

func TestFilterSQLStringAndLogical(t *testing.T) {
	f, err := query.ParseFilter("Category eq 'Electronics' and Price gt 200")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	where, args, err := filterSQL(f, nil)
	if err != nil {
		t.Fatalf("filterSQL: %v", err)
	}
	want := "((doc #> $1::text[] = $2::jsonb) AND (doc #> $3::text[] > $4::jsonb))"
	if where != want {
		t.Fatalf("where = %q", where)
	}
	if args[1] != `"Electronics"` {
		t.Fatalf("string constant serialized as %v", args[1])
	}
}

func TestFilterSQLNullSemantics(t *testing.T) {
	f, _ := query.ParseFilter("deleted_at eq null")
	where, args, err := filterSQL(f, nil)
	if err != nil {
		t.Fatalf("filterSQL: %v", err)
	}
	want := "(doc #> $1::text[] IS NULL OR doc #> $1::text[] = 'null'::jsonb)"
	if where != want {
		t.Fatalf("where = %q", where)
	}
	if len(args) != 1 {
		t.Fatalf("expected only the path arg, got %d", len(args))
	}

	f, _ = query.ParseFilter("deleted_at ne null")
	where, _, err = filterSQL(f, nil)
	if err != nil {
		t.Fatalf("filterSQL: %v", err)
	}
	want = "(doc #> $1::text[] IS NOT NULL AND doc #> $1::text[] <> 'null'::jsonb)"
	if where != want {
		t.Fatalf("where = %q", where)
	}
}

func TestFilterSQLTextMatchPattern(t *testing.T) {
	f, _ := query.ParseFilter("startswith(Name, 'Al.pha')")
	where, args, err := filterSQL(f, nil)
	if err != nil {
		t.Fatalf("filterSQL: %v", err)
	}
	if where != "(doc #>> $1::text[] ~* $2)" {
		t.Fatalf("where = %q", where)
	}
	// Regex metacharacters in the literal must be escaped, then anchored.
	if args[1] != `^Al\.pha` {
		t.Fatalf("pattern = %v", args[1])
	}
}

func TestFilterSQLEmptyAndNil(t *testing.T) {
	for _, f := range []query.Filter{nil, query.Empty{}} {
		where, args, err := filterSQL(f, nil)
		if err != nil {
			t.Fatalf("filterSQL: %v", err)
		}
		if where != "TRUE" || len(args) != 0 {
			t.Fatalf("where = %q args = %v", where, args)
		}
	}
}

func TestTableForValidatesNames(t *testing.T) {
	got, err := tableFor("Farms")
	if err != nil {
		t.Fatalf("tableFor: %v", err)
	}
	if got != "ds_farms" {
		t.Fatalf("tableFor = %q", got)
	}
	for _, bad := range []string{"", "1farms", "farms;drop", "farms table"} {
		if _, err := tableFor(bad); err == nil {
			t.Fatalf("tableFor(%q) accepted an invalid name", bad)
		}
	}
}
