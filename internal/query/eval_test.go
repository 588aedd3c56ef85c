package query_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agrimesh/refsync/internal/query"
)

func mustFilter(t *testing.T, in string) query.Filter {
	t.Helper()
	f, err := query.ParseFilter(in)
	if err != nil {
		t.Fatalf("ParseFilter(%q): %v", in, err)
	}
	return f
}

func TestMatchesComparisons(t *testing.T) {
	doc := map[string]interface{}{
		"Category": "Electronics",
		"Price":    int64(250),
		"Rating":   4.5,
		"Archived": false,
		"Note":     nil,
	}

	cases := []struct {
		filter string
		want   bool
	}{
		{"Category eq 'Electronics'", true},
		{"Category ne 'Toys'", true},
		{"Price gt 200", true},
		{"Price gt 250", false},
		{"Price ge 250", true},
		{"Price lt 300 and Rating ge 4.5", true},
		{"Rating gt 4", true}, // float field vs int literal
		{"Archived eq false", true},
		{"Note eq null", true},
		{"Note ne null", false},
		{"Missing eq null", true},
		{"Missing ne 'x'", true},
		{"Missing eq 'x'", false},
		{"Category eq 'Electronics' or Price lt 0", true},
		{"not Category eq 'Toys'", true},
	}
	for _, tc := range cases {
		got := query.Matches(mustFilter(t, tc.filter), doc)
		assert.Equal(t, tc.want, got, tc.filter)
	}
}

func TestMatchesTextFunctions(t *testing.T) {
	doc := map[string]interface{}{"Name": "Alpha Farmstead"}

	assert.True(t, query.Matches(mustFilter(t, "contains(Name, 'farm')"), doc))
	assert.True(t, query.Matches(mustFilter(t, "startswith(Name, 'alpha')"), doc))
	assert.True(t, query.Matches(mustFilter(t, "endswith(Name, 'stead')"), doc))
	assert.False(t, query.Matches(mustFilter(t, "contains(Name, 'zzz')"), doc))
	assert.False(t, query.Matches(mustFilter(t, "contains(Missing, 'a')"), doc))
}

func TestMatchesDateTimeAgainstStringField(t *testing.T) {
	// Ingested audit timestamps are stored as RFC3339 strings.
	doc := map[string]interface{}{"updated_at": "2024-06-01T12:00:00Z"}

	assert.True(t, query.Matches(mustFilter(t, "updated_at ge datetime'2024-01-01T00:00:00Z'"), doc))
	assert.False(t, query.Matches(mustFilter(t, "updated_at lt datetime'2024-01-01T00:00:00Z'"), doc))
}

func TestFieldNestedAndCaseInsensitive(t *testing.T) {
	doc := map[string]interface{}{
		"Address": map[string]interface{}{"City": "Oslo"},
	}
	v, ok := query.Field(doc, "address.city")
	assert.True(t, ok)
	assert.Equal(t, "Oslo", v)

	_, ok = query.Field(doc, "address.zip")
	assert.False(t, ok)
	_, ok = query.Field(doc, "address.city.block")
	assert.False(t, ok)
}

func TestSortDocsCompound(t *testing.T) {
	docs := []map[string]interface{}{
		{"_id": "a", "Rating": 3.0, "Price": int64(10)},
		{"_id": "b", "Rating": 5.0, "Price": int64(30)},
		{"_id": "c", "Rating": 5.0, "Price": int64(20)},
		{"_id": "d", "Price": int64(5)}, // missing Rating sorts first ascending
	}
	sort, err := query.ParseSort("Rating desc, Price asc")
	assert.NoError(t, err)
	// Desc flips the missing-first rule too.
	query.SortDocs(docs, sort)

	var ids []string
	for _, d := range docs {
		ids = append(ids, d["_id"].(string))
	}
	assert.Equal(t, []string{"c", "b", "a", "d"}, ids)
}

func TestSortDocsStable(t *testing.T) {
	docs := []map[string]interface{}{
		{"_id": "x", "Rating": 1.0},
		{"_id": "y", "Rating": 1.0},
		{"_id": "z", "Rating": 1.0},
	}
	sort, _ := query.ParseSort("Rating asc")
	query.SortDocs(docs, sort)
	assert.Equal(t, "x", docs[0]["_id"])
	assert.Equal(t, "y", docs[1]["_id"])
	assert.Equal(t, "z", docs[2]["_id"])
}
