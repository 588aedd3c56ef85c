package query

import (
	"regexp"
	"strings"
)

// ParseSort parses a comma-separated "field [asc|desc]" list. A nil Sort
// means no ordering was requested.
func ParseSort(input string) (Sort, error) {
	if strings.TrimSpace(input) == "" {
		return nil, nil
	}
	var sort Sort
	for _, clause := range strings.Split(input, ",") {
		parts := strings.Fields(clause)
		if len(parts) == 0 || len(parts) > 2 || !fieldNameRE.MatchString(parts[0]) {
			return nil, Errorf("invalid order by clause %q", strings.TrimSpace(clause))
		}
		sf := SortField{Field: parts[0]}
		if len(parts) == 2 {
			switch strings.ToLower(parts[1]) {
			case "asc":
			case "desc":
				sf.Desc = true
			default:
				return nil, Errorf("invalid sort direction %q", parts[1])
			}
		}
		sort = append(sort, sf)
	}
	return sort, nil
}

// fieldNameRE admits selectable field names: leading letter or underscore,
// then letters, digits, underscores or dots.
var fieldNameRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`)

// Projection is the parsed select list. A nil Projection keeps every field.
type Projection []string

// ParseSelect parses a comma-separated field list. Names that do not match
// the field-name shape are dropped; unknown names are not an error.
func ParseSelect(input string) Projection {
	if strings.TrimSpace(input) == "" {
		return nil
	}
	var proj Projection
	for _, name := range strings.Split(input, ",") {
		name = strings.TrimSpace(name)
		if name == "" || !fieldNameRE.MatchString(name) {
			continue
		}
		proj = append(proj, name)
	}
	return proj
}

// Apply projects a document: a field survives when it matches a selected name
// case-insensitively, or when a selected name is a "root." prefix of it. The
// nested root itself is kept whole when selected.
func (p Projection) Apply(doc map[string]interface{}) map[string]interface{} {
	if p == nil {
		return doc
	}
	out := make(map[string]interface{}, len(p))
	for k, v := range doc {
		if p.selects(k) {
			out[k] = v
		}
	}
	return out
}

func (p Projection) selects(field string) bool {
	for _, name := range p {
		if strings.EqualFold(name, field) {
			return true
		}
		// Selecting the nested root keeps the whole subtree.
		if strings.HasPrefix(strings.ToLower(field), strings.ToLower(name)+".") {
			return true
		}
		// Selecting "root.child" keeps the root so the nested value stays reachable.
		if strings.HasPrefix(strings.ToLower(name), strings.ToLower(field)+".") {
			return true
		}
	}
	return false
}
