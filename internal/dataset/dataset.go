// package dataset holds the static definitions of the reference datasets the
// engine ingests. Definitions are loaded once at startup and immutable after.
package dataset

import (
	"fmt"
	"strings"
	"time"
)

// Definition describes one logical dataset: where its files live in the drop
// folder, how their names encode dates, and how its CSV rows map to documents.
type Definition struct {
	// Name is the target collection name.
	Name string

	// FilePrefixFormat is a template with one {date} slot, e.g. "farms/FARM_{date}".
	FilePrefixFormat string

	// DatePattern is the Go layout for the date portion of filenames, e.g. "20060102".
	DatePattern string

	// DateTimePattern is the Go layout for the trailing 14-digit run timestamp.
	DateTimePattern string

	// PrimaryKeyHeaders are the CSV columns whose values compose the document id,
	// in order.
	PrimaryKeyHeaders []string

	// ChangeTypeHeader is the CSV column carrying the I/U/D change code.
	ChangeTypeHeader string

	// Accumulators are the CSV columns whose values are unioned across updates
	// instead of overwritten.
	Accumulators map[string]bool

	// Delimiter is the CSV field separator; pipe when zero.
	Delimiter rune
}

// PrefixFor substitutes date into the file prefix template.
func (d Definition) PrefixFor(date time.Time) string {
	return strings.ReplaceAll(d.FilePrefixFormat, "{date}", date.UTC().Format(d.DatePattern))
}

// FieldDelimiter returns the CSV separator, defaulting to pipe.
func (d Definition) FieldDelimiter() rune {
	if d.Delimiter == 0 {
		return '|'
	}
	return d.Delimiter
}

// IsAccumulator reports whether the column's values are set-unioned.
func (d Definition) IsAccumulator(header string) bool {
	return d.Accumulators[header]
}

// Validate checks the definition is complete enough to drive a run.
func (d Definition) Validate() error {
	switch {
	case d.Name == "":
		return fmt.Errorf("dataset: name required")
	case !strings.Contains(d.FilePrefixFormat, "{date}"):
		return fmt.Errorf("dataset %s: file prefix format must contain {date}", d.Name)
	case d.DatePattern == "":
		return fmt.Errorf("dataset %s: date pattern required", d.Name)
	case d.DateTimePattern == "":
		return fmt.Errorf("dataset %s: datetime pattern required", d.Name)
	case len(d.PrimaryKeyHeaders) == 0:
		return fmt.Errorf("dataset %s: at least one primary key header required", d.Name)
	case d.ChangeTypeHeader == "":
		return fmt.Errorf("dataset %s: change type header required", d.Name)
	}
	return nil
}

// Registry is the immutable set of definitions loaded at startup.
type Registry struct {
	byName map[string]Definition
	order  []Definition
}

// NewRegistry validates and indexes the definitions. A missing or empty set
// is a fatal configuration error.
func NewRegistry(defs []Definition) (*Registry, error) {
	if len(defs) == 0 {
		return nil, fmt.Errorf("dataset: no definitions configured")
	}
	r := &Registry{byName: make(map[string]Definition, len(defs))}
	for _, d := range defs {
		if err := d.Validate(); err != nil {
			return nil, err
		}
		key := strings.ToLower(d.Name)
		if _, dup := r.byName[key]; dup {
			return nil, fmt.Errorf("dataset: duplicate definition %q", d.Name)
		}
		r.byName[key] = d
		r.order = append(r.order, d)
	}
	return r, nil
}

// All returns the definitions in declaration order.
func (r *Registry) All() []Definition {
	return append([]Definition(nil), r.order...)
}

// Lookup finds a definition by collection name, case-insensitively.
func (r *Registry) Lookup(name string) (Definition, bool) {
	d, ok := r.byName[strings.ToLower(name)]
	return d, ok
}
