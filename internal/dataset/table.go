// Package dataset loads the uploaded sheet into a column-oriented numeric table.
// Identifier and date columns are recorded and dropped here so that everything
// downstream sees numeric feature columns plus the target only.
package dataset

import (
	"fmt"
	"strconv"
	"strings"

	"batchml/internal/common"
)

// Table is the raw input table after identifier columns were removed.
type Table struct {
	Target   string               // name of the target column
	Features []string             // numeric feature columns in file order
	Excluded []string             // identifier/date columns that were present and dropped
	Columns  map[string][]float64 // feature and target values, one slice per column
	Rows     int
}

// Options controls how raw records become a Table.
type Options struct {
	Target  string
	Exclude []string
}

// DefaultOptions returns the column conventions of the input sheet.
func DefaultOptions() Options {
	return Options{
		Target:  common.TargetColumn,
		Exclude: append([]string(nil), common.DefaultExcludeColumns...),
	}
}

func (o Options) withDefaults() Options {
	if o.Target == "" {
		o.Target = common.TargetColumn
	}
	if o.Exclude == nil {
		o.Exclude = append([]string(nil), common.DefaultExcludeColumns...)
	}
	return o
}

// New builds a table directly from numeric columns. Every column listed in
// features, plus target, must be present in cols and all must share one length.
func New(target string, features []string, cols map[string][]float64) (*Table, error) {
	y, ok := cols[target]
	if !ok {
		return nil, &common.SchemaError{Column: target, Reason: "target column is missing"}
	}

	t := &Table{
		Target:   target,
		Features: append([]string(nil), features...),
		Columns:  make(map[string][]float64, len(features)+1),
		Rows:     len(y),
	}
	t.Columns[target] = y

	for _, name := range features {
		if name == target {
			return nil, &common.SchemaError{Column: name, Reason: "target cannot be a feature"}
		}
		values, ok := cols[name]
		if !ok {
			return nil, &common.SchemaError{Column: name, Reason: "feature column is missing"}
		}
		if len(values) != t.Rows {
			return nil, &common.SchemaError{
				Column: name,
				Reason: fmt.Sprintf("has %d rows, target has %d", len(values), t.Rows),
			}
		}
		t.Columns[name] = values
	}

	return t, nil
}

// FromRecords parses a header plus string records (CSV or sheet rows).
// Excluded columns are dropped, the target column is required and every
// remaining cell must parse as a number.
func FromRecords(header []string, records [][]string, opts Options) (*Table, error) {
	opts = opts.withDefaults()

	if len(header) == 0 {
		return nil, &common.SchemaError{Reason: "empty header"}
	}

	exclude := make(map[string]bool, len(opts.Exclude))
	for _, name := range opts.Exclude {
		exclude[strings.TrimSpace(name)] = true
	}

	type column struct {
		name  string
		index int
	}

	var (
		numeric  []column
		excluded []string
		seen     = make(map[string]bool, len(header))
		hasTgt   bool
	)
	for i, raw := range header {
		name := strings.TrimSpace(raw)
		if name == "" {
			return nil, &common.SchemaError{Reason: fmt.Sprintf("header cell %d is empty", i+1)}
		}
		if seen[name] {
			return nil, &common.SchemaError{Column: name, Reason: "duplicate column"}
		}
		seen[name] = true

		if exclude[name] {
			excluded = append(excluded, name)
			continue
		}
		if name == opts.Target {
			hasTgt = true
		}
		numeric = append(numeric, column{name: name, index: i})
	}
	if !hasTgt {
		return nil, &common.SchemaError{Column: opts.Target, Reason: "target column is missing"}
	}

	records = trimBlankTail(records)

	cols := make(map[string][]float64, len(numeric))
	for _, c := range numeric {
		cols[c.name] = make([]float64, 0, len(records))
	}

	for r, record := range records {
		for _, c := range numeric {
			cell := ""
			if c.index < len(record) {
				cell = strings.TrimSpace(record[c.index])
			}
			v, err := parseCell(cell)
			if err != nil {
				// +2: one for the header, one for 1-based rows
				return nil, &common.SchemaError{Column: c.name, Row: r + 2, Reason: err.Error()}
			}
			cols[c.name] = append(cols[c.name], v)
		}
	}

	features := make([]string, 0, len(numeric)-1)
	for _, c := range numeric {
		if c.name != opts.Target {
			features = append(features, c.name)
		}
	}

	t, err := New(opts.Target, features, cols)
	if err != nil {
		return nil, err
	}
	t.Excluded = excluded
	return t, nil
}

// Column returns the values of a feature or target column.
func (t *Table) Column(name string) ([]float64, bool) {
	v, ok := t.Columns[name]
	return v, ok
}

// TargetValues returns the target column.
func (t *Table) TargetValues() []float64 {
	return t.Columns[t.Target]
}

func parseCell(cell string) (float64, error) {
	if cell == "" {
		return 0, fmt.Errorf("empty cell")
	}
	v, err := strconv.ParseFloat(cell, 64)
	if err != nil {
		return 0, fmt.Errorf("not numeric: %q", cell)
	}
	return v, nil
}

func trimBlankTail(records [][]string) [][]string {
	end := len(records)
	for end > 0 && isBlank(records[end-1]) {
		end--
	}
	return records[:end]
}

func isBlank(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
