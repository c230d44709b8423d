package models

import (
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/spf13/cast"
)

// Table is one ISS column-oriented block: a header row and data rows whose
// cells are string, float64 or nil.
type Table struct {
	Columns []string `json:"columns"`
	Data    [][]any  `json:"data"`
}

// Feed is a fetched snapshot: the securities reference table and the
// matching market-data table, row-aligned by SECID.
type Feed struct {
	Securities Table     `json:"securities"`
	MarketData Table     `json:"marketdata"`
	Boards     []string  `json:"boards"`
	FetchedAt  time.Time `json:"fetched_at"`
	Source     string    `json:"source"` // "direct", "proxy" or "cache"
}

// Index returns the position of the named column or -1 when absent.
func (t Table) Index(name string) int {
	for i, c := range t.Columns {
		if strings.EqualFold(c, name) {
			return i
		}
	}
	return -1
}

// Len is the number of data rows.
func (t Table) Len() int { return len(t.Data) }

// Append merges the rows of o into t, aligning o's columns to t's header.
// Columns of o missing from t are dropped; columns of t missing from o are nil.
// An empty t adopts o's header.
func (t *Table) Append(o Table) {
	if len(t.Columns) == 0 {
		t.Columns = append([]string(nil), o.Columns...)
	}
	pos := make([]int, len(t.Columns))
	for i, c := range t.Columns {
		pos[i] = o.Index(c)
	}
	for _, row := range o.Data {
		out := make([]any, len(t.Columns))
		for i, j := range pos {
			if j >= 0 && j < len(row) {
				out[i] = row[j]
			}
		}
		t.Data = append(t.Data, out)
	}
}

// Row is a view of one data row with column lookup through its table.
type Row struct {
	table *Table
	cells []any
}

// Row returns row i. Out-of-range indices yield an empty row.
func (t *Table) Row(i int) Row {
	if i < 0 || i >= len(t.Data) {
		return Row{table: t}
	}
	return Row{table: t, cells: t.Data[i]}
}

// Valid reports whether the row is backed by data.
func (r Row) Valid() bool { return r.table != nil && r.cells != nil }

// Raw returns the cell for the named column, or nil when the column or
// cell is absent.
func (r Row) Raw(col string) any {
	if r.table == nil {
		return nil
	}
	i := r.table.Index(col)
	if i < 0 || i >= len(r.cells) {
		return nil
	}
	return r.cells[i]
}

// String returns the cell as a trimmed string; absent cells are "".
func (r Row) String(col string) string {
	v := r.Raw(col)
	if v == nil {
		return ""
	}
	return strings.TrimSpace(cast.ToString(v))
}

// OptString returns nil for absent or empty cells.
func (r Row) OptString(col string) *string {
	s := r.String(col)
	if s == "" {
		return nil
	}
	return &s
}

// OptFloat returns nil for absent or non-numeric cells.
func (r Row) OptFloat(col string) *float64 {
	v := r.Raw(col)
	if v == nil {
		return nil
	}
	if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
		return nil
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return nil
	}
	return &f
}

// Float returns the cell as float64, or def when absent.
func (r Row) Float(col string, def float64) float64 {
	if f := r.OptFloat(col); f != nil {
		return *f
	}
	return def
}

// OptInt returns nil for absent or non-numeric cells.
func (r Row) OptInt(col string) *int {
	f := r.OptFloat(col)
	if f == nil {
		return nil
	}
	n := int(*f)
	return &n
}

// Int returns the cell as int, or def when absent.
func (r Row) Int(col string, def int) int {
	if n := r.OptInt(col); n != nil {
		return *n
	}
	return def
}

// OptDate parses an ISO date cell. ISS uses "0000-00-00" for "no date".
func (r Row) OptDate(col string) *civil.Date {
	s := r.String(col)
	if s == "" || strings.HasPrefix(s, "0000-") {
		return nil
	}
	d, err := civil.ParseDate(s)
	if err != nil || !d.IsValid() {
		return nil
	}
	return &d
}
