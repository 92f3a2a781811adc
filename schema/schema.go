// Package schema declares the expected shape of staged tables and the
// definitions of warehouse dimensions and facts. Staged rows are validated
// against an explicit expected-column set rather than assuming fixed source
// structure, so drifted or missing columns are rejected and reported instead
// of silently coerced.
package schema

import (
	om "github.com/cevaris/ordered_map"
	h "github.com/danmont/starpipe/helper"
	"github.com/danmont/starpipe/rowio"
	"github.com/danmont/starpipe/stream"
)

// StagingTable maps an operational source table to its staged counterpart.
// RequiredColumns holds the upper-case column names every staged row must
// carry after normalisation.
type StagingTable struct {
	SourceName      string
	StagedName      string
	RequiredColumns []string
}

// KeyColumn returns the natural key of the staged table. By convention it is
// the first required column; staging upserts on it so re-running an extract
// never duplicates staged rows.
func (s StagingTable) KeyColumn() string {
	return s.RequiredColumns[0]
}

// Validate checks rec (already upper-case normalised) against the required
// column set. The first missing column is reported as a SchemaError.
func (s StagingTable) Validate(rec stream.Record) error {
	for _, col := range s.RequiredColumns {
		if !rec.HasData(col) {
			return &rowio.SchemaError{Table: s.SourceName, Column: col, Reason: "required column missing"}
		}
	}
	return nil
}

// Dimension describes one warehouse dimension table.
// Tracked dimensions keep attribute history (new row per change); untracked
// dimensions are insert-only and slowly growing.
type Dimension struct {
	Table        string   // warehouse table name
	Namespace    string   // surrogate key sequence namespace (one per dimension)
	SurrogateKey string   // surrogate key column
	NaturalKey   string   // business key column from the staged source
	StagedSource string   // staged table the dimension loads from
	Attributes   []string // attribute columns carried onto the dimension row
	Tracked      bool     // history-tracked (new row per attribute change)
}

// TrackedAttributeMap builds the ordered compare-key map used for attribute
// change detection on history-tracked dimensions.
func (d Dimension) TrackedAttributeMap() *om.OrderedMap {
	out := om.NewOrderedMap()
	for _, attr := range d.Attributes {
		out.Set(attr, attr)
	}
	return out
}

// Fact describes the fact table at transaction grain.
type Fact struct {
	Table        string
	Namespace    string
	SurrogateKey string
	NaturalKey   string // transaction natural key used for idempotent re-load
}

// NormaliseColumns upper-cases a column list in place and returns it, keeping
// table definitions tolerant of mixed-case configuration.
func NormaliseColumns(cols []string) []string {
	for i, c := range cols {
		cols[i] = h.ToUpperTrimmed(c)
	}
	return cols
}
