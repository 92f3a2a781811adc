package components

import (
	"sort"
	"strconv"

	c "github.com/danmont/starpipe/constants"
	"github.com/danmont/starpipe/logger"
	"github.com/danmont/starpipe/rowio"
	"github.com/danmont/starpipe/schema"
	"github.com/danmont/starpipe/stream"
)

// CheckScd2Consistency scans a history-tracked dimension and returns one
// ConsistencyError per natural key that does not hold exactly one current row.
// Keys with zero rows at all are fine: they simply have not been loaded yet.
func CheckScd2Consistency(lookup rowio.Source, dim schema.Dimension) ([]rowio.ConsistencyError, error) {
	versions, err := readVersionRows(lookup, dim)
	if err != nil {
		return nil, err
	}
	violations := make([]rowio.ConsistencyError, 0)
	for natKey, rows := range versions {
		n := 0
		for _, rec := range rows {
			if isCurrentRow(rec) {
				n++
			}
		}
		if n != 1 {
			violations = append(violations, rowio.ConsistencyError{Dimension: dim.Table, NaturalKey: natKey, CurrentRows: n})
		}
	}
	sort.Slice(violations, func(i, j int) bool { return violations[i].NaturalKey < violations[j].NaturalKey })
	return violations, nil
}

// RepairScd2 restores the single-current invariant for every violating natural
// key and returns the number of rows rewritten:
//
//   - more than one current row: the version with the latest EFFECTIVE_FROM
//     stays current, the rest are closed with EFFECTIVE_TO one day before the
//     survivor starts.
//   - zero current rows with history present (a run crashed between closing
//     the old version and inserting its replacement): the latest version is
//     re-opened, so the next load re-detects and re-applies the lost change.
func RepairScd2(log logger.Logger, lookup rowio.Source, sink rowio.Sink, dim schema.Dimension) (int, error) {
	versions, err := readVersionRows(lookup, dim)
	if err != nil {
		return 0, err
	}
	versionKey := []string{dim.NaturalKey, c.ScdFieldEffectiveFrom}
	repairs := make([]stream.Record, 0)
	for natKey, rows := range versions {
		currents := make([]stream.Record, 0)
		for _, rec := range rows {
			if isCurrentRow(rec) {
				currents = append(currents, rec)
			}
		}
		if len(currents) == 1 {
			continue
		}
		// Latest EFFECTIVE_FROM wins; surrogate key breaks ties so the repair
		// is deterministic.
		sort.Slice(rows, func(i, j int) bool {
			fi := effectiveDate(rows[i].GetData(c.ScdFieldEffectiveFrom))
			fj := effectiveDate(rows[j].GetData(c.ScdFieldEffectiveFrom))
			if fi.Equal(fj) {
				return surrogateValue(rows[i].GetData(dim.SurrogateKey)) < surrogateValue(rows[j].GetData(dim.SurrogateKey))
			}
			return fi.Before(fj)
		})
		survivor := rows[len(rows)-1]
		survivorFrom := effectiveDate(survivor.GetData(c.ScdFieldEffectiveFrom))
		log.Warn("repairing dimension ", dim.Table, " natural key ", natKey,
			": ", len(currents), " current rows across ", len(rows), " versions")
		if !isCurrentRow(survivor) {
			reopened := stream.NewRecord()
			survivor.CopyTo(reopened)
			reopened.SetData(c.ScdFieldEffectiveTo, nil)
			reopened.SetData(c.ScdFieldIsCurrent, true)
			repairs = append(repairs, reopened)
		}
		for _, rec := range rows[:len(rows)-1] {
			if !isCurrentRow(rec) {
				continue
			}
			closed := stream.NewRecord()
			rec.CopyTo(closed)
			closed.SetData(c.ScdFieldEffectiveTo, survivorFrom.AddDate(0, 0, -1))
			closed.SetData(c.ScdFieldIsCurrent, false)
			repairs = append(repairs, closed)
		}
	}
	if len(repairs) == 0 {
		return 0, nil
	}
	return sink.Write(dim.Table, versionKey, repairs, rowio.ModeUpsert)
}

// surrogateValue renders a surrogate key column as int64 so tie-breaks
// compare numerically; surrogate keys are sequence-allocated integers
// whatever type the driver hands back.
func surrogateValue(v interface{}) int64 {
	if n, ok := v.(int64); ok {
		return n
	}
	n, _ := strconv.ParseInt(keyString(v), 10, 64)
	return n
}

// readVersionRows groups every version row in the dimension by natural key.
func readVersionRows(lookup rowio.Source, dim schema.Dimension) (map[string][]stream.Record, error) {
	rows, err := lookup.Read(dim.Table)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]stream.Record)
	for rec := range rows {
		natKey := keyString(rec.GetData(dim.NaturalKey))
		out[natKey] = append(out[natKey], rec)
	}
	return out, nil
}
