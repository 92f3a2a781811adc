package components

import (
	"sync/atomic"
	"time"

	om "github.com/cevaris/ordered_map"
	c "github.com/danmont/starpipe/constants"
	"github.com/danmont/starpipe/logger"
	"github.com/danmont/starpipe/rowio"
	"github.com/danmont/starpipe/schema"
	"github.com/danmont/starpipe/stats"
	"github.com/danmont/starpipe/stream"
)

type Scd2LoaderConfig struct {
	Log            logger.Logger
	Name           string
	InputChan      chan stream.Record // staged rows for the history-tracked dimension.
	Dim            schema.Dimension
	Lookup         rowio.Source
	Sink           rowio.Sink
	Seq            rowio.Sequence
	Summary        *stats.LoadSummary
	StepWatcher    *stats.StepWatcher
	WaitCounter    ComponentWaiter
	PanicHandlerFn PanicHandlerFunc
	ErrorChan      chan<- error
}

// NewScd2Loader loads the history-tracked dimension with Type 2 semantics.
// Per natural key the state machine is NEW -> CURRENT -> (on change)
// SUPERSEDED + new CURRENT:
//
//   - first sighting: allocate a surrogate key, insert with
//     EFFECTIVE_FROM = load date, EFFECTIVE_TO = nil, IS_CURRENT = true.
//   - subsequent sighting with no tracked attribute changed: no-op.
//   - any tracked attribute changed: close the current row
//     (EFFECTIVE_TO = load date - 1 day, IS_CURRENT = false) and insert a new
//     row with a new surrogate key.
//
// This is a blocking step: the full input batch is drained and compacted per
// natural key first, so when a key changes more than once within one batch
// only the final state is materialised.
//
// Writes happen in two phases - all closing upserts, then all inserts - so a
// crash can never leave two current rows for a key; a key left with zero
// current rows is detected by the consistency pre-check on the next run and
// repaired via RepairScd2.
//
// The loader writes the sink itself and passes every written row to the output
// channel.
func NewScd2Loader(i interface{}) (outputChan chan stream.Record, controlChan chan ControlAction) {
	cfg := i.(*Scd2LoaderConfig)
	if !cfg.Dim.Tracked {
		cfg.Log.Panic(cfg.Name, " dimension ", cfg.Dim.Table, " is not history-tracked")
	}
	outputChan = make(chan stream.Record, c.ChanSize)
	controlChan = make(chan ControlAction, 1)
	go func() {
		if cfg.PanicHandlerFn != nil {
			defer cfg.PanicHandlerFn()
		}
		cfg.Log.Info(cfg.Name, " is running")
		if cfg.WaitCounter != nil {
			cfg.WaitCounter.Add()
			defer cfg.WaitCounter.Done()
		}
		rowCount := int64(0)
		if cfg.StepWatcher != nil {
			cfg.StepWatcher.StartWatching(&rowCount, &outputChan)
			defer cfg.StepWatcher.StopWatching()
		}
		fail := func(err error) {
			cfg.Log.Error(cfg.Name, " ", err)
			raiseError(cfg.ErrorChan, err)
			drainInput(cfg.InputChan) // unblock upstream so the stage can wind down.
			close(outputChan)
		}
		// Load existing dimension state and verify the single-current invariant
		// before mutating anything.
		current, err := readCurrentRows(cfg.Lookup, cfg.Dim)
		if err != nil {
			fail(err)
			return
		}
		// Drain and compact the batch: the final sighting of a natural key in
		// the batch wins; intermediate states are not materialised.
		finalState := om.NewOrderedMap()
		var controlAction ControlAction
		for {
			select {
			case rec, ok := <-cfg.InputChan:
				if !ok {
					cfg.InputChan = nil
				} else {
					atomic.AddInt64(&rowCount, 1)
					if cfg.Summary != nil {
						cfg.Summary.AddProcessed(cfg.Name, 1)
					}
					natKey := keyString(rec.GetData(cfg.Dim.NaturalKey))
					finalState.Set(natKey, rec)
				}
			case controlAction = <-controlChan:
			}
			if cfg.InputChan == nil || controlAction.Action == Shutdown {
				break
			}
		}
		if controlAction.Action == Shutdown {
			controlAction.ResponseChan <- nil
			cfg.Log.Info(cfg.Name, " shutdown")
			return
		}
		// Compare each compacted staged row against the current dimension row.
		compareKeys := cfg.Dim.TrackedAttributeMap()
		closes := make([]stream.Record, 0)
		inserts := make([]stream.Record, 0)
		iter := finalState.IterFunc()
		for kv, ok := iter(); ok; kv, ok = iter() { // for each natural key in the batch...
			natKey := kv.Key.(string)
			staged := kv.Value.(stream.Record)
			loadDate := effectiveDate(staged.GetData(c.AuditFieldCreatedDt))
			cur, exists := current[natKey]
			if exists {
				if cur.row.DataIsDeepEqual(cfg.Log, staged, compareKeys) { // no tracked attribute changed...
					continue
				}
				if loadDate.Before(cur.effectiveFrom) { // staged row predates the current version...
					cfg.Log.Warn(cfg.Name, " rejecting out-of-order row for natural key ", natKey,
						": staged load date ", loadDate.Format(c.DateFormatCalendar),
						" predates current row effective from ", cur.effectiveFrom.Format(c.DateFormatCalendar))
					if cfg.Summary != nil {
						cfg.Summary.AddRejected(cfg.Name, stats.RejectKindOrder, 1)
					}
					continue
				}
				// Close the superseded row: same surrogate key and effective
				// from, new effective-to one day before the new version starts.
				closed := stream.NewRecord()
				cur.row.CopyTo(closed)
				closed.SetData(c.ScdFieldEffectiveTo, loadDate.AddDate(0, 0, -1))
				closed.SetData(c.ScdFieldIsCurrent, false)
				closes = append(closes, closed)
			}
			surrogate, err := cfg.Seq.Next(cfg.Dim.Namespace)
			if err != nil {
				fail(err)
				return
			}
			next := buildDimensionRow(cfg.Dim, surrogate, staged)
			next.SetData(c.ScdFieldEffectiveFrom, loadDate)
			next.SetData(c.ScdFieldEffectiveTo, nil)
			next.SetData(c.ScdFieldIsCurrent, true)
			inserts = append(inserts, next)
		}
		// Phase 1: close superseded rows. The (natural key, effective from)
		// pair identifies one version row in the sink.
		versionKey := []string{cfg.Dim.NaturalKey, c.ScdFieldEffectiveFrom}
		if len(closes) > 0 {
			n, err := cfg.Sink.Write(cfg.Dim.Table, versionKey, closes, rowio.ModeUpsert)
			if err != nil {
				fail(err)
				return
			}
			if cfg.Summary != nil {
				cfg.Summary.AddWritten(cfg.Name, int64(n))
			}
		}
		// Phase 2: insert new current rows.
		if len(inserts) > 0 {
			n, err := cfg.Sink.Write(cfg.Dim.Table, versionKey, inserts, rowio.ModeInsert)
			if err != nil {
				fail(err)
				return
			}
			if cfg.Summary != nil {
				cfg.Summary.AddWritten(cfg.Name, int64(n))
			}
		}
		for _, rec := range append(closes, inserts...) {
			if recSentOK := safeSend(rec, outputChan, controlChan, sendNilControlResponse); !recSentOK {
				cfg.Log.Info(cfg.Name, " shutdown")
				return
			}
		}
		close(outputChan)
		cfg.Log.Info(cfg.Name, " complete")
	}()
	return
}

// currentRow holds the live version of a natural key.
type currentRow struct {
	row           stream.Record
	effectiveFrom time.Time
}

// readCurrentRows scans the dimension and returns the current row per natural
// key. A natural key holding zero or more than one current row fails with a
// ConsistencyError: the run must abort before mutating further state.
func readCurrentRows(lookup rowio.Source, dim schema.Dimension) (map[string]currentRow, error) {
	out := make(map[string]currentRow)
	counts := make(map[string]int)
	if lookup == nil {
		return out, nil
	}
	rows, err := lookup.Read(dim.Table)
	if err != nil {
		return nil, err
	}
	for rec := range rows {
		natKey := keyString(rec.GetData(dim.NaturalKey))
		if _, seen := counts[natKey]; !seen {
			counts[natKey] = 0
		}
		if isCurrentRow(rec) {
			counts[natKey]++
			out[natKey] = currentRow{
				row:           rec,
				effectiveFrom: effectiveDate(rec.GetData(c.ScdFieldEffectiveFrom)),
			}
		}
	}
	for natKey, n := range counts {
		if n != 1 {
			return nil, &rowio.ConsistencyError{Dimension: dim.Table, NaturalKey: natKey, CurrentRows: n}
		}
	}
	return out, nil
}

func isCurrentRow(rec stream.Record) bool {
	v, ok := rec.GetDataOk(c.ScdFieldIsCurrent)
	if !ok {
		return false
	}
	switch b := v.(type) {
	case bool:
		return b
	case int:
		return b != 0
	case int64:
		return b != 0
	case []uint8:
		return string(b) == "1" || string(b) == "true"
	case string:
		return b == "1" || b == "true"
	default:
		return false
	}
}

// effectiveDate coerces a stored date value to a time at calendar-day grain.
// Database drivers may deliver dates as time.Time, string or raw bytes.
func effectiveDate(v interface{}) time.Time {
	switch d := v.(type) {
	case time.Time:
		return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	case string:
		return parseDateString(d)
	case []uint8:
		return parseDateString(string(d))
	default:
		return time.Time{}
	}
}

func parseDateString(s string) time.Time {
	for _, layout := range []string{c.DateFormatCalendar, "2006-01-02 15:04:05", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		}
	}
	return time.Time{}
}
