package components

import (
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	c "github.com/danmont/starpipe/constants"
	"github.com/danmont/starpipe/logger"
	"github.com/danmont/starpipe/rowio"
	"github.com/danmont/starpipe/schema"
	"github.com/danmont/starpipe/stats"
	"github.com/danmont/starpipe/stream"
)

type FactLoaderConfig struct {
	Log            logger.Logger
	Name           string
	InputChan      chan stream.Record // staged invoice header rows.
	Fact           schema.Fact
	CustomerDim    schema.Dimension
	InvoiceDim     schema.Dimension
	ItemsTable     string // staged invoice line items, summed per invoice.
	Lookup         rowio.Source
	Sink           rowio.Sink
	Seq            rowio.Sequence
	BatchSize      int
	Summary        *stats.LoadSummary
	StepWatcher    *stats.StepWatcher
	WaitCounter    ComponentWaiter
	PanicHandlerFn PanicHandlerFunc
	ErrorChan      chan<- error
}

// NewFactLoader loads the invoice-grain sales fact. Per staged invoice it:
//
//   - skips the row if its INVOICE_ID is already in the fact table, which keeps
//     re-runs of the same batch idempotent.
//   - sums QUANTITY * UNIT_PRICE over the invoice's staged line items to get
//     the measure.
//   - resolves the current customer surrogate key, the invoice surrogate key
//     and the date and time keys from the invoice timestamp. A failed lookup
//     rejects the row and the run continues.
//
// Fact rows are insert-only: the loader never updates an existing fact row.
// Resolved rows are written to the sink in batches and passed downstream.
func NewFactLoader(i interface{}) (outputChan chan stream.Record, controlChan chan ControlAction) {
	cfg := i.(*FactLoaderConfig)
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = c.TableOutputBatchSizeDefault
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
		existing, err := readKeySet(cfg.Lookup, cfg.Fact.Table, cfg.Fact.NaturalKey, cfg.Log)
		if err != nil {
			fail(err)
			return
		}
		amounts, err := readInvoiceAmounts(cfg.Lookup, cfg.ItemsTable)
		if err != nil {
			fail(err)
			return
		}
		customerKeys, err := readCurrentSurrogates(cfg.Lookup, cfg.CustomerDim)
		if err != nil {
			fail(err)
			return
		}
		invoiceKeys, err := readSurrogates(cfg.Lookup, cfg.InvoiceDim)
		if err != nil {
			fail(err)
			return
		}
		dateKeys, err := readCalendarKeys(cfg.Lookup, schema.TableDimDate, schema.ColCalDate, schema.ColDateKey)
		if err != nil {
			fail(err)
			return
		}
		timeKeys, err := readCalendarKeys(cfg.Lookup, schema.TableDimTime, schema.ColTime24h, schema.ColTimeKey)
		if err != nil {
			fail(err)
			return
		}
		reject := func(invoiceID, dimension string, value interface{}) {
			lerr := &rowio.LookupError{Dimension: dimension, Value: fmt.Sprintf("%v", value)}
			cfg.Log.Warn(cfg.Name, " rejecting invoice ", invoiceID, ": ", lerr)
			if cfg.Summary != nil {
				cfg.Summary.AddRejected(cfg.Name, stats.RejectKindLookup, 1)
			}
		}
		batch := make([]stream.Record, 0, batchSize)
		flush := func() bool {
			if len(batch) == 0 {
				return true
			}
			n, err := cfg.Sink.Write(cfg.Fact.Table, []string{cfg.Fact.NaturalKey}, batch, rowio.ModeInsert)
			if err != nil {
				fail(err)
				return false
			}
			if cfg.Summary != nil {
				cfg.Summary.AddWritten(cfg.Name, int64(n))
			}
			for _, rec := range batch {
				if recSentOK := safeSend(rec, outputChan, controlChan, sendNilControlResponse); !recSentOK {
					cfg.Log.Info(cfg.Name, " shutdown")
					return false
				}
			}
			batch = batch[:0]
			return true
		}
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
					invoiceID := keyString(rec.GetData(cfg.Fact.NaturalKey))
					if existing[invoiceID] { // already in the fact table...
						continue
					}
					custKey, ok := customerKeys[keyString(rec.GetData(cfg.CustomerDim.NaturalKey))]
					if !ok {
						reject(invoiceID, cfg.CustomerDim.Table, rec.GetData(cfg.CustomerDim.NaturalKey))
						continue
					}
					invKey, ok := invoiceKeys[invoiceID]
					if !ok {
						reject(invoiceID, cfg.InvoiceDim.Table, invoiceID)
						continue
					}
					when := asDateTime(rec.GetData("INVOICE_DATE"))
					dateKey, ok := dateKeys[when.Format(c.DateFormatCalendar)]
					if !ok {
						reject(invoiceID, schema.TableDimDate, when.Format(c.DateFormatCalendar))
						continue
					}
					timeKey, ok := timeKeys[when.Format(c.TimeFormat24h)]
					if !ok {
						reject(invoiceID, schema.TableDimTime, when.Format(c.TimeFormat24h))
						continue
					}
					surrogate, err := cfg.Seq.Next(cfg.Fact.Namespace)
					if err != nil {
						fail(err)
						return
					}
					fact := stream.NewRecord()
					fact.SetData(cfg.Fact.SurrogateKey, surrogate)
					fact.SetData(cfg.CustomerDim.SurrogateKey, custKey)
					fact.SetData(cfg.InvoiceDim.SurrogateKey, invKey)
					fact.SetData(schema.ColDateKey, dateKey)
					fact.SetData(schema.ColTimeKey, timeKey)
					fact.SetData(cfg.Fact.NaturalKey, rec.GetData(cfg.Fact.NaturalKey))
					fact.SetData("TOTAL_AMOUNT", amounts[invoiceID])
					copyAuditFields(rec, fact)
					existing[invoiceID] = true // batch-local dedup.
					batch = append(batch, fact)
					if len(batch) >= batchSize {
						if !flush() {
							return
						}
					}
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
		if !flush() {
			return
		}
		close(outputChan)
		cfg.Log.Info(cfg.Name, " complete")
	}()
	return
}

// readInvoiceAmounts sums QUANTITY * UNIT_PRICE per invoice over the staged
// line items.
func readInvoiceAmounts(lookup rowio.Source, itemsTable string) (map[string]float64, error) {
	rows, err := lookup.Read(itemsTable)
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64)
	for rec := range rows {
		invoiceID := keyString(rec.GetData("INVOICE_ID"))
		out[invoiceID] += asFloat(rec.GetData("QUANTITY")) * asFloat(rec.GetData("UNIT_PRICE"))
	}
	return out, nil
}

// readSurrogates maps natural key to surrogate key over every row of a
// dimension.
func readSurrogates(lookup rowio.Source, dim schema.Dimension) (map[string]interface{}, error) {
	rows, err := lookup.Read(dim.Table)
	if err != nil {
		return nil, err
	}
	out := make(map[string]interface{})
	for rec := range rows {
		out[keyString(rec.GetData(dim.NaturalKey))] = rec.GetData(dim.SurrogateKey)
	}
	return out, nil
}

// readCurrentSurrogates maps natural key to surrogate key over the current
// rows of a history-tracked dimension.
func readCurrentSurrogates(lookup rowio.Source, dim schema.Dimension) (map[string]interface{}, error) {
	rows, err := lookup.Read(dim.Table)
	if err != nil {
		return nil, err
	}
	out := make(map[string]interface{})
	for rec := range rows {
		if isCurrentRow(rec) {
			out[keyString(rec.GetData(dim.NaturalKey))] = rec.GetData(dim.SurrogateKey)
		}
	}
	return out, nil
}

// readCalendarKeys maps the formatted lookup column of a calendar dimension to
// its surrogate key.
func readCalendarKeys(lookup rowio.Source, table, lookupCol, keyCol string) (map[string]interface{}, error) {
	rows, err := lookup.Read(table)
	if err != nil {
		return nil, err
	}
	out := make(map[string]interface{})
	for rec := range rows {
		var k string
		switch v := rec.GetData(lookupCol).(type) {
		case time.Time:
			if lookupCol == schema.ColTime24h {
				k = v.Format(c.TimeFormat24h)
			} else {
				k = v.Format(c.DateFormatCalendar)
			}
		default:
			k = keyString(v)
		}
		out[k] = rec.GetData(keyCol)
	}
	return out, nil
}

func copyAuditFields(src, dst stream.Record) {
	for _, field := range []string{c.AuditFieldCreatedBy, c.AuditFieldCreatedDt, c.AuditFieldBatchId} {
		if v, ok := src.GetDataOk(field); ok {
			dst.SetData(field, v)
		}
	}
}

// asDateTime coerces a stored timestamp to time.Time. Drivers deliver
// datetimes as time.Time, string or raw bytes depending on DSN options.
func asDateTime(v interface{}) time.Time {
	switch d := v.(type) {
	case time.Time:
		return d
	case string:
		return parseDateTimeString(d)
	case []uint8:
		return parseDateTimeString(string(d))
	default:
		return time.Time{}
	}
}

func parseDateTimeString(s string) time.Time {
	for _, layout := range []string{"2006-01-02 15:04:05", time.RFC3339, c.DateFormatCalendar} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func asFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case string:
		f, _ := strconv.ParseFloat(n, 64)
		return f
	case []uint8:
		f, _ := strconv.ParseFloat(string(n), 64)
		return f
	default:
		return 0
	}
}
