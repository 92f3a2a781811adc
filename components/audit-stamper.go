package components

import (
	"sync/atomic"
	"time"

	c "github.com/danmont/starpipe/constants"
	"github.com/danmont/starpipe/logger"
	"github.com/danmont/starpipe/schema"
	"github.com/danmont/starpipe/stats"
	"github.com/danmont/starpipe/stream"
)

type AuditStamperConfig struct {
	Log            logger.Logger
	Name           string
	InputChan      chan stream.Record
	Staging        schema.StagingTable
	OriginTag      string           // stamped as CREATED_BY on every staged row.
	BatchId        string           // stamped as BATCH_ID; identifies partial extracts of an aborted run.
	Clock          func() time.Time // current-date source; defaults to time.Now.
	Summary        *stats.LoadSummary
	StepWatcher    *stats.StepWatcher
	WaitCounter    ComponentWaiter
	PanicHandlerFn PanicHandlerFunc
}

// NewAuditStamper normalises incoming column names to upper case, validates each
// row against the staging table's expected column set and stamps the provenance
// columns CREATED_BY, CREATED_DT and BATCH_ID.
// Rows missing a required column are rejected and counted, never silently
// dropped; the pipeline reports the count of rejected rows at end of run.
func NewAuditStamper(i interface{}) (outputChan chan stream.Record, controlChan chan ControlAction) {
	cfg := i.(*AuditStamperConfig)
	if cfg.OriginTag == "" {
		cfg.Log.Panic(cfg.Name, " missing origin tag")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
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
		loadDate := truncateToDate(clock())
		var controlAction ControlAction
		for { // for each row of input...
			select {
			case rec, ok := <-cfg.InputChan:
				if !ok { // if the input channel was closed...
					cfg.InputChan = nil
				} else {
					atomic.AddInt64(&rowCount, 1)
					if cfg.Summary != nil {
						cfg.Summary.AddProcessed(cfg.Name, 1)
					}
					staged := rec.NormaliseKeysToUpper()
					if err := cfg.Staging.Validate(staged); err != nil { // if a required column is absent...
						cfg.Log.Warn(cfg.Name, " rejecting row: ", err)
						if cfg.Summary != nil {
							cfg.Summary.AddRejected(cfg.Name, stats.RejectKindSchema, 1)
						}
						break
					}
					staged.SetData(c.AuditFieldCreatedBy, cfg.OriginTag)
					staged.SetData(c.AuditFieldCreatedDt, loadDate)
					staged.SetData(c.AuditFieldBatchId, cfg.BatchId)
					if recSentOK := safeSend(staged, outputChan, controlChan, sendNilControlResponse); !recSentOK {
						cfg.Log.Info(cfg.Name, " shutdown")
						return
					}
				}
			case controlAction = <-controlChan: // if we were asked to shutdown...
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
		close(outputChan)
		cfg.Log.Info(cfg.Name, " complete")
	}()
	return
}

// truncateToDate drops the time-of-day component so audit and effective dates
// compare at calendar-day grain.
func truncateToDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
