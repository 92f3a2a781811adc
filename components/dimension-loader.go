package components

import (
	"sync/atomic"

	c "github.com/danmont/starpipe/constants"
	"github.com/danmont/starpipe/logger"
	"github.com/danmont/starpipe/rowio"
	"github.com/danmont/starpipe/schema"
	"github.com/danmont/starpipe/stats"
	"github.com/danmont/starpipe/stream"
)

type DimensionLoaderConfig struct {
	Log            logger.Logger
	Name           string
	InputChan      chan stream.Record // staged rows for this dimension's source.
	Dim            schema.Dimension
	Lookup         rowio.Source // reads the current dimension contents for the existence check.
	Seq            rowio.Sequence
	Summary        *stats.LoadSummary
	StepWatcher    *stats.StepWatcher
	WaitCounter    ComponentWaiter
	PanicHandlerFn PanicHandlerFunc
	ErrorChan      chan<- error
}

// NewDimensionLoader implements the insert-only upsert dimensions (artist,
// album, invoice): for each staged row the natural key is checked against the
// existing dimension contents; unseen keys get a freshly allocated surrogate
// key and a new dimension row on the output channel, already-present keys are
// left untouched. Re-running with the same staged data emits nothing, so the
// load is idempotent by construction.
func NewDimensionLoader(i interface{}) (outputChan chan stream.Record, controlChan chan ControlAction) {
	cfg := i.(*DimensionLoaderConfig)
	if cfg.Dim.NaturalKey == "" || cfg.Dim.SurrogateKey == "" {
		cfg.Log.Panic(cfg.Name, " incomplete dimension definition for ", cfg.Dim.Table)
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
		// Existence check set: natural keys already present in the dimension.
		seen, err := readKeySet(cfg.Lookup, cfg.Dim.Table, cfg.Dim.NaturalKey, cfg.Log)
		if err != nil {
			cfg.Log.Error(cfg.Name, " failed to read existing dimension keys: ", err)
			raiseError(cfg.ErrorChan, err)
			drainInput(cfg.InputChan) // unblock upstream so the stage can wind down.
			close(outputChan)
			return
		}
		var controlAction ControlAction
		for { // for each staged row...
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
					if seen[natKey] { // natural key already present: leave untouched.
						break
					}
					seen[natKey] = true // also dedupes repeats within the batch.
					surrogate, err := cfg.Seq.Next(cfg.Dim.Namespace)
					if err != nil {
						cfg.Log.Error(cfg.Name, " failed to allocate surrogate key: ", err)
						raiseError(cfg.ErrorChan, err)
						drainInput(cfg.InputChan)
						close(outputChan)
						return
					}
					dimRow := buildDimensionRow(cfg.Dim, surrogate, rec)
					if recSentOK := safeSend(dimRow, outputChan, controlChan, sendNilControlResponse); !recSentOK {
						cfg.Log.Info(cfg.Name, " shutdown")
						return
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
		close(outputChan)
		cfg.Log.Info(cfg.Name, " complete")
	}()
	return
}

// buildDimensionRow assembles a dimension row from a staged record: surrogate
// key, natural key, the dimension's attributes and the provenance columns
// carried over from staging.
func buildDimensionRow(dim schema.Dimension, surrogate int64, staged stream.Record) stream.Record {
	out := stream.NewRecord()
	out.SetData(dim.SurrogateKey, surrogate)
	out.SetData(dim.NaturalKey, staged.GetData(dim.NaturalKey))
	for _, attr := range dim.Attributes {
		v, _ := staged.GetDataOk(attr)
		out.SetData(attr, v)
	}
	for _, audit := range []string{c.AuditFieldCreatedBy, c.AuditFieldCreatedDt, c.AuditFieldBatchId} {
		if v, ok := staged.GetDataOk(audit); ok {
			out.SetData(audit, v)
		}
	}
	return out
}
