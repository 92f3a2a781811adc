package components

import (
	"sync/atomic"

	c "github.com/danmont/starpipe/constants"
	"github.com/danmont/starpipe/logger"
	"github.com/danmont/starpipe/rowio"
	"github.com/danmont/starpipe/stats"
	"github.com/danmont/starpipe/stream"
)

type TableOutputConfig struct {
	Log            logger.Logger
	Name           string
	InputChan      chan stream.Record
	Sink           rowio.Sink
	TableName      string
	KeyCols        []string // natural key columns used to match rows in upsert mode.
	Mode           rowio.WriteMode
	BatchSize      int // defaults to constants.TableOutputBatchSizeDefault.
	Summary        *stats.LoadSummary
	StepWatcher    *stats.StepWatcher
	WaitCounter    ComponentWaiter
	PanicHandlerFn PanicHandlerFunc
	ErrorChan      chan<- error
}

// NewTableOutput drains cfg.InputChan into the row sink in batches and passes
// the written rows through to the returned output channel.
// On a write failure the error is raised to cfg.ErrorChan, the remaining
// input is drained so upstream components can finish, and the output channel
// closes; the orchestrator decides whether to retry the stage.
func NewTableOutput(i interface{}) (outputChan chan stream.Record, controlChan chan ControlAction) {
	cfg := i.(*TableOutputConfig)
	if cfg.Sink == nil || cfg.TableName == "" {
		cfg.Log.Panic(cfg.Name, " missing row sink or table name")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = c.TableOutputBatchSizeDefault
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
		batch := make([]stream.Record, 0, cfg.BatchSize)
		flush := func() bool {
			if len(batch) == 0 {
				return true
			}
			written, err := cfg.Sink.Write(cfg.TableName, cfg.KeyCols, batch, cfg.Mode)
			if err != nil {
				cfg.Log.Error(cfg.Name, " failed to write batch to ", cfg.TableName, ": ", err)
				raiseError(cfg.ErrorChan, err)
				drainInput(cfg.InputChan) // unblock upstream so the stage can wind down.
				return false
			}
			if cfg.Summary != nil {
				cfg.Summary.AddWritten(cfg.Name, int64(written))
			}
			for _, rec := range batch { // forward written rows for downstream visibility.
				if recSentOK := safeSend(rec, outputChan, controlChan, sendNilControlResponse); !recSentOK {
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
				if !ok { // if the input channel was closed...
					cfg.InputChan = nil
				} else {
					atomic.AddInt64(&rowCount, 1)
					batch = append(batch, rec)
					if len(batch) >= cfg.BatchSize { // if the batch is full...
						if !flush() {
							close(outputChan)
							return
						}
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
		if !flush() { // write the final partial batch.
			close(outputChan)
			return
		}
		close(outputChan)
		cfg.Log.Info(cfg.Name, " complete")
	}()
	return
}
