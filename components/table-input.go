package components

import (
	"sync/atomic"

	c "github.com/danmont/starpipe/constants"
	"github.com/danmont/starpipe/logger"
	"github.com/danmont/starpipe/rowio"
	"github.com/danmont/starpipe/stats"
	"github.com/danmont/starpipe/stream"
)

type TableInputConfig struct {
	Log            logger.Logger
	Name           string
	Source         rowio.Source
	TableName      string
	StepWatcher    *stats.StepWatcher
	WaitCounter    ComponentWaiter
	PanicHandlerFn PanicHandlerFunc
	ErrorChan      chan<- error // receives read failures; outputChan is closed after.
}

// NewTableInput streams the rows of cfg.TableName from the row source onto the
// returned output channel. The source scan is restartable, so a retried stage
// simply launches a fresh instance of this component.
func NewTableInput(i interface{}) (outputChan chan stream.Record, controlChan chan ControlAction) {
	cfg := i.(*TableInputConfig)
	if cfg.Source == nil || cfg.TableName == "" {
		cfg.Log.Panic(cfg.Name, " missing row source or table name")
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
		inputChan, err := cfg.Source.Read(cfg.TableName)
		if err != nil { // if the scan could not start...
			cfg.Log.Error(cfg.Name, " failed to read ", cfg.TableName, ": ", err)
			raiseError(cfg.ErrorChan, err)
			close(outputChan)
			return
		}
		var controlAction ControlAction
		for {
			select {
			case rec, ok := <-inputChan:
				if !ok { // if the source scan is complete...
					inputChan = nil
				} else {
					atomic.AddInt64(&rowCount, 1)
					if recSentOK := safeSend(rec, outputChan, controlChan, sendNilControlResponse); !recSentOK {
						cfg.Log.Info(cfg.Name, " shutdown")
						return
					}
				}
			case controlAction = <-controlChan: // if we were asked to shutdown...
			}
			if inputChan == nil || controlAction.Action == Shutdown {
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
