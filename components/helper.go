package components

import (
	"github.com/danmont/starpipe/stream"
)

func safeSend(rec stream.Record,
	outputChan chan stream.Record,
	controlChan chan ControlAction,
	controlFunc func(c ControlAction),
) (recordSentOK bool) {
	select {
	case outputChan <- rec: // if we can send the record to the outputChan...
		return true // signal that data was sent OK.
	case c := <-controlChan: // if we were asked to shutdown...
		controlFunc(c) // handle the control action...
		return false   // signal that the caller should shutdown.
	}
}

func sendNilControlResponse(c ControlAction) {
	c.ResponseChan <- nil // respond that we're done with a nil error.
}

// drainInput consumes whatever is left on a component's input channel so an
// upstream producer never blocks on a full buffer after this component stops
// on an error. Tolerates a nil channel (input already fully consumed).
func drainInput(inputChan chan stream.Record) {
	if inputChan == nil {
		return
	}
	for range inputChan {
	}
}

// raiseError forwards err to the optional error channel without blocking.
// Components surface I/O failures this way so the orchestrator can decide
// whether the error is transient and worth a retry.
func raiseError(errorChan chan<- error, err error) {
	if errorChan == nil {
		return
	}
	select {
	case errorChan <- err:
	default: // a prior error is already pending; first one wins.
	}
}
