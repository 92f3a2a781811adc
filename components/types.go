package components

type PanicHandlerFunc func()

type Action uint32

const (
	Shutdown Action = iota + 1
	Pause
	Resume
)

// ControlAction is used to communicate with components.
type ControlAction struct {
	Action       Action
	ResponseChan chan error // channel to send a response on.
}
