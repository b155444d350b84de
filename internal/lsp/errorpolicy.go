package lsp

import (
	"fmt"
	"sync"
	"time"
)

// ErrorAction is what to do after a transport error.
type ErrorAction int

const (
	Continue ErrorAction = iota + 1
	Shutdown
)

func (a ErrorAction) String() string {
	switch a {
	case Continue:
		return "Continue"
	case Shutdown:
		return "Shutdown"
	}
	return fmt.Sprintf("ErrorAction(%d)", int(a))
}

// CloseAction is what to do after the transport was closed.
type CloseAction int

const (
	DoNotRestart CloseAction = iota + 1
	Restart
)

func (a CloseAction) String() string {
	switch a {
	case DoNotRestart:
		return "DoNotRestart"
	case Restart:
		return "Restart"
	}
	return fmt.Sprintf("CloseAction(%d)", int(a))
}

// ErrorHandlerResult is the decision of an ErrorHandler for an error.
type ErrorHandlerResult struct {
	Action ErrorAction

	// Message, if set, is shown to the user.
	Message string

	// Handled suppresses the default message.
	Handled bool
}

// CloseHandlerResult is the decision of an ErrorHandler for a close.
type CloseHandlerResult struct {
	Action  CloseAction
	Message string
	Handled bool
}

// ErrorHandler decides how a client recovers from transport failures.
type ErrorHandler interface {
	// Error is called for a transport error. count is the number of
	// consecutive errors, reset whenever a message gets through.
	Error(err error, count int) ErrorHandlerResult

	// Closed is called when the transport was closed.
	Closed() CloseHandlerResult
}

const (
	maxErrorCount = 3
	restartWindow = 3 * time.Minute
)

// DefaultErrorHandler keeps going after a few transport errors and
// restarts the server unless it crashed more than MaxRestartCount
// times within three minutes.
type DefaultErrorHandler struct {
	Name            string
	MaxRestartCount int

	// Now returns the current time. It defaults to time.Now.
	Now func() time.Time

	mu       sync.Mutex
	restarts []time.Time
}

// NewDefaultErrorHandler returns the default error handler for the
// client called name.
func NewDefaultErrorHandler(name string, maxRestartCount int) *DefaultErrorHandler {
	return &DefaultErrorHandler{
		Name:            name,
		MaxRestartCount: maxRestartCount,
	}
}

func (h *DefaultErrorHandler) Error(err error, count int) ErrorHandlerResult {
	if count <= maxErrorCount {
		return ErrorHandlerResult{Action: Continue}
	}
	return ErrorHandlerResult{Action: Shutdown}
}

func (h *DefaultErrorHandler) Closed() CloseHandlerResult {
	now := time.Now
	if h.Now != nil {
		now = h.Now
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.restarts = append(h.restarts, now())
	if len(h.restarts) <= h.MaxRestartCount {
		return CloseHandlerResult{Action: Restart}
	}
	diff := h.restarts[len(h.restarts)-1].Sub(h.restarts[0])
	if diff <= restartWindow {
		return CloseHandlerResult{
			Action: DoNotRestart,
			Message: fmt.Sprintf("The %v server crashed %d times in the last 3 minutes. The server will not be restarted. See the output for more information.",
				h.Name, h.MaxRestartCount+1),
		}
	}
	h.restarts = h.restarts[1:]
	return CloseHandlerResult{Action: Restart}
}
