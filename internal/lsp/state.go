package lsp

import "fmt"

// ClientState is the lifecycle state of a Client.
type ClientState int

const (
	Initial ClientState = iota
	Starting
	StartFailed
	Running
	Suspending
	Suspended
	Stopping
	Stopped
)

func (s ClientState) String() string {
	switch s {
	case Initial:
		return "initial"
	case Starting:
		return "starting"
	case StartFailed:
		return "startFailed"
	case Running:
		return "running"
	case Suspending:
		return "suspending"
	case Suspended:
		return "suspended"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("ClientState(%d)", int(s))
}

// PublicState is the state of a Client as observers see it.
type PublicState int

const (
	StateStopped PublicState = iota + 1
	StateStarting
	StateRunning
	StateSuspending
	StateSuspended
)

func (s PublicState) String() string {
	switch s {
	case StateStopped:
		return "Stopped"
	case StateStarting:
		return "Starting"
	case StateRunning:
		return "Running"
	case StateSuspending:
		return "Suspending"
	case StateSuspended:
		return "Suspended"
	}
	return fmt.Sprintf("PublicState(%d)", int(s))
}

// Public returns the projection of s seen by observers.
func (s ClientState) Public() PublicState {
	switch s {
	case Starting:
		return StateStarting
	case Running:
		return StateRunning
	case Suspending:
		return StateSuspending
	case Suspended:
		return StateSuspended
	}
	return StateStopped
}
