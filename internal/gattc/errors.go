package gattc

import (
	"errors"
	"fmt"

	"github.com/go-ble/ble"
	"github.com/srg/navble/internal/radio"
)

// Operation errors
var (
	// ErrTimeout is returned when the radio stack did not complete a procedure in time.
	ErrTimeout = errors.New("timeout")

	// ErrBusy is returned when a procedure is started while another one is outstanding.
	ErrBusy = errors.New("procedure already in progress")

	// ErrClosed is returned by a client after Close.
	ErrClosed = errors.New("client is closed")
)

// NotFoundError represents an error when a GATT entity is not found
type NotFoundError struct {
	Resource string   // "service", "characteristic", "descriptor"
	UUID     ble.UUID // the requested UUID
	Parent   string   // description of the entity that was searched
}

func (e *NotFoundError) Error() string {
	if e.Parent == "" {
		return fmt.Sprintf("%s %s not found", e.Resource, e.UUID)
	}
	return fmt.Sprintf("%s %s not found in %s", e.Resource, e.UUID, e.Parent)
}

// ConnectionState represents the specific kind of connection failure
type ConnectionState string

const (
	ConnectionFailed ConnectionState = "connection_failed"
	NotConnected     ConnectionState = "not_connected"
	Superseded       ConnectionState = "superseded"
)

// ConnectionError represents any connection-related problem
type ConnectionError struct {
	State ConnectionState
	Msg   string
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare ConnectionError values by State
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// Predefined sentinel errors for connection states
var (
	ErrConnectionFailed = &ConnectionError{State: ConnectionFailed}
	ErrNotConnected     = &ConnectionError{State: NotConnected}
	ErrSuperseded       = &ConnectionError{State: Superseded}
)

// StatusError reports a procedure the peripheral completed with a failure status.
type StatusError struct {
	Op     string
	Status radio.Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Op, e.Status)
}

// DesyncError reports an event for a connection the client does not track.
// The local view of the radio has drifted and the running operation is aborted.
type DesyncError struct {
	Event string
	Conn  radio.ConnHandle
}

func (e *DesyncError) Error() string {
	return fmt.Sprintf("desynchronized: %s for unknown connection %d", e.Event, e.Conn)
}

// IsRecoverable reports whether err is one an application may retry after:
// timeouts, missing entities, connection problems and failure statuses.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	var (
		notFound *NotFoundError
		connErr  *ConnectionError
		status   *StatusError
		desync   *DesyncError
	)
	switch {
	case errors.As(err, &desync):
		return false
	case errors.Is(err, ErrTimeout), errors.As(err, &notFound), errors.As(err, &connErr), errors.As(err, &status):
		return true
	default:
		return false
	}
}
