// internal/session/errors.go
package session

import (
	"errors"
	"fmt"

	"lostwheel-gateway/internal/data"
)

// ConnectionError reports a device connection that could not be opened,
// configured, read or closed.
type ConnectionError struct {
	Session string
	Locator string
	Op      string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("session %s: %s %s: %v", e.Session, e.Op, e.Locator, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// SinkError reports a recording file that could not be opened, written or closed.
type SinkError struct {
	Session string
	Path    string
	Op      string
	Err     error
}

func (e *SinkError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("session %s: %s recording: %v", e.Session, e.Op, e.Err)
	}
	return fmt.Sprintf("session %s: %s recording %s: %v", e.Session, e.Op, e.Path, e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }

// InvalidTransitionError is returned when an operation is not allowed in the
// session's current state. The session is left untouched.
type InvalidTransitionError struct {
	Session string
	From    State
	Op      string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("session %s: cannot %s while %s", e.Session, e.Op, e.From)
}

// ErrorKind classifies err for metrics and alerts.
func ErrorKind(err error) string {
	var (
		perr *data.ProtocolError
		cerr *ConnectionError
		serr *SinkError
		terr *InvalidTransitionError
	)
	switch {
	case errors.As(err, &perr):
		return "protocol"
	case errors.As(err, &cerr):
		return "connection"
	case errors.As(err, &serr):
		return "sink"
	case errors.As(err, &terr):
		return "transition"
	default:
		return "unknown"
	}
}
