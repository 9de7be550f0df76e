package bridge

import (
	"errors"
	"fmt"
)

// Rejection sentinels. Match with errors.Is.
var (
	ErrNotConnected     = errors.New("camera not connected")
	ErrBusy             = errors.New("camera busy")
	ErrTimeout          = errors.New("camera command timed out")
	ErrUnsupported      = errors.New("unsupported command")
	ErrTransportFailure = errors.New("transport failure")
)

// RejectedError wraps a rejection sentinel with the operation that produced it.
type RejectedError struct {
	Op     string
	Err    error
	Detail string
}

func (e *RejectedError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *RejectedError) Unwrap() error { return e.Err }

func reject(op string, err error, detail string) *RejectedError {
	return &RejectedError{Op: op, Err: err, Detail: detail}
}

// Reason is a stable machine-readable rejection name.
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonNotConnected     Reason = "not_connected"
	ReasonBusy             Reason = "busy"
	ReasonTimeout          Reason = "timeout"
	ReasonUnsupported      Reason = "unsupported"
	ReasonTransportFailure Reason = "transport_failure"
	ReasonUnknown          Reason = "unknown"
)

var reasons = []struct {
	err    error
	reason Reason
}{
	{ErrNotConnected, ReasonNotConnected},
	{ErrBusy, ReasonBusy},
	{ErrTimeout, ReasonTimeout},
	{ErrUnsupported, ReasonUnsupported},
	{ErrTransportFailure, ReasonTransportFailure},
}

// ReasonOf maps err onto the rejection taxonomy.
func ReasonOf(err error) Reason {
	if err == nil {
		return ReasonNone
	}
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return ReasonUnknown
}
