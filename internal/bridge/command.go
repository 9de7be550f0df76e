package bridge

import (
	"fmt"
	"time"

	"mavcam-bridge/internal/gopro"
)

// CommandKind is a transport-agnostic camera command.
type CommandKind int

const (
	KindShutterStart CommandKind = iota + 1
	KindShutterStop
	KindSetMode
	KindRequestStatus
	KindIntervalStart
	KindIntervalStop
	KindPowerOff
)

var kindNames = map[CommandKind]string{
	KindShutterStart:  "shutter_start",
	KindShutterStop:   "shutter_stop",
	KindSetMode:       "set_mode",
	KindRequestStatus: "request_status",
	KindIntervalStart: "interval_start",
	KindIntervalStop:  "interval_stop",
	KindPowerOff:      "power_off",
}

func (k CommandKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseCommandKind parses the names produced by CommandKind.String.
func ParseCommandKind(s string) (CommandKind, bool) {
	for k, name := range kindNames {
		if name == s {
			return k, true
		}
	}
	return 0, false
}

// Source identifies which front end issued a command.
type Source string

const (
	SourceMAVLink  Source = "mavlink"
	SourceControl  Source = "control"
	SourceInterval Source = "interval"
	SourceInternal Source = "internal"
)

// Origin lets the issuing front end route the final result back to its peer.
type Origin struct {
	Source      Source
	SystemID    uint8
	ComponentID uint8
	// Ref is the front end's own request identifier (e.g. the MAVLink command number).
	Ref uint32
}

// Command is a request from any front end.
type Command struct {
	ID     string
	Kind   CommandKind
	Mode   gopro.CaptureMode // KindSetMode
	Count  int               // KindIntervalStart
	Period time.Duration     // KindIntervalStart
	Origin Origin
}

func (c Command) String() string {
	switch c.Kind {
	case KindSetMode:
		return fmt.Sprintf("%s(%s)", c.Kind, c.Mode)
	case KindIntervalStart:
		return fmt.Sprintf("%s(count=%d period=%s)", c.Kind, c.Count, c.Period)
	default:
		return c.Kind.String()
	}
}

// Completion is the final outcome of an accepted command. Err is nil on success.
// Op is the camera operation the command was translated into.
type Completion struct {
	Command Command
	Op      gopro.Op
	Err     error
}

// IntervalReport is published when an interval capture job finishes.
type IntervalReport struct {
	Job     IntervalCaptureJob
	Skipped int
}
