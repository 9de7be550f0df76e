// Package bridge holds the camera connection state machine, the command
// translator, the liveness monitor, the interval capture scheduler and the
// controller that serializes every event through them.
package bridge

import (
	"fmt"
	"time"

	"mavcam-bridge/internal/gopro"
)

// ConnectionState is the camera link lifecycle.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Discovering
	Pairing
	Connected
	PoweredOff
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Discovering:
		return "discovering"
	case Pairing:
		return "pairing"
	case Connected:
		return "connected"
	case PoweredOff:
		return "powered_off"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// CameraStatus is the externally visible camera view.
// Recording is only meaningful while State is Connected.
type CameraStatus struct {
	State     ConnectionState   `json:"-"`
	Recording bool              `json:"recording"`
	Mode      gopro.CaptureMode `json:"-"`
	Battery   uint8             `json:"battery"`
	Model     string            `json:"model,omitempty"`
}

// Identity is an advertised or remembered camera.
type Identity struct {
	Name       string `json:"name"`
	Address    string `json:"address"`
	HasService bool   `json:"has_service"`
}

func (id Identity) String() string {
	if id.Name == "" {
		return id.Address
	}
	return id.Name + " (" + id.Address + ")"
}

// Signal is the coarse state forwarded to the status indicator.
type Signal int32

const (
	SignalIdle Signal = iota
	SignalSearching
	SignalPairing
	SignalConnected
	SignalError
)

func (s Signal) String() string {
	switch s {
	case SignalIdle:
		return "idle"
	case SignalSearching:
		return "searching"
	case SignalPairing:
		return "pairing"
	case SignalConnected:
		return "connected"
	case SignalError:
		return "error"
	default:
		return fmt.Sprintf("signal(%d)", int32(s))
	}
}

// signalFor maps a transition to the indicator signal. A drop out of an
// active link reads as an error; a resting disconnected state is idle.
func signalFor(from, to ConnectionState) Signal {
	switch to {
	case Discovering:
		return SignalSearching
	case Pairing:
		return SignalPairing
	case Connected:
		return SignalConnected
	case Disconnected:
		if from == Connected || from == Pairing {
			return SignalError
		}
		return SignalIdle
	default:
		return SignalIdle
	}
}

// EventKind classifies transport notifications.
type EventKind int

const (
	EventAdvertisement EventKind = iota + 1
	EventLinkUp
	EventLinkFailed
	EventLinkDown
	EventIdentity
	EventPowerDown
	EventAck
	EventStatus
)

var eventNames = map[EventKind]string{
	EventAdvertisement: "advertisement",
	EventLinkUp:        "link_up",
	EventLinkFailed:    "link_failed",
	EventLinkDown:      "link_down",
	EventIdentity:      "identity",
	EventPowerDown:     "power_down",
	EventAck:           "ack",
	EventStatus:        "status",
}

func (k EventKind) String() string {
	if s, ok := eventNames[k]; ok {
		return s
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// Event is a transport notification. Which fields are set depends on Kind.
type Event struct {
	Kind     EventKind
	Identity Identity           // EventAdvertisement
	Hardware gopro.HardwareInfo // EventIdentity
	AckID    uint8              // EventAck
	OK       bool               // EventAck
	Status   gopro.StatusValues // EventStatus
	Err      error              // EventLinkFailed, EventLinkDown
}

// EventFromMessage converts a decoded camera message into the events it carries,
// in the order the controller should process them.
func EventFromMessage(m gopro.Message) []Event {
	var out []Event
	if m.Hardware != nil {
		out = append(out, Event{Kind: EventIdentity, Hardware: *m.Hardware})
	}
	if !m.Status.Empty() {
		out = append(out, Event{Kind: EventStatus, Status: m.Status})
	}
	if !m.Push {
		out = append(out, Event{Kind: EventAck, AckID: m.ID, OK: m.OK})
	}
	return out
}

// Clock returns the current time. Tests substitute a manual clock.
type Clock func() time.Time
