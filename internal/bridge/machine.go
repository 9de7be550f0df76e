package bridge

import (
	"strings"
	"time"

	"mavcam-bridge/internal/gopro"
)

// Outcome describes what a machine input did.
type Outcome struct {
	From, To ConnectionState
	// Changed reports a state transition. Status-only updates leave it false.
	Changed bool
	// ReadIdentity asks the controller to read the camera's hardware info.
	ReadIdentity bool
}

// StatusUpdate is a confirmed change to the camera view. Nil fields are unchanged.
type StatusUpdate struct {
	Battery   *uint8
	Recording *bool
	Mode      *gopro.CaptureMode
}

func (u StatusUpdate) Empty() bool {
	return u.Battery == nil && u.Recording == nil && u.Mode == nil
}

// Machine owns ConnectionState and CameraStatus.
type Machine struct {
	namePrefix     string
	preferred      string
	pairingTimeout time.Duration

	state        ConnectionState
	status       CameraStatus
	since        time.Time
	target       Identity
	pairingSince time.Time
	linkUp       bool
	caps         gopro.Capabilities
}

func NewMachine(namePrefix string, pairingTimeout time.Duration) *Machine {
	return &Machine{
		namePrefix:     namePrefix,
		pairingTimeout: pairingTimeout,
		state:          Disconnected,
		status:         CameraStatus{State: Disconnected},
	}
}

// Prefer makes an advertisement with this exact name match even when it
// carries neither the service signature nor the name prefix.
func (m *Machine) Prefer(name string) { m.preferred = name }

func (m *Machine) State() ConnectionState { return m.state }

func (m *Machine) Status() CameraStatus { return m.status }

func (m *Machine) Target() Identity { return m.target }

func (m *Machine) Capabilities() gopro.Capabilities { return m.caps }

// Since is the time of the last transition.
func (m *Machine) Since() time.Time { return m.since }

func (m *Machine) matches(id Identity) bool {
	if id.HasService {
		return true
	}
	if m.preferred != "" && id.Name == m.preferred {
		return true
	}
	return m.namePrefix != "" && strings.HasPrefix(id.Name, m.namePrefix)
}

func (m *Machine) stay() Outcome {
	return Outcome{From: m.state, To: m.state}
}

func (m *Machine) transition(to ConnectionState, now time.Time) Outcome {
	from := m.state
	m.state = to
	m.since = now
	m.status.State = to
	if to != Connected {
		m.status.Recording = false
	}
	switch to {
	case Discovering, Disconnected, PoweredOff:
		m.linkUp = false
	}
	return Outcome{From: from, To: to, Changed: true}
}

// Restart begins discovery from rest.
func (m *Machine) Restart(now time.Time) Outcome {
	if m.state != Disconnected {
		return m.stay()
	}
	return m.transition(Discovering, now)
}

// OnTransportEvent applies a link-level event. Ack and status events are
// not state inputs and leave the machine untouched.
func (m *Machine) OnTransportEvent(ev Event, now time.Time) Outcome {
	switch ev.Kind {
	case EventAdvertisement:
		if !m.matches(ev.Identity) {
			return m.stay()
		}
		switch m.state {
		case Discovering:
			m.target = ev.Identity
			m.pairingSince = now
			m.linkUp = false
			return m.transition(Pairing, now)
		case PoweredOff:
			return m.transition(Discovering, now)
		}

	case EventLinkUp:
		if m.state == Pairing && !m.linkUp {
			m.linkUp = true
			out := m.stay()
			out.ReadIdentity = true
			return out
		}

	case EventLinkFailed:
		if m.state == Pairing {
			return m.transition(Discovering, now)
		}

	case EventLinkDown:
		switch m.state {
		case Pairing:
			return m.transition(Discovering, now)
		case Connected:
			return m.transition(Disconnected, now)
		}

	case EventIdentity:
		if m.state == Pairing && m.linkUp {
			m.caps = gopro.CapabilitiesForModel(ev.Hardware.ModelID)
			m.status.Model = ev.Hardware.ModelName
			return m.transition(Connected, now)
		}

	case EventPowerDown:
		if m.state == Connected {
			return m.transition(PoweredOff, now)
		}
	}
	return m.stay()
}

// CheckPairing reverts a stalled pairing attempt to discovery.
func (m *Machine) CheckPairing(now time.Time) Outcome {
	if m.state != Pairing || now.Sub(m.pairingSince) < m.pairingTimeout {
		return m.stay()
	}
	return m.transition(Discovering, now)
}

// LinkTimedOut drops a connection whose camera heartbeat went silent.
func (m *Machine) LinkTimedOut(now time.Time) Outcome {
	if m.state != Connected {
		return m.stay()
	}
	return m.transition(Disconnected, now)
}

// ApplyUpdate merges a confirmed update into CameraStatus and reports whether
// anything visible changed. Updates outside Connected are dropped.
func (m *Machine) ApplyUpdate(u StatusUpdate) bool {
	if m.state != Connected {
		return false
	}
	changed := false
	if u.Battery != nil && *u.Battery != m.status.Battery {
		m.status.Battery = *u.Battery
		changed = true
	}
	if u.Recording != nil && *u.Recording != m.status.Recording {
		m.status.Recording = *u.Recording
		changed = true
	}
	if u.Mode != nil && *u.Mode != gopro.ModeUnknown && *u.Mode != m.status.Mode {
		m.status.Mode = *u.Mode
		changed = true
	}
	return changed
}
