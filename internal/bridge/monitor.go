package bridge

import "time"

// LivenessWindow tracks the two independent heartbeat domains.
type LivenessWindow struct {
	LastPeerHeartbeatAt   time.Time
	LastCameraHeartbeatAt time.Time
	PeerTimeout           time.Duration
	CameraTimeout         time.Duration
}

// TickResult is what the monitor asks the controller to do on a tick.
type TickResult struct {
	Probe          bool
	CameraTimedOut bool
	PeerLost       bool
}

// Monitor issues keepalive probes and detects camera and peer silence.
type Monitor struct {
	window        LivenessWindow
	keepAlive     time.Duration
	lastProbeAt   time.Time
	peerConnected bool
}

func NewMonitor(keepAlive, cameraTimeout, peerTimeout time.Duration) *Monitor {
	return &Monitor{
		keepAlive: keepAlive,
		window: LivenessWindow{
			PeerTimeout:   peerTimeout,
			CameraTimeout: cameraTimeout,
		},
	}
}

func (m *Monitor) Window() LivenessWindow { return m.window }

func (m *Monitor) PeerConnected() bool { return m.peerConnected }

// PeerHeartbeat records an upstream heartbeat and reports whether the peer
// was previously considered lost.
func (m *Monitor) PeerHeartbeat(now time.Time) bool {
	m.window.LastPeerHeartbeatAt = now
	if m.peerConnected {
		return false
	}
	m.peerConnected = true
	return true
}

// CameraHeartbeat records any sign of life from the camera.
func (m *Monitor) CameraHeartbeat(now time.Time) {
	m.window.LastCameraHeartbeatAt = now
}

// LinkEstablished starts the camera clocks for a new connection.
func (m *Monitor) LinkEstablished(now time.Time) {
	m.window.LastCameraHeartbeatAt = now
	m.lastProbeAt = now
}

// ProbeSent records a keepalive transmission.
func (m *Monitor) ProbeSent(now time.Time) {
	m.lastProbeAt = now
}

// OnTick evaluates both domains. Camera checks only run while connected.
func (m *Monitor) OnTick(now time.Time, connected bool) TickResult {
	var r TickResult
	if connected {
		if now.Sub(m.lastProbeAt) >= m.keepAlive {
			r.Probe = true
		}
		if now.Sub(m.window.LastCameraHeartbeatAt) > m.window.CameraTimeout {
			r.CameraTimedOut = true
		}
	}
	if m.peerConnected && now.Sub(m.window.LastPeerHeartbeatAt) > m.window.PeerTimeout {
		m.peerConnected = false
		r.PeerLost = true
	}
	return r
}
