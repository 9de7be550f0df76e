package bridge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMonitorProbeCadence(t *testing.T) {
	m := NewMonitor(5*time.Second, 15*time.Second, 3*time.Second)
	m.LinkEstablished(t0)

	assert.False(t, m.OnTick(t0.Add(4*time.Second), true).Probe)
	assert.True(t, m.OnTick(t0.Add(5*time.Second), true).Probe)
	assert.True(t, m.OnTick(t0.Add(5*time.Second), true).Probe, "probe stays due until sent")

	m.ProbeSent(t0.Add(5 * time.Second))
	assert.False(t, m.OnTick(t0.Add(6*time.Second), true).Probe)
	assert.False(t, m.OnTick(t0.Add(20*time.Second), false).Probe, "no probes while not connected")
}

func TestMonitorCameraTimeout(t *testing.T) {
	m := NewMonitor(5*time.Second, 15*time.Second, 3*time.Second)
	m.LinkEstablished(t0)
	m.CameraHeartbeat(t0.Add(10 * time.Second))

	assert.False(t, m.OnTick(t0.Add(25*time.Second), true).CameraTimedOut)
	assert.True(t, m.OnTick(t0.Add(25*time.Second+time.Millisecond), true).CameraTimedOut)
}

func TestMonitorDomainsAreIndependent(t *testing.T) {
	m := NewMonitor(5*time.Second, 15*time.Second, 3*time.Second)
	m.LinkEstablished(t0)

	assert.True(t, m.PeerHeartbeat(t0))
	assert.False(t, m.PeerHeartbeat(t0.Add(time.Second)))

	r := m.OnTick(t0.Add(5*time.Second), true)
	assert.True(t, r.PeerLost)
	assert.False(t, r.CameraTimedOut, "peer loss does not touch the camera link")
	assert.False(t, m.PeerConnected())

	r = m.OnTick(t0.Add(6*time.Second), true)
	assert.False(t, r.PeerLost, "reported once")

	m.PeerHeartbeat(t0.Add(20 * time.Second))
	r = m.OnTick(t0.Add(20*time.Second), true)
	assert.True(t, r.CameraTimedOut)
	assert.False(t, r.PeerLost, "camera loss does not touch the peer")
	assert.True(t, m.PeerConnected())
}
