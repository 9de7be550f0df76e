package indicator

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mavcam-bridge/internal/bridge"
	"mavcam-bridge/internal/infra/config"
)

type recordingPin struct {
	mu      sync.Mutex
	on      bool
	changes int
}

func (p *recordingPin) Set(on bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.on != on {
		p.changes++
	}
	p.on = on
}

func (p *recordingPin) state() (bool, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.on, p.changes
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startLED(t *testing.T) (*LED, *recordingPin) {
	t.Helper()
	pin := &recordingPin{}
	led := New(config.IndicatorConfig{
		Enabled:   true,
		Searching: 5 * time.Millisecond,
		Pairing:   2 * time.Millisecond,
		Error:     time.Millisecond,
	}, pin, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		led.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return led, pin
}

func TestConnectedIsSolid(t *testing.T) {
	led, pin := startLED(t)
	led.Signal(bridge.SignalConnected)

	require.Eventually(t, func() bool {
		on, _ := pin.state()
		return on
	}, time.Second, time.Millisecond)

	_, before := pin.state()
	time.Sleep(20 * time.Millisecond)
	on, after := pin.state()
	assert.True(t, on)
	assert.Equal(t, before, after)
}

func TestSearchingBlinks(t *testing.T) {
	led, pin := startLED(t)
	led.Signal(bridge.SignalSearching)

	require.Eventually(t, func() bool {
		_, changes := pin.state()
		return changes >= 4
	}, time.Second, time.Millisecond)
	assert.Equal(t, bridge.SignalSearching, led.Current())
}

func TestIdleTurnsOff(t *testing.T) {
	led, pin := startLED(t)
	led.Signal(bridge.SignalConnected)
	require.Eventually(t, func() bool { on, _ := pin.state(); return on }, time.Second, time.Millisecond)

	led.Signal(bridge.SignalIdle)
	require.Eventually(t, func() bool { on, _ := pin.state(); return !on }, time.Second, time.Millisecond)
}

func TestLogPinIgnoresRepeats(t *testing.T) {
	p := NewLogPin(testLogger())
	p.Set(true)
	p.Set(true)
	assert.True(t, p.on)
}
