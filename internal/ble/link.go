package ble

import (
	"log/slog"
	"sync"

	"tinygo.org/x/bluetooth"

	"mavcam-bridge/internal/bridge"
	"mavcam-bridge/internal/gopro"
)

// link is one established connection. Its events channel is closed exactly
// once, when the link ends.
type link struct {
	address  string
	device   bluetooth.Device
	requests map[gopro.Channel]bluetooth.DeviceCharacteristic
	logger   *slog.Logger

	events    chan bridge.Event
	done      chan struct{}
	closeOnce sync.Once

	mu        sync.Mutex
	closed    bool
	assembler map[gopro.Channel]*gopro.Assembler
}

func newLink(address string, logger *slog.Logger) *link {
	return &link{
		address:  address,
		requests: make(map[gopro.Channel]bluetooth.DeviceCharacteristic),
		logger:   logger,
		events:   make(chan bridge.Event, 32),
		done:     make(chan struct{}),
		assembler: map[gopro.Channel]*gopro.Assembler{
			gopro.ChannelCommand:  {},
			gopro.ChannelSettings: {},
			gopro.ChannelQuery:    {},
		},
	}
}

// onNotify runs on the adapter's callback goroutine.
func (l *link) onNotify(ch gopro.Channel, pkt []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}

	asm := l.assembler[ch]
	msg, complete, err := asm.Feed(pkt)
	if err != nil {
		l.logger.Warn("[BLE] Dropped malformed packet", "channel", ch.String(), "err", err)
		asm.Reset()
		return
	}
	if !complete {
		return
	}

	decoded, err := gopro.Decode(ch, msg)
	if err != nil {
		l.logger.Warn("[BLE] Undecodable response", "channel", ch.String(), "err", err)
		return
	}
	for _, ev := range bridge.EventFromMessage(decoded) {
		select {
		case l.events <- ev:
		case <-l.done:
			return
		}
	}
}

func (l *link) close() {
	l.closeOnce.Do(func() {
		close(l.done)
		l.mu.Lock()
		l.closed = true
		close(l.events)
		l.mu.Unlock()
	})
}
