package ble

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mavcam-bridge/internal/bridge"
	"mavcam-bridge/internal/gopro"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func frame(t *testing.T, msg []byte) []byte {
	t.Helper()
	pkt, err := gopro.Frame(msg)
	require.NoError(t, err)
	return pkt
}

func TestLinkTurnsNotificationsIntoEvents(t *testing.T) {
	l := newLink("AA:BB", testLogger())

	l.onNotify(gopro.ChannelCommand, frame(t, []byte{0x01, 0x00}))
	ev := <-l.events
	assert.Equal(t, bridge.EventAck, ev.Kind)
	assert.Equal(t, uint8(0x01), ev.AckID)
	assert.True(t, ev.OK)

	l.onNotify(gopro.ChannelQuery, frame(t, []byte{0x93, 0x00, gopro.StatusBattery, 1, 64}))
	ev = <-l.events
	assert.Equal(t, bridge.EventStatus, ev.Kind)
	require.NotNil(t, ev.Status.Battery)
	assert.Equal(t, uint8(64), *ev.Status.Battery)
	assert.Empty(t, l.events, "a push carries no ack")
}

func TestLinkReassemblesContinuations(t *testing.T) {
	l := newLink("AA:BB", testLogger())

	name := "HERO11 Black Mini"
	msg := []byte{0x3C, 0x00, 0x04, 0x00, 0x00, 0x00, 60, byte(len(name))}
	msg = append(msg, name...)
	require.Greater(t, len(msg), 19)

	// Split into a 13-bit extended first packet and one continuation.
	first := append([]byte{0x20 | byte(len(msg)>>8), byte(len(msg))}, msg[:18]...)
	cont := append([]byte{0x80}, msg[18:]...)

	l.onNotify(gopro.ChannelCommand, first)
	assert.Empty(t, l.events)
	l.onNotify(gopro.ChannelCommand, cont)

	ev := <-l.events
	assert.Equal(t, bridge.EventIdentity, ev.Kind)
	assert.Equal(t, uint32(60), ev.Hardware.ModelID)
	assert.Equal(t, name, ev.Hardware.ModelName)
	ev = <-l.events
	assert.Equal(t, bridge.EventAck, ev.Kind)
}

func TestLinkDropsMalformedPacket(t *testing.T) {
	l := newLink("AA:BB", testLogger())

	l.onNotify(gopro.ChannelCommand, []byte{0x80, 0x01})
	assert.Empty(t, l.events)

	l.onNotify(gopro.ChannelCommand, frame(t, []byte{0x01, 0x00}))
	assert.Len(t, l.events, 1)
}

func TestLinkCloseEndsSequence(t *testing.T) {
	l := newLink("AA:BB", testLogger())
	l.close()
	l.close()

	l.onNotify(gopro.ChannelCommand, frame(t, []byte{0x01, 0x00}))
	_, ok := <-l.events
	assert.False(t, ok)
}
