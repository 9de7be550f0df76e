package gopro

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyPacket     = errors.New("gopro: empty packet")
	ErrReservedHeader  = errors.New("gopro: reserved header type")
	ErrOrphanContinue  = errors.New("gopro: continuation without start packet")
	ErrPayloadTooLarge = errors.New("gopro: payload too large")
	ErrShortMessage    = errors.New("gopro: message too short")
)

const (
	headerContinuation = 0x80
	headerTypeMask     = 0x60
	headerGeneral      = 0x00
	headerExt13        = 0x20
	headerExt16        = 0x40
	generalMaxLen      = 0x1F
	ext13MaxLen        = 0x1FFF
)

// Frame prefixes payload with the shortest length header able to carry it.
// Payloads longer than a single BLE packet are sent by the transport as
// continuation packets; Frame only produces the start header.
func Frame(payload []byte) ([]byte, error) {
	n := len(payload)
	switch {
	case n <= generalMaxLen:
		return append([]byte{byte(n)}, payload...), nil
	case n <= ext13MaxLen:
		return append([]byte{headerExt13 | byte(n>>8), byte(n)}, payload...), nil
	case n <= 0xFFFF:
		return append([]byte{headerExt16, byte(n >> 8), byte(n)}, payload...), nil
	}
	return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, n)
}

// Assembler reassembles one channel's notifications into complete messages.
// It is not safe for concurrent use.
type Assembler struct {
	buf    []byte
	want   int
	active bool
}

// Feed consumes one notification packet. It returns the complete message and
// true once all announced bytes have arrived.
func (a *Assembler) Feed(pkt []byte) ([]byte, bool, error) {
	if len(pkt) == 0 {
		return nil, false, ErrEmptyPacket
	}

	if pkt[0]&headerContinuation != 0 {
		if !a.active {
			return nil, false, ErrOrphanContinue
		}
		a.buf = append(a.buf, pkt[1:]...)
		return a.complete()
	}

	var data []byte
	switch pkt[0] & headerTypeMask {
	case headerGeneral:
		a.want = int(pkt[0] & generalMaxLen)
		data = pkt[1:]
	case headerExt13:
		if len(pkt) < 2 {
			return nil, false, ErrShortMessage
		}
		a.want = int(pkt[0]&generalMaxLen)<<8 | int(pkt[1])
		data = pkt[2:]
	case headerExt16:
		if len(pkt) < 3 {
			return nil, false, ErrShortMessage
		}
		a.want = int(pkt[1])<<8 | int(pkt[2])
		data = pkt[3:]
	default:
		a.Reset()
		return nil, false, ErrReservedHeader
	}

	a.active = true
	a.buf = append(a.buf[:0], data...)
	return a.complete()
}

func (a *Assembler) complete() ([]byte, bool, error) {
	if len(a.buf) < a.want {
		return nil, false, nil
	}
	msg := make([]byte, a.want)
	copy(msg, a.buf)
	a.Reset()
	return msg, true, nil
}

// Reset drops any partially assembled message.
func (a *Assembler) Reset() {
	a.buf = a.buf[:0]
	a.want = 0
	a.active = false
}
