package gopro

import "fmt"

// HardwareInfo is the identity returned by the hardware-info command.
type HardwareInfo struct {
	ModelID   uint32
	ModelName string
}

// StatusValues holds the subset of camera statuses the bridge tracks.
// A nil field was not present in the message.
type StatusValues struct {
	Battery   *uint8
	Recording *bool
	Mode      *CaptureMode
}

// Empty reports whether no tracked status was present.
func (s StatusValues) Empty() bool {
	return s.Battery == nil && s.Recording == nil && s.Mode == nil
}

// Message is a decoded response or push notification.
type Message struct {
	Channel  Channel
	ID       uint8
	OK       bool
	Push     bool
	Status   StatusValues
	Hardware *HardwareInfo
}

// Decode parses one reassembled message received on ch's response characteristic.
func Decode(ch Channel, msg []byte) (Message, error) {
	if len(msg) < 2 {
		return Message{}, fmt.Errorf("%w: %d bytes on %s", ErrShortMessage, len(msg), ch)
	}

	m := Message{
		Channel: ch,
		ID:      msg[0],
		OK:      msg[1] == responseStatusOK,
	}
	body := msg[2:]

	switch {
	case ch == ChannelCommand && m.ID == cmdHardwareInfo && m.OK:
		hw, err := decodeHardwareInfo(body)
		if err != nil {
			return Message{}, err
		}
		m.Hardware = &hw
	case ch == ChannelQuery && (m.ID == queryGetStatus || m.ID == queryRegister || m.ID == queryStatusPush):
		m.Push = m.ID == queryStatusPush
		if m.OK {
			st, err := decodeStatuses(body)
			if err != nil {
				return Message{}, err
			}
			m.Status = st
		}
	}
	return m, nil
}

// decodeHardwareInfo reads the length-prefixed model number and model name fields.
func decodeHardwareInfo(body []byte) (HardwareInfo, error) {
	num, rest, err := field(body)
	if err != nil {
		return HardwareInfo{}, fmt.Errorf("hardware info model number: %w", err)
	}
	name, _, err := field(rest)
	if err != nil {
		return HardwareInfo{}, fmt.Errorf("hardware info model name: %w", err)
	}
	return HardwareInfo{
		ModelID:   uint32(beUint(num)),
		ModelName: string(name),
	}, nil
}

func decodeStatuses(body []byte) (StatusValues, error) {
	var st StatusValues
	for len(body) > 0 {
		if len(body) < 2 {
			return StatusValues{}, fmt.Errorf("%w: dangling status header", ErrShortMessage)
		}
		id, n := body[0], int(body[1])
		if len(body) < 2+n {
			return StatusValues{}, fmt.Errorf("%w: status %d wants %d bytes", ErrShortMessage, id, n)
		}
		val := body[2 : 2+n]
		body = body[2+n:]

		if n == 0 {
			continue
		}
		st.Set(id, beUint(val))
	}
	return st, nil
}

// Set records a raw status value. Unknown ids and unmapped modes are ignored.
func (s *StatusValues) Set(id uint8, v uint64) {
	switch id {
	case StatusEncoding:
		rec := v != 0
		s.Recording = &rec
	case StatusBattery:
		b := uint8(min(v, 100))
		s.Battery = &b
	case StatusPresetGroup:
		if mode := modeFromPresetGroup(uint16(v)); mode != ModeUnknown {
			s.Mode = &mode
		}
	case StatusLegacyMode:
		if mode := modeFromLegacy(uint8(v)); mode != ModeUnknown {
			s.Mode = &mode
		}
	}
}

func field(b []byte) ([]byte, []byte, error) {
	if len(b) < 1 {
		return nil, nil, ErrShortMessage
	}
	n := int(b[0])
	if len(b) < 1+n {
		return nil, nil, ErrShortMessage
	}
	return b[1 : 1+n], b[1+n:], nil
}

func beUint(b []byte) uint64 {
	var v uint64
	for _, x := range b {
		v = v<<8 | uint64(x)
	}
	return v
}
