package gopro

import (
	"errors"
	"fmt"
)

var ErrUnsupportedOp = errors.New("gopro: unsupported operation")

// Request is one camera operation ready for transmission. BLE transports
// write Packet to Channel; HTTP transports dispatch on Op and Mode.
// ResponseID identifies the response that acknowledges the request.
type Request struct {
	Op         Op
	Mode       CaptureMode
	Channel    Channel
	Packet     []byte
	ResponseID uint8
}

func (r Request) String() string {
	if r.Op == OpSetMode {
		return fmt.Sprintf("%s(%s)", r.Op, r.Mode)
	}
	return r.Op.String()
}

// statusIDs are the statuses the bridge queries and registers for.
func statusIDs(caps Capabilities) []byte {
	if caps.OpenGoPro {
		return []byte{StatusEncoding, StatusBattery, StatusPresetGroup}
	}
	return []byte{StatusEncoding, StatusBattery, StatusLegacyMode}
}

// Encode builds the wire request for op under the given capability set.
// mode is only consulted for OpSetMode.
func Encode(op Op, mode CaptureMode, caps Capabilities) (Request, error) {
	req := Request{Op: op, Mode: mode}

	var payload []byte
	switch op {
	case OpShutterStart:
		req.Channel, req.ResponseID = ChannelCommand, cmdShutter
		payload = []byte{cmdShutter, 0x01, 0x01}
	case OpShutterStop:
		req.Channel, req.ResponseID = ChannelCommand, cmdShutter
		payload = []byte{cmdShutter, 0x01, 0x00}
	case OpSetMode:
		p, id, err := encodeMode(mode, caps)
		if err != nil {
			return Request{}, err
		}
		req.Channel, req.ResponseID = ChannelCommand, id
		payload = p
	case OpQueryStatus:
		req.Channel, req.ResponseID = ChannelQuery, queryGetStatus
		payload = append([]byte{queryGetStatus}, statusIDs(caps)...)
	case OpRegisterStatus:
		req.Channel, req.ResponseID = ChannelQuery, queryRegister
		payload = append([]byte{queryRegister}, statusIDs(caps)...)
	case OpKeepAlive:
		req.Channel, req.ResponseID = ChannelSettings, settingKeepAlive
		payload = []byte{settingKeepAlive, 0x01, keepAliveValue}
	case OpIdentity:
		req.Channel, req.ResponseID = ChannelCommand, cmdHardwareInfo
		payload = []byte{cmdHardwareInfo}
	case OpSleep:
		req.Channel, req.ResponseID = ChannelCommand, cmdSleep
		payload = []byte{cmdSleep}
	default:
		return Request{}, fmt.Errorf("%w: %s", ErrUnsupportedOp, op)
	}

	pkt, err := Frame(payload)
	if err != nil {
		return Request{}, err
	}
	req.Packet = pkt
	return req, nil
}

func encodeMode(mode CaptureMode, caps Capabilities) ([]byte, uint8, error) {
	if caps.OpenGoPro {
		group, ok := PresetGroupFor(mode)
		if !ok {
			return nil, 0, fmt.Errorf("%w: mode %s", ErrUnsupportedOp, mode)
		}
		return []byte{cmdLoadPresetGroup, 0x02, byte(group >> 8), byte(group)}, cmdLoadPresetGroup, nil
	}

	switch mode {
	case ModeVideo:
		return []byte{cmdSetModeLegacy, 0x01, legacyModeVideo}, cmdSetModeLegacy, nil
	case ModePhoto:
		return []byte{cmdSetModeLegacy, 0x01, legacyModePhoto}, cmdSetModeLegacy, nil
	case ModeTimelapse:
		if !caps.NeedsTimelapseFlag {
			return []byte{cmdSetModeLegacy, 0x01, legacyModeMulti}, cmdSetModeLegacy, nil
		}
		return []byte{cmdSetSubModeLegacy, 0x01, legacyModeMulti, 0x01, legacySubTimelapse}, cmdSetSubModeLegacy, nil
	}
	return nil, 0, fmt.Errorf("%w: mode %s", ErrUnsupportedOp, mode)
}
