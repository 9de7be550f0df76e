// Package gopro encodes bridge requests into the camera's BLE control
// protocol and decodes its responses and status pushes.
package gopro

import "fmt"

// Channel is one of the camera's request/response characteristic pairs.
type Channel uint8

const (
	ChannelCommand Channel = iota + 1
	ChannelSettings
	ChannelQuery
)

func (c Channel) String() string {
	switch c {
	case ChannelCommand:
		return "command"
	case ChannelSettings:
		return "settings"
	case ChannelQuery:
		return "query"
	default:
		return fmt.Sprintf("channel(%d)", uint8(c))
	}
}

// Op is a transport-neutral camera operation.
type Op uint8

const (
	OpShutterStart Op = iota + 1
	OpShutterStop
	OpSetMode
	OpQueryStatus
	OpRegisterStatus
	OpKeepAlive
	OpIdentity
	OpSleep
)

var opNames = map[Op]string{
	OpShutterStart:   "shutter_start",
	OpShutterStop:    "shutter_stop",
	OpSetMode:        "set_mode",
	OpQueryStatus:    "query_status",
	OpRegisterStatus: "register_status",
	OpKeepAlive:      "keep_alive",
	OpIdentity:       "identity",
	OpSleep:          "sleep",
}

func (o Op) String() string {
	if s, ok := opNames[o]; ok {
		return s
	}
	return fmt.Sprintf("op(%d)", uint8(o))
}

// CaptureMode is the camera's high-level capture mode.
type CaptureMode uint8

const (
	ModeUnknown CaptureMode = iota
	ModeVideo
	ModePhoto
	ModeTimelapse
)

func (m CaptureMode) String() string {
	switch m {
	case ModeVideo:
		return "video"
	case ModePhoto:
		return "photo"
	case ModeTimelapse:
		return "timelapse"
	default:
		return "unknown"
	}
}

// ParseCaptureMode parses the names produced by CaptureMode.String.
func ParseCaptureMode(s string) (CaptureMode, bool) {
	switch s {
	case "video":
		return ModeVideo, true
	case "photo":
		return ModePhoto, true
	case "timelapse":
		return ModeTimelapse, true
	}
	return ModeUnknown, false
}

// Wire identifiers.
const (
	cmdShutter          uint8 = 0x01
	cmdSetModeLegacy    uint8 = 0x02
	cmdSetSubModeLegacy uint8 = 0x03
	cmdSleep            uint8 = 0x05
	cmdHardwareInfo     uint8 = 0x3C
	cmdLoadPresetGroup  uint8 = 0x3E

	settingKeepAlive   uint8 = 0x5B
	keepAliveValue     uint8 = 0x42
	queryGetStatus     uint8 = 0x13
	queryRegister      uint8 = 0x53
	queryStatusPush    uint8 = 0x93
	responseStatusOK   uint8 = 0x00
	legacyModeVideo    uint8 = 0x00
	legacyModePhoto    uint8 = 0x01
	legacyModeMulti    uint8 = 0x02
	legacySubTimelapse uint8 = 0x01
)

// Status identifiers carried by query responses and pushes.
const (
	StatusEncoding    uint8 = 10
	StatusLegacyMode  uint8 = 43
	StatusBattery     uint8 = 70
	StatusPresetGroup uint8 = 96
)

// Preset groups used by Open GoPro firmware.
const (
	PresetGroupVideo     uint16 = 1000
	PresetGroupPhoto     uint16 = 1001
	PresetGroupTimelapse uint16 = 1002
)

// openGoProMinModel is the first model number speaking the Open GoPro dialect (HERO9).
const openGoProMinModel = 55

// Capabilities describes which protocol variants a connected camera accepts.
type Capabilities struct {
	OpenGoPro          bool
	NeedsTimelapseFlag bool
}

// CapabilitiesForModel derives the capability set from a hardware-info model number.
func CapabilitiesForModel(modelID uint32) Capabilities {
	open := modelID >= openGoProMinModel
	return Capabilities{
		OpenGoPro:          open,
		NeedsTimelapseFlag: !open,
	}
}

func modeFromPresetGroup(group uint16) CaptureMode {
	switch group {
	case PresetGroupVideo:
		return ModeVideo
	case PresetGroupPhoto:
		return ModePhoto
	case PresetGroupTimelapse:
		return ModeTimelapse
	}
	return ModeUnknown
}

func modeFromLegacy(v uint8) CaptureMode {
	switch v {
	case legacyModeVideo:
		return ModeVideo
	case legacyModePhoto:
		return ModePhoto
	case legacyModeMulti:
		return ModeTimelapse
	}
	return ModeUnknown
}

// PresetGroupFor is the Open GoPro preset group that selects mode.
func PresetGroupFor(mode CaptureMode) (uint16, bool) {
	switch mode {
	case ModeVideo:
		return PresetGroupVideo, true
	case ModePhoto:
		return PresetGroupPhoto, true
	case ModeTimelapse:
		return PresetGroupTimelapse, true
	}
	return 0, false
}

// LegacyModeFor is the pre-Open GoPro mode number for mode.
func LegacyModeFor(mode CaptureMode) (uint8, bool) {
	switch mode {
	case ModeVideo:
		return legacyModeVideo, true
	case ModePhoto:
		return legacyModePhoto, true
	case ModeTimelapse:
		return legacyModeMulti, true
	}
	return 0, false
}
