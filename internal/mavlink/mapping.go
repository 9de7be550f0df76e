package mavlink

import (
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/ardupilotmega"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"

	"mavcam-bridge/internal/bridge"
	"mavcam-bridge/internal/gopro"
)

// goproSetRef marks an Origin.Ref that came from GOPRO_SET_REQUEST rather
// than COMMAND_LONG. The low byte carries the GoPro command id.
const goproSetRef uint32 = 1 << 31

// camera modes of MAV_CMD_SET_CAMERA_MODE
const (
	cameraModeImage       = 0
	cameraModeVideo       = 1
	cameraModeImageSurvey = 2
)

// commandFromLong maps a COMMAND_LONG onto a bridge command. ok is false for
// commands the bridge does not implement.
func commandFromLong(m *ardupilotmega.MessageCommandLong) (bridge.Command, bool) {
	switch m.Command {
	case common.MAV_CMD_DO_DIGICAM_CONTROL:
		if m.Param5 != 1 {
			return bridge.Command{}, false
		}
		return bridge.Command{Kind: bridge.KindShutterStart}, true

	case common.MAV_CMD_IMAGE_START_CAPTURE:
		count := int(m.Param3)
		switch {
		case count == 1:
			return bridge.Command{Kind: bridge.KindShutterStart}, true
		case count > 1 && m.Param2 > 0:
			return bridge.Command{
				Kind:   bridge.KindIntervalStart,
				Count:  count,
				Period: time.Duration(float64(m.Param2) * float64(time.Second)),
			}, true
		}
		return bridge.Command{}, false

	case common.MAV_CMD_IMAGE_STOP_CAPTURE:
		return bridge.Command{Kind: bridge.KindIntervalStop}, true

	case common.MAV_CMD_VIDEO_START_CAPTURE:
		return bridge.Command{Kind: bridge.KindShutterStart}, true

	case common.MAV_CMD_VIDEO_STOP_CAPTURE:
		return bridge.Command{Kind: bridge.KindShutterStop}, true

	case common.MAV_CMD_SET_CAMERA_MODE:
		var mode gopro.CaptureMode
		switch int(m.Param2) {
		case cameraModeImage:
			mode = gopro.ModePhoto
		case cameraModeVideo:
			mode = gopro.ModeVideo
		case cameraModeImageSurvey:
			mode = gopro.ModeTimelapse
		default:
			return bridge.Command{}, false
		}
		return bridge.Command{Kind: bridge.KindSetMode, Mode: mode}, true

	case common.MAV_CMD_REQUEST_CAMERA_CAPTURE_STATUS,
		common.MAV_CMD_REQUEST_CAMERA_INFORMATION:
		return bridge.Command{Kind: bridge.KindRequestStatus}, true
	}
	return bridge.Command{}, false
}

// commandFromGoProSet maps a GOPRO_SET_REQUEST onto a bridge command.
func commandFromGoProSet(m *ardupilotmega.MessageGoproSetRequest) (bridge.Command, bool) {
	switch m.CmdId {
	case ardupilotmega.GOPRO_COMMAND_SHUTTER:
		if m.Value[0] == 0 {
			return bridge.Command{Kind: bridge.KindShutterStop}, true
		}
		return bridge.Command{Kind: bridge.KindShutterStart}, true

	case ardupilotmega.GOPRO_COMMAND_CAPTURE_MODE:
		mode := modeFromGoPro(ardupilotmega.GOPRO_CAPTURE_MODE(m.Value[0]))
		if mode == gopro.ModeUnknown {
			return bridge.Command{}, false
		}
		return bridge.Command{Kind: bridge.KindSetMode, Mode: mode}, true

	case ardupilotmega.GOPRO_COMMAND_POWER:
		if m.Value[0] != 0 {
			return bridge.Command{}, false
		}
		return bridge.Command{Kind: bridge.KindPowerOff}, true
	}
	return bridge.Command{}, false
}

func modeFromGoPro(m ardupilotmega.GOPRO_CAPTURE_MODE) gopro.CaptureMode {
	switch m {
	case ardupilotmega.GOPRO_CAPTURE_MODE_VIDEO:
		return gopro.ModeVideo
	case ardupilotmega.GOPRO_CAPTURE_MODE_PHOTO:
		return gopro.ModePhoto
	case ardupilotmega.GOPRO_CAPTURE_MODE_TIME_LAPSE:
		return gopro.ModeTimelapse
	}
	return gopro.ModeUnknown
}

func goproMode(m gopro.CaptureMode) ardupilotmega.GOPRO_CAPTURE_MODE {
	switch m {
	case gopro.ModeVideo:
		return ardupilotmega.GOPRO_CAPTURE_MODE_VIDEO
	case gopro.ModePhoto:
		return ardupilotmega.GOPRO_CAPTURE_MODE_PHOTO
	case gopro.ModeTimelapse:
		return ardupilotmega.GOPRO_CAPTURE_MODE_TIME_LAPSE
	}
	return ardupilotmega.GOPRO_CAPTURE_MODE_UNKNOWN
}

// resultFor is the COMMAND_ACK result for an immediate rejection.
func resultFor(err error) ardupilotmega.MAV_RESULT {
	switch bridge.ReasonOf(err) {
	case bridge.ReasonNone:
		return ardupilotmega.MAV_RESULT_ACCEPTED
	case bridge.ReasonNotConnected:
		return ardupilotmega.MAV_RESULT_DENIED
	case bridge.ReasonBusy:
		return ardupilotmega.MAV_RESULT_TEMPORARILY_REJECTED
	case bridge.ReasonUnsupported:
		return ardupilotmega.MAV_RESULT_UNSUPPORTED
	default:
		return ardupilotmega.MAV_RESULT_FAILED
	}
}

// getResponse answers a GOPRO_GET_REQUEST from the latest snapshot.
func getResponse(cmd ardupilotmega.GOPRO_COMMAND, snap bridge.Snapshot) *ardupilotmega.MessageGoproGetResponse {
	resp := &ardupilotmega.MessageGoproGetResponse{
		CmdId:  cmd,
		Status: ardupilotmega.GOPRO_REQUEST_FAILED,
	}
	if snap.Status.State != bridge.Connected {
		return resp
	}
	switch cmd {
	case ardupilotmega.GOPRO_COMMAND_BATTERY:
		resp.Value[0] = snap.Status.Battery
	case ardupilotmega.GOPRO_COMMAND_CAPTURE_MODE:
		resp.Value[0] = uint8(goproMode(snap.Status.Mode))
	case ardupilotmega.GOPRO_COMMAND_SHUTTER:
		if snap.Status.Recording {
			resp.Value[0] = 1
		}
	default:
		return resp
	}
	resp.Status = ardupilotmega.GOPRO_REQUEST_SUCCESS
	return resp
}
