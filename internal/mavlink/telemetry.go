package mavlink

import (
	"math"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/ardupilotmega"
	"github.com/bluenviron/gomavlib/v3/pkg/message"

	"mavcam-bridge/internal/bridge"
)

// image_status values of CAMERA_CAPTURE_STATUS
const (
	imageIdle        = 0
	imageIntervalSet = 2
)

// systemStatus reports the connection state in HEARTBEAT. Disconnected is
// only held between a lost link and the next discovery.
func systemStatus(s bridge.ConnectionState) ardupilotmega.MAV_STATE {
	switch s {
	case bridge.Connected:
		return ardupilotmega.MAV_STATE_ACTIVE
	case bridge.PoweredOff:
		return ardupilotmega.MAV_STATE_POWEROFF
	case bridge.Disconnected:
		return ardupilotmega.MAV_STATE_CRITICAL
	default:
		return ardupilotmega.MAV_STATE_STANDBY
	}
}

func heartbeat(snap bridge.Snapshot) *ardupilotmega.MessageHeartbeat {
	return &ardupilotmega.MessageHeartbeat{
		Type:           ardupilotmega.MAV_TYPE_CAMERA,
		Autopilot:      ardupilotmega.MAV_AUTOPILOT_INVALID,
		SystemStatus:   systemStatus(snap.Status.State),
		MavlinkVersion: 3,
	}
}

func goproHeartbeat(st bridge.CameraStatus) *ardupilotmega.MessageGoproHeartbeat {
	msg := &ardupilotmega.MessageGoproHeartbeat{
		Status:      ardupilotmega.GOPRO_HEARTBEAT_STATUS_DISCONNECTED,
		CaptureMode: ardupilotmega.GOPRO_CAPTURE_MODE_UNKNOWN,
	}
	switch st.State {
	case bridge.Connected:
	case bridge.PoweredOff, bridge.Disconnected:
		msg.Status = ardupilotmega.GOPRO_HEARTBEAT_STATUS_ERROR
		return msg
	default:
		return msg
	}
	msg.Status = ardupilotmega.GOPRO_HEARTBEAT_STATUS_CONNECTED
	msg.CaptureMode = goproMode(st.Mode)
	if st.Recording {
		msg.Flags = ardupilotmega.GOPRO_FLAG_RECORDING
	}
	return msg
}

func captureStatus(snap bridge.Snapshot, bootTime time.Time, recordingSince time.Time, now time.Time) *ardupilotmega.MessageCameraCaptureStatus {
	msg := &ardupilotmega.MessageCameraCaptureStatus{
		TimeBootMs:  uint32(now.Sub(bootTime).Milliseconds()),
		ImageStatus: imageIdle,
	}
	if snap.Interval.Enabled {
		msg.ImageStatus = imageIntervalSet
		msg.ImageInterval = float32(snap.Interval.Period.Seconds())
		msg.ImageCount = int32(snap.Interval.Index)
	}
	if snap.Status.State == bridge.Connected && snap.Status.Recording {
		msg.VideoStatus = 1
		if !recordingSince.IsZero() {
			msg.RecordingTimeMs = uint32(now.Sub(recordingSince).Milliseconds())
		}
	}
	return msg
}

func batteryStatus(st bridge.CameraStatus) *ardupilotmega.MessageBatteryStatus {
	msg := &ardupilotmega.MessageBatteryStatus{
		BatteryFunction:  ardupilotmega.MAV_BATTERY_FUNCTION_ALL,
		Type:             ardupilotmega.MAV_BATTERY_TYPE_LIPO,
		Temperature:      math.MaxInt16,
		CurrentBattery:   -1,
		CurrentConsumed:  -1,
		EnergyConsumed:   -1,
		BatteryRemaining: -1,
	}
	for i := range msg.Voltages {
		msg.Voltages[i] = math.MaxUint16
	}
	if st.State == bridge.Connected {
		msg.BatteryRemaining = int8(st.Battery)
	}
	return msg
}

// telemetry is the periodic message set, in send order.
func telemetry(snap bridge.Snapshot, bootTime, recordingSince, now time.Time) []message.Message {
	return []message.Message{
		heartbeat(snap),
		goproHeartbeat(snap.Status),
		captureStatus(snap, bootTime, recordingSince, now),
		batteryStatus(snap.Status),
	}
}
