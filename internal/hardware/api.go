// Package hardware simulates a camera body so the bridge can run on a bench
// without a radio or a real camera.
package hardware

import "mavcam-bridge/internal/gopro"

// CameraState is what the simulated camera keeps in firmware. Battery is the
// charge in percent after drain.
type CameraState struct {
	Recording bool              `json:"recording"`
	Mode      gopro.CaptureMode `json:"mode"`
	Asleep    bool              `json:"asleep"`
	Photos    uint32            `json:"photos"`
	Battery   uint8             `json:"battery"`
}
