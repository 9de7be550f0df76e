package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, Validate(cfg))
	assert.Equal(t, time.Second, cfg.Bridge.CommandTimeout)
	assert.Equal(t, 1, cfg.Bridge.CommandRetries)
	assert.Equal(t, "ble", cfg.Camera.Transport)
	assert.Equal(t, uint8(100), cfg.MAVLink.ComponentID)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Defaults().Bridge, cfg.Bridge)
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mavcam.yaml")
	content := `
bridge:
  keep_alive: 2s
  command_timeout: 1500ms
camera:
  transport: sim
mavlink:
  endpoints:
    - "serial:/dev/ttyAMA0:57600"
  system_id: 2
logger:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, cfg.Bridge.KeepAlive)
	assert.Equal(t, 1500*time.Millisecond, cfg.Bridge.CommandTimeout)
	assert.Equal(t, "sim", cfg.Camera.Transport)
	assert.Equal(t, []string{"serial:/dev/ttyAMA0:57600"}, cfg.MAVLink.Endpoints)
	assert.Equal(t, uint8(2), cfg.MAVLink.SystemID)
	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.Equal(t, 3, cfg.Bridge.CameraTimeoutMultiple, "unset keys keep defaults")
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("bridge: [unclosed"), 0600))

	_, err := Load(path)
	assert.ErrorContains(t, err, "parse config")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MAVCAM_CAMERA_TRANSPORT", "wifi")
	t.Setenv("MAVCAM_MAVLINK_ENDPOINTS", "udps:0.0.0.0:14550, tcpc:10.0.0.1:5760")
	t.Setenv("MAVCAM_MAVLINK_SYSTEM_ID", "7")
	t.Setenv("MAVCAM_STORE_PATH", "")
	t.Setenv("MAVCAM_TRACER_ENABLED", "true")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)
	assert.Equal(t, "wifi", cfg.Camera.Transport)
	assert.Equal(t, []string{"udps:0.0.0.0:14550", "tcpc:10.0.0.1:5760"}, cfg.MAVLink.Endpoints)
	assert.Equal(t, uint8(7), cfg.MAVLink.SystemID)
	assert.Empty(t, cfg.Store.Path)
	assert.True(t, cfg.Tracer.Enabled)
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Bridge.Tick = 0
	cfg.Camera.Transport = "usb"
	cfg.MAVLink.Endpoints = []string{"carrier-pigeon"}
	cfg.Control.RateBurst = 0

	err := Validate(cfg)
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Len(t, ve.Errors, 4)
	assert.Contains(t, err.Error(), "camera.transport")
}

func TestValidateWiFiNeedsURL(t *testing.T) {
	cfg := Defaults()
	cfg.Camera.Transport = "wifi"
	cfg.WiFi.BaseURL = "10.5.5.9"
	assert.ErrorContains(t, Validate(cfg), "wifi.base_url")
}
