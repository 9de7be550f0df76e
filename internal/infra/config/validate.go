package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

func (v *ValidationError) Add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg and returns a *ValidationError listing every problem.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateBridge(cfg, ve)
	validateCamera(cfg, ve)
	validateMAVLink(cfg, ve)
	validateControl(cfg, ve)
	validateLogger(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateBridge(cfg *Config, ve *ValidationError) {
	b := cfg.Bridge
	if b.Tick <= 0 {
		ve.Add("bridge.tick must be > 0")
	}
	if b.PairingTimeout <= 0 {
		ve.Add("bridge.pairing_timeout must be > 0")
	}
	if b.CommandTimeout <= 0 {
		ve.Add("bridge.command_timeout must be > 0")
	}
	if b.CommandRetries < 0 {
		ve.Add("bridge.command_retries must be >= 0")
	}
	if b.KeepAlive <= 0 {
		ve.Add("bridge.keep_alive must be > 0")
	}
	if b.CameraTimeoutMultiple < 1 {
		ve.Add("bridge.camera_timeout_multiple must be >= 1")
	}
	if b.Tick > 0 && b.CommandTimeout > 0 && b.Tick > b.CommandTimeout {
		ve.Add("bridge.tick (%s) must not exceed bridge.command_timeout (%s)", b.Tick, b.CommandTimeout)
	}
}

func validateCamera(cfg *Config, ve *ValidationError) {
	switch cfg.Camera.Transport {
	case "ble", "sim":
	case "wifi":
		u, err := url.Parse(cfg.WiFi.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			ve.Add("wifi.base_url %q is not an absolute URL", cfg.WiFi.BaseURL)
		}
		if cfg.WiFi.RequestTimeout <= 0 {
			ve.Add("wifi.request_timeout must be > 0")
		}
		if cfg.WiFi.ScanInterval <= 0 {
			ve.Add("wifi.scan_interval must be > 0")
		}
		if cfg.WiFi.FailureThreshold == 0 {
			ve.Add("wifi.failure_threshold must be > 0")
		}
	default:
		ve.Add("camera.transport must be one of ble, wifi, sim (got %q)", cfg.Camera.Transport)
	}
	if cfg.Sim.DropRate < 0 || cfg.Sim.DropRate > 1 {
		ve.Add("sim.drop_rate must be within [0, 1]")
	}
}

func validateMAVLink(cfg *Config, ve *ValidationError) {
	m := cfg.MAVLink
	if len(m.Endpoints) == 0 {
		ve.Add("mavlink.endpoints must not be empty")
	}
	for _, ep := range m.Endpoints {
		kind, _, ok := strings.Cut(ep, ":")
		if !ok {
			ve.Add("mavlink endpoint %q must be kind:address", ep)
			continue
		}
		switch kind {
		case "udps", "udpc", "udpb", "tcps", "tcpc", "serial":
		default:
			ve.Add("mavlink endpoint %q has unknown kind %q", ep, kind)
		}
	}
	if m.SystemID == 0 {
		ve.Add("mavlink.system_id must be > 0")
	}
	if m.HeartbeatInterval <= 0 {
		ve.Add("mavlink.heartbeat_interval must be > 0")
	}
	if m.PeerTimeout <= m.HeartbeatInterval {
		ve.Add("mavlink.peer_timeout must exceed mavlink.heartbeat_interval")
	}
}

func validateControl(cfg *Config, ve *ValidationError) {
	c := cfg.Control
	if !c.Enabled {
		return
	}
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		ve.Add("control.listen %q: %v", c.Listen, err)
	}
	if c.RateLimit <= 0 {
		ve.Add("control.rate_limit must be > 0")
	}
	if c.RateBurst < 1 {
		ve.Add("control.rate_burst must be >= 1")
	}
	if c.MDNS && c.InstanceName == "" {
		ve.Add("control.instance_name is required when control.mdns is enabled")
	}
}

func validateLogger(cfg *Config, ve *ValidationError) {
	switch strings.ToLower(cfg.Logger.Level) {
	case "debug", "info", "warn", "warning", "error", "":
	default:
		ve.Add("logger.level %q is not one of debug, info, warn, error", cfg.Logger.Level)
	}
	switch strings.ToLower(cfg.Logger.Format) {
	case "text", "json", "":
	default:
		ve.Add("logger.format %q is not one of text, json", cfg.Logger.Format)
	}
}
