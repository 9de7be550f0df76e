package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level bridge configuration.
type Config struct {
	Bridge    BridgeConfig    `yaml:"bridge"`
	Camera    CameraConfig    `yaml:"camera"`
	BLE       BLEConfig       `yaml:"ble"`
	WiFi      WiFiConfig      `yaml:"wifi"`
	Sim       SimConfig       `yaml:"sim"`
	MAVLink   MAVLinkConfig   `yaml:"mavlink"`
	Control   ControlConfig   `yaml:"control"`
	Store     StoreConfig     `yaml:"store"`
	Indicator IndicatorConfig `yaml:"indicator"`
	Logger    LoggerConfig    `yaml:"logger"`
	Tracer    TracerConfig    `yaml:"tracer"`
}

// BridgeConfig holds the dispatch loop timing.
type BridgeConfig struct {
	Tick                  time.Duration `yaml:"tick"`
	PairingTimeout        time.Duration `yaml:"pairing_timeout"`
	CommandTimeout        time.Duration `yaml:"command_timeout"`
	CommandRetries        int           `yaml:"command_retries"`
	KeepAlive             time.Duration `yaml:"keep_alive"`
	CameraTimeoutMultiple int           `yaml:"camera_timeout_multiple"`
	RestartDelay          time.Duration `yaml:"restart_delay"`
}

// CameraConfig selects the camera link.
type CameraConfig struct {
	Transport  string `yaml:"transport"` // "ble", "wifi" or "sim"
	NamePrefix string `yaml:"name_prefix"`
}

// BLEConfig tunes the Bluetooth LE link.
type BLEConfig struct {
	WriteWithResponse bool `yaml:"write_with_response"`
}

// WiFiConfig holds the camera HTTP API settings.
type WiFiConfig struct {
	BaseURL          string        `yaml:"base_url"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
	ScanInterval     time.Duration `yaml:"scan_interval"`
	FailureThreshold uint32        `yaml:"failure_threshold"`
	BreakerTimeout   time.Duration `yaml:"breaker_timeout"`
}

// SimConfig describes the simulated camera.
type SimConfig struct {
	Name         string        `yaml:"name"`
	Address      string        `yaml:"address"`
	ModelID      uint32        `yaml:"model_id"`
	ModelName    string        `yaml:"model_name"`
	Latency      time.Duration `yaml:"latency"`
	DropRate     float64       `yaml:"drop_rate"`
	BatteryDrain time.Duration `yaml:"battery_drain"` // one percent per interval, 0 disables
	Seed         int64         `yaml:"seed"`
}

// MAVLinkConfig holds the autopilot-facing endpoint settings.
type MAVLinkConfig struct {
	Endpoints         []string      `yaml:"endpoints"` // udps|udpc|udpb|tcps|tcpc:host:port or serial:device:baud
	SystemID          uint8         `yaml:"system_id"`
	ComponentID       uint8         `yaml:"component_id"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	PeerTimeout       time.Duration `yaml:"peer_timeout"`
}

// ControlConfig holds the HTTP control surface settings.
type ControlConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Listen       string  `yaml:"listen"`
	RateLimit    float64 `yaml:"rate_limit"` // requests per second per client
	RateBurst    int     `yaml:"rate_burst"`
	MDNS         bool    `yaml:"mdns"`
	InstanceName string  `yaml:"instance_name"`
}

// StoreConfig holds the paired-camera database location. An empty path disables it.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// IndicatorConfig holds the status LED flash rates.
type IndicatorConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Searching time.Duration `yaml:"searching"`
	Pairing   time.Duration `yaml:"pairing"`
	Error     time.Duration `yaml:"error"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
}

// Defaults returns a Config with production defaults.
func Defaults() *Config {
	return &Config{
		Bridge: BridgeConfig{
			Tick:                  50 * time.Millisecond,
			PairingTimeout:        8 * time.Second,
			CommandTimeout:        time.Second,
			CommandRetries:        1,
			KeepAlive:             5 * time.Second,
			CameraTimeoutMultiple: 3,
			RestartDelay:          time.Second,
		},
		Camera: CameraConfig{
			Transport:  "ble",
			NamePrefix: "GoPro",
		},
		WiFi: WiFiConfig{
			BaseURL:          "http://10.5.5.9:8080",
			RequestTimeout:   2 * time.Second,
			ScanInterval:     2 * time.Second,
			FailureThreshold: 3,
			BreakerTimeout:   10 * time.Second,
		},
		Sim: SimConfig{
			Name:         "GoPro SIM1",
			Address:      "00:00:00:00:00:01",
			ModelID:      62,
			ModelName:    "HERO12 Black",
			Latency:      40 * time.Millisecond,
			BatteryDrain: 30 * time.Second,
			Seed:         1,
		},
		MAVLink: MAVLinkConfig{
			Endpoints:         []string{"udps:0.0.0.0:14550"},
			SystemID:          1,
			ComponentID:       100, // MAV_COMP_ID_CAMERA
			HeartbeatInterval: time.Second,
			PeerTimeout:       3 * time.Second,
		},
		Control: ControlConfig{
			Enabled:      true,
			Listen:       ":8080",
			RateLimit:    5,
			RateBurst:    10,
			MDNS:         true,
			InstanceName: "mavcam",
		},
		Store: StoreConfig{
			Path: "mavcam.db",
		},
		Indicator: IndicatorConfig{
			Enabled:   true,
			Searching: time.Second,
			Pairing:   250 * time.Millisecond,
			Error:     100 * time.Millisecond,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Exporter: "noop",
		},
	}
}

// Load reads a YAML config file, applies env var overrides and validates the result.
// A missing file yields the validated defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	ApplyEnvOverrides(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps MAVCAM_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MAVCAM_CAMERA_TRANSPORT"); v != "" {
		cfg.Camera.Transport = v
	}
	if v := os.Getenv("MAVCAM_CAMERA_NAME_PREFIX"); v != "" {
		cfg.Camera.NamePrefix = v
	}
	if v := os.Getenv("MAVCAM_WIFI_BASE_URL"); v != "" {
		cfg.WiFi.BaseURL = v
	}
	if v := os.Getenv("MAVCAM_MAVLINK_ENDPOINTS"); v != "" {
		cfg.MAVLink.Endpoints = splitAndTrim(v, ",")
	}
	if v := os.Getenv("MAVCAM_MAVLINK_SYSTEM_ID"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 8); err == nil {
			cfg.MAVLink.SystemID = uint8(n)
		}
	}
	if v := os.Getenv("MAVCAM_CONTROL_LISTEN"); v != "" {
		cfg.Control.Listen = v
	}
	if v := os.Getenv("MAVCAM_CONTROL_ENABLED"); v != "" {
		cfg.Control.Enabled = v == "true"
	}
	if v, ok := os.LookupEnv("MAVCAM_STORE_PATH"); ok {
		cfg.Store.Path = v
	}
	if v := os.Getenv("MAVCAM_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("MAVCAM_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("MAVCAM_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("MAVCAM_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
}

func splitAndTrim(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
