package bridge

import "time"

// Config holds the timing policy of the bridge core.
type Config struct {
	TickInterval      time.Duration
	PairingTimeout    time.Duration
	CommandTimeout    time.Duration
	CommandRetries    int
	KeepAliveInterval time.Duration
	// CameraTimeoutMultiple scales KeepAliveInterval into the camera-link timeout.
	CameraTimeoutMultiple int
	PeerTimeout           time.Duration
	RestartDelay          time.Duration
	NamePrefix            string
}

// DefaultConfig returns the timing used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		TickInterval:          50 * time.Millisecond,
		PairingTimeout:        8 * time.Second,
		CommandTimeout:        time.Second,
		CommandRetries:        1,
		KeepAliveInterval:     5 * time.Second,
		CameraTimeoutMultiple: 3,
		PeerTimeout:           3 * time.Second,
		RestartDelay:          time.Second,
		NamePrefix:            "GoPro",
	}
}

// CameraTimeout is how long the camera may stay silent while connected.
func (c Config) CameraTimeout() time.Duration {
	return c.KeepAliveInterval * time.Duration(c.CameraTimeoutMultiple)
}
