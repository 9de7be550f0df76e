// Package wifi drives a camera over its HTTP API when it is reachable on the
// camera's own access point.
package wifi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel/attribute"

	"mavcam-bridge/internal/bridge"
	"mavcam-bridge/internal/gopro"
	"mavcam-bridge/internal/infra/config"
	"mavcam-bridge/internal/infra/tracer"
)

const maxBody = 1 << 20

var (
	ErrNoLink      = errors.New("wifi: no camera link")
	ErrBreakerOpen = errors.New("wifi: camera unreachable, circuit open")
)

// StatusError is a non-2xx reply. The camera answered, so it does not count
// against the circuit breaker.
type StatusError struct {
	Path string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("wifi: %s returned HTTP %d", e.Path, e.Code)
}

type cameraInfo struct {
	Info struct {
		ModelNumber uint32 `json:"model_number"`
		ModelName   string `json:"model_name"`
		Firmware    string `json:"firmware_version"`
		Serial      string `json:"serial_number"`
	} `json:"info"`
}

type cameraState struct {
	Status map[string]json.RawMessage `json:"status"`
}

var trackedStatuses = []uint8{
	gopro.StatusEncoding,
	gopro.StatusBattery,
	gopro.StatusPresetGroup,
	gopro.StatusLegacyMode,
}

// Client implements bridge.Transport over the camera HTTP API.
type Client struct {
	cfg     config.WiFiConfig
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
	logger  *slog.Logger

	mu   sync.Mutex
	sess *session
	caps gopro.Capabilities
}

func New(cfg config.WiFiConfig, logger *slog.Logger) *Client {
	c := &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.RequestTimeout},
		logger: logger,
	}
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 1
	}
	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "gopro-wifi",
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
			if to == gobreaker.StateOpen {
				c.dropSession()
			}
		},
		IsSuccessful: func(err error) bool {
			var se *StatusError
			return err == nil || errors.As(err, &se)
		},
	})
	return c
}

func (c *Client) Kind() string { return "wifi" }

// BreakerState exposes the circuit state for status reporting.
func (c *Client) BreakerState() gobreaker.State {
	return c.breaker.State()
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	body, err := c.breaker.Execute(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
		if err != nil {
			return nil, err
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, &StatusError{Path: path, Code: resp.StatusCode}
		}
		return data, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %w", ErrBreakerOpen, err)
	}
	return body, err
}

func (c *Client) info(ctx context.Context) (cameraInfo, error) {
	var info cameraInfo
	body, err := c.get(ctx, "/gopro/camera/info")
	if err != nil {
		return info, err
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return info, fmt.Errorf("wifi: decode camera info: %w", err)
	}
	return info, nil
}

func (c *Client) identity(info cameraInfo) bridge.Identity {
	name := "GoPro"
	if info.Info.ModelName != "" {
		name = "GoPro " + info.Info.ModelName
	}
	return bridge.Identity{Name: name, Address: c.cfg.BaseURL, HasService: true}
}

// Scan polls the camera info endpoint and reports the camera once it answers.
func (c *Client) Scan(ctx context.Context, found func(bridge.Identity)) error {
	ticker := time.NewTicker(c.cfg.ScanInterval)
	defer ticker.Stop()

	reported := false
	for {
		if !reported {
			info, err := c.info(ctx)
			if err == nil {
				reported = true
				found(c.identity(info))
			} else if ctx.Err() == nil {
				c.logger.Debug("camera not reachable", "url", c.cfg.BaseURL, "err", err)
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Connect checks that the camera answers and opens a session. The session
// outlives ctx; it ends on Disconnect or when the breaker opens.
func (c *Client) Connect(ctx context.Context, id bridge.Identity) (<-chan bridge.Event, error) {
	if id.Address != "" && id.Address != c.cfg.BaseURL {
		return nil, fmt.Errorf("wifi: unknown camera %s", id)
	}
	info, err := c.info(ctx)
	if err != nil {
		return nil, fmt.Errorf("wifi connect: %w", err)
	}

	s := newSession()
	c.mu.Lock()
	old := c.sess
	c.sess = s
	c.caps = gopro.CapabilitiesForModel(info.Info.ModelNumber)
	c.mu.Unlock()
	if old != nil {
		old.close()
	}
	c.logger.Info("camera link established",
		"camera", c.identity(info).String(),
		"firmware", info.Info.Firmware,
	)
	return s.events, nil
}

func (c *Client) Disconnect() error {
	c.dropSession()
	return nil
}

func (c *Client) dropSession() {
	c.mu.Lock()
	s := c.sess
	c.sess = nil
	c.mu.Unlock()
	if s != nil {
		s.close()
	}
}

// Send starts the HTTP exchange for req and returns immediately. The outcome
// arrives as events; a transport error produces no ack so the request times out.
func (c *Client) Send(req gopro.Request) error {
	c.mu.Lock()
	s := c.sess
	caps := c.caps
	c.mu.Unlock()
	if s == nil {
		return ErrNoLink
	}
	if c.breaker.State() == gobreaker.StateOpen {
		return ErrBreakerOpen
	}

	go c.exchange(s, req, caps)
	return nil
}

func (c *Client) exchange(s *session, req gopro.Request, caps gopro.Capabilities) {
	ctx, span := tracer.Start(s.ctx, "wifi."+req.Op.String(),
		attribute.String("camera.url", c.cfg.BaseURL),
		attribute.String("request", req.String()),
	)
	events, err := c.perform(ctx, req, caps)
	tracer.Finish(span, err)

	var se *StatusError
	switch {
	case errors.As(err, &se):
		c.logger.Warn("camera refused request", "request", req.String(), "code", se.Code)
		s.emit(bridge.Event{Kind: bridge.EventAck, AckID: req.ResponseID, OK: false})
		return
	case err != nil:
		if s.ctx.Err() == nil {
			c.logger.Warn("camera request failed", "request", req.String(), "err", err)
		}
		return
	}
	for _, ev := range events {
		s.emit(ev)
	}
	s.emit(bridge.Event{Kind: bridge.EventAck, AckID: req.ResponseID, OK: true})
}

// perform runs the HTTP calls for req and returns the non-ack events they produced.
func (c *Client) perform(ctx context.Context, req gopro.Request, caps gopro.Capabilities) ([]bridge.Event, error) {
	switch req.Op {
	case gopro.OpIdentity:
		info, err := c.info(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.caps = gopro.CapabilitiesForModel(info.Info.ModelNumber)
		c.mu.Unlock()
		return []bridge.Event{{
			Kind:     bridge.EventIdentity,
			Hardware: gopro.HardwareInfo{ModelID: info.Info.ModelNumber, ModelName: info.Info.ModelName},
		}}, nil

	case gopro.OpKeepAlive:
		if _, err := c.get(ctx, "/gopro/camera/keep_alive"); err != nil {
			return nil, err
		}
		return c.state(ctx)

	case gopro.OpQueryStatus, gopro.OpRegisterStatus:
		return c.state(ctx)

	case gopro.OpShutterStart:
		_, err := c.get(ctx, "/gopro/camera/shutter/start")
		return nil, err

	case gopro.OpShutterStop:
		_, err := c.get(ctx, "/gopro/camera/shutter/stop")
		return nil, err

	case gopro.OpSetMode:
		path, err := modePath(req.Mode, caps)
		if err != nil {
			return nil, &StatusError{Path: "mode", Code: http.StatusBadRequest}
		}
		_, err = c.get(ctx, path)
		return nil, err

	case gopro.OpSleep:
		_, err := c.get(ctx, "/gp/gpControl/command/system/sleep")
		return nil, err
	}
	return nil, fmt.Errorf("%w: %s", gopro.ErrUnsupportedOp, req.Op)
}

func modePath(mode gopro.CaptureMode, caps gopro.Capabilities) (string, error) {
	if caps.OpenGoPro {
		group, ok := gopro.PresetGroupFor(mode)
		if !ok {
			return "", fmt.Errorf("%w: mode %s", gopro.ErrUnsupportedOp, mode)
		}
		return "/gopro/camera/presets/set_group?id=" + strconv.Itoa(int(group)), nil
	}
	legacy, ok := gopro.LegacyModeFor(mode)
	if !ok {
		return "", fmt.Errorf("%w: mode %s", gopro.ErrUnsupportedOp, mode)
	}
	if mode == gopro.ModeTimelapse && caps.NeedsTimelapseFlag {
		return "/gp/gpControl/command/sub_mode?mode=" + strconv.Itoa(int(legacy)) + "&sub_mode=1", nil
	}
	return "/gp/gpControl/command/mode?p=" + strconv.Itoa(int(legacy)), nil
}

func (c *Client) state(ctx context.Context) ([]bridge.Event, error) {
	body, err := c.get(ctx, "/gopro/camera/state")
	if err != nil {
		return nil, err
	}
	var st cameraState
	if err := json.Unmarshal(body, &st); err != nil {
		return nil, fmt.Errorf("wifi: decode camera state: %w", err)
	}

	var values gopro.StatusValues
	for _, id := range trackedStatuses {
		raw, ok := st.Status[strconv.Itoa(int(id))]
		if !ok {
			continue
		}
		var v uint64
		if err := json.Unmarshal(raw, &v); err != nil {
			continue
		}
		values.Set(id, v)
	}
	if values.Empty() {
		return nil, nil
	}
	return []bridge.Event{{Kind: bridge.EventStatus, Status: values}}, nil
}
