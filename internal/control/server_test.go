package control

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"mavcam-bridge/internal/bridge"
	"mavcam-bridge/internal/gopro"
	"mavcam-bridge/internal/infra/config"
)

type fakeBridge struct {
	mu        sync.Mutex
	submitted []bridge.Command
	err       error
	snap      bridge.Snapshot
}

func (f *fakeBridge) Submit(_ context.Context, cmd bridge.Command) (bridge.Command, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd.ID = "01HZX"
	f.submitted = append(f.submitted, cmd)
	return cmd, f.err
}

func (f *fakeBridge) Snapshot() bridge.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeBridge) set(snap bridge.Snapshot, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snap, f.err = snap, err
}

func (f *fakeBridge) last() bridge.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submitted[len(f.submitted)-1]
}

func testConfig() config.ControlConfig {
	return config.ControlConfig{Enabled: true, Listen: "127.0.0.1:0", RateLimit: 100, RateBurst: 100}
}

func newTestServer(t *testing.T, cfg config.ControlConfig) (*Server, *fakeBridge, *httptest.Server) {
	t.Helper()
	fb := &fakeBridge{}
	s := NewServer(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.Bind(fb)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	ts := httptest.NewServer(s.Handler(ctx))
	t.Cleanup(ts.Close)
	return s, fb, ts
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestControlCommand(t *testing.T) {
	recording := bridge.Snapshot{Status: bridge.CameraStatus{State: bridge.Connected, Recording: true}}

	tests := []struct {
		query string
		snap  bridge.Snapshot
		want  bridge.Command
		ok    bool
	}{
		{"shutter=1", bridge.Snapshot{}, bridge.Command{Kind: bridge.KindShutterStart}, true},
		{"shutter=1", recording, bridge.Command{Kind: bridge.KindShutterStop}, true},
		{"shutter=0", bridge.Snapshot{}, bridge.Command{Kind: bridge.KindShutterStop}, true},
		{"photo=1", bridge.Snapshot{}, bridge.Command{Kind: bridge.KindSetMode, Mode: gopro.ModePhoto}, true},
		{"timelapse=1", bridge.Snapshot{}, bridge.Command{Kind: bridge.KindSetMode, Mode: gopro.ModeTimelapse}, true},
		{"power=0", bridge.Snapshot{}, bridge.Command{Kind: bridge.KindPowerOff}, true},
		{"power=1", bridge.Snapshot{}, bridge.Command{}, false},
		{"update=1", bridge.Snapshot{}, bridge.Command{}, false},
	}
	for _, tt := range tests {
		q, _ := parseQuery(tt.query)
		got, ok := controlCommand(q, tt.snap)
		assert.Equal(t, tt.ok, ok, tt.query)
		assert.Equal(t, tt.want, got, tt.query)
	}
}

func parseQuery(s string) (map[string][]string, error) {
	req, err := http.NewRequest(http.MethodGet, "/control?"+s, nil)
	if err != nil {
		return nil, err
	}
	return req.URL.Query(), nil
}

func TestControlEndpoint(t *testing.T) {
	_, fb, ts := newTestServer(t, testConfig())

	code, body := get(t, ts.URL+"/control?video=1")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "OK", body)
	assert.Equal(t, bridge.KindSetMode, fb.last().Kind)
	assert.Equal(t, gopro.ModeVideo, fb.last().Mode)
	assert.Equal(t, bridge.SourceControl, fb.last().Origin.Source)

	fb.set(bridge.Snapshot{}, &bridge.RejectedError{Op: "submit", Err: bridge.ErrNotConnected})
	code, body = get(t, ts.URL+"/control?shutter=1")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body, "not_connected")

	code, _ = get(t, ts.URL+"/control?bogus=1")
	assert.Equal(t, http.StatusBadRequest, code)
}

func postCommand(t *testing.T, ts *httptest.Server, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(ts.URL+"/api/commands", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestCommandAPI(t *testing.T) {
	_, fb, ts := newTestServer(t, testConfig())

	resp, out := postCommand(t, ts, `{"kind":"interval_start","count":5,"period_ms":2000}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "01HZX", out["id"])
	cmd := fb.last()
	assert.Equal(t, bridge.KindIntervalStart, cmd.Kind)
	assert.Equal(t, 5, cmd.Count)
	assert.Equal(t, 2*time.Second, cmd.Period)

	resp, out = postCommand(t, ts, `{"kind":"set_mode","mode":"burst"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "unsupported", out["reason"])

	fb.set(bridge.Snapshot{}, &bridge.RejectedError{Op: "submit", Err: bridge.ErrBusy})
	resp, out = postCommand(t, ts, `{"kind":"shutter_start"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "busy", out["reason"])

	resp, _ = postCommand(t, ts, `{"kind":"shutter_start","extra":true}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatusAPI(t *testing.T) {
	_, fb, ts := newTestServer(t, testConfig())
	fb.set(bridge.Snapshot{State: "connected", Mode: "video", Status: bridge.CameraStatus{Battery: 64}, Transport: "sim"}, nil)

	code, body := get(t, ts.URL+"/api/status")
	require.Equal(t, http.StatusOK, code)
	var snap map[string]any
	require.NoError(t, json.Unmarshal([]byte(body), &snap))
	assert.Equal(t, "connected", snap["state"])
	assert.Equal(t, "sim", snap["transport"])
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit = 0.001
	cfg.RateBurst = 2
	_, _, ts := newTestServer(t, cfg)

	for range 2 {
		code, _ := get(t, ts.URL+"/api/status")
		assert.Equal(t, http.StatusOK, code)
	}
	code, _ := get(t, ts.URL+"/api/status")
	assert.Equal(t, http.StatusTooManyRequests, code)
}

func TestWebsocketStream(t *testing.T) {
	s, fb, ts := newTestServer(t, testConfig())
	fb.set(bridge.Snapshot{Status: bridge.CameraStatus{State: bridge.Discovering}}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	ws, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/api/ws", nil)
	require.NoError(t, err)
	defer ws.Close(websocket.StatusNormalClosure, "")

	var f Frame
	require.NoError(t, wsjson.Read(ctx, ws, &f))
	assert.Equal(t, "status", f.Type)
	assert.Equal(t, "discovering", f.Status.State)

	require.Eventually(t, func() bool {
		n := 0
		s.Hub().clients.Range(func(_, _ any) bool { n++; return true })
		return n == 1
	}, time.Second, 5*time.Millisecond)

	s.Hub().PublishCompletion(bridge.Completion{
		Command: bridge.Command{ID: "c1", Kind: bridge.KindShutterStart, Origin: bridge.Origin{Source: bridge.SourceMAVLink}},
		Err:     bridge.ErrTimeout,
	})
	require.NoError(t, wsjson.Read(ctx, ws, &f))
	assert.Equal(t, "completion", f.Type)
	assert.Equal(t, "c1", f.Completion.ID)
	assert.False(t, f.Completion.OK)
	assert.Equal(t, "timeout", f.Completion.Reason)
	assert.Equal(t, "mavlink", f.Completion.Source)
}
