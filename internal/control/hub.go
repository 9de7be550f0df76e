package control

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"mavcam-bridge/internal/bridge"
)

// Frame is one message on the status stream.
type Frame struct {
	Type       string          `json:"type"` // "status", "completion" or "interval"
	Status     *StatusFrame    `json:"status,omitempty"`
	Completion *CompletionInfo `json:"completion,omitempty"`
	Interval   *IntervalInfo   `json:"interval,omitempty"`
}

type StatusFrame struct {
	State         string `json:"state"`
	Mode          string `json:"mode"`
	Recording     bool   `json:"recording"`
	Battery       uint8  `json:"battery"`
	Model         string `json:"model,omitempty"`
	PeerConnected bool   `json:"peer_connected"`
}

type CompletionInfo struct {
	ID     string `json:"id"`
	Kind   string `json:"kind"`
	Source string `json:"source"`
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

type IntervalInfo struct {
	Total   int `json:"total"`
	Skipped int `json:"skipped"`
}

func statusFrame(st bridge.CameraStatus, peer bool) *StatusFrame {
	return &StatusFrame{
		State:         st.State.String(),
		Mode:          st.Mode.String(),
		Recording:     st.Recording,
		Battery:       st.Battery,
		Model:         st.Model,
		PeerConnected: peer,
	}
}

type wsClient struct {
	ws        *websocket.Conn
	sendCh    chan Frame
	done      chan struct{}
	closeOnce sync.Once
}

func (c *wsClient) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Hub streams bridge events to websocket clients. It implements
// bridge.Publisher; slow clients lose frames rather than stall the bridge.
type Hub struct {
	bridge  Bridge
	logger  *slog.Logger
	clients sync.Map // uint64 -> *wsClient
	nextID  atomic.Uint64
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{logger: logger}
}

func (h *Hub) broadcast(f Frame) {
	h.clients.Range(func(_, value any) bool {
		c := value.(*wsClient)
		select {
		case c.sendCh <- f:
		default:
			h.logger.Warn("dropped frame for slow websocket client", slog.String("type", f.Type))
		}
		return true
	})
}

func (h *Hub) PublishStatus(st bridge.CameraStatus, peerConnected bool) {
	h.broadcast(Frame{Type: "status", Status: statusFrame(st, peerConnected)})
}

func (h *Hub) PublishCompletion(c bridge.Completion) {
	info := &CompletionInfo{
		ID:     c.Command.ID,
		Kind:   c.Command.Kind.String(),
		Source: string(c.Command.Origin.Source),
		OK:     c.Err == nil,
	}
	if c.Err != nil {
		info.Reason = string(bridge.ReasonOf(c.Err))
	}
	h.broadcast(Frame{Type: "completion", Completion: info})
}

func (h *Hub) PublishInterval(r bridge.IntervalReport) {
	h.broadcast(Frame{Type: "interval", Interval: &IntervalInfo{Total: r.Job.Total, Skipped: r.Skipped}})
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.clients.Range(func(key, value any) bool {
		c := value.(*wsClient)
		c.close()
		c.ws.Close(websocket.StatusGoingAway, "server shutting down")
		h.clients.Delete(key)
		return true
	})
}

// ServeHTTP upgrades the request and streams frames, starting with the current status.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost", "localhost:*", "127.0.0.1", "127.0.0.1:*"},
	})
	if err != nil {
		h.logger.Warn("websocket accept failed", slog.Any("error", err))
		return
	}

	id := h.nextID.Add(1)
	c := &wsClient{ws: ws, sendCh: make(chan Frame, 16), done: make(chan struct{})}
	snap := h.bridge.Snapshot()
	c.sendCh <- Frame{Type: "status", Status: statusFrame(snap.Status, snap.PeerConnected)}
	h.clients.Store(id, c)
	h.logger.Info("websocket client connected", slog.Uint64("conn_id", id))

	go h.writeLoop(c)

	// The stream is one-way; reading only detects the client going away.
	ctx := ws.CloseRead(r.Context())
	select {
	case <-ctx.Done():
	case <-c.done:
	}

	c.close()
	h.clients.Delete(id)
	ws.Close(websocket.StatusNormalClosure, "")
	h.logger.Info("websocket client disconnected", slog.Uint64("conn_id", id))
}

func (h *Hub) writeLoop(c *wsClient) {
	for {
		select {
		case <-c.done:
			return
		case f := <-c.sendCh:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := wsjson.Write(ctx, c.ws, f)
			cancel()
			if err != nil {
				c.close()
				return
			}
		}
	}
}
