// Package control serves the HTTP control surface: the legacy /control
// endpoint, a small JSON API and a websocket status stream.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/attribute"

	"mavcam-bridge/internal/bridge"
	"mavcam-bridge/internal/gopro"
	"mavcam-bridge/internal/infra/config"
	"mavcam-bridge/internal/infra/tracer"
)

// Bridge is the part of the controller the control surface drives.
type Bridge interface {
	Submit(ctx context.Context, cmd bridge.Command) (bridge.Command, error)
	Snapshot() bridge.Snapshot
}

// Server is the HTTP control surface.
type Server struct {
	cfg    config.ControlConfig
	bridge Bridge
	hub    *Hub
	logger *slog.Logger

	httpSrv   *http.Server
	boundAddr atomic.Value
}

func NewServer(cfg config.ControlConfig, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "control"))
	return &Server{
		cfg:    cfg,
		hub:    NewHub(logger),
		logger: logger,
	}
}

// Bind attaches the controller. It must be called before Start.
func (s *Server) Bind(b Bridge) {
	s.bridge = b
	s.hub.bridge = b
}

// Hub is the websocket fan-out; register it as a bridge publisher.
func (s *Server) Hub() *Hub { return s.hub }

// BoundAddr returns the listening address once Start has bound it.
func (s *Server) BoundAddr() string {
	if v, ok := s.boundAddr.Load().(string); ok {
		return v
	}
	return ""
}

// Handler builds the router.
func (s *Server) Handler(ctx context.Context) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(RateLimit(ctx, s.cfg.RateLimit, s.cfg.RateBurst))

	r.Get("/control", s.handleControl)
	r.Route("/api", func(r chi.Router) {
		r.Post("/commands", s.handleCommand)
		r.Get("/status", s.handleStatus)
		r.Get("/ws", s.hub.ServeHTTP)
	})
	return r
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if s.bridge == nil {
		return fmt.Errorf("control: server not bound to a bridge")
	}
	listener, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("control listen: %w", err)
	}
	addr := listener.Addr().String()
	s.boundAddr.Store(addr)

	s.httpSrv = &http.Server{
		Handler:           s.Handler(ctx),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.cfg.MDNS {
		_, portStr, _ := net.SplitHostPort(addr)
		port, _ := strconv.Atoi(portStr)
		go func() {
			if err := Advertise(ctx, s.cfg.InstanceName, port, s.logger); err != nil {
				s.logger.Warn("mdns advertisement failed", slog.Any("error", err))
			}
		}()
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.hub.Close()
		_ = s.httpSrv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("control surface started", slog.String("addr", addr))
	if err := s.httpSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("control serve: %w", err)
	}
	return nil
}

// controlCommand maps the legacy query string onto a command. shutter=1
// toggles recording, like the hardware button.
func controlCommand(q map[string][]string, snap bridge.Snapshot) (bridge.Command, bool) {
	get := func(k string) (string, bool) {
		v, ok := q[k]
		if !ok || len(v) == 0 {
			return "", ok
		}
		return v[0], true
	}

	if v, ok := get("shutter"); ok {
		if v == "0" || snap.Status.Recording {
			return bridge.Command{Kind: bridge.KindShutterStop}, true
		}
		return bridge.Command{Kind: bridge.KindShutterStart}, true
	}
	for _, mode := range []gopro.CaptureMode{gopro.ModePhoto, gopro.ModeVideo, gopro.ModeTimelapse} {
		if _, ok := get(mode.String()); ok {
			return bridge.Command{Kind: bridge.KindSetMode, Mode: mode}, true
		}
	}
	if v, ok := get("power"); ok && v == "0" {
		return bridge.Command{Kind: bridge.KindPowerOff}, true
	}
	return bridge.Command{}, false
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	cmd, ok := controlCommand(r.URL.Query(), s.bridge.Snapshot())
	if !ok {
		http.Error(w, "unknown control", http.StatusBadRequest)
		return
	}
	if _, err := s.submit(r.Context(), cmd); err != nil {
		http.Error(w, string(bridge.ReasonOf(err)), statusFor(err))
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("OK"))
}

// CommandRequest is the JSON body of POST /api/commands.
type CommandRequest struct {
	Kind     string `json:"kind"`
	Mode     string `json:"mode,omitempty"`
	Count    int    `json:"count,omitempty"`
	PeriodMs int64  `json:"period_ms,omitempty"`
}

type commandResponse struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func (req CommandRequest) command() (bridge.Command, error) {
	kind, ok := bridge.ParseCommandKind(req.Kind)
	if !ok {
		return bridge.Command{}, fmt.Errorf("unknown command kind %q", req.Kind)
	}
	cmd := bridge.Command{
		Kind:   kind,
		Count:  req.Count,
		Period: time.Duration(req.PeriodMs) * time.Millisecond,
	}
	if kind == bridge.KindSetMode {
		mode, ok := gopro.ParseCaptureMode(req.Mode)
		if !ok {
			return bridge.Command{}, fmt.Errorf("unknown capture mode %q", req.Mode)
		}
		cmd.Mode = mode
	}
	return cmd, nil
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req CommandRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request payload: " + err.Error()})
		return
	}
	cmd, err := req.command()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Reason: string(bridge.ReasonUnsupported)})
		return
	}

	accepted, err := s.submit(r.Context(), cmd)
	if err != nil {
		writeJSON(w, statusFor(err), errorResponse{Error: err.Error(), Reason: string(bridge.ReasonOf(err))})
		return
	}
	writeJSON(w, http.StatusAccepted, commandResponse{ID: accepted.ID, Kind: accepted.Kind.String()})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.bridge.Snapshot())
}

func (s *Server) submit(ctx context.Context, cmd bridge.Command) (bridge.Command, error) {
	cmd.Origin = bridge.Origin{Source: bridge.SourceControl}
	ctx, span := tracer.Start(ctx, "control.submit", attribute.String("command", cmd.String()))
	accepted, err := s.bridge.Submit(ctx, cmd)
	tracer.Finish(span, err)
	if err != nil {
		s.logger.Info("command rejected",
			slog.String("command", cmd.String()),
			slog.String("reason", string(bridge.ReasonOf(err))))
		return accepted, err
	}
	s.logger.Debug("command accepted", slog.String("id", accepted.ID), slog.String("command", cmd.String()))
	return accepted, nil
}

func statusFor(err error) int {
	switch bridge.ReasonOf(err) {
	case bridge.ReasonNotConnected:
		return http.StatusServiceUnavailable
	case bridge.ReasonBusy:
		return http.StatusConflict
	case bridge.ReasonUnsupported:
		return http.StatusBadRequest
	case bridge.ReasonTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
