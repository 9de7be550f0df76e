// Package mavlink is the autopilot-facing side of the bridge: it turns
// MAVLink camera commands into bridge commands and reports camera state back
// as MAVLink telemetry.
package mavlink

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bluenviron/gomavlib/v3"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/ardupilotmega"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"

	"mavcam-bridge/internal/bridge"
	"mavcam-bridge/internal/infra/config"
)

const outboxSize = 64

// Bridge is the part of the controller the endpoint drives.
type Bridge interface {
	Submit(ctx context.Context, cmd bridge.Command) (bridge.Command, error)
	PeerHeartbeat()
	Snapshot() bridge.Snapshot
}

// Endpoint owns the MAVLink node. It implements bridge.Publisher; publish
// calls never block the bridge loop.
type Endpoint struct {
	cfg    config.MAVLinkConfig
	logger *slog.Logger
	bridge Bridge
	now    func() time.Time

	outbox  chan message.Message
	refresh chan struct{}

	bootTime time.Time

	mu             sync.Mutex
	recording      bool
	recordingSince time.Time
}

func New(cfg config.MAVLinkConfig, logger *slog.Logger) *Endpoint {
	return &Endpoint{
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "mavlink")),
		now:      time.Now,
		outbox:   make(chan message.Message, outboxSize),
		refresh:  make(chan struct{}, 1),
		bootTime: time.Now(),
	}
}

// Bind attaches the controller. It must be called before Run.
func (e *Endpoint) Bind(b Bridge) {
	e.bridge = b
}

// ParseEndpoint turns "kind:address" into a gomavlib endpoint.
func ParseEndpoint(s string) (gomavlib.EndpointConf, error) {
	kind, addr, ok := strings.Cut(s, ":")
	if !ok || addr == "" {
		return nil, fmt.Errorf("mavlink endpoint %q: want kind:address", s)
	}
	switch kind {
	case "udps":
		return gomavlib.EndpointUDPServer{Address: addr}, nil
	case "udpc":
		return gomavlib.EndpointUDPClient{Address: addr}, nil
	case "udpb":
		return gomavlib.EndpointUDPBroadcast{BroadcastAddress: addr}, nil
	case "tcps":
		return gomavlib.EndpointTCPServer{Address: addr}, nil
	case "tcpc":
		return gomavlib.EndpointTCPClient{Address: addr}, nil
	case "serial":
		i := strings.LastIndex(addr, ":")
		if i < 0 {
			return nil, fmt.Errorf("mavlink endpoint %q: want serial:device:baud", s)
		}
		baud, err := strconv.Atoi(addr[i+1:])
		if err != nil {
			return nil, fmt.Errorf("mavlink endpoint %q: baud: %w", s, err)
		}
		return gomavlib.EndpointSerial{Device: addr[:i], Baud: baud}, nil
	}
	return nil, fmt.Errorf("mavlink endpoint %q: unknown kind %q", s, kind)
}

// Run opens the node and serves until ctx is cancelled.
func (e *Endpoint) Run(ctx context.Context) error {
	if e.bridge == nil {
		return fmt.Errorf("mavlink: endpoint not bound to a bridge")
	}
	var endpoints []gomavlib.EndpointConf
	for _, s := range e.cfg.Endpoints {
		ep, err := ParseEndpoint(s)
		if err != nil {
			return err
		}
		endpoints = append(endpoints, ep)
	}

	node := &gomavlib.Node{
		Endpoints:        endpoints,
		Dialect:          ardupilotmega.Dialect,
		OutVersion:       gomavlib.V2,
		OutSystemID:      e.cfg.SystemID,
		OutComponentID:   e.cfg.ComponentID,
		HeartbeatDisable: true,
	}
	if err := node.Initialize(); err != nil {
		return fmt.Errorf("mavlink node: %w", err)
	}
	defer node.Close()

	e.logger.Info("mavlink endpoint started",
		slog.Any("endpoints", e.cfg.Endpoints),
		slog.Int("system_id", int(e.cfg.SystemID)),
		slog.Int("component_id", int(e.cfg.ComponentID)))

	ticker := time.NewTicker(e.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-node.Events():
			if !ok {
				return nil
			}
			e.onEvent(ctx, evt)
		case msg := <-e.outbox:
			node.WriteMessageAll(msg)
		case <-e.refresh:
			node.WriteMessageAll(goproHeartbeat(e.bridge.Snapshot().Status))
		case <-ticker.C:
			for _, msg := range e.telemetry() {
				node.WriteMessageAll(msg)
			}
		}
	}
}

func (e *Endpoint) onEvent(ctx context.Context, evt gomavlib.Event) {
	switch evt := evt.(type) {
	case *gomavlib.EventChannelOpen:
		e.logger.Info("mavlink channel open", slog.String("channel", fmt.Sprint(evt.Channel)))
	case *gomavlib.EventChannelClose:
		e.logger.Info("mavlink channel closed", slog.String("channel", fmt.Sprint(evt.Channel)))
	case *gomavlib.EventParseError:
		e.logger.Debug("mavlink parse error", slog.Any("error", evt.Error))
	case *gomavlib.EventFrame:
		e.handleMessage(ctx, evt.SystemID(), evt.ComponentID(), evt.Message())
	}
}

func (e *Endpoint) telemetry() []message.Message {
	e.mu.Lock()
	since := e.recordingSince
	e.mu.Unlock()
	return telemetry(e.bridge.Snapshot(), e.bootTime, since, e.now())
}

func (e *Endpoint) addressed(target, targetComp uint8) bool {
	return (target == 0 || target == e.cfg.SystemID) &&
		(targetComp == 0 || targetComp == e.cfg.ComponentID)
}

// handleMessage dispatches one inbound frame.
func (e *Endpoint) handleMessage(ctx context.Context, sysID, compID uint8, msg message.Message) {
	switch m := msg.(type) {
	case *ardupilotmega.MessageHeartbeat:
		if sysID == e.cfg.SystemID && compID == e.cfg.ComponentID {
			return
		}
		e.bridge.PeerHeartbeat()

	case *ardupilotmega.MessageCommandLong:
		if !e.addressed(m.TargetSystem, m.TargetComponent) {
			return
		}
		origin := bridge.Origin{Source: bridge.SourceMAVLink, SystemID: sysID, ComponentID: compID, Ref: uint32(m.Command)}
		cmd, ok := commandFromLong(m)
		if !ok {
			e.logger.Debug("unsupported mavlink command", slog.Int("command", int(m.Command)))
			e.send(commandAck(origin, ardupilotmega.MAV_RESULT_UNSUPPORTED))
			return
		}
		cmd.Origin = origin
		if _, err := e.bridge.Submit(ctx, cmd); err != nil {
			e.logger.Info("mavlink command rejected",
				slog.String("command", cmd.String()),
				slog.String("reason", string(bridge.ReasonOf(err))))
			e.send(commandAck(origin, resultFor(err)))
		}

	case *ardupilotmega.MessageGoproSetRequest:
		if !e.addressed(m.TargetSystem, m.TargetComponent) {
			return
		}
		origin := bridge.Origin{Source: bridge.SourceMAVLink, SystemID: sysID, ComponentID: compID, Ref: goproSetRef | uint32(m.CmdId)}
		cmd, ok := commandFromGoProSet(m)
		if !ok {
			e.send(setResponse(origin, false))
			return
		}
		cmd.Origin = origin
		if _, err := e.bridge.Submit(ctx, cmd); err != nil {
			e.logger.Info("gopro set request rejected",
				slog.String("command", cmd.String()),
				slog.String("reason", string(bridge.ReasonOf(err))))
			e.send(setResponse(origin, false))
		}

	case *ardupilotmega.MessageGoproGetRequest:
		if !e.addressed(m.TargetSystem, m.TargetComponent) {
			return
		}
		e.send(getResponse(m.CmdId, e.bridge.Snapshot()))
	}
}

func commandAck(o bridge.Origin, result ardupilotmega.MAV_RESULT) *ardupilotmega.MessageCommandAck {
	return &ardupilotmega.MessageCommandAck{
		Command:         common.MAV_CMD(o.Ref),
		Result:          result,
		TargetSystem:    o.SystemID,
		TargetComponent: o.ComponentID,
	}
}

func setResponse(o bridge.Origin, ok bool) *ardupilotmega.MessageGoproSetResponse {
	status := ardupilotmega.GOPRO_REQUEST_FAILED
	if ok {
		status = ardupilotmega.GOPRO_REQUEST_SUCCESS
	}
	return &ardupilotmega.MessageGoproSetResponse{
		CmdId:  ardupilotmega.GOPRO_COMMAND(o.Ref &^ goproSetRef),
		Status: status,
	}
}

func (e *Endpoint) send(msg message.Message) {
	select {
	case e.outbox <- msg:
	default:
		e.logger.Warn("mavlink outbox full, dropping message", slog.String("message", fmt.Sprintf("%T", msg)))
	}
}

// PublishStatus pushes a GOPRO_HEARTBEAT as soon as the camera view changes.
func (e *Endpoint) PublishStatus(st bridge.CameraStatus, _ bool) {
	recording := st.State == bridge.Connected && st.Recording
	e.mu.Lock()
	if recording && !e.recording {
		e.recordingSince = e.now()
	}
	if !recording {
		e.recordingSince = time.Time{}
	}
	e.recording = recording
	e.mu.Unlock()

	select {
	case e.refresh <- struct{}{}:
	default:
	}
}

// PublishCompletion acknowledges commands that arrived over MAVLink.
func (e *Endpoint) PublishCompletion(c bridge.Completion) {
	o := c.Command.Origin
	if o.Source != bridge.SourceMAVLink {
		return
	}
	if o.Ref&goproSetRef != 0 {
		e.send(setResponse(o, c.Err == nil))
		return
	}
	result := ardupilotmega.MAV_RESULT_ACCEPTED
	if c.Err != nil {
		result = ardupilotmega.MAV_RESULT_FAILED
	}
	e.send(commandAck(o, result))
}

func (e *Endpoint) PublishInterval(r bridge.IntervalReport) {
	e.logger.Info("interval capture finished",
		slog.Int("shots", r.Job.Total),
		slog.Int("skipped", r.Skipped))
}
