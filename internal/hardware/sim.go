package hardware

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"mavcam-bridge/internal/bridge"
	"mavcam-bridge/internal/gopro"
	"mavcam-bridge/internal/infra/config"
)

var ErrNoLink = errors.New("sim: no camera link")

// SimCamera implements bridge.Transport against an in-process camera.
// Responses are built as wire messages and decoded by the real codec.
type SimCamera struct {
	cfg    config.SimConfig
	logger *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	rng       *rand.Rand
	state     CameraState
	battery   uint8
	lastDrain time.Time
	caps      gopro.Capabilities
	pushing   bool
	link      *simLink
}

func NewSimCamera(cfg config.SimConfig, logger *slog.Logger) *SimCamera {
	return &SimCamera{
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
		rng:       rand.New(rand.NewSource(cfg.Seed)),
		state:     CameraState{Mode: gopro.ModeVideo},
		battery:   100,
		lastDrain: time.Now(),
		caps:      gopro.CapabilitiesForModel(cfg.ModelID),
	}
}

func (s *SimCamera) Kind() string { return "sim" }

func (s *SimCamera) identity() bridge.Identity {
	return bridge.Identity{Name: s.cfg.Name, Address: s.cfg.Address, HasService: true}
}

// State returns a copy of the camera state.
func (s *SimCamera) State() CameraState {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drainLocked()
	st := s.state
	st.Battery = s.battery
	return st
}

// Scan advertises the camera once, asleep or not, then waits for ctx.
func (s *SimCamera) Scan(ctx context.Context, found func(bridge.Identity)) error {
	select {
	case <-ctx.Done():
		return nil
	case <-time.After(s.cfg.Latency):
	}
	s.logger.Info("[SIM] Advertising", "name", s.cfg.Name)
	found(s.identity())
	<-ctx.Done()
	return nil
}

func (s *SimCamera) Connect(ctx context.Context, id bridge.Identity) (<-chan bridge.Event, error) {
	if id.Address != s.cfg.Address {
		return nil, errors.New("sim: unknown camera " + id.String())
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(s.cfg.Latency):
	}

	l := newSimLink()
	s.mu.Lock()
	old := s.link
	s.link = l
	s.pushing = false
	s.state.Asleep = false
	s.mu.Unlock()
	if old != nil {
		old.close()
	}
	s.logger.Info("[SIM] Camera Connected", "camera", id.String())
	return l.events, nil
}

func (s *SimCamera) Disconnect() error {
	s.mu.Lock()
	l := s.link
	s.link = nil
	s.mu.Unlock()
	if l != nil {
		l.close()
		s.logger.Info("[SIM] Camera Disconnected")
	}
	return nil
}

// Send applies req to the camera and schedules its responses after the
// configured latency. Dropped responses simulate a lossy radio.
func (s *SimCamera) Send(req gopro.Request) error {
	s.mu.Lock()
	l := s.link
	if l == nil {
		s.mu.Unlock()
		return ErrNoLink
	}
	drained := s.drainLocked()
	msgs, sleep := s.applyLocked(req)
	if drained && s.pushing && req.Op != gopro.OpQueryStatus && req.Op != gopro.OpRegisterStatus {
		msgs = append(msgs, s.pushLocked())
	}
	drop := s.cfg.DropRate > 0 && s.rng.Float64() < s.cfg.DropRate
	s.mu.Unlock()

	s.logger.Debug("[SIM] Request", "request", req.String(), "dropped", drop)
	if drop {
		return nil
	}
	go s.deliver(l, msgs, sleep)
	return nil
}

type simMessage struct {
	channel gopro.Channel
	body    []byte
}

func (s *SimCamera) deliver(l *simLink, msgs []simMessage, sleep bool) {
	select {
	case <-l.done:
		return
	case <-time.After(s.cfg.Latency):
	}
	for _, m := range msgs {
		decoded, err := gopro.Decode(m.channel, m.body)
		if err != nil {
			s.logger.Warn("[SIM] Bad response", "channel", m.channel.String(), "err", err)
			continue
		}
		for _, ev := range bridge.EventFromMessage(decoded) {
			l.emit(ev)
		}
	}
	if sleep {
		s.mu.Lock()
		if s.link == l {
			s.link = nil
		}
		s.mu.Unlock()
		s.logger.Info("[SIM] Camera Asleep")
		l.close()
	}
}

// applyLocked mutates the camera for req and returns the response messages.
// The bool reports that the camera goes to sleep after responding.
func (s *SimCamera) applyLocked(req gopro.Request) ([]simMessage, bool) {
	ack := simMessage{channel: req.Channel, body: gopro.EncodeAck(req.ResponseID, true)}
	changed := false

	switch req.Op {
	case gopro.OpIdentity:
		return []simMessage{{
			channel: gopro.ChannelCommand,
			body:    gopro.EncodeHardwareInfo(gopro.HardwareInfo{ModelID: s.cfg.ModelID, ModelName: s.cfg.ModelName}),
		}}, false

	case gopro.OpQueryStatus:
		return []simMessage{s.statusLocked(req.ResponseID)}, false

	case gopro.OpRegisterStatus:
		s.pushing = true
		return []simMessage{s.statusLocked(req.ResponseID)}, false

	case gopro.OpKeepAlive:
		return []simMessage{ack}, false

	case gopro.OpShutterStart:
		if s.state.Mode == gopro.ModePhoto {
			s.state.Photos++
			s.logger.Info("[SIM] Photo Taken", "count", s.state.Photos)
		} else if !s.state.Recording {
			s.state.Recording = true
			changed = true
			s.logger.Info("[SIM] Recording STARTED", "mode", s.state.Mode.String())
		}

	case gopro.OpShutterStop:
		if s.state.Recording {
			s.state.Recording = false
			changed = true
			s.logger.Info("[SIM] Recording STOPPED")
		}

	case gopro.OpSetMode:
		if s.state.Recording {
			s.logger.Warn("[SIM] Mode change refused while recording")
			return []simMessage{{channel: req.Channel, body: gopro.EncodeAck(req.ResponseID, false)}}, false
		}
		if s.state.Mode != req.Mode {
			s.state.Mode = req.Mode
			changed = true
		}
		s.logger.Info("[SIM] Mode Set", "mode", req.Mode.String())

	case gopro.OpSleep:
		s.state.Recording = false
		s.state.Asleep = true
		s.pushing = false
		return []simMessage{ack}, true

	default:
		return []simMessage{{channel: req.Channel, body: gopro.EncodeAck(req.ResponseID, false)}}, false
	}

	msgs := []simMessage{ack}
	if changed && s.pushing {
		msgs = append(msgs, s.pushLocked())
	}
	return msgs, false
}

func (s *SimCamera) statusLocked(responseID uint8) simMessage {
	entries := gopro.StatusEntries(s.state.Recording, s.battery, s.state.Mode, s.caps)
	return simMessage{channel: gopro.ChannelQuery, body: gopro.EncodeStatuses(responseID, entries)}
}

func (s *SimCamera) pushLocked() simMessage {
	entries := gopro.StatusEntries(s.state.Recording, s.battery, s.state.Mode, s.caps)
	return simMessage{channel: gopro.ChannelQuery, body: gopro.EncodeStatusPush(entries)}
}

// drainLocked takes one percent per elapsed drain interval and reports whether the level changed.
func (s *SimCamera) drainLocked() bool {
	if s.cfg.BatteryDrain <= 0 {
		return false
	}
	now := s.now()
	steps := int(now.Sub(s.lastDrain) / s.cfg.BatteryDrain)
	if steps <= 0 || s.battery == 0 {
		return false
	}
	s.lastDrain = s.lastDrain.Add(time.Duration(steps) * s.cfg.BatteryDrain)
	if steps > int(s.battery) {
		steps = int(s.battery)
	}
	s.battery -= uint8(steps)
	return true
}

// simLink mirrors a radio link: its events channel closes once when it ends.
type simLink struct {
	events    chan bridge.Event
	done      chan struct{}
	closeOnce sync.Once
	mu        sync.Mutex
	closed    bool
}

func newSimLink() *simLink {
	return &simLink{
		events: make(chan bridge.Event, 32),
		done:   make(chan struct{}),
	}
}

func (l *simLink) emit(ev bridge.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	select {
	case l.events <- ev:
	case <-l.done:
	}
}

func (l *simLink) close() {
	l.closeOnce.Do(func() {
		close(l.done)
		l.mu.Lock()
		l.closed = true
		close(l.events)
		l.mu.Unlock()
	})
}
