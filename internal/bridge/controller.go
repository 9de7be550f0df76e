package bridge

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"mavcam-bridge/internal/gopro"
)

// ErrStopped is returned by calls made after the controller loop has exited.
var ErrStopped = errors.New("bridge controller stopped")

// Snapshot is a read-only copy of the bridge view, safe to read from any goroutine.
type Snapshot struct {
	Status        CameraStatus       `json:"status"`
	State         string             `json:"state"`
	Mode          string             `json:"mode"`
	PeerConnected bool               `json:"peer_connected"`
	Camera        Identity           `json:"camera"`
	Interval      IntervalCaptureJob `json:"interval"`
	Busy          bool               `json:"busy"`
	Liveness      LivenessWindow     `json:"-"`
	Transport     string             `json:"transport"`
	Since         time.Time          `json:"since"`
}

// Options carries the optional collaborators of a Controller.
type Options struct {
	Publisher Publisher
	Indicator Indicator
	Store     PairingStore
	Logger    *slog.Logger
	Clock     Clock
}

// Controller serializes every input of the bridge through one dispatch loop.
// All fields below inbox are owned by that loop.
type Controller struct {
	cfg       Config
	transport Transport
	publisher Publisher
	indicator Indicator
	store     PairingStore
	logger    *slog.Logger
	clock     Clock

	inbox    chan func(now time.Time)
	done     chan struct{}
	snapshot atomic.Pointer[Snapshot]

	runCtx     context.Context
	machine    *Machine
	translator *Translator
	monitor    *Monitor
	scheduler  Scheduler

	linkGen      uint64
	linkOpen     bool
	linkCancel   context.CancelFunc
	scanCancel   context.CancelFunc
	scanGen      uint64
	restartAt    time.Time
	negotiated   bool
	published    bool
	lastStatus   CameraStatus
	lastPeerSeen bool
}

func New(cfg Config, transport Transport, opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	publisher := opts.Publisher
	if publisher == nil {
		publisher = Publishers(nil)
	}
	logger = logger.With(slog.String("component", "bridge"))

	c := &Controller{
		cfg:        cfg,
		transport:  transport,
		publisher:  publisher,
		indicator:  opts.Indicator,
		store:      opts.Store,
		logger:     logger,
		clock:      clock,
		inbox:      make(chan func(time.Time), 64),
		done:       make(chan struct{}),
		runCtx:     context.Background(),
		machine:    NewMachine(cfg.NamePrefix, cfg.PairingTimeout),
		translator: NewTranslator(transport, cfg.CommandTimeout, cfg.CommandRetries, logger),
		monitor:    NewMonitor(cfg.KeepAliveInterval, cfg.CameraTimeout(), cfg.PeerTimeout),
	}
	c.storeSnapshot()
	return c
}

// NewCommandID returns a sortable unique command identifier.
func NewCommandID() string {
	return ulid.Make().String()
}

// Run drives the bridge until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	c.runCtx = ctx
	defer close(c.done)

	if c.store != nil {
		if id, ok, err := c.store.LoadPaired(ctx); err != nil {
			c.logger.Warn("load paired camera failed", slog.Any("error", err))
		} else if ok {
			c.machine.Prefer(id.Name)
			c.logger.Info("preferring paired camera", slog.String("camera", id.String()))
		}
	}

	c.logger.Info("bridge started",
		slog.String("transport", c.transport.Kind()),
		slog.Duration("tick", c.cfg.TickInterval))
	c.applyOutcome(c.machine.Restart(c.clock()), c.clock())
	c.publish()

	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return ctx.Err()
		case fn := <-c.inbox:
			fn(c.clock())
			c.publish()
		case <-ticker.C:
			c.tick(c.clock())
			c.publish()
		}
	}
}

func (c *Controller) shutdown() {
	c.stopScan()
	if c.linkOpen {
		c.linkGen++
		if c.linkCancel != nil {
			c.linkCancel()
		}
		if err := c.transport.Disconnect(); err != nil {
			c.logger.Warn("disconnect on shutdown failed", slog.Any("error", err))
		}
		c.linkOpen = false
	}
	if c.indicator != nil {
		c.indicator.Signal(SignalIdle)
	}
	c.logger.Info("bridge stopped")
}

// post hands fn to the dispatch loop. It reports false once the loop is gone.
func (c *Controller) post(ctx context.Context, fn func(time.Time)) bool {
	select {
	case c.inbox <- fn:
		return true
	case <-c.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// Submit hands a command to the bridge and returns once it has been accepted
// or rejected. Accepted commands complete later through Publisher.PublishCompletion.
func (c *Controller) Submit(ctx context.Context, cmd Command) (Command, error) {
	if cmd.ID == "" {
		cmd.ID = NewCommandID()
	}
	reply := make(chan error, 1)
	if !c.post(ctx, func(now time.Time) { reply <- c.submit(cmd, now) }) {
		if ctx.Err() != nil {
			return cmd, ctx.Err()
		}
		return cmd, ErrStopped
	}
	select {
	case err := <-reply:
		return cmd, err
	case <-ctx.Done():
		return cmd, ctx.Err()
	case <-c.done:
		return cmd, ErrStopped
	}
}

// HandleTransportEvent queues an event that is not tied to a particular link,
// such as an advertisement seen by a scan.
func (c *Controller) HandleTransportEvent(ev Event) {
	c.post(context.Background(), func(now time.Time) { c.handleEvent(ev, now) })
}

// PeerHeartbeat records a heartbeat from the upstream MAVLink peer.
func (c *Controller) PeerHeartbeat() {
	c.post(context.Background(), func(now time.Time) {
		if c.monitor.PeerHeartbeat(now) {
			c.logger.Info("mavlink peer connected")
		}
	})
}

// Snapshot returns the latest published view.
func (c *Controller) Snapshot() Snapshot {
	return *c.snapshot.Load()
}

func (c *Controller) submit(cmd Command, now time.Time) error {
	state := c.machine.State()
	var err error
	switch cmd.Kind {
	case KindIntervalStart:
		if err = c.scheduler.Start(cmd.Count, cmd.Period, state); err == nil {
			c.logger.Info("interval capture started",
				slog.Int("count", cmd.Count),
				slog.Duration("period", cmd.Period))
			c.complete(Completion{Command: cmd}, now)
		}
	case KindIntervalStop:
		if state != Connected {
			err = reject(cmd.Kind.String(), ErrNotConnected, "")
			break
		}
		if c.scheduler.Cancel() {
			c.logger.Info("interval capture stopped")
		}
		c.complete(Completion{Command: cmd}, now)
	default:
		if comp, ok := c.translator.Expire(now); ok {
			c.complete(comp, now)
		}
		err = c.translator.Submit(cmd, state, now)
	}

	if err != nil {
		c.logger.Debug("command rejected",
			slog.String("id", cmd.ID),
			slog.String("command", cmd.String()),
			slog.String("reason", string(ReasonOf(err))))
		return err
	}
	c.logger.Debug("command accepted", slog.String("id", cmd.ID), slog.String("command", cmd.String()))
	return nil
}

func (c *Controller) onLinkEvent(gen uint64, ev Event, now time.Time) {
	if gen != c.linkGen {
		c.logger.Debug("stale link event dropped", slog.String("event", ev.Kind.String()))
		return
	}
	c.handleEvent(ev, now)
}

func (c *Controller) handleEvent(ev Event, now time.Time) {
	switch ev.Kind {
	case EventAck:
		c.monitor.CameraHeartbeat(now)
		comp, upd, ok := c.translator.OnAck(ev, c.machine.Status())
		if !ok {
			c.logger.Debug("unsolicited ack ignored", slog.Int("id", int(ev.AckID)))
			return
		}
		c.machine.ApplyUpdate(upd)
		c.complete(comp, now)
	case EventStatus:
		c.monitor.CameraHeartbeat(now)
		if upd, ok := c.translator.TranslateOutbound(ev); ok {
			c.machine.ApplyUpdate(upd)
		}
	default:
		if ev.Kind == EventIdentity {
			c.monitor.CameraHeartbeat(now)
		}
		if ev.Err != nil {
			c.logger.Warn("camera link event",
				slog.String("event", ev.Kind.String()),
				slog.Any("error", ev.Err))
		}
		c.applyOutcome(c.machine.OnTransportEvent(ev, now), now)
	}
}

// complete routes a finished command. Bridge-originated requests stay internal.
func (c *Controller) complete(comp Completion, now time.Time) {
	if !IsInternal(comp) {
		c.publisher.PublishCompletion(comp)
	}
	if comp.Err != nil {
		c.logger.Debug("camera request failed",
			slog.String("op", comp.Op.String()),
			slog.String("reason", string(ReasonOf(comp.Err))))
	}

	switch comp.Op {
	case gopro.OpRegisterStatus:
		c.negotiated = true
		if comp.Err != nil {
			c.logger.Warn("status registration failed, relying on keepalive polling", slog.Any("error", comp.Err))
		}
	case gopro.OpSleep:
		if comp.Err == nil {
			c.applyOutcome(c.machine.OnTransportEvent(Event{Kind: EventPowerDown}, now), now)
		}
	}
}

func (c *Controller) tick(now time.Time) {
	// Expiry runs first so a retry goes out before anything else competes for the slot.
	if comp, ok := c.translator.Expire(now); ok {
		c.complete(comp, now)
	}
	c.applyOutcome(c.machine.CheckPairing(now), now)

	state := c.machine.State()
	if state == Disconnected && !c.restartAt.IsZero() && !now.Before(c.restartAt) {
		c.restartAt = time.Time{}
		c.applyOutcome(c.machine.Restart(now), now)
		state = c.machine.State()
	}
	if (state == Discovering || state == PoweredOff) && c.scanCancel == nil {
		c.startScan()
	}

	r := c.monitor.OnTick(now, state == Connected)
	if r.PeerLost {
		c.logger.Warn("mavlink peer lost", slog.Duration("timeout", c.cfg.PeerTimeout))
	}
	if r.CameraTimedOut {
		c.logger.Warn("camera heartbeat lost", slog.Duration("timeout", c.cfg.CameraTimeout()))
		c.applyOutcome(c.machine.LinkTimedOut(now), now)
		return
	}
	if state != Connected {
		return
	}

	if report, done := c.scheduler.OnTick(now, func() error {
		return c.translator.Submit(Command{
			ID:     NewCommandID(),
			Kind:   KindShutterStart,
			Origin: Origin{Source: SourceInterval},
		}, Connected, now)
	}); done {
		c.logger.Info("interval capture complete",
			slog.Int("fired", report.Job.Index),
			slog.Int("skipped", report.Skipped))
		c.publisher.PublishInterval(report)
	}

	if !c.negotiated {
		if err := c.translator.SendInternal(gopro.OpRegisterStatus, Connected, now); err == nil {
			c.negotiated = true
		}
	}
	if r.Probe {
		if err := c.translator.SendInternal(gopro.OpKeepAlive, Connected, now); err == nil {
			c.monitor.ProbeSent(now)
		}
	}
}

func (c *Controller) applyOutcome(o Outcome, now time.Time) {
	if o.ReadIdentity {
		if err := c.translator.SendInternal(gopro.OpIdentity, c.machine.State(), now); err != nil {
			c.logger.Warn("identity read not sent", slog.Any("error", err))
		}
	}
	if !o.Changed {
		return
	}

	c.logger.Info("camera state changed",
		slog.String("from", o.From.String()),
		slog.String("to", o.To.String()))
	if c.indicator != nil {
		c.indicator.Signal(signalFor(o.From, o.To))
	}

	if o.To != Connected {
		if comp, ok := c.translator.Reset(); ok {
			c.complete(comp, now)
		}
		if c.scheduler.Cancel() {
			c.logger.Info("interval capture cancelled", slog.String("state", o.To.String()))
		}
		c.negotiated = false
	}

	switch o.To {
	case Discovering:
		c.closeLink()
		c.restartScan()
	case Pairing:
		c.stopScan()
		c.connect(c.machine.Target())
	case Connected:
		c.translator.SetCapabilities(c.machine.Capabilities())
		c.monitor.LinkEstablished(now)
		c.savePaired()
	case Disconnected:
		c.stopScan()
		c.closeLink()
		c.restartAt = now.Add(c.cfg.RestartDelay)
	case PoweredOff:
		c.closeLink()
		c.startScan()
	}
}

func (c *Controller) startScan() {
	if c.scanCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(c.runCtx)
	c.scanCancel = cancel
	c.scanGen++
	gen := c.scanGen
	go func() {
		err := c.transport.Scan(ctx, func(id Identity) {
			if ctx.Err() == nil {
				c.HandleTransportEvent(Event{Kind: EventAdvertisement, Identity: id})
			}
		})
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			c.logger.Warn("scan failed", slog.Any("error", err))
		}
		// Let the next tick restart the scan if the machine still wants one.
		c.post(c.runCtx, func(time.Time) {
			if gen == c.scanGen {
				c.stopScan()
			}
		})
	}()
}

func (c *Controller) stopScan() {
	if c.scanCancel == nil {
		return
	}
	c.scanCancel()
	c.scanCancel = nil
}

// restartScan begins a fresh scan. Transports report each camera once per
// scan, so a camera already reported needs a new scan to be seen again.
func (c *Controller) restartScan() {
	c.stopScan()
	c.startScan()
}

func (c *Controller) connect(id Identity) {
	c.closeLink()
	c.linkGen++
	gen := c.linkGen
	ctx, cancel := context.WithTimeout(c.runCtx, c.cfg.PairingTimeout)
	c.linkCancel = cancel
	c.linkOpen = true

	c.logger.Info("connecting to camera", slog.String("camera", id.String()))
	go func() {
		events, err := c.transport.Connect(ctx, id)
		cancel()
		if err != nil {
			c.post(c.runCtx, func(now time.Time) {
				c.onLinkEvent(gen, Event{Kind: EventLinkFailed, Err: err}, now)
			})
			return
		}
		if !c.post(c.runCtx, func(now time.Time) { c.onLinkEvent(gen, Event{Kind: EventLinkUp}, now) }) {
			return
		}
		for ev := range events {
			if !c.post(c.runCtx, func(now time.Time) { c.onLinkEvent(gen, ev, now) }) {
				return
			}
		}
		c.post(c.runCtx, func(now time.Time) { c.onLinkEvent(gen, Event{Kind: EventLinkDown}, now) })
	}()
}

// closeLink invalidates the current link generation and disconnects off-loop.
func (c *Controller) closeLink() {
	if !c.linkOpen {
		return
	}
	c.linkOpen = false
	c.linkGen++
	if c.linkCancel != nil {
		c.linkCancel()
		c.linkCancel = nil
	}
	go func() {
		if err := c.transport.Disconnect(); err != nil {
			c.logger.Warn("disconnect failed", slog.Any("error", err))
		}
	}()
}

func (c *Controller) savePaired() {
	if c.store == nil {
		return
	}
	id, model := c.machine.Target(), c.machine.Status().Model
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := c.store.SavePaired(ctx, id, model); err != nil {
			c.logger.Warn("save paired camera failed", slog.Any("error", err))
		}
	}()
}

func (c *Controller) storeSnapshot() {
	st := c.machine.Status()
	c.snapshot.Store(&Snapshot{
		Status:        st,
		State:         st.State.String(),
		Mode:          st.Mode.String(),
		PeerConnected: c.monitor.PeerConnected(),
		Camera:        c.machine.Target(),
		Interval:      c.scheduler.Job(),
		Busy:          c.translator.Busy(),
		Liveness:      c.monitor.Window(),
		Transport:     c.transport.Kind(),
		Since:         c.machine.Since(),
	})
}

// publish refreshes the snapshot and republishes status when it changed.
func (c *Controller) publish() {
	c.storeSnapshot()
	st, peer := c.machine.Status(), c.monitor.PeerConnected()
	if c.published && st == c.lastStatus && peer == c.lastPeerSeen {
		return
	}
	c.published = true
	c.lastStatus = st
	c.lastPeerSeen = peer
	c.publisher.PublishStatus(st, peer)
}
