package bridge

import (
	"fmt"
	"log/slog"
	"time"

	"mavcam-bridge/internal/gopro"
)

// PendingQuery is the single request awaiting a camera acknowledgement.
type PendingQuery struct {
	Request    gopro.Request
	Command    Command
	SentAt     time.Time
	RetryCount int
	// SendErr is set when the latest attempt never left the transport.
	SendErr error
}

func (p *PendingQuery) expired(now time.Time, timeout time.Duration) bool {
	return p.SendErr != nil || now.Sub(p.SentAt) >= timeout
}

var commandOps = map[CommandKind]gopro.Op{
	KindShutterStart:  gopro.OpShutterStart,
	KindShutterStop:   gopro.OpShutterStop,
	KindSetMode:       gopro.OpSetMode,
	KindRequestStatus: gopro.OpQueryStatus,
	KindPowerOff:      gopro.OpSleep,
}

// Translator maps commands onto camera requests and owns the PendingQuery slot.
type Translator struct {
	transport Transport
	timeout   time.Duration
	retries   int
	logger    *slog.Logger

	caps       gopro.Capabilities
	registered bool
	pending    *PendingQuery
}

func NewTranslator(t Transport, timeout time.Duration, retries int, logger *slog.Logger) *Translator {
	return &Translator{
		transport: t,
		timeout:   timeout,
		retries:   retries,
		logger:    logger,
	}
}

func (t *Translator) SetCapabilities(caps gopro.Capabilities) { t.caps = caps }

// Registered reports whether the camera accepted the status registration.
func (t *Translator) Registered() bool { return t.registered }

func (t *Translator) Busy() bool { return t.pending != nil }

// Pending returns a copy of the outstanding query.
func (t *Translator) Pending() (PendingQuery, bool) {
	if t.pending == nil {
		return PendingQuery{}, false
	}
	return *t.pending, true
}

// TranslateInbound validates cmd and builds its camera request without sending it.
func (t *Translator) TranslateInbound(cmd Command, state ConnectionState) (gopro.Request, error) {
	op := cmd.Kind.String()
	if state != Connected {
		return gopro.Request{}, reject(op, ErrNotConnected, "")
	}
	code, ok := commandOps[cmd.Kind]
	if !ok {
		return gopro.Request{}, reject(op, ErrUnsupported, "no camera mapping")
	}
	req, err := gopro.Encode(code, cmd.Mode, t.caps)
	if err != nil {
		return gopro.Request{}, reject(op, ErrUnsupported, err.Error())
	}
	if t.pending != nil {
		return gopro.Request{}, reject(op, ErrBusy, "awaiting "+t.pending.Request.String())
	}
	return req, nil
}

// Submit translates cmd and transmits it. A nil return means the command was
// accepted; its outcome arrives later from OnAck or Expire.
func (t *Translator) Submit(cmd Command, state ConnectionState, now time.Time) error {
	req, err := t.TranslateInbound(cmd, state)
	if err != nil {
		return err
	}
	t.install(req, cmd, now)
	return nil
}

// SendInternal issues a bridge-originated operation such as a keepalive.
// It obeys the same single-slot rule as user commands.
func (t *Translator) SendInternal(op gopro.Op, state ConnectionState, now time.Time) error {
	if state != Connected && op != gopro.OpIdentity {
		return reject(op.String(), ErrNotConnected, "")
	}
	if t.pending != nil {
		return reject(op.String(), ErrBusy, "")
	}
	req, err := gopro.Encode(op, gopro.ModeUnknown, t.caps)
	if err != nil {
		return reject(op.String(), ErrUnsupported, err.Error())
	}
	t.install(req, Command{Origin: Origin{Source: SourceInternal}}, now)
	return nil
}

func (t *Translator) install(req gopro.Request, cmd Command, now time.Time) {
	t.pending = &PendingQuery{Request: req, Command: cmd, SentAt: now}
	t.transmit(now)
}

func (t *Translator) transmit(now time.Time) {
	p := t.pending
	p.SentAt = now
	p.SendErr = nil
	if err := t.transport.Send(p.Request); err != nil {
		p.SendErr = err
		t.logger.Warn("camera send failed",
			slog.String("request", p.Request.String()),
			slog.Int("attempt", p.RetryCount+1),
			slog.Any("error", err))
	}
}

// OnAck resolves the pending query if ev acknowledges it. Unsolicited acks
// are ignored.
func (t *Translator) OnAck(ev Event, current CameraStatus) (Completion, StatusUpdate, bool) {
	p := t.pending
	if p == nil || ev.Kind != EventAck || ev.AckID != p.Request.ResponseID {
		return Completion{}, StatusUpdate{}, false
	}
	t.pending = nil

	c := Completion{Command: p.Command, Op: p.Request.Op}
	if !ev.OK {
		c.Err = reject(p.Request.Op.String(), ErrUnsupported, "camera refused request")
		return c, StatusUpdate{}, true
	}
	return c, t.confirmed(p.Request, current), true
}

// confirmed is the status change implied by a successful acknowledgement.
func (t *Translator) confirmed(req gopro.Request, current CameraStatus) StatusUpdate {
	var u StatusUpdate
	switch req.Op {
	case gopro.OpShutterStart:
		// A photo shutter is a single exposure; the camera never enters recording.
		if current.Mode != gopro.ModePhoto {
			rec := true
			u.Recording = &rec
		}
	case gopro.OpShutterStop:
		rec := false
		u.Recording = &rec
	case gopro.OpSetMode:
		mode := req.Mode
		u.Mode = &mode
	case gopro.OpRegisterStatus:
		t.registered = true
	}
	return u
}

// Expire retries or fails the pending query once its timeout has elapsed.
// A failed send counts as one timed-out attempt.
func (t *Translator) Expire(now time.Time) (Completion, bool) {
	p := t.pending
	if p == nil || !p.expired(now, t.timeout) {
		return Completion{}, false
	}
	if p.RetryCount < t.retries {
		p.RetryCount++
		t.logger.Debug("camera request retry",
			slog.String("request", p.Request.String()),
			slog.Int("attempt", p.RetryCount+1))
		t.transmit(now)
		return Completion{}, false
	}

	t.pending = nil
	c := Completion{Command: p.Command, Op: p.Request.Op}
	detail := fmt.Sprintf("no acknowledgement after %d attempts", p.RetryCount+1)
	if p.SendErr != nil {
		c.Err = reject(p.Request.Op.String(), ErrTransportFailure, p.SendErr.Error())
	} else {
		c.Err = reject(p.Request.Op.String(), ErrTimeout, detail)
	}
	return c, true
}

// TranslateOutbound maps a camera status notification onto a status update.
func (t *Translator) TranslateOutbound(ev Event) (StatusUpdate, bool) {
	if ev.Kind != EventStatus || ev.Status.Empty() {
		return StatusUpdate{}, false
	}
	return StatusUpdate(ev.Status), true
}

// Reset drops link-scoped state. An in-flight query is completed with
// ErrNotConnected so its issuer still gets a final answer.
func (t *Translator) Reset() (Completion, bool) {
	p := t.pending
	t.pending = nil
	t.registered = false
	t.caps = gopro.Capabilities{}
	if p == nil {
		return Completion{}, false
	}
	return Completion{
		Command: p.Command,
		Op:      p.Request.Op,
		Err:     reject(p.Request.Op.String(), ErrNotConnected, "link lost"),
	}, true
}

// IsInternal reports whether c belongs to a bridge-originated request.
func IsInternal(c Completion) bool {
	return c.Command.Origin.Source == SourceInternal
}
