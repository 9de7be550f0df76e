package bridge

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"mavcam-bridge/internal/gopro"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeTransport struct {
	mu          sync.Mutex
	sent        []gopro.Request
	sendErr     error
	connectErr  error
	disconnects int
	events      chan Event
	scans       int
	scanErr     error
}

func (f *fakeTransport) Kind() string { return "fake" }

func (f *fakeTransport) Scan(ctx context.Context, _ func(Identity)) error {
	f.mu.Lock()
	f.scans++
	err := f.scanErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

func (f *fakeTransport) scanCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scans
}

func (f *fakeTransport) Connect(_ context.Context, _ Identity) (<-chan Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return nil, f.connectErr
	}
	f.events = make(chan Event, 16)
	return f.events, nil
}

func (f *fakeTransport) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	return nil
}

func (f *fakeTransport) Send(req gopro.Request) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, req)
	return f.sendErr
}

func (f *fakeTransport) setSendErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErr = err
}

func (f *fakeTransport) Sent() []gopro.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]gopro.Request(nil), f.sent...)
}

func (f *fakeTransport) last() gopro.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[len(f.sent)-1]
}

func (f *fakeTransport) clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = nil
}

func (f *fakeTransport) linkEvents() chan Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events
}

func (f *fakeTransport) Disconnects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnects
}

func (f *fakeTransport) countOp(op gopro.Op) int {
	n := 0
	for _, r := range f.Sent() {
		if r.Op == op {
			n++
		}
	}
	return n
}

type recordingPublisher struct {
	statuses    []CameraStatus
	peers       []bool
	completions []Completion
	intervals   []IntervalReport
}

func (p *recordingPublisher) PublishStatus(st CameraStatus, peer bool) {
	p.statuses = append(p.statuses, st)
	p.peers = append(p.peers, peer)
}

func (p *recordingPublisher) PublishCompletion(c Completion) {
	p.completions = append(p.completions, c)
}

func (p *recordingPublisher) PublishInterval(r IntervalReport) {
	p.intervals = append(p.intervals, r)
}

func (p *recordingPublisher) lastStatus() CameraStatus {
	return p.statuses[len(p.statuses)-1]
}

type recordingIndicator struct {
	signals []Signal
}

func (r *recordingIndicator) Signal(s Signal) { r.signals = append(r.signals, s) }

type pairing struct {
	id    Identity
	model string
}

type fakeStore struct {
	saved chan pairing
}

func (f *fakeStore) LoadPaired(context.Context) (Identity, bool, error) {
	return Identity{}, false, nil
}

func (f *fakeStore) SavePaired(_ context.Context, id Identity, model string) error {
	f.saved <- pairing{id, model}
	return nil
}
