package bridge

import (
	"context"

	"mavcam-bridge/internal/gopro"
)

// Transport is a camera link (BLE, Wi-Fi or simulated).
//
// Scan and Connect may block; the controller always calls them off the
// dispatch loop. Send must return promptly: long-running exchanges report
// their outcome later as events on the link's channel.
type Transport interface {
	Kind() string

	// Scan reports advertising cameras until ctx is cancelled.
	Scan(ctx context.Context, found func(Identity)) error

	// Connect establishes a link and returns its notification sequence. The
	// channel is closed when the link drops; a new Connect yields a new channel.
	Connect(ctx context.Context, id Identity) (<-chan Event, error)

	Disconnect() error

	Send(req gopro.Request) error
}

// Publisher receives everything the bridge reports upstream.
type Publisher interface {
	PublishStatus(st CameraStatus, peerConnected bool)
	PublishCompletion(c Completion)
	PublishInterval(r IntervalReport)
}

// Publishers fans out to several publishers in order.
type Publishers []Publisher

func (ps Publishers) PublishStatus(st CameraStatus, peerConnected bool) {
	for _, p := range ps {
		p.PublishStatus(st, peerConnected)
	}
}

func (ps Publishers) PublishCompletion(c Completion) {
	for _, p := range ps {
		p.PublishCompletion(c)
	}
}

func (ps Publishers) PublishInterval(r IntervalReport) {
	for _, p := range ps {
		p.PublishInterval(r)
	}
}

// Indicator receives the coarse connection signal on every state change.
type Indicator interface {
	Signal(s Signal)
}

// PairingStore remembers the last camera the bridge connected to.
type PairingStore interface {
	LoadPaired(ctx context.Context) (Identity, bool, error)
	SavePaired(ctx context.Context, id Identity, model string) error
}
