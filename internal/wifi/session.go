package wifi

import (
	"context"
	"sync"

	"mavcam-bridge/internal/bridge"
)

// session is one logical link. Its events channel is closed exactly once.
type session struct {
	ctx    context.Context
	cancel context.CancelFunc
	events chan bridge.Event

	closeOnce sync.Once
	mu        sync.Mutex
	closed    bool
}

func newSession() *session {
	ctx, cancel := context.WithCancel(context.Background())
	return &session{
		ctx:    ctx,
		cancel: cancel,
		events: make(chan bridge.Event, 32),
	}
}

func (s *session) emit(ev bridge.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		s.cancel()
		s.mu.Lock()
		s.closed = true
		close(s.events)
		s.mu.Unlock()
	})
}
