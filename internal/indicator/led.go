// Package indicator drives the status LED from the bridge connection signal.
package indicator

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"mavcam-bridge/internal/bridge"
	"mavcam-bridge/internal/infra/config"
)

// Pin is one digital output.
type Pin interface {
	Set(on bool)
}

// LogPin stands in for a GPIO line on hosts without one.
type LogPin struct {
	logger *slog.Logger
	mu     sync.Mutex
	on     bool
}

func NewLogPin(logger *slog.Logger) *LogPin {
	return &LogPin{logger: logger}
}

func (p *LogPin) Set(on bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.on == on {
		return
	}
	p.on = on
	p.logger.Debug("[LED] Pin", "on", on)
}

// LED flashes a pin at a rate chosen by the latest signal. Signal may be
// called from any goroutine; only Run touches the pin.
type LED struct {
	cfg    config.IndicatorConfig
	pin    Pin
	logger *slog.Logger

	signal atomic.Int32
	wake   chan struct{}
}

func New(cfg config.IndicatorConfig, pin Pin, logger *slog.Logger) *LED {
	return &LED{
		cfg:    cfg,
		pin:    pin,
		logger: logger,
		wake:   make(chan struct{}, 1),
	}
}

// Signal implements bridge.Indicator.
func (l *LED) Signal(s bridge.Signal) {
	if bridge.Signal(l.signal.Swap(int32(s))) == s {
		return
	}
	l.logger.Info("[LED] Signal", "signal", s.String())
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *LED) Current() bridge.Signal {
	return bridge.Signal(l.signal.Load())
}

// period is the half-cycle for s. Zero means a steady level.
func (l *LED) period(s bridge.Signal) time.Duration {
	switch s {
	case bridge.SignalSearching:
		return l.cfg.Searching
	case bridge.SignalPairing:
		return l.cfg.Pairing
	case bridge.SignalError:
		return l.cfg.Error
	}
	return 0
}

// Run blinks the pin until ctx is cancelled, then turns it off.
func (l *LED) Run(ctx context.Context) {
	defer l.pin.Set(false)

	on := false
	for {
		s := l.Current()
		p := l.period(s)
		if p <= 0 {
			on = s == bridge.SignalConnected
			l.pin.Set(on)
			select {
			case <-ctx.Done():
				return
			case <-l.wake:
			}
			continue
		}

		on = !on
		l.pin.Set(on)
		timer := time.NewTimer(p)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-l.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}
