// Package ble is the Bluetooth LE camera link: it scans for cameras, connects
// as a GATT central and speaks the GoPro control protocol over the FEA6 service.
package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"tinygo.org/x/bluetooth"

	"mavcam-bridge/internal/bridge"
	"mavcam-bridge/internal/gopro"
	"mavcam-bridge/internal/infra/config"
)

// --- UUID Definitions ---
var (
	// GoPro control & query service
	ServiceControl = bluetooth.New16BitUUID(0xFEA6)

	// Characteristics (Base: B5F9xxxx-AA8D-11E3-9046-0002A5D5C51B)
	// 72/73: Command request / response
	CharCommand         = goproUUID(0x0072)
	CharCommandResponse = goproUUID(0x0073)
	// 74/75: Settings request / response
	CharSettings         = goproUUID(0x0074)
	CharSettingsResponse = goproUUID(0x0075)
	// 76/77: Query request / response
	CharQuery         = goproUUID(0x0076)
	CharQueryResponse = goproUUID(0x0077)
)

func goproUUID(short uint16) bluetooth.UUID {
	return bluetooth.NewUUID([16]byte{0xB5, 0xF9, byte(short >> 8), byte(short), 0xAA, 0x8D, 0x11, 0xE3, 0x90, 0x46, 0x00, 0x02, 0xA5, 0xD5, 0xC5, 0x1B})
}

var requestChars = map[gopro.Channel]bluetooth.UUID{
	gopro.ChannelCommand:  CharCommand,
	gopro.ChannelSettings: CharSettings,
	gopro.ChannelQuery:    CharQuery,
}

var responseChars = map[gopro.Channel]bluetooth.UUID{
	gopro.ChannelCommand:  CharCommandResponse,
	gopro.ChannelSettings: CharSettingsResponse,
	gopro.ChannelQuery:    CharQueryResponse,
}

var (
	ErrNoLink         = errors.New("ble: no camera link")
	ErrUnknownAddress = errors.New("ble: camera address not seen in scan")
)

// Central implements bridge.Transport over the host Bluetooth adapter.
type Central struct {
	Adapter *bluetooth.Adapter
	cfg     config.BLEConfig
	logger  *slog.Logger

	enableOnce sync.Once
	enableErr  error

	mu   sync.Mutex
	seen map[string]bluetooth.Address
	link *link
}

func NewCentral(cfg config.BLEConfig, logger *slog.Logger) *Central {
	return &Central{
		Adapter: bluetooth.DefaultAdapter,
		cfg:     cfg,
		logger:  logger,
		seen:    make(map[string]bluetooth.Address),
	}
}

func (c *Central) Kind() string { return "ble" }

func (c *Central) enable() error {
	c.enableOnce.Do(func() {
		if err := c.Adapter.Enable(); err != nil {
			c.enableErr = fmt.Errorf("ble enable: %w", err)
			return
		}
		c.Adapter.SetConnectHandler(c.onConnectChange)
		c.logger.Info("[BLE] Adapter Enabled")
	})
	return c.enableErr
}

func (c *Central) onConnectChange(device bluetooth.Device, connected bool) {
	if connected {
		return
	}
	addr := device.Address.String()

	c.mu.Lock()
	l := c.link
	if l == nil || l.address != addr {
		c.mu.Unlock()
		return
	}
	c.link = nil
	c.mu.Unlock()

	c.logger.Warn("[BLE] Camera link lost", "address", addr)
	l.close()
}

// Scan reports every named device, or any device advertising FEA6, once per scan.
func (c *Central) Scan(ctx context.Context, found func(bridge.Identity)) error {
	if err := c.enable(); err != nil {
		return err
	}

	stop := context.AfterFunc(ctx, func() {
		if err := c.Adapter.StopScan(); err != nil {
			c.logger.Debug("[BLE] Stop scan", "err", err)
		}
	})
	defer stop()

	c.logger.Info("[BLE] Scanning...")
	reported := make(map[string]bool)
	err := c.Adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		addr := result.Address.String()
		name := result.LocalName()
		hasService := result.HasServiceUUID(ServiceControl)
		if name == "" && !hasService {
			return
		}

		c.mu.Lock()
		c.seen[addr] = result.Address
		c.mu.Unlock()

		if reported[addr] {
			return
		}
		reported[addr] = true
		c.logger.Debug("[BLE] Advertisement", "name", name, "address", addr, "rssi", result.RSSI)
		found(bridge.Identity{Name: name, Address: addr, HasService: hasService})
	})
	if ctx.Err() != nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("ble scan: %w", err)
	}
	return nil
}

// Connect dials the camera, wires up the three response channels and returns
// the link's event channel.
func (c *Central) Connect(ctx context.Context, id bridge.Identity) (<-chan bridge.Event, error) {
	if err := c.enable(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	addr, ok := c.seen[id.Address]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAddress, id.Address)
	}

	type dialResult struct {
		device bluetooth.Device
		err    error
	}
	dialed := make(chan dialResult, 1)
	go func() {
		device, err := c.Adapter.Connect(addr, bluetooth.ConnectionParams{})
		dialed <- dialResult{device, err}
	}()

	var device bluetooth.Device
	select {
	case <-ctx.Done():
		// Tear down a connection that completes after the caller gave up.
		go func() {
			if r := <-dialed; r.err == nil {
				_ = r.device.Disconnect()
			}
		}()
		return nil, ctx.Err()
	case r := <-dialed:
		if r.err != nil {
			return nil, fmt.Errorf("ble connect %s: %w", id, r.err)
		}
		device = r.device
	}
	c.logger.Info("[BLE] Connected", "camera", id.String())

	l, err := c.setup(device, id.Address)
	if err != nil {
		_ = device.Disconnect()
		return nil, err
	}

	c.mu.Lock()
	old := c.link
	c.link = l
	c.mu.Unlock()
	if old != nil {
		old.close()
	}
	return l.events, nil
}

func (c *Central) setup(device bluetooth.Device, address string) (*link, error) {
	services, err := device.DiscoverServices([]bluetooth.UUID{ServiceControl})
	if err != nil {
		return nil, fmt.Errorf("ble discover services: %w", err)
	}
	if len(services) == 0 {
		return nil, fmt.Errorf("ble: camera has no control service")
	}

	var want []bluetooth.UUID
	for _, u := range requestChars {
		want = append(want, u)
	}
	for _, u := range responseChars {
		want = append(want, u)
	}
	chars, err := services[0].DiscoverCharacteristics(want)
	if err != nil {
		return nil, fmt.Errorf("ble discover characteristics: %w", err)
	}

	l := newLink(address, c.logger)
	l.device = device
	byUUID := make(map[bluetooth.UUID]bluetooth.DeviceCharacteristic, len(chars))
	for _, ch := range chars {
		byUUID[ch.UUID()] = ch
	}
	for ch, u := range requestChars {
		char, ok := byUUID[u]
		if !ok {
			return nil, fmt.Errorf("ble: missing %s request characteristic", ch)
		}
		l.requests[ch] = char
	}
	for ch, u := range responseChars {
		char, ok := byUUID[u]
		if !ok {
			return nil, fmt.Errorf("ble: missing %s response characteristic", ch)
		}
		if err := char.EnableNotifications(func(buf []byte) { l.onNotify(ch, buf) }); err != nil {
			return nil, fmt.Errorf("ble enable %s notifications: %w", ch, err)
		}
	}
	c.logger.Info("[BLE] Control service ready", "address", address)
	return l, nil
}

// Send writes one framed request. The response arrives as link events.
func (c *Central) Send(req gopro.Request) error {
	c.mu.Lock()
	l := c.link
	c.mu.Unlock()
	if l == nil {
		return ErrNoLink
	}
	char, ok := l.requests[req.Channel]
	if !ok {
		return fmt.Errorf("ble: no characteristic for %s", req.Channel)
	}

	var err error
	if c.cfg.WriteWithResponse {
		_, err = char.Write(req.Packet)
	} else {
		_, err = char.WriteWithoutResponse(req.Packet)
	}
	if err != nil {
		return fmt.Errorf("ble write %s: %w", req, err)
	}
	c.logger.Debug("[BLE] Sent", "request", req.String(), "channel", req.Channel.String())
	return nil
}

func (c *Central) Disconnect() error {
	c.mu.Lock()
	l := c.link
	c.link = nil
	c.mu.Unlock()
	if l == nil {
		return nil
	}
	l.close()
	if err := l.device.Disconnect(); err != nil {
		return fmt.Errorf("ble disconnect: %w", err)
	}
	c.logger.Info("[BLE] Disconnected", "address", l.address)
	return nil
}
