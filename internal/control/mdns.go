package control

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/grandcat/zeroconf"
)

const (
	mdnsServiceType = "_http._tcp"
	mdnsDomain      = "local."
)

// Advertise registers the control surface on the local network. It blocks
// until ctx is cancelled.
func Advertise(ctx context.Context, name string, port int, logger *slog.Logger) error {
	server, err := zeroconf.Register(name, mdnsServiceType, mdnsDomain, port, []string{"path=/control"}, nil)
	if err != nil {
		return fmt.Errorf("mdns register: %w", err)
	}

	logger.Info("mdns advertising", "name", name, "port", port)
	<-ctx.Done()
	server.Shutdown()
	return nil
}
