// Package discovery advertises the serving URL over mDNS so clients on
// the local network can find the server without typing an address.
package discovery

import (
	"fmt"

	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"

	"github.com/polyroom/polyroom/internal/logging"
)

const (
	serviceType   = "_polyroom._tcp"
	serviceDomain = "local."
)

// Advertiser is a live mDNS registration.
type Advertiser struct {
	server *zeroconf.Server
}

// Advertise registers the instance on the local network. The full URL
// travels in a TXT record so browsers can connect without guessing the
// scheme.
func Advertise(instance string, port int, url string) (*Advertiser, error) {
	server, err := zeroconf.Register(
		instance,
		serviceType,
		serviceDomain,
		port,
		[]string{"url=" + url},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register mDNS service: %w", err)
	}

	logging.Info("Service advertised",
		zap.String("instance", instance),
		zap.String("type", serviceType),
		zap.Int("port", port),
	)
	return &Advertiser{server: server}, nil
}

// Shutdown withdraws the registration.
func (a *Advertiser) Shutdown() {
	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}
