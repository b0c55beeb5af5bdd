package discovery

import (
	"errors"
	"fmt"
	"time"
)

// Service constants for mDNS.
const (
	// ServiceTypeMeshCoPE is the ephemeral commissioning service a border
	// router advertises while its commissioning window is open.
	ServiceTypeMeshCoPE = "_meshcop-e._udp"

	// Domain is the mDNS domain.
	Domain = "local"

	// BrowseTimeout is the default timeout for browse operations.
	BrowseTimeout = 10 * time.Second
)

// Discovery errors.
var (
	// ErrNotFound indicates no border router was resolved before the
	// deadline.
	ErrNotFound = errors.New("no border router found")
)

// ThreadHub is a discovered commissioning candidate: the IPv4 address
// and the ephemeral commissioner port from the SRV record. It is
// consumed once, at connect time.
type ThreadHub struct {
	// Host is the border router's IPv4 address in textual form.
	Host string

	// Port is the ephemeral commissioner UDP port (1-65535). Always
	// taken from the SRV record; the commonly observed value is 49191,
	// but it is not fixed.
	Port int

	// InstanceName is the mDNS instance the hub resolved from.
	InstanceName string
}

// String returns the hub as instance@host:port.
func (h ThreadHub) String() string {
	return fmt.Sprintf("%s@%s:%d", h.InstanceName, h.Host, h.Port)
}

// Valid reports whether the hub carries a usable endpoint.
func (h ThreadHub) Valid() bool {
	return h.Host != "" && h.Port > 0 && h.Port <= 65535
}
