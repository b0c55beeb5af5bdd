package discovery

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/enbility/zeroconf/v3"
)

// BrowserConfig configures browser behavior.
type BrowserConfig struct {
	// Interface specifies which network interface to browse on.
	// Empty string means all interfaces.
	Interface string
}

// Browser finds commissioning-mode border routers.
type Browser interface {
	// Browse emits every resolved hub until the context is cancelled.
	// The returned channel is closed when browsing stops.
	Browse(ctx context.Context) (<-chan ThreadHub, error)

	// WaitForHub blocks until one hub has been resolved to an IPv4
	// address and a port, or the context ends.
	WaitForHub(ctx context.Context) (ThreadHub, error)

	// Stop stops all active browsing operations.
	Stop()
}

// MDNSBrowser implements Browser using zeroconf.
type MDNSBrowser struct {
	config BrowserConfig

	mu      sync.Mutex
	stopped bool
	cancel  context.CancelFunc
}

// NewMDNSBrowser creates a new mDNS browser.
func NewMDNSBrowser(config BrowserConfig) *MDNSBrowser {
	return &MDNSBrowser{config: config}
}

// Browse searches for _meshcop-e._udp instances. Instances without an
// IPv4 address are not emitted.
func (b *MDNSBrowser) Browse(ctx context.Context) (<-chan ThreadHub, error) {
	ctx, cancel := context.WithCancel(ctx)

	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		cancel()
		return nil, ErrNotFound
	}
	b.cancel = cancel
	b.mu.Unlock()

	out := make(chan ThreadHub)

	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)

	opts := b.browserOptions()

	// Convert entries to hubs, deduplicating by instance name
	go func() {
		defer close(out)

		seen := make(map[string]struct{})
		entriesCh, removedCh := entries, removed

		for entriesCh != nil || removedCh != nil {
			select {
			case entry, ok := <-entriesCh:
				if !ok {
					entriesCh = nil
					continue
				}
				hub, usable := entryToHub(entry)
				if !usable {
					continue
				}
				if _, dup := seen[hub.InstanceName]; dup {
					continue
				}
				seen[hub.InstanceName] = struct{}{}

				select {
				case out <- hub:
				case <-ctx.Done():
					return
				}

			case _, ok := <-removedCh:
				if !ok {
					removedCh = nil
				}
				// A disappearing instance may reappear; leave the seen
				// set alone. Candidates are consumed once, so a stale
				// duplicate is harmless.

			case <-ctx.Done():
				return
			}
		}
	}()

	// Start browsing in background
	go func() {
		_ = zeroconf.Browse(ctx, ServiceTypeMeshCoPE, Domain, entries, removed, opts...)
	}()

	return out, nil
}

// WaitForHub returns the first resolved hub.
func (b *MDNSBrowser) WaitForHub(ctx context.Context) (ThreadHub, error) {
	results, err := b.Browse(ctx)
	if err != nil {
		return ThreadHub{}, err
	}

	select {
	case hub, ok := <-results:
		if !ok {
			return ThreadHub{}, ErrNotFound
		}
		return hub, nil
	case <-ctx.Done():
		return ThreadHub{}, ctx.Err()
	}
}

// Stop stops all active browsing operations.
func (b *MDNSBrowser) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.stopped = true
	if b.cancel != nil {
		b.cancel()
	}
}

// browserOptions returns zeroconf client options based on config.
func (b *MDNSBrowser) browserOptions() []zeroconf.ClientOption {
	var opts []zeroconf.ClientOption

	if b.config.Interface != "" {
		iface, err := net.InterfaceByName(b.config.Interface)
		if err == nil {
			opts = append(opts, zeroconf.SelectIfaces([]net.Interface{*iface}))
		}
	}

	return opts
}

// entryToHub converts a zeroconf entry to a ThreadHub. Only entries with
// an IPv4 address and a valid SRV port are usable.
func entryToHub(entry *zeroconf.ServiceEntry) (ThreadHub, bool) {
	if entry == nil || len(entry.AddrIPv4) == 0 {
		return ThreadHub{}, false
	}

	hub := ThreadHub{
		Host:         entry.AddrIPv4[0].String(),
		Port:         entry.Port,
		InstanceName: entry.Instance,
	}
	if !hub.Valid() {
		return ThreadHub{}, false
	}
	return hub, true
}

// SearchForHub races WaitForHub against a deadline. A timeout of zero or
// less waits indefinitely.
func SearchForHub(browser Browser, timeout time.Duration) (ThreadHub, error) {
	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	hub, err := browser.WaitForHub(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ThreadHub{}, ErrNotFound
		}
		return ThreadHub{}, err
	}
	return hub, nil
}

// Compile-time interface satisfaction check.
var _ Browser = (*MDNSBrowser)(nil)
