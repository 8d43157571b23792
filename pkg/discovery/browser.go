package discovery

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/enbility/zeroconf/v3"
)

// Service type and domain advertised by the desktop tool.
const (
	ServiceType = "_flipper._tcp"
	Domain      = "local."
)

// DefaultBrowseTimeout bounds a FindDesktop call.
const DefaultBrowseTimeout = 5 * time.Second

// ErrNotFound is returned when no desktop tool answered within the timeout.
var ErrNotFound = errors.New("no desktop tool found")

// Desktop describes one discovered desktop tool instance.
type Desktop struct {
	// InstanceName is the advertised mDNS instance name.
	InstanceName string

	// Hostname is the advertised host name.
	Hostname string

	// Addresses are the resolved IP addresses, IPv4 first.
	Addresses []net.IP

	// Port is the advertised secure port.
	Port int
}

// Host returns the preferred address for dialing, or the advertised hostname
// when no address was resolved.
func (d *Desktop) Host() string {
	if len(d.Addresses) > 0 {
		return d.Addresses[0].String()
	}
	return d.Hostname
}

// BrowserConfig configures browsing.
type BrowserConfig struct {
	// Interface restricts browsing to one network interface. Empty means
	// all interfaces.
	Interface string

	// Timeout bounds FindDesktop (default: DefaultBrowseTimeout).
	Timeout time.Duration
}

// Browser searches the local network for desktop tool instances.
type Browser struct {
	config BrowserConfig
}

// NewBrowser creates a browser.
func NewBrowser(config BrowserConfig) *Browser {
	if config.Timeout == 0 {
		config.Timeout = DefaultBrowseTimeout
	}
	return &Browser{config: config}
}

// Browse streams desktop instances as they are discovered, aggregated by
// instance name so one tool visible on several interfaces is emitted once.
// The returned channel closes when ctx is cancelled.
func (b *Browser) Browse(ctx context.Context) (<-chan *Desktop, error) {
	out := make(chan *Desktop)
	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)

	go func() {
		defer close(out)

		seen := make(map[string]*Desktop)
		for {
			select {
			case entry, ok := <-entries:
				if !ok {
					return
				}
				desktop := entryToDesktop(entry)
				if desktop == nil {
					continue
				}
				if existing, found := seen[desktop.InstanceName]; found {
					existing.Addresses = mergeAddresses(existing.Addresses, desktop.Addresses)
					continue
				}
				seen[desktop.InstanceName] = desktop
				select {
				case out <- desktop:
				case <-ctx.Done():
					return
				}

			case entry, ok := <-removed:
				if !ok {
					continue
				}
				delete(seen, entry.Instance)

			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		_ = zeroconf.Browse(ctx, ServiceType, Domain, entries, removed, b.clientOptions()...)
	}()

	return out, nil
}

// FindDesktop browses until the first desktop tool appears or the timeout
// elapses.
func (b *Browser) FindDesktop(ctx context.Context) (*Desktop, error) {
	ctx, cancel := context.WithTimeout(ctx, b.config.Timeout)
	defer cancel()

	results, err := b.Browse(ctx)
	if err != nil {
		return nil, err
	}

	select {
	case desktop, ok := <-results:
		if !ok {
			return nil, ErrNotFound
		}
		return desktop, nil
	case <-ctx.Done():
		return nil, ErrNotFound
	}
}

func (b *Browser) clientOptions() []zeroconf.ClientOption {
	var opts []zeroconf.ClientOption
	if b.config.Interface != "" {
		if iface, err := net.InterfaceByName(b.config.Interface); err == nil {
			opts = append(opts, zeroconf.SelectIfaces([]net.Interface{*iface}))
		}
	}
	return opts
}

// entryToDesktop converts a service entry, IPv4 addresses first.
func entryToDesktop(entry *zeroconf.ServiceEntry) *Desktop {
	if entry == nil || entry.Instance == "" {
		return nil
	}

	var addrs []net.IP
	addrs = append(addrs, entry.AddrIPv4...)
	addrs = append(addrs, entry.AddrIPv6...)

	return &Desktop{
		InstanceName: entry.Instance,
		Hostname:     entry.HostName,
		Addresses:    addrs,
		Port:         entry.Port,
	}
}

// mergeAddresses appends addresses not already present.
func mergeAddresses(existing, incoming []net.IP) []net.IP {
	for _, ip := range incoming {
		duplicate := false
		for _, have := range existing {
			if have.Equal(ip) {
				duplicate = true
				break
			}
		}
		if !duplicate {
			existing = append(existing, ip)
		}
	}
	return existing
}
