package discovery

import (
	"net"
	"testing"

	"github.com/enbility/zeroconf/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntryToDesktop(t *testing.T) {
	entry := &zeroconf.ServiceEntry{
		ServiceRecord: zeroconf.ServiceRecord{Instance: "Flipper Desktop"},
		HostName:      "desktop.local.",
		Port:          8088,
		AddrIPv4:      []net.IP{net.ParseIP("192.168.1.10")},
		AddrIPv6:      []net.IP{net.ParseIP("fe80::1")},
	}

	desktop := entryToDesktop(entry)
	require.NotNil(t, desktop)
	assert.Equal(t, "Flipper Desktop", desktop.InstanceName)
	assert.Equal(t, "desktop.local.", desktop.Hostname)
	assert.Equal(t, 8088, desktop.Port)

	// IPv4 sorts first so Host prefers it.
	require.Len(t, desktop.Addresses, 2)
	assert.Equal(t, "192.168.1.10", desktop.Host())
}

func TestEntryToDesktopRejectsUnnamed(t *testing.T) {
	assert.Nil(t, entryToDesktop(nil))
	assert.Nil(t, entryToDesktop(&zeroconf.ServiceEntry{}))
}

func TestDesktopHostFallsBackToHostname(t *testing.T) {
	desktop := &Desktop{Hostname: "desktop.local."}
	assert.Equal(t, "desktop.local.", desktop.Host())
}

func TestMergeAddresses(t *testing.T) {
	a := []net.IP{net.ParseIP("192.168.1.10")}
	b := []net.IP{net.ParseIP("192.168.1.10"), net.ParseIP("10.0.0.2")}

	merged := mergeAddresses(a, b)
	require.Len(t, merged, 2)
	assert.True(t, merged[0].Equal(net.ParseIP("192.168.1.10")))
	assert.True(t, merged[1].Equal(net.ParseIP("10.0.0.2")))
}
