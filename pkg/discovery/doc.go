// Package discovery locates the desktop tool on the local network via
// mDNS/DNS-SD.
//
// The desktop advertises _flipper._tcp in the local domain. Browsing is only
// needed when the tool's host is not configured; devices attached over USB
// forwarding talk to localhost and never browse.
package discovery
