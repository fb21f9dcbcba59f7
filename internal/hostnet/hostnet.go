// Package hostnet defines the platform-agnostic capability set the
// VRRP finite-state machine uses to mutate host networking state:
// address and route management, virtual MAC handling (either by
// overwriting the physical interface's MAC or through a MAC-VLAN
// child interface), gratuitous ARP, and raw L2 frame I/O.
//
// Per spec.md §4.3 and DESIGN NOTES, this is the only package in the
// repository allowed to contain platform-specific code; the FSM in
// internal/vrrp never imports syscalls or netlink directly.
package hostnet

import "net"

// Route describes one static route entry from the Protocols.static
// configuration table (spec.md §3/§6).
type Route struct {
	Dest    net.IP
	Mask    net.IPMask
	NextHop net.IP
	Metric  int
	MTU     int
}

// Adapter is the capability set of spec.md §4.3. Every method is a
// simple request/reply with no hidden state; idempotency requirements
// (add_route/del_route) are documented per-method.
type Adapter interface {
	// GetPrimaryAddresses returns the ordered, non-empty list of
	// IPv4 addresses and their masks configured on iface. Index 0 is
	// the "primary" address per spec.md §3.
	GetPrimaryAddresses(iface string) ([]net.IP, []net.IPMask, error)

	// GetIfIndex returns the kernel interface index of iface.
	GetIfIndex(iface string) (int, error)

	// GetIfMAC returns the current hardware address of iface.
	GetIfMAC(iface string) (net.HardwareAddr, error)
	// SetIfMAC overwrites the hardware address of iface.
	SetIfMAC(iface string, mac net.HardwareAddr) error
	// RestoreIfMAC restores a previously saved hardware address.
	RestoreIfMAC(iface string, saved net.HardwareAddr) error

	// AddIPv4 and DelIPv4 add/remove an address on iface. Idempotent:
	// re-adding an existing address or removing an absent one must
	// not be treated as a fatal error by the caller.
	AddIPv4(iface string, ip net.IP, mask net.IPMask) error
	DelIPv4(iface string, ip net.IP, mask net.IPMask) error

	// AddRoute and DelRoute install/withdraw one static route.
	// Idempotent: implementations should treat "already exists" and
	// "not found" kernel errors as success.
	AddRoute(r Route, iface string) error
	DelRoute(r Route, iface string) error

	// CreateMacvlan creates a MAC-VLAN child interface named vifName
	// on masterIface with hardware address mac, returning its
	// ifindex.
	CreateMacvlan(masterIface, vifName string, mac net.HardwareAddr) (int, error)
	// DeleteMacvlan removes the MAC-VLAN child interface by ifindex.
	DeleteMacvlan(ifindex int) error

	// BroadcastGratuitousARP sends a gratuitous ARP announcing that
	// vip is now reachable at vmac, on iface.
	BroadcastGratuitousARP(iface string, vip net.IP, vmac net.HardwareAddr) error

	// SetPromisc enables or disables promiscuous mode on iface, so
	// the host delivers multicast VRRP frames to the raw reader.
	SetPromisc(iface string, on bool) error

	// SendFrame transmits a raw, fully-framed Ethernet frame on
	// iface.
	SendFrame(iface string, raw []byte) error
	// RecvFrame blocks until one raw Ethernet frame is available on
	// iface and copies it into buf, returning the number of bytes
	// written.
	RecvFrame(iface string, buf []byte) (int, error)

	// Close releases any resources (sockets, handles) this adapter
	// holds for iface. Safe to call multiple times.
	Close(iface string) error
}
