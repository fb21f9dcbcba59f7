package hostnet

import (
	"fmt"
	"net"

	"github.com/mdlayher/packet"
)

// rawSocket wraps one AF_PACKET socket bound to an interface, used
// for both sending and receiving fully-framed VRRP ADVERTISEMENT
// Ethernet frames (spec.md §4.3 send_frame/recv_frame).
//
// govrrp rides IPv4 multicast sockets (vrrp_conn.go) and therefore
// never needs this layer; mdlayher/packet is already an indirect
// dependency of govrrp's go.mod (pulled in by mdlayher/arp), promoted
// here to direct use since spec.md requires bit-exact L2 framing.
type rawSocket struct {
	conn *packet.Conn
	ift  *net.Interface
}

func (a *LinuxAdapter) socket(iface string) (*rawSocket, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if s, ok := a.socks[iface]; ok {
		return s, nil
	}
	ift, err := net.InterfaceByName(iface)
	if err != nil {
		return nil, fmt.Errorf("hostnet: interface %s: %w", iface, err)
	}
	conn, err := packet.Listen(ift, packet.Raw, 0x0800, nil)
	if err != nil {
		return nil, fmt.Errorf("hostnet: open raw socket on %s: %w", iface, err)
	}
	s := &rawSocket{conn: conn, ift: ift}
	a.socks[iface] = s
	return s, nil
}

// SendFrame transmits raw as a single Ethernet frame on iface.
func (a *LinuxAdapter) SendFrame(iface string, raw []byte) error {
	s, err := a.socket(iface)
	if err != nil {
		return err
	}
	addr := &packet.Addr{HardwareAddr: DstMulticastHW}
	if _, err := s.conn.WriteTo(raw, addr); err != nil {
		return fmt.Errorf("hostnet: send frame on %s: %w", iface, err)
	}
	return nil
}

// RecvFrame blocks until one Ethernet frame arrives on iface.
func (a *LinuxAdapter) RecvFrame(iface string, buf []byte) (int, error) {
	s, err := a.socket(iface)
	if err != nil {
		return 0, err
	}
	n, _, err := s.conn.ReadFrom(buf)
	if err != nil {
		return 0, fmt.Errorf("hostnet: receive frame on %s: %w", iface, err)
	}
	return n, nil
}

// Close releases the raw socket (and any other held resources) for
// iface. Safe to call multiple times.
func (a *LinuxAdapter) Close(iface string) error {
	a.mu.Lock()
	s, ok := a.socks[iface]
	if ok {
		delete(a.socks, iface)
	}
	a.mu.Unlock()

	if !ok {
		return nil
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("hostnet: close raw socket on %s: %w", iface, err)
	}
	return nil
}

// DstMulticastHW is the destination Ethernet address of VRRP
// ADVERTISEMENT frames, mirrored from internal/wire so that hostnet
// does not import wire.
var DstMulticastHW = net.HardwareAddr{0x01, 0x00, 0x5E, 0x00, 0x00, 0x12}
