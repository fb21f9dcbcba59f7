package hostnet

import (
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/mdlayher/arp"
)

// broadcastHW is the Ethernet broadcast address used as the target
// hardware address of a gratuitous ARP request.
var broadcastHW = net.HardwareAddr{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

// BroadcastGratuitousARP sends a gratuitous ARP request where both
// the sender and target protocol addresses equal vip and the sender
// hardware address is vmac, per spec.md §4.3.
//
// Grounded on vip_announcer.go's IPv4AddrAnnouncer.AnnounceAll, which
// builds the same low-level github.com/mdlayher/arp Packet and writes
// it to the broadcast address; adapted here to announce an explicit
// virtual MAC rather than the physical interface's own address.
func (a *LinuxAdapter) BroadcastGratuitousARP(iface string, vip net.IP, vmac net.HardwareAddr) error {
	ift, err := net.InterfaceByName(iface)
	if err != nil {
		return fmt.Errorf("hostnet: interface %s: %w", iface, err)
	}
	client, err := arp.Dial(ift)
	if err != nil {
		return fmt.Errorf("hostnet: open ARP client on %s: %w", iface, err)
	}
	defer client.Close()

	addr, ok := netip.AddrFromSlice(vip.To4())
	if !ok {
		return fmt.Errorf("hostnet: %s is not a valid IPv4 address", vip)
	}
	addr = addr.Unmap()

	var pkt arp.Packet
	pkt.HardwareType = 1      // Ethernet
	pkt.ProtocolType = 0x0800 // IPv4
	pkt.HardwareAddrLength = 6
	pkt.IPLength = 4
	pkt.Operation = arp.OperationRequest
	pkt.SenderHardwareAddr = vmac
	pkt.SenderIP = addr
	pkt.TargetHardwareAddr = broadcastHW
	pkt.TargetIP = addr

	_ = client.SetWriteDeadline(time.Now().Add(500 * time.Millisecond))
	if err := client.WriteTo(&pkt, broadcastHW); err != nil {
		return fmt.Errorf("hostnet: send gratuitous ARP on %s: %w", iface, err)
	}
	return nil
}
