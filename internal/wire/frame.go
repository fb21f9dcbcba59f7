package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
)

// Sizes of the fixed regions of an ADVERTISEMENT frame (RFC 3768 §5).
const (
	EthernetHeaderLen = 14
	IPv4HeaderLen     = 20
	VRRPFixedLen      = 8
	AuthTrailerLen    = 8
	AddrLen           = 4

	MinFrameLen = EthernetHeaderLen + IPv4HeaderLen + VRRPFixedLen + AddrLen + AuthTrailerLen
)

// EtherType and protocol constants from spec.md §6.
const (
	EtherTypeIPv4  = 0x0800
	IPProtoVRRP    = 112
	IPv4VersionIHL = 0x45
	IPv4DSCP       = 0xC0 // CS6
	IPv4TTL        = 255
	VRRPVerType    = 0x21 // version 2, type 1 (ADVERTISEMENT)
)

// DstMulticastMAC and MulticastIPv4 are the well-known VRRP group
// addresses (spec.md §6).
var (
	DstMulticastMAC = net.HardwareAddr{0x01, 0x00, 0x5E, 0x00, 0x00, 0x12}
	MulticastIPv4   = net.IPv4(224, 0, 0, 18).To4()
)

var (
	// ErrFrameTooShort is returned when a byte slice is smaller than
	// the minimum possible ADVERTISEMENT frame.
	ErrFrameTooShort = errors.New("wire: frame shorter than minimum VRRP advertisement")
	// ErrBadAddrCount is returned when the declared addr_count is
	// inconsistent with the frame's actual length.
	ErrBadAddrCount = errors.New("wire: addr_count inconsistent with frame length")
	// ErrNotVRRP is returned when the IP protocol number is not 112.
	ErrNotVRRP = errors.New("wire: IP protocol is not VRRP (112)")
	// ErrBadTTL is returned when the IPv4 TTL is not 255.
	ErrBadTTL = errors.New("wire: IPv4 TTL is not 255")
	// ErrBadVersion is returned when the VRRP version/type byte is
	// not 0x21 (version 2, ADVERTISEMENT).
	ErrBadVersion = errors.New("wire: unexpected VRRP version/type byte")
)

// VirtualMAC returns the IANA-assigned VRRPv2 virtual MAC address for
// the given virtual router ID.
func VirtualMAC(vrid byte) net.HardwareAddr {
	return net.HardwareAddr{0x00, 0x00, 0x5E, 0x00, 0x01, vrid}
}

// Frame is the fully decoded content of one VRRPv2 ADVERTISEMENT,
// independent of its wire encoding.
type Frame struct {
	SrcMAC net.HardwareAddr
	SrcIP  net.IP // IPv4, the advertising router's primary address
	DstIP  net.IP // IPv4, the packet's IP destination (spec.md §4.5 step 7)

	VRID           byte
	Priority       byte
	AuthType       byte
	AdvertInterval byte // seconds

	// Addrs is the address list exactly as it appears on the wire:
	// [vip] when RFC3768-compat, [vip, ...ipaddrs] otherwise.
	Addrs []net.IP

	// AuthData is the raw 8-byte authentication trailer, opaque to
	// this package; internal/authn computes and verifies it.
	AuthData [8]byte

	// vrrpRegion caches the encoded fixed-header+addrs+trailer bytes
	// produced by Encode/Decode, with the checksum as transmitted.
	// Needed by authn to recompute auth over "the VRRP region with
	// the checksum zeroed", without re-deriving it from Frame fields.
	vrrpRegion []byte
}

// VRRPRegion returns the encoded VRRP fixed header and address list
// exactly as they were encoded or decoded, without the authentication
// trailer, for use as the authentication input in internal/authn.
func (f *Frame) VRRPRegion() []byte {
	if len(f.vrrpRegion) < AuthTrailerLen {
		return nil
	}
	return f.vrrpRegion[:len(f.vrrpRegion)-AuthTrailerLen]
}

// Encode serializes f into a complete Ethernet+IPv4+VRRP frame. The
// caller must have already placed the desired authentication trailer
// into f.AuthData (internal/authn does so before Encode is called, so
// that HMAC-then-checksum ordering from spec.md §4.1 holds).
func Encode(f *Frame) ([]byte, error) {
	if f.SrcIP.To4() == nil {
		return nil, errors.New("wire: Frame.SrcIP must be an IPv4 address")
	}
	n := len(f.Addrs)
	if n == 0 {
		return nil, errors.New("wire: Frame.Addrs must contain at least the VIP")
	}

	vrrpLen := VRRPFixedLen + n*AddrLen + AuthTrailerLen
	total := EthernetHeaderLen + IPv4HeaderLen + vrrpLen
	buf := make([]byte, total)

	// Ethernet header.
	copy(buf[0:6], DstMulticastMAC)
	copy(buf[6:12], VirtualMAC(f.VRID))
	binary.BigEndian.PutUint16(buf[12:14], EtherTypeIPv4)

	// IPv4 header.
	ip := buf[EthernetHeaderLen : EthernetHeaderLen+IPv4HeaderLen]
	ip[0] = IPv4VersionIHL
	ip[1] = IPv4DSCP
	binary.BigEndian.PutUint16(ip[2:4], uint16(IPv4HeaderLen+vrrpLen))
	// identification, flags/fragment offset left zero.
	ip[8] = IPv4TTL
	ip[9] = IPProtoVRRP
	copy(ip[12:16], f.SrcIP.To4())
	copy(ip[16:20], MulticastIPv4)
	f.DstIP = append(net.IP(nil), MulticastIPv4...)

	// VRRP region: fixed header + addrs + auth trailer.
	vr := buf[EthernetHeaderLen+IPv4HeaderLen:]
	vr[0] = VRRPVerType
	vr[1] = f.VRID
	vr[2] = f.Priority
	vr[3] = byte(n)
	vr[4] = f.AuthType
	vr[5] = f.AdvertInterval
	// vr[6:8] checksum, filled below.
	off := VRRPFixedLen
	for _, a := range f.Addrs {
		a4 := a.To4()
		if a4 == nil {
			return nil, fmt.Errorf("wire: non-IPv4 address in Frame.Addrs: %v", a)
		}
		copy(vr[off:off+AddrLen], a4)
		off += AddrLen
	}
	copy(vr[off:off+AuthTrailerLen], f.AuthData[:])

	// VRRP checksum over the VRRP region only, with the checksum
	// field zeroed, written back in place.
	binary.BigEndian.PutUint16(vr[6:8], Checksum(vr))

	// IPv4 header checksum, computed last.
	binary.BigEndian.PutUint16(ip[10:12], Checksum(ip))

	f.vrrpRegion = append([]byte(nil), vr...)
	return buf, nil
}

// Decode parses a raw Ethernet frame into a Frame, performing the
// structural and checksum validation of spec.md §4.5 steps 1-5. It
// does not check auth_type/advert_interval against a configured
// virtual router, nor authentication — those require context the
// wire package does not have (see internal/dispatch).
func Decode(raw []byte) (*Frame, error) {
	if len(raw) < MinFrameLen {
		return nil, ErrFrameTooShort
	}

	ip := raw[EthernetHeaderLen : EthernetHeaderLen+IPv4HeaderLen]
	ihl := int(ip[0]&0x0F) * 4
	if ihl < IPv4HeaderLen || EthernetHeaderLen+ihl > len(raw) {
		return nil, ErrFrameTooShort
	}
	if ip[9] != IPProtoVRRP {
		return nil, ErrNotVRRP
	}
	if ip[8] != IPv4TTL {
		return nil, ErrBadTTL
	}
	if !Verify(ip) {
		return nil, fmt.Errorf("wire: %w", errBadIPChecksum)
	}

	vr := raw[EthernetHeaderLen+ihl:]
	if len(vr) < VRRPFixedLen {
		return nil, ErrFrameTooShort
	}
	if vr[0] != VRRPVerType {
		return nil, ErrBadVersion
	}

	addrCount := int(vr[3])
	wantLen := VRRPFixedLen + addrCount*AddrLen + AuthTrailerLen
	if len(vr) != wantLen {
		return nil, ErrBadAddrCount
	}
	if !Verify(vr) {
		return nil, fmt.Errorf("wire: %w", errBadVRRPChecksum)
	}

	f := &Frame{
		SrcMAC:         append(net.HardwareAddr(nil), raw[6:12]...),
		SrcIP:          append(net.IP(nil), ip[12:16]...),
		DstIP:          append(net.IP(nil), ip[16:20]...),
		VRID:           vr[1],
		Priority:       vr[2],
		AuthType:       vr[4],
		AdvertInterval: vr[5],
		vrrpRegion:     append([]byte(nil), vr...),
	}
	off := VRRPFixedLen
	for i := 0; i < addrCount; i++ {
		f.Addrs = append(f.Addrs, append(net.IP(nil), vr[off:off+AddrLen]...))
		off += AddrLen
	}
	copy(f.AuthData[:], vr[off:off+AuthTrailerLen])
	return f, nil
}

var (
	errBadIPChecksum   = errors.New("invalid IPv4 header checksum")
	errBadVRRPChecksum = errors.New("invalid VRRP checksum")
)
