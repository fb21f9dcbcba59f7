package dispatch

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/e3prom/rvrrpd/internal/authn"
	"github.com/e3prom/rvrrpd/internal/hostnet"
	"github.com/e3prom/rvrrpd/internal/vrrp"
	"github.com/e3prom/rvrrpd/internal/wire"
	"github.com/stretchr/testify/require"
)

// setIPDst overwrites raw's IPv4 destination field and recomputes the
// IPv4 header checksum, letting tests construct a frame addressed to
// something other than the VRRP multicast group wire.Encode always
// stamps, to exercise the step-7 self-loopback check.
func setIPDst(raw []byte, dst net.IP) {
	ip := raw[wire.EthernetHeaderLen : wire.EthernetHeaderLen+wire.IPv4HeaderLen]
	copy(ip[16:20], dst.To4())
	binary.BigEndian.PutUint16(ip[10:12], 0)
	binary.BigEndian.PutUint16(ip[10:12], wire.Checksum(ip))
}

func newTestVR(t *testing.T, auth authn.Type, secret string) (*vrrp.VirtualRouter, *hostnet.FakeAdapter) {
	t.Helper()
	primary := net.IPv4(10, 0, 0, 1).To4()
	fake := hostnet.NewFakeAdapter(primary, net.CIDRMask(24, 32), net.HardwareAddr{0, 1, 2, 3, 4, 5})
	vr, err := vrrp.NewVirtualRouter(vrrp.Config{
		Interface:      "eth0",
		VRID:           9,
		Priority:       100,
		VIP:            net.IPv4(10, 0, 0, 254),
		AdvertInterval: time.Second,
		AuthType:       auth,
		AuthSecret:     secret,
	}, fake, vrrp.NewProtocols(nil), nil, nil)
	require.NoError(t, err)
	return vr, fake
}

func encodeAdvert(t *testing.T, auth authn.Type, secret string, vrid byte, srcIP net.IP, priority byte, interval byte) []byte {
	t.Helper()
	f := &wire.Frame{
		SrcMAC:         net.HardwareAddr{0xaa, 0xbb, 0xcc, 0, 0, byte(vrid)},
		SrcIP:          srcIP.To4(),
		VRID:           vrid,
		Priority:       priority,
		AuthType:       byte(auth),
		AdvertInterval: interval,
		Addrs:          []net.IP{net.IPv4(10, 0, 0, 254)},
	}
	raw, err := wire.Encode(f)
	require.NoError(t, err)
	if auth != authn.None {
		region := authn.ZeroChecksum(f.VRRPRegion())
		f.AuthData = authn.Generate(auth, secret, region)
		raw, err = wire.Encode(f)
		require.NoError(t, err)
	}
	return raw
}

func TestDispatch_DeliversValidAdvert(t *testing.T) {
	vr, _ := newTestVR(t, authn.None, "")
	reg := New(nil, nil)
	reg.Add(vr.IfIndex, vr)

	raw := encodeAdvert(t, authn.None, "", 9, net.IPv4(10, 0, 0, 2), 50, 1)
	require.NoError(t, reg.Dispatch(vr.IfIndex, raw))

	select {
	case ev := <-vr.Inbox:
		require.Equal(t, vrrp.EvAdvert, ev.Kind)
		require.Equal(t, byte(50), ev.Priority)
	default:
		t.Fatal("expected an event to be delivered to the VR inbox")
	}
}

func TestDispatch_RejectsUnknownVR(t *testing.T) {
	reg := New(nil, nil)
	raw := encodeAdvert(t, authn.None, "", 9, net.IPv4(10, 0, 0, 2), 50, 1)
	require.Error(t, reg.Dispatch(42, raw))
}

func TestDispatch_RejectsSelfLoopback(t *testing.T) {
	vr, _ := newTestVR(t, authn.None, "")
	reg := New(nil, nil)
	reg.Add(vr.IfIndex, vr)

	raw := encodeAdvert(t, authn.None, "", 9, net.IPv4(10, 0, 0, 2), 50, 1)
	setIPDst(raw, vr.PrimaryIP())
	require.Error(t, reg.Dispatch(vr.IfIndex, raw))
}

func TestDispatch_RejectsAuthTypeMismatch(t *testing.T) {
	vr, _ := newTestVR(t, authn.Simple, "secret1")
	reg := New(nil, nil)
	reg.Add(vr.IfIndex, vr)

	raw := encodeAdvert(t, authn.None, "", 9, net.IPv4(10, 0, 0, 2), 50, 1)
	require.Error(t, reg.Dispatch(vr.IfIndex, raw))
}

func TestDispatch_RejectsBadAuth(t *testing.T) {
	vr, _ := newTestVR(t, authn.Simple, "secret1")
	reg := New(nil, nil)
	reg.Add(vr.IfIndex, vr)

	raw := encodeAdvert(t, authn.Simple, "wrong-secret", 9, net.IPv4(10, 0, 0, 2), 50, 1)
	require.Error(t, reg.Dispatch(vr.IfIndex, raw))
}

func TestDispatch_RejectsAdvertIntervalMismatch(t *testing.T) {
	vr, _ := newTestVR(t, authn.None, "")
	reg := New(nil, nil)
	reg.Add(vr.IfIndex, vr)

	raw := encodeAdvert(t, authn.None, "", 9, net.IPv4(10, 0, 0, 2), 50, 5)
	require.Error(t, reg.Dispatch(vr.IfIndex, raw))
}

func TestDispatch_RemoveStopsDelivery(t *testing.T) {
	vr, _ := newTestVR(t, authn.None, "")
	reg := New(nil, nil)
	reg.Add(vr.IfIndex, vr)
	reg.Remove(vr.IfIndex, vr.Cfg.VRID)

	raw := encodeAdvert(t, authn.None, "", 9, net.IPv4(10, 0, 0, 2), 50, 1)
	require.Error(t, reg.Dispatch(vr.IfIndex, raw))
}
