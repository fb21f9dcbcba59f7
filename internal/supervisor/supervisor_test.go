package supervisor

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/e3prom/rvrrpd/internal/authn"
	"github.com/e3prom/rvrrpd/internal/dispatch"
	"github.com/e3prom/rvrrpd/internal/hostnet"
	"github.com/e3prom/rvrrpd/internal/vrrp"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func newVR(t *testing.T, vrid byte, vip net.IP, priority byte) (*vrrp.VirtualRouter, *hostnet.FakeAdapter) {
	t.Helper()
	primary := net.IPv4(10, 0, 0, byte(10+vrid)).To4()
	fake := hostnet.NewFakeAdapter(primary, net.CIDRMask(24, 32), net.HardwareAddr{0, 1, 2, 3, 4, vrid})
	vr, err := vrrp.NewVirtualRouter(vrrp.Config{
		Interface:      "eth0",
		VRID:           vrid,
		Priority:       priority,
		VIP:            vip,
		AdvertInterval: 50 * time.Millisecond,
		AuthType:       authn.None,
	}, fake, vrrp.NewProtocols(nil), nil, nil)
	require.NoError(t, err)
	return vr, fake
}

// Run must bring a VIP-owning VR up to Master, then tear it back down
// to Down once its context is cancelled.
func TestRun_StartupAndShutdownLifecycle(t *testing.T) {
	defer goleak.VerifyNone(t)

	vip := net.IPv4(10, 0, 0, 11).To4()
	vr, _ := newVR(t, 1, vip, 100)
	reg := dispatch.New(nil, nil)
	sup := New([]*vrrp.VirtualRouter{vr}, reg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	require.Eventually(t, func() bool { return vr.State() == vrrp.Master }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
	require.Equal(t, vrrp.Down, vr.State())
}

// A malformed frame fed through the fake adapter's receive queue must
// be dropped by the dispatch registry without killing the receive
// loop or the rest of the VR's lifecycle.
func TestRun_SurvivesMalformedFrame(t *testing.T) {
	vip := net.IPv4(10, 0, 0, 254).To4()
	backup, fake := newVR(t, 3, vip, 50)
	reg := dispatch.New(nil, nil)
	sup := New([]*vrrp.VirtualRouter{backup}, reg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	require.Eventually(t, func() bool { return backup.State() == vrrp.Backup }, time.Second, 5*time.Millisecond)

	fake.Feed("eth0", []byte{0x01, 0x02, 0x03})
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, vrrp.Backup, backup.State(), "a malformed frame must not crash the receive loop or FSM")

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
