package vrrp

import (
	"net"
	"testing"
	"time"

	"github.com/e3prom/rvrrpd/internal/authn"
	"github.com/e3prom/rvrrpd/internal/hostnet"
	"github.com/e3prom/rvrrpd/internal/wire"
	"github.com/stretchr/testify/require"
)

func testVR(t *testing.T, cfg Config, fake *hostnet.FakeAdapter) *VirtualRouter {
	t.Helper()
	vr, err := NewVirtualRouter(cfg, fake, NewProtocols(nil), nil, nil)
	require.NoError(t, err)
	return vr
}

func baseConfig(vip net.IP, priority byte, preempt bool) Config {
	return Config{
		Interface:      "eth0",
		VRID:           7,
		Priority:       priority,
		VIP:            vip,
		AdvertInterval: time.Second,
		Preempt:        preempt,
		AuthType:       authn.None,
	}
}

// A VR whose VIP matches its own primary address must come up as
// Master regardless of configured priority (IP-owner rule).
func TestStartup_VIPOwnerBecomesMaster(t *testing.T) {
	vip := net.IPv4(10, 0, 0, 1).To4()
	fake := hostnet.NewFakeAdapter(vip, net.CIDRMask(24, 32), net.HardwareAddr{0, 1, 2, 3, 4, 5})
	vr := testVR(t, baseConfig(vip, 100, false), fake)

	vr.Inbox <- Event{Kind: EvStartup}
	vr.handleEventForTest()

	require.Equal(t, Master, vr.State())
	require.Len(t, fake.AddedIPs, 1)
	require.Len(t, fake.ARPSent, 1)
	require.Len(t, fake.FramesSent, 1)
}

// A non-owner VR starts in Backup and needs two consecutive
// master-down ticks (soft expiry, then confirmation) before it
// transitions to Master.
func TestBackup_TwoTicksEscalateToMaster(t *testing.T) {
	primary := net.IPv4(10, 0, 0, 2).To4()
	vip := net.IPv4(10, 0, 0, 1).To4()
	fake := hostnet.NewFakeAdapter(primary, net.CIDRMask(24, 32), net.HardwareAddr{0, 1, 2, 3, 4, 5})
	vr := testVR(t, baseConfig(vip, 100, false), fake)

	vr.Inbox <- Event{Kind: EvStartup}
	vr.handleEventForTest()
	require.Equal(t, Backup, vr.State())

	vr.handleEventDirectForTest(Event{Kind: EvMasterDownExpiry})
	require.Equal(t, Backup, vr.State())

	vr.handleEventDirectForTest(Event{Kind: EvMasterDown})
	require.Equal(t, Master, vr.State())
}

// A Backup never transitions to Master directly upon receiving an
// inferior advertisement, regardless of preempt_mode: preemption only
// ever happens through withholding the master-down timer reset so a
// later tick escalates to MasterDown (spec.md §4.6 Backup, "Else:
// ignore"). This holds with preempt disabled...
func TestBackup_NoPreemptWaitsForTimer(t *testing.T) {
	primary := net.IPv4(10, 0, 0, 2).To4()
	vip := net.IPv4(10, 0, 0, 1).To4()
	fake := hostnet.NewFakeAdapter(primary, net.CIDRMask(24, 32), net.HardwareAddr{0, 1, 2, 3, 4, 5})
	vr := testVR(t, baseConfig(vip, 200, false), fake)

	vr.Inbox <- Event{Kind: EvStartup}
	vr.handleEventForTest()
	require.Equal(t, Backup, vr.State())

	vr.handleEventDirectForTest(Event{Kind: EvAdvert, SrcIP: net.IPv4(10, 0, 0, 3), Priority: 50})
	require.Equal(t, Backup, vr.State(), "preempt_mode=false must not take over on a mere priority comparison")
}

// ...and with preempt enabled: an inferior advertisement is simply
// ignored rather than triggering an immediate transition. The
// eventual takeover is driven entirely by the withheld timer reset
// firing MasterDown, exercised separately in
// TestBackup_TwoTicksEscalateToMaster.
func TestBackup_PreemptIgnoresInferiorAdvertImmediately(t *testing.T) {
	primary := net.IPv4(10, 0, 0, 2).To4()
	vip := net.IPv4(10, 0, 0, 1).To4()
	fake := hostnet.NewFakeAdapter(primary, net.CIDRMask(24, 32), net.HardwareAddr{0, 1, 2, 3, 4, 5})
	vr := testVR(t, baseConfig(vip, 200, true), fake)

	vr.Inbox <- Event{Kind: EvStartup}
	vr.handleEventForTest()
	require.Equal(t, Backup, vr.State())

	vr.handleEventDirectForTest(Event{Kind: EvAdvert, SrcIP: net.IPv4(10, 0, 0, 3), Priority: 50})
	require.Equal(t, Backup, vr.State(), "preempt_mode=true must not jump straight to Master on advert receipt")
}

// A priority-0 advertisement (master resigning) must be honored even
// with preempt disabled: the Backup waits only skew_time, not the
// full master-down interval.
func TestBackup_PriorityZeroShortensWait(t *testing.T) {
	primary := net.IPv4(10, 0, 0, 2).To4()
	vip := net.IPv4(10, 0, 0, 1).To4()
	fake := hostnet.NewFakeAdapter(primary, net.CIDRMask(24, 32), net.HardwareAddr{0, 1, 2, 3, 4, 5})
	vr := testVR(t, baseConfig(vip, 100, false), fake)

	vr.Inbox <- Event{Kind: EvStartup}
	vr.handleEventForTest()

	vr.handleEventDirectForTest(Event{Kind: EvAdvert, SrcIP: net.IPv4(10, 0, 0, 3), Priority: 0})
	require.Equal(t, Backup, vr.State())

	vr.timers.mu.Lock()
	interval := vr.timers.masterDownInterval
	vr.timers.mu.Unlock()
	require.Equal(t, vr.SkewTime, interval)
}

// Master resignation (Shutdown) must send a priority-0 advertisement
// and reverse all Master-entry host mutation before reaching the
// terminal Down state.
func TestMaster_ShutdownResigns(t *testing.T) {
	vip := net.IPv4(10, 0, 0, 1).To4()
	fake := hostnet.NewFakeAdapter(vip, net.CIDRMask(24, 32), net.HardwareAddr{0, 1, 2, 3, 4, 5})
	vr := testVR(t, baseConfig(vip, 100, false), fake)

	vr.Inbox <- Event{Kind: EvStartup}
	vr.handleEventForTest()
	require.Equal(t, Master, vr.State())

	vr.handleEventDirectForTest(Event{Kind: EvShutdown})
	require.Equal(t, Down, vr.State())

	last := fake.LastSentFrame()
	require.NotNil(t, last)
	require.Equal(t, byte(0), last[wire.EthernetHeaderLen+wire.IPv4HeaderLen+2], "final advertisement must carry priority 0")
	require.Empty(t, fake.AddedIPs, "VIP must be removed on resignation")
}

// A Master must yield to a peer advertising a higher priority.
func TestMaster_YieldsToHigherPriority(t *testing.T) {
	primary := net.IPv4(10, 0, 0, 2).To4()
	vip := net.IPv4(10, 0, 0, 1).To4()
	fake := hostnet.NewFakeAdapter(primary, net.CIDRMask(24, 32), net.HardwareAddr{0, 1, 2, 3, 4, 5})
	vr := testVR(t, baseConfig(vip, 100, false), fake)

	vr.Inbox <- Event{Kind: EvStartup}
	vr.handleEventForTest()
	vr.handleEventDirectForTest(Event{Kind: EvMasterDownExpiry})
	vr.handleEventDirectForTest(Event{Kind: EvMasterDown})
	require.Equal(t, Master, vr.State())

	vr.handleEventDirectForTest(Event{Kind: EvAdvert, SrcIP: net.IPv4(10, 0, 0, 9), Priority: 254})
	require.Equal(t, Backup, vr.State())
}

// Equal priority ties are broken by comparing primary IPv4 addresses.
func TestMaster_TieBrokenByPrimaryIP(t *testing.T) {
	primary := net.IPv4(10, 0, 0, 5).To4()
	vip := net.IPv4(10, 0, 0, 1).To4()
	fake := hostnet.NewFakeAdapter(primary, net.CIDRMask(24, 32), net.HardwareAddr{0, 1, 2, 3, 4, 5})
	vr := testVR(t, baseConfig(vip, 100, false), fake)

	vr.Inbox <- Event{Kind: EvStartup}
	vr.handleEventForTest()
	vr.handleEventDirectForTest(Event{Kind: EvMasterDownExpiry})
	vr.handleEventDirectForTest(Event{Kind: EvMasterDown})
	require.Equal(t, Master, vr.State())

	// Lower peer IP must not dislodge us.
	vr.handleEventDirectForTest(Event{Kind: EvAdvert, SrcIP: net.IPv4(10, 0, 0, 2), Priority: 100})
	require.Equal(t, Master, vr.State())

	// Higher peer IP at the same priority must.
	vr.handleEventDirectForTest(Event{Kind: EvAdvert, SrcIP: net.IPv4(10, 0, 0, 9), Priority: 100})
	require.Equal(t, Backup, vr.State())
}

// handleEventForTest drains exactly one queued event synchronously,
// letting tests assert state transitions without running Run's
// goroutine loop.
func (vr *VirtualRouter) handleEventForTest() {
	ev := <-vr.Inbox
	vr.handleEvent(ev)
}

// handleEventDirectForTest processes ev synchronously without going
// through the inbox channel, for tests that assert on a single
// transition at a time.
func (vr *VirtualRouter) handleEventDirectForTest(ev Event) {
	vr.handleEvent(ev)
}
