package vrrp

import (
	"bytes"
	"context"
	"net"
	"time"

	"github.com/e3prom/rvrrpd/internal/authn"
	"github.com/e3prom/rvrrpd/internal/wire"
)

// Run drives the VirtualRouter's event loop until ctx is cancelled or
// an EvTerminate event is processed, per spec.md §4.6/§5: one
// goroutine per VR, single writer to vr.state, reader-writer lock held
// only for the duration of each event.
//
// Grounded on govrrp/virtual_router.go's stateMachine select-loop,
// generalized from its 3-state switch to the 4-state machine with
// Master-entry/exit host mutation.
func (vr *VirtualRouter) Run(ctx context.Context) error {
	defer vr.timers.Stop()
	for {
		select {
		case <-ctx.Done():
			vr.handleTerminate()
			return ctx.Err()
		case ev := <-vr.Inbox:
			if terminal := vr.handleEvent(ev); terminal {
				return nil
			}
		}
	}
}

// handleEvent processes one event under the VR's write lock and
// returns true if the VR has reached its terminal Down state.
func (vr *VirtualRouter) handleEvent(ev Event) bool {
	vr.mu.Lock()
	defer vr.mu.Unlock()

	vr.Log.Debugw("event", "kind", ev.Kind.String(), "state", vr.state.String())

	switch ev.Kind {
	case EvStartup:
		vr.onStartup()
	case EvShutdown:
		vr.onShutdown()
	case EvTerminate:
		if vr.state != Down {
			vr.onShutdown()
		}
		return true
	case EvGenAdvert:
		if vr.state == Master {
			vr.sendAdvertisementLocked(vr.Cfg.Priority)
			vr.timers.StartAdvertTimer(vr.Cfg.AdvertInterval)
		}
	case EvAdvert:
		vr.onAdvert(ev)
	case EvMasterDownExpiry:
		vr.Log.Debugw("master-down soft expiry, awaiting confirming tick")
	case EvMasterDown:
		if vr.state == Backup {
			vr.Log.Infow("master-down interval elapsed, becoming master")
			vr.toMasterLocked()
		} else {
			vr.Log.Debugw("master-down tick ignored outside Backup", "state", vr.state.String())
		}
	}
	return false
}

func (vr *VirtualRouter) handleTerminate() {
	vr.mu.Lock()
	defer vr.mu.Unlock()
	if vr.state != Down {
		vr.onShutdown()
	}
}

// onStartup implements spec.md §4.6 Init: the VIP owner (and any VR
// whose configured priority is 255) goes straight to Master; every
// other VR becomes Backup and starts the master-down timer.
func (vr *VirtualRouter) onStartup() {
	if vr.state != Init {
		return
	}
	if vr.OwnsVIP() || vr.Cfg.Priority == 255 {
		vr.Cfg.Priority = 255
		vr.toMasterLocked()
		return
	}
	vr.toBackupLocked(vr.MasterDownInterval)
}

// onShutdown implements the Shutdown event of spec.md §4.6: from
// Master, resign with a priority-0 advertisement and reverse
// Master-entry host mutation; from any state, go Down — terminal for
// this VR's current life.
func (vr *VirtualRouter) onShutdown() {
	switch vr.state {
	case Master:
		vr.timers.StopAdvertTimer()
		vr.Cfg.Priority = 0
		vr.sendAdvertisementLocked(0)
		vr.performMasterExitLocked()
	case Backup:
		vr.timers.StopMasterDownTimer()
	}
	vr.setStateLocked(Down)
}

// onAdvert implements the Advert-received branches of spec.md §4.6
// for both Master and Backup. Init/Down ignore adverts.
func (vr *VirtualRouter) onAdvert(ev Event) {
	vr.Stats.AdvertsReceived++
	vr.Metrics.AdvertReceived(vr.Cfg.VRID, vr.Cfg.Interface)
	switch vr.state {
	case Master:
		if ev.Priority == 0 {
			// A resigning peer still claiming Master: reassert
			// ourselves immediately rather than waiting for the next
			// scheduled tick.
			vr.sendAdvertisementLocked(vr.Cfg.Priority)
			vr.timers.StartAdvertTimer(vr.Cfg.AdvertInterval)
			return
		}
		if vr.shouldYieldTo(ev) {
			vr.Log.Infow("higher-priority advertisement received, stepping down",
				"peer", ev.SrcIP.String(), "peerPriority", ev.Priority)
			vr.performMasterExitLocked()
			vr.toBackupLocked(vr.MasterDownInterval)
		}
	case Backup:
		if ev.Priority == 0 {
			vr.timers.StartMasterDownTimer(vr.SkewTime)
			return
		}
		if !vr.Cfg.Preempt || ev.Priority >= vr.Cfg.Priority {
			vr.timers.StartMasterDownTimer(vr.MasterDownInterval)
			return
		}
		// preempt_mode=true and we outrank the advertising master:
		// withhold the timer reset so the next tick(s) escalate to
		// MasterDown and we take over, rather than forcing an
		// immediate transition here.
	}
}

// shouldYieldTo reports whether, while Master, ev should cause this
// VR to step down: a strictly higher priority always wins; an equal
// priority is broken by comparing primary IPv4 addresses, the higher
// address winning (spec.md §4.6 "tie-break on primary IP").
func (vr *VirtualRouter) shouldYieldTo(ev Event) bool {
	if ev.Priority > vr.Cfg.Priority {
		return true
	}
	if ev.Priority == vr.Cfg.Priority {
		return bytes.Compare(ev.SrcIP.To4(), vr.PrimaryIP().To4()) > 0
	}
	return false
}

// toBackupLocked transitions to Backup and arms the master-down timer
// at interval (MasterDownInterval on fresh entry, SkewTime when
// reacting to a priority-0 resignation).
func (vr *VirtualRouter) toBackupLocked(interval time.Duration) {
	vr.setStateLocked(Backup)
	vr.timers.StopAdvertTimer()
	vr.timers.StartMasterDownTimer(interval)
}

// setStateLocked updates the FSM state, transition counter and
// exported state gauge together so they never drift apart.
func (vr *VirtualRouter) setStateLocked(s State) {
	vr.state = s
	vr.Stats.Transitions++
	vr.Metrics.SetState(vr.Cfg.VRID, vr.Cfg.Interface, int(s))
}

// toMasterLocked performs Master-entry actions and transitions to
// Master, per spec.md §4.6 "Master-entry actions":
//  1. derive the virtual MAC for this VRID
//  2. realize it via MAC-VLAN child or direct MAC overwrite
//  3. add the VIP to the effective interface
//  4. install shared static routes (first VR wins, via Protocols)
//  5. send an immediate ADVERTISEMENT
//  6. broadcast a gratuitous ARP for the VIP
//  7. arm the advertisement timer
//
// Grounded on govrrp/virtual_router.go's MASTER-entry branch (VIP add
// + gratuitous ARP + advert), extended with the MAC-VLAN/static-route
// steps spec.md adds beyond govrrp's scope.
func (vr *VirtualRouter) toMasterLocked() {
	vr.timers.StopMasterDownTimer()

	vmac := wire.VirtualMAC(vr.Cfg.VRID)

	switch vr.Cfg.IfType {
	case MacVlan:
		idx, err := vr.Adapter.CreateMacvlan(vr.physicalIface, vr.Cfg.VifName, vmac)
		if err != nil {
			vr.Log.Errorw("failed to create macvlan child, falling back to direct MAC assignment", "error", err)
			vr.assignDirectMAC(vmac)
		} else {
			vr.macvlanIfindex = idx
			vr.effectiveIface = vr.Cfg.VifName
		}
	default:
		vr.assignDirectMAC(vmac)
	}

	if err := vr.Adapter.AddIPv4(vr.effectiveIface, vr.Cfg.VIP, vr.PrimaryMask()); err != nil {
		vr.Log.Errorw("failed to add VIP", "vip", vr.Cfg.VIP.String(), "error", err)
	}

	if vr.Protocols != nil {
		vr.routesInstalled = vr.Protocols.Install(vr)
	}

	vr.setStateLocked(Master)

	vr.sendAdvertisementLocked(vr.Cfg.Priority)

	if err := vr.Adapter.BroadcastGratuitousARP(vr.effectiveIface, vr.Cfg.VIP, vmac); err != nil {
		vr.Log.Warnw("failed to broadcast gratuitous ARP", "error", err)
	}

	vr.timers.StartAdvertTimer(vr.Cfg.AdvertInterval)
}

func (vr *VirtualRouter) assignDirectMAC(vmac net.HardwareAddr) {
	vr.savedIfMAC = append(net.HardwareAddr(nil), vr.IfMAC...)
	if err := vr.Adapter.SetIfMAC(vr.physicalIface, vmac); err != nil {
		vr.Log.Errorw("failed to assign virtual MAC", "error", err)
	}
}

// performMasterExitLocked reverses toMasterLocked's host mutation, in
// the opposite order, per spec.md §4.6 "Master-exit actions".
func (vr *VirtualRouter) performMasterExitLocked() {
	vr.timers.StopAdvertTimer()

	if vr.Protocols != nil && vr.routesInstalled {
		vr.Protocols.Uninstall(vr)
		vr.routesInstalled = false
	}

	if err := vr.Adapter.DelIPv4(vr.effectiveIface, vr.Cfg.VIP, vr.PrimaryMask()); err != nil {
		vr.Log.Warnw("failed to remove VIP", "vip", vr.Cfg.VIP.String(), "error", err)
	}

	switch vr.Cfg.IfType {
	case MacVlan:
		if vr.macvlanIfindex != 0 {
			if err := vr.Adapter.DeleteMacvlan(vr.macvlanIfindex); err != nil {
				vr.Log.Warnw("failed to delete macvlan child", "error", err)
			}
			vr.macvlanIfindex = 0
		}
		vr.effectiveIface = vr.physicalIface
	default:
		if vr.savedIfMAC != nil {
			if err := vr.Adapter.RestoreIfMAC(vr.physicalIface, vr.savedIfMAC); err != nil {
				vr.Log.Warnw("failed to restore physical MAC", "error", err)
			}
			vr.savedIfMAC = nil
		}
	}
}

// sendAdvertisementLocked builds, authenticates and transmits one
// ADVERTISEMENT at the given priority (the configured priority in
// normal Master operation, 0 for resignation).
func (vr *VirtualRouter) sendAdvertisementLocked(priority byte) {
	addrs := []net.IP{vr.Cfg.VIP}
	if !vr.Cfg.RFC3768Compat {
		addrs = append(addrs, vr.IPAddrs...)
	}

	f := &wire.Frame{
		SrcMAC:         vr.IfMAC,
		SrcIP:          vr.PrimaryIP(),
		VRID:           vr.Cfg.VRID,
		Priority:       priority,
		AuthType:       byte(vr.Cfg.AuthType),
		AdvertInterval: AdvertIntervalSeconds(vr.Cfg.AdvertInterval),
		Addrs:          addrs,
	}

	// HMAC-then-checksum: compute the auth trailer over a trial
	// encoding with a zeroed trailer and checksum, per spec.md §4.2.
	raw, err := wire.Encode(f)
	if err != nil {
		vr.Log.Errorw("failed to encode advertisement", "error", err)
		return
	}
	if vr.Cfg.AuthType != authn.None {
		region := authn.ZeroChecksum(f.VRRPRegion())
		f.AuthData = authn.Generate(vr.Cfg.AuthType, vr.Cfg.AuthSecret, region)
		raw, err = wire.Encode(f)
		if err != nil {
			vr.Log.Errorw("failed to encode authenticated advertisement", "error", err)
			return
		}
	}

	if err := vr.Adapter.SendFrame(vr.effectiveIface, raw); err != nil {
		vr.Log.Warnw("failed to send advertisement", "error", err)
		return
	}
	vr.Stats.AdvertsSent++
	vr.Metrics.AdvertSent(vr.Cfg.VRID, vr.Cfg.Interface)
}

// AdvertIntervalSeconds clamps d to the one-byte wire representation
// of advert_interval, per spec.md §4.1 (range [1,255] seconds).
func AdvertIntervalSeconds(d time.Duration) byte {
	s := d / time.Second
	if s < 1 {
		return 1
	}
	if s > 255 {
		return 255
	}
	return byte(s)
}
