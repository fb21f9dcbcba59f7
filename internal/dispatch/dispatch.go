// Package dispatch implements the frame validation pipeline and the
// registry of virtual routers of spec.md §4.5: for every raw frame
// read off a receive socket, run the ten-step gate in order and, on
// success, deliver a decoded Advert event to the matching VR's inbox.
//
// Grounded on original_source/src/threads.rs's per-VR
// Arc<RwLock<VirtualRouter>> handle shape, translated to Go's
// sync.RWMutex: the registry is read-locked only for the lookup in
// step 6 and is never write-locked by the dispatch path. Steps 7-10
// take no lock: they read the VR's configuration and discovered
// addresses, which are set at construction. The one VR field the
// dispatch path writes is Stats.AuthFailures, incremented without the
// VR's lock when step 9 fails.
package dispatch

import (
	"fmt"
	"sync"

	"github.com/e3prom/rvrrpd/internal/authn"
	"github.com/e3prom/rvrrpd/internal/metrics"
	"github.com/e3prom/rvrrpd/internal/vrrp"
	"github.com/e3prom/rvrrpd/internal/wire"
	"go.uber.org/zap"
)

// key identifies one registered virtual router by the interface it
// listens on and its VRID, per spec.md §4.5 step 6.
type key struct {
	ifindex int
	vrid    byte
}

// Registry maps (ifindex, vrid) to the owning VirtualRouter and
// implements the validation pipeline of spec.md §4.5.
type Registry struct {
	mu    sync.RWMutex
	vrs   map[key]*vrrp.VirtualRouter
	log   *zap.SugaredLogger
	stats *metrics.Registry
}

// New constructs an empty Registry. log and stats may be nil.
func New(log *zap.SugaredLogger, stats *metrics.Registry) *Registry {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Registry{vrs: make(map[key]*vrrp.VirtualRouter), log: log, stats: stats}
}

// Add registers vr to receive frames arriving on ifindex for its
// configured VRID. Only the supervisor calls this, at construction
// time, before any goroutine starts reading frames.
func (r *Registry) Add(ifindex int, vr *vrrp.VirtualRouter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vrs[key{ifindex: ifindex, vrid: vr.Cfg.VRID}] = vr
}

// Remove unregisters the VR for (ifindex, vrid).
func (r *Registry) Remove(ifindex int, vrid byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.vrs, key{ifindex: ifindex, vrid: vrid})
}

// Lookup returns the VR registered for (ifindex, vrid), if any.
func (r *Registry) Lookup(ifindex int, vrid byte) (*vrrp.VirtualRouter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	vr, ok := r.vrs[key{ifindex: ifindex, vrid: vrid}]
	return vr, ok
}

// Dispatch runs the ten-step validation pipeline of spec.md §4.5
// against one raw frame received on ifindex, delivering a decoded
// Advert event to the owning VR's inbox on success. It returns nil on
// a successful delivery and a descriptive error (never panicking on
// malformed input) when the frame is dropped at any step; callers
// should log the error at debug level and continue reading — a single
// bad frame is never fatal (spec.md §4.7 failure semantics).
func (r *Registry) Dispatch(ifindex int, raw []byte) error {
	// Steps 1-5: structural and checksum validation, entirely owned
	// by the wire codec.
	f, err := wire.Decode(raw)
	if err != nil {
		r.reject(0, 0, "decode")
		return fmt.Errorf("dispatch: %w", err)
	}

	// Step 6: a VR must be registered for (ifindex, vrid).
	vr, ok := r.Lookup(ifindex, f.VRID)
	if !ok {
		r.reject(ifindex, f.VRID, "unknown_vr")
		return fmt.Errorf("dispatch: no virtual router for ifindex=%d vrid=%d", ifindex, f.VRID)
	}

	// Step 7: self-loopback — the IP destination must not be one of
	// this VR's own local addresses (spec.md §4.5 step 7), checked
	// against the full discovered address set, not just the primary.
	if vr.OwnsAddress(f.DstIP) {
		r.reject(ifindex, f.VRID, "self_loopback")
		return fmt.Errorf("dispatch: vrid %d received its own advertisement", f.VRID)
	}

	// Step 8: declared auth_type must equal the VR's configured type.
	if authn.Type(f.AuthType) != vr.Cfg.AuthType {
		r.reject(ifindex, f.VRID, "auth_type_mismatch")
		return fmt.Errorf("dispatch: vrid %d auth_type mismatch: got %d want %d", f.VRID, f.AuthType, vr.Cfg.AuthType)
	}

	// Step 9: authentication must verify.
	if vr.Cfg.AuthType != authn.None {
		region := authn.ZeroChecksum(f.VRRPRegion())
		if !authn.Verify(vr.Cfg.AuthType, vr.Cfg.AuthSecret, region, f.AuthData) {
			vr.Stats.AuthFailures++
			if r.stats != nil {
				r.stats.AuthFailure(f.VRID, vr.Cfg.Interface)
			}
			r.reject(ifindex, f.VRID, "auth_failed")
			return fmt.Errorf("dispatch: vrid %d authentication failed", f.VRID)
		}
	}

	// Step 10: declared advert_interval must equal the VR's
	// configured interval.
	if f.AdvertInterval != vrrp.AdvertIntervalSeconds(vr.Cfg.AdvertInterval) {
		r.reject(ifindex, f.VRID, "advert_interval_mismatch")
		return fmt.Errorf("dispatch: vrid %d advert_interval mismatch: got %d", f.VRID, f.AdvertInterval)
	}

	select {
	case vr.Inbox <- vrrp.Event{Kind: vrrp.EvAdvert, SrcIP: f.SrcIP, Priority: f.Priority}:
	default:
		r.log.Warnw("vr inbox full, dropping advertisement", "vrid", f.VRID)
	}
	return nil
}

func (r *Registry) reject(ifindex int, vrid byte, reason string) {
	r.log.Debugw("frame rejected", "ifindex", ifindex, "vrid", vrid, "reason", reason)
	if r.stats != nil {
		r.stats.ProtocolReject(vrid, reason)
	}
}
