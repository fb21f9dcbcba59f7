// Package vrrp implements the per-virtual-router finite-state machine
// of spec.md §4.6, the timer service of §4.4, and the VirtualRouter
// data model of §3.
//
// Grounded on govrrp/virtual_router.go for the overall shape (a
// struct combining static parameters, discovered interface state, an
// event channel and a packet queue, driven by a select-loop), adapted
// from govrrp's 3-state INIT/MASTER/BACKUP machine (no host-adapter
// side effects) to the spec's 4-state machine with an explicit
// terminal Down state and Master-entry/exit host mutation.
package vrrp

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/e3prom/rvrrpd/internal/authn"
	"github.com/e3prom/rvrrpd/internal/hostnet"
	"github.com/e3prom/rvrrpd/internal/metrics"
	"go.uber.org/zap"
)

// State is one of the four FSM states of spec.md §4.6.
type State uint32

const (
	Init State = iota
	Backup
	Master
	Down
)

func (s State) String() string {
	switch s {
	case Init:
		return "Init"
	case Backup:
		return "Backup"
	case Master:
		return "Master"
	case Down:
		return "Down"
	default:
		return "unknown"
	}
}

// IfType selects how the Master-entry virtual MAC is realized.
type IfType byte

const (
	Ether IfType = iota
	MacVlan
)

// NetDrv selects which host-adapter back-end realizes network
// control operations. The spec's ioctl/netlink split is preserved as
// a configuration knob even though this repository ships a single
// netlink-backed internal/hostnet.LinuxAdapter: legacy hosts without
// rtnetlink support are expected to provide their own Adapter.
type NetDrv byte

const (
	Ioctl NetDrv = iota
	Netlink
)

// Config holds the static, operator-supplied parameters of one
// virtual router (spec.md §3).
type Config struct {
	Interface string
	VRID      byte

	Priority       byte
	VIP            net.IP
	AdvertInterval time.Duration // seconds granularity; default 1s
	Preempt        bool
	RFC3768Compat  bool

	AuthType   authn.Type
	AuthSecret string

	IfType  IfType
	NetDrv  NetDrv
	VifName string

	SocketFilter bool
}

// Validate checks the static invariants of spec.md §3 that do not
// require host discovery (vrid range, priority range, auth/compat
// coupling). It mutates RFC3768Compat to true when AuthType requires
// it, per spec.md §3: "If auth_type ∈ {P0, P1}, rfc3768_compat is
// forced true."
func (c *Config) Validate() error {
	if c.VRID < 1 {
		return fmt.Errorf("vrrp: vrid must be in [1,255], got %d", c.VRID)
	}
	if c.Priority < 1 || c.Priority > 254 {
		return fmt.Errorf("vrrp: priority must be in [1,254], got %d", c.Priority)
	}
	if c.VIP == nil || c.VIP.To4() == nil {
		return fmt.Errorf("vrrp: vip must be a valid IPv4 address")
	}
	if c.AdvertInterval <= 0 {
		c.AdvertInterval = time.Second
	}
	switch c.AuthType {
	case authn.None, authn.Simple:
	case authn.P0, authn.P1:
		c.RFC3768Compat = true
	default:
		return fmt.Errorf("vrrp: unknown auth_type %d", c.AuthType)
	}
	if c.IfType == MacVlan && c.VifName == "" {
		return fmt.Errorf("vrrp: vif_name required when iftype=macvlan")
	}
	return nil
}

// Stats holds counters a VirtualRouter exposes for internal/metrics
// (SPEC_FULL.md §3 supplement).
type Stats struct {
	AdvertsSent      uint64
	AdvertsReceived  uint64
	AuthFailures     uint64
	ProtocolRejects  uint64
	Transitions      uint64
}

// EventKind tags a vrrp.Event variant (spec.md §3 "Events").
type EventKind byte

const (
	EvStartup EventKind = iota
	EvShutdown
	EvTerminate
	EvAdvert
	EvGenAdvert
	EvMasterDown
	EvMasterDownExpiry
)

func (k EventKind) String() string {
	switch k {
	case EvStartup:
		return "Startup"
	case EvShutdown:
		return "Shutdown"
	case EvTerminate:
		return "Terminate"
	case EvAdvert:
		return "Advert"
	case EvGenAdvert:
		return "GenAdvert"
	case EvMasterDown:
		return "MasterDown"
	case EvMasterDownExpiry:
		return "MasterDownExpiry"
	default:
		return "unknown"
	}
}

// Event is the tagged-variant message crossing a VirtualRouter's
// inbox channel (spec.md §3, §5 "Channel discipline").
type Event struct {
	Kind     EventKind
	SrcIP    net.IP // populated for EvAdvert
	Priority byte   // populated for EvAdvert
}

// inboxSize approximates spec.md §5's "unbounded" inbox: event rates
// are O(1Hz) per VR, so a generous fixed buffer never backpressures
// in practice while avoiding an unbounded-growth goroutine+channel
// construction for what is, operationally, a bounded-rate stream.
const inboxSize = 4096

// VirtualRouter is the per-(interface,vrid) FSM of spec.md §4.6,
// combining the static Config, host-discovered fields, derived
// timing, and mutable runtime state.
type VirtualRouter struct {
	Cfg Config

	// Discovered at construction time from the host (spec.md §3).
	IfIndex int
	IfMAC   net.HardwareAddr
	IPAddrs []net.IP
	Masks   []net.IPMask

	// Derived.
	SkewTime           time.Duration
	MasterDownInterval time.Duration

	Adapter   hostnet.Adapter
	Protocols *Protocols
	Metrics   *metrics.Registry
	Log       *zap.SugaredLogger

	Inbox chan Event

	// mu guards the mutable fields below, read-locked by State and
	// EffectiveInterface and write-locked by the worker for the
	// duration of processing one event. The dispatcher does not take
	// it; it increments Stats.AuthFailures without the lock.
	mu sync.RWMutex

	state State

	// effectiveIface is the interface operations are applied to:
	// Cfg.Interface normally, or Cfg.VifName after a MAC-VLAN child
	// is created on Master-entry. DESIGN NOTES flags the original's
	// inconsistent restoration of this value across code paths; here
	// the physical name is saved once into physicalIface at
	// construction and restored from that local unconditionally on
	// Master-exit, never re-derived from VifName.
	effectiveIface string
	physicalIface  string

	savedIfMAC      net.HardwareAddr
	routesInstalled bool
	macvlanIfindex  int

	timers *timerService

	Stats Stats
}

// NewVirtualRouter validates cfg, discovers interface state via
// adapter, computes derived timing, and returns a VirtualRouter in
// state Init. Construction failures (absent IPv4 addresses, invalid
// config) are fatal per spec.md §7 "Config-invalid".
func NewVirtualRouter(cfg Config, adapter hostnet.Adapter, protocols *Protocols, stats *metrics.Registry, log *zap.SugaredLogger) (*VirtualRouter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	ips, masks, err := adapter.GetPrimaryAddresses(cfg.Interface)
	if err != nil {
		return nil, fmt.Errorf("vrrp: vrid %d on %s: %w", cfg.VRID, cfg.Interface, err)
	}
	mac, err := adapter.GetIfMAC(cfg.Interface)
	if err != nil {
		return nil, fmt.Errorf("vrrp: vrid %d on %s: %w", cfg.VRID, cfg.Interface, err)
	}
	ifindex, err := adapter.GetIfIndex(cfg.Interface)
	if err != nil {
		return nil, fmt.Errorf("vrrp: vrid %d on %s: %w", cfg.VRID, cfg.Interface, err)
	}

	skew := time.Duration(256-int(cfg.Priority)) * time.Second / 256
	masterDown := 3*cfg.AdvertInterval + skew

	vr := &VirtualRouter{
		Cfg:                cfg,
		IfIndex:            ifindex,
		IfMAC:              mac,
		IPAddrs:            ips,
		Masks:              masks,
		SkewTime:           skew,
		MasterDownInterval: masterDown,
		Adapter:            adapter,
		Protocols:          protocols,
		Metrics:            stats,
		Log:                log.With("vrid", cfg.VRID, "iface", cfg.Interface),
		Inbox:              make(chan Event, inboxSize),
		state:              Init,
		effectiveIface:     cfg.Interface,
		physicalIface:      cfg.Interface,
	}
	vr.timers = newTimerService(vr)
	return vr, nil
}

// State returns the current FSM state under a read lock.
func (vr *VirtualRouter) State() State {
	vr.mu.RLock()
	defer vr.mu.RUnlock()
	return vr.state
}

// EffectiveInterface returns the interface host operations currently
// target: the physical interface, or the MAC-VLAN child while Master.
func (vr *VirtualRouter) EffectiveInterface() string {
	vr.mu.RLock()
	defer vr.mu.RUnlock()
	return vr.effectiveIface
}

// OwnsVIP reports whether the VR's VIP is one of its discovered local
// addresses, per spec.md §4.6 Init "the VR owns the VIP".
func (vr *VirtualRouter) OwnsVIP() bool {
	for _, ip := range vr.IPAddrs {
		if ip.Equal(vr.Cfg.VIP) {
			return true
		}
	}
	return false
}

// OwnsAddress reports whether ip matches one of the VR's discovered
// local IPv4 addresses, per spec.md §4.5 step 7's self-loopback check
// ("the IP destination is not one of this VR's own local addresses").
func (vr *VirtualRouter) OwnsAddress(ip net.IP) bool {
	for _, local := range vr.IPAddrs {
		if local.Equal(ip) {
			return true
		}
	}
	return false
}

// PrimaryIP is ipaddrs[0], the VR's preferred source address.
func (vr *VirtualRouter) PrimaryIP() net.IP {
	if len(vr.IPAddrs) == 0 {
		return nil
	}
	return vr.IPAddrs[0]
}

// PrimaryMask is the mask paired with PrimaryIP.
func (vr *VirtualRouter) PrimaryMask() net.IPMask {
	if len(vr.Masks) == 0 {
		return nil
	}
	return vr.Masks[0]
}

// Route is re-exported so callers configuring Protocols.static don't
// need to import internal/hostnet directly.
type Route = hostnet.Route

// Protocols is the process-wide, mutex-protected table of static
// routes of spec.md §3: "Shared across VRs because the first VR on a
// host installs/removes them."
//
// Grounded on original_source/src/threads.rs's and fsm.rs's
// "install once" discipline; the Rust source keeps this as a global,
// here it is an explicit value threaded through construction instead
// of a package-level mutable, to keep supervisor wiring testable.
type Protocols struct {
	mu         sync.Mutex
	Routes     []Route
	installedBy *VirtualRouter
}

// NewProtocols constructs the shared static-route table.
func NewProtocols(routes []Route) *Protocols {
	return &Protocols{Routes: routes}
}

// Install adds all configured routes if no VR has installed them yet,
// recording vr as the owner. Returns true if this call performed the
// install (vr is now responsible for Uninstall on exit).
func (p *Protocols) Install(vr *VirtualRouter) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.installedBy != nil {
		return false
	}
	for _, r := range p.Routes {
		if err := vr.Adapter.AddRoute(r, vr.EffectiveInterface()); err != nil {
			vr.Log.Warnw("failed to install static route", "dest", r.Dest.String(), "error", err)
		}
	}
	p.installedBy = vr
	return true
}

// Uninstall withdraws all configured routes if vr is the VR that
// installed them. Returns true if this call performed the removal.
func (p *Protocols) Uninstall(vr *VirtualRouter) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.installedBy != vr {
		return false
	}
	for _, r := range p.Routes {
		if err := vr.Adapter.DelRoute(r, vr.EffectiveInterface()); err != nil {
			vr.Log.Warnw("failed to withdraw static route", "dest", r.Dest.String(), "error", err)
		}
	}
	p.installedBy = nil
	return true
}
