// Package config loads the rvrrpd TOML configuration file into the
// plain struct shape of SPEC_FULL.md §6: a global table, a
// `[[vrouter]]` array of tables, and a `[protocols]` table of static
// routes.
//
// Grounded on original_source/src/config.rs's CConfig/VRConfig/
// Timers/Protocols/Static shape and defaulting rules (auth_type
// forcing rfc3768, default priority 100, default advert interval of
// one second); translated from Rust's Option<T>+getter-method pattern
// to Go's exported-field-plus-defaulted-by-Load convention, since Go
// structs don't need a getter per optional field the way serde does.
package config

import (
	"fmt"
	"net"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/e3prom/rvrrpd/internal/authn"
	"github.com/e3prom/rvrrpd/internal/hostnet"
	"github.com/e3prom/rvrrpd/internal/vrrp"
)

// Defaults mirrored from original_source/src/config.rs.
const (
	DefaultPriority       = 100
	DefaultAdvertInterval = 1
	DefaultPIDFile        = "/var/run/rvrrpd.pid"
	DefaultWorkDir        = "/var/run/rvrrpd"
	DefaultLogFile        = "/var/log/rvrrpd.log"
	DefaultErrorLogFile   = "/var/log/rvrrpd-error.log"
)

// Config is the top-level decoded TOML document.
type Config struct {
	Debug      *int        `toml:"debug"`
	TimeZone   string      `toml:"time_zone"`
	TimeFormat string      `toml:"time_format"`
	PID        string      `toml:"pid"`
	WorkingDir string      `toml:"working_dir"`
	MainLog    string      `toml:"main_log"`
	ErrorLog   string      `toml:"error_log"`
	VRouter    []VRConfig  `toml:"vrouter"`
	Protocols  Protocols   `toml:"protocols"`
}

// VRConfig is one `[[vrouter]]` table.
type VRConfig struct {
	Group      byte    `toml:"group"`
	Interface  string  `toml:"interface"`
	VIP        string  `toml:"vip"`
	Priority   *byte   `toml:"priority"`
	Preemption *bool   `toml:"preemption"`
	AuthType   string  `toml:"auth_type"`
	AuthSecret string  `toml:"auth_secret"`
	Timers     Timers  `toml:"timers"`
	RFC3768    *bool   `toml:"rfc3768"`
	NetDrv     string  `toml:"netdrv"`
	IfType     string  `toml:"iftype"`
	VifName    string  `toml:"vif_name"`
	SocketFilter *bool `toml:"socket_filter"`
}

// Timers is the `[vrouter.timers]` sub-table.
type Timers struct {
	Advert byte `toml:"advert"`
}

// Protocols is the `[protocols]` table.
type Protocols struct {
	Static []StaticRoute `toml:"static"`
}

// StaticRoute is one `[[protocols.static]]` entry.
type StaticRoute struct {
	Route  string `toml:"route"`
	Mask   string `toml:"mask"`
	NH     string `toml:"nh"`
	Metric *int16 `toml:"metric"`
	MTU    *int   `toml:"mtu"`
}

// Load reads and decodes the TOML file at path.
func Load(path string) (*Config, error) {
	var c Config
	if _, err := toml.DecodeFile(path, &c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if c.PID == "" {
		c.PID = DefaultPIDFile
	}
	if c.WorkingDir == "" {
		c.WorkingDir = DefaultWorkDir
	}
	if c.MainLog == "" {
		c.MainLog = DefaultLogFile
	}
	if c.ErrorLog == "" {
		c.ErrorLog = DefaultErrorLogFile
	}
	for i := range c.VRouter {
		if err := c.VRouter[i].applyDefaults(); err != nil {
			return nil, fmt.Errorf("config: vrouter[%d]: %w", i, err)
		}
	}
	return &c, nil
}

func (vc *VRConfig) applyDefaults() error {
	if vc.Group < 1 {
		return fmt.Errorf("group must be in [1,255]")
	}
	if vc.VIP == "" {
		return fmt.Errorf("vip is required")
	}
	if net.ParseIP(vc.VIP).To4() == nil {
		return fmt.Errorf("vip %q is not a valid IPv4 address", vc.VIP)
	}
	if vc.Priority == nil {
		p := byte(DefaultPriority)
		vc.Priority = &p
	} else if *vc.Priority < 1 || *vc.Priority > 254 {
		return fmt.Errorf("priority must be in [1,254]")
	}
	if vc.Timers.Advert == 0 {
		vc.Timers.Advert = DefaultAdvertInterval
	}

	// auth_type forces rfc3768 compatibility, per
	// original_source/src/config.rs's rfc3768() getter.
	switch vc.AuthType {
	case "", "none":
	case "rfc2338-simple", "p0-t8-sha256", "p1-b8-shake256":
		if vc.AuthType != "rfc2338-simple" {
			forced := true
			vc.RFC3768 = &forced
		}
	default:
		return fmt.Errorf("unsupported auth_type %q", vc.AuthType)
	}
	if vc.RFC3768 == nil {
		def := true
		vc.RFC3768 = &def
	}
	if vc.NetDrv == "" {
		vc.NetDrv = "netlink"
	}
	if vc.IfType == "" {
		vc.IfType = "ether"
	}
	if vc.IfType == "macvlan" && vc.VifName == "" {
		return fmt.Errorf("vif_name is required when iftype=macvlan")
	}
	return nil
}

var authTypeNames = map[string]authn.Type{
	"":               authn.None,
	"none":           authn.None,
	"rfc2338-simple": authn.Simple,
	"p0-t8-sha256":   authn.P0,
	"p1-b8-shake256": authn.P1,
}

// ToVRRPConfig translates a decoded [[vrouter]] table into the
// internal/vrrp.Config NewVirtualRouter expects.
func (vc VRConfig) ToVRRPConfig() (vrrp.Config, error) {
	vip := net.ParseIP(vc.VIP).To4()
	if vip == nil {
		return vrrp.Config{}, fmt.Errorf("config: vrid %d: invalid vip %q", vc.Group, vc.VIP)
	}
	cfg := vrrp.Config{
		Interface:      vc.Interface,
		VRID:           vc.Group,
		Priority:       *vc.Priority,
		VIP:            vip,
		AdvertInterval: time.Duration(vc.Timers.Advert) * time.Second,
		AuthType:       authTypeNames[vc.AuthType],
		AuthSecret:     vc.AuthSecret,
		VifName:        vc.VifName,
	}
	if vc.Preemption != nil {
		cfg.Preempt = *vc.Preemption
	}
	if vc.RFC3768 != nil {
		cfg.RFC3768Compat = *vc.RFC3768
	}
	if vc.IfType == "macvlan" {
		cfg.IfType = vrrp.MacVlan
	}
	cfg.NetDrv = vrrp.Netlink
	if vc.NetDrv == "ioctl" {
		cfg.NetDrv = vrrp.Ioctl
	}
	if vc.SocketFilter != nil {
		cfg.SocketFilter = *vc.SocketFilter
	}
	return cfg, nil
}

// ToRoutes translates the [protocols] static route table into
// internal/hostnet.Route values.
func (p Protocols) ToRoutes() ([]hostnet.Route, error) {
	routes := make([]hostnet.Route, 0, len(p.Static))
	for i, s := range p.Static {
		dest := net.ParseIP(s.Route).To4()
		if dest == nil {
			return nil, fmt.Errorf("config: protocols.static[%d]: invalid route %q", i, s.Route)
		}
		mask := net.ParseIP(s.Mask).To4()
		if mask == nil {
			return nil, fmt.Errorf("config: protocols.static[%d]: invalid mask %q", i, s.Mask)
		}
		nh := net.ParseIP(s.NH).To4()
		if nh == nil {
			return nil, fmt.Errorf("config: protocols.static[%d]: invalid nh %q", i, s.NH)
		}
		r := hostnet.Route{Dest: dest, Mask: net.IPMask(mask), NextHop: nh}
		if s.Metric != nil {
			r.Metric = int(*s.Metric)
		}
		if s.MTU != nil {
			r.MTU = *s.MTU
		}
		routes = append(routes, r)
	}
	return routes, nil
}
