//go:build linux

package hostnet

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// SetPromisc toggles IFF_PROMISC on iface via SIOCGIFFLAGS/SIOCSIFFLAGS,
// so the kernel delivers multicast VRRP frames (dst 01:00:5E:00:00:12)
// to the raw socket opened in raw.go.
//
// Grounded on original_source/src/linux_netdev.rs's
// set_if_promiscuous, translated from raw ioctl(2) calls over a
// socket fd to golang.org/x/sys/unix's typed ifreq helpers.
func (a *LinuxAdapter) SetPromisc(iface string, on bool) error {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	if err != nil {
		return fmt.Errorf("hostnet: open control socket: %w", err)
	}
	defer unix.Close(fd)

	ifr, err := unix.NewIfreq(iface)
	if err != nil {
		return fmt.Errorf("hostnet: build ifreq for %s: %w", iface, err)
	}
	if err := unix.IoctlIfreq(fd, unix.SIOCGIFFLAGS, ifr); err != nil {
		return fmt.Errorf("hostnet: SIOCGIFFLAGS on %s: %w", iface, err)
	}

	flags := ifr.Uint16()
	if on {
		flags |= unix.IFF_PROMISC
	} else {
		flags &^= unix.IFF_PROMISC
	}
	ifr.SetUint16(flags)

	if err := unix.IoctlIfreq(fd, unix.SIOCSIFFLAGS, ifr); err != nil {
		return fmt.Errorf("hostnet: SIOCSIFFLAGS on %s: %w", iface, err)
	}
	return nil
}
