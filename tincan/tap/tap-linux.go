//go:build linux

/* Tincan - IPOP overlay link and frame-routing daemon
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package tap

import (
	"fmt"
	"io"
	"net"

	"github.com/ipop-project/tincan/tincan/defn"
	"github.com/songgao/water"
	"golang.org/x/sys/unix"
)

// ifControl issues interface ioctls through an AF_INET datagram socket.
type ifControl struct {
	name string
	fd   int
}

func openPlatform(desc Descriptor) (io.ReadWriteCloser, controller, defn.MacAddress, error) {
	var mac defn.MacAddress

	ifce, err := water.New(water.Config{
		DeviceType:             water.TAP,
		PlatformSpecificParams: water.PlatformSpecificParams{Name: desc.Name},
	})
	if err != nil {
		return nil, nil, mac, err
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		ifce.Close()
		return nil, nil, mac, err
	}
	ctl := &ifControl{name: ifce.Name(), fd: fd}

	if err := ctl.configure(desc); err != nil {
		ctl.Close()
		ifce.Close()
		return nil, nil, mac, err
	}

	iface, err := net.InterfaceByName(ctl.name)
	if err == nil {
		mac, err = defn.MacFromBytes(iface.HardwareAddr)
	}
	if err != nil {
		ctl.Close()
		ifce.Close()
		return nil, nil, mac, fmt.Errorf("read hardware address of %s: %w", ctl.name, err)
	}
	return ifce, ctl, mac, nil
}

func (c *ifControl) configure(desc Descriptor) error {
	if desc.MTU4 > 0 {
		ifr, err := unix.NewIfreq(c.name)
		if err != nil {
			return err
		}
		ifr.SetUint32(uint32(desc.MTU4))
		if err := unix.IoctlIfreq(c.fd, unix.SIOCSIFMTU, ifr); err != nil {
			return fmt.Errorf("set mtu %d: %w", desc.MTU4, err)
		}
	}

	if desc.IP4 == "" {
		return nil
	}
	ip := net.ParseIP(desc.IP4).To4()
	if ip == nil {
		return fmt.Errorf("%w: ip4 %q", defn.ErrDecode, desc.IP4)
	}
	ifr, err := unix.NewIfreq(c.name)
	if err != nil {
		return err
	}
	if err := ifr.SetInet4Addr(ip); err != nil {
		return err
	}
	if err := unix.IoctlIfreq(c.fd, unix.SIOCSIFADDR, ifr); err != nil {
		return fmt.Errorf("set address %s: %w", ip, err)
	}

	if desc.PrefixLen4 > 0 {
		mask := net.CIDRMask(desc.PrefixLen4, 32)
		ifr, err := unix.NewIfreq(c.name)
		if err != nil {
			return err
		}
		if err := ifr.SetInet4Addr(mask); err != nil {
			return err
		}
		if err := unix.IoctlIfreq(c.fd, unix.SIOCSIFNETMASK, ifr); err != nil {
			return fmt.Errorf("set prefix /%d: %w", desc.PrefixLen4, err)
		}
	}
	return nil
}

func (c *ifControl) SetUp(up bool) error {
	ifr, err := unix.NewIfreq(c.name)
	if err != nil {
		return err
	}
	if err := unix.IoctlIfreq(c.fd, unix.SIOCGIFFLAGS, ifr); err != nil {
		return err
	}
	flags := ifr.Uint16()
	if up {
		flags |= unix.IFF_UP | unix.IFF_RUNNING
	} else {
		flags &^= unix.IFF_UP
	}
	ifr.SetUint16(flags)
	return unix.IoctlIfreq(c.fd, unix.SIOCSIFFLAGS, ifr)
}

func (c *ifControl) Close() error {
	return unix.Close(c.fd)
}
