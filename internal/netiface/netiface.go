// Package netiface enumerates the network interfaces beacon sockets bind
// to: every interface with a usable IPv4 or IPv6 address, excluding the
// overlay's own virtual subnet and loopback, in the order C2/C3 iterate
// them.
package netiface

import (
	"net"
)

// overlaySubnet is the virtual IPv4 subnet the overlay runner presents on
// the host (10.144.144.0/24); its address is excluded so beacons never
// loop back across the tunnel itself.
var overlaySubnet = &net.IPNet{IP: net.IPv4(10, 144, 144, 0), Mask: net.CIDRMask(24, 32)}

// Addr is one enumerated interface/address pair a beacon socket can bind
// against.
type Addr struct {
	Interface *net.Interface
	IP        net.IP
	IsV4      bool
}

// List returns every non-loopback interface address eligible for beacon
// multicast, IPv4 entries before IPv6.
func List() ([]Addr, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	var v4, v6 []Addr
	for i := range ifaces {
		iface := &ifaces[i]
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagMulticast == 0 {
			continue
		}
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			ip := ipNet.IP
			if ip.IsUnspecified() || ip.IsLoopback() {
				continue
			}
			if overlaySubnet.Contains(ip) {
				continue
			}

			if ip4 := ip.To4(); ip4 != nil {
				v4 = append(v4, Addr{Interface: iface, IP: ip4, IsV4: true})
			} else {
				v6 = append(v6, Addr{Interface: iface, IP: ip, IsV4: false})
			}
		}
	}

	return append(v4, v6...), nil
}
