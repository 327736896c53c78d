package config

import (
	"net"
	"strings"
)

// ShouldForceRelay checks if the system is likely behind a restrictive VPN or
// CGNAT, where direct candidates rarely work and a TURN relay should be forced.
func ShouldForceRelay() bool {
	interfaces, err := net.Interfaces()
	if err != nil {
		return false
	}
	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		var ips []net.IP
		if addrs, err := iface.Addrs(); err == nil {
			for _, addr := range addrs {
				switch v := addr.(type) {
				case *net.IPNet:
					ips = append(ips, v.IP)
				case *net.IPAddr:
					ips = append(ips, v.IP)
				}
			}
		}
		if restrictiveInterface(iface.Name, ips) {
			return true
		}
	}
	return false
}

// cgnatBlock covers Carrier Grade NAT, Tailscale and Cloudflare WARP.
var cgnatBlock = &net.IPNet{IP: net.IPv4(100, 64, 0, 0), Mask: net.CIDRMask(10, 32)}

var tunnelPrefixes = []string{"tun", "tap", "wg", "ppp", "warp", "utun"}

func restrictiveInterface(name string, ips []net.IP) bool {
	name = strings.ToLower(name)
	for _, p := range tunnelPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	for _, ip := range ips {
		if cgnatBlock.Contains(ip) {
			return true
		}
	}
	return false
}
