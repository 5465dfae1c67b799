package probe

import (
	"fmt"
	"net"
)

// LocalNetwork finds the host's primary IPv4 network: the first
// up, non-loopback interface carrying a private IPv4 address.
// Discovery fails outright when no interface qualifies.
func LocalNetwork() (net.IP, *net.IPNet, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, nil, fmt.Errorf("list interfaces: %w", err)
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			ip := ipnet.IP.To4()
			if ip == nil || !ip.IsPrivate() {
				continue
			}
			return ip, &net.IPNet{IP: ip.Mask(ipnet.Mask), Mask: ipnet.Mask}, nil
		}
	}
	return nil, nil, fmt.Errorf("no usable IPv4 interface found")
}
