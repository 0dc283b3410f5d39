package sacn

import (
	"fmt"
	"net"
)

// ResolveInterface picks the NIC to join multicast groups on. A name wins
// over a network; both empty returns nil so the kernel chooses.
func ResolveInterface(name, network string) (*net.Interface, error) {
	if name != "" {
		iface, err := net.InterfaceByName(name)
		if err != nil {
			return nil, fmt.Errorf("interface %q: %w", name, err)
		}
		return iface, nil
	}
	if network == "" {
		return nil, nil
	}
	return FindInterface(network)
}

// FindInterface finds the interface with an IPv4 address inside network.
func FindInterface(network string) (*net.Interface, error) {
	_, cidrNet, err := net.ParseCIDR(network)
	if err != nil {
		return nil, fmt.Errorf("bad network %q: %w", network, err)
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("error getting interfaces: %w", err)
	}

	for i := range ifaces {
		addrs, err := ifaces[i].Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok || ipNet.IP.To4() == nil {
				continue
			}
			if cidrNet.Contains(ipNet.IP) {
				return &ifaces[i], nil
			}
		}
	}

	return nil, fmt.Errorf("no interface found in %s", network)
}
