package discovery

import (
	"net"
	"sort"
)

// SortIPsByPreference orders addresses for a LAN peer, most preferred
// first:
//  1. Private IPv4 (10/8, 172.16/12, 192.168/16)
//  2. IPv6 unique local (fc00::/7)
//  3. Other unicast (global IPv6, public IPv4)
//  4. IPv6 link-local (needs a zone to dial)
//  5. Loopback, multicast and unspecified
//
// The sort is stable and the input is not modified.
func SortIPsByPreference(ips []net.IP) []net.IP {
	if len(ips) <= 1 {
		return ips
	}
	sorted := make([]net.IP, len(ips))
	copy(sorted, ips)
	sort.SliceStable(sorted, func(i, j int) bool {
		return ipPriority(sorted[i]) < ipPriority(sorted[j])
	})
	return sorted
}

// ipPriority returns the priority of an address (lower is better).
func ipPriority(ip net.IP) int {
	if ip.To16() == nil {
		return 99
	}
	switch {
	case ip.IsLoopback(), ip.IsMulticast(), ip.IsUnspecified():
		return 90
	case ip.To4() != nil && ip.IsPrivate():
		return 0
	case isUniqueLocal(ip):
		return 1
	case ip.IsLinkLocalUnicast():
		return 20
	case ip.IsGlobalUnicast():
		return 10
	}
	return 50
}

// isUniqueLocal reports whether ip is an IPv6 unique local address.
func isUniqueLocal(ip net.IP) bool {
	if ip.To4() != nil {
		return false
	}
	ip = ip.To16()
	return ip != nil && (ip[0] == 0xfc || ip[0] == 0xfd)
}

// FilterIPv6 returns only IPv6 addresses from the slice.
func FilterIPv6(ips []net.IP) []net.IP {
	var result []net.IP
	for _, ip := range ips {
		if ip.To4() == nil && ip.To16() != nil {
			result = append(result, ip)
		}
	}
	return result
}

// FilterIPv4 returns only IPv4 addresses from the slice.
func FilterIPv4(ips []net.IP) []net.IP {
	var result []net.IP
	for _, ip := range ips {
		if ip.To4() != nil {
			result = append(result, ip)
		}
	}
	return result
}

// dialable drops addresses that cannot be dialed without more context.
func dialable(ips []net.IP) []net.IP {
	var result []net.IP
	for _, ip := range ips {
		if ipPriority(ip) < 20 {
			result = append(result, ip)
		}
	}
	return result
}

// GetLocalAddresses returns all non-loopback addresses on up interfaces.
func GetLocalAddresses() ([]net.IP, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	var addresses []net.IP
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			var ip net.IP
			switch v := addr.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}
			if ip != nil && !ip.IsLoopback() {
				addresses = append(addresses, ip)
			}
		}
	}
	return addresses, nil
}
