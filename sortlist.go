package ares

import (
	"net"
	"sort"
	"strings"

	"github.com/ooni/ares/model"
)

// sortPattern is a single CIDR preference rule of the sortlist.
type sortPattern struct {
	ipnet *net.IPNet
}

// parseSortlist parses sortlist entries. Each entry is either a
// CIDR ("192.0.2.0/24") or a bare address, which matches exactly.
func parseSortlist(items []string) ([]sortPattern, error) {
	var out []sortPattern
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if strings.Contains(item, "/") {
			_, ipnet, err := net.ParseCIDR(item)
			if err != nil {
				return nil, &model.ConfigError{Option: "sortlist", Reason: item}
			}
			out = append(out, sortPattern{ipnet: ipnet})
			continue
		}
		ip := net.ParseIP(item)
		if ip == nil {
			return nil, &model.ConfigError{Option: "sortlist", Reason: item}
		}
		bits := 8 * net.IPv6len
		if ip.To4() != nil {
			ip = ip.To4()
			bits = 8 * net.IPv4len
		}
		out = append(out, sortPattern{ipnet: &net.IPNet{
			IP:   ip,
			Mask: net.CIDRMask(bits, bits),
		}})
	}
	return out, nil
}

// sortAddrs reorders addrs so that addresses matching an earlier
// sortlist rule come first. The sort is stable, so addresses with
// the same preference keep their wire order. Without a sortlist the
// input is returned unchanged.
func (ch *Channel) sortAddrs(addrs []model.AddrTTL) []model.AddrTTL {
	if len(ch.sortlist) == 0 {
		return addrs
	}
	rank := func(ip net.IP) int {
		for i, pattern := range ch.sortlist {
			if pattern.ipnet.Contains(ip) {
				return i
			}
		}
		return len(ch.sortlist)
	}
	sort.SliceStable(addrs, func(i, j int) bool {
		return rank(addrs[i].Addr) < rank(addrs[j].Addr)
	})
	return addrs
}
