// Package names contains address and name utilities: conversion of
// IP addresses to and from their DNS wire forms, construction of
// reverse lookup names, and hostname validation.
package names

import (
	"fmt"
	"net"
	"strings"

	"github.com/ooni/ares/model"
)

// ParseIPv4 parses a dotted-quad IPv4 address into its 4-byte wire form.
func ParseIPv4(s string) ([]byte, error) {
	ip := net.ParseIP(s)
	if ip == nil || ip.To4() == nil {
		return nil, &model.ConfigError{Option: "IPv4 address", Reason: s}
	}
	out := make([]byte, net.IPv4len)
	copy(out, ip.To4())
	return out, nil
}

// FormatIPv4 formats a 4-byte wire form IPv4 address.
func FormatIPv4(wire []byte) (string, error) {
	if len(wire) != net.IPv4len {
		return "", &model.ConfigError{Option: "IPv4 wire form", Reason: "not 4 bytes"}
	}
	return net.IP(wire).String(), nil
}

// ParseIPv6 parses an IPv6 address into its 16-byte wire form.
func ParseIPv6(s string) ([]byte, error) {
	ip := net.ParseIP(s)
	if ip == nil || ip.To4() != nil || ip.To16() == nil {
		return nil, &model.ConfigError{Option: "IPv6 address", Reason: s}
	}
	out := make([]byte, net.IPv6len)
	copy(out, ip.To16())
	return out, nil
}

// FormatIPv6 formats a 16-byte wire form IPv6 address.
func FormatIPv6(wire []byte) (string, error) {
	if len(wire) != net.IPv6len {
		return "", &model.ConfigError{Option: "IPv6 wire form", Reason: "not 16 bytes"}
	}
	return net.IP(wire).String(), nil
}

// ReverseName returns the reverse lookup domain name for the given
// address: the in-addr.arpa form for IPv4 and the nibble-reversed
// ip6.arpa form for IPv6.
func ReverseName(ip net.IP) (string, error) {
	if ip4 := ip.To4(); ip4 != nil {
		return fmt.Sprintf("%d.%d.%d.%d.in-addr.arpa",
			ip4[3], ip4[2], ip4[1], ip4[0]), nil
	}
	ip16 := ip.To16()
	if ip16 == nil {
		return "", &model.ConfigError{Option: "IP address", Reason: "not IPv4 or IPv6"}
	}
	const hexdigits = "0123456789abcdef"
	var sb strings.Builder
	for i := net.IPv6len - 1; i >= 0; i-- {
		sb.WriteByte(hexdigits[ip16[i]&0x0f])
		sb.WriteByte('.')
		sb.WriteByte(hexdigits[ip16[i]>>4])
		sb.WriteByte('.')
	}
	sb.WriteString("ip6.arpa")
	return sb.String(), nil
}

// ValidateHostname checks name against the DNS length limits: each
// label must be between 1 and 63 bytes and the whole name must not
// exceed 255 bytes. Oversized names are rejected, never truncated.
// A single trailing dot is accepted.
func ValidateHostname(name string) error {
	name = strings.TrimSuffix(name, ".")
	if name == "" {
		return model.ErrBadName
	}
	// The 255 byte wire limit includes one length byte per label
	// plus the final root byte.
	if len(name)+2 > 255 {
		return model.ErrBadName
	}
	for _, label := range strings.Split(name, ".") {
		if len(label) == 0 || len(label) > 63 {
			return model.ErrBadName
		}
	}
	return nil
}
