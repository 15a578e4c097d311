package ares

import (
	"math/rand"
	"net"
	"time"

	"github.com/ooni/ares/internal/transport"
	"github.com/ooni/ares/internal/wire"
	"github.com/ooni/ares/model"
)

// Channel behaviour flags.
const (
	// FlagUseVC forces every query over TCP.
	FlagUseVC = 1 << iota

	// FlagIgnoreTC delivers truncated UDP responses instead of
	// retrying them over TCP.
	FlagIgnoreTC

	// FlagNoRecurse clears the recursion-desired header bit.
	FlagNoRecurse

	// FlagStayOpen keeps UDP sockets open after their last pending
	// query completes.
	FlagStayOpen

	// FlagNoSearch disables the search-domain list.
	FlagNoSearch

	// FlagNoCheckResp delivers SERVFAIL, NOTIMP and REFUSED
	// responses instead of skipping to the next server.
	FlagNoCheckResp

	// FlagEDNS attaches an EDNS(0) OPT record advertising
	// UDPMaxSize to every query.
	FlagEDNS
)

// Default option values.
const (
	// DefaultTimeout is the default per-attempt timeout.
	DefaultTimeout = 5 * time.Second

	// DefaultTries is the default number of attempts.
	DefaultTries = 3

	// DefaultNDots is the default ndots threshold for the
	// search-domain list.
	DefaultNDots = 1
)

// Options configures a Channel. Servers is the only mandatory
// field. The zero value of every other field selects a default.
type Options struct {
	// Dial OPTIONALLY overrides how sockets are created. Mostly
	// useful for testing. When set, LocalIP and LocalDev are
	// ignored.
	Dial transport.Dialer

	// Domains is the OPTIONAL search-domain list appended to
	// unqualified names.
	Domains []string

	// Flags is the OPTIONAL bitwise OR of the Flag constants.
	Flags int

	// Handler OPTIONALLY receives resolver events.
	Handler model.Handler

	// LocalDev is the OPTIONAL network device to bind sockets to.
	LocalDev string

	// LocalIP is the OPTIONAL local address to bind sockets to.
	LocalIP string

	// NDots is the OPTIONAL minimum number of dots a name needs
	// for us to try it as-is before the search domains.
	NDots int

	// Now OPTIONALLY overrides the clock. Mostly useful for testing.
	Now func() time.Time

	// Rand OPTIONALLY provides the PRNG used to generate query IDs,
	// so tests can be made deterministic. When nil we create a
	// per-channel PRNG seeded from the current time.
	Rand *rand.Rand

	// Servers is the MANDATORY ordered list of nameservers, each
	// an "ip" or "ip:port" endpoint. Port 53 is assumed when the
	// port is missing.
	Servers []string

	// Sortlist is the OPTIONAL list of CIDR preference rules
	// applied to A and AAAA results.
	Sortlist []string

	// Timeout is the OPTIONAL per-attempt timeout. Later attempts
	// back off by doubling it.
	Timeout time.Duration

	// Tries is the OPTIONAL total number of attempts across servers.
	Tries int

	// UDPMaxSize is the OPTIONAL EDNS(0) maximum response size,
	// used when FlagEDNS is set.
	UDPMaxSize uint16
}

// parseServer normalizes a nameserver endpoint, adding the default
// DNS port when missing.
func parseServer(endpoint string) (string, error) {
	host, port, err := net.SplitHostPort(endpoint)
	if err != nil {
		host, port = endpoint, "53"
	}
	if net.ParseIP(host) == nil {
		return "", &model.ConfigError{Option: "nameserver", Reason: endpoint}
	}
	return net.JoinHostPort(host, port), nil
}

func (o *Options) timeout() time.Duration {
	if o.Timeout <= 0 {
		return DefaultTimeout
	}
	return o.Timeout
}

func (o *Options) tries() int {
	if o.Tries <= 0 {
		return DefaultTries
	}
	return o.Tries
}

func (o *Options) ndots() int {
	if o.NDots <= 0 {
		return DefaultNDots
	}
	return o.NDots
}

func (o *Options) udpMaxSize() uint16 {
	if o.UDPMaxSize == 0 {
		return wire.MaxResponseSizeUDP
	}
	return o.UDPMaxSize
}

func (o *Options) dialer() (transport.Dialer, error) {
	if o.Dial != nil {
		return o.Dial, nil
	}
	var localIP net.IP
	if o.LocalIP != "" {
		localIP = net.ParseIP(o.LocalIP)
		if localIP == nil {
			return nil, &model.ConfigError{Option: "local IP", Reason: o.LocalIP}
		}
	}
	return transport.NewDialer(localIP, o.LocalDev), nil
}

func (o *Options) clock() func() time.Time {
	if o.Now != nil {
		return o.Now
	}
	return time.Now
}

func (o *Options) rng() *rand.Rand {
	if o.Rand != nil {
		return o.Rand
	}
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}
