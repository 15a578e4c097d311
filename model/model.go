// Package model contains the data model. Resolver events are tagged
// with the 16-bit query ID assigned when the query is issued; IDs are
// random and unique among the queries outstanding on a channel.
//
// All events have a Time. This is the time elapsed since the channel
// was created, measured with a monotonic clock.
//
// Results own their decoded fields. Nothing in a result aliases the
// wire buffer the response was parsed from, so the buffer may be
// reused as soon as parsing returns.
package model

import (
	"net"
	"time"
)

// QuerySentEvent is emitted when we hand a query to a socket.
type QuerySentEvent struct {
	Attempt   int
	Name      string
	QueryID   uint16
	Server    string
	Time      time.Duration
	Transport string
	Type      uint16
}

// ResponseEvent is emitted when we receive a reply that matches a
// pending query. Unmatched replies are discarded without events.
type ResponseEvent struct {
	NumAnswers int
	QueryID    uint16
	Rcode      int
	Server     string
	Time       time.Duration
	Truncated  bool
}

// RetryEvent is emitted when a query moves to another server or
// falls back from UDP to TCP.
type RetryEvent struct {
	Attempt   int
	Name      string
	QueryID   uint16
	Reason    string
	Server    string
	Time      time.Duration
	Transport string
}

// QueryDoneEvent is emitted exactly once per query, when its
// completion callback fires.
type QueryDoneEvent struct {
	Error   error
	Name    string
	QueryID uint16
	Time    time.Duration
}

// Event wraps all the possible events. Only one of the fields
// is non-nil in each emitted Event.
type Event struct {
	QueryDone *QueryDoneEvent
	QuerySent *QuerySentEvent
	Response  *ResponseEvent
	Retry     *RetryEvent
}

// Handler handles resolver events.
type Handler interface {
	OnEvent(Event)
}

// SocketID uniquely identifies a socket within a channel. IDs are
// never reused during the lifetime of a channel.
type SocketID int64

// PollSpec tells the caller's event loop what to watch on a socket.
// FD is the underlying descriptor when the socket exposes one, or
// zero for sockets backed by in-memory test connections.
type PollSpec struct {
	FD       uintptr
	Readable bool
	Socket   SocketID
	Writable bool
}

// AddrTTL is a single address with its time to live.
type AddrTTL struct {
	Addr net.IP
	TTL  uint32
}

// AResults is the result of an A lookup.
type AResults struct {
	// Addrs contains the IPv4 addresses, in wire order unless a
	// sortlist reordered them.
	Addrs []AddrTTL

	// Aliases contains the CNAME owner names crossed on the way
	// to the answer, if any.
	Aliases []string

	// Hostname is the name the addresses belong to, i.e. the query
	// name or the target of the last CNAME.
	Hostname string

	// MinTTL is the minimum TTL across Addrs, zero when empty.
	MinTTL uint32
}

// AAAAResults is the result of an AAAA lookup.
type AAAAResults struct {
	Addrs    []AddrTTL
	Aliases  []string
	Hostname string
	MinTTL   uint32
}

// SRVRecord is a single SRV record.
type SRVRecord struct {
	Host     string
	Port     uint16
	Priority uint16
	Weight   uint16
}

// SRVResults is the result of a SRV lookup. Records appear in wire
// order; sorting by priority and weight is left to the caller.
type SRVResults struct {
	Records []SRVRecord
}

// MXRecord is a single MX record.
type MXRecord struct {
	Host       string
	Preference uint16
}

// MXResults is the result of an MX lookup.
type MXResults struct {
	Records []MXRecord
}

// NSResults is the result of an NS lookup.
type NSResults struct {
	Names []string
}

// TXTRecord is a single TXT record. Text contains the character
// strings of the record, one entry per string.
type TXTRecord struct {
	Text []string
}

// TXTResults is the result of a TXT lookup.
type TXTResults struct {
	Records []TXTRecord
}

// PTRResults is the result of a PTR lookup.
type PTRResults struct {
	Names []string
}

// SOAResult is the result of a SOA lookup.
type SOAResult struct {
	Expire     uint32
	Hostmaster string
	MinTTL     uint32
	NSName     string
	Refresh    uint32
	Retry      uint32
	Serial     uint32
}

// NAPTRRecord is a single NAPTR record.
type NAPTRRecord struct {
	Flags       string
	Order       uint16
	Preference  uint16
	Regexp      string
	Replacement string
	Service     string
}

// NAPTRResults is the result of a NAPTR lookup.
type NAPTRResults struct {
	Records []NAPTRRecord
}

// CAARecord is a single CAA record.
type CAARecord struct {
	Critical uint8
	Tag      string
	Value    string
}

// CAAResults is the result of a CAA lookup.
type CAAResults struct {
	Records []CAARecord
}
