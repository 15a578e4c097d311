// Package wire serializes DNS queries and parses DNS responses.
//
// Parsing works on untrusted bytes. Every length field is checked
// against the remaining buffer, compression pointers must point
// backward and are chased at most maxPointerChase times, and the
// section counts in the header must match the records actually
// present in the message.
package wire

import (
	"encoding/binary"

	"github.com/ooni/ares/model"
)

// DNS record types understood by this package.
const (
	TypeA     = 1
	TypeNS    = 2
	TypeCNAME = 5
	TypeSOA   = 6
	TypePTR   = 12
	TypeMX    = 15
	TypeTXT   = 16
	TypeAAAA  = 28
	TypeSRV   = 33
	TypeNAPTR = 35
	TypeOPT   = 41
	TypeCAA   = 257
)

// ClassIN is the Internet class. We reject everything else.
const ClassIN = 1

// DNS response codes.
const (
	RcodeSuccess        = 0
	RcodeFormatError    = 1
	RcodeServerFailure  = 2
	RcodeNameError      = 3
	RcodeNotImplemented = 4
	RcodeRefused        = 5
)

// Header flag masks.
const (
	flagResponse           = 0x8000
	flagAuthoritative      = 0x0400
	flagTruncated          = 0x0200
	flagRecursionDesired   = 0x0100
	flagRecursionAvailable = 0x0080
	maskOpcode             = 0x7800
	maskRcode              = 0x000f
)

// headerSize is the fixed size of the DNS message header.
const headerSize = 12

// Question is a single entry of the question section.
type Question struct {
	Class uint16
	Name  string
	Type  uint16
}

// ResourceRecord is a resource record whose RDATA has not been
// interpreted yet. The rdata offsets reference the message buffer
// so that compressed names inside the RDATA can be resolved.
type ResourceRecord struct {
	Class uint16
	Name  string
	TTL   uint32
	Type  uint16

	rdoff int
	rdlen int
}

// Message is a parsed DNS response.
type Message struct {
	Additional         []ResourceRecord
	Answers            []ResourceRecord
	Authoritative      bool
	Authority          []ResourceRecord
	ID                 uint16
	Opcode             int
	Questions          []Question
	Rcode              int
	RecursionAvailable bool
	RecursionDesired   bool
	Response           bool
	Truncated          bool

	buf []byte
}

// QueryID returns the transaction ID of a raw DNS message without
// parsing anything else, or false if the message is too short.
func QueryID(data []byte) (uint16, bool) {
	if len(data) < 2 {
		return 0, false
	}
	return binary.BigEndian.Uint16(data[0:2]), true
}

// ParseReply parses a raw DNS response message.
//
// The returned message retains a reference to data for resolving
// compressed names inside RDATA; the typed extraction methods copy
// everything out, so the caller may reuse data once it has extracted
// the records it cares about.
func ParseReply(data []byte) (*Message, error) {
	if len(data) < headerSize {
		return nil, model.ErrTruncated
	}
	flags := binary.BigEndian.Uint16(data[2:4])
	m := &Message{
		ID:                 binary.BigEndian.Uint16(data[0:2]),
		Response:           flags&flagResponse != 0,
		Opcode:             int(flags&maskOpcode) >> 11,
		Authoritative:      flags&flagAuthoritative != 0,
		Truncated:          flags&flagTruncated != 0,
		RecursionDesired:   flags&flagRecursionDesired != 0,
		RecursionAvailable: flags&flagRecursionAvailable != 0,
		Rcode:              int(flags & maskRcode),
		buf:                data,
	}
	if !m.Response {
		return nil, model.ErrBadResponse
	}
	qdcount := int(binary.BigEndian.Uint16(data[4:6]))
	ancount := int(binary.BigEndian.Uint16(data[6:8]))
	nscount := int(binary.BigEndian.Uint16(data[8:10]))
	arcount := int(binary.BigEndian.Uint16(data[10:12]))
	off := headerSize
	var err error
	for i := 0; i < qdcount; i++ {
		var q Question
		q, off, err = parseQuestion(data, off)
		if err != nil {
			return nil, err
		}
		m.Questions = append(m.Questions, q)
	}
	if m.Answers, off, err = parseSection(data, off, ancount); err != nil {
		return nil, err
	}
	if m.Authority, off, err = parseSection(data, off, nscount); err != nil {
		return nil, err
	}
	if m.Additional, _, err = parseSection(data, off, arcount); err != nil {
		return nil, err
	}
	return m, nil
}

func parseQuestion(data []byte, off int) (Question, int, error) {
	if off >= len(data) {
		return Question{}, 0, model.ErrCountMismatch
	}
	name, off, err := decodeName(data, off)
	if err != nil {
		return Question{}, 0, err
	}
	if off+4 > len(data) {
		return Question{}, 0, model.ErrTruncated
	}
	q := Question{
		Name:  name,
		Type:  binary.BigEndian.Uint16(data[off : off+2]),
		Class: binary.BigEndian.Uint16(data[off+2 : off+4]),
	}
	return q, off + 4, nil
}

func parseSection(data []byte, off, count int) ([]ResourceRecord, int, error) {
	var out []ResourceRecord
	for i := 0; i < count; i++ {
		// The count field promised another record: if the message
		// ends cleanly here the header is lying.
		if off >= len(data) {
			return nil, 0, model.ErrCountMismatch
		}
		rr, next, err := parseRecord(data, off)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, rr)
		off = next
	}
	return out, off, nil
}

func parseRecord(data []byte, off int) (ResourceRecord, int, error) {
	name, off, err := decodeName(data, off)
	if err != nil {
		return ResourceRecord{}, 0, err
	}
	if off+10 > len(data) {
		return ResourceRecord{}, 0, model.ErrTruncated
	}
	rr := ResourceRecord{
		Name:  name,
		Type:  binary.BigEndian.Uint16(data[off : off+2]),
		Class: binary.BigEndian.Uint16(data[off+2 : off+4]),
		TTL:   clampTTL(binary.BigEndian.Uint32(data[off+4 : off+8])),
	}
	rdlen := int(binary.BigEndian.Uint16(data[off+8 : off+10]))
	off += 10
	if off+rdlen > len(data) {
		return ResourceRecord{}, 0, model.ErrTruncated
	}
	rr.rdoff, rr.rdlen = off, rdlen
	return rr, off + rdlen, nil
}

// clampTTL clamps TTLs with the top bit set to zero, as RFC 2181
// section 8 instructs.
func clampTTL(ttl uint32) uint32 {
	if ttl&0x80000000 != 0 {
		return 0
	}
	return ttl
}

func (rr *ResourceRecord) rdata(buf []byte) []byte {
	return buf[rr.rdoff : rr.rdoff+rr.rdlen]
}

// equalASCIIName compares two domain names ignoring ASCII case.
func equalASCIIName(x, y string) bool {
	if len(x) != len(y) {
		return false
	}
	for i := 0; i < len(x); i++ {
		a := x[i]
		b := y[i]
		if 'A' <= a && a <= 'Z' {
			a += 0x20
		}
		if 'A' <= b && b <= 'Z' {
			b += 0x20
		}
		if a != b {
			return false
		}
	}
	return true
}
