package wire

import (
	"encoding/binary"
	"strings"

	"golang.org/x/net/idna"
)

// MaxResponseSizeUDP is the default maximum response size we ask
// for over UDP using EDNS(0), consistent with what the standard
// library uses.
const MaxResponseSizeUDP = 1232

// QuerySpec describes how to serialize a query.
type QuerySpec struct {
	// ID is the 16-bit transaction ID.
	ID uint16

	// Name is the domain name to ask about.
	Name string

	// RecursionDesired sets the RD header bit.
	RecursionDesired bool

	// Type is the record type to ask for.
	Type uint16

	// UDPSize, when nonzero, attaches an EDNS(0) OPT record
	// advertising this maximum response size.
	UDPSize uint16
}

// AppendQuery serializes the query described by spec, appending it
// to out. The name is converted to ASCII with IDNA first.
func AppendQuery(out []byte, spec *QuerySpec) ([]byte, error) {
	name, err := ASCIIName(spec.Name)
	if err != nil {
		return nil, err
	}
	var flags uint16
	if spec.RecursionDesired {
		flags |= flagRecursionDesired
	}
	arcount := uint16(0)
	if spec.UDPSize > 0 {
		arcount = 1
	}
	var hdr [headerSize]byte
	binary.BigEndian.PutUint16(hdr[0:2], spec.ID)
	binary.BigEndian.PutUint16(hdr[2:4], flags)
	binary.BigEndian.PutUint16(hdr[4:6], 1) // qdcount
	binary.BigEndian.PutUint16(hdr[10:12], arcount)
	out = append(out, hdr[:]...)
	if out, err = appendName(out, name); err != nil {
		return nil, err
	}
	out = binary.BigEndian.AppendUint16(out, spec.Type)
	out = binary.BigEndian.AppendUint16(out, ClassIN)
	if spec.UDPSize > 0 {
		// EDNS(0) OPT pseudo-record: root name, type OPT, the
		// requestor's payload size in the class field, zeroed
		// extended flags, empty RDATA.
		out = append(out, 0)
		out = binary.BigEndian.AppendUint16(out, TypeOPT)
		out = binary.BigEndian.AppendUint16(out, spec.UDPSize)
		out = binary.BigEndian.AppendUint32(out, 0)
		out = binary.BigEndian.AppendUint16(out, 0)
	}
	return out, nil
}

// ASCIIName converts name to its ASCII form using IDNA. Names that
// are already ASCII pass through unchanged, so underscore labels
// used by SRV and NAPTR queries survive the conversion.
func ASCIIName(name string) (string, error) {
	if isASCII(name) {
		return name, nil
	}
	return idna.ToASCII(name)
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}

// TrimFQDN removes the trailing dot of a fully qualified name.
func TrimFQDN(name string) string {
	return strings.TrimSuffix(name, ".")
}
