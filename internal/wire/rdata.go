package wire

import (
	"encoding/binary"
	"net"

	"github.com/ooni/ares/model"
)

// The Extract functions interpret the answer section for a specific
// query type. Records of other types are skipped, not errors, since
// servers routinely add CNAMEs and unrelated glue. Records of the
// requested type carrying a class other than IN are rejected.
//
// Every extractor copies the decoded fields out of the message
// buffer, so results never alias the receive buffer.

// questionName returns the name asked in the first question.
func (m *Message) questionName() string {
	if len(m.Questions) < 1 {
		return ""
	}
	return TrimFQDN(m.Questions[0].Name)
}

// ExtractA extracts the result of an A lookup.
func (m *Message) ExtractA() (*model.AResults, error) {
	addrs, aliases, hostname, err := m.extractAddrs(TypeA, net.IPv4len)
	if err != nil {
		return nil, err
	}
	return &model.AResults{
		Addrs:    addrs,
		Aliases:  aliases,
		Hostname: hostname,
		MinTTL:   minTTL(addrs),
	}, nil
}

// ExtractAAAA extracts the result of an AAAA lookup.
func (m *Message) ExtractAAAA() (*model.AAAAResults, error) {
	addrs, aliases, hostname, err := m.extractAddrs(TypeAAAA, net.IPv6len)
	if err != nil {
		return nil, err
	}
	return &model.AAAAResults{
		Addrs:    addrs,
		Aliases:  aliases,
		Hostname: hostname,
		MinTTL:   minTTL(addrs),
	}, nil
}

// extractAddrs walks the answer section following the CNAME chain
// from the question name, collecting address records that belong to
// the current name in the chain.
func (m *Message) extractAddrs(qtype uint16, addrlen int) (
	addrs []model.AddrTTL, aliases []string, hostname string, err error) {
	hostname = m.questionName()
	for i := range m.Answers {
		rr := &m.Answers[i]
		switch rr.Type {
		case TypeCNAME:
			if !equalASCIIName(TrimFQDN(rr.Name), hostname) || rr.Class != ClassIN {
				continue
			}
			target, _, err := decodeName(m.buf, rr.rdoff)
			if err != nil {
				return nil, nil, "", err
			}
			aliases = append(aliases, TrimFQDN(rr.Name))
			hostname = TrimFQDN(target)
		case qtype:
			if !equalASCIIName(TrimFQDN(rr.Name), hostname) {
				continue
			}
			if rr.Class != ClassIN {
				return nil, nil, "", model.ErrBadClass
			}
			data := rr.rdata(m.buf)
			if len(data) != addrlen {
				return nil, nil, "", model.ErrBadResponse
			}
			ip := make(net.IP, addrlen)
			copy(ip, data)
			addrs = append(addrs, model.AddrTTL{Addr: ip, TTL: rr.TTL})
		}
	}
	if len(addrs) < 1 {
		return nil, nil, "", model.ErrNoData
	}
	return addrs, aliases, hostname, nil
}

func minTTL(addrs []model.AddrTTL) uint32 {
	if len(addrs) < 1 {
		return 0
	}
	min := addrs[0].TTL
	for _, a := range addrs[1:] {
		if a.TTL < min {
			min = a.TTL
		}
	}
	return min
}

// ExtractSRV extracts the result of a SRV lookup. Records are
// returned in wire order.
func (m *Message) ExtractSRV() (*model.SRVResults, error) {
	out := &model.SRVResults{}
	err := m.eachAnswer(TypeSRV, func(rr *ResourceRecord) error {
		data := rr.rdata(m.buf)
		if len(data) < 6 {
			return model.ErrTruncated
		}
		host, err := m.rdataName(rr, 6)
		if err != nil {
			return err
		}
		out.Records = append(out.Records, model.SRVRecord{
			Priority: binary.BigEndian.Uint16(data[0:2]),
			Weight:   binary.BigEndian.Uint16(data[2:4]),
			Port:     binary.BigEndian.Uint16(data[4:6]),
			Host:     host,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ExtractMX extracts the result of an MX lookup.
func (m *Message) ExtractMX() (*model.MXResults, error) {
	out := &model.MXResults{}
	err := m.eachAnswer(TypeMX, func(rr *ResourceRecord) error {
		data := rr.rdata(m.buf)
		if len(data) < 2 {
			return model.ErrTruncated
		}
		host, err := m.rdataName(rr, 2)
		if err != nil {
			return err
		}
		out.Records = append(out.Records, model.MXRecord{
			Preference: binary.BigEndian.Uint16(data[0:2]),
			Host:       host,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ExtractNS extracts the result of an NS lookup.
func (m *Message) ExtractNS() (*model.NSResults, error) {
	out := &model.NSResults{}
	err := m.eachAnswer(TypeNS, func(rr *ResourceRecord) error {
		name, err := m.rdataName(rr, 0)
		if err != nil {
			return err
		}
		out.Names = append(out.Names, name)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ExtractPTR extracts the result of a PTR lookup.
func (m *Message) ExtractPTR() (*model.PTRResults, error) {
	out := &model.PTRResults{}
	err := m.eachAnswer(TypePTR, func(rr *ResourceRecord) error {
		name, err := m.rdataName(rr, 0)
		if err != nil {
			return err
		}
		out.Names = append(out.Names, name)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ExtractTXT extracts the result of a TXT lookup. Each record's
// character strings are kept separate.
func (m *Message) ExtractTXT() (*model.TXTResults, error) {
	out := &model.TXTResults{}
	err := m.eachAnswer(TypeTXT, func(rr *ResourceRecord) error {
		data := rr.rdata(m.buf)
		var txt model.TXTRecord
		for off := 0; off < len(data); {
			n := int(data[off])
			off++
			if off+n > len(data) {
				return model.ErrTruncated
			}
			txt.Text = append(txt.Text, string(data[off:off+n]))
			off += n
		}
		out.Records = append(out.Records, txt)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ExtractSOA extracts the result of a SOA lookup. Servers return the
// SOA either in the answer section or, for negative answers, in the
// authority section; we accept both, preferring the answer section.
func (m *Message) ExtractSOA() (*model.SOAResult, error) {
	for _, section := range [][]ResourceRecord{m.Answers, m.Authority} {
		for i := range section {
			rr := &section[i]
			if rr.Type != TypeSOA {
				continue
			}
			if rr.Class != ClassIN {
				return nil, model.ErrBadClass
			}
			return m.extractSOARecord(rr)
		}
	}
	return nil, model.ErrNoData
}

func (m *Message) extractSOARecord(rr *ResourceRecord) (*model.SOAResult, error) {
	end := rr.rdoff + rr.rdlen
	nsname, off, err := decodeName(m.buf, rr.rdoff)
	if err != nil {
		return nil, err
	}
	hostmaster, off, err := decodeName(m.buf, off)
	if err != nil {
		return nil, err
	}
	if off+20 > end {
		return nil, model.ErrTruncated
	}
	return &model.SOAResult{
		NSName:     TrimFQDN(nsname),
		Hostmaster: TrimFQDN(hostmaster),
		Serial:     binary.BigEndian.Uint32(m.buf[off : off+4]),
		Refresh:    binary.BigEndian.Uint32(m.buf[off+4 : off+8]),
		Retry:      binary.BigEndian.Uint32(m.buf[off+8 : off+12]),
		Expire:     binary.BigEndian.Uint32(m.buf[off+12 : off+16]),
		MinTTL:     binary.BigEndian.Uint32(m.buf[off+16 : off+20]),
	}, nil
}

// ExtractNAPTR extracts the result of a NAPTR lookup.
func (m *Message) ExtractNAPTR() (*model.NAPTRResults, error) {
	out := &model.NAPTRResults{}
	err := m.eachAnswer(TypeNAPTR, func(rr *ResourceRecord) error {
		data := rr.rdata(m.buf)
		if len(data) < 4 {
			return model.ErrTruncated
		}
		rec := model.NAPTRRecord{
			Order:      binary.BigEndian.Uint16(data[0:2]),
			Preference: binary.BigEndian.Uint16(data[2:4]),
		}
		off := 4
		var err error
		if rec.Flags, off, err = charString(data, off); err != nil {
			return err
		}
		if rec.Service, off, err = charString(data, off); err != nil {
			return err
		}
		if rec.Regexp, off, err = charString(data, off); err != nil {
			return err
		}
		replacement, next, err := decodeName(m.buf, rr.rdoff+off)
		if err != nil {
			return err
		}
		if next > rr.rdoff+rr.rdlen {
			return model.ErrTruncated
		}
		rec.Replacement = TrimFQDN(replacement)
		out.Records = append(out.Records, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ExtractCAA extracts the result of a CAA lookup.
func (m *Message) ExtractCAA() (*model.CAAResults, error) {
	out := &model.CAAResults{}
	err := m.eachAnswer(TypeCAA, func(rr *ResourceRecord) error {
		data := rr.rdata(m.buf)
		if len(data) < 2 {
			return model.ErrTruncated
		}
		// RFC 8659 § 4.1: tags are 1 to 15 bytes.
		taglen := int(data[1])
		if taglen < 1 || taglen > 15 {
			return model.ErrBadResponse
		}
		if 2+taglen > len(data) {
			return model.ErrTruncated
		}
		out.Records = append(out.Records, model.CAARecord{
			Critical: data[0],
			Tag:      string(data[2 : 2+taglen]),
			Value:    string(data[2+taglen:]),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// HasAnswerType reports whether any answer carries the given type.
func (m *Message) HasAnswerType(qtype uint16) bool {
	for i := range m.Answers {
		if m.Answers[i].Type == qtype {
			return true
		}
	}
	return false
}

// eachAnswer invokes fn for each answer of the given type, skipping
// answers of other types and failing on non-IN classes. It returns
// ErrNoData when no answer matched.
func (m *Message) eachAnswer(qtype uint16, fn func(*ResourceRecord) error) error {
	found := 0
	for i := range m.Answers {
		rr := &m.Answers[i]
		if rr.Type != qtype {
			continue
		}
		if rr.Class != ClassIN {
			return model.ErrBadClass
		}
		if err := fn(rr); err != nil {
			return err
		}
		found++
	}
	if found < 1 {
		return model.ErrNoData
	}
	return nil
}

// rdataName decodes the compressed name starting at the given offset
// inside the record's RDATA. The name's own bytes must not run past
// RDLENGTH into the following record.
func (m *Message) rdataName(rr *ResourceRecord, off int) (string, error) {
	if off > rr.rdlen {
		return "", model.ErrTruncated
	}
	name, next, err := decodeName(m.buf, rr.rdoff+off)
	if err != nil {
		return "", err
	}
	if next > rr.rdoff+rr.rdlen {
		return "", model.ErrTruncated
	}
	return TrimFQDN(name), nil
}

// charString reads a single length-prefixed character string.
func charString(data []byte, off int) (string, int, error) {
	if off >= len(data) {
		return "", 0, model.ErrTruncated
	}
	n := int(data[off])
	off++
	if off+n > len(data) {
		return "", 0, model.ErrTruncated
	}
	return string(data[off : off+n]), off + n, nil
}
