package wire

import (
	"strings"

	"github.com/ooni/ares/model"
)

const (
	// maxLabelLength is the maximum length of a single DNS label.
	maxLabelLength = 63

	// maxNameLength is the maximum length of a full domain name.
	maxNameLength = 255

	// maxPointerChase bounds how many compression pointers we follow
	// while decoding a single name, so that a malicious message
	// cannot make us loop.
	maxPointerChase = 128
)

// appendName appends the label-length-prefixed encoding of name,
// which must already be ASCII. It does not compress.
func appendName(out []byte, name string) ([]byte, error) {
	name = strings.TrimSuffix(name, ".")
	if name == "" {
		return append(out, 0), nil
	}
	if len(name)+2 > maxNameLength {
		return nil, model.ErrBadName
	}
	for _, label := range strings.Split(name, ".") {
		if len(label) == 0 || len(label) > maxLabelLength {
			return nil, model.ErrBadName
		}
		out = append(out, byte(len(label)))
		out = append(out, label...)
	}
	return append(out, 0), nil
}

// decodeName decodes a possibly compressed domain name starting at
// off. It returns the name and the offset of the first byte after
// the name in the uncompressed stream.
//
// Compression pointers must point strictly backward. Together with
// the chase bound this makes decoding O(maxPointerChase) even on
// adversarial input.
func decodeName(data []byte, off int) (string, int, error) {
	var (
		labels  []string
		chased  int
		next    = -1 // offset after the name, set at the first pointer
		nameLen = 0
	)
	for {
		if off >= len(data) {
			return "", 0, model.ErrTruncated
		}
		length := int(data[off])
		switch {
		case length == 0:
			if next < 0 {
				next = off + 1
			}
			return strings.Join(labels, "."), next, nil
		case length&0xc0 == 0xc0:
			if off+1 >= len(data) {
				return "", 0, model.ErrTruncated
			}
			target := (length&0x3f)<<8 | int(data[off+1])
			if target >= off {
				return "", 0, model.ErrBadPointer
			}
			chased++
			if chased > maxPointerChase {
				return "", 0, model.ErrBadPointer
			}
			if next < 0 {
				next = off + 2
			}
			off = target
		case length&0xc0 != 0:
			// 0x40 and 0x80 label types were never standardized.
			return "", 0, model.ErrBadName
		default:
			if off+1+length > len(data) {
				return "", 0, model.ErrTruncated
			}
			nameLen += length + 1
			if nameLen > maxNameLength {
				return "", 0, model.ErrBadName
			}
			labels = append(labels, string(data[off+1:off+1+length]))
			off += 1 + length
		}
	}
}
