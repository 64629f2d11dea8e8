package kv

import (
	"bytes"

	"github.com/cockroachdb/errors"
)

// Variable-length fields are self-delimiting: the field ends at the
// sequence "\x00\x01", and a zero byte inside the data is written as
// "\x00\xff". No length prefix is stored.
const (
	escape      byte = 0x00
	escapedTerm byte = 0x01
	escaped00   byte = 0xff
)

func appendEscaped(dst, data []byte) []byte {
	for {
		i := bytes.IndexByte(data, escape)
		if i == -1 {
			break
		}
		dst = append(dst, data[:i]...)
		dst = append(dst, escape, escaped00)
		data = data[i+1:]
	}
	dst = append(dst, data...)
	return append(dst, escape, escapedTerm)
}

// decodeEscaped returns a fresh copy of the field at the start of b and the
// number of bytes it occupied.
func decodeEscaped(b []byte) ([]byte, int, error) {
	out := make([]byte, 0, 16)
	n := 0
	for {
		i := bytes.IndexByte(b[n:], escape)
		if i == -1 {
			return nil, 0, errors.Wrap(ErrMalformed, "field has no terminator")
		}
		if n+i+1 >= len(b) {
			return nil, 0, errors.Wrap(ErrMalformed, "truncated escape sequence")
		}
		out = append(out, b[n:n+i]...)
		switch b[n+i+1] {
		case escapedTerm:
			return out, n + i + 2, nil
		case escaped00:
			out = append(out, 0)
			n += i + 2
		default:
			return nil, 0, errors.Wrapf(ErrMalformed, "unknown escape %#x", b[n+i+1])
		}
	}
}
