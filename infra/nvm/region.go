package nvm

import (
	"encoding/binary"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

var pageSize = unix.Getpagesize()

// Kind labels what a region holds.
type Kind uint8

const (
	KindObject Kind = iota + 1 // object header
	KindLog                    // operation log segment
)

func (k Kind) String() string {
	switch k {
	case KindObject:
		return "object"
	case KindLog:
		return "log"
	default:
		return "unknown"
	}
}

// Region is a mapped, fixed-size slice of an identifier's heap.
type Region struct {
	ID     uuid.UUID
	Index  uint32
	Kind   Kind
	Offset int64
	data   []byte
}

// Bytes exposes the mapped memory. Writes are visible immediately but are
// only durable after Flush.
func (r *Region) Bytes() []byte { return r.data }

func (r *Region) Size() int { return len(r.data) }

// Flush makes data[off:off+n] durable.
func (r *Region) Flush(off, n int) error {
	if n <= 0 {
		return nil
	}
	if off < 0 || off+n > len(r.data) {
		return errors.Newf("nvm: flush [%d,%d) outside region of %d bytes", off, off+n, len(r.data))
	}
	start := off &^ (pageSize - 1)
	if err := unix.Msync(r.data[start:off+n], unix.MS_SYNC); err != nil {
		return errors.Wrapf(err, "nvm: msync region %s/%d", r.ID, r.Index)
	}
	return nil
}

// -------------------- Region table --------------------

const regionPrefix = "region/"

type regionRecord struct {
	Kind   Kind
	Offset int64
	Size   int64
}

// binary encoding: [kind:1][offset:8][size:8]
func encodeRegion(r regionRecord) []byte {
	buf := make([]byte, 1+8+8)
	buf[0] = byte(r.Kind)
	binary.BigEndian.PutUint64(buf[1:9], uint64(r.Offset))
	binary.BigEndian.PutUint64(buf[9:17], uint64(r.Size))
	return buf
}

func decodeRegion(b []byte) (regionRecord, error) {
	if len(b) != 17 {
		return regionRecord{}, errors.Wrapf(ErrCorrupt, "region record of %d bytes", len(b))
	}
	return regionRecord{
		Kind:   Kind(b[0]),
		Offset: int64(binary.BigEndian.Uint64(b[1:9])),
		Size:   int64(binary.BigEndian.Uint64(b[9:17])),
	}, nil
}

func regionKey(id uuid.UUID, index uint32) []byte {
	return []byte(fmt.Sprintf("%s%s/%08d", regionPrefix, id, index))
}

func regionBounds(id uuid.UUID) (lower, upper []byte) {
	p := regionPrefix + id.String() + "/"
	return []byte(p), []byte(p + "~")
}

func roundUp(n int) int {
	return (n + pageSize - 1) &^ (pageSize - 1)
}
