package oplog

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
)

// TagSize is the width of the tag field that opens every entry.
const TagSize = 8

// MaxSlots bounds the number of fields a single entry may stage.
const MaxSlots = 5

// Tag names a mutating operation variant.
type Tag uint64

// AppendTag appends the wire form of t to dst.
func AppendTag(dst []byte, t Tag) []byte {
	return binary.LittleEndian.AppendUint64(dst, uint64(t))
}

// ReadTag decodes the tag at the start of b.
func ReadTag(b []byte) (Tag, bool) {
	if len(b) < TagSize {
		return 0, false
	}
	return Tag(binary.LittleEndian.Uint64(b)), true
}

// ArgVector stages the fields of one entry. Slots reference caller memory;
// nothing is copied until Log.Append. Slot 0 holds the tag.
type ArgVector struct {
	slots [MaxSlots][]byte
	n     int
}

// Add stages b as the next field. Exceeding MaxSlots is a programming error.
func (v *ArgVector) Add(b []byte) {
	if v.n == MaxSlots {
		panic(errors.AssertionFailedf("oplog: argument vector holds at most %d slots", MaxSlots))
	}
	v.slots[v.n] = b
	v.n++
}

func (v *ArgVector) Slots() int { return v.n }

func (v *ArgVector) Slot(i int) []byte { return v.slots[i] }

// Len is the encoded size of the staged entry.
func (v *ArgVector) Len() int {
	n := 0
	for i := 0; i < v.n; i++ {
		n += len(v.slots[i])
	}
	return n
}

// Tag reads the tag staged in slot 0.
func (v *ArgVector) Tag() (Tag, bool) {
	if v.n == 0 {
		return 0, false
	}
	return ReadTag(v.slots[0])
}

func (v *ArgVector) Reset() {
	for i := range v.slots {
		v.slots[i] = nil
	}
	v.n = 0
}
