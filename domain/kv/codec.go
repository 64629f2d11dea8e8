package kv

import (
	"github.com/cockroachdb/errors"

	"github.com/NVSL/rocksdb/infra/oplog"
)

// Entry layouts, after the 8-byte tag. opts is one flags byte (bit 0: sync),
// esc(x) is an escaped, self-terminated field.
//
//	Put, Merge:                opts esc(key) esc(value)
//	PutCF, MergeCF:            opts esc(cf) esc(key) esc(value)
//	Delete, SingleDelete:      opts esc(key)
//	DeleteCF, SingleDeleteCF:  opts esc(cf) esc(key)
//	DeleteRangeCF:             opts esc(cf) esc(begin) esc(end)
//	WriteBatch:                opts {tag fields}* [tag 0]

const optSync byte = 1 << 0

// Encoder stages operations into an ArgVector. The vector aliases the
// encoder's buffer and is valid until the next Marshal or Reset.
type Encoder struct {
	buf   []byte
	ends  []int
	depth int
	vec   oplog.ArgVector
}

func NewEncoder() *Encoder {
	return &Encoder{buf: make([]byte, 0, 256), ends: make([]int, 0, oplog.MaxSlots)}
}

func (e *Encoder) Reset() {
	e.buf = e.buf[:0]
	e.ends = e.ends[:0]
	e.depth = 0
	e.vec.Reset()
}

// Marshal encodes op. Operations without a marshaling rule panic with an
// assertion failure wrapping ErrUnsupported.
func (e *Encoder) Marshal(op Op) *oplog.ArgVector {
	e.Reset()
	e.op(op)

	start := 0
	for _, end := range e.ends {
		e.vec.Add(e.buf[start:end])
		start = end
	}
	return &e.vec
}

// Size is the exact number of log bytes op occupies, tag included.
func Size(op Op) int {
	return NewEncoder().Marshal(op).Len()
}

func (e *Encoder) op(op Op) {
	e.buf = oplog.AppendTag(e.buf, op.Tag())
	e.mark()

	switch op := op.(type) {
	case Put:
		e.options(op.Options)
		e.bytes(op.Key)
		e.bytes(op.Value)
	case PutCF:
		e.options(op.Options)
		e.bytes([]byte(op.Family))
		e.bytes(op.Key)
		e.bytes(op.Value)
	case Delete:
		e.options(op.Options)
		e.bytes(op.Key)
	case DeleteCF:
		e.options(op.Options)
		e.bytes([]byte(op.Family))
		e.bytes(op.Key)
	case SingleDelete:
		e.options(op.Options)
		e.bytes(op.Key)
	case SingleDeleteCF:
		e.options(op.Options)
		e.bytes([]byte(op.Family))
		e.bytes(op.Key)
	case DeleteRangeCF:
		e.options(op.Options)
		e.bytes([]byte(op.Family))
		e.bytes(op.Begin)
		e.bytes(op.End)
	case Merge:
		e.options(op.Options)
		e.bytes(op.Key)
		e.bytes(op.Value)
	case MergeCF:
		e.options(op.Options)
		e.bytes([]byte(op.Family))
		e.bytes(op.Key)
		e.bytes(op.Value)
	case WriteBatch:
		if e.depth > 0 {
			panic(unsupported(op))
		}
		e.options(op.Options)
		e.depth++
		for _, sub := range op.Ops {
			e.op(sub)
		}
		e.buf = oplog.AppendTag(e.buf, tagEndBatch)
		e.depth--
		e.mark()
	default:
		panic(unsupported(op))
	}
}

func (e *Encoder) options(o WriteOptions) {
	var flags byte
	if o.Sync {
		flags |= optSync
	}
	e.buf = append(e.buf, flags)
	e.mark()
}

func (e *Encoder) bytes(b []byte) {
	e.buf = appendEscaped(e.buf, b)
	e.mark()
}

// mark closes the current slot. Nested batch entries collapse into the
// batch body slot.
func (e *Encoder) mark() {
	if e.depth == 0 {
		e.ends = append(e.ends, len(e.buf))
	}
}

func unsupported(op Op) error {
	return errors.WithAssertionFailure(errors.Wrapf(ErrUnsupported, "%T (tag %d)", op, op.Tag()))
}

// -------------------- Decode --------------------

// Decode is the inverse of Marshal: raw holds the bytes following tag. It
// returns the operation and how many bytes of raw it occupied. Unknown tags
// come back as an assertion failure wrapping ErrUnknownTag.
func Decode(tag oplog.Tag, raw []byte) (Op, int, error) {
	r := reader{b: raw}
	var op Op

	switch tag {
	case TagPut:
		o := r.options()
		op = Put{Options: o, Key: r.bytes(), Value: r.bytes()}
	case TagPutCF:
		o := r.options()
		op = PutCF{Options: o, Family: string(r.bytes()), Key: r.bytes(), Value: r.bytes()}
	case TagDelete:
		o := r.options()
		op = Delete{Options: o, Key: r.bytes()}
	case TagDeleteCF:
		o := r.options()
		op = DeleteCF{Options: o, Family: string(r.bytes()), Key: r.bytes()}
	case TagSingleDelete:
		o := r.options()
		op = SingleDelete{Options: o, Key: r.bytes()}
	case TagSingleDeleteCF:
		o := r.options()
		op = SingleDeleteCF{Options: o, Family: string(r.bytes()), Key: r.bytes()}
	case TagDeleteRangeCF:
		o := r.options()
		op = DeleteRangeCF{Options: o, Family: string(r.bytes()), Begin: r.bytes(), End: r.bytes()}
	case TagMerge:
		o := r.options()
		op = Merge{Options: o, Key: r.bytes(), Value: r.bytes()}
	case TagMergeCF:
		o := r.options()
		op = MergeCF{Options: o, Family: string(r.bytes()), Key: r.bytes(), Value: r.bytes()}
	case TagWriteBatch:
		wb := WriteBatch{Options: r.options()}
		for r.err == nil {
			sub := r.tag()
			if r.err != nil || sub == tagEndBatch {
				break
			}
			if sub == TagWriteBatch {
				r.fail(errors.Wrap(ErrMalformed, "nested write batch"))
				break
			}
			subOp, n, err := Decode(sub, r.b[r.off:])
			if err != nil {
				r.fail(err)
				break
			}
			r.off += n
			wb.Ops = append(wb.Ops, subOp)
		}
		op = wb
	default:
		return nil, 0, errors.WithAssertionFailure(errors.Wrapf(ErrUnknownTag, "tag %d", tag))
	}

	if r.err != nil {
		return nil, 0, errors.Wrapf(r.err, "decode tag %d", tag)
	}
	return op, r.off, nil
}

type reader struct {
	b   []byte
	off int
	err error
}

func (r *reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *reader) options() WriteOptions {
	if r.err != nil {
		return WriteOptions{}
	}
	if r.off >= len(r.b) {
		r.fail(errors.Wrap(ErrMalformed, "missing options"))
		return WriteOptions{}
	}
	flags := r.b[r.off]
	r.off++
	return WriteOptions{Sync: flags&optSync != 0}
}

func (r *reader) bytes() []byte {
	if r.err != nil {
		return nil
	}
	v, n, err := decodeEscaped(r.b[r.off:])
	if err != nil {
		r.fail(err)
		return nil
	}
	r.off += n
	return v
}

func (r *reader) tag() oplog.Tag {
	if r.err != nil {
		return 0
	}
	t, ok := oplog.ReadTag(r.b[r.off:])
	if !ok {
		r.fail(errors.Wrap(ErrMalformed, "truncated tag"))
		return 0
	}
	r.off += oplog.TagSize
	return t
}
