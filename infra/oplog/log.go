package oplog

import (
	"encoding/binary"
	"log/slog"

	"github.com/cockroachdb/errors"

	"github.com/NVSL/rocksdb/infra/logging"
	"github.com/NVSL/rocksdb/infra/nvm"
)

const (
	regionMagic = 0x474c504f // "OPLG"

	// Header: [magic:4][pad:4][slotA:16][slotB:16], padded to headerSize.
	// Slot:   [gen:4][crc:4][used:8]
	headerSize = 64
	slotOffset = 8
	slotSize   = 16

	DefaultRegionSize = 64 << 10
)

// Player decodes the entry whose fields start at raw[0] and returns how many
// bytes of raw it occupied. When dry is false it also applies the entry.
type Player interface {
	Play(tag Tag, raw []byte, dry bool) int
}

type Options struct {
	// RegionSize is the size of each newly allocated log region. Entries
	// larger than a region get a region of their own.
	RegionSize int
	Logger     *slog.Logger
}

// Log is a single-writer operation log. Callers serialize Append and Replay.
type Log struct {
	alloc      *nvm.ObjectAlloc
	regionSize int
	log        *slog.Logger

	segs []*segment
	size int64
}

type segment struct {
	r    *nvm.Region
	used int
	gen  uint32
}

// Open attaches to the log regions already allocated for alloc's identifier,
// or prepares an empty log if there are none. Regions are allocated lazily on
// first Append.
func Open(alloc *nvm.ObjectAlloc, opts Options) (*Log, error) {
	if opts.RegionSize <= 0 {
		opts.RegionSize = DefaultRegionSize
	}

	l := &Log{
		alloc:      alloc,
		regionSize: opts.RegionSize,
		log:        logging.Component(opts.Logger, "oplog"),
	}

	regions := alloc.Regions(nvm.KindLog)
	for i, r := range regions {
		seg := &segment{r: r}
		used, gen, ok := readHeader(r.Bytes())
		switch {
		case ok:
			seg.used, seg.gen = used, gen
		case i == len(regions)-1:
			// Allocated but never initialized before a crash.
			if err := initHeader(seg); err != nil {
				return nil, err
			}
		default:
			return nil, errors.Wrapf(ErrCorrupt, "region %d of %s has no valid header", r.Index, alloc.ID())
		}
		l.segs = append(l.segs, seg)
		l.size += int64(seg.used)
	}
	return l, nil
}

// Append copies every staged slot contiguously into the log and returns the
// entry's logical byte offset. The entry is durable when Append returns.
func (l *Log) Append(v *ArgVector) (int64, error) {
	if _, ok := v.Tag(); !ok {
		return 0, ErrNoTag
	}
	n := v.Len()

	seg := l.tail()
	if seg == nil || headerSize+seg.used+n > seg.r.Size() {
		var err error
		if seg, err = l.grow(n); err != nil {
			return 0, err
		}
	}

	off := headerSize + seg.used
	buf := seg.r.Bytes()
	pos := off
	for i := 0; i < v.Slots(); i++ {
		pos += copy(buf[pos:], v.Slot(i))
	}

	// Phase one: entry bytes. Phase two: the header that commits them.
	if err := seg.r.Flush(off, n); err != nil {
		return 0, err
	}
	if err := writeHeader(seg, seg.used+n); err != nil {
		return 0, err
	}

	at := l.size
	l.size += int64(n)
	return at, nil
}

// Replay walks committed entries in append order and returns the total
// number of bytes consumed.
func (l *Log) Replay(p Player, dry bool) (int64, error) {
	var total int64
	for _, seg := range l.segs {
		data := seg.r.Bytes()[headerSize : headerSize+seg.used]
		for cur := 0; cur < len(data); {
			tag, ok := ReadTag(data[cur:])
			if !ok {
				return total, errors.Wrapf(ErrCorrupt, "truncated tag at offset %d", total)
			}
			raw := data[cur+TagSize:]
			n := p.Play(tag, raw, dry)
			if n < 0 || n > len(raw) {
				return total, errors.Wrapf(ErrCorrupt,
					"entry with tag %d at offset %d claims %d of %d remaining bytes", tag, total, n, len(raw))
			}
			cur += TagSize + n
			total += int64(TagSize + n)
		}
	}
	return total, nil
}

// Size is the number of committed entry bytes.
func (l *Log) Size() int64 { return l.size }

// Regions is the number of regions backing the log.
func (l *Log) Regions() int { return len(l.segs) }

func (l *Log) tail() *segment {
	if len(l.segs) == 0 {
		return nil
	}
	return l.segs[len(l.segs)-1]
}

func (l *Log) grow(n int) (*segment, error) {
	size := l.regionSize
	if headerSize+n > size {
		size = headerSize + n
	}
	r, err := l.alloc.Alloc(nvm.KindLog, size)
	if err != nil {
		return nil, err
	}
	seg := &segment{r: r}
	if err := initHeader(seg); err != nil {
		return nil, err
	}
	l.segs = append(l.segs, seg)

	l.log.Debug("log region allocated",
		slog.String("id", l.alloc.ID().String()),
		slog.Int("index", int(r.Index)),
		slog.Int("size", r.Size()))
	return seg, nil
}

// -------------------- Header --------------------

func initHeader(seg *segment) error {
	buf := seg.r.Bytes()
	clear(buf[:headerSize])
	binary.LittleEndian.PutUint32(buf[0:4], regionMagic)
	seg.used, seg.gen = 0, 0
	if err := seg.r.Flush(0, headerSize); err != nil {
		return err
	}
	return writeHeader(seg, 0)
}

// writeHeader commits used under the next generation, alternating slots so a
// torn write leaves the previous slot intact.
func writeHeader(seg *segment, used int) error {
	gen := seg.gen + 1
	at := slotOffset + int(gen%2)*slotSize
	slot := seg.r.Bytes()[at : at+slotSize]

	binary.LittleEndian.PutUint32(slot[0:4], gen)
	binary.LittleEndian.PutUint64(slot[8:16], uint64(used))
	binary.LittleEndian.PutUint32(slot[4:8], slotChecksum(slot))

	if err := seg.r.Flush(at, slotSize); err != nil {
		return err
	}
	seg.gen, seg.used = gen, used
	return nil
}

func readHeader(buf []byte) (used int, gen uint32, ok bool) {
	if len(buf) < headerSize || binary.LittleEndian.Uint32(buf[0:4]) != regionMagic {
		return 0, 0, false
	}
	for i := 0; i < 2; i++ {
		at := slotOffset + i*slotSize
		slot := buf[at : at+slotSize]
		g := binary.LittleEndian.Uint32(slot[0:4])
		u := binary.LittleEndian.Uint64(slot[8:16])
		if g == 0 || binary.LittleEndian.Uint32(slot[4:8]) != slotChecksum(slot) {
			continue
		}
		if u > uint64(len(buf)-headerSize) {
			continue
		}
		if !ok || g > gen {
			used, gen, ok = int(u), g, true
		}
	}
	return used, gen, ok
}

func slotChecksum(slot []byte) uint32 {
	var b [12]byte
	copy(b[0:4], slot[0:4])
	copy(b[4:12], slot[8:16])
	return checksum(b[:])
}
