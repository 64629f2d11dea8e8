package persist

import (
	"encoding/binary"
	"hash/crc32"
	"log/slog"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/NVSL/rocksdb/infra/catalog"
	"github.com/NVSL/rocksdb/infra/nvm"
	"github.com/NVSL/rocksdb/infra/oplog"
)

// ClassID identifies the concrete type of a persistent object. It is
// stored in the catalog and in the object header.
type ClassID uint64

// Object is a live persistent object. Implementations embed *Base and
// provide Play, which decodes one log entry and, unless dry, applies it.
type Object interface {
	oplog.Player
	ID() uuid.UUID
	ClassID() ClassID
	Close() error

	base() *Base
}

const (
	headerMagic   = 0x424f564e // "NVOB"
	headerVersion = 1

	// [magic:4][version:4][class:8][created:8][crc:4]
	headerLen = 28
)

// Base is the persistent part every object embeds: identity, the header
// region and the operation log. Its mutex makes append-then-apply a single
// step with respect to other mutations of the same object.
type Base struct {
	id      uuid.UUID
	class   ClassID
	created time.Time
	alloc   *nvm.ObjectAlloc
	log     *oplog.Log

	mu sync.Mutex
}

// NewBase places a fresh object header in id's heap and opens an empty log.
// Bytes left behind by a creation that never reached the catalog are
// discarded first.
func NewBase(m *Manager, id uuid.UUID, class ClassID) (*Base, error) {
	alloc, err := m.arena.Allocator(id)
	if err != nil {
		return nil, err
	}
	if !alloc.Empty() {
		m.log.Warn("discarding orphaned heap", slog.String("id", id.String()))
		if err := alloc.Reset(); err != nil {
			return nil, err
		}
	}

	created := time.Now().UTC()
	r, err := alloc.Alloc(nvm.KindObject, headerLen)
	if err != nil {
		return nil, errors.Wrapf(err, "persist: allocate header of %s", id)
	}
	putHeader(r.Bytes(), class, created)
	if err := r.Flush(0, headerLen); err != nil {
		return nil, err
	}

	return openBase(m, alloc, id, class, created)
}

// RecoverBase reattaches to the header and log of a cataloged object.
func RecoverBase(m *Manager, e catalog.Entry) (*Base, error) {
	alloc, err := m.arena.Allocator(e.ID)
	if err != nil {
		return nil, err
	}
	headers := alloc.Regions(nvm.KindObject)
	if len(headers) == 0 {
		return nil, errors.Wrapf(ErrCorrupt, "object %s has no header region", e.ID)
	}
	class, created, err := readHeader(headers[0].Bytes())
	if err != nil {
		return nil, errors.Wrapf(err, "object %s", e.ID)
	}
	if class != ClassID(e.Class) {
		return nil, errors.Wrapf(ErrClassMismatch, "object %s: header says class %d, catalog says %d",
			e.ID, class, e.Class)
	}
	return openBase(m, alloc, e.ID, class, created)
}

func openBase(m *Manager, alloc *nvm.ObjectAlloc, id uuid.UUID, class ClassID, created time.Time) (*Base, error) {
	l, err := oplog.Open(alloc, oplog.Options{
		RegionSize: m.opts.LogRegionSize,
		Logger:     m.opts.Logger,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "persist: open log of %s", id)
	}
	return &Base{id: id, class: class, created: created, alloc: alloc, log: l}, nil
}

func (b *Base) ID() uuid.UUID      { return b.id }
func (b *Base) ClassID() ClassID   { return b.class }
func (b *Base) Created() time.Time { return b.created }
func (b *Base) Location() string   { return b.alloc.Location() }
func (b *Base) base() *Base        { return b }

// LogSize is the number of committed log bytes.
func (b *Base) LogSize() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.log.Size()
}

// Mutate appends vec to the log and then runs apply, holding the object
// lock across both. apply's error is returned as-is; the entry stays
// logged either way. A failed append is unrecoverable and panics.
func (b *Base) Mutate(vec *oplog.ArgVector, apply func() error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.log.Append(vec); err != nil {
		panic(errors.WithAssertionFailure(errors.Wrapf(err, "persist: append to log of %s", b.id)))
	}
	return apply()
}

// Replay runs one pass over obj's log under its lock and returns the number
// of log bytes consumed. With dry set the object is not modified.
func Replay(obj Object, dry bool) (int64, error) {
	b := obj.base()
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.log.Replay(obj, dry)
}

// -------------------- Header --------------------

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

func putHeader(buf []byte, class ClassID, created time.Time) {
	binary.LittleEndian.PutUint32(buf[0:4], headerMagic)
	binary.LittleEndian.PutUint32(buf[4:8], headerVersion)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(class))
	binary.LittleEndian.PutUint64(buf[16:24], uint64(created.UnixNano()))
	binary.LittleEndian.PutUint32(buf[24:28], crc32.Checksum(buf[:24], castagnoli))
}

func readHeader(buf []byte) (ClassID, time.Time, error) {
	if len(buf) < headerLen {
		return 0, time.Time{}, errors.Wrapf(ErrCorrupt, "header region of %d bytes", len(buf))
	}
	if binary.LittleEndian.Uint32(buf[0:4]) != headerMagic {
		return 0, time.Time{}, errors.Wrap(ErrCorrupt, "bad header magic")
	}
	if v := binary.LittleEndian.Uint32(buf[4:8]); v != headerVersion {
		return 0, time.Time{}, errors.Wrapf(ErrCorrupt, "unsupported header version %d", v)
	}
	if crc32.Checksum(buf[:24], castagnoli) != binary.LittleEndian.Uint32(buf[24:28]) {
		return 0, time.Time{}, errors.Wrap(ErrCorrupt, "header checksum mismatch")
	}
	class := ClassID(binary.LittleEndian.Uint64(buf[8:16]))
	created := time.Unix(0, int64(binary.LittleEndian.Uint64(buf[16:24]))).UTC()
	return class, created, nil
}
