package nvm

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/NVSL/rocksdb/infra/logging"
)

// Arena hands out identifier-scoped allocators. It is process-wide state
// with an explicit lifetime: construct with New, release with Close.
type Arena struct {
	dir string
	db  *pebble.DB
	log *slog.Logger

	mu     sync.Mutex
	heaps  map[uuid.UUID]*ObjectAlloc
	closed bool
}

// New opens the arena rooted at dir. The region table lives in db, which
// the caller owns.
func New(dir string, db *pebble.DB, logger *slog.Logger) (*Arena, error) {
	if err := os.MkdirAll(filepath.Join(dir, "heap"), 0o755); err != nil {
		return nil, errors.Wrap(err, "nvm: create heap dir")
	}
	return &Arena{
		dir:   dir,
		db:    db,
		log:   logging.Component(logger, "nvm"),
		heaps: make(map[uuid.UUID]*ObjectAlloc),
	}, nil
}

// Allocator returns the allocator scoped to id, attaching any regions that
// already exist for it.
func (a *Arena) Allocator(id uuid.UUID) (*ObjectAlloc, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil, ErrClosed
	}
	if o, ok := a.heaps[id]; ok {
		return o, nil
	}

	o, err := a.attach(id)
	if err != nil {
		return nil, err
	}
	a.heaps[id] = o
	return o, nil
}

// Close unmaps every region and closes every heap file.
func (a *Arena) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.closed = true

	var firstErr error
	for id, o := range a.heaps {
		if err := o.close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(a.heaps, id)
	}
	return firstErr
}

func (a *Arena) heapPath(id uuid.UUID) string {
	return filepath.Join(a.dir, "heap", id.String()+".heap")
}

func (a *Arena) attach(id uuid.UUID) (*ObjectAlloc, error) {
	path := a.heapPath(id)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "nvm: open heap %s", path)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, errors.Wrapf(err, "nvm: stat heap %s", path)
	}

	o := &ObjectAlloc{arena: a, id: id, path: path, file: f}

	lower, upper := regionBounds(id)
	iter, err := a.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		rec, err := decodeRegion(iter.Value())
		if err != nil {
			_ = o.close()
			return nil, err
		}
		if rec.Offset+rec.Size > info.Size() {
			_ = o.close()
			return nil, errors.Wrapf(ErrCorrupt, "heap %s is %d bytes, region ends at %d",
				path, info.Size(), rec.Offset+rec.Size)
		}
		data, err := mmap(f, rec.Offset, int(rec.Size))
		if err != nil {
			_ = o.close()
			return nil, err
		}
		o.regions = append(o.regions, &Region{
			ID:     id,
			Index:  uint32(len(o.regions)),
			Kind:   rec.Kind,
			Offset: rec.Offset,
			data:   data,
		})
		if end := rec.Offset + rec.Size; end > o.end {
			o.end = end
		}
	}
	if err := iter.Error(); err != nil {
		_ = o.close()
		return nil, err
	}

	if len(o.regions) > 0 {
		a.log.Debug("attached heap",
			slog.String("id", id.String()),
			slog.Int("regions", len(o.regions)),
			slog.Int64("bytes", o.end))
	}
	return o, nil
}

// -------------------- ObjectAlloc --------------------

// ObjectAlloc allocates regions for a single identifier. Regions are
// numbered in allocation order and that order survives restarts.
type ObjectAlloc struct {
	arena *Arena
	id    uuid.UUID
	path  string

	mu      sync.Mutex
	file    *os.File
	regions []*Region
	end     int64
}

func (o *ObjectAlloc) ID() uuid.UUID { return o.id }

// Location names the backing heap; it is recorded in catalog entries.
func (o *ObjectAlloc) Location() string { return o.path }

// Alloc maps a new zeroed region of at least size bytes.
func (o *ObjectAlloc) Alloc(kind Kind, size int) (*Region, error) {
	if size <= 0 {
		return nil, errors.Newf("nvm: invalid allocation size %d", size)
	}
	size = roundUp(size)

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.file == nil {
		return nil, ErrClosed
	}

	off := o.end
	if err := o.file.Truncate(off + int64(size)); err != nil {
		return nil, errors.Wrapf(err, "nvm: grow heap %s", o.path)
	}
	if err := o.file.Sync(); err != nil {
		return nil, errors.Wrapf(err, "nvm: sync heap %s", o.path)
	}

	data, err := mmap(o.file, off, size)
	if err != nil {
		return nil, err
	}
	// The range may hold bytes of a region whose table write never landed.
	clear(data)

	r := &Region{
		ID:     o.id,
		Index:  uint32(len(o.regions)),
		Kind:   kind,
		Offset: off,
		data:   data,
	}
	if err := r.Flush(0, size); err != nil {
		_ = unix.Munmap(data)
		return nil, err
	}

	rec := regionRecord{Kind: kind, Offset: off, Size: int64(size)}
	if err := o.arena.db.Set(regionKey(o.id, r.Index), encodeRegion(rec), pebble.Sync); err != nil {
		_ = unix.Munmap(data)
		return nil, errors.Wrapf(err, "nvm: record region %s/%d", o.id, r.Index)
	}

	o.regions = append(o.regions, r)
	o.end = off + int64(size)
	return r, nil
}

// Regions returns the regions of the given kind in allocation order.
func (o *ObjectAlloc) Regions(kind Kind) []*Region {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]*Region, 0, len(o.regions))
	for _, r := range o.regions {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}

// Empty reports whether nothing has been allocated for this identifier.
func (o *ObjectAlloc) Empty() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.regions) == 0
}

// Reset releases every region and empties the heap. Handles obtained
// before Reset must not be used afterwards.
func (o *ObjectAlloc) Reset() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.file == nil {
		return ErrClosed
	}
	if err := o.unmapLocked(); err != nil {
		return err
	}
	lower, upper := regionBounds(o.id)
	if err := o.arena.db.DeleteRange(lower, upper, pebble.Sync); err != nil {
		return errors.Wrapf(err, "nvm: drop region table of %s", o.id)
	}
	if err := o.file.Truncate(0); err != nil {
		return errors.Wrapf(err, "nvm: truncate heap %s", o.path)
	}
	o.end = 0
	return nil
}

func (o *ObjectAlloc) unmapLocked() error {
	var firstErr error
	for _, r := range o.regions {
		if err := unix.Munmap(r.data); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "nvm: munmap region %s/%d", o.id, r.Index)
		}
		r.data = nil
	}
	o.regions = nil
	return firstErr
}

func (o *ObjectAlloc) close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.file == nil {
		return nil
	}
	err := o.unmapLocked()
	if cerr := o.file.Close(); cerr != nil && err == nil {
		err = cerr
	}
	o.file = nil
	return err
}

func mmap(f *os.File, off int64, size int) ([]byte, error) {
	data, err := unix.Mmap(int(f.Fd()), off, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, errors.Wrapf(err, "nvm: mmap %s [%d,+%d)", f.Name(), off, size)
	}
	return data, nil
}
