package nvm

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/NVSL/rocksdb/infra/logging"
)

func openMeta(t *testing.T, dir string) *pebble.DB {
	t.Helper()
	db, err := pebble.Open(filepath.Join(dir, "meta"), &pebble.Options{})
	require.NoError(t, err)
	return db
}

func TestAllocRoundsToPages(t *testing.T) {
	dir := t.TempDir()
	db := openMeta(t, dir)
	defer db.Close()

	a, err := New(dir, db, logging.Discard())
	require.NoError(t, err)
	defer a.Close()

	o, err := a.Allocator(uuid.New())
	require.NoError(t, err)
	require.True(t, o.Empty())

	r, err := o.Alloc(KindLog, 10)
	require.NoError(t, err)
	require.Equal(t, pageSize, r.Size())
	require.Equal(t, int64(0), r.Offset)

	r2, err := o.Alloc(KindLog, pageSize+1)
	require.NoError(t, err)
	require.Equal(t, 2*pageSize, r2.Size())
	require.Equal(t, int64(pageSize), r2.Offset)
	require.Equal(t, uint32(1), r2.Index)

	_, err = o.Alloc(KindLog, 0)
	require.Error(t, err)
}

func TestAllocatorIsShared(t *testing.T) {
	dir := t.TempDir()
	db := openMeta(t, dir)
	defer db.Close()

	a, err := New(dir, db, logging.Discard())
	require.NoError(t, err)
	defer a.Close()

	id := uuid.New()
	o1, err := a.Allocator(id)
	require.NoError(t, err)
	o2, err := a.Allocator(id)
	require.NoError(t, err)
	require.Same(t, o1, o2)
}

func TestRegionsSurviveReopen(t *testing.T) {
	dir := t.TempDir()
	id := uuid.New()

	db := openMeta(t, dir)
	a, err := New(dir, db, logging.Discard())
	require.NoError(t, err)

	o, err := a.Allocator(id)
	require.NoError(t, err)
	hdr, err := o.Alloc(KindObject, 64)
	require.NoError(t, err)
	seg, err := o.Alloc(KindLog, 128)
	require.NoError(t, err)

	copy(hdr.Bytes(), "header")
	copy(seg.Bytes()[100:], "entry")
	require.NoError(t, hdr.Flush(0, 6))
	require.NoError(t, seg.Flush(100, 5))

	require.NoError(t, a.Close())
	require.NoError(t, db.Close())

	// --- restart ---
	db = openMeta(t, dir)
	defer db.Close()
	a, err = New(dir, db, logging.Discard())
	require.NoError(t, err)
	defer a.Close()

	o, err = a.Allocator(id)
	require.NoError(t, err)
	require.False(t, o.Empty())

	objs := o.Regions(KindObject)
	logs := o.Regions(KindLog)
	require.Len(t, objs, 1)
	require.Len(t, logs, 1)
	require.Equal(t, "header", string(objs[0].Bytes()[:6]))
	require.Equal(t, "entry", string(logs[0].Bytes()[100:105]))
	require.Equal(t, uint32(1), logs[0].Index)
}

func TestResetEmptiesHeap(t *testing.T) {
	dir := t.TempDir()
	db := openMeta(t, dir)
	defer db.Close()

	a, err := New(dir, db, logging.Discard())
	require.NoError(t, err)
	defer a.Close()

	id := uuid.New()
	o, err := a.Allocator(id)
	require.NoError(t, err)
	r, err := o.Alloc(KindLog, 10)
	require.NoError(t, err)
	copy(r.Bytes(), "stale")

	require.NoError(t, o.Reset())
	require.True(t, o.Empty())

	info, err := os.Stat(o.Location())
	require.NoError(t, err)
	require.Zero(t, info.Size())

	r, err = o.Alloc(KindLog, 10)
	require.NoError(t, err)
	require.Equal(t, uint32(0), r.Index)
	require.Equal(t, byte(0), r.Bytes()[0])
}

func TestFlushBounds(t *testing.T) {
	dir := t.TempDir()
	db := openMeta(t, dir)
	defer db.Close()

	a, err := New(dir, db, logging.Discard())
	require.NoError(t, err)
	defer a.Close()

	o, err := a.Allocator(uuid.New())
	require.NoError(t, err)
	r, err := o.Alloc(KindLog, 10)
	require.NoError(t, err)

	require.Error(t, r.Flush(r.Size()-1, 2))
	require.NoError(t, r.Flush(r.Size()-1, 1))
}

func TestClosedArena(t *testing.T) {
	dir := t.TempDir()
	db := openMeta(t, dir)
	defer db.Close()

	a, err := New(dir, db, logging.Discard())
	require.NoError(t, err)
	require.NoError(t, a.Close())

	_, err = a.Allocator(uuid.New())
	require.ErrorIs(t, err, ErrClosed)
}
