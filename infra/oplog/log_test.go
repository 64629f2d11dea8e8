package oplog

import (
	"bytes"
	"encoding/binary"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/NVSL/rocksdb/infra/logging"
	"github.com/NVSL/rocksdb/infra/nvm"
)

// lengthPlayer understands entries of the form [tag:8][len:2][payload].
type lengthPlayer struct {
	applied [][]byte
	tags    []Tag
}

func (p *lengthPlayer) Play(tag Tag, raw []byte, dry bool) int {
	n := int(binary.LittleEndian.Uint16(raw))
	if !dry {
		p.tags = append(p.tags, tag)
		p.applied = append(p.applied, append([]byte(nil), raw[2:2+n]...))
	}
	return 2 + n
}

func stage(tag Tag, payload []byte) *ArgVector {
	var v ArgVector
	v.Add(AppendTag(nil, tag))
	v.Add(binary.LittleEndian.AppendUint16(nil, uint16(len(payload))))
	v.Add(payload)
	return &v
}

type env struct {
	dir   string
	db    *pebble.DB
	arena *nvm.Arena
	id    uuid.UUID
}

func newEnv(t *testing.T, dir string, id uuid.UUID) *env {
	t.Helper()
	db, err := pebble.Open(filepath.Join(dir, "meta"), &pebble.Options{})
	require.NoError(t, err)
	a, err := nvm.New(dir, db, logging.Discard())
	require.NoError(t, err)
	return &env{dir: dir, db: db, arena: a, id: id}
}

func (e *env) open(t *testing.T, regionSize int) *Log {
	t.Helper()
	alloc, err := e.arena.Allocator(e.id)
	require.NoError(t, err)
	l, err := Open(alloc, Options{RegionSize: regionSize, Logger: logging.Discard()})
	require.NoError(t, err)
	return l
}

func (e *env) close(t *testing.T) {
	t.Helper()
	require.NoError(t, e.arena.Close())
	require.NoError(t, e.db.Close())
}

func TestAppendAndReplay(t *testing.T) {
	e := newEnv(t, t.TempDir(), uuid.New())
	defer e.close(t)
	l := e.open(t, 0)

	off, err := l.Append(stage(7, []byte("first")))
	require.NoError(t, err)
	require.Equal(t, int64(0), off)

	off, err = l.Append(stage(9, []byte("second")))
	require.NoError(t, err)
	require.Equal(t, int64(TagSize+2+5), off)

	p := &lengthPlayer{}
	total, err := l.Replay(p, false)
	require.NoError(t, err)
	require.Equal(t, l.Size(), total)
	require.Equal(t, []Tag{7, 9}, p.tags)
	require.Equal(t, [][]byte{[]byte("first"), []byte("second")}, p.applied)
}

func TestDryRunMatchesRealRun(t *testing.T) {
	e := newEnv(t, t.TempDir(), uuid.New())
	defer e.close(t)
	l := e.open(t, 0)

	for i := 0; i < 50; i++ {
		_, err := l.Append(stage(Tag(i+1), bytes.Repeat([]byte{'x'}, i)))
		require.NoError(t, err)
	}

	dryPlayer := &lengthPlayer{}
	dry, err := l.Replay(dryPlayer, true)
	require.NoError(t, err)
	require.Empty(t, dryPlayer.applied)

	applied, err := l.Replay(&lengthPlayer{}, false)
	require.NoError(t, err)
	require.Equal(t, applied, dry)
}

func TestEntriesChainAcrossRegions(t *testing.T) {
	dir := t.TempDir()
	id := uuid.New()

	e := newEnv(t, dir, id)
	l := e.open(t, 256)

	var want [][]byte
	for i := 0; i < 100; i++ {
		payload := bytes.Repeat([]byte{byte('a' + i%26)}, 150+i)
		want = append(want, payload)
		_, err := l.Append(stage(1, payload))
		require.NoError(t, err)
	}
	require.Greater(t, l.Regions(), 1)
	size := l.Size()
	e.close(t)

	// --- restart ---
	e = newEnv(t, dir, id)
	defer e.close(t)
	l = e.open(t, 256)
	require.Equal(t, size, l.Size())

	p := &lengthPlayer{}
	total, err := l.Replay(p, false)
	require.NoError(t, err)
	require.Equal(t, size, total)
	require.Equal(t, want, p.applied)
}

func TestOversizedEntryGetsOwnRegion(t *testing.T) {
	e := newEnv(t, t.TempDir(), uuid.New())
	defer e.close(t)
	l := e.open(t, 4096)

	big := bytes.Repeat([]byte{'z'}, 20000)
	_, err := l.Append(stage(1, []byte("small")))
	require.NoError(t, err)
	_, err = l.Append(stage(3, big))
	require.NoError(t, err)
	require.Equal(t, 2, l.Regions())

	p := &lengthPlayer{}
	_, err = l.Replay(p, false)
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("small"), big}, p.applied)
}

func TestUncommittedBytesAreIgnored(t *testing.T) {
	dir := t.TempDir()
	id := uuid.New()

	e := newEnv(t, dir, id)
	l := e.open(t, 0)
	_, err := l.Append(stage(1, []byte("kept")))
	require.NoError(t, err)

	// Simulate a crash after the entry bytes landed but before the header
	// committed them.
	seg := l.tail()
	junk := stage(2, []byte("lost"))
	pos := headerSize + seg.used
	for i := 0; i < junk.Slots(); i++ {
		pos += copy(seg.r.Bytes()[pos:], junk.Slot(i))
	}
	e.close(t)

	e = newEnv(t, dir, id)
	defer e.close(t)
	l = e.open(t, 0)

	p := &lengthPlayer{}
	_, err = l.Replay(p, false)
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("kept")}, p.applied)
}

func TestTornHeaderFallsBack(t *testing.T) {
	dir := t.TempDir()
	id := uuid.New()

	e := newEnv(t, dir, id)
	l := e.open(t, 0)
	_, err := l.Append(stage(1, []byte("one")))
	require.NoError(t, err)
	_, err = l.Append(stage(1, []byte("two")))
	require.NoError(t, err)

	// Tear the newest header slot.
	seg := l.tail()
	at := slotOffset + int(seg.gen%2)*slotSize
	binary.LittleEndian.PutUint64(seg.r.Bytes()[at+8:], 1<<40)
	e.close(t)

	e = newEnv(t, dir, id)
	defer e.close(t)
	l = e.open(t, 0)

	p := &lengthPlayer{}
	_, err = l.Replay(p, false)
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("one")}, p.applied)
}

type greedyPlayer struct{}

func (greedyPlayer) Play(Tag, []byte, bool) int { return 1 << 20 }

func TestOverrunIsCorruption(t *testing.T) {
	e := newEnv(t, t.TempDir(), uuid.New())
	defer e.close(t)
	l := e.open(t, 0)

	_, err := l.Append(stage(1, []byte("x")))
	require.NoError(t, err)

	_, err = l.Replay(greedyPlayer{}, true)
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestAppendRequiresTag(t *testing.T) {
	e := newEnv(t, t.TempDir(), uuid.New())
	defer e.close(t)
	l := e.open(t, 0)

	var v ArgVector
	v.Add([]byte{1, 2})
	_, err := l.Append(&v)
	require.ErrorIs(t, err, ErrNoTag)
}

func TestArgVectorBounded(t *testing.T) {
	var v ArgVector
	for i := 0; i < MaxSlots; i++ {
		v.Add([]byte{byte(i)})
	}
	require.Equal(t, MaxSlots, v.Len())

	defer func() {
		r := recover()
		require.NotNil(t, r)
		err, ok := r.(error)
		require.True(t, ok)
		require.True(t, errors.HasAssertionFailure(err))
	}()
	v.Add([]byte{0})
}
