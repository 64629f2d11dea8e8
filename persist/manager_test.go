package persist

import (
	"context"
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/NVSL/rocksdb/infra/catalog"
	"github.com/NVSL/rocksdb/infra/logging"
	"github.com/NVSL/rocksdb/infra/oplog"
)

// counter is the smallest persistent object: one int64 changed by Add.
type counter struct {
	*Base
	n      int64
	closed bool
}

const (
	counterClass ClassID   = 77
	otherClass   ClassID   = 78
	tagAdd       oplog.Tag = 1
)

func (c *counter) Add(delta int64) error {
	var v oplog.ArgVector
	v.Add(oplog.AppendTag(nil, tagAdd))
	v.Add(binary.LittleEndian.AppendUint64(nil, uint64(delta)))
	return c.Mutate(&v, func() error {
		c.n += delta
		return nil
	})
}

func (c *counter) Play(tag oplog.Tag, raw []byte, dry bool) int {
	if tag != tagAdd {
		panic(errors.AssertionFailedf("counter: unknown tag %d", tag))
	}
	if !dry {
		c.n += int64(binary.LittleEndian.Uint64(raw))
	}
	return 8
}

func (c *counter) Close() error {
	c.closed = true
	return nil
}

func counterClassDef(id ClassID) Class {
	return Class{
		ID:   id,
		Name: "counter",
		Base: func(m *Manager, oid uuid.UUID) (Object, error) {
			b, err := NewBase(m, oid, id)
			if err != nil {
				return nil, err
			}
			return &counter{Base: b}, nil
		},
		Recover: func(m *Manager, e catalog.Entry) (Object, error) {
			b, err := RecoverBase(m, e)
			if err != nil {
				return nil, err
			}
			return &counter{Base: b}, nil
		},
	}
}

func openManager(t *testing.T, dir string, onEvent func(Event)) *Manager {
	t.Helper()
	m, err := Open(Options{Dir: dir, Logger: logging.Discard(), OnEvent: onEvent})
	require.NoError(t, err)
	m.Register(counterClassDef(counterClass))
	m.Register(counterClassDef(otherClass))
	return m
}

func TestResolveCreatesThenReturnsLive(t *testing.T) {
	m := openManager(t, t.TempDir(), nil)
	defer m.Close()

	id := uuid.New()
	a, origin, err := m.Resolve(id, counterClass)
	require.NoError(t, err)
	require.Equal(t, OriginCreated, origin)

	b, origin, err := m.Resolve(id, counterClass)
	require.NoError(t, err)
	require.Equal(t, OriginLive, origin)
	require.Same(t, a, b)

	e, err := m.Entry(id)
	require.NoError(t, err)
	require.Equal(t, uint64(counterClass), e.Class)
	require.Equal(t, a.(*counter).Location(), e.Location)
}

func TestStateSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	id := uuid.New()

	m := openManager(t, dir, nil)
	c, err := Factory[*counter](m, counterClass, id)
	require.NoError(t, err)
	for _, d := range []int64{5, -2, 40} {
		require.NoError(t, c.Add(d))
	}
	require.Equal(t, int64(43), c.n)
	require.NoError(t, m.Close())
	require.True(t, c.closed)

	// --- restart ---
	m = openManager(t, dir, nil)
	defer m.Close()

	obj, origin, err := m.Resolve(id, counterClass)
	require.NoError(t, err)
	require.Equal(t, OriginRecovered, origin)
	require.Equal(t, int64(43), obj.(*counter).n)
}

func TestAtMostOneInstance(t *testing.T) {
	m := openManager(t, t.TempDir(), nil)
	defer m.Close()

	id := uuid.New()
	const n = 32
	got := make([]*counter, n)
	origins := make([]Origin, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			obj, origin, err := m.Resolve(id, counterClass)
			require.NoError(t, err)
			got[i] = obj.(*counter)
			origins[i] = origin
		}()
	}
	wg.Wait()

	created := 0
	for i := range got {
		require.Same(t, got[0], got[i])
		if origins[i] == OriginCreated {
			created++
		}
	}
	require.Equal(t, 1, created)
}

func TestConcurrentMutationsAreSerialized(t *testing.T) {
	dir := t.TempDir()
	id := uuid.New()

	m := openManager(t, dir, nil)
	c, err := Factory[*counter](m, counterClass, id)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				require.NoError(t, c.Add(1))
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int64(400), c.n)
	require.NoError(t, m.Close())

	m = openManager(t, dir, nil)
	defer m.Close()
	c, err = Factory[*counter](m, counterClass, id)
	require.NoError(t, err)
	require.Equal(t, int64(400), c.n)
}

func TestClassMismatch(t *testing.T) {
	dir := t.TempDir()
	id := uuid.New()

	m := openManager(t, dir, nil)
	_, _, err := m.Resolve(id, counterClass)
	require.NoError(t, err)

	_, _, err = m.Resolve(id, otherClass)
	require.ErrorIs(t, err, ErrClassMismatch)
	require.NoError(t, m.Close())

	m = openManager(t, dir, nil)
	defer m.Close()
	_, _, err = m.Resolve(id, otherClass)
	require.ErrorIs(t, err, ErrClassMismatch)

	_, _, err = m.Resolve(uuid.New(), 999)
	require.ErrorIs(t, err, ErrUnknownClass)
}

func TestEagerRecovery(t *testing.T) {
	dir := t.TempDir()
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}

	m := openManager(t, dir, nil)
	for i, id := range ids {
		c, err := Factory[*counter](m, counterClass, id)
		require.NoError(t, err)
		require.NoError(t, c.Add(int64(i+1)))
	}
	require.NoError(t, m.Close())

	var (
		mu     sync.Mutex
		events []Event
	)
	m = openManager(t, dir, func(e Event) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	})
	defer m.Close()

	n, err := m.Recover(context.Background())
	require.NoError(t, err)
	require.Equal(t, len(ids), n)
	require.Len(t, events, len(ids))

	for i, id := range ids {
		obj, ok := m.Lookup(id)
		require.True(t, ok)
		require.Equal(t, int64(i+1), obj.(*counter).n)

		_, origin, err := m.Resolve(id, counterClass)
		require.NoError(t, err)
		require.Equal(t, OriginLive, origin)
	}
	for _, e := range events {
		require.Equal(t, OriginRecovered, e.Origin)
	}
}

func TestMeasureMatchesLogSize(t *testing.T) {
	dir := t.TempDir()
	id := uuid.New()

	m := openManager(t, dir, nil)
	c, err := Factory[*counter](m, counterClass, id)
	require.NoError(t, err)
	require.NoError(t, c.Add(1))
	require.NoError(t, c.Add(2))

	size, err := m.Measure(id)
	require.NoError(t, err)
	require.Equal(t, int64(2*(oplog.TagSize+8)), size)
	require.Equal(t, size, c.LogSize())
	require.Equal(t, int64(3), c.n)
	require.NoError(t, m.Close())

	// Measuring a cold object recovers it first.
	m = openManager(t, dir, nil)
	defer m.Close()
	size2, err := m.Measure(id)
	require.NoError(t, err)
	require.Equal(t, size, size2)

	_, err = m.Measure(uuid.New())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUnknownTagOnReplayPanics(t *testing.T) {
	dir := t.TempDir()
	id := uuid.New()

	m := openManager(t, dir, nil)
	c, err := Factory[*counter](m, counterClass, id)
	require.NoError(t, err)

	var v oplog.ArgVector
	v.Add(oplog.AppendTag(nil, 9))
	v.Add(make([]byte, 8))
	require.NoError(t, c.Mutate(&v, func() error { return nil }))
	require.NoError(t, m.Close())

	m = openManager(t, dir, nil)
	defer m.Close()

	defer func() {
		r := recover()
		require.NotNil(t, r)
		err, ok := r.(error)
		require.True(t, ok)
		require.True(t, errors.HasAssertionFailure(err))
	}()
	_, _, _ = m.Resolve(id, counterClass)
}

func TestOrphanedHeapIsDiscarded(t *testing.T) {
	m := openManager(t, t.TempDir(), nil)
	defer m.Close()

	// A creation that crashed before its catalog entry landed.
	id := uuid.New()
	alloc, err := m.Arena().Allocator(id)
	require.NoError(t, err)
	_, err = NewBase(m, id, counterClass)
	require.NoError(t, err)
	require.False(t, alloc.Empty())

	c, err := Factory[*counter](m, counterClass, id)
	require.NoError(t, err)
	require.Equal(t, int64(0), c.n)
	require.Zero(t, c.LogSize())
}

func TestRegisterTwicePanics(t *testing.T) {
	m := openManager(t, t.TempDir(), nil)
	defer m.Close()
	require.Panics(t, func() { m.Register(counterClassDef(counterClass)) })
}

func TestHeaderRoundTrip(t *testing.T) {
	buf := make([]byte, headerLen)
	putHeader(buf, 12, fixedTime)
	class, created, err := readHeader(buf)
	require.NoError(t, err)
	require.Equal(t, ClassID(12), class)
	require.True(t, fixedTime.Equal(created))

	buf[9] ^= 0xff
	_, _, err = readHeader(buf)
	require.ErrorIs(t, err, ErrCorrupt)
}

var fixedTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestCreateAndReopenAreStrict(t *testing.T) {
	dir := t.TempDir()
	id := uuid.New()

	m := openManager(t, dir, nil)
	_, err := Reattach[*counter](m, counterClass, id)
	require.ErrorIs(t, err, ErrNotFound)

	c, err := Construct[*counter](m, counterClass, id)
	require.NoError(t, err)
	require.NoError(t, c.Add(7))

	_, err = Construct[*counter](m, counterClass, id)
	require.ErrorIs(t, err, ErrExists)

	again, err := Reattach[*counter](m, counterClass, id)
	require.NoError(t, err)
	require.Same(t, c, again)
	require.NoError(t, m.Close())

	m = openManager(t, dir, nil)
	defer m.Close()
	_, err = m.Create(id, counterClass)
	require.ErrorIs(t, err, ErrExists)

	c, err = Reattach[*counter](m, counterClass, id)
	require.NoError(t, err)
	require.Equal(t, int64(7), c.n)
}

func TestRecoverAndResolveBuildOneInstance(t *testing.T) {
	dir := t.TempDir()
	id := uuid.New()

	m := openManager(t, dir, nil)
	c, err := Factory[*counter](m, counterClass, id)
	require.NoError(t, err)
	require.NoError(t, c.Add(9))
	require.NoError(t, m.Close())

	// --- restart with a slow recovery path ---
	var mu sync.Mutex
	built := 0
	slow := counterClassDef(counterClass)
	recoverFn := slow.Recover
	slow.Recover = func(m *Manager, e catalog.Entry) (Object, error) {
		mu.Lock()
		built++
		mu.Unlock()
		time.Sleep(50 * time.Millisecond)
		return recoverFn(m, e)
	}
	m, err = Open(Options{Dir: dir, Logger: logging.Discard()})
	require.NoError(t, err)
	defer m.Close()
	m.Register(slow)

	var (
		wg       sync.WaitGroup
		resolved Object
		rErr     error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, rErr = m.Recover(context.Background())
	}()
	go func() {
		defer wg.Done()
		time.Sleep(10 * time.Millisecond)
		resolved, _, err = m.Resolve(id, counterClass)
	}()
	wg.Wait()
	require.NoError(t, rErr)
	require.NoError(t, err)

	require.Equal(t, 1, built)
	live, ok := m.Lookup(id)
	require.True(t, ok)
	require.Same(t, live, resolved)
	require.Equal(t, int64(9), resolved.(*counter).n)
}

func TestMeasureDoesNotRegister(t *testing.T) {
	dir := t.TempDir()
	id := uuid.New()
	orphan := uuid.New()

	m := openManager(t, dir, nil)
	c, err := Factory[*counter](m, counterClass, id)
	require.NoError(t, err)
	require.NoError(t, c.Add(4))
	_, err = Factory[*counter](m, otherClass, orphan)
	require.NoError(t, err)
	require.NoError(t, m.Close())

	// --- restart without otherClass ---
	m, err = Open(Options{Dir: dir, Logger: logging.Discard()})
	require.NoError(t, err)
	defer m.Close()
	m.Register(counterClassDef(counterClass))

	size, err := m.Measure(id)
	require.NoError(t, err)
	require.Equal(t, int64(oplog.TagSize+8), size)
	_, live := m.Lookup(id)
	require.False(t, live)

	_, err = m.Measure(orphan)
	require.ErrorIs(t, err, ErrUnknownClass)

	c, err = Factory[*counter](m, counterClass, id)
	require.NoError(t, err)
	require.Equal(t, int64(4), c.n)
}
