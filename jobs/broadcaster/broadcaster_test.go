package broadcaster

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/NVSL/rocksdb/api/pb"
	"github.com/NVSL/rocksdb/infra/logging"
	"github.com/NVSL/rocksdb/infra/outbox"
)

type fakePublisher struct {
	mu   sync.Mutex
	fail bool
	sent []*pb.LifecycleEvent
	keys [][]byte
}

func (f *fakePublisher) Send(_ context.Context, key, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("broker down")
	}
	ev, err := pb.UnmarshalLifecycleEvent(value)
	if err != nil {
		return err
	}
	f.sent = append(f.sent, ev)
	f.keys = append(f.keys, append([]byte(nil), key...))
	return nil
}

func (f *fakePublisher) Close() error { return nil }

func (f *fakePublisher) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func newOutbox(t *testing.T) *outbox.Outbox {
	t.Helper()
	db, err := pebble.Open("meta", &pebble.Options{FS: vfs.NewMem()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return outbox.New(db)
}

func countState(t *testing.T, ob *outbox.Outbox, s outbox.State) int {
	t.Helper()
	n := 0
	require.NoError(t, ob.ScanByState(s, func(outbox.Record) error {
		n++
		return nil
	}))
	return n
}

func TestRelayPublishesAndDeletes(t *testing.T) {
	ob := newOutbox(t)
	id := uuid.New()
	now := time.Now()
	require.NoError(t, ob.Put(1, outbox.Event{Kind: outbox.KindCreated, ObjectID: id, Class: 1, Time: now}))
	require.NoError(t, ob.Put(2, outbox.Event{Kind: outbox.KindRecovered, ObjectID: id, Class: 1, Time: now}))

	pub := &fakePublisher{}
	b := New(ob, pub, 0, logging.Discard())

	n, err := b.RelayOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, n)

	require.Len(t, pub.sent, 2)
	require.Equal(t, uint64(1), pub.sent[0].Seq)
	require.Equal(t, "created", pub.sent[0].Kind)
	require.Equal(t, "recovered", pub.sent[1].Kind)
	require.Equal(t, id.String(), pub.sent[0].ObjectID)
	require.Equal(t, now.UnixNano(), pub.sent[0].TimeUnixNano)
	require.Equal(t, id[:], pub.keys[0])

	_, err = ob.Get(1)
	require.Error(t, err)
	require.Zero(t, countState(t, ob, outbox.StateNew))
}

func TestFailedPublishIsRetried(t *testing.T) {
	ob := newOutbox(t)
	require.NoError(t, ob.Put(1, outbox.Event{Kind: outbox.KindCreated, ObjectID: uuid.New(), Class: 1, Time: time.Now()}))

	pub := &fakePublisher{fail: true}
	b := New(ob, pub, 0, logging.Discard())

	n, err := b.RelayOnce(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)

	rec, err := ob.Get(1)
	require.NoError(t, err)
	require.Equal(t, outbox.StateFailed, rec.State)
	require.Equal(t, uint32(1), rec.Retries)

	pub.setFail(false)
	n, err = b.RelayOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Zero(t, countState(t, ob, outbox.StateFailed))
}

func TestRunStopsWithContext(t *testing.T) {
	ob := newOutbox(t)
	require.NoError(t, ob.Put(1, outbox.Event{Kind: outbox.KindCreated, ObjectID: uuid.New(), Class: 1, Time: time.Now()}))

	pub := &fakePublisher{}
	b := New(ob, pub, 5*time.Millisecond, logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	require.Eventually(t, func() bool { return pub.count() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}
