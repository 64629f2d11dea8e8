package persist

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/NVSL/rocksdb/infra/catalog"
	"github.com/NVSL/rocksdb/infra/logging"
	"github.com/NVSL/rocksdb/infra/nvm"
)

// Origin reports how Resolve produced an instance.
type Origin int

const (
	OriginLive      Origin = iota // already registered in this process
	OriginRecovered               // rebuilt from its catalog entry and log
	OriginCreated                 // newly constructed
)

func (o Origin) String() string {
	switch o {
	case OriginLive:
		return "live"
	case OriginRecovered:
		return "recovered"
	case OriginCreated:
		return "created"
	default:
		return "unknown"
	}
}

// Class binds a ClassID to the two ways of producing an instance.
type Class struct {
	ID   ClassID
	Name string
	// Base constructs a fresh object with an empty log.
	Base func(m *Manager, id uuid.UUID) (Object, error)
	// Recover constructs an empty instance over an existing object's
	// storage. The Manager replays the log afterwards.
	Recover func(m *Manager, e catalog.Entry) (Object, error)
}

// Event is emitted after an instance is created or recovered.
type Event struct {
	Origin Origin
	ID     uuid.UUID
	Class  ClassID
	Time   time.Time
}

type Options struct {
	Dir string
	// LogRegionSize overrides oplog.DefaultRegionSize when positive.
	LogRegionSize int
	// RecoveryParallelism bounds concurrent replays in Recover. Default 4.
	RecoveryParallelism int
	Logger              *slog.Logger
	OnEvent             func(Event)
}

// Manager owns the metadata DB, the arena and the identifier -> instance
// map. It is explicitly constructed and passed around.
type Manager struct {
	opts    Options
	log     *slog.Logger
	db      *pebble.DB
	arena   *nvm.Arena
	catalog *catalog.Catalog

	mu      sync.Mutex
	classes map[ClassID]*Class
	live    map[uuid.UUID]Object
	pending map[uuid.UUID]chan struct{} // ids being rebuilt by Recover
	onEvent func(Event)
	closed  bool
}

func Open(opts Options) (*Manager, error) {
	if opts.Dir == "" {
		return nil, errors.New("persist: data dir required")
	}
	if opts.RecoveryParallelism <= 0 {
		opts.RecoveryParallelism = 4
	}
	lg := logging.Component(opts.Logger, "persist")
	opts.Logger = lg

	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "persist: create %s", opts.Dir)
	}
	db, err := pebble.Open(filepath.Join(opts.Dir, "meta"), &pebble.Options{
		Logger: logging.PebbleLogger{L: logging.Component(opts.Logger, "pebble")},
	})
	if err != nil {
		return nil, errors.Wrap(err, "persist: open metadata db")
	}
	arena, err := nvm.New(opts.Dir, db, lg)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Manager{
		opts:    opts,
		log:     lg,
		db:      db,
		arena:   arena,
		catalog: catalog.New(db),
		classes: make(map[ClassID]*Class),
		live:    make(map[uuid.UUID]Object),
		pending: make(map[uuid.UUID]chan struct{}),
		onEvent: opts.OnEvent,
	}, nil
}

// Register makes a class resolvable. Registering the same ID twice panics.
func (m *Manager) Register(c Class) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, dup := m.classes[c.ID]; dup {
		panic(errors.AssertionFailedf("persist: class %d registered twice", c.ID))
	}
	m.classes[c.ID] = &c
}

// Resolve returns the single live instance for id, recovering or creating
// it as needed. The manager lock is held across the whole decision.
func (m *Manager) Resolve(id uuid.UUID, class ClassID) (Object, Origin, error) {
	return m.resolveAndEmit(id, class, resolveAny)
}

// Create constructs a new object. It fails with ErrExists if id is live or
// cataloged.
func (m *Manager) Create(id uuid.UUID, class ClassID) (Object, error) {
	obj, _, err := m.resolveAndEmit(id, class, resolveCreate)
	return obj, err
}

// Reopen returns the live instance for a cataloged object, recovering it
// if needed. It never creates; unknown identifiers yield ErrNotFound.
func (m *Manager) Reopen(id uuid.UUID, class ClassID) (Object, Origin, error) {
	return m.resolveAndEmit(id, class, resolveExisting)
}

type resolveMode int

const (
	resolveAny resolveMode = iota
	resolveCreate
	resolveExisting
)

func (m *Manager) resolveAndEmit(id uuid.UUID, class ClassID, mode resolveMode) (Object, Origin, error) {
	obj, origin, err := m.resolve(id, class, mode)
	if err == nil && origin != OriginLive {
		m.emit(origin, obj)
	}
	return obj, origin, err
}

// lockSettled takes m.mu once no eager recovery of id is in flight.
func (m *Manager) lockSettled(id uuid.UUID) {
	m.mu.Lock()
	for {
		done, ok := m.pending[id]
		if !ok {
			return
		}
		m.mu.Unlock()
		<-done
		m.mu.Lock()
	}
}

func (m *Manager) resolve(id uuid.UUID, class ClassID, mode resolveMode) (Object, Origin, error) {
	m.lockSettled(id)
	defer m.mu.Unlock()

	if m.closed {
		return nil, 0, ErrClosed
	}
	if obj, ok := m.live[id]; ok {
		if mode == resolveCreate {
			return nil, 0, errors.Wrapf(ErrExists, "%s", id)
		}
		if obj.ClassID() != class {
			return nil, 0, errors.Wrapf(ErrClassMismatch, "object %s is class %d, want %d",
				id, obj.ClassID(), class)
		}
		return obj, OriginLive, nil
	}

	cls, ok := m.classes[class]
	if !ok {
		return nil, 0, errors.Wrapf(ErrUnknownClass, "class %d", class)
	}

	entry, found, err := m.catalog.Get(id)
	if err != nil {
		return nil, 0, err
	}
	if found {
		if mode == resolveCreate {
			return nil, 0, errors.Wrapf(ErrExists, "%s", id)
		}
		if ClassID(entry.Class) != class {
			return nil, 0, errors.Wrapf(ErrClassMismatch, "object %s is cataloged as class %d, want %d",
				id, entry.Class, class)
		}
		obj, err := m.recoverOne(cls, entry)
		if err != nil {
			return nil, 0, err
		}
		m.live[id] = obj
		return obj, OriginRecovered, nil
	}
	if mode == resolveExisting {
		return nil, 0, errors.Wrapf(ErrNotFound, "%s", id)
	}

	obj, err := cls.Base(m, id)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "persist: create %s", id)
	}
	b := obj.base()
	if err := m.catalog.Put(catalog.Entry{
		ID:       id,
		Class:    uint64(class),
		Location: b.Location(),
		Created:  b.Created(),
	}); err != nil {
		_ = obj.Close()
		return nil, 0, err
	}
	m.live[id] = obj
	m.log.Info("object created", slog.String("id", id.String()), slog.String("class", cls.Name))
	return obj, OriginCreated, nil
}

func (m *Manager) recoverOne(cls *Class, e catalog.Entry) (Object, error) {
	obj, err := cls.Recover(m, e)
	if err != nil {
		return nil, errors.Wrapf(err, "persist: recover %s", e.ID)
	}
	n, err := Replay(obj, false)
	if err != nil {
		_ = obj.Close()
		return nil, errors.Wrapf(err, "persist: replay %s", e.ID)
	}
	m.log.Info("object recovered",
		slog.String("id", e.ID.String()),
		slog.String("class", cls.Name),
		slog.Int64("log_bytes", n))
	return obj, nil
}

// Recover eagerly rebuilds every cataloged object whose class is
// registered. Objects are replayed in parallel; a failure on any of them
// fails the scan, though objects already rebuilt stay live. Each identifier is marked in flight before its
// replay starts, and Resolve on it waits for the outcome instead of
// building a second instance.
func (m *Manager) Recover(ctx context.Context) (int, error) {
	entries, err := m.catalog.Entries()
	if err != nil {
		return 0, err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(m.opts.RecoveryParallelism)

	var (
		mu        sync.Mutex
		installed []Object
	)
	for _, e := range entries {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			break
		}
		cls, known := m.classes[ClassID(e.Class)]
		_, live := m.live[e.ID]
		_, busy := m.pending[e.ID]
		if live || busy {
			m.mu.Unlock()
			continue
		}
		if !known {
			m.mu.Unlock()
			m.log.Warn("skipping object of unregistered class",
				slog.String("id", e.ID.String()), slog.Uint64("class", e.Class))
			continue
		}
		done := make(chan struct{})
		m.pending[e.ID] = done
		m.mu.Unlock()

		g.Go(func() error {
			obj, err := m.recoverPending(ctx, cls, e, done)
			if err != nil || obj == nil {
				return err
			}
			mu.Lock()
			installed = append(installed, obj)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	for _, obj := range installed {
		m.emit(OriginRecovered, obj)
	}
	return len(installed), nil
}

// recoverPending rebuilds e, installs it as live and releases the in-flight
// marker. It returns a nil object if the manager closed meanwhile.
func (m *Manager) recoverPending(ctx context.Context, cls *Class, e catalog.Entry, done chan struct{}) (Object, error) {
	var (
		obj Object
		err = ctx.Err()
	)
	if err == nil {
		obj, err = m.recoverOne(cls, e)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, e.ID)
	close(done)

	if err != nil {
		return nil, err
	}
	if m.closed {
		_ = obj.Close()
		return nil, nil
	}
	m.live[e.ID] = obj
	return obj, nil
}

// Lookup returns the live instance for id without touching storage.
func (m *Manager) Lookup(id uuid.UUID) (Object, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.live[id]
	return obj, ok
}

// Entry returns the catalog entry for id.
func (m *Manager) Entry(id uuid.UUID) (catalog.Entry, error) {
	e, ok, err := m.catalog.Get(id)
	if err != nil {
		return catalog.Entry{}, err
	}
	if !ok {
		return catalog.Entry{}, errors.Wrapf(ErrNotFound, "%s", id)
	}
	return e, nil
}

// Entries lists every cataloged object.
func (m *Manager) Entries() ([]catalog.Entry, error) {
	return m.catalog.Entries()
}

// Measure dry-runs id's log and returns the bytes it spans. An object that
// is not live is measured through a transient instance that is never
// replayed for real nor registered.
func (m *Manager) Measure(id uuid.UUID) (int64, error) {
	m.lockSettled(id)
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrClosed
	}
	if obj, ok := m.live[id]; ok {
		return Replay(obj, true)
	}

	e, found, err := m.catalog.Get(id)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, errors.Wrapf(ErrNotFound, "%s", id)
	}
	cls, ok := m.classes[ClassID(e.Class)]
	if !ok {
		return 0, errors.Wrapf(ErrUnknownClass, "class %d", e.Class)
	}
	obj, err := cls.Recover(m, e)
	if err != nil {
		return 0, errors.Wrapf(err, "persist: measure %s", id)
	}
	defer obj.Close()
	return Replay(obj, true)
}

func (m *Manager) Logger() *slog.Logger { return m.log }
func (m *Manager) Arena() *nvm.Arena    { return m.arena }
func (m *Manager) DB() *pebble.DB       { return m.db }

// Close waits for in-flight recoveries, then closes every live instance,
// the arena and the metadata DB.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	for len(m.pending) > 0 {
		var done chan struct{}
		for _, done = range m.pending {
			break
		}
		m.mu.Unlock()
		<-done
		m.mu.Lock()
	}

	var firstErr error
	for id, obj := range m.live {
		if err := obj.Close(); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "persist: close %s", id)
		}
	}
	m.live = nil
	if err := m.arena.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := m.db.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// SetEventHook replaces the lifecycle hook. Hooks that need the metadata DB
// are installed after Open.
func (m *Manager) SetEventHook(fn func(Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEvent = fn
}

func (m *Manager) emit(origin Origin, obj Object) {
	m.mu.Lock()
	fn := m.onEvent
	m.mu.Unlock()
	if fn == nil {
		return
	}
	fn(Event{
		Origin: origin,
		ID:     obj.ID(),
		Class:  obj.ClassID(),
		Time:   time.Now().UTC(),
	})
}

// Factory resolves id and asserts the instance is a T.
func Factory[T Object](m *Manager, class ClassID, id uuid.UUID) (T, error) {
	obj, _, err := m.Resolve(id, class)
	return as[T](id, obj, err)
}

func as[T Object](id uuid.UUID, obj Object, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	t, ok := obj.(T)
	if !ok {
		return zero, errors.Wrapf(ErrClassMismatch, "object %s is %T", id, obj)
	}
	return t, nil
}

// Construct creates id as a T.
func Construct[T Object](m *Manager, class ClassID, id uuid.UUID) (T, error) {
	obj, err := m.Create(id, class)
	return as[T](id, obj, err)
}

// Reattach reopens the cataloged object id as a T.
func Reattach[T Object](m *Manager, class ClassID, id uuid.UUID) (T, error) {
	obj, _, err := m.Reopen(id, class)
	return as[T](id, obj, err)
}
