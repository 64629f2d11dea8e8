// Package kv is the payload wrapped by persistent objects: a key-value
// store with column families, built on pebble over an in-memory
// filesystem. Its state is volatile; the owning object's operation log is
// what makes it durable.
package kv

import (
	"bytes"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"

	"github.com/NVSL/rocksdb/infra/logging"
)

const DefaultFamily = "default"

type Options struct {
	Logger *slog.Logger
}

// Store applies operations synchronously and deterministically. Families
// are created on first write.
type Store struct {
	fs  vfs.FS
	log *slog.Logger

	mu       sync.RWMutex
	families map[string]*pebble.DB
	closed   bool
}

func Open(opts Options) (*Store, error) {
	s := &Store{
		fs:       vfs.NewMem(),
		log:      logging.Component(opts.Logger, "kv"),
		families: make(map[string]*pebble.DB),
	}
	if _, err := s.family(DefaultFamily, true); err != nil {
		return nil, err
	}
	return s, nil
}

// -------------------- Writes --------------------

func (s *Store) Put(opts WriteOptions, key, value []byte) error {
	return s.PutCF(opts, DefaultFamily, key, value)
}

func (s *Store) PutCF(opts WriteOptions, family string, key, value []byte) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}
	db, err := s.family(family, true)
	if err != nil {
		return err
	}
	return db.Set(key, value, opts.pebble())
}

func (s *Store) Delete(opts WriteOptions, key []byte) error {
	return s.DeleteCF(opts, DefaultFamily, key)
}

func (s *Store) DeleteCF(opts WriteOptions, family string, key []byte) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}
	db, err := s.family(family, true)
	if err != nil {
		return err
	}
	return db.Delete(key, opts.pebble())
}

func (s *Store) SingleDelete(opts WriteOptions, key []byte) error {
	return s.SingleDeleteCF(opts, DefaultFamily, key)
}

func (s *Store) SingleDeleteCF(opts WriteOptions, family string, key []byte) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}
	db, err := s.family(family, true)
	if err != nil {
		return err
	}
	return db.SingleDelete(key, opts.pebble())
}

func (s *Store) DeleteRangeCF(opts WriteOptions, family string, begin, end []byte) error {
	if bytes.Compare(begin, end) >= 0 {
		return ErrInvalidRange
	}
	db, err := s.family(family, true)
	if err != nil {
		return err
	}
	return db.DeleteRange(begin, end, opts.pebble())
}

func (s *Store) Merge(opts WriteOptions, key, value []byte) error {
	return s.MergeCF(opts, DefaultFamily, key, value)
}

func (s *Store) MergeCF(opts WriteOptions, family string, key, value []byte) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}
	db, err := s.family(family, true)
	if err != nil {
		return err
	}
	return db.Merge(key, value, opts.pebble())
}

// Write applies ops as one pebble batch per family. Every op is validated
// before anything is committed.
func (s *Store) Write(opts WriteOptions, ops []Op) error {
	batches := make(map[string]*pebble.Batch)
	defer func() {
		for _, b := range batches {
			_ = b.Close()
		}
	}()

	batchFor := func(family string) (*pebble.Batch, error) {
		if b, ok := batches[family]; ok {
			return b, nil
		}
		db, err := s.family(family, true)
		if err != nil {
			return nil, err
		}
		b := db.NewBatch()
		batches[family] = b
		return b, nil
	}

	for _, op := range ops {
		family, err := familyOf(op)
		if err != nil {
			return err
		}
		b, err := batchFor(family)
		if err != nil {
			return err
		}
		if err := addToBatch(b, op); err != nil {
			return err
		}
	}

	names := make([]string, 0, len(batches))
	for name := range batches {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := batches[name].Commit(opts.pebble()); err != nil {
			return errors.Wrapf(err, "kv: commit batch for family %q", name)
		}
	}
	return nil
}

// Apply dispatches a decoded operation to the matching method.
func (s *Store) Apply(op Op) error {
	switch op := op.(type) {
	case Put:
		return s.Put(op.Options, op.Key, op.Value)
	case PutCF:
		return s.PutCF(op.Options, op.Family, op.Key, op.Value)
	case Delete:
		return s.Delete(op.Options, op.Key)
	case DeleteCF:
		return s.DeleteCF(op.Options, op.Family, op.Key)
	case SingleDelete:
		return s.SingleDelete(op.Options, op.Key)
	case SingleDeleteCF:
		return s.SingleDeleteCF(op.Options, op.Family, op.Key)
	case DeleteRangeCF:
		return s.DeleteRangeCF(op.Options, op.Family, op.Begin, op.End)
	case Merge:
		return s.Merge(op.Options, op.Key, op.Value)
	case MergeCF:
		return s.MergeCF(op.Options, op.Family, op.Key, op.Value)
	case WriteBatch:
		return s.Write(op.Options, op.Ops)
	default:
		return errors.Wrapf(ErrUnsupported, "%T", op)
	}
}

// -------------------- Reads --------------------

// Get returns a copy of the value stored under key in the default family.
func (s *Store) Get(key []byte) ([]byte, error) {
	return s.GetCF(DefaultFamily, key)
}

func (s *Store) GetCF(family string, key []byte) ([]byte, error) {
	db, err := s.family(family, false)
	if err != nil {
		return nil, err
	}
	if db == nil {
		return nil, ErrNotFound
	}
	val, closer, err := db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return append([]byte(nil), val...), nil
}

// Scan visits keys in [lower, upper) of family in order. A nil bound is open.
func (s *Store) Scan(family string, lower, upper []byte, fn func(key, value []byte) error) error {
	db, err := s.family(family, false)
	if err != nil || db == nil {
		return err
	}
	iter, err := db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

// Families lists the families that exist, sorted.
func (s *Store) Families() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.families))
	for name := range s.families {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var firstErr error
	for name, db := range s.families {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "kv: close family %q", name)
		}
	}
	s.families = nil
	return firstErr
}

// -------------------- Helpers --------------------

func (o WriteOptions) pebble() *pebble.WriteOptions {
	if o.Sync {
		return pebble.Sync
	}
	return pebble.NoSync
}

// family returns the DB for name, creating it when create is set. A nil DB
// with a nil error means the family does not exist.
func (s *Store) family(name string, create bool) (*pebble.DB, error) {
	if name == "" || strings.ContainsAny(name, "/\x00") {
		return nil, errors.Wrapf(ErrBadFamily, "%q", name)
	}

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, ErrClosed
	}
	db, ok := s.families[name]
	s.mu.RUnlock()
	if ok || !create {
		return db, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if db, ok := s.families[name]; ok {
		return db, nil
	}
	db, err := pebble.Open("cf/"+name, &pebble.Options{
		FS:     s.fs,
		Logger: logging.PebbleLogger{L: s.log},
	})
	if err != nil {
		return nil, errors.Wrapf(err, "kv: open family %q", name)
	}
	s.families[name] = db
	s.log.Debug("column family created", slog.String("family", name))
	return db, nil
}

func familyOf(op Op) (string, error) {
	switch op := op.(type) {
	case Put, Delete, SingleDelete, Merge:
		return DefaultFamily, nil
	case PutCF:
		return op.Family, nil
	case DeleteCF:
		return op.Family, nil
	case SingleDeleteCF:
		return op.Family, nil
	case DeleteRangeCF:
		return op.Family, nil
	case MergeCF:
		return op.Family, nil
	default:
		return "", errors.Wrapf(ErrUnsupported, "%T in write batch", op)
	}
}

func addToBatch(b *pebble.Batch, op Op) error {
	switch op := op.(type) {
	case Put:
		return setKey(b, op.Key, op.Value)
	case PutCF:
		return setKey(b, op.Key, op.Value)
	case Delete:
		return deleteKey(b, op.Key)
	case DeleteCF:
		return deleteKey(b, op.Key)
	case SingleDelete:
		return singleDeleteKey(b, op.Key)
	case SingleDeleteCF:
		return singleDeleteKey(b, op.Key)
	case DeleteRangeCF:
		if bytes.Compare(op.Begin, op.End) >= 0 {
			return ErrInvalidRange
		}
		return b.DeleteRange(op.Begin, op.End, nil)
	case Merge:
		return mergeKey(b, op.Key, op.Value)
	case MergeCF:
		return mergeKey(b, op.Key, op.Value)
	}
	return errors.Wrapf(ErrUnsupported, "%T in write batch", op)
}

func setKey(b *pebble.Batch, key, value []byte) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}
	return b.Set(key, value, nil)
}

func deleteKey(b *pebble.Batch, key []byte) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}
	return b.Delete(key, nil)
}

func singleDeleteKey(b *pebble.Batch, key []byte) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}
	return b.SingleDelete(key, nil)
}

func mergeKey(b *pebble.Batch, key, value []byte) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}
	return b.Merge(key, value, nil)
}
