// Package pdb is the persistent key-value store: a kv.Store whose every
// mutating call is logged to the object's operation log before it runs.
package pdb

import (
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/NVSL/rocksdb/domain/kv"
	"github.com/NVSL/rocksdb/infra/catalog"
	"github.com/NVSL/rocksdb/infra/logging"
	"github.com/NVSL/rocksdb/infra/memory"
	"github.com/NVSL/rocksdb/infra/oplog"
	"github.com/NVSL/rocksdb/persist"
)

const ClassID persist.ClassID = 1

var encoders = memory.NewPool(kv.NewEncoder, (*kv.Encoder).Reset)

type PDB struct {
	*persist.Base
	store *kv.Store
	log   *slog.Logger
}

// Class registers PDB with a manager.
func Class() persist.Class {
	return persist.Class{
		ID:   ClassID,
		Name: "pdb",
		Base: func(m *persist.Manager, id uuid.UUID) (persist.Object, error) {
			b, err := persist.NewBase(m, id, ClassID)
			if err != nil {
				return nil, err
			}
			return wrap(m, b)
		},
		Recover: func(m *persist.Manager, e catalog.Entry) (persist.Object, error) {
			b, err := persist.RecoverBase(m, e)
			if err != nil {
				return nil, err
			}
			return wrap(m, b)
		},
	}
}

func wrap(m *persist.Manager, b *persist.Base) (persist.Object, error) {
	lg := logging.Component(m.Logger(), "pdb").With(slog.String("id", b.ID().String()))
	store, err := kv.Open(kv.Options{Logger: lg})
	if err != nil {
		return nil, errors.Wrapf(err, "pdb %s: open store", b.ID())
	}
	return &PDB{Base: b, store: store, log: lg}, nil
}

// BaseFactory creates a new, empty PDB for id.
func BaseFactory(m *persist.Manager, id uuid.UUID) (*PDB, error) {
	return persist.Construct[*PDB](m, ClassID, id)
}

// RecoveryFactory returns the PDB described by e, rebuilt from its log
// unless it is already live.
func RecoveryFactory(m *persist.Manager, e catalog.Entry) (*PDB, error) {
	if persist.ClassID(e.Class) != ClassID {
		return nil, errors.Wrapf(persist.ErrClassMismatch, "object %s is class %d", e.ID, e.Class)
	}
	return persist.Reattach[*PDB](m, ClassID, e.ID)
}

// Factory returns the single live PDB for id, creating or recovering it.
func Factory(m *persist.Manager, id uuid.UUID) (*PDB, error) {
	return persist.Factory[*PDB](m, ClassID, id)
}

// -------------------- Mutations --------------------

// Apply logs op, then runs it against the store. A store error is returned
// to the caller but the entry stays in the log; replay hits the same error.
func (p *PDB) Apply(op kv.Op) error {
	enc := encoders.Get()
	defer encoders.Put(enc)

	vec := enc.Marshal(op)
	return p.Mutate(vec, func() error {
		return p.store.Apply(op)
	})
}

func (p *PDB) Put(opts kv.WriteOptions, key, value []byte) error {
	return p.Apply(kv.Put{Options: opts, Key: key, Value: value})
}

func (p *PDB) PutCF(opts kv.WriteOptions, family string, key, value []byte) error {
	return p.Apply(kv.PutCF{Options: opts, Family: family, Key: key, Value: value})
}

func (p *PDB) Delete(opts kv.WriteOptions, key []byte) error {
	return p.Apply(kv.Delete{Options: opts, Key: key})
}

func (p *PDB) DeleteCF(opts kv.WriteOptions, family string, key []byte) error {
	return p.Apply(kv.DeleteCF{Options: opts, Family: family, Key: key})
}

func (p *PDB) SingleDelete(opts kv.WriteOptions, key []byte) error {
	return p.Apply(kv.SingleDelete{Options: opts, Key: key})
}

func (p *PDB) SingleDeleteCF(opts kv.WriteOptions, family string, key []byte) error {
	return p.Apply(kv.SingleDeleteCF{Options: opts, Family: family, Key: key})
}

func (p *PDB) DeleteRange(opts kv.WriteOptions, family string, begin, end []byte) error {
	return p.Apply(kv.DeleteRangeCF{Options: opts, Family: family, Begin: begin, End: end})
}

func (p *PDB) Merge(opts kv.WriteOptions, key, value []byte) error {
	return p.Apply(kv.Merge{Options: opts, Key: key, Value: value})
}

func (p *PDB) MergeCF(opts kv.WriteOptions, family string, key, value []byte) error {
	return p.Apply(kv.MergeCF{Options: opts, Family: family, Key: key, Value: value})
}

// Write logs the whole batch as one entry.
func (p *PDB) Write(opts kv.WriteOptions, b *kv.Batch) error {
	return p.Apply(b.Op(opts))
}

// -------------------- Reads --------------------

func (p *PDB) Get(key []byte) ([]byte, error) {
	return p.store.Get(key)
}

func (p *PDB) GetCF(family string, key []byte) ([]byte, error) {
	return p.store.GetCF(family, key)
}

func (p *PDB) Scan(family string, lower, upper []byte, fn func(key, value []byte) error) error {
	return p.store.Scan(family, lower, upper, fn)
}

func (p *PDB) Families() []string {
	return p.store.Families()
}

// -------------------- Replay --------------------

// Play decodes one entry and, unless dry, re-executes it. Entries that
// cannot be decoded mean the log and this build disagree; that is fatal.
func (p *PDB) Play(tag oplog.Tag, raw []byte, dry bool) int {
	op, n, err := kv.Decode(tag, raw)
	if err != nil {
		panic(errors.WithAssertionFailure(errors.Wrapf(err, "pdb %s: replay", p.ID())))
	}
	if dry {
		return n
	}
	if err := p.store.Apply(op); err != nil {
		p.log.Debug("replayed operation failed again",
			slog.Uint64("tag", uint64(tag)),
			slog.String("err", err.Error()))
	}
	return n
}

func (p *PDB) Close() error {
	return p.store.Close()
}
