package kv

import "github.com/NVSL/rocksdb/infra/oplog"

// Operation tags as they appear on the log. The values are part of the
// on-log format and must never be renumbered.
const (
	TagPut            oplog.Tag = 1
	TagPutCF          oplog.Tag = 2
	TagDelete         oplog.Tag = 3
	TagDeleteCF       oplog.Tag = 4
	TagSingleDelete   oplog.Tag = 5
	TagSingleDeleteCF oplog.Tag = 6
	TagDeleteRangeCF  oplog.Tag = 7
	TagMerge          oplog.Tag = 8
	TagMergeCF        oplog.Tag = 9
	TagWriteBatch     oplog.Tag = 10

	// tagEndBatch closes the nested entries of a WriteBatch.
	tagEndBatch oplog.Tag = 0
)

// WriteOptions travel with every mutation and are replayed with it.
type WriteOptions struct {
	Sync bool
}

// Op is one mutating call on a Store. The concrete types below are the
// variants the log knows how to encode; anything else is rejected.
type Op interface {
	Tag() oplog.Tag
}

type Put struct {
	Options    WriteOptions
	Key, Value []byte
}

type PutCF struct {
	Options    WriteOptions
	Family     string
	Key, Value []byte
}

type Delete struct {
	Options WriteOptions
	Key     []byte
}

type DeleteCF struct {
	Options WriteOptions
	Family  string
	Key     []byte
}

type SingleDelete struct {
	Options WriteOptions
	Key     []byte
}

type SingleDeleteCF struct {
	Options WriteOptions
	Family  string
	Key     []byte
}

// DeleteRangeCF removes [Begin, End).
type DeleteRangeCF struct {
	Options    WriteOptions
	Family     string
	Begin, End []byte
}

type Merge struct {
	Options    WriteOptions
	Key, Value []byte
}

type MergeCF struct {
	Options    WriteOptions
	Family     string
	Key, Value []byte
}

// WriteBatch applies Ops together. Nested batches are not supported.
type WriteBatch struct {
	Options WriteOptions
	Ops     []Op
}

func (Put) Tag() oplog.Tag            { return TagPut }
func (PutCF) Tag() oplog.Tag          { return TagPutCF }
func (Delete) Tag() oplog.Tag         { return TagDelete }
func (DeleteCF) Tag() oplog.Tag       { return TagDeleteCF }
func (SingleDelete) Tag() oplog.Tag   { return TagSingleDelete }
func (SingleDeleteCF) Tag() oplog.Tag { return TagSingleDeleteCF }
func (DeleteRangeCF) Tag() oplog.Tag  { return TagDeleteRangeCF }
func (Merge) Tag() oplog.Tag          { return TagMerge }
func (MergeCF) Tag() oplog.Tag        { return TagMergeCF }
func (WriteBatch) Tag() oplog.Tag     { return TagWriteBatch }

// Batch accumulates operations for a WriteBatch.
type Batch struct {
	ops []Op
}

func (b *Batch) Put(key, value []byte) {
	b.ops = append(b.ops, Put{Key: key, Value: value})
}

func (b *Batch) PutCF(family string, key, value []byte) {
	b.ops = append(b.ops, PutCF{Family: family, Key: key, Value: value})
}

func (b *Batch) Delete(key []byte) {
	b.ops = append(b.ops, Delete{Key: key})
}

func (b *Batch) DeleteCF(family string, key []byte) {
	b.ops = append(b.ops, DeleteCF{Family: family, Key: key})
}

func (b *Batch) SingleDelete(key []byte) {
	b.ops = append(b.ops, SingleDelete{Key: key})
}

func (b *Batch) DeleteRangeCF(family string, begin, end []byte) {
	b.ops = append(b.ops, DeleteRangeCF{Family: family, Begin: begin, End: end})
}

func (b *Batch) Merge(key, value []byte) {
	b.ops = append(b.ops, Merge{Key: key, Value: value})
}

func (b *Batch) MergeCF(family string, key, value []byte) {
	b.ops = append(b.ops, MergeCF{Family: family, Key: key, Value: value})
}

func (b *Batch) Len() int { return len(b.ops) }

// Op freezes the batch into a loggable operation.
func (b *Batch) Op(opts WriteOptions) WriteBatch {
	return WriteBatch{Options: opts, Ops: append([]Op(nil), b.ops...)}
}
