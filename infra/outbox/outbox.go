// Package outbox records object lifecycle events durably so they can be
// relayed to a broker after the fact. Records move NEW -> SENT -> ACKED,
// or to FAILED for a later retry.
package outbox

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"
)

// -------------------- State --------------------

type State uint8

const (
	StateNew State = iota
	StateSent
	StateAcked
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateSent:
		return "SENT"
	case StateAcked:
		return "ACKED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// -------------------- Record --------------------

type Kind uint8

const (
	KindCreated Kind = iota + 1
	KindRecovered
)

func (k Kind) String() string {
	switch k {
	case KindCreated:
		return "created"
	case KindRecovered:
		return "recovered"
	default:
		return "unknown"
	}
}

// Event is what happened to an object.
type Event struct {
	Kind     Kind
	ObjectID uuid.UUID
	Class    uint64
	Time     time.Time
}

// Record is an event plus its delivery state.
type Record struct {
	Seq         uint64
	State       State
	Retries     uint32
	LastAttempt int64
	Event       Event
}

const recordSize = 1 + 4 + 8 + 1 + 8 + 8 + 16

// binary encoding: [state:1][retries:4][lastAttempt:8][kind:1][class:8][time:8][id:16]
func encodeRecord(r Record) []byte {
	buf := make([]byte, recordSize)
	buf[0] = byte(r.State)
	binary.BigEndian.PutUint32(buf[1:5], r.Retries)
	binary.BigEndian.PutUint64(buf[5:13], uint64(r.LastAttempt))
	buf[13] = byte(r.Event.Kind)
	binary.BigEndian.PutUint64(buf[14:22], r.Event.Class)
	binary.BigEndian.PutUint64(buf[22:30], uint64(r.Event.Time.UnixNano()))
	copy(buf[30:46], r.Event.ObjectID[:])
	return buf
}

func decodeRecord(seq uint64, b []byte) (Record, error) {
	if len(b) != recordSize {
		return Record{}, errors.New("invalid outbox record length")
	}
	var id uuid.UUID
	copy(id[:], b[30:46])
	return Record{
		Seq:         seq,
		State:       State(b[0]),
		Retries:     binary.BigEndian.Uint32(b[1:5]),
		LastAttempt: int64(binary.BigEndian.Uint64(b[5:13])),
		Event: Event{
			Kind:     Kind(b[13]),
			Class:    binary.BigEndian.Uint64(b[14:22]),
			Time:     time.Unix(0, int64(binary.BigEndian.Uint64(b[22:30]))),
			ObjectID: id,
		},
	}, nil
}

// -------------------- Outbox --------------------

type Outbox struct {
	db *pebble.DB

	mu sync.Mutex // serializes Put's high-water mark update
}

// New uses the shared metadata DB; records live under "outbox/".
func New(db *pebble.DB) *Outbox {
	return &Outbox{db: db}
}

// Put inserts a NEW record under seq and raises the high-water mark in the
// same batch.
func (o *Outbox) Put(seq uint64, ev Event) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	hwm, err := o.highWater()
	if err != nil {
		return err
	}
	rec := Record{Seq: seq, State: StateNew, Event: ev}
	b := o.db.NewBatch()
	defer b.Close()
	if err := b.Set(keyFor(seq), encodeRecord(rec), nil); err != nil {
		return err
	}
	if seq > hwm {
		if err := b.Set([]byte(hwmKey), binary.BigEndian.AppendUint64(nil, seq), nil); err != nil {
			return err
		}
	}
	return b.Commit(pebble.Sync)
}

// Get returns the record stored under seq.
func (o *Outbox) Get(seq uint64) (Record, error) {
	val, closer, err := o.db.Get(keyFor(seq))
	if err != nil {
		return Record{}, err
	}
	defer closer.Close()

	return decodeRecord(seq, val)
}

func (o *Outbox) MarkSent(seq uint64) error {
	return o.update(seq, func(r *Record) { r.State = StateSent })
}

func (o *Outbox) MarkAcked(seq uint64) error {
	return o.update(seq, func(r *Record) { r.State = StateAcked })
}

// MarkFailed parks the record for retry and counts the attempt.
func (o *Outbox) MarkFailed(seq uint64) error {
	return o.update(seq, func(r *Record) {
		r.State = StateFailed
		r.Retries++
	})
}

// Delete removes a record.
func (o *Outbox) Delete(seq uint64) error {
	return o.db.Delete(keyFor(seq), pebble.Sync)
}

func (o *Outbox) update(seq uint64, fn func(*Record)) error {
	rec, err := o.Get(seq)
	if err != nil {
		return errors.Wrapf(err, "outbox: load %d", seq)
	}
	fn(&rec)
	rec.LastAttempt = time.Now().UnixNano()
	return o.db.Set(keyFor(seq), encodeRecord(rec), pebble.Sync)
}

// -------------------- Scan --------------------

// ScanByState iterates records in the given state in sequence order.
func (o *Outbox) ScanByState(state State, fn func(Record) error) error {
	iter, err := o.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: []byte(prefix + "~"),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		seq, err := parseKey(iter.Key())
		if err != nil {
			return err
		}
		rec, err := decodeRecord(seq, iter.Value())
		if err != nil {
			return err
		}
		if rec.State != state {
			continue
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return iter.Error()
}

// LastSeq is the highest sequence ever stored, or 0. Deleting relayed
// records does not lower it.
func (o *Outbox) LastSeq() (uint64, error) {
	hwm, err := o.highWater()
	if err != nil {
		return 0, err
	}

	iter, err := o.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: []byte(prefix + "~"),
	})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	if !iter.Last() {
		return hwm, iter.Error()
	}
	seq, err := parseKey(iter.Key())
	if err != nil {
		return 0, err
	}
	return max(seq, hwm), nil
}

func (o *Outbox) highWater() (uint64, error) {
	val, closer, err := o.db.Get([]byte(hwmKey))
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "outbox: load high-water mark")
	}
	defer closer.Close()

	if len(val) != 8 {
		return 0, errors.Newf("outbox: malformed high-water mark %x", val)
	}
	return binary.BigEndian.Uint64(val), nil
}

// -------------------- Helpers --------------------

const (
	prefix = "outbox/"
	// sorts before prefix, so record scans never see it
	hwmKey = "outbox-hwm"
)

func keyFor(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefix, seq))
}

func parseKey(b []byte) (uint64, error) {
	if len(b) <= len(prefix) {
		return 0, errors.Newf("outbox: malformed key %q", b)
	}
	return strconv.ParseUint(string(b[len(prefix):]), 10, 64)
}
