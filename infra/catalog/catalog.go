// Package catalog persists one entry per persistent object: which class it
// is and where its storage lives. Entries outlive the process and drive the
// recovery scan on startup.
package catalog

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"
)

var ErrCorrupt = errors.New("catalog: corrupt entry")

// -------------------- Entry --------------------

type Entry struct {
	ID       uuid.UUID
	Class    uint64
	Location string
	Created  time.Time
}

// binary encoding: [class:8][created:8][location...]
func encodeEntry(e Entry) []byte {
	buf := make([]byte, 16, 16+len(e.Location))
	binary.BigEndian.PutUint64(buf[0:8], e.Class)
	binary.BigEndian.PutUint64(buf[8:16], uint64(e.Created.UnixNano()))
	return append(buf, e.Location...)
}

func decodeEntry(id uuid.UUID, b []byte) (Entry, error) {
	if len(b) < 16 {
		return Entry{}, errors.Wrapf(ErrCorrupt, "entry %s is %d bytes", id, len(b))
	}
	return Entry{
		ID:       id,
		Class:    binary.BigEndian.Uint64(b[0:8]),
		Created:  time.Unix(0, int64(binary.BigEndian.Uint64(b[8:16]))),
		Location: string(b[16:]),
	}, nil
}

// -------------------- Catalog --------------------

// Catalog stores entries in the shared metadata DB under "catalog/".
type Catalog struct {
	db *pebble.DB
}

func New(db *pebble.DB) *Catalog {
	return &Catalog{db: db}
}

// Put records e durably.
func (c *Catalog) Put(e Entry) error {
	if err := c.db.Set(keyFor(e.ID), encodeEntry(e), pebble.Sync); err != nil {
		return errors.Wrapf(err, "catalog: put %s", e.ID)
	}
	return nil
}

// Get returns the entry for id, if any.
func (c *Catalog) Get(id uuid.UUID) (Entry, bool, error) {
	val, closer, err := c.db.Get(keyFor(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, errors.Wrapf(err, "catalog: get %s", id)
	}
	defer closer.Close()

	e, err := decodeEntry(id, val)
	if err != nil {
		return Entry{}, false, err
	}
	return e, true, nil
}

// Delete forgets id. Storage is not released.
func (c *Catalog) Delete(id uuid.UUID) error {
	return c.db.Delete(keyFor(id), pebble.Sync)
}

// Scan calls fn for every entry in identifier order.
func (c *Catalog) Scan(fn func(Entry) error) error {
	iter, err := c.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: []byte(prefix + "~"),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		id, err := parseKey(iter.Key())
		if err != nil {
			return err
		}
		e, err := decodeEntry(id, iter.Value())
		if err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return iter.Error()
}

// Entries collects every entry.
func (c *Catalog) Entries() ([]Entry, error) {
	var out []Entry
	err := c.Scan(func(e Entry) error {
		out = append(out, e)
		return nil
	})
	return out, err
}

// -------------------- Helpers --------------------

const prefix = "catalog/"

func keyFor(id uuid.UUID) []byte {
	return []byte(fmt.Sprintf("%s%s", prefix, id))
}

func parseKey(b []byte) (uuid.UUID, error) {
	if len(b) <= len(prefix) {
		return uuid.Nil, errors.Wrapf(ErrCorrupt, "key %q", b)
	}
	id, err := uuid.ParseBytes(b[len(prefix):])
	if err != nil {
		return uuid.Nil, errors.Wrapf(ErrCorrupt, "key %q: %v", b, err)
	}
	return id, nil
}
