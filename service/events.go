package service

import (
	"log/slog"

	"github.com/NVSL/rocksdb/infra/logging"
	"github.com/NVSL/rocksdb/infra/outbox"
	"github.com/NVSL/rocksdb/infra/sequence"
	"github.com/NVSL/rocksdb/persist"
)

// EventRecorder returns a manager hook that stores every lifecycle event in
// the outbox under the next sequence number. A failed write is logged and
// dropped; the object itself is already durable.
func EventRecorder(ob *outbox.Outbox, seq *sequence.Sequencer, logger *slog.Logger) func(persist.Event) {
	lg := logging.Component(logger, "events")
	return func(e persist.Event) {
		kind := outbox.KindCreated
		if e.Origin == persist.OriginRecovered {
			kind = outbox.KindRecovered
		}
		n := seq.Next()
		err := ob.Put(n, outbox.Event{
			Kind:     kind,
			ObjectID: e.ID,
			Class:    uint64(e.Class),
			Time:     e.Time,
		})
		if err != nil {
			lg.Error("outbox write failed",
				slog.Uint64("seq", n),
				slog.String("id", e.ID.String()),
				slog.String("err", err.Error()))
		}
	}
}
