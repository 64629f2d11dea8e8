// Package broadcaster relays lifecycle events from the outbox to a broker.
package broadcaster

import (
	"context"
	"log/slog"
	"time"

	"github.com/NVSL/rocksdb/api/pb"
	"github.com/NVSL/rocksdb/infra/kafka"
	"github.com/NVSL/rocksdb/infra/logging"
	"github.com/NVSL/rocksdb/infra/outbox"
)

const DefaultInterval = 250 * time.Millisecond

type Broadcaster struct {
	outbox    *outbox.Outbox
	publisher kafka.Publisher
	interval  time.Duration
	log       *slog.Logger
}

// ------------------------------------------------
// CONSTRUCTOR
// ------------------------------------------------

func New(ob *outbox.Outbox, p kafka.Publisher, interval time.Duration, logger *slog.Logger) *Broadcaster {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Broadcaster{
		outbox:    ob,
		publisher: p,
		interval:  interval,
		log:       logging.Component(logger, "broadcaster"),
	}
}

// ------------------------------------------------
// LOOP
// ------------------------------------------------

// Run relays pending records every interval until ctx is done.
func (b *Broadcaster) Run(ctx context.Context) error {
	b.log.Info("broadcaster started", slog.Duration("interval", b.interval))

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.log.Info("broadcaster stopped")
			return nil
		case <-ticker.C:
			if _, err := b.RelayOnce(ctx); err != nil {
				b.log.Warn("relay pass failed", slog.String("err", err.Error()))
			}
		}
	}
}

// ------------------------------------------------
// RELAY
// ------------------------------------------------

// RelayOnce retries FAILED records, then publishes NEW ones, each in
// sequence order. It returns how many were acknowledged.
//
// SENT records are never retried. One left behind by a crash may or may
// not have reached the broker; the payload carries seq for deduplication.
func (b *Broadcaster) RelayOnce(ctx context.Context) (int, error) {
	acked := 0
	for _, state := range []outbox.State{outbox.StateFailed, outbox.StateNew} {
		var pending []outbox.Record
		if err := b.outbox.ScanByState(state, func(r outbox.Record) error {
			pending = append(pending, r)
			return nil
		}); err != nil {
			return acked, err
		}

		for _, rec := range pending {
			if err := ctx.Err(); err != nil {
				return acked, nil
			}
			ok, err := b.relay(ctx, rec)
			if err != nil {
				return acked, err
			}
			if ok {
				acked++
			}
		}
	}
	return acked, nil
}

func (b *Broadcaster) relay(ctx context.Context, rec outbox.Record) (bool, error) {
	payload, err := (&pb.LifecycleEvent{
		Seq:          rec.Seq,
		Kind:         rec.Event.Kind.String(),
		ObjectID:     rec.Event.ObjectID.String(),
		Class:        rec.Event.Class,
		TimeUnixNano: rec.Event.Time.UnixNano(),
	}).Marshal()
	if err != nil {
		return false, err
	}

	// 1. mark SENT
	if err := b.outbox.MarkSent(rec.Seq); err != nil {
		return false, err
	}

	// 2. publish
	if err := b.publisher.Send(ctx, rec.Event.ObjectID[:], payload); err != nil {
		b.log.Warn("publish failed, will retry",
			slog.Uint64("seq", rec.Seq),
			slog.Uint64("retries", uint64(rec.Retries)+1),
			slog.String("err", err.Error()))
		return false, b.outbox.MarkFailed(rec.Seq)
	}

	// 3. mark ACKED and drop
	if err := b.outbox.MarkAcked(rec.Seq); err != nil {
		return false, err
	}
	return true, b.outbox.Delete(rec.Seq)
}
