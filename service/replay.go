package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/NVSL/rocksdb/infra/logging"
	"github.com/NVSL/rocksdb/persist"
)

/*
Recover rebuilds every cataloged object from its log.

IMPORTANT:
- This MUST run before accepting traffic
- an undecodable entry aborts the process (panic); bytes are never skipped
*/
func Recover(ctx context.Context, mgr *persist.Manager, logger *slog.Logger) (int, error) {
	lg := logging.Component(logger, "recovery")
	start := time.Now()

	n, err := mgr.Recover(ctx)
	if err != nil {
		return 0, err
	}
	lg.Info("recovery completed",
		slog.Int("objects", n),
		slog.Duration("took", time.Since(start)))
	return n, nil
}
