package service

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/NVSL/rocksdb/domain/kv"
	"github.com/NVSL/rocksdb/domain/pdb"
	"github.com/NVSL/rocksdb/infra/logging"
	"github.com/NVSL/rocksdb/persist"
)

/*
ObjectService is the ONLY write entry point into the system.

IMPORTANT:
- Recover must have run before the service takes traffic
- every mutation is logged before it is applied (pdb.PDB.Apply)
- reads never touch the log
*/
type ObjectService struct {
	mgr *persist.Manager
	log *slog.Logger
}

// NewObjectService wires the manager. No globals.
func NewObjectService(mgr *persist.Manager, logger *slog.Logger) *ObjectService {
	return &ObjectService{
		mgr: mgr,
		log: logging.Component(logger, "service"),
	}
}

// ──────────────────────────────────────────────────────────
// Commands
// ──────────────────────────────────────────────────────────

// Open makes id live, creating it if it has never existed.
func (s *ObjectService) Open(ctx context.Context, id uuid.UUID) (persist.Origin, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	_, origin, err := s.mgr.Resolve(id, pdb.ClassID)
	if err != nil {
		return 0, err
	}
	s.log.Debug("object opened", slog.String("id", id.String()), slog.String("origin", origin.String()))
	return origin, nil
}

// Apply runs one mutation against id.
func (s *ObjectService) Apply(ctx context.Context, id uuid.UUID, op kv.Op) error {
	db, err := s.object(ctx, id)
	if err != nil {
		return err
	}
	return db.Apply(op)
}

// ──────────────────────────────────────────────────────────
// Queries
// ──────────────────────────────────────────────────────────

func (s *ObjectService) Get(ctx context.Context, id uuid.UUID, family string, key []byte) ([]byte, error) {
	db, err := s.object(ctx, id)
	if err != nil {
		return nil, err
	}
	if family == "" {
		family = kv.DefaultFamily
	}
	return db.GetCF(family, key)
}

// Measure returns how many log bytes id's history occupies.
func (s *ObjectService) Measure(ctx context.Context, id uuid.UUID) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return s.mgr.Measure(id)
}

// LogSize is the committed size of id's log, without a replay.
func (s *ObjectService) LogSize(ctx context.Context, id uuid.UUID) (int64, error) {
	db, err := s.object(ctx, id)
	if err != nil {
		return 0, err
	}
	return db.LogSize(), nil
}

// object returns the live PDB for an existing id. Reads and writes never
// create objects implicitly; Open does.
func (s *ObjectService) object(ctx context.Context, id uuid.UUID) (*pdb.PDB, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return persist.Reattach[*pdb.PDB](s.mgr, pdb.ClassID, id)
}
