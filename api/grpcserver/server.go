package grpcserver

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/NVSL/rocksdb/api/pb"
	"github.com/NVSL/rocksdb/domain/kv"
	"github.com/NVSL/rocksdb/infra/logging"
	"github.com/NVSL/rocksdb/persist"
	"github.com/NVSL/rocksdb/service"
)

// Server adapts ObjectService to gRPC.
type Server struct {
	pb.UnimplementedObjectStoreServer
	svc *service.ObjectService
	log *slog.Logger
}

func NewServer(svc *service.ObjectService, logger *slog.Logger) *Server {
	return &Server{svc: svc, log: logging.Component(logger, "grpc")}
}

// -------------------- Commands --------------------

func (s *Server) Open(ctx context.Context, req *pb.OpenRequest) (*pb.OpenResponse, error) {
	id, err := parseID(req.ID)
	if err != nil {
		return nil, err
	}
	origin, err := s.svc.Open(ctx, id)
	if err != nil {
		return nil, s.toStatus("Open", err)
	}
	return &pb.OpenResponse{ID: id.String(), Origin: origin.String()}, nil
}

func (s *Server) Apply(ctx context.Context, req *pb.ApplyRequest) (*pb.ApplyResponse, error) {
	id, err := parseID(req.ID)
	if err != nil {
		return nil, err
	}
	op, err := toOp(req.Op, false)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if err := s.svc.Apply(ctx, id, op); err != nil {
		return nil, s.toStatus("Apply", err)
	}
	size, err := s.svc.LogSize(ctx, id)
	if err != nil {
		return nil, s.toStatus("Apply", err)
	}
	return &pb.ApplyResponse{LogBytes: size}, nil
}

// -------------------- Queries --------------------

func (s *Server) Get(ctx context.Context, req *pb.GetRequest) (*pb.GetResponse, error) {
	id, err := parseID(req.ID)
	if err != nil {
		return nil, err
	}
	v, err := s.svc.Get(ctx, id, req.Family, req.Key)
	if errors.Is(err, kv.ErrNotFound) {
		return &pb.GetResponse{}, nil
	}
	if err != nil {
		return nil, s.toStatus("Get", err)
	}
	return &pb.GetResponse{Value: v, Found: true}, nil
}

func (s *Server) Measure(ctx context.Context, req *pb.MeasureRequest) (*pb.MeasureResponse, error) {
	id, err := parseID(req.ID)
	if err != nil {
		return nil, err
	}
	n, err := s.svc.Measure(ctx, id)
	if err != nil {
		return nil, s.toStatus("Measure", err)
	}
	return &pb.MeasureResponse{Bytes: n}, nil
}

// -------------------- Converters --------------------

func parseID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, status.Errorf(codes.InvalidArgument, "invalid object id %q", s)
	}
	return id, nil
}

func toOp(o *pb.Operation, nested bool) (kv.Op, error) {
	if o == nil {
		return nil, errors.New("operation required")
	}
	opts := kv.WriteOptions{Sync: o.Sync}

	switch o.Tag {
	case uint64(kv.TagPut):
		return kv.Put{Options: opts, Key: o.Key, Value: o.Value}, nil
	case uint64(kv.TagPutCF):
		return kv.PutCF{Options: opts, Family: o.Family, Key: o.Key, Value: o.Value}, nil
	case uint64(kv.TagDelete):
		return kv.Delete{Options: opts, Key: o.Key}, nil
	case uint64(kv.TagDeleteCF):
		return kv.DeleteCF{Options: opts, Family: o.Family, Key: o.Key}, nil
	case uint64(kv.TagSingleDelete):
		return kv.SingleDelete{Options: opts, Key: o.Key}, nil
	case uint64(kv.TagSingleDeleteCF):
		return kv.SingleDeleteCF{Options: opts, Family: o.Family, Key: o.Key}, nil
	case uint64(kv.TagDeleteRangeCF):
		return kv.DeleteRangeCF{Options: opts, Family: o.Family, Begin: o.Begin, End: o.End}, nil
	case uint64(kv.TagMerge):
		return kv.Merge{Options: opts, Key: o.Key, Value: o.Value}, nil
	case uint64(kv.TagMergeCF):
		return kv.MergeCF{Options: opts, Family: o.Family, Key: o.Key, Value: o.Value}, nil
	case uint64(kv.TagWriteBatch):
		if nested {
			return nil, errors.New("write batches cannot be nested")
		}
		wb := kv.WriteBatch{Options: opts, Ops: make([]kv.Op, 0, len(o.Batch))}
		for _, sub := range o.Batch {
			op, err := toOp(sub, true)
			if err != nil {
				return nil, err
			}
			wb.Ops = append(wb.Ops, op)
		}
		return wb, nil
	}
	return nil, errors.Newf("unknown operation tag %d", o.Tag)
}

func (s *Server) toStatus(method string, err error) error {
	var code codes.Code
	switch {
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case errors.Is(err, persist.ErrNotFound), errors.Is(err, kv.ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, kv.ErrEmptyKey), errors.Is(err, kv.ErrInvalidRange), errors.Is(err, kv.ErrBadFamily):
		code = codes.InvalidArgument
	case errors.Is(err, persist.ErrClassMismatch):
		code = codes.FailedPrecondition
	default:
		code = codes.Internal
		s.log.Error("request failed", slog.String("method", method), slog.String("err", err.Error()))
	}
	return status.Error(code, err.Error())
}
