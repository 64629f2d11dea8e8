package main

import (
	"log/slog"
	"net"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/NVSL/rocksdb/api/grpcserver"
	"github.com/NVSL/rocksdb/api/pb"
	"github.com/NVSL/rocksdb/infra/kafka"
	"github.com/NVSL/rocksdb/infra/outbox"
	"github.com/NVSL/rocksdb/infra/sequence"
	"github.com/NVSL/rocksdb/jobs/broadcaster"
	"github.com/NVSL/rocksdb/service"
)

func newServeCmd(flags *rootFlags) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Recover all objects and serve the gRPC API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := flags.load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			// ---------------- Manager ----------------

			mgr, err := openManager(cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := mgr.Close(); err != nil {
					logger.Error("close manager", slog.String("err", err.Error()))
				}
			}()

			// ---------------- Outbox ----------------

			ob := outbox.New(mgr.DB())
			last, err := ob.LastSeq()
			if err != nil {
				return err
			}
			mgr.SetEventHook(service.EventRecorder(ob, sequence.New(last), logger))

			// ---------------- RECOVERY ----------------

			if _, err := service.Recover(ctx, mgr, logger); err != nil {
				return err
			}

			// ---------------- Background Jobs ----------------

			g, ctx := errgroup.WithContext(ctx)

			pub, err := kafka.NewPublisher(cfg.Events.Kafka())
			if err != nil {
				return err
			}
			if pub != nil {
				defer pub.Close()
				bc := broadcaster.New(ob, pub, cfg.Events.Interval(), logger)
				g.Go(func() error { return bc.Run(ctx) })
			}

			// ---------------- gRPC ----------------

			lis, err := net.Listen("tcp", cfg.Server.Addr)
			if err != nil {
				return err
			}
			srv := grpc.NewServer()
			pb.RegisterObjectStoreServer(srv, grpcserver.NewServer(service.NewObjectService(mgr, logger), logger))

			g.Go(func() error {
				logger.Info("serving", slog.String("addr", lis.Addr().String()))
				return srv.Serve(lis)
			})
			g.Go(func() error {
				<-ctx.Done()
				srv.GracefulStop()
				return nil
			})

			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	return cmd
}
