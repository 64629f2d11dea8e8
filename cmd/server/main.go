package main

import (
	"log/slog"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/NVSL/rocksdb/config"
	"github.com/NVSL/rocksdb/domain/pdb"
	"github.com/NVSL/rocksdb/infra/logging"
	"github.com/NVSL/rocksdb/persist"
)

type rootFlags struct {
	configFile string
	dataDir    string
	logLevel   string
	logFormat  string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var flags rootFlags

	root := &cobra.Command{
		Use:          "nvkv",
		Short:        "Persistent key-value objects backed by per-object operation logs",
		SilenceUsage: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&flags.configFile, "config", "", "JSON config file")
	pf.StringVar(&flags.dataDir, "data-dir", "", "data directory (overrides config)")
	pf.StringVar(&flags.logLevel, "log-level", "", "debug, info, warn or error")
	pf.StringVar(&flags.logFormat, "log-format", "", "text or json")

	root.AddCommand(newServeCmd(&flags), newInspectCmd(&flags))
	return root
}

// load merges the config file, then the flags, over the defaults.
func (f *rootFlags) load() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(f.configFile)
	if err != nil {
		return nil, nil, err
	}
	cfg.Merge(&config.Config{
		DataDir:   f.dataDir,
		LogLevel:  f.logLevel,
		LogFormat: f.logFormat,
	})
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, nil, errors.Wrap(err, "logging")
	}
	return cfg, logger, nil
}

func openManager(cfg *config.Config, logger *slog.Logger) (*persist.Manager, error) {
	mgr, err := persist.Open(persist.Options{
		Dir:                 cfg.DataDir,
		LogRegionSize:       cfg.Log.RegionSize,
		RecoveryParallelism: cfg.Recovery.Parallelism,
		Logger:              logger,
	})
	if err != nil {
		return nil, err
	}
	mgr.Register(pdb.Class())
	return mgr, nil
}
