// Package config holds the server configuration: a JSON file merged over
// defaults, then overridden by command-line flags.
package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/NVSL/rocksdb/infra/kafka"
	"github.com/NVSL/rocksdb/infra/oplog"
	"github.com/NVSL/rocksdb/jobs/broadcaster"
)

const (
	defaultDataDir     = "data"
	defaultAddr        = ":50051"
	defaultParallelism = 4
)

type Config struct {
	DataDir   string         `json:"data_dir,omitempty"`
	LogLevel  string         `json:"log_level,omitempty"`
	LogFormat string         `json:"log_format,omitempty"`
	Log       LogConfig      `json:"oplog"`
	Recovery  RecoveryConfig `json:"recovery"`
	Server    ServerConfig   `json:"server"`
	Events    EventsConfig   `json:"events"`
}

// LogConfig tunes the per-object operation log.
type LogConfig struct {
	RegionSize int `json:"region_size,omitempty"` // bytes per log region
}

type RecoveryConfig struct {
	Parallelism int `json:"parallelism,omitempty"` // objects replayed concurrently at startup
}

type ServerConfig struct {
	Addr string `json:"addr,omitempty"`
}

// EventsConfig selects where lifecycle events are relayed. Driver "none"
// keeps them in the outbox only.
type EventsConfig struct {
	Driver     string   `json:"driver,omitempty"`
	Brokers    []string `json:"brokers,omitempty"`
	Topic      string   `json:"topic,omitempty"`
	IntervalMS int      `json:"interval_ms,omitempty"`
}

func DefaultConfig() Config {
	return Config{
		DataDir:   defaultDataDir,
		LogLevel:  "info",
		LogFormat: "text",
		Log:       LogConfig{RegionSize: oplog.DefaultRegionSize},
		Recovery:  RecoveryConfig{Parallelism: defaultParallelism},
		Server:    ServerConfig{Addr: defaultAddr},
		Events: EventsConfig{
			Driver:     kafka.DriverNone,
			Topic:      "nvkv.lifecycle",
			IntervalMS: int(broadcaster.DefaultInterval / time.Millisecond),
		},
	}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.DataDir != "" {
		c.DataDir = source.DataDir
	}
	if source.LogLevel != "" {
		c.LogLevel = source.LogLevel
	}
	if source.LogFormat != "" {
		c.LogFormat = source.LogFormat
	}
	if source.Log.RegionSize > 0 {
		c.Log.RegionSize = source.Log.RegionSize
	}
	if source.Recovery.Parallelism > 0 {
		c.Recovery.Parallelism = source.Recovery.Parallelism
	}
	if source.Server.Addr != "" {
		c.Server.Addr = source.Server.Addr
	}
	c.Events.Merge(&source.Events)
}

func (c *EventsConfig) Merge(source *EventsConfig) {
	if source.Driver != "" {
		c.Driver = source.Driver
	}
	if len(source.Brokers) > 0 {
		c.Brokers = source.Brokers
	}
	if source.Topic != "" {
		c.Topic = source.Topic
	}
	if source.IntervalMS > 0 {
		c.IntervalMS = source.IntervalMS
	}
}

// Interval is the broadcaster tick.
func (c EventsConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMS) * time.Millisecond
}

// Kafka is the publisher configuration for these events.
func (c EventsConfig) Kafka() kafka.Config {
	return kafka.Config{Driver: c.Driver, Brokers: c.Brokers, Topic: c.Topic}
}

// Validate reports the first setting that cannot work.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("config: data_dir is required")
	}
	if c.Log.RegionSize < 0 {
		return errors.Newf("config: oplog.region_size %d is negative", c.Log.RegionSize)
	}
	switch c.Events.Driver {
	case kafka.DriverNone:
	case kafka.DriverKafkaGo, kafka.DriverSarama:
		if len(c.Events.Brokers) == 0 {
			return errors.Newf("config: events.driver %q needs brokers", c.Events.Driver)
		}
		if c.Events.Topic == "" {
			return errors.New("config: events.topic is required")
		}
	default:
		return errors.Newf("config: unknown events.driver %q", c.Events.Driver)
	}
	return nil
}

// Load reads a JSON config file and merges it over the defaults. An empty
// filename yields the defaults.
func Load(filename string) (*Config, error) {
	cfg := DefaultConfig()
	if filename == "" {
		return &cfg, nil
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrap(err, "config: read file")
	}

	var loaded Config
	if err := json.Unmarshal(data, &loaded); err != nil {
		return nil, errors.Wrap(err, "config: parse file")
	}

	cfg.Merge(&loaded)
	return &cfg, nil
}
