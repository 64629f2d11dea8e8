// Package kafka publishes keyed messages to a Kafka topic. Two client
// libraries are supported; NewPublisher picks one by driver name.
package kafka

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/segmentio/kafka-go"
)

// Publisher delivers one message synchronously: a nil error means the
// broker acknowledged it.
type Publisher interface {
	Send(ctx context.Context, key, value []byte) error
	Close() error
}

const (
	DriverNone     = "none"
	DriverKafkaGo  = "kafka-go"
	DriverSarama   = "sarama"
	defaultTimeout = 10 * time.Second
)

type Config struct {
	Driver  string
	Brokers []string
	Topic   string
}

// NewPublisher returns nil for DriverNone.
func NewPublisher(cfg Config) (Publisher, error) {
	switch cfg.Driver {
	case "", DriverNone:
		return nil, nil
	case DriverKafkaGo:
		return NewProducer(cfg.Brokers, cfg.Topic), nil
	case DriverSarama:
		return NewSaramaProducer(cfg.Brokers, cfg.Topic)
	}
	return nil, errors.Newf("kafka: unknown driver %q", cfg.Driver)
}

// -------------------- kafka-go --------------------

type Producer struct {
	writer *kafka.Writer
}

func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: defaultTimeout,
		},
	}
}

func (p *Producer) Send(ctx context.Context, key, value []byte) error {
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   key,
		Value: value,
	})
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
