package kafka

import (
	"context"

	"github.com/IBM/sarama"
)

// SaramaProducer is a Publisher on top of a sarama SyncProducer.
type SaramaProducer struct {
	producer sarama.SyncProducer
	topic    string
}

func NewSaramaProducer(brokers []string, topic string) (*SaramaProducer, error) {
	p, err := sarama.NewSyncProducer(brokers, saramaConfig())
	if err != nil {
		return nil, err
	}
	return newSaramaProducer(p, topic), nil
}

func newSaramaProducer(p sarama.SyncProducer, topic string) *SaramaProducer {
	return &SaramaProducer{producer: p, topic: topic}
}

func saramaConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	return cfg
}

// Send blocks until the broker acks. SyncProducer has no context support;
// ctx is only checked before sending.
func (p *SaramaProducer) Send(ctx context.Context, key, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, _, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.ByteEncoder(key),
		Value: sarama.ByteEncoder(value),
	})
	return err
}

func (p *SaramaProducer) Close() error {
	return p.producer.Close()
}
