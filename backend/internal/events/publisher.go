package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog/log"
)

// Publisher writes records to the durable log. Failures are returned so the
// caller can log them.
type Publisher interface {
	PublishOperation(ctx context.Context, rec OperationRecord) error
	PublishEvent(ctx context.Context, evt DocumentEvent) error
}

// ProducerFactory opens a producer. Tests swap in sarama/mocks.
type ProducerFactory func(brokers []string, cfg *sarama.Config) (sarama.SyncProducer, error)

type KafkaOptions struct {
	Brokers         []string
	ClientID        string
	OperationsTopic string
	EventsTopic     string
	Factory         ProducerFactory
}

// KafkaPublisher keys every message by document id so the hash partitioner
// keeps one document's records in a single partition.
type KafkaPublisher struct {
	opts KafkaOptions
	cfg  *sarama.Config

	mu       sync.Mutex
	producer sarama.SyncProducer
	closed   bool
}

func NewProducerConfig(clientID string) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = clientID
	// SyncProducer requires Return.Successes
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	return cfg
}

func NewKafkaPublisher(opts KafkaOptions) *KafkaPublisher {
	if opts.ClientID == "" {
		opts.ClientID = DefaultClientID
	}
	if opts.OperationsTopic == "" {
		opts.OperationsTopic = TopicOperations
	}
	if opts.EventsTopic == "" {
		opts.EventsTopic = TopicEvents
	}
	if opts.Factory == nil {
		opts.Factory = sarama.NewSyncProducer
	}
	return &KafkaPublisher{opts: opts, cfg: NewProducerConfig(opts.ClientID)}
}

// Connect opens the producer once. Later calls reuse it.
func (p *KafkaPublisher) Connect(ctx context.Context) error {
	_, err := p.connect()
	return err
}

func (p *KafkaPublisher) connect() (sarama.SyncProducer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrPublisherClosed
	}
	if p.producer != nil {
		return p.producer, nil
	}
	producer, err := p.opts.Factory(p.opts.Brokers, p.cfg)
	if err != nil {
		return nil, fmt.Errorf("connect kafka producer: %w", err)
	}
	p.producer = producer
	log.Info().Strs("brokers", p.opts.Brokers).Msg("kafka producer connected")
	return producer, nil
}

func (p *KafkaPublisher) PublishOperation(ctx context.Context, rec OperationRecord) error {
	if err := p.send(ctx, p.opts.OperationsTopic, rec.DocumentID, rec); err != nil {
		return err
	}
	log.Debug().Str("type", string(rec.Type)).Str("docId", rec.DocumentID).Int64("version", rec.Version).Msg("document operation published")
	return nil
}

func (p *KafkaPublisher) PublishEvent(ctx context.Context, evt DocumentEvent) error {
	if err := p.send(ctx, p.opts.EventsTopic, evt.DocumentID, evt); err != nil {
		return err
	}
	log.Debug().Str("type", string(evt.Type)).Str("docId", evt.DocumentID).Msg("document event published")
	return nil
}

func (p *KafkaPublisher) send(ctx context.Context, topic, key string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	producer, err := p.connect()
	if err != nil {
		return err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, _, err = producer.SendMessage(&sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(b),
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// Close releases the producer. Publishing after Close fails with
// ErrPublisherClosed.
func (p *KafkaPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.producer == nil {
		return nil
	}
	err := p.producer.Close()
	p.producer = nil
	log.Info().Msg("kafka producer disconnected")
	return err
}
