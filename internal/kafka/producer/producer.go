package producer

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"
)

const defaultClientID = "xmpt-agent-producer"

// Message is a single record to publish.
type Message struct {
	Topic   string
	Key     string
	Headers map[string]string
	Value   []byte
}

// Option customises the producer during construction.
type Option func(*sarama.Config)

// WithClientID sets the Kafka client id.
func WithClientID(id string) Option {
	return func(cfg *sarama.Config) {
		if id != "" {
			cfg.ClientID = id
		}
	}
}

// WithVersion pins the Kafka protocol version.
func WithVersion(v sarama.KafkaVersion) Option {
	return func(cfg *sarama.Config) {
		cfg.Version = v
	}
}

// Producer pairs a sync producer, used where delivery must be confirmed, with
// an async producer for best-effort mirroring. Both share one client.
type Producer struct {
	logger zerolog.Logger

	client sarama.Client
	sync   sarama.SyncProducer
	async  sarama.AsyncProducer

	ready   atomic.Bool
	dropped atomic.Int64

	wg sync.WaitGroup
}

// New connects to brokers.
func New(brokers []string, logger zerolog.Logger, opts ...Option) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka producer: at least one broker is required")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}

	client, err := sarama.NewClient(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: create client: %w", err)
	}
	syncProd, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("kafka producer: create sync producer: %w", err)
	}
	asyncProd, err := sarama.NewAsyncProducerFromClient(client)
	if err != nil {
		syncProd.Close()
		client.Close()
		return nil, fmt.Errorf("kafka producer: create async producer: %w", err)
	}

	p := &Producer{
		logger: logger.With().Str("component", "kafka_producer").Logger(),
		client: client,
		sync:   syncProd,
		async:  asyncProd,
	}
	p.ready.Store(len(client.Brokers()) > 0)

	p.wg.Add(2)
	go p.drainSuccesses()
	go p.drainErrors()
	return p, nil
}

// Send publishes msg and waits for the broker acknowledgement.
func (p *Producer) Send(ctx context.Context, msg Message) error {
	if msg.Topic == "" {
		return errors.New("kafka producer: topic is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, _, err := p.sync.SendMessage(toSarama(msg)); err != nil {
		p.ready.Store(false)
		return fmt.Errorf("kafka producer: send %s: %w", msg.Topic, err)
	}
	p.ready.Store(true)
	return nil
}

// Enqueue hands msg to the async producer without blocking. A full input
// buffer drops the message and returns an error.
func (p *Producer) Enqueue(msg Message) error {
	if msg.Topic == "" {
		return errors.New("kafka producer: topic is required")
	}
	select {
	case p.async.Input() <- toSarama(msg):
		return nil
	default:
		p.dropped.Add(1)
		return errors.New("kafka producer: async buffer full")
	}
}

// Ready reports whether the last interaction with the cluster succeeded.
func (p *Producer) Ready() bool {
	return p.ready.Load()
}

// Close flushes the async producer and releases the client.
func (p *Producer) Close() error {
	var errs []error
	if err := p.async.Close(); err != nil {
		errs = append(errs, err)
	}
	p.wg.Wait()
	if err := p.sync.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := p.client.Close(); err != nil {
		errs = append(errs, err)
	}
	if n := p.dropped.Load(); n > 0 {
		p.logger.Warn().Int64("dropped", n).Msg("kafka producer dropped async messages")
	}
	return errors.Join(errs...)
}

func (p *Producer) drainSuccesses() {
	defer p.wg.Done()
	for range p.async.Successes() {
		p.ready.Store(true)
	}
}

func (p *Producer) drainErrors() {
	defer p.wg.Done()
	for perr := range p.async.Errors() {
		p.ready.Store(false)
		if perr == nil {
			continue
		}
		evt := p.logger.Error().Err(perr.Err)
		if perr.Msg != nil {
			evt = evt.Str("topic", perr.Msg.Topic)
		}
		evt.Msg("kafka producer async error")
	}
}

func toSarama(msg Message) *sarama.ProducerMessage {
	out := &sarama.ProducerMessage{
		Topic: msg.Topic,
		Value: sarama.ByteEncoder(msg.Value),
	}
	if msg.Key != "" {
		out.Key = sarama.StringEncoder(msg.Key)
	}
	for k, v := range msg.Headers {
		out.Headers = append(out.Headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}
	return out
}

func defaultConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = defaultClientID
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 6
	cfg.Producer.Retry.Backoff = 250 * time.Millisecond
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = true
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1
	return cfg
}
