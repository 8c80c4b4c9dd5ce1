package consumer

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

const (
	defaultClientID      = "xmpt-agent-inbox"
	defaultRejoinBackoff = time.Second
)

// Handler is invoked for every record. It owns committing the record.
type Handler func(ctx context.Context, record *Record) error

// Config describes the consumer group subscription.
type Config struct {
	Brokers []string
	GroupID string
	Topics  []string
	// CommitOnSuccessOnly disables auto-commit so offsets only advance when
	// a record is explicitly committed.
	CommitOnSuccessOnly bool
}

// Record is a Kafka message plus the session needed to commit it.
type Record struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Timestamp time.Time
	Headers   map[string][]byte

	session   sarama.ConsumerGroupSession
	message   *sarama.ConsumerMessage
	flush     bool
	committed atomic.Bool
}

// Commit marks the record processed. Repeated calls are no-ops. Records
// built outside a consumer session commit trivially.
func (r *Record) Commit() {
	if !r.committed.CompareAndSwap(false, true) {
		return
	}
	if r.session == nil || r.message == nil {
		return
	}
	r.session.MarkMessage(r.message, "")
	if r.flush {
		r.session.Commit()
	}
}

// Committed reports whether Commit has been called.
func (r *Record) Committed() bool {
	return r.committed.Load()
}

// Consumer runs a sarama consumer group over the configured topics.
type Consumer struct {
	logger zerolog.Logger
	cfg    Config
	group  sarama.ConsumerGroup

	ready      atomic.Bool
	errorsDone chan struct{}
	wg         sync.WaitGroup
}

// New joins nothing yet; it validates cfg and creates the group client.
func New(cfg Config, logger zerolog.Logger) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka consumer: at least one broker is required")
	}
	if cfg.GroupID == "" {
		return nil, errors.New("kafka consumer: group id is required")
	}
	if len(cfg.Topics) == 0 {
		return nil, errors.New("kafka consumer: at least one topic is required")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig(cfg.CommitOnSuccessOnly))
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: create consumer group: %w", err)
	}

	c := &Consumer{
		logger:     logger.With().Str("component", "kafka_consumer").Str("group_id", cfg.GroupID).Logger(),
		cfg:        cfg,
		group:      group,
		errorsDone: make(chan struct{}),
	}
	go c.logErrors()
	return c, nil
}

// Run consumes until ctx is cancelled or the group is closed. Rebalances and
// transient broker errors rejoin after a short pause.
func (c *Consumer) Run(ctx context.Context, handler Handler) error {
	if handler == nil {
		return errors.New("kafka consumer: handler is required")
	}
	c.wg.Add(1)
	defer c.wg.Done()

	gh := &groupHandler{consumer: c, handler: handler}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := c.group.Consume(ctx, c.cfg.Topics, gh)
		switch {
		case err == nil:
			continue
		case errors.Is(err, sarama.ErrClosedConsumerGroup):
			return nil
		}
		c.logger.Error().Err(err).Msg("kafka consumer: consume error")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(defaultRejoinBackoff):
		}
	}
}

// Ready reports whether the consumer currently holds a group session.
func (c *Consumer) Ready() bool {
	return c.ready.Load()
}

// Close leaves the group and waits for Run to return.
func (c *Consumer) Close() error {
	err := c.group.Close()
	c.wg.Wait()
	<-c.errorsDone
	return err
}

func (c *Consumer) logErrors() {
	defer close(c.errorsDone)
	for err := range c.group.Errors() {
		if err != nil {
			c.logger.Error().Err(err).Msg("kafka consumer error")
		}
	}
}

type groupHandler struct {
	consumer *Consumer
	handler  Handler
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error {
	h.consumer.ready.Store(true)
	h.consumer.logger.Info().Msg("kafka consumer group joined")
	return nil
}

func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	h.consumer.ready.Store(false)
	h.consumer.logger.Info().Msg("kafka consumer group released")
	return nil
}

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-session.Context().Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			record := &Record{
				Topic:     msg.Topic,
				Partition: msg.Partition,
				Offset:    msg.Offset,
				Key:       msg.Key,
				Value:     msg.Value,
				Timestamp: msg.Timestamp,
				Headers:   headerMap(msg.Headers),
				session:   session,
				message:   msg,
				flush:     h.consumer.cfg.CommitOnSuccessOnly,
			}
			if err := h.handler(session.Context(), record); err != nil {
				h.consumer.logger.Error().
					Err(err).
					Str("topic", msg.Topic).
					Int32("partition", msg.Partition).
					Int64("offset", msg.Offset).
					Msg("kafka consumer handler error")
			}
		}
	}
}

func saramaConfig(commitOnSuccessOnly bool) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.ClientID = defaultClientID
	cfg.Consumer.Group.Session.Timeout = 30 * time.Second
	cfg.Consumer.Group.Heartbeat.Interval = 3 * time.Second
	cfg.Consumer.Group.Rebalance.Timeout = 30 * time.Second
	cfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRange()}
	cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	cfg.Consumer.Offsets.AutoCommit.Enable = !commitOnSuccessOnly
	cfg.Consumer.Return.Errors = true
	return cfg
}

func headerMap(headers []*sarama.RecordHeader) map[string][]byte {
	if len(headers) == 0 {
		return nil
	}
	out := make(map[string][]byte, len(headers))
	for _, hdr := range headers {
		if hdr == nil || len(hdr.Key) == 0 {
			continue
		}
		out[string(hdr.Key)] = hdr.Value
	}
	return out
}
