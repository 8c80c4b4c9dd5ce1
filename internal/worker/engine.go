package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"reflect"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/daydreamsai/lucid-agents-sub001/internal/kafka/publisher"
	"github.com/daydreamsai/lucid-agents-sub001/internal/metrics"
	"github.com/daydreamsai/lucid-agents-sub001/internal/xmpt"
)

// Config controls retries and concurrency for the inbox engine.
type Config struct {
	MsgMaxBytes int
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	Concurrency int
}

// Record is an inbox record handed to the engine. Commit is called once the
// record reaches a final outcome; it may be nil.
type Record struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Timestamp time.Time
	Headers   map[string][]byte
	Commit    func()
}

// Receiver ingests a parsed message. *xmpt.Runtime satisfies it.
type Receiver interface {
	Receive(ctx context.Context, payload any) (*xmpt.Message, error)
}

// DLQPublisher writes records that could not be processed.
type DLQPublisher interface {
	PublishDLQ(ctx context.Context, rec publisher.DLQRecord) error
}

// Dependencies collects the engine collaborators.
type Dependencies struct {
	Receiver     Receiver
	DLQPublisher DLQPublisher
	Logger       zerolog.Logger
	Now          func() time.Time
}

// Engine feeds Kafka inbox records into the XMPT runtime with bounded
// concurrency, retrying retryable failures with full-jitter backoff.
type Engine struct {
	cfg      Config
	receiver Receiver
	dlq      DLQPublisher
	logger   zerolog.Logger
	now      func() time.Time

	sem *semaphore.Weighted
	wg  sync.WaitGroup

	randMu sync.Mutex
	rnd    *rand.Rand
}

// NewEngine validates cfg and deps.
func NewEngine(cfg Config, deps Dependencies) (*Engine, error) {
	if cfg.MaxAttempts < 1 {
		return nil, errors.New("worker: max attempts must be >= 1")
	}
	if cfg.Concurrency < 1 {
		return nil, errors.New("worker: concurrency must be >= 1")
	}
	if cfg.MsgMaxBytes < 0 {
		return nil, errors.New("worker: msg max bytes cannot be negative")
	}
	if deps.Receiver == nil {
		return nil, errors.New("worker: receiver dependency is required")
	}

	logger := deps.Logger
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	return &Engine{
		cfg:      cfg,
		receiver: deps.Receiver,
		dlq:      deps.DLQPublisher,
		logger:   logger.With().Str("component", "inbox_engine").Logger(),
		now:      now,
		sem:      semaphore.NewWeighted(int64(cfg.Concurrency)),
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// HandleRecord validates record and schedules it for processing. It blocks
// only while waiting for a free worker slot.
func (e *Engine) HandleRecord(ctx context.Context, record *Record) {
	if record == nil {
		return
	}

	if e.cfg.MsgMaxBytes > 0 && len(record.Value) > e.cfg.MsgMaxBytes {
		err := fmt.Errorf("payload exceeds maximum size: got %d bytes, limit %d bytes", len(record.Value), e.cfg.MsgMaxBytes)
		e.logger.Warn().Err(err).Int64("offset", record.Offset).Msg("worker: record discarded because it exceeds configured size limit")
		e.fail(ctx, record, nil, FailureTypeValidation, 0, err)
		return
	}

	msg, err := xmpt.ParseMessage(json.RawMessage(record.Value))
	if err != nil {
		e.logger.Warn().Err(err).Int64("offset", record.Offset).Msg("worker: invalid xmpt payload")
		e.fail(ctx, record, nil, FailureTypeValidation, 0, err)
		return
	}

	if err := e.sem.Acquire(ctx, 1); err != nil {
		e.logger.Warn().Err(err).Str("message_id", msg.ID).Msg("worker: failed to acquire concurrency slot")
		return
	}

	e.wg.Add(1)
	go e.process(ctx, record, msg)
}

// Wait blocks until in-flight records finish.
func (e *Engine) Wait() {
	e.wg.Wait()
}

func (e *Engine) process(ctx context.Context, record *Record, msg *xmpt.Message) {
	defer e.wg.Done()
	defer e.sem.Release(1)

	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			e.logger.Warn().Str("message_id", msg.ID).Msg("worker: context cancelled; leaving record uncommitted")
			return
		}

		start := e.now()
		reply, err := e.receiver.Receive(ctx, msg)
		log := e.logger.With().
			Str("message_id", msg.ID).
			Str("thread_id", msg.ThreadID).
			Int("attempt", attempt).
			Dur("duration", e.now().Sub(start)).
			Logger()

		if err == nil {
			evt := log.Info()
			if reply != nil {
				evt = evt.Str("reply_id", reply.ID)
			}
			evt.Msg("worker: inbox message processed")
			metrics.InboxRecordsTotal.WithLabelValues("processed").Inc()
			e.commit(record)
			return
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			log.Warn().Err(err).Msg("worker: context cancelled during receive; deferring commit for reprocessing")
			return
		}

		failure, retryable := classify(err)
		if !retryable || attempt >= e.cfg.MaxAttempts {
			log.Error().Err(err).Str("failure_type", string(failure)).Msg("worker: giving up on inbox message")
			e.fail(ctx, record, msg, failure, attempt, err)
			return
		}

		backoff := e.backoff(attempt)
		log.Warn().Err(err).Dur("backoff", backoff).Msg("worker: retrying inbox message")
		if !e.sleep(ctx, backoff) {
			return
		}
	}
}

func (e *Engine) fail(ctx context.Context, record *Record, msg *xmpt.Message, failure FailureType, attempts int, cause error) {
	metrics.InboxRecordsTotal.WithLabelValues(string(failure)).Inc()

	if e.dlq != nil {
		entry := publisher.DLQRecord{
			ErrorClass: string(failure),
			ErrorCode:  string(xmpt.CodeOf(cause)),
			Error:      cause.Error(),
			Attempts:   attempts,
			Topic:      record.Topic,
			Partition:  record.Partition,
			Offset:     record.Offset,
			FailedAt:   e.now(),
		}
		if msg != nil {
			entry.MessageID = msg.ID
			entry.ThreadID = msg.ThreadID
		} else {
			entry.MessageID = string(record.Key)
		}
		if json.Valid(record.Value) {
			entry.Payload = json.RawMessage(record.Value)
		} else {
			entry.RawPayload = string(record.Value)
		}
		if err := e.dlq.PublishDLQ(ctx, entry); err != nil {
			e.logger.Error().Err(err).Str("message_id", entry.MessageID).Msg("worker: failed to publish DLQ record")
		}
	}
	e.commit(record)
}

func (e *Engine) commit(record *Record) {
	if record.Commit != nil {
		record.Commit()
	}
}

func (e *Engine) backoff(attempt int) time.Duration {
	if e.cfg.BaseBackoff <= 0 {
		return 0
	}
	ceiling := time.Duration(float64(e.cfg.BaseBackoff) * math.Pow(2, float64(attempt-1)))
	if e.cfg.MaxBackoff > 0 && ceiling > e.cfg.MaxBackoff {
		ceiling = e.cfg.MaxBackoff
	}
	if ceiling <= 0 {
		return 0
	}

	e.randMu.Lock()
	defer e.randMu.Unlock()
	return time.Duration(e.rnd.Int63n(int64(ceiling) + 1))
}

func (e *Engine) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
