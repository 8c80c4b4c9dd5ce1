package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/rs/zerolog"

	"github.com/daydreamsai/lucid-agents-sub001/internal/kafka/producer"
	"github.com/daydreamsai/lucid-agents-sub001/internal/xmpt"
)

var errProducerNotInitialised = errors.New("kafka publisher: producer not initialised")

const contentTypeJSON = "application/json"

// SyncSender publishes and waits for acknowledgement.
type SyncSender interface {
	Send(ctx context.Context, msg producer.Message) error
}

// AsyncSender publishes without waiting.
type AsyncSender interface {
	Enqueue(msg producer.Message) error
}

// MirrorStore decorates an xmpt.Store and mirrors every appended record to a
// Kafka topic keyed by thread id. Mirroring is best effort: the inner store
// decides the result of Append.
type MirrorStore struct {
	xmpt.Store
	sender AsyncSender
	topic  string
	logger zerolog.Logger
}

// NewMirrorStore wraps inner. A nil sender or empty topic returns inner
// unchanged.
func NewMirrorStore(inner xmpt.Store, sender AsyncSender, topic string, logger zerolog.Logger) xmpt.Store {
	if sender == nil || (reflect.ValueOf(sender).Kind() == reflect.Ptr && reflect.ValueOf(sender).IsNil()) || topic == "" {
		return inner
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	return &MirrorStore{
		Store:  inner,
		sender: sender,
		topic:  topic,
		logger: logger.With().Str("component", "xmpt_mirror").Logger(),
	}
}

func (m *MirrorStore) Append(ctx context.Context, rec xmpt.Record) error {
	if err := m.Store.Append(ctx, rec); err != nil {
		return err
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		m.logger.Warn().Err(err).Str("message_id", rec.ID).Msg("xmpt mirror marshal failed")
		return nil
	}
	msg := producer.Message{
		Topic: m.topic,
		Key:   rec.ThreadID,
		Headers: map[string]string{
			"content-type":   contentTypeJSON,
			"xmpt-direction": string(rec.Direction),
			"xmpt-message":   rec.ID,
		},
		Value: payload,
	}
	if err := m.sender.Enqueue(msg); err != nil {
		m.logger.Warn().Err(err).Str("message_id", rec.ID).Msg("xmpt mirror publish failed")
	}
	return nil
}

// Error classes recorded on DLQ entries.
const (
	ErrorClassValidation = "validation"
	ErrorClassTransient  = "transient"
	ErrorClassPermanent  = "permanent"
	ErrorClassUnknown    = "unknown"
)

// DLQRecord describes an inbox record that could not be processed.
type DLQRecord struct {
	MessageID  string          `json:"messageId,omitempty"`
	ThreadID   string          `json:"threadId,omitempty"`
	ErrorClass string          `json:"errorClass"`
	ErrorCode  string          `json:"errorCode,omitempty"`
	Error      string          `json:"error"`
	Attempts   int             `json:"attempts"`
	Topic      string          `json:"topic"`
	Partition  int32           `json:"partition"`
	Offset     int64           `json:"offset"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	RawPayload string          `json:"rawPayload,omitempty"`
	FailedAt   time.Time       `json:"failedAt"`
}

// DLQPublisher writes DLQ records synchronously.
type DLQPublisher struct {
	sender SyncSender
	topic  string
}

// NewDLQPublisher constructs a DLQPublisher.
func NewDLQPublisher(sender SyncSender, topic string) *DLQPublisher {
	if sender == nil {
		return nil
	}
	return &DLQPublisher{sender: sender, topic: topic}
}

// PublishDLQ writes rec to the DLQ topic.
func (p *DLQPublisher) PublishDLQ(ctx context.Context, rec DLQRecord) error {
	if p == nil || p.sender == nil {
		return errProducerNotInitialised
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("kafka publisher: marshal dlq record: %w", err)
	}
	key := rec.ThreadID
	if key == "" {
		key = rec.MessageID
	}
	msg := producer.Message{
		Topic: p.topic,
		Key:   key,
		Headers: map[string]string{
			"content-type": contentTypeJSON,
			"error-class":  rec.ErrorClass,
		},
		Value: payload,
	}
	if err := p.sender.Send(ctx, msg); err != nil {
		return fmt.Errorf("kafka publisher: publish dlq record: %w", err)
	}
	return nil
}
