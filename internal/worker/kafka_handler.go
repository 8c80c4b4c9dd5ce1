package worker

import (
	"context"

	"github.com/daydreamsai/lucid-agents-sub001/internal/kafka/consumer"
)

// KafkaHandler adapts consumer records to the engine. Offsets are committed
// through the consumer record when the engine settles the message.
func KafkaHandler(engine *Engine) consumer.Handler {
	return func(ctx context.Context, rec *consumer.Record) error {
		if engine == nil || rec == nil {
			return nil
		}
		engine.HandleRecord(ctx, &Record{
			Topic:     rec.Topic,
			Partition: rec.Partition,
			Offset:    rec.Offset,
			Key:       rec.Key,
			Value:     rec.Value,
			Timestamp: rec.Timestamp,
			Headers:   rec.Headers,
			Commit:    rec.Commit,
		})
		return nil
	}
}
