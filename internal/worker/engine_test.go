package worker_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"

	"github.com/daydreamsai/lucid-agents-sub001/internal/kafka/consumer"
	"github.com/daydreamsai/lucid-agents-sub001/internal/kafka/publisher"
	"github.com/daydreamsai/lucid-agents-sub001/internal/worker"
	"github.com/daydreamsai/lucid-agents-sub001/internal/xmpt"
)

const validPayload = `{"id":"m1","threadId":"t1","from":"beta","content":{"text":"hi"},"createdAt":"2025-01-01T00:00:00.000Z"}`

type receiverStub struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (r *receiverStub) Receive(_ context.Context, payload any) (*xmpt.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if _, ok := payload.(*xmpt.Message); !ok {
		return nil, errors.New("unexpected payload type")
	}
	if len(r.errs) == 0 {
		return nil, nil
	}
	idx := r.calls - 1
	if idx >= len(r.errs) {
		idx = len(r.errs) - 1
	}
	return nil, r.errs[idx]
}

func (r *receiverStub) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type dlqCollector struct {
	mu      sync.Mutex
	records []publisher.DLQRecord
}

func (d *dlqCollector) PublishDLQ(_ context.Context, rec publisher.DLQRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.records = append(d.records, rec)
	return nil
}

func (d *dlqCollector) Records() []publisher.DLQRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]publisher.DLQRecord(nil), d.records...)
}

func newEngine(t *testing.T, recv worker.Receiver, dlq worker.DLQPublisher, attempts int) *worker.Engine {
	t.Helper()
	eng, err := worker.NewEngine(worker.Config{
		MsgMaxBytes: 1024,
		MaxAttempts: attempts,
		Concurrency: 2,
	}, worker.Dependencies{
		Receiver:     recv,
		DLQPublisher: dlq,
		Logger:       zerolog.New(io.Discard),
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return eng
}

func record(value string, commits *atomic.Int32) *worker.Record {
	return &worker.Record{
		Topic:  "xmpt.inbox",
		Offset: 42,
		Key:    []byte("k1"),
		Value:  []byte(value),
		Commit: func() { commits.Add(1) },
	}
}

func TestNewEngineValidatesConfig(t *testing.T) {
	if _, err := worker.NewEngine(worker.Config{MaxAttempts: 0, Concurrency: 1}, worker.Dependencies{Receiver: &receiverStub{}}); err == nil {
		t.Fatalf("expected max attempts error")
	}
	if _, err := worker.NewEngine(worker.Config{MaxAttempts: 1, Concurrency: 0}, worker.Dependencies{Receiver: &receiverStub{}}); err == nil {
		t.Fatalf("expected concurrency error")
	}
	if _, err := worker.NewEngine(worker.Config{MaxAttempts: 1, Concurrency: 1}, worker.Dependencies{}); err == nil {
		t.Fatalf("expected receiver error")
	}
}

func TestEngineProcessesAndCommits(t *testing.T) {
	recv := &receiverStub{}
	dlq := &dlqCollector{}
	eng := newEngine(t, recv, dlq, 3)

	var commits atomic.Int32
	eng.HandleRecord(context.Background(), record(validPayload, &commits))
	eng.Wait()

	if commits.Load() != 1 || recv.Calls() != 1 {
		t.Fatalf("commits = %d, calls = %d", commits.Load(), recv.Calls())
	}
	if len(dlq.Records()) != 0 {
		t.Fatalf("unexpected DLQ records")
	}
}

func TestEngineRoutesInvalidPayloadToDLQ(t *testing.T) {
	recv := &receiverStub{}
	dlq := &dlqCollector{}
	eng := newEngine(t, recv, dlq, 3)

	var commits atomic.Int32
	eng.HandleRecord(context.Background(), record(`{"id":"m1","threadId":"t1","content":{}}`, &commits))
	eng.Wait()

	records := dlq.Records()
	if len(records) != 1 || records[0].ErrorClass != string(worker.FailureTypeValidation) {
		t.Fatalf("unexpected DLQ records: %+v", records)
	}
	if records[0].ErrorCode != string(xmpt.CodeInvalidMessagePayload) || records[0].MessageID != "k1" {
		t.Fatalf("unexpected DLQ entry: %+v", records[0])
	}
	if commits.Load() != 1 || recv.Calls() != 0 {
		t.Fatalf("commits = %d, calls = %d", commits.Load(), recv.Calls())
	}
}

func TestEngineRejectsOversizedRecords(t *testing.T) {
	dlq := &dlqCollector{}
	eng := newEngine(t, &receiverStub{}, dlq, 1)

	var commits atomic.Int32
	big := make([]byte, 2048)
	for i := range big {
		big[i] = 'x'
	}
	eng.HandleRecord(context.Background(), record(string(big), &commits))

	records := dlq.Records()
	if len(records) != 1 || records[0].RawPayload == "" {
		t.Fatalf("unexpected DLQ records: %+v", records)
	}
	if commits.Load() != 1 {
		t.Fatalf("expected commit")
	}
}

func TestEngineRetriesTransientFailures(t *testing.T) {
	recv := &receiverStub{errs: []error{
		&xmpt.Error{Code: xmpt.CodePeerUnreachable, Message: "down"},
		nil,
	}}
	dlq := &dlqCollector{}
	eng := newEngine(t, recv, dlq, 3)

	var commits atomic.Int32
	eng.HandleRecord(context.Background(), record(validPayload, &commits))
	eng.Wait()

	if recv.Calls() != 2 || commits.Load() != 1 || len(dlq.Records()) != 0 {
		t.Fatalf("calls = %d, commits = %d, dlq = %d", recv.Calls(), commits.Load(), len(dlq.Records()))
	}
}

func TestEngineDLQsAfterMaxAttempts(t *testing.T) {
	recv := &receiverStub{errs: []error{worker.WrapTransient(errors.New("flaky"))}}
	dlq := &dlqCollector{}
	eng := newEngine(t, recv, dlq, 3)

	var commits atomic.Int32
	eng.HandleRecord(context.Background(), record(validPayload, &commits))
	eng.Wait()

	records := dlq.Records()
	if recv.Calls() != 3 || len(records) != 1 {
		t.Fatalf("calls = %d, dlq = %d", recv.Calls(), len(records))
	}
	if records[0].ErrorClass != string(worker.FailureTypeTransient) || records[0].Attempts != 3 || records[0].ThreadID != "t1" {
		t.Fatalf("unexpected DLQ entry: %+v", records[0])
	}
	if commits.Load() != 1 {
		t.Fatalf("expected commit after DLQ")
	}
}

func TestEnginePermanentFailureSkipsRetry(t *testing.T) {
	recv := &receiverStub{errs: []error{worker.WrapPermanent(errors.New("nope"))}}
	dlq := &dlqCollector{}
	eng := newEngine(t, recv, dlq, 5)

	var commits atomic.Int32
	eng.HandleRecord(context.Background(), record(validPayload, &commits))
	eng.Wait()

	records := dlq.Records()
	if recv.Calls() != 1 || len(records) != 1 || records[0].ErrorClass != string(worker.FailureTypePermanent) {
		t.Fatalf("calls = %d, dlq = %+v", recv.Calls(), records)
	}
}

func TestEngineDefersCommitOnCancellation(t *testing.T) {
	recv := &receiverStub{errs: []error{context.Canceled}}
	dlq := &dlqCollector{}
	eng := newEngine(t, recv, dlq, 3)

	var commits atomic.Int32
	eng.HandleRecord(context.Background(), record(validPayload, &commits))
	eng.Wait()

	if commits.Load() != 0 || len(dlq.Records()) != 0 {
		t.Fatalf("cancelled records must stay uncommitted")
	}
}

func TestKafkaHandlerBridgesRecords(t *testing.T) {
	recv := &receiverStub{}
	eng := newEngine(t, recv, &dlqCollector{}, 1)

	handler := worker.KafkaHandler(eng)
	if err := handler(context.Background(), nil); err != nil {
		t.Fatalf("nil record: %v", err)
	}

	rec := &consumer.Record{Topic: "xmpt.inbox", Value: []byte(validPayload)}
	if err := handler(context.Background(), rec); err != nil {
		t.Fatalf("handler: %v", err)
	}
	eng.Wait()

	if !rec.Committed() || recv.Calls() != 1 {
		t.Fatalf("committed = %v, calls = %d", rec.Committed(), recv.Calls())
	}
}
