package a2a_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/daydreamsai/lucid-agents-sub001/internal/a2a"
)

func newPeer(t *testing.T, eps ...a2a.Entrypoint) (*httptest.Server, *a2a.TaskServer) {
	t.Helper()
	ts := a2a.NewTaskServer(a2a.CardInfo{Name: "peer", Version: "1.0.0"}, zerolog.Nop())
	for _, ep := range eps {
		if err := ts.Register(ep); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	r := mux.NewRouter()
	ts.Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		_ = ts.Shutdown(context.Background())
	})
	return srv, ts
}

func echo() a2a.Entrypoint {
	return a2a.Entrypoint{
		Key:  "echo",
		Tags: []string{"xmpt"},
		Handler: func(_ context.Context, input json.RawMessage) (any, error) {
			var v map[string]any
			if err := json.Unmarshal(input, &v); err != nil {
				return nil, err
			}
			return v, nil
		},
	}
}

func TestCardURL(t *testing.T) {
	cases := map[string]string{
		"http://agent.local":                             "http://agent.local/.well-known/agent-card.json",
		"http://agent.local/":                            "http://agent.local/.well-known/agent-card.json",
		"http://agent.local/.well-known/agent-card.json": "http://agent.local/.well-known/agent-card.json",
		"http://agent.local/cards/custom.json":           "http://agent.local/cards/custom.json",
	}
	for in, want := range cases {
		if got := a2a.CardURL(in); got != want {
			t.Fatalf("CardURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestClientRoundTrip(t *testing.T) {
	srv, _ := newPeer(t, echo())
	client := a2a.NewClient(zerolog.Nop(), a2a.WithPollInterval(5*time.Millisecond))
	ctx := context.Background()

	card, err := client.FetchCard(ctx, srv.URL)
	if err != nil {
		t.Fatalf("fetch card: %v", err)
	}
	if card.Name != "peer" || card.URL != srv.URL {
		t.Fatalf("unexpected card: %+v", card)
	}
	if len(card.Skills) != 1 || card.Skills[0].ID != "echo" || !card.Skills[0].HasTag("xmpt") {
		t.Fatalf("unexpected skills: %+v", card.Skills)
	}

	sent, err := client.SendMessage(ctx, card, "echo", a2a.SendRequest{Input: map[string]any{"hello": "world"}, ContextID: "thread-1"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if sent.TaskID == "" || sent.Status != a2a.TaskStatusRunning {
		t.Fatalf("unexpected send result: %+v", sent)
	}

	task, err := client.WaitForTask(ctx, card, sent.TaskID, time.Second)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if task.Status != a2a.TaskStatusCompleted || task.ContextID != "thread-1" {
		t.Fatalf("unexpected task: %+v", task)
	}
	out, ok := task.Result.Output.(map[string]any)
	if !ok || out["hello"] != "world" {
		t.Fatalf("unexpected output: %#v", task.Result.Output)
	}
}

func TestClientReportsFailedTask(t *testing.T) {
	srv, _ := newPeer(t, a2a.Entrypoint{
		Key: "boom",
		Handler: func(context.Context, json.RawMessage) (any, error) {
			return nil, errors.New("kaboom")
		},
	})
	client := a2a.NewClient(zerolog.Nop(), a2a.WithPollInterval(5*time.Millisecond))
	ctx := context.Background()

	card, _ := client.FetchCard(ctx, srv.URL)
	sent, err := client.SendMessage(ctx, card, "boom", a2a.SendRequest{Input: "x"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	task, err := client.WaitForTask(ctx, card, sent.TaskID, time.Second)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if task.Status != a2a.TaskStatusFailed || task.Error == nil || task.Error.Message != "kaboom" {
		t.Fatalf("unexpected task: %+v", task)
	}
}

func TestClientUnknownSkill(t *testing.T) {
	srv, _ := newPeer(t, echo())
	client := a2a.NewClient(zerolog.Nop())

	card := &a2a.AgentCard{Name: "peer", URL: srv.URL}
	_, err := client.SendMessage(context.Background(), card, "missing", a2a.SendRequest{Input: 1})
	if err == nil || !strings.Contains(err.Error(), "http 404") {
		t.Fatalf("expected 404 error, got %v", err)
	}
}

func TestWaitForTaskTimesOut(t *testing.T) {
	release := make(chan struct{})
	srv, _ := newPeer(t, a2a.Entrypoint{
		Key: "slow",
		Handler: func(ctx context.Context, _ json.RawMessage) (any, error) {
			select {
			case <-release:
			case <-ctx.Done():
			}
			return "done", nil
		},
	})
	defer close(release)

	client := a2a.NewClient(zerolog.Nop(), a2a.WithPollInterval(5*time.Millisecond))
	card := &a2a.AgentCard{Name: "peer", URL: srv.URL}
	sent, err := client.SendMessage(context.Background(), card, "slow", a2a.SendRequest{Input: 1})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	_, err = client.WaitForTask(context.Background(), card, sent.TaskID, 30*time.Millisecond)
	if !errors.Is(err, a2a.ErrTaskTimeout) {
		t.Fatalf("expected ErrTaskTimeout, got %v", err)
	}
	if !strings.Contains(err.Error(), "did not complete within") {
		t.Fatalf("unexpected message: %v", err)
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	ts := a2a.NewTaskServer(a2a.CardInfo{Name: "x"}, zerolog.Nop())
	if err := ts.Register(echo()); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := ts.Register(echo()); err == nil {
		t.Fatalf("expected duplicate key error")
	}
	if err := ts.Register(a2a.Entrypoint{Key: "  "}); err == nil {
		t.Fatalf("expected blank key error")
	}
}

func TestPricedTaskPassesThroughGate(t *testing.T) {
	var gated []string
	gate := func(ep a2a.Entrypoint) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gated = append(gated, ep.Key)
				if r.Header.Get("X-PAYMENT") == "" {
					a2a.WriteError(w, http.StatusPaymentRequired, "payment required")
					return
				}
				next.ServeHTTP(w, r)
			})
		}
	}

	ts := a2a.NewTaskServer(a2a.CardInfo{Name: "x"}, zerolog.Nop(), a2a.WithGate(gate))
	priced := echo()
	priced.Price = "$0.01"
	if err := ts.Register(priced); err != nil {
		t.Fatalf("register: %v", err)
	}
	r := mux.NewRouter()
	ts.Routes(r)
	defer ts.Shutdown(context.Background())

	body := `{"skillId":"echo","input":{"a":1}}`
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/tasks", strings.NewReader(body)))
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/tasks", strings.NewReader(body))
	req.Header.Set("X-PAYMENT", "paid")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body.String())
	}
	if len(gated) != 2 {
		t.Fatalf("gate calls = %v", gated)
	}
}
