package a2a

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultPollInterval = 250 * time.Millisecond
	defaultBodyLimit    = 1 << 20
)

// ErrTaskTimeout is returned by WaitForTask when the task does not reach a
// terminal state before the deadline.
var ErrTaskTimeout = errors.New("timeout")

// HTTPClient abstracts the http.Client Do method for easier testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used to reach peers.
func WithHTTPClient(client HTTPClient) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithPollInterval sets how often WaitForTask polls a peer.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithBodyLimit adjusts how many bytes are read from a peer response.
func WithBodyLimit(limit int64) Option {
	return func(c *Client) {
		if limit > 0 {
			c.maxBodyBytes = limit
		}
	}
}

// Client talks to remote agents over the task protocol.
type Client struct {
	logger       zerolog.Logger
	httpClient   HTTPClient
	pollInterval time.Duration
	maxBodyBytes int64
}

// NewClient constructs a Client.
func NewClient(logger zerolog.Logger, opts ...Option) *Client {
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	c := &Client{
		logger:       logger.With().Str("component", "a2a_client").Logger(),
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		pollInterval: defaultPollInterval,
		maxBodyBytes: defaultBodyLimit,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// CardURL returns the well-known card location for an agent base URL. URLs
// that already point at a JSON document are returned unchanged.
func CardURL(base string) string {
	base = strings.TrimSpace(base)
	if strings.HasSuffix(base, ".json") {
		return base
	}
	return strings.TrimRight(base, "/") + WellKnownCardPath
}

// FetchCard retrieves and decodes the agent card published at baseURL.
func (c *Client) FetchCard(ctx context.Context, baseURL string) (*AgentCard, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("a2a client: agent url is required")
	}
	cardURL := CardURL(baseURL)

	var card AgentCard
	if err := c.do(ctx, http.MethodGet, cardURL, nil, &card); err != nil {
		return nil, fmt.Errorf("a2a client: fetch card %s: %w", cardURL, err)
	}
	if strings.TrimSpace(card.URL) == "" {
		card.URL = strings.TrimSuffix(strings.TrimRight(baseURL, "/"), WellKnownCardPath)
	}
	return &card, nil
}

// SendMessage creates a task for skillID on the agent described by card.
func (c *Client) SendMessage(ctx context.Context, card *AgentCard, skillID string, req SendRequest) (*SendResult, error) {
	base, err := cardBase(card)
	if err != nil {
		return nil, err
	}
	req.SkillID = skillID

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("a2a client: marshal request: %w", err)
	}

	var result SendResult
	if err := c.do(ctx, http.MethodPost, base+"/tasks", payload, &result); err != nil {
		return nil, fmt.Errorf("a2a client: send to %s: %w", card.Name, err)
	}
	if result.TaskID == "" {
		return nil, errors.New("a2a client: peer did not return a task id")
	}

	c.logger.Debug().
		Str("peer", card.Name).
		Str("skill_id", skillID).
		Str("task_id", result.TaskID).
		Msg("task created")
	return &result, nil
}

// GetTask fetches the current snapshot of a task.
func (c *Client) GetTask(ctx context.Context, card *AgentCard, taskID string) (*Task, error) {
	base, err := cardBase(card)
	if err != nil {
		return nil, err
	}
	var task Task
	if err := c.do(ctx, http.MethodGet, base+"/tasks/"+url.PathEscape(taskID), nil, &task); err != nil {
		return nil, fmt.Errorf("a2a client: get task %s: %w", taskID, err)
	}
	return &task, nil
}

// WaitForTask polls until the task is terminal or timeout elapses.
func (c *Client) WaitForTask(ctx context.Context, card *AgentCard, taskID string, timeout time.Duration) (*Task, error) {
	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	timedOut := func() error {
		if ctx.Err() == nil && errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("task %s did not complete within %s: %w", taskID, timeout, ErrTaskTimeout)
		}
		return nil
	}

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		task, err := c.GetTask(waitCtx, card, taskID)
		if err != nil {
			if terr := timedOut(); terr != nil {
				return nil, terr
			}
			return nil, err
		}
		if task.Status.Terminal() {
			return task, nil
		}

		select {
		case <-waitCtx.Done():
			if terr := timedOut(); terr != nil {
				return nil, terr
			}
			return nil, waitCtx.Err()
		case <-ticker.C:
		}
	}
}

func cardBase(card *AgentCard) (string, error) {
	if card == nil {
		return "", errors.New("a2a client: agent card is required")
	}
	base := strings.TrimRight(strings.TrimSpace(card.URL), "/")
	if base == "" {
		return "", fmt.Errorf("a2a client: agent card %q has no url", card.Name)
	}
	return base, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http do: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodyBytes))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if msg := errorMessage(data); msg != "" {
			return fmt.Errorf("http %d: %s", resp.StatusCode, msg)
		}
		return fmt.Errorf("http %d", resp.StatusCode)
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

// errorMessage accepts {"error":"..."} and {"error":{"message":"..."}}.
func errorMessage(data []byte) string {
	var body errorBody
	if err := json.Unmarshal(data, &body); err != nil || len(body.Error) == 0 {
		return ""
	}
	var text string
	if err := json.Unmarshal(body.Error, &text); err == nil {
		return strings.TrimSpace(text)
	}
	var structured TaskError
	if err := json.Unmarshal(body.Error, &structured); err == nil {
		if structured.Code != "" {
			return structured.Code + ": " + structured.Message
		}
		return structured.Message
	}
	return ""
}
