package xmpt

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/daydreamsai/lucid-agents-sub001/internal/a2a"
	"github.com/daydreamsai/lucid-agents-sub001/internal/metrics"
)

// DefaultWaitTimeout bounds SendAndWait when no timeout is given.
const DefaultWaitTimeout = 30 * time.Second

// A2AClient is the agent-to-agent capability the runtime dispatches through.
type A2AClient interface {
	FetchCard(ctx context.Context, url string) (*a2a.AgentCard, error)
	SendMessage(ctx context.Context, card *a2a.AgentCard, skillID string, req a2a.SendRequest) (*a2a.SendResult, error)
	WaitForTask(ctx context.Context, card *a2a.AgentCard, taskID string, timeout time.Duration) (*a2a.Task, error)
}

// InboxContext is passed to the inbox handler for each received message.
type InboxContext struct {
	Message *Message
	Runtime *Runtime
}

// InboxHandler may return a reply to an inbound message. A nil reply means
// no response.
type InboxHandler func(ctx context.Context, in InboxContext) (*MessageInput, error)

// Subscriber observes every received message and every reply seen by
// SendAndWait.
type Subscriber func(msg *Message) error

// Options configures a Runtime.
type Options struct {
	AgentName           string
	Client              A2AClient
	Store               Store
	InboxHandler        InboxHandler
	DefaultInboxSkillID string
	DefaultTimeout      time.Duration
	Logger              zerolog.Logger
	Now                 func() time.Time
	NewID               func() string
}

// SendOptions tunes a single send.
type SendOptions struct {
	SkillID  string
	Metadata map[string]any
}

// SendAndWaitOptions tunes a single send-and-wait.
type SendAndWaitOptions struct {
	SkillID  string
	Metadata map[string]any
	Timeout  time.Duration
}

type subscription struct {
	id uint64
	fn Subscriber
}

// Runtime sends and receives XMPT messages over an A2A client.
type Runtime struct {
	agentName      string
	client         A2AClient
	store          Store
	inboxHandler   InboxHandler
	defaultSkillID string
	defaultTimeout time.Duration
	logger         zerolog.Logger
	now            func() time.Time
	newID          func() string

	subMu  sync.RWMutex
	subs   []subscription
	nextID uint64
}

// NewRuntime constructs a Runtime. A nil Client is a fatal configuration
// error; a nil Store falls back to a MemoryStore.
func NewRuntime(opts Options) (*Runtime, error) {
	if opts.Client == nil || (reflect.ValueOf(opts.Client).Kind() == reflect.Ptr && reflect.ValueOf(opts.Client).IsNil()) {
		return nil, newError(CodePeerUnreachable, nil, "A2A client is required for XMPT")
	}

	logger := opts.Logger
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	store := opts.Store
	if store == nil {
		store = NewMemoryStore()
	}
	timeout := opts.DefaultTimeout
	if timeout <= 0 {
		timeout = DefaultWaitTimeout
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}

	return &Runtime{
		agentName:      strings.TrimSpace(opts.AgentName),
		client:         opts.Client,
		store:          store,
		inboxHandler:   opts.InboxHandler,
		defaultSkillID: strings.TrimSpace(opts.DefaultInboxSkillID),
		defaultTimeout: timeout,
		logger:         logger.With().Str("component", "xmpt_runtime").Logger(),
		now:            now,
		newID:          newID,
	}, nil
}

// AgentName returns the name used as the default sender.
func (r *Runtime) AgentName() string { return r.agentName }

// Send delivers a message to peer's inbox skill.
func (r *Runtime) Send(ctx context.Context, peer Peer, input MessageInput, opts SendOptions) (*DeliveryResult, error) {
	timer := prometheus.NewTimer(metrics.XMPTSendDuration.WithLabelValues("send"))
	defer timer.ObserveDuration()

	delivery, _, err := r.send(ctx, peer, input, opts.SkillID, opts.Metadata)
	if err != nil {
		metrics.XMPTMessagesTotal.WithLabelValues(string(DirectionOutbound), "error").Inc()
		return nil, err
	}
	metrics.XMPTMessagesTotal.WithLabelValues(string(DirectionOutbound), "delivered").Inc()
	return delivery, nil
}

func (r *Runtime) send(ctx context.Context, peer Peer, input MessageInput, skillID string, meta map[string]any) (*DeliveryResult, *a2a.AgentCard, error) {
	msg, err := NormalizeMessage(input, NormalizeDefaults{From: r.agentName, Now: r.now, NewID: r.newID})
	if err != nil {
		return nil, nil, err
	}

	card, err := r.resolveCard(ctx, peer)
	if err != nil {
		return nil, nil, err
	}

	resolved, ok := ResolveInboxSkillID(card, skillID, r.defaultSkillID)
	if !ok {
		return nil, nil, newError(CodeInboxSkillMissing, nil, "peer %q does not expose an XMPT inbox skill", card.Name)
	}

	if msg.To == "" {
		msg.To = card.Name
	}

	result, err := r.client.SendMessage(ctx, card, resolved, a2a.SendRequest{
		Input:     msg,
		ContextID: msg.ThreadID,
		Metadata:  dispatchMetadata(meta, msg),
	})
	if err != nil {
		return nil, nil, newError(CodePeerUnreachable, err, "failed to send to %q: %v", card.Name, err)
	}

	r.append(ctx, Record{
		Message:   *msg,
		Direction: DirectionOutbound,
		Peer:      peer.peerLabel(),
		TaskID:    result.TaskID,
	})

	r.logger.Debug().
		Str("message_id", msg.ID).
		Str("thread_id", msg.ThreadID).
		Str("peer", card.Name).
		Str("skill_id", resolved).
		Str("task_id", result.TaskID).
		Msg("xmpt message sent")

	return &DeliveryResult{TaskID: result.TaskID, Status: result.Status, MessageID: msg.ID}, card, nil
}

func (r *Runtime) resolveCard(ctx context.Context, peer Peer) (*a2a.AgentCard, error) {
	switch p := peer.(type) {
	case PeerCard:
		if p.Card == nil {
			return nil, newError(CodePeerUnreachable, nil, "peer card is empty")
		}
		return p.Card, nil
	case *PeerCard:
		if p == nil || p.Card == nil {
			return nil, newError(CodePeerUnreachable, nil, "peer card is empty")
		}
		return p.Card, nil
	case PeerURL:
		url := strings.TrimSpace(string(p))
		if url == "" {
			return nil, newError(CodePeerUnreachable, nil, "peer url is empty")
		}
		card, err := r.client.FetchCard(ctx, url)
		if err != nil {
			return nil, newError(CodePeerUnreachable, err, "failed to fetch agent card from %s: %v", url, err)
		}
		if card == nil {
			return nil, newError(CodePeerUnreachable, nil, "agent card from %s is empty", url)
		}
		return card, nil
	default:
		return nil, newError(CodePeerUnreachable, nil, "peer is required")
	}
}

func dispatchMetadata(meta map[string]any, msg *Message) map[string]any {
	out := make(map[string]any, len(meta)+1)
	for k, v := range meta {
		out[k] = v
	}
	out["xmpt"] = map[string]any{
		"messageId": msg.ID,
		"threadId":  msg.ThreadID,
	}
	return out
}

// ResolveInboxSkillID picks the skill on card that serves as the XMPT inbox.
// An explicit id wins, then defaultID when the card lists it, then the first
// skill tagged xmpt or xmpt-inbox.
func ResolveInboxSkillID(card *a2a.AgentCard, explicit, defaultID string) (string, bool) {
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		return explicit, true
	}
	if card == nil {
		return "", false
	}
	if defaultID = strings.TrimSpace(defaultID); defaultID != "" {
		for _, skill := range card.Skills {
			if skill.ID == defaultID {
				return skill.ID, true
			}
		}
	}
	for _, skill := range card.Skills {
		if skill.HasTag(TagXMPT) || skill.HasTag(TagXMPTInbox) {
			return skill.ID, true
		}
	}
	return "", false
}

// Receive ingests an inbound message, notifies subscribers and, when an
// inbox handler is configured, returns its normalized reply.
func (r *Runtime) Receive(ctx context.Context, payload any) (*Message, error) {
	msg, err := ParseMessage(payload)
	if err != nil {
		metrics.XMPTMessagesTotal.WithLabelValues(string(DirectionInbound), "invalid").Inc()
		return nil, err
	}
	metrics.XMPTMessagesTotal.WithLabelValues(string(DirectionInbound), "received").Inc()

	r.append(ctx, Record{Message: *msg, Direction: DirectionInbound, Peer: msg.From})
	r.notify(msg)

	if r.inboxHandler == nil {
		return nil, nil
	}

	replyInput, err := r.inboxHandler(ctx, InboxContext{Message: msg, Runtime: r})
	if err != nil {
		return nil, fmt.Errorf("xmpt: inbox handler: %w", err)
	}
	if replyInput == nil {
		return nil, nil
	}

	reply, err := NormalizeMessage(*replyInput, NormalizeDefaults{
		From:     r.agentName,
		To:       msg.From,
		ThreadID: msg.ThreadID,
		Now:      r.now,
		NewID:    r.newID,
	})
	if err != nil {
		return nil, err
	}

	r.append(ctx, Record{Message: *reply, Direction: DirectionOutbound, Peer: msg.From})
	metrics.XMPTMessagesTotal.WithLabelValues(string(DirectionOutbound), "replied").Inc()
	return reply, nil
}

// SendAndWait sends a message and waits for the peer task to finish. A
// completed task whose output parses as a message yields a reply that is
// stored, broadcast to subscribers and substituted into the task result.
func (r *Runtime) SendAndWait(ctx context.Context, peer Peer, input MessageInput, opts SendAndWaitOptions) (*Exchange, error) {
	timer := prometheus.NewTimer(metrics.XMPTSendDuration.WithLabelValues("send_and_wait"))
	defer timer.ObserveDuration()

	delivery, card, err := r.send(ctx, peer, input, opts.SkillID, opts.Metadata)
	if err != nil {
		metrics.XMPTMessagesTotal.WithLabelValues(string(DirectionOutbound), "error").Inc()
		return nil, err
	}
	metrics.XMPTMessagesTotal.WithLabelValues(string(DirectionOutbound), "delivered").Inc()

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}

	task, err := r.client.WaitForTask(ctx, card, delivery.TaskID, timeout)
	if err != nil {
		if isTimeout(err) {
			return nil, newError(CodeTimeout, err, "timed out waiting for task %s after %s", delivery.TaskID, timeout)
		}
		return nil, newError(CodePeerUnreachable, err, "failed waiting for task %s: %v", delivery.TaskID, err)
	}
	if task == nil {
		return nil, newError(CodePeerUnreachable, nil, "peer returned no task for %s", delivery.TaskID)
	}

	exchange := &Exchange{Delivery: delivery, Task: task}
	if task.Status != a2a.TaskStatusCompleted || task.Result == nil || task.Result.Output == nil {
		return exchange, nil
	}

	reply, err := ParseMessage(task.Result.Output)
	if err != nil {
		r.logger.Warn().Err(err).Str("task_id", task.TaskID).Msg("task output is not an xmpt message")
		return exchange, nil
	}

	r.append(ctx, Record{
		Message:   *reply,
		Direction: DirectionInbound,
		Peer:      peer.peerLabel(),
		TaskID:    task.TaskID,
	})
	r.notify(reply)
	metrics.XMPTMessagesTotal.WithLabelValues(string(DirectionInbound), "reply").Inc()

	augmented := *task
	augmented.Result = &a2a.TaskResult{Output: reply}
	exchange.Task = &augmented
	exchange.Reply = reply
	return exchange, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, a2a.ErrTaskTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "timed out") ||
		strings.Contains(msg, "did not complete within")
}

// OnMessage registers fn and returns a function that removes it.
func (r *Runtime) OnMessage(fn Subscriber) func() {
	if fn == nil {
		return func() {}
	}
	r.subMu.Lock()
	r.nextID++
	id := r.nextID
	r.subs = append(r.subs, subscription{id: id, fn: fn})
	r.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.subMu.Lock()
			defer r.subMu.Unlock()
			for i, s := range r.subs {
				if s.id == id {
					r.subs = append(r.subs[:i:i], r.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// ListMessages returns stored records matching filter.
func (r *Runtime) ListMessages(ctx context.Context, filter ListFilter) ([]Record, error) {
	return r.store.List(ctx, filter)
}

func (r *Runtime) notify(msg *Message) {
	r.subMu.RLock()
	subs := make([]subscription, len(r.subs))
	copy(subs, r.subs)
	r.subMu.RUnlock()

	for _, s := range subs {
		r.safeNotify(s.fn, msg)
	}
}

func (r *Runtime) safeNotify(fn Subscriber, msg *Message) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().Interface("panic", rec).Str("message_id", msg.ID).Msg("xmpt subscriber panicked")
		}
	}()
	if err := fn(msg); err != nil {
		r.logger.Warn().Err(err).Str("message_id", msg.ID).Msg("xmpt subscriber failed")
	}
}

// append stores rec. Failures are logged and never returned.
func (r *Runtime) append(ctx context.Context, rec Record) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error().Interface("panic", p).Str("message_id", rec.ID).Msg("xmpt store append panicked")
		}
	}()
	if err := r.store.Append(ctx, rec); err != nil {
		r.logger.Warn().
			Err(err).
			Str("message_id", rec.ID).
			Str("direction", string(rec.Direction)).
			Msg("xmpt store append failed")
	}
}
