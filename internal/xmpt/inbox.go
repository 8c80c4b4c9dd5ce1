package xmpt

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/daydreamsai/lucid-agents-sub001/internal/a2a"
)

// DefaultInboxKey is the entrypoint key peers deliver messages to.
const DefaultInboxKey = "xmpt-inbox"

// InboxEntrypoint exposes Runtime.Receive as an agent entrypoint.
type InboxEntrypoint struct {
	key     string
	runtime *Runtime
}

// NewInboxEntrypoint binds rt to an inbox key. An empty key selects
// DefaultInboxKey; a whitespace-only key is rejected.
func NewInboxEntrypoint(rt *Runtime, key string) (*InboxEntrypoint, error) {
	if rt == nil {
		return nil, newError(CodeInvalidConfig, nil, "XMPT inbox requires a runtime")
	}
	if key == "" {
		key = DefaultInboxKey
	}
	if strings.TrimSpace(key) == "" {
		return nil, newError(CodeInvalidConfig, nil, "XMPT inbox key must not be blank")
	}
	return &InboxEntrypoint{key: key, runtime: rt}, nil
}

// Key returns the entrypoint key.
func (e *InboxEntrypoint) Key() string { return e.key }

// Tags returns the discovery tags for the inbox skill.
func (e *InboxEntrypoint) Tags() []string { return []string{TagXMPT, TagXMPTInbox} }

// Handle receives input and returns the reply, or nil when there is none.
func (e *InboxEntrypoint) Handle(ctx context.Context, input json.RawMessage) (*Message, error) {
	return e.runtime.Receive(ctx, input)
}

// Entrypoint adapts the inbox for registration on an a2a.TaskServer.
func (e *InboxEntrypoint) Entrypoint() a2a.Entrypoint {
	return a2a.Entrypoint{
		Key:         e.key,
		Description: "Receive XMPT messages from peer agents",
		Tags:        e.Tags(),
		Handler: func(ctx context.Context, input json.RawMessage) (any, error) {
			reply, err := e.Handle(ctx, input)
			if err != nil || reply == nil {
				return nil, err
			}
			return reply, nil
		},
	}
}

// Acknowledge is an InboxHandler that confirms receipt. Text messages are
// echoed back; data-only messages get a receipt carrying the original id.
func Acknowledge(_ context.Context, in InboxContext) (*MessageInput, error) {
	if in.Message == nil {
		return nil, nil
	}
	reply := &MessageInput{
		Metadata: map[string]any{"inReplyTo": in.Message.ID},
	}
	if in.Message.Content.Text != "" {
		reply.Content.Text = "received: " + in.Message.Content.Text
	} else {
		reply.Content.Data = map[string]any{"received": in.Message.ID}
	}
	return reply, nil
}
