package xmpt

import (
	"bytes"
	"encoding/json"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"
)

// timestampLayout matches the millisecond UTC form peers exchange.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// FormatTimestamp renders t as a message createdAt value.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// NormalizeDefaults supplies the values blank input fields fall back to.
type NormalizeDefaults struct {
	From     string
	To       string
	ThreadID string
	Now      func() time.Time
	NewID    func() string
}

// NormalizeMessage fills in missing identifiers and timestamps and enforces
// the content invariant.
func NormalizeMessage(in MessageInput, d NormalizeDefaults) (*Message, error) {
	newID := d.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	now := d.Now
	if now == nil {
		now = time.Now
	}

	if in.Content.Empty() {
		return nil, newError(CodeInvalidMessagePayload, nil, "message content requires text, data or mime")
	}

	msg := &Message{
		ID:        strings.TrimSpace(in.ID),
		ThreadID:  strings.TrimSpace(in.ThreadID),
		From:      strings.TrimSpace(in.From),
		To:        strings.TrimSpace(in.To),
		Content:   in.Content,
		Metadata:  maps.Clone(in.Metadata),
		CreatedAt: strings.TrimSpace(in.CreatedAt),
	}
	if msg.ID == "" {
		msg.ID = newID()
	}
	if msg.ThreadID == "" {
		msg.ThreadID = strings.TrimSpace(d.ThreadID)
	}
	if msg.ThreadID == "" {
		msg.ThreadID = newID()
	}
	if msg.From == "" {
		msg.From = d.From
	}
	if msg.To == "" {
		msg.To = d.To
	}
	if msg.CreatedAt == "" {
		msg.CreatedAt = FormatTimestamp(now())
	} else if _, err := time.Parse(time.RFC3339Nano, msg.CreatedAt); err != nil {
		return nil, newError(CodeInvalidMessagePayload, err, "createdAt %q is not an ISO-8601 timestamp", msg.CreatedAt)
	}
	return msg, nil
}

// ParseMessage validates an inbound payload. It accepts Message values,
// raw JSON, and any value that marshals to the message shape.
func ParseMessage(input any) (*Message, error) {
	var msg Message
	switch v := input.(type) {
	case nil:
		return nil, newError(CodeInvalidMessagePayload, nil, "message payload is empty")
	case Message:
		msg = v
	case *Message:
		if v == nil {
			return nil, newError(CodeInvalidMessagePayload, nil, "message payload is empty")
		}
		msg = *v
	case json.RawMessage:
		if err := decodeMessage(v, &msg); err != nil {
			return nil, err
		}
	case []byte:
		if err := decodeMessage(v, &msg); err != nil {
			return nil, err
		}
	case string:
		if err := decodeMessage([]byte(v), &msg); err != nil {
			return nil, err
		}
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, newError(CodeInvalidMessagePayload, err, "message payload is not serializable")
		}
		if err := decodeMessage(raw, &msg); err != nil {
			return nil, err
		}
	}

	if err := validateMessage(&msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func decodeMessage(raw []byte, msg *Message) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return newError(CodeInvalidMessagePayload, nil, "message payload is empty")
	}
	if err := json.Unmarshal(raw, msg); err != nil {
		return newError(CodeInvalidMessagePayload, err, "message payload is malformed: %v", err)
	}
	return nil
}

func validateMessage(msg *Message) error {
	msg.ID = strings.TrimSpace(msg.ID)
	msg.ThreadID = strings.TrimSpace(msg.ThreadID)
	if msg.ID == "" {
		return newError(CodeInvalidMessagePayload, nil, "message id is required")
	}
	if msg.ThreadID == "" {
		return newError(CodeInvalidMessagePayload, nil, "message threadId is required")
	}
	if msg.Content.Empty() {
		return newError(CodeInvalidMessagePayload, nil, "message content requires text, data or mime")
	}
	if msg.CreatedAt == "" {
		return newError(CodeInvalidMessagePayload, nil, "message createdAt is required")
	}
	if _, err := time.Parse(time.RFC3339Nano, msg.CreatedAt); err != nil {
		return newError(CodeInvalidMessagePayload, err, "createdAt %q is not an ISO-8601 timestamp", msg.CreatedAt)
	}
	msg.Metadata = maps.Clone(msg.Metadata)
	return nil
}
