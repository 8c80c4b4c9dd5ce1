package xmpt

import (
	"strings"

	"github.com/daydreamsai/lucid-agents-sub001/internal/a2a"
)

// Discovery tags peers use to locate an inbox skill.
const (
	TagXMPT      = "xmpt"
	TagXMPTInbox = "xmpt-inbox"
)

// Direction tags a record as sent or received by this agent.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == DirectionInbound || d == DirectionOutbound
}

// Content is the message body. At least one field must be present.
type Content struct {
	Text string `json:"text,omitempty"`
	Data any    `json:"data,omitempty"`
	MIME string `json:"mime,omitempty"`
}

// Empty reports whether the content carries nothing.
func (c Content) Empty() bool {
	return c.Text == "" && c.Data == nil && strings.TrimSpace(c.MIME) == ""
}

// Message is a normalized XMPT message.
type Message struct {
	ID        string         `json:"id"`
	ThreadID  string         `json:"threadId"`
	From      string         `json:"from,omitempty"`
	To        string         `json:"to,omitempty"`
	Content   Content        `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt string         `json:"createdAt"`
}

// MessageInput is a message before normalization; blank fields get defaults.
type MessageInput struct {
	ID        string         `json:"id,omitempty"`
	ThreadID  string         `json:"threadId,omitempty"`
	From      string         `json:"from,omitempty"`
	To        string         `json:"to,omitempty"`
	Content   Content        `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt string         `json:"createdAt,omitempty"`
}

// Record is a stored message with its direction and delivery context.
type Record struct {
	Message
	Direction Direction `json:"direction"`
	Peer      string    `json:"peer,omitempty"`
	TaskID    string    `json:"taskId,omitempty"`
}

// DeliveryResult acknowledges a successful send.
type DeliveryResult struct {
	TaskID    string         `json:"taskId"`
	Status    a2a.TaskStatus `json:"status"`
	MessageID string         `json:"messageId"`
}

// Exchange is the outcome of SendAndWait. Reply is set when the peer task
// completed with a parseable message.
type Exchange struct {
	Delivery *DeliveryResult `json:"delivery"`
	Task     *a2a.Task       `json:"task"`
	Reply    *Message        `json:"-"`
}

// Peer identifies a remote agent either by URL or by a pre-fetched card.
type Peer interface {
	peerLabel() string
}

// PeerURL is a peer whose card is fetched on demand.
type PeerURL string

func (p PeerURL) peerLabel() string { return string(p) }

// PeerCard is a peer with an already resolved card.
type PeerCard struct {
	Card *a2a.AgentCard
}

func (p PeerCard) peerLabel() string {
	if p.Card == nil {
		return ""
	}
	if p.Card.URL != "" {
		return p.Card.URL
	}
	return p.Card.Name
}
