package a2a

import (
	"encoding/json"
	"time"
)

// WellKnownCardPath is where agents publish their card.
const WellKnownCardPath = "/.well-known/agent-card.json"

// TaskStatus enumerates the lifecycle states of a task.
type TaskStatus string

const (
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Terminal reports whether no further transitions are expected.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// Skill is a capability advertised on an agent card.
type Skill struct {
	ID          string   `json:"id"`
	Name        string   `json:"name,omitempty"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Price       string   `json:"price,omitempty"`
}

// HasTag reports whether the skill carries tag.
func (s Skill) HasTag(tag string) bool {
	for _, t := range s.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// AgentCard describes an agent and the skills it serves.
type AgentCard struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	URL         string  `json:"url"`
	Version     string  `json:"version,omitempty"`
	Skills      []Skill `json:"skills"`
}

// SendRequest is the body posted to a peer's task endpoint.
type SendRequest struct {
	SkillID   string         `json:"skillId"`
	Input     any            `json:"input"`
	ContextID string         `json:"contextId,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// SendResult acknowledges a created task.
type SendResult struct {
	TaskID string     `json:"taskId"`
	Status TaskStatus `json:"status"`
}

// TaskResult carries the output of a completed task.
type TaskResult struct {
	Output any `json:"output"`
}

// TaskError describes why a task failed.
type TaskError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// Task is a snapshot of a peer task.
type Task struct {
	TaskID    string      `json:"taskId"`
	Status    TaskStatus  `json:"status"`
	SkillID   string      `json:"skillId,omitempty"`
	ContextID string      `json:"contextId,omitempty"`
	Result    *TaskResult `json:"result,omitempty"`
	Error     *TaskError  `json:"error,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

type errorBody struct {
	Error json.RawMessage `json:"error"`
}
