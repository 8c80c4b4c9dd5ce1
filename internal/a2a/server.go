package a2a

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

const (
	defaultTaskTTL     = time.Hour
	maxRequestBodySize = 1 << 20
)

// ErrUnknownEntrypoint is returned when no entrypoint is registered for a key.
var ErrUnknownEntrypoint = errors.New("a2a: unknown entrypoint")

// Handler runs an entrypoint against its raw JSON input.
type Handler func(ctx context.Context, input json.RawMessage) (any, error)

// Entrypoint is a skill served by this agent.
type Entrypoint struct {
	Key         string
	Description string
	Tags        []string
	// Price, when set, marks the entrypoint as paid.
	Price   string
	Handler Handler
}

// Gate wraps the handler of a priced entrypoint, typically with a paywall.
type Gate func(ep Entrypoint) func(http.Handler) http.Handler

// CardInfo is the static part of the agent card.
type CardInfo struct {
	Name        string
	Description string
	URL         string
	Version     string
}

// ServerOption customises a TaskServer.
type ServerOption func(*TaskServer)

// WithTaskTTL controls how long terminal tasks stay queryable.
func WithTaskTTL(ttl time.Duration) ServerOption {
	return func(s *TaskServer) {
		if ttl > 0 {
			s.taskTTL = ttl
		}
	}
}

// WithGate installs the middleware applied to priced entrypoints.
func WithGate(gate Gate) ServerOption {
	return func(s *TaskServer) {
		s.gate = gate
	}
}

// WithServerClock overrides the server clock.
func WithServerClock(now func() time.Time) ServerOption {
	return func(s *TaskServer) {
		if now != nil {
			s.now = now
		}
	}
}

// TaskServer hosts the agent card and runs entrypoints as asynchronous tasks.
type TaskServer struct {
	info    CardInfo
	logger  zerolog.Logger
	gate    Gate
	taskTTL time.Duration
	now     func() time.Time

	mu          sync.RWMutex
	entrypoints map[string]Entrypoint
	tasks       map[string]*Task

	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTaskServer constructs a TaskServer.
func NewTaskServer(info CardInfo, logger zerolog.Logger, opts ...ServerOption) *TaskServer {
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &TaskServer{
		info:        info,
		logger:      logger.With().Str("component", "a2a_server").Logger(),
		taskTTL:     defaultTaskTTL,
		now:         time.Now,
		entrypoints: make(map[string]Entrypoint),
		tasks:       make(map[string]*Task),
		runCtx:      ctx,
		cancel:      cancel,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Register adds an entrypoint. Keys must be unique.
func (s *TaskServer) Register(ep Entrypoint) error {
	ep.Key = strings.TrimSpace(ep.Key)
	if ep.Key == "" {
		return errors.New("a2a server: entrypoint key is required")
	}
	if ep.Handler == nil {
		return fmt.Errorf("a2a server: entrypoint %q has no handler", ep.Key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entrypoints[ep.Key]; exists {
		return fmt.Errorf("a2a server: entrypoint %q already registered", ep.Key)
	}
	s.entrypoints[ep.Key] = ep
	return nil
}

// Entrypoint returns the entrypoint registered for key.
func (s *TaskServer) Entrypoint(key string) (Entrypoint, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ep, ok := s.entrypoints[key]
	return ep, ok
}

// Card renders the agent card with one skill per entrypoint.
func (s *TaskServer) Card() AgentCard {
	s.mu.RLock()
	defer s.mu.RUnlock()

	skills := make([]Skill, 0, len(s.entrypoints))
	for _, ep := range s.entrypoints {
		skills = append(skills, Skill{
			ID:          ep.Key,
			Name:        ep.Key,
			Description: ep.Description,
			Tags:        append([]string(nil), ep.Tags...),
			Price:       ep.Price,
		})
	}
	sort.Slice(skills, func(i, j int) bool { return skills[i].ID < skills[j].ID })

	return AgentCard{
		Name:        s.info.Name,
		Description: s.info.Description,
		URL:         s.info.URL,
		Version:     s.info.Version,
		Skills:      skills,
	}
}

// Invoke runs an entrypoint synchronously.
func (s *TaskServer) Invoke(ctx context.Context, key string, input json.RawMessage) (any, error) {
	ep, ok := s.Entrypoint(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntrypoint, key)
	}
	return ep.Handler(ctx, input)
}

// CreateTask starts the entrypoint in the background and returns the
// running task.
func (s *TaskServer) CreateTask(req SendRequest, input json.RawMessage) (*Task, error) {
	ep, ok := s.Entrypoint(req.SkillID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntrypoint, req.SkillID)
	}

	now := s.now()
	task := &Task{
		TaskID:    uuid.NewString(),
		Status:    TaskStatusRunning,
		SkillID:   ep.Key,
		ContextID: req.ContextID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.pruneLocked(now)
	s.tasks[task.TaskID] = task
	snapshot := *task
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(ep, task.TaskID, input)

	return &snapshot, nil
}

func (s *TaskServer) run(ep Entrypoint, taskID string, input json.RawMessage) {
	defer s.wg.Done()

	output, err := s.safeCall(ep, input)

	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return
	}
	task.UpdatedAt = s.now()
	if err != nil {
		task.Status = TaskStatusFailed
		task.Error = &TaskError{Message: err.Error()}
		s.logger.Warn().Err(err).Str("task_id", taskID).Str("skill_id", ep.Key).Msg("task failed")
		return
	}
	task.Status = TaskStatusCompleted
	task.Result = &TaskResult{Output: output}
}

func (s *TaskServer) safeCall(ep Entrypoint, input json.RawMessage) (output any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("entrypoint %s panicked: %v", ep.Key, r)
		}
	}()
	return ep.Handler(s.runCtx, input)
}

// GetTask returns a snapshot of a task.
func (s *TaskServer) GetTask(taskID string) (*Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return nil, false
	}
	snapshot := *task
	return &snapshot, true
}

// Shutdown cancels running tasks and waits for them to settle.
func (s *TaskServer) Shutdown(ctx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *TaskServer) pruneLocked(now time.Time) {
	cutoff := now.Add(-s.taskTTL)
	for id, task := range s.tasks {
		if task.Status.Terminal() && task.UpdatedAt.Before(cutoff) {
			delete(s.tasks, id)
		}
	}
}

// Routes mounts the card and task endpoints on r.
func (s *TaskServer) Routes(r *mux.Router) {
	r.HandleFunc(WellKnownCardPath, s.handleCard).Methods(http.MethodGet)
	r.HandleFunc("/tasks", s.handleCreateTask).Methods(http.MethodPost)
	r.HandleFunc("/tasks/{id}", s.handleGetTask).Methods(http.MethodGet)
}

func (s *TaskServer) handleCard(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, s.Card())
}

type createTaskBody struct {
	SkillID   string          `json:"skillId"`
	Input     json.RawMessage `json:"input"`
	ContextID string          `json:"contextId,omitempty"`
	Metadata  map[string]any  `json:"metadata,omitempty"`
}

func (s *TaskServer) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "unable to read request body")
		return
	}
	var body createTaskBody
	if err := json.Unmarshal(raw, &body); err != nil {
		WriteError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}

	ep, ok := s.Entrypoint(body.SkillID)
	if !ok {
		WriteError(w, http.StatusNotFound, fmt.Sprintf("unknown skill %q", body.SkillID))
		return
	}

	create := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		task, err := s.CreateTask(SendRequest{SkillID: ep.Key, ContextID: body.ContextID, Metadata: body.Metadata}, body.Input)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error())
			return
		}
		WriteJSON(w, http.StatusAccepted, SendResult{TaskID: task.TaskID, Status: task.Status})
	})

	var handler http.Handler = create
	if ep.Price != "" && s.gate != nil {
		handler = s.gate(ep)(create)
	}
	r.Body = io.NopCloser(bytes.NewReader(raw))
	handler.ServeHTTP(w, r)
}

func (s *TaskServer) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	task, ok := s.GetTask(id)
	if !ok {
		WriteError(w, http.StatusNotFound, "task not found")
		return
	}
	WriteJSON(w, http.StatusOK, task)
}

// WriteJSON encodes payload with the given status.
func WriteJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

// WriteError writes a {"error": msg} body.
func WriteError(w http.ResponseWriter, code int, msg string) {
	WriteJSON(w, code, map[string]string{"error": msg})
}
