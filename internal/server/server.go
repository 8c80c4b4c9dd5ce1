// Package server exposes the agent over HTTP: the A2A card and task routes,
// direct entrypoint invocation behind the paywall, the local XMPT operator
// endpoints, health and Prometheus metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/daydreamsai/lucid-agents-sub001/internal/a2a"
	"github.com/daydreamsai/lucid-agents-sub001/internal/xmpt"
)

const (
	defaultShutdownTimeout = 10 * time.Second
	readHeaderTimeout      = 5 * time.Second
)

// Messenger is the slice of the XMPT runtime the operator endpoints use.
// *xmpt.Runtime satisfies it.
type Messenger interface {
	Send(ctx context.Context, peer xmpt.Peer, input xmpt.MessageInput, opts xmpt.SendOptions) (*xmpt.DeliveryResult, error)
	SendAndWait(ctx context.Context, peer xmpt.Peer, input xmpt.MessageInput, opts xmpt.SendAndWaitOptions) (*xmpt.Exchange, error)
	ListMessages(ctx context.Context, filter xmpt.ListFilter) ([]xmpt.Record, error)
}

// Check reports whether a dependency is ready to serve.
type Check func() bool

// Dependencies collects what the HTTP surface serves.
type Dependencies struct {
	Tasks     *a2a.TaskServer
	Messenger Messenger
	// Gate wraps priced entrypoints on the direct invoke route. The same gate
	// should be handed to the TaskServer.
	Gate   a2a.Gate
	Checks map[string]Check
	Logger zerolog.Logger
}

// Server is the agent's HTTP surface.
type Server struct {
	tasks     *a2a.TaskServer
	messenger Messenger
	gate      a2a.Gate
	checks    map[string]Check
	logger    zerolog.Logger
	router    *mux.Router
}

// New validates deps and builds the router.
func New(deps Dependencies) (*Server, error) {
	if deps.Tasks == nil {
		return nil, errors.New("server: task server is required")
	}
	if deps.Messenger == nil {
		return nil, errors.New("server: messenger is required")
	}
	logger := deps.Logger
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	s := &Server{
		tasks:     deps.Tasks,
		messenger: deps.Messenger,
		gate:      deps.Gate,
		checks:    deps.Checks,
		logger:    logger.With().Str("component", "http_server").Logger(),
		router:    mux.NewRouter(),
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	r := s.router
	r.Use(metricsMiddleware)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	s.tasks.Routes(r)
	r.HandleFunc("/entrypoints/{key}/invoke", s.handleInvoke).Methods(http.MethodPost)

	x := r.PathPrefix("/xmpt").Subrouter()
	x.HandleFunc("/messages", s.handleListMessages).Methods(http.MethodGet)
	x.HandleFunc("/send", s.handleSend).Methods(http.MethodPost)
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is cancelled, then drains in-flight
// requests.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server: listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

type healthBody struct {
	Status string          `json:"status"`
	Checks map[string]bool `json:"checks,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := healthBody{Status: "ok"}
	if len(s.checks) > 0 {
		body.Checks = make(map[string]bool, len(s.checks))
		for name, check := range s.checks {
			ok := check == nil || check()
			body.Checks[name] = ok
			if !ok {
				body.Status = "degraded"
			}
		}
	}

	code := http.StatusOK
	if body.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	a2a.WriteJSON(w, code, body)
}
