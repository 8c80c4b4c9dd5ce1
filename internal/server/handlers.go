package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/daydreamsai/lucid-agents-sub001/internal/a2a"
	"github.com/daydreamsai/lucid-agents-sub001/internal/xmpt"
)

const maxBodyBytes = 1 << 20

type invokeBody struct {
	Input json.RawMessage `json:"input"`
}

type invokeResponse struct {
	Output any `json:"output"`
}

func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	ep, ok := s.tasks.Entrypoint(key)
	if !ok {
		a2a.WriteError(w, http.StatusNotFound, fmt.Sprintf("unknown entrypoint %q", key))
		return
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		a2a.WriteError(w, http.StatusBadRequest, "unable to read request body")
		return
	}
	var body invokeBody
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &body); err != nil {
			a2a.WriteError(w, http.StatusBadRequest, "malformed JSON body")
			return
		}
	}

	invoke := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		output, err := s.tasks.Invoke(r.Context(), ep.Key, body.Input)
		if err != nil {
			s.logger.Warn().Err(err).Str("entrypoint", ep.Key).Msg("entrypoint invocation failed")
			a2a.WriteError(w, statusForError(err), err.Error())
			return
		}
		a2a.WriteJSON(w, http.StatusOK, invokeResponse{Output: output})
	})

	var handler http.Handler = invoke
	if ep.Price != "" && s.gate != nil {
		handler = s.gate(ep)(invoke)
	}
	handler.ServeHTTP(w, r)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	filter, err := parseListFilter(r)
	if err != nil {
		a2a.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	records, err := s.messenger.ListMessages(r.Context(), filter)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list messages")
		a2a.WriteError(w, http.StatusInternalServerError, "unable to list messages")
		return
	}
	if records == nil {
		records = []xmpt.Record{}
	}
	a2a.WriteJSON(w, http.StatusOK, map[string]any{"messages": records})
}

func parseListFilter(r *http.Request) (xmpt.ListFilter, error) {
	q := r.URL.Query()
	filter := xmpt.ListFilter{ThreadID: strings.TrimSpace(q.Get("threadId"))}

	if d := strings.TrimSpace(q.Get("direction")); d != "" {
		filter.Direction = xmpt.Direction(d)
		if !filter.Direction.Valid() {
			return xmpt.ListFilter{}, fmt.Errorf("direction must be %q or %q", xmpt.DirectionInbound, xmpt.DirectionOutbound)
		}
	}
	var err error
	if filter.Offset, err = nonNegative(q.Get("offset"), "offset"); err != nil {
		return xmpt.ListFilter{}, err
	}
	if filter.Limit, err = nonNegative(q.Get("limit"), "limit"); err != nil {
		return xmpt.ListFilter{}, err
	}
	return filter, nil
}

func nonNegative(raw, name string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return n, nil
}

type sendBody struct {
	Peer      string            `json:"peer"`
	Message   xmpt.MessageInput `json:"message"`
	SkillID   string            `json:"skillId,omitempty"`
	Metadata  map[string]any    `json:"metadata,omitempty"`
	Wait      bool              `json:"wait,omitempty"`
	TimeoutMs int               `json:"timeoutMs,omitempty"`
}

type waitResponse struct {
	Delivery *xmpt.DeliveryResult `json:"delivery"`
	Task     *a2a.Task            `json:"task"`
	Reply    *xmpt.Message        `json:"reply,omitempty"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var body sendBody
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&body); err != nil {
		a2a.WriteError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	peer := strings.TrimSpace(body.Peer)
	if peer == "" {
		a2a.WriteError(w, http.StatusBadRequest, "peer is required")
		return
	}
	if body.TimeoutMs < 0 {
		a2a.WriteError(w, http.StatusBadRequest, "timeoutMs must be non-negative")
		return
	}

	if !body.Wait {
		res, err := s.messenger.Send(r.Context(), xmpt.PeerURL(peer), body.Message, xmpt.SendOptions{
			SkillID:  body.SkillID,
			Metadata: body.Metadata,
		})
		if err != nil {
			s.writeXMPTError(w, peer, err)
			return
		}
		a2a.WriteJSON(w, http.StatusAccepted, res)
		return
	}

	ex, err := s.messenger.SendAndWait(r.Context(), xmpt.PeerURL(peer), body.Message, xmpt.SendAndWaitOptions{
		SkillID:  body.SkillID,
		Metadata: body.Metadata,
		Timeout:  time.Duration(body.TimeoutMs) * time.Millisecond,
	})
	if err != nil {
		s.writeXMPTError(w, peer, err)
		return
	}
	a2a.WriteJSON(w, http.StatusOK, waitResponse{Delivery: ex.Delivery, Task: ex.Task, Reply: ex.Reply})
}

type errorResponse struct {
	Error string    `json:"error"`
	Code  xmpt.Code `json:"code,omitempty"`
}

func (s *Server) writeXMPTError(w http.ResponseWriter, peer string, err error) {
	s.logger.Warn().Err(err).Str("peer", peer).Msg("xmpt send failed")
	a2a.WriteJSON(w, statusForError(err), errorResponse{Error: err.Error(), Code: xmpt.CodeOf(err)})
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, xmpt.ErrInvalidMessagePayload):
		return http.StatusBadRequest
	case errors.Is(err, xmpt.ErrInboxSkillMissing):
		return http.StatusUnprocessableEntity
	case errors.Is(err, xmpt.ErrPeerUnreachable):
		return http.StatusBadGateway
	case errors.Is(err, xmpt.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, a2a.ErrUnknownEntrypoint):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}
