package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ent0n29/tunesmith/internal/artifacts"
	"github.com/ent0n29/tunesmith/internal/channel/evolution"
	"github.com/ent0n29/tunesmith/internal/delivery"
	"github.com/ent0n29/tunesmith/internal/persona"
	"github.com/ent0n29/tunesmith/internal/policy"
	"github.com/ent0n29/tunesmith/internal/protocol"
	"github.com/ent0n29/tunesmith/internal/session"
)

// handleEvolutionWebhook always answers 200 for well formed payloads so the instance does
// not redeliver events we chose to ignore.
func (s *Server) handleEvolutionWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	in, err := evolution.ParseWebhook(body, s.deps.Senders, s.now())
	switch {
	case errors.Is(err, evolution.ErrIgnored):
		s.log.Debug("webhook ignored", zap.Error(err))
		respondJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	case err != nil:
		respondError(w, http.StatusBadRequest, "invalid_webhook", err.Error())
		return
	}
	if s.deps.Dispatcher == nil {
		respondError(w, http.StatusServiceUnavailable, "unavailable", "dispatcher not configured")
		return
	}

	switch err := s.deps.Dispatcher.Submit(in); {
	case errors.Is(err, delivery.ErrQueueFull):
		respondError(w, http.StatusTooManyRequests, "queue_full", err.Error())
	case errors.Is(err, delivery.ErrClosed):
		respondError(w, http.StatusServiceUnavailable, "shutting_down", err.Error())
	case err != nil:
		respondError(w, http.StatusBadRequest, "invalid_event", err.Error())
	default:
		s.log.Debug("webhook accepted",
			zap.String("session_id", policy.MaskID(in.SessionID)),
			zap.String("message_id", in.MessageID),
		)
		respondJSON(w, http.StatusOK, map[string]string{"status": "queued"})
	}
}

type eventRequest struct {
	SessionID string               `json:"session_id"`
	MessageID string               `json:"message_id"`
	Kind      protocol.InboundKind `json:"kind"`
	Text      string               `json:"text"`
	MediaType string               `json:"media_type,omitempty"`
}

type eventResponse struct {
	Duplicate bool                `json:"duplicate"`
	Events    []protocol.Outbound `json:"events"`
}

// handleEvent runs one turn synchronously. An empty event list with duplicate=true means
// the message id was already processed.
func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.Kind == "" {
		req.Kind = protocol.InboundText
	}
	in := protocol.Inbound{
		SessionID:  strings.TrimSpace(req.SessionID),
		MessageID:  strings.TrimSpace(req.MessageID),
		Kind:       req.Kind,
		Text:       req.Text,
		MediaType:  req.MediaType,
		Channel:    protocol.ChannelAPI,
		ReceivedAt: s.now(),
	}
	if err := in.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_event", err.Error())
		return
	}

	res, err := s.deps.Orchestrator.Handle(r.Context(), in)
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		s.log.Error("event failed", zap.String("session_id", policy.MaskID(in.SessionID)), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "turn_failed", err.Error())
		return
	}
	out := res.Events
	if out == nil {
		out = []protocol.Outbound{}
	}
	respondJSON(w, http.StatusOK, eventResponse{Duplicate: res.Duplicate, Events: out})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := s.deps.Orchestrator.Snapshot(r.Context(), id)
	switch {
	case errors.Is(err, session.ErrNotFound):
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
	case err != nil:
		respondError(w, http.StatusInternalServerError, "session_store_error", err.Error())
	default:
		respondJSON(w, http.StatusOK, sess)
	}
}

func (s *Server) handleResetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}
	if err := s.deps.Orchestrator.Reset(r.Context(), id); err != nil {
		respondError(w, http.StatusInternalServerError, "session_store_error", err.Error())
		return
	}
	sess, err := s.deps.Orchestrator.Snapshot(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "session_store_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleListPersonas(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Personas.List(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "persona_store_error", err.Error())
		return
	}
	if list == nil {
		list = []persona.Persona{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"personas": list})
}

func (s *Server) handleDeletePersona(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	switch err := s.deps.Personas.Delete(r.Context(), name); {
	case errors.Is(err, persona.ErrNotFound):
		respondError(w, http.StatusNotFound, "persona_not_found", err.Error())
	case err != nil:
		respondError(w, http.StatusInternalServerError, "persona_store_error", err.Error())
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	locator := artifacts.Locator(artifacts.Kind(chi.URLParam(r, "kind")), chi.URLParam(r, "name"))
	p, err := s.deps.Artifacts.Path(locator)
	if err != nil {
		respondError(w, http.StatusNotFound, "not_found", "artifact not found")
		return
	}
	if !s.deps.Artifacts.Exists(locator) {
		respondError(w, http.StatusNotFound, "not_found", "artifact not found")
		return
	}
	http.ServeFile(w, r, p)
}
