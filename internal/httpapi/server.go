package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ent0n29/tunesmith/internal/artifacts"
	"github.com/ent0n29/tunesmith/internal/channel/webchat"
	"github.com/ent0n29/tunesmith/internal/config"
	"github.com/ent0n29/tunesmith/internal/observability"
	"github.com/ent0n29/tunesmith/internal/orchestrator"
	"github.com/ent0n29/tunesmith/internal/persona"
	"github.com/ent0n29/tunesmith/internal/policy"
	"github.com/ent0n29/tunesmith/internal/protocol"
	"github.com/ent0n29/tunesmith/internal/session"
)

// Orchestrator is the part of *orchestrator.Orchestrator the API drives directly.
type Orchestrator interface {
	Handle(ctx context.Context, in protocol.Inbound) (orchestrator.Outcome, error)
	Snapshot(ctx context.Context, id string) (*session.Session, error)
	Reset(ctx context.Context, id string) error
}

// Submitter queues an inbound event for asynchronous processing.
type Submitter interface {
	Submit(in protocol.Inbound) error
}

// Modes names the backends the process was wired with, for /v1/status.
type Modes struct {
	Music        string
	Cover        string
	Video        string
	Brief        string
	SessionStore string
	PersonaStore string
}

type Deps struct {
	Orchestrator Orchestrator
	Dispatcher   Submitter
	Personas     persona.Store
	Artifacts    *artifacts.Store
	Webchat      *webchat.Hub
	Senders      *policy.SenderPolicy
	Metrics      *observability.Metrics
	Logger       *zap.Logger
	Modes        Modes
}

type Server struct {
	cfg    config.Config
	deps   Deps
	log    *zap.Logger
	static http.Handler
	now    func() time.Time
}

func New(cfg config.Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:    cfg,
		deps:   deps,
		log:    logger,
		static: newStaticHandler(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ui/", http.StatusTemporaryRedirect)
	})
	r.Get("/ui", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ui/", http.StatusTemporaryRedirect)
	})
	r.Handle("/ui/*", http.StripPrefix("/ui/", s.static))

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/v1/status", s.handleStatus)
	r.Get("/v1/perf/gateways", s.handlePerfGateways)

	r.Post("/v1/webhook/evolution", s.handleEvolutionWebhook)
	r.Post("/v1/events", s.handleEvent)
	r.Get("/v1/sessions/{id}", s.handleGetSession)
	r.Post("/v1/sessions/{id}/reset", s.handleResetSession)
	r.Get("/v1/personas", s.handleListPersonas)
	r.Delete("/v1/personas/{name}", s.handleDeletePersona)
	r.Get("/files/{kind}/{name}", s.handleFile)
	r.Get("/v1/chat/ws", s.handleChatWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Orchestrator == nil {
		respondError(w, http.StatusServiceUnavailable, "not_ready", "orchestrator not configured")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":        "ready",
		"session_store": s.deps.Modes.SessionStore,
		"persona_store": s.deps.Modes.PersonaStore,
	})
}

func (s *Server) handlePerfGateways(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Metrics == nil {
		respondJSON(w, http.StatusOK, map[string]any{
			"generated_at": "",
			"window_size":  0,
			"operations":   []any{},
		})
		return
	}
	respondJSON(w, http.StatusOK, s.deps.Metrics.SnapshotGateways())
}

func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}
	if s.deps.Webchat == nil || s.deps.Dispatcher == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "web chat not configured")
		return
	}
	s.deps.Webchat.Serve(w, r, sessionID, s.deps.Dispatcher)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

const maxBodyBytes = 1 << 20

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
