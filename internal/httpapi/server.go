// Package httpapi is the REST and WebSocket surface (§6): a thin
// transport layer over the session orchestrator, the store, and the
// realtime hub. Business logic stays in internal/orchestrator and
// internal/store; this package only decodes requests, calls through, and
// maps apperr.Kind to HTTP status codes.
package httpapi

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dohr-michael/chatflow/internal/orchestrator"
	"github.com/dohr-michael/chatflow/internal/realtime"
	"github.com/dohr-michael/chatflow/internal/store"
	"github.com/dohr-michael/chatflow/internal/typing"
)

// Store is the subset of internal/store.Store this package reads and
// writes directly, beyond what it reaches through the orchestrator.
type Store interface {
	GetSession(ctx context.Context, id string) (*store.Session, error)
	UpsertSession(ctx context.Context, s *store.Session) error
	ListSessions(ctx context.Context, tenantID string) ([]store.SessionSummary, error)
	SetSessionStatus(ctx context.Context, id, status string) (*store.SessionSummary, bool, error)
	ListMessages(ctx context.Context, sessionID string) ([]store.Message, error)
	ListFlows(ctx context.Context, tenantID string, enabledOnly bool) ([]store.Flow, error)
}

// TokenResolver authenticates a bearer token into an (agentID, tenantID)
// pair. The REST surface in spec.md is explicitly non-exhaustive and does
// not specify a token issuance endpoint, so this is injected rather than
// backed by a store-resident auth_tokens table.
type TokenResolver func(token string) (agentID, tenantID string, ok bool)

// Server wires the REST and WS surface together.
type Server struct {
	httpServer    *http.Server
	store         Store
	hub           *realtime.Hub
	typing        *typing.Aggregator
	orch          *orchestrator.Orchestrator
	resolve       TokenResolver
	defaultTenant string
}

type Config struct {
	Host          string
	Port          int
	Store         Store
	Hub           *realtime.Hub
	Typing        *typing.Aggregator
	Orchestrator  *orchestrator.Orchestrator
	ResolveToken  TokenResolver
	DefaultTenant string
}

func New(cfg Config) *Server {
	defaultTenant := cfg.DefaultTenant
	if defaultTenant == "" {
		defaultTenant = "default"
	}
	resolve := cfg.ResolveToken
	if resolve == nil {
		resolve = func(token string) (string, string, bool) { return "", "", false }
	}

	s := &Server{
		store:         cfg.Store,
		hub:           cfg.Hub,
		typing:        cfg.Typing,
		orch:          cfg.Orchestrator,
		resolve:       resolve,
		defaultTenant: defaultTenant,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/widget/bootstrap", s.handleWidgetBootstrap)
	r.Get("/api/ws", s.handleWS)

	r.Post("/api/session", s.handleCreateSession)
	r.Get("/api/session/{id}/messages", s.handleListMessages)
	r.Post("/api/session/{id}/message", s.handlePostMessage)
	r.Post("/api/session/{id}/close", s.handleCloseSession)
	r.Post("/api/session/{id}/csat", s.handleSubmitCSAT)

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: r,
	}
	return s
}

// Start begins listening; it blocks until the server stops.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleWidgetBootstrap(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantOf(r, s.defaultTenant)
	flows, err := s.store.ListFlows(r.Context(), tenantID, true)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tenantId":     tenantID,
		"flowCount":    len(flows),
		"pollInterval": (30 * time.Second).String(),
	})
}

func tenantOf(r *http.Request, fallback string) string {
	if t := r.URL.Query().Get("tenantId"); t != "" {
		return t
	}
	return fallback
}
