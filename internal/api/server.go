package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"boardhub/internal/hub"
	"boardhub/internal/metrics"
	"boardhub/pkg/types"
)

// HubView is the read-only part of the hub the HTTP API exposes.
type HubView interface {
	Stats() hub.Stats
	Snapshot(ctx context.Context, whiteboardID string) (*types.SyncResponsePayload, error)
}

// HealthChecker reports whether a backing store is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Server is the HTTP surface: health, metrics, read-only hub state and the
// websocket endpoint.
// ARCHITECTURAL DISCOVERY: HTTP API layer holds no business logic, only HTTP
// handling and JSON serialization over the hub's read-only view
type Server struct {
	hub     HubView
	db      HealthChecker
	ws      http.Handler
	logger  *zap.Logger
	router  chi.Router
	started time.Time
}

// NewServer wires routes and middleware. ws serves GET /ws.
func NewServer(h HubView, db HealthChecker, ws http.Handler, allowedOrigins []string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		hub:     h,
		db:      db,
		ws:      ws,
		logger:  logger,
		router:  chi.NewRouter(),
		started: time.Now(),
	}
	s.setupRoutes(allowedOrigins)
	return s
}

func (s *Server) setupRoutes(allowedOrigins []string) {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	s.router.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer, metrics.Middleware)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization"},
		MaxAge:         300,
	}))

	s.router.Get("/health", s.healthCheck)
	s.router.Method(http.MethodGet, "/metrics", metrics.Handler())
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/stats", s.stats)
		r.Get("/whiteboards/{id}/presence", s.presence)
	})
	if s.ws != nil {
		s.router.Method(http.MethodGet, "/ws", s.ws)
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Database  string    `json:"database"`
	Hub       hub.Stats `json:"hub"`
	Uptime    string    `json:"uptime"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// PresenceResponse is a live room's participant and cursor snapshot.
type PresenceResponse struct {
	WhiteboardID string              `json:"whiteboardId"`
	Participants []types.Participant `json:"participants"`
	Cursors      []types.Cursor      `json:"cursors"`
}

// GET /health reports 503 when the database is unreachable.
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Database:  "healthy",
		Hub:       s.hub.Stats(),
		Uptime:    time.Since(s.started).Round(time.Second).String(),
	}
	code := http.StatusOK

	if s.db != nil {
		if err := s.db.HealthCheck(ctx); err != nil {
			s.logger.Warn("Health check failed", zap.Error(err))
			resp.Status = "unhealthy"
			resp.Database = "unreachable"
			code = http.StatusServiceUnavailable
		}
	} else {
		resp.Database = "disabled"
	}

	s.sendJSON(w, code, resp)
}

// GET /api/v1/stats
func (s *Server) stats(w http.ResponseWriter, _ *http.Request) {
	s.sendJSON(w, http.StatusOK, s.hub.Stats())
}

// GET /api/v1/whiteboards/{id}/presence
func (s *Server) presence(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !types.IsValidWhiteboardID(id) {
		s.sendError(w, http.StatusBadRequest, "invalid whiteboard id")
		return
	}

	snapshot, err := s.hub.Snapshot(r.Context(), id)
	switch {
	case errors.Is(err, hub.ErrRoomNotFound):
		s.sendError(w, http.StatusNotFound, "whiteboard has no live participants")
		return
	case err != nil:
		s.logger.Error("Presence snapshot failed", zap.String("whiteboard_id", id), zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "failed to read presence")
		return
	}

	s.sendJSON(w, http.StatusOK, PresenceResponse{
		WhiteboardID: id,
		Participants: snapshot.Participants,
		Cursors:      snapshot.Cursors,
	})
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("Failed to write response", zap.Error(err))
	}
}

// sendError writes the uniform {"error": "..."} body.
func (s *Server) sendError(w http.ResponseWriter, code int, message string) {
	s.sendJSON(w, code, ErrorResponse{Error: message})
}
