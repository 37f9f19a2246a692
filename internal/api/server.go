// Package api implements the HTTP surface: the streaming chat
// endpoint plus rule and session management.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/omnimind-ai/omnimind/internal/agent"
	"github.com/omnimind-ai/omnimind/internal/buildinfo"
	"github.com/omnimind-ai/omnimind/internal/store"
	"github.com/omnimind-ai/omnimind/internal/stream"
)

// defaultUserID stands in when a client does not identify its user.
const defaultUserID = "default"

// MemoryClearer drops a user's memory-service content on session
// clear. Implemented by mem0.Client.
type MemoryClearer interface {
	Clear(ctx context.Context, userID string) error
}

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

func errorResponse(w http.ResponseWriter, status int, msg string, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	writeJSON(w, map[string]string{"error": msg}, logger)
}

// Server is the HTTP API server.
type Server struct {
	listen       string
	orchestrator *agent.Orchestrator
	store        *store.Store
	memory       MemoryClearer // nil when no memory service is configured
	logger       *slog.Logger
	server       *http.Server
}

// NewServer creates the API server. memory may be nil.
func NewServer(listen string, orch *agent.Orchestrator, st *store.Store, mem MemoryClearer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		listen:       listen,
		orchestrator: orch,
		store:        st,
		memory:       mem,
		logger:       logger.With("component", "api"),
	}
}

// Handler builds the route table. Exposed separately so tests can
// drive it through httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /chat", s.handleChat)

	mux.HandleFunc("GET /rules", s.handleRulesList)
	mux.HandleFunc("POST /rules", s.handleRulesCreate)
	mux.HandleFunc("DELETE /rules", s.handleRulesDelete)

	mux.HandleFunc("GET /sessions", s.handleSessionsList)
	mux.HandleFunc("DELETE /sessions/{id}", s.handleSessionClear)

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /version", s.handleVersion)
	mux.HandleFunc("GET /", s.handleRoot)

	return s.withLogging(withCORS(mux))
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:        s.listen,
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		// No WriteTimeout: chat turns stream for as long as the model
		// and its tools take.
	}
	s.logger.Info("starting API server", "listen", s.listen)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type chatRequest struct {
	Message            string `json:"message"`
	SessionID          string `json:"sessionId"`
	UserID             string `json:"userId"`
	Image              string `json:"image"`
	Reasoning          *bool  `json:"reasoning"`
	UseMemory          *bool  `json:"useMemory"`
	RecentContextCount *int   `json:"recentContextCount"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err), s.logger)
		return
	}
	if req.SessionID == "" {
		errorResponse(w, http.StatusBadRequest, "sessionId is required", s.logger)
		return
	}
	if req.UserID == "" {
		req.UserID = defaultUserID
	}

	turn := agent.Request{
		Message:            req.Message,
		Image:              req.Image,
		SessionID:          req.SessionID,
		UserID:             req.UserID,
		Reasoning:          false,
		UseMemory:          true,
		RecentContextCount: 20,
	}
	if req.Reasoning != nil {
		turn.Reasoning = *req.Reasoning
	}
	if req.UseMemory != nil {
		turn.UseMemory = *req.UseMemory
	}
	if req.RecentContextCount != nil {
		turn.RecentContextCount = *req.RecentContextCount
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")

	enc := stream.NewEncoder(w)
	if err := enc.Padding(); err != nil {
		s.logger.Debug("client gone before turn start", "error", err)
		return
	}

	// Client disconnect cancels the turn via the request context.
	s.orchestrator.Run(r.Context(), turn, enc)
}

func (s *Server) handleRulesList(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		userID = defaultUserID
	}
	rules, err := s.store.ListHardRules(userID)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, err.Error(), s.logger)
		return
	}
	if rules == nil {
		rules = []store.HardRule{}
	}
	writeJSON(w, rules, s.logger)
}

type ruleCreateRequest struct {
	Content   string `json:"content"`
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId"`
}

func (s *Server) handleRulesCreate(w http.ResponseWriter, r *http.Request) {
	var req ruleCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err), s.logger)
		return
	}
	if req.Content == "" {
		errorResponse(w, http.StatusBadRequest, "content is required", s.logger)
		return
	}
	if req.UserID == "" {
		req.UserID = defaultUserID
	}
	rule, err := s.store.AddHardRule(req.UserID, req.SessionID, req.Content)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, err.Error(), s.logger)
		return
	}
	writeJSON(w, rule, s.logger)
}

type ruleDeleteRequest struct {
	ID string `json:"id"`
}

func (s *Server) handleRulesDelete(w http.ResponseWriter, r *http.Request) {
	var req ruleDeleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err), s.logger)
		return
	}
	if err := s.store.DeleteHardRule(req.ID); err != nil {
		errorResponse(w, http.StatusNotFound, err.Error(), s.logger)
		return
	}
	writeJSON(w, map[string]bool{"success": true}, s.logger)
}

func (s *Server) handleSessionsList(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		userID = defaultUserID
	}
	sessions, err := s.store.ListSessions(userID)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, err.Error(), s.logger)
		return
	}
	if sessions == nil {
		sessions = []store.Session{}
	}
	writeJSON(w, sessions, s.logger)
}

// handleSessionClear removes the session's history, summary, and
// session-scoped rules, and drops the user's memory-service content.
func (s *Server) handleSessionClear(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		userID = defaultUserID
	}

	if err := s.store.ClearSession(sessionID); err != nil {
		errorResponse(w, http.StatusInternalServerError, err.Error(), s.logger)
		return
	}
	if s.memory != nil {
		if err := s.memory.Clear(r.Context(), userID); err != nil {
			s.logger.Warn("memory clear failed", "session", sessionID, "error", err)
		}
	}
	writeJSON(w, map[string]bool{"success": true}, s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "healthy"}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, buildinfo.Info(), s.logger)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{
		"name":    "OmniMind",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}
