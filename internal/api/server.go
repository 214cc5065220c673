// Package api exposes the assistant over HTTP: status, the tool catalog,
// usage reporting, archived transcripts, and chat over REST or WebSocket.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/canvasmate/canvasmate/internal/agent"
	"github.com/canvasmate/canvasmate/internal/archive"
	"github.com/canvasmate/canvasmate/internal/tools"
	"github.com/canvasmate/canvasmate/internal/usage"
)

const version = "0.1.0"

// Server is the HTTP API server.
type Server struct {
	port       int
	registry   *tools.Registry
	sessions   *SessionManager
	store      *archive.Store // optional
	ledgerPath string
	logger     *slog.Logger
	httpServer *http.Server
	startedAt  time.Time
}

// NewServer creates the API server. The archive store may be nil.
func NewServer(port int, registry *tools.Registry, sessions *SessionManager, store *archive.Store, ledgerPath string, logger *slog.Logger) *Server {
	return &Server{
		port:       port,
		registry:   registry,
		sessions:   sessions,
		store:      store,
		ledgerPath: ledgerPath,
		logger:     logger.With("component", "api"),
	}
}

// Handler builds the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/tools", s.handleTools)
	mux.HandleFunc("/api/usage", s.handleUsage)
	mux.HandleFunc("/api/sessions", s.handleSessions)
	mux.HandleFunc("/api/sessions/", s.handleSessionDetail)
	mux.HandleFunc("/api/chat", s.handleChat)
	mux.HandleFunc("/ws/chat", s.handleWSChat)

	return s.corsMiddleware(s.loggingMiddleware(mux))
}

// Start runs the server until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.startedAt = time.Now()
	s.httpServer = &http.Server{
		Addr:        fmt.Sprintf(":%d", s.port),
		Handler:     s.Handler(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	s.logger.Info("API server starting", "port", s.port)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down API server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

// corsMiddleware adds CORS headers.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// handleStatus returns system status.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	records, err := usage.Read(s.ledgerPath)
	if err != nil {
		s.logger.Warn("status: ledger unreadable", "error", err)
	}
	summary := usage.Summarize(records)

	s.respondJSON(w, map[string]any{
		"version":        version,
		"uptime_seconds": time.Since(s.startedAt).Seconds(),
		"tools":          len(s.registry.Specs()),
		"sessions":       s.sessions.Count(),
		"total_cost_usd": summary.TotalCostUSD,
	})
}

// handleTools lists the tool catalog with schemas.
func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	specs := s.registry.Specs()
	out := make([]map[string]any, 0, len(specs))
	for i := range specs {
		out = append(out, map[string]any{
			"name":         specs[i].Name,
			"description":  specs[i].Description,
			"input_schema": specs[i].InputSchema(),
		})
	}
	s.respondJSON(w, out)
}

// handleUsage returns the aggregated cost report.
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	records, err := usage.Read(s.ledgerPath)
	if err != nil {
		http.Error(w, "ledger unreadable", http.StatusInternalServerError)
		return
	}
	s.respondJSON(w, usage.Summarize(records))
}

// handleSessions lists archived sessions.
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.store == nil {
		http.Error(w, "archive disabled", http.StatusNotFound)
		return
	}

	infos, err := s.store.Sessions(r.Context())
	if err != nil {
		s.logger.Error("list sessions failed", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if infos == nil {
		infos = []archive.SessionInfo{}
	}
	s.respondJSON(w, infos)
}

// handleSessionDetail returns one session's transcript.
func (s *Server) handleSessionDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.store == nil {
		http.Error(w, "archive disabled", http.StatusNotFound)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	if id == "" || strings.Contains(id, "/") {
		http.Error(w, "session id required", http.StatusBadRequest)
		return
	}

	turns, err := s.store.ListSession(r.Context(), id)
	if err != nil {
		s.logger.Error("list session failed", "session", id, "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if len(turns) == 0 {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	s.respondJSON(w, map[string]any{
		"id":    id,
		"turns": turns,
	})
}

// chatRequest is one REST or WebSocket chat message.
type chatRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
}

// chatResponse is the completed answer for one chat message.
type chatResponse struct {
	SessionID  string  `json:"session_id"`
	Answer     string  `json:"answer,omitempty"`
	Error      string  `json:"error,omitempty"`
	Iterations int     `json:"iterations,omitempty"`
	ToolCalls  int     `json:"tool_calls,omitempty"`
	Tokens     int     `json:"tokens,omitempty"`
	CostUSD    float64 `json:"cost_usd,omitempty"`
}

// handleChat runs one query synchronously.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		http.Error(w, "message is required", http.StatusBadRequest)
		return
	}

	loop, err := s.sessions.GetOrCreate(req.SessionID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	resp := s.runChat(r.Context(), loop, req.Message)
	s.respondJSON(w, resp)
}

// runChat executes one query and shapes the response. Shared by the REST
// and WebSocket paths.
func (s *Server) runChat(ctx context.Context, loop *agent.Loop, message string) chatResponse {
	resp := chatResponse{SessionID: loop.Session().ID}

	reply, err := loop.Ask(ctx, message)
	if err != nil {
		s.logger.Warn("chat query failed", "session", resp.SessionID, "error", err)
		resp.Error = err.Error()
		return resp
	}

	resp.Answer = reply.Text
	resp.Iterations = reply.Iterations
	resp.ToolCalls = reply.ToolCalls
	resp.Tokens = reply.Usage.Total()
	resp.CostUSD = reply.CostUSD
	return resp
}

// respondJSON writes a JSON response.
func (s *Server) respondJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode JSON", "error", err)
	}
}
