// Package webhook serves the HTTP API: health, metrics, session inspection
// and a JSON front-end for clients that are not chat users.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/user/knowledgebot/internal/pipeline"
	"github.com/user/knowledgebot/internal/session"
	"github.com/user/knowledgebot/internal/types"
)

// Channel is the user id prefix for users created through the API.
const Channel = "http"

// Pipeline accepts submissions and cancellations.
type Pipeline interface {
	Submit(ctx context.Context, user types.UserID, rawURL string) (*types.Session, error)
	Cancel(user types.UserID) bool
}

// Gate applies approval decisions.
type Gate interface {
	Resolve(user types.UserID, d types.Decision) bool
}

// Sessions exposes the in-flight session table.
type Sessions interface {
	Get(user types.UserID) *types.Session
	List() []*types.Session
}

// History reads a user's transition journal.
type History interface {
	History(ctx context.Context, user types.UserID, limit int) ([]types.Transition, error)
}

// Health probes the adapters.
type Health interface {
	Healthcheck(ctx context.Context) map[string]bool
}

// Mailbox holds notices for API users.
type Mailbox interface {
	Drain(user types.UserID) []types.Notice
}

// Deps are the collaborators the server reads from. Nil members disable
// the endpoints that need them.
type Deps struct {
	Pipeline Pipeline
	Gate     Gate
	Sessions Sessions
	History  History
	Health   Health
	Mailbox  Mailbox
	Entries  types.EntryLister
}

// Server is the HTTP handler for the API.
type Server struct {
	deps Deps
	mux  *http.ServeMux
}

// NewServer creates a Server.
func NewServer(deps Deps) *Server {
	s := &Server{
		deps: deps,
		mux:  http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.Handle("GET /metrics", promhttp.Handler())
	s.mux.HandleFunc("GET /api/sessions", s.handleSessions)
	s.mux.HandleFunc("GET /api/sessions/{user}", s.handleSession)
	s.mux.HandleFunc("GET /api/sessions/{user}/history", s.handleHistory)
	s.mux.HandleFunc("POST /api/submit", s.handleSubmit)
	s.mux.HandleFunc("POST /api/sessions/{user}/decision", s.handleDecision)
	s.mux.HandleFunc("POST /api/sessions/{user}/cancel", s.handleCancel)
	s.mux.HandleFunc("GET /api/notices/{user}", s.handleNotices)
	s.mux.HandleFunc("GET /api/entries", s.handleEntries)
	return s
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encode response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// normalizeUser prefixes bare names with the API channel.
func normalizeUser(raw string) types.UserID {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, ":") {
		return types.NewUserID(Channel, raw)
	}
	return types.UserID(raw)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health == nil {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()
	results := s.deps.Health.Healthcheck(ctx)

	status, code := "ok", http.StatusOK
	for _, healthy := range results {
		if !healthy {
			status, code = "degraded", http.StatusServiceUnavailable
			break
		}
	}
	writeJSON(w, code, map[string]any{"status": status, "adapters": results})
}

type sessionResponse struct {
	UserID           types.UserID        `json:"user_id"`
	RunID            types.RunID         `json:"run_id"`
	Stage            types.Stage         `json:"stage"`
	SourceURL        string              `json:"source_url"`
	SelectedCategory string              `json:"selected_category,omitempty"`
	Regenerations    int                 `json:"regenerations"`
	Attempts         map[types.Stage]int `json:"attempts,omitempty"`
	History          []types.Stage       `json:"history"`
	CreatedAt        time.Time           `json:"created_at"`
	LastActivityAt   time.Time           `json:"last_activity_at"`
	Title            string              `json:"title,omitempty"`
}

func toResponse(sess *types.Session) sessionResponse {
	resp := sessionResponse{
		UserID:           sess.UserID,
		RunID:            sess.RunID,
		Stage:            sess.Stage,
		SourceURL:        sess.SourceURL,
		SelectedCategory: sess.SelectedCategory,
		Regenerations:    sess.Regenerations,
		Attempts:         sess.Attempts,
		History:          sess.History,
		CreatedAt:        sess.CreatedAt,
		LastActivityAt:   sess.LastActivityAt,
	}
	if sess.Analysis != nil {
		resp.Title = sess.Analysis.Title
	}
	return resp
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "sessions not configured")
		return
	}
	list := s.deps.Sessions.List()
	result := make([]sessionResponse, 0, len(list))
	for _, sess := range list {
		result = append(result, toResponse(sess))
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "sessions not configured")
		return
	}
	sess := s.deps.Sessions.Get(normalizeUser(r.PathValue("user")))
	if sess == nil {
		writeError(w, http.StatusNotFound, "no active session")
		return
	}
	writeJSON(w, http.StatusOK, toResponse(sess))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		writeError(w, http.StatusServiceUnavailable, "journal not configured")
		return
	}
	limit := 200
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			limit = n
		}
	}
	user := normalizeUser(r.PathValue("user"))
	transitions, err := s.deps.History.History(r.Context(), user, limit)
	if err != nil {
		slog.Error("read journal failed", "user", user, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if transitions == nil {
		transitions = []types.Transition{}
	}
	writeJSON(w, http.StatusOK, transitions)
}

type submitRequest struct {
	User string `json:"user"`
	URL  string `json:"url"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if s.deps.Pipeline == nil {
		writeError(w, http.StatusServiceUnavailable, "pipeline not configured")
		return
	}
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	user := normalizeUser(req.User)
	if user == "" || strings.TrimSpace(req.URL) == "" {
		writeError(w, http.StatusBadRequest, "user and url are required")
		return
	}

	sess, err := s.deps.Pipeline.Submit(r.Context(), user, req.URL)
	if err != nil {
		var rl *pipeline.RateLimitedError
		switch {
		case errors.Is(err, types.ErrUnsupportedURL):
			writeError(w, http.StatusBadRequest, err.Error())
		case session.IsAlreadyActive(err):
			writeError(w, http.StatusConflict, "finish or cancel your current request first")
		case errors.As(err, &rl):
			w.Header().Set("Retry-After", strconv.Itoa(int(rl.RetryAfter.Seconds()+0.5)))
			writeError(w, http.StatusTooManyRequests, err.Error())
		case errors.Is(err, pipeline.ErrStopped), errors.Is(err, pipeline.ErrNotStarted):
			writeError(w, http.StatusServiceUnavailable, err.Error())
		default:
			slog.Error("api submit failed", "user", user, "error", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}
	writeJSON(w, http.StatusAccepted, toResponse(sess))
}

type decisionRequest struct {
	Action   string `json:"action"`
	Category string `json:"category"`
	Hint     string `json:"hint"`
}

func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request) {
	if s.deps.Gate == nil {
		writeError(w, http.StatusServiceUnavailable, "gate not configured")
		return
	}
	var req decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	var d types.Decision
	switch strings.ToLower(req.Action) {
	case "approve":
		d = types.Approve(req.Category)
	case "reject":
		d = types.Reject()
	case "regenerate", "regen":
		d = types.Regenerate(req.Hint)
	default:
		writeError(w, http.StatusBadRequest, "action must be approve, reject or regenerate")
		return
	}

	if !s.deps.Gate.Resolve(normalizeUser(r.PathValue("user")), d) {
		writeJSON(w, http.StatusConflict, map[string]bool{"applied": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"applied": true})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if s.deps.Pipeline == nil {
		writeError(w, http.StatusServiceUnavailable, "pipeline not configured")
		return
	}
	if !s.deps.Pipeline.Cancel(normalizeUser(r.PathValue("user"))) {
		writeError(w, http.StatusNotFound, "no active session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": true})
}

func (s *Server) handleNotices(w http.ResponseWriter, r *http.Request) {
	if s.deps.Mailbox == nil {
		writeError(w, http.StatusServiceUnavailable, "mailbox not configured")
		return
	}
	notices := s.deps.Mailbox.Drain(normalizeUser(r.PathValue("user")))
	if notices == nil {
		notices = []types.Notice{}
	}
	writeJSON(w, http.StatusOK, notices)
}

func (s *Server) handleEntries(w http.ResponseWriter, r *http.Request) {
	if s.deps.Entries == nil {
		writeError(w, http.StatusServiceUnavailable, "knowledge store cannot list entries")
		return
	}
	limit := 20
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			limit = n
		}
	}
	entries, err := s.deps.Entries.List(r.Context(), limit)
	if err != nil {
		slog.Error("list entries failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if entries == nil {
		entries = []*types.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
