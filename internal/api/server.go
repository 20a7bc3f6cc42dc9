package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"liveattend/internal/controller"
	"liveattend/internal/session"
	"liveattend/internal/summary"
	"liveattend/pkg/interfaces"
	"liveattend/pkg/types"
)

// LiveController is the live session surface the API drives
type LiveController interface {
	Start(ctx context.Context, req controller.StartRequest) error
	Stop()
	Status() controller.Status
}

// Summaries computes session summaries on request
type Summaries interface {
	BackendSummary(ctx context.Context, classID, sessionID string) (*summary.Summary, error)
	JournalSummary(ctx context.Context, sessionID string) (*summary.Summary, error)
	RecentRuns(ctx context.Context, limit int) ([]*types.LiveSessionRecord, error)
}

// Health groups the components reported by /health. Any field may be nil.
type Health struct {
	Journal     interface{ HealthCheck(ctx context.Context) error }
	Observers   interface{ GetStats() map[string]int }
	Connections interface{ Stats() map[string]int64 }
	Hub         interface{ GetStats() map[string]int64 }
}

// ARCHITECTURAL DISCOVERY: the HTTP layer only translates; every decision
// about the live session is made by the controller
type Server struct {
	live      LiveController
	summaries Summaries
	stream    http.Handler
	health    Health
	validate  *validator.Validate
	started   time.Time
	router    *http.ServeMux
}

// NewServer creates the control API. stream serves the observer websocket.
func NewServer(live LiveController, summaries Summaries, stream http.Handler, health Health) *Server {
	s := &Server{
		live:      live,
		summaries: summaries,
		stream:    stream,
		health:    health,
		validate:  validator.New(),
		started:   time.Now(),
		router:    http.NewServeMux(),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Handle("/api/live", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleLive))))
	if s.stream != nil {
		s.router.Handle("/api/live/stream", s.corsMiddleware(s.stream))
	}
	s.router.Handle("/api/sessions", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.listRuns))))
	s.router.Handle("/api/sessions/", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleSessionSummary))))
	s.router.Handle("/api/classes/", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleClassSessionSummary))))
	s.router.Handle("/health", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.healthCheck))))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// StartRequest is the body of POST /api/live
type StartRequest struct {
	Session SessionRequest   `json:"session"`
	Roster  []StudentRequest `json:"roster" validate:"dive"`
}

type SessionRequest struct {
	ID        types.FlexID `json:"id" validate:"required"`
	ClassID   types.FlexID `json:"class_id"`
	StartTime string       `json:"start_time"`
	EndTime   string       `json:"end_time"`
}

type StudentRequest struct {
	ID   types.FlexID `json:"id" validate:"required,max=64"`
	Name string       `json:"name" validate:"max=200"`
}

type ErrorResponse struct {
	Error   string            `json:"error"`
	Code    int               `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

type HealthResponse struct {
	Status      string                 `json:"status"`
	Timestamp   time.Time              `json:"timestamp"`
	Database    string                 `json:"database"`
	Observers   map[string]int         `json:"observers,omitempty"`
	Connections map[string]int64       `json:"connections,omitempty"`
	Hub         map[string]int64       `json:"hub,omitempty"`
	System      map[string]interface{} `json:"system"`
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.startLive(w, r)
	case http.MethodDelete:
		s.live.Stop()
		s.sendJSON(w, http.StatusOK, s.live.Status())
	case http.MethodGet:
		s.sendJSON(w, http.StatusOK, s.live.Status())
	default:
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// POST /api/live blocks until the first frame arrives or the attempt fails
func (s *Server) startLive(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.sendValidationError(w, err)
		return
	}

	start, err := req.toControllerRequest()
	if err != nil {
		s.sendError(w, startErrorMessage(err), startErrorStatus(err))
		return
	}

	if err := s.live.Start(r.Context(), start); err != nil {
		log.Printf("Live start failed: session=%s err=%v", start.Session.ID, err)
		s.sendError(w, startErrorMessage(err), startErrorStatus(err))
		return
	}

	s.sendJSON(w, http.StatusOK, s.live.Status())
}

func (req StartRequest) toControllerRequest() (controller.StartRequest, error) {
	out := controller.StartRequest{
		Session: types.Session{
			ID:         string(req.Session.ID),
			ClassID:    string(req.Session.ClassID),
			RosterSize: len(req.Roster),
		},
		Roster: make(types.Roster, 0, len(req.Roster)),
	}

	// no end_time means no auto-stop deadline
	if req.Session.EndTime != "" {
		end, err := types.ParseTimestamp(req.Session.EndTime)
		if err != nil {
			return out, fmt.Errorf("%w: end_time %q", types.ErrInvalidSessionWindow, req.Session.EndTime)
		}
		out.Session.EndTime = end
	}
	if req.Session.StartTime != "" {
		start, err := types.ParseTimestamp(req.Session.StartTime)
		if err != nil {
			return out, fmt.Errorf("%w: start_time %q", types.ErrInvalidSessionWindow, req.Session.StartTime)
		}
		out.Session.StartTime = start
	}

	for _, st := range req.Roster {
		out.Roster = append(out.Roster, types.Student{ID: string(st.ID), Name: st.Name})
	}
	return out, nil
}

func startErrorStatus(err error) int {
	switch {
	case errors.Is(err, types.ErrInvalidSessionWindow),
		errors.Is(err, types.ErrMissingSessionID),
		errors.Is(err, controller.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrAttemptAborted):
		return http.StatusConflict
	case errors.Is(err, types.ErrSignalingFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func startErrorMessage(err error) string {
	if errors.Is(err, controller.ErrInvalidRequest) {
		return err.Error()
	}
	if errors.Is(err, session.ErrAttemptAborted) {
		return "The live session was replaced or stopped before it connected."
	}
	return types.UserMessage(err)
}

// GET /api/sessions?limit=N lists journaled live runs, newest first
func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			s.sendError(w, "limit must be between 1 and 500", http.StatusBadRequest)
			return
		}
		limit = n
	}

	runs, err := s.summaries.RecentRuns(r.Context(), limit)
	if err != nil {
		s.sendSummaryError(w, "", err)
		return
	}
	if runs == nil {
		runs = []*types.LiveSessionRecord{}
	}
	s.sendJSON(w, http.StatusOK, map[string]interface{}{"sessions": runs})
}

// GET /api/sessions/{id}/summary
func (s *Server) handleSessionSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/sessions/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "summary" {
		s.sendError(w, "Not found", http.StatusNotFound)
		return
	}

	sum, err := s.summaries.JournalSummary(r.Context(), parts[0])
	if err != nil {
		s.sendSummaryError(w, parts[0], err)
		return
	}
	s.sendJSON(w, http.StatusOK, sum)
}

// GET /api/classes/{classID}/sessions/{sessionID}/summary
func (s *Server) handleClassSessionSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/classes/"), "/")
	if len(parts) != 4 || parts[0] == "" || parts[1] != "sessions" || parts[2] == "" || parts[3] != "summary" {
		s.sendError(w, "Not found", http.StatusNotFound)
		return
	}

	sum, err := s.summaries.BackendSummary(r.Context(), parts[0], parts[2])
	if err != nil {
		s.sendSummaryError(w, parts[2], err)
		return
	}
	s.sendJSON(w, http.StatusOK, sum)
}

func (s *Server) sendSummaryError(w http.ResponseWriter, sessionID string, err error) {
	switch {
	case errors.Is(err, interfaces.ErrSessionNotFound):
		s.sendError(w, "Session not found", http.StatusNotFound)
	case errors.Is(err, summary.ErrSourceUnavailable):
		s.sendError(w, "Summary source not configured", http.StatusServiceUnavailable)
	default:
		log.Printf("Summary failed: session=%s err=%v", sessionID, err)
		s.sendError(w, "Failed to compute summary", http.StatusBadGateway)
	}
}

// GET /health
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	dbStatus := "disabled"

	if s.health.Journal != nil {
		dbStatus = "healthy"
		if err := s.health.Journal.HealthCheck(ctx); err != nil {
			status = "unhealthy"
			dbStatus = fmt.Sprintf("error: %v", err)
		}
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now(),
		Database:  dbStatus,
		System: map[string]interface{}{
			"goroutines": runtime.NumGoroutine(),
			"uptime":     time.Since(s.started).Round(time.Second).String(),
			"state":      s.live.Status().State,
		},
	}
	if s.health.Observers != nil {
		response.Observers = s.health.Observers.GetStats()
	}
	if s.health.Connections != nil {
		response.Connections = s.health.Connections.Stats()
	}
	if s.health.Hub != nil {
		response.Hub = s.health.Hub.GetStats()
	}

	code := http.StatusOK
	if status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	s.sendJSON(w, code, response)
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, v interface{}) {
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

// FUNCTIONAL DISCOVERY: Consistent error response format
func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	s.sendJSON(w, code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

func (s *Server) sendValidationError(w http.ResponseWriter, err error) {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		s.sendError(w, "Invalid input", http.StatusBadRequest)
		return
	}

	details := make(map[string]string, len(ve))
	for _, fe := range ve {
		details[fe.Namespace()] = fe.Tag()
	}
	s.sendJSON(w, http.StatusBadRequest, ErrorResponse{
		Error:   http.StatusText(http.StatusBadRequest),
		Code:    http.StatusBadRequest,
		Message: "Validation failed",
		Details: details,
	})
}

// Allows all origins; the control surface is bound to a local address
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
