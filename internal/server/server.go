package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cognify/internal/account"
	"cognify/internal/app"
	"cognify/internal/ratelimit"
	"cognify/internal/util"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App                      *app.App
	RedisAddr                string
	RedisPassword            string
	SignupRateLimitPerMinute int
	LoginRateLimitPerMinute  int
	MaxUploadBytes           int64
	AllowedExtensions        []string
}

// Server exposes HTTP endpoints for the backend.
type Server struct {
	app               *app.App
	mux               *http.ServeMux
	maxUploadBytes    int64
	allowedExtensions map[string]struct{}
	signupLimiter     *ratelimit.FixedWindowLimiter
	loginLimiter      *ratelimit.FixedWindowLimiter
}

// New constructs the server with routes configured. Rate limiting is
// active only when a Redis address is configured; nil limiters allow
// everything.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("server: app is required")
	}
	var signupLimiter, loginLimiter *ratelimit.FixedWindowLimiter
	if cfg.RedisAddr != "" {
		signupLimit := cfg.SignupRateLimitPerMinute
		if signupLimit <= 0 {
			signupLimit = 5
		}
		loginLimit := cfg.LoginRateLimitPerMinute
		if loginLimit <= 0 {
			loginLimit = 10
		}
		newLimiter := func(name string, limit int) (*ratelimit.FixedWindowLimiter, error) {
			prefix := "cognify:ratelimit:" + name
			limiter, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, prefix, limit, time.Minute)
			if err != nil {
				return nil, fmt.Errorf("init %s limiter: %w", name, err)
			}
			return limiter, nil
		}
		var err error
		signupLimiter, err = newLimiter("signup", signupLimit)
		if err != nil {
			return nil, err
		}
		loginLimiter, err = newLimiter("login", loginLimit)
		if err != nil {
			return nil, err
		}
	}
	s := &Server{
		app:               cfg.App,
		mux:               http.NewServeMux(),
		maxUploadBytes:    normalizeMaxBytes(cfg.MaxUploadBytes),
		allowedExtensions: normalizeExtensions(cfg.AllowedExtensions),
		signupLimiter:     signupLimiter,
		loginLimiter:      loginLimiter,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithSecurityHeaders(util.WithCORS(s.mux))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// auth
	s.mux.HandleFunc("/api/auth/signup", s.handleSignup)
	s.mux.HandleFunc("/api/auth/login", s.handleLogin)
	s.mux.Handle("/api/auth/logout", s.authenticated(s.handleLogout))
	s.mux.Handle("/api/users/me", s.authenticated(s.handleMe))

	// document & chat (auth required)
	s.mux.Handle("/api/documents", s.authenticated(s.handleDocuments))
	s.mux.Handle("/api/chats", s.authenticated(s.handleChats))
	s.mux.Handle("/api/reports", s.authenticated(s.handleReports))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// auth wrapper
type authHandler func(w http.ResponseWriter, r *http.Request, sess *app.Session, token string)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			s.audit(r, "authorize", "fail", "reason", "missing_token")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		sess, ok := s.app.SessionFromToken(token)
		if !ok {
			s.audit(r, "authorize", "fail", "reason", "invalid_or_expired_token")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		s.audit(r, "authorize", "success", "email", sess.Email)
		next(w, r, sess, token)
	})
}

// auth handlers
func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.signupLimiter, "too many signup attempts") {
		s.audit(r, "signup", "rate_limited")
		return
	}
	var req authRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		s.audit(r, "signup", "fail", "reason", "invalid_json")
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.app.SignUp(req.Email, req.Password); err != nil {
		s.audit(r, "signup", "fail", "reason", err.Error())
		writeAppError(w, err)
		return
	}
	s.audit(r, "signup", "success", "email", req.Email)
	writeJSON(w, http.StatusCreated, map[string]string{"status": "created"})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.loginLimiter, "too many login attempts") {
		s.audit(r, "login", "rate_limited")
		return
	}
	var req authRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		s.audit(r, "login", "fail", "reason", "invalid_json")
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	token, err := s.app.Login(req.Email, req.Password)
	if err != nil {
		s.audit(r, "login", "fail", "reason", err.Error())
		writeAppError(w, err)
		return
	}
	s.audit(r, "login", "success", "email", req.Email)
	writeJSON(w, http.StatusOK, authResponse{Token: token, Email: req.Email})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request, sess *app.Session, token string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if err := s.app.Logout(token); err != nil {
		s.audit(r, "logout", "fail", "reason", err.Error())
		writeAppError(w, err)
		return
	}
	s.audit(r, "logout", "success", "email", sess.Email)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, sess *app.Session, _ string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, meResponse{
		Email:          sess.Email,
		DocumentLoaded: sess.HasDocument(),
	})
}

// /api/documents
func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request, sess *app.Session, token string) {
	_ = sess
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if s.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required (field: file)")
		return
	}
	defer file.Close()
	if !s.isExtensionAllowed(header.Filename) {
		writeError(w, http.StatusBadRequest, "unsupported file type")
		return
	}
	if err := s.app.UploadDocument(r.Context(), token, header.Filename, file); err != nil {
		if errors.Is(err, app.ErrNotAuthenticated) {
			writeAppError(w, err)
			return
		}
		// Extraction failures are the client's document, not our fault.
		writeError(w, http.StatusBadRequest, "could not extract text from document")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"status":   "ready",
		"filename": header.Filename,
	})
}

// /api/chats
func (s *Server) handleChats(w http.ResponseWriter, r *http.Request, sess *app.Session, token string) {
	_ = sess
	switch r.Method {
	case http.MethodGet:
		msgs, err := s.app.Transcript(token)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items": msgs,
			"count": len(msgs),
		})
	case http.MethodPost:
		s.handleAsk(w, r, token)
	case http.MethodDelete:
		if err := s.app.ClearHistory(token); err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
	default:
		methodNotAllowed(w)
	}
}

// handleAsk streams the answer as server-sent events, one event per
// fragment, closing with a done event that carries the full answer.
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request, token string) {
	var req chatRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	streaming := false
	emit := func(fragment string) {
		streaming = true
		writeSSE(w, chatEvent{Response: fragment})
		flusher.Flush()
	}
	answer, saved, err := s.app.Ask(r.Context(), token, req.Question, emit)
	if err != nil {
		if streaming {
			writeSSE(w, chatEvent{Done: true, Error: err.Error()})
			flusher.Flush()
			return
		}
		// Headers are not committed until the first write, so early
		// failures still get a proper status code.
		writeAppError(w, err)
		return
	}
	writeSSE(w, chatEvent{Done: true, Answer: answer, Saved: saved})
	flusher.Flush()
}

// /api/reports
func (s *Server) handleReports(w http.ResponseWriter, r *http.Request, sess *app.Session, token string) {
	_ = sess
	switch r.Method {
	case http.MethodPost:
		path, err := s.app.GenerateReport(token)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{
			"status":   "generated",
			"filename": filepath.Base(path),
		})
	case http.MethodGet:
		path, err := s.app.ReportPath(token)
		if err != nil {
			writeAppError(w, err)
			return
		}
		if _, err := os.Stat(path); err != nil {
			writeError(w, http.StatusNotFound, "no report generated yet")
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", `attachment; filename="`+filepath.Base(path)+`"`)
		http.ServeFile(w, r, path)
	default:
		methodNotAllowed(w)
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

type authRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string `json:"token"`
	Email string `json:"email"`
}

type meResponse struct {
	Email          string `json:"email"`
	DocumentLoaded bool   `json:"documentLoaded"`
}

type chatRequest struct {
	Question string `json:"question"`
}

type chatEvent struct {
	Response string `json:"response,omitempty"`
	Answer   string `json:"answer,omitempty"`
	Saved    bool   `json:"saved,omitempty"`
	Error    string `json:"error,omitempty"`
	Done     bool   `json:"done,omitempty"`
}

func writeSSE(w http.ResponseWriter, event chatEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", payload)
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		slog.Warn("missing bearer prefix", "path", r.URL.Path)
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		slog.Warn("empty bearer token", "path", r.URL.Path)
		return "", false
	}
	return token, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeAppError maps orchestrator and store errors onto HTTP statuses.
func writeAppError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, app.ErrNotAuthenticated):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, app.ErrNoDocument):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, app.ErrEmptyQuestion):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, account.ErrEmptyCredentials):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, account.ErrAccountExists):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func normalizeMaxBytes(value int64) int64 {
	if value <= 0 {
		return 50 * 1024 * 1024
	}
	return value
}

func normalizeExtensions(exts []string) map[string]struct{} {
	if len(exts) == 0 {
		exts = []string{".pdf", ".epub", ".txt"}
	}
	out := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		out[ext] = struct{}{}
	}
	return out
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", clientIP(r),
	}
	logAttrs = append(logAttrs, attrs...)
	if outcome == "success" {
		slog.Info("security_event", logAttrs...)
		return
	}
	slog.Warn("security_event", logAttrs...)
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, msg string) bool {
	key := r.URL.Path + "|" + clientIP(r)
	if limiter.Allow(key) {
		return true
	}
	w.Header().Set("Retry-After", "60")
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}

func clientIP(r *http.Request) string {
	if xfwd := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xfwd != "" {
		parts := strings.Split(xfwd, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	return strings.TrimSpace(r.RemoteAddr)
}

func (s *Server) isExtensionAllowed(filename string) bool {
	if len(s.allowedExtensions) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(filename))
	_, ok := s.allowedExtensions[ext]
	return ok
}
