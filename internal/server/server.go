package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"booklend/internal/app"
	"booklend/internal/ratelimit"
	"booklend/internal/util"
)

const maxBodyBytes = 1 << 20

// RateLimiter guards the credential endpoints.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (ratelimit.Decision, error)
}

// Config wires required dependencies for the HTTP server.
type Config struct {
	App *app.App
	// Limiter is optional; nil disables rate limiting.
	Limiter        RateLimiter
	TrustedProxies []string
	AllowedOrigins []string
	// KeepAlive is the comment interval on subscription streams.
	KeepAlive time.Duration
}

// Server exposes the lending HTTP endpoints.
type Server struct {
	app            *app.App
	limiter        RateLimiter
	trustedProxies *util.TrustedProxies
	allowedOrigins []string
	keepAlive      time.Duration
	mux            *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("server: app is required")
	}
	trusted, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("parse trusted proxies: %w", err)
	}
	keepAlive := cfg.KeepAlive
	if keepAlive <= 0 {
		keepAlive = 15 * time.Second
	}
	s := &Server{
		app:            cfg.App,
		limiter:        cfg.Limiter,
		trustedProxies: trusted,
		allowedOrigins: cfg.AllowedOrigins,
		keepAlive:      keepAlive,
		mux:            http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("booklend", util.WithSecurityHeaders(util.WithCORS(s.allowedOrigins, s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// users
	s.mux.HandleFunc("/check_user", s.handleCheckUser)
	s.mux.HandleFunc("/add_user", s.handleAddUser)
	s.mux.HandleFunc("/get_user_id", s.handleGetUserID)
	s.mux.HandleFunc("/users", s.handleUsers)
	s.mux.HandleFunc("/getUserAndBook", s.handleUserAndBook)

	// catalog
	s.mux.HandleFunc("/books", s.handleBooks)
	s.mux.HandleFunc("/search_books", s.handleSearchBooks)
	s.mux.HandleFunc("/book_title/", s.handleBookTitle)

	// requests
	s.mux.HandleFunc("/create_request", s.handleCreateRequest)
	s.mux.HandleFunc("/update_request_status", s.handleUpdateRequestStatus)
	s.mux.HandleFunc("/requests", s.handleRequests)
	s.mux.HandleFunc("/user_requests_by_id/", s.handleUserRequestsByID)
	s.mux.HandleFunc("/user_requests/", s.handleUserRequestIDs)
	s.mux.HandleFunc("/book_requests/", s.handleBookRequests)
	s.mux.HandleFunc("/subscribe_requests", s.handleSubscribeRequests)

	// returns
	s.mux.HandleFunc("/return_book", s.handleReturnBook)
	s.mux.HandleFunc("/update_return_status", s.handleUpdateReturnStatus)
	s.mux.HandleFunc("/returns", s.handleReturns)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, scope string) bool {
	if s.limiter == nil {
		return true
	}
	key := util.RateLimitKey(scope, r, s.trustedProxies)
	decision, err := s.limiter.Allow(r.Context(), key)
	if err != nil {
		util.LoggerFromContext(r.Context()).Error("rate limiter unavailable", "scope", scope, "err", err)
	}
	if decision.Allowed {
		return true
	}
	retry := int(math.Ceil(decision.RetryAfter.Seconds()))
	if retry < 1 {
		retry = 1
	}
	util.LoggerFromContext(r.Context()).Warn("security_event", "event", scope, "outcome", "rate_limited")
	w.Header().Set("Retry-After", strconv.Itoa(retry))
	writeError(w, http.StatusTooManyRequests, "too many attempts")
	return false
}

// decodeJSON reads a bounded JSON body into dst.
func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// pathID parses the trailing id of /prefix/{id}.
func pathID(r *http.Request, prefix string) (int64, bool) {
	raw := strings.TrimPrefix(r.URL.Path, prefix)
	if raw == "" || strings.Contains(raw, "/") {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// queryID parses a positive integer query parameter.
func queryID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(r.URL.Query().Get(name)), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// parseBool accepts only a JSON boolean.
func parseBool(raw json.RawMessage) (bool, bool) {
	switch strings.TrimSpace(string(raw)) {
	case "true":
		return true, true
	case "false":
		return false, true
	default:
		return false, false
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, msg)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
