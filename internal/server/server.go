// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/jeranaias/backroom/internal/engine"
	"github.com/jeranaias/backroom/internal/model"
	"github.com/jeranaias/backroom/internal/session"
	"github.com/jeranaias/backroom/internal/telemetry"
	"github.com/jeranaias/backroom/internal/turnerr"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// DefaultAddr is the default listen address.
	DefaultAddr = "127.0.0.1:8787"

	// MaxRequestBodySize is the default request body limit.
	MaxRequestBodySize = 1 << 20

	// SessionHeader carries the session id in both directions.
	SessionHeader = "X-Session-Id"

	// UserHeader names the caller when auth is disabled.
	UserHeader = "X-User-Id"

	// SessionCookie is the cookie fallback for SessionHeader.
	SessionCookie = "backroom_session"

	shutdownTimeout = 10 * time.Second
)

// Version is reported by /health.
var Version = "dev"

// Clear actions accepted by POST /v1/conversation.
var clearActions = map[string]bool{
	"clear":          true,
	"clear_backroom": true,
	"clear_chat":     true,
}

// =============================================================================
// SERVER
// =============================================================================

// ModelCatalog lists the configured models for GET /v1/models.
type ModelCatalog interface {
	Models() []model.ModelConfig
	Roster() []string
}

// Server exposes an Engine over HTTP.
type Server struct {
	addr    string
	engine  *engine.Engine
	catalog ModelCatalog
	stats   *telemetry.Stats
	auth    *AuthConfig
	cors    *CORSConfig
	limiter *RateLimiter
	maxBody int64
	logger  *log.Logger

	router *http.ServeMux

	mu     sync.Mutex
	server *http.Server
	closed bool
}

// NewServer creates a server for eng listening on addr.
func NewServer(addr string, eng *engine.Engine) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	s := &Server{
		addr:    addr,
		engine:  eng,
		auth:    DefaultAuthConfig(),
		cors:    DefaultCORSConfig(),
		limiter: DefaultRateLimiter(),
		maxBody: MaxRequestBodySize,
		logger:  log.New(os.Stderr, "", log.LstdFlags),
		router:  http.NewServeMux(),
	}
	s.setupRoutes()
	return s
}

// WithCatalog sets the model listing source.
func (s *Server) WithCatalog(c ModelCatalog) *Server {
	s.catalog = c
	return s
}

// WithStats sets the statistics served at /stats.
func (s *Server) WithStats(st *telemetry.Stats) *Server {
	s.stats = st
	return s
}

// WithAuth sets the authentication configuration.
func (s *Server) WithAuth(cfg *AuthConfig) *Server {
	s.auth = cfg
	return s
}

// WithCORS sets the CORS configuration.
func (s *Server) WithCORS(cfg *CORSConfig) *Server {
	s.cors = cfg
	return s
}

// WithRateLimiter sets the per-client rate limiter. nil disables limiting.
func (s *Server) WithRateLimiter(rl *RateLimiter) *Server {
	s.limiter = rl
	return s
}

// WithMaxBody sets the request body limit.
func (s *Server) WithMaxBody(n int64) *Server {
	if n > 0 {
		s.maxBody = n
	}
	return s
}

// WithLogger sets the request logger.
func (s *Server) WithLogger(l *log.Logger) *Server {
	s.logger = l
	return s
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.addr
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("POST /v1/turns", s.handleTurns)
	s.router.HandleFunc("POST /v1/conversation", s.handleConversationAction)
	s.router.HandleFunc("GET /v1/conversation", s.handleTranscript)
	s.router.HandleFunc("GET /v1/models", s.handleModels)
	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("GET /stats", s.handleStats)
}

// Handler returns the routes wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	mws := []func(http.Handler) http.Handler{
		RecoveryMiddleware(),
		SecurityHeadersMiddleware(),
		LoggingMiddleware(s.logger),
		CORSMiddleware(s.cors),
	}
	if s.limiter != nil {
		mws = append(mws, RateLimitMiddleware(s.limiter))
	}
	mws = append(mws, AuthMiddleware(s.auth, "/health"))
	return Chain(mws...)(s.router)
}

// Start listens and serves until Shutdown is called.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	s.server = srv
	s.mu.Unlock()

	authEnabled := s.auth != nil && s.auth.Enabled
	log.Printf("SERVER_START | addr=%s auth=%t version=%s", s.addr, authEnabled, Version)
	if !authEnabled && !isLoopback(s.addr) {
		log.Printf("SERVER_WARNING | addr=%s reason=auth_disabled_on_non_loopback", s.addr)
	}

	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the server, waiting for in-flight turns up to ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()
	}
	log.Printf("SERVER_SHUTDOWN | addr=%s", s.addr)
	return srv.Shutdown(ctx)
}

func isLoopback(addr string) bool {
	host := addr
	if i := strings.LastIndex(addr, ":"); i >= 0 {
		host = addr[:i]
	}
	host = strings.Trim(host, "[]")
	return host == "127.0.0.1" || host == "localhost" || host == "::1"
}

// =============================================================================
// REQUEST / RESPONSE TYPES
// =============================================================================

// TurnsRequest is the body of POST /v1/turns.
type TurnsRequest struct {
	UserText string `json:"user_text"`
	ModelID  string `json:"model_id,omitempty"`

	// TurnCount defaults to 1 when omitted. An explicit 0 is rejected.
	TurnCount *int `json:"turn_count,omitempty"`

	GenerationParams model.GenerationParams `json:"generation_params"`
}

// TurnView is one committed turn in a response.
type TurnView struct {
	ModelID   string `json:"model_id"`
	ReplyText string `json:"reply_text"`
}

// TurnsResponse is the body returned by POST /v1/turns.
type TurnsResponse struct {
	OK        bool       `json:"ok"`
	SessionID string     `json:"session_id"`
	Turns     []TurnView `json:"turns"`
	ErrorKind string     `json:"error_kind,omitempty"`
	Message   string     `json:"message,omitempty"`
	Status    int        `json:"status,omitempty"`
}

// ConversationAction is the body of POST /v1/conversation.
type ConversationAction struct {
	Action string `json:"action"`
}

// TranscriptResponse is the body returned by GET /v1/conversation.
type TranscriptResponse struct {
	OK        bool            `json:"ok"`
	SessionID string          `json:"session_id"`
	Messages  []model.Message `json:"messages"`
}

// ModelsResponse is the body returned by GET /v1/models.
type ModelsResponse struct {
	Roster []string    `json:"roster"`
	Models []ModelView `json:"models"`
}

// ModelView describes one configured model without credentials.
type ModelView struct {
	ModelID        string `json:"model_id"`
	DisplayName    string `json:"display_name"`
	ProviderFamily string `json:"provider_family"`
}

// errorBody is the body of every non-turn error.
type errorBody struct {
	OK        bool   `json:"ok"`
	ErrorKind string `json:"error_kind"`
	Message   string `json:"message"`
}

// =============================================================================
// HANDLERS
// =============================================================================

func (s *Server) handleTurns(w http.ResponseWriter, r *http.Request) {
	sid, ok := s.resolveSession(w, r)
	if !ok {
		return
	}

	var req TurnsRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeTurnError(w, sid, nil, err)
		return
	}
	turns := 1
	if req.TurnCount != nil {
		turns = *req.TurnCount
	}

	report, err := s.engine.RunTurns(r.Context(), engine.TurnRequest{
		SessionID: sid,
		UserID:    resolveUser(r),
		UserText:  norm.NFC.String(req.UserText),
		ModelID:   strings.TrimSpace(req.ModelID),
		TurnCount: turns,
		Params:    req.GenerationParams,
	})
	if err != nil {
		s.writeTurnError(w, sid, report.Turns, err)
		return
	}

	writeJSON(w, http.StatusOK, TurnsResponse{
		OK:        true,
		SessionID: sid,
		Turns:     viewTurns(report.Turns),
	})
}

func (s *Server) handleConversationAction(w http.ResponseWriter, r *http.Request) {
	sid, ok := s.resolveSession(w, r)
	if !ok {
		return
	}

	var body ConversationAction
	if err := s.decodeJSON(w, r, &body); err != nil {
		writeError(w, err)
		return
	}
	if !clearActions[body.Action] {
		writeError(w, turnerr.New(turnerr.InvalidInput, "unknown action %q", body.Action))
		return
	}
	if err := s.engine.Clear(r.Context(), resolveUser(r), sid); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "session_id": sid})
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	sid, ok := s.resolveSession(w, r)
	if !ok {
		return
	}
	conv, err := s.engine.Transcript(r.Context(), resolveUser(r), sid)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, TranscriptResponse{OK: true, SessionID: sid, Messages: conv.Messages()})
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	resp := ModelsResponse{Roster: s.engine.Roster(), Models: []ModelView{}}
	if s.catalog != nil {
		resp.Roster = s.catalog.Roster()
		for _, m := range s.catalog.Models() {
			resp.Models = append(resp.Models, ModelView{
				ModelID:        m.ModelID,
				DisplayName:    m.Name(),
				ProviderFamily: m.ProviderFamily,
			})
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": Version,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"active_sessions": s.engine.Tracker().Len(),
	}
	if s.stats != nil {
		resp["turns"] = s.stats.Snapshot()
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// IDENTITY
// =============================================================================

// resolveSession returns the caller's session id, minting one when absent.
// The id is echoed in the response header and cookie.
func (s *Server) resolveSession(w http.ResponseWriter, r *http.Request) (string, bool) {
	sid := strings.TrimSpace(r.Header.Get(SessionHeader))
	if sid == "" {
		if c, err := r.Cookie(SessionCookie); err == nil {
			sid = strings.TrimSpace(c.Value)
		}
	}
	if sid == "" {
		sid = session.NewID()
	} else if !session.ValidID(sid) {
		writeError(w, turnerr.New(turnerr.InvalidInput, "invalid session id"))
		return "", false
	}

	w.Header().Set(SessionHeader, sid)
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    sid,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
	})
	return sid, true
}

// resolveUser returns the authenticated user, else the X-User-Id header, else LocalUser.
func resolveUser(r *http.Request) string {
	if user, ok := UserFromContext(r.Context()); ok {
		return user
	}
	if user := strings.TrimSpace(r.Header.Get(UserHeader)); user != "" {
		return user
	}
	return LocalUser
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return turnerr.Wrap(turnerr.InvalidInput, err, "request body exceeds %d bytes", tooLarge.Limit)
		}
		if errors.Is(err, io.EOF) {
			return turnerr.New(turnerr.InvalidInput, "request body is empty")
		}
		return turnerr.Wrap(turnerr.InvalidInput, err, "invalid JSON body")
	}
	return nil
}

func viewTurns(turns []engine.Turn) []TurnView {
	out := make([]TurnView, 0, len(turns))
	for _, t := range turns {
		out = append(out, TurnView{ModelID: t.ModelID, ReplyText: t.ReplyText})
	}
	return out
}

func (s *Server) writeTurnError(w http.ResponseWriter, sid string, committed []engine.Turn, err error) {
	kind := turnerr.KindOf(err)
	writeJSON(w, turnerr.AttributesOf(kind).HTTPStatus, TurnsResponse{
		OK:        false,
		SessionID: sid,
		Turns:     viewTurns(committed),
		ErrorKind: kind.String(),
		Message:   turnerr.MessageOf(err),
		Status:    turnerr.StatusOf(err),
	})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("RESPONSE_ENCODE_FAILED | error=%v", err)
	}
}

// writeError writes a classified error response.
func writeError(w http.ResponseWriter, err error) {
	kind := turnerr.KindOf(err)
	writeJSON(w, turnerr.AttributesOf(kind).HTTPStatus, errorBody{
		OK:        false,
		ErrorKind: kind.String(),
		Message:   turnerr.MessageOf(err),
	})
}

// String describes the server for logs.
func (s *Server) String() string {
	return fmt.Sprintf("Server{addr=%s}", s.addr)
}
