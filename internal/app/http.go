package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mutesky/api/internal/auth"
	"mutesky/api/internal/bsky"
	"mutesky/api/internal/metrics"
	"mutesky/api/internal/mutes"
	"mutesky/api/internal/search"
	"mutesky/api/internal/weight"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	logger     *zap.Logger
}

func NewHTTPServer(service *Service, corsOrigin string, logger *zap.Logger) *HTTPServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPServer{service: service, corsOrigin: corsOrigin, logger: logger.Named("http")}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"storage": map[string]any{"status": "ok"},
			"catalog": map[string]any{"status": "ok", "keywords": s.service.Catalog().KeywordCount()},
		}
		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["storage"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/metrics" {
		metrics.Handler().ServeHTTP(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "handle": nil})
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "handle": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"did":           session.DID,
			"handle":        session.Handle,
			"expiresAt":     session.ExpiresAt.Unix(),
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/login" {
		var body struct {
			Identifier string `json:"identifier"`
			Password   string `json:"password"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		session, err := s.service.Login(r.Context(), body.Identifier, body.Password)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"token":     session.Token,
			"did":       session.DID,
			"handle":    session.Handle,
			"expiresAt": session.ExpiresAt.Unix(),
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/logout" {
		session := Session{}
		if token := bearerToken(r); token != "" {
			if parsed, err := s.service.SessionFromToken(r.Context(), token); err == nil {
				session = parsed
			}
		}
		if err := s.service.Logout(r.Context(), session); err != nil {
			s.logger.Warn("logout", zap.String("did", session.DID), zap.Error(err))
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/catalog" {
		writeJSON(w, http.StatusOK, describeCatalog(s.service.Catalog()))
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/catalog/search" {
		query := r.URL.Query()
		limit, _ := strconv.Atoi(query.Get("limit"))
		writeJSON(w, http.StatusOK, s.service.SearchKeywords(search.Query{
			Text:     query.Get("q"),
			Category: query.Get("category"),
			Limit:    limit,
		}))
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/catalog/refresh" {
		c, err := s.service.RefreshCatalog(r.Context())
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, describeCatalog(c))
		return
	}

	parts := splitPath(r.URL.EscapedPath())
	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "selection" {
		s.handleSelection(w, r, session, parts[2:])
		return
	}
	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "mutes" {
		s.handleMutes(w, r, session, parts[2:])
		return
	}

	if r.URL.Path == "/api/settings/mute" {
		switch r.Method {
		case http.MethodGet:
			settings, err := s.service.Settings(r.Context(), session)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, settings)
			return
		case http.MethodPut:
			var body mutes.Settings
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			settings, err := s.service.UpdateSettings(r.Context(), session, body)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, settings)
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleSelection(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	ctx := r.Context()
	var (
		view SelectionView
		err  error
	)

	switch {
	case len(parts) == 0 && r.Method == http.MethodGet:
		view, err = s.service.Selection(ctx, session)

	case len(parts) == 3 && parts[2] == "toggle" && r.Method == http.MethodPost:
		id, unescapeErr := url.PathUnescape(parts[1])
		if unescapeErr != nil {
			writeError(w, http.StatusBadRequest, "INVALID_PATH", "Invalid id", nil)
			return
		}
		switch parts[0] {
		case "contexts":
			view, err = s.service.ToggleContext(ctx, session, id)
		case "exceptions":
			view, err = s.service.ToggleException(ctx, session, id)
		case "categories":
			view, err = s.service.ToggleCategory(ctx, session, id)
		default:
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
			return
		}

	case len(parts) == 1 && parts[0] == "keywords" && r.Method == http.MethodPost:
		var body struct {
			Keyword string `json:"keyword"`
			Enabled *bool  `json:"enabled"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if body.Enabled == nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "enabled is required", nil)
			return
		}
		view, err = s.service.ToggleKeyword(ctx, session, body.Keyword, *body.Enabled)

	case len(parts) == 1 && parts[0] == "budget" && r.Method == http.MethodPut:
		var body struct {
			Level       *int `json:"level"`
			TargetCount *int `json:"targetCount"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		view, err = s.service.ChangeBudget(ctx, session, body.Level, body.TargetCount)

	case len(parts) == 1 && parts[0] == "mode" && r.Method == http.MethodPut:
		var body struct {
			Mode string `json:"mode"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		view, err = s.service.SetMode(ctx, session, body.Mode)

	case len(parts) == 1 && (parts[0] == "enable-all" || parts[0] == "disable-all") && r.Method == http.MethodPost:
		var body struct {
			Search string `json:"search"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if parts[0] == "enable-all" {
			view, err = s.service.EnableAll(ctx, session, body.Search)
		} else {
			view, err = s.service.DisableAll(ctx, session, body.Search)
		}

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *HTTPServer) handleMutes(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	switch {
	case len(parts) == 0 && r.Method == http.MethodGet:
		overview, err := s.service.Mutes(r.Context(), session)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, overview)

	case len(parts) == 1 && parts[0] == "sync" && r.Method == http.MethodPost:
		result, err := s.service.Sync(r.Context(), session)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)

	case len(parts) == 1 && parts[0] == "history" && r.Method == http.MethodGet:
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		records, err := s.service.SyncHistory(r.Context(), session, limit)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": records})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "NOT_AUTHENTICATED", "Not signed in", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "NOT_AUTHENTICATED", "Not signed in", nil)
			return Session{}, false
		}
		s.logger.Error("session lookup failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("request_id", requestID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", id)

		next.ServeHTTP(writer, r)

		elapsed := time.Since(started)
		metrics.ObserveRequest(routeLabel(r.URL.Path), writer.status, elapsed)
		s.logger.Info("request",
			zap.String("request_id", id),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", writer.status),
			zap.Int64("duration_ms", elapsed.Milliseconds()),
		)
	})
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// routeLabel collapses path ids so metrics keep a bounded label set.
func routeLabel(path string) string {
	parts := splitPath(path)
	if len(parts) == 5 && parts[1] == "selection" && parts[4] == "toggle" {
		parts[3] = "{id}"
		return "/" + strings.Join(parts, "/")
	}
	switch path {
	case "/api/health", "/api/ready", "/metrics", "/api/session", "/api/session/login", "/api/session/logout",
		"/api/catalog", "/api/catalog/search", "/api/catalog/refresh", "/api/selection",
		"/api/selection/keywords", "/api/selection/budget", "/api/selection/mode",
		"/api/selection/enable-all", "/api/selection/disable-all",
		"/api/mutes", "/api/mutes/sync", "/api/mutes/history", "/api/settings/mute":
		return path
	}
	return "other"
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	switch {
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "NOT_AUTHENTICATED", "Not signed in", nil
	case errors.Is(err, bsky.ErrInvalidCredentials):
		return http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid handle or app password", nil
	case errors.Is(err, bsky.ErrNotAuthenticated):
		return http.StatusUnauthorized, "NOT_AUTHENTICATED", "Bluesky session ended, please sign in again", nil
	case errors.Is(err, bsky.ErrSessionExpired):
		return http.StatusUnauthorized, "SESSION_EXPIRED", "Bluesky session expired", nil
	case errors.Is(err, bsky.ErrRateLimited):
		return http.StatusTooManyRequests, "RATE_LIMITED", "Rate limited by Bluesky, try again later", nil
	case errors.Is(err, bsky.ErrServiceUnavailable):
		return http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "Bluesky is unavailable, try again later", nil
	case errors.Is(err, weight.ErrInvalidBudget), errors.Is(err, mutes.ErrInvalidSettings):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil
	}
	var xrpcErr *bsky.XRPCError
	if errors.As(err, &xrpcErr) {
		return http.StatusBadGateway, "UPSTREAM_ERROR", xrpcErr.Error(), nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
