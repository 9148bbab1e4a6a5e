package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"fundroom/api/internal/auth"
	"fundroom/api/internal/metrics"
	"fundroom/api/internal/rbac"
	"fundroom/api/internal/store"
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
	return &HTTPServer{service: service, corsOrigin: corsOrigin, logger: logger}
}

func (s *HTTPServer) Handler() http.Handler {
	origins := []string{"*"}
	if s.corsOrigin != "" && s.corsOrigin != "*" {
		origins = strings.Split(s.corsOrigin, ",")
	}
	corsHandler := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID", "X-Render-Cache", "Content-Disposition"},
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", http.HandlerFunc(s.handle))
	return corsHandler.Handler(s.withMiddleware(mux))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
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
			"database": map[string]any{"status": "ok"},
		}
		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
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

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		if !s.authorize(w, r, session, rbac.ActionRead) {
			return
		}
		query := r.URL.Query()
		limit, ok := intParam(w, query.Get("limit"), "limit")
		if !ok {
			return
		}
		offset, ok := intParam(w, query.Get("offset"), "offset")
		if !ok {
			return
		}
		payload, err := s.service.Search(r.Context(), query.Get("q"), strings.TrimSpace(query.Get("type")), limit, offset)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/templates" {
		if !s.authorize(w, r, session, rbac.ActionRead) {
			return
		}
		items, err := s.service.ListTypes(r.Context())
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"templates": items})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/template-versions/diff" {
		if !s.authorize(w, r, session, rbac.ActionRead) {
			return
		}
		payload, err := s.service.Diff(r.Context(), r.URL.Query().Get("from"), r.URL.Query().Get("to"))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	parts := splitPath(r.URL.Path)

	// /api/templates/{type}/{versions|active|history|render}
	if len(parts) == 4 && parts[0] == "api" && parts[1] == "templates" {
		s.handleTemplate(w, r, session, parts[2], parts[3])
		return
	}

	// /api/template-versions/{id}[/activate]
	if len(parts) >= 3 && len(parts) <= 4 && parts[0] == "api" && parts[1] == "template-versions" {
		action := ""
		if len(parts) == 4 {
			action = parts[3]
		}
		s.handleVersion(w, r, session, parts[2], action)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleTemplate(w http.ResponseWriter, r *http.Request, session Session, templateType, resource string) {
	switch {
	case resource == "versions" && r.Method == http.MethodGet:
		if !s.authorize(w, r, session, rbac.ActionRead) {
			return
		}
		items, err := s.service.ListVersions(r.Context(), templateType)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"versions": items})

	case resource == "versions" && r.Method == http.MethodPost:
		if !s.authorize(w, r, session, rbac.ActionEdit) {
			return
		}
		var body SaveInput
		if !decodeBody(w, r, &body) {
			return
		}
		saved, err := s.service.Save(r.Context(), templateType, body, session)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, saved)

	case resource == "active" && r.Method == http.MethodGet:
		if !s.authorize(w, r, session, rbac.ActionRead) {
			return
		}
		active, err := s.service.GetActive(r.Context(), templateType)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"active": active})

	case resource == "history" && r.Method == http.MethodGet:
		if !s.authorize(w, r, session, rbac.ActionRead) {
			return
		}
		if r.URL.Query().Has("at") {
			revision, err := s.service.ContentAt(r.Context(), templateType, r.URL.Query().Get("at"))
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, revision)
			return
		}
		limit, ok := intParam(w, r.URL.Query().Get("limit"), "limit")
		if !ok {
			return
		}
		commits, err := s.service.History(r.Context(), templateType, limit)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"history": commits})

	case resource == "render" && r.Method == http.MethodPost:
		if !s.authorize(w, r, session, rbac.ActionRender) {
			return
		}
		var body RenderInput
		if !decodeBody(w, r, &body) {
			return
		}
		out, err := s.service.Render(r.Context(), templateType, body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		w.Header().Set("X-Render-Cache", out.Cache)
		if out.URL != "" {
			writeJSON(w, http.StatusOK, map[string]any{
				"url":       out.URL,
				"objectKey": out.ObjectKey,
				"filename":  out.Document.Filename,
				"mimeType":  out.Document.MimeType,
				"version":   out.Version,
				"cache":     out.Cache,
			})
			return
		}
		w.Header().Set("Content-Type", out.Document.MimeType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", out.Document.Filename))
		w.Header().Set("Content-Length", strconv.Itoa(len(out.Document.Data)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(out.Document.Data)

	case resource == "versions" || resource == "active" || resource == "history" || resource == "render":
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleVersion(w http.ResponseWriter, r *http.Request, session Session, id, action string) {
	switch {
	case action == "" && r.Method == http.MethodGet:
		if !s.authorize(w, r, session, rbac.ActionRead) {
			return
		}
		item, err := s.service.GetVersion(r.Context(), id)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, item)

	case action == "" && r.Method == http.MethodDelete:
		if !s.authorize(w, r, session, rbac.ActionDelete) {
			return
		}
		result, err := s.service.Delete(r.Context(), id, session)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)

	case action == "activate" && r.Method == http.MethodPost:
		if !s.authorize(w, r, session, rbac.ActionPublish) {
			return
		}
		item, err := s.service.Activate(r.Context(), id, session)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, item)

	case action == "" || action == "activate":
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(token)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return Session{}, false
	}
	return session, true
}

// authorize writes a 403 and returns false when the session's role may not
// perform action.
func (s *HTTPServer) authorize(w http.ResponseWriter, r *http.Request, session Session, action rbac.Action) bool {
	if s.service.Can(session.Role, action) {
		return true
	}
	s.logger.Info("forbidden",
		zap.String("request_id", requestID(r.Context())),
		zap.String("user_id", session.UserID),
		zap.String("role", session.Role),
		zap.String("action", string(action)),
	)
	writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	return false
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
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		writer.Header().Set("X-Request-ID", requestID)
		writer.Header().Set("Cache-Control", "no-store")

		next.ServeHTTP(writer, r)

		elapsed := time.Since(started)
		route := routeLabel(r.URL.Path)
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(writer.status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(elapsed.Seconds())

		s.logger.Info("request",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", writer.status),
			zap.Int64("duration_ms", elapsed.Milliseconds()),
		)
	})
}

// routeLabel collapses path parameters so metric cardinality stays bounded.
func routeLabel(path string) string {
	parts := splitPath(path)
	switch {
	case len(parts) == 4 && parts[0] == "api" && parts[1] == "templates":
		return "/api/templates/{type}/" + parts[3]
	case len(parts) == 3 && parts[0] == "api" && parts[1] == "template-versions" && parts[2] != "diff":
		return "/api/template-versions/{id}"
	case len(parts) == 4 && parts[0] == "api" && parts[1] == "template-versions":
		return "/api/template-versions/{id}/" + parts[3]
	case len(parts) <= 3:
		return "/" + strings.Join(parts, "/")
	default:
		return "other"
	}
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

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
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

// maxBodyBytes bounds save and render payloads.
const maxBodyBytes = 2 << 20

// decodeBody reads a JSON body into target, writing a 400 or 413 and
// returning false when it cannot. An empty body leaves target untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, target any) bool {
	if r.Body == nil {
		return true
	}
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer body.Close()
	if err := json.NewDecoder(body).Decode(target); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return true
		case errors.As(err, &tooLarge):
			writeError(w, http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE", fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit), nil)
		default:
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid JSON body", nil)
		}
		return false
	}
	return true
}

func intParam(w http.ResponseWriter, raw, name string) (int, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, true
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", name+" must be an integer", nil)
		return 0, false
	}
	return parsed, true
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
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, store.ErrConflict) {
		return http.StatusConflict, "CONFLICT", "Conflicting write", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
