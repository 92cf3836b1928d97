package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"groupbot/internal/auth"
	"groupbot/internal/metrics"
	"groupbot/internal/search"
	"groupbot/internal/store"
	"groupbot/internal/util"
)

const (
	maxEventBytes = 1 << 20
	eventTimeout  = 30 * time.Second
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	webhookKey []byte
	opsToken   string
	logger     *slog.Logger
}

type HTTPConfig struct {
	CORSOrigin string
	// WebhookKey enables X-Webhook-Hmac verification when set.
	WebhookKey string
	// OpsToken guards the /api/groups endpoints. Empty disables them.
	OpsToken string
	Logger   *slog.Logger
}

func NewHTTPServer(service *Service, cfg HTTPConfig) *HTTPServer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPServer{
		service:    service,
		corsOrigin: cfg.CORSOrigin,
		webhookKey: []byte(cfg.WebhookKey),
		opsToken:   cfg.OpsToken,
		logger:     logger,
	}
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

		ready, checks := s.service.Ready(ctx)
		status, statusCode := "ready", http.StatusOK
		if !ready {
			status, statusCode = "not_ready", http.StatusServiceUnavailable
		}
		writeJSON(w, statusCode, map[string]any{
			"ok":     ready,
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/metrics" {
		metrics.Handler().ServeHTTP(w, r)
		return
	}

	if r.URL.Path == "/event" {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		s.handleEvent(w, r)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "groups" {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		if err := auth.CheckToken(s.opsToken, auth.BearerToken(r.Header.Get("Authorization"))); err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return
		}
		switch len(parts) {
		case 2:
			s.handleGroupSearch(w, r)
		case 3:
			s.handleGroup(w, r, parts[2])
		default:
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
		}
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
}

func (s *HTTPServer) handleEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEventBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE", "Request body too large", nil)
		return
	}
	if err := auth.VerifySignature(s.webhookKey, body, r.Header.Get(auth.SignatureHeader)); err != nil {
		s.logger.Warn("webhook rejected", "request_id", requestIDFrom(r.Context()), "error", err)
		writeError(w, http.StatusUnauthorized, "INVALID_SIGNATURE", "Invalid signature", nil)
		return
	}

	// The platform may hang up before a slow command finishes; the work must
	// still complete because the redelivery will be dropped as a duplicate.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), eventTimeout)
	defer cancel()

	result, err := s.service.HandleEvent(ctx, body)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleGroupSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, _ := strconv.Atoi(query.Get("limit"))
	offset, _ := strconv.Atoi(query.Get("offset"))
	writeJSON(w, http.StatusOK, s.service.SearchGroups(r.Context(), search.Query{
		Text:   strings.TrimSpace(query.Get("q")),
		Limit:  limit,
		Offset: offset,
	}))
}

func (s *HTTPServer) handleGroup(w http.ResponseWriter, r *http.Request, groupID string) {
	g, err := s.service.Group(r.Context(), groupID)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, groupView(g))
}

func groupView(g store.Group) map[string]any {
	return map[string]any{
		"id":         g.ID,
		"name":       g.Name,
		"ownerPhone": g.OwnerPhone,
		"admins":     g.Admins.Strings(),
		"members":    g.Members.Strings(),
		"settings": map[string]any{
			"welcomeEnabled":         g.Settings.WelcomeEnabled,
			"welcomeMessageTemplate": g.Settings.WelcomeMessageTemplate,
			"tagAllScope":            g.Settings.TagAllScope,
			"prayerReminderEnabled":  g.Settings.PrayerReminderEnabled,
		},
		"createdAt": g.CreatedAt,
		"updatedAt": g.UpdatedAt,
	}
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = util.NewID("req")
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		elapsed := time.Since(started)
		metrics.HTTPDuration.WithLabelValues(r.Method, strconv.Itoa(writer.status)).Observe(elapsed.Seconds())
		s.logger.Info("http request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", writer.status,
			"duration_ms", elapsed.Milliseconds(),
		)
	})
}

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
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

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, X-Webhook-Hmac")
	header.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
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
	if errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
