package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"artive/api/internal/auth"
	"artive/api/internal/authpw"
	"artive/api/internal/lineage"
)

// multipart framing allowance on top of the media size limit
const uploadOverheadBytes = 1 << 20

type HTTPServer struct {
	service    *Service
	corsOrigin string
	logger     *zap.Logger
	metrics    http.Handler
}

// NewHTTPServer builds the API surface. metricsHandler is mounted at /metrics
// when non-nil.
func NewHTTPServer(service *Service, corsOrigin string, logger *zap.Logger, metricsHandler http.Handler) *HTTPServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPServer{service: service, corsOrigin: corsOrigin, logger: logger, metrics: metricsHandler}
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
		s.handleReady(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/metrics" && s.metrics != nil {
		s.metrics.ServeHTTP(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signup" {
		s.handleAuthSignUp(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signin" {
		s.handleAuthSignIn(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/refresh" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, CodeInvalidBody, err.Error(), nil)
			return
		}
		session, err := s.service.Refresh(r.Context(), body.RefreshToken)
		if err != nil {
			if !errors.Is(err, auth.ErrInvalidToken) {
				s.logger.Error("refresh failed", zap.Error(err))
			}
			writeError(w, http.StatusUnauthorized, CodeUnauthorized, "Refresh token invalid", nil)
			return
		}
		writeJSON(w, http.StatusOK, sessionPayload(session))
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/logout" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		_ = decodeBody(r, &body)
		if err := s.service.Logout(r.Context(), body.RefreshToken); err != nil {
			s.logger.Warn("logout revoke failed", zap.Error(err))
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, CodeNotFound, "Not found", nil)
		return
	}

	switch parts[1] {
	case "seeds":
		s.handleSeeds(w, r, parts[2:])
	case "forks":
		s.handleForks(w, r, parts[2:])
	case "nodes":
		s.handleNodes(w, r, parts[2:])
	case "media":
		s.handleMedia(w, r, parts[2:])
	case "search":
		s.handleSearch(w, r, parts[2:])
	default:
		writeError(w, http.StatusNotFound, CodeNotFound, "Not found", nil)
	}
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
		"media":    map[string]any{"status": "disabled"},
	}
	if s.service.MediaEnabled() {
		checks["media"] = map[string]any{"status": "ok"}
	}
	checks["search"] = map[string]any{"status": "disabled"}
	if s.service.SearchEnabled() {
		checks["search"] = map[string]any{"status": "ok"}
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
}

// /api/search?q=&type=&kind=
func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request, parts []string) {
	if len(parts) != 0 || r.Method != http.MethodGet {
		writeError(w, http.StatusNotFound, CodeNotFound, "Not found", nil)
		return
	}
	limit, offset, ok := pagination(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()
	resp, err := s.service.Search(r.Context(), query.Get("q"), query.Get("type"), query.Get("kind"), limit, offset)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// /api/seeds[/{id}]
func (s *HTTPServer) handleSeeds(w http.ResponseWriter, r *http.Request, parts []string) {
	switch {
	case len(parts) == 0 && r.Method == http.MethodGet:
		limit, offset, ok := pagination(w, r)
		if !ok {
			return
		}
		items, err := s.service.ListSeeds(r.Context(), limit, offset)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "limit": limit, "offset": offset})

	case len(parts) == 0 && r.Method == http.MethodPost:
		session, ok := s.requireSession(w, r)
		if !ok {
			return
		}
		var body CreateSeedInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, CodeInvalidBody, err.Error(), nil)
			return
		}
		seed, err := s.service.CreateSeed(r.Context(), session, body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, seed)

	case len(parts) == 1 && r.Method == http.MethodGet:
		seed, err := s.service.GetSeed(r.Context(), parts[0])
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, seed)

	case len(parts) == 1 && r.Method == http.MethodDelete:
		session, ok := s.requireSession(w, r)
		if !ok {
			return
		}
		if err := s.service.DeleteSeed(r.Context(), session, parts[0]); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	default:
		writeError(w, http.StatusNotFound, CodeNotFound, "Not found", nil)
	}
}

// /api/forks/{id}
func (s *HTTPServer) handleForks(w http.ResponseWriter, r *http.Request, parts []string) {
	if len(parts) != 1 {
		writeError(w, http.StatusNotFound, CodeNotFound, "Not found", nil)
		return
	}
	forkID := parts[0]

	switch r.Method {
	case http.MethodGet:
		fork, err := s.service.GetFork(r.Context(), forkID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, fork)

	case http.MethodDelete:
		session, ok := s.requireSession(w, r)
		if !ok {
			return
		}
		if err := s.service.DeleteFork(r.Context(), session, forkID); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	default:
		writeError(w, http.StatusMethodNotAllowed, CodeMethodNotAllowed, "Method not allowed", nil)
	}
}

// /api/nodes/{id}/forks | lineage | recount
func (s *HTTPServer) handleNodes(w http.ResponseWriter, r *http.Request, parts []string) {
	if len(parts) != 2 {
		writeError(w, http.StatusNotFound, CodeNotFound, "Not found", nil)
		return
	}
	nodeID, action := parts[0], parts[1]

	switch {
	case action == "forks" && r.Method == http.MethodGet:
		limit, offset, ok := pagination(w, r)
		if !ok {
			return
		}
		items, err := s.service.ListChildren(r.Context(), nodeID, limit, offset)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "limit": limit, "offset": offset})

	case action == "forks" && r.Method == http.MethodPost:
		session, ok := s.requireSession(w, r)
		if !ok {
			return
		}
		var body lineage.ForkInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, CodeInvalidBody, err.Error(), nil)
			return
		}
		fork, err := s.service.CreateFork(r.Context(), session, nodeID, body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, fork)

	case action == "lineage" && r.Method == http.MethodGet:
		depth := 0
		if raw := strings.TrimSpace(r.URL.Query().Get("depth")); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil {
				writeError(w, http.StatusUnprocessableEntity, CodeValidation, "depth must be an integer", nil)
				return
			}
			depth = parsed
		}
		tree, err := s.service.GetLineage(r.Context(), nodeID, depth)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, tree)

	case action == "recount" && r.Method == http.MethodPost:
		session, ok := s.requireSession(w, r)
		if !ok {
			return
		}
		result, err := s.service.Recount(r.Context(), session, nodeID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)

	default:
		writeError(w, http.StatusNotFound, CodeNotFound, "Not found", nil)
	}
}

// /api/media takes a multipart form with a single "file" part.
func (s *HTTPServer) handleMedia(w http.ResponseWriter, r *http.Request, parts []string) {
	if len(parts) != 0 || r.Method != http.MethodPost {
		writeError(w, http.StatusNotFound, CodeNotFound, "Not found", nil)
		return
	}
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	if !s.service.MediaEnabled() {
		writeError(w, http.StatusServiceUnavailable, CodeMediaUnavailable, "Media storage not configured", nil)
		return
	}

	if limit := s.service.MediaMaxBytes(); limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit+uploadOverheadBytes)
	}
	reader, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidBody, "multipart form required", nil)
		return
	}

	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			writeError(w, http.StatusUnprocessableEntity, CodeValidation, "file is required", nil)
			return
		}
		if err != nil {
			writeError(w, http.StatusBadRequest, CodeInvalidBody, "malformed multipart body", nil)
			return
		}
		if part.FormName() != "file" {
			_ = part.Close()
			continue
		}

		obj, err := s.service.UploadMedia(r.Context(), session, part, -1)
		_ = part.Close()
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, http.StatusRequestEntityTooLarge, CodeMediaTooLarge, "Upload exceeds size limit", nil)
			return
		}
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, obj)
		return
	}
}

func (s *HTTPServer) handleAuthSignUp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		DisplayName string `json:"displayName"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidBody, err.Error(), nil)
		return
	}

	session, err := s.service.SignUp(r.Context(), authpw.SignUpRequest{
		Email:       body.Email,
		Password:    body.Password,
		DisplayName: body.DisplayName,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionPayload(session))
}

func (s *HTTPServer) handleAuthSignIn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidBody, err.Error(), nil)
		return
	}

	session, err := s.service.SignIn(r.Context(), authpw.SignInRequest{
		Email:    body.Email,
		Password: body.Password,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionPayload(session))
}

func sessionPayload(session Session) map[string]any {
	return map[string]any{
		"accessToken":  session.Token,
		"refreshToken": session.RefreshToken,
		"userId":       session.UserID,
		"userName":     session.UserName,
		"role":         session.Role,
		"expiresAt":    session.ExpiresAt.Unix(),
	}
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, CodeUnauthorized, "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, CodeUnauthorized, "Unauthorized", nil)
			return Session{}, false
		}
		s.logger.Error("session lookup failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, CodeServerError, "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

// fail maps err onto a response, logging anything that is not a client error.
func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("requestID", requestIDFrom(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
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
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		s.logger.Info("request",
			zap.String("requestID", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", writer.status),
			zap.Int64("durationMs", time.Since(started).Milliseconds()),
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

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
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

func pagination(w http.ResponseWriter, r *http.Request) (limit, offset int, ok bool) {
	limit = defaultPageSize
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, CodeValidation, "limit must be an integer", nil)
			return 0, 0, false
		}
		limit = parsed
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("offset")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, CodeValidation, "offset must be an integer", nil)
			return 0, 0, false
		}
		offset = parsed
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset, true
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

