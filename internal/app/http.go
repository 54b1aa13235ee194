package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"carta/api/internal/auth"
	"carta/api/internal/export"
	"carta/api/internal/rbac"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	logger     *zap.Logger
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin, logger: service.logger.Named("http")}
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

	if r.Method == http.MethodGet && r.URL.Path == "/metrics" {
		s.service.metrics.Handler().ServeHTTP(w, r)
		return
	}

	// Public storefront, no authentication
	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && strings.HasPrefix(r.URL.Path, "/m/") {
		slug := strings.Trim(strings.TrimPrefix(r.URL.Path, "/m/"), "/")
		if slug != "" && !strings.Contains(slug, "/") {
			s.handlePublicMenu(w, r, slug)
			return
		}
	}

	principal, ok := s.requirePrincipal(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/logout" {
		if err := s.service.Logout(r.Context(), principal); err != nil {
			s.logger.Warn("revoke access token", zap.Error(err))
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"userId":        principal.UserID,
			"userName":      principal.UserName,
			"role":          principal.Role,
			"accountId":     principal.AccountID,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		if !s.service.Can(principal, rbac.ActionRead) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		limit, ok := queryInt(w, r, "limit")
		if !ok {
			return
		}
		offset, ok := queryInt(w, r, "offset")
		if !ok {
			return
		}
		payload, err := s.service.Search(r.Context(), principal, r.URL.Query().Get("q"), limit, offset)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if r.URL.Path == "/api/menus" {
		switch r.Method {
		case http.MethodGet:
			if !s.service.Can(principal, rbac.ActionRead) {
				writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
				return
			}
			items, err := s.service.ListMenus(r.Context(), principal)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Could not list menus", nil)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"menus": items})
		case http.MethodPost:
			if !s.service.Can(principal, rbac.ActionEdit) {
				writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
				return
			}
			var body CreateMenuInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.CreateMenu(r.Context(), principal, body)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, payload)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	parts := splitPath(r.URL.Path)

	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "menus" {
		s.handleMenu(w, r, principal, parts[2], parts[3:])
		return
	}

	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "editor" {
		s.handleEditor(w, r, principal, parts[2], parts[3:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
		"sessions": map[string]any{"status": "ok"},
	}

	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}
	if err := s.service.PingSessions(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["sessions"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":             status == "ready",
		"status":         status,
		"checks":         checks,
		"editorSessions": s.service.editors.count(),
	})
}

func (s *HTTPServer) handlePublicMenu(w http.ResponseWriter, r *http.Request, slug string) {
	page, err := s.service.RenderPublic(r.Context(), slug)
	if err != nil {
		status, code, message, _ := mapError(err)
		writeHTMLStatus(w, status, []byte(fmt.Sprintf("<!DOCTYPE html><title>%d</title><p>%s (%s)</p>", status, message, code)))
		return
	}
	if page.Failed {
		w.Header().Set("Cache-Control", "no-store")
		writeHTMLStatus(w, http.StatusInternalServerError, page.Body)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=60")
	w.Header().Set("ETag", page.ETag)
	if match := r.Header.Get("If-None-Match"); match != "" && match == page.ETag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	writeHTMLStatus(w, http.StatusOK, page.Body)
}

func (s *HTTPServer) handleMenu(w http.ResponseWriter, r *http.Request, principal Principal, menuID string, rest []string) {
	ctx := r.Context()

	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			if !s.service.Can(principal, rbac.ActionRead) {
				writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
				return
			}
			respond(w, http.StatusOK)(s.service.GetMenu(ctx, principal, menuID))
		case http.MethodPatch:
			if !s.service.Can(principal, rbac.ActionEdit) {
				writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
				return
			}
			var body RenameMenuInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			respond(w, http.StatusOK)(s.service.RenameMenu(ctx, principal, menuID, body))
		case http.MethodDelete:
			if err := s.service.DeleteMenu(ctx, principal, menuID); err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}
	if len(rest) != 1 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch {
	case r.Method == http.MethodGet && rest[0] == "publish-state":
		if !s.service.Can(principal, rbac.ActionRead) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		respond(w, http.StatusOK)(s.service.PublishState(ctx, principal, menuID))

	case r.Method == http.MethodGet && rest[0] == "history":
		if !s.service.Can(principal, rbac.ActionRead) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		limit, ok := queryInt(w, r, "limit")
		if !ok {
			return
		}
		respond(w, http.StatusOK)(s.service.History(ctx, principal, menuID, limit))

	case r.Method == http.MethodPost && rest[0] == "restore":
		if !s.service.Can(principal, rbac.ActionEdit) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		var body RestoreInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		respond(w, http.StatusOK)(s.service.Restore(ctx, principal, menuID, body))

	case r.Method == http.MethodGet && rest[0] == "export":
		if !s.service.Can(principal, rbac.ActionRead) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		format := export.Format(strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format"))))
		if format == "" {
			format = export.FormatPDF
		}
		source := export.Source(strings.ToLower(strings.TrimSpace(r.URL.Query().Get("source"))))
		result, err := s.service.Export(ctx, principal, menuID, format, source)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		w.Header().Set("Content-Type", result.MimeType)
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, result.Filename))
		w.Header().Set("Content-Length", strconv.Itoa(len(result.Data)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(result.Data)

	case r.Method == http.MethodPost && rest[0] == "editor":
		if !s.service.Can(principal, rbac.ActionEdit) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		respond(w, http.StatusCreated)(s.service.OpenEditor(ctx, principal, menuID))

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleEditor(w http.ResponseWriter, r *http.Request, principal Principal, sessionID string, rest []string) {
	ctx := r.Context()
	if !s.service.Can(principal, rbac.ActionEdit) {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
		return
	}

	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			respond(w, http.StatusOK)(s.service.EditorState(principal, sessionID))
		case http.MethodDelete:
			respond(w, http.StatusOK)(s.service.CloseEditor(ctx, principal, sessionID))
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if rest[0] == "nodes" {
		s.handleEditorNodes(w, r, principal, sessionID, rest[1:])
		return
	}
	if len(rest) != 1 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch {
	case rest[0] == "selection" && r.Method == http.MethodPost:
		var body SelectInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		respond(w, http.StatusOK)(s.service.Select(principal, sessionID, body))
	case rest[0] == "selection" && r.Method == http.MethodDelete:
		respond(w, http.StatusOK)(s.service.Deselect(principal, sessionID))
	case rest[0] == "panel" && r.Method == http.MethodGet:
		respond(w, http.StatusOK)(s.service.Panel(principal, sessionID))
	case rest[0] == "undo" && r.Method == http.MethodPost:
		respond(w, http.StatusOK)(s.service.Undo(principal, sessionID))
	case rest[0] == "redo" && r.Method == http.MethodPost:
		respond(w, http.StatusOK)(s.service.Redo(principal, sessionID))
	case rest[0] == "flush" && r.Method == http.MethodPost:
		respond(w, http.StatusOK)(s.service.Flush(principal, sessionID))
	case rest[0] == "save" && r.Method == http.MethodPost:
		respond(w, http.StatusOK)(s.service.SaveEditor(ctx, principal, sessionID))
	case rest[0] == "publish" && r.Method == http.MethodPost:
		var body PublishInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		respond(w, http.StatusOK)(s.service.PublishEditor(ctx, principal, sessionID, body))
	case rest[0] == "enabled" && r.Method == http.MethodPut:
		var body SetEnabledInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		respond(w, http.StatusOK)(s.service.SetEnabled(principal, sessionID, body))
	case rest[0] == "preview" && r.Method == http.MethodGet:
		page, err := s.service.Preview(principal, sessionID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeHTMLStatus(w, http.StatusOK, page)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleEditorNodes(w http.ResponseWriter, r *http.Request, principal Principal, sessionID string, rest []string) {
	if len(rest) == 0 {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		var body InsertNodeInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		respond(w, http.StatusCreated)(s.service.InsertNode(principal, sessionID, body))
		return
	}

	nodeID := rest[0]
	if len(rest) == 1 {
		if r.Method != http.MethodDelete {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		respond(w, http.StatusOK)(s.service.RemoveNode(principal, sessionID, nodeID))
		return
	}
	if len(rest) != 2 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch {
	case rest[1] == "move" && r.Method == http.MethodPost:
		var body MoveNodeInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		respond(w, http.StatusOK)(s.service.MoveNode(principal, sessionID, nodeID, body))
	case rest[1] == "props" && r.Method == http.MethodPatch:
		var body SetPropsInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		respond(w, http.StatusOK)(s.service.SetProps(principal, sessionID, nodeID, body))
	case rest[1] == "text" && r.Method == http.MethodPut:
		var body EditTextInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		respond(w, http.StatusAccepted)(s.service.EditText(principal, sessionID, nodeID, body))
	case rest[1] == "name" && r.Method == http.MethodPut:
		var body RenameNodeInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		respond(w, http.StatusOK)(s.service.RenameNode(principal, sessionID, nodeID, body))
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) requirePrincipal(w http.ResponseWriter, r *http.Request) (Principal, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Principal{}, false
	}
	principal, err := s.service.PrincipalFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Principal{}, false
		}
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Principal{}, false
	}
	return principal, true
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

		elapsed := time.Since(started)
		s.service.metrics.recordRequest(r.Method, writer.status, elapsed)
		s.logger.Info("request",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", writer.status),
			zap.Int64("duration_ms", elapsed.Milliseconds()),
		)
	})
}

type requestIDKey struct{}

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
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, If-None-Match")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
	header.Set("Access-Control-Expose-Headers", "ETag, Content-Disposition, X-Request-ID")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeHTMLStatus(w http.ResponseWriter, status int, page []byte) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(page)
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

func writeMappedError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	writeError(w, status, code, message, details)
}

// respond writes either the payload or the mapped error of a service call.
func respond(w http.ResponseWriter, status int) func(any, error) {
	return func(payload any, err error) {
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, status, payload)
	}
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func queryInt(w http.ResponseWriter, r *http.Request, key string) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return 0, true
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", key+" must be an integer", nil)
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
