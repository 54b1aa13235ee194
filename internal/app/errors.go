package app

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"carta/api/internal/auth"
	"carta/api/internal/blocks"
	"carta/api/internal/codec"
	"carta/api/internal/document"
	"carta/api/internal/editor"
	"carta/api/internal/export"
	"carta/api/internal/gitrepo"
	"carta/api/internal/publish"
	"carta/api/internal/store"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

var errSessionNotFound = domainError(http.StatusNotFound, "EDITOR_SESSION_NOT_FOUND", "Editor session not found", nil)

var errSessionBusy = domainError(http.StatusConflict, "EDITOR_SESSION_BUSY", "The editor session kept changing while closing, try again", nil)

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}

	var confirm *publish.ConfirmationError
	if errors.As(err, &confirm) {
		return http.StatusConflict, "CONFIRMATION_REQUIRED", "Publishing needs confirmation", map[string]any{"changes": confirm.Changes}
	}
	var writeErr *publish.PublishWriteError
	if errors.As(err, &writeErr) {
		return http.StatusServiceUnavailable, "PUBLISH_FAILED", "The menu could not be published, try again", map[string]any{"retryable": writeErr.Retryable()}
	}

	var mutation *document.MutationError
	if errors.As(err, &mutation) {
		details := map[string]any{"op": mutation.Op}
		if mutation.ID != "" {
			details["nodeId"] = mutation.ID
		}
		status, code := mutationStatus(mutation.Err)
		return status, code, mutation.Error(), details
	}
	if errors.Is(err, document.ErrNodeNotFound) {
		return http.StatusNotFound, "NODE_NOT_FOUND", "Node not found", nil
	}

	var unknown *codec.UnknownBlockTypeError
	if errors.As(err, &unknown) {
		return http.StatusUnprocessableEntity, "DOCUMENT_FAILED_TO_LOAD", "The menu document could not be loaded", map[string]any{
			"reason": codec.FailureReason(err),
			"nodes":  unknown.IDs,
			"types":  unknown.Types,
		}
	}
	if errors.Is(err, codec.ErrCorruptDocument) || errors.Is(err, codec.ErrDanglingReference) || errors.Is(err, blocks.ErrUnknownBlockType) {
		return http.StatusUnprocessableEntity, "DOCUMENT_FAILED_TO_LOAD", "The menu document could not be loaded", map[string]any{
			"reason": codec.FailureReason(err),
		}
	}

	switch {
	case errors.Is(err, editor.ErrSessionClosed):
		return http.StatusGone, "EDITOR_SESSION_CLOSED", "Editor session is closed", nil
	case errors.Is(err, editor.ErrEditorDisabled):
		return http.StatusConflict, "EDITOR_DISABLED", "The editor is disabled", nil
	case errors.Is(err, store.ErrSlugTaken):
		return http.StatusConflict, "SLUG_TAKEN", "Another menu already uses this address", nil
	case errors.Is(err, gitrepo.ErrNoHistory):
		return http.StatusNotFound, "HISTORY_NOT_FOUND", "Menu has no history", nil
	case errors.Is(err, export.ErrUnsupportedFormat):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "format must be pdf or html", nil
	case errors.Is(err, export.ErrNothingToExport):
		return http.StatusConflict, "NOTHING_TO_EXPORT", "The menu has no document to export", nil
	case errors.Is(err, export.ErrContentUnavailable):
		return http.StatusUnprocessableEntity, "DOCUMENT_FAILED_TO_LOAD", "The menu document could not be loaded", nil
	case errors.Is(err, export.ErrPDFDependencyMissing):
		return http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "PDF export is not available", map[string]any{"retryable": false}
	case errors.Is(err, sql.ErrNoRows):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

// mutationStatus maps a rejected mutation: missing targets are 404, rule
// violations 409, bad input 422.
func mutationStatus(err error) (int, string) {
	switch {
	case errors.Is(err, document.ErrNodeNotFound):
		return http.StatusNotFound, "NODE_NOT_FOUND"
	case errors.Is(err, document.ErrInvalidParent):
		return http.StatusConflict, "INVALID_PARENT"
	case errors.Is(err, document.ErrCycleDetected):
		return http.StatusConflict, "CYCLE_DETECTED"
	case errors.Is(err, document.ErrNotDeletable):
		return http.StatusConflict, "NOT_DELETABLE"
	case errors.Is(err, document.ErrNotDraggable):
		return http.StatusConflict, "NOT_DRAGGABLE"
	case errors.Is(err, document.ErrIndexOutOfRange):
		return http.StatusUnprocessableEntity, "INDEX_OUT_OF_RANGE"
	case errors.Is(err, blocks.ErrUnknownBlockType):
		return http.StatusUnprocessableEntity, "UNKNOWN_BLOCK_TYPE"
	case errors.Is(err, document.ErrInvalidProps):
		return http.StatusUnprocessableEntity, "INVALID_PROPS"
	}
	return http.StatusUnprocessableEntity, "INVALID_MUTATION"
}
