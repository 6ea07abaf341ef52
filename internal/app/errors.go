package app

import (
	"fmt"
	"net/http"
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

func validationError(message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, nil)
}

func modeForbidden(action string) *DomainError {
	return domainError(http.StatusForbidden, "MODE_FORBIDDEN", "Not available in the current mode", map[string]any{"action": action})
}

var errSyncInProgress = domainError(http.StatusConflict, "SYNC_IN_PROGRESS", "A sync is already running", nil)
