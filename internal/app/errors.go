package app

import (
	"fmt"
	"net/http"

	"gmptracker/internal/records"
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

// validationError rejects a request whose input is malformed. details is
// passed through to the error body and may be nil.
func validationError(message string, details any) *DomainError {
	return domainError(http.StatusUnprocessableEntity, records.CodeValidation, message, details)
}

// itemRowError rejects a row of a batched progress write that names
// itemID. The whole batch is refused; details carry the offending item so
// clients can resend the rest.
func itemRowError(message, itemID string) *DomainError {
	return validationError(message, map[string]any{"item_id": itemID})
}

// unknownItemError is returned when itemID is not in the checklist catalog.
// Batched writes report it as 422 so the batch reads as invalid input; item
// routes report it as 404.
func unknownItemError(status int, itemID string) *DomainError {
	var details any
	if itemID != "" {
		details = map[string]any{"item_id": itemID}
	}
	return domainError(status, records.CodeUnknownItem, "Unknown checklist item", details)
}
