package services

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
)

// Machine-readable error kinds returned to clients. Store and network
// failures are collapsed to KindInternalError; the cause stays in the logs.
const (
	KindDuplicateIdentity  = "DuplicateIdentity"
	KindInvalidCredential  = "InvalidCredential"
	KindUnauthenticated    = "Unauthenticated"
	KindValidationError    = "ValidationError"
	KindNotFound           = "NotFound"
	KindInvalidTransition  = "InvalidTransition"
	KindInvalidStatusValue = "InvalidStatusValue"
	KindInternalError      = "InternalError"
)

// ErrorResponse represents error response structure
type ErrorResponse struct {
	Kind    string            `json:"kind"`              // Stable machine-readable error kind
	Error   string            `json:"error"`             // Error message
	Details map[string]string `json:"details,omitempty"` // Validation details
}

// ValidationHelper provides shared validation functionality
type ValidationHelper struct {
	validator *validator.Validate
}

// NewValidationHelper creates a new validation helper
func NewValidationHelper() *ValidationHelper {
	return &ValidationHelper{
		validator: validator.New(),
	}
}

// ValidateStruct validates a struct and returns validation errors
func (vh *ValidationHelper) ValidateStruct(s any) error {
	return vh.validator.Struct(s)
}

// SendErrorResponse sends a JSON error response
func SendErrorResponse(w http.ResponseWriter, kind, message string, statusCode int, validationErr error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResp := ErrorResponse{Kind: kind, Error: message}
	if validationErr != nil {
		errorResp.Details = make(map[string]string)
		if verrs, ok := validationErr.(validator.ValidationErrors); ok {
			for _, err := range verrs {
				errorResp.Details[err.Field()] = fmt.Sprintf("Field Validation Failed on '%s' tag", err.Tag())
			}
		}
	}

	json.NewEncoder(w).Encode(errorResp)
}
