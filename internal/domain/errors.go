package domain

import "fmt"

// DomainError represents a domain-specific error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new DomainError
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     nil,
	}
}

// NewDomainErrorWithCause creates a new DomainError with an underlying cause
func NewDomainErrorWithCause(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common domain error codes
const (
	ErrCodeValidation      = "VALIDATION_ERROR"
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeConflict        = "CONFLICT"
	ErrCodeExternalService = "EXTERNAL_SERVICE_ERROR"
	ErrCodeConsistency     = "CONSISTENCY_ERROR"
	ErrCodeInternalError   = "INTERNAL_ERROR"
)

// Validation errors
var (
	ErrInvalidScope          = NewDomainError(ErrCodeValidation, "invalid scope, must be 'standard' or 'client'")
	ErrInvalidKBItemType     = NewDomainError(ErrCodeValidation, "invalid knowledge item type")
	ErrInvalidKBItemStatus   = NewDomainError(ErrCodeValidation, "invalid knowledge item status")
	ErrInvalidInputKind      = NewDomainError(ErrCodeValidation, "invalid input kind, must be text, pdf or docx")
	ErrClientCodeRequired    = NewDomainError(ErrCodeValidation, "client code is required for client scope")
	ErrClientCodeNotAllowed  = NewDomainError(ErrCodeValidation, "client code must be empty for standard scope")
	ErrClientNotRegistered   = NewDomainError(ErrCodeValidation, "client code does not reference a registered client")
	ErrEmptyInput            = NewDomainError(ErrCodeValidation, "input is empty, provide text or select a file")
	ErrMissingRequiredField  = NewDomainError(ErrCodeValidation, "missing required field")
	ErrInvalidRetentionDays  = NewDomainError(ErrCodeValidation, "retention window must be 7, 15 or 30 days")
	ErrInvalidRetrievalScope = NewDomainError(ErrCodeValidation, "invalid retrieval scope selection")
)

// Not found errors
var (
	ErrKBItemNotFound    = NewDomainError(ErrCodeNotFound, "knowledge item not found")
	ErrIngestionNotFound = NewDomainError(ErrCodeNotFound, "ingestion not found")
	ErrSessionNotFound   = NewDomainError(ErrCodeNotFound, "chat session not found")
	ErrClientNotFound    = NewDomainError(ErrCodeNotFound, "client not found")
)

// Conflict errors
var (
	ErrClientAlreadyExists = NewDomainError(ErrCodeConflict, "client code already registered")
	ErrDuplicateItem       = NewDomainError(ErrCodeConflict, "an identical knowledge item already exists")
	ErrVersionRace         = NewDomainError(ErrCodeConflict, "concurrent version update, retry the operation")
)

// External service errors. Messages distinguish "service down" from
// "bad request" so callers can show an actionable hint.
var (
	ErrVectorIndexUnreachable = NewDomainError(ErrCodeExternalService, "vector index is not reachable, start Qdrant and retry")
	ErrCompletionAuthFailed   = NewDomainError(ErrCodeExternalService, "completion service authentication failed, check the API key")
	ErrCompletionRateLimited  = NewDomainError(ErrCodeExternalService, "completion service rate limit exceeded, wait a moment and try again")
	ErrCompletionTimeout      = NewDomainError(ErrCodeExternalService, "completion service timed out, no partial answer was produced")
)

// Consistency errors
var (
	ErrItemNotIndexed = NewDomainError(ErrCodeConsistency, "approved item missing from vector index, reconciliation required")
	ErrStalePoint     = NewDomainError(ErrCodeConsistency, "vector index returned a point with no approved current record")
)

// IsCode reports whether err is a DomainError with the given code.
func IsCode(err error, code string) bool {
	de, ok := err.(*DomainError)
	return ok && de.Code == code
}
