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
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeAlreadyExists    = "ALREADY_EXISTS"
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeForbidden        = "FORBIDDEN"
	ErrCodeRateLimited      = "RATE_LIMITED"
	ErrCodePartialFailure   = "PARTIAL_FAILURE"
	ErrCodeInternalError    = "INTERNAL_ERROR"
	ErrCodeInvalidOperation = "INVALID_OPERATION"
)

// Validation errors
var (
	ErrMissingRequiredField       = NewDomainError(ErrCodeValidation, "missing required field")
	ErrInvalidSlug                = NewDomainError(ErrCodeValidation, "invalid document slug")
	ErrInvalidEmbeddingType       = NewDomainError(ErrCodeValidation, "invalid embedding type")
	ErrInvalidUploadType          = NewDomainError(ErrCodeValidation, "invalid upload type")
	ErrInvalidRetrainMode         = NewDomainError(ErrCodeValidation, "invalid retrain mode")
	ErrInvalidTrainingAction      = NewDomainError(ErrCodeValidation, "invalid training action")
	ErrInvalidTrainingStatus      = NewDomainError(ErrCodeValidation, "invalid training status")
	ErrInvalidQuizQuestion        = NewDomainError(ErrCodeValidation, "invalid quiz question")
	ErrEmbeddingDimensionMismatch = NewDomainError(ErrCodeValidation, "embedding dimensions do not match embedding type")
	ErrEmptyDocument              = NewDomainError(ErrCodeValidation, "document produced no extractable text")
)

// Not found errors
var (
	ErrDocumentNotFound = NewDomainError(ErrCodeNotFound, "document not found")
	ErrChunksNotFound   = NewDomainError(ErrCodeNotFound, "no chunks found for document")
	ErrEventNotFound    = NewDomainError(ErrCodeNotFound, "training event not found")
	ErrQuizNotFound     = NewDomainError(ErrCodeNotFound, "quiz not found")
	ErrAPIKeyNotFound   = NewDomainError(ErrCodeNotFound, "api key not found")
)

// Already exists errors
var (
	ErrDocumentAlreadyExists = NewDomainError(ErrCodeAlreadyExists, "document already exists")
	ErrEventAlreadyFinalized = NewDomainError(ErrCodeInvalidOperation, "training event already finalized")
)

// Authorization errors
var (
	ErrInvalidAPIKey = NewDomainError(ErrCodeUnauthorized, "invalid api key")
	ErrAPIKeyRevoked = NewDomainError(ErrCodeUnauthorized, "api key has been revoked")
	ErrAccessDenied  = NewDomainError(ErrCodeForbidden, "caller may not access this document")
)

// Operation errors
var (
	ErrDocumentInactive        = NewDomainError(ErrCodeInvalidOperation, "document is inactive")
	ErrIngestionInProgress     = NewDomainError(ErrCodeInvalidOperation, "an ingestion is already running for this document")
	ErrQuizRegenerationTooSoon = NewDomainError(ErrCodeInvalidOperation, "quiz was regenerated too recently")
	ErrNoDocumentsSearchable   = NewDomainError(ErrCodeInternalError, "retrieval failed for every requested document")
)
