package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/cloo-solutions/docuchat/internal/domain"
	"github.com/cloo-solutions/docuchat/internal/service"
)

// SuccessResponse wraps successful API responses
type SuccessResponse struct {
	Data interface{} `json:"data"`
}

// ErrorResponse represents an error API response. Type is set for errors
// clients are expected to branch on.
type ErrorResponse struct {
	Error             string   `json:"error"`
	Type              string   `json:"type,omitempty"`
	RetryAfterSeconds int      `json:"retry_after_seconds,omitempty"`
	FailedDocuments   []string `json:"failed_documents,omitempty"`
}

const (
	ErrorTypeRateLimited    = "rate_limit_exceeded"
	ErrorTypePartialFailure = "partial_document_failure"
)

// JSON writes a JSON response with the given status code
func JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// Success writes a successful JSON response
func Success(w http.ResponseWriter, status int, data interface{}) {
	JSON(w, status, SuccessResponse{Data: data})
}

// Error writes an error JSON response
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, ErrorResponse{Error: message})
}

// RateLimited writes the typed 429 payload. RetryAfterSeconds is an accurate
// countdown, never a placeholder.
func RateLimited(w http.ResponseWriter, retryAfterSeconds int) {
	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	JSON(w, http.StatusTooManyRequests, ErrorResponse{
		Error:             "rate limit exceeded",
		Type:              ErrorTypeRateLimited,
		RetryAfterSeconds: retryAfterSeconds,
	})
}

// PartialFailure writes the typed payload for a request where every
// requested document failed.
func PartialFailure(w http.ResponseWriter, message string, failed []string) {
	JSON(w, http.StatusBadGateway, ErrorResponse{
		Error:           message,
		Type:            ErrorTypePartialFailure,
		FailedDocuments: failed,
	})
}

// DomainErrorToHTTP maps domain errors to HTTP status codes
func DomainErrorToHTTP(err error) int {
	if err == nil {
		return http.StatusOK
	}

	domainErr, ok := err.(*domain.DomainError)
	if !ok {
		return http.StatusInternalServerError
	}

	switch domainErr.Code {
	case domain.ErrCodeValidation:
		return http.StatusBadRequest
	case domain.ErrCodeNotFound:
		return http.StatusNotFound
	case domain.ErrCodeAlreadyExists:
		return http.StatusConflict
	case domain.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case domain.ErrCodeForbidden:
		return http.StatusForbidden
	case domain.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case domain.ErrCodePartialFailure:
		return http.StatusBadGateway
	case domain.ErrCodeInvalidOperation:
		return http.StatusBadRequest
	case domain.ErrCodeInternalError:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// HandleError writes an appropriate error response based on the error type
func HandleError(w http.ResponseWriter, err error) {
	var denied *service.RateLimitDenied
	if errors.As(err, &denied) {
		RateLimited(w, denied.RetryAfterSeconds)
		return
	}

	status := DomainErrorToHTTP(err)
	Error(w, status, err.Error())
}
