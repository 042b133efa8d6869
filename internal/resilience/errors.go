// Copyright 2024 AI SA Assistant Project
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package resilience

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Domain failures. Callers wrap them with fmt.Errorf and test with errors.Is.
var (
	ErrExtractionAmbiguous        = errors.New("extraction ambiguous")
	ErrMissingRequiredFields      = errors.New("missing required fields")
	ErrBackendUnavailable         = errors.New("retrieval backend unavailable")
	ErrRetrievalEmpty             = errors.New("retrieval returned no usable results")
	ErrClarificationLimitExceeded = errors.New("clarification limit exceeded")
	ErrSpeciesIncompatible        = errors.New("species incompatible")
	ErrStaleContext               = errors.New("stale conversation context")
)

// ErrorResponse represents the standard error response format across all APIs
type ErrorResponse struct {
	Error     string    `json:"error"`
	Code      string    `json:"code,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorCode represents standard error codes used across the system
type ErrorCode string

const (
	// Client errors (4xx)
	ErrorCodeBadRequest      ErrorCode = "BAD_REQUEST"
	ErrorCodeNotFound        ErrorCode = "NOT_FOUND"
	ErrorCodeTooManyRequests ErrorCode = "TOO_MANY_REQUESTS"
	ErrorCodeIncomplete      ErrorCode = "INCOMPLETE_QUERY"
	ErrorCodeIncompatible    ErrorCode = "INCOMPATIBLE_ENTITIES"

	// Server errors (5xx)
	ErrorCodeInternalError      ErrorCode = "INTERNAL_ERROR"
	ErrorCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	ErrorCodeTimeout            ErrorCode = "TIMEOUT"
	ErrorCodeDependencyFailure  ErrorCode = "DEPENDENCY_FAILURE"
	ErrorCodeNoResults          ErrorCode = "NO_RESULTS"
)

// ServiceError represents an error with additional context for proper handling
type ServiceError struct {
	Message    string
	Code       ErrorCode
	StatusCode int
	Internal   error
	Context    map[string]interface{}
}

// Error implements the error interface
func (e *ServiceError) Error() string {
	return e.Message
}

// Unwrap returns the underlying error
func (e *ServiceError) Unwrap() error {
	return e.Internal
}

// ToErrorResponse converts a ServiceError to an ErrorResponse
func (e *ServiceError) ToErrorResponse(requestID string) ErrorResponse {
	return ErrorResponse{
		Error:     e.Message,
		Code:      string(e.Code),
		RequestID: requestID,
		Timestamp: time.Now(),
	}
}

// NewServiceError creates a new ServiceError with the given parameters
func NewServiceError(message string, code ErrorCode, statusCode int, internal error) *ServiceError {
	return &ServiceError{
		Message:    message,
		Code:       code,
		StatusCode: statusCode,
		Internal:   internal,
		Context:    make(map[string]interface{}),
	}
}

// NewBadRequestError creates a new bad request error
func NewBadRequestError(message string, internal error) *ServiceError {
	return NewServiceError(message, ErrorCodeBadRequest, http.StatusBadRequest, internal)
}

// NewInternalError creates a new internal server error
func NewInternalError(message string, internal error) *ServiceError {
	return NewServiceError(message, ErrorCodeInternalError, http.StatusInternalServerError, internal)
}

// NewTimeoutError creates a new timeout error
func NewTimeoutError(message string, internal error) *ServiceError {
	return NewServiceError(message, ErrorCodeTimeout, http.StatusGatewayTimeout, internal)
}

// NewDependencyFailureError creates a new dependency failure error
func NewDependencyFailureError(message string, internal error) *ServiceError {
	return NewServiceError(message, ErrorCodeDependencyFailure, http.StatusBadGateway, internal)
}

// AsServiceError checks if an error is or wraps a ServiceError
func AsServiceError(err error, target **ServiceError) bool {
	if err == nil {
		return false
	}
	return errors.As(err, target)
}

// IsTimeout reports whether err is a deadline or timeout failure
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var serviceErr *ServiceError
	return AsServiceError(err, &serviceErr) && serviceErr.Code == ErrorCodeTimeout
}

// ErrorHandler provides utilities for handling and formatting errors
type ErrorHandler struct {
	logger *zap.Logger
}

// NewErrorHandler creates a new error handler with the given logger
func NewErrorHandler(logger *zap.Logger) *ErrorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ErrorHandler{logger: logger}
}

// WrapError turns err into a ServiceError whose message is safe to show to
// a user. The original error is logged and kept as Internal.
func (eh *ErrorHandler) WrapError(err error, operation string) *ServiceError {
	if err == nil {
		return nil
	}

	var serviceErr *ServiceError
	if AsServiceError(err, &serviceErr) {
		return serviceErr
	}

	code, statusCode := categorizeError(err)
	userMessage := userFriendlyMessage(code, operation)

	if eh != nil {
		eh.logger.Error("Error occurred during operation",
			zap.String("operation", operation),
			zap.Error(err),
			zap.String("user_message", userMessage),
			zap.String("error_code", string(code)))
	}

	return NewServiceError(userMessage, code, statusCode, err)
}

func userFriendlyMessage(code ErrorCode, operation string) string {
	switch code {
	case ErrorCodeTimeout:
		return "The operation is taking longer than expected. Please try again."
	case ErrorCodeServiceUnavailable, ErrorCodeDependencyFailure:
		return "The service is temporarily unavailable. Please try again later."
	case ErrorCodeTooManyRequests:
		return "Too many requests. Please wait a moment and try again."
	case ErrorCodeIncomplete:
		return "More details are needed to answer this question."
	case ErrorCodeIncompatible:
		return "These items cannot be compared."
	case ErrorCodeNoResults:
		return "No matching information was found."
	case ErrorCodeBadRequest:
		return "The request is invalid. Please check your input and try again."
	default:
		return fmt.Sprintf("An error occurred while %s. Please try again.", operation)
	}
}

// CodeFor returns the error code of err without logging it. Responses that
// degrade instead of failing still report why through this code.
func CodeFor(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var serviceErr *ServiceError
	if AsServiceError(err, &serviceErr) {
		return serviceErr.Code
	}
	code, _ := categorizeError(err)
	return code
}

// categorizeError maps domain sentinels first and falls back to the error text
func categorizeError(err error) (ErrorCode, int) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorCodeTimeout, http.StatusGatewayTimeout
	case errors.Is(err, ErrCircuitBreakerOpen), errors.Is(err, ErrBackendUnavailable):
		return ErrorCodeServiceUnavailable, http.StatusServiceUnavailable
	case errors.Is(err, ErrMissingRequiredFields), errors.Is(err, ErrExtractionAmbiguous),
		errors.Is(err, ErrClarificationLimitExceeded):
		return ErrorCodeIncomplete, http.StatusUnprocessableEntity
	case errors.Is(err, ErrSpeciesIncompatible):
		return ErrorCodeIncompatible, http.StatusUnprocessableEntity
	case errors.Is(err, ErrRetrievalEmpty):
		return ErrorCodeNoResults, http.StatusNotFound
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "timeout"):
		return ErrorCodeTimeout, http.StatusGatewayTimeout
	case strings.Contains(errStr, "connection refused") || strings.Contains(errStr, "connection reset"):
		return ErrorCodeDependencyFailure, http.StatusBadGateway
	case strings.Contains(errStr, "rate limit") || strings.Contains(errStr, "too many requests"):
		return ErrorCodeTooManyRequests, http.StatusTooManyRequests
	case strings.Contains(errStr, "invalid"):
		return ErrorCodeBadRequest, http.StatusBadRequest
	default:
		return ErrorCodeInternalError, http.StatusInternalServerError
	}
}
