/*
 * Copyright 2025 Cong Wang
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"time"

	"github.com/amtp-protocol/schemavault/internal/types"
)

// ErrorCode represents standardized error codes
type ErrorCode string

const (
	// Request validation errors
	ErrInvalidRequestFormat ErrorCode = "INVALID_REQUEST_FORMAT"
	ErrValidationFailed     ErrorCode = "VALIDATION_FAILED"
	ErrPayloadTooLarge      ErrorCode = "PAYLOAD_TOO_LARGE"

	// Naming and path errors
	ErrInvalidName   ErrorCode = "INVALID_NAME"
	ErrPathTraversal ErrorCode = "PATH_TRAVERSAL"

	// Import errors
	ErrInvalidSchemaFormat ErrorCode = "INVALID_SCHEMA_FORMAT"
	ErrNoExistingVersion   ErrorCode = "NO_EXISTING_VERSION"
	ErrVersionConflict     ErrorCode = "VERSION_CONFLICT"
	ErrStorageWrite        ErrorCode = "STORAGE_WRITE_FAILED"

	// Read errors
	ErrCorruption ErrorCode = "CORRUPTION_DETECTED"
	ErrNotFound   ErrorCode = "NOT_FOUND"

	// System errors
	ErrRepositoryFailed   ErrorCode = "REPOSITORY_FAILED"
	ErrInternalError      ErrorCode = "INTERNAL_ERROR"
	ErrServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	ErrTimeout            ErrorCode = "TIMEOUT"
)

// VaultError represents a structured schemavault error
type VaultError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	RequestID string                 `json:"request_id,omitempty"`
	Cause     error                  `json:"-"` // Internal cause, not exposed in JSON
}

// Error implements the error interface
func (e *VaultError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error
func (e *VaultError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a VaultError with the same code, so that
// errors.Is(err, errors.New(ErrNotFound, "")) matches any not-found error.
func (e *VaultError) Is(target error) bool {
	t, ok := target.(*VaultError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// ToErrorResponse converts VaultError to types.ErrorResponse
func (e *VaultError) ToErrorResponse() types.ErrorResponse {
	return types.ErrorResponse{
		Error: types.ErrorDetail{
			Code:      string(e.Code),
			Message:   e.Message,
			Details:   e.Details,
			Timestamp: e.Timestamp,
			RequestID: e.RequestID,
		},
	}
}

// New creates a new VaultError
func New(code ErrorCode, message string) *VaultError {
	return &VaultError{
		Code:      code,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}

// Newf creates a new VaultError with formatted message
func Newf(code ErrorCode, format string, args ...interface{}) *VaultError {
	return &VaultError{
		Code:      code,
		Message:   fmt.Sprintf(format, args...),
		Timestamp: time.Now().UTC(),
	}
}

// Wrap creates a new VaultError wrapping an existing error
func Wrap(code ErrorCode, message string, cause error) *VaultError {
	return &VaultError{
		Code:      code,
		Message:   message,
		Cause:     cause,
		Timestamp: time.Now().UTC(),
	}
}

// Wrapf creates a new VaultError wrapping an existing error with formatted message
func Wrapf(code ErrorCode, cause error, format string, args ...interface{}) *VaultError {
	return &VaultError{
		Code:      code,
		Message:   fmt.Sprintf(format, args...),
		Cause:     cause,
		Timestamp: time.Now().UTC(),
	}
}

// WithDetails adds details to a VaultError
func (e *VaultError) WithDetails(details map[string]interface{}) *VaultError {
	if e.Details == nil {
		e.Details = make(map[string]interface{}, len(details))
	}
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// WithDetail adds a single detail to a VaultError
func (e *VaultError) WithDetail(key string, value interface{}) *VaultError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithRequestID adds a request ID to a VaultError
func (e *VaultError) WithRequestID(requestID string) *VaultError {
	e.RequestID = requestID
	return e
}

// IsRetryable determines if an error is retryable. A lost version race must
// be retried by re-running the whole import, not just the commit.
func (e *VaultError) IsRetryable() bool {
	switch e.Code {
	case ErrVersionConflict:
		return true
	case ErrServiceUnavailable, ErrTimeout:
		return true
	default:
		return false
	}
}

// GetHTTPStatus returns the appropriate HTTP status code for the error
func (e *VaultError) GetHTTPStatus() int {
	switch e.Code {
	case ErrInvalidRequestFormat, ErrValidationFailed, ErrInvalidName, ErrPathTraversal:
		return http.StatusBadRequest

	case ErrInvalidSchemaFormat:
		return http.StatusUnprocessableEntity

	case ErrNotFound:
		return http.StatusNotFound

	case ErrNoExistingVersion, ErrVersionConflict:
		return http.StatusConflict

	case ErrPayloadTooLarge:
		return http.StatusRequestEntityTooLarge

	case ErrStorageWrite:
		return http.StatusInsufficientStorage

	case ErrServiceUnavailable:
		return http.StatusServiceUnavailable

	case ErrTimeout:
		return http.StatusGatewayTimeout

	default:
		return http.StatusInternalServerError
	}
}

// ExitCode returns the process exit code the admin CLI uses for the error
func (e *VaultError) ExitCode() int {
	return ExitCodeFor(e.Code)
}

// ExitCodeFor maps an error code to a CLI exit code
func ExitCodeFor(code ErrorCode) int {
	switch code {
	case ErrInvalidRequestFormat, ErrValidationFailed, ErrPayloadTooLarge,
		ErrInvalidName, ErrPathTraversal, ErrInvalidSchemaFormat:
		return 2
	case ErrNoExistingVersion:
		return 3
	case ErrVersionConflict:
		return 4
	case ErrStorageWrite:
		return 5
	case ErrCorruption:
		return 6
	case ErrNotFound:
		return 7
	default:
		return 1
	}
}

// Common error constructors for convenience

// NewValidationError creates a validation error
func NewValidationError(message string, details map[string]interface{}) *VaultError {
	return New(ErrValidationFailed, message).WithDetails(details)
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string) *VaultError {
	return Newf(ErrNotFound, "%s not found", resource)
}

// NewInternalError creates an internal error
func NewInternalError(message string, cause error) *VaultError {
	return Wrap(ErrInternalError, message, cause)
}

// NewRepositoryError wraps a metadata store failure
func NewRepositoryError(message string, cause error) *VaultError {
	return Wrap(ErrRepositoryFailed, message, cause)
}

// NewInvalidNameError reports a name outside the allowed charset
func NewInvalidNameError(kind, name string) *VaultError {
	return Newf(ErrInvalidName, "invalid %s name %q: only letters, digits, '-' and '_' are allowed", kind, name).
		WithDetails(map[string]interface{}{"kind": kind, "name": name})
}

// NewPathTraversalError reports a derived path outside the storage root
func NewPathTraversalError(path, root string) *VaultError {
	return Newf(ErrPathTraversal, "path %q escapes storage root", path).
		WithDetails(map[string]interface{}{"root": root})
}

// NewInvalidSchemaFormatError reports a document that does not parse as its declared format
func NewInvalidSchemaFormatError(format string, cause error) *VaultError {
	return Wrapf(ErrInvalidSchemaFormat, cause, "document is not valid %s", format).
		WithDetail("format", format)
}

// NewNoExistingVersionError reports a replace into an empty scope
func NewNoExistingVersionError(scope string) *VaultError {
	return Newf(ErrNoExistingVersion, "no existing version to replace for %s", scope).
		WithDetail("scope", scope)
}

// NewVersionConflictError reports a lost race for a version slot
func NewVersionConflictError(scope string, version int, cause error) *VaultError {
	return Wrapf(ErrVersionConflict, cause, "version %d of %s was taken by a concurrent import", version, scope).
		WithDetails(map[string]interface{}{"scope": scope, "version": version})
}

// NewStorageWriteError reports a failed durable write
func NewStorageWriteError(path string, cause error) *VaultError {
	return Wrapf(ErrStorageWrite, cause, "failed to write schema file %s", path)
}

// NewCorruptionError reports stored bytes that no longer match the recorded digest
func NewCorruptionError(path, expected, actual string) *VaultError {
	return Newf(ErrCorruption, "schema file %s does not match its recorded digest", path).
		WithDetails(map[string]interface{}{"expected_digest": expected, "actual_digest": actual})
}

// IsVaultError checks if an error is a VaultError
func IsVaultError(err error) bool {
	_, ok := AsVaultError(err)
	return ok
}

// AsVaultError finds the first VaultError in err's chain
func AsVaultError(err error) (*VaultError, bool) {
	var vaultErr *VaultError
	if stderrors.As(err, &vaultErr) {
		return vaultErr, true
	}
	return nil, false
}

// HasCode reports whether err carries the given code
func HasCode(err error, code ErrorCode) bool {
	if vaultErr, ok := AsVaultError(err); ok {
		return vaultErr.Code == code
	}
	return false
}

// IsRetryable reports whether err is a retryable VaultError
func IsRetryable(err error) bool {
	if vaultErr, ok := AsVaultError(err); ok {
		return vaultErr.IsRetryable()
	}
	return false
}
