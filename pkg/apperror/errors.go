package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// HasCode reports whether err is an AppError carrying the given code.
func HasCode(err error, code string) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// Stable machine-readable codes. Handlers and consumers branch on these.
const (
	CodeInvalidInput           = "INVALID_INPUT"
	CodeInsufficientFunds      = "INSUFFICIENT_FUNDS"
	CodeConflict               = "CONFLICT"
	CodeNotFound               = "NOT_FOUND"
	CodeUnauthorized           = "UNAUTHORIZED"
	CodeForbidden              = "FORBIDDEN"
	CodeIdempotencyKeyRequired = "IDEMPOTENCY_KEY_REQUIRED"
	CodeSchemaValidation       = "SCHEMA_VALIDATION_ERROR"
	CodeEventPublish           = "EVENT_PUBLISH_FAILED"
	CodeInternal               = "INTERNAL_ERROR"
)

// ---- Input validation ----

func ErrInvalidInput(message string) *AppError {
	if message == "" {
		message = "Invalid request"
	}
	return New(CodeInvalidInput, message, http.StatusBadRequest)
}

func ErrIdempotencyKeyRequired() *AppError {
	return New(CodeIdempotencyKeyRequired, "Idempotency-Key header is required", http.StatusUnprocessableEntity)
}

// ---- Ledger business rules ----

func ErrInsufficientFunds() *AppError {
	return New(CodeInsufficientFunds, "Insufficient funds", http.StatusUnprocessableEntity)
}

func ErrConflict() *AppError {
	return New(CodeConflict, "Idempotency conflict", http.StatusConflict)
}

func ErrNotFound(entity string) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", entity), http.StatusNotFound)
}

// ---- Authentication ----

func ErrUnauthorized() *AppError {
	return New(CodeUnauthorized, "Unauthorized", http.StatusUnauthorized)
}

func ErrForbidden() *AppError {
	return New(CodeForbidden, "Forbidden", http.StatusForbidden)
}

func ErrEmailExists() *AppError {
	return New(CodeConflict, "Email already registered", http.StatusConflict)
}

// ---- Messaging ----

// ErrSchemaValidation covers encode/decode/catalog mismatches at the
// transport boundary. Registry failures during decode are folded in so
// consumers have one error type to branch on.
func ErrSchemaValidation(message string) *AppError {
	return New(CodeSchemaValidation, message, http.StatusInternalServerError)
}

// ErrEventPublish is a transport failure, distinct from schema errors.
func ErrEventPublish(err error) *AppError {
	return Wrap(CodeEventPublish, "Event publish failed", http.StatusBadGateway, err)
}

// ---- System ----

// InternalError wraps an unclassified error without leaking internals.
func InternalError(err error) *AppError {
	return Wrap(CodeInternal, "Internal server error", http.StatusInternalServerError, err)
}
