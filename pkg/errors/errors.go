package errors

import (
	"context"
	stdErrors "errors"
	"fmt"
	"net"
	"net/http"
)

type Code string

const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeForbidden     Code = "FORBIDDEN"
	CodeApproval      Code = "APPROVAL_REQUIRED"
	CodeGuardrail     Code = "GUARDRAIL_VIOLATION"
	CodeCatalog       Code = "CATALOG_MISMATCH"
	CodeNetwork       Code = "NETWORK_ERROR"
	CodeTimeout       Code = "TIMEOUT"
	CodeNotFound      Code = "NOT_FOUND"
	CodeConflict      Code = "CONFLICT"
	CodeStateConflict Code = "STATE_CONFLICT"
	CodeIdempotency   Code = "IDEMPOTENCY_KEY_REUSED"
	CodeRateLimit     Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeDependency    Code = "DEPENDENCY_ERROR"
)

// Metadata is how a code surfaces over HTTP. Retryable codes are the ones
// the outbox absorbs and the drain loop retries.
type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
}

const (
	permanent = false
	retryable = true
	hidden    = false
	shown     = true
)

var metadataByCode = map[Code]Metadata{
	// caller mistakes
	CodeValidation:    {http.StatusBadRequest, permanent, "validation failed", shown},
	CodeNotFound:      {http.StatusNotFound, permanent, "resource not found", hidden},
	CodeConflict:      {http.StatusConflict, permanent, "conflict detected", hidden},
	CodeIdempotency:   {http.StatusConflict, permanent, "idempotency key reused", shown},
	CodeStateConflict: {http.StatusUnprocessableEntity, permanent, "state transition disallowed", shown},

	// checkout refusals
	CodeApproval:  {http.StatusForbidden, permanent, "manager approval required", shown},
	CodeGuardrail: {http.StatusUnprocessableEntity, permanent, "consistency check failed", shown},
	CodeCatalog:   {http.StatusUnprocessableEntity, permanent, "items missing from company catalog", shown},

	// credentials; an unauthorized ledger answer pauses the drain rather than
	// dead-lettering the row
	CodeUnauthorized: {http.StatusUnauthorized, permanent, "authentication required", hidden},
	CodeForbidden:    {http.StatusForbidden, permanent, "access denied", hidden},

	// ledger and local dependencies
	CodeNetwork:    {http.StatusBadGateway, retryable, "ledger unreachable", hidden},
	CodeTimeout:    {http.StatusGatewayTimeout, retryable, "ledger timed out", hidden},
	CodeDependency: {http.StatusServiceUnavailable, retryable, "dependency unavailable", shown},
	CodeRateLimit:  {http.StatusTooManyRequests, retryable, "rate limit exceeded", hidden},

	CodeInternal: {http.StatusInternalServerError, permanent, "internal server error", hidden},
}

func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Wrap(code Code, err error, message string) *Error {
	if err == nil {
		return New(code, message)
	}
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

func (e *Error) WithDetails(details any) *Error {
	if e == nil {
		return nil
	}
	e.details = details
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

func As(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// CodeOf returns the code of the outermost typed error, or CodeInternal.
func CodeOf(err error) Code {
	if typed := As(err); typed != nil {
		return typed.Code()
	}
	return CodeInternal
}

// IsTransient reports whether err should be absorbed into the outbox and
// retried later. Untyped context deadlines, net errors and sqlite lock
// contention count as transient; anything else untyped is permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if typed := As(err); typed != nil {
		return MetadataFor(typed.Code()).Retryable
	}
	if stdErrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if store, ok := StoreErrorOf(err); ok && store.Busy() {
		return true
	}
	var netErr net.Error
	return stdErrors.As(err, &netErr)
}
