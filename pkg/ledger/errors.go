package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	pkgerrors "github.com/angelmondragon/pos-register/pkg/errors"
)

const (
	kindDuplicate = "duplicate"
	kindGuardrail = "guardrail"
	kindAuth      = "auth"
	kindTransient = "transient"
)

// DuplicateError means the ledger already processed this idempotency key.
// Callers treat it as a successful replay.
type DuplicateError struct {
	RemoteEventID string
	InvoiceID     *string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("ledger already processed event %s", e.RemoteEventID)
}

// AsDuplicate unwraps a DuplicateError.
func AsDuplicate(err error) (*DuplicateError, bool) {
	var dup *DuplicateError
	if errors.As(err, &dup) {
		return dup, true
	}
	return nil, false
}

// errorBody is read leniently; only the message and kind matter.
type errorBody struct {
	Error     json.RawMessage `json:"error"`
	Message   string          `json:"message"`
	Kind      string          `json:"kind"`
	Duplicate bool            `json:"duplicate"`
	EventID   string          `json:"event_id"`
	InvoiceID *string         `json:"invoice_id"`
}

func (b errorBody) message() string {
	if b.Message != "" {
		return b.Message
	}
	if len(b.Error) == 0 {
		return ""
	}
	var text string
	if err := json.Unmarshal(b.Error, &text); err == nil {
		return text
	}
	var nested struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(b.Error, &nested); err == nil {
		return nested.Message
	}
	return ""
}

func isRetryableStatus(status int) bool {
	return status == http.StatusRequestTimeout ||
		status == http.StatusTooManyRequests ||
		status >= http.StatusInternalServerError
}

// classifyStatus maps a non-2xx ledger answer onto the error taxonomy.
func classifyStatus(status int, body []byte) error {
	var parsed errorBody
	_ = json.Unmarshal(body, &parsed)
	kind := strings.ToLower(strings.TrimSpace(parsed.Kind))

	msg := parsed.message()
	if msg == "" {
		msg = http.StatusText(status)
	}
	details := map[string]any{"status": status}
	if kind != "" {
		details["kind"] = kind
	}

	var code pkgerrors.Code
	switch {
	case status == http.StatusConflict && (parsed.Duplicate || kind == kindDuplicate):
		return &DuplicateError{RemoteEventID: parsed.EventID, InvoiceID: parsed.InvoiceID}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		code = pkgerrors.CodeUnauthorized
	case status == http.StatusRequestTimeout:
		code = pkgerrors.CodeTimeout
	case status == http.StatusTooManyRequests:
		code = pkgerrors.CodeRateLimit
	case status == http.StatusBadGateway || status == http.StatusServiceUnavailable || status == http.StatusGatewayTimeout:
		code = pkgerrors.CodeNetwork
	case status >= http.StatusInternalServerError:
		code = pkgerrors.CodeDependency
	case status == http.StatusNotFound:
		code = pkgerrors.CodeNotFound
	case kind == kindGuardrail:
		code = pkgerrors.CodeGuardrail
	case status == http.StatusConflict:
		code = pkgerrors.CodeConflict
	default:
		code = pkgerrors.CodeValidation
	}
	return pkgerrors.New(code, msg).WithDetails(details)
}

// classifyTransport maps a failed round trip onto Timeout or NetworkError.
func classifyTransport(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || (ctx != nil && errors.Is(ctx.Err(), context.DeadlineExceeded)) {
		return pkgerrors.Wrap(pkgerrors.CodeTimeout, err, "ledger request timed out")
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return pkgerrors.Wrap(pkgerrors.CodeTimeout, err, "ledger request timed out")
	}
	return pkgerrors.Wrap(pkgerrors.CodeNetwork, err, "ledger unreachable")
}

// classifyRejection maps a per-event rejection from /outbox/submit.
func classifyRejection(rej RejectedEvent) error {
	kind := strings.ToLower(strings.TrimSpace(rej.Kind))
	details := map[string]any{"event_id": rej.EventID}
	if kind != "" {
		details["kind"] = kind
	}
	switch kind {
	case kindGuardrail:
		return pkgerrors.New(pkgerrors.CodeGuardrail, rej.Error).WithDetails(details)
	case kindAuth:
		return pkgerrors.New(pkgerrors.CodeUnauthorized, rej.Error).WithDetails(details)
	case kindTransient:
		return pkgerrors.New(pkgerrors.CodeDependency, rej.Error).WithDetails(details)
	default:
		return pkgerrors.New(pkgerrors.CodeValidation, rej.Error).WithDetails(details)
	}
}
