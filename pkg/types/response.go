package types

// SuccessEnvelope wraps every 2xx body of the register API.
type SuccessEnvelope struct {
	Data any `json:"data"`
}

// APIError is the error shape the register UI renders. Retryable tells the
// UI it may resend the same request with the same Idempotency-Key.
type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	RequestID string `json:"request_id,omitempty"`
	Details   any    `json:"details,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}
