package enums

// OutboxDLQErrorReason records why an outbox row went dead.
type OutboxDLQErrorReason string

const (
	// OutboxDLQReasonMaxAttempts is set when the configured attempt cap ran out.
	OutboxDLQReasonMaxAttempts OutboxDLQErrorReason = "max_attempts"
	// OutboxDLQReasonRejected is set when the ledger refused the write outright.
	OutboxDLQReasonRejected OutboxDLQErrorReason = "rejected"
	// OutboxDLQReasonUnreadablePayload is set when the stored row no longer decodes.
	OutboxDLQReasonUnreadablePayload OutboxDLQErrorReason = "unreadable_payload"
)

var validOutboxDLQErrorReasons = []OutboxDLQErrorReason{
	OutboxDLQReasonMaxAttempts,
	OutboxDLQReasonRejected,
	OutboxDLQReasonUnreadablePayload,
}

func (r OutboxDLQErrorReason) String() string {
	return string(r)
}

func (r OutboxDLQErrorReason) IsValid() bool { return member(validOutboxDLQErrorReasons, r) }

// ParseOutboxDLQErrorReason converts a stored value into a reason.
func ParseOutboxDLQErrorReason(value string) (OutboxDLQErrorReason, error) {
	return parse(validOutboxDLQErrorReasons, value, "outbox dlq error reason", false)
}
