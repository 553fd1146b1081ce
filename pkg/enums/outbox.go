package enums

// OutboxEventType names the ledger event carried by an outbox row.
type OutboxEventType string

const (
	EventSaleCompleted OutboxEventType = "sale.completed"
	EventSaleReturned  OutboxEventType = "sale.returned"
	EventCashMovement  OutboxEventType = "pos.cash_movement"
)

var validOutboxEventTypes = []OutboxEventType{
	EventSaleCompleted,
	EventSaleReturned,
	EventCashMovement,
}

func (e OutboxEventType) IsValid() bool { return member(validOutboxEventTypes, e) }

func ParseOutboxEventType(value string) (OutboxEventType, error) {
	return parse(validOutboxEventTypes, value, "event type", false)
}

// OutboxStatus is the delivery state of a local outbox row.
type OutboxStatus string

const (
	OutboxStatusPending OutboxStatus = "pending"
	OutboxStatusFailed  OutboxStatus = "failed"
	OutboxStatusDead    OutboxStatus = "dead"
	OutboxStatusAcked   OutboxStatus = "acked"
)

var validOutboxStatuses = []OutboxStatus{
	OutboxStatusPending,
	OutboxStatusFailed,
	OutboxStatusDead,
	OutboxStatusAcked,
}

func (s OutboxStatus) IsValid() bool { return member(validOutboxStatuses, s) }

// IsTerminal reports whether no automatic process may move the row again.
func (s OutboxStatus) IsTerminal() bool {
	return s == OutboxStatusDead || s == OutboxStatusAcked
}

// CanTransition reports whether an automatic process may move a row from s to
// next. Dead and acked rows never move; the manual requeue path bypasses this.
func (s OutboxStatus) CanTransition(next OutboxStatus) bool {
	switch s {
	case OutboxStatusPending, OutboxStatusFailed:
		return next == OutboxStatusFailed || next == OutboxStatusDead || next == OutboxStatusAcked
	default:
		return false
	}
}

// ParseOutboxStatus reads a status from a query string or a stored row.
func ParseOutboxStatus(value string) (OutboxStatus, error) {
	return parse(validOutboxStatuses, value, "outbox status", true)
}
