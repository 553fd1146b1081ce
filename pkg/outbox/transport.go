package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/pos-register/pkg/enums"
)

// Delivery is one outbox row handed to the remote ledger.
type Delivery struct {
	EventID        uuid.UUID
	CompanyKey     string
	EventType      enums.OutboxEventType
	IdempotencyKey string
	Payload        json.RawMessage
	CreatedAt      time.Time
	AttemptCount   int
}

// Ack is the ledger's acknowledgement of a delivery. Replayed is set when the
// ledger recognised the idempotency key from an earlier delivery.
type Ack struct {
	RemoteEventID string
	InvoiceID     *string
	Replayed      bool
}

// Transport delivers outbox rows. Errors are classified with
// pkgerrors.IsTransient: transient errors are retried on the backoff ladder,
// anything else dead-letters the row.
type Transport interface {
	Deliver(ctx context.Context, d Delivery) (Ack, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, d Delivery) (Ack, error)

func (f TransportFunc) Deliver(ctx context.Context, d Delivery) (Ack, error) {
	return f(ctx, d)
}
