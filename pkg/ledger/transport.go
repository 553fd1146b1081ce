package ledger

import (
	"context"
	"time"

	"github.com/angelmondragon/pos-register/pkg/config"
	"github.com/angelmondragon/pos-register/pkg/enums"
	pkgerrors "github.com/angelmondragon/pos-register/pkg/errors"
	"github.com/angelmondragon/pos-register/pkg/outbox"
)

// NewTransport picks the delivery path configured for the device.
func NewTransport(client *Client, mode string) outbox.Transport {
	if mode == config.SubmitModeDirect {
		return &DirectTransport{client: client}
	}
	return &OutboxTransport{client: client}
}

// OutboxTransport delivers rows through the ledger's durable queue and asks
// it to post sales and returns right away so the invoice id comes back.
type OutboxTransport struct {
	client *Client
}

func NewOutboxTransport(client *Client) *OutboxTransport {
	return &OutboxTransport{client: client}
}

func (t *OutboxTransport) Deliver(ctx context.Context, d outbox.Delivery) (outbox.Ack, error) {
	eventID := d.EventID.String()
	resp, err := t.client.SubmitEvents(ctx, d.CompanyKey, []SubmitEvent{{
		EventID:        eventID,
		EventType:      string(d.EventType),
		IdempotencyKey: d.IdempotencyKey,
		Payload:        d.Payload,
		CreatedAt:      d.CreatedAt.UTC().Truncate(time.Microsecond),
	}})
	if err != nil {
		if dup, ok := AsDuplicate(err); ok {
			return duplicateAck(dup, eventID), nil
		}
		return outbox.Ack{}, err
	}

	ack, err := ackFromSubmit(resp, eventID, d.IdempotencyKey)
	if err != nil || ack.Replayed {
		return ack, err
	}
	if d.EventType == enums.EventCashMovement {
		return ack, nil
	}

	// Accepted rows are durable remotely; a failed immediate post only means
	// the invoice id arrives later through the ledger's own worker.
	processed, procErr := t.client.ProcessOne(ctx, d.CompanyKey, ack.RemoteEventID)
	if procErr == nil {
		ack.InvoiceID = &processed.InvoiceID
	}
	return ack, nil
}

func ackFromSubmit(resp *SubmitResponse, eventID, idempotencyKey string) (outbox.Ack, error) {
	for _, accepted := range resp.Accepted {
		if accepted == eventID {
			return outbox.Ack{RemoteEventID: eventID}, nil
		}
	}
	for _, dup := range resp.Duplicates {
		if dup.EventID == eventID || (idempotencyKey != "" && dup.IdempotencyKey == idempotencyKey) {
			return outbox.Ack{RemoteEventID: dup.RemoteEventID, InvoiceID: dup.InvoiceID, Replayed: true}, nil
		}
	}
	for _, rej := range resp.Rejected {
		if rej.EventID != eventID {
			continue
		}
		if rej.Kind == kindDuplicate {
			return outbox.Ack{RemoteEventID: eventID, Replayed: true}, nil
		}
		return outbox.Ack{}, classifyRejection(rej)
	}
	return outbox.Ack{}, pkgerrors.New(pkgerrors.CodeValidation, "ledger response did not mention the submitted event").
		WithDetails(map[string]any{"event_id": eventID})
}

// DirectTransport posts sales and returns straight to the ledger endpoints.
type DirectTransport struct {
	client *Client
}

func NewDirectTransport(client *Client) *DirectTransport {
	return &DirectTransport{client: client}
}

func (t *DirectTransport) Deliver(ctx context.Context, d outbox.Delivery) (outbox.Ack, error) {
	var (
		result *PostResult
		err    error
	)
	switch d.EventType {
	case enums.EventSaleCompleted:
		result, err = t.client.PostSale(ctx, d.CompanyKey, d.IdempotencyKey, d.Payload)
	case enums.EventSaleReturned:
		result, err = t.client.PostReturn(ctx, d.CompanyKey, d.IdempotencyKey, d.Payload)
	default:
		// Cash movements have no direct endpoint.
		return NewOutboxTransport(t.client).Deliver(ctx, d)
	}
	if err != nil {
		if dup, ok := AsDuplicate(err); ok {
			return duplicateAck(dup, d.EventID.String()), nil
		}
		return outbox.Ack{}, err
	}
	return outbox.Ack{RemoteEventID: result.EventID, InvoiceID: result.InvoiceID}, nil
}

func duplicateAck(dup *DuplicateError, fallbackID string) outbox.Ack {
	remote := dup.RemoteEventID
	if remote == "" {
		remote = fallbackID
	}
	return outbox.Ack{RemoteEventID: remote, InvoiceID: dup.InvoiceID, Replayed: true}
}
