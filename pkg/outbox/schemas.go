package outbox

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/angelmondragon/pos-register/pkg/enums"
	"github.com/angelmondragon/pos-register/pkg/outbox/payloads"
)

// checkFunc decodes one payload strictly and validates it.
type checkFunc func(payload json.RawMessage) error

// PayloadSchemas knows the payload shape of every event type a register
// emits. Payloads are checked before they are queued so a malformed sale
// never reaches the drain loop. The set is fixed once built.
type PayloadSchemas struct {
	version int
	checks  map[enums.OutboxEventType]checkFunc
}

// LedgerSchemas covers the ledger events at the current envelope version.
func LedgerSchemas() *PayloadSchemas {
	validate := validator.New()
	return &PayloadSchemas{
		version: envelopeVersion,
		checks: map[enums.OutboxEventType]checkFunc{
			enums.EventSaleCompleted: strictCheck[payloads.SaleCompleted](validate),
			enums.EventSaleReturned:  strictCheck[payloads.SaleReturned](validate),
			enums.EventCashMovement:  strictCheck[payloads.CashMovement](validate),
		},
	}
}

// Check reports why payload does not fit eventType at version.
func (p *PayloadSchemas) Check(eventType enums.OutboxEventType, version int, payload json.RawMessage) error {
	if version != p.version {
		return fmt.Errorf("payload version %d not supported, want %d", version, p.version)
	}
	check, ok := p.checks[eventType]
	if !ok {
		return fmt.Errorf("no payload schema for %s", eventType)
	}
	return check(payload)
}

func strictCheck[T any](validate *validator.Validate) checkFunc {
	return func(payload json.RawMessage) error {
		dec := json.NewDecoder(bytes.NewReader(payload))
		dec.DisallowUnknownFields()
		var out T
		if err := dec.Decode(&out); err != nil {
			return fmt.Errorf("decode %T: %w", out, err)
		}
		return validate.Struct(out)
	}
}
