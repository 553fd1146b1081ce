package outbox

import (
	"encoding/json"
	"errors"
	"time"
)

const envelopeVersion = 1

// ActorRef identifies who produced the event at the register.
type ActorRef struct {
	RegisterID string  `json:"register_id"`
	CashierID  *string `json:"cashier_id,omitempty"`
	ApprovedBy *string `json:"approved_by,omitempty"`
}

// PayloadEnvelope is the stable payload structure stored in outbox_events.
// Only Data travels to the ledger.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"event_id"`
	OccurredAt time.Time       `json:"occurred_at"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}

// DecodeEnvelope parses a stored payload.
func DecodeEnvelope(raw []byte) (PayloadEnvelope, error) {
	var env PayloadEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return PayloadEnvelope{}, err
	}
	if len(env.Data) == 0 {
		return PayloadEnvelope{}, errors.New("outbox envelope has no data")
	}
	return env, nil
}
