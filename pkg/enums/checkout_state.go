package enums

// CheckoutState tracks a checkout intent through one payment attempt.
type CheckoutState string

const (
	CheckoutIdle             CheckoutState = "idle"
	CheckoutIntentCreated    CheckoutState = "intent_created"
	CheckoutRoutingDecided   CheckoutState = "routing_decided"
	CheckoutSubmitting       CheckoutState = "submitting"
	CheckoutSettled          CheckoutState = "settled"
	CheckoutPartiallySettled CheckoutState = "partially_settled"
	CheckoutRejected         CheckoutState = "rejected"
)

// IsFinal reports whether the intent finished its payment attempt.
func (s CheckoutState) IsFinal() bool {
	switch s {
	case CheckoutSettled, CheckoutPartiallySettled, CheckoutRejected:
		return true
	default:
		return false
	}
}
