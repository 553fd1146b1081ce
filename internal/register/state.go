package register

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/pos-register/internal/cart"
	"github.com/angelmondragon/pos-register/internal/checkout"
	"github.com/angelmondragon/pos-register/pkg/enums"
)

// state is owned by the loop goroutine. Nothing else reads or writes it.
type state struct {
	cart     *cart.Cart
	intentID *uuid.UUID
	mode     enums.RoutingMode
	// paying is set while a checkout is outstanding; cart edits are refused.
	paying bool
	// detached is set when the cashier stopped waiting on a dispatched
	// checkout. The cart stays locked until its result arrives.
	detached bool
	last     *checkout.Result
	finished map[uuid.UUID]checkout.Result
}

// View is the derived state the UI renders after every transition.
type View struct {
	Lines      []cart.Line       `json:"lines"`
	Totals     cart.Totals       `json:"totals"`
	Companies  []string          `json:"companies"`
	IntentID   *uuid.UUID        `json:"intent_id,omitempty"`
	Mode       enums.RoutingMode `json:"mode"`
	Paying     bool              `json:"paying"`
	LastResult *checkout.Result  `json:"last_result,omitempty"`
}

func (s *state) view() View {
	v := View{
		Lines:     s.cart.Lines(),
		Totals:    s.cart.ComputeTotals(),
		Companies: s.cart.Companies(),
		Mode:      s.mode,
		Paying:    s.paying || s.detached,
	}
	if s.intentID != nil {
		id := *s.intentID
		v.IntentID = &id
	}
	if s.last != nil {
		res := *s.last
		v.LastResult = &res
	}
	return v
}

// settle folds a checkout result into the cart. A settled intent clears the
// cart; a partial one drops only the lines of the companies that settled.
func (s *state) settle(res checkout.Result) {
	if res.State == enums.CheckoutSubmitting {
		if done, ok := s.finished[res.IntentID]; ok {
			delete(s.finished, res.IntentID)
			s.apply(done)
			return
		}
		s.paying = false
		s.detached = true
		return
	}
	delete(s.finished, res.IntentID)
	s.apply(res)
}

// observe handles a result reported by the checkout service itself.
func (s *state) observe(res checkout.Result) bool {
	switch {
	case s.intentID == nil || *s.intentID != res.IntentID:
		return false
	case s.detached:
		s.apply(res)
		return true
	case s.paying:
		s.finished[res.IntentID] = res
	}
	return false
}

func (s *state) apply(res checkout.Result) {
	s.paying = false
	s.detached = false
	last := res
	s.last = &last
	switch res.State {
	case enums.CheckoutSettled:
		s.cart.Clear()
		s.intentID = nil
	case enums.CheckoutPartiallySettled:
		s.cart.RemoveCompanyLines(res.SettledCompanies...)
	}
}

func (s *state) locked() bool {
	return s.paying || s.detached
}
