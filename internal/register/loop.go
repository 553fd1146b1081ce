package register

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/pos-register/internal/cart"
	"github.com/angelmondragon/pos-register/internal/checkout"
	"github.com/angelmondragon/pos-register/pkg/enums"
	pkgerrors "github.com/angelmondragon/pos-register/pkg/errors"
	"github.com/angelmondragon/pos-register/pkg/logger"
)

const inboxSize = 32

// ItemSource resolves scanned items into priced cart input.
type ItemSource interface {
	cart.PricingSource
	AddInput(companyKey, itemID, uom string, qty decimal.Decimal) (cart.AddInput, error)
}

type draftStore interface {
	Save(ctx context.Context, registerID string, lines []cart.Line) error
	Load(ctx context.Context, registerID string) ([]cart.Line, error)
	Delete(ctx context.Context, registerID string) error
}

type checkoutService interface {
	OpenIntent(mode enums.RoutingMode) (checkout.Intent, error)
	Checkout(ctx context.Context, intentID uuid.UUID, req checkout.Request) (checkout.Result, error)
	Cancel(ctx context.Context, intentID uuid.UUID) (checkout.Intent, error)
}

type Params struct {
	Items      ItemSource
	Checkout   checkoutService
	Drafts     draftStore
	RegisterID string
	Logger     *logger.Logger
	Clock      func() time.Time
}

type message struct {
	apply func(*state) error
	reply chan reply
}

type reply struct {
	view View
	err  error
}

// Loop serializes every cart and payment transition of one register. UI calls
// become messages; checkout network work runs on the caller's goroutine and
// its result is posted back as another message.
type Loop struct {
	items      ItemSource
	checkout   checkoutService
	drafts     draftStore
	registerID string
	logg       *logger.Logger

	inbox chan message
	saves chan []cart.Line
	stopped chan struct{}
	st *state
}

func New(params Params) (*Loop, error) {
	if params.Items == nil {
		return nil, errors.New("item source required")
	}
	if params.Checkout == nil {
		return nil, errors.New("checkout service required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	if strings.TrimSpace(params.RegisterID) == "" {
		return nil, errors.New("register id required")
	}
	return &Loop{
		items:      params.Items,
		checkout:   params.Checkout,
		drafts:     params.Drafts,
		registerID: params.RegisterID,
		logg:       params.Logger,
		inbox:      make(chan message, inboxSize),
		saves:      make(chan []cart.Line, 1),
		stopped:    make(chan struct{}),
		st: &state{
			cart:     cart.New(params.Items, params.Clock),
			mode:     enums.RoutingAuto,
			finished: make(map[uuid.UUID]checkout.Result),
		},
	}, nil
}

// Restore loads the saved draft. It must run before Run.
func (l *Loop) Restore(ctx context.Context) error {
	if l.drafts == nil {
		return nil
	}
	lines, err := l.drafts.Load(ctx, l.registerID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart draft")
	}
	if len(lines) == 0 {
		return nil
	}
	l.st.cart.Restore(lines)
	l.logg.Info(l.logg.WithField(ctx, "lines", l.st.cart.Len()), "cart draft restored")
	return nil
}

// Run processes messages until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.stopped)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case msg := <-l.inbox:
				err := msg.apply(l.st)
				if msg.reply != nil {
					msg.reply <- reply{view: l.st.view(), err: err}
				}
			}
		}
	})
	g.Go(func() error {
		return l.persist(gctx)
	})
	return g.Wait()
}

// persist writes drafts off the loop so cart mutation never waits on disk.
func (l *Loop) persist(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			select {
			case lines := <-l.saves:
				l.saveDraft(context.WithoutCancel(ctx), lines)
			default:
			}
			return nil
		case lines := <-l.saves:
			l.saveDraft(ctx, lines)
		}
	}
}

func (l *Loop) saveDraft(ctx context.Context, lines []cart.Line) {
	if l.drafts == nil {
		return
	}
	var err error
	if len(lines) == 0 {
		err = l.drafts.Delete(ctx, l.registerID)
	} else {
		err = l.drafts.Save(ctx, l.registerID, lines)
	}
	if err != nil {
		l.logg.Error(ctx, "cart draft save failed", err)
	}
}

// queueSave keeps only the newest snapshot pending. Only the loop goroutine
// calls it.
func (l *Loop) queueSave(lines []cart.Line) {
	select {
	case l.saves <- lines:
		return
	default:
	}
	select {
	case <-l.saves:
	default:
	}
	select {
	case l.saves <- lines:
	default:
	}
}

func (l *Loop) call(ctx context.Context, fn func(*state) error) (View, error) {
	msg := message{apply: fn, reply: make(chan reply, 1)}
	select {
	case l.inbox <- msg:
	case <-l.stopped:
		return View{}, pkgerrors.New(pkgerrors.CodeDependency, "register loop stopped")
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
	select {
	case out := <-msg.reply:
		return out.view, out.err
	case <-l.stopped:
		return View{}, pkgerrors.New(pkgerrors.CodeDependency, "register loop stopped")
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
}

// mutate runs a cart edit, refusing it while a payment is outstanding, and
// persists the result.
func (l *Loop) mutate(ctx context.Context, fn func(*state) error) (View, error) {
	return l.call(ctx, func(s *state) error {
		if s.locked() {
			return pkgerrors.New(pkgerrors.CodeConflict, "payment in progress")
		}
		if err := fn(s); err != nil {
			return err
		}
		l.queueSave(s.cart.Lines())
		return nil
	})
}

// View returns the current derived state.
func (l *Loop) View(ctx context.Context) (View, error) {
	return l.call(ctx, func(*state) error { return nil })
}

type AddItemInput struct {
	CompanyKey string          `json:"company_key" validate:"required"`
	ItemID     string          `json:"item_id" validate:"required"`
	UOM        string          `json:"uom"`
	Qty        decimal.Decimal `json:"qty"`
}

func (l *Loop) AddItem(ctx context.Context, in AddItemInput) (View, error) {
	if in.Qty.IsZero() {
		in.Qty = decimal.NewFromInt(1)
	}
	return l.mutate(ctx, func(s *state) error {
		add, err := l.items.AddInput(in.CompanyKey, in.ItemID, in.UOM, in.Qty)
		if err != nil {
			return err
		}
		_, err = s.cart.AddLine(add)
		return err
	})
}

func (l *Loop) UpdateQty(ctx context.Context, lineID string, qty decimal.Decimal) (View, error) {
	return l.mutate(ctx, func(s *state) error {
		_, err := s.cart.UpdateQty(lineID, qty)
		return err
	})
}

// UpdateUOM switches a line to another unit of the same item.
func (l *Loop) UpdateUOM(ctx context.Context, lineID, uom string) (View, error) {
	return l.mutate(ctx, func(s *state) error {
		var current *cart.Line
		for _, line := range s.cart.Lines() {
			if line.ID == lineID {
				current = &line
				break
			}
		}
		if current == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "cart line not found")
		}
		resolved, err := l.items.AddInput(current.CompanyKey, current.ItemID, uom, current.QtyEntered)
		if err != nil {
			return err
		}
		_, err = s.cart.UpdateUOM(lineID, resolved.UOM, resolved.QtyFactor)
		return err
	})
}

func (l *Loop) RemoveLine(ctx context.Context, lineID string) (View, error) {
	return l.mutate(ctx, func(s *state) error {
		return s.cart.RemoveLine(lineID)
	})
}

func (l *Loop) Clear(ctx context.Context) (View, error) {
	return l.mutate(ctx, func(s *state) error {
		s.cart.Clear()
		return nil
	})
}

// Reprice re-evaluates every line after a catalog refresh. It is skipped
// while a payment is outstanding.
func (l *Loop) Reprice(ctx context.Context) (View, error) {
	return l.call(ctx, func(s *state) error {
		if s.locked() {
			return nil
		}
		s.cart.RepriceAll()
		l.queueSave(s.cart.Lines())
		return nil
	})
}

// SetMode chooses how the next payment is routed.
func (l *Loop) SetMode(ctx context.Context, mode enums.RoutingMode) (View, error) {
	if !mode.IsValid() {
		return View{}, pkgerrors.New(pkgerrors.CodeValidation, "unknown routing mode")
	}
	return l.mutate(ctx, func(s *state) error {
		s.mode = mode
		return nil
	})
}

// PayInput is what the payment sheet collects.
type PayInput struct {
	Mode            enums.RoutingMode   `json:"mode"`
	TargetCompany   string              `json:"target_company"`
	PaymentMethod   enums.PaymentMethod `json:"payment_method"`
	PricingCurrency enums.Currency      `json:"pricing_currency"`
	CustomerID      *string             `json:"customer_id"`
	CustomerIDs     map[string]string   `json:"customer_ids"`
	ShiftID         *string             `json:"shift_id"`
	CashierID       *string             `json:"cashier_id"`
}

// Pay checks the cart out under the register's intent, opening one when
// needed. The same intent is reused until it settles or is cancelled.
func (l *Loop) Pay(ctx context.Context, in PayInput) (checkout.Result, View, error) {
	var (
		intentID uuid.UUID
		req      checkout.Request
	)
	view, err := l.call(ctx, func(s *state) error {
		if s.locked() {
			return pkgerrors.New(pkgerrors.CodeConflict, "payment already in progress")
		}
		if s.cart.Len() == 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "cart is empty")
		}
		mode := in.Mode
		if mode == "" {
			mode = s.mode
		}
		if s.intentID == nil {
			intent, err := l.checkout.OpenIntent(mode)
			if err != nil {
				return err
			}
			id := intent.ID
			s.intentID = &id
		}
		s.paying = true
		intentID = *s.intentID
		req = checkout.Request{
			Mode:            mode,
			TargetCompany:   in.TargetCompany,
			Lines:           s.cart.Lines(),
			PaymentMethod:   in.PaymentMethod,
			PricingCurrency: in.PricingCurrency,
			CustomerID:      in.CustomerID,
			CustomerIDs:     in.CustomerIDs,
			ShiftID:         in.ShiftID,
			CashierID:       in.CashierID,
		}
		return nil
	})
	if err != nil {
		return checkout.Result{}, view, err
	}

	res, payErr := l.checkout.Checkout(ctx, intentID, req)
	if res.IntentID == uuid.Nil {
		res.IntentID = intentID
	}

	view, err = l.call(context.WithoutCancel(ctx), func(s *state) error {
		if pkgerrors.CodeOf(payErr) == pkgerrors.CodeNotFound {
			s.intentID = nil
		}
		if res.State == "" {
			s.paying = false
			return nil
		}
		s.settle(res)
		l.queueSave(s.cart.Lines())
		return nil
	})
	if err != nil {
		return res, view, err
	}
	return res, view, payErr
}

// CancelPayment closes the payment sheet. Before dispatch the intent is
// dropped; after dispatch the writes still complete and the cart stays locked
// until they report back.
func (l *Loop) CancelPayment(ctx context.Context) (View, error) {
	return l.call(ctx, func(s *state) error {
		if s.intentID == nil {
			return nil
		}
		intent, err := l.checkout.Cancel(ctx, *s.intentID)
		if err != nil {
			if pkgerrors.CodeOf(err) == pkgerrors.CodeNotFound {
				s.intentID = nil
				return nil
			}
			return err
		}
		if intent.InFlight() {
			return nil
		}
		s.intentID = nil
		s.paying = false
		return nil
	})
}

// CheckoutFinished receives results the checkout service reports on its own.
func (l *Loop) CheckoutFinished(res checkout.Result) {
	msg := message{apply: func(s *state) error {
		if s.observe(res) {
			l.queueSave(s.cart.Lines())
		}
		return nil
	}}
	select {
	case l.inbox <- msg:
	case <-l.stopped:
	}
}
