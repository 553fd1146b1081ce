package checkout

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/pos-register/internal/approval"
	"github.com/angelmondragon/pos-register/internal/cart"
	"github.com/angelmondragon/pos-register/internal/catalog"
	pkgcheckout "github.com/angelmondragon/pos-register/pkg/checkout"
	"github.com/angelmondragon/pos-register/pkg/config"
	"github.com/angelmondragon/pos-register/pkg/enums"
	pkgerrors "github.com/angelmondragon/pos-register/pkg/errors"
	"github.com/angelmondragon/pos-register/pkg/ledger"
	"github.com/angelmondragon/pos-register/pkg/logger"
	"github.com/angelmondragon/pos-register/pkg/outbox"
	"github.com/angelmondragon/pos-register/pkg/outbox/payloads"
)

// Catalog is the read side of the company snapshots.
type Catalog interface {
	Get(companyKey string) (catalog.Snapshot, bool)
	MissingItems(companyKey string, itemIDs []string) []string
	Customer(companyKey, customerID string) (ledger.Customer, bool)
}

type approvalLookup interface {
	Lookup(companyKey string, now time.Time) (approval.Grant, bool)
}

type approvalPolicy interface {
	Requires(companyKey string, op enums.ApprovalOperation) bool
}

type submitter interface {
	Submit(ctx context.Context, req outbox.SubmitRequest) (outbox.SubmitResult, error)
	Outstanding(ctx context.Context, companyKey, idempotencyKey string) (bool, error)
}

// Service runs checkout intents.
type Service interface {
	OpenIntent(mode enums.RoutingMode) (Intent, error)
	Checkout(ctx context.Context, intentID uuid.UUID, req Request) (Result, error)
	Cancel(ctx context.Context, intentID uuid.UUID) (Intent, error)
	Intent(intentID uuid.UUID) (Intent, error)
	SubmitReturn(ctx context.Context, req ReturnRequest) (ReturnResult, error)
}

type ServiceParams struct {
	Catalog    Catalog
	Outbox     submitter
	Approvals  approvalLookup
	Policy     approvalPolicy
	Refunds    RefundCalculator
	Config     config.CheckoutConfig
	RegisterID string
	Logger     *logger.Logger
	Clock      func() time.Time
	// Finished, when set, receives the result of every dispatched checkout,
	// including those whose caller stopped waiting.
	Finished func(Result)
}

type service struct {
	catalog    Catalog
	outbox     submitter
	approvals  approvalLookup
	policy     approvalPolicy
	refunds    RefundCalculator
	cfg        config.CheckoutConfig
	currency   enums.Currency
	registerID string
	logg       *logger.Logger
	now        func() time.Time
	finished   func(Result)

	mu      sync.Mutex
	intents map[uuid.UUID]*Intent
}

// NewService builds the checkout orchestrator.
func NewService(params ServiceParams) (Service, error) {
	if params.Catalog == nil {
		return nil, errors.New("catalog required")
	}
	if params.Outbox == nil {
		return nil, errors.New("outbox required")
	}
	if params.Approvals == nil {
		return nil, errors.New("approval gate required")
	}
	if params.Policy == nil {
		return nil, errors.New("approval policy required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	currency, err := enums.ParseCurrency(params.Config.PricingCurrency)
	if err != nil {
		return nil, err
	}
	refunds := params.Refunds
	if refunds == nil {
		refunds = NoFeeRefunds{}
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &service{
		catalog:    params.Catalog,
		outbox:     params.Outbox,
		approvals:  params.Approvals,
		policy:     params.Policy,
		refunds:    refunds,
		cfg:        params.Config,
		currency:   currency,
		registerID: params.RegisterID,
		logg:       params.Logger,
		now:        clock,
		finished:   params.Finished,
		intents:    make(map[uuid.UUID]*Intent),
	}, nil
}

func (s *service) OpenIntent(mode enums.RoutingMode) (Intent, error) {
	if mode == "" {
		mode = enums.RoutingAuto
	}
	if !mode.IsValid() {
		return Intent{}, pkgerrors.New(pkgerrors.CodeValidation, "unknown routing mode").
			WithDetails(map[string]any{"mode": mode})
	}
	now := s.now().UTC()
	intent := &Intent{
		ID:        uuid.New(),
		Mode:      mode,
		State:     enums.CheckoutIntentCreated,
		Settled:   make(map[string]CompanyOutcome),
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.mu.Lock()
	s.intents[intent.ID] = intent
	s.mu.Unlock()
	return intent.snapshot(), nil
}

func (s *service) Intent(intentID uuid.UUID) (Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	intent, ok := s.intents[intentID]
	if !ok {
		return Intent{}, pkgerrors.New(pkgerrors.CodeNotFound, "checkout intent not found")
	}
	out := intent.snapshot()
	out.inFlight = intent.inFlight
	return out, nil
}

// Cancel resets an intent that has not dispatched anything. Once submissions
// are outstanding it only stops the caller from waiting; the outbox writes
// still complete. An intent whose invoice is still queued in the outbox cannot
// be dropped: paying again would invoice the same cart twice.
func (s *service) Cancel(ctx context.Context, intentID uuid.UUID) (Intent, error) {
	s.mu.Lock()
	intent, ok := s.intents[intentID]
	if !ok {
		s.mu.Unlock()
		return Intent{}, pkgerrors.New(pkgerrors.CodeNotFound, "checkout intent not found")
	}
	if intent.inFlight {
		if intent.cancel != nil {
			intent.cancel()
		}
		out := intent.snapshot()
		out.inFlight = true
		s.mu.Unlock()
		return out, nil
	}
	unsettled := intent.unsettled()
	s.mu.Unlock()

	queued, err := s.queuedInvoices(ctx, unsettled)
	if err != nil {
		return Intent{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	intent, ok = s.intents[intentID]
	if !ok {
		return Intent{}, pkgerrors.New(pkgerrors.CodeNotFound, "checkout intent not found")
	}
	if intent.inFlight {
		return Intent{}, pkgerrors.New(pkgerrors.CodeConflict, "checkout started while cancelling")
	}
	if len(queued) > 0 {
		return intent.snapshot(), pkgerrors.New(pkgerrors.CodeStateConflict, "invoices are still queued for this checkout; retry it instead").
			WithDetails(map[string]any{"companies": queued})
	}
	delete(s.intents, intentID)
	intent.State = enums.CheckoutIdle
	intent.UpdatedAt = s.now().UTC()
	return intent.snapshot(), nil
}

func (s *service) queuedInvoices(ctx context.Context, invoices []InvoiceDraft) ([]string, error) {
	var queued []string
	for _, inv := range invoices {
		outstanding, err := s.outbox.Outstanding(ctx, inv.CompanyKey, inv.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if outstanding {
			queued = append(queued, inv.CompanyKey)
		}
	}
	return queued, nil
}

// Checkout routes, validates and submits the cart for an open intent. Partial
// success is reported through the result; the returned error carries every
// company failure.
func (s *service) Checkout(ctx context.Context, intentID uuid.UUID, req Request) (Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = s.logg.WithIntentID(ctx, intentID.String())
	if req.CashierID != nil {
		ctx = s.logg.WithCashierID(ctx, *req.CashierID)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	intent, err := s.begin(intentID, cancel)
	if err != nil {
		return Result{IntentID: intentID}, err
	}
	dispatched := false
	defer func() {
		if !dispatched {
			s.finishWithoutDispatch(intentID)
		}
	}()

	if req.Mode == "" {
		req.Mode = intent.Mode
	}
	if req.PaymentMethod == "" {
		req.PaymentMethod = enums.PaymentMethodCash
	}
	if !req.PaymentMethod.IsValid() {
		return Result{IntentID: intentID, State: intent.State}, pkgerrors.New(pkgerrors.CodeValidation, "unknown payment method").
			WithDetails(map[string]any{"payment_method": req.PaymentMethod})
	}
	currency := s.currency
	if req.PricingCurrency != "" {
		if !req.PricingCurrency.IsValid() {
			return Result{IntentID: intentID, State: intent.State}, pkgerrors.New(pkgerrors.CodeValidation, "unknown pricing currency")
		}
		currency = req.PricingCurrency
	}

	today := s.now()
	plan, err := s.route(intentID, req, today)
	if err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "reason", err.Error()), "checkout routing refused")
		return Result{IntentID: intentID, State: intent.State}, err
	}
	s.setRouting(intentID, plan)

	if plan.split {
		if err := s.checkSplitTotals(req.Lines, plan, currency); err != nil {
			s.logg.Error(ctx, "split totals guardrail tripped", err)
			return Result{IntentID: intentID, State: enums.CheckoutRoutingDecided}, err
		}
	}

	grants, err := s.checkApprovals(plan, req.PaymentMethod)
	if err != nil {
		return Result{IntentID: intentID, State: enums.CheckoutRoutingDecided}, err
	}

	sales := s.prepareSales(plan, req, currency, grants, today)
	if err := s.checkSubmittedTotals(plan, currency, sales); err != nil {
		s.logg.Error(ctx, "submitted totals guardrail tripped", err)
		return Result{IntentID: intentID, State: enums.CheckoutRoutingDecided}, err
	}

	if err := runCtx.Err(); err != nil {
		return Result{IntentID: intentID, State: enums.CheckoutRoutingDecided},
			pkgerrors.Wrap(pkgerrors.CodeConflict, err, "checkout cancelled before submission")
	}

	pending := s.markSubmitting(intentID, plan)
	if len(pending) == 0 {
		return s.finalize(ctx, intentID, nil)
	}

	dispatched = true
	done := make(chan dispatchResult, 1)
	go func() {
		// Dispatched writes are never retracted, so they outlive the caller.
		outcomes := s.dispatch(context.WithoutCancel(runCtx), pending, sales, req, grants)
		res, err := s.finalize(runCtx, intentID, outcomes)
		if s.finished != nil {
			s.finished(res)
		}
		done <- dispatchResult{result: res, err: err}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-runCtx.Done():
		s.logg.Warn(ctx, "checkout wait cancelled; submissions continue in the background")
		return Result{IntentID: intentID, State: enums.CheckoutSubmitting},
			pkgerrors.Wrap(pkgerrors.CodeConflict, runCtx.Err(), "checkout cancelled while submitting")
	}
}

type dispatchResult struct {
	result Result
	err    error
}

func (s *service) begin(intentID uuid.UUID, cancel context.CancelFunc) (Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	intent, ok := s.intents[intentID]
	if !ok {
		return Intent{}, pkgerrors.New(pkgerrors.CodeNotFound, "checkout intent not found")
	}
	if intent.inFlight {
		return Intent{}, pkgerrors.New(pkgerrors.CodeConflict, "a checkout is already in flight for this intent")
	}
	if intent.State == enums.CheckoutSettled {
		return Intent{}, pkgerrors.New(pkgerrors.CodeStateConflict, "checkout intent already settled")
	}
	intent.inFlight = true
	intent.cancel = cancel
	return intent.snapshot(), nil
}

func (s *service) finishWithoutDispatch(intentID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if intent, ok := s.intents[intentID]; ok {
		intent.inFlight = false
		intent.cancel = nil
	}
}

func (s *service) setRouting(intentID uuid.UUID, plan routingPlan) {
	s.mu.Lock()
	defer s.mu.Unlock()
	intent, ok := s.intents[intentID]
	if !ok {
		return
	}
	intent.Mode = plan.mode
	intent.Invoices = plan.invoices
	if len(intent.Settled) == 0 {
		intent.State = enums.CheckoutRoutingDecided
	}
	intent.UpdatedAt = s.now().UTC()
}

// markSubmitting returns the invoices not yet settled under this intent.
func (s *service) markSubmitting(intentID uuid.UUID, plan routingPlan) []InvoiceDraft {
	s.mu.Lock()
	defer s.mu.Unlock()
	intent := s.intents[intentID]
	var pending []InvoiceDraft
	for _, inv := range plan.invoices {
		if _, done := intent.Settled[inv.CompanyKey]; done {
			continue
		}
		pending = append(pending, inv)
	}
	intent.State = enums.CheckoutSubmitting
	intent.UpdatedAt = s.now().UTC()
	return pending
}

func (s *service) checkSplitTotals(lines []cart.Line, plan routingPlan, currency enums.Currency) error {
	grand := cart.SumLines(lines, plan.rateOf).Grand
	parts := make([]pkgcheckout.SplitTotalInput, 0, len(plan.invoices))
	for _, inv := range plan.invoices {
		part := pkgcheckout.SplitTotalInput{CompanyKey: inv.CompanyKey, Subtotal: inv.Totals.SubtotalUSD, Tax: inv.Totals.TaxUSD}
		if currency == enums.CurrencyLBP {
			part.Subtotal, part.Tax = inv.Totals.SubtotalAlt, inv.Totals.TaxAlt
		}
		parts = append(parts, part)
	}
	return pkgcheckout.ValidateSplitTotals(currency, grand.Total(currency), parts)
}

// preparedSale is the payload of one company and the amounts it books.
type preparedSale struct {
	payload payloads.SaleCompleted
	amounts invoiceAmounts
}

func (s *service) prepareSales(plan routingPlan, req Request, currency enums.Currency, grants map[string]approval.Grant, today time.Time) map[string]preparedSale {
	sales := make(map[string]preparedSale, len(plan.invoices))
	for _, inv := range plan.invoices {
		var token *string
		if grant, ok := grants[inv.CompanyKey]; ok {
			t := grant.Token
			token = &t
		}
		payload, amounts := buildSalePayload(saleInput{
			invoice:       inv,
			snapshot:      plan.snapshots[inv.CompanyKey],
			method:        req.PaymentMethod,
			currency:      currency,
			shiftID:       req.ShiftID,
			cashierID:     req.CashierID,
			approvalToken: token,
			today:         today,
		})
		sales[inv.CompanyKey] = preparedSale{payload: payload, amounts: amounts}
	}
	return sales
}

// checkSubmittedTotals holds each payload about to be queued to the invoice
// total the cashier is charging, so the ledger never books less.
func (s *service) checkSubmittedTotals(plan routingPlan, currency enums.Currency, sales map[string]preparedSale) error {
	for _, inv := range plan.invoices {
		sums := sales[inv.CompanyKey].amounts
		part := pkgcheckout.SplitTotalInput{CompanyKey: inv.CompanyKey, Subtotal: sums.baseUSD, Tax: sums.taxUSD}
		if currency == enums.CurrencyLBP {
			part.Subtotal, part.Tax = sums.baseAlt, sums.taxAlt
		}
		if err := pkgcheckout.ValidateSplitTotals(currency, inv.Totals.Total(currency), []pkgcheckout.SplitTotalInput{part}); err != nil {
			return err
		}
	}
	return nil
}

// checkApprovals halts before any network effect when a company still needs
// a manager, naming every such company at once.
func (s *service) checkApprovals(plan routingPlan, method enums.PaymentMethod) (map[string]approval.Grant, error) {
	now := s.now()
	grants := make(map[string]approval.Grant)
	var missing []string
	ops := make(map[string][]enums.ApprovalOperation)
	for _, inv := range plan.invoices {
		required := s.requiredOps(inv, method)
		if len(required) == 0 {
			continue
		}
		grant, ok := s.approvals.Lookup(inv.CompanyKey, now)
		if !ok {
			missing = append(missing, inv.CompanyKey)
			ops[inv.CompanyKey] = required
			continue
		}
		grants[inv.CompanyKey] = grant
	}
	if len(missing) == 0 {
		return grants, nil
	}
	sort.Strings(missing)
	return nil, pkgerrors.New(pkgerrors.CodeApproval, "manager approval required").
		WithDetails(map[string]any{"companies": missing, "operations": ops})
}

func (s *service) requiredOps(inv InvoiceDraft, method enums.PaymentMethod) []enums.ApprovalOperation {
	candidates := []enums.ApprovalOperation{enums.ApprovalSale}
	if method.IsCredit() {
		candidates = append(candidates, enums.ApprovalCreditSale)
	}
	if inv.CrossCompany {
		candidates = append(candidates, enums.ApprovalCrossCompany)
	}
	var out []enums.ApprovalOperation
	for _, op := range candidates {
		if s.policy.Requires(inv.CompanyKey, op) {
			out = append(out, op)
		}
	}
	return out
}

// dispatch submits each company's invoice independently.
func (s *service) dispatch(ctx context.Context, invoices []InvoiceDraft, sales map[string]preparedSale, req Request, grants map[string]approval.Grant) []CompanyOutcome {
	outcomes := make([]CompanyOutcome, len(invoices))
	var g errgroup.Group
	for i, inv := range invoices {
		g.Go(func() error {
			outcomes[i] = s.submitInvoice(ctx, inv, sales[inv.CompanyKey].payload, req, grants)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (s *service) submitInvoice(ctx context.Context, inv InvoiceDraft, payload payloads.SaleCompleted, req Request, grants map[string]approval.Grant) CompanyOutcome {
	ctx = s.logg.WithCompany(ctx, inv.CompanyKey)
	actor := &outbox.ActorRef{RegisterID: s.registerID, CashierID: req.CashierID}
	if grant, ok := grants[inv.CompanyKey]; ok && grant.ManagerID != "" {
		manager := grant.ManagerID
		actor.ApprovedBy = &manager
	}

	res, err := s.outbox.Submit(ctx, outbox.SubmitRequest{
		CompanyKey:     inv.CompanyKey,
		EventType:      enums.EventSaleCompleted,
		Payload:        payload,
		IdempotencyKey: inv.IdempotencyKey,
		Actor:          actor,
	})
	outcome := CompanyOutcome{
		CompanyKey:    inv.CompanyKey,
		EventID:       res.EventID,
		Settled:       res.Settled,
		Deferred:      res.Deferred,
		Replayed:      res.Replayed,
		RemoteEventID: res.RemoteEventID,
		InvoiceID:     res.InvoiceID,
		NextAttemptAt: res.NextAttemptAt,

		CredentialsRejected: res.CredentialsRejected,
	}
	if res.CredentialsRejected {
		s.logg.Warn(ctx, "ledger refused device credentials; invoice stays queued")
	}
	if err != nil {
		outcome.Settled = false
		outcome.Error = err.Error()
		outcome.ErrorCode = string(pkgerrors.CodeOf(err))
		outcome.err = err
		s.logg.Error(ctx, "invoice submission failed", err)
	}
	return outcome
}

// finalize folds outcomes into the intent. A fully settled intent is cleared.
func (s *service) finalize(ctx context.Context, intentID uuid.UUID, outcomes []CompanyOutcome) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	intent, ok := s.intents[intentID]
	if !ok {
		return Result{IntentID: intentID}, pkgerrors.New(pkgerrors.CodeNotFound, "checkout intent not found")
	}
	intent.inFlight = false
	intent.cancel = nil

	var errs error
	res := Result{IntentID: intentID}
	for _, outcome := range outcomes {
		res.Outcomes = append(res.Outcomes, outcome)
		if outcome.Settled {
			intent.Settled[outcome.CompanyKey] = outcome
			res.Deferred = res.Deferred || outcome.Deferred
			continue
		}
		errs = multierr.Append(errs, outcome.err)
	}

	for _, inv := range intent.Invoices {
		if _, ok := intent.Settled[inv.CompanyKey]; ok {
			res.SettledCompanies = append(res.SettledCompanies, inv.CompanyKey)
		}
	}
	switch {
	case len(res.SettledCompanies) == len(intent.Invoices):
		intent.State = enums.CheckoutSettled
		delete(s.intents, intentID)
	case len(res.SettledCompanies) > 0:
		intent.State = enums.CheckoutPartiallySettled
	default:
		intent.State = enums.CheckoutRejected
	}
	intent.UpdatedAt = s.now().UTC()
	res.State = intent.State

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"state":    res.State,
		"settled":  res.SettledCompanies,
		"deferred": res.Deferred,
	}), "checkout finished")
	return res, errs
}
