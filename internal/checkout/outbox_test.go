package checkout

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/pos-register/internal/approval"
	"github.com/angelmondragon/pos-register/internal/catalog"
	"github.com/angelmondragon/pos-register/pkg/config"
	dbpkg "github.com/angelmondragon/pos-register/pkg/db"
	"github.com/angelmondragon/pos-register/pkg/db/models"
	"github.com/angelmondragon/pos-register/pkg/enums"
	pkgerrors "github.com/angelmondragon/pos-register/pkg/errors"
	"github.com/angelmondragon/pos-register/pkg/logger"
	"github.com/angelmondragon/pos-register/pkg/outbox"
	"github.com/angelmondragon/pos-register/pkg/outbox/payloads"
)

type bookedSale struct {
	key  string
	sale payloads.SaleCompleted
}

// recordingLedger fails deliveries with the queued errors, then books them.
type recordingLedger struct {
	mu     sync.Mutex
	errs   []error
	calls  int
	booked []bookedSale
}

func (l *recordingLedger) Deliver(_ context.Context, d outbox.Delivery) (outbox.Ack, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if len(l.errs) > 0 {
		err := l.errs[0]
		l.errs = l.errs[1:]
		return outbox.Ack{}, err
	}
	var sale payloads.SaleCompleted
	if err := json.Unmarshal(d.Payload, &sale); err != nil {
		return outbox.Ack{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unreadable sale")
	}
	l.booked = append(l.booked, bookedSale{key: d.IdempotencyKey, sale: sale})
	return outbox.Ack{RemoteEventID: "inv-" + d.EventID.String()}, nil
}

func (l *recordingLedger) failWith(errs ...error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errs = append(l.errs, errs...)
}

func (l *recordingLedger) bookings() []bookedSale {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]bookedSale(nil), l.booked...)
}

func (l *recordingLedger) callCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

type outboxFixture struct {
	svc    Service
	outbox *outbox.Service
	ledger *recordingLedger
	store  *catalog.Store
}

func newOutboxFixture(t *testing.T) *outboxFixture {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, conn.AutoMigrate(&models.OutboxEvent{}, &models.OutboxDLQ{}, &models.OutboxReceipt{}))

	ledger := &recordingLedger{}
	clock := func() time.Time { return testNow }
	ob, err := outbox.NewService(outbox.ServiceParams{
		DB:        dbpkg.NewFromConn(conn),
		Transport: ledger,
		Logger:    logger.Nop(),
		Clock:     clock,
	})
	require.NoError(t, err)

	store := newTestStore()
	svc, err := NewService(ServiceParams{
		Catalog:   store,
		Outbox:    ob,
		Approvals: fakeApprovals{},
		Policy:    approval.NewPolicy(store, nil),
		Config: config.CheckoutConfig{
			PricingCurrency: "USD",
			FlagCompanyKey:  "official",
		},
		RegisterID: "reg-1",
		Logger:     logger.Nop(),
		Clock:      clock,
	})
	require.NoError(t, err)
	return &outboxFixture{svc: svc, outbox: ob, ledger: ledger, store: store}
}

func (f *outboxFixture) drain(t *testing.T) outbox.DrainReport {
	t.Helper()
	drainer, err := outbox.NewDrainer(outbox.DrainerParams{
		Service:   f.outbox,
		Companies: []string{"official"},
		Logger:    logger.Nop(),
	})
	require.NoError(t, err)
	reports, err := drainer.DrainOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, reports, 1)
	return reports[0]
}

func TestCredentialFailureThenCancelAndRepayInvoicesOnce(t *testing.T) {
	f := newOutboxFixture(t)
	ctx := context.Background()
	f.ledger.failWith(pkgerrors.New(pkgerrors.CodeUnauthorized, "device token rejected"))
	lines := cartLines(t, f.store, lineFixture{"official", "item-1", 1})

	first := openIntent(t, f.svc, enums.RoutingAuto)
	res, err := f.svc.Checkout(ctx, first, Request{Lines: lines})
	require.Equal(t, pkgerrors.CodeUnauthorized, pkgerrors.CodeOf(err))
	require.Equal(t, enums.CheckoutRejected, res.State)

	_, err = f.svc.Cancel(ctx, first)
	require.NoError(t, err)

	second := openIntent(t, f.svc, enums.RoutingAuto)
	res, err = f.svc.Checkout(ctx, second, Request{Lines: lines})
	require.NoError(t, err)
	require.Equal(t, enums.CheckoutSettled, res.State)

	report := f.drain(t)
	require.Zero(t, report.Attempted)

	booked := f.ledger.bookings()
	require.Len(t, booked, 1, "the same cart must be invoiced once")
	require.Equal(t, second.String()+":official", booked[0].key)
}

func TestRetryAfterCredentialFailureBooksEditedCart(t *testing.T) {
	f := newOutboxFixture(t)
	ctx := context.Background()
	f.ledger.failWith(pkgerrors.New(pkgerrors.CodeUnauthorized, "device token rejected"))
	id := openIntent(t, f.svc, enums.RoutingAuto)

	_, err := f.svc.Checkout(ctx, id, Request{Lines: cartLines(t, f.store, lineFixture{"official", "item-1", 1})})
	require.Equal(t, pkgerrors.CodeUnauthorized, pkgerrors.CodeOf(err))

	res, err := f.svc.Checkout(ctx, id, Request{Lines: cartLines(t, f.store, lineFixture{"official", "item-1", 3})})
	require.NoError(t, err)
	require.Equal(t, enums.CheckoutSettled, res.State)

	booked := f.ledger.bookings()
	require.Len(t, booked, 1)
	require.True(t, booked[0].sale.Lines[0].Qty.Equal(decimal.NewFromInt(3)), "ledger booked qty %s", booked[0].sale.Lines[0].Qty)
	require.True(t, booked[0].sale.Payments[0].AmountUSD.Equal(dec("33.3")))
}

func TestQueuedInvoiceBlocksEditedRetryAndCancel(t *testing.T) {
	f := newOutboxFixture(t)
	ctx := context.Background()
	id := openIntent(t, f.svc, enums.RoutingAuto)
	key := id.String() + ":official"

	f.ledger.failWith(pkgerrors.New(pkgerrors.CodeNetwork, "ledger unreachable"))
	queued, err := f.outbox.Submit(ctx, outbox.SubmitRequest{
		CompanyKey:     "official",
		EventType:      enums.EventSaleCompleted,
		IdempotencyKey: key,
		Payload: payloads.SaleCompleted{
			PricingCurrency:    enums.CurrencyUSD,
			SettlementCurrency: enums.CurrencyUSD,
			Lines:              []payloads.InvoiceLine{{ItemID: "item-1", Qty: decimal.NewFromInt(1)}},
			Payments:           []payloads.Payment{{Method: enums.PaymentMethodCash, AmountUSD: dec("11.1")}},
		},
	})
	require.NoError(t, err)
	require.True(t, queued.Deferred)

	res, err := f.svc.Checkout(ctx, id, Request{Lines: cartLines(t, f.store, lineFixture{"official", "item-1", 3})})
	require.Equal(t, pkgerrors.CodeIdempotency, pkgerrors.CodeOf(err))
	require.Equal(t, enums.CheckoutRejected, res.State)
	require.Equal(t, 1, f.ledger.callCount(), "the queued row must not be delivered as the edited sale")

	_, err = f.svc.Cancel(ctx, id)
	require.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.CodeOf(err))
	_, err = f.svc.Intent(id)
	require.NoError(t, err)
}

func TestPermanentRejectionDeadLettersAndKeepsIntent(t *testing.T) {
	f := newOutboxFixture(t)
	ctx := context.Background()
	f.ledger.failWith(pkgerrors.New(pkgerrors.CodeValidation, "unknown warehouse"))
	id := openIntent(t, f.svc, enums.RoutingAuto)
	key := id.String() + ":official"
	lines := cartLines(t, f.store, lineFixture{"official", "item-1", 2})

	res, err := f.svc.Checkout(ctx, id, Request{Lines: lines})
	require.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
	require.Equal(t, enums.CheckoutRejected, res.State)
	require.Empty(t, res.SettledCompanies)

	row, err := f.outbox.Repository().FindByKey(ctx, "official", key)
	require.NoError(t, err)
	require.NotNil(t, row)
	require.Equal(t, enums.OutboxStatusDead, row.Status)

	entry, err := f.outbox.DeadLetters().FindByEventID(ctx, row.ID)
	require.NoError(t, err)
	require.NotNil(t, entry)
	require.Equal(t, enums.OutboxDLQReasonRejected, entry.ErrorReason)

	intent, err := f.svc.Intent(id)
	require.NoError(t, err)
	require.Equal(t, enums.CheckoutRejected, intent.State)
	require.Len(t, intent.Invoices, 1)
	require.True(t, intent.Invoices[0].Lines[0].QtyEntered.Equal(decimal.NewFromInt(2)))

	// A drain pass never picks a dead row back up.
	require.Zero(t, f.drain(t).Attempted)
	_, err = f.svc.Checkout(ctx, id, Request{Lines: lines})
	require.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.CodeOf(err))
	require.Equal(t, 1, f.ledger.callCount())
	require.Empty(t, f.ledger.bookings())
}
