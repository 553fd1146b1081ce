package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	checkoutsvc "github.com/angelmondragon/pos-register/internal/checkout"
	"github.com/angelmondragon/pos-register/internal/notices"
	"github.com/angelmondragon/pos-register/internal/register"
	"github.com/angelmondragon/pos-register/pkg/auth"
	"github.com/angelmondragon/pos-register/pkg/config"
	"github.com/angelmondragon/pos-register/pkg/db"
	"github.com/angelmondragon/pos-register/pkg/db/models"
	"github.com/angelmondragon/pos-register/pkg/enums"
	"github.com/angelmondragon/pos-register/pkg/logger"
	"github.com/angelmondragon/pos-register/pkg/outbox"
	"github.com/angelmondragon/pos-register/pkg/redis"
)

type stubRegister struct {
	pays int
}

func (s *stubRegister) View(context.Context) (register.View, error) {
	return register.View{Mode: enums.RoutingAuto}, nil
}

func (s *stubRegister) AddItem(context.Context, register.AddItemInput) (register.View, error) {
	return register.View{}, nil
}

func (s *stubRegister) UpdateQty(context.Context, string, decimal.Decimal) (register.View, error) {
	return register.View{}, nil
}

func (s *stubRegister) UpdateUOM(context.Context, string, string) (register.View, error) {
	return register.View{}, nil
}

func (s *stubRegister) RemoveLine(context.Context, string) (register.View, error) {
	return register.View{}, nil
}

func (s *stubRegister) Clear(context.Context) (register.View, error) {
	return register.View{}, nil
}

func (s *stubRegister) Reprice(context.Context) (register.View, error) {
	return register.View{}, nil
}

func (s *stubRegister) SetMode(context.Context, enums.RoutingMode) (register.View, error) {
	return register.View{}, nil
}

func (s *stubRegister) Pay(context.Context, register.PayInput) (checkoutsvc.Result, register.View, error) {
	s.pays++
	return checkoutsvc.Result{State: enums.CheckoutSettled}, register.View{}, nil
}

func (s *stubRegister) CancelPayment(context.Context) (register.View, error) {
	return register.View{}, nil
}

type routerFixture struct {
	handler  http.Handler
	register *stubRegister
	cfg      *config.Config
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, conn.AutoMigrate(&models.OutboxEvent{}, &models.OutboxDLQ{}, &models.OutboxReceipt{}))

	client := db.NewFromConn(conn)
	svc, err := outbox.NewService(outbox.ServiceParams{
		DB: client,
		Transport: outbox.TransportFunc(func(context.Context, outbox.Delivery) (outbox.Ack, error) {
			return outbox.Ack{RemoteEventID: "remote"}, nil
		}),
		Logger: logger.Nop(),
	})
	require.NoError(t, err)

	store := redis.NewInMemory()
	center, err := notices.New(notices.Params{Store: store, Logger: logger.Nop()})
	require.NoError(t, err)

	cfg := &config.Config{
		App:      config.AppConfig{Env: "test"},
		Approval: config.ApprovalConfig{TTL: 5 * time.Minute, SigningKey: "secret", Issuer: "pos-register"},
	}
	reg := &stubRegister{}
	handler := NewRouter(Deps{
		Config:   cfg,
		Logger:   logger.Nop(),
		DB:       client,
		Redis:    store,
		Register: reg,
		Outbox:   svc,
		Notices:  center,
		Gatherer: prometheus.NewRegistry(),
	})
	return &routerFixture{handler: handler, register: reg, cfg: cfg}
}

func (f *routerFixture) do(req *http.Request) *httptest.ResponseRecorder {
	resp := httptest.NewRecorder()
	f.handler.ServeHTTP(resp, req)
	return resp
}

func TestRouterHealth(t *testing.T) {
	f := newRouterFixture(t)
	for _, path := range []string{"/health/live", "/health/ready", "/metrics"} {
		resp := f.do(httptest.NewRequest(http.MethodGet, path, nil))
		if resp.Code != http.StatusOK {
			t.Fatalf("%s: expected 200 got %d", path, resp.Code)
		}
	}
}

func TestRouterCartAndNotices(t *testing.T) {
	f := newRouterFixture(t)
	for _, path := range []string{"/api/v1/cart", "/api/v1/notices", "/api/v1/outbox/official/status", "/api/v1/outbox/official/dead"} {
		resp := f.do(httptest.NewRequest(http.MethodGet, path, nil))
		if resp.Code != http.StatusOK {
			t.Fatalf("%s: expected 200 got %d: %s", path, resp.Code, resp.Body.String())
		}
	}
}

func TestRouterPayNeedsIdempotencyKey(t *testing.T) {
	f := newRouterFixture(t)
	resp := f.do(httptest.NewRequest(http.MethodPost, "/api/v1/checkout/pay", strings.NewReader(`{"payment_method":"cash"}`)))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
	if f.register.pays != 0 {
		t.Fatal("pay must not run without a key")
	}
}

func TestRouterPayReplaysByKey(t *testing.T) {
	f := newRouterFixture(t)
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout/pay", strings.NewReader(`{"payment_method":"cash"}`))
		req.Header.Set("Idempotency-Key", "pay-1")
		resp := f.do(req)
		if resp.Code != http.StatusOK {
			t.Fatalf("attempt %d: expected 200 got %d", i, resp.Code)
		}
	}
	if f.register.pays != 1 {
		t.Fatalf("expected one payment, got %d", f.register.pays)
	}
}

func TestRouterRequeueRequiresApproval(t *testing.T) {
	f := newRouterFixture(t)
	path := "/api/v1/outbox/official/dead/" + uuid.NewString() + "/requeue"

	req := httptest.NewRequest(http.MethodPost, path, nil)
	req.Header.Set("Idempotency-Key", "rq-1")
	if resp := f.do(req); resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without approval got %d", resp.Code)
	}

	now := time.Now()
	token, err := auth.MintApprovalToken(f.cfg.Approval, now, now.Add(time.Minute), auth.ApprovalPayload{
		CompanyKey: "official",
		ManagerID:  "mgr-1",
	})
	require.NoError(t, err)

	req = httptest.NewRequest(http.MethodPost, path, nil)
	req.Header.Set("Idempotency-Key", "rq-2")
	req.Header.Set("X-Approval-Token", token)
	if resp := f.do(req); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown event got %d: %s", resp.Code, resp.Body.String())
	}
}
