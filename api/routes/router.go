package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/pos-register/api/controllers"
	cartcontrollers "github.com/angelmondragon/pos-register/api/controllers/cart"
	"github.com/angelmondragon/pos-register/api/middleware"
	checkoutsvc "github.com/angelmondragon/pos-register/internal/checkout"
	"github.com/angelmondragon/pos-register/internal/notices"
	"github.com/angelmondragon/pos-register/pkg/config"
	"github.com/angelmondragon/pos-register/pkg/db"
	"github.com/angelmondragon/pos-register/pkg/enums"
	"github.com/angelmondragon/pos-register/pkg/ledger"
	"github.com/angelmondragon/pos-register/pkg/logger"
	"github.com/angelmondragon/pos-register/pkg/outbox"
	"github.com/angelmondragon/pos-register/pkg/redis"
)

// Register is everything the UI drives on the register loop.
type Register interface {
	cartcontrollers.Register
	controllers.PaymentRegister
}

// Deps bundles what the register API is served from.
type Deps struct {
	Config   *config.Config
	Logger   *logger.Logger
	DB       db.Pinger
	Redis    *redis.Client
	Ledger   *ledger.Client
	Register Register
	Checkout checkoutsvc.Service
	Approval controllers.ApprovalGate
	Outbox   *outbox.Service
	Notices  *notices.Center
	// Gatherer serves /metrics; nil uses the default registry.
	Gatherer prometheus.Gatherer
	Clock    func() time.Time
}

func NewRouter(deps Deps) http.Handler {
	cfg, logg := deps.Config, deps.Logger
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.UIOrigins, cfg.App.IsDev()),
	)

	pinPolicy := middleware.NewPINRateLimitPolicy(
		cfg.Approval.PINWindow,
		cfg.Approval.PINIPLimit,
		cfg.Approval.PINCompanyLimit,
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, controllers.ReadinessDeps{
			DB:     deps.DB,
			Redis:  deps.Redis,
			Ledger: deps.Ledger,
		}))
	})
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Cashier(logg))
		r.Use(middleware.Idempotency(deps.Redis, logg))

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", cartcontrollers.CartView(deps.Register, logg))
			r.Delete("/", cartcontrollers.CartClear(deps.Register, logg))
			r.Post("/lines", cartcontrollers.CartAddLine(deps.Register, logg))
			r.Patch("/lines/{lineId}", cartcontrollers.CartUpdateLine(deps.Register, logg))
			r.Delete("/lines/{lineId}", cartcontrollers.CartRemoveLine(deps.Register, logg))
			r.Post("/reprice", cartcontrollers.CartReprice(deps.Register, logg))
			r.Put("/mode", cartcontrollers.CartSetMode(deps.Register, logg))
		})

		r.Route("/checkout", func(r chi.Router) {
			r.Post("/pay", controllers.Pay(deps.Register, logg))
			r.Post("/cancel", controllers.CancelPayment(deps.Register, logg))
			r.Get("/intents/{intentId}", controllers.IntentDetail(deps.Checkout, logg))
		})
		r.Post("/returns", controllers.SubmitReturn(deps.Checkout, logg))

		r.Route("/approvals", func(r chi.Router) {
			r.With(middleware.PINRateLimit(pinPolicy, deps.Redis, logg)).Post("/", controllers.GrantApproval(deps.Approval, logg))
			r.Get("/{companyKey}", controllers.ApprovalStatus(deps.Approval, deps.Clock, logg))
			r.Delete("/{companyKey}", controllers.RevokeApproval(deps.Approval, logg))
		})

		r.Route("/outbox/{companyKey}", func(r chi.Router) {
			r.Get("/status", controllers.OutboxStatus(deps.Outbox.Repository(), logg))
			r.Get("/events", controllers.OutboxList(deps.Outbox.Repository(), logg))
			r.Get("/dead", controllers.OutboxDeadLetters(deps.Outbox.DeadLetters(), logg))
			r.With(middleware.RequireApproval(cfg.Approval, "companyKey", enums.ApprovalRequeue, logg)).
				Post("/dead/{eventId}/requeue", controllers.OutboxRequeue(deps.Outbox, deps.Notices, logg))
		})

		r.Get("/notices", controllers.ListNotices(deps.Notices, logg))
	})

	return r
}
