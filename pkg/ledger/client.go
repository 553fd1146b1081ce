package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/angelmondragon/pos-register/pkg/config"
	pkgerrors "github.com/angelmondragon/pos-register/pkg/errors"
)

const (
	defaultTimeout         = 8 * time.Second
	defaultBreakerFailures = 5
	defaultBreakerCooldown = 30 * time.Second
	responseBodyReadLimit  = 1 << 20

	headerDeviceID    = "X-Device-Id"
	headerDeviceToken = "X-Device-Token"
	headerCompanyID   = "X-Company-Id"
	headerIdempotency = "Idempotency-Key"
)

var (
	errBaseURLRequired     = errors.New("ledger base url is required")
	errDeviceRequired      = errors.New("ledger device id and token are required")
	errTransientHTTPStatus = errors.New("ledger returned a retryable status")
)

// Client talks to the remote ledger (edge or cloud) on behalf of one device.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	deviceID    string
	deviceToken string
	breaker     *gobreaker.CircuitBreaker[*rawResponse]
	validate    *validator.Validate

	breakerFailures uint32
	breakerCooldown time.Duration
}

type rawResponse struct {
	status int
	body   []byte
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL overrides the configured ledger base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		trimmed := strings.TrimSpace(baseURL)
		if trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// WithBreaker tunes how many consecutive transient failures open the breaker
// and how long it stays open.
func WithBreaker(failures uint32, cooldown time.Duration) Option {
	return func(c *Client) {
		if failures > 0 {
			c.breakerFailures = failures
		}
		if cooldown > 0 {
			c.breakerCooldown = cooldown
		}
	}
}

// NewClient builds a ledger client from configuration.
func NewClient(cfg config.LedgerConfig, opts ...Option) (*Client, error) {
	base := strings.TrimSpace(cfg.BaseURL)
	if strings.TrimSpace(cfg.DeviceID) == "" || strings.TrimSpace(cfg.DeviceToken) == "" {
		return nil, errDeviceRequired
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	client := &Client{
		baseURL:     base,
		deviceID:    strings.TrimSpace(cfg.DeviceID),
		deviceToken: strings.TrimSpace(cfg.DeviceToken),
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		validate:        validator.New(),
		breakerFailures: defaultBreakerFailures,
		breakerCooldown: defaultBreakerCooldown,
	}
	if cfg.BreakerFailures > 0 {
		client.breakerFailures = uint32(cfg.BreakerFailures)
	}
	if cfg.BreakerCooldown > 0 {
		client.breakerCooldown = cfg.BreakerCooldown
	}

	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	if client.baseURL == "" {
		return nil, errBaseURLRequired
	}

	failures := client.breakerFailures
	client.breaker = gobreaker.NewCircuitBreaker[*rawResponse](gobreaker.Settings{
		Name:        "ledger",
		MaxRequests: 1,
		Timeout:     client.breakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
	})

	return client, nil
}

// BreakerState reports the breaker state for health output.
func (c *Client) BreakerState() string {
	if c == nil || c.breaker == nil {
		return "unknown"
	}
	return c.breaker.State().String()
}

// SubmitEvents bundles outbox rows into POST /outbox/submit.
func (c *Client) SubmitEvents(ctx context.Context, companyID string, events []SubmitEvent) (*SubmitResponse, error) {
	if len(events) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one event is required")
	}
	bundle := SubmitBundle{CompanyID: companyID, DeviceID: c.deviceID, Events: events}
	idem := ""
	if len(events) == 1 {
		idem = events[0].IdempotencyKey
	}
	var out SubmitResponse
	if err := c.do(ctx, http.MethodPost, "/outbox/submit", nil, companyID, idem, bundle, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ProcessOne asks the ledger to post an accepted event now and return its invoice.
func (c *Client) ProcessOne(ctx context.Context, companyID, eventID string) (*ProcessOneResponse, error) {
	var out ProcessOneResponse
	if err := c.do(ctx, http.MethodPost, "/outbox/process-one", nil, companyID, "", ProcessOneRequest{EventID: eventID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PostSale submits a sale invoice payload directly.
func (c *Client) PostSale(ctx context.Context, companyID, idempotencyKey string, payload json.RawMessage) (*PostResult, error) {
	return c.post(ctx, "/sale", companyID, idempotencyKey, payload)
}

// PostReturn submits a return payload directly.
func (c *Client) PostReturn(ctx context.Context, companyID, idempotencyKey string, payload json.RawMessage) (*PostResult, error) {
	return c.post(ctx, "/return", companyID, idempotencyKey, payload)
}

func (c *Client) post(ctx context.Context, path, companyID, idempotencyKey string, payload json.RawMessage) (*PostResult, error) {
	if strings.TrimSpace(idempotencyKey) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "idempotency key is required")
	}
	var out PostResult
	if err := c.do(ctx, http.MethodPost, path, nil, companyID, idempotencyKey, payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetConfig fetches the company's VAT and policy configuration.
func (c *Client) GetConfig(ctx context.Context, companyID string) (*DeviceConfig, error) {
	var out DeviceConfig
	if err := c.do(ctx, http.MethodGet, "/config", nil, companyID, "", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetExchangeRate fetches the USD to LBP rate.
func (c *Client) GetExchangeRate(ctx context.Context, companyID string) (decimal.Decimal, error) {
	var out ExchangeRateResponse
	if err := c.do(ctx, http.MethodGet, "/exchange-rate", nil, companyID, "", nil, &out); err != nil {
		return decimal.Zero, err
	}
	if !out.Rate.USDToLBP.IsPositive() {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, "exchange rate must be positive")
	}
	return out.Rate.USDToLBP, nil
}

// GetPromotions fetches the promotion catalog.
func (c *Client) GetPromotions(ctx context.Context, companyID string) ([]Promotion, error) {
	var out PromotionsResponse
	if err := c.do(ctx, http.MethodGet, "/promotions", nil, companyID, "", nil, &out); err != nil {
		return nil, err
	}
	return out.Promotions, nil
}

// GetCatalog fetches the sellable items of a company.
func (c *Client) GetCatalog(ctx context.Context, companyID string) ([]CatalogItem, error) {
	query := url.Values{"company_id": []string{companyID}}
	var out CatalogResponse
	if err := c.do(ctx, http.MethodGet, "/catalog", query, companyID, "", nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// GetCustomers fetches customer accounts.
func (c *Client) GetCustomers(ctx context.Context, companyID string) ([]Customer, error) {
	var out CustomersResponse
	if err := c.do(ctx, http.MethodGet, "/customers", nil, companyID, "", nil, &out); err != nil {
		return nil, err
	}
	return out.Customers, nil
}

// GetCashiers fetches register operators.
func (c *Client) GetCashiers(ctx context.Context, companyID string) ([]Cashier, error) {
	var out CashiersResponse
	if err := c.do(ctx, http.MethodGet, "/cashiers", nil, companyID, "", nil, &out); err != nil {
		return nil, err
	}
	return out.Cashiers, nil
}

// VerifyManagerPIN exchanges a manager PIN for a short-lived credential.
func (c *Client) VerifyManagerPIN(ctx context.Context, companyID, pin string) (*PINResponse, error) {
	var out PINResponse
	if err := c.do(ctx, http.MethodPost, "/auth/pin", nil, companyID, "", PINRequest{CompanyID: companyID, PIN: pin}, &out); err != nil {
		return nil, err
	}
	if !out.OK {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "manager pin rejected")
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, companyID, idempotencyKey string, body any, out any) error {
	if c == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "ledger client not configured")
	}

	var payload []byte
	if body != nil {
		var err error
		if raw, ok := body.(json.RawMessage); ok {
			payload = raw
		} else if payload, err = json.Marshal(body); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "marshal ledger request")
		}
	}

	resp, err := c.breaker.Execute(func() (*rawResponse, error) {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.buildURL(path, query), reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set(headerDeviceID, c.deviceID)
		req.Header.Set(headerDeviceToken, c.deviceToken)
		if companyID != "" {
			req.Header.Set(headerCompanyID, companyID)
		}
		if idempotencyKey != "" {
			req.Header.Set(headerIdempotency, idempotencyKey)
		}

		res, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer func() { _ = res.Body.Close() }()

		data, err := io.ReadAll(io.LimitReader(res.Body, responseBodyReadLimit))
		if err != nil {
			return nil, err
		}
		raw := &rawResponse{status: res.StatusCode, body: data}
		if isRetryableStatus(res.StatusCode) {
			return raw, errTransientHTTPStatus
		}
		return raw, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return pkgerrors.Wrap(pkgerrors.CodeNetwork, err, "ledger circuit open")
		case errors.Is(err, errTransientHTTPStatus) && resp != nil:
			return classifyStatus(resp.status, resp.body)
		default:
			return classifyTransport(ctx, err)
		}
	}

	if resp.status < 200 || resp.status >= 300 {
		return classifyStatus(resp.status, resp.body)
	}
	if out == nil {
		return nil
	}
	return c.decodeStrict(resp.body, out)
}

// decodeStrict treats any response shape other than the declared one as a
// hard failure.
func (c *Client) decodeStrict(data []byte, out any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unexpected ledger response shape")
	}
	if dec.More() {
		return pkgerrors.New(pkgerrors.CodeValidation, "unexpected trailing data in ledger response")
	}
	if err := c.validate.Struct(out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "ledger response failed validation")
	}
	return nil
}

func (c *Client) buildURL(path string, query url.Values) string {
	u := fmt.Sprintf("%s/%s", strings.TrimRight(c.baseURL, "/"), strings.TrimLeft(path, "/"))
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}
