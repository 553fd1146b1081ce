package middleware

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/pos-register/api/responses"
	pkgerrors "github.com/angelmondragon/pos-register/pkg/errors"
	"github.com/angelmondragon/pos-register/pkg/logger"
	pkgredis "github.com/angelmondragon/pos-register/pkg/redis"
)

const (
	IdempotencyKeyHeader   = "Idempotency-Key"
	IdempotentReplayHeader = "Idempotent-Replayed"
	cartReplayWindow       = 24 * time.Hour
	settlementReplayWindow = 7 * 24 * time.Hour
	pendingReservationTTL  = 2 * time.Minute
	replayStatePending     = "pending"
	replayStateComplete    = "complete"
)

// replayRoute names a mutating endpoint whose responses are remembered per key.
type replayRoute struct {
	method string
	prefix string
	suffix string
	window time.Duration
}

// Settlement answers are kept for a week; cart edits for a day.
var replayRoutes = []replayRoute{
	{method: http.MethodPost, prefix: "/api/v1/cart/lines", window: cartReplayWindow},
	{method: http.MethodPost, prefix: "/api/v1/outbox/", suffix: "/requeue", window: cartReplayWindow},
	{method: http.MethodPost, prefix: "/api/v1/checkout/pay", window: settlementReplayWindow},
	{method: http.MethodPost, prefix: "/api/v1/returns", window: settlementReplayWindow},
}

type replayEntry struct {
	State       string `json:"state"`
	BodyDigest  string `json:"body_digest"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

// Idempotency replays the first answer given to an Idempotency-Key on the
// settlement and cart routes. A key is reserved while its request runs so a
// double-tapped pay button cannot reach the checkout twice.
func Idempotency(store pkgredis.IdempotencyStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			window, ok := replayWindow(r)
			if !ok || store == nil {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()

			clientKey := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
			if clientKey == "" {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header required"))
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			digest := bodyDigest(body)
			key := store.IdempotencyKey(replayScope(r), clientKey)

			pending, _ := json.Marshal(replayEntry{State: replayStatePending, BodyDigest: digest})
			reserved, err := store.SetNX(ctx, key, string(pending), pendingReservationTTL)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reserve idempotency key"))
				return
			}
			if !reserved {
				replayExisting(w, r, store, key, digest, logg)
				return
			}

			capture := &replayCapture{ResponseWriter: w}
			next.ServeHTTP(capture, r)

			if err := store.Del(ctx, key); err != nil {
				logReplayFailure(logg, r, "release idempotency key", err)
				return
			}
			status := capture.statusCode()
			// server failures stay retryable under the same key
			if status >= http.StatusInternalServerError {
				return
			}

			done, err := json.Marshal(replayEntry{
				State:       replayStateComplete,
				BodyDigest:  digest,
				Status:      status,
				ContentType: capture.Header().Get("Content-Type"),
				Body:        capture.body.Bytes(),
			})
			if err != nil {
				logReplayFailure(logg, r, "encode idempotency record", err)
				return
			}
			if _, err := store.SetNX(ctx, key, string(done), window); err != nil {
				logReplayFailure(logg, r, "persist idempotency record", err)
			}
		})
	}
}

func replayExisting(w http.ResponseWriter, r *http.Request, store pkgredis.IdempotencyStore, key, digest string, logg *logger.Logger) {
	ctx := r.Context()
	raw, err := store.Get(ctx, key)
	if errors.Is(err, redis.Nil) {
		// the reservation expired between SETNX and GET
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConflict, "request with this idempotency key is still in flight"))
		return
	}
	if err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load idempotency record"))
		return
	}

	var entry replayEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode idempotency record"))
		return
	}
	if entry.BodyDigest != digest {
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body"))
		return
	}
	if entry.State != replayStateComplete {
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConflict, "request with this idempotency key is still in flight"))
		return
	}

	if entry.ContentType != "" {
		w.Header().Set("Content-Type", entry.ContentType)
	}
	w.Header().Set(IdempotentReplayHeader, "true")
	w.WriteHeader(entry.Status)
	_, _ = w.Write(entry.Body)
}

// replayScope keeps keys from different cashiers and endpoints apart.
func replayScope(r *http.Request) string {
	return strings.Join([]string{CashierIDFromContext(r.Context()), r.Method, requestPath(r)}, "|")
}

func bodyDigest(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// requestPath matches on the raw path: middleware mounted on a parent router
// runs before chi has resolved the full route pattern.
func requestPath(r *http.Request) string {
	if r == nil || r.URL == nil {
		return ""
	}
	return strings.TrimSuffix(r.URL.Path, "/")
}

func replayWindow(r *http.Request) (time.Duration, bool) {
	return routeWindow(r.Method, requestPath(r))
}

func routeWindow(method, path string) (time.Duration, bool) {
	if path == "" {
		return 0, false
	}
	for _, route := range replayRoutes {
		if route.method != method {
			continue
		}
		if route.suffix == "" {
			if path == route.prefix {
				return route.window, true
			}
			continue
		}
		if strings.HasPrefix(path, route.prefix) && strings.HasSuffix(path, route.suffix) {
			return route.window, true
		}
	}
	return 0, false
}

type replayCapture struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (c *replayCapture) WriteHeader(code int) {
	if c.status == 0 {
		c.status = code
	}
	c.ResponseWriter.WriteHeader(code)
}

func (c *replayCapture) Write(b []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}

func (c *replayCapture) statusCode() int {
	if c.status == 0 {
		return http.StatusOK
	}
	return c.status
}

func logReplayFailure(logg *logger.Logger, r *http.Request, msg string, err error) {
	if logg == nil || err == nil {
		return
	}
	ctx := logg.WithFields(r.Context(), map[string]any{"path": requestPath(r)})
	logg.Error(ctx, msg, err)
}
