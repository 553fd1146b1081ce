package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/pos-register/pkg/errors"
	pkgredis "github.com/angelmondragon/pos-register/pkg/redis"
)

const payPath = "/api/v1/checkout/pay"

func keyed(path, key, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	if key != "" {
		req.Header.Set(IdempotencyKeyHeader, key)
	}
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	return payload.Error.Code
}

func TestRouteWindowSelection(t *testing.T) {
	cases := map[string]struct {
		method string
		path   string
		window time.Duration
		ok     bool
	}{
		"pay":           {http.MethodPost, payPath, settlementReplayWindow, true},
		"return":        {http.MethodPost, "/api/v1/returns", settlementReplayWindow, true},
		"add line":      {http.MethodPost, "/api/v1/cart/lines", cartReplayWindow, true},
		"requeue":       {http.MethodPost, "/api/v1/outbox/official/dead/5b0c/requeue", cartReplayWindow, true},
		"cart sub path": {http.MethodPost, "/api/v1/cart/lines/extra", 0, false},
		"approval":      {http.MethodPost, "/api/v1/approvals", 0, false},
		"view":          {http.MethodGet, "/api/v1/cart", 0, false},
		"empty":         {http.MethodPost, "", 0, false},
	}
	for name, tc := range cases {
		window, ok := routeWindow(tc.method, tc.path)
		assert.Equal(t, tc.ok, ok, name)
		assert.Equal(t, tc.window, window, name)
	}
}

func TestIdempotencyRequiresKeyOnReplayRoutes(t *testing.T) {
	ran := false
	h := Idempotency(pkgredis.NewInMemory(), nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		ran = true
	}))

	rec := serve(h, keyed("/api/v1/returns", "", `{"receipt":"r-1"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, ran)

	// other routes pass without a key
	rec = serve(h, keyed("/api/v1/approvals", "", `{}`))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, ran)
}

func TestIdempotencyReplaysFirstAnswer(t *testing.T) {
	calls := 0
	h := Idempotency(pkgredis.NewInMemory(), nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))

	first := serve(h, keyed("/api/v1/returns", "abc", `{"receipt":"r-1"}`))
	require.Equal(t, http.StatusAccepted, first.Code)
	assert.Empty(t, first.Header().Get(IdempotentReplayHeader))

	again := serve(h, keyed("/api/v1/returns", "abc", `{"receipt":"r-1"}`))
	assert.Equal(t, http.StatusAccepted, again.Code)
	assert.Equal(t, "true", again.Header().Get(IdempotentReplayHeader))
	assert.Equal(t, "application/json", again.Header().Get("Content-Type"))
	assert.Equal(t, `{"ok":true}`, again.Body.String())
	assert.Equal(t, 1, calls)
}

func TestIdempotencyRejectsChangedBody(t *testing.T) {
	h := Idempotency(pkgredis.NewInMemory(), nil)(okHandler(http.StatusOK))

	serve(h, keyed("/api/v1/returns", "xyz", `{"receipt":"r-1"}`))
	rec := serve(h, keyed("/api/v1/returns", "xyz", `{"receipt":"r-2"}`))

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(pkgerrors.CodeIdempotency), errorCode(t, rec))
}

func TestIdempotencyForgetsServerErrors(t *testing.T) {
	store := pkgredis.NewInMemory()
	calls := 0
	h := Idempotency(store, nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	first := keyed(payPath, "pay-1", `{"payment_method":"cash"}`)
	assert.Equal(t, http.StatusServiceUnavailable, serve(h, first).Code)
	_, err := store.Get(first.Context(), store.IdempotencyKey(replayScope(first), "pay-1"))
	assert.Error(t, err, "a failed attempt must not be remembered")

	assert.Equal(t, http.StatusOK, serve(h, keyed(payPath, "pay-1", `{"payment_method":"cash"}`)).Code)
	assert.Equal(t, 2, calls)
}

func TestIdempotencyRejectsInFlightKey(t *testing.T) {
	store := pkgredis.NewInMemory()
	mw := Idempotency(store, nil)
	calls := 0
	var dup *httptest.ResponseRecorder
	var h http.Handler
	h = mw(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls == 1 {
			dup = serve(h, keyed(payPath, "pay-2", `{"payment_method":"cash"}`))
		}
		w.WriteHeader(http.StatusOK)
	}))

	serve(h, keyed(payPath, "pay-2", `{"payment_method":"cash"}`))

	assert.Equal(t, 1, calls)
	require.NotNil(t, dup)
	assert.Equal(t, http.StatusConflict, dup.Code)
	assert.Equal(t, string(pkgerrors.CodeConflict), errorCode(t, dup))
}
