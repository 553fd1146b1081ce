package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAllowedOriginsDevOnly(t *testing.T) {
	prod := allowedOrigins(nil, false)
	for _, o := range prod {
		if o == "http://localhost:5173" {
			t.Fatalf("dev origin leaked into production list")
		}
	}
	dev := allowedOrigins([]string{" https://store.example.com/ ", "app://pos-register", ""}, true)
	want := len(bundledOrigins) + len(devOrigins) + 1
	if len(dev) != want {
		t.Fatalf("expected %d origins got %v", want, dev)
	}
	if dev[len(dev)-1] != "https://store.example.com" {
		t.Fatalf("expected trimmed extra origin last, got %v", dev)
	}
}

func TestCORSPreflightAllowsIdempotencyKey(t *testing.T) {
	handler := CORS(nil, false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/checkout/pay", nil)
	req.Header.Set("Origin", "app://pos-register")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", IdempotencyKeyHeader)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if got := resp.Header().Get("Access-Control-Allow-Origin"); got != "app://pos-register" {
		t.Fatalf("expected origin echoed, got %q", got)
	}
}
