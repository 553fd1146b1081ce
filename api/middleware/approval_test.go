package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/pos-register/pkg/auth"
	"github.com/angelmondragon/pos-register/pkg/config"
	"github.com/angelmondragon/pos-register/pkg/enums"
)

func testApprovalConfig() config.ApprovalConfig {
	return config.ApprovalConfig{TTL: 5 * time.Minute, SigningKey: "secret", Issuer: "pos-register"}
}

func withCompanyParam(req *http.Request, company string) *http.Request {
	rc := chi.NewRouteContext()
	rc.URLParams.Add("companyKey", company)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rc))
}

func mintTestApproval(t *testing.T, cfg config.ApprovalConfig, company, manager string) string {
	t.Helper()
	now := time.Now()
	token, err := auth.MintApprovalToken(cfg, now, now.Add(time.Minute), auth.ApprovalPayload{
		CompanyKey: company,
		ManagerID:  manager,
		RegisterID: "register-1",
	})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token
}

func TestRequireApprovalRejectsMissingToken(t *testing.T) {
	handler := RequireApproval(testApprovalConfig(), "companyKey", enums.ApprovalRequeue, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := withCompanyParam(httptest.NewRequest(http.MethodPost, "/", nil), "official")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", resp.Code)
	}
}

func TestRequireApprovalRejectsInvalidToken(t *testing.T) {
	handler := RequireApproval(testApprovalConfig(), "companyKey", enums.ApprovalRequeue, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := withCompanyParam(httptest.NewRequest(http.MethodPost, "/", nil), "official")
	req.Header.Set(ApprovalTokenHeader, "Bearer invalid")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestRequireApprovalRejectsOtherCompany(t *testing.T) {
	cfg := testApprovalConfig()
	handler := RequireApproval(cfg, "companyKey", enums.ApprovalRequeue, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := withCompanyParam(httptest.NewRequest(http.MethodPost, "/", nil), "unofficial")
	req.Header.Set(ApprovalTokenHeader, mintTestApproval(t, cfg, "official", "mgr-1"))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", resp.Code)
	}
}

func TestRequireApprovalSeedsManager(t *testing.T) {
	cfg := testApprovalConfig()
	var got string
	handler := RequireApproval(cfg, "companyKey", enums.ApprovalRequeue, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = ManagerIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := withCompanyParam(httptest.NewRequest(http.MethodPost, "/", nil), "official")
	req.Header.Set(ApprovalTokenHeader, mintTestApproval(t, cfg, "official", "mgr-1"))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if got != "mgr-1" {
		t.Fatalf("expected manager mgr-1 got %q", got)
	}
}

func TestRequireApprovalNamesOfflineManager(t *testing.T) {
	cfg := testApprovalConfig()
	var got string
	handler := RequireApproval(cfg, "", enums.ApprovalRequeue, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = ManagerIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set(ApprovalTokenHeader, mintTestApproval(t, cfg, "official", ""))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if got != offlineManager {
		t.Fatalf("expected offline manager got %q", got)
	}
}

func TestRequireApprovalChecksOperation(t *testing.T) {
	cfg := testApprovalConfig()
	now := time.Now()
	token, err := auth.MintApprovalToken(cfg, now, now.Add(time.Minute), auth.ApprovalPayload{
		CompanyKey: "official",
		ManagerID:  "mgr-1",
		Operations: []enums.ApprovalOperation{enums.ApprovalCreditSale},
	})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	handler := RequireApproval(cfg, "companyKey", enums.ApprovalRequeue, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := withCompanyParam(httptest.NewRequest(http.MethodPost, "/", nil), "official")
	req.Header.Set(ApprovalTokenHeader, token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for an uncovered operation got %d", resp.Code)
	}
}
