package controllers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	checkoutsvc "github.com/angelmondragon/pos-register/internal/checkout"
)

type testReturnSubmitter struct {
	got checkoutsvc.ReturnRequest
	res checkoutsvc.ReturnResult
}

func (s *testReturnSubmitter) SubmitReturn(_ context.Context, req checkoutsvc.ReturnRequest) (checkoutsvc.ReturnResult, error) {
	s.got = req
	return s.res, nil
}

func TestSubmitReturnUsesHeaderKey(t *testing.T) {
	svc := &testReturnSubmitter{res: checkoutsvc.ReturnResult{EventID: uuid.New(), Settled: true}}
	body := `{"company_key":"official","invoice_id":"INV-1","lines":[{"company_key":"official","item_id":"item-1","uom":"each","qty_factor":"1","qty_entered":"1","base_qty":"1"}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/returns", strings.NewReader(body))
	req.Header.Set("Idempotency-Key", "abc")
	resp := httptest.NewRecorder()

	SubmitReturn(svc, testLogger())(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", resp.Code, resp.Body.String())
	}
	if svc.got.IdempotencyKey != "return:abc" {
		t.Fatalf("unexpected idempotency key %q", svc.got.IdempotencyKey)
	}
}

func TestSubmitReturnDeferred(t *testing.T) {
	svc := &testReturnSubmitter{res: checkoutsvc.ReturnResult{Settled: true, Deferred: true}}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/returns", strings.NewReader(`{"company_key":"official","invoice_id":"INV-1","lines":[]}`))
	resp := httptest.NewRecorder()

	SubmitReturn(svc, testLogger())(resp, req)

	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202 got %d", resp.Code)
	}
}
