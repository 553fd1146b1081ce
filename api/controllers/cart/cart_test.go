package cart

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/pos-register/internal/register"
	"github.com/angelmondragon/pos-register/pkg/enums"
	pkgerrors "github.com/angelmondragon/pos-register/pkg/errors"
	"github.com/angelmondragon/pos-register/pkg/logger"
)

type stubRegister struct {
	added   []register.AddItemInput
	qty     map[string]decimal.Decimal
	uom     map[string]string
	mode    enums.RoutingMode
	lockErr error
}

func newStubRegister() *stubRegister {
	return &stubRegister{qty: map[string]decimal.Decimal{}, uom: map[string]string{}}
}

func (s *stubRegister) View(context.Context) (register.View, error) {
	return register.View{Mode: s.mode}, nil
}

func (s *stubRegister) AddItem(_ context.Context, in register.AddItemInput) (register.View, error) {
	if s.lockErr != nil {
		return register.View{}, s.lockErr
	}
	s.added = append(s.added, in)
	return register.View{Companies: []string{in.CompanyKey}}, nil
}

func (s *stubRegister) UpdateQty(_ context.Context, lineID string, qty decimal.Decimal) (register.View, error) {
	s.qty[lineID] = qty
	return register.View{}, nil
}

func (s *stubRegister) UpdateUOM(_ context.Context, lineID, uom string) (register.View, error) {
	s.uom[lineID] = uom
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

func (s *stubRegister) SetMode(_ context.Context, mode enums.RoutingMode) (register.View, error) {
	s.mode = mode
	return register.View{Mode: mode}, nil
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

func withLineID(req *http.Request, lineID string) *http.Request {
	rc := chi.NewRouteContext()
	rc.URLParams.Add("lineId", lineID)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rc))
}

func errorCode(t *testing.T, body []byte) string {
	t.Helper()
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	return payload.Error.Code
}

func TestCartAddLineDefaultsQuantity(t *testing.T) {
	reg := newStubRegister()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/lines", strings.NewReader(`{"company_key":" official ","item_id":"item-1","uom":"box"}`))
	resp := httptest.NewRecorder()

	CartAddLine(reg, testLogger())(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", resp.Code, resp.Body.String())
	}
	if len(reg.added) != 1 {
		t.Fatalf("expected one add, got %d", len(reg.added))
	}
	got := reg.added[0]
	if got.CompanyKey != "official" || got.UOM != "box" {
		t.Fatalf("unexpected input %+v", got)
	}
	if !got.Qty.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("expected default qty 1 got %s", got.Qty)
	}
}

func TestCartAddLineRejectsMissingItem(t *testing.T) {
	reg := newStubRegister()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/lines", strings.NewReader(`{"company_key":"official"}`))
	resp := httptest.NewRecorder()

	CartAddLine(reg, testLogger())(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
	if len(reg.added) != 0 {
		t.Fatal("register should not be called")
	}
}

func TestCartAddLineWhilePaying(t *testing.T) {
	reg := newStubRegister()
	reg.lockErr = pkgerrors.New(pkgerrors.CodeConflict, "payment in progress")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/lines", strings.NewReader(`{"company_key":"official","item_id":"item-1","qty":"2"}`))
	resp := httptest.NewRecorder()

	CartAddLine(reg, testLogger())(resp, req)

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", resp.Code)
	}
	if code := errorCode(t, resp.Body.Bytes()); code != string(pkgerrors.CodeConflict) {
		t.Fatalf("unexpected code %s", code)
	}
}

func TestCartUpdateLineQty(t *testing.T) {
	reg := newStubRegister()
	req := withLineID(httptest.NewRequest(http.MethodPatch, "/api/v1/cart/lines/line-1", strings.NewReader(`{"qty":"3"}`)), "line-1")
	resp := httptest.NewRecorder()

	CartUpdateLine(reg, testLogger())(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	if !reg.qty["line-1"].Equal(decimal.NewFromInt(3)) {
		t.Fatalf("unexpected qty %s", reg.qty["line-1"])
	}
	if len(reg.uom) != 0 {
		t.Fatal("uom should not change")
	}
}

func TestCartUpdateLineUOM(t *testing.T) {
	reg := newStubRegister()
	req := withLineID(httptest.NewRequest(http.MethodPatch, "/api/v1/cart/lines/line-1", strings.NewReader(`{"uom":"box"}`)), "line-1")
	resp := httptest.NewRecorder()

	CartUpdateLine(reg, testLogger())(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if reg.uom["line-1"] != "box" {
		t.Fatalf("unexpected uom %q", reg.uom["line-1"])
	}
}

func TestCartUpdateLineNeedsExactlyOneChange(t *testing.T) {
	for _, body := range []string{`{}`, `{"qty":"1","uom":"box"}`} {
		reg := newStubRegister()
		req := withLineID(httptest.NewRequest(http.MethodPatch, "/api/v1/cart/lines/line-1", strings.NewReader(body)), "line-1")
		resp := httptest.NewRecorder()

		CartUpdateLine(reg, testLogger())(resp, req)

		if resp.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400 got %d", body, resp.Code)
		}
	}
}

func TestCartSetModeRejectsUnknownMode(t *testing.T) {
	reg := newStubRegister()
	req := httptest.NewRequest(http.MethodPut, "/api/v1/cart/mode", strings.NewReader(`{"mode":"sideways"}`))
	resp := httptest.NewRecorder()

	CartSetMode(reg, testLogger())(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
	if reg.mode != "" {
		t.Fatalf("mode should be untouched, got %s", reg.mode)
	}
}

func TestCartSetMode(t *testing.T) {
	reg := newStubRegister()
	req := httptest.NewRequest(http.MethodPut, "/api/v1/cart/mode", strings.NewReader(`{"mode":"flag"}`))
	resp := httptest.NewRecorder()

	CartSetMode(reg, testLogger())(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if reg.mode != enums.RoutingFlag {
		t.Fatalf("expected flag mode, got %s", reg.mode)
	}
}
