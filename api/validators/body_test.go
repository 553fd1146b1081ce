package validators

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/pos-register/pkg/enums"
	pkgerrors "github.com/angelmondragon/pos-register/pkg/errors"
)

type sampleBody struct {
	Method enums.PaymentMethod `json:"method" validate:"required,enum"`
	Mode   enums.RoutingMode   `json:"mode" validate:"enum"`
	Qty    decimal.Decimal     `json:"qty" validate:"omitempty,positive"`
}

func decode(t *testing.T, body string) (sampleBody, error) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	var dest sampleBody
	err := DecodeJSONBody(req, &dest)
	return dest, err
}

func TestDecodeJSONBodyAcceptsKnownEnums(t *testing.T) {
	dest, err := decode(t, `{"method":"cash","qty":"2.5"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dest.Method != enums.PaymentMethodCash || !dest.Qty.Equal(decimal.RequireFromString("2.5")) {
		t.Fatalf("unexpected decode %+v", dest)
	}
}

func TestDecodeJSONBodyRejectsUnknownEnum(t *testing.T) {
	_, err := decode(t, `{"method":"barter"}`)
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	details, ok := typed.Details().(map[string]string)
	if !ok || details["method"] != "is not a known value" {
		t.Fatalf("unexpected details %#v", typed.Details())
	}
}

func TestDecodeJSONBodyRejectsNegativeQty(t *testing.T) {
	if _, err := decode(t, `{"method":"cash","qty":"-1"}`); pkgerrors.CodeOf(err) != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestDecodeJSONBodyRejectsUnknownFields(t *testing.T) {
	if _, err := decode(t, `{"method":"cash","tip":"1"}`); pkgerrors.CodeOf(err) != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCleanKey(t *testing.T) {
	cases := map[string]struct {
		raw   string
		limit int
		want  string
	}{
		"trims and caps":      {raw: "  SKU-1234  ", limit: 5, want: "SKU-1"},
		"drops control chars": {raw: "SKU\t-9\x00", limit: 0, want: "SKU-9"},
		"keeps runes whole":   {raw: "caf\u00e9", limit: 4, want: "caf"},
	}
	for name, tc := range cases {
		if got := CleanKey(tc.raw, tc.limit); got != tc.want {
			t.Fatalf("%s: got %q want %q", name, got, tc.want)
		}
	}
}

func TestQueryIntBounds(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=900", nil)
	if _, err := QueryInt(req, "limit", ListLimit); pkgerrors.CodeOf(err) != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	if n, err := QueryInt(req, "limit", NoticeLimit); err != nil || n != NoticeLimit.Default {
		t.Fatalf("expected default, got %d %v", n, err)
	}
}
