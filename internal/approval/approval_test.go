package approval

import (
	"context"
	"testing"
	"time"

	"github.com/angelmondragon/pos-register/pkg/config"
	"github.com/angelmondragon/pos-register/pkg/enums"
	pkgerrors "github.com/angelmondragon/pos-register/pkg/errors"
	"github.com/angelmondragon/pos-register/pkg/ledger"
	"github.com/angelmondragon/pos-register/pkg/logger"
	"github.com/angelmondragon/pos-register/pkg/security"
)

type fakeVerifier struct {
	resp  *ledger.PINResponse
	err   error
	calls int
}

func (f *fakeVerifier) VerifyManagerPIN(context.Context, string, string) (*ledger.PINResponse, error) {
	f.calls++
	return f.resp, f.err
}

type flagSet map[string]bool

func (f flagSet) RequiresApprovalForSales(company string) bool { return f[company] }

var gateEpoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newTestGate(t *testing.T, verifier PINVerifier, pinHash string) (*Gate, *time.Time) {
	t.Helper()
	now := gateEpoch
	gate, err := NewGate(GateParams{
		Verifier: verifier,
		Config: config.ApprovalConfig{
			TTL:            5 * time.Minute,
			SigningKey:     "secret",
			Issuer:         "pos-register",
			ManagerPINHash: pinHash,
		},
		RegisterID: "reg-1",
		Logger:     logger.Nop(),
		Clock:      func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("new gate: %v", err)
	}
	return gate, &now
}

func TestGrantUsesConfiguredTTL(t *testing.T) {
	verifier := &fakeVerifier{resp: &ledger.PINResponse{OK: true, ManagerID: "mgr-1"}}
	gate, now := newTestGate(t, verifier, "")

	grant, err := gate.Grant(context.Background(), "official", "1234")
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	if !grant.GrantedUntil.Equal(gateEpoch.Add(5 * time.Minute)) {
		t.Fatalf("unexpected expiry %v", grant.GrantedUntil)
	}
	if grant.Offline {
		t.Fatal("online grant flagged offline")
	}

	if grant.Token == "" || grant.ManagerID != "mgr-1" {
		t.Fatalf("unexpected grant %+v", grant)
	}

	if !active(gate, "official", *now) {
		t.Fatal("expected approval to be active")
	}
	if active(gate, "official", gateEpoch.Add(5*time.Minute)) {
		t.Fatal("approval must expire at its ttl")
	}
	if active(gate, "official", *now) {
		t.Fatal("expired grant must be dropped")
	}
}

func TestGrantCappedAtRemoteExpiry(t *testing.T) {
	remoteExpiry := gateEpoch.Add(2 * time.Minute)
	verifier := &fakeVerifier{resp: &ledger.PINResponse{OK: true, ManagerID: "mgr-1", ExpiresAt: remoteExpiry}}
	gate, _ := newTestGate(t, verifier, "")

	grant, err := gate.Grant(context.Background(), "official", "1234")
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	if !grant.GrantedUntil.Equal(remoteExpiry) {
		t.Fatalf("expected grant capped at %v, got %v", remoteExpiry, grant.GrantedUntil)
	}
}

func TestGrantRejectedPIN(t *testing.T) {
	verifier := &fakeVerifier{err: pkgerrors.New(pkgerrors.CodeUnauthorized, "manager pin rejected")}
	gate, now := newTestGate(t, verifier, "")

	_, err := gate.Grant(context.Background(), "official", "1234")
	if pkgerrors.CodeOf(err) != pkgerrors.CodeUnauthorized {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if active(gate, "official", *now) {
		t.Fatal("rejected pin must not grant")
	}
}

func TestGrantMalformedPINSkipsLedger(t *testing.T) {
	verifier := &fakeVerifier{}
	gate, _ := newTestGate(t, verifier, "")

	if _, err := gate.Grant(context.Background(), "official", "12"); pkgerrors.CodeOf(err) != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if verifier.calls != 0 {
		t.Fatalf("ledger must not be called, got %d calls", verifier.calls)
	}
}

func TestGrantFallsBackToOfflineHash(t *testing.T) {
	hash, err := security.HashPIN("4821", config.PasswordConfig{ArgonMemoryKB: 8, ArgonTime: 1, ArgonParallelism: 1, ArgonSaltLen: 16, ArgonKeyLen: 32})
	if err != nil {
		t.Fatalf("hash pin: %v", err)
	}
	verifier := &fakeVerifier{err: pkgerrors.New(pkgerrors.CodeNetwork, "ledger unreachable")}
	gate, _ := newTestGate(t, verifier, hash)

	grant, err := gate.Grant(context.Background(), "official", "4821")
	if err != nil {
		t.Fatalf("offline grant: %v", err)
	}
	if !grant.Offline {
		t.Fatal("expected offline grant")
	}

	if _, err := gate.Grant(context.Background(), "unofficial", "9999"); pkgerrors.CodeOf(err) != pkgerrors.CodeUnauthorized {
		t.Fatalf("expected wrong offline pin to be rejected, got %v", err)
	}
}

func TestGrantWithoutOfflineHashSurfacesNetworkError(t *testing.T) {
	verifier := &fakeVerifier{err: pkgerrors.New(pkgerrors.CodeNetwork, "ledger unreachable")}
	gate, _ := newTestGate(t, verifier, "")

	if _, err := gate.Grant(context.Background(), "official", "1234"); !pkgerrors.IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestRevokeDropsGrant(t *testing.T) {
	verifier := &fakeVerifier{resp: &ledger.PINResponse{OK: true, ManagerID: "mgr-1"}}
	gate, now := newTestGate(t, verifier, "")
	if _, err := gate.Grant(context.Background(), "official", "1234"); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if active(gate, "unofficial", *now) {
		t.Fatal("grant must not cover another company")
	}

	gate.Revoke("official")
	if active(gate, "official", *now) {
		t.Fatal("revoked grant still active")
	}
}

func active(gate *Gate, company string, now time.Time) bool {
	_, ok := gate.Lookup(company, now)
	return ok
}

func TestPolicyRequires(t *testing.T) {
	policy := NewPolicy(flagSet{"unofficial": true}, []string{" official-b ", ""})

	cases := []struct {
		company string
		op      enums.ApprovalOperation
		want    bool
	}{
		{"official", enums.ApprovalSale, false},
		{"unofficial", enums.ApprovalSale, true},
		{"official-b", enums.ApprovalSale, true},
		{"official", enums.ApprovalCreditSale, true},
		{"official", enums.ApprovalCrossCompany, true},
		{"official", enums.ApprovalReturn, true},
		{"official", enums.ApprovalRequeue, true},
		{"official", "unknown", false},
	}
	for _, tc := range cases {
		if got := policy.Requires(tc.company, tc.op); got != tc.want {
			t.Fatalf("%s/%s: expected %v, got %v", tc.company, tc.op, tc.want, got)
		}
	}

	if NewPolicy(nil, nil).Requires("official", enums.ApprovalSale) {
		t.Fatal("nil flags must not require approval for plain sales")
	}
}
