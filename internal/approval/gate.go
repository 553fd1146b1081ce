package approval

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/angelmondragon/pos-register/pkg/auth"
	"github.com/angelmondragon/pos-register/pkg/config"
	pkgerrors "github.com/angelmondragon/pos-register/pkg/errors"
	"github.com/angelmondragon/pos-register/pkg/ledger"
	"github.com/angelmondragon/pos-register/pkg/logger"
	"github.com/angelmondragon/pos-register/pkg/security"
)

// PINVerifier checks a manager PIN with the ledger.
type PINVerifier interface {
	VerifyManagerPIN(ctx context.Context, companyID, pin string) (*ledger.PINResponse, error)
}

// Grant is an in-memory manager approval for one company.
type Grant struct {
	CompanyKey   string    `json:"company_key"`
	ManagerID    string    `json:"manager_id"`
	GrantedUntil time.Time `json:"granted_until"`
	Token        string    `json:"token"`
	Offline      bool      `json:"offline"`
}

// ActiveAt reports whether the grant still authorizes at now.
func (g Grant) ActiveAt(now time.Time) bool {
	return now.Before(g.GrantedUntil)
}

type GateParams struct {
	Verifier   PINVerifier
	Config     config.ApprovalConfig
	RegisterID string
	Logger     *logger.Logger
	Clock      func() time.Time
}

// Gate tracks manager approvals per company. Grants live only in memory and
// expire after the configured TTL.
type Gate struct {
	verifier   PINVerifier
	cfg        config.ApprovalConfig
	registerID string
	logg       *logger.Logger
	now        func() time.Time

	mu     sync.Mutex
	grants map[string]Grant
}

func NewGate(params GateParams) (*Gate, error) {
	if params.Verifier == nil {
		return nil, errors.New("pin verifier required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	if params.Config.TTL <= 0 {
		return nil, errors.New("approval ttl must be positive")
	}
	if params.Config.SigningKey == "" {
		return nil, errors.New("approval signing key required")
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Gate{
		verifier:   params.Verifier,
		cfg:        params.Config,
		registerID: params.RegisterID,
		logg:       params.Logger,
		now:        clock,
		grants:     make(map[string]Grant),
	}, nil
}

// Grant verifies the PIN and records an approval for the company. When the
// ledger is unreachable the locally cached PIN hash is consulted instead.
func (g *Gate) Grant(ctx context.Context, companyKey, pin string) (Grant, error) {
	companyKey = strings.TrimSpace(companyKey)
	if companyKey == "" {
		return Grant{}, pkgerrors.New(pkgerrors.CodeValidation, "company key is required")
	}
	if err := security.ValidatePIN(pin); err != nil {
		return Grant{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid manager pin")
	}
	ctx = g.logg.WithCompany(ctx, companyKey)
	now := g.now().UTC()
	until := now.Add(g.cfg.TTL)

	grant := Grant{CompanyKey: companyKey}
	resp, err := g.verifier.VerifyManagerPIN(ctx, companyKey, pin)
	switch {
	case err == nil:
		grant.ManagerID = resp.ManagerID
		if !resp.ExpiresAt.IsZero() && resp.ExpiresAt.Before(until) {
			until = resp.ExpiresAt.UTC()
		}
	case pkgerrors.IsTransient(err) && g.cfg.ManagerPINHash != "":
		ok, verr := security.VerifyPIN(pin, g.cfg.ManagerPINHash)
		if verr != nil {
			return Grant{}, pkgerrors.Wrap(pkgerrors.CodeInternal, verr, "offline pin hash unreadable")
		}
		if !ok {
			return Grant{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "manager pin rejected")
		}
		g.logg.Warn(ctx, "ledger unreachable; manager pin verified offline")
		grant.Offline = true
	default:
		return Grant{}, err
	}

	if !until.After(now) {
		return Grant{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "manager credential already expired")
	}
	grant.GrantedUntil = until

	token, err := auth.MintApprovalToken(g.cfg, now, until, auth.ApprovalPayload{
		CompanyKey: companyKey,
		ManagerID:  grant.ManagerID,
		RegisterID: g.registerID,
		Offline:    grant.Offline,
	})
	if err != nil {
		return Grant{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mint approval token")
	}
	grant.Token = token

	g.mu.Lock()
	g.grants[companyKey] = grant
	g.mu.Unlock()

	g.logg.Info(g.logg.WithFields(ctx, map[string]any{
		"manager_id":    grant.ManagerID,
		"granted_until": grant.GrantedUntil,
		"offline":       grant.Offline,
	}), "manager approval granted")
	return grant, nil
}

// Lookup returns the company's grant while it is active.
func (g *Gate) Lookup(companyKey string, now time.Time) (Grant, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	grant, ok := g.grants[companyKey]
	if !ok {
		return Grant{}, false
	}
	if !grant.ActiveAt(now) {
		delete(g.grants, companyKey)
		return Grant{}, false
	}
	return grant, true
}

// Revoke drops the company's grant.
func (g *Gate) Revoke(companyKey string) {
	g.mu.Lock()
	delete(g.grants, companyKey)
	g.mu.Unlock()
}
