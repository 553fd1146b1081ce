package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/pos-register/pkg/config"
)

var (
	jwtSigningMethod = jwt.SigningMethodHS256

	errNoSigningKey = errors.New("approval signing key is required")
)

// MintApprovalToken signs a manager approval valid from now until expiresAt.
func MintApprovalToken(cfg config.ApprovalConfig, now, expiresAt time.Time, payload ApprovalPayload) (string, error) {
	if err := validateMint(cfg, now, expiresAt, payload); err != nil {
		return "", err
	}

	jti := strings.TrimSpace(payload.JTI)
	if jti == "" {
		jti = uuid.NewString()
	}
	claims := ApprovalClaims{
		CompanyKey: payload.CompanyKey,
		ManagerID:  payload.ManagerID,
		RegisterID: payload.RegisterID,
		Offline:    payload.Offline,
		Operations: payload.Operations,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			Subject:   payload.ManagerID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        jti,
		},
	}

	signed, err := jwt.NewWithClaims(jwtSigningMethod, claims).SignedString([]byte(cfg.SigningKey))
	if err != nil {
		return "", fmt.Errorf("signing approval: %w", err)
	}
	return signed, nil
}

func validateMint(cfg config.ApprovalConfig, now, expiresAt time.Time, payload ApprovalPayload) error {
	switch {
	case cfg.SigningKey == "":
		return errNoSigningKey
	case cfg.Issuer == "":
		return errors.New("approval issuer is required")
	case strings.TrimSpace(payload.CompanyKey) == "":
		return errors.New("company key is required")
	case !expiresAt.After(now):
		return errors.New("approval expiry must be after issue time")
	}
	for _, op := range payload.Operations {
		if !op.IsValid() {
			return fmt.Errorf("invalid approval operation %q", op)
		}
	}
	return nil
}

// ParseApprovalToken verifies signature, issuer and expiry. The "Bearer "
// prefix some clients send is tolerated.
func ParseApprovalToken(cfg config.ApprovalConfig, raw string) (*ApprovalClaims, error) {
	if cfg.SigningKey == "" {
		return nil, errNoSigningKey
	}
	raw = strings.TrimSpace(raw)
	if len(raw) > 7 && strings.EqualFold(raw[:7], "bearer ") {
		raw = strings.TrimSpace(raw[7:])
	}

	claims := &ApprovalClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, signingKey(cfg),
		jwt.WithValidMethods([]string{jwtSigningMethod.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

func signingKey(cfg config.ApprovalConfig) jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		if token.Method != jwtSigningMethod {
			return nil, fmt.Errorf("unexpected signing method %s", token.Header["alg"])
		}
		return []byte(cfg.SigningKey), nil
	}
}
