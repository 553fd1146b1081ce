package security

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"

	"github.com/angelmondragon/pos-register/pkg/config"
)

const (
	argonPrefix  = "$argon2id$"
	minPINDigits = 4
	maxPINDigits = 8
)

var (
	// ErrInvalidHash signals a stored PIN hash that is not argon2id.
	ErrInvalidHash = errors.New("invalid argon2id hash")
	// ErrInvalidPIN signals a PIN that is not 4 to 8 digits.
	ErrInvalidPIN = errors.New("manager pin must be 4 to 8 digits")
)

// ArgonParams are the cost settings embedded in every hash string.
type ArgonParams struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLen     uint32
	KeyLen      uint32
}

func (p ArgonParams) key(pin string, salt []byte) []byte {
	return argon2.IDKey([]byte(pin), salt, p.Time, p.Memory, p.Parallelism, p.KeyLen)
}

func ValidatePIN(pin string) error {
	if len(pin) < minPINDigits || len(pin) > maxPINDigits {
		return ErrInvalidPIN
	}
	if strings.IndexFunc(pin, func(r rune) bool { return r < '0' || r > '9' }) >= 0 {
		return ErrInvalidPIN
	}
	return nil
}

// HashPIN hashes a manager PIN for offline approval. The result goes into
// POS_APPROVAL_MANAGER_PIN_HASH.
func HashPIN(pin string, cfg config.PasswordConfig) (string, error) {
	if err := ValidatePIN(pin); err != nil {
		return "", err
	}
	params := paramsFromConfig(cfg)
	salt := make([]byte, params.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	return encodeHash(params, salt, params.key(pin, salt)), nil
}

// VerifyPIN reports whether pin matches encoded. A malformed PIN never
// matches; a malformed hash is an error.
func VerifyPIN(pin, encoded string) (bool, error) {
	params, salt, want, err := decodeHash(encoded)
	if err != nil {
		return false, err
	}
	if ValidatePIN(pin) != nil {
		return false, nil
	}
	return subtle.ConstantTimeCompare(want, params.key(pin, salt)) == 1, nil
}

func paramsFromConfig(cfg config.PasswordConfig) ArgonParams {
	return ArgonParams{
		Memory:      clamp(cfg.ArgonMemoryKB, 8, 512*1024),
		Time:        clamp(cfg.ArgonTime, 1, 10),
		Parallelism: uint8(clamp(cfg.ArgonParallelism, 1, 255)),
		SaltLen:     clamp(cfg.ArgonSaltLen, 8, 64),
		KeyLen:      clamp(cfg.ArgonKeyLen, 16, 64),
	}
}

func encodeHash(p ArgonParams, salt, key []byte) string {
	return fmt.Sprintf("%sv=%d$m=%d,t=%d,p=%d$%s$%s",
		argonPrefix, argon2.Version, p.Memory, p.Time, p.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key))
}

// decodeHash reads "$argon2id$v=19$m=..,t=..,p=..$salt$key".
func decodeHash(encoded string) (ArgonParams, []byte, []byte, error) {
	rest, ok := strings.CutPrefix(encoded, argonPrefix)
	if !ok {
		return ArgonParams{}, nil, nil, ErrInvalidHash
	}
	fields := strings.Split(rest, "$")
	if len(fields) != 4 {
		return ArgonParams{}, nil, nil, ErrInvalidHash
	}

	var version int
	if _, err := fmt.Sscanf(fields[0], "v=%d", &version); err != nil || version != argon2.Version {
		return ArgonParams{}, nil, nil, ErrInvalidHash
	}
	var p ArgonParams
	if _, err := fmt.Sscanf(fields[1], "m=%d,t=%d,p=%d", &p.Memory, &p.Time, &p.Parallelism); err != nil {
		return ArgonParams{}, nil, nil, ErrInvalidHash
	}

	salt, err := base64.RawStdEncoding.DecodeString(fields[2])
	if err != nil {
		return ArgonParams{}, nil, nil, ErrInvalidHash
	}
	key, err := base64.RawStdEncoding.DecodeString(fields[3])
	if err != nil || len(key) == 0 {
		return ArgonParams{}, nil, nil, ErrInvalidHash
	}
	p.SaltLen = uint32(len(salt))
	p.KeyLen = uint32(len(key))
	return p, salt, key, nil
}

func clamp(value, lo, hi int) uint32 {
	return uint32(min(max(value, lo), hi))
}
