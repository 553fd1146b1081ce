package security_test

import (
	"errors"
	"testing"

	"github.com/angelmondragon/pos-register/pkg/config"
	"github.com/angelmondragon/pos-register/pkg/security"
)

func testPasswordConfig() config.PasswordConfig {
	return config.PasswordConfig{
		ArgonMemoryKB:    32768,
		ArgonTime:        1,
		ArgonParallelism: 1,
		ArgonSaltLen:     16,
		ArgonKeyLen:      32,
	}
}

func TestHashAndVerifyPIN(t *testing.T) {
	hash, err := security.HashPIN("4821", testPasswordConfig())
	if err != nil {
		t.Fatalf("HashPIN returned error: %v", err)
	}
	if hash == "" {
		t.Fatal("HashPIN returned empty string")
	}

	ok, err := security.VerifyPIN("4821", hash)
	if err != nil {
		t.Fatalf("VerifyPIN returned error for valid hash: %v", err)
	}
	if !ok {
		t.Fatal("VerifyPIN failed for the correct pin")
	}

	ok, err = security.VerifyPIN("4822", hash)
	if err != nil {
		t.Fatalf("VerifyPIN returned error for wrong pin: %v", err)
	}
	if ok {
		t.Fatal("VerifyPIN returned true for incorrect pin")
	}

	if ok, _ := security.VerifyPIN("48x1", hash); ok {
		t.Fatal("malformed pin must never match")
	}
}

func TestHashPINRejectsMalformed(t *testing.T) {
	for _, pin := range []string{"", "123", "123456789", "12a4"} {
		if _, err := security.HashPIN(pin, testPasswordConfig()); !errors.Is(err, security.ErrInvalidPIN) {
			t.Fatalf("pin %q: expected ErrInvalidPIN, got %v", pin, err)
		}
	}
}

func TestVerifyPINBadHash(t *testing.T) {
	if _, err := security.VerifyPIN("1234", "not-a-hash"); !errors.Is(err, security.ErrInvalidHash) {
		t.Fatalf("expected ErrInvalidHash, got %v", err)
	}
}
