package db

import (
	"strings"

	pkgerrors "github.com/angelmondragon/pos-register/pkg/errors"
)

// IsUniqueViolation reports a unique-constraint failure. With a constraint
// name the failure must also mention that constraint. Errors that lost their
// driver type fall back to message matching.
func IsUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}
	if store, ok := pkgerrors.StoreErrorOf(err); ok {
		if !store.UniqueViolation() {
			return false
		}
		if constraintName == "" {
			return true
		}
		return store.Constraint == constraintName || strings.Contains(store.Message, constraintName)
	}

	msg := err.Error()
	if !strings.Contains(msg, "duplicate key value") && !strings.Contains(msg, "UNIQUE constraint failed") {
		return false
	}
	return constraintName == "" || strings.Contains(msg, constraintName)
}

// IsBusy reports sqlite lock contention.
func IsBusy(err error) bool {
	store, ok := pkgerrors.StoreErrorOf(err)
	return ok && store.Busy()
}
