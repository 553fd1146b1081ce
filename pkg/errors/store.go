package errors

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	pgUniqueViolation = "23505"
)

// StoreError is the driver-level detail behind a failed database call. A
// register runs on sqlite; the ledger mirror and tests may run on postgres
// through either pgx or lib/pq.
type StoreError struct {
	Driver       string `json:"driver"`
	Code         string `json:"code"`
	ExtendedCode int    `json:"extended_code,omitempty"`
	Constraint   string `json:"constraint,omitempty"`
	Table        string `json:"table,omitempty"`
	Detail       string `json:"detail,omitempty"`
	Message      string `json:"message,omitempty"`
}

// StoreErrorOf digs the first driver error out of err's chain.
func StoreErrorOf(err error) (StoreError, bool) {
	if err == nil {
		return StoreError{}, false
	}

	var lite sqlite3.Error
	if errors.As(err, &lite) {
		return StoreError{
			Driver:       DriverSQLite,
			Code:         fmt.Sprint(int(lite.Code)),
			ExtendedCode: int(lite.ExtendedCode),
			Message:      lite.Error(),
		}, true
	}

	var pgx *pgconn.PgError
	if errors.As(err, &pgx) {
		return StoreError{
			Driver:     DriverPostgres,
			Code:       pgx.Code,
			Constraint: pgx.ConstraintName,
			Table:      pgx.TableName,
			Detail:     pgx.Detail,
			Message:    pgx.Message,
		}, true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return StoreError{
			Driver:     DriverPostgres,
			Code:       string(pqErr.Code),
			Constraint: pqErr.Constraint,
			Table:      pqErr.Table,
			Detail:     pqErr.Detail,
			Message:    pqErr.Message,
		}, true
	}
	return StoreError{}, false
}

// UniqueViolation reports a unique-constraint failure on either driver.
func (s StoreError) UniqueViolation() bool {
	switch s.Driver {
	case DriverSQLite:
		return s.ExtendedCode == int(sqlite3.ErrConstraintUnique) ||
			s.ExtendedCode == int(sqlite3.ErrConstraintPrimaryKey)
	case DriverPostgres:
		return s.Code == pgUniqueViolation
	}
	return false
}

// Busy reports sqlite lock contention, which clears on retry.
func (s StoreError) Busy() bool {
	return s.Driver == DriverSQLite && (s.Code == fmt.Sprint(int(sqlite3.ErrBusy)) || s.Code == fmt.Sprint(int(sqlite3.ErrLocked)))
}

// ErrorDump is the log-friendly view of an error chain.
type ErrorDump struct {
	TopMessage string      `json:"top_message"`
	Code       Code        `json:"code,omitempty"`
	Chain      []string    `json:"chain,omitempty"`
	Store      *StoreError `json:"store,omitempty"`
}

func Dump(err error) ErrorDump {
	if err == nil {
		return ErrorDump{}
	}
	d := ErrorDump{TopMessage: err.Error()}
	if typed := As(err); typed != nil {
		d.Code = typed.Code()
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T: %v", e, e))
	}
	if store, ok := StoreErrorOf(err); ok {
		d.Store = &store
	}
	return d
}

// Fields flattens the dump into structured log fields.
func (d ErrorDump) Fields() map[string]any {
	fields := map[string]any{
		"error":       d.TopMessage,
		"error_chain": d.Chain,
	}
	if d.Code != "" {
		fields["error_code"] = d.Code
	}
	if d.Store != nil {
		fields["db_driver"] = d.Store.Driver
		fields["db_code"] = d.Store.Code
		if d.Store.Constraint != "" {
			fields["db_constraint"] = d.Store.Constraint
		}
		if d.Store.Detail != "" {
			fields["db_detail"] = d.Store.Detail
		}
	}
	return fields
}
