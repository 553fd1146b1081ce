package dbtypes

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONText stores a JSON document in a TEXT column so the same schema works on
// SQLite and Postgres.
type JSONText []byte

func (j *JSONText) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*j = nil
		return nil
	case string:
		*j = append((*j)[:0], v...)
		return nil
	case []byte:
		*j = append((*j)[:0], v...)
		return nil
	default:
		return fmt.Errorf("JSONText: unsupported Scan type %T", src)
	}
}

func (j JSONText) Value() (driver.Value, error) {
	if len(j) == 0 {
		return "null", nil
	}
	if !json.Valid(j) {
		return nil, fmt.Errorf("JSONText: invalid json")
	}
	return string(j), nil
}

// MarshalJSON embeds the stored document as-is.
func (j JSONText) MarshalJSON() ([]byte, error) {
	if len(j) == 0 {
		return []byte("null"), nil
	}
	return j, nil
}

func (j *JSONText) UnmarshalJSON(data []byte) error {
	*j = append((*j)[:0], bytes.TrimSpace(data)...)
	return nil
}

// RawMessage returns the document as json.RawMessage.
func (j JSONText) RawMessage() json.RawMessage {
	return json.RawMessage(j)
}
