package dbtypes

import (
	"encoding/json"
	"testing"
)

func TestJSONTextScanAndValue(t *testing.T) {
	var j JSONText
	if err := j.Scan(`{"a":1}`); err != nil {
		t.Fatalf("scan string: %v", err)
	}
	v, err := j.Value()
	if err != nil {
		t.Fatalf("value: %v", err)
	}
	if v.(string) != `{"a":1}` {
		t.Fatalf("unexpected value %v", v)
	}

	if err := j.Scan([]byte(`[1,2]`)); err != nil {
		t.Fatalf("scan bytes: %v", err)
	}
	if string(j) != `[1,2]` {
		t.Fatalf("unexpected bytes %s", j)
	}

	if err := j.Scan(42); err == nil {
		t.Fatal("expected unsupported type error")
	}

	bad := JSONText(`{nope`)
	if _, err := bad.Value(); err == nil {
		t.Fatal("expected invalid json error")
	}
}

func TestJSONTextEmbedsInDocuments(t *testing.T) {
	doc := struct {
		Payload JSONText `json:"payload"`
	}{Payload: JSONText(`{"total":"10.00"}`)}
	out, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != `{"payload":{"total":"10.00"}}` {
		t.Fatalf("unexpected document %s", out)
	}
}
