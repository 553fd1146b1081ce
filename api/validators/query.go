package validators

import (
	"net/http"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/pos-register/pkg/errors"
)

// Bounds limits an integer query parameter; Default applies when it is absent.
type Bounds struct {
	Default int
	Min     int
	Max     int
}

var (
	ListLimit   = Bounds{Default: 50, Min: 1, Max: 500}
	NoticeLimit = Bounds{Default: 20, Min: 1, Max: 200}
)

// QueryInt reads key from the query string within b.
func QueryInt(r *http.Request, key string, b Bounds) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return b.Default, nil
	}
	n, err := strconv.Atoi(raw)
	switch {
	case err != nil:
		return 0, fieldError(key, "query parameter must be numeric", nil)
	case n < b.Min || n > b.Max:
		return 0, fieldError(key, "query parameter out of range", map[string]any{"min": b.Min, "max": b.Max})
	}
	return n, nil
}

// ParseUUID validates an id taken from the path or query.
func ParseUUID(raw, field string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, fieldError(field, "invalid identifier", nil)
	}
	return id, nil
}

// CleanKey trims scanner input, drops control characters and caps the result
// at limit bytes without splitting a rune.
func CleanKey(raw string, limit int) string {
	out := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, strings.TrimSpace(raw))
	if limit <= 0 || len(out) <= limit {
		return out
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(out[cut]) {
		cut--
	}
	return out[:cut]
}

func fieldError(field, msg string, extra map[string]any) error {
	details := map[string]any{"field": field}
	for k, v := range extra {
		details[k] = v
	}
	return pkgerrors.New(pkgerrors.CodeValidation, msg).WithDetails(details)
}
