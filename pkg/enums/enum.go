package enums

import (
	"fmt"
	"slices"
	"strings"
)

func member[T ~string](set []T, v T) bool {
	return slices.Contains(set, v)
}

// parse matches raw against set after trimming; fold allows a
// case-insensitive match for values typed by people, such as currency codes.
func parse[T ~string](set []T, raw, kind string, fold bool) (T, error) {
	raw = strings.TrimSpace(raw)
	for _, candidate := range set {
		if string(candidate) == raw || (fold && strings.EqualFold(string(candidate), raw)) {
			return candidate, nil
		}
	}
	var zero T
	return zero, fmt.Errorf("invalid %s %q", kind, raw)
}
