// Package enums holds the closed string sets stored in POS rows and accepted
// over HTTP.
package enums

import (
	"fmt"
	"slices"
	"strings"
)

func isMember[T ~string](set []T, v T) bool {
	return slices.Contains(set, v)
}

// parseMember is case and whitespace tolerant because values arrive from
// till UIs as typed labels.
func parseMember[T ~string](set []T, kind, value string) (T, error) {
	v := T(strings.ToLower(strings.TrimSpace(value)))
	if slices.Contains(set, v) {
		return v, nil
	}
	var zero T
	return zero, fmt.Errorf("invalid %s %q", kind, value)
}
