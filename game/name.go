package game

import (
	"fmt"
	"strings"
)

const MaxNameLength = 3

// SanitizeName uppercases name, drops everything outside A-Z and truncates
// to three letters.
func SanitizeName(name string) (string, error) {
	var b strings.Builder
	for _, r := range strings.ToUpper(name) {
		if r < 'A' || r > 'Z' {
			continue
		}
		b.WriteRune(r)
		if b.Len() == MaxNameLength {
			break
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("%w: must contain at least one letter", ErrInvalidName)
	}
	return b.String(), nil
}
