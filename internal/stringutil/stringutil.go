// Package stringutil makes strings received from remote parties safe to print.
package stringutil

import (
	"strings"
	"unicode"
)

// Printable returns a new string with non-printable characters are replaced with Unicode replacement character.
func Printable(s string) string {
	return strings.Map(func(r rune) rune {
		if !unicode.IsPrint(r) {
			return unicode.ReplacementChar
		}
		return r
	}, s)
}
