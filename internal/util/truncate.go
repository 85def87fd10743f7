// Package util holds small string helpers shared by the sync pipeline.
package util

import (
	"fmt"
	"unicode/utf8"
)

// Truncate shortens s to at most maxLen bytes without splitting a UTF-8
// sequence, and notes the original length.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + fmt.Sprintf("... [truncated, %d bytes total]", len(s))
}
