// Package strutil holds string helpers shared by the ai packages.
package strutil

import (
	"encoding/json"
	"fmt"
)

// Truncate cuts s to at most maxLen runes and appends "..." when it cut.
// It returns "" when maxLen <= 0.
func Truncate(s string, maxLen int) string {
	if s == "" || maxLen <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}

// Preview renders v for logs and span attributes: strings as-is, everything
// else as compact JSON, then truncated to maxLen runes.
func Preview(v any, maxLen int) string {
	var s string
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		s = x
	case fmt.Stringer:
		s = x.String()
	default:
		b, err := json.Marshal(x)
		if err != nil {
			s = fmt.Sprint(x)
		} else {
			s = string(b)
		}
	}
	return Truncate(s, maxLen)
}
