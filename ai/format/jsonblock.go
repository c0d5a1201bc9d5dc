// Package format turns untrusted model output into JSON fragments and
// renders domain records into prompt text.
package format

import (
	"encoding/json"
	"strings"
)

// ExtractJSONBlocks returns every top-level {...} or [...] block in text,
// in order of appearance. Brackets inside JSON strings are ignored and
// unbalanced fragments are dropped.
func ExtractJSONBlocks(text string) []string {
	var (
		blocks   []string
		stack    []byte
		start    = -1
		inString bool
		escaped  bool
	)

	for i := 0; i < len(text); i++ {
		c := text[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			if len(stack) > 0 {
				inString = true
			}
		case '{', '[':
			if len(stack) == 0 {
				start = i
			}
			stack = append(stack, c)
		case '}', ']':
			if len(stack) == 0 {
				continue
			}
			open := stack[len(stack)-1]
			if (c == '}' && open != '{') || (c == ']' && open != '[') {
				// Mismatched close: abandon the current block.
				stack = stack[:0]
				start = -1
				continue
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 && start >= 0 {
				blocks = append(blocks, text[start:i+1])
				start = -1
			}
		}
	}
	return blocks
}

// DecodeFirst decodes the first block of text that unmarshals into v.
// It returns false when no block decodes.
func DecodeFirst(text string, v any) bool {
	for _, block := range ExtractJSONBlocks(stripFences(text)) {
		if err := json.Unmarshal([]byte(block), v); err == nil {
			return true
		}
	}
	return false
}

// stripFences removes markdown code fences models like to wrap JSON in.
func stripFences(text string) string {
	if !strings.Contains(text, "```") {
		return text
	}
	text = strings.ReplaceAll(text, "```json", "")
	return strings.ReplaceAll(text, "```", "")
}
