// Package filter detects internal database identifiers leaking into
// user-facing text produced by agents.
package filter

import (
	"regexp"
	"sort"
	"strings"
	"sync"
)

// Kind identifies the shape of a leaked identifier.
type Kind int

const (
	// FieldName matches a raw column name such as "product_id".
	FieldName Kind = iota

	// KeyValue matches an identifier assignment such as "review_id: 1423" or "variant id 7".
	KeyValue

	// HashRef matches hash references such as "#1423" or "ID-77".
	HashRef
)

func (k Kind) String() string {
	switch k {
	case FieldName:
		return "field_name"
	case KeyValue:
		return "key_value"
	case HashRef:
		return "hash_ref"
	default:
		return "unknown"
	}
}

var (
	fieldNamePattern = sync.OnceValue(func() *regexp.Regexp {
		return regexp.MustCompile(`(?i)\b(?:product|variant|review|user|order|sku|customer|feature)_ids?\b`)
	})

	keyValuePattern = sync.OnceValue(func() *regexp.Regexp {
		return regexp.MustCompile(`(?i)\b(?:product|variant|review|user|order|sku|customer|feature)[ _-]?ids?\s*[:=#]?\s*\[?\s*\d+`)
	})

	hashRefPattern = sync.OnceValue(func() *regexp.Regexp {
		return regexp.MustCompile(`(?i)(?:\bid[-:# ]\s*\d{2,}\b|#\d{3,}\b)`)
	})

	// keyPattern matches JSON object keys that name an identifier.
	keyPattern = sync.OnceValue(func() *regexp.Regexp {
		return regexp.MustCompile(`^(?:[iI][dD]|[a-z]+_[iI][dD]|[a-z]+Id)$`)
	})
)

// Match represents a single identifier found in text.
type Match struct {
	Kind  Kind
	Start int
	End   int
	Text  string
}

// FindMatches returns all identifier matches in text ordered by position.
// Overlapping matches keep the widest span.
func FindMatches(text string) []Match {
	var matches []Match
	for kind, re := range map[Kind]*regexp.Regexp{
		FieldName: fieldNamePattern(),
		KeyValue:  keyValuePattern(),
		HashRef:   hashRefPattern(),
	} {
		for _, loc := range re.FindAllStringIndex(text, -1) {
			matches = append(matches, Match{Kind: kind, Start: loc[0], End: loc[1], Text: text[loc[0]:loc[1]]})
		}
	}
	if len(matches) == 0 {
		return nil
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Start != matches[j].Start {
			return matches[i].Start < matches[j].Start
		}
		return matches[i].End > matches[j].End
	})

	merged := matches[:1]
	for _, m := range matches[1:] {
		last := &merged[len(merged)-1]
		if m.Start < last.End {
			if m.End > last.End {
				last.End = m.End
				last.Text = text[last.Start:last.End]
			}
			continue
		}
		merged = append(merged, m)
	}
	return merged
}

// Contains reports whether text carries any internal identifier.
func Contains(text string) bool {
	return fieldNamePattern().MatchString(text) ||
		keyValuePattern().MatchString(text) ||
		hashRefPattern().MatchString(text)
}

// IsIdentifierKey reports whether a JSON object key names an identifier.
func IsIdentifierKey(key string) bool {
	return keyPattern().MatchString(key)
}

// Redact removes identifier matches from text and tidies leftover whitespace.
func Redact(text string) string {
	matches := FindMatches(text)
	if len(matches) == 0 {
		return text
	}

	var b strings.Builder
	prev := 0
	for _, m := range matches {
		b.WriteString(text[prev:m.Start])
		prev = m.End
	}
	b.WriteString(text[prev:])

	out := strings.Join(strings.Fields(b.String()), " ")
	out = strings.ReplaceAll(out, "( )", "")
	out = strings.ReplaceAll(out, "()", "")
	out = strings.ReplaceAll(out, " ,", ",")
	out = strings.ReplaceAll(out, " .", ".")
	return strings.TrimSpace(out)
}
