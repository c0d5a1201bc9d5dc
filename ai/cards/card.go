// Package cards defines the display cards of a personalization section and
// the policy every section must satisfy before it is persisted or served.
package cards

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/hrygo/productsense/ai/filter"
	"github.com/hrygo/productsense/ai/format"
)

// Type discriminates the card union.
type Type string

const (
	TypeFeature Type = "feature_card"
	TypeText    Type = "text_card"
	TypeList    Type = "list_card"
)

// Section policy limits.
const (
	FeatureCards       = 3
	MaxOtherCards      = 3
	MaxFeatureTitleLen = 20
	MaxFeatureTextLen  = 50
	MaxTextTitleLen    = 30
	MaxTextContentLen  = 200
	MaxListTitleLen    = 30
	MaxListItems       = 5
)

// Card is one display card. Which fields are meaningful depends on Type:
// feature cards use Value and Text, text cards use Content, list cards use Items.
type Card struct {
	Type    Type     `json:"type"`
	Title   string   `json:"title"`
	Value   string   `json:"value,omitempty"`
	Text    string   `json:"text,omitempty"`
	Content string   `json:"content,omitempty"`
	Items   []string `json:"items,omitempty"`
}

// Section is the ordered card list shown for one (user, product) pair.
type Section struct {
	Personalization []Card `json:"personalization"`
}

// ValidationError lists every policy violation found in a section.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid personalization section: " + strings.Join(e.Problems, "; ")
}

func invalid(msg string, args ...any) *ValidationError {
	return &ValidationError{Problems: []string{fmt.Sprintf(msg, args...)}}
}

// Parse extracts a section from model output. It accepts either
// {"personalization": [...]} or a bare card array, possibly wrapped in prose
// or code fences. Objects carrying identifier keys such as "product_id" are
// rejected. The result is not validated; call Validate.
func Parse(text string) (*Section, error) {
	var doc any
	if !format.DecodeFirst(text, &doc) {
		return nil, invalid("output contains no JSON")
	}

	var cardsDoc any
	switch v := doc.(type) {
	case map[string]any:
		list, ok := v["personalization"]
		if !ok {
			return nil, invalid("missing personalization field")
		}
		cardsDoc = list
	case []any:
		cardsDoc = v
	default:
		return nil, invalid("unexpected JSON %T", doc)
	}

	if key, ok := findIdentifierKey(cardsDoc); ok {
		return nil, invalid("card carries internal identifier field %q", key)
	}

	raw, err := json.Marshal(map[string]any{"personalization": cardsDoc})
	if err != nil {
		return nil, invalid("re-encode: %v", err)
	}
	section := &Section{}
	if err := json.Unmarshal(raw, section); err != nil {
		return nil, invalid("decode cards: %v", err)
	}
	return section, nil
}

func findIdentifierKey(v any) (string, bool) {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			if filter.IsIdentifierKey(k) {
				return k, true
			}
			if key, ok := findIdentifierKey(child); ok {
				return key, true
			}
		}
	case []any:
		for _, child := range t {
			if key, ok := findIdentifierKey(child); ok {
				return key, true
			}
		}
	}
	return "", false
}

// Validate checks the section policy: exactly three feature cards, at most
// three text or list cards, pairwise distinct titles, field length limits and
// no internal identifiers in any text.
func (s *Section) Validate() error {
	if s == nil {
		return invalid("section is nil")
	}

	var (
		problems []string
		features int
		others   int
		seen     = make(map[string]int, len(s.Personalization))
	)
	add := func(msg string, args ...any) {
		problems = append(problems, fmt.Sprintf(msg, args...))
	}

	for i, c := range s.Personalization {
		title := strings.TrimSpace(c.Title)
		if title == "" {
			add("card %d has an empty title", i)
		} else {
			key := strings.ToLower(title)
			if j, dup := seen[key]; dup {
				add("cards %d and %d share title %q", j, i, title)
			} else {
				seen[key] = i
			}
		}

		switch c.Type {
		case TypeFeature:
			features++
			checkLen(add, i, "title", c.Title, MaxFeatureTitleLen)
			checkLen(add, i, "text", c.Text, MaxFeatureTextLen)
		case TypeText:
			others++
			checkLen(add, i, "title", c.Title, MaxTextTitleLen)
			checkLen(add, i, "content", c.Content, MaxTextContentLen)
		case TypeList:
			others++
			checkLen(add, i, "title", c.Title, MaxListTitleLen)
			if len(c.Items) > MaxListItems {
				add("card %d has %d items, max %d", i, len(c.Items), MaxListItems)
			}
		default:
			add("card %d has unknown type %q", i, c.Type)
		}

		for _, text := range c.texts() {
			if filter.Contains(text) {
				add("card %d exposes an internal identifier", i)
				break
			}
		}
	}

	if features != FeatureCards {
		add("want %d feature cards, got %d", FeatureCards, features)
	}
	if others > MaxOtherCards {
		add("want at most %d text or list cards, got %d", MaxOtherCards, others)
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func checkLen(add func(string, ...any), i int, field, value string, limit int) {
	if n := utf8.RuneCountInString(value); n > limit {
		add("card %d %s is %d chars, max %d", i, field, n, limit)
	}
}

func (c Card) texts() []string {
	out := []string{c.Title, c.Value, c.Text, c.Content}
	return append(out, c.Items...)
}

// Titles returns the card titles in order.
func (s *Section) Titles() []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s.Personalization))
	for i, c := range s.Personalization {
		out[i] = c.Title
	}
	return out
}

// Encode marshals the section for persistence.
func (s *Section) Encode() (json.RawMessage, error) {
	return json.Marshal(s)
}

// Decode reads a persisted section. Empty input yields nil.
func Decode(raw json.RawMessage) (*Section, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	section := &Section{}
	if err := json.Unmarshal(raw, section); err != nil {
		return nil, fmt.Errorf("decode stored section: %w", err)
	}
	return section, nil
}
