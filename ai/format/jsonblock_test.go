package format

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSONBlocks(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"bare array", `["reviews","inventory"]`, []string{`["reviews","inventory"]`}},
		{"prose around", `Sure! Plan: ["inventory"] done.`, []string{`["inventory"]`}},
		{"nested object", `x {"a":{"b":[1,2]}} y [3]`, []string{`{"a":{"b":[1,2]}}`, `[3]`}},
		{"brackets in strings", `{"t":"a ] } b"}`, []string{`{"t":"a ] } b"}`}},
		{"escaped quote", `{"t":"say \"hi\" ]"}`, []string{`{"t":"say \"hi\" ]"}`}},
		{"unbalanced", `{"a": [1, 2}`, nil},
		{"nothing", `no json here`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractJSONBlocks(tt.text))
		})
	}
}

func TestDecodeFirst(t *testing.T) {
	var plan []string
	require.True(t, DecodeFirst("```json\n[\"reviews\"]\n```", &plan))
	assert.Equal(t, []string{"reviews"}, plan)

	var obj map[string]any
	assert.False(t, DecodeFirst(`[not json]`, &obj))

	// Skips blocks that do not fit the target type.
	require.True(t, DecodeFirst(`[1] {"message":"ok"}`, &obj))
	assert.Equal(t, "ok", obj["message"])
}
