package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFakeOpenAI(t *testing.T, handler func(req map[string]any) map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(handler(req))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewService_RequiresModel(t *testing.T) {
	_, err := NewService(&Config{Provider: "openai", APIKey: "k"})
	assert.Error(t, err)

	_, err = NewService(nil)
	assert.Error(t, err)
}

func TestNewService_ProviderDefaults(t *testing.T) {
	for _, provider := range []string{"openai", "deepseek", "siliconflow", "openrouter", "ollama", "custom"} {
		svc, err := NewService(&Config{Provider: provider, Model: "m", APIKey: "k"})
		require.NoError(t, err, provider)
		s, ok := svc.(*service)
		require.True(t, ok)
		assert.Equal(t, provider, s.provider)
		assert.Greater(t, s.timeout.Seconds(), float64(0))
	}
}

func TestChat(t *testing.T) {
	srv := newFakeOpenAI(t, func(req map[string]any) map[string]any {
		msgs := req["messages"].([]any)
		assert.Len(t, msgs, 2)
		assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
		return map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"choices": []any{map[string]any{"index": 0, "message": map[string]any{"role": "assistant", "content": `["reviews"]`}}},
			"usage":   map[string]any{"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15},
		}
	})

	svc, err := NewService(&Config{Provider: "openai", Model: "gpt-4o-mini", APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	content, stats, err := svc.Chat(context.Background(), []Message{SystemPrompt("plan"), UserMessage("go")})
	require.NoError(t, err)
	assert.Equal(t, `["reviews"]`, content)
	assert.Equal(t, 15, stats.TotalTokens)
}

func TestChat_EmptyChoices(t *testing.T) {
	srv := newFakeOpenAI(t, func(map[string]any) map[string]any {
		return map[string]any{"id": "x", "choices": []any{}}
	})
	svc, err := NewService(&Config{Provider: "openai", Model: "m", APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	_, _, err = svc.Chat(context.Background(), []Message{UserMessage("hi")})
	assert.Error(t, err)
}

func TestChatWithTools(t *testing.T) {
	srv := newFakeOpenAI(t, func(req map[string]any) map[string]any {
		tools := req["tools"].([]any)
		require.Len(t, tools, 1)
		fn := tools[0].(map[string]any)["function"].(map[string]any)
		assert.Equal(t, "search_reviews", fn["name"])
		return map[string]any{
			"id": "chatcmpl-2",
			"choices": []any{map[string]any{
				"index": 0,
				"message": map[string]any{
					"role":    "assistant",
					"content": "",
					"tool_calls": []any{map[string]any{
						"id":       "call_1",
						"type":     "function",
						"function": map[string]any{"name": "search_reviews", "arguments": `{"query":"battery"}`},
					}},
				},
			}},
		}
	})
	svc, err := NewService(&Config{Provider: "openai", Model: "m", APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	schema := &JSONSchema{
		Type:       "object",
		Properties: map[string]*JSONSchema{"query": {Type: "string"}},
		Required:   []string{"query"},
	}
	resp, _, err := svc.ChatWithTools(context.Background(), []Message{UserMessage("summarize")}, []ToolDescriptor{
		{Name: "search_reviews", Description: "search", Parameters: schema.String()},
	})
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "search_reviews", resp.ToolCalls[0].Name)
	assert.JSONEq(t, `{"query":"battery"}`, resp.ToolCalls[0].Arguments)
}

func TestJSONSchemaString(t *testing.T) {
	s := &JSONSchema{Type: "object"}
	assert.JSONEq(t, `{"type":"object","additionalProperties":false}`, s.String())
}
