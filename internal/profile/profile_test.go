package profile

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		key, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(key, "PRODUCTSENSE_") {
			t.Setenv(key, "")
		}
	}
}

func TestFromEnvDefaults(t *testing.T) {
	clearEnv(t)

	p := &Profile{}
	p.FromEnv()

	assert.Equal(t, "openai", p.LLMProvider)
	assert.Equal(t, "https://api.openai.com/v1", p.LLMBaseURL)
	assert.Equal(t, "gpt-4o-mini", p.LLMModel)
	assert.Equal(t, 60*time.Second, p.AgentTimeout)
	assert.Equal(t, 60*time.Second, p.PersonalizationTimeout)
	assert.Equal(t, 60*time.Second, p.InventoryTimeout)
	assert.Equal(t, 60*time.Second, p.ReviewsTimeout)
	assert.Equal(t, 60*time.Second, p.EvaluationTimeout)
	assert.Equal(t, 30*time.Second, p.PlannerTimeout)
	assert.Equal(t, 60*time.Second, p.PresentationTimeout)
	assert.Equal(t, 3, p.MaxReviewAttempts)
	assert.Equal(t, 20, p.TopK)
	assert.Equal(t, 60*time.Second, p.GateWait)
	assert.Equal(t, 2*time.Second, p.GatePollInterval)
	assert.False(t, p.IsAIEnabled())
}

func TestFromEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PRODUCTSENSE_LLM_PROVIDER", "deepseek")
	t.Setenv("PRODUCTSENSE_LLM_API_KEY", "sk-test")
	t.Setenv("PRODUCTSENSE_AGENT_TIMEOUT", "45")
	t.Setenv("PRODUCTSENSE_GATE_POLL_INTERVAL", "500ms")
	t.Setenv("PRODUCTSENSE_PLAN_RULES", `"hiking" in user.hobbies => inventory; message != "" => reviews`)

	p := &Profile{}
	p.FromEnv()

	assert.Equal(t, "https://api.deepseek.com", p.LLMBaseURL)
	assert.Equal(t, "deepseek-chat", p.LLMModel)
	assert.Equal(t, "sk-test", p.EmbeddingAPIKey)
	assert.Equal(t, 45*time.Second, p.AgentTimeout)
	assert.Equal(t, 500*time.Millisecond, p.GatePollInterval)
	assert.Len(t, p.PlanRules, 2)
	assert.True(t, p.IsAIEnabled())
}

func TestValidate(t *testing.T) {
	clearEnv(t)

	t.Run("sqlite default dsn", func(t *testing.T) {
		p := &Profile{}
		p.FromEnv()
		require.NoError(t, p.Validate())
		assert.Equal(t, "dev", p.Mode)
		assert.Equal(t, "sqlite", p.Driver)
		assert.Equal(t, "productsense_dev.db", p.DSN)
	})

	t.Run("postgres requires dsn", func(t *testing.T) {
		p := &Profile{Driver: "postgres"}
		p.FromEnv()
		assert.Error(t, p.Validate())
	})

	t.Run("unknown driver", func(t *testing.T) {
		p := &Profile{Driver: "mysql"}
		p.FromEnv()
		assert.Error(t, p.Validate())
	})

	t.Run("review attempts bound", func(t *testing.T) {
		p := &Profile{}
		p.FromEnv()
		p.MaxReviewAttempts = 0
		assert.Error(t, p.Validate())
	})

	t.Run("per-node timeout must be positive", func(t *testing.T) {
		p := &Profile{}
		p.FromEnv()
		p.ReviewsTimeout = 0
		assert.Error(t, p.Validate())
	})

	t.Run("gate wait shorter than poll", func(t *testing.T) {
		p := &Profile{}
		p.FromEnv()
		p.GateWait = time.Second
		assert.Error(t, p.Validate())
	})
}

func TestFromEnvPerNodeTimeouts(t *testing.T) {
	clearEnv(t)
	t.Setenv("PRODUCTSENSE_AGENT_TIMEOUT", "40s")
	t.Setenv("PRODUCTSENSE_PERSONALIZATION_TIMEOUT", "20s")
	t.Setenv("PRODUCTSENSE_REVIEWS_TIMEOUT", "90")
	t.Setenv("PRODUCTSENSE_EVALUATION_TIMEOUT", "15s")

	p := &Profile{}
	p.FromEnv()
	require.NoError(t, p.Validate())

	assert.Equal(t, 20*time.Second, p.PersonalizationTimeout)
	assert.Equal(t, 90*time.Second, p.ReviewsTimeout)
	assert.Equal(t, 15*time.Second, p.EvaluationTimeout)
	assert.Equal(t, 40*time.Second, p.InventoryTimeout, "unset nodes fall back to the agent timeout")
}
