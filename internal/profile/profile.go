package profile

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Profile is configuration to start main server.
type Profile struct {
	// LLM configuration (OpenAI-compatible protocol).
	LLMProvider string
	LLMAPIKey   string
	LLMBaseURL  string
	LLMModel    string
	LLMTimeout  int // seconds

	// Embedding configuration.
	EmbeddingProvider   string
	EmbeddingModel      string
	EmbeddingAPIKey     string
	EmbeddingBaseURL    string
	EmbeddingDimensions int

	// Orchestration budgets. The per-node timeouts default to AgentTimeout.
	AgentTimeout           time.Duration
	PersonalizationTimeout time.Duration
	InventoryTimeout       time.Duration
	ReviewsTimeout         time.Duration
	EvaluationTimeout      time.Duration
	PlannerTimeout         time.Duration
	PresentationTimeout    time.Duration
	RunTimeout             time.Duration
	MaxReviewAttempts      int
	TopK                   int

	// Persistence gate.
	GateWait         time.Duration
	GatePollInterval time.Duration
	GateLease        time.Duration

	// Background prewarm.
	PrewarmConcurrency int
	PrewarmRate        float64

	// Front cache for finished sections and trace recorders.
	CacheTTL  time.Duration
	CacheSize int

	// PlanRules holds CEL plan override rules, one "expr => agent" per entry.
	PlanRules []string

	Mode    string
	Addr    string
	Port    int
	Driver  string
	DSN     string
	Version string
}

// Provider default configurations for LLM.
// Used when the base URL or model is not explicitly set.
var llmProviderDefaults = map[string]struct {
	BaseURL string
	Model   string
}{
	"openai": {
		BaseURL: "https://api.openai.com/v1",
		Model:   "gpt-4o-mini",
	},
	"deepseek": {
		BaseURL: "https://api.deepseek.com",
		Model:   "deepseek-chat",
	},
	"siliconflow": {
		BaseURL: "https://api.siliconflow.cn/v1",
		Model:   "Qwen/Qwen2.5-72B-Instruct",
	},
	"openrouter": {
		BaseURL: "https://openrouter.ai/api/v1",
		Model:   "openai/gpt-4o-mini",
	},
	"ollama": {
		BaseURL: "http://localhost:11434/v1",
		Model:   "llama3.1",
	},
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsAIEnabled returns true if an LLM API key is configured.
func (p *Profile) IsAIEnabled() bool {
	return p.LLMAPIKey != "" || p.LLMProvider == "ollama"
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
		slog.Warn("profile: invalid integer env, using default", "key", key, "value", value)
	}
	return defaultValue
}

func getEnvOrDefaultFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
		slog.Warn("profile: invalid float env, using default", "key", key, "value", value)
	}
	return defaultValue
}

// getEnvOrDefaultDuration accepts Go durations ("45s") or bare seconds ("45").
func getEnvOrDefaultDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	slog.Warn("profile: invalid duration env, using default", "key", key, "value", value)
	return defaultValue
}

// FromEnv loads configuration from environment variables.
func (p *Profile) FromEnv() {
	p.LLMProvider = getEnvOrDefault("PRODUCTSENSE_LLM_PROVIDER", "openai")
	p.LLMAPIKey = getEnvOrDefault("PRODUCTSENSE_LLM_API_KEY", "")
	p.LLMBaseURL = getEnvOrDefault("PRODUCTSENSE_LLM_BASE_URL", "")
	p.LLMModel = getEnvOrDefault("PRODUCTSENSE_LLM_MODEL", "")
	p.LLMTimeout = getEnvOrDefaultInt("PRODUCTSENSE_LLM_TIMEOUT_SECONDS", 120)

	if _, ok := llmProviderDefaults[p.LLMProvider]; !ok {
		slog.Warn("Unknown LLM provider, treating as generic OpenAI-compatible", "provider", p.LLMProvider)
	}
	if defaults, ok := llmProviderDefaults[p.LLMProvider]; ok {
		if p.LLMBaseURL == "" {
			p.LLMBaseURL = defaults.BaseURL
		}
		if p.LLMModel == "" {
			p.LLMModel = defaults.Model
		}
	}

	p.EmbeddingProvider = getEnvOrDefault("PRODUCTSENSE_EMBEDDING_PROVIDER", "openai")
	p.EmbeddingModel = getEnvOrDefault("PRODUCTSENSE_EMBEDDING_MODEL", "text-embedding-3-small")
	p.EmbeddingAPIKey = getEnvOrDefault("PRODUCTSENSE_EMBEDDING_API_KEY", p.LLMAPIKey)
	p.EmbeddingBaseURL = getEnvOrDefault("PRODUCTSENSE_EMBEDDING_BASE_URL", "")
	p.EmbeddingDimensions = getEnvOrDefaultInt("PRODUCTSENSE_EMBEDDING_DIMENSIONS", 1536)

	p.AgentTimeout = getEnvOrDefaultDuration("PRODUCTSENSE_AGENT_TIMEOUT", 60*time.Second)
	p.PersonalizationTimeout = getEnvOrDefaultDuration("PRODUCTSENSE_PERSONALIZATION_TIMEOUT", p.AgentTimeout)
	p.InventoryTimeout = getEnvOrDefaultDuration("PRODUCTSENSE_INVENTORY_TIMEOUT", p.AgentTimeout)
	p.ReviewsTimeout = getEnvOrDefaultDuration("PRODUCTSENSE_REVIEWS_TIMEOUT", p.AgentTimeout)
	p.EvaluationTimeout = getEnvOrDefaultDuration("PRODUCTSENSE_EVALUATION_TIMEOUT", p.AgentTimeout)
	p.PlannerTimeout = getEnvOrDefaultDuration("PRODUCTSENSE_PLANNER_TIMEOUT", 30*time.Second)
	p.PresentationTimeout = getEnvOrDefaultDuration("PRODUCTSENSE_PRESENTATION_TIMEOUT", 60*time.Second)
	p.RunTimeout = getEnvOrDefaultDuration("PRODUCTSENSE_RUN_TIMEOUT", 180*time.Second)
	p.MaxReviewAttempts = getEnvOrDefaultInt("PRODUCTSENSE_MAX_REVIEW_ATTEMPTS", 3)
	p.TopK = getEnvOrDefaultInt("PRODUCTSENSE_TOP_K", 20)

	p.GateWait = getEnvOrDefaultDuration("PRODUCTSENSE_GATE_WAIT", 60*time.Second)
	p.GatePollInterval = getEnvOrDefaultDuration("PRODUCTSENSE_GATE_POLL_INTERVAL", 2*time.Second)
	p.GateLease = getEnvOrDefaultDuration("PRODUCTSENSE_GATE_LEASE", 5*time.Minute)

	p.PrewarmConcurrency = getEnvOrDefaultInt("PRODUCTSENSE_PREWARM_CONCURRENCY", 4)
	p.PrewarmRate = getEnvOrDefaultFloat("PRODUCTSENSE_PREWARM_RATE", 2)

	p.CacheTTL = getEnvOrDefaultDuration("PRODUCTSENSE_CACHE_TTL", 10*time.Minute)
	p.CacheSize = getEnvOrDefaultInt("PRODUCTSENSE_CACHE_SIZE", 1024)

	if rules := getEnvOrDefault("PRODUCTSENSE_PLAN_RULES", ""); rules != "" {
		p.PlanRules = nil
		for _, rule := range strings.Split(rules, ";") {
			if rule = strings.TrimSpace(rule); rule != "" {
				p.PlanRules = append(p.PlanRules, rule)
			}
		}
	}
}

// Validate normalizes the profile and rejects values the server cannot run with.
func (p *Profile) Validate() error {
	if p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "dev"
	}

	switch p.Driver {
	case "", "sqlite":
		p.Driver = "sqlite"
		if p.DSN == "" {
			p.DSN = "productsense_" + p.Mode + ".db"
		}
	case "postgres":
		if p.DSN == "" {
			return errors.New("dsn is required for the postgres driver")
		}
	default:
		return errors.Errorf("unsupported database driver %q", p.Driver)
	}

	if p.MaxReviewAttempts < 1 {
		return errors.Errorf("max review attempts must be at least 1, got %d", p.MaxReviewAttempts)
	}
	if p.TopK <= 0 {
		p.TopK = 20
	}
	if p.GatePollInterval <= 0 {
		p.GatePollInterval = 2 * time.Second
	}
	if p.GateWait < p.GatePollInterval {
		return errors.Errorf("gate wait %s is shorter than poll interval %s", p.GateWait, p.GatePollInterval)
	}
	for name, d := range map[string]time.Duration{
		"agent timeout":           p.AgentTimeout,
		"personalization timeout": p.PersonalizationTimeout,
		"inventory timeout":       p.InventoryTimeout,
		"reviews timeout":         p.ReviewsTimeout,
		"evaluation timeout":      p.EvaluationTimeout,
		"planner timeout":         p.PlannerTimeout,
		"presentation timeout":    p.PresentationTimeout,
		"run timeout":             p.RunTimeout,
	} {
		if d <= 0 {
			return errors.Errorf("%s must be positive", name)
		}
	}
	if p.RunTimeout < p.AgentTimeout {
		slog.Warn("profile: run timeout shorter than agent timeout, nodes may be cut off by the run deadline",
			"run_timeout", p.RunTimeout, "agent_timeout", p.AgentTimeout)
	}
	if p.PrewarmConcurrency <= 0 {
		p.PrewarmConcurrency = 1
	}
	if p.PrewarmRate <= 0 {
		p.PrewarmRate = 1
	}
	if p.CacheSize <= 0 {
		p.CacheSize = 1024
	}
	return nil
}
