// Package simple provides an embedding-backed memory store.
//
// Facts are extracted from a shopper message by the LLM, embedded, and stored
// per user. Recall ranks a user's facts by cosine similarity to the query.
// There is no deduplication or decay: a repeated preference is stored again.
package simple

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hrygo/productsense/ai/core/embedding"
	"github.com/hrygo/productsense/ai/core/llm"
	"github.com/hrygo/productsense/ai/format"
	"github.com/hrygo/productsense/ai/internal/strutil"
	"github.com/hrygo/productsense/ai/memory"
	"github.com/hrygo/productsense/store"
)

// Config holds configuration for the memory store.
type Config struct {
	// Model names the embedding model stored alongside each vector.
	Model string
	// MaxFacts caps how many facts one message may produce.
	MaxFacts int
	// MinScore drops recalled facts below this similarity.
	MinScore float32
	// Timeout bounds fact extraction.
	Timeout time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Model:    "text-embedding-3-small",
		MaxFacts: 5,
		MinScore: 0.2,
		Timeout:  30 * time.Second,
	}
}

// MemoryStore defines the persistence the memory store needs.
type MemoryStore interface {
	CreateUserMemory(ctx context.Context, create *store.UserMemory) (*store.UserMemory, error)
	SearchUserMemories(ctx context.Context, opts *store.UserMemorySearchOptions) ([]*store.UserMemoryWithScore, error)
}

// LLMService defines the interface for fact extraction.
type LLMService interface {
	Chat(ctx context.Context, messages []llm.Message) (string, *llm.CallStats, error)
}

// Store implements memory.Store over the user_memory table.
type Store struct {
	store    MemoryStore
	llm      LLMService
	embedder embedding.Service
	config   *Config
}

// NewStore creates a new memory store. A nil llm stores messages verbatim.
func NewStore(store MemoryStore, llm LLMService, embedder embedding.Service, config *Config) *Store {
	if config == nil {
		config = DefaultConfig()
	}
	if config.MaxFacts <= 0 {
		config.MaxFacts = 5
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	return &Store{
		store:    store,
		llm:      llm,
		embedder: embedder,
		config:   config,
	}
}

const extractFactsPrompt = `You maintain a shopper's long-term preference notes.
Read the shopper's message and list the durable facts about their tastes, needs, dislikes, budget or habits that would help personalize product pages later.
Write each fact as a short third-person sentence such as "Prefers waterproof gear".
Ignore greetings, one-off questions and anything about a single order.
Answer with a JSON array of strings only. Answer [] when there is nothing worth remembering.`

// Add extracts facts from message and stores one embedded memory per fact.
func (s *Store) Add(ctx context.Context, userID int32, message string) ([]memory.Memory, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, nil
	}
	startTime := time.Now()

	facts := s.extractFacts(ctx, message)
	if len(facts) == 0 {
		slog.Debug("memory: nothing to remember", "user_id", userID)
		return nil, nil
	}

	vectors, err := s.embedder.EmbedBatch(ctx, facts)
	if err != nil {
		return nil, fmt.Errorf("embed memory facts: %w", err)
	}

	added := make([]memory.Memory, 0, len(facts))
	for i, fact := range facts {
		created, err := s.store.CreateUserMemory(ctx, &store.UserMemory{
			UserID:    userID,
			Content:   fact,
			Model:     s.config.Model,
			Embedding: vectors[i],
		})
		if err != nil {
			return added, fmt.Errorf("store memory fact: %w", err)
		}
		added = append(added, memory.Memory{ID: created.ID, Memory: fact})
	}

	slog.Info("memory: facts stored",
		"user_id", userID,
		"count", len(added),
		"duration_ms", time.Since(startTime).Milliseconds(),
	)
	return added, nil
}

// extractFacts asks the LLM for facts. On any failure the raw message is kept
// as a single fact so the preference is not lost.
func (s *Store) extractFacts(ctx context.Context, message string) []string {
	fallback := []string{strutil.Truncate(message, 500)}
	if s.llm == nil {
		return fallback
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	response, _, err := s.llm.Chat(ctx, []llm.Message{
		llm.SystemPrompt(extractFactsPrompt),
		llm.UserMessage(strutil.Truncate(message, 2000)),
	})
	if err != nil {
		slog.Warn("memory: fact extraction failed, storing raw message", "error", err)
		return fallback
	}

	var facts []string
	if !format.DecodeFirst(response, &facts) {
		slog.Warn("memory: fact extraction returned no JSON list, storing raw message")
		return fallback
	}

	out := make([]string, 0, len(facts))
	for _, f := range facts {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, strutil.Truncate(f, 300))
		}
		if len(out) == s.config.MaxFacts {
			break
		}
	}
	return out
}

// Search returns the user's facts most similar to query.
func (s *Store) Search(ctx context.Context, userID int32, query string, limit int) ([]memory.Memory, error) {
	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed memory query: %w", err)
	}
	results, err := s.store.SearchUserMemories(ctx, &store.UserMemorySearchOptions{
		Vector:   vector,
		UserID:   userID,
		Model:    s.config.Model,
		Limit:    limit,
		MinScore: s.config.MinScore,
	})
	if err != nil {
		return nil, fmt.Errorf("search memories: %w", err)
	}

	out := make([]memory.Memory, 0, len(results))
	for _, r := range results {
		out = append(out, memory.Memory{ID: r.Memory.ID, Memory: r.Memory.Content, Score: r.Score})
	}
	return out, nil
}

var _ memory.Store = (*Store)(nil)
