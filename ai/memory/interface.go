// Package memory provides long-term semantic memory of shopper preferences.
package memory

import (
	"context"
)

// PreferenceQuery is the query used to recall a shopper's preferences before a run.
const PreferenceQuery = "User's specific preferences, likes, dislikes, past interactions, and shopping behavior patterns?"

// Memory is one remembered fact about a user.
type Memory struct {
	ID     int32   `json:"id"`
	Memory string  `json:"memory"`
	Score  float32 `json:"score,omitempty"`
}

// Store adds and recalls per-user memories. Add returns the facts it stored;
// an empty result means nothing in the message was worth remembering.
type Store interface {
	Add(ctx context.Context, userID int32, message string) ([]Memory, error)
	Search(ctx context.Context, userID int32, query string, limit int) ([]Memory, error)
}

// NoOp is a Store that remembers nothing.
type NoOp struct{}

func (NoOp) Add(context.Context, int32, string) ([]Memory, error) { return nil, nil }

func (NoOp) Search(context.Context, int32, string, int) ([]Memory, error) { return nil, nil }

// Texts returns the fact strings of memories.
func Texts(memories []Memory) []string {
	out := make([]string, 0, len(memories))
	for _, m := range memories {
		out = append(out, m.Memory)
	}
	return out
}

var _ Store = NoOp{}
