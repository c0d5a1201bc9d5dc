package store

import (
	"context"

	"github.com/pkg/errors"
)

// UserMemory is one long-term preference fact remembered for a user.
type UserMemory struct {
	ID        int32
	UserID    int32
	Content   string
	Model     string
	Embedding []float32
	CreatedTs int64
}

// FindUserMemory is the find condition for user memories.
type FindUserMemory struct {
	UserID int32
	Limit  int
}

// UserMemoryWithScore is a vector search hit over a user's memories.
type UserMemoryWithScore struct {
	Memory *UserMemory
	Score  float32
}

// UserMemorySearchOptions scopes a memory search to one user.
type UserMemorySearchOptions struct {
	Vector   []float32
	UserID   int32
	Model    string
	Limit    int
	MinScore float32
}

// Validate validates the UserMemorySearchOptions.
func (o *UserMemorySearchOptions) Validate() error {
	if o.UserID <= 0 {
		return errors.Errorf("invalid UserID: %d", o.UserID)
	}
	if len(o.Vector) == 0 {
		return errors.New("vector cannot be empty")
	}
	if o.Limit <= 0 {
		o.Limit = 10
	}
	return nil
}

func (s *Store) CreateUserMemory(ctx context.Context, create *UserMemory) (*UserMemory, error) {
	return s.driver.CreateUserMemory(ctx, create)
}

func (s *Store) ListUserMemories(ctx context.Context, find *FindUserMemory) ([]*UserMemory, error) {
	return s.driver.ListUserMemories(ctx, find)
}

func (s *Store) SearchUserMemories(ctx context.Context, opts *UserMemorySearchOptions) ([]*UserMemoryWithScore, error) {
	if err := opts.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid search options")
	}
	return s.driver.SearchUserMemories(ctx, opts)
}
