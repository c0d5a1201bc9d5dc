package store

import (
	"context"
)

// User is a shopper with the profile fields agents personalize against.
type User struct {
	ID                   int32
	FirstName            string
	Gender               string
	Age                  int32
	Location             string
	Hobbies              []string
	LifestylePreferences []string
	SearchHistory        []string
	CreatedTs            int64
}

// MaxSearchHistory is how many recent searches are kept per user.
const MaxSearchHistory = 5

func (s *Store) CreateUser(ctx context.Context, create *User) (*User, error) {
	return s.driver.CreateUser(ctx, create)
}

// GetUser returns the user or nil when it does not exist.
func (s *Store) GetUser(ctx context.Context, id int32) (*User, error) {
	return s.driver.GetUser(ctx, id)
}

// ListUsers returns every user ordered by id.
func (s *Store) ListUsers(ctx context.Context) ([]*User, error) {
	return s.driver.ListUsers(ctx)
}

// UserExists reports whether a user with id exists.
func (s *Store) UserExists(ctx context.Context, id int32) (bool, error) {
	user, err := s.driver.GetUser(ctx, id)
	if err != nil {
		return false, err
	}
	return user != nil, nil
}

// AppendUserSearch records query at the head of the user's search history.
func (s *Store) AppendUserSearch(ctx context.Context, id int32, query string) error {
	return s.driver.AppendUserSearch(ctx, id, query, MaxSearchHistory)
}

// PrependSearch returns history with query at the head, trimmed to keep entries.
func PrependSearch(history []string, query string, keep int) []string {
	out := make([]string, 0, keep)
	out = append(out, query)
	for _, h := range history {
		if len(out) >= keep {
			break
		}
		out = append(out, h)
	}
	return out
}
