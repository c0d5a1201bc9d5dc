package store

import (
	"context"
	"encoding/json"
	"time"
)

// SectionStatus is the lifecycle state of a personalized section.
type SectionStatus string

const (
	SectionStatusPending    SectionStatus = "pending"
	SectionStatusInProgress SectionStatus = "in-progress"
	SectionStatusDone       SectionStatus = "done"
	SectionStatusFailed     SectionStatus = "failed"
)

// PersonalizedSection is the cached personalization for one (product, user) pair.
// It doubles as the run marker: at most one in-progress row per key is honored.
type PersonalizedSection struct {
	ProductID int32
	UserID    int32
	// Personalization is the JSON-encoded card list. A nil value on upsert
	// keeps whatever was stored before.
	Personalization json.RawMessage
	Status          SectionStatus
	TraceID         string
	CreatedTs       int64
	UpdatedTs       int64
}

// ClaimPersonalizedSection marks a key in-progress unless another live run holds it.
type ClaimPersonalizedSection struct {
	ProductID int32
	UserID    int32
	TraceID   string
	// Now is the claim timestamp (unix seconds).
	Now int64
	// StaleBefore lets an in-progress row whose UpdatedTs is older be taken over.
	StaleBefore int64
}

// NewClaim builds a claim that treats in-progress rows older than lease as abandoned.
func NewClaim(productID, userID int32, traceID string, lease time.Duration) *ClaimPersonalizedSection {
	now := time.Now()
	return &ClaimPersonalizedSection{
		ProductID:   productID,
		UserID:      userID,
		TraceID:     traceID,
		Now:         now.Unix(),
		StaleBefore: now.Add(-lease).Unix(),
	}
}

// GetPersonalizedSection returns the section or nil when none exists.
func (s *Store) GetPersonalizedSection(ctx context.Context, productID, userID int32) (*PersonalizedSection, error) {
	return s.driver.GetPersonalizedSection(ctx, productID, userID)
}

// CreatePersonalizedSection inserts the row unless the key already has one, and
// returns whatever row the key holds afterwards.
func (s *Store) CreatePersonalizedSection(ctx context.Context, create *PersonalizedSection) (*PersonalizedSection, error) {
	if create.UpdatedTs == 0 {
		create.UpdatedTs = time.Now().Unix()
	}
	if create.CreatedTs == 0 {
		create.CreatedTs = create.UpdatedTs
	}
	return s.driver.CreatePersonalizedSection(ctx, create)
}

func (s *Store) UpsertPersonalizedSection(ctx context.Context, upsert *PersonalizedSection) (*PersonalizedSection, error) {
	if upsert.UpdatedTs == 0 {
		upsert.UpdatedTs = time.Now().Unix()
	}
	if upsert.CreatedTs == 0 {
		upsert.CreatedTs = upsert.UpdatedTs
	}
	return s.driver.UpsertPersonalizedSection(ctx, upsert)
}

// ClaimPersonalizedSection reports whether the caller now owns the in-progress marker.
func (s *Store) ClaimPersonalizedSection(ctx context.Context, claim *ClaimPersonalizedSection) (bool, error) {
	return s.driver.ClaimPersonalizedSection(ctx, claim)
}

// ResetPersonalization drops every personalized section and user memory.
// Catalog and users are left as they are.
func (s *Store) ResetPersonalization(ctx context.Context) error {
	return s.driver.ResetPersonalization(ctx)
}
