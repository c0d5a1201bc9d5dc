package store

import (
	"context"
	"database/sql"
)

// Driver is an interface for store driver.
// It contains all methods that store database driver should implement.
type Driver interface {
	GetDB() *sql.DB
	Close() error

	IsInitialized(ctx context.Context) (bool, error)
	GetSchemaVersion(ctx context.Context) (string, error)
	SetSchemaVersion(ctx context.Context, version string) error

	// User model related methods.
	CreateUser(ctx context.Context, create *User) (*User, error)
	GetUser(ctx context.Context, id int32) (*User, error)
	ListUsers(ctx context.Context) ([]*User, error)
	AppendUserSearch(ctx context.Context, id int32, query string, keep int) error

	// Product model related methods.
	CreateProduct(ctx context.Context, create *Product) (*Product, error)
	ListProducts(ctx context.Context, find *FindProduct) ([]*Product, error)
	UpsertProductEmbedding(ctx context.Context, embedding *ProductEmbedding) error
	ListProductsWithoutEmbedding(ctx context.Context, model string, limit int) ([]*Product, error)
	SearchProducts(ctx context.Context, opts *ProductVectorSearchOptions) ([]*ProductWithScore, error)

	// Variant model related methods.
	CreateVariant(ctx context.Context, create *Variant) (*Variant, error)
	ListVariants(ctx context.Context, productID int32) ([]*Variant, error)

	// Review model related methods.
	CreateReview(ctx context.Context, create *Review) (*Review, error)
	ListReviews(ctx context.Context, find *FindReview) ([]*Review, error)
	CountReviews(ctx context.Context, find *FindReview) (int, error)
	UpsertReviewEmbedding(ctx context.Context, embedding *ReviewEmbedding) error
	ListReviewsWithoutEmbedding(ctx context.Context, model string, limit int) ([]*Review, error)
	SearchReviews(ctx context.Context, opts *ReviewVectorSearchOptions) ([]*ReviewWithScore, error)
	CountReviewMentions(ctx context.Context, find *FindReviewMentions) ([]*ReviewMentionCount, error)

	// PersonalizedSection model related methods.
	GetPersonalizedSection(ctx context.Context, productID, userID int32) (*PersonalizedSection, error)
	CreatePersonalizedSection(ctx context.Context, create *PersonalizedSection) (*PersonalizedSection, error)
	UpsertPersonalizedSection(ctx context.Context, upsert *PersonalizedSection) (*PersonalizedSection, error)
	ClaimPersonalizedSection(ctx context.Context, claim *ClaimPersonalizedSection) (bool, error)
	// ResetPersonalization deletes every personalized section and user memory in one transaction.
	ResetPersonalization(ctx context.Context) error

	// UserMemory model related methods.
	CreateUserMemory(ctx context.Context, create *UserMemory) (*UserMemory, error)
	ListUserMemories(ctx context.Context, find *FindUserMemory) ([]*UserMemory, error)
	SearchUserMemories(ctx context.Context, opts *UserMemorySearchOptions) ([]*UserMemoryWithScore, error)

	// TraceSpan model related methods.
	CreateTraceSpans(ctx context.Context, spans []*TraceSpan) error
	ListTraceSpans(ctx context.Context, traceID string) ([]*TraceSpan, error)
}
