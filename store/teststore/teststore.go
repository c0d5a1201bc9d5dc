// Package teststore opens a migrated SQLite store for tests.
package teststore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hrygo/productsense/internal/profile"
	"github.com/hrygo/productsense/store"
	"github.com/hrygo/productsense/store/db/sqlite"
)

// New returns a store backed by a fresh database file in t.TempDir().
func New(t testing.TB) *store.Store {
	t.Helper()

	p := &profile.Profile{
		Mode:   "dev",
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "productsense_test.db"),
	}
	driver, err := sqlite.NewDB(p)
	require.NoError(t, err)

	s := store.New(driver, p)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// Seed creates a user and a product with variants and reviews, returning their ids.
func Seed(t testing.TB, s *store.Store) (userID, productID int32) {
	t.Helper()
	ctx := context.Background()

	user, err := s.CreateUser(ctx, &store.User{
		FirstName:            "Maya",
		Gender:               "female",
		Age:                  31,
		Location:             "Denver",
		Hobbies:              []string{"hiking", "photography"},
		LifestylePreferences: []string{"outdoor", "minimalist"},
	})
	require.NoError(t, err)

	product, err := s.CreateProduct(ctx, &store.Product{
		Name:        "Trailblazer Pack 30L",
		Category:    "backpacks",
		Price:       129.99,
		Brand:       "Summit",
		Description: "Lightweight daypack with rain cover and hydration sleeve.",
	})
	require.NoError(t, err)

	for _, v := range []*store.Variant{
		{ProductID: product.ID, Price: 129.99, StockCount: 4, Attributes: []store.VariantAttribute{{Name: "color", Value: "Forest Green"}, {Name: "size", Value: "M"}}},
		{ProductID: product.ID, Price: 134.99, StockCount: 25, Attributes: []store.VariantAttribute{{Name: "color", Value: "Slate"}, {Name: "size", Value: "L"}}},
	} {
		_, err := s.CreateVariant(ctx, v)
		require.NoError(t, err)
	}

	for _, r := range []*store.Review{
		{ProductID: product.ID, Rating: 5, Text: "Comfortable straps, great for long hikes."},
		{ProductID: product.ID, Rating: 4, Text: "Rain cover works well, pockets are small."},
		{ProductID: product.ID, Rating: 2, Text: "Zipper broke after a month, straps are comfortable though."},
	} {
		_, err := s.CreateReview(ctx, r)
		require.NoError(t, err)
	}
	return user.ID, product.ID
}
