package personalization

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hrygo/productsense/ai/cache"
	"github.com/hrygo/productsense/store"
)

// SectionStore is the persistence behind the gate. *store.Store satisfies it.
type SectionStore interface {
	GetPersonalizedSection(ctx context.Context, productID, userID int32) (*store.PersonalizedSection, error)
	CreatePersonalizedSection(ctx context.Context, create *store.PersonalizedSection) (*store.PersonalizedSection, error)
	UpsertPersonalizedSection(ctx context.Context, upsert *store.PersonalizedSection) (*store.PersonalizedSection, error)
	ClaimPersonalizedSection(ctx context.Context, claim *store.ClaimPersonalizedSection) (bool, error)
	ResetPersonalization(ctx context.Context) error
}

// Key identifies one personalized section.
type Key struct {
	ProductID int32
	UserID    int32
}

func (k Key) String() string {
	return fmt.Sprintf("product:%d:user:%d", k.ProductID, k.UserID)
}

// GateConfig tunes the gate.
type GateConfig struct {
	// Wait bounds how long a caller waits on another run.
	Wait time.Duration
	// PollInterval is the delay between status reads while waiting.
	PollInterval time.Duration
	// Lease is how long an in-progress row is honored without an update.
	Lease time.Duration
	// CacheSize and CacheTTL size the front cache of finished sections.
	CacheSize int
	CacheTTL  time.Duration
}

// DefaultGateConfig returns the default gate configuration.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		Wait:         60 * time.Second,
		PollInterval: 2 * time.Second,
		Lease:        5 * time.Minute,
		CacheSize:    1024,
		CacheTTL:     10 * time.Minute,
	}
}

// Gate fronts the stored sections: it reads and writes them, hands out the
// per-key run lease, and waits on runs held by others. Finished sections are
// served from an in-memory LRU.
type Gate struct {
	store  SectionStore
	config GateConfig
	done   *cache.LRUCache[Key, *store.PersonalizedSection]
}

// NewGate creates a gate. Zero config fields take their defaults.
func NewGate(st SectionStore, config GateConfig) *Gate {
	defaults := DefaultGateConfig()
	if config.Wait <= 0 {
		config.Wait = defaults.Wait
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.Lease <= 0 {
		config.Lease = defaults.Lease
	}
	if config.CacheSize <= 0 {
		config.CacheSize = defaults.CacheSize
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = defaults.CacheTTL
	}
	return &Gate{
		store:  st,
		config: config,
		done:   cache.NewLRUCache[Key, *store.PersonalizedSection](config.CacheSize, config.CacheTTL),
	}
}

// Get returns the stored section or nil.
func (g *Gate) Get(ctx context.Context, key Key) (*store.PersonalizedSection, error) {
	if section, ok := g.done.Get(key); ok {
		return section, nil
	}
	section, err := g.store.GetPersonalizedSection(ctx, key.ProductID, key.UserID)
	if err != nil {
		return nil, err
	}
	g.remember(key, section)
	return section, nil
}

// Reset deletes every stored section and user memory and empties the front
// cache. Runs already in flight still write their result when they finish.
func (g *Gate) Reset(ctx context.Context) error {
	if err := g.store.ResetPersonalization(ctx); err != nil {
		return err
	}
	dropped := g.done.RemoveFunc(func(Key) bool { return true })
	slog.Info("gate: reset personalization", "cached", dropped)
	return nil
}

// GetOrCreate returns the stored section, creating a pending one when the key
// has none. A row written between the read and the insert is returned as is.
func (g *Gate) GetOrCreate(ctx context.Context, key Key) (*store.PersonalizedSection, error) {
	section, err := g.Get(ctx, key)
	if err != nil || section != nil {
		return section, err
	}
	section, err = g.store.CreatePersonalizedSection(ctx, &store.PersonalizedSection{
		ProductID: key.ProductID,
		UserID:    key.UserID,
		Status:    store.SectionStatusPending,
	})
	if err != nil {
		return nil, err
	}
	g.remember(key, section)
	return section, nil
}

// Upsert writes section. A nil Personalization keeps the stored cards.
func (g *Gate) Upsert(ctx context.Context, section *store.PersonalizedSection) (*store.PersonalizedSection, error) {
	key := Key{ProductID: section.ProductID, UserID: section.UserID}
	g.done.Remove(key)
	stored, err := g.store.UpsertPersonalizedSection(ctx, section)
	if err != nil {
		return nil, err
	}
	g.remember(key, stored)
	return stored, nil
}

// Claim takes the run lease for key. It fails while another run holds a lease
// younger than the configured Lease.
func (g *Gate) Claim(ctx context.Context, key Key, traceID string) (bool, error) {
	g.done.Remove(key)
	return g.store.ClaimPersonalizedSection(ctx, store.NewClaim(key.ProductID, key.UserID, traceID, g.config.Lease))
}

// Forget drops key from the front cache. Call it after a run wrote the row
// through another path.
func (g *Gate) Forget(key Key) {
	g.done.Remove(key)
}

// Wait polls key until it leaves in-progress, the wait bound passes, or ctx is
// done. It returns the last section read and whether it settled.
func (g *Gate) Wait(ctx context.Context, key Key) (*store.PersonalizedSection, bool, error) {
	deadline := time.NewTimer(g.config.Wait)
	defer deadline.Stop()
	ticker := time.NewTicker(g.config.PollInterval)
	defer ticker.Stop()

	for {
		section, err := g.Get(ctx, key)
		if err != nil {
			return nil, false, err
		}
		if section == nil || section.Status != store.SectionStatusInProgress {
			return section, true, nil
		}

		select {
		case <-ctx.Done():
			return section, false, ctx.Err()
		case <-deadline.C:
			slog.Warn("gate: gave up waiting on running personalization",
				"product_id", key.ProductID,
				"user_id", key.UserID,
				"wait", g.config.Wait,
			)
			return section, false, nil
		case <-ticker.C:
		}
	}
}

func (g *Gate) remember(key Key, section *store.PersonalizedSection) {
	if section != nil && section.Status == store.SectionStatusDone {
		g.done.SetWithDefaultTTL(key, section)
	}
}
