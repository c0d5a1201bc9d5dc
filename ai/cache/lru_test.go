package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sectionKey struct {
	productID, userID int32
}

func TestLRUCache_Creation(t *testing.T) {
	testCases := []struct {
		name      string
		capacity  int
		ttl       time.Duration
		expectCap int
	}{
		{"default values", 0, 0, 1000},
		{"custom capacity", 500, 0, 500},
		{"both custom", 200, 15 * time.Minute, 200},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := NewLRUCache[string, int](tc.capacity, tc.ttl)
			assert.Equal(t, tc.expectCap, c.Capacity())
			assert.Equal(t, 0, c.Size())
		})
	}
}

func TestLRUCache_SetGetStructKeys(t *testing.T) {
	c := NewLRUCache[sectionKey, string](10, time.Minute)

	c.SetWithDefaultTTL(sectionKey{1, 2}, "a")
	c.Set(sectionKey{1, 2}, "b", 0)

	got, ok := c.Get(sectionKey{1, 2})
	require.True(t, ok)
	assert.Equal(t, "b", got)

	_, ok = c.Get(sectionKey{2, 1})
	assert.False(t, ok)
}

func TestLRUCache_Expiration(t *testing.T) {
	c := NewLRUCache[string, int](10, time.Minute)
	now := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return now }

	c.Set("short", 1, time.Second)
	c.Set("long", 2, time.Hour)

	now = now.Add(2 * time.Second)
	_, ok := c.Get("short")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Size())

	c.Set("another", 3, time.Second)
	now = now.Add(2 * time.Second)
	assert.Equal(t, 1, c.CleanupExpired())
	_, ok = c.Get("long")
	assert.True(t, ok)
}

func TestLRUCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := NewLRUCache[string, int](2, time.Minute)

	c.Set("a", 1, 0)
	c.Set("b", 2, 0)
	_, _ = c.Get("a")
	c.Set("c", 3, 0)

	_, ok := c.Get("b")
	assert.False(t, ok, "b was least recently used")
	_, ok = c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 2, c.Size())
}

func TestLRUCache_RemoveFunc(t *testing.T) {
	c := NewLRUCache[sectionKey, int](10, time.Minute)
	c.Set(sectionKey{1, 1}, 1, 0)
	c.Set(sectionKey{2, 1}, 2, 0)
	c.Set(sectionKey{2, 3}, 3, 0)

	n := c.RemoveFunc(func(k sectionKey) bool { return k.productID == 2 })
	assert.Equal(t, 2, n)
	assert.True(t, c.Remove(sectionKey{1, 1}))
	assert.False(t, c.Remove(sectionKey{1, 1}))
	assert.Equal(t, 0, c.Size())
}

func TestLRUCache_Concurrent(t *testing.T) {
	c := NewLRUCache[int, int](50, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Set(i*100+j, j, 0)
				_, _ = c.Get(i*100 + j)
			}
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Size(), 50)
}
