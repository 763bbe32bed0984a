package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySetGet(t *testing.T) {
	m := NewMemory()
	defer func() { _ = m.Close() }()
	ctx := context.Background()

	m.Set(ctx, "k", []byte("v"), time.Minute)
	got, ok := m.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, []byte("v"), got)

	_, ok = m.Get(ctx, "missing")
	assert.False(t, ok)
}

func TestMemoryExpiryIsLazy(t *testing.T) {
	now := time.Now()
	m := NewMemoryWithSweep(time.Hour).WithClock(func() time.Time { return now })
	defer func() { _ = m.Close() }()
	ctx := context.Background()

	m.Set(ctx, "k", []byte("v"), time.Minute)
	now = now.Add(2 * time.Minute)

	_, ok := m.Get(ctx, "k")
	assert.False(t, ok, "expired entry must not be served even before a sweep runs")
}

func TestMemorySweepRemovesExpired(t *testing.T) {
	now := time.Now()
	m := NewMemoryWithSweep(time.Hour).WithClock(func() time.Time { return now })
	defer func() { _ = m.Close() }()
	ctx := context.Background()

	m.Set(ctx, "old", []byte("v"), time.Minute)
	m.Set(ctx, "fresh", []byte("v"), time.Hour)
	now = now.Add(10 * time.Minute)

	m.sweep()
	assert.Equal(t, 1, m.Len())
	_, ok := m.Get(ctx, "fresh")
	assert.True(t, ok)
}

func TestMemoryDelete(t *testing.T) {
	m := NewMemory()
	defer func() { _ = m.Close() }()
	ctx := context.Background()

	m.Set(ctx, "k", []byte("v"), time.Minute)
	m.Delete(ctx, "k")
	_, ok := m.Get(ctx, "k")
	assert.False(t, ok)
}

func TestMemoryConcurrentAccess(t *testing.T) {
	m := NewMemory()
	defer func() { _ = m.Close() }()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			m.Set(ctx, "shared", []byte("v"), time.Minute)
		}()
		go func() {
			defer wg.Done()
			m.Get(ctx, "shared")
		}()
	}
	wg.Wait()
}

func TestCloseIsIdempotent(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
}
