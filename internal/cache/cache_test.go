package cache

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCache_WriteReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := New(NewMemoryStore(), 2*time.Hour, testLogger())

	in := []string{"USDT", "USDC"}
	c.Write(ctx, KeyStablecoins, in)

	var out []string
	require.True(t, c.Read(ctx, KeyStablecoins, &out))
	assert.Equal(t, in, out)
}

func TestCache_TTLBoundary(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	c := New(store, 2*time.Hour, testLogger())

	writeTime := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return writeTime }
	c.Write(ctx, KeyStablecoins, []string{"USDT"})

	// One millisecond before expiry the entry is still served.
	c.now = func() time.Time { return writeTime.Add(2*time.Hour - time.Millisecond) }
	var out []string
	assert.True(t, c.Read(ctx, KeyStablecoins, &out))
	assert.Equal(t, []string{"USDT"}, out)

	// One millisecond past expiry it is a miss and the key is cleared.
	c.now = func() time.Time { return writeTime.Add(2*time.Hour + time.Millisecond) }
	out = nil
	assert.False(t, c.Read(ctx, KeyStablecoins, &out))

	_, ok, err := store.Get(ctx, KeyStablecoins)
	require.NoError(t, err)
	assert.False(t, ok, "expired entry should be removed from the store")
}

func TestCache_FailOpenOnCorruptEntry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	c := New(store, 2*time.Hour, testLogger())

	require.NoError(t, store.Set(ctx, KeyThreatIntel, []byte("not json{")))

	var out []string
	assert.False(t, c.Read(ctx, KeyThreatIntel, &out))

	_, ok, err := store.Get(ctx, KeyThreatIntel)
	require.NoError(t, err)
	assert.False(t, ok, "corrupt entry should be removed from the store")
}

func TestCache_FailOpenOnMismatchedPayload(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	c := New(store, 2*time.Hour, testLogger())

	c.Write(ctx, KeyLastUpdated, "2025-06-01T12:00:00Z")

	// A string payload cannot decode into a slice; treated as a miss.
	var out []int
	assert.False(t, c.Read(ctx, KeyLastUpdated, &out))
	_, ok, err := store.Get(ctx, KeyLastUpdated)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCache_Clear(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	c := New(store, 2*time.Hour, testLogger())

	for _, key := range TrackedKeys {
		c.Write(ctx, key, "payload")
	}
	c.Clear(ctx)

	for _, key := range TrackedKeys {
		_, ok, err := store.Get(ctx, key)
		require.NoError(t, err)
		assert.False(t, ok, "key %s should be gone", key)
	}
}

func TestCache_MissOnAbsentKey(t *testing.T) {
	c := New(NewMemoryStore(), 2*time.Hour, testLogger())
	var out string
	assert.False(t, c.Read(context.Background(), "never-written", &out))
}
