package kv

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()

	t.Run("set then get", func(t *testing.T) {
		s := NewMemoryStore()
		require.NoError(t, s.Set(ctx, "prefs:u1:fire_seal_auto_deploy", "false", 0))

		val, err := s.Get(ctx, "prefs:u1:fire_seal_auto_deploy")
		require.NoError(t, err)
		assert.Equal(t, "false", val)
	})

	t.Run("missing key", func(t *testing.T) {
		s := NewMemoryStore()
		_, err := s.Get(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("delete", func(t *testing.T) {
		s := NewMemoryStore()
		require.NoError(t, s.Set(ctx, "k", "v", 0))
		require.NoError(t, s.Delete(ctx, "k"))
		_, err := s.Get(ctx, "k")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("ttl expiry", func(t *testing.T) {
		s := NewMemoryStore()
		now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		s.now = func() time.Time { return now }

		require.NoError(t, s.Set(ctx, "k", "v", time.Minute))
		_, err := s.Get(ctx, "k")
		require.NoError(t, err)

		now = now.Add(time.Minute)
		_, err = s.Get(ctx, "k")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}
