package memory

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStore(client, WithRedisPrefix("test"))
	t.Cleanup(func() { store.Close() })
	return store, mr
}

// stores runs fn against every Store implementation.
func stores(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("local", func(t *testing.T) {
		fn(t, NewLocal())
	})
	t.Run("file", func(t *testing.T) {
		s, err := NewLocalWithFile(filepath.Join(t.TempDir(), "memory.json"))
		require.NoError(t, err)
		fn(t, s)
	})
	t.Run("redis", func(t *testing.T) {
		s, _ := setupRedisStore(t)
		fn(t, s)
	})
}

func TestStore_AddAndList(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		first, err := s.Add(ctx, "nova", "Has a dentist appointment on Friday")
		require.NoError(t, err)
		assert.NotZero(t, first.ID)
		assert.Equal(t, "nova", first.AssistantID)
		assert.False(t, first.CreatedAt.IsZero())

		_, err = s.Add(ctx, "nova", "Prefers tea")
		require.NoError(t, err)
		_, err = s.Add(ctx, "atlas", "Lives in Lisbon")
		require.NoError(t, err)

		items, err := s.List(ctx, "nova")
		require.NoError(t, err)
		assert.Equal(t, []string{"Has a dentist appointment on Friday", "Prefers tea"}, Contents(items))

		all, err := s.List(ctx, "")
		require.NoError(t, err)
		assert.Len(t, all, 3)

		none, err := s.List(ctx, "ghost")
		require.NoError(t, err)
		assert.NotNil(t, none)
		assert.Empty(t, none)
	})
}

func TestStore_Duplicates(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		_, err := s.Add(ctx, "nova", "Prefers tea")
		require.NoError(t, err)
		_, err = s.Add(ctx, "nova", "Prefers tea")
		assert.ErrorIs(t, err, ErrDuplicate)

		_, err = s.Add(ctx, "nova", "prefers tea")
		assert.NoError(t, err, "duplicates are exact matches")
		_, err = s.Add(ctx, "atlas", "Prefers tea")
		assert.NoError(t, err, "duplicates are per assistant")

		_, err = s.Add(ctx, "nova", "   ")
		assert.ErrorIs(t, err, ErrEmptyContent)
	})
}

func TestStore_UpdateDelete(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		a, err := s.Add(ctx, "nova", "Likes jazz")
		require.NoError(t, err)
		b, err := s.Add(ctx, "nova", "Likes hiking")
		require.NoError(t, err)

		require.NoError(t, s.Update(ctx, a.ID, "Likes bebop jazz"))
		assert.ErrorIs(t, s.Update(ctx, a.ID, "Likes hiking"), ErrDuplicate)
		assert.ErrorIs(t, s.Update(ctx, 999, "x"), ErrNotFound)

		_, err = s.Add(ctx, "nova", "Likes jazz")
		assert.NoError(t, err, "old content is free again after update")

		require.NoError(t, s.Delete(ctx, b.ID))
		assert.ErrorIs(t, s.Delete(ctx, b.ID), ErrNotFound)

		items, err := s.List(ctx, "nova")
		require.NoError(t, err)
		assert.Equal(t, []string{"Likes bebop jazz", "Likes jazz"}, Contents(items))
	})
}

func TestLocal_Persistence(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "memory.json")

	s, err := NewLocalWithFile(path)
	require.NoError(t, err)
	_, err = s.Add(ctx, "nova", "Has two cats")
	require.NoError(t, err)
	second, err := s.Add(ctx, "nova", "Works nights")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := NewLocalWithFile(path)
	require.NoError(t, err)
	items, err := reopened.List(ctx, "nova")
	require.NoError(t, err)
	assert.Equal(t, []string{"Has two cats", "Works nights"}, Contents(items))

	next, err := reopened.Add(ctx, "nova", "Drinks decaf")
	require.NoError(t, err)
	assert.Greater(t, next.ID, second.ID)
	assert.Equal(t, map[string]int{"nova": 3}, reopened.Stats())

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestLocal_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := NewLocalWithFile(path)
	assert.Error(t, err)
}

func TestRedisStore_Keys(t *testing.T) {
	s, mr := setupRedisStore(t)
	_, err := s.Add(context.Background(), "nova", "Has two cats")
	require.NoError(t, err)

	assert.True(t, mr.Exists("test:memory:items"))
	assert.True(t, mr.Exists("test:memory:index:nova"))
	members, err := mr.Members("test:memory:content:nova")
	require.NoError(t, err)
	assert.Equal(t, []string{"Has two cats"}, members)
}

func TestOpenRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	s, err := OpenRedis(context.Background(), "redis://"+mr.Addr()+"/0")
	require.NoError(t, err)
	defer s.Close()

	_, err = OpenRedis(context.Background(), "not a url")
	assert.Error(t, err)
}

func TestWriter(t *testing.T) {
	ctx := context.Background()
	store := NewLocal()
	w := NewWriter(store, "nova")

	require.NoError(t, w.Write(ctx, "Allergic to peanuts"))
	require.NoError(t, w.Write(ctx, "Allergic to peanuts"))
	assert.ErrorIs(t, w.Write(ctx, ""), ErrEmptyContent)

	items, err := store.List(ctx, "nova")
	require.NoError(t, err)
	assert.Len(t, items, 1)

	require.NoError(t, Discard.Write(ctx, "anything"))
}
