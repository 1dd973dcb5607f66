package store_test

import (
	"context"
	"testing"

	"github.com/pixelprogress/server/store"
	"github.com/pixelprogress/server/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]store.Store {
	db := testutil.SetupTestDB(t)
	c, _ := testutil.SetupTestCache(t)
	return map[string]store.Store{
		"db":    store.NewDB(db),
		"cache": store.NewCache(c),
	}
}

func TestKey(t *testing.T) {
	assert.Equal(t, "user:42:quests", store.Key(42, store.ListQuests))
	assert.Equal(t, []string{"user:7:quests", "user:7:xp", "user:7:rival", "user:7:profile"}, store.UserKeys(7))
}

func TestStore_LoadMissing(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Load(context.Background(), store.Key(1, store.ListQuests))
			assert.ErrorIs(t, err, store.ErrNotFound)
		})
	}
}

func TestStore_SaveLoadOverwrite(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			key := store.Key(1, store.ListXP)

			require.NoError(t, s.Save(ctx, key, []byte(`10`)))
			got, err := s.Load(ctx, key)
			require.NoError(t, err)
			assert.JSONEq(t, `10`, string(got))

			require.NoError(t, s.Save(ctx, key, []byte(`45`)))
			got, err = s.Load(ctx, key)
			require.NoError(t, err)
			assert.JSONEq(t, `45`, string(got))
		})
	}
}

func TestStore_Delete(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, k := range store.UserKeys(3) {
				require.NoError(t, s.Save(ctx, k, []byte(`{}`)))
			}
			require.NoError(t, s.Save(ctx, store.Key(4, store.ListXP), []byte(`1`)))

			require.NoError(t, s.Delete(ctx, store.UserKeys(3)...))
			for _, k := range store.UserKeys(3) {
				_, err := s.Load(ctx, k)
				assert.ErrorIs(t, err, store.ErrNotFound, k)
			}
			_, err := s.Load(ctx, store.Key(4, store.ListXP))
			assert.NoError(t, err)
			assert.NoError(t, s.Delete(ctx))
		})
	}
}

func TestNew(t *testing.T) {
	db := testutil.SetupTestDB(t)
	c, _ := testutil.SetupTestCache(t)

	s, err := store.New(store.BackendDB, db, c)
	require.NoError(t, err)
	assert.IsType(t, &store.DB{}, s)

	s, err = store.New(store.BackendCache, db, c)
	require.NoError(t, err)
	assert.IsType(t, &store.Cache{}, s)

	_, err = store.New("s3", db, c)
	var ube *store.UnknownBackendError
	require.ErrorAs(t, err, &ube)
	assert.Equal(t, "s3", ube.Backend)
}
