package remote

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"contentsync/internal/common"
	"contentsync/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func registries(t *testing.T) map[string]Registry {
	t.Helper()
	ctx := context.Background()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, store.RunMigrations(ctx, db, "sqlite3"))

	key := make([]byte, 32)
	copy(key, "0123456789abcdef0123456789abcdef")

	return map[string]Registry{
		"memory": NewMemoryRegistry(),
		"sql":    NewSQLRegistry(db, "sqlite3", key),
	}
}

func TestRegistry_AddAndLookup(t *testing.T) {
	for name, r := range registries(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			conn := NewConnection("https://www.example.com/", "site-a", "pw")
			require.NoError(t, r.Add(ctx, conn))

			// lookup canonicalizes too
			got, err := r.ByAddress(ctx, "http://example.com")
			require.NoError(t, err)
			assert.Equal(t, "example.com", got.Address)
			assert.Equal(t, conn.Secret, got.Secret)

			got, err = r.ByLogin(ctx, "site-a")
			require.NoError(t, err)
			assert.Equal(t, "example.com", got.Address)

			_, err = r.ByLogin(ctx, "nobody")
			assert.True(t, errors.Is(err, common.ErrNotFound))
		})
	}
}

func TestRegistry_AddReplacesExisting(t *testing.T) {
	for name, r := range registries(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, r.Add(ctx, NewConnection("example.com", "old", "pw1")))
			require.NoError(t, r.Add(ctx, NewConnection("example.com", "new", "pw2")))

			got, err := r.ByAddress(ctx, "example.com")
			require.NoError(t, err)
			assert.Equal(t, "new", got.Login)

			all, err := r.List(ctx)
			require.NoError(t, err)
			assert.Len(t, all, 1)
		})
	}
}

func TestRegistry_Remove(t *testing.T) {
	for name, r := range registries(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, r.Add(ctx, NewConnection("example.com", "a", "pw")))
			require.NoError(t, r.Remove(ctx, "https://example.com/"))

			_, err := r.ByAddress(ctx, "example.com")
			assert.True(t, errors.Is(err, common.ErrNotFound))

			err = r.Remove(ctx, "example.com")
			assert.True(t, errors.Is(err, common.ErrNotFound))
		})
	}
}
