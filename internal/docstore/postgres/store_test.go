package postgres

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/chatrelay/chatrelay/internal/config"
	"github.com/chatrelay/chatrelay/internal/db"
	"github.com/chatrelay/chatrelay/internal/docstore"
)

func setupStore(t *testing.T) *Store {
	t.Helper()

	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("skip integration test: TEST_POSTGRES_DSN is not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Skipf("skip integration test: cannot connect to database: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		t.Skipf("skip integration test: database ping failed: %v", err)
	}
	t.Cleanup(pool.Close)

	require.NoError(t, db.MigrateUp(slog.Default(), config.PostgresConfig{URL: dsn}))
	return New(slog.Default(), pool)
}

func TestStore_Push_Dedup(t *testing.T) {
	req := require.New(t)
	store := setupStore(t)
	ctx := context.Background()
	collection := "messages_" + t.Name()

	key, err := store.Push(ctx, collection, map[string]any{"chatId": "U1"}, docstore.WithDedupKey("evt-1"))
	req.NoError(err)

	_, err = store.Push(ctx, collection, map[string]any{"chatId": "U1"}, docstore.WithDedupKey("evt-1"))
	req.ErrorIs(err, docstore.ErrDuplicate)

	found, err := store.LookupDedup(ctx, collection, "evt-1")
	req.NoError(err)
	req.Equal(key, found)

	docs, err := store.Query(ctx, collection, docstore.Query{Field: "chatId", Equals: "U1"})
	req.NoError(err)
	req.Len(docs, 1)
}

func TestStore_Apply_ConcurrentIncrements(t *testing.T) {
	req := require.New(t)
	store := setupStore(t)
	ctx := context.Background()
	collection := "chats_" + t.Name()

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Apply(ctx, collection, "U1", docstore.Mutation{
				Create:    map[string]any{"createdAt": "t0"},
				Set:       map[string]any{"userName": "Amy"},
				Increment: map[string]int64{"unreadCount": 1},
			})
			if err != nil {
				t.Errorf("apply: %v", err)
			}
		}()
	}
	wg.Wait()

	snap, err := store.Get(ctx, collection, "U1")
	req.NoError(err)
	req.JSONEq(`{"createdAt":"t0","userName":"Amy","unreadCount":20}`, string(snap.Data))

	req.NoError(store.Update(ctx, collection, "U1", map[string]any{"unreadCount": 0}))
	req.NoError(store.Delete(ctx, collection, "U1"))
	req.ErrorIs(store.Delete(ctx, collection, "U1"), docstore.ErrNotFound)
}
