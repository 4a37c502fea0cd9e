package badgerdb

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chatrelay/chatrelay/internal/docstore"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenInMemory(slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStore_Push_Get_And_Dedup(t *testing.T) {
	req := require.New(t)
	store := newStore(t)
	ctx := context.Background()

	key, err := store.Push(ctx, "messages", map[string]any{"content": "hi"}, docstore.WithDedupKey("evt-1"))
	req.NoError(err)
	req.NotEmpty(key)

	snap, err := store.Get(ctx, "messages", key)
	req.NoError(err)
	req.JSONEq(`{"content":"hi"}`, string(snap.Data))

	_, err = store.Push(ctx, "messages", map[string]any{"content": "hi again"}, docstore.WithDedupKey("evt-1"))
	req.ErrorIs(err, docstore.ErrDuplicate)

	found, err := store.LookupDedup(ctx, "messages", "evt-1")
	req.NoError(err)
	req.Equal(key, found)

	// Dedup keys are scoped per collection.
	_, err = store.Push(ctx, "other", map[string]any{"x": 1}, docstore.WithDedupKey("evt-1"))
	req.NoError(err)

	all, err := store.Query(ctx, "messages", docstore.Query{})
	req.NoError(err)
	req.Len(all, 1)
}

func TestStore_Push_RejectsNonObject(t *testing.T) {
	store := newStore(t)
	_, err := store.Push(context.Background(), "messages", []string{"a"})
	require.Error(t, err)
}

func TestStore_Query_OrderFilterLimit(t *testing.T) {
	req := require.New(t)
	store := newStore(t)
	ctx := context.Background()

	var keys []string
	for _, chat := range []string{"U1", "U2", "U1", "U1"} {
		key, err := store.Push(ctx, "messages", map[string]any{"chatId": chat})
		req.NoError(err)
		keys = append(keys, key)
	}

	asc, err := store.Query(ctx, "messages", docstore.Query{Field: "chatId", Equals: "U1"})
	req.NoError(err)
	req.Equal([]string{keys[0], keys[2], keys[3]}, snapshotKeys(asc))

	desc, err := store.Query(ctx, "messages", docstore.Query{Field: "chatId", Equals: "U1", Descending: true, Limit: 2})
	req.NoError(err)
	req.Equal([]string{keys[3], keys[2]}, snapshotKeys(desc))
}

func TestStore_Apply_CreateThenIncrement(t *testing.T) {
	req := require.New(t)
	store := newStore(t)
	ctx := context.Background()

	mutation := func(name string) docstore.Mutation {
		return docstore.Mutation{
			Create:    map[string]any{"createdAt": "t0"},
			Set:       map[string]any{"userName": name},
			Increment: map[string]int64{"unreadCount": 1},
		}
	}

	snap, err := store.Apply(ctx, "chats", "U1", mutation("Amy"))
	req.NoError(err)
	req.JSONEq(`{"createdAt":"t0","userName":"Amy","unreadCount":1}`, string(snap.Data))

	snap, err = store.Apply(ctx, "chats", "U1", docstore.Mutation{
		Create:    map[string]any{"createdAt": "t1"},
		Set:       map[string]any{"userName": "Amy B"},
		Increment: map[string]int64{"unreadCount": 1},
	})
	req.NoError(err)
	req.JSONEq(`{"createdAt":"t0","userName":"Amy B","unreadCount":2}`, string(snap.Data))
}

func TestStore_Apply_ConcurrentIncrementsAreNotLost(t *testing.T) {
	req := require.New(t)
	store := newStore(t)
	ctx := context.Background()

	const workers = 40
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Apply(ctx, "chats", "U1", docstore.Mutation{
				Increment: map[string]int64{"unreadCount": 1},
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		req.NoError(err)
	}

	snap, err := store.Get(ctx, "chats", "U1")
	req.NoError(err)
	var doc struct {
		UnreadCount int64 `json:"unreadCount"`
	}
	req.NoError(snap.Decode(&doc))
	req.Equal(int64(workers), doc.UnreadCount)
}

func TestStore_Update_Set_Delete(t *testing.T) {
	req := require.New(t)
	store := newStore(t)
	ctx := context.Background()

	req.ErrorIs(store.Update(ctx, "orders", "missing", map[string]any{"a": 1}), docstore.ErrNotFound)

	req.NoError(store.Set(ctx, "orders", "o1", map[string]any{"status": "unprocessed", "note": "x"}))
	req.NoError(store.Update(ctx, "orders", "o1", map[string]any{"status": "shipped"}))

	snap, err := store.Get(ctx, "orders", "o1")
	req.NoError(err)
	req.JSONEq(`{"status":"shipped","note":"x"}`, string(snap.Data))

	req.NoError(store.Delete(ctx, "orders", "o1"))
	_, err = store.Get(ctx, "orders", "o1")
	req.ErrorIs(err, docstore.ErrNotFound)
	req.ErrorIs(store.Delete(ctx, "orders", "o1"), docstore.ErrNotFound)
}

func snapshotKeys(snaps []docstore.Snapshot) []string {
	keys := make([]string, 0, len(snaps))
	for _, s := range snaps {
		keys = append(keys, s.Key)
	}
	return keys
}
