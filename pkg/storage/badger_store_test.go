package storage

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/catalog-scraper/pkg/models"
	"github.com/Sriram-PR/catalog-scraper/pkg/utils"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func newTestStore(t *testing.T) *BadgerStore {
	t.Helper()
	store, err := NewBadgerStore(context.Background(), t.TempDir(), "shop.test", false, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testSnapshot(outputDir string, created time.Time) models.Snapshot {
	b := models.NewWorkBatch(outputDir, "https://shop.test/g/lamps", []string{
		"https://shop.test/p/1", "https://shop.test/p/2", "https://shop.test/p/3",
	})
	b.Complete(models.Record{OriginalURL: "https://shop.test/p/1", Title: "One"})
	b.Attempt = 2
	snap := b.Snapshot(models.SessionStatusAborted, errors.New("connection reset"))
	snap.CreatedAt = created
	return snap
}

// storeImpls runs the same contract tests against every Store implementation
func storeImpls(t *testing.T) map[string]Store {
	return map[string]Store{
		"badger": newTestStore(t),
		"memory": NewMemoryStore(),
	}
}

func TestStore_SaveTakeConsumesOnce(t *testing.T) {
	for name, store := range storeImpls(t) {
		t.Run(name, func(t *testing.T) {
			snap := testSnapshot("/out/lamps", time.Now().UTC())
			key := SessionKey(snap.OutputDir)

			require.NoError(t, store.Save(key, snap))
			count, _ := store.Count()
			assert.Equal(t, 1, count)

			got, err := store.Take(key)
			require.NoError(t, err)
			assert.Equal(t, snap.ID, got.ID)
			assert.Equal(t, snap.Pending, got.Pending)
			require.Len(t, got.Completed, 1)
			assert.Equal(t, "One", got.Completed[0].Title)
			assert.Equal(t, 2, got.Attempt)
			assert.Equal(t, "connection reset", got.LastError)

			_, err = store.Take(key)
			assert.ErrorIs(t, err, utils.ErrSessionNotFound)
			count, _ = store.Count()
			assert.Equal(t, 0, count)
		})
	}
}

func TestStore_SaveOverwrites(t *testing.T) {
	for name, store := range storeImpls(t) {
		t.Run(name, func(t *testing.T) {
			snap := testSnapshot("/out/lamps", time.Now().UTC())
			require.NoError(t, store.Save("k", snap))
			snap.Attempt = 3
			require.NoError(t, store.Save("k", snap))

			count, _ := store.Count()
			assert.Equal(t, 1, count)
			got, err := store.Load("k")
			require.NoError(t, err)
			assert.Equal(t, 3, got.Attempt)

			// Load does not consume
			_, err = store.Load("k")
			assert.NoError(t, err)
		})
	}
}

func TestStore_DeleteAndList(t *testing.T) {
	for name, store := range storeImpls(t) {
		t.Run(name, func(t *testing.T) {
			now := time.Now().UTC()
			require.NoError(t, store.Save("b", testSnapshot("/out/b", now)))
			require.NoError(t, store.Save("a", testSnapshot("/out/a", now.Add(-time.Hour))))

			list, err := store.List(context.Background())
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, "a", list[0].Key, "ordered by creation time")
			assert.Equal(t, "/out/a", list[0].OutputDir)
			assert.Equal(t, 3, list[0].Total)
			assert.Equal(t, 2, list[0].Pending)
			assert.Equal(t, 1, list[0].Completed)
			assert.Equal(t, models.SessionStatusAborted, list[0].Status)

			require.NoError(t, store.Delete("a"))
			require.NoError(t, store.Delete("missing"))
			list, err = store.List(context.Background())
			require.NoError(t, err)
			assert.Len(t, list, 1)
			count, _ := store.Count()
			assert.Equal(t, 1, count)
		})
	}
}

func TestStore_TakeDiscardsUndecodableSnapshot(t *testing.T) {
	const raw = `{"completed":"oops"}`
	badgerStore := newTestStore(t)
	memStore := NewMemoryStore()

	tests := []struct {
		name   string
		store  Store
		setRaw func(key string)
	}{
		{"badger", badgerStore, func(key string) {
			require.NoError(t, badgerStore.db.Update(func(txn *badger.Txn) error {
				return txn.Set([]byte(sessionKeyPrefix+key), []byte(raw))
			}))
		}},
		{"memory", memStore, func(key string) {
			memStore.mu.Lock()
			memStore.snaps[key] = []byte(raw)
			memStore.mu.Unlock()
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := SessionKey("/out/broken")
			require.NoError(t, tt.store.Save(key, testSnapshot("/out/broken", time.Now().UTC())))
			tt.setRaw(key)

			list, err := tt.store.List(context.Background())
			require.NoError(t, err)
			require.Len(t, list, 1, "undecodable snapshots stay visible")
			assert.Equal(t, key, list[0].Key)
			assert.Equal(t, models.SessionStatusCorrupt, list[0].Status)
			assert.NotEmpty(t, list[0].LastError)
			assert.False(t, list[0].Status.Resumable())

			_, err = tt.store.Load(key)
			assert.ErrorIs(t, err, utils.ErrCorruptSnapshot)

			_, err = tt.store.Take(key)
			assert.ErrorIs(t, err, utils.ErrCorruptSnapshot)
			assert.ErrorIs(t, err, utils.ErrParsing)

			_, err = tt.store.Take(key)
			assert.ErrorIs(t, err, utils.ErrSessionNotFound, "the broken value is consumed like any other")
			list, err = tt.store.List(context.Background())
			require.NoError(t, err)
			assert.Empty(t, list)
			count, _ := tt.store.Count()
			assert.Equal(t, 0, count)
		})
	}
}

func TestBadgerStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store1, err := NewBadgerStore(ctx, dir, "shop.test", false, testLogger())
	require.NoError(t, err)
	require.NoError(t, store1.Save("k", testSnapshot("/out/x", time.Now().UTC())))
	require.NoError(t, store1.Close())

	store2, err := NewBadgerStore(ctx, dir, "shop.test", false, testLogger())
	require.NoError(t, err)
	count, _ := store2.Count()
	assert.Equal(t, 1, count)
	require.NoError(t, store2.Close())

	store3, err := NewBadgerStore(ctx, dir, "shop.test", true, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store3.Close() })
	count, _ = store3.Count()
	assert.Equal(t, 0, count, "reset wipes old snapshots")
}

func TestBadgerStore_CloseTwice(t *testing.T) {
	store, err := NewBadgerStore(context.Background(), t.TempDir(), "shop.test", false, testLogger())
	require.NoError(t, err)
	assert.NoError(t, store.Close())
	assert.NoError(t, store.Close())
}

func TestBadgerStore_RunGCStopsOnCancel(t *testing.T) {
	store := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		store.RunGC(ctx, 10*time.Millisecond)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunGC did not stop after cancellation")
	}
}

func TestSessionKey(t *testing.T) {
	assert.Equal(t, SessionKey("/out/a/"), SessionKey("/out/a"))
	assert.NotEqual(t, SessionKey("/out/a"), SessionKey("/out/b"))
	assert.Len(t, SessionKey("/out/a"), 16)
}
