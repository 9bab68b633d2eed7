package bucket

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupDBStore(t *testing.T) *DBStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	store := NewDBStore(db)
	require.NoError(t, store.AutoMigrate())
	return store
}

// eachStore runs the test against both Store implementations.
func eachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Helper()
	t.Run("db", func(t *testing.T) { fn(t, setupDBStore(t)) })
	t.Run("mem", func(t *testing.T) { fn(t, NewMemStore()) })
}

func testEntry(url, body string) *Entry {
	return &Entry{
		URL:    url,
		Status: http.StatusOK,
		Header: http.Header{
			"Content-Type": []string{"text/html; charset=utf-8"},
		},
		Body:     []byte(body),
		StoredAt: time.Now(),
	}
}

func TestStore_PutGetRoundTrip(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		require.NoError(t, s.Put(ctx, "fs-v1", testEntry("/index.html", "<html>v1</html>")))

		got, err := s.Get(ctx, "fs-v1", "/index.html")
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, got.Status)
		assert.Equal(t, "text/html; charset=utf-8", got.Header.Get("Content-Type"))
		assert.Equal(t, "<html>v1</html>", string(got.Body))
	})
}

func TestStore_PutReplacesExisting(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		require.NoError(t, s.Put(ctx, "fs-v1", testEntry("/app.js", "console.log(1)")))
		require.NoError(t, s.Put(ctx, "fs-v1", testEntry("/app.js", "console.log(2)")))

		got, err := s.Get(ctx, "fs-v1", "/app.js")
		require.NoError(t, err)
		assert.Equal(t, "console.log(2)", string(got.Body))

		n, err := s.Len(ctx, "fs-v1")
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})
}

func TestStore_GetMiss(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		_, err := s.Get(context.Background(), "fs-v1", "/missing.html")
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_BucketsAreIsolated(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		require.NoError(t, s.Put(ctx, "fs-v1", testEntry("/index.html", "old")))
		require.NoError(t, s.Put(ctx, "fs-v2", testEntry("/index.html", "new")))

		got, err := s.Get(ctx, "fs-v1", "/index.html")
		require.NoError(t, err)
		assert.Equal(t, "old", string(got.Body))

		got, err = s.Get(ctx, "fs-v2", "/index.html")
		require.NoError(t, err)
		assert.Equal(t, "new", string(got.Body))

		buckets, err := s.Buckets(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"fs-v1", "fs-v2"}, buckets)
	})
}

func TestStore_DeleteBucket(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		require.NoError(t, s.Put(ctx, "fs-v1", testEntry("/a", "a")))
		require.NoError(t, s.Put(ctx, "fs-v1", testEntry("/b", "b")))
		require.NoError(t, s.Put(ctx, "fs-v2", testEntry("/a", "a2")))

		require.NoError(t, s.DeleteBucket(ctx, "fs-v1"))

		_, err := s.Get(ctx, "fs-v1", "/a")
		require.ErrorIs(t, err, ErrNotFound)

		buckets, err := s.Buckets(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"fs-v2"}, buckets)
	})
}

func TestStore_DeleteEntry(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		require.NoError(t, s.Put(ctx, "fs-v1", testEntry("/a", "a")))
		require.NoError(t, s.Delete(ctx, "fs-v1", "/a"))
		require.NoError(t, s.Delete(ctx, "fs-v1", "/never-existed"))

		_, err := s.Get(ctx, "fs-v1", "/a")
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_List(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		require.NoError(t, s.Put(ctx, "fs-v1", testEntry("/b", "b")))
		require.NoError(t, s.Put(ctx, "fs-v1", testEntry("/a", "a")))

		urls, err := s.List(ctx, "fs-v1")
		require.NoError(t, err)
		assert.Equal(t, []string{"/a", "/b"}, urls)
	})
}

func TestStore_ReturnedEntryIsIndependent(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		require.NoError(t, s.Put(ctx, "fs-v1", testEntry("/index.html", "original")))

		got, err := s.Get(ctx, "fs-v1", "/index.html")
		require.NoError(t, err)
		got.Body[0] = 'X'
		got.Header.Set("Content-Type", "mutated")

		again, err := s.Get(ctx, "fs-v1", "/index.html")
		require.NoError(t, err)
		assert.Equal(t, "original", string(again.Body))
		assert.Equal(t, "text/html; charset=utf-8", again.Header.Get("Content-Type"))
	})
}
