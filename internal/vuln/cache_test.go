package vuln

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"vulnvault/internal/db"
	"vulnvault/internal/versions"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingIndex struct {
	calls atomic.Int32
	fail  atomic.Bool
	advs  []Advisory
}

func (c *countingIndex) Lookup(_ context.Context, _ versions.Ecosystem, _ string) ([]Advisory, error) {
	c.calls.Add(1)
	if c.fail.Load() {
		return nil, errors.New("feed unavailable")
	}
	return c.advs, nil
}

func newTestCache(t *testing.T, inner Index, ttl time.Duration) *CachedIndex {
	t.Helper()
	store, err := db.NewSQLiteStore(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewCachedIndex(inner, store, ttl, nil)
}

func TestCachedIndex(t *testing.T) {
	ctx := context.Background()
	inner := &countingIndex{advs: []Advisory{{ID: "PYSEC-1", Severity: "HIGH", Versions: []string{"1.0"}}}}
	cache := newTestCache(t, inner, time.Hour)
	base := time.Now()
	cache.now = func() time.Time { return base }

	advs, err := cache.Lookup(ctx, versions.PyPI, "Django")
	require.NoError(t, err)
	assert.Equal(t, inner.advs, advs)
	assert.EqualValues(t, 1, inner.calls.Load())

	t.Run("fresh entry is served from the store", func(t *testing.T) {
		advs, err := cache.Lookup(ctx, versions.PyPI, "django")
		require.NoError(t, err)
		assert.Equal(t, inner.advs, advs)
		assert.EqualValues(t, 1, inner.calls.Load())
	})

	t.Run("stale entry is refreshed", func(t *testing.T) {
		cache.now = func() time.Time { return base.Add(2 * time.Hour) }
		_, err := cache.Lookup(ctx, versions.PyPI, "django")
		require.NoError(t, err)
		assert.EqualValues(t, 2, inner.calls.Load())
	})

	t.Run("stale entry covers a feed failure", func(t *testing.T) {
		cache.now = func() time.Time { return base.Add(5 * time.Hour) }
		inner.fail.Store(true)
		advs, err := cache.Lookup(ctx, versions.PyPI, "django")
		require.NoError(t, err)
		assert.Equal(t, inner.advs, advs)
		assert.EqualValues(t, 3, inner.calls.Load())
	})

	t.Run("miss with a feed failure is an error", func(t *testing.T) {
		_, err := cache.Lookup(ctx, versions.NPM, "left-pad")
		assert.Error(t, err)
	})
}

func TestCachedIndex_NoTTL(t *testing.T) {
	inner := &countingIndex{}
	cache := newTestCache(t, inner, 0)
	cache.now = func() time.Time { return time.Unix(0, 0) }

	_, err := cache.Lookup(context.Background(), versions.Go, "golang.org/x/net")
	require.NoError(t, err)

	cache.now = time.Now
	advs, err := cache.Lookup(context.Background(), versions.Go, "golang.org/x/net")
	require.NoError(t, err)
	assert.Empty(t, advs)
	assert.EqualValues(t, 1, inner.calls.Load())
}
