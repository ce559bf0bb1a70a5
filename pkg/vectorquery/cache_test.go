package vectorquery

import (
	"bytes"
	"context"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	fetches int
	data    []byte
}

func (f *fakeFetcher) Get(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	f.fetches++
	return io.NopCloser(bytes.NewReader(f.data)), int64(len(f.data)), nil
}

func TestLayerCache_AcquireDownloadsOnce(t *testing.T) {
	fetcher := &fakeFetcher{data: []byte("geopackage-bytes")}
	cache, err := NewLayerCache(fetcher, t.TempDir())
	require.NoError(t, err)

	path1, release1, err := cache.Acquire(context.Background(), "L2345678ABCD", "uploads/demo/P1/L2345678ABCD.gpkg")
	require.NoError(t, err)
	defer release1()

	content, err := os.ReadFile(path1)
	require.NoError(t, err)
	assert.Equal(t, "geopackage-bytes", string(content))

	path2, release2, err := cache.Acquire(context.Background(), "L2345678ABCD", "uploads/demo/P1/L2345678ABCD.gpkg")
	require.NoError(t, err)
	defer release2()

	assert.Equal(t, path1, path2)
	assert.Equal(t, 1, fetcher.fetches)
}

func TestLayerCache_PinnedEntrySurvivesEviction(t *testing.T) {
	fetcher := &fakeFetcher{data: []byte(strings.Repeat("x", 64))}
	cache, err := NewLayerCache(fetcher, t.TempDir())
	require.NoError(t, err)
	cache.maxBytes = 100 // force eviction on the second entry

	pinnedPath, release, err := cache.Acquire(context.Background(), "Lpinned23456", "k1")
	require.NoError(t, err)

	// Second acquire pushes the cache over budget. The pinned entry must
	// stay; the new entry is released and becomes the eviction victim on
	// the next insert.
	_, release2, err := cache.Acquire(context.Background(), "Levicted2345", "k2")
	require.NoError(t, err)
	release2()

	_, release3, err := cache.Acquire(context.Background(), "Lthird234567", "k3")
	require.NoError(t, err)
	release3()

	_, statErr := os.Stat(pinnedPath)
	assert.NoError(t, statErr, "pinned file must not be evicted")

	release()
}

func TestLayerCache_ReleaseIsIdempotent(t *testing.T) {
	fetcher := &fakeFetcher{data: []byte("data")}
	cache, err := NewLayerCache(fetcher, t.TempDir())
	require.NoError(t, err)

	_, release, err := cache.Acquire(context.Background(), "Labc23456789", "k")
	require.NoError(t, err)

	release()
	release() // second call must not underflow the pin count

	cache.mu.Lock()
	defer cache.mu.Unlock()
	assert.Equal(t, 0, cache.entries["Labc23456789"].pins)
}

func TestResultCSV(t *testing.T) {
	r := &Result{
		Headers: []string{"count"},
		Rows:    [][]string{{"18"}},
	}
	out, err := r.CSV()
	require.NoError(t, err)
	assert.Equal(t, "count\n18\n", out)
}

func TestResultCSV_OverCap(t *testing.T) {
	r := &Result{Headers: []string{"blob"}}
	for i := 0; i < 30; i++ {
		r.Rows = append(r.Rows, []string{strings.Repeat("a", 1000)})
	}
	_, err := r.CSV()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "character limit")
}
