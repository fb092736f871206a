package vuln

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"vulnvault/internal/model"
	"vulnvault/internal/versions"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSnapshot = `npm:
  lodash:
    - id: GHSA-p6mc-m468-83gw
      summary: Prototype pollution in lodash
      severity: moderate
      ranges:
        - introduced: "0"
          fixed: 4.17.21
pip:
  Django:
    - id: PYSEC-2021-98
      severity: CRITICAL
      ranges:
        - introduced: "3.2"
          fixed: 3.2.5
`

func TestParseSnapshot(t *testing.T) {
	snap, err := ParseSnapshot(strings.NewReader(testSnapshot))
	require.NoError(t, err)

	lodash := snap[versions.NPM]["lodash"]
	require.Len(t, lodash, 1)
	assert.Equal(t, model.SeverityMedium, lodash[0].Severity)
	assert.Equal(t, "4.17.21", lodash[0].Ranges[0].Fixed)

	django := snap[versions.PyPI]["django"]
	require.Len(t, django, 1)
	assert.Equal(t, model.SeverityHigh, django[0].Severity)

	empty, err := ParseSnapshot(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = ParseSnapshot(strings.NewReader("cargo:\n  serde: []\n"))
	assert.Error(t, err)

	_, err = ParseSnapshot(strings.NewReader("npm: [unclosed"))
	assert.Error(t, err)
}

func TestWriteSnapshot_RoundTrip(t *testing.T) {
	snap, err := ParseSnapshot(strings.NewReader(testSnapshot))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteSnapshot(&buf, snap))
	again, err := ParseSnapshot(&buf)
	require.NoError(t, err)
	assert.Equal(t, snap, again)
}

func TestSnapshotIndex_Lookup(t *testing.T) {
	snap, err := ParseSnapshot(strings.NewReader(testSnapshot))
	require.NoError(t, err)
	idx := NewSnapshotIndex(snap, nil)

	advs, err := idx.Lookup(context.Background(), versions.PyPI, "DJANGO")
	require.NoError(t, err)
	assert.Len(t, advs, 1)

	advs, err = idx.Lookup(context.Background(), versions.Go, "github.com/gin-gonic/gin")
	require.NoError(t, err)
	assert.Empty(t, advs)

	idx.Replace(nil)
	advs, _ = idx.Lookup(context.Background(), versions.NPM, "lodash")
	assert.Empty(t, advs)
}

// replaceFile installs content at path with a rename, the way editors and
// sync tools do, so the watcher never observes a half-written file.
func replaceFile(t *testing.T, path, content string) {
	t.Helper()
	tmp := filepath.Join(t.TempDir(), "snapshot.tmp")
	require.NoError(t, os.WriteFile(tmp, []byte(content), 0o644))
	require.NoError(t, os.Rename(tmp, path))
}

func TestSnapshotIndex_Watch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "advisories.yaml")
	require.NoError(t, os.WriteFile(path, []byte("npm: {}\n"), 0o644))

	idx, err := LoadSnapshotIndex(path, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, idx.Watch(ctx, path))

	lookup := func() int {
		advs, _ := idx.Lookup(context.Background(), versions.NPM, "lodash")
		return len(advs)
	}
	assert.Equal(t, 0, lookup())

	replaceFile(t, path, testSnapshot)
	assert.Eventually(t, func() bool { return lookup() == 1 }, 5*time.Second, 20*time.Millisecond)

	// a broken snapshot leaves the previous one in place
	replaceFile(t, path, "npm: [unclosed")
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, lookup())
}

func TestLoadSnapshotIndex_Missing(t *testing.T) {
	_, err := LoadSnapshotIndex(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	assert.Error(t, err)
}
