package reload

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestUniquePathsFiltersDuplicatesAndEmptyValues(t *testing.T) {
	got := uniquePaths([]string{"", "/tmp/a", "/tmp/b", "/tmp/a", "/tmp/c", "/tmp/b"})
	require.Equal(t, []string{"/tmp/a", "/tmp/b", "/tmp/c"}, got)
}

func TestWatcherCheckDetectsChangesAndRemovals(t *testing.T) {
	dir := t.TempDir()
	fileA := filepath.Join(dir, "a.yaml")
	fileB := filepath.Join(dir, "b.yaml")
	writeFile(t, fileA, "first")
	writeFile(t, fileB, "second")

	w, err := NewWatcher(fileA, fileB, fileA)
	require.NoError(t, err)
	require.Len(t, w.files, 2)
	require.Empty(t, w.Check())

	writeFile(t, fileA, "first, but longer")
	require.NoError(t, os.Remove(fileB))
	require.Equal(t, []string{fileA, fileB}, w.Check())
	require.Empty(t, w.Check(), "changes are reported once")

	writeFile(t, fileB, "back")
	require.Equal(t, []string{fileB}, w.Check())
}

func TestWatcherDetectsNewerModTime(t *testing.T) {
	path := filepath.Join(t.TempDir(), "regio.yaml")
	writeFile(t, path, "same")
	w, err := NewWatcher(path)
	require.NoError(t, err)

	later := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, later, later))
	require.Equal(t, []string{path}, w.Check())
}

func TestWatcherWatchDeliversChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "regio.yaml")
	writeFile(t, path, "v1")
	w, err := NewWatcher(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes := w.Watch(ctx, 10*time.Millisecond)

	writeFile(t, path, "version two")
	select {
	case changed := <-changes:
		require.Equal(t, []string{path}, changed)
	case <-time.After(2 * time.Second):
		t.Fatal("expected change notification")
	}

	cancel()
	for range changes {
	}
}

func TestNilWatcherCheck(t *testing.T) {
	var w *Watcher
	require.Nil(t, w.Check())
}
