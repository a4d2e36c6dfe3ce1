package watcher

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"availability-watcher/utils"
)

const pattern = "*network-response*.txt"

func startWatcher(t *testing.T, root string, exclude ...string) (chan string, context.CancelFunc, chan error) {
	t.Helper()
	w, err := New(root, Options{
		Pattern:     pattern,
		SettleDelay: 30 * time.Millisecond,
		Exclude:     exclude,
		Logger:      utils.NewLoggerTo(io.Discard, "error"),
	})
	require.NoError(t, err)

	out := make(chan string, 16)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, out) }()
	t.Cleanup(cancel)
	return out, cancel, done
}

func expectPath(t *testing.T, out <-chan string, want string) {
	t.Helper()
	select {
	case got := <-out:
		assert.Equal(t, want, got)
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", want)
	}
}

func expectNothing(t *testing.T, out <-chan string, within time.Duration) {
	t.Helper()
	select {
	case got := <-out:
		t.Fatalf("unexpected event for %s", got)
	case <-time.After(within):
	}
}

func TestWatcherEmitsBacklog(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "2025", "06")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	a := filepath.Join(root, "screen_1_network-response.txt")
	b := filepath.Join(nested, "screen_2_network-response.txt")
	require.NoError(t, os.WriteFile(a, []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(b, []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "screen_1.png"), []byte("png"), 0o644))

	out, _, _ := startWatcher(t, root)

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case p := <-out:
			got[p] = true
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for backlog")
		}
	}
	assert.Equal(t, map[string]bool{a: true, b: true}, got)
	expectNothing(t, out, 150*time.Millisecond)
}

func TestWatcherEmitsLiveFiles(t *testing.T) {
	root := t.TempDir()
	out, _, _ := startWatcher(t, root)
	time.Sleep(50 * time.Millisecond)

	path := filepath.Join(root, "screen_3_network-response.txt")
	require.NoError(t, os.WriteFile(path, []byte(`{"resorts": []}`), 0o644))
	expectPath(t, out, path)

	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0o644))
	expectNothing(t, out, 150*time.Millisecond)

	// Modification is reported again.
	require.NoError(t, os.WriteFile(path, []byte(`{"resorts": [1]}`), 0o644))
	expectPath(t, out, path)
}

func TestWatcherFollowsNewDirectories(t *testing.T) {
	root := t.TempDir()
	out, _, _ := startWatcher(t, root)
	time.Sleep(50 * time.Millisecond)

	dir := filepath.Join(root, "run-2")
	require.NoError(t, os.Mkdir(dir, 0o755))
	time.Sleep(50 * time.Millisecond)
	path := filepath.Join(dir, "screen_4_network-response.txt")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))
	expectPath(t, out, path)
}

func TestWatcherExcludesPaths(t *testing.T) {
	root := t.TempDir()
	excluded := filepath.Join(root, "own_network-response.txt")
	require.NoError(t, os.WriteFile(excluded, []byte("{}"), 0o644))

	out, _, _ := startWatcher(t, root, excluded)
	expectNothing(t, out, 200*time.Millisecond)
}

func TestWatcherStopsOnCancel(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 3; i++ {
		name := filepath.Join(root, "screen_"+string(rune('a'+i))+"_network-response.txt")
		require.NoError(t, os.WriteFile(name, []byte("{}"), 0o644))
	}

	w, err := New(root, Options{Pattern: pattern, SettleDelay: 10 * time.Millisecond, Logger: utils.NewLoggerTo(io.Discard, "error")})
	require.NoError(t, err)

	// Unbuffered and never read: Run blocks on the first send until cancelled.
	out := make(chan string)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, out) }()

	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestNewRejectsBadPattern(t *testing.T) {
	_, err := New(t.TempDir(), Options{Pattern: "[", Logger: utils.NewLoggerTo(io.Discard, "error")})
	assert.Error(t, err)
}
