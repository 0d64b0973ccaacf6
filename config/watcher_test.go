// 文件监听器测试。
package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// eventRecorder 线程安全地收集监听器事件。
type eventRecorder struct {
	mu     sync.Mutex
	events []FileEvent
}

func (r *eventRecorder) record(e FileEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) snapshot() []FileEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]FileEvent, len(r.events))
	copy(out, r.events)
	return out
}

func (r *eventRecorder) waitFor(t *testing.T, want int, timeout time.Duration) []FileEvent {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if events := r.snapshot(); len(events) >= want {
			return events
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d events, got %d", want, len(r.snapshot()))
	return nil
}

func newTestWatcher(t *testing.T, paths []string) (*FileWatcher, *eventRecorder) {
	t.Helper()
	w, err := NewFileWatcher(paths,
		WithPollInterval(10*time.Millisecond),
		WithDebounceDelay(10*time.Millisecond))
	require.NoError(t, err)

	rec := &eventRecorder{}
	w.OnChange(rec.record)
	return w, rec
}

func TestFileWatcherDetectsWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flow.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: a\n"), 0644))

	w, rec := newTestWatcher(t, []string{path})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	// 轮询按修改时间判断变更，拉开足够的时间差
	time.Sleep(30 * time.Millisecond)
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.WriteFile(path, []byte("name: b\n"), 0644))
	require.NoError(t, os.Chtimes(path, future, future))

	events := rec.waitFor(t, 1, 2*time.Second)
	assert.Equal(t, FileOpWrite, events[0].Op)
	assert.Equal(t, path, events[0].Path)
}

func TestFileWatcherDetectsCreateInDir(t *testing.T) {
	dir := t.TempDir()

	w, rec := newTestWatcher(t, []string{dir})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	path := filepath.Join(dir, "new.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: n\n"), 0644))

	events := rec.waitFor(t, 1, 2*time.Second)
	assert.Equal(t, FileOpCreate, events[0].Op)
	assert.Equal(t, path, events[0].Path)
}

func TestFileWatcherDetectsRemove(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flow.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: a\n"), 0644))

	w, rec := newTestWatcher(t, []string{dir})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, os.Remove(path))

	events := rec.waitFor(t, 1, 2*time.Second)
	assert.Equal(t, FileOpRemove, events[0].Op)
}

func TestFileWatcherIgnoresNonWorkflowFiles(t *testing.T) {
	dir := t.TempDir()

	w, rec := newTestWatcher(t, []string{dir})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))
	time.Sleep(100 * time.Millisecond)

	assert.Empty(t, rec.snapshot())
}

func TestFileWatcherStartTwice(t *testing.T) {
	dir := t.TempDir()
	w, _ := newTestWatcher(t, []string{dir})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	assert.Error(t, w.Start(ctx))
	assert.True(t, w.IsRunning())
}

func TestFileWatcherStopIdempotent(t *testing.T) {
	dir := t.TempDir()
	w, _ := newTestWatcher(t, []string{dir})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))

	w.Stop()
	w.Stop()
	assert.False(t, w.IsRunning())
}

func TestFileOpString(t *testing.T) {
	assert.Equal(t, "CREATE", FileOpCreate.String())
	assert.Equal(t, "WRITE", FileOpWrite.String())
	assert.Equal(t, "REMOVE", FileOpRemove.String())
	assert.Equal(t, "UNKNOWN", FileOp(99).String())
}
