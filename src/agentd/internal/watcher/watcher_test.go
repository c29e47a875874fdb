package watcher

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type batchCollector struct {
	mu      sync.Mutex
	batches [][]protocol.FileEvent
	notify  chan struct{}
}

func newBatchCollector() *batchCollector {
	return &batchCollector{notify: make(chan struct{}, 16)}
}

func (c *batchCollector) handle(changes []protocol.FileEvent) {
	c.mu.Lock()
	c.batches = append(c.batches, changes)
	c.mu.Unlock()
	c.notify <- struct{}{}
}

func (c *batchCollector) waitForBatch(t *testing.T) []protocol.FileEvent {
	t.Helper()
	select {
	case <-c.notify:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a batch")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.batches[len(c.batches)-1]
}

func changesByURI(changes []protocol.FileEvent) map[uri.URI]protocol.FileChangeType {
	result := make(map[uri.URI]protocol.FileChangeType, len(changes))
	for _, change := range changes {
		result[change.URI] = change.Type
	}
	return result
}

func TestWatcherBatchesEvents(t *testing.T) {
	dir := t.TempDir()
	collector := newBatchCollector()

	w := New(dir, collector.handle, zap.NewNop().Sugar(), WithDebounce(50*time.Millisecond))
	require.NoError(t, w.Start())
	defer w.Stop()

	created := filepath.Join(dir, "a.go")
	require.NoError(t, os.WriteFile(created, []byte("package a\n"), 0644))

	batch := collector.waitForBatch(t)
	byURI := changesByURI(batch)
	assert.Equal(t, protocol.FileChangeTypeCreated, byURI[uri.File(created)])
}

func TestWatcherCoalescesCreateAndWrite(t *testing.T) {
	dir := t.TempDir()
	collector := newBatchCollector()

	w := New(dir, collector.handle, zap.NewNop().Sugar(), WithDebounce(100*time.Millisecond))
	require.NoError(t, w.Start())
	defer w.Stop()

	name := filepath.Join(dir, "b.go")
	require.NoError(t, os.WriteFile(name, []byte("package b\n"), 0644))
	require.NoError(t, os.WriteFile(name, []byte("package b // edited\n"), 0644))

	batch := collector.waitForBatch(t)
	byURI := changesByURI(batch)
	assert.Equal(t, protocol.FileChangeTypeCreated, byURI[uri.File(name)])
	assert.Len(t, byURI, 1)
}

func TestWatcherReportsDeletes(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Join(dir, "c.go")
	require.NoError(t, os.WriteFile(name, []byte("package c\n"), 0644))

	collector := newBatchCollector()
	w := New(dir, collector.handle, zap.NewNop().Sugar(), WithDebounce(50*time.Millisecond))
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.Remove(name))

	batch := collector.waitForBatch(t)
	byURI := changesByURI(batch)
	assert.Equal(t, protocol.FileChangeTypeDeleted, byURI[uri.File(name)])
}

func TestWatcherPicksUpNewDirectories(t *testing.T) {
	dir := t.TempDir()
	collector := newBatchCollector()

	w := New(dir, collector.handle, zap.NewNop().Sugar(), WithDebounce(50*time.Millisecond))
	require.NoError(t, w.Start())
	defer w.Stop()

	sub := filepath.Join(dir, "pkg")
	require.NoError(t, os.Mkdir(sub, 0755))

	// Registration of the new directory races with the write; retry until the
	// nested file shows up in a batch.
	nested := filepath.Join(sub, "d.go")
	require.Eventually(t, func() bool {
		_ = os.WriteFile(nested, []byte("package pkg\n"), 0644)
		select {
		case <-collector.notify:
		default:
			return false
		}
		collector.mu.Lock()
		defer collector.mu.Unlock()
		for _, batch := range collector.batches {
			for _, change := range batch {
				if change.URI == uri.File(nested) {
					return true
				}
			}
		}
		return false
	}, 5*time.Second, 100*time.Millisecond)
}

func TestWatcherStopIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	w := New(dir, func([]protocol.FileEvent) {}, zap.NewNop().Sugar())
	require.NoError(t, w.Start())
	w.Stop()
	w.Stop()
}
