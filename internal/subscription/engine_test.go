package subscription

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	logger "github.com/paseohq/paseod/internal/logging"
	"github.com/paseohq/paseod/internal/session"
	"github.com/paseohq/paseod/internal/wsproto"
)

func newTestEngineLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "text", OutputPath: "stdout"})
	require.NoError(t, err)
	return log
}

func TestCheckoutStatusReusesDiffPlumbing(t *testing.T) {
	dir := initRepo(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.txt"), []byte("x\n"), 0o644))

	e := NewEngine(session.NewHub(wsproto.NewDispatcher(), newTestEngineLogger(t)), newTestEngineLogger(t))

	diffs, err := e.CheckoutStatus(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, diffs, 1)
}

func TestHighlightedDiffReturnsHunksForModifiedFile(t *testing.T) {
	dir := initRepo(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "committed.txt"), []byte("hello\nworld\n"), 0o644))

	e := NewEngine(session.NewHub(wsproto.NewDispatcher(), newTestEngineLogger(t)), newTestEngineLogger(t))

	hunks, err := e.HighlightedDiff(context.Background(), dir, "committed.txt")
	require.NoError(t, err)
	require.NotEmpty(t, hunks)
}

func TestSubscribeCheckoutDiffSharesWatcherAcrossModes(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	dir := initRepo(t)

	hub := session.NewHub(wsproto.NewDispatcher(), newTestEngineLogger(t))
	e := NewEngine(hub, newTestEngineLogger(t))

	clientA := session.NewClient("a", nil, hub, newTestEngineLogger(t))
	clientB := session.NewClient("b", nil, hub, newTestEngineLogger(t))

	require.NoError(t, e.SubscribeCheckoutDiff(context.Background(), clientA, "sub-a", dir, ModeUncommitted))
	require.NoError(t, e.SubscribeCheckoutDiff(context.Background(), clientB, "sub-b", dir, ModeCommittedVsBase))

	e.mu.Lock()
	tr, ok := e.trees[dir]
	e.mu.Unlock()
	require.True(t, ok)
	require.Equal(t, 2, tr.refCount)

	e.UnsubscribeCheckoutDiff(clientA, "sub-a", dir)
	e.mu.Lock()
	_, stillPresent := e.trees[dir]
	e.mu.Unlock()
	require.True(t, stillPresent)

	e.UnsubscribeCheckoutDiff(clientB, "sub-b", dir)
	require.Eventually(t, func() bool {
		e.mu.Lock()
		defer e.mu.Unlock()
		_, present := e.trees[dir]
		return !present
	}, time.Second, 10*time.Millisecond)
}
