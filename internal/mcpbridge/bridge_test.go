package mcpbridge

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	logger "github.com/paseohq/paseod/internal/logging"
)

func newTestBridgeLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "text", OutputPath: "stdout"})
	require.NoError(t, err)
	return log
}

type fakeSetter struct {
	titles map[string]string
	err    error
}

func (f *fakeSetter) SetSelfTitle(agentID, title string) error {
	if f.err != nil {
		return f.err
	}
	if f.titles == nil {
		f.titles = make(map[string]string)
	}
	f.titles[agentID] = title
	return nil
}

func TestServeCreatesSocketAndIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	b := New(dir, &fakeSetter{}, newTestBridgeLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	path, err := b.Serve(ctx, "agent-1")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "agent-1.sock"), path)

	_, statErr := os.Stat(path)
	require.NoError(t, statErr)

	again, err := b.Serve(ctx, "agent-1")
	require.NoError(t, err)
	require.Equal(t, path, again)
}

func TestCloseRemovesSocket(t *testing.T) {
	dir := t.TempDir()
	b := New(dir, &fakeSetter{}, newTestBridgeLogger(t))

	path, err := b.Serve(context.Background(), "agent-1")
	require.NoError(t, err)

	b.Close("agent-1")

	require.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return os.IsNotExist(err)
	}, time.Second, 10*time.Millisecond)
}

func TestServeIsScopedPerAgent(t *testing.T) {
	dir := t.TempDir()
	b := New(dir, &fakeSetter{}, newTestBridgeLogger(t))

	pathA, err := b.Serve(context.Background(), "agent-a")
	require.NoError(t, err)
	pathB, err := b.Serve(context.Background(), "agent-b")
	require.NoError(t, err)

	require.NotEqual(t, pathA, pathB)

	b.CloseAll()
	require.Eventually(t, func() bool {
		_, errA := os.Stat(pathA)
		_, errB := os.Stat(pathB)
		return os.IsNotExist(errA) && os.IsNotExist(errB)
	}, time.Second, 10*time.Millisecond)
}
