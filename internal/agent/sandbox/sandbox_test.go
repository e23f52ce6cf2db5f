package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/paseohq/paseod/internal/config"
	logger "github.com/paseohq/paseod/internal/logging"
)

func newTestSandboxLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "text", OutputPath: "stdout"})
	require.NoError(t, err)
	return log
}

func TestNewClientWithExplicitHostSucceeds(t *testing.T) {
	cli, err := NewClient(config.DockerConfig{Enabled: true, Host: "unix:///var/run/docker.sock"}, newTestSandboxLogger(t))
	require.NoError(t, err)
	require.NotNil(t, cli)
	require.NoError(t, cli.Close())
}

func TestPingFailsAgainstUnreachableDaemon(t *testing.T) {
	cli, err := NewClient(config.DockerConfig{Enabled: true, Host: "unix:///tmp/paseod-test-no-such-docker.sock"}, newTestSandboxLogger(t))
	require.NoError(t, err)
	defer cli.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	err = cli.Ping(ctx)
	require.Error(t, err)
}
