package hoststate

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenCreatesLayoutAndPersistsServerID(t *testing.T) {
	home := t.TempDir()

	s1, err := Open(home)
	require.NoError(t, err)
	require.Len(t, s1.ServerID, serverIDLength)
	require.DirExists(t, s1.AgentsDir)
	require.DirExists(t, s1.ModelsDir)

	s2, err := Open(home)
	require.NoError(t, err)
	require.Equal(t, s1.ServerID, s2.ServerID, "server-id must be stable across restarts")
}

func TestAgentDir(t *testing.T) {
	s := &State{AgentsDir: "/tmp/paseo/agents"}
	require.Equal(t, filepath.Join("/tmp/paseo/agents", "abc123"), s.AgentDir("abc123"))
}
