// Package hoststate owns the on-disk layout under $PASEO_HOME: the stable
// server identifier, the agents directory, and the daemon log file path.
package hoststate

import (
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const serverIDAlphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
const serverIDLength = 12

// State describes the resolved $PASEO_HOME layout.
type State struct {
	Home      string
	ServerID  string
	AgentsDir string
	ModelsDir string
	LogPath   string
}

// Open creates the $PASEO_HOME directory layout if missing, loads or
// generates the persisted server-id, and returns the resolved State.
func Open(home string) (*State, error) {
	if home == "" {
		return nil, fmt.Errorf("hoststate: home path is empty")
	}

	agentsDir := filepath.Join(home, "agents")
	modelsDir := filepath.Join(home, "models")
	for _, dir := range []string{home, agentsDir, modelsDir} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("hoststate: create %s: %w", dir, err)
		}
	}

	serverID, err := loadOrCreateServerID(filepath.Join(home, "server-id"))
	if err != nil {
		return nil, err
	}

	return &State{
		Home:      home,
		ServerID:  serverID,
		AgentsDir: agentsDir,
		ModelsDir: modelsDir,
		LogPath:   filepath.Join(home, "daemon.log"),
	}, nil
}

// AgentDir returns the persisted snapshot/timeline-shard directory for a
// single agent id.
func (s *State) AgentDir(agentID string) string {
	return filepath.Join(s.AgentsDir, agentID)
}

func loadOrCreateServerID(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		id := strings.TrimSpace(string(data))
		if id != "" {
			return id, nil
		}
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("hoststate: read server-id: %w", err)
	}

	id, err := generateServerID()
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(id), 0o600); err != nil {
		return "", fmt.Errorf("hoststate: write server-id: %w", err)
	}
	return id, nil
}

func generateServerID() (string, error) {
	buf := make([]byte, serverIDLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("hoststate: generate server-id: %w", err)
	}
	out := make([]byte, serverIDLength)
	for i, b := range buf {
		out[i] = serverIDAlphabet[int(b)%len(serverIDAlphabet)]
	}
	return string(out), nil
}
