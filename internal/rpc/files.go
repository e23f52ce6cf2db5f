package rpc

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"sync"
	"time"
)

// FileEntry is one directory entry returned by explore_filesystem.
type FileEntry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"isDir"`
	Size  int64  `json:"size"`
}

// exploreFilesystem lists cwd's immediate children, for the client's file
// browser (spec §6.2's files & git surface).
func exploreFilesystem(cwd string) ([]FileEntry, error) {
	if cwd == "" {
		return nil, errValidation("rpc: explore_filesystem requires cwd")
	}
	entries, err := os.ReadDir(cwd)
	if err != nil {
		return nil, fmt.Errorf("rpc: read dir %q: %w", cwd, err)
	}

	out := make([]FileEntry, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		var size int64
		if err == nil {
			size = info.Size()
		}
		out = append(out, FileEntry{Name: e.Name(), IsDir: e.IsDir(), Size: size})
	}
	return out, nil
}

const downloadTokenTTL = 5 * time.Minute

type downloadTokenEntry struct {
	path      string
	expiresAt time.Time
}

var (
	downloadTokensMu sync.Mutex
	downloadTokens   = make(map[string]downloadTokenEntry)
)

// issueDownloadToken mints a short-lived, single-use-path token for
// request_download_token, so a client can retrieve a file over a plain
// HTTP GET without its WebSocket credentials.
func issueDownloadToken(path string) (string, time.Time) {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	token := hex.EncodeToString(buf)
	expiresAt := time.Now().Add(downloadTokenTTL)

	downloadTokensMu.Lock()
	downloadTokens[token] = downloadTokenEntry{path: path, expiresAt: expiresAt}
	downloadTokensMu.Unlock()

	return token, expiresAt
}

// ResolveDownloadToken validates token and returns its backing path, for
// the HTTP download route registered alongside the WebSocket gateway.
func ResolveDownloadToken(token string) (string, bool) {
	downloadTokensMu.Lock()
	defer downloadTokensMu.Unlock()

	entry, ok := downloadTokens[token]
	if !ok {
		return "", false
	}
	if time.Now().After(entry.expiresAt) {
		delete(downloadTokens, token)
		return "", false
	}
	return entry.path, true
}
