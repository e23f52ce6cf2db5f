// Package mcpbridge implements the self-id bridge (spec §6.4): a
// per-agent UNIX-domain socket that gives a provider subprocess exactly
// one in-process tool, set_title, routed back into the agent manager.
// The bridge never carries general MCP traffic; it exists solely so a
// user-facing agent can rename itself mid-turn.
package mcpbridge

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	logger "github.com/paseohq/paseod/internal/logging"
)

// SelfTitleSetter is the subset of agent.Manager the bridge calls into.
// Declared locally to avoid mcpbridge depending on agent's full surface.
type SelfTitleSetter interface {
	SetSelfTitle(agentID, title string) error
}

// Bridge owns one UNIX-domain socket directory, handing out a fresh
// listening socket per agent and serving the set_title tool over it.
type Bridge struct {
	dir     string
	manager SelfTitleSetter
	logger  *logger.Logger

	mu        sync.Mutex
	listeners map[string]net.Listener
}

// New creates a Bridge whose per-agent sockets live under dir (typically
// the host state directory's "mcp" subdirectory).
func New(dir string, manager SelfTitleSetter, log *logger.Logger) *Bridge {
	return &Bridge{
		dir:       dir,
		manager:   manager,
		listeners: make(map[string]net.Listener),
		logger:    log.WithFields(zap.String("component", "mcp-bridge")),
	}
}

// Serve opens agentID's socket and accepts connections until ctx is
// canceled, returning the socket path to pass as provider.StartOptions.SocketPath.
func (b *Bridge) Serve(ctx context.Context, agentID string) (string, error) {
	path := filepath.Join(b.dir, agentID+".sock")

	b.mu.Lock()
	if _, ok := b.listeners[agentID]; ok {
		b.mu.Unlock()
		return path, nil
	}
	b.mu.Unlock()

	if err := os.MkdirAll(b.dir, 0o700); err != nil {
		return "", fmt.Errorf("mcpbridge: create socket dir: %w", err)
	}
	_ = os.Remove(path)

	ln, err := net.Listen("unix", path)
	if err != nil {
		return "", fmt.Errorf("mcpbridge: listen %s: %w", path, err)
	}

	b.mu.Lock()
	b.listeners[agentID] = ln
	b.mu.Unlock()

	mcpServer := server.NewMCPServer("paseod-self-id", "1.0.0", server.WithToolCapabilities(false))
	mcpServer.AddTool(
		mcp.NewTool("set_title",
			mcp.WithDescription("Set this agent's display title."),
			mcp.WithString("title", mcp.Required(), mcp.Description("The new title")),
		),
		b.setTitleHandler(agentID),
	)
	stdio := server.NewStdioServer(mcpServer)

	go func() {
		<-ctx.Done()
		b.Close(agentID)
	}()

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer func() { _ = conn.Close() }()
				if err := stdio.Listen(ctx, conn, conn); err != nil {
					b.logger.Debug("mcp bridge connection closed", zap.String("agent_id", agentID), zap.Error(err))
				}
			}()
		}
	}()

	return path, nil
}

func (b *Bridge) setTitleHandler(agentID string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		title, err := req.RequireString("title")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if err := b.manager.SetSelfTitle(agentID, title); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText("title updated"), nil
	}
}

// Close tears down agentID's socket, if open.
func (b *Bridge) Close(agentID string) {
	b.mu.Lock()
	ln, ok := b.listeners[agentID]
	delete(b.listeners, agentID)
	b.mu.Unlock()

	if ok {
		_ = ln.Close()
		_ = os.Remove(filepath.Join(b.dir, agentID+".sock"))
	}
}

// CloseAll tears down every open socket, for shutdown.
func (b *Bridge) CloseAll() {
	b.mu.Lock()
	ids := make([]string, 0, len(b.listeners))
	for id := range b.listeners {
		ids = append(ids, id)
	}
	b.mu.Unlock()

	for _, id := range ids {
		b.Close(id)
	}
}
