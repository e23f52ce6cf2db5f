// Package claude adapts the Claude Code CLI to the provider.Client contract
// over the real Agent Client Protocol SDK (github.com/coder/acp-go-sdk),
// since Claude is the one provider that ships a maintained ACP
// implementation. The subprocess is spawned here and its stdin/stdout piped
// directly into an acp.ClientSideConnection.
package claude

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	"github.com/coder/acp-go-sdk"

	"github.com/paseohq/paseod/internal/provider"
	"github.com/paseohq/paseod/internal/timeline"
)

// Config configures the Claude Code subprocess invocation.
type Config struct {
	Command string
	Args    []string
	Env     map[string]string
}

// New constructs a provider.Factory for Claude.
func New(cfg Config) provider.Factory {
	return func(ctx context.Context, opts provider.StartOptions) (provider.Client, error) {
		return newClient(ctx, cfg, opts)
	}
}

type client struct {
	cfg  Config
	cmd  *exec.Cmd
	conn *acp.ClientSideConnection
	side *sideClient

	mu      sync.Mutex
	session string
	caps    acp.AgentCapabilities
}

func newClient(ctx context.Context, cfg Config, opts provider.StartOptions) (*client, error) {
	cmd := exec.CommandContext(ctx, cfg.Command, cfg.Args...)
	cmd.Dir = opts.CWD
	env := os.Environ()
	for k, v := range cfg.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	if opts.SocketPath != "" {
		env = append(env, "PASEO_MCP_SOCKET="+opts.SocketPath)
	}
	cmd.Env = env

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("claude: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("claude: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("claude: start %s: %w", cfg.Command, err)
	}

	c := &client{cfg: cfg, cmd: cmd, side: newSideClient(opts.CWD)}

	c.conn = acp.NewClientSideConnection(c.side, stdin, stdout)
	c.conn.SetLogger(slog.Default().With("component", "acp-claude"))

	resp, err := c.conn.Initialize(ctx, acp.InitializeRequest{
		ProtocolVersion: acp.ProtocolVersionNumber,
		ClientInfo: &acp.Implementation{
			Name:    "paseod",
			Version: "1.0.0",
		},
	})
	if err != nil {
		_ = cmd.Process.Kill()
		return nil, fmt.Errorf("claude: initialize handshake: %w", err)
	}
	c.caps = resp.AgentCapabilities

	return c, nil
}

func (c *client) Tag() provider.Tag { return provider.TagClaude }

func (c *client) SupportedModes() []string {
	return []string{"default", "plan", "acceptEdits", "bypassPermissions"}
}

func (c *client) SessionPersistenceKind() provider.SessionPersistenceKind {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.caps.LoadSession {
		return provider.PersistenceByID
	}
	return provider.PersistenceNone
}

func (c *client) ListModels(ctx context.Context) ([]string, error) {
	return []string{"claude-sonnet-4-6", "claude-opus-4-6"}, nil
}

func (c *client) Close(ctx context.Context) error {
	if c.cmd.Process == nil {
		return nil
	}
	return c.cmd.Process.Kill()
}

func (c *client) StartTurn(ctx context.Context, opts provider.StartOptions, text string, images []timeline.Image) (provider.Turn, error) {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()

	if session == "" {
		if opts.ResumeSessionID != "" && c.caps.LoadSession {
			if _, err := c.conn.LoadSession(ctx, acp.LoadSessionRequest{SessionId: acp.SessionId(opts.ResumeSessionID)}); err != nil {
				return nil, fmt.Errorf("claude: load session: %w", err)
			}
			session = opts.ResumeSessionID
		} else {
			resp, err := c.conn.NewSession(ctx, acp.NewSessionRequest{Cwd: opts.CWD})
			if err != nil {
				return nil, fmt.Errorf("claude: new session: %w", err)
			}
			session = string(resp.SessionId)
		}
		c.mu.Lock()
		c.session = session
		c.mu.Unlock()
	}

	blocks := []acp.ContentBlock{acp.TextBlock(text)}
	for _, img := range images {
		blocks = append(blocks, acp.ImageBlock(img.MimeType, img.Data))
	}

	t := &turn{
		client:    c,
		sessionID: session,
		events:    make(chan provider.Event, 32),
		done:      make(chan struct{}),
	}
	c.side.attach(t)

	go t.run(ctx, blocks)

	return t, nil
}

type turn struct {
	client    *client
	sessionID string
	events    chan provider.Event
	done      chan struct{}

	mu         sync.Mutex
	permission *pendingPermission
}

type pendingPermission struct {
	respond func(acp.RequestPermissionResponse)
}

func (t *turn) run(ctx context.Context, blocks []acp.ContentBlock) {
	defer close(t.events)
	defer close(t.done)

	_, err := t.client.conn.Prompt(ctx, acp.PromptRequest{
		SessionId: acp.SessionId(t.sessionID),
		Prompt:    blocks,
	})
	if err != nil {
		t.events <- provider.Event{Kind: provider.EventTurnFailed, TurnError: err.Error()}
		return
	}
	t.events <- provider.Event{Kind: provider.EventTurnCompleted}
}

func (t *turn) Events() <-chan provider.Event { return t.events }

func (t *turn) ResolvePermission(ctx context.Context, decision provider.PermissionDecision) error {
	t.mu.Lock()
	pending := t.permission
	t.permission = nil
	t.mu.Unlock()

	if pending == nil {
		return fmt.Errorf("claude: no pending permission request")
	}

	if !decision.Allow {
		pending.respond(acp.RequestPermissionResponse{
			Outcome: acp.RequestPermissionOutcome{Cancelled: &acp.RequestPermissionOutcomeCancelled{}},
		})
		return nil
	}

	pending.respond(acp.RequestPermissionResponse{
		Outcome: acp.RequestPermissionOutcome{
			Selected: &acp.RequestPermissionOutcomeSelected{OptionId: acp.PermissionOptionId("allow")},
		},
	})
	return nil
}

func (t *turn) Cancel(ctx context.Context) error {
	return t.client.conn.Cancel(ctx, acp.CancelNotification{SessionId: acp.SessionId(t.sessionID)})
}
