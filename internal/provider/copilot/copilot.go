// Package copilot adapts the GitHub Copilot CLI to the provider.Client
// contract over github.com/github/copilot-sdk/go, mirroring the teacher's
// pkg/copilot client wrapper (session lifecycle, event subscription,
// permission callback) but translating session events into timeline.Items
// instead of the teacher's own stream types.
package copilot

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/github/copilot-sdk/go"

	logger "github.com/paseohq/paseod/internal/logging"
	"github.com/paseohq/paseod/internal/provider"
	"github.com/paseohq/paseod/internal/timeline"
)

// Config configures the Copilot SDK client.
type Config struct {
	// CLIUrl is the address of an externally managed Copilot CLI server.
	// When empty the SDK spawns and manages its own subprocess over stdio.
	CLIUrl string
	Model  string
}

type client struct {
	cfg    Config
	log    *logger.Logger
	sdk    *copilot.Client

	mu      sync.Mutex
	session *copilot.Session
}

// New constructs a provider.Factory for Copilot.
func New(cfg Config, log *logger.Logger) provider.Factory {
	if cfg.Model == "" {
		cfg.Model = "gpt-4.1"
	}
	return func(ctx context.Context, opts provider.StartOptions) (provider.Client, error) {
		var sdk *copilot.Client
		if cfg.CLIUrl != "" {
			sdk = copilot.NewClient(&copilot.ClientOptions{CLIUrl: cfg.CLIUrl, LogLevel: "error"})
		} else {
			sdk = copilot.NewClient(nil)
		}
		return &client{cfg: cfg, log: log, sdk: sdk}, nil
	}
}

func (c *client) Tag() provider.Tag { return provider.TagCopilot }

func (c *client) SupportedModes() []string {
	return []string{"default"}
}

func (c *client) SessionPersistenceKind() provider.SessionPersistenceKind {
	return provider.PersistenceByID
}

func (c *client) ListModels(ctx context.Context) ([]string, error) {
	return []string{"gpt-4.1", "claude-sonnet-4.5", "gpt-5.1"}, nil
}

func (c *client) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		_ = c.session.Destroy()
		c.session = nil
	}
	if c.sdk != nil {
		c.sdk.Stop()
	}
	return nil
}

func (c *client) StartTurn(ctx context.Context, opts provider.StartOptions, text string, images []timeline.Image) (provider.Turn, error) {
	t := &turn{events: make(chan provider.Event, 32)}

	c.mu.Lock()
	session := c.session
	c.mu.Unlock()

	permHandler := copilot.PermissionHandler(func(inv copilot.PermissionInvocation) copilot.PermissionRequestResult {
		return t.requestPermission(inv)
	})

	var err error
	if session == nil {
		if opts.ResumeSessionID != "" {
			session, err = c.sdk.ResumeSessionWithOptions(opts.ResumeSessionID, &copilot.ResumeSessionConfig{
				Streaming:           true,
				OnPermissionRequest: permHandler,
			})
		} else {
			session, err = c.sdk.CreateSession(&copilot.SessionConfig{
				Model:               c.cfg.Model,
				Streaming:           true,
				OnPermissionRequest: permHandler,
			})
		}
		if err != nil {
			return nil, fmt.Errorf("copilot: start session: %w", err)
		}
		c.mu.Lock()
		c.session = session
		c.mu.Unlock()
	}

	t.unsubscribe = session.On(func(ev copilot.SessionEvent) { t.handle(ev) })
	t.session = session

	if _, err := session.Send(copilot.MessageOptions{Prompt: text}); err != nil {
		return nil, fmt.Errorf("copilot: send: %w", err)
	}

	return t, nil
}

type turn struct {
	session     *copilot.Session
	unsubscribe func()
	events      chan provider.Event

	mu      sync.Mutex
	pending chan copilot.PermissionRequestResult
}

func (t *turn) Events() <-chan provider.Event { return t.events }

func (t *turn) handle(ev copilot.SessionEvent) {
	switch ev.Type {
	case copilot.AssistantMessageDelta:
		t.events <- provider.Event{Kind: provider.EventTimelineItem, Item: timeline.Item{
			Type:    timeline.ItemAssistantMessage,
			Text:    textFromData(ev.Data),
			Partial: true,
		}}
	case copilot.AssistantMessage:
		t.events <- provider.Event{Kind: provider.EventTimelineItem, Item: timeline.Item{
			Type: timeline.ItemAssistantMessage,
			Text: textFromData(ev.Data),
		}}
	case copilot.ToolExecutionStart:
		t.events <- provider.Event{Kind: provider.EventTimelineItem, Item: timeline.Item{
			Type:   timeline.ItemToolCall,
			Name:   toolNameFromData(ev.Data),
			Status: timeline.ToolCallRunning,
		}}
	case copilot.ToolExecutionComplete:
		t.events <- provider.Event{Kind: provider.EventTimelineItem, Item: timeline.Item{
			Type:   timeline.ItemToolCall,
			Name:   toolNameFromData(ev.Data),
			Status: timeline.ToolCallCompleted,
		}}
	case copilot.AssistantTurnEnd:
		t.events <- provider.Event{Kind: provider.EventTurnCompleted}
		if t.unsubscribe != nil {
			t.unsubscribe()
		}
		close(t.events)
	case copilot.SessionError:
		t.events <- provider.Event{Kind: provider.EventTurnFailed, TurnError: textFromData(ev.Data)}
		if t.unsubscribe != nil {
			t.unsubscribe()
		}
		close(t.events)
	}
}

func textFromData(data copilot.Data) string {
	b, err := json.Marshal(data)
	if err != nil {
		return ""
	}
	var probe struct {
		Text string `json:"text"`
	}
	_ = json.Unmarshal(b, &probe)
	return probe.Text
}

func toolNameFromData(data copilot.Data) string {
	b, err := json.Marshal(data)
	if err != nil {
		return ""
	}
	var probe struct {
		Name string `json:"name"`
		Tool string `json:"tool"`
	}
	_ = json.Unmarshal(b, &probe)
	if probe.Name != "" {
		return probe.Name
	}
	return probe.Tool
}

func (t *turn) requestPermission(inv copilot.PermissionInvocation) copilot.PermissionRequestResult {
	result := make(chan copilot.PermissionRequestResult, 1)
	t.mu.Lock()
	t.pending = result
	t.mu.Unlock()

	t.events <- provider.Event{
		Kind:           provider.EventPermissionRequest,
		PermissionName: inv.Name,
	}

	return <-result
}

func (t *turn) ResolvePermission(ctx context.Context, decision provider.PermissionDecision) error {
	t.mu.Lock()
	pending := t.pending
	t.pending = nil
	t.mu.Unlock()

	if pending == nil {
		return fmt.Errorf("copilot: no pending permission request")
	}

	pending <- copilot.PermissionRequestResult{Approved: decision.Allow}
	return nil
}

func (t *turn) Cancel(ctx context.Context) error {
	if t.session == nil {
		return nil
	}
	return t.session.Abort()
}
