// Package opencode adapts the OpenCode CLI to the provider.Client contract.
// It shares acpwire's JSON-RPC wire format with the Codex adapter (spec §6.4
// draws no distinction between the two at the wire level) but is kept as a
// separate package since OpenCode's session lifecycle has no load/resume
// call: every turn on a fresh cwd starts a new session.
package opencode

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/paseohq/paseod/internal/provider"
	"github.com/paseohq/paseod/internal/provider/acpwire"
	"github.com/paseohq/paseod/internal/timeline"
)

// Config configures the OpenCode subprocess invocation.
type Config struct {
	Command string
	Args    []string
	Env     map[string]string
}

type client struct {
	cfg Config
}

// New constructs a provider.Factory for OpenCode.
func New(cfg Config) provider.Factory {
	return func(ctx context.Context, opts provider.StartOptions) (provider.Client, error) {
		return &client{cfg: cfg}, nil
	}
}

func (c *client) Tag() provider.Tag { return provider.TagOpenCode }

func (c *client) SupportedModes() []string {
	return []string{"build", "plan"}
}

func (c *client) SessionPersistenceKind() provider.SessionPersistenceKind {
	return provider.PersistenceNone
}

func (c *client) ListModels(ctx context.Context) ([]string, error) {
	return nil, nil
}

func (c *client) Close(ctx context.Context) error { return nil }

func (c *client) StartTurn(ctx context.Context, opts provider.StartOptions, text string, images []timeline.Image) (provider.Turn, error) {
	env := os.Environ()
	for k, v := range c.cfg.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	if opts.SocketPath != "" {
		env = append(env, "PASEO_MCP_SOCKET="+opts.SocketPath)
	}

	tr, err := acpwire.Start(ctx, c.cfg.Command, c.cfg.Args, opts.CWD, env)
	if err != nil {
		return nil, fmt.Errorf("opencode: start subprocess: %w", err)
	}

	resp, err := tr.Call(acpwire.MethodSessionNew, acpwire.SessionNewParams{Cwd: opts.CWD})
	if err != nil {
		_ = tr.Close()
		return nil, fmt.Errorf("opencode: session/new: %w", err)
	}
	var result acpwire.SessionNewResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		_ = tr.Close()
		return nil, fmt.Errorf("opencode: decode session/new result: %w", err)
	}

	imagesB64 := make([]string, 0, len(images))
	for _, img := range images {
		imagesB64 = append(imagesB64, img.Data)
	}

	t := &turn{tr: tr, sessionID: result.SessionID, events: make(chan provider.Event, 32)}
	go t.pump()

	if err := tr.Notify(acpwire.MethodSessionPrompt, acpwire.SessionPromptParams{
		SessionID: result.SessionID,
		Text:      text,
		ImagesB64: imagesB64,
	}); err != nil {
		_ = tr.Close()
		return nil, fmt.Errorf("opencode: session/prompt: %w", err)
	}

	return t, nil
}

type turn struct {
	tr        *acpwire.Transport
	sessionID string
	events    chan provider.Event

	pendingPermissionID interface{}
}

func (t *turn) Events() <-chan provider.Event { return t.events }

func (t *turn) pump() {
	defer close(t.events)

	for line := range t.tr.Lines() {
		frame, err := acpwire.Decode(line)
		if err != nil {
			continue
		}

		switch {
		case frame.Notification != nil && frame.Notification.Method == acpwire.NotificationSessionUpdate:
			var update acpwire.SessionUpdate
			if err := json.Unmarshal(frame.Notification.Params, &update); err != nil {
				continue
			}
			if ev, ok := translateUpdate(update); ok {
				t.events <- ev
				if update.Type == "turn_completed" || update.Type == "turn_failed" {
					return
				}
			}

		case frame.Request != nil && frame.Request.Method == acpwire.MethodRequestPermission:
			var params acpwire.RequestPermissionParams
			if err := json.Unmarshal(frame.Request.Params, &params); err != nil {
				continue
			}
			var input map[string]interface{}
			if len(params.Input) > 0 {
				_ = json.Unmarshal(params.Input, &input)
			}
			t.events <- provider.Event{
				Kind:                  provider.EventPermissionRequest,
				PermissionName:        params.Name,
				PermissionTitle:       params.Title,
				PermissionDescription: params.Description,
				PermissionInput:       input,
			}
			t.pendingPermissionID = frame.Request.ID
		}
	}

	t.events <- provider.Event{Kind: provider.EventTurnFailed, TurnError: "provider exited"}
}

func translateUpdate(update acpwire.SessionUpdate) (provider.Event, bool) {
	switch update.Type {
	case "timeline_item":
		item := timeline.Item{
			Type:   timeline.ItemType(update.ItemType),
			Text:   update.Text,
			CallID: update.CallID,
			Name:   update.ToolName,
			Status: timeline.ToolCallStatus(update.Status),
		}
		if update.DetailKind != "" {
			item.Detail = &timeline.ToolCallDetail{Kind: timeline.ToolCallDetailKind(update.DetailKind)}
		}
		return provider.Event{Kind: provider.EventTimelineItem, Item: item}, true
	case "turn_completed":
		return provider.Event{Kind: provider.EventTurnCompleted}, true
	case "turn_failed":
		return provider.Event{Kind: provider.EventTurnFailed, TurnError: update.Error}, true
	default:
		return provider.Event{}, false
	}
}

func (t *turn) ResolvePermission(ctx context.Context, decision provider.PermissionDecision) error {
	outcome := "deny"
	if decision.Allow {
		outcome = "allow"
		if decision.ModifiedInput != nil {
			outcome = "allow_with_modified_input"
		}
	}
	modifiedJSON, _ := json.Marshal(decision.ModifiedInput)
	return t.tr.Reply(t.pendingPermissionID, acpwire.RequestPermissionResult{
		Outcome:       outcome,
		ModifiedInput: modifiedJSON,
		DenyMessage:   decision.DenyMessage,
	})
}

func (t *turn) Cancel(ctx context.Context) error {
	return t.tr.Notify(acpwire.MethodSessionCancel, map[string]string{"sessionId": t.sessionID})
}
