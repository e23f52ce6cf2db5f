package claude

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/coder/acp-go-sdk"

	"github.com/paseohq/paseod/internal/provider"
	"github.com/paseohq/paseod/internal/timeline"
)

// sideClient implements acp.Client: the callbacks the agent subprocess
// invokes on the host (permission requests, session updates, file and
// terminal access). One sideClient is bound to one provider subprocess and
// forwards every update to whichever turn is currently attached.
type sideClient struct {
	workspaceRoot string

	mu          sync.Mutex
	activeTurn  *turn
}

func newSideClient(workspaceRoot string) *sideClient {
	return &sideClient{workspaceRoot: workspaceRoot}
}

func (s *sideClient) attach(t *turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeTurn = t
}

func (s *sideClient) current() *turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeTurn
}

// RequestPermission parks the in-flight turn on a permission request and
// blocks until ResolvePermission is called with the client's decision.
func (s *sideClient) RequestPermission(ctx context.Context, p acp.RequestPermissionRequest) (acp.RequestPermissionResponse, error) {
	t := s.current()
	if t == nil {
		return acp.RequestPermissionResponse{
			Outcome: acp.RequestPermissionOutcome{Cancelled: &acp.RequestPermissionOutcomeCancelled{}},
		}, nil
	}

	title := ""
	if p.ToolCall.Title != "" {
		title = p.ToolCall.Title
	}

	result := make(chan acp.RequestPermissionResponse, 1)
	t.mu.Lock()
	t.permission = &pendingPermission{respond: func(r acp.RequestPermissionResponse) { result <- r }}
	t.mu.Unlock()

	t.events <- eventFromPermissionRequest(p, title)

	select {
	case r := <-result:
		return r, nil
	case <-ctx.Done():
		return acp.RequestPermissionResponse{
			Outcome: acp.RequestPermissionOutcome{Cancelled: &acp.RequestPermissionOutcomeCancelled{}},
		}, ctx.Err()
	}
}

// SessionUpdate translates an ACP session notification into a timeline.Item
// and forwards it to the attached turn's event channel.
func (s *sideClient) SessionUpdate(ctx context.Context, n acp.SessionNotification) error {
	t := s.current()
	if t == nil {
		return nil
	}

	u := n.Update
	switch {
	case u.AgentMessageChunk != nil && u.AgentMessageChunk.Content.Text != nil:
		t.events <- eventFor(timeline.Item{
			Type:    timeline.ItemAssistantMessage,
			Text:    u.AgentMessageChunk.Content.Text.Text,
			Partial: true,
		})
	case u.ToolCall != nil:
		t.events <- eventFor(timeline.Item{
			Type:   timeline.ItemToolCall,
			CallID: string(u.ToolCall.ToolCallId),
			Name:   u.ToolCall.Title,
			Status: toolCallStatus(string(u.ToolCall.Status)),
		})
	case u.ToolCallUpdate != nil:
		t.events <- eventFor(timeline.Item{
			Type:   timeline.ItemToolCall,
			CallID: string(u.ToolCallUpdate.ToolCallId),
			Status: toolCallStatus(string(u.ToolCallUpdate.Status)),
		})
	}

	return nil
}

func eventFromPermissionRequest(p acp.RequestPermissionRequest, title string) provider.Event {
	return provider.Event{
		Kind:            provider.EventPermissionRequest,
		PermissionName:  string(p.ToolCall.ToolCallId),
		PermissionTitle: title,
	}
}

func toolCallStatus(s string) timeline.ToolCallStatus {
	switch s {
	case "completed":
		return timeline.ToolCallCompleted
	case "failed":
		return timeline.ToolCallFailed
	case "canceled", "cancelled":
		return timeline.ToolCallCanceled
	default:
		return timeline.ToolCallRunning
	}
}

func eventFor(item timeline.Item) provider.Event {
	return provider.Event{Kind: provider.EventTimelineItem, Item: item}
}

// ReadTextFile lets the agent read files under the workspace root; paths
// outside it are rejected.
func (s *sideClient) ReadTextFile(ctx context.Context, p acp.ReadTextFileRequest) (acp.ReadTextFileResponse, error) {
	if !filepath.IsAbs(p.Path) {
		return acp.ReadTextFileResponse{}, fmt.Errorf("claude: path must be absolute: %s", p.Path)
	}
	if rel, err := filepath.Rel(s.workspaceRoot, p.Path); err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return acp.ReadTextFileResponse{}, fmt.Errorf("claude: path outside workspace root: %s", p.Path)
	}

	b, err := os.ReadFile(p.Path)
	if err != nil {
		return acp.ReadTextFileResponse{}, err
	}
	content := string(b)

	if p.Line != nil || p.Limit != nil {
		lines := strings.Split(content, "\n")
		start := 0
		if p.Line != nil && *p.Line > 0 {
			start = *p.Line - 1
			if start > len(lines) {
				start = len(lines)
			}
		}
		end := len(lines)
		if p.Limit != nil && *p.Limit > 0 && start+*p.Limit < end {
			end = start + *p.Limit
		}
		content = strings.Join(lines[start:end], "\n")
	}

	return acp.ReadTextFileResponse{Content: content}, nil
}

// WriteTextFile lets the agent write files under the workspace root.
func (s *sideClient) WriteTextFile(ctx context.Context, p acp.WriteTextFileRequest) (acp.WriteTextFileResponse, error) {
	if !filepath.IsAbs(p.Path) {
		return acp.WriteTextFileResponse{}, fmt.Errorf("claude: path must be absolute: %s", p.Path)
	}
	if rel, err := filepath.Rel(s.workspaceRoot, p.Path); err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return acp.WriteTextFileResponse{}, fmt.Errorf("claude: path outside workspace root: %s", p.Path)
	}
	if dir := filepath.Dir(p.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return acp.WriteTextFileResponse{}, err
		}
	}
	return acp.WriteTextFileResponse{}, os.WriteFile(p.Path, []byte(p.Content), 0o644)
}

// Terminal callbacks are not backed by paseod's own Terminal Service: the
// Claude CLI's terminal tool is a separate concern from spec's user-facing
// terminal sessions, so these return a single synthetic, always-exited
// terminal rather than wiring into internal/terminal.
func (s *sideClient) CreateTerminal(ctx context.Context, p acp.CreateTerminalRequest) (acp.CreateTerminalResponse, error) {
	return acp.CreateTerminalResponse{TerminalId: "claude-embedded"}, nil
}

func (s *sideClient) KillTerminalCommand(ctx context.Context, p acp.KillTerminalCommandRequest) (acp.KillTerminalCommandResponse, error) {
	return acp.KillTerminalCommandResponse{}, nil
}

func (s *sideClient) TerminalOutput(ctx context.Context, p acp.TerminalOutputRequest) (acp.TerminalOutputResponse, error) {
	return acp.TerminalOutputResponse{Output: "", Truncated: false}, nil
}

func (s *sideClient) ReleaseTerminal(ctx context.Context, p acp.ReleaseTerminalRequest) (acp.ReleaseTerminalResponse, error) {
	return acp.ReleaseTerminalResponse{}, nil
}

func (s *sideClient) WaitForTerminalExit(ctx context.Context, p acp.WaitForTerminalExitRequest) (acp.WaitForTerminalExitResponse, error) {
	exitCode := 0
	return acp.WaitForTerminalExitResponse{ExitCode: &exitCode}, nil
}

var _ acp.Client = (*sideClient)(nil)
