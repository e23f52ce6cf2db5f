package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	logger "github.com/paseohq/paseod/internal/logging"
	"github.com/paseohq/paseod/internal/permission"
	"github.com/paseohq/paseod/internal/provider"
	"github.com/paseohq/paseod/internal/timeline"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "text", OutputPath: "stdout"})
	require.NoError(t, err)
	return log
}

// fakeTurn is a controllable provider.Turn for exercising the turn loop.
type fakeTurn struct {
	events   chan provider.Event
	canceled chan struct{}
	resolved chan provider.PermissionDecision
}

func newFakeTurn() *fakeTurn {
	return &fakeTurn{
		events:   make(chan provider.Event, 16),
		canceled: make(chan struct{}, 1),
		resolved: make(chan provider.PermissionDecision, 16),
	}
}

func (t *fakeTurn) Events() <-chan provider.Event { return t.events }

func (t *fakeTurn) ResolvePermission(ctx context.Context, decision provider.PermissionDecision) error {
	t.resolved <- decision
	return nil
}

func (t *fakeTurn) Cancel(ctx context.Context) error {
	select {
	case t.canceled <- struct{}{}:
	default:
	}
	return nil
}

// fakeClient is a controllable provider.Client whose StartTurn hands back a
// caller-supplied *fakeTurn, letting tests drive the turn loop directly.
type fakeClient struct {
	persistence provider.SessionPersistenceKind
	nextTurn    *fakeTurn
	startErr    error
	closed      bool
}

func (c *fakeClient) Tag() provider.Tag                                       { return provider.TagClaude }
func (c *fakeClient) SupportedModes() []string                                { return []string{"default"} }
func (c *fakeClient) SessionPersistenceKind() provider.SessionPersistenceKind { return c.persistence }
func (c *fakeClient) ListModels(ctx context.Context) ([]string, error) {
	return []string{"test-model"}, nil
}
func (c *fakeClient) Close(ctx context.Context) error { c.closed = true; return nil }

func (c *fakeClient) StartTurn(ctx context.Context, opts provider.StartOptions, text string, images []timeline.Image) (provider.Turn, error) {
	if c.startErr != nil {
		return nil, c.startErr
	}
	return c.nextTurn, nil
}

func newTestManager(t *testing.T, client *fakeClient) (*Manager, string) {
	t.Helper()
	log := newTestLogger(t)
	registry := provider.NewRegistry(log)
	registry.Register(provider.Descriptor{ID: provider.TagClaude, Name: "claude", Command: "claude-code-acp", Enabled: true},
		func(ctx context.Context, opts provider.StartOptions) (provider.Client, error) { return client, nil })

	broker := permission.NewBroker(50*time.Millisecond, log)
	m := NewManager(registry, broker, nil, 0, log)

	snap, err := m.CreateAgent(context.Background(), CreateOptions{Provider: provider.TagClaude, CWD: "/tmp/work"})
	require.NoError(t, err)
	require.Equal(t, StatusIdle, snap.Status)
	return m, snap.ID
}

func TestCreateAgentEntersIdle(t *testing.T) {
	m, id := newTestManager(t, &fakeClient{nextTurn: newFakeTurn()})
	snap, err := m.FetchAgent(id)
	require.NoError(t, err)
	require.Equal(t, StatusIdle, snap.Status)
	require.False(t, snap.RequiresAttention)
}

func TestSendMessageRejectedWhileBusy(t *testing.T) {
	turn := newFakeTurn()
	client := &fakeClient{nextTurn: turn}
	m, id := newTestManager(t, client)

	require.NoError(t, m.SendMessage(context.Background(), id, "hello", nil))

	err := m.SendMessage(context.Background(), id, "again", nil)
	require.Error(t, err)

	turn.events <- provider.Event{Kind: provider.EventTurnCompleted}
	close(turn.events)
}

func TestTurnLoopAppendsTimelineAndReturnsIdle(t *testing.T) {
	turn := newFakeTurn()
	client := &fakeClient{nextTurn: turn}
	m, id := newTestManager(t, client)

	require.NoError(t, m.SendMessage(context.Background(), id, "hello", nil))

	turn.events <- provider.Event{Kind: provider.EventTimelineItem, Item: timeline.Item{Type: timeline.ItemAssistantMessage, Text: "hi"}}
	turn.events <- provider.Event{Kind: provider.EventTurnCompleted}
	close(turn.events)

	require.Eventually(t, func() bool {
		snap, err := m.FetchAgent(id)
		require.NoError(t, err)
		return snap.Status == StatusIdle
	}, time.Second, 5*time.Millisecond)

	result, err := m.FetchAgentTimeline(id, timeline.QueryOptions{Direction: timeline.DirectionTail, Limit: 10})
	require.NoError(t, err)

	var sawAssistant, sawStarted, sawCompleted bool
	for _, e := range result.Entries {
		switch e.Item.Type {
		case timeline.ItemAssistantMessage:
			sawAssistant = true
		case timeline.ItemTurnStarted:
			sawStarted = true
		case timeline.ItemTurnCompleted:
			sawCompleted = true
		}
	}
	require.True(t, sawAssistant)
	require.True(t, sawStarted)
	require.True(t, sawCompleted)
}

func TestPermissionRequestParksAgentAndAllowResolves(t *testing.T) {
	turn := newFakeTurn()
	client := &fakeClient{nextTurn: turn}
	m, id := newTestManager(t, client)

	require.NoError(t, m.SendMessage(context.Background(), id, "hello", nil))
	turn.events <- provider.Event{Kind: provider.EventPermissionRequest, PermissionName: "Bash", PermissionInput: map[string]interface{}{"command": "ls"}}

	require.Eventually(t, func() bool {
		snap, err := m.FetchAgent(id)
		require.NoError(t, err)
		return snap.Status == StatusAwaitingPermission && len(snap.PendingPermissions) == 1
	}, time.Second, 5*time.Millisecond)

	snap, err := m.FetchAgent(id)
	require.NoError(t, err)
	reqID := snap.PendingPermissions[0].ID

	require.NoError(t, m.RespondToPermission(id, reqID, permission.Decision{Outcome: permission.OutcomeAllow}))

	select {
	case d := <-turn.resolved:
		require.True(t, d.Allow)
	case <-time.After(time.Second):
		t.Fatal("provider never received resolved decision")
	}

	require.Eventually(t, func() bool {
		snap, err := m.FetchAgent(id)
		require.NoError(t, err)
		return snap.Status == StatusRunning && len(snap.PendingPermissions) == 0
	}, time.Second, 5*time.Millisecond)

	turn.events <- provider.Event{Kind: provider.EventTurnCompleted}
	close(turn.events)
}

func TestPermissionTimeoutAutoDeniesAndFailsTurn(t *testing.T) {
	turn := newFakeTurn()
	client := &fakeClient{nextTurn: turn}
	m, id := newTestManager(t, client)

	require.NoError(t, m.SendMessage(context.Background(), id, "hello", nil))
	turn.events <- provider.Event{Kind: provider.EventPermissionRequest, PermissionName: "Bash"}

	select {
	case d := <-turn.resolved:
		require.False(t, d.Allow)
	case <-time.After(2 * time.Second):
		t.Fatal("expected auto-deny on permission timeout")
	}
	close(turn.events)
}

func TestCancelTurnDuringAwaitingPermissionCancelsPending(t *testing.T) {
	turn := newFakeTurn()
	client := &fakeClient{nextTurn: turn}
	m, id := newTestManager(t, client)

	require.NoError(t, m.SendMessage(context.Background(), id, "hello", nil))
	turn.events <- provider.Event{Kind: provider.EventPermissionRequest, PermissionName: "Bash"}

	require.Eventually(t, func() bool {
		snap, err := m.FetchAgent(id)
		require.NoError(t, err)
		return snap.Status == StatusAwaitingPermission
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, m.CancelTurn(context.Background(), id))

	select {
	case <-turn.canceled:
	case <-time.After(time.Second):
		t.Fatal("provider turn was never canceled")
	}
	close(turn.events)
}

func TestArchiveAgentClosesProviderAndFreezesTimeline(t *testing.T) {
	client := &fakeClient{nextTurn: newFakeTurn()}
	m, id := newTestManager(t, client)

	snap, err := m.ArchiveAgent(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, snap.ArchivedAt)
	require.True(t, client.closed)
	require.Error(t, m.SendMessage(context.Background(), id, "hi", nil))
}

func TestSendMessageUnknownAgentNotFound(t *testing.T) {
	m, _ := newTestManager(t, &fakeClient{nextTurn: newFakeTurn()})
	err := m.SendMessage(context.Background(), "does-not-exist", "hi", nil)
	require.Error(t, err)
}
