package rpc_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/paseohq/paseod/internal/agent"
	logger "github.com/paseohq/paseod/internal/logging"
	"github.com/paseohq/paseod/internal/permission"
	"github.com/paseohq/paseod/internal/provider"
	"github.com/paseohq/paseod/internal/rpc"
	"github.com/paseohq/paseod/internal/session"
	"github.com/paseohq/paseod/internal/timeline"
	"github.com/paseohq/paseod/internal/wsproto"
)

// fakeTurn is a minimal controllable provider.Turn, mirroring
// internal/agent's own test double, for driving the turn loop from outside
// the agent package.
type fakeTurn struct {
	events chan provider.Event
}

func newFakeTurn() *fakeTurn                               { return &fakeTurn{events: make(chan provider.Event, 16)} }
func (t *fakeTurn) Events() <-chan provider.Event           { return t.events }
func (t *fakeTurn) Cancel(ctx context.Context) error        { return nil }
func (t *fakeTurn) ResolvePermission(ctx context.Context, d provider.PermissionDecision) error {
	return nil
}

type fakeClient struct{ turn *fakeTurn }

func (c *fakeClient) Tag() provider.Tag                                       { return provider.TagClaude }
func (c *fakeClient) SupportedModes() []string                                { return []string{"default"} }
func (c *fakeClient) SessionPersistenceKind() provider.SessionPersistenceKind { return provider.PersistenceNone }
func (c *fakeClient) ListModels(ctx context.Context) ([]string, error)        { return nil, nil }
func (c *fakeClient) Close(ctx context.Context) error                        { return nil }
func (c *fakeClient) StartTurn(ctx context.Context, opts provider.StartOptions, text string, images []timeline.Image) (provider.Turn, error) {
	return c.turn, nil
}

func readUntil(t *testing.T, conn *websocket.Conn, msgType string) wsproto.Envelope {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var env wsproto.Envelope
		require.NoError(t, json.Unmarshal(data, &env))
		if env.Type == msgType {
			return env
		}
	}
}

// TestSessionHubEndToEnd exercises the full wire path — gin HTTP server,
// WebSocket upgrade, dispatcher, agent manager, and hub fan-out — for the
// create-agent / send-message / live-stream flow: create an agent,
// subscribe to its stream via fetch_agent, send a message, and observe the
// resulting timeline entries arrive as agent_stream events over the same
// connection that issued the requests.
func TestSessionHubEndToEnd(t *testing.T) {
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "text", OutputPath: "stdout"})
	require.NoError(t, err)

	turn := newFakeTurn()
	registry := provider.NewRegistry(log)
	registry.Register(provider.Descriptor{ID: provider.TagClaude, Name: "claude", Command: "claude-code-acp", Enabled: true},
		func(ctx context.Context, opts provider.StartOptions) (provider.Client, error) {
			return &fakeClient{turn: turn}, nil
		})

	broker := permission.NewBroker(time.Second, log)
	dispatcher := wsproto.NewDispatcher()
	hub := session.NewHub(dispatcher, log)
	mgr := agent.NewManager(registry, broker, hub, 100, log)

	rpc.Register(dispatcher, rpc.Deps{Agents: mgr, Logger: log})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	gateway := session.NewGateway(hub, "test-server", "test", log)
	gin.SetMode(gin.TestMode)
	router := gin.New()
	gateway.SetupRoutes(router)

	srv := httptest.NewServer(router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, http.Header{})
	require.NoError(t, err)
	defer conn.Close()

	readUntil(t, conn, wsproto.TypeWelcome)

	send := func(requestID, msgType string, payload interface{}) {
		env, err := wsproto.NewRequest(requestID, msgType, payload)
		require.NoError(t, err)
		data, err := json.Marshal(env)
		require.NoError(t, err)
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
	}

	send("1", wsproto.TypeCreateAgent, map[string]interface{}{"provider": "claude", "cwd": "/tmp/work"})
	createResp := readUntil(t, conn, wsproto.TypeCreateAgent+"_response")
	require.Nil(t, createResp.Error)
	var snap agent.Snapshot
	require.NoError(t, json.Unmarshal(createResp.Payload, &snap))
	require.NotEmpty(t, snap.ID)
	require.Equal(t, agent.StatusIdle, snap.Status)

	send("2", wsproto.TypeFetchAgent, map[string]interface{}{"agentId": snap.ID})
	readUntil(t, conn, wsproto.TypeFetchAgent+"_response")

	send("3", wsproto.TypeSendMessage, map[string]interface{}{"agentId": snap.ID, "text": "hello"})
	sendResp := readUntil(t, conn, wsproto.TypeSendMessage+"_response")
	require.Nil(t, sendResp.Error)

	turn.events <- provider.Event{Kind: provider.EventTimelineItem, Item: timeline.Item{Type: timeline.ItemAssistantMessage, Text: "hi there"}}
	turn.events <- provider.Event{Kind: provider.EventTurnCompleted}
	close(turn.events)

	deadline := time.Now().Add(3 * time.Second)
	found := false
	for time.Now().Before(deadline) {
		require.NoError(t, conn.SetReadDeadline(deadline))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var env wsproto.Envelope
		require.NoError(t, json.Unmarshal(data, &env))
		if env.Type == wsproto.TypeAgentStream && strings.Contains(string(env.Payload), "hi there") {
			found = true
			break
		}
	}
	require.True(t, found, "expected an agent_stream event carrying the assistant message")
}
