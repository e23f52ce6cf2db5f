package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	logger "github.com/paseohq/paseod/internal/logging"
	"github.com/paseohq/paseod/internal/permission"
	"github.com/paseohq/paseod/internal/provider"
	"github.com/paseohq/paseod/internal/session"
	"github.com/paseohq/paseod/internal/timeline"
	"github.com/paseohq/paseod/internal/wsproto"
)

// CreateOptions parameterizes createAgent (spec §4.1).
type CreateOptions struct {
	Provider provider.Tag
	CWD      string
	ModeID   string
	Model    string
	Thinking string
	Labels   map[string]string
}

// UpdateOptions parameterizes updateAgent: only non-nil fields are applied.
type UpdateOptions struct {
	Title  *string
	Labels map[string]string
}

// Manager owns the runtime set of agents (spec §4.1). It is the only
// component that starts, drives, and tears down provider turns.
type Manager struct {
	mu     sync.RWMutex
	agents map[string]*Agent

	registry *provider.Registry
	broker   *permission.Broker
	hub      *session.Hub

	maxItemsPerEpoch int
	logger           *logger.Logger

	// directoryObserver, if set, is notified on every state change to a
	// user-facing agent and on deletion, so internal/directory can keep its
	// membership cache in sync without agent importing directory.
	directoryObserver func(snap Snapshot, removed bool)

	// bridgeSocketPath resolves an agent id to the UNIX-domain socket of its
	// MCP self-id bridge (spec §6.4), threaded into every provider.StartOptions
	// so the provider subprocess can dial back in for set_title. Nil disables
	// the bridge.
	bridgeSocketPath func(agentID string) string
}

// SetDirectoryObserver registers fn to receive every published snapshot
// plus a removed=true call on DeleteAgent. Not safe to call concurrently
// with agent activity; call once during bootstrap.
func (m *Manager) SetDirectoryObserver(fn func(snap Snapshot, removed bool)) {
	m.directoryObserver = fn
}

// SetBridgeSocketPath enables the MCP self-id bridge: every agent spawned
// or resumed after this call has SocketPath set in its provider.StartOptions
// to resolve(agentID).
func (m *Manager) SetBridgeSocketPath(resolve func(agentID string) string) {
	m.bridgeSocketPath = resolve
}

func (m *Manager) socketPathFor(agentID string) string {
	if m.bridgeSocketPath == nil {
		return ""
	}
	return m.bridgeSocketPath(agentID)
}

// NewManager creates an empty Manager. hub may be nil in tests that don't
// exercise fan-out.
func NewManager(registry *provider.Registry, broker *permission.Broker, hub *session.Hub, maxItemsPerEpoch int, log *logger.Logger) *Manager {
	return &Manager{
		agents:           make(map[string]*Agent),
		registry:         registry,
		broker:           broker,
		hub:              hub,
		maxItemsPerEpoch: maxItemsPerEpoch,
		logger:           log.WithFields(zap.String("component", "agent-manager")),
	}
}

// CreateAgent allocates an id, spawns the provider, and enters idle (spec
// §4.1's createAgent). If labels["ui"] == "true" the agent may retitle
// itself through the MCP self-id bridge (see SetSelfTitle).
func (m *Manager) CreateAgent(ctx context.Context, opts CreateOptions) (Snapshot, error) {
	factory, ok := m.registry.Factory(opts.Provider)
	if !ok {
		return Snapshot{}, ErrValidation(fmt.Sprintf("agent: unknown or disabled provider %q", opts.Provider))
	}
	if opts.CWD == "" {
		return Snapshot{}, ErrValidation("agent: cwd must not be empty")
	}

	labels := make(map[string]string, len(opts.Labels))
	for k, v := range opts.Labels {
		labels[k] = v
	}

	now := time.Now().UTC()
	a := &Agent{
		id:             uuid.New().String(),
		providerTag:    opts.Provider,
		cwd:            opts.CWD,
		title:          opts.CWD,
		status:         StatusInitializing,
		modeID:         opts.ModeID,
		model:          opts.Model,
		thinking:       opts.Thinking,
		labels:         labels,
		createdAt:      now,
		lastActivityAt: now,
		observed:       true,
		timelineStore:  timeline.NewStore(m.maxItemsPerEpoch),
	}

	client, err := factory(ctx, provider.StartOptions{
		CWD: opts.CWD, ModeID: opts.ModeID, Model: opts.Model, Thinking: opts.Thinking,
		SocketPath: m.socketPathFor(a.id),
	})
	if err != nil {
		return Snapshot{}, ErrProvider(fmt.Sprintf("agent: spawn provider %q: %v", opts.Provider, err))
	}
	a.client = client
	a.persistence = client.SessionPersistenceKind()

	m.mu.Lock()
	m.agents[a.id] = a
	m.mu.Unlock()

	a.setStatus(StatusIdle)
	m.publishState(a)

	m.logger.Info("agent created",
		zap.String("agent_id", a.id), zap.String("provider", string(opts.Provider)), zap.String("cwd", opts.CWD))

	return a.Snapshot(), nil
}

// FetchAgents returns a snapshot of every agent, archived ones included,
// per spec §4.1's fetchAgents.
func (m *Manager) FetchAgents() []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Snapshot, 0, len(m.agents))
	for _, a := range m.agents {
		out = append(out, a.Snapshot())
	}
	return out
}

// FetchAgent returns a single agent's snapshot.
func (m *Manager) FetchAgent(agentID string) (Snapshot, error) {
	a, err := m.lookup(agentID)
	if err != nil {
		return Snapshot{}, err
	}
	return a.Snapshot(), nil
}

// FetchAgentTimeline implements spec §4.1's fetchAgentTimeline, delegating
// to the agent's timeline store (spec §4.2).
func (m *Manager) FetchAgentTimeline(agentID string, opts timeline.QueryOptions) (timeline.QueryResult, error) {
	a, err := m.lookup(agentID)
	if err != nil {
		return timeline.QueryResult{}, err
	}
	a.markObserved()
	return a.timelineStore.Query(opts), nil
}

// StreamAgent returns the lazy, finite, non-restartable sequence of
// timeline entries appended from this call forward (spec §4.1's
// streamAgent): timeline items, permission_request markers, and the
// turn_completed/turn_failed terminal markers. The returned func must be
// called to release the subscription.
func (m *Manager) StreamAgent(agentID string) (<-chan timeline.Entry, func(), error) {
	a, err := m.lookup(agentID)
	if err != nil {
		return nil, nil, err
	}
	a.markObserved()
	ch, unsubscribe := a.timelineStore.Subscribe()
	return ch, unsubscribe, nil
}

// UpdateAgent mutates title and/or merges labels (spec §4.1's updateAgent).
func (m *Manager) UpdateAgent(agentID string, opts UpdateOptions) (Snapshot, error) {
	a, err := m.lookup(agentID)
	if err != nil {
		return Snapshot{}, err
	}

	a.mu.Lock()
	if opts.Title != nil {
		a.title = *opts.Title
	}
	for k, v := range opts.Labels {
		a.labels[k] = v
	}
	a.mu.Unlock()

	m.publishState(a)
	return a.Snapshot(), nil
}

// ArchiveAgent sets archivedAt, stops the provider, and marks the agent
// archived so later sendMessage calls are rejected (spec §4.1's
// archiveAgent). A turn already in flight is not canceled first, and the
// timeline store itself is not made read-only.
func (m *Manager) ArchiveAgent(ctx context.Context, agentID string) (Snapshot, error) {
	a, err := m.lookup(agentID)
	if err != nil {
		return Snapshot{}, err
	}

	a.mu.Lock()
	if a.archivedAt != nil {
		snap := a.Snapshot()
		a.mu.Unlock()
		return snap, nil
	}
	now := time.Now().UTC()
	a.archivedAt = &now
	a.status = StatusArchived
	client := a.client
	a.mu.Unlock()

	if client != nil {
		if err := client.Close(ctx); err != nil {
			m.logger.Warn("error closing provider on archive", zap.String("agent_id", agentID), zap.Error(err))
		}
	}

	m.publishState(a)
	m.logger.Info("agent archived", zap.String("agent_id", agentID))
	return a.Snapshot(), nil
}

func (m *Manager) lookup(agentID string) (*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.agents[agentID]
	if !ok {
		return nil, ErrNotFound(agentID)
	}
	return a, nil
}

// publishState pushes an agent_state snapshot to the agent's agent_stream
// topic and the agent_directory topic (for user-facing agents), per spec
// §4.4's fan-out responsibility.
func (m *Manager) publishState(a *Agent) {
	if m.hub == nil {
		return
	}
	snap := a.Snapshot()
	env, err := wsproto.NewEvent(wsproto.TypeAgentState, snap)
	if err != nil {
		m.logger.Error("failed to encode agent_state event", zap.Error(err))
		return
	}
	m.hub.Publish(session.TopicEvent{Topic: "agent_stream:" + a.id, Envelope: env})

	if a.IsUserFacing() {
		dirEnv, err := wsproto.NewEvent(wsproto.TypeAgentDirectoryUpdate, snap)
		if err == nil {
			m.hub.Publish(session.TopicEvent{Topic: "agent_directory", Envelope: dirEnv})
		}
	}

	if m.directoryObserver != nil {
		m.directoryObserver(snap, false)
	}
}
