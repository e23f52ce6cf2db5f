// Package agent implements the Agent Manager (spec §4.1): it owns the
// runtime set of agents, drives each provider turn loop, and publishes
// timeline/state changes to the session hub's agent_stream topic.
package agent

import (
	"sync"
	"time"

	"github.com/paseohq/paseod/internal/permission"
	"github.com/paseohq/paseod/internal/provider"
	"github.com/paseohq/paseod/internal/timeline"
)

// Status is an agent's lifecycle state, per spec §3.1.
type Status string

const (
	StatusInitializing       Status = "initializing"
	StatusIdle               Status = "idle"
	StatusRunning            Status = "running"
	StatusAwaitingPermission Status = "awaiting_permission"
	StatusError              Status = "error"
	StatusArchived           Status = "archived"
)

// UILabelKey is the reserved label key that marks an agent as user-facing:
// listed in the directory and eligible for self-id (set_title) injection.
const UILabelKey = "ui"

// Agent is the in-memory record for one running or archived provider
// session (spec §3.1). Snapshot returns an immutable copy safe to serialize
// without holding the Manager's lock.
type Agent struct {
	mu sync.RWMutex

	id          string
	providerTag provider.Tag
	cwd         string
	title       string
	status      Status
	modeID      string
	model       string
	thinking    string
	labels      map[string]string

	createdAt      time.Time
	lastActivityAt time.Time
	archivedAt     *time.Time

	lastError string

	// sessionID is the provider-native session identifier, populated from
	// provider.EventSessionStatus, used to rehydrate after a crash when
	// the provider's SessionPersistenceKind is PersistenceByID.
	sessionID            string
	persistence          provider.SessionPersistenceKind
	rehydrationAttempted bool

	pendingPermissions []permission.Request

	// observed tracks whether the most recently completed turn has been
	// seen by any agent_stream subscriber, for requiresAttention (spec §3.1).
	observed bool

	timelineStore *timeline.Store

	client provider.Client
	turn   provider.Turn
	cancel func()
}

// Snapshot is the serializable, lock-free view of an Agent returned to
// clients by fetchAgents/fetchAgent and published as agent_state.
type Snapshot struct {
	ID                 string               `json:"id"`
	Provider           provider.Tag         `json:"provider"`
	CWD                string               `json:"cwd"`
	Title              string               `json:"title"`
	Status             Status               `json:"status"`
	ModeID             string               `json:"modeId"`
	Model              string               `json:"model,omitempty"`
	ThinkingOptionID   string               `json:"thinkingOptionId,omitempty"`
	Labels             map[string]string    `json:"labels,omitempty"`
	CreatedAt          time.Time            `json:"createdAt"`
	LastActivityAt     time.Time            `json:"lastActivityAt"`
	ArchivedAt         *time.Time           `json:"archivedAt,omitempty"`
	PendingPermissions []permission.Request `json:"pendingPermissions,omitempty"`
	TimelineEpoch      int                  `json:"timelineEpoch"`
	TimelineSeq        int                  `json:"timelineSeq"`
	RequiresAttention  bool                 `json:"requiresAttention"`
	LastError          string               `json:"lastError,omitempty"`
}

// Snapshot returns an immutable copy of the agent's current state.
func (a *Agent) Snapshot() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()

	labels := make(map[string]string, len(a.labels))
	for k, v := range a.labels {
		labels[k] = v
	}
	pending := append([]permission.Request(nil), a.pendingPermissions...)
	cursor := a.timelineStore.Cursor()

	return Snapshot{
		ID:                 a.id,
		Provider:           a.providerTag,
		CWD:                a.cwd,
		Title:              a.title,
		Status:             a.status,
		ModeID:             a.modeID,
		Model:              a.model,
		ThinkingOptionID:   a.thinking,
		Labels:             labels,
		CreatedAt:          a.createdAt,
		LastActivityAt:     a.lastActivityAt,
		ArchivedAt:         a.archivedAt,
		PendingPermissions: pending,
		TimelineEpoch:      cursor.Epoch,
		TimelineSeq:        cursor.Seq,
		RequiresAttention:  a.requiresAttention(),
		LastError:          a.lastError,
	}
}

// requiresAttention implements spec §3.1's derived flag; caller must hold
// a.mu.
func (a *Agent) requiresAttention() bool {
	if a.status == StatusAwaitingPermission || a.status == StatusError {
		return true
	}
	return a.status == StatusIdle && !a.observed
}

// IsUserFacing reports whether labels["ui"] == "true" (spec §4.1's self-id
// injection gate).
func (a *Agent) IsUserFacing() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.labels[UILabelKey] == "true"
}

func (a *Agent) touchActivity() {
	a.mu.Lock()
	a.lastActivityAt = time.Now().UTC()
	a.mu.Unlock()
}

func (a *Agent) setStatus(s Status) {
	a.mu.Lock()
	a.status = s
	a.mu.Unlock()
}

func (a *Agent) setTitle(title string) {
	a.mu.Lock()
	a.title = title
	a.mu.Unlock()
}

// markObserved clears the requiresAttention-by-neglect condition; called
// when a client takes a fresh tail read or opens an agent_stream subscription.
func (a *Agent) markObserved() {
	a.mu.Lock()
	a.observed = true
	a.mu.Unlock()
}
