// Package provider defines the uniform adapter contract around each
// upstream agent CLI (Claude, Codex, OpenCode, Copilot, ...), per spec §9's
// "dynamic dispatch over provider adapters" design note: each provider is a
// variant implementing a fixed capability set. The Agent Manager only ever
// talks to this interface; it never touches a provider's stdio directly.
package provider

import (
	"context"

	"github.com/paseohq/paseod/internal/timeline"
)

// Tag names a provider variant. Spec §3.1 leaves the set open-ended.
type Tag string

const (
	TagClaude   Tag = "claude"
	TagCodex    Tag = "codex"
	TagOpenCode Tag = "opencode"
	TagCopilot  Tag = "copilot"
)

// SessionPersistenceKind describes whether a provider can resume a prior
// session after a crash (spec §4.1's rehydration edge policy).
type SessionPersistenceKind string

const (
	PersistenceNone   SessionPersistenceKind = "none"
	PersistenceByID   SessionPersistenceKind = "session_id"
)

// StartOptions parameterize a new turn.
type StartOptions struct {
	CWD      string
	ModeID   string
	Model    string
	Thinking string
	// ResumeSessionID is set when rehydrating a prior session, for
	// providers whose SessionPersistenceKind is PersistenceByID.
	ResumeSessionID string
	// SocketPath is the UNIX-domain socket path of the MCP bridge, passed
	// to the subprocess as an env var per spec §6.4.
	SocketPath string
}

// Event is a single normalized event surfaced by a provider during a turn:
// a timeline item to append, a permission request to park the turn on, or a
// turn-lifecycle marker. Exactly one of the typed fields is meaningful,
// selected by Kind.
type Event struct {
	Kind EventKind

	Item timeline.Item

	PermissionName        string
	PermissionTitle       string
	PermissionDescription string
	PermissionInput       map[string]interface{}
	PermissionMetadata    map[string]interface{}

	TurnError string

	// SessionID is populated on EventSessionStatus, carrying the
	// provider-native session identifier to persist for rehydration.
	SessionID string
}

// EventKind discriminates Event.
type EventKind string

const (
	EventTimelineItem       EventKind = "timeline_item"
	EventPermissionRequest  EventKind = "permission_request"
	EventTurnCompleted      EventKind = "turn_completed"
	EventTurnFailed         EventKind = "turn_failed"
	EventSessionStatus      EventKind = "session_status"
)

// Turn is a single in-flight provider turn.
type Turn interface {
	// Events returns the lazy, finite, non-restartable sequence of events
	// for this turn. The channel closes when the turn ends (completed,
	// failed, or the provider's stdio closed unexpectedly).
	Events() <-chan Event

	// ResolvePermission delivers a client's decision back to the provider
	// for the permission request most recently surfaced on Events().
	ResolvePermission(ctx context.Context, decision PermissionDecision) error

	// Cancel aborts the in-flight turn.
	Cancel(ctx context.Context) error
}

// PermissionDecision mirrors permission.Decision without importing that
// package, keeping provider adapters independent of the broker's internals.
type PermissionDecision struct {
	Allow         bool
	ModifiedInput map[string]interface{}
	DenyMessage   string
}

// Client is the uniform adapter interface every provider implements.
type Client interface {
	Tag() Tag
	SupportedModes() []string
	SessionPersistenceKind() SessionPersistenceKind

	// StartTurn begins a new turn with the given user text and optional
	// base64 image payloads, returning the live Turn.
	StartTurn(ctx context.Context, opts StartOptions, text string, images []timeline.Image) (Turn, error)

	// ListModels returns the provider's published models, if it exposes any.
	ListModels(ctx context.Context) ([]string, error)

	// Close releases the provider subprocess and any associated resources.
	Close(ctx context.Context) error
}

// Factory constructs a Client bound to a specific agent's cwd and settings.
type Factory func(ctx context.Context, opts StartOptions) (Client, error)
