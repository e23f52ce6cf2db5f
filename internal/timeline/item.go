// Package timeline implements the per-agent append-only event log: item
// types, epoch/seq addressing, and the in-memory store with tail/after
// queries and live subscription.
package timeline

import "time"

// ItemType discriminates the Item tagged union.
type ItemType string

const (
	ItemUserMessage      ItemType = "user_message"
	ItemAssistantMessage ItemType = "assistant_message"
	ItemToolCall         ItemType = "tool_call"
	ItemPermissionReq    ItemType = "permission_request"
	ItemTurnStarted      ItemType = "turn_started"
	ItemTurnCompleted    ItemType = "turn_completed"
	ItemTurnFailed       ItemType = "turn_failed"

	// ItemSessionRehydrated marks an epoch bump after automatic
	// provider-crash rehydration (spec §4.1's rehydration edge policy).
	ItemSessionRehydrated ItemType = "session_rehydrated"
)

// ToolCallStatus is the lifecycle status of a tool_call item.
type ToolCallStatus string

const (
	ToolCallRunning   ToolCallStatus = "running"
	ToolCallCompleted ToolCallStatus = "completed"
	ToolCallFailed    ToolCallStatus = "failed"
	ToolCallCanceled  ToolCallStatus = "canceled"
)

// ToolCallDetailKind discriminates ToolCallDetail.
type ToolCallDetailKind string

const (
	ToolDetailShell        ToolCallDetailKind = "shell"
	ToolDetailRead         ToolCallDetailKind = "read"
	ToolDetailEdit         ToolCallDetailKind = "edit"
	ToolDetailWrite        ToolCallDetailKind = "write"
	ToolDetailSearch       ToolCallDetailKind = "search"
	ToolDetailSubAgent     ToolCallDetailKind = "sub_agent"
	ToolDetailWorktreeSetup ToolCallDetailKind = "worktree_setup"
	ToolDetailUnknown      ToolCallDetailKind = "unknown"
)

// ToolCallDetail carries the kind-specific fields of a tool_call item.
type ToolCallDetail struct {
	Kind    ToolCallDetailKind     `json:"kind"`
	Command []string               `json:"command,omitempty"`
	Path    string                 `json:"path,omitempty"`
	Query   string                 `json:"query,omitempty"`
	Extra   map[string]interface{} `json:"extra,omitempty"`
}

// ToolCallError carries the error payload of a failed tool_call.
type ToolCallError struct {
	Message string `json:"message"`
}

// Image is a base64-encoded image attachment on a user_message.
type Image struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

// Item is the tagged union stored in a timeline. Exactly the fields matching
// Type are meaningful; others are zero.
type Item struct {
	Type ItemType `json:"type"`

	// user_message
	Text   string  `json:"text,omitempty"`
	Images []Image `json:"images,omitempty"`

	// assistant_message
	Partial bool `json:"partial,omitempty"`

	// tool_call
	CallID string          `json:"callId,omitempty"`
	Name   string          `json:"name,omitempty"`
	Status ToolCallStatus  `json:"status,omitempty"`
	Detail *ToolCallDetail `json:"detail,omitempty"`
	Error  *ToolCallError  `json:"error,omitempty"`

	// permission_request
	PermissionID string `json:"permissionId,omitempty"`

	// turn_failed
	TurnError string `json:"turnError,omitempty"`

	// session_rehydrated
	PreviousEpoch int `json:"previousEpoch,omitempty"`
}

// Cursor is the (epoch, seq) high-water mark addressing an item within an
// agent's timeline.
type Cursor struct {
	Epoch int `json:"epoch"`
	Seq   int `json:"seq"`
}

// Less reports whether c sorts strictly before other within the same epoch
// semantics (epoch first, then seq).
func (c Cursor) Less(other Cursor) bool {
	if c.Epoch != other.Epoch {
		return c.Epoch < other.Epoch
	}
	return c.Seq < other.Seq
}

// Entry is a stored Item addressed by its Cursor and wall-clock time.
type Entry struct {
	Cursor    Cursor    `json:"cursor"`
	Item      Item      `json:"item"`
	CreatedAt time.Time `json:"createdAt"`
}
