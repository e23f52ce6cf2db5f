// Package rpc registers every inbound wsproto handler and wires it to the
// Agent Manager, Terminal Service, Subscription Engine, and Directory — the
// layer named by spec §6.2's message taxonomy that turns wire requests into
// calls against the rest of the host. It lives apart from internal/session
// so that package never needs to import agent/terminal/subscription back.
package rpc

import (
	"context"
	"fmt"

	"github.com/paseohq/paseod/internal/agent"
	"github.com/paseohq/paseod/internal/directory"
	logger "github.com/paseohq/paseod/internal/logging"
	"github.com/paseohq/paseod/internal/permission"
	"github.com/paseohq/paseod/internal/provider"
	"github.com/paseohq/paseod/internal/session"
	"github.com/paseohq/paseod/internal/subscription"
	"github.com/paseohq/paseod/internal/terminal"
	"github.com/paseohq/paseod/internal/timeline"
	"github.com/paseohq/paseod/internal/wsproto"
)

// validationError lets handlers report a malformed request with the wire's
// "validation" error kind, matching the kindedError idiom used throughout
// the host (see internal/agent/errors.go).
type validationError struct{ message string }

func (e *validationError) Error() string     { return e.message }
func (e *validationError) ErrorKind() string { return wsproto.ErrorKindValidation }

func errValidation(format string, args ...interface{}) error {
	return &validationError{message: fmt.Sprintf(format, args...)}
}

// currentClient recovers the Client that issued the in-flight request.
func currentClient(ctx context.Context) (*session.Client, error) {
	c, ok := session.ClientFromContext(ctx)
	if !ok {
		return nil, errValidation("rpc: no client in request context")
	}
	return c, nil
}

// Deps bundles every component the registered handlers delegate to.
type Deps struct {
	Agents       *agent.Manager
	Terminals    *terminal.Service
	Subscription *subscription.Engine
	Directory    *directory.Directory
	Logger       *logger.Logger
}

// Register binds every inbound message type named by spec §6.2 onto d.
func Register(d *wsproto.Dispatcher, deps Deps) {
	registerAgentHandlers(d, deps)
	registerTerminalHandlers(d, deps)
	registerSubscriptionHandlers(d, deps)
}

func parsePayload(env *wsproto.Envelope, v interface{}) error {
	if err := env.ParsePayload(v); err != nil {
		return errValidation("rpc: invalid payload for %q: %v", env.Type, err)
	}
	return nil
}

type agentCreatePayload struct {
	Provider provider.Tag      `json:"provider"`
	CWD      string            `json:"cwd"`
	ModeID   string            `json:"modeId"`
	Model    string            `json:"model"`
	Thinking string            `json:"thinking"`
	Labels   map[string]string `json:"labels"`
}

type agentIDPayload struct {
	AgentID string `json:"agentId"`
}

type sendMessagePayload struct {
	AgentID string           `json:"agentId"`
	Text    string           `json:"text"`
	Images  []timeline.Image `json:"images"`
}

type respondToPermissionPayload struct {
	AgentID   string              `json:"agentId"`
	RequestID string              `json:"requestId"`
	Decision  permission.Decision `json:"decision"`
}

type updateAgentPayload struct {
	AgentID string            `json:"agentId"`
	Title   *string           `json:"title"`
	Labels  map[string]string `json:"labels"`
}

type setModePayload struct {
	AgentID string `json:"agentId"`
	ModeID  string `json:"modeId"`
}

type fetchAgentTimelinePayload struct {
	AgentID    string              `json:"agentId"`
	Direction  timeline.Direction  `json:"direction"`
	Cursor     timeline.Cursor     `json:"cursor"`
	Limit      int                 `json:"limit"`
	Projection timeline.Projection `json:"projection"`
}

func timelineQueryOptions(p fetchAgentTimelinePayload) timeline.QueryOptions {
	opts := timeline.QueryOptions{Direction: p.Direction, Cursor: p.Cursor, Limit: p.Limit, Projection: p.Projection}
	if opts.Direction == "" {
		opts.Direction = timeline.DirectionTail
	}
	if opts.Projection == "" {
		opts.Projection = timeline.ProjectionProjected
	}
	return opts
}
