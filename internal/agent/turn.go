package agent

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/paseohq/paseod/internal/permission"
	"github.com/paseohq/paseod/internal/provider"
	"github.com/paseohq/paseod/internal/session"
	"github.com/paseohq/paseod/internal/timeline"
	"github.com/paseohq/paseod/internal/tracing"
	"github.com/paseohq/paseod/internal/wsproto"
)

const turnTracerName = "paseod-agent"

// SendMessage appends a user_message, transitions idle->running, and starts
// a turn on the provider (spec §4.1's sendMessage).
func (m *Manager) SendMessage(ctx context.Context, agentID, text string, images []timeline.Image) error {
	a, err := m.lookup(agentID)
	if err != nil {
		return err
	}

	a.mu.Lock()
	if a.status != StatusIdle {
		status := a.status
		a.mu.Unlock()
		if status == StatusArchived {
			return ErrValidation(fmt.Sprintf("agent: %q is archived", agentID))
		}
		// Spec §4.1: concurrent sendMessage while status != idle is
		// rejected; no provider currently supports inline append.
		return ErrBusy(agentID)
	}
	a.status = StatusRunning
	a.observed = false
	client := a.client
	a.mu.Unlock()

	a.touchActivity()
	cursor := a.timelineStore.Append(timeline.Item{Type: timeline.ItemUserMessage, Text: text, Images: images})
	m.publishTimelineEntry(a, timeline.Entry{Cursor: cursor, Item: timeline.Item{Type: timeline.ItemUserMessage, Text: text, Images: images}})

	turnCtx, cancel := context.WithCancel(ctx)
	t, err := client.StartTurn(turnCtx, provider.StartOptions{
		CWD: a.cwd, ModeID: a.modeID, Model: a.model, Thinking: a.thinking,
		SocketPath: m.socketPathFor(agentID),
	}, text, images)
	if err != nil {
		cancel()
		a.setStatus(StatusError)
		a.mu.Lock()
		a.lastError = err.Error()
		a.mu.Unlock()
		m.publishState(a)
		return ErrProvider(fmt.Sprintf("agent: start turn: %v", err))
	}

	a.mu.Lock()
	a.turn = t
	a.cancel = cancel
	a.mu.Unlock()

	m.publishState(a)

	startCursor := a.timelineStore.Append(timeline.Item{Type: timeline.ItemTurnStarted})
	m.publishTimelineEntry(a, timeline.Entry{Cursor: startCursor, Item: timeline.Item{Type: timeline.ItemTurnStarted}})

	go m.runTurn(turnCtx, a, t)
	return nil
}

// runTurn is the turn-loop algorithm of spec §4.1: it drains the provider's
// event stream, persisting timeline items, parking on permission requests,
// and resolving terminal status on completion, failure, or unexpected
// stdio close.
func (m *Manager) runTurn(ctx context.Context, a *Agent, t provider.Turn) {
	ctx, span := tracing.Tracer(turnTracerName).Start(ctx, "agent.turn",
		trace.WithAttributes(attribute.String("agent_id", a.id), attribute.String("provider", string(a.providerTag))),
	)
	defer span.End()

	sawTerminal := false

	for ev := range t.Events() {
		switch ev.Kind {
		case provider.EventTimelineItem:
			cursor := a.timelineStore.Append(ev.Item)
			m.publishTimelineEntry(a, timeline.Entry{Cursor: cursor, Item: ev.Item})
			a.touchActivity()

		case provider.EventPermissionRequest:
			m.openPermission(ctx, a, t, ev)

		case provider.EventTurnCompleted:
			sawTerminal = true
			cursor := a.timelineStore.Append(timeline.Item{Type: timeline.ItemTurnCompleted})
			m.publishTimelineEntry(a, timeline.Entry{Cursor: cursor, Item: timeline.Item{Type: timeline.ItemTurnCompleted}})
			span.SetStatus(codes.Ok, "")
			m.finishTurn(a, StatusIdle, "")

		case provider.EventTurnFailed:
			sawTerminal = true
			cursor := a.timelineStore.Append(timeline.Item{Type: timeline.ItemTurnFailed, TurnError: ev.TurnError})
			m.publishTimelineEntry(a, timeline.Entry{Cursor: cursor, Item: timeline.Item{Type: timeline.ItemTurnFailed, TurnError: ev.TurnError}})
			span.SetStatus(codes.Error, ev.TurnError)
			m.broker.CancelAgent(a.id)
			m.finishTurn(a, StatusError, ev.TurnError)

		case provider.EventSessionStatus:
			if ev.SessionID != "" {
				a.mu.Lock()
				a.sessionID = ev.SessionID
				a.mu.Unlock()
			}
		}
	}

	if !sawTerminal {
		// Spec §4.1 step 3: provider stdio closed without a terminal event.
		cursor := a.timelineStore.Append(timeline.Item{Type: timeline.ItemTurnFailed, TurnError: "provider exited"})
		m.publishTimelineEntry(a, timeline.Entry{Cursor: cursor, Item: timeline.Item{Type: timeline.ItemTurnFailed, TurnError: "provider exited"}})
		span.SetStatus(codes.Error, "provider exited")
		m.broker.CancelAgent(a.id)
		m.finishTurn(a, StatusError, "provider exited")
		m.maybeRehydrate(ctx, a)
	}
}

func (m *Manager) finishTurn(a *Agent, status Status, lastError string) {
	a.mu.Lock()
	a.status = status
	a.lastError = lastError
	a.turn = nil
	a.cancel = nil
	a.mu.Unlock()
	m.publishState(a)
}

// openPermission implements spec §4.3's permission-broker hand-off: it
// registers the request, appends a permission_request timeline item, parks
// a resolver goroutine on the decision channel, and publishes
// permission_requested to agent-stream subscribers.
func (m *Manager) openPermission(ctx context.Context, a *Agent, t provider.Turn, ev provider.Event) {
	req, decisionCh := m.broker.Request(a.id, permission.KindTool, ev.PermissionName, ev.PermissionTitle, ev.PermissionDescription, ev.PermissionInput, ev.PermissionMetadata)

	a.mu.Lock()
	a.status = StatusAwaitingPermission
	a.pendingPermissions = append(a.pendingPermissions, req)
	a.mu.Unlock()

	cursor := a.timelineStore.Append(timeline.Item{Type: timeline.ItemPermissionReq, PermissionID: req.ID})
	m.publishTimelineEntry(a, timeline.Entry{Cursor: cursor, Item: timeline.Item{Type: timeline.ItemPermissionReq, PermissionID: req.ID}})

	env, err := wsproto.NewEvent(wsproto.TypePermissionRequested, req)
	if err == nil {
		m.publishToStream(a, env)
	}
	m.publishState(a)

	go m.resolvePermission(ctx, a, t, req, decisionCh)
}

func (m *Manager) resolvePermission(ctx context.Context, a *Agent, t provider.Turn, req permission.Request, decisionCh <-chan permission.Decision) {
	decision := <-decisionCh

	a.mu.Lock()
	for i, p := range a.pendingPermissions {
		if p.ID == req.ID {
			a.pendingPermissions = append(a.pendingPermissions[:i], a.pendingPermissions[i+1:]...)
			break
		}
	}
	if len(a.pendingPermissions) == 0 && a.status == StatusAwaitingPermission {
		a.status = StatusRunning
	}
	a.mu.Unlock()

	denyMessage := decision.DenyMessage
	if decision.Outcome == permission.OutcomeCanceled {
		denyMessage = "canceled"
	}
	if err := t.ResolvePermission(ctx, provider.PermissionDecision{
		Allow:         decision.Outcome == permission.OutcomeAllow || decision.Outcome == permission.OutcomeAllowModified,
		ModifiedInput: decision.ModifiedInput,
		DenyMessage:   denyMessage,
	}); err != nil {
		m.logger.Warn("failed to deliver permission decision to provider",
			zap.String("agent_id", a.id), zap.String("request_id", req.ID), zap.Error(err))
	}

	env, err := wsproto.NewEvent(wsproto.TypePermissionResolved, map[string]interface{}{
		"id": req.ID, "agentId": a.id, "outcome": decision.Outcome,
	})
	if err == nil {
		m.publishToStream(a, env)
	}
	m.publishState(a)

	if decision.DenyInterrupt {
		_ = m.CancelTurn(ctx, a.id)
	}
}

// RespondToPermission delivers a client decision for requestID (spec
// §4.3/§4.1's respondToPermission).
func (m *Manager) RespondToPermission(agentID, requestID string, decision permission.Decision) error {
	if _, err := m.lookup(agentID); err != nil {
		return err
	}
	if err := m.broker.Respond(requestID, decision); err != nil {
		return ErrValidation(fmt.Sprintf("agent: %v", err))
	}
	return nil
}

// CancelTurn instructs the provider to abort the in-flight turn (spec
// §4.1's cancelTurn). Pending permission requests are resolved canceled and
// the provider is informed deny(reason="canceled") before cancellation
// propagates.
func (m *Manager) CancelTurn(ctx context.Context, agentID string) error {
	a, err := m.lookup(agentID)
	if err != nil {
		return err
	}

	a.mu.RLock()
	t := a.turn
	cancel := a.cancel
	a.mu.RUnlock()

	if t == nil {
		return nil
	}

	m.broker.CancelAgent(agentID)

	if err := t.Cancel(ctx); err != nil {
		m.logger.Warn("provider cancel returned error", zap.String("agent_id", agentID), zap.Error(err))
	}
	if cancel != nil {
		cancel()
	}
	return nil
}

// publishTimelineEntry fans out a single timeline entry as an agent_stream
// event and marks the agent's activity timestamp.
func (m *Manager) publishTimelineEntry(a *Agent, entry timeline.Entry) {
	a.touchActivity()
	env, err := wsproto.NewEvent(wsproto.TypeAgentStream, map[string]interface{}{
		"agentId": a.id,
		"entry":   entry,
	})
	if err != nil {
		m.logger.Error("failed to encode agent_stream event", zap.Error(err))
		return
	}
	m.publishToStream(a, env)
}

func (m *Manager) publishToStream(a *Agent, env *wsproto.Envelope) {
	if m.hub == nil {
		return
	}
	m.hub.Publish(session.TopicEvent{Topic: "agent_stream:" + a.id, Envelope: env})
}
