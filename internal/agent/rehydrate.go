package agent

import (
	"context"

	"go.uber.org/zap"

	"github.com/paseohq/paseod/internal/provider"
	"github.com/paseohq/paseod/internal/timeline"
)

// maybeRehydrate implements spec §4.1's crash-recovery edge policy: a
// provider with a recoverable session id (e.g. Claude's session/load)
// reconnects automatically, bumping the timeline epoch and resetting seq,
// with a synthetic session_rehydrated marker so clients can detect the
// discontinuity and re-subscribe. Attempted at most once per agent; a
// second consecutive crash surfaces as a plain error instead of looping.
func (m *Manager) maybeRehydrate(ctx context.Context, a *Agent) {
	a.mu.Lock()
	if a.persistence != provider.PersistenceByID || a.sessionID == "" || a.rehydrationAttempted {
		a.mu.Unlock()
		return
	}
	a.rehydrationAttempted = true
	sessionID := a.sessionID
	client := a.client
	cwd := a.cwd
	modeID := a.modeID
	model := a.model
	thinking := a.thinking
	a.mu.Unlock()

	previousEpoch := a.timelineStore.Cursor().Epoch
	newEpoch := a.timelineStore.BumpEpoch()

	cursor := a.timelineStore.Append(timeline.Item{Type: timeline.ItemSessionRehydrated, PreviousEpoch: previousEpoch})
	m.publishTimelineEntry(a, timeline.Entry{Cursor: cursor, Item: timeline.Item{Type: timeline.ItemSessionRehydrated, PreviousEpoch: previousEpoch}})

	// A bare rehydration reconnects the session without sending a new
	// prompt; the next sendMessage resumes the conversation in place.
	turnCtx, cancel := context.WithCancel(ctx)
	t, err := client.StartTurn(turnCtx, provider.StartOptions{CWD: cwd, ModeID: modeID, Model: model, Thinking: thinking, ResumeSessionID: sessionID, SocketPath: m.socketPathFor(a.id)}, "", nil)
	if err != nil {
		cancel()
		m.logger.Warn("session rehydration failed", zap.String("agent_id", a.id), zap.Int("new_epoch", newEpoch), zap.Error(err))
		a.setStatus(StatusError)
		m.publishState(a)
		return
	}
	_ = t.Cancel(ctx) // probe-only reconnect: session/load succeeded, nothing queued to run
	cancel()

	a.setStatus(StatusIdle)
	a.mu.Lock()
	a.lastError = ""
	a.mu.Unlock()
	m.publishState(a)

	m.logger.Info("agent session rehydrated", zap.String("agent_id", a.id), zap.Int("new_epoch", newEpoch))
}
