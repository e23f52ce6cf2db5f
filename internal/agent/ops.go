package agent

import (
	"context"

	"go.uber.org/zap"
)

// SetMode changes an agent's active mode id. Rejected while a turn is
// in-flight, since a mode switch mid-turn has no well-defined provider
// semantics.
func (m *Manager) SetMode(agentID, modeID string) (Snapshot, error) {
	a, err := m.lookup(agentID)
	if err != nil {
		return Snapshot{}, err
	}

	a.mu.Lock()
	if a.status != StatusIdle {
		a.mu.Unlock()
		return Snapshot{}, ErrBusy(agentID)
	}
	a.modeID = modeID
	a.mu.Unlock()

	m.publishState(a)
	return a.Snapshot(), nil
}

// ListProviderModels proxies to the agent's live provider client.
func (m *Manager) ListProviderModels(ctx context.Context, agentID string) ([]string, error) {
	a, err := m.lookup(agentID)
	if err != nil {
		return nil, err
	}
	a.mu.RLock()
	client := a.client
	a.mu.RUnlock()
	if client == nil {
		return nil, nil
	}
	models, err := client.ListModels(ctx)
	if err != nil {
		return nil, ErrProvider(err.Error())
	}
	return models, nil
}

// RefreshAgent re-publishes the current snapshot; used after external state
// changes the Manager didn't itself originate (e.g. directory presence).
func (m *Manager) RefreshAgent(agentID string) (Snapshot, error) {
	a, err := m.lookup(agentID)
	if err != nil {
		return Snapshot{}, err
	}
	m.publishState(a)
	return a.Snapshot(), nil
}

// DeleteAgent permanently removes an archived agent's in-memory record.
// Non-archived agents are archived first.
func (m *Manager) DeleteAgent(ctx context.Context, agentID string) error {
	a, err := m.lookup(agentID)
	if err != nil {
		return err
	}

	a.mu.RLock()
	archived := a.archivedAt != nil
	a.mu.RUnlock()

	if !archived {
		if _, err := m.ArchiveAgent(ctx, agentID); err != nil {
			return err
		}
	}

	snap := a.Snapshot()

	m.mu.Lock()
	delete(m.agents, agentID)
	m.mu.Unlock()

	if m.directoryObserver != nil {
		m.directoryObserver(snap, true)
	}

	m.logger.Info("agent deleted", zap.String("agent_id", agentID))
	return nil
}
