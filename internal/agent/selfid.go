package agent

import "go.uber.org/zap"

// SelfIDToolName is the tool injected into a user-facing agent's provider
// tool environment (spec §4.1's self-identification capability / SPEC_FULL
// §6.4's self-id bridge).
const SelfIDToolName = "set_title"

// SetSelfTitle implements the set_title tool: it lets the running provider
// set its own agent's title, used by the MCP self-id bridge (SPEC_FULL.md
// §6.4). Only callable for user-facing agents (labels.ui == "true"); the
// bridge offers the tool to every agent and this method rejects the call
// for the others.
func (m *Manager) SetSelfTitle(agentID, title string) error {
	a, err := m.lookup(agentID)
	if err != nil {
		return err
	}
	if !a.IsUserFacing() {
		return ErrValidation("agent: self-id capability is only available to user-facing agents")
	}

	a.setTitle(title)
	m.publishState(a)
	m.logger.Debug("agent self-titled", zap.String("agent_id", agentID), zap.String("title", title))
	return nil
}
