package rpc

import (
	"context"

	"github.com/paseohq/paseod/internal/agent"
	"github.com/paseohq/paseod/internal/wsproto"
)

func registerAgentHandlers(d *wsproto.Dispatcher, deps Deps) {
	mgr := deps.Agents

	d.RegisterFunc(wsproto.TypeCreateAgent, func(ctx context.Context, env *wsproto.Envelope) (interface{}, error) {
		var p agentCreatePayload
		if err := parsePayload(env, &p); err != nil {
			return nil, err
		}
		if p.CWD == "" {
			return nil, errValidation("rpc: create_agent requires cwd")
		}
		return mgr.CreateAgent(ctx, agent.CreateOptions{
			Provider: p.Provider, CWD: p.CWD, ModeID: p.ModeID, Model: p.Model, Thinking: p.Thinking, Labels: p.Labels,
		})
	})

	d.RegisterFunc(wsproto.TypeSendMessage, func(ctx context.Context, env *wsproto.Envelope) (interface{}, error) {
		var p sendMessagePayload
		if err := parsePayload(env, &p); err != nil {
			return nil, err
		}
		if err := mgr.SendMessage(ctx, p.AgentID, p.Text, p.Images); err != nil {
			return nil, err
		}
		return map[string]interface{}{"accepted": true}, nil
	})

	d.RegisterFunc(wsproto.TypeCancelTurn, func(ctx context.Context, env *wsproto.Envelope) (interface{}, error) {
		var p agentIDPayload
		if err := parsePayload(env, &p); err != nil {
			return nil, err
		}
		if err := mgr.CancelTurn(ctx, p.AgentID); err != nil {
			return nil, err
		}
		return map[string]interface{}{"canceled": true}, nil
	})

	d.RegisterFunc(wsproto.TypeRespondToPermission, func(ctx context.Context, env *wsproto.Envelope) (interface{}, error) {
		var p respondToPermissionPayload
		if err := parsePayload(env, &p); err != nil {
			return nil, err
		}
		if err := mgr.RespondToPermission(p.AgentID, p.RequestID, p.Decision); err != nil {
			return nil, err
		}
		return map[string]interface{}{"resolved": true}, nil
	})

	d.RegisterFunc(wsproto.TypeArchiveAgent, func(ctx context.Context, env *wsproto.Envelope) (interface{}, error) {
		var p agentIDPayload
		if err := parsePayload(env, &p); err != nil {
			return nil, err
		}
		return mgr.ArchiveAgent(ctx, p.AgentID)
	})

	d.RegisterFunc(wsproto.TypeUpdateAgent, func(ctx context.Context, env *wsproto.Envelope) (interface{}, error) {
		var p updateAgentPayload
		if err := parsePayload(env, &p); err != nil {
			return nil, err
		}
		return mgr.UpdateAgent(p.AgentID, agent.UpdateOptions{Title: p.Title, Labels: p.Labels})
	})

	d.RegisterFunc(wsproto.TypeDeleteAgent, func(ctx context.Context, env *wsproto.Envelope) (interface{}, error) {
		var p agentIDPayload
		if err := parsePayload(env, &p); err != nil {
			return nil, err
		}
		if err := mgr.DeleteAgent(ctx, p.AgentID); err != nil {
			return nil, err
		}
		return map[string]interface{}{"deleted": true}, nil
	})

	d.RegisterFunc(wsproto.TypeFetchAgents, func(ctx context.Context, env *wsproto.Envelope) (interface{}, error) {
		client, err := currentClient(ctx)
		if err != nil {
			return nil, err
		}
		if deps.Directory != nil {
			deps.Directory.Subscribe(client, "agent_directory")
		}
		return map[string]interface{}{"agents": mgr.FetchAgents()}, nil
	})

	d.RegisterFunc(wsproto.TypeFetchAgent, func(ctx context.Context, env *wsproto.Envelope) (interface{}, error) {
		var p agentIDPayload
		if err := parsePayload(env, &p); err != nil {
			return nil, err
		}
		client, err := currentClient(ctx)
		if err != nil {
			return nil, err
		}
		snap, err := mgr.FetchAgent(p.AgentID)
		if err != nil {
			return nil, err
		}
		client.Subscribe("agent_stream:"+p.AgentID, "agent_stream:"+p.AgentID)
		return snap, nil
	})

	d.RegisterFunc(wsproto.TypeFetchAgentTimeline, func(ctx context.Context, env *wsproto.Envelope) (interface{}, error) {
		var p fetchAgentTimelinePayload
		if err := parsePayload(env, &p); err != nil {
			return nil, err
		}
		client, err := currentClient(ctx)
		if err != nil {
			return nil, err
		}
		result, err := mgr.FetchAgentTimeline(p.AgentID, timelineQueryOptions(p))
		if err != nil {
			return nil, err
		}
		client.Subscribe("agent_stream:"+p.AgentID, "agent_stream:"+p.AgentID)
		return result, nil
	})

	d.RegisterFunc(wsproto.TypeEnsureAgentInitialized, func(ctx context.Context, env *wsproto.Envelope) (interface{}, error) {
		var p agentIDPayload
		if err := parsePayload(env, &p); err != nil {
			return nil, err
		}
		// Idempotent: an agent finishes createAgent's spawn synchronously,
		// so "ensuring" it is initialized is just re-fetching its current
		// state for a client that reconnected mid-spawn.
		return mgr.FetchAgent(p.AgentID)
	})

	d.RegisterFunc(wsproto.TypeRefreshAgent, func(ctx context.Context, env *wsproto.Envelope) (interface{}, error) {
		var p agentIDPayload
		if err := parsePayload(env, &p); err != nil {
			return nil, err
		}
		return mgr.RefreshAgent(p.AgentID)
	})

	d.RegisterFunc(wsproto.TypeSetMode, func(ctx context.Context, env *wsproto.Envelope) (interface{}, error) {
		var p setModePayload
		if err := parsePayload(env, &p); err != nil {
			return nil, err
		}
		return mgr.SetMode(p.AgentID, p.ModeID)
	})

	d.RegisterFunc(wsproto.TypeListProviderModels, func(ctx context.Context, env *wsproto.Envelope) (interface{}, error) {
		var p agentIDPayload
		if err := parsePayload(env, &p); err != nil {
			return nil, err
		}
		models, err := mgr.ListProviderModels(ctx, p.AgentID)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"models": models}, nil
	})

	d.RegisterFunc(wsproto.TypeListCommands, func(ctx context.Context, env *wsproto.Envelope) (interface{}, error) {
		var p agentIDPayload
		if err := parsePayload(env, &p); err != nil {
			return nil, err
		}
		snap, err := mgr.FetchAgent(p.AgentID)
		if err != nil {
			return nil, err
		}
		// The host models slash-commands as "/mode <id>" switches, since
		// that's the only command-like surface a provider currently
		// exposes (its supported modes); richer per-provider command
		// catalogs are not yet surfaced by provider.Client.
		commands := []string{}
		if snap.ModeID != "" {
			commands = append(commands, "/mode "+snap.ModeID)
		}
		return map[string]interface{}{"commands": commands}, nil
	})
}
