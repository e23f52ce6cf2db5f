package rpc

import (
	"context"

	"github.com/paseohq/paseod/internal/terminal"
	"github.com/paseohq/paseod/internal/wsproto"
)

type listTerminalsPayload struct {
	CWD string `json:"cwd"`
}

type createTerminalPayload struct {
	CWD  string `json:"cwd"`
	Name string `json:"name"`
	Rows int    `json:"rows"`
	Cols int    `json:"cols"`
}

type terminalSubscribePayload struct {
	SubscriptionID string `json:"subscriptionId"`
	ID             string `json:"id"`
}

type sendTerminalInputPayload struct {
	ID     string             `json:"id"`
	Type   terminal.InputKind `json:"type"`
	Data   string             `json:"data"`
	Rows   int                `json:"rows"`
	Cols   int                `json:"cols"`
	Signal string             `json:"signal"`
}

type killTerminalPayload struct {
	ID string `json:"id"`
}

func registerTerminalHandlers(d *wsproto.Dispatcher, deps Deps) {
	svc := deps.Terminals

	d.RegisterFunc(wsproto.TypeListTerminals, func(ctx context.Context, env *wsproto.Envelope) (interface{}, error) {
		var p listTerminalsPayload
		if err := parsePayload(env, &p); err != nil {
			return nil, err
		}
		terms, err := svc.ListTerminals(p.CWD)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"terminals": terms}, nil
	})

	d.RegisterFunc(wsproto.TypeCreateTerminal, func(ctx context.Context, env *wsproto.Envelope) (interface{}, error) {
		var p createTerminalPayload
		if err := parsePayload(env, &p); err != nil {
			return nil, err
		}
		return svc.CreateTerminal(terminal.CreateOptions{CWD: p.CWD, Name: p.Name, Rows: p.Rows, Cols: p.Cols})
	})

	d.RegisterFunc(wsproto.TypeSubscribeTerminal, func(ctx context.Context, env *wsproto.Envelope) (interface{}, error) {
		var p terminalSubscribePayload
		if err := parsePayload(env, &p); err != nil {
			return nil, err
		}
		client, err := currentClient(ctx)
		if err != nil {
			return nil, err
		}
		snap, err := svc.SubscribeTerminal(p.ID)
		if err != nil {
			return nil, err
		}
		subID := p.SubscriptionID
		if subID == "" {
			subID = "terminal:" + p.ID
		}
		client.Subscribe(subID, "terminal:"+p.ID)
		return snap, nil
	})

	d.RegisterFunc(wsproto.TypeUnsubscribeTerminal, func(ctx context.Context, env *wsproto.Envelope) (interface{}, error) {
		var p terminalSubscribePayload
		if err := parsePayload(env, &p); err != nil {
			return nil, err
		}
		client, err := currentClient(ctx)
		if err != nil {
			return nil, err
		}
		subID := p.SubscriptionID
		if subID == "" {
			subID = "terminal:" + p.ID
		}
		client.Unsubscribe(subID)
		svc.Evict(p.ID)
		return map[string]interface{}{"unsubscribed": true}, nil
	})

	d.RegisterFunc(wsproto.TypeSendTerminalInput, func(ctx context.Context, env *wsproto.Envelope) (interface{}, error) {
		var p sendTerminalInputPayload
		if err := parsePayload(env, &p); err != nil {
			return nil, err
		}
		if err := svc.SendInput(p.ID, terminal.InputRequest{
			Type: p.Type, Data: p.Data, Rows: p.Rows, Cols: p.Cols, Signal: p.Signal,
		}); err != nil {
			return nil, err
		}
		return map[string]interface{}{"accepted": true}, nil
	})

	d.RegisterFunc(wsproto.TypeKillTerminal, func(ctx context.Context, env *wsproto.Envelope) (interface{}, error) {
		var p killTerminalPayload
		if err := parsePayload(env, &p); err != nil {
			return nil, err
		}
		if err := svc.KillTerminal(p.ID); err != nil {
			return nil, err
		}
		return map[string]interface{}{"killed": true}, nil
	})
}
