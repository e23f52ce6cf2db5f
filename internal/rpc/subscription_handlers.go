package rpc

import (
	"context"

	"github.com/paseohq/paseod/internal/subscription"
	"github.com/paseohq/paseod/internal/wsproto"
)

type subscribeCheckoutDiffPayload struct {
	SubscriptionID string          `json:"subscriptionId"`
	CWD            string          `json:"cwd"`
	Mode           subscription.Mode `json:"mode"`
}

type unsubscribeCheckoutDiffPayload struct {
	SubscriptionID string `json:"subscriptionId"`
	CWD            string `json:"cwd"`
}

type cwdPayload struct {
	CWD string `json:"cwd"`
}

type highlightedDiffPayload struct {
	CWD  string `json:"cwd"`
	Path string `json:"path"`
}

func registerSubscriptionHandlers(d *wsproto.Dispatcher, deps Deps) {
	eng := deps.Subscription

	d.RegisterFunc(wsproto.TypeSubscribeCheckoutDiff, func(ctx context.Context, env *wsproto.Envelope) (interface{}, error) {
		var p subscribeCheckoutDiffPayload
		if err := parsePayload(env, &p); err != nil {
			return nil, err
		}
		if p.CWD == "" {
			return nil, errValidation("rpc: subscribe_checkout_diff requires cwd")
		}
		mode := p.Mode
		if mode == "" {
			mode = subscription.ModeUncommitted
		}
		client, err := currentClient(ctx)
		if err != nil {
			return nil, err
		}
		subID := p.SubscriptionID
		if subID == "" {
			subID = "checkout_diff:" + p.CWD + ":" + string(mode)
		}
		if err := eng.SubscribeCheckoutDiff(ctx, client, subID, p.CWD, mode); err != nil {
			return nil, err
		}
		return map[string]interface{}{"subscribed": true}, nil
	})

	d.RegisterFunc(wsproto.TypeUnsubscribeCheckoutDiff, func(ctx context.Context, env *wsproto.Envelope) (interface{}, error) {
		var p unsubscribeCheckoutDiffPayload
		if err := parsePayload(env, &p); err != nil {
			return nil, err
		}
		client, err := currentClient(ctx)
		if err != nil {
			return nil, err
		}
		subID := p.SubscriptionID
		if subID == "" {
			subID = "checkout_diff:" + p.CWD + ":" + string(subscription.ModeUncommitted)
		}
		eng.UnsubscribeCheckoutDiff(client, subID, p.CWD)
		return map[string]interface{}{"unsubscribed": true}, nil
	})

	d.RegisterFunc(wsproto.TypeCheckoutStatus, func(ctx context.Context, env *wsproto.Envelope) (interface{}, error) {
		var p cwdPayload
		if err := parsePayload(env, &p); err != nil {
			return nil, err
		}
		files, err := eng.CheckoutStatus(ctx, p.CWD)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"files": files}, nil
	})

	d.RegisterFunc(wsproto.TypeCheckoutPRStatus, func(ctx context.Context, env *wsproto.Envelope) (interface{}, error) {
		var p cwdPayload
		if err := parsePayload(env, &p); err != nil {
			return nil, err
		}
		files, err := eng.CheckoutPRStatus(ctx, p.CWD)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"files": files}, nil
	})

	d.RegisterFunc(wsproto.TypeGetHighlightedDiff, func(ctx context.Context, env *wsproto.Envelope) (interface{}, error) {
		var p highlightedDiffPayload
		if err := parsePayload(env, &p); err != nil {
			return nil, err
		}
		hunks, err := eng.HighlightedDiff(ctx, p.CWD, p.Path)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"path": p.Path, "hunks": hunks}, nil
	})

	d.RegisterFunc(wsproto.TypeExploreFilesystem, func(ctx context.Context, env *wsproto.Envelope) (interface{}, error) {
		var p cwdPayload
		if err := parsePayload(env, &p); err != nil {
			return nil, err
		}
		entries, err := exploreFilesystem(p.CWD)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"entries": entries}, nil
	})

	d.RegisterFunc(wsproto.TypeRequestDownloadToken, func(ctx context.Context, env *wsproto.Envelope) (interface{}, error) {
		var p struct {
			Path string `json:"path"`
		}
		if err := parsePayload(env, &p); err != nil {
			return nil, err
		}
		if p.Path == "" {
			return nil, errValidation("rpc: request_download_token requires path")
		}
		token, expiresAt := issueDownloadToken(p.Path)
		return map[string]interface{}{"token": token, "expiresAt": expiresAt}, nil
	})
}
