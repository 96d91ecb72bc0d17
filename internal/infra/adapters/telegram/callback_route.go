package telegram

import (
	"context"
	"strings"

	"telegram-referral-bot/internal/application"
)

type cbHandler func(ctx context.Context, req application.Requester, data string) error

// Exact-match callbacks
func (r *RealTelegramBotAdapter) cbRoutes() map[string]cbHandler {
	facade := func(ctx context.Context, req application.Requester, data string) error {
		return r.deliver(ctx, r.facade.HandleCallback(ctx, req, data))
	}
	return map[string]cbHandler{
		application.CallbackStatus: facade,
		application.CallbackClaim:  facade,
		application.CallbackHelp:   facade,
		application.CallbackMyLink: facade,
	}
}

// Prefix-match callbacks
func (r *RealTelegramBotAdapter) cbPrefixRoutes() []struct {
	Prefix string
	Fn     cbHandler
} {
	return []struct {
		Prefix string
		Fn     cbHandler
	}{
		{
			Prefix: application.CallbackClaimPrefix,
			Fn: func(ctx context.Context, req application.Requester, data string) error {
				return r.deliver(ctx, r.facade.HandleCallback(ctx, req, data))
			},
		},
	}
}

func (r *RealTelegramBotAdapter) routeCallback(ctx context.Context, req application.Requester, data string) error {
	if fn, ok := r.cbRoutes()[data]; ok {
		return fn(ctx, req, data)
	}
	for _, pr := range r.cbPrefixRoutes() {
		if strings.HasPrefix(data, pr.Prefix) {
			return pr.Fn(ctx, req, data)
		}
	}
	r.log.Debug().Str("data", data).Msg("unknown callback data")
	return nil
}
