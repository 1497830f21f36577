package handlers

import (
	"github.com/servcy/inboxstack/config"
	"github.com/servcy/inboxstack/internal/logger"
	"github.com/servcy/inboxstack/services"
)

type Handlers struct {
	OAuth    *OAuthHandler
	Webhooks *WebhookHandler
	Inbox    *InboxHandler
}

func InitHandlers(cfg *config.Config, svc *services.Services, log logger.Logger) *Handlers {
	return &Handlers{
		OAuth:    NewOAuthHandler(cfg, svc, log),
		Webhooks: NewWebhookHandler(svc, log),
		Inbox:    NewInboxHandler(svc, log),
	}
}
