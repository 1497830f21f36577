package services

import (
	"github.com/servcy/inboxstack/config"
	"github.com/servcy/inboxstack/interfaces"
	"github.com/servcy/inboxstack/internal/logger"
	"github.com/servcy/inboxstack/internal/repository"
	"github.com/servcy/inboxstack/services/activity"
	"github.com/servcy/inboxstack/services/inbox"
	"github.com/servcy/inboxstack/services/providers"
	"github.com/servcy/inboxstack/services/refresh"
	"github.com/servcy/inboxstack/services/sync"
	"github.com/servcy/inboxstack/services/vault"
)

type Services struct {
	Vault           interfaces.VaultService
	Registry        interfaces.AdapterRegistry
	SyncEngine      interfaces.SyncEngine
	InboxService    interfaces.InboxService
	RefreshService  interfaces.RefreshService
	ActivityService interfaces.ActivityService
}

func InitServices(cfg *config.Config, repositories *repository.Repositories, l logger.Logger) (*Services, error) {
	activityService, err := activity.NewActivityService(cfg.AppConfig.RabbitMQURL, l)
	if err != nil {
		return nil, err
	}

	vaultService, err := vault.NewVaultService(cfg.VaultConfig, repositories.IntegrationRepository, l)
	if err != nil {
		return nil, err
	}

	registry := providers.NewRegistry(cfg, l)
	inboxService := inbox.NewInboxService(repositories.InboxItemRepository, repositories.InboxAttachmentRepository, vaultService, l)
	syncEngine := sync.NewSyncEngine(vaultService, registry, inboxService, activityService, l)
	refreshService := refresh.NewRefreshService(vaultService, registry, syncEngine, activityService, l)

	return &Services{
		Vault:           vaultService,
		Registry:        registry,
		SyncEngine:      syncEngine,
		InboxService:    inboxService,
		RefreshService:  refreshService,
		ActivityService: activityService,
	}, nil
}
