package refresh

import (
	"context"
	"time"

	"github.com/opentracing/opentracing-go"

	"github.com/servcy/inboxstack/dto"
	"github.com/servcy/inboxstack/interfaces"
	"github.com/servcy/inboxstack/internal/enum"
	customerrors "github.com/servcy/inboxstack/internal/errors"
	"github.com/servcy/inboxstack/internal/logger"
	"github.com/servcy/inboxstack/internal/models"
	"github.com/servcy/inboxstack/internal/tracing"
)

// refreshWindow is how far ahead of expiry a token is refreshed. The sweep
// runs hourly, so anything expiring within the next two sweeps is refreshed
// now.
const refreshWindow = 2 * time.Hour

type refreshService struct {
	vault    interfaces.VaultService
	registry interfaces.AdapterRegistry
	engine   interfaces.SyncEngine
	activity interfaces.ActivityService
	logger   logger.Logger
}

func NewRefreshService(
	vault interfaces.VaultService,
	registry interfaces.AdapterRegistry,
	engine interfaces.SyncEngine,
	activity interfaces.ActivityService,
	l logger.Logger,
) interfaces.RefreshService {
	return &refreshService{
		vault:    vault,
		registry: registry,
		engine:   engine,
		activity: activity,
		logger:   l,
	}
}

// RefreshAll walks active integrations and heals their credentials: refreshes
// near-expiry tokens and re-registers push watches. One bad integration is
// logged and skipped; the scan always completes.
func (s *refreshService) RefreshAll(ctx context.Context, providers ...enum.IntegrationProvider) *interfaces.ScanReport {
	span, ctx := opentracing.StartSpanFromContext(ctx, "RefreshService.RefreshAll")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	report := &interfaces.ScanReport{}

	integrations, err := s.vault.GetUserIntegrations(ctx, interfaces.IntegrationFilter{
		Providers:  providers,
		ActiveOnly: true,
	})
	if err != nil {
		tracing.TraceErr(span, err)
		s.logger.Errorf("refresh scan failed to list integrations: %v", err)
		return report
	}

	for _, integration := range integrations {
		report.Scanned++
		switch s.refreshOne(ctx, integration) {
		case outcomeRefreshed:
			report.Refreshed++
		case outcomeRevoked:
			report.Revoked++
		case outcomeFailed:
			report.Failed++
		}
	}

	span.LogKV("scanned", report.Scanned, "refreshed", report.Refreshed, "revoked", report.Revoked, "failed", report.Failed)
	return report
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeRefreshed
	outcomeRevoked
	outcomeFailed
)

func (s *refreshService) refreshOne(ctx context.Context, integration *models.Integration) outcome {
	span, ctx := opentracing.StartSpanFromContext(ctx, "RefreshService.refreshOne")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagIntegration(span, integration.ID)
	tracing.TagProvider(span, integration.Provider.String())
	tracing.TagAccount(span, integration.AccountID)

	adapter, ok := s.registry.Adapter(integration.Provider)
	if !ok {
		s.logger.Warnf("no adapter registered for provider %s, skipping refresh of %s", integration.Provider, integration.ID)
		return outcomeSkipped
	}

	token := models.TokenBundleFromMetadata(integration.Metadata)
	if token == nil || token.RefreshToken == "" {
		s.logger.Errorf("integration %s has no refresh token, deactivating", integration.ID)
		s.deactivate(ctx, integration)
		return outcomeRevoked
	}

	patch := models.JSONMap{}

	if token.NearExpiry(refreshWindow) {
		fresh, err := adapter.Refresh(ctx, token.RefreshToken)
		if err != nil {
			if customerrors.IsAccessRevoked(err) {
				s.deactivate(ctx, integration)
				return outcomeRevoked
			}
			tracing.TraceErr(span, err)
			s.logger.Warnf("token refresh failed for integration %s (%s/%s): %v",
				integration.ID, integration.Provider, integration.AccountID, err)
			return outcomeFailed
		}
		token = token.Rotate(fresh)
		patch[models.MetadataKeyToken] = token.AsMap()
	}

	// Push subscriptions decay on the provider side and have to be renewed
	// with a live token.
	if adapter.SupportsPush() {
		watch, err := adapter.RegisterWatch(ctx, token, integration.AccountID)
		if err != nil {
			if customerrors.IsAccessRevoked(err) {
				s.deactivate(ctx, integration)
				return outcomeRevoked
			}
			tracing.TraceErr(span, err)
			s.logger.Warnf("watch renewal failed for integration %s (%s/%s): %v",
				integration.ID, integration.Provider, integration.AccountID, err)
			// A refreshed token still has to be persisted.
			if len(patch) > 0 {
				if mergeErr := s.vault.MergeMetadata(ctx, integration.ID, patch); mergeErr != nil {
					s.logger.Errorf("failed to persist refreshed token for integration %s: %v", integration.ID, mergeErr)
				}
			}
			return outcomeFailed
		}
		if watch != nil {
			patch[models.MetadataKeyWatch] = map[string]interface{}(watch)
		}
	}

	if len(patch) == 0 {
		return outcomeSkipped
	}

	if err := s.vault.MergeMetadata(ctx, integration.ID, patch); err != nil {
		tracing.TraceErr(span, err)
		s.logger.Errorf("failed to persist refreshed credentials for integration %s: %v", integration.ID, err)
		return outcomeFailed
	}

	s.activity.Record(ctx, dto.ActivityEvent{
		EventType: enum.ActivityIntegrationRefreshed,
		ActorID:   integration.UserID,
		SubjectID: integration.ID,
		AfterState: models.JSONMap{
			"provider":   integration.Provider.String(),
			"account_id": integration.AccountID,
		},
		Timestamp: time.Now().UTC(),
	})
	return outcomeRefreshed
}

// PollAll sweeps every active integration of a polling provider through the
// sync engine. Push providers are excluded; their deltas arrive as webhooks.
func (s *refreshService) PollAll(ctx context.Context) *interfaces.ScanReport {
	span, ctx := opentracing.StartSpanFromContext(ctx, "RefreshService.PollAll")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	report := &interfaces.ScanReport{}

	var pollingProviders []enum.IntegrationProvider
	for _, adapter := range s.registry.All() {
		if !adapter.SupportsPush() {
			pollingProviders = append(pollingProviders, adapter.Provider())
		}
	}
	if len(pollingProviders) == 0 {
		return report
	}

	integrations, err := s.vault.GetUserIntegrations(ctx, interfaces.IntegrationFilter{
		Providers:  pollingProviders,
		ActiveOnly: true,
	})
	if err != nil {
		tracing.TraceErr(span, err)
		s.logger.Errorf("poll sweep failed to list integrations: %v", err)
		return report
	}

	for _, integration := range integrations {
		report.Scanned++
		result, err := s.engine.SyncIntegration(ctx, integration.ID, interfaces.TriggerHint{Trigger: enum.TriggerScheduler})
		if err != nil {
			report.Failed++
			s.logger.Warnf("poll sweep failed for integration %s (%s/%s): %v",
				integration.ID, integration.Provider, integration.AccountID, err)
			continue
		}
		switch result.State {
		case enum.SyncDeactivated:
			report.Revoked++
		case enum.SyncCursorAdvanced:
			report.Refreshed++
		case enum.SyncSoftFailed:
			report.Failed++
		}
	}

	span.LogKV("scanned", report.Scanned, "synced", report.Refreshed, "revoked", report.Revoked, "failed", report.Failed)
	return report
}

func (s *refreshService) deactivate(ctx context.Context, integration *models.Integration) {
	if err := s.vault.Deactivate(ctx, integration.ID); err != nil {
		s.logger.Errorf("failed to deactivate integration %s: %v", integration.ID, err)
		return
	}
	s.activity.Record(ctx, dto.ActivityEvent{
		EventType: enum.ActivityIntegrationDeactivated,
		ActorID:   integration.UserID,
		SubjectID: integration.ID,
		BeforeState: models.JSONMap{
			"provider":   integration.Provider.String(),
			"account_id": integration.AccountID,
		},
		Timestamp: time.Now().UTC(),
	})
}
