package vault

import (
	"context"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/servcy/inboxstack/interfaces"
	"github.com/servcy/inboxstack/internal/config"
	"github.com/servcy/inboxstack/internal/enum"
	customerrors "github.com/servcy/inboxstack/internal/errors"
	"github.com/servcy/inboxstack/internal/logger"
	"github.com/servcy/inboxstack/internal/models"
	"github.com/servcy/inboxstack/internal/tracing"
	"github.com/servcy/inboxstack/internal/utils"
)

type vaultService struct {
	repo   interfaces.IntegrationRepository
	cipher *metadataCipher
	logger logger.Logger

	// per-integration locks so concurrent metadata merges on the same
	// integration serialize before hitting the row lock
	locks *utils.KeyedMutex
}

func NewVaultService(cfg *config.VaultConfig, repo interfaces.IntegrationRepository, l logger.Logger) (interfaces.VaultService, error) {
	cipher, err := newMetadataCipher(cfg.EncryptionKey)
	if err != nil {
		return nil, err
	}
	return &vaultService{
		repo:   repo,
		cipher: cipher,
		logger: l,
		locks:  utils.NewKeyedMutex(),
	}, nil
}

func (s *vaultService) GetUserIntegrations(ctx context.Context, filter interfaces.IntegrationFilter) ([]*models.Integration, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "VaultService.GetUserIntegrations")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagUserID(span, filter.UserID)

	integrations, err := s.repo.List(ctx, filter)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	for _, integration := range integrations {
		if err := s.decryptInto(integration); err != nil {
			tracing.TraceErr(span, err)
			return nil, err
		}
	}
	return integrations, nil
}

func (s *vaultService) GetByID(ctx context.Context, integrationID string) (*models.Integration, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "VaultService.GetByID")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagIntegration(span, integrationID)

	integration, err := s.repo.GetByID(ctx, integrationID)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	if integration == nil {
		return nil, customerrors.ErrIntegrationNotFound
	}

	if err := s.decryptInto(integration); err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return integration, nil
}

func (s *vaultService) GetByAccount(ctx context.Context, provider enum.IntegrationProvider, accountID string) (*models.Integration, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "VaultService.GetByAccount")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagProvider(span, provider.String())
	tracing.TagAccount(span, accountID)

	integrations, err := s.repo.List(ctx, interfaces.IntegrationFilter{
		Providers: []enum.IntegrationProvider{provider},
		AccountID: accountID,
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	if len(integrations) == 0 {
		return nil, customerrors.ErrIntegrationNotFound
	}

	integration := integrations[0]
	if err := s.decryptInto(integration); err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return integration, nil
}

func (s *vaultService) CreateIntegration(ctx context.Context, integration *models.Integration) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "VaultService.CreateIntegration")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagUserID(span, integration.UserID)
	tracing.TagProvider(span, integration.Provider.String())
	tracing.TagAccount(span, integration.AccountID)

	if integration.Metadata == nil {
		integration.Metadata = models.JSONMap{}
	}

	ciphertext, err := s.cipher.encrypt(integration.Metadata)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	integration.EncryptedMetadata = ciphertext
	integration.IsActive = true

	if err := s.repo.Create(ctx, integration); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

func (s *vaultService) MergeMetadata(ctx context.Context, integrationID string, patch models.JSONMap) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "VaultService.MergeMetadata")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagIntegration(span, integrationID)

	if len(patch) == 0 {
		return nil
	}

	unlock := s.locks.Lock(integrationID)
	defer unlock()

	err := s.repo.UpdateMetadata(ctx, integrationID, func(currentCiphertext string) (string, error) {
		current, err := s.cipher.decrypt(currentCiphertext)
		if err != nil {
			return "", errors.Wrap(err, "failed to decrypt current metadata")
		}
		merged := current.Merge(patch)
		return s.cipher.encrypt(merged)
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

func (s *vaultService) Deactivate(ctx context.Context, integrationID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "VaultService.Deactivate")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagIntegration(span, integrationID)

	if err := s.repo.SetActive(ctx, integrationID, false); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	s.logger.Infof("integration %s deactivated", integrationID)
	return nil
}

func (s *vaultService) decryptInto(integration *models.Integration) error {
	metadata, err := s.cipher.decrypt(integration.EncryptedMetadata)
	if err != nil {
		return errors.Wrapf(err, "failed to decrypt metadata for integration %s", integration.ID)
	}
	integration.Metadata = metadata
	return nil
}
