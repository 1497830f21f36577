package repository

import (
	"context"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/servcy/inboxstack/interfaces"
	ierrors "github.com/servcy/inboxstack/internal/errors"
	"github.com/servcy/inboxstack/internal/models"
	"github.com/servcy/inboxstack/internal/tracing"
)

type integrationRepository struct {
	db *gorm.DB
}

func NewIntegrationRepository(db *gorm.DB) interfaces.IntegrationRepository {
	return &integrationRepository{db: db}
}

func (r *integrationRepository) Create(ctx context.Context, integration *models.Integration) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "integrationRepository.Create")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagProvider(span, integration.Provider.String())

	// Re-authentication of an existing (user, provider, account) triple
	// replaces the metadata and reactivates the row.
	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "provider"}, {Name: "account_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"metadata":     integration.EncryptedMetadata,
			"display_name": integration.DisplayName,
			"is_active":    true,
			"updated_at":   time.Now(),
		}),
	}).Create(integration)
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return errors.Wrap(result.Error, "failed to create integration")
	}
	return nil
}

func (r *integrationRepository) GetByID(ctx context.Context, id string) (*models.Integration, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "integrationRepository.GetByID")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagIntegration(span, id)

	var integration models.Integration
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&integration).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		tracing.TraceErr(span, err)
		return nil, err
	}
	return &integration, nil
}

func (r *integrationRepository) List(ctx context.Context, filter interfaces.IntegrationFilter) ([]*models.Integration, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "integrationRepository.List")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	query := r.db.WithContext(ctx).Model(&models.Integration{})
	if filter.UserID != "" {
		query = query.Where("user_id = ?", filter.UserID)
	}
	if len(filter.Providers) > 0 {
		query = query.Where("provider IN ?", filter.Providers)
	}
	if filter.AccountID != "" {
		query = query.Where("account_id = ?", filter.AccountID)
	}
	if filter.ActiveOnly {
		query = query.Where("is_active = ?", true)
	}

	var integrations []*models.Integration
	if err := query.Order("created_at ASC").Find(&integrations).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return integrations, nil
}

// UpdateMetadata re-reads the ciphertext under SELECT ... FOR UPDATE and
// persists what fn returns, so concurrent merges serialize on the row.
func (r *integrationRepository) UpdateMetadata(ctx context.Context, id string, fn func(currentCiphertext string) (string, error)) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "integrationRepository.UpdateMetadata")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagIntegration(span, id)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var integration models.Integration
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id).
			First(&integration).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ierrors.ErrIntegrationNotFound
			}
			return err
		}

		updated, err := fn(integration.EncryptedMetadata)
		if err != nil {
			return err
		}

		return tx.Model(&models.Integration{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{
				"metadata":   updated,
				"updated_at": time.Now(),
			}).Error
	})
	if err != nil && !ierrors.IsIntegrationNotFound(err) {
		tracing.TraceErr(span, err)
	}
	return err
}

func (r *integrationRepository) SetActive(ctx context.Context, id string, active bool) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "integrationRepository.SetActive")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagIntegration(span, id)

	result := r.db.WithContext(ctx).Model(&models.Integration{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"is_active":  active,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ierrors.ErrIntegrationNotFound
	}
	return nil
}
