package repository

import (
	"context"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/servcy/inboxstack/interfaces"
	"github.com/servcy/inboxstack/internal/models"
	"github.com/servcy/inboxstack/internal/tracing"
)

type inboxItemRepository struct {
	db *gorm.DB
}

func NewInboxItemRepository(db *gorm.DB) interfaces.InboxItemRepository {
	return &inboxItemRepository{db: db}
}

// AddItems bulk-inserts with insert-ignore-on-conflict keyed on uid. The
// returned count is the number of rows actually written; re-delivered items
// count zero.
func (r *inboxItemRepository) AddItems(ctx context.Context, items []*models.InboxItem) (int64, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "inboxItemRepository.AddItems")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	if len(items) == 0 {
		return 0, nil
	}

	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "uid"}},
		DoNothing: true,
	}).Create(items)
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return 0, errors.Wrap(result.Error, "failed to insert inbox items")
	}

	span.SetTag("items.submitted", len(items))
	span.SetTag("items.inserted", result.RowsAffected)
	return result.RowsAffected, nil
}

func (r *inboxItemRepository) ListByIntegrations(ctx context.Context, integrationIDs []string, filter interfaces.InboxFilter) ([]*models.InboxItem, int64, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "inboxItemRepository.ListByIntegrations")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	if len(integrationIDs) == 0 {
		return nil, 0, nil
	}

	query := r.db.WithContext(ctx).Model(&models.InboxItem{}).
		Where("integration_id IN ?", integrationIDs).
		Where("is_deleted = ?", false)
	if filter.Archived != nil {
		query = query.Where("is_archived = ?", *filter.Archived)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var items []*models.InboxItem
	err := query.Order("created_at DESC").
		Limit(limit).
		Offset(filter.Offset).
		Find(&items).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, 0, err
	}
	return items, total, nil
}

func (r *inboxItemRepository) SetArchived(ctx context.Context, integrationIDs []string, itemIDs []string, archived bool) (int64, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "inboxItemRepository.SetArchived")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	return r.bulkFlagUpdate(ctx, span, integrationIDs, itemIDs, map[string]interface{}{"is_archived": archived})
}

func (r *inboxItemRepository) SetDeleted(ctx context.Context, integrationIDs []string, itemIDs []string) (int64, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "inboxItemRepository.SetDeleted")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	return r.bulkFlagUpdate(ctx, span, integrationIDs, itemIDs, map[string]interface{}{"is_deleted": true})
}

func (r *inboxItemRepository) bulkFlagUpdate(ctx context.Context, span opentracing.Span, integrationIDs []string, itemIDs []string, updates map[string]interface{}) (int64, error) {
	if len(integrationIDs) == 0 || len(itemIDs) == 0 {
		return 0, nil
	}

	result := r.db.WithContext(ctx).Model(&models.InboxItem{}).
		Where("id IN ?", itemIDs).
		Where("integration_id IN ?", integrationIDs).
		Updates(updates)
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
