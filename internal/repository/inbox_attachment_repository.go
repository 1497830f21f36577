package repository

import (
	"context"
	"fmt"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/servcy/inboxstack/interfaces"
	"github.com/servcy/inboxstack/internal/models"
	"github.com/servcy/inboxstack/internal/tracing"
)

type inboxAttachmentRepository struct {
	db      *gorm.DB
	storage interfaces.StorageService
}

func NewInboxAttachmentRepository(db *gorm.DB, storage interfaces.StorageService) interfaces.InboxAttachmentRepository {
	return &inboxAttachmentRepository{
		db:      db,
		storage: storage,
	}
}

func (r *inboxAttachmentRepository) Store(ctx context.Context, attachment *models.InboxAttachment, data []byte) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "inboxAttachmentRepository.Store")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	if attachment.StorageKey == "" {
		attachment.StorageKey = fmt.Sprintf("attachments/%s/%s", attachment.ItemUID, attachment.Name)
	}

	if err := r.storage.Upload(ctx, attachment.StorageKey, data, attachment.MimeType); err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "failed to upload attachment blob")
	}

	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "item_uid"}, {Name: "storage_key"}},
		DoNothing: true,
	}).Create(attachment)
	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return errors.Wrap(result.Error, "failed to record attachment")
	}
	return nil
}

func (r *inboxAttachmentRepository) ListByItemUID(ctx context.Context, itemUID string) ([]*models.InboxAttachment, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "inboxAttachmentRepository.ListByItemUID")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var attachments []*models.InboxAttachment
	if err := r.db.WithContext(ctx).Where("item_uid = ?", itemUID).Find(&attachments).Error; err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return attachments, nil
}
