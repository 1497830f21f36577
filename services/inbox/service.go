package inbox

import (
	"context"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/servcy/inboxstack/interfaces"
	"github.com/servcy/inboxstack/internal/logger"
	"github.com/servcy/inboxstack/internal/models"
	"github.com/servcy/inboxstack/internal/tracing"
	"github.com/servcy/inboxstack/internal/utils"
)

type inboxService struct {
	items       interfaces.InboxItemRepository
	attachments interfaces.InboxAttachmentRepository
	vault       interfaces.VaultService
	logger      logger.Logger
}

func NewInboxService(
	items interfaces.InboxItemRepository,
	attachments interfaces.InboxAttachmentRepository,
	vault interfaces.VaultService,
	l logger.Logger,
) interfaces.InboxService {
	return &inboxService{
		items:       items,
		attachments: attachments,
		vault:       vault,
		logger:      l,
	}
}

// AddItems dedupes the batch in memory on uid, then bulk-inserts with
// conflict-ignore. Submitting a batch twice yields the same rows as once.
func (s *inboxService) AddItems(ctx context.Context, items []*models.InboxItem) (int64, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "InboxService.AddItems")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	if len(items) == 0 {
		return 0, nil
	}

	seen := make(map[string]struct{}, len(items))
	deduped := make([]*models.InboxItem, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item.UID]; ok {
			continue
		}
		seen[item.UID] = struct{}{}
		deduped = append(deduped, item)
	}

	inserted, err := s.items.AddItems(ctx, deduped)
	if err != nil {
		tracing.TraceErr(span, err)
		return 0, err
	}

	span.LogKV("items.submitted", len(items), "items.inserted", inserted)
	return inserted, nil
}

func (s *inboxService) StoreAttachments(ctx context.Context, itemUID string, attachments []interfaces.Attachment) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "InboxService.StoreAttachments")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.LogKV("item.uid", itemUID, "attachments.count", len(attachments))

	for _, attachment := range attachments {
		record := &models.InboxAttachment{
			ItemUID:  itemUID,
			Name:     attachment.Ref.Name,
			MimeType: attachment.Ref.MimeType,
			Size:     int64(len(attachment.Data)),
		}
		if err := s.attachments.Store(ctx, record, attachment.Data); err != nil {
			tracing.TraceErr(span, err)
			return err
		}
	}
	return nil
}

func (s *inboxService) List(ctx context.Context, userID string, filter interfaces.InboxFilter) ([]*models.InboxItem, int64, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "InboxService.List")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagUserID(span, userID)

	integrationIDs, err := s.userIntegrationIDs(ctx, userID, filter.IntegrationIDs)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, 0, err
	}
	if len(integrationIDs) == 0 {
		return nil, 0, nil
	}

	return s.items.ListByIntegrations(ctx, integrationIDs, filter)
}

func (s *inboxService) Archive(ctx context.Context, userID string, itemIDs []string) (int64, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "InboxService.Archive")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagUserID(span, userID)

	integrationIDs, err := s.userIntegrationIDs(ctx, userID, nil)
	if err != nil {
		tracing.TraceErr(span, err)
		return 0, err
	}
	if len(integrationIDs) == 0 {
		return 0, nil
	}

	return s.items.SetArchived(ctx, integrationIDs, itemIDs, true)
}

func (s *inboxService) Delete(ctx context.Context, userID string, itemIDs []string) (int64, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "InboxService.Delete")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagUserID(span, userID)

	integrationIDs, err := s.userIntegrationIDs(ctx, userID, nil)
	if err != nil {
		tracing.TraceErr(span, err)
		return 0, err
	}
	if len(integrationIDs) == 0 {
		return 0, nil
	}

	return s.items.SetDeleted(ctx, integrationIDs, itemIDs)
}

// userIntegrationIDs resolves the caller's integration scope. When requested
// ids are given they are intersected with what the user actually owns, so a
// crafted filter can never widen the scope.
func (s *inboxService) userIntegrationIDs(ctx context.Context, userID string, requested []string) ([]string, error) {
	integrations, err := s.vault.GetUserIntegrations(ctx, interfaces.IntegrationFilter{UserID: userID})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resolve integrations for user %s", userID)
	}

	ids := make([]string, 0, len(integrations))
	for _, integration := range integrations {
		ids = append(ids, integration.ID)
	}

	if len(requested) == 0 {
		return ids, nil
	}

	scoped := make([]string, 0, len(requested))
	for _, id := range requested {
		if utils.IsStringInSlice(id, ids) {
			scoped = append(scoped, id)
		}
	}
	return scoped, nil
}
