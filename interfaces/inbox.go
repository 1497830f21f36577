package interfaces

import (
	"context"

	"github.com/servcy/inboxstack/internal/models"
)

// InboxService is the unified inbox writer plus the user-facing read and
// flag-toggle surface. All operations are scoped to the caller's integrations.
type InboxService interface {
	// AddItems deduplicates and bulk-persists normalized items, returning the
	// number actually inserted. Submitting the same batch twice yields the
	// same final row count as submitting it once.
	AddItems(ctx context.Context, items []*models.InboxItem) (int64, error)

	StoreAttachments(ctx context.Context, itemUID string, attachments []Attachment) error

	List(ctx context.Context, userID string, filter InboxFilter) ([]*models.InboxItem, int64, error)
	Archive(ctx context.Context, userID string, itemIDs []string) (int64, error)
	Delete(ctx context.Context, userID string, itemIDs []string) (int64, error)
}
