package interfaces

import (
	"context"

	"github.com/servcy/inboxstack/internal/models"
)

type InboxAttachmentRepository interface {
	// Store uploads the attachment bytes to object storage and records the
	// metadata row. Re-storing the same attachment overwrites the blob and is
	// a no-op on the metadata side.
	Store(ctx context.Context, attachment *models.InboxAttachment, data []byte) error
	ListByItemUID(ctx context.Context, itemUID string) ([]*models.InboxAttachment, error)
}
