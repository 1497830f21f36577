package interfaces

import (
	"context"

	"github.com/servcy/inboxstack/internal/models"
)

// InboxFilter narrows inbox listings for one user.
type InboxFilter struct {
	IntegrationIDs []string
	Archived       *bool
	Limit          int
	Offset         int
}

// InboxItemRepository is the durable append-only inbox store. AddItems uses
// insert-ignore-on-conflict keyed on uid: re-submission of previously seen
// items succeeds with zero net effect.
type InboxItemRepository interface {
	AddItems(ctx context.Context, items []*models.InboxItem) (int64, error)
	ListByIntegrations(ctx context.Context, integrationIDs []string, filter InboxFilter) ([]*models.InboxItem, int64, error)

	// SetArchived and SetDeleted are bulk flag updates scoped to the given
	// integrations; rows are never physically removed.
	SetArchived(ctx context.Context, integrationIDs []string, itemIDs []string, archived bool) (int64, error)
	SetDeleted(ctx context.Context, integrationIDs []string, itemIDs []string) (int64, error)
}
