package interfaces

import (
	"context"

	"github.com/servcy/inboxstack/internal/enum"
)

// TriggerHint carries what the inbound trigger already knows about the delta.
// Webhook deliveries include the provider watermark so duplicate deliveries
// can be dropped before any provider call.
type TriggerHint struct {
	Trigger   enum.SyncTrigger
	Watermark string
}

// SyncResult reports the terminal state of one sync attempt.
type SyncResult struct {
	State         enum.SyncState
	IntegrationID string
	ItemsFetched  int
	ItemsInserted int
	ItemsSkipped  int
	Cursor        string
}

// SyncEngine runs one delta sync attempt for one integration. The engine owns
// the in-memory lifecycle of the attempt and has no persisted state of its
// own; the cursor advances if and only if the full batch was durably written.
type SyncEngine interface {
	SyncIntegration(ctx context.Context, integrationID string, hint TriggerHint) (*SyncResult, error)
}
