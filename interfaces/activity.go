package interfaces

import (
	"context"

	"github.com/servcy/inboxstack/dto"
)

// ActivityService is the fire-and-forget sink for activity records. Record
// never returns an error and must not block ingestion: failures are logged
// and dropped.
type ActivityService interface {
	Record(ctx context.Context, event dto.ActivityEvent)
	Close()
}
