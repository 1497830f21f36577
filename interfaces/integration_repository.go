package interfaces

import (
	"context"

	"github.com/servcy/inboxstack/internal/enum"
	"github.com/servcy/inboxstack/internal/models"
)

// IntegrationFilter narrows integration lookups. Zero values are ignored.
type IntegrationFilter struct {
	UserID     string
	Providers  []enum.IntegrationProvider
	AccountID  string
	ActiveOnly bool
}

// IntegrationRepository persists integrations with their encrypted metadata
// blob. Metadata encryption and merging live in the vault service; this layer
// only moves ciphertext.
type IntegrationRepository interface {
	Create(ctx context.Context, integration *models.Integration) error
	GetByID(ctx context.Context, id string) (*models.Integration, error)
	List(ctx context.Context, filter IntegrationFilter) ([]*models.Integration, error)

	// UpdateMetadata runs fn against the current ciphertext under a row lock
	// and persists the ciphertext fn returns. Concurrent updaters serialize on
	// the row, so read-merge-write cycles never lose sibling writes.
	UpdateMetadata(ctx context.Context, id string, fn func(currentCiphertext string) (string, error)) error

	SetActive(ctx context.Context, id string, active bool) error
}
