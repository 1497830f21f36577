package interfaces

import (
	"context"

	"github.com/servcy/inboxstack/internal/enum"
	"github.com/servcy/inboxstack/internal/models"
)

// VaultService owns encryption and decryption of integration metadata.
// Callers always see plaintext; ciphertext never leaves the vault/repository
// boundary. Metadata writes are merge-on-write: unspecified keys survive.
type VaultService interface {
	GetUserIntegrations(ctx context.Context, filter IntegrationFilter) ([]*models.Integration, error)
	GetByID(ctx context.Context, integrationID string) (*models.Integration, error)
	GetByAccount(ctx context.Context, provider enum.IntegrationProvider, accountID string) (*models.Integration, error)

	// CreateIntegration persists a freshly authenticated integration,
	// encrypting its metadata. Re-authentication of an existing
	// (user, provider, account) triple reactivates and re-keys it.
	CreateIntegration(ctx context.Context, integration *models.Integration) error

	// MergeMetadata atomically merges patch into the stored metadata under a
	// per-integration update lock. Last writer wins per key; sibling keys
	// written concurrently are never dropped.
	MergeMetadata(ctx context.Context, integrationID string, patch models.JSONMap) error

	// Deactivate soft-deletes the integration (active=false). Historical
	// inbox items keep referencing it.
	Deactivate(ctx context.Context, integrationID string) error
}
