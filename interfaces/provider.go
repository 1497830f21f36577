package interfaces

import (
	"context"
	"encoding/json"

	"github.com/servcy/inboxstack/internal/enum"
	"github.com/servcy/inboxstack/internal/models"
)

// RawItem is one provider object fetched during a delta cycle, before
// normalization. Payload keeps the provider's own shape; Normalize maps it
// into the canonical inbox item.
type RawItem struct {
	ID             string
	Payload        json.RawMessage
	HasAttachments bool
	AttachmentRefs []AttachmentRef
}

// AttachmentRef points at one attachment declared by a raw item. Bytes are
// fetched separately, and only for items that declare attachments.
type AttachmentRef struct {
	ItemID       string
	AttachmentID string
	Name         string
	MimeType     string
	Size         int64
}

// Attachment carries fetched attachment bytes together with their ref.
type Attachment struct {
	Ref  AttachmentRef
	Data []byte
}

// AccountInfo describes the external account bound during OAuth exchange.
type AccountInfo struct {
	AccountID   string
	DisplayName string
}

// ProviderAdapter is the uniform capability surface over one provider's
// OAuth and resource APIs. Every method maps provider failures into the
// internal/errors taxonomy; a single malformed item must never abort a batch,
// so Normalize reports ErrMalformed per item instead of failing the cycle.
//
// New providers are added by implementing this interface and registering the
// adapter; shared logic never branches on a provider tag.
type ProviderAdapter interface {
	Provider() enum.IntegrationProvider

	// SupportsPush reports whether the provider delivers webhooks. Polling
	// providers are swept by the scheduler instead.
	SupportsPush() bool

	// Authenticate exchanges an authorization code for a token bundle and the
	// external account identity.
	Authenticate(ctx context.Context, code string) (*models.TokenBundle, *AccountInfo, error)

	// Refresh trades a refresh token for a fresh bundle. A rejected refresh
	// token surfaces as ErrAccessRevoked.
	Refresh(ctx context.Context, refreshToken string) (*models.TokenBundle, error)

	// RegisterWatch (re-)establishes the provider push subscription and
	// returns watch metadata to merge into the integration (expiry etc.).
	// Polling providers return ErrWatchNotSupported.
	RegisterWatch(ctx context.Context, token *models.TokenBundle, accountRef string) (models.JSONMap, error)

	// FetchDelta enumerates ids of objects changed since cursor and returns
	// the new cursor. An empty cursor means "initialize, no backfill".
	FetchDelta(ctx context.Context, token *models.TokenBundle, cursor string) (ids []string, newCursor string, err error)

	// FetchDetail loads full payloads for the given ids, applying provider
	// side filtering where the provider supports it.
	FetchDetail(ctx context.Context, token *models.TokenBundle, ids []string) ([]RawItem, error)

	// FetchAttachments batch-loads attachment bytes for the given refs.
	FetchAttachments(ctx context.Context, token *models.TokenBundle, refs []AttachmentRef) ([]Attachment, error)

	// Normalize maps one raw item into the canonical inbox item. The
	// integration reference is filled in by the caller.
	Normalize(raw RawItem) (*models.InboxItem, error)

	// CursorAfter reports whether candidate is strictly ahead of current in
	// this provider's cursor ordering. An empty current is always behind.
	CursorAfter(candidate, current string) bool
}

// AdapterRegistry resolves the adapter for a provider.
type AdapterRegistry interface {
	Adapter(provider enum.IntegrationProvider) (ProviderAdapter, bool)
	All() []ProviderAdapter
}
