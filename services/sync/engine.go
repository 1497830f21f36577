package sync

import (
	"context"
	"time"

	"github.com/opentracing/opentracing-go"

	"github.com/servcy/inboxstack/dto"
	"github.com/servcy/inboxstack/interfaces"
	"github.com/servcy/inboxstack/internal/enum"
	customerrors "github.com/servcy/inboxstack/internal/errors"
	"github.com/servcy/inboxstack/internal/logger"
	"github.com/servcy/inboxstack/internal/models"
	"github.com/servcy/inboxstack/internal/tracing"
	"github.com/servcy/inboxstack/internal/utils"
)

type engine struct {
	vault    interfaces.VaultService
	registry interfaces.AdapterRegistry
	inbox    interfaces.InboxService
	activity interfaces.ActivityService
	logger   logger.Logger

	// advisory per-integration locks. Correctness comes from uid uniqueness
	// and the monotonic metadata merge; these only suppress redundant
	// provider calls when deliveries overlap.
	inFlight *utils.KeyedMutex
}

func NewSyncEngine(
	vault interfaces.VaultService,
	registry interfaces.AdapterRegistry,
	inbox interfaces.InboxService,
	activity interfaces.ActivityService,
	l logger.Logger,
) interfaces.SyncEngine {
	return &engine{
		vault:    vault,
		registry: registry,
		inbox:    inbox,
		activity: activity,
		logger:   l,
		inFlight: utils.NewKeyedMutex(),
	}
}

func (e *engine) SyncIntegration(ctx context.Context, integrationID string, hint interfaces.TriggerHint) (*interfaces.SyncResult, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "SyncEngine.SyncIntegration")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagIntegration(span, integrationID)
	span.SetTag("trigger", hint.Trigger.String())

	unlock := e.inFlight.Lock(integrationID)
	defer unlock()

	result := &interfaces.SyncResult{State: enum.SyncStart, IntegrationID: integrationID}
	defer func() { span.SetTag("sync.state", result.State.String()) }()

	// Load and decrypt credentials. A vanished or inactive integration is a
	// silent no-op: webhook redeliveries for revoked accounts must not error.
	integration, err := e.vault.GetByID(ctx, integrationID)
	if err != nil {
		if customerrors.IsIntegrationNotFound(err) {
			result.State = enum.SyncSkipped
			return result, nil
		}
		tracing.TraceErr(span, err)
		return result, err
	}
	if !integration.IsActive {
		result.State = enum.SyncSkipped
		return result, nil
	}

	adapter, ok := e.registry.Adapter(integration.Provider)
	if !ok {
		e.logger.Warnf("no adapter registered for provider %s, skipping integration %s", integration.Provider, integrationID)
		result.State = enum.SyncSkipped
		return result, nil
	}
	tracing.TagProvider(span, integration.Provider.String())
	tracing.TagAccount(span, integration.AccountID)

	token := models.TokenBundleFromMetadata(integration.Metadata)
	if token == nil {
		e.logger.Errorf("integration %s has no token bundle, deactivating", integrationID)
		return e.deactivate(ctx, span, result, integration)
	}
	cursor := models.CursorFromMetadata(integration.Metadata)
	result.State = enum.SyncCredentialsLoaded

	// A webhook watermark at or behind the stored cursor is a duplicate
	// delivery; drop it before any provider call.
	if hint.Watermark != "" && cursor != "" && !adapter.CursorAfter(hint.Watermark, cursor) {
		span.LogKV("duplicate.watermark", hint.Watermark, "cursor", cursor)
		result.State = enum.SyncSkipped
		result.Cursor = cursor
		return result, nil
	}

	// Delta fetch, with a single refresh-and-retry on an expired token. The
	// rotated bundle is carried forward and merged back even when the rest of
	// the cycle fails, so the refresh is never wasted.
	var rotated *models.TokenBundle
	ids, newCursor, err := adapter.FetchDelta(ctx, token, cursor)
	if customerrors.IsAuthExpired(err) {
		fresh, refreshErr := adapter.Refresh(ctx, token.RefreshToken)
		if refreshErr != nil {
			return e.handleFailure(ctx, span, result, integration, rotated, refreshErr)
		}
		rotated = token.Rotate(fresh)
		token = rotated
		ids, newCursor, err = adapter.FetchDelta(ctx, token, cursor)
	}
	if err != nil {
		return e.handleFailure(ctx, span, result, integration, rotated, err)
	}
	result.State = enum.SyncDeltaFetched
	result.ItemsFetched = len(ids)

	var items []*models.InboxItem
	var attachmentRefs map[string][]interfaces.AttachmentRef
	if len(ids) > 0 {
		raws, err := adapter.FetchDetail(ctx, token, ids)
		if err != nil {
			return e.handleFailure(ctx, span, result, integration, rotated, err)
		}

		attachmentRefs = make(map[string][]interfaces.AttachmentRef)
		for _, raw := range raws {
			item, err := adapter.Normalize(raw)
			if err != nil {
				// One malformed payload never aborts the batch.
				if customerrors.IsMalformed(err) {
					e.logger.Warnf("skipping malformed item %s for integration %s", raw.ID, integrationID)
					result.ItemsSkipped++
					continue
				}
				return e.handleFailure(ctx, span, result, integration, rotated, err)
			}
			item.IntegrationID = integration.ID
			items = append(items, item)
			if raw.HasAttachments {
				attachmentRefs[item.UID] = raw.AttachmentRefs
			}
		}
	}
	result.State = enum.SyncNormalized

	var inserted int64
	if len(items) > 0 {
		inserted, err = e.inbox.AddItems(ctx, items)
		if err != nil {
			return e.handleFailure(ctx, span, result, integration, rotated, err)
		}
	}
	result.State = enum.SyncPersisted
	result.ItemsInserted = int(inserted)

	e.storeAttachments(ctx, adapter, token, integration, attachmentRefs)

	// The cursor only ever advances here, after the full batch is durable.
	// Token rotation rides along in the same atomic merge.
	patch := models.JSONMap{}
	if adapter.CursorAfter(newCursor, cursor) {
		patch[models.MetadataKeyCursor] = newCursor
		result.Cursor = newCursor
	} else {
		result.Cursor = cursor
	}
	if rotated != nil {
		patch[models.MetadataKeyToken] = rotated.AsMap()
	}
	if len(patch) > 0 {
		if err := e.vault.MergeMetadata(ctx, integration.ID, patch); err != nil {
			tracing.TraceErr(span, err)
			return result, err
		}
	}
	result.State = enum.SyncCursorAdvanced

	if inserted > 0 {
		e.activity.Record(ctx, dto.ActivityEvent{
			EventType: enum.ActivityInboxItemsReceived,
			ActorID:   integration.UserID,
			SubjectID: integration.ID,
			AfterState: models.JSONMap{
				"items_inserted": inserted,
				"cursor":         result.Cursor,
			},
			Timestamp: time.Now().UTC(),
		})
	}

	span.LogKV("items.fetched", result.ItemsFetched, "items.inserted", result.ItemsInserted, "items.skipped", result.ItemsSkipped)
	return result, nil
}

// handleFailure maps a provider failure onto the terminal escape states.
// Rate limits and transient failures leave the cursor untouched for the next
// trigger; revoked access deactivates the integration. A rotated token is
// merged back in every branch so a successful refresh survives the failure.
func (e *engine) handleFailure(
	ctx context.Context,
	span opentracing.Span,
	result *interfaces.SyncResult,
	integration *models.Integration,
	rotated *models.TokenBundle,
	err error,
) (*interfaces.SyncResult, error) {
	if rotated != nil {
		patch := models.JSONMap{models.MetadataKeyToken: rotated.AsMap()}
		if mergeErr := e.vault.MergeMetadata(ctx, integration.ID, patch); mergeErr != nil {
			e.logger.Errorf("failed to persist rotated token for integration %s: %v", integration.ID, mergeErr)
		}
	}

	switch {
	case customerrors.IsAccessRevoked(err):
		return e.deactivate(ctx, span, result, integration)
	case customerrors.IsRateLimited(err), customerrors.IsTransient(err), customerrors.IsAuthExpired(err):
		e.logger.Warnf("sync soft-failed for integration %s (%s/%s): %v",
			integration.ID, integration.Provider, integration.AccountID, err)
		result.State = enum.SyncSoftFailed
		return result, nil
	default:
		tracing.TraceErr(span, err)
		return result, err
	}
}

func (e *engine) deactivate(ctx context.Context, span opentracing.Span, result *interfaces.SyncResult, integration *models.Integration) (*interfaces.SyncResult, error) {
	if err := e.vault.Deactivate(ctx, integration.ID); err != nil {
		tracing.TraceErr(span, err)
		return result, err
	}
	result.State = enum.SyncDeactivated

	e.activity.Record(ctx, dto.ActivityEvent{
		EventType: enum.ActivityIntegrationDeactivated,
		ActorID:   integration.UserID,
		SubjectID: integration.ID,
		BeforeState: models.JSONMap{
			"provider":   integration.Provider.String(),
			"account_id": integration.AccountID,
		},
		Timestamp: time.Now().UTC(),
	})
	return result, nil
}

// storeAttachments resolves and persists attachment blobs after the items are
// durable. Attachment failures are logged, not fatal: the items themselves
// are already in the inbox and blobs can be re-fetched on redelivery.
func (e *engine) storeAttachments(
	ctx context.Context,
	adapter interfaces.ProviderAdapter,
	token *models.TokenBundle,
	integration *models.Integration,
	refsByUID map[string][]interfaces.AttachmentRef,
) {
	if len(refsByUID) == 0 {
		return
	}

	for uid, refs := range refsByUID {
		attachments, err := adapter.FetchAttachments(ctx, token, refs)
		if err != nil {
			e.logger.Warnf("failed to fetch attachments for item %s: %v", uid, err)
			continue
		}
		if err := e.inbox.StoreAttachments(ctx, uid, attachments); err != nil {
			e.logger.Warnf("failed to store attachments for item %s: %v", uid, err)
		}
	}
}
