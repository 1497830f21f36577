package sync

import (
	"context"
	"strconv"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/servcy/inboxstack/dto"
	"github.com/servcy/inboxstack/interfaces"
	"github.com/servcy/inboxstack/internal/enum"
	customerrors "github.com/servcy/inboxstack/internal/errors"
	"github.com/servcy/inboxstack/internal/logger"
	"github.com/servcy/inboxstack/internal/models"
)

func getLogger() logger.Logger {
	appLogger := logger.NewAppLogger(&logger.Config{DevMode: true})
	appLogger.InitLogger()
	return appLogger
}

// fakeVault keeps decrypted metadata in memory and applies merge semantics.
type fakeVault struct {
	integrations map[string]*models.Integration
	mergeCalls   []models.JSONMap
	deactivated  []string
}

func newFakeVault(integrations ...*models.Integration) *fakeVault {
	v := &fakeVault{integrations: make(map[string]*models.Integration)}
	for _, i := range integrations {
		v.integrations[i.ID] = i
	}
	return v
}

func (v *fakeVault) GetUserIntegrations(ctx context.Context, filter interfaces.IntegrationFilter) ([]*models.Integration, error) {
	var out []*models.Integration
	for _, i := range v.integrations {
		out = append(out, i)
	}
	return out, nil
}

func (v *fakeVault) GetByID(ctx context.Context, id string) (*models.Integration, error) {
	i, ok := v.integrations[id]
	if !ok {
		return nil, customerrors.ErrIntegrationNotFound
	}
	return i, nil
}

func (v *fakeVault) GetByAccount(ctx context.Context, provider enum.IntegrationProvider, accountID string) (*models.Integration, error) {
	for _, i := range v.integrations {
		if i.Provider == provider && i.AccountID == accountID {
			return i, nil
		}
	}
	return nil, customerrors.ErrIntegrationNotFound
}

func (v *fakeVault) CreateIntegration(ctx context.Context, integration *models.Integration) error {
	v.integrations[integration.ID] = integration
	return nil
}

func (v *fakeVault) MergeMetadata(ctx context.Context, id string, patch models.JSONMap) error {
	i, ok := v.integrations[id]
	if !ok {
		return customerrors.ErrIntegrationNotFound
	}
	v.mergeCalls = append(v.mergeCalls, patch)
	i.Metadata = i.Metadata.Merge(patch)
	return nil
}

func (v *fakeVault) Deactivate(ctx context.Context, id string) error {
	i, ok := v.integrations[id]
	if !ok {
		return customerrors.ErrIntegrationNotFound
	}
	i.IsActive = false
	v.deactivated = append(v.deactivated, id)
	return nil
}

// fakeAdapter scripts provider behavior per test.
type fakeAdapter struct {
	provider enum.IntegrationProvider

	deltaIDs     []string
	deltaCursor  string
	deltaErr     error
	deltaErrOnce bool
	deltaCalls   int

	refreshBundle *models.TokenBundle
	refreshErr    error
	refreshCalls  int

	detailItems []interfaces.RawItem
	detailErr   error

	normalize func(raw interfaces.RawItem) (*models.InboxItem, error)

	attachments    []interfaces.Attachment
	attachmentsErr error
}

func (f *fakeAdapter) Provider() enum.IntegrationProvider { return f.provider }
func (f *fakeAdapter) SupportsPush() bool                 { return true }

func (f *fakeAdapter) Authenticate(ctx context.Context, code string) (*models.TokenBundle, *interfaces.AccountInfo, error) {
	return nil, nil, errors.New("not scripted")
}

func (f *fakeAdapter) Refresh(ctx context.Context, refreshToken string) (*models.TokenBundle, error) {
	f.refreshCalls++
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return f.refreshBundle, nil
}

func (f *fakeAdapter) RegisterWatch(ctx context.Context, token *models.TokenBundle, accountRef string) (models.JSONMap, error) {
	return models.JSONMap{"expiration": "later"}, nil
}

func (f *fakeAdapter) FetchDelta(ctx context.Context, token *models.TokenBundle, cursor string) ([]string, string, error) {
	f.deltaCalls++
	if f.deltaErr != nil {
		err := f.deltaErr
		if f.deltaErrOnce {
			f.deltaErr = nil
		}
		return nil, "", err
	}
	return f.deltaIDs, f.deltaCursor, nil
}

func (f *fakeAdapter) FetchDetail(ctx context.Context, token *models.TokenBundle, ids []string) ([]interfaces.RawItem, error) {
	if f.detailErr != nil {
		return nil, f.detailErr
	}
	return f.detailItems, nil
}

func (f *fakeAdapter) FetchAttachments(ctx context.Context, token *models.TokenBundle, refs []interfaces.AttachmentRef) ([]interfaces.Attachment, error) {
	return f.attachments, f.attachmentsErr
}

func (f *fakeAdapter) Normalize(raw interfaces.RawItem) (*models.InboxItem, error) {
	if f.normalize != nil {
		return f.normalize(raw)
	}
	return &models.InboxItem{UID: "uid-" + raw.ID, Title: "item " + raw.ID}, nil
}

// CursorAfter uses numeric comparison, matching the gmail ordering.
func (f *fakeAdapter) CursorAfter(candidate, current string) bool {
	if candidate == "" {
		return false
	}
	if current == "" {
		return true
	}
	a, errA := strconv.Atoi(candidate)
	b, errB := strconv.Atoi(current)
	if errA != nil {
		return false
	}
	if errB != nil {
		return true
	}
	return a > b
}

type fakeRegistry struct{ adapter *fakeAdapter }

func (r *fakeRegistry) Adapter(p enum.IntegrationProvider) (interfaces.ProviderAdapter, bool) {
	if r.adapter != nil && r.adapter.provider == p {
		return r.adapter, true
	}
	return nil, false
}

func (r *fakeRegistry) All() []interfaces.ProviderAdapter {
	if r.adapter == nil {
		return nil
	}
	return []interfaces.ProviderAdapter{r.adapter}
}

// fakeInbox records writes and simulates uid dedupe.
type fakeInbox struct {
	seen        map[string]struct{}
	addErr      error
	added       [][]*models.InboxItem
	attachments map[string][]interfaces.Attachment
}

func newFakeInbox() *fakeInbox {
	return &fakeInbox{seen: make(map[string]struct{}), attachments: make(map[string][]interfaces.Attachment)}
}

func (f *fakeInbox) AddItems(ctx context.Context, items []*models.InboxItem) (int64, error) {
	if f.addErr != nil {
		return 0, f.addErr
	}
	f.added = append(f.added, items)
	var inserted int64
	for _, item := range items {
		if _, ok := f.seen[item.UID]; ok {
			continue
		}
		f.seen[item.UID] = struct{}{}
		inserted++
	}
	return inserted, nil
}

func (f *fakeInbox) StoreAttachments(ctx context.Context, itemUID string, attachments []interfaces.Attachment) error {
	f.attachments[itemUID] = attachments
	return nil
}

func (f *fakeInbox) List(ctx context.Context, userID string, filter interfaces.InboxFilter) ([]*models.InboxItem, int64, error) {
	return nil, 0, nil
}

func (f *fakeInbox) Archive(ctx context.Context, userID string, itemIDs []string) (int64, error) {
	return 0, nil
}

func (f *fakeInbox) Delete(ctx context.Context, userID string, itemIDs []string) (int64, error) {
	return 0, nil
}

type fakeActivity struct {
	events []dto.ActivityEvent
}

func (f *fakeActivity) Record(ctx context.Context, event dto.ActivityEvent) {
	f.events = append(f.events, event)
}

func (f *fakeActivity) Close() {}

func testIntegration(cursor string) *models.Integration {
	metadata := models.JSONMap{
		"token": map[string]interface{}{"access_token": "at", "refresh_token": "rt"},
	}
	if cursor != "" {
		metadata["cursor"] = cursor
	}
	return &models.Integration{
		ID:        "integ-1",
		UserID:    "user-1",
		Provider:  enum.ProviderGmail,
		AccountID: "someone@example.com",
		IsActive:  true,
		Metadata:  metadata,
	}
}

type testEnv struct {
	engine   interfaces.SyncEngine
	vault    *fakeVault
	adapter  *fakeAdapter
	inbox    *fakeInbox
	activity *fakeActivity
}

func newTestEnv(integration *models.Integration, adapter *fakeAdapter) *testEnv {
	vault := newFakeVault(integration)
	inbox := newFakeInbox()
	activity := &fakeActivity{}
	return &testEnv{
		engine:   NewSyncEngine(vault, &fakeRegistry{adapter: adapter}, inbox, activity, getLogger()),
		vault:    vault,
		adapter:  adapter,
		inbox:    inbox,
		activity: activity,
	}
}

func TestSync_HappyPathAdvancesCursor(t *testing.T) {
	adapter := &fakeAdapter{
		provider:    enum.ProviderGmail,
		deltaIDs:    []string{"m1", "m2"},
		deltaCursor: "200",
		detailItems: []interfaces.RawItem{{ID: "m1"}, {ID: "m2"}},
	}
	env := newTestEnv(testIntegration("100"), adapter)

	result, err := env.engine.SyncIntegration(context.Background(), "integ-1", interfaces.TriggerHint{Trigger: enum.TriggerWebhook, Watermark: "200"})
	require.NoError(t, err)
	assert.Equal(t, enum.SyncCursorAdvanced, result.State)
	assert.Equal(t, 2, result.ItemsFetched)
	assert.Equal(t, 2, result.ItemsInserted)
	assert.Equal(t, "200", result.Cursor)
	assert.Equal(t, "200", models.CursorFromMetadata(env.vault.integrations["integ-1"].Metadata))

	require.Len(t, env.activity.events, 1)
	assert.Equal(t, enum.ActivityInboxItemsReceived, env.activity.events[0].EventType)
}

func TestSync_MissingIntegrationIsSilentNoop(t *testing.T) {
	env := newTestEnv(testIntegration(""), &fakeAdapter{provider: enum.ProviderGmail})

	result, err := env.engine.SyncIntegration(context.Background(), "nope", interfaces.TriggerHint{Trigger: enum.TriggerWebhook})
	require.NoError(t, err)
	assert.Equal(t, enum.SyncSkipped, result.State)
}

func TestSync_InactiveIntegrationSkipped(t *testing.T) {
	integration := testIntegration("100")
	integration.IsActive = false
	env := newTestEnv(integration, &fakeAdapter{provider: enum.ProviderGmail})

	result, err := env.engine.SyncIntegration(context.Background(), "integ-1", interfaces.TriggerHint{Trigger: enum.TriggerWebhook})
	require.NoError(t, err)
	assert.Equal(t, enum.SyncSkipped, result.State)
	assert.Equal(t, 0, env.adapter.deltaCalls)
}

func TestSync_DuplicateWatermarkDroppedBeforeProviderCall(t *testing.T) {
	adapter := &fakeAdapter{provider: enum.ProviderGmail}
	env := newTestEnv(testIntegration("300"), adapter)

	result, err := env.engine.SyncIntegration(context.Background(), "integ-1", interfaces.TriggerHint{Trigger: enum.TriggerWebhook, Watermark: "250"})
	require.NoError(t, err)
	assert.Equal(t, enum.SyncSkipped, result.State)
	assert.Equal(t, "300", result.Cursor)
	assert.Equal(t, 0, adapter.deltaCalls)
}

func TestSync_AuthExpiredRefreshesOnceAndRetries(t *testing.T) {
	adapter := &fakeAdapter{
		provider:      enum.ProviderGmail,
		deltaErr:      customerrors.ErrAuthExpired,
		deltaErrOnce:  true,
		deltaIDs:      []string{"m1"},
		deltaCursor:   "150",
		detailItems:   []interfaces.RawItem{{ID: "m1"}},
		refreshBundle: &models.TokenBundle{AccessToken: "fresh-at"},
	}
	env := newTestEnv(testIntegration("100"), adapter)

	result, err := env.engine.SyncIntegration(context.Background(), "integ-1", interfaces.TriggerHint{Trigger: enum.TriggerScheduler})
	require.NoError(t, err)
	assert.Equal(t, enum.SyncCursorAdvanced, result.State)
	assert.Equal(t, 1, adapter.refreshCalls)
	assert.Equal(t, 2, adapter.deltaCalls)

	// Rotated bundle keeps the old refresh token and lands with the cursor.
	bundle := models.TokenBundleFromMetadata(env.vault.integrations["integ-1"].Metadata)
	require.NotNil(t, bundle)
	assert.Equal(t, "fresh-at", bundle.AccessToken)
	assert.Equal(t, "rt", bundle.RefreshToken)
	assert.Equal(t, "150", models.CursorFromMetadata(env.vault.integrations["integ-1"].Metadata))
}

func TestSync_RotatedTokenSurvivesLaterFailure(t *testing.T) {
	adapter := &fakeAdapter{
		provider:      enum.ProviderGmail,
		deltaErr:      customerrors.ErrAuthExpired,
		refreshBundle: &models.TokenBundle{AccessToken: "fresh-at"},
	}
	// deltaErrOnce is false: the retry fails again with AuthExpired.
	env := newTestEnv(testIntegration("100"), adapter)

	result, err := env.engine.SyncIntegration(context.Background(), "integ-1", interfaces.TriggerHint{Trigger: enum.TriggerScheduler})
	require.NoError(t, err)
	assert.Equal(t, enum.SyncSoftFailed, result.State)

	bundle := models.TokenBundleFromMetadata(env.vault.integrations["integ-1"].Metadata)
	require.NotNil(t, bundle)
	assert.Equal(t, "fresh-at", bundle.AccessToken)
	// Cursor untouched by the soft failure.
	assert.Equal(t, "100", models.CursorFromMetadata(env.vault.integrations["integ-1"].Metadata))
}

func TestSync_RateLimitedLeavesCursorUntouched(t *testing.T) {
	adapter := &fakeAdapter{provider: enum.ProviderGmail, deltaErr: customerrors.ErrRateLimited}
	env := newTestEnv(testIntegration("100"), adapter)

	result, err := env.engine.SyncIntegration(context.Background(), "integ-1", interfaces.TriggerHint{Trigger: enum.TriggerWebhook, Watermark: "200"})
	require.NoError(t, err)
	assert.Equal(t, enum.SyncSoftFailed, result.State)
	assert.Equal(t, "100", models.CursorFromMetadata(env.vault.integrations["integ-1"].Metadata))
	assert.Empty(t, env.vault.mergeCalls)
}

func TestSync_AccessRevokedDeactivates(t *testing.T) {
	adapter := &fakeAdapter{provider: enum.ProviderGmail, deltaErr: customerrors.ErrAccessRevoked}
	env := newTestEnv(testIntegration("100"), adapter)

	result, err := env.engine.SyncIntegration(context.Background(), "integ-1", interfaces.TriggerHint{Trigger: enum.TriggerWebhook, Watermark: "200"})
	require.NoError(t, err)
	assert.Equal(t, enum.SyncDeactivated, result.State)
	assert.Equal(t, []string{"integ-1"}, env.vault.deactivated)
	assert.False(t, env.vault.integrations["integ-1"].IsActive)

	require.Len(t, env.activity.events, 1)
	assert.Equal(t, enum.ActivityIntegrationDeactivated, env.activity.events[0].EventType)
}

func TestSync_MalformedItemSkippedBatchContinues(t *testing.T) {
	adapter := &fakeAdapter{
		provider:    enum.ProviderGmail,
		deltaIDs:    []string{"good", "bad", "good2"},
		deltaCursor: "200",
		detailItems: []interfaces.RawItem{{ID: "good"}, {ID: "bad"}, {ID: "good2"}},
	}
	adapter.normalize = func(raw interfaces.RawItem) (*models.InboxItem, error) {
		if raw.ID == "bad" {
			return nil, customerrors.ErrMalformed
		}
		return &models.InboxItem{UID: "uid-" + raw.ID, Title: raw.ID}, nil
	}
	env := newTestEnv(testIntegration("100"), adapter)

	result, err := env.engine.SyncIntegration(context.Background(), "integ-1", interfaces.TriggerHint{Trigger: enum.TriggerWebhook, Watermark: "200"})
	require.NoError(t, err)
	assert.Equal(t, enum.SyncCursorAdvanced, result.State)
	assert.Equal(t, 2, result.ItemsInserted)
	assert.Equal(t, 1, result.ItemsSkipped)
	assert.Equal(t, "200", models.CursorFromMetadata(env.vault.integrations["integ-1"].Metadata))
}

func TestSync_PersistFailureDoesNotAdvanceCursor(t *testing.T) {
	adapter := &fakeAdapter{
		provider:    enum.ProviderGmail,
		deltaIDs:    []string{"m1"},
		deltaCursor: "200",
		detailItems: []interfaces.RawItem{{ID: "m1"}},
	}
	env := newTestEnv(testIntegration("100"), adapter)
	env.inbox.addErr = errors.New("disk full")

	result, err := env.engine.SyncIntegration(context.Background(), "integ-1", interfaces.TriggerHint{Trigger: enum.TriggerWebhook, Watermark: "200"})
	require.Error(t, err)
	assert.NotEqual(t, enum.SyncCursorAdvanced, result.State)
	assert.Equal(t, "100", models.CursorFromMetadata(env.vault.integrations["integ-1"].Metadata))
}

func TestSync_RedeliveryIsIdempotent(t *testing.T) {
	adapter := &fakeAdapter{
		provider:    enum.ProviderGmail,
		deltaIDs:    []string{"m1"},
		deltaCursor: "200",
		detailItems: []interfaces.RawItem{{ID: "m1"}},
	}
	env := newTestEnv(testIntegration("100"), adapter)

	first, err := env.engine.SyncIntegration(context.Background(), "integ-1", interfaces.TriggerHint{Trigger: enum.TriggerWebhook, Watermark: "200"})
	require.NoError(t, err)
	assert.Equal(t, 1, first.ItemsInserted)

	// Force a second pass over the same delta by using a manual trigger with
	// no watermark: the duplicate uid is absorbed by the writer.
	adapter.deltaCursor = "300"
	second, err := env.engine.SyncIntegration(context.Background(), "integ-1", interfaces.TriggerHint{Trigger: enum.TriggerManual})
	require.NoError(t, err)
	assert.Equal(t, enum.SyncCursorAdvanced, second.State)
	assert.Equal(t, 0, second.ItemsInserted)
}

func TestSync_AttachmentsStoredAfterPersist(t *testing.T) {
	adapter := &fakeAdapter{
		provider:    enum.ProviderGmail,
		deltaIDs:    []string{"m1"},
		deltaCursor: "200",
		detailItems: []interfaces.RawItem{{
			ID:             "m1",
			HasAttachments: true,
			AttachmentRefs: []interfaces.AttachmentRef{{ItemID: "m1", AttachmentID: "a1", Name: "r.pdf"}},
		}},
		attachments: []interfaces.Attachment{{
			Ref:  interfaces.AttachmentRef{ItemID: "m1", AttachmentID: "a1", Name: "r.pdf"},
			Data: []byte("pdf-bytes"),
		}},
	}
	env := newTestEnv(testIntegration("100"), adapter)

	result, err := env.engine.SyncIntegration(context.Background(), "integ-1", interfaces.TriggerHint{Trigger: enum.TriggerWebhook, Watermark: "200"})
	require.NoError(t, err)
	assert.Equal(t, enum.SyncCursorAdvanced, result.State)
	require.Contains(t, env.inbox.attachments, "uid-m1")
	assert.Len(t, env.inbox.attachments["uid-m1"], 1)
}

func TestSync_EmptyDeltaStillAdvancesCursor(t *testing.T) {
	adapter := &fakeAdapter{provider: enum.ProviderGmail, deltaCursor: "150"}
	env := newTestEnv(testIntegration("100"), adapter)

	result, err := env.engine.SyncIntegration(context.Background(), "integ-1", interfaces.TriggerHint{Trigger: enum.TriggerScheduler})
	require.NoError(t, err)
	assert.Equal(t, enum.SyncCursorAdvanced, result.State)
	assert.Equal(t, "150", result.Cursor)
	assert.Empty(t, env.activity.events)
}

func TestSync_ConcurrentDeliveriesIngestOnce(t *testing.T) {
	adapter := &fakeAdapter{
		provider:    enum.ProviderGmail,
		deltaIDs:    []string{"m1", "m2"},
		deltaCursor: "105",
		detailItems: []interfaces.RawItem{{ID: "m1"}, {ID: "m2"}},
	}
	env := newTestEnv(testIntegration("100"), adapter)

	hint := interfaces.TriggerHint{Trigger: enum.TriggerWebhook, Watermark: "105"}
	results := make([]*interfaces.SyncResult, 2)
	errs := make([]error, 2)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = env.engine.SyncIntegration(context.Background(), "integ-1", hint)
		}(i)
	}
	wg.Wait()

	inserted := 0
	advanced := 0
	skipped := 0
	for i := 0; i < 2; i++ {
		require.NoError(t, errs[i])
		inserted += results[i].ItemsInserted
		switch results[i].State {
		case enum.SyncCursorAdvanced:
			advanced++
		case enum.SyncSkipped:
			skipped++
		}
	}

	// Whichever delivery wins ingests the batch; the loser sees its watermark
	// already covered by the stored cursor and never reaches the provider.
	assert.Equal(t, 2, inserted)
	assert.Equal(t, 1, advanced)
	assert.Equal(t, 1, skipped)
	assert.Equal(t, 1, adapter.deltaCalls)
	assert.Len(t, env.inbox.seen, 2)
	assert.Equal(t, "105", models.CursorFromMetadata(env.vault.integrations["integ-1"].Metadata))
}
