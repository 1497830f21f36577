package refresh

import (
	"context"
	"testing"
	"time"

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

type fakeVault struct {
	integrations []*models.Integration
	merged       map[string][]models.JSONMap
	deactivated  []string
}

func (v *fakeVault) GetUserIntegrations(ctx context.Context, filter interfaces.IntegrationFilter) ([]*models.Integration, error) {
	var out []*models.Integration
	for _, i := range v.integrations {
		if filter.ActiveOnly && !i.IsActive {
			continue
		}
		if len(filter.Providers) > 0 {
			match := false
			for _, p := range filter.Providers {
				if i.Provider == p {
					match = true
				}
			}
			if !match {
				continue
			}
		}
		out = append(out, i)
	}
	return out, nil
}

func (v *fakeVault) GetByID(ctx context.Context, id string) (*models.Integration, error) {
	for _, i := range v.integrations {
		if i.ID == id {
			return i, nil
		}
	}
	return nil, customerrors.ErrIntegrationNotFound
}

func (v *fakeVault) GetByAccount(ctx context.Context, provider enum.IntegrationProvider, accountID string) (*models.Integration, error) {
	return nil, customerrors.ErrIntegrationNotFound
}

func (v *fakeVault) CreateIntegration(ctx context.Context, integration *models.Integration) error {
	v.integrations = append(v.integrations, integration)
	return nil
}

func (v *fakeVault) MergeMetadata(ctx context.Context, id string, patch models.JSONMap) error {
	if v.merged == nil {
		v.merged = make(map[string][]models.JSONMap)
	}
	v.merged[id] = append(v.merged[id], patch)
	for _, i := range v.integrations {
		if i.ID == id {
			i.Metadata = i.Metadata.Merge(patch)
		}
	}
	return nil
}

func (v *fakeVault) Deactivate(ctx context.Context, id string) error {
	v.deactivated = append(v.deactivated, id)
	for _, i := range v.integrations {
		if i.ID == id {
			i.IsActive = false
		}
	}
	return nil
}

type fakeAdapter struct {
	provider enum.IntegrationProvider
	push     bool

	refreshBundle *models.TokenBundle
	refreshErr    error
	refreshCalls  int

	watchErr   error
	watchCalls int
}

func (f *fakeAdapter) Provider() enum.IntegrationProvider { return f.provider }
func (f *fakeAdapter) SupportsPush() bool                 { return f.push }

func (f *fakeAdapter) Authenticate(ctx context.Context, code string) (*models.TokenBundle, *interfaces.AccountInfo, error) {
	return nil, nil, nil
}

func (f *fakeAdapter) Refresh(ctx context.Context, refreshToken string) (*models.TokenBundle, error) {
	f.refreshCalls++
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return f.refreshBundle, nil
}

func (f *fakeAdapter) RegisterWatch(ctx context.Context, token *models.TokenBundle, accountRef string) (models.JSONMap, error) {
	f.watchCalls++
	if f.watchErr != nil {
		return nil, f.watchErr
	}
	return models.JSONMap{"expiration": "later"}, nil
}

func (f *fakeAdapter) FetchDelta(ctx context.Context, token *models.TokenBundle, cursor string) ([]string, string, error) {
	return nil, cursor, nil
}

func (f *fakeAdapter) FetchDetail(ctx context.Context, token *models.TokenBundle, ids []string) ([]interfaces.RawItem, error) {
	return nil, nil
}

func (f *fakeAdapter) FetchAttachments(ctx context.Context, token *models.TokenBundle, refs []interfaces.AttachmentRef) ([]interfaces.Attachment, error) {
	return nil, nil
}

func (f *fakeAdapter) Normalize(raw interfaces.RawItem) (*models.InboxItem, error) {
	return nil, nil
}

func (f *fakeAdapter) CursorAfter(candidate, current string) bool {
	return candidate > current
}

type fakeRegistry struct {
	adapters []*fakeAdapter
}

func (r *fakeRegistry) Adapter(p enum.IntegrationProvider) (interfaces.ProviderAdapter, bool) {
	for _, a := range r.adapters {
		if a.provider == p {
			return a, true
		}
	}
	return nil, false
}

func (r *fakeRegistry) All() []interfaces.ProviderAdapter {
	out := make([]interfaces.ProviderAdapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a)
	}
	return out
}

type fakeEngine struct {
	results map[string]*interfaces.SyncResult
	errs    map[string]error
	calls   []string
}

func (e *fakeEngine) SyncIntegration(ctx context.Context, integrationID string, hint interfaces.TriggerHint) (*interfaces.SyncResult, error) {
	e.calls = append(e.calls, integrationID)
	if err, ok := e.errs[integrationID]; ok {
		return &interfaces.SyncResult{State: enum.SyncStart}, err
	}
	if result, ok := e.results[integrationID]; ok {
		return result, nil
	}
	return &interfaces.SyncResult{State: enum.SyncCursorAdvanced}, nil
}

type fakeActivity struct {
	events []dto.ActivityEvent
}

func (f *fakeActivity) Record(ctx context.Context, event dto.ActivityEvent) {
	f.events = append(f.events, event)
}

func (f *fakeActivity) Close() {}

func expiringIntegration(id string, provider enum.IntegrationProvider) *models.Integration {
	expiry := time.Now().Add(10 * time.Minute).Format(time.RFC3339)
	return &models.Integration{
		ID:       id,
		UserID:   "user-1",
		Provider: provider,
		IsActive: true,
		Metadata: models.JSONMap{
			"token": map[string]interface{}{
				"access_token":  "at",
				"refresh_token": "rt",
				"expiry":        expiry,
			},
		},
	}
}

func TestRefreshAll_RefreshesNearExpiryAndRenewsWatch(t *testing.T) {
	vault := &fakeVault{integrations: []*models.Integration{expiringIntegration("integ-1", enum.ProviderGmail)}}
	adapter := &fakeAdapter{
		provider:      enum.ProviderGmail,
		push:          true,
		refreshBundle: &models.TokenBundle{AccessToken: "fresh"},
	}
	activity := &fakeActivity{}
	svc := NewRefreshService(vault, &fakeRegistry{adapters: []*fakeAdapter{adapter}}, &fakeEngine{}, activity, getLogger())

	report := svc.RefreshAll(context.Background())
	assert.Equal(t, 1, report.Scanned)
	assert.Equal(t, 1, report.Refreshed)
	assert.Equal(t, 1, adapter.refreshCalls)
	assert.Equal(t, 1, adapter.watchCalls)

	// Token and watch land in a single merge.
	require.Len(t, vault.merged["integ-1"], 1)
	patch := vault.merged["integ-1"][0]
	assert.Contains(t, patch, models.MetadataKeyToken)
	assert.Contains(t, patch, models.MetadataKeyWatch)

	require.Len(t, activity.events, 1)
	assert.Equal(t, enum.ActivityIntegrationRefreshed, activity.events[0].EventType)
}

func TestRefreshAll_RevokedIntegrationDeactivatedScanContinues(t *testing.T) {
	vault := &fakeVault{integrations: []*models.Integration{
		expiringIntegration("integ-revoked", enum.ProviderGmail),
		expiringIntegration("integ-ok", enum.ProviderGmail),
	}}
	// First integration gets revoked, second succeeds.
	calls := 0
	adapter := &scriptedAdapter{fakeAdapter: &fakeAdapter{provider: enum.ProviderGmail, push: true}, onRefresh: func() error {
		calls++
		if calls == 1 {
			return customerrors.ErrAccessRevoked
		}
		return nil
	}}
	activity := &fakeActivity{}
	svc := NewRefreshService(vault, &singleRegistry{adapter: adapter}, &fakeEngine{}, activity, getLogger())

	report := svc.RefreshAll(context.Background())
	assert.Equal(t, 2, report.Scanned)
	assert.Equal(t, 1, report.Revoked)
	assert.Equal(t, 1, report.Refreshed)
	assert.Equal(t, []string{"integ-revoked"}, vault.deactivated)
}

// scriptedAdapter lets a single adapter vary behavior across calls.
type scriptedAdapter struct {
	*fakeAdapter
	onRefresh func() error
}

func (s *scriptedAdapter) Refresh(ctx context.Context, refreshToken string) (*models.TokenBundle, error) {
	if err := s.onRefresh(); err != nil {
		return nil, err
	}
	return &models.TokenBundle{AccessToken: "fresh"}, nil
}

type singleRegistry struct {
	adapter interfaces.ProviderAdapter
}

func (r *singleRegistry) Adapter(p enum.IntegrationProvider) (interfaces.ProviderAdapter, bool) {
	if r.adapter.Provider() == p {
		return r.adapter, true
	}
	return nil, false
}

func (r *singleRegistry) All() []interfaces.ProviderAdapter {
	return []interfaces.ProviderAdapter{r.adapter}
}

func TestRefreshAll_TransientFailureCountsFailedScanContinues(t *testing.T) {
	vault := &fakeVault{integrations: []*models.Integration{
		expiringIntegration("integ-1", enum.ProviderGmail),
	}}
	adapter := &fakeAdapter{provider: enum.ProviderGmail, push: true, refreshErr: customerrors.ErrTransient}
	svc := NewRefreshService(vault, &fakeRegistry{adapters: []*fakeAdapter{adapter}}, &fakeEngine{}, &fakeActivity{}, getLogger())

	report := svc.RefreshAll(context.Background())
	assert.Equal(t, 1, report.Scanned)
	assert.Equal(t, 1, report.Failed)
	assert.Empty(t, vault.deactivated)
}

func TestRefreshAll_MissingRefreshTokenDeactivates(t *testing.T) {
	integration := expiringIntegration("integ-1", enum.ProviderGmail)
	integration.Metadata = models.JSONMap{"token": map[string]interface{}{"access_token": "at"}}
	vault := &fakeVault{integrations: []*models.Integration{integration}}
	adapter := &fakeAdapter{provider: enum.ProviderGmail, push: true}
	svc := NewRefreshService(vault, &fakeRegistry{adapters: []*fakeAdapter{adapter}}, &fakeEngine{}, &fakeActivity{}, getLogger())

	report := svc.RefreshAll(context.Background())
	assert.Equal(t, 1, report.Revoked)
	assert.Equal(t, []string{"integ-1"}, vault.deactivated)
}

func TestRefreshAll_FreshTokenPollingProviderSkipped(t *testing.T) {
	integration := expiringIntegration("integ-1", enum.ProviderGithub)
	expiry := time.Now().Add(48 * time.Hour).Format(time.RFC3339)
	integration.Metadata = models.JSONMap{
		"token": map[string]interface{}{"access_token": "at", "refresh_token": "rt", "expiry": expiry},
	}
	vault := &fakeVault{integrations: []*models.Integration{integration}}
	adapter := &fakeAdapter{provider: enum.ProviderGithub, push: false}
	svc := NewRefreshService(vault, &fakeRegistry{adapters: []*fakeAdapter{adapter}}, &fakeEngine{}, &fakeActivity{}, getLogger())

	report := svc.RefreshAll(context.Background())
	assert.Equal(t, 1, report.Scanned)
	assert.Equal(t, 0, report.Refreshed)
	assert.Equal(t, 0, adapter.refreshCalls)
	assert.Equal(t, 0, adapter.watchCalls)
}

func TestPollAll_SweepsOnlyPollingProviders(t *testing.T) {
	vault := &fakeVault{integrations: []*models.Integration{
		expiringIntegration("integ-gmail", enum.ProviderGmail),
		expiringIntegration("integ-github", enum.ProviderGithub),
		expiringIntegration("integ-notion", enum.ProviderNotion),
	}}
	registry := &fakeRegistry{adapters: []*fakeAdapter{
		{provider: enum.ProviderGmail, push: true},
		{provider: enum.ProviderGithub, push: false},
		{provider: enum.ProviderNotion, push: false},
	}}
	engine := &fakeEngine{}
	svc := NewRefreshService(vault, registry, engine, &fakeActivity{}, getLogger())

	report := svc.PollAll(context.Background())
	assert.Equal(t, 2, report.Scanned)
	assert.Equal(t, 2, report.Refreshed)
	assert.ElementsMatch(t, []string{"integ-github", "integ-notion"}, engine.calls)
}

func TestPollAll_IsolatesFailures(t *testing.T) {
	vault := &fakeVault{integrations: []*models.Integration{
		expiringIntegration("integ-a", enum.ProviderGithub),
		expiringIntegration("integ-b", enum.ProviderNotion),
	}}
	registry := &fakeRegistry{adapters: []*fakeAdapter{
		{provider: enum.ProviderGithub, push: false},
		{provider: enum.ProviderNotion, push: false},
	}}
	engine := &fakeEngine{
		errs: map[string]error{"integ-a": customerrors.ErrTransient},
	}
	svc := NewRefreshService(vault, registry, engine, &fakeActivity{}, getLogger())

	report := svc.PollAll(context.Background())
	assert.Equal(t, 2, report.Scanned)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Refreshed)
	assert.Len(t, engine.calls, 2)
}
