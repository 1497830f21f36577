package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/servcy/inboxstack/interfaces"
	"github.com/servcy/inboxstack/internal/config"
	"github.com/servcy/inboxstack/internal/enum"
	customerrors "github.com/servcy/inboxstack/internal/errors"
	"github.com/servcy/inboxstack/internal/logger"
	"github.com/servcy/inboxstack/internal/models"
	"github.com/servcy/inboxstack/internal/tracing"
)

const (
	apiBaseURL    = "https://api.notion.com"
	notionVersion = "2022-06-28"
	searchPageCap = 200
)

// Adapter ingests Notion page edits. Notion is a polling provider swept with a
// last_edited_time watermark.
type Adapter struct {
	cfg    *config.NotionOAuthConfig
	client *http.Client
	logger logger.Logger

	baseURL string
}

func NewAdapter(cfg *config.NotionOAuthConfig, l logger.Logger) *Adapter {
	return &Adapter{
		cfg:     cfg,
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  l,
		baseURL: apiBaseURL,
	}
}

func (a *Adapter) Provider() enum.IntegrationProvider {
	return enum.ProviderNotion
}

func (a *Adapter) SupportsPush() bool {
	return false
}

type tokenResponse struct {
	Object        string `json:"object"`
	AccessToken   string `json:"access_token"`
	RefreshToken  string `json:"refresh_token"`
	WorkspaceID   string `json:"workspace_id"`
	WorkspaceName string `json:"workspace_name"`
	Error         string `json:"error"`
}

func (a *Adapter) Authenticate(ctx context.Context, code string) (*models.TokenBundle, *interfaces.AccountInfo, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "NotionAdapter.Authenticate")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagProvider(span, enum.ProviderNotion.String())

	token, err := a.exchangeToken(ctx, map[string]string{
		"grant_type":   "authorization_code",
		"code":         code,
		"redirect_uri": a.cfg.RedirectURI,
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, nil, err
	}

	tracing.TagAccount(span, token.WorkspaceID)
	return &models.TokenBundle{
			AccessToken:  token.AccessToken,
			RefreshToken: token.RefreshToken,
		}, &interfaces.AccountInfo{
			AccountID:   token.WorkspaceID,
			DisplayName: token.WorkspaceName,
		}, nil
}

func (a *Adapter) Refresh(ctx context.Context, refreshToken string) (*models.TokenBundle, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "NotionAdapter.Refresh")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagProvider(span, enum.ProviderNotion.String())

	token, err := a.exchangeToken(ctx, map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": refreshToken,
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return &models.TokenBundle{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
	}, nil
}

func (a *Adapter) exchangeToken(ctx context.Context, payload map[string]string) (*tokenResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal token request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/oauth/token", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "failed to build token request")
	}
	req.SetBasicAuth(a.cfg.ClientID, a.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, customerrors.ErrTransient
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, customerrors.ErrTransient
	}

	var token tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return nil, customerrors.ErrTransient
	}

	if token.Object == "error" || token.Error != "" {
		if token.Error == "invalid_grant" {
			return nil, customerrors.ErrAccessRevoked
		}
		return nil, errors.Errorf("notion token exchange failed: %s", token.Error)
	}
	if token.AccessToken == "" {
		return nil, customerrors.ErrAccessRevoked
	}
	return &token, nil
}

func (a *Adapter) RegisterWatch(ctx context.Context, token *models.TokenBundle, accountRef string) (models.JSONMap, error) {
	return nil, customerrors.ErrWatchNotSupported
}

type searchResult struct {
	Object  string `json:"object"`
	Results []struct {
		ID             string    `json:"id"`
		LastEditedTime time.Time `json:"last_edited_time"`
	} `json:"results"`
	NextCursor string `json:"next_cursor"`
	HasMore    bool   `json:"has_more"`
}

func (a *Adapter) FetchDelta(ctx context.Context, token *models.TokenBundle, cursor string) ([]string, string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "NotionAdapter.FetchDelta")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagProvider(span, enum.ProviderNotion.String())

	// First sync pins the watermark at now without backfill.
	if cursor == "" {
		return nil, time.Now().UTC().Format(time.RFC3339), nil
	}
	since, err := time.Parse(time.RFC3339, cursor)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, "", customerrors.ErrMalformed
	}

	var ids []string
	latest := since
	startCursor := ""

	// Search returns newest edits first; stop once a page is at or behind the
	// watermark.
pages:
	for {
		body := map[string]interface{}{
			"filter":    map[string]string{"property": "object", "value": "page"},
			"sort":      map[string]string{"timestamp": "last_edited_time", "direction": "descending"},
			"page_size": 50,
		}
		if startCursor != "" {
			body["start_cursor"] = startCursor
		}

		var result searchResult
		if err := a.post(ctx, token.AccessToken, "/v1/search", body, &result); err != nil {
			tracing.TraceErr(span, err)
			return nil, "", err
		}

		for _, page := range result.Results {
			if !page.LastEditedTime.After(since) {
				break pages
			}
			ids = append(ids, page.ID)
			if page.LastEditedTime.After(latest) {
				latest = page.LastEditedTime
			}
			if len(ids) >= searchPageCap {
				break pages
			}
		}

		if !result.HasMore || result.NextCursor == "" {
			break
		}
		startCursor = result.NextCursor
	}

	span.LogKV("delta.ids", len(ids))
	return ids, latest.UTC().Format(time.RFC3339), nil
}

func (a *Adapter) FetchDetail(ctx context.Context, token *models.TokenBundle, ids []string) ([]interfaces.RawItem, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "NotionAdapter.FetchDetail")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagProvider(span, enum.ProviderNotion.String())

	var items []interfaces.RawItem
	for _, id := range ids {
		var page json.RawMessage
		err := a.get(ctx, token.AccessToken, fmt.Sprintf("/v1/pages/%s", id), &page)
		if err != nil {
			if errors.Is(err, errNotFound) {
				a.logger.Debugf("notion page %s disappeared before detail fetch", id)
				continue
			}
			tracing.TraceErr(span, err)
			return nil, err
		}
		items = append(items, interfaces.RawItem{ID: id, Payload: page})
	}

	span.LogKV("detail.items", len(items))
	return items, nil
}

// FetchAttachments is a no-op: page edits carry no binary parts.
func (a *Adapter) FetchAttachments(ctx context.Context, token *models.TokenBundle, refs []interfaces.AttachmentRef) ([]interfaces.Attachment, error) {
	return nil, nil
}

type pagePayload struct {
	ID             string                     `json:"id"`
	URL            string                     `json:"url"`
	LastEditedTime time.Time                  `json:"last_edited_time"`
	Properties     map[string]json.RawMessage `json:"properties"`
	LastEditedBy   struct {
		ID string `json:"id"`
	} `json:"last_edited_by"`
}

func (a *Adapter) Normalize(raw interfaces.RawItem) (*models.InboxItem, error) {
	var page pagePayload
	if err := json.Unmarshal(raw.Payload, &page); err != nil {
		return nil, customerrors.ErrMalformed
	}
	if page.ID == "" {
		return nil, customerrors.ErrMalformed
	}

	title := pageTitle(page.Properties)
	if title == "" {
		title = "Untitled"
	}

	return &models.InboxItem{
		UID:        fmt.Sprintf("notion-%s", page.ID),
		Title:      title,
		Body:       page.URL,
		IsBodyHTML: false,
		Cause:      page.LastEditedBy.ID,
		Category:   "page",
	}, nil
}

// pageTitle extracts the plain-text title from whichever property carries the
// title type.
func pageTitle(properties map[string]json.RawMessage) string {
	for _, raw := range properties {
		var prop struct {
			Type  string `json:"type"`
			Title []struct {
				PlainText string `json:"plain_text"`
			} `json:"title"`
		}
		if err := json.Unmarshal(raw, &prop); err != nil {
			continue
		}
		if prop.Type != "title" {
			continue
		}
		var parts []string
		for _, t := range prop.Title {
			parts = append(parts, t.PlainText)
		}
		return strings.TrimSpace(strings.Join(parts, ""))
	}
	return ""
}

// CursorAfter compares RFC3339 watermarks.
func (a *Adapter) CursorAfter(candidate, current string) bool {
	if candidate == "" {
		return false
	}
	if current == "" {
		return true
	}
	candidateAt, err := time.Parse(time.RFC3339, candidate)
	if err != nil {
		return false
	}
	currentAt, err := time.Parse(time.RFC3339, current)
	if err != nil {
		return true
	}
	return candidateAt.After(currentAt)
}

var errNotFound = errors.New("notion resource not found")

func (a *Adapter) get(ctx context.Context, accessToken, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+path, nil)
	if err != nil {
		return errors.Wrap(err, "failed to build request")
	}
	return a.do(req, accessToken, path, out)
}

func (a *Adapter) post(ctx context.Context, accessToken, path string, body interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "failed to marshal request body")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "failed to build request")
	}
	req.Header.Set("Content-Type", "application/json")
	return a.do(req, accessToken, path, out)
}

func (a *Adapter) do(req *http.Request, accessToken, path string, out interface{}) error {
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Notion-Version", notionVersion)
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return customerrors.ErrTransient
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return customerrors.ErrAuthExpired
	case resp.StatusCode == http.StatusTooManyRequests:
		return customerrors.ErrRateLimited
	case resp.StatusCode == http.StatusNotFound:
		return errNotFound
	case resp.StatusCode >= 500:
		return customerrors.ErrTransient
	case resp.StatusCode >= 400:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return errors.Errorf("notion request %s failed with %d: %s", path, resp.StatusCode, string(body))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "failed to decode notion response")
	}
	return nil
}
