package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
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
	apiBaseURL   = "https://api.github.com"
	tokenURL     = "https://github.com/login/oauth/access_token"
	userAgent    = "servcy-inboxstack"
	acceptHeader = "application/vnd.github+json"
)

// Adapter ingests GitHub notification threads. GitHub is a polling provider:
// the scheduler sweeps it with an ISO-8601 updated_at watermark.
type Adapter struct {
	cfg    *config.GithubOAuthConfig
	client *http.Client
	logger logger.Logger

	baseURL       string
	tokenEndpoint string
}

func NewAdapter(cfg *config.GithubOAuthConfig, l logger.Logger) *Adapter {
	return &Adapter{
		cfg:           cfg,
		client:        &http.Client{Timeout: 30 * time.Second},
		logger:        l,
		baseURL:       apiBaseURL,
		tokenEndpoint: tokenURL,
	}
}

func (a *Adapter) Provider() enum.IntegrationProvider {
	return enum.ProviderGithub
}

func (a *Adapter) SupportsPush() bool {
	return false
}

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	ExpiresIn        int64  `json:"expires_in"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (a *Adapter) Authenticate(ctx context.Context, code string) (*models.TokenBundle, *interfaces.AccountInfo, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "GithubAdapter.Authenticate")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagProvider(span, enum.ProviderGithub.String())

	form := url.Values{}
	form.Set("client_id", a.cfg.ClientID)
	form.Set("client_secret", a.cfg.ClientSecret)
	form.Set("code", code)
	form.Set("redirect_uri", a.cfg.RedirectURI)

	bundle, err := a.exchangeToken(ctx, form)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, nil, err
	}

	var account struct {
		Login string `json:"login"`
		Name  string `json:"name"`
	}
	if err := a.get(ctx, bundle.AccessToken, "/user", nil, &account); err != nil {
		tracing.TraceErr(span, err)
		return nil, nil, err
	}

	displayName := account.Name
	if displayName == "" {
		displayName = account.Login
	}
	tracing.TagAccount(span, account.Login)
	return bundle, &interfaces.AccountInfo{
		AccountID:   account.Login,
		DisplayName: displayName,
	}, nil
}

func (a *Adapter) Refresh(ctx context.Context, refreshToken string) (*models.TokenBundle, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "GithubAdapter.Refresh")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagProvider(span, enum.ProviderGithub.String())

	form := url.Values{}
	form.Set("client_id", a.cfg.ClientID)
	form.Set("client_secret", a.cfg.ClientSecret)
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	bundle, err := a.exchangeToken(ctx, form)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return bundle, nil
}

func (a *Adapter) exchangeToken(ctx context.Context, form url.Values) (*models.TokenBundle, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.tokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, errors.Wrap(err, "failed to build token request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

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

	if token.Error != "" {
		switch token.Error {
		case "bad_verification_code", "bad_refresh_token", "incorrect_client_credentials":
			return nil, customerrors.ErrAccessRevoked
		default:
			return nil, errors.Errorf("github token exchange failed: %s (%s)", token.Error, token.ErrorDescription)
		}
	}
	if token.AccessToken == "" {
		return nil, customerrors.ErrAccessRevoked
	}

	bundle := &models.TokenBundle{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
	}
	if token.ExpiresIn > 0 {
		expiry := time.Now().Add(time.Duration(token.ExpiresIn) * time.Second)
		bundle.Expiry = &expiry
	}
	return bundle, nil
}

func (a *Adapter) RegisterWatch(ctx context.Context, token *models.TokenBundle, accountRef string) (models.JSONMap, error) {
	return nil, customerrors.ErrWatchNotSupported
}

// notificationThread is the subset of the notifications payload the inbox
// cares about.
type notificationThread struct {
	ID      string `json:"id"`
	Reason  string `json:"reason"`
	Subject struct {
		Title string `json:"title"`
		Type  string `json:"type"`
		URL   string `json:"url"`
	} `json:"subject"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (a *Adapter) FetchDelta(ctx context.Context, token *models.TokenBundle, cursor string) ([]string, string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "GithubAdapter.FetchDelta")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagProvider(span, enum.ProviderGithub.String())

	// First sync pins the watermark at now without backfill.
	if cursor == "" {
		return nil, time.Now().UTC().Format(time.RFC3339), nil
	}
	since, err := time.Parse(time.RFC3339, cursor)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, "", customerrors.ErrMalformed
	}

	query := url.Values{}
	query.Set("since", since.UTC().Format(time.RFC3339))
	query.Set("all", "false")
	query.Set("per_page", "50")

	var threads []notificationThread
	if err := a.get(ctx, token.AccessToken, "/notifications", query, &threads); err != nil {
		tracing.TraceErr(span, err)
		return nil, "", err
	}

	latest := since
	ids := make([]string, 0, len(threads))
	for _, thread := range threads {
		// since is inclusive on the GitHub side; skip the boundary thread.
		if !thread.UpdatedAt.After(since) {
			continue
		}
		ids = append(ids, thread.ID)
		if thread.UpdatedAt.After(latest) {
			latest = thread.UpdatedAt
		}
	}

	span.LogKV("delta.ids", len(ids))
	return ids, latest.UTC().Format(time.RFC3339), nil
}

func (a *Adapter) FetchDetail(ctx context.Context, token *models.TokenBundle, ids []string) ([]interfaces.RawItem, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "GithubAdapter.FetchDetail")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagProvider(span, enum.ProviderGithub.String())

	var items []interfaces.RawItem
	for _, id := range ids {
		var thread json.RawMessage
		err := a.get(ctx, token.AccessToken, fmt.Sprintf("/notifications/threads/%s", id), nil, &thread)
		if err != nil {
			if errors.Is(err, errNotFound) {
				a.logger.Debugf("github thread %s disappeared before detail fetch", id)
				continue
			}
			tracing.TraceErr(span, err)
			return nil, err
		}
		items = append(items, interfaces.RawItem{ID: id, Payload: thread})
	}

	span.LogKV("detail.items", len(items))
	return items, nil
}

// FetchAttachments is a no-op: notification threads carry no binary parts.
func (a *Adapter) FetchAttachments(ctx context.Context, token *models.TokenBundle, refs []interfaces.AttachmentRef) ([]interfaces.Attachment, error) {
	return nil, nil
}

func (a *Adapter) Normalize(raw interfaces.RawItem) (*models.InboxItem, error) {
	var thread notificationThread
	if err := json.Unmarshal(raw.Payload, &thread); err != nil {
		return nil, customerrors.ErrMalformed
	}
	if thread.ID == "" || thread.Subject.Title == "" {
		return nil, customerrors.ErrMalformed
	}

	body := thread.Subject.URL
	if thread.Repository.FullName != "" {
		body = fmt.Sprintf("%s\n%s", thread.Repository.FullName, thread.Subject.URL)
	}

	return &models.InboxItem{
		UID:        fmt.Sprintf("github-%s", thread.ID),
		Title:      thread.Subject.Title,
		Body:       body,
		IsBodyHTML: false,
		Cause:      thread.Reason,
		Category:   strings.ToLower(thread.Subject.Type),
	}, nil
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

var errNotFound = errors.New("github resource not found")

func (a *Adapter) get(ctx context.Context, accessToken, path string, query url.Values, out interface{}) error {
	endpoint := a.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return errors.Wrap(err, "failed to build request")
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("User-Agent", userAgent)

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
	case resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0":
		return customerrors.ErrRateLimited
	case resp.StatusCode == http.StatusNotFound:
		return errNotFound
	case resp.StatusCode >= 500:
		return customerrors.ErrTransient
	case resp.StatusCode >= 400:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return errors.Errorf("github request %s failed with %d: %s", path, resp.StatusCode, string(body))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "failed to decode github response")
	}
	return nil
}
