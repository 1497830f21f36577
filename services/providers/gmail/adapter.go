package gmail

import (
	"context"
	"encoding/base64"
	"strconv"
	"time"

	"github.com/opentracing/opentracing-go"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailv1 "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/servcy/inboxstack/interfaces"
	"github.com/servcy/inboxstack/internal/config"
	"github.com/servcy/inboxstack/internal/enum"
	customerrors "github.com/servcy/inboxstack/internal/errors"
	"github.com/servcy/inboxstack/internal/logger"
	"github.com/servcy/inboxstack/internal/models"
	"github.com/servcy/inboxstack/internal/tracing"
)

const callTimeout = 30 * time.Second

// Scopes requested during the OAuth exchange. Partial grants are rejected at
// the OAuth handler.
var Scopes = []string{
	gmailv1.GmailReadonlyScope,
	"https://www.googleapis.com/auth/userinfo.email",
}

// Adapter ingests Gmail messages. Gmail is a push provider: deltas arrive as
// pub/sub notifications carrying a history id, and the watch subscription has
// to be re-registered before it expires.
type Adapter struct {
	oauth  *oauth2.Config
	topic  string
	logger logger.Logger
}

func NewAdapter(cfg *config.GoogleOAuthConfig, l logger.Logger) *Adapter {
	return &Adapter{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Endpoint:     google.Endpoint,
			Scopes:       Scopes,
		},
		topic:  cfg.PubSubTopic,
		logger: l,
	}
}

func (a *Adapter) Provider() enum.IntegrationProvider {
	return enum.ProviderGmail
}

func (a *Adapter) SupportsPush() bool {
	return true
}

func (a *Adapter) Authenticate(ctx context.Context, code string) (*models.TokenBundle, *interfaces.AccountInfo, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "GmailAdapter.Authenticate")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagProvider(span, enum.ProviderGmail.String())

	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	token, err := a.oauth.Exchange(ctx, code)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, nil, mapOAuthError(err)
	}

	srv, err := a.service(ctx, token)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, nil, err
	}

	profile, err := srv.Users.GetProfile("me").Context(ctx).Do()
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, nil, mapAPIError(err)
	}

	tracing.TagAccount(span, profile.EmailAddress)
	return bundleFromToken(token), &interfaces.AccountInfo{
		AccountID:   profile.EmailAddress,
		DisplayName: profile.EmailAddress,
	}, nil
}

func (a *Adapter) Refresh(ctx context.Context, refreshToken string) (*models.TokenBundle, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "GmailAdapter.Refresh")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagProvider(span, enum.ProviderGmail.String())

	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	source := a.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, mapOAuthError(err)
	}
	return bundleFromToken(token), nil
}

func (a *Adapter) RegisterWatch(ctx context.Context, token *models.TokenBundle, accountRef string) (models.JSONMap, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "GmailAdapter.RegisterWatch")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagProvider(span, enum.ProviderGmail.String())
	tracing.TagAccount(span, accountRef)

	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	srv, err := a.serviceForBundle(ctx, token)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	// Gmail allows a single push client per user; clear any stale watch first.
	_ = srv.Users.Stop("me").Context(ctx).Do()

	resp, err := srv.Users.Watch("me", &gmailv1.WatchRequest{
		TopicName: a.topic,
		LabelIds:  []string{"INBOX"},
	}).Context(ctx).Do()
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, mapAPIError(err)
	}

	span.LogKV("watch.expiration", resp.Expiration, "watch.historyId", resp.HistoryId)
	return models.JSONMap{
		"history_id": strconv.FormatUint(resp.HistoryId, 10),
		"expiration": resp.Expiration,
	}, nil
}

func (a *Adapter) FetchDelta(ctx context.Context, token *models.TokenBundle, cursor string) ([]string, string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "GmailAdapter.FetchDelta")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagProvider(span, enum.ProviderGmail.String())

	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	srv, err := a.serviceForBundle(ctx, token)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, "", err
	}

	// No cursor yet: pin the watermark at the mailbox head without backfill.
	if cursor == "" {
		profile, err := srv.Users.GetProfile("me").Context(ctx).Do()
		if err != nil {
			tracing.TraceErr(span, err)
			return nil, "", mapAPIError(err)
		}
		return nil, strconv.FormatUint(profile.HistoryId, 10), nil
	}

	startHistoryID, err := strconv.ParseUint(cursor, 10, 64)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, "", customerrors.ErrMalformed
	}

	seen := make(map[string]struct{})
	var ids []string
	latest := startHistoryID
	pageToken := ""

	for {
		call := srv.Users.History.List("me").
			StartHistoryId(startHistoryID).
			HistoryTypes("messageAdded").
			LabelId("INBOX").
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		resp, err := call.Do()
		if err != nil {
			// An aged-out startHistoryId would otherwise soft-fail every
			// sync forever. Re-pin at the mailbox head instead, the same
			// way a brand-new integration starts.
			if isHistoryExpired(err) {
				profile, profileErr := srv.Users.GetProfile("me").Context(ctx).Do()
				if profileErr != nil {
					tracing.TraceErr(span, profileErr)
					return nil, "", mapAPIError(profileErr)
				}
				a.logger.Warnf("gmail history id %d expired, re-pinning cursor at %d", startHistoryID, profile.HistoryId)
				span.LogKV("cursor.repinned", profile.HistoryId)
				return nil, strconv.FormatUint(profile.HistoryId, 10), nil
			}
			tracing.TraceErr(span, err)
			return nil, "", mapAPIError(err)
		}

		for _, history := range resp.History {
			if history.Id > latest {
				latest = history.Id
			}
			for _, added := range history.MessagesAdded {
				if added.Message == nil {
					continue
				}
				if _, ok := seen[added.Message.Id]; ok {
					continue
				}
				seen[added.Message.Id] = struct{}{}
				ids = append(ids, added.Message.Id)
			}
		}
		if resp.HistoryId > latest {
			latest = resp.HistoryId
		}

		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}

	span.LogKV("delta.ids", len(ids), "delta.cursor", latest)
	return ids, strconv.FormatUint(latest, 10), nil
}

func (a *Adapter) FetchDetail(ctx context.Context, token *models.TokenBundle, ids []string) ([]interfaces.RawItem, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "GmailAdapter.FetchDetail")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagProvider(span, enum.ProviderGmail.String())

	srv, err := a.serviceForBundle(ctx, token)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	var items []interfaces.RawItem
	for _, id := range ids {
		callCtx, cancel := context.WithTimeout(ctx, callTimeout)
		msg, err := srv.Users.Messages.Get("me", id).Format("full").Context(callCtx).Do()
		cancel()
		if err != nil {
			if isNotFound(err) {
				// Message deleted between delta and detail fetch.
				a.logger.Debugf("gmail message %s disappeared before detail fetch", id)
				continue
			}
			tracing.TraceErr(span, err)
			return nil, mapAPIError(err)
		}

		// Only unread personal mail lands in the unified inbox.
		if !hasLabel(msg.LabelIds, "UNREAD") || !hasLabel(msg.LabelIds, "CATEGORY_PERSONAL") {
			continue
		}

		raw, err := rawItemFromMessage(msg)
		if err != nil {
			tracing.TraceErr(span, err)
			continue
		}
		items = append(items, raw)
	}

	span.LogKV("detail.items", len(items))
	return items, nil
}

func (a *Adapter) FetchAttachments(ctx context.Context, token *models.TokenBundle, refs []interfaces.AttachmentRef) ([]interfaces.Attachment, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "GmailAdapter.FetchAttachments")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagProvider(span, enum.ProviderGmail.String())

	srv, err := a.serviceForBundle(ctx, token)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	var attachments []interfaces.Attachment
	for _, ref := range refs {
		callCtx, cancel := context.WithTimeout(ctx, callTimeout)
		part, err := srv.Users.Messages.Attachments.Get("me", ref.ItemID, ref.AttachmentID).Context(callCtx).Do()
		cancel()
		if err != nil {
			if isNotFound(err) {
				continue
			}
			tracing.TraceErr(span, err)
			return nil, mapAPIError(err)
		}

		data, err := base64.URLEncoding.DecodeString(part.Data)
		if err != nil {
			a.logger.Warnf("failed to decode gmail attachment %s on message %s: %v", ref.AttachmentID, ref.ItemID, err)
			continue
		}
		attachments = append(attachments, interfaces.Attachment{Ref: ref, Data: data})
	}

	span.LogKV("attachments.fetched", len(attachments))
	return attachments, nil
}

// CursorAfter compares history ids numerically. An unparsable candidate never
// advances.
func (a *Adapter) CursorAfter(candidate, current string) bool {
	if candidate == "" {
		return false
	}
	if current == "" {
		return true
	}
	candidateID, err := strconv.ParseUint(candidate, 10, 64)
	if err != nil {
		return false
	}
	currentID, err := strconv.ParseUint(current, 10, 64)
	if err != nil {
		return true
	}
	return candidateID > currentID
}

func (a *Adapter) service(ctx context.Context, token *oauth2.Token) (*gmailv1.Service, error) {
	client := a.oauth.Client(ctx, token)
	srv, err := gmailv1.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, customerrors.ErrTransient
	}
	return srv, nil
}

func (a *Adapter) serviceForBundle(ctx context.Context, bundle *models.TokenBundle) (*gmailv1.Service, error) {
	token := &oauth2.Token{
		AccessToken:  bundle.AccessToken,
		RefreshToken: bundle.RefreshToken,
		TokenType:    "Bearer",
	}
	if bundle.Expiry != nil {
		token.Expiry = *bundle.Expiry
	}
	return a.service(ctx, token)
}

func bundleFromToken(token *oauth2.Token) *models.TokenBundle {
	bundle := &models.TokenBundle{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
	}
	if !token.Expiry.IsZero() {
		expiry := token.Expiry
		bundle.Expiry = &expiry
	}
	return bundle
}

func hasLabel(labels []string, label string) bool {
	for _, l := range labels {
		if l == label {
			return true
		}
	}
	return false
}
