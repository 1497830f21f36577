package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/servcy/inboxstack/config"
	"github.com/servcy/inboxstack/dto"
	"github.com/servcy/inboxstack/internal/enum"
	ierrors "github.com/servcy/inboxstack/internal/errors"
	"github.com/servcy/inboxstack/internal/logger"
	"github.com/servcy/inboxstack/internal/models"
	"github.com/servcy/inboxstack/internal/tracing"
	"github.com/servcy/inboxstack/internal/utils"
	"github.com/servcy/inboxstack/services"
	"github.com/servcy/inboxstack/services/providers/gmail"
)

const genericConnectError = "Could not connect the integration, please try again later"

type OAuthHandler struct {
	cfg *config.Config
	svc *services.Services
	log logger.Logger
}

func NewOAuthHandler(cfg *config.Config, svc *services.Services, log logger.Logger) *OAuthHandler {
	return &OAuthHandler{
		cfg: cfg,
		svc: svc,
		log: log,
	}
}

// Callback finishes the OAuth consent flow: code exchange, integration
// persistence and, for push providers, the initial watch registration.
func (h *OAuthHandler) Callback() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "OAuthHandler.Callback")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		provider := enum.DecodeIntegrationProvider(c.Param("provider"))
		if provider == "" {
			c.JSON(http.StatusNotFound, gin.H{"error": "Unknown provider"})
			return
		}
		tracing.TagProvider(span, provider.String())

		userID := c.GetString("UserId")
		tracing.TagUserID(span, userID)

		var request dto.OAuthCallbackRequest
		if err := c.ShouldBindJSON(&request); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "Missing authorization code"})
			return
		}

		adapter, ok := h.svc.Registry.Adapter(provider)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "Unknown provider"})
			return
		}

		if provider == enum.ProviderGmail && !grantedAllScopes(request.Scope, gmail.Scopes) {
			c.JSON(http.StatusNotAcceptable, gin.H{"error": "All requested permissions must be granted"})
			return
		}

		token, account, err := adapter.Authenticate(ctx, request.Code)
		if err != nil {
			tracing.TraceErr(span, err)
			h.log.Errorf("OAuth exchange failed for provider %s: %v", provider, err)
			c.JSON(http.StatusBadGateway, gin.H{"error": genericConnectError})
			return
		}

		integration := &models.Integration{
			UserID:      userID,
			Provider:    provider,
			AccountID:   account.AccountID,
			DisplayName: account.DisplayName,
			Metadata: models.JSONMap{
				models.MetadataKeyToken: token.AsMap(),
			},
		}
		if err := h.svc.Vault.CreateIntegration(ctx, integration); err != nil {
			tracing.TraceErr(span, err)
			h.log.Errorf("Failed to persist integration: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": genericConnectError})
			return
		}
		tracing.TagIntegration(span, integration.ID)

		if adapter.SupportsPush() {
			watch, err := adapter.RegisterWatch(ctx, token, account.AccountID)
			if err != nil && !errors.Is(err, ierrors.ErrWatchNotSupported) {
				// The refresh scan retries watch registration; the
				// integration is already usable via re-delivery.
				tracing.TraceErr(span, err)
				h.log.Warnf("Watch registration failed for %s: %v", integration.ID, err)
			} else if watch != nil {
				if err := h.svc.Vault.MergeMetadata(ctx, integration.ID, models.MetadataPatch(nil, "", watch)); err != nil {
					tracing.TraceErr(span, err)
					h.log.Warnf("Failed to store watch metadata for %s: %v", integration.ID, err)
				}
			}
		}

		h.svc.ActivityService.Record(ctx, dto.ActivityEvent{
			EventType: enum.ActivityIntegrationConnected,
			ActorID:   userID,
			SubjectID: integration.ID,
			AfterState: models.JSONMap{
				"provider":  provider.String(),
				"accountId": account.AccountID,
			},
		})

		c.JSON(http.StatusOK, dto.OAuthCallbackResponse{
			IntegrationID: integration.ID,
			AccountID:     account.AccountID,
			DisplayName:   account.DisplayName,
			Redirect:      h.configureAt(provider, integration.ID),
		})
	}
}

// configureAt builds the post-connect continuation URL carrying the new
// integration id, when one is configured for the provider.
func (h *OAuthHandler) configureAt(provider enum.IntegrationProvider, integrationID string) string {
	var base string
	switch provider {
	case enum.ProviderGmail:
		base = h.cfg.GoogleOAuthConfig.ConfigureAt
	case enum.ProviderGithub:
		base = h.cfg.GithubOAuthConfig.ConfigureAt
	case enum.ProviderNotion:
		base = h.cfg.NotionOAuthConfig.ConfigureAt
	}
	if base == "" {
		return ""
	}
	separator := "?"
	if strings.Contains(base, "?") {
		separator = "&"
	}
	return base + separator + "integration=" + integrationID
}

func grantedAllScopes(granted string, required []string) bool {
	return utils.IsSubset(required, strings.Fields(granted))
}
