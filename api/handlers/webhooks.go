package handlers

import (
	"context"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"

	"github.com/servcy/inboxstack/dto"
	"github.com/servcy/inboxstack/interfaces"
	"github.com/servcy/inboxstack/internal/enum"
	ierrors "github.com/servcy/inboxstack/internal/errors"
	"github.com/servcy/inboxstack/internal/logger"
	"github.com/servcy/inboxstack/internal/tracing"
	"github.com/servcy/inboxstack/services"
)

// syncDeadline bounds the background ingestion kicked off by a webhook.
const syncDeadline = 2 * time.Minute

type WebhookHandler struct {
	svc *services.Services
	log logger.Logger
}

func NewWebhookHandler(svc *services.Services, log logger.Logger) *WebhookHandler {
	return &WebhookHandler{
		svc: svc,
		log: log,
	}
}

// GooglePush receives Gmail Pub/Sub push deliveries. The envelope is
// acknowledged before ingestion runs; Pub/Sub redelivers on non-2xx, and the
// watermark check makes redelivery a no-op.
func (h *WebhookHandler) GooglePush() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "WebhookHandler.GooglePush")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		var envelope dto.GooglePushEnvelope
		if err := c.ShouldBindJSON(&envelope); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid envelope"})
			return
		}

		notification, err := envelope.DecodeNotification()
		if err != nil {
			// Acknowledge malformed payloads; redelivery cannot fix them.
			tracing.TraceErr(span, err)
			h.log.Warnf("Dropping undecodable pubsub notification: %v", err)
			c.JSON(http.StatusOK, gin.H{"message": "Ignored"})
			return
		}
		tracing.TagAccount(span, notification.EmailAddress)

		integration, err := h.svc.Vault.GetByAccount(ctx, enum.ProviderGmail, notification.EmailAddress)
		if err != nil {
			if ierrors.IsIntegrationNotFound(err) {
				c.JSON(http.StatusOK, gin.H{"message": "No integration for account"})
				return
			}
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Lookup failed"})
			return
		}
		tracing.TagIntegration(span, integration.ID)

		// Acknowledge first, ingest asynchronously.
		c.JSON(http.StatusOK, gin.H{"message": "Accepted"})

		hint := interfaces.TriggerHint{
			Trigger:   enum.TriggerWebhook,
			Watermark: strconv.FormatUint(notification.HistoryID, 10),
		}
		go h.runSync(integration.ID, hint)
	}
}

// GithubEvents is a log-and-acknowledge sink; GitHub ingestion happens via the
// polling sweep.
func (h *WebhookHandler) GithubEvents() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "WebhookHandler.GithubEvents")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		event := c.GetHeader("X-GitHub-Event")
		delivery := c.GetHeader("X-GitHub-Delivery")
		h.log.Infof("Received github webhook event=%s delivery=%s", event, delivery)

		c.JSON(http.StatusOK, gin.H{"message": "Accepted"})
	}
}

func (h *WebhookHandler) runSync(integrationID string, hint interfaces.TriggerHint) {
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			h.log.Errorf("Panic in webhook sync for %s: %v\n%s", integrationID, r, stack)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), syncDeadline)
	defer cancel()

	result, err := h.svc.SyncEngine.SyncIntegration(ctx, integrationID, hint)
	if err != nil {
		h.log.Errorf("Webhook sync failed for %s: %v", integrationID, err)
		return
	}
	h.log.Infof("Webhook sync for %s finished in state %s: fetched=%d inserted=%d skipped=%d",
		integrationID, result.State, result.ItemsFetched, result.ItemsInserted, result.ItemsSkipped)
}
