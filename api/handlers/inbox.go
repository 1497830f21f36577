package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"

	"github.com/servcy/inboxstack/dto"
	"github.com/servcy/inboxstack/interfaces"
	"github.com/servcy/inboxstack/internal/logger"
	"github.com/servcy/inboxstack/internal/tracing"
	"github.com/servcy/inboxstack/internal/utils"
	"github.com/servcy/inboxstack/services"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

type InboxHandler struct {
	svc *services.Services
	log logger.Logger
}

func NewInboxHandler(svc *services.Services, log logger.Logger) *InboxHandler {
	return &InboxHandler{
		svc: svc,
		log: log,
	}
}

// List returns one page of the caller's unified inbox, newest first.
func (h *InboxHandler) List() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "InboxHandler.List")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		userID := c.GetString("UserId")
		tracing.TagUserID(span, userID)

		filter := interfaces.InboxFilter{
			Limit:  defaultPageSize,
			Offset: 0,
		}
		if raw := c.Query("integration_ids"); raw != "" {
			filter.IntegrationIDs = strings.Split(raw, ",")
		}
		if raw := c.Query("archived"); raw != "" {
			archived, err := strconv.ParseBool(raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid archived flag"})
				return
			}
			filter.Archived = utils.ToPtr(archived)
		}
		if raw := c.Query("limit"); raw != "" {
			limit, err := strconv.Atoi(raw)
			if err != nil || limit < 1 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
				return
			}
			if limit > maxPageSize {
				limit = maxPageSize
			}
			filter.Limit = limit
		}
		if raw := c.Query("offset"); raw != "" {
			offset, err := strconv.Atoi(raw)
			if err != nil || offset < 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid offset"})
				return
			}
			filter.Offset = offset
		}

		items, total, err := h.svc.InboxService.List(ctx, userID, filter)
		if err != nil {
			tracing.TraceErr(span, err)
			h.log.Errorf("Failed to list inbox for %s: %v", userID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list inbox"})
			return
		}

		c.JSON(http.StatusOK, dto.InboxListResponse{
			Items: items,
			Total: total,
		})
	}
}

// Archive flips the archived flag on the caller's items.
func (h *InboxHandler) Archive() gin.HandlerFunc {
	return h.bulkAction("InboxHandler.Archive", h.svc.InboxService.Archive)
}

// Delete soft-deletes the caller's items.
func (h *InboxHandler) Delete() gin.HandlerFunc {
	return h.bulkAction("InboxHandler.Delete", h.svc.InboxService.Delete)
}

func (h *InboxHandler) bulkAction(operationName string, action func(ctx context.Context, userID string, itemIDs []string) (int64, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), operationName)
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		userID := c.GetString("UserId")
		tracing.TagUserID(span, userID)

		var request dto.InboxActionRequest
		if err := c.ShouldBindJSON(&request); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "Missing item ids"})
			return
		}

		updated, err := action(ctx, userID, request.ItemIDs)
		if err != nil {
			tracing.TraceErr(span, err)
			h.log.Errorf("Inbox action %s failed for %s: %v", operationName, userID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Action failed"})
			return
		}

		c.JSON(http.StatusOK, dto.InboxActionResponse{Updated: updated})
	}
}
