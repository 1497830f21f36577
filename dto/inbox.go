package dto

import "github.com/servcy/inboxstack/internal/models"

// InboxListResponse is one page of the caller's unified inbox.
type InboxListResponse struct {
	Items []*models.InboxItem `json:"items"`
	Total int64               `json:"total"`
}

// InboxActionRequest names the items a bulk archive or delete applies to.
type InboxActionRequest struct {
	ItemIDs []string `json:"itemIds" binding:"required"`
}

// InboxActionResponse reports how many rows the action touched.
type InboxActionResponse struct {
	Updated int64 `json:"updated"`
}
