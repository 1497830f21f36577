package models

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/servcy/inboxstack/internal/utils"
)

// InboxItem is the canonical representation of one ingested unit (a mail
// message, a tracker event, a document edit). UID is unique across the whole
// table: re-delivery of the same remote event is absorbed as a no-op insert.
type InboxItem struct {
	ID         string `gorm:"column:id;type:varchar(50);primaryKey"`
	UID        string `gorm:"column:uid;type:varchar(255);uniqueIndex;not null"`
	Title      string `gorm:"column:title;type:varchar(512);not null"`
	Body       string `gorm:"column:body;type:text"`
	IsBodyHTML bool   `gorm:"column:is_body_html;default:false"`
	IsArchived bool   `gorm:"column:is_archived;index;default:false"`
	IsDeleted  bool   `gorm:"column:is_deleted;index;default:false"`

	// Cause is a free-text classification hint recorded at ingestion time
	// (e.g. the provider event action that produced this item).
	Cause    string         `gorm:"column:cause;type:text"`
	Category string         `gorm:"column:category;type:varchar(255)"`
	Labels   pq.StringArray `gorm:"column:labels;type:text[]"`

	IntegrationID string `gorm:"column:integration_id;type:varchar(50);index;not null"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamp;default:current_timestamp"`
}

func (InboxItem) TableName() string {
	return "inbox_items"
}

func (i *InboxItem) BeforeCreate(tx *gorm.DB) error {
	if i.ID == "" {
		i.ID = utils.GenerateNanoIDWithPrefix("item", 21)
	}
	if i.Title != "" {
		i.Title = utils.Truncate(i.Title, 512)
	}
	return nil
}
