package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/servcy/inboxstack/internal/utils"
)

// InboxAttachment records one attachment blob fetched alongside an inbox item.
// The bytes live in object storage under StorageKey; only metadata is kept here.
type InboxAttachment struct {
	ID         string `gorm:"column:id;type:varchar(50);primaryKey"`
	ItemUID    string `gorm:"column:item_uid;type:varchar(255);uniqueIndex:idx_attachments_item_key;index;not null"`
	Name       string `gorm:"column:name;type:varchar(512)"`
	MimeType   string `gorm:"column:mime_type;type:varchar(255)"`
	Size       int64  `gorm:"column:size"`
	StorageKey string `gorm:"column:storage_key;type:varchar(512);uniqueIndex:idx_attachments_item_key;not null"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp"`
}

func (InboxAttachment) TableName() string {
	return "inbox_attachments"
}

func (a *InboxAttachment) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = utils.GenerateNanoIDWithPrefix("attach", 21)
	}
	return nil
}
