package models

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"

	"github.com/servcy/inboxstack/internal/enum"
	"github.com/servcy/inboxstack/internal/utils"
)

// Metadata keys owned by the sync machinery. Providers may store additional
// keys next to these; merges must never drop sibling keys.
const (
	MetadataKeyToken  = "token"
	MetadataKeyCursor = "cursor"
	MetadataKeyWatch  = "watch"
)

// Integration binds one external provider account to one user. Metadata holds
// the token bundle, sync cursor and provider-specific state; it is stored
// encrypted and only ever handled in plaintext by the vault.
type Integration struct {
	ID          string                   `gorm:"column:id;type:varchar(50);primaryKey"`
	UserID      string                   `gorm:"column:user_id;type:varchar(50);uniqueIndex:idx_integrations_user_provider_account;not null"`
	Provider    enum.IntegrationProvider `gorm:"column:provider;type:varchar(50);uniqueIndex:idx_integrations_user_provider_account;index;not null"`
	AccountID   string                   `gorm:"column:account_id;type:varchar(255);uniqueIndex:idx_integrations_user_provider_account;index;not null"`
	DisplayName string                   `gorm:"column:display_name;type:varchar(255)"`
	IsActive    bool                     `gorm:"column:is_active;index;default:true"`

	// EncryptedMetadata is the ciphertext column; Metadata is the decrypted
	// view populated by the vault and never persisted directly.
	EncryptedMetadata string  `gorm:"column:metadata;type:text"`
	Metadata          JSONMap `gorm:"-"`

	CreatedAt time.Time      `gorm:"column:created_at;type:timestamp;default:current_timestamp"`
	UpdatedAt time.Time      `gorm:"column:updated_at;type:timestamp;default:current_timestamp"`
	DeletedAt gorm.DeletedAt `gorm:"column:deleted_at;index"`
}

func (Integration) TableName() string {
	return "integrations"
}

func (i *Integration) BeforeCreate(tx *gorm.DB) error {
	if i.ID == "" {
		i.ID = utils.GenerateNanoIDWithPrefix("integ", 21)
	}
	return nil
}

// TokenBundle is the OAuth credential material embedded in integration
// metadata. Access tokens are short-lived; refresh tokens are rotated whenever
// the provider returns a new one.
type TokenBundle struct {
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token,omitempty"`
	Expiry       *time.Time `json:"expiry,omitempty"`
}

// NearExpiry reports whether the access token expires within the given window.
// Bundles without expiry information are treated as near expiry so they get
// refreshed opportunistically.
func (t *TokenBundle) NearExpiry(window time.Duration) bool {
	if t == nil || t.Expiry == nil {
		return true
	}
	return time.Until(*t.Expiry) < window
}

// Rotate merges a freshly issued bundle into the current one, keeping the old
// refresh token when the provider did not return a new one.
func (t *TokenBundle) Rotate(fresh *TokenBundle) *TokenBundle {
	if fresh == nil {
		return t
	}
	rotated := *fresh
	if rotated.RefreshToken == "" && t != nil {
		rotated.RefreshToken = t.RefreshToken
	}
	return &rotated
}

// TokenBundleFromMetadata extracts the typed token bundle from decrypted
// metadata. Returns nil when no bundle is stored.
func TokenBundleFromMetadata(metadata JSONMap) *TokenBundle {
	raw, ok := metadata[MetadataKeyToken]
	if !ok || raw == nil {
		return nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var bundle TokenBundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		return nil
	}
	return &bundle
}

// CursorFromMetadata extracts the stored sync cursor, empty when none exists.
func CursorFromMetadata(metadata JSONMap) string {
	cursor, _ := metadata[MetadataKeyCursor].(string)
	return cursor
}

// MetadataPatch builds a merge patch for the vault from typed parts. Nil parts
// are omitted so unrelated keys survive the merge.
func MetadataPatch(token *TokenBundle, cursor string, watch JSONMap) JSONMap {
	patch := JSONMap{}
	if token != nil {
		patch[MetadataKeyToken] = token.AsMap()
	}
	if cursor != "" {
		patch[MetadataKeyCursor] = cursor
	}
	if watch != nil {
		patch[MetadataKeyWatch] = map[string]interface{}(watch)
	}
	return patch
}

// AsMap renders the bundle as a plain map for metadata storage.
func (t *TokenBundle) AsMap() map[string]interface{} {
	m := map[string]interface{}{
		"access_token": t.AccessToken,
	}
	if t.RefreshToken != "" {
		m["refresh_token"] = t.RefreshToken
	}
	if t.Expiry != nil {
		m["expiry"] = t.Expiry.Format(time.RFC3339)
	}
	return m
}
