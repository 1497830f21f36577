package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/servcy/inboxstack/interfaces"
	"github.com/servcy/inboxstack/internal/config"
	"github.com/servcy/inboxstack/internal/models"
	"github.com/servcy/inboxstack/services/storage"
	"github.com/servcy/inboxstack/services/storage/aws_client"
)

type Repositories struct {
	IntegrationRepository     interfaces.IntegrationRepository
	InboxItemRepository       interfaces.InboxItemRepository
	InboxAttachmentRepository interfaces.InboxAttachmentRepository
}

func InitRepositories(db *gorm.DB, r2Config *config.R2StorageConfig) (*Repositories, error) {
	attachmentClient, err := aws_client.NewR2Client(aws_client.R2Config{
		AccountID:       r2Config.AccountID,
		AccessKeyID:     r2Config.AccessKeyID,
		AccessKeySecret: r2Config.AccessKeySecret,
		BucketName:      r2Config.AttachmentBucket,
	})
	if err != nil {
		return nil, err
	}

	attachmentStorage := storage.NewStorageService(attachmentClient, storage.StorageConfig{
		BucketName: r2Config.AttachmentBucket,
	})

	return &Repositories{
		IntegrationRepository:     NewIntegrationRepository(db),
		InboxItemRepository:       NewInboxItemRepository(db),
		InboxAttachmentRepository: NewInboxAttachmentRepository(db, attachmentStorage),
	}, nil
}

func MigrateDB(dbConfig *config.DatabaseConfig, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}

	sqlDB.SetMaxOpenConns(5)

	err = db.AutoMigrate(
		&models.Integration{},
		&models.InboxItem{},
		&models.InboxAttachment{},
	)

	sqlDB.SetMaxIdleConns(dbConfig.MaxIdleConn)
	sqlDB.SetMaxOpenConns(dbConfig.MaxConn)
	sqlDB.SetConnMaxLifetime(time.Duration(dbConfig.ConnMaxLifetime) * time.Minute)

	return err
}
