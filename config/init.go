package config

import (
	"log"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"

	internal_config "github.com/servcy/inboxstack/internal/config"
	"github.com/servcy/inboxstack/internal/logger"
	"github.com/servcy/inboxstack/internal/tracing"
)

type Config struct {
	AppConfig         *internal_config.AppConfig
	Logger            *logger.Config
	Tracing           *tracing.JaegerConfig
	DatabaseConfig    *internal_config.DatabaseConfig
	R2StorageConfig   *internal_config.R2StorageConfig
	VaultConfig       *internal_config.VaultConfig
	GoogleOAuthConfig *internal_config.GoogleOAuthConfig
	GithubOAuthConfig *internal_config.GithubOAuthConfig
	NotionOAuthConfig *internal_config.NotionOAuthConfig
}

func InitConfig() (*Config, error) {
	config := &Config{
		AppConfig:         &internal_config.AppConfig{},
		Logger:            &logger.Config{},
		Tracing:           &tracing.JaegerConfig{},
		DatabaseConfig:    &internal_config.DatabaseConfig{},
		R2StorageConfig:   &internal_config.R2StorageConfig{},
		VaultConfig:       &internal_config.VaultConfig{},
		GoogleOAuthConfig: &internal_config.GoogleOAuthConfig{},
		GithubOAuthConfig: &internal_config.GithubOAuthConfig{},
		NotionOAuthConfig: &internal_config.NotionOAuthConfig{},
	}

	err := godotenv.Load()
	if err != nil {
		log.Print("Unable to load .env file")
	}

	err = env.Parse(config)
	if err != nil {
		return nil, err
	}

	return config, nil
}
