package config

type AppConfig struct {
	APIPort     string `env:"PORT" envDefault:"11000"`
	APIKey      string `env:"API_KEY,required"`
	RabbitMQURL string `env:"RABBITMQ_URL"`
}

type DatabaseConfig struct {
	Host            string `env:"POSTGRES_HOST,required"`
	Port            string `env:"POSTGRES_PORT,required"`
	User            string `env:"POSTGRES_USER,required"`
	DBName          string `env:"POSTGRES_DB_NAME,required"`
	Password        string `env:"POSTGRES_PASSWORD,required"`
	MaxConn         int    `env:"POSTGRES_DB_MAX_CONN"`
	MaxIdleConn     int    `env:"POSTGRES_DB_MAX_IDLE_CONN"`
	ConnMaxLifetime int    `env:"POSTGRES_DB_CONN_MAX_LIFETIME"`
	LogLevel        string `env:"POSTGRES_LOG_LEVEL" envDefault:"WARN"`
	SSLMode         string `env:"POSTGRES_SSL_MODE" envDefault:"require"`
}

type R2StorageConfig struct {
	AccountID        string `env:"CLOUDFLARE_R2_ACCOUNT_ID,required"`
	AccessKeyID      string `env:"CLOUDFLARE_R2_ACCESS_KEY_ID,required"`
	AccessKeySecret  string `env:"CLOUDFLARE_R2_ACCESS_KEY_SECRET,required"`
	AttachmentBucket string `env:"BUCKET_NAME_INBOX_ATTACHMENT" envDefault:"inbox-attachments"`
}

type VaultConfig struct {
	// EncryptionKey is base64 and must decode to 32 bytes.
	EncryptionKey string `env:"VAULT_ENCRYPTION_KEY,required"`
}

type GoogleOAuthConfig struct {
	ClientID     string `env:"GOOGLE_OAUTH_CLIENT_ID"`
	ClientSecret string `env:"GOOGLE_OAUTH_CLIENT_SECRET"`
	RedirectURI  string `env:"GOOGLE_OAUTH_REDIRECT_URI"`
	// PubSubTopic is the fully qualified topic Gmail watches publish to,
	// e.g. projects/my-project/topics/gmail-inbox.
	PubSubTopic string `env:"GOOGLE_PUBSUB_TOPIC"`
	ConfigureAt string `env:"GOOGLE_CONFIGURE_AT"`
}

type GithubOAuthConfig struct {
	ClientID     string `env:"GITHUB_OAUTH_CLIENT_ID"`
	ClientSecret string `env:"GITHUB_OAUTH_CLIENT_SECRET"`
	RedirectURI  string `env:"GITHUB_OAUTH_REDIRECT_URI"`
	ConfigureAt  string `env:"GITHUB_CONFIGURE_AT"`
}

type NotionOAuthConfig struct {
	ClientID     string `env:"NOTION_OAUTH_CLIENT_ID"`
	ClientSecret string `env:"NOTION_OAUTH_CLIENT_SECRET"`
	RedirectURI  string `env:"NOTION_OAUTH_REDIRECT_URI"`
	ConfigureAt  string `env:"NOTION_CONFIGURE_AT"`
}
