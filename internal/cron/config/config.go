package cron_config

type Config struct {
	// Heartbeat check, every minute
	CronScheduleHeartbeat string `env:"CRON_SCHEDULE_HEARTBEAT" envDefault:"0 * * * * *"`
	// Token and watch refresh scan, every 15 minutes
	CronScheduleRefreshIntegrations string `env:"CRON_SCHEDULE_REFRESH_INTEGRATIONS" envDefault:"0 */15 * * * *"`
	// Delta sweep for polling providers, every 2 minutes
	CronSchedulePollIntegrations string `env:"CRON_SCHEDULE_POLL_INTEGRATIONS" envDefault:"0 */2 * * * *"`
}
