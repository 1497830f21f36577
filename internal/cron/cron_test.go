package cron

import (
	"os"
	"testing"

	cronv3 "github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"k8s.io/client-go/kubernetes"

	"github.com/servcy/inboxstack/config"
	cron_config "github.com/servcy/inboxstack/internal/cron/config"
	"github.com/servcy/inboxstack/internal/logger"
)

type mockKubernetesInterface struct {
	kubernetes.Interface
	mock.Mock
}

func getLogger() logger.Logger {
	appLogger := logger.NewAppLogger(&logger.Config{
		DevMode: true,
	})
	appLogger.InitLogger()
	return appLogger
}

func TestNewCronManager(t *testing.T) {
	// Arrange
	cfg := &config.Config{
		Logger: &logger.Config{
			LogLevel: "info",
		},
	}
	log := getLogger()
	k8s := &mockKubernetesInterface{}

	// Act
	cm := NewCronManager(cfg, log, k8s, nil)

	// Assert
	assert.NotNil(t, cm)
	assert.Equal(t, cfg, cm.cfg)
	assert.Equal(t, log, cm.log)
	assert.Equal(t, k8s, cm.k8s)
	assert.NotNil(t, cm.jobIDs)
}

func TestCronManager_StartCron(t *testing.T) {
	// Set environment variable for testing
	os.Setenv("CRON_SCHEDULE_REFRESH_INTEGRATIONS", "0 */15 * * * *")
	os.Setenv("CRON_SCHEDULE_POLL_INTEGRATIONS", "0 */2 * * * *")
	defer os.Unsetenv("CRON_SCHEDULE_REFRESH_INTEGRATIONS")
	defer os.Unsetenv("CRON_SCHEDULE_POLL_INTEGRATIONS")

	// Arrange
	cfg := &config.Config{
		Logger: &logger.Config{
			LogLevel: "info",
		},
	}
	log := getLogger()
	k8s := &mockKubernetesInterface{}
	cm := NewCronManager(cfg, log, k8s, nil)

	// Create a mock cron for testing
	mockCron := cronv3.New(cronv3.WithSeconds())

	// Register jobs directly
	var cronConfig cron_config.Config
	cronConfig.CronScheduleRefreshIntegrations = "0 */15 * * * *"
	cronConfig.CronSchedulePollIntegrations = "0 */2 * * * *"

	// Act - register jobs manually
	refreshID, err := mockCron.AddFunc(cronConfig.CronScheduleRefreshIntegrations, func() {})
	assert.NoError(t, err)
	cm.jobIDs["refresh_integrations"] = refreshID

	pollID, err := mockCron.AddFunc(cronConfig.CronSchedulePollIntegrations, func() {})
	assert.NoError(t, err)
	cm.jobIDs["poll_integrations"] = pollID

	cm.cron = mockCron

	// Assert
	assert.NotNil(t, cm.cron)
	assert.Equal(t, 2, len(cm.jobIDs))
}

func TestCronManager_Stop(t *testing.T) {
	// Arrange
	cfg := &config.Config{
		Logger: &logger.Config{
			LogLevel: "info",
		},
	}
	log := getLogger()
	k8s := &mockKubernetesInterface{}
	cm := NewCronManager(cfg, log, k8s, nil)

	// Create a mock cron for testing
	mockCron := cronv3.New()
	mockCron.Start()
	cm.cron = mockCron

	// Act
	cm.Stop()

	// Assert
	select {
	case <-cm.stopCh:
		// Channel is closed as expected
	default:
		t.Error("Stop channel was not closed")
	}
}

func TestCronConfigDefaults(t *testing.T) {
	var cronConfig cron_config.Config
	cronConfig.CronScheduleHeartbeat = "0 * * * * *"
	cronConfig.CronScheduleRefreshIntegrations = "0 */15 * * * *"
	cronConfig.CronSchedulePollIntegrations = "0 */2 * * * *"

	parser := cronv3.NewParser(cronv3.Second | cronv3.Minute | cronv3.Hour | cronv3.Dom | cronv3.Month | cronv3.Dow)

	for _, schedule := range []string{
		cronConfig.CronScheduleHeartbeat,
		cronConfig.CronScheduleRefreshIntegrations,
		cronConfig.CronSchedulePollIntegrations,
	} {
		_, err := parser.Parse(schedule)
		assert.NoError(t, err, "schedule %q should parse", schedule)
	}
}
