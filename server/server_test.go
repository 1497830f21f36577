package server

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/servcy/inboxstack/internal/logger"
)

func getLogger() logger.Logger {
	appLogger := logger.NewAppLogger(&logger.Config{
		DevMode: true,
	})
	appLogger.InitLogger()
	return appLogger
}

func TestKubernetesClient_OutsideCluster(t *testing.T) {
	// Without the in-cluster service env vars the clientset cannot be
	// built and the cron manager is expected to run in local mode.
	t.Setenv("KUBERNETES_SERVICE_HOST", "")
	t.Setenv("KUBERNETES_SERVICE_PORT", "")

	client := kubernetesClient(getLogger())

	assert.Nil(t, client)
}
