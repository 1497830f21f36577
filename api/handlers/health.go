package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/servcy/inboxstack/interfaces"
)

// HealthCheck provides a simple health check endpoint
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// Status reports the registered provider adapters and their delivery mode.
func Status(registry interfaces.AdapterRegistry) gin.HandlerFunc {
	return func(c *gin.Context) {
		providers := make([]gin.H, 0)
		for _, adapter := range registry.All() {
			mode := "poll"
			if adapter.SupportsPush() {
				mode = "push"
			}
			providers = append(providers, gin.H{
				"provider": adapter.Provider().String(),
				"delivery": mode,
			})
		}
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"providers": providers,
		})
	}
}
