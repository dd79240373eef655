package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// registerCron mounts the endpoint an external scheduler hits to drive the
// due-task sweep, guarded by the shared cron token.
func registerCron(api *gin.RouterGroup, deps *Deps) {
	api.POST("/cron", tokenAuth(headerCronToken, deps.Config.Auth.CronSecretToken), func(c *gin.Context) {
		claimed, err := deps.Scheduler.ProcessDueTasks(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"claimed": len(claimed)})
	})
}
