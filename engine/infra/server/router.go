package server

import (
	"github.com/gin-gonic/gin"

	"github.com/toolbridge/toolbridge/pkg/config"
	"github.com/toolbridge/toolbridge/pkg/logger"
)

// NewRouter assembles the full HTTP surface under /plugin-engine.
func NewRouter(deps *Deps, log logger.Logger) *gin.Engine {
	if deps.Config != nil && deps.Config.Mode == config.ModeProduction {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(recoveryMiddleware(log), loggerMiddleware(log))

	registerHealth(r, deps)

	api := r.Group("/plugin-engine")
	registerIntents(api, deps)
	registerIntegrations(api, deps)
	registerTasks(api, deps)
	registerMappings(api, deps)
	registerErrors(api, deps)
	registerWebhooks(api, deps)
	registerSubscriptions(api, deps)
	registerCron(api, deps)
	return r
}
