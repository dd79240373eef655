package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/toolbridge/toolbridge/engine/core"
)

// registerIntents wires the synchronous dispatch path. Tool failures stay
// in-band as Result payloads; only malformed requests get an HTTP error.
func registerIntents(api *gin.RouterGroup, deps *Deps) {
	api.POST("/intents", func(c *gin.Context) {
		var intent core.TaskIntent
		if err := c.ShouldBindJSON(&intent); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid intent payload: " + err.Error()})
			return
		}
		res := deps.Dispatcher.ProcessIntent(c.Request.Context(), &intent)
		c.JSON(http.StatusOK, res)
	})
	api.GET("/adapters", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"adapters": deps.Registry.AllMetadata()})
	})
}
