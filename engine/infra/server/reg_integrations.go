package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/toolbridge/toolbridge/engine/integration"
)

func registerIntegrations(api *gin.RouterGroup, deps *Deps) {
	api.GET("/integrations", func(c *gin.Context) {
		userID := c.Query("userId")
		if userID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "userId is required"})
			return
		}
		list, err := deps.Integrations.List(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		redacted := make([]*integration.Integration, 0, len(list))
		for _, in := range list {
			redacted = append(redacted, in.Redacted())
		}
		c.JSON(http.StatusOK, gin.H{"integrations": redacted})
	})

	api.POST("/integrations", func(c *gin.Context) {
		var in integration.Integration
		if err := c.ShouldBindJSON(&in); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid integration payload: " + err.Error()})
			return
		}
		stored, err := deps.Integrations.Store(c.Request.Context(), &in)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, stored.Redacted())
	})

	api.GET("/integrations/:tool/status", func(c *gin.Context) {
		userID := c.Query("userId")
		if userID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "userId is required"})
			return
		}
		status := deps.Integrations.IsConnected(c.Request.Context(), userID, c.Param("tool"))
		c.JSON(http.StatusOK, status)
	})

	api.DELETE("/integrations/:tool", func(c *gin.Context) {
		userID := c.Query("userId")
		if userID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "userId is required"})
			return
		}
		err := deps.Integrations.Disconnect(c.Request.Context(), userID, c.Param("tool"))
		switch {
		case errors.Is(err, integration.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "integration not found"})
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		default:
			c.Status(http.StatusNoContent)
		}
	})
}
