package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/toolbridge/toolbridge/engine/core"
	"github.com/toolbridge/toolbridge/engine/webhook"
)

// registerWebhooks mounts the provider ingress plus the renewal trigger.
// Responses follow whatever the verified pipeline produced, including
// provider handshake headers.
func registerWebhooks(api *gin.RouterGroup, deps *Deps) {
	// The refresh hook has its own key so the provider-facing platform can
	// call it without holding cron credentials.
	api.POST("/webhooks/refresh",
		tokenAuth(headerAPIKey, deps.Config.Auth.WebhookRefreshAPIKey),
		func(c *gin.Context) {
			renewed := deps.Subscriptions.RenewExpiring(c.Request.Context())
			c.JSON(http.StatusOK, gin.H{"renewed": renewed})
		})

	api.POST("/webhooks/:tool", func(c *gin.Context) {
		res, err := deps.Webhooks.Process(c.Request.Context(), c.Param("tool"), c.Request)
		switch {
		case errors.Is(err, webhook.ErrUnknownTool):
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown tool"})
			return
		case errors.Is(err, webhook.ErrUnauthorized):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "signature verification failed"})
			return
		case errors.Is(err, webhook.ErrBadRequest):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		for k, v := range res.Header {
			c.Header(k, v)
		}
		switch payload := res.Payload.(type) {
		case nil:
			c.Status(res.Status)
		case string:
			c.String(res.Status, payload)
		default:
			c.JSON(res.Status, payload)
		}
	})
}

func registerSubscriptions(api *gin.RouterGroup, deps *Deps) {
	api.POST("/subscriptions", func(c *gin.Context) {
		var sub webhook.Subscription
		if err := c.ShouldBindJSON(&sub); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid subscription payload: " + err.Error()})
			return
		}
		stored, err := deps.Subscriptions.Create(c.Request.Context(), &sub)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, stored)
	})

	api.GET("/subscriptions", func(c *gin.Context) {
		userID := c.Query("userId")
		if userID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "userId is required"})
			return
		}
		list, err := deps.Subscriptions.ListByUser(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"subscriptions": list})
	})

	api.DELETE("/subscriptions/:id", func(c *gin.Context) {
		sub, err := deps.Subscriptions.Get(c.Request.Context(), core.ID(c.Param("id")))
		switch {
		case errors.Is(err, webhook.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "subscription not found"})
			return
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if err := deps.Subscriptions.Cancel(c.Request.Context(), sub); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	})
}
