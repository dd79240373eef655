package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/toolbridge/toolbridge/engine/core"
	"github.com/toolbridge/toolbridge/engine/errorlog"
)

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func registerErrors(api *gin.RouterGroup, deps *Deps) {
	api.GET("/errors", func(c *gin.Context) {
		agentID := c.Query("agentId")
		if agentID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "agentId is required"})
			return
		}
		entries, err := deps.Errors.GetAgentErrors(c.Request.Context(), agentID, intQuery(c, "limit", 50))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"errors": entries})
	})

	api.GET("/errors/stats", func(c *gin.Context) {
		stats, err := deps.Errors.GetErrorStatsByTool(c.Request.Context(), intQuery(c, "days", 7))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"stats": stats})
	})

	api.GET("/errors/trends", func(c *gin.Context) {
		trends, err := deps.Errors.GetErrorTrends(c.Request.Context(), intQuery(c, "days", 7), c.Query("tool"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"trends": trends})
	})

	api.GET("/errors/codes", func(c *gin.Context) {
		codes, err := deps.Errors.GetMostFrequentErrorCodes(c.Request.Context(), intQuery(c, "limit", 10), intQuery(c, "days", 7))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"codes": codes})
	})

	api.POST("/errors/:id/resolve", func(c *gin.Context) {
		err := deps.Errors.ResolveError(c.Request.Context(), core.ID(c.Param("id")))
		switch {
		case errors.Is(err, errorlog.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "error log entry not found"})
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		default:
			c.Status(http.StatusNoContent)
		}
	})

	api.POST("/errors/resolve", func(c *gin.Context) {
		var body struct {
			IDs []core.ID `json:"ids"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload: " + err.Error()})
			return
		}
		n, err := deps.Errors.BulkResolveErrors(c.Request.Context(), body.IDs)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"resolved": n})
	})

	api.GET("/fallbacks", func(c *gin.Context) {
		list, err := deps.Errors.ListFallbacks(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"fallbacks": list})
	})

	api.POST("/fallbacks", func(c *gin.Context) {
		var body errorlog.FallbackMessage
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload: " + err.Error()})
			return
		}
		if body.Tool == "" || body.Message == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "tool and message are required"})
			return
		}
		if err := deps.Errors.SetFallbackMessage(c.Request.Context(), body.Tool, body.AgentID, body.Message); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	})
}
