package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/toolbridge/toolbridge/engine/core"
	"github.com/toolbridge/toolbridge/engine/scheduler"
)

const defaultCleanupAge = 30 * 24 * time.Hour

func registerTasks(api *gin.RouterGroup, deps *Deps) {
	api.GET("/tasks", func(c *gin.Context) {
		userID := c.Query("userId")
		if userID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "userId is required"})
			return
		}
		tasks, err := deps.Scheduler.ListTasks(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"tasks": tasks})
	})

	api.GET("/tasks/:id", func(c *gin.Context) {
		t, err := deps.Scheduler.GetTask(c.Request.Context(), core.ID(c.Param("id")))
		switch {
		case errors.Is(err, scheduler.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusOK, t)
		}
	})

	api.DELETE("/tasks/:id", func(c *gin.Context) {
		err := deps.Scheduler.CancelTask(c.Request.Context(), core.ID(c.Param("id")))
		switch {
		case errors.Is(err, scheduler.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		case errors.Is(err, scheduler.ErrInvalidTransition):
			c.JSON(http.StatusConflict, gin.H{"error": "task is not cancellable"})
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		default:
			c.Status(http.StatusNoContent)
		}
	})

	api.POST("/tasks/:id/retry", func(c *gin.Context) {
		t, err := deps.Scheduler.RetryTask(c.Request.Context(), core.ID(c.Param("id")))
		switch {
		case errors.Is(err, scheduler.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		case errors.Is(err, scheduler.ErrInvalidTransition):
			c.JSON(http.StatusConflict, gin.H{"error": "only failed tasks can be retried"})
		case errors.Is(err, scheduler.ErrAttemptsExhausted):
			c.JSON(http.StatusConflict, gin.H{"error": "retry attempts exhausted"})
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusOK, t)
		}
	})

	// DELETE /tasks prunes terminal rows older than the given duration.
	api.DELETE("/tasks", func(c *gin.Context) {
		age := defaultCleanupAge
		if raw := c.Query("olderThan"); raw != "" {
			parsed, err := time.ParseDuration(raw)
			if err != nil || parsed <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "olderThan must be a positive duration"})
				return
			}
			age = parsed
		}
		deleted, err := deps.Scheduler.CleanupCompletedTasks(c.Request.Context(), age)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"deleted": deleted})
	})
}
