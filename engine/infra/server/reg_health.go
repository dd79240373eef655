package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const healthCheckTimeout = time.Second

func registerHealth(r *gin.Engine, deps *Deps) {
	r.GET("/healthz", func(c *gin.Context) {
		checks := make(map[string]string, len(deps.Health))
		healthy := true
		for _, hc := range deps.Health {
			ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
			err := hc.Check(ctx)
			cancel()
			if err != nil {
				checks[hc.Name] = err.Error()
				healthy = false
				continue
			}
			checks[hc.Name] = "ok"
		}
		status := http.StatusOK
		if !healthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"healthy": healthy, "checks": checks})
	})
}
