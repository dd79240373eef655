package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/toolbridge/toolbridge/engine/contextmap"
	"github.com/toolbridge/toolbridge/engine/core"
)

func mappingError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, contextmap.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "mapping not found"})
	case errors.Is(err, contextmap.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "mapping already exists"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func registerMappings(api *gin.RouterGroup, deps *Deps) {
	// POST is an upsert on the (agentId, tool, contextKey) natural key so
	// callers can re-sync without tracking mapping ids.
	api.POST("/context-mappings", func(c *gin.Context) {
		var m contextmap.Mapping
		if err := c.ShouldBindJSON(&m); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid mapping payload: " + err.Error()})
			return
		}
		stored, err := deps.Mappings.UpsertMapping(c.Request.Context(), &m)
		if err != nil {
			mappingError(c, err)
			return
		}
		c.JSON(http.StatusOK, stored)
	})

	api.GET("/context-mappings", func(c *gin.Context) {
		agentID := c.Query("agentId")
		if agentID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "agentId is required"})
			return
		}
		list, err := deps.Mappings.ListMappings(c.Request.Context(), agentID, c.Query("tool"))
		if err != nil {
			mappingError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"mappings": list})
	})

	// Lookup translates in either direction depending on which of contextKey
	// or externalId is supplied.
	api.GET("/context-mappings/lookup", func(c *gin.Context) {
		agentID, tool := c.Query("agentId"), c.Query("tool")
		contextKey, externalID := c.Query("contextKey"), c.Query("externalId")
		if agentID == "" || tool == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "agentId and tool are required"})
			return
		}
		switch {
		case contextKey != "":
			id, err := deps.Mappings.GetExternalID(c.Request.Context(), agentID, tool, contextKey)
			if err != nil {
				mappingError(c, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"externalId": id})
		case externalID != "":
			key, err := deps.Mappings.GetContextKey(c.Request.Context(), agentID, tool, externalID)
			if err != nil {
				mappingError(c, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"contextKey": key})
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "contextKey or externalId is required"})
		}
	})

	api.PUT("/context-mappings/:id", func(c *gin.Context) {
		var patch contextmap.Patch
		if err := c.ShouldBindJSON(&patch); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid patch payload: " + err.Error()})
			return
		}
		updated, err := deps.Mappings.UpdateMapping(c.Request.Context(), core.ID(c.Param("id")), &patch)
		if err != nil {
			mappingError(c, err)
			return
		}
		c.JSON(http.StatusOK, updated)
	})

	api.DELETE("/context-mappings", func(c *gin.Context) {
		id := c.Query("id")
		if id == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "id is required"})
			return
		}
		if err := deps.Mappings.DeleteMapping(c.Request.Context(), core.ID(id)); err != nil {
			mappingError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	api.POST("/context-mappings/bulk", func(c *gin.Context) {
		var body struct {
			Mappings []*contextmap.Mapping `json:"mappings"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid bulk payload: " + err.Error()})
			return
		}
		n, err := deps.Mappings.BulkUpsertMappings(c.Request.Context(), body.Mappings)
		if err != nil {
			mappingError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"upserted": n})
	})

	api.DELETE("/context-mappings/bulk", func(c *gin.Context) {
		var body struct {
			AgentID     string   `json:"agentId"`
			Tool        string   `json:"tool"`
			ContextKeys []string `json:"contextKeys"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid bulk payload: " + err.Error()})
			return
		}
		n, err := deps.Mappings.BulkDeleteMappings(c.Request.Context(), body.AgentID, body.Tool, body.ContextKeys)
		if err != nil {
			mappingError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"deleted": n})
	})
}
