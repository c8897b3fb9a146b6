package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"dataloom/internal/recordstore"
	"dataloom/internal/storage"
	"dataloom/internal/workspace"
)

func (s *Server) workspaceStore(c *gin.Context) (storage.Workspace, workspace.Schema, recordstore.Store, bool) {
	ws, err := s.db.GetWorkspace(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "workspace not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return storage.Workspace{}, workspace.Schema{}, nil, false
	}

	var schema workspace.Schema
	if err := json.Unmarshal([]byte(ws.SchemaJSON), &schema); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return storage.Workspace{}, workspace.Schema{}, nil, false
	}

	store, err := s.resolver.Resolve(c.Request.Context(), ws)
	if err != nil {
		s.log.Error().Err(err).Str("workspace_id", ws.ID).Msg("record store unavailable")
		c.JSON(http.StatusBadGateway, gin.H{"error": "record store unavailable"})
		return storage.Workspace{}, workspace.Schema{}, nil, false
	}
	return ws, schema, store, true
}

func (s *Server) handleListRecords(c *gin.Context) {
	_, _, store, ok := s.workspaceStore(c)
	if !ok {
		return
	}
	records, err := store.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	// A session's confirmed search narrows what that session sees.
	if sid := c.Query("session_id"); sid != "" && s.views != nil {
		state, err := s.views.Get(c.Request.Context(), sid)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		records = workspace.ApplyFilters(records, state.Filters)
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

type recordFieldsRequest struct {
	Fields map[string]any `json:"fields" binding:"required"`
}

func (s *Server) handleCreateRecord(c *gin.Context) {
	var req recordFieldsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	_, schema, store, ok := s.workspaceStore(c)
	if !ok {
		return
	}
	if err := workspace.ValidateFields(schema, req.Fields); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rec, err := store.Create(c.Request.Context(), req.Fields)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"record": rec})
}

func (s *Server) handleUpdateRecord(c *gin.Context) {
	var req recordFieldsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	_, schema, store, ok := s.workspaceStore(c)
	if !ok {
		return
	}
	if err := workspace.ValidateFields(schema, req.Fields); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rec, err := store.Update(c.Request.Context(), c.Param("rid"), req.Fields)
	if err != nil {
		if errors.Is(err, recordstore.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "record not found"})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"record": rec})
}

func (s *Server) handleDeleteRecord(c *gin.Context) {
	_, _, store, ok := s.workspaceStore(c)
	if !ok {
		return
	}
	if err := store.Delete(c.Request.Context(), c.Param("rid")); err != nil {
		if errors.Is(err, recordstore.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "record not found"})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}
