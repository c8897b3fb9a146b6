package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"dataloom/internal/storage"
	"dataloom/internal/workspace"
)

type createWorkspaceRequest struct {
	Name   string            `json:"name" binding:"required"`
	Schema *workspace.Schema `json:"schema,omitempty"`
	Store  *storeConfig      `json:"store,omitempty"`
}

type storeConfig struct {
	Kind    string `json:"kind"`
	BaseURL string `json:"base_url"`
	Table   string `json:"table"`
	APIKey  string `json:"api_key"`
}

type workspaceResponse struct {
	ID        string               `json:"id"`
	Name      string               `json:"name"`
	Schema    workspace.Schema     `json:"schema"`
	View      workspace.ViewConfig `json:"view"`
	StoreKind string               `json:"store_kind"`
}

func (s *Server) handleCreateWorkspace(c *gin.Context) {
	var req createWorkspaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ws := storage.Workspace{Name: req.Name}
	if req.Schema != nil {
		if err := req.Schema.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		schemaJSON, err := json.Marshal(req.Schema)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		ws.SchemaJSON = string(schemaJSON)
	}
	if req.Store != nil {
		ws.StoreKind = req.Store.Kind
		ws.StoreBaseURL = req.Store.BaseURL
		ws.StoreTable = req.Store.Table
		if req.Store.APIKey != "" {
			if s.keeper == nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "credential sealing is not configured"})
				return
			}
			sealed, err := s.keeper.Seal(req.Store.APIKey)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			ws.EncStoreKey = &sealed
		}
	}

	created, err := s.db.CreateWorkspace(c.Request.Context(), ws)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, toWorkspaceResponse(created))
}

func (s *Server) handleGetWorkspace(c *gin.Context) {
	ws, err := s.db.GetWorkspace(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "workspace not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, toWorkspaceResponse(ws))
}

func (s *Server) handleSetView(c *gin.Context) {
	var cfg workspace.ViewConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ws, err := s.db.GetWorkspace(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "workspace not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	var schema workspace.Schema
	if err := json.Unmarshal([]byte(ws.SchemaJSON), &schema); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := cfg.Validate(schema); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	viewJSON, err := json.Marshal(cfg)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := s.db.SetWorkspaceView(c.Request.Context(), ws.ID, string(viewJSON)); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"view": cfg})
}

type generateSchemaRequest struct {
	Description string `json:"description" binding:"required"`
}

func (s *Server) handleGenerateSchema(c *gin.Context) {
	var req generateSchemaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ws, err := s.db.GetWorkspace(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "workspace not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	schema, err := s.schemas.GenerateSchema(c.Request.Context(), req.Description)
	if err != nil {
		s.log.Error().Err(err).Str("workspace_id", ws.ID).Msg("schema generation failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "schema generation failed"})
		return
	}

	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := s.db.SetWorkspaceSchema(c.Request.Context(), ws.ID, string(schemaJSON)); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"schema": schema})
}

func toWorkspaceResponse(ws storage.Workspace) workspaceResponse {
	var schema workspace.Schema
	_ = json.Unmarshal([]byte(ws.SchemaJSON), &schema)
	view := workspace.ViewConfig{Kind: workspace.ViewTable}
	if err := json.Unmarshal([]byte(ws.ViewJSON), &view); err != nil || view.Kind == "" {
		view = workspace.ViewConfig{Kind: workspace.ViewTable}
	}
	kind := ws.StoreKind
	if kind == "" {
		kind = "local"
	}
	return workspaceResponse{
		ID:        ws.ID,
		Name:      ws.Name,
		Schema:    schema,
		View:      view,
		StoreKind: kind,
	}
}
