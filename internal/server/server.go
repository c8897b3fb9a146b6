package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"dataloom/internal/chat"
	"dataloom/internal/config"
	"dataloom/internal/recordstore"
	"dataloom/internal/secrets"
	"dataloom/internal/session"
	"dataloom/internal/storage"
	"dataloom/internal/workspace"
)

// SchemaGenerator is the slice of the model client the schema endpoint needs.
type SchemaGenerator interface {
	GenerateSchema(ctx context.Context, description string) (workspace.Schema, error)
}

type Options struct {
	Logger   zerolog.Logger
	HTTP     config.HTTPConfig
	DB       *storage.Store
	Machine  *chat.Machine
	Schemas  SchemaGenerator
	Resolver chat.StoreResolver
	Dedupe   *session.MessageDeduplicator
	Views    *session.ViewStore
	Keeper   *secrets.Keeper
}

type Server struct {
	log      zerolog.Logger
	cfg      config.HTTPConfig
	db       *storage.Store
	machine  *chat.Machine
	schemas  SchemaGenerator
	resolver chat.StoreResolver
	dedupe   *session.MessageDeduplicator
	views    *session.ViewStore
	keeper   *secrets.Keeper
	engine   *gin.Engine
}

func New(opts Options) *Server {
	s := &Server{
		log:      opts.Logger,
		cfg:      opts.HTTP,
		db:       opts.DB,
		machine:  opts.Machine,
		schemas:  opts.Schemas,
		resolver: opts.Resolver,
		dedupe:   opts.Dedupe,
		views:    opts.Views,
		keeper:   opts.Keeper,
	}
	s.engine = s.buildRouter()
	return s
}

func (s *Server) buildRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	healthPath := s.cfg.HealthPath
	if healthPath == "" {
		healthPath = "/healthz"
	}
	metricsPath := s.cfg.MetricsPath
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	r.GET(healthPath, s.handleHealth)
	r.GET(metricsPath, gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	{
		api.POST("/workspaces", s.handleCreateWorkspace)
		api.GET("/workspaces/:id", s.handleGetWorkspace)
		api.PUT("/workspaces/:id/view", s.handleSetView)
		api.POST("/workspaces/:id/schema/generate", s.handleGenerateSchema)

		api.GET("/workspaces/:id/records", s.handleListRecords)
		api.POST("/workspaces/:id/records", s.handleCreateRecord)
		api.PATCH("/workspaces/:id/records/:rid", s.handleUpdateRecord)
		api.DELETE("/workspaces/:id/records/:rid", s.handleDeleteRecord)

		api.POST("/workspaces/:id/sessions", s.handleCreateSession)
		api.GET("/workspaces/:id/sessions/:sid/messages", s.handleListMessages)
		api.POST("/workspaces/:id/sessions/:sid/messages", s.handleSubmitMessage)
		api.POST("/workspaces/:id/sessions/:sid/confirm", s.handleConfirm)
		api.POST("/workspaces/:id/sessions/:sid/cancel", s.handleCancel)
	}
	return r
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:        s.cfg.ListenAddr,
		Handler:     s.engine,
		ReadTimeout: s.cfg.ReadTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(c *gin.Context) {
	if err := s.db.DB().PingContext(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// NewStoreResolver resolves a workspace to its record store backend,
// unsealing the stored API key for hosted workspaces.
func NewStoreResolver(db *storage.Store, keeper *secrets.Keeper, httpClient *http.Client) chat.StoreResolver {
	return chat.StoreResolverFunc(func(ctx context.Context, ws storage.Workspace) (recordstore.Store, error) {
		opts := recordstore.BuildOptions{
			Kind:        ws.StoreKind,
			BaseURL:     ws.StoreBaseURL,
			Table:       ws.StoreTable,
			HTTPClient:  httpClient,
			DB:          db,
			WorkspaceID: ws.ID,
		}
		if ws.StoreKind == recordstore.KindPostgrest && ws.EncStoreKey != nil && keeper != nil {
			apiKey, err := keeper.Open(*ws.EncStoreKey)
			if err != nil {
				return nil, err
			}
			opts.APIKey = apiKey
		}
		return recordstore.Build(opts)
	})
}
