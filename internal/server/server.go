// Package server provides the HTTP API for Chaja.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/bunsilmul/chaja/internal/config"
	"github.com/bunsilmul/chaja/internal/embedding"
	"github.com/bunsilmul/chaja/internal/index"
	"github.com/bunsilmul/chaja/internal/ingest"
	"github.com/bunsilmul/chaja/internal/search"
	"github.com/bunsilmul/chaja/internal/storage"
)

// Server is the HTTP server for the Chaja API.
type Server struct {
	engine   *search.Engine
	pipeline *ingest.Pipeline
	store    *index.Store
	items    *storage.ItemStore
	gateway  embedding.Gateway
	config   *config.Config
	logger   *zap.Logger
	server   *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(
	engine *search.Engine,
	pipeline *ingest.Pipeline,
	store *index.Store,
	items *storage.ItemStore,
	gateway embedding.Gateway,
	cfg *config.Config,
	logger *zap.Logger,
) *Server {
	return &Server{
		engine:   engine,
		pipeline: pipeline,
		store:    store,
		items:    items,
		gateway:  gateway,
		config:   cfg,
		logger:   logger,
	}
}

// Router builds the chi router with all routes and middleware.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Post("/api/v1/items", s.handleRegister)
	r.Post("/api/v1/items/batch", s.handleRegisterBatch)
	r.Delete("/api/v1/items/{id}", s.handleDelete)
	r.Post("/api/v1/search", s.handleSearch)
	r.Post("/api/v1/search/image", s.handleSearchImage)
	r.Post("/api/v1/admin/sync", s.handleSync)
	r.Get("/api/v1/status", s.handleStatus)
	r.Get("/health", s.handleHealth)
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}
	s.logger.Info("starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
