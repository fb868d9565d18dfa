// Package server provides the HTTP API for Scribe.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hyperjump/scribe/internal/config"
	"github.com/hyperjump/scribe/internal/orchestrator"
	"github.com/hyperjump/scribe/internal/search"
	"github.com/hyperjump/scribe/internal/storage"
)

// Searcher is the document search index.
type Searcher interface {
	Search(ctx context.Context, q search.Query) ([]search.Hit, error)
	Suggest(text string) (*search.Suggestion, error)
	DocCount() (uint64, error)
}

// Server is the HTTP server for the Scribe API.
type Server struct {
	orch     *orchestrator.Orchestrator
	storage  storage.Storage
	search   Searcher
	gatherer prometheus.Gatherer
	config   *config.Config
	logger   *zap.Logger
	server   *http.Server
}

// NewServer creates a server with the given dependencies. search and gatherer
// may be nil, which disables their endpoints.
func NewServer(
	orch *orchestrator.Orchestrator,
	store storage.Storage,
	searcher Searcher,
	gatherer prometheus.Gatherer,
	cfg *config.Config,
	logger *zap.Logger,
) *Server {
	return &Server{
		orch:     orch,
		storage:  store,
		search:   searcher,
		gatherer: gatherer,
		config:   cfg,
		logger:   logger,
	}
}

// Handler returns the router with every route mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	// Streams stay open past the request timeout.
	r.Get("/api/v1/conversations/{id}/events", s.handleEvents)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		r.Use(middleware.Compress(5))

		r.Get("/api/v1/status", s.handleStatus)
		r.Get("/api/v1/templates", s.handleListTemplates)
		r.Get("/api/v1/templates/{type}", s.handleGetTemplate)

		r.Route("/api/v1/conversations", func(r chi.Router) {
			r.Post("/", s.handleCreateConversation)
			r.Get("/", s.handleListConversations)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetConversation)
				r.Get("/answers", s.handleListAnswers)
				r.Post("/answers", s.handleAnswer)
				r.Post("/pause", s.handlePause)
				r.Post("/resume", s.handleResume)
				r.Post("/complete", s.handleComplete)
				r.Get("/documents", s.handleListDocuments)
				r.Post("/documents/{type}/regenerate", s.handleRegenerate)
				r.Post("/documents/{type}/review", s.handleReview)
			})
		})

		r.Get("/api/v1/documents/{id}", s.handleGetDocument)
		r.Get("/api/v1/documents/{id}/versions", s.handleListVersions)
		r.Get("/api/v1/documents/{id}/versions/{version}", s.handleGetDocument)
		r.Get("/api/v1/search", s.handleSearch)
	})
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
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
