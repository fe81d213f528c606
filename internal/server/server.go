// Package server exposes the series trees, their data and the cache store over HTTP.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"github.com/aristath/macroecon/internal/cache"
	"github.com/aristath/macroecon/internal/catalog"
	"github.com/aristath/macroecon/internal/clients/bea"
	"github.com/aristath/macroecon/internal/clients/fred"
	"github.com/aristath/macroecon/internal/database"
	"github.com/aristath/macroecon/internal/fetch"
	"github.com/aristath/macroecon/internal/hierarchies"
	"github.com/aristath/macroecon/internal/scheduler"
)

// Series responses are memoised for this long.
const (
	memoTTL     = 5 * time.Minute
	memoCleanup = 10 * time.Minute
)

// Config holds server configuration
type Config struct {
	Log       zerolog.Logger
	Store     *cache.Store
	Registry  *hierarchies.Registry
	Catalog   *catalog.Repository // optional; saved trees
	CatalogDB *database.DB        // optional; health check and status stats
	Resolver  *fetch.Resolver
	FRED      *fred.Client // optional; search and series info
	BEA       *bea.Client  // optional; table list
	Jobs      JobLister    // optional; background job status
	Port      int
	DevMode   bool
}

// JobLister reports background job status; *scheduler.Scheduler implements it.
type JobLister interface {
	Status() []scheduler.JobStatus
}

// Server represents the HTTP server
type Server struct {
	router    *chi.Mux
	server    *http.Server
	log       zerolog.Logger
	port      int
	store     *cache.Store
	registry  *hierarchies.Registry
	catalog   *catalog.Repository
	catalogDB *database.DB
	resolver  *fetch.Resolver
	fred      *fred.Client
	bea       *bea.Client
	memo      *gocache.Cache
	system    *SystemHandlers
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		log:       cfg.Log.With().Str("component", "server").Logger(),
		port:      cfg.Port,
		store:     cfg.Store,
		registry:  cfg.Registry,
		catalog:   cfg.Catalog,
		catalogDB: cfg.CatalogDB,
		resolver:  cfg.Resolver,
		fred:      cfg.FRED,
		bea:       cfg.BEA,
		memo:      gocache.New(memoTTL, memoCleanup),
	}
	s.system = NewSystemHandlers(cfg.Log, cfg.Store, cfg.CatalogDB)
	s.system.jobs = cfg.Jobs

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Route("/trees", func(r chi.Router) {
			r.Get("/", s.handleListTrees)
			r.Route("/{tree}", func(r chi.Router) {
				r.Get("/", s.handleGetTree)
				r.Put("/", s.handleSaveTree)
				r.Delete("/", s.handleDeleteTree)
				r.Get("/text", s.handleTreeText)
				r.Get("/nodes/{code}", s.handleGetNode)
				r.Get("/nodes/{code}/series", s.handleNodeSeries)
			})
		})

		r.Get("/transforms", s.handleListTransforms)

		r.Route("/cache", func(r chi.Router) {
			r.Get("/entries", s.handleListEntries)
			r.Delete("/entries/{key}", s.handleInvalidate)
			r.Delete("/", s.handleClearAll)
		})

		r.Route("/fred", func(r chi.Router) {
			r.Get("/search", s.handleFREDSearch)
			r.Get("/series/{id}", s.handleFREDSeriesInfo)
		})
		r.Get("/bea/tables", s.handleBEATables)

		r.Get("/system/status", s.system.HandleSystemStatus)
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Int("port", s.port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
