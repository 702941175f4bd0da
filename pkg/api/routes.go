package api

import (
	"net/http"

	"github.com/ethpandaops/runkeeper/pkg/config"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// buildRouter constructs the chi router with all routes and middleware.
func (s *server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chimw.Recoverer)
	r.Use(s.requestLogger)
	r.Use(s.corsMiddleware())

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)

			if s.cfg.Server.RateLimit.Enabled {
				r.Use(s.rateLimitMiddleware(
					s.cfg.Server.RateLimit.Authenticated,
				))
			}

			r.Get("/me", s.handleMe)

			r.Get("/projects", s.handleListProjects)
			r.With(s.requireRole(config.RoleAdmin)).
				Post("/projects", s.handleCreateProject)

			r.Route("/projects/{projectID}", func(r chi.Router) {
				r.Get("/test-cases", s.handleListTestCases)

				// Catalog management.
				r.Group(func(r chi.Router) {
					r.Use(s.requireRole(config.RoleAdmin))

					r.Post("/test-cases", s.handleCreateTestCase)
					r.Post("/suites", s.handleCreateSuite)
					r.Post("/modules", s.handleCreateModule)
				})

				r.Get("/runs", s.handleListRuns)
				r.Post("/runs", s.handleCreateRun)

				r.Route("/runs/{runID}", func(r chi.Router) {
					r.Get("/", s.handleGetRun)
					r.Delete("/", s.handleDeleteRun)

					// start, complete, reopen, cancel.
					r.Post("/{event}", s.handleRunEvent)

					r.Get("/stats", s.handleRunStats)
					r.Get("/results", s.handleListResults)
					r.Put("/results/{testCaseID}", s.handleRecordResult)

					r.Post("/test-cases", s.handleAddTestCases)
					r.Put("/test-cases/{testCaseID}", s.handleAddPlaceholder)
					r.Delete("/test-cases/{testCaseID}", s.handleRemoveTestCase)

					r.Post("/digest", s.handleSendDigest)
				})

				r.Group(func(r chi.Router) {
					if s.cfg.Server.RateLimit.Enabled {
						r.Use(s.rateLimitMiddleware(
							s.cfg.Server.RateLimit.Import,
						))
					}

					r.Post("/reports", s.handleImportReport)
				})
			})

			r.With(s.requireRole(config.RoleAdmin)).
				Get("/admin/users", s.handleListUsers)
		})
	})

	return r
}

// corsMiddleware returns a CORS handler configured from the API config.
func (s *server) corsMiddleware() func(http.Handler) http.Handler {
	opts := cors.Options{
		AllowedMethods:   []string{"GET", "HEAD", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           300,
	}

	origins := s.cfg.Server.CORSOrigins

	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		// Reflect the requesting origin so credentials work from any origin.
		opts.AllowOriginFunc = func(_ *http.Request, _ string) bool {
			return true
		}
	} else {
		opts.AllowedOrigins = origins
	}

	return cors.Handler(opts)
}
