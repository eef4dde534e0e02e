// Package api wires the chi router and HTTP server for the haulfsd
// upload/download/maintenance surface, using the same middleware stack
// and graceful-shutdown pattern throughout.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haulfs/haulfs/internal/api/handlers"
	"github.com/haulfs/haulfs/internal/api/middleware"
	"github.com/haulfs/haulfs/internal/logger"
	"github.com/haulfs/haulfs/pkg/download"
	"github.com/haulfs/haulfs/pkg/maintenance"
	"github.com/haulfs/haulfs/pkg/metastore"
	"github.com/haulfs/haulfs/pkg/metrics"
	"github.com/haulfs/haulfs/pkg/service"
)

// Deps bundles the collaborators NewRouter wires into handlers.
type Deps struct {
	Service     *service.Service
	Assembler   *download.Assembler
	Maintenance *maintenance.Job
	Meta        metastore.Store
	Metrics     *metrics.Metrics
	Auth        *middleware.Authenticator
}

// NewRouter builds the full chi.Router for haulfsd.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(30 * time.Second))

	healthHandler := handlers.NewHealthHandler(deps.Meta)
	r.Get("/health", healthHandler.Liveness)
	r.Get("/health/ready", healthHandler.Readiness)
	r.Get("/version", healthHandler.Version)

	if deps.Metrics != nil {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/health", http.StatusTemporaryRedirect)
	})

	uploadsHandler := handlers.NewUploadsHandler(deps.Service)
	downloadHandler := handlers.NewDownloadHandler(deps.Assembler, deps.Metrics)
	adminHandler := handlers.NewAdminHandler(deps.Maintenance)

	r.Route("/v1", func(r chi.Router) {
		r.Use(deps.Auth.RequireAuth)

		r.Route("/uploads", func(r chi.Router) {
			r.Post("/", uploadsHandler.Init)
			r.Route("/{id}", func(r chi.Router) {
				r.Put("/chunks/{index}", uploadsHandler.AcceptChunk)
				r.Get("/missing-chunks", uploadsHandler.MissingChunks)
				r.Post("/complete", uploadsHandler.Complete)
				r.Delete("/", uploadsHandler.Abort)
				r.Get("/download", downloadHandler.Download)
			})
		})
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(deps.Auth.RequireAuth)
		r.Use(middleware.RequireAdmin)
		r.Post("/cleanup", adminHandler.Cleanup)
	})

	return r
}

// requestLogger logs request start at DEBUG and completion at INFO,
// mirroring pkg/api/router.go's custom requestLogger middleware.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := chimiddleware.GetReqID(r.Context())

		logger.Debug("API request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logger.Info("API request completed",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
		)
	})
}
