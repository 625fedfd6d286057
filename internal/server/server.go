package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/offgrid-updates/update-server/internal/config"
	"github.com/offgrid-updates/update-server/internal/importer"
	"github.com/offgrid-updates/update-server/internal/metadata"
	"github.com/offgrid-updates/update-server/internal/storage"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

type Server struct {
	router      chi.Router
	log         *logrus.Logger
	store       storage.Store
	resolver    *metadata.Resolver
	importer    *importer.Importer
	ghSemaphore *semaphore.Weighted
	config      *config.ServerConfig
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) notFoundHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSONError(w, r, http.StatusNotFound, fmt.Errorf("not found"))
}

func (s *Server) methodNotAllowedHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSONError(w, r, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
}

func (s *Server) infoHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]string{
		"service": "plugin update server",
		"stage":   s.config.Stage,
		"version": s.config.Version,
	})
}

func New(log *logrus.Logger, store storage.Store, imp *importer.Importer, serverCfg *config.ServerConfig) *Server {
	router := chi.NewRouter()
	server := &Server{
		router:      router,
		log:         log,
		store:       store,
		resolver:    metadata.NewResolver(log, store, serverCfg.ProfileBaseURL),
		importer:    imp,
		ghSemaphore: semaphore.NewWeighted(1),
		config:      serverCfg,
	}
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(server.logMiddleware)
	router.Use(server.recoverMiddleware)

	router.Use(middleware.Timeout(5 * time.Minute))

	router.NotFound(server.notFoundHandler)
	router.MethodNotAllowed(server.methodNotAllowedHandler)

	// update metadata wire protocol
	router.Get("/", server.getUpdateMetadata)
	router.Get("/update", server.getUpdateMetadata)

	router.Get("/releases/{file}", server.downloadHandler(storage.ReleasesDir))
	router.Get("/assets/{file}", server.downloadHandler(storage.AssetsDir))

	router.Get("/_info", server.infoHandler)

	router.Route("/api/v1/plugins", func(r chi.Router) {
		r.Get("/{stub}/versions", server.listVersions)

		// routes to import releases from GitHub
		r.With(server.authMiddleware).Group(func(r chi.Router) {
			r.Put("/{stub}", server.importPlugin)
			r.Put("/{stub}/versions/{version}", server.importPlugin)
		})
	})

	return server
}
