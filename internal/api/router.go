package api

import (
	"io/fs"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"natsvisor/internal/handlers"
	"natsvisor/internal/middleware"
	"natsvisor/internal/service"
)

type Router struct {
	*mux.Router
}

func NewRouter(l *service.Launcher, runs handlers.RunLister, templatesFS, staticFS fs.FS, logger zerolog.Logger) (*Router, error) {
	r := mux.NewRouter()

	tmplHandler, err := handlers.NewTemplateHandler(templatesFS, l, logger)
	if err != nil {
		return nil, err
	}

	srvHandler := handlers.NewServerHandler(l, runs, logger)

	// Health check endpoints
	r.HandleFunc("/health", handlers.HealthCheck).Methods(http.MethodGet)
	r.HandleFunc("/ready", handlers.ReadyCheck(l.IsStaged)).Methods(http.MethodGet)

	// Control page
	r.HandleFunc("/", tmplHandler.ServeTemplate("index", "Server")).Methods(http.MethodGet)

	staticHandler := http.FileServer(http.FS(staticFS))
	r.PathPrefix("/static/").Handler(http.StripPrefix("/static/", staticHandler))

	// API routes
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/server", srvHandler.GetStatus).Methods(http.MethodGet)
	api.HandleFunc("/server/stage", srvHandler.Stage).Methods(http.MethodPost)
	api.HandleFunc("/server/start", srvHandler.Start).Methods(http.MethodPost)
	api.HandleFunc("/server/stop", srvHandler.Stop).Methods(http.MethodPost)
	api.HandleFunc("/server/kill", srvHandler.KillPID).Methods(http.MethodPost)
	api.HandleFunc("/presets", srvHandler.GetPresets).Methods(http.MethodGet)
	api.HandleFunc("/logs", srvHandler.GetLogs).Methods(http.MethodGet)
	api.HandleFunc("/runs", srvHandler.GetRuns).Methods(http.MethodGet)
	api.HandleFunc("/runs/{id}", srvHandler.GetRun).Methods(http.MethodGet)

	r.Use(middleware.Recovery(logger))
	r.Use(middleware.Logging(logger))

	return &Router{Router: r}, nil
}
