package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"

	"github.com/imalyk/go-file-converter/pkg/config"
	"github.com/imalyk/go-file-converter/pkg/provider"
	"github.com/imalyk/go-file-converter/pkg/store"
)

const serviceName = "go-file-converter"

type server struct {
	cfg      *config.Config
	logger   *slog.Logger
	provider provider.Provider
	store    store.Store
	// archive is nil unless archiving is enabled and the store can queue jobs
	archive store.ArchiveQueue
	started time.Time
}

func newServer(cfg *config.Config, logger *slog.Logger, p provider.Provider, s store.Store) *server {
	srv := &server{
		cfg:      cfg,
		logger:   logger,
		provider: p,
		store:    s,
		started:  time.Now(),
	}
	if cfg.Archive.Enabled {
		if q, ok := s.(store.ArchiveQueue); ok {
			srv.archive = q
		} else {
			logger.Warn("archive enabled but store cannot queue jobs", "driver", cfg.Store.Driver)
		}
	}
	return srv
}

func (s *server) routes() http.Handler {
	r := mux.NewRouter()
	r.Use(requestID, s.accessLog, s.recoverer, mux.CORSMethodMiddleware(r), cors)

	r.HandleFunc("/api/start-conversion", s.startConversion).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/api/conversion-status/{id}", s.conversionStatus).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/api/conversions/{id}", s.conversionRecord).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/api/health", s.health).Methods(http.MethodGet)
	r.HandleFunc("/health", s.healthz).Methods(http.MethodGet)

	if dir := s.cfg.Server.StaticDir; dir != "" {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			r.PathPrefix("/").Handler(spaHandler{dir: dir}).Methods(http.MethodGet, http.MethodHead)
		} else {
			s.logger.Info("static directory not found, serving API only", "dir", dir)
		}
	}
	return r
}

func (s *server) keyConfigured() bool {
	return s.cfg.Provider.Active().Key != ""
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
