package main

import (
	"errors"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gorilla/mux"

	"github.com/imalyk/go-file-converter/pkg/job"
	"github.com/imalyk/go-file-converter/pkg/provider"
	"github.com/imalyk/go-file-converter/pkg/store"
)

var formatPattern = regexp.MustCompile(`^[a-z0-9]+$`)

func (s *server) startConversion(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > s.cfg.Server.MaxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "File too large")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "File too large")
			return
		}
		writeError(w, http.StatusBadRequest, "No file")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file")
		return
	}
	defer file.Close()

	if !s.keyConfigured() {
		writeError(w, http.StatusInternalServerError, "API key missing")
		return
	}

	format := strings.ToLower(strings.TrimSpace(r.FormValue("outputformat")))
	if format == "" {
		writeError(w, http.StatusBadRequest, "No output format")
		return
	}
	if !formatPattern.MatchString(format) {
		writeError(w, http.StatusBadRequest, "Invalid output format")
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file")
		return
	}
	filename := filepath.Base(header.Filename)
	contentType := mimetype.Detect(data).String()

	log := loggerFrom(r.Context(), s.logger)
	log.Info("converting", "filename", filename, "size", len(data), "content_type", contentType, "format", format)

	id, err := s.provider.CreateJob(r.Context(), provider.Upload{
		Filename:     filename,
		OutputFormat: format,
		Data:         data,
	})
	if err != nil {
		log.Error("conversion failed", "filename", filename, "error", err)
		if errors.Is(err, provider.ErrMissingKey) {
			writeError(w, http.StatusInternalServerError, "API key missing")
			return
		}
		writeError(w, http.StatusInternalServerError, "Conversion failed")
		return
	}

	now := time.Now().UTC()
	rec := job.Record{
		ID:           id,
		Provider:     s.provider.Name(),
		Filename:     filename,
		OutputFormat: format,
		ContentType:  contentType,
		InputSize:    int64(len(data)),
		Status:       job.StatusWaiting,
		Step:         "wait",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.Create(r.Context(), rec); err != nil {
		// the upstream job exists; status polling still works without the record
		log.Warn("failed to store job record", "job_id", id, "error", err)
	}

	log.Info("job created", "job_id", id)
	writeJSON(w, http.StatusOK, job.StartResponse{ID: id})
}

func (s *server) conversionStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	log := loggerFrom(r.Context(), s.logger).With("job_id", id)

	rep, err := s.provider.JobStatus(r.Context(), id)
	switch {
	case errors.Is(err, provider.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "Job not found")
		return
	case errors.Is(err, provider.ErrMissingKey):
		writeError(w, http.StatusInternalServerError, "API key missing")
		return
	case err != nil:
		log.Error("status check failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Status check failed")
		return
	}
	rep.ID = id
	log.Debug("job status", "status", rep.Status, "step", rep.Step, "percent", rep.StepPercent)

	rec, err := s.store.ApplyReport(r.Context(), rep)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		log.Warn("failed to update job record", "error", err)
	default:
		if rep.Ready() {
			s.queueArchive(r, rec, rep)
		}
	}

	writeJSON(w, http.StatusOK, rep)
}

func (s *server) queueArchive(r *http.Request, rec job.Record, rep job.Report) {
	if s.archive == nil || rec.ArchiveStatus != job.ArchiveNone {
		return
	}
	log := loggerFrom(r.Context(), s.logger).With("job_id", rec.ID)

	pushed, err := s.archive.EnqueueArchive(r.Context(), job.ArchiveMessage{
		JobID:        rec.ID,
		URL:          rep.Output.URL,
		Filename:     job.ConvertedName(rec.Filename, rec.OutputFormat),
		OutputFormat: rec.OutputFormat,
	})
	if err != nil {
		log.Warn("failed to queue archive", "error", err)
		return
	}
	if pushed {
		log.Info("job queued for archiving")
	}
}

func (s *server) conversionRecord(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, err := s.store.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Job not found")
		return
	}
	if err != nil {
		loggerFrom(r.Context(), s.logger).Error("failed to load job record", "job_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	apiKey := "missing"
	if s.keyConfigured() {
		apiKey = "configured"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"service":   serviceName,
		"provider":  s.provider.Name(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    int64(time.Since(s.started).Seconds()),
		"api_key":   apiKey,
	})
}

func (s *server) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// spaHandler serves files from dir and falls back to index.html for unknown paths,
// so client-side routes like /image-converter load the front-end.
type spaHandler struct {
	dir string
}

func (h spaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := filepath.Join(h.dir, filepath.FromSlash(path.Clean("/"+r.URL.Path)))
	if info, err := os.Stat(name); err == nil && !info.IsDir() {
		http.ServeFile(w, r, name)
		return
	}

	index := filepath.Join(h.dir, "index.html")
	if _, err := os.Stat(index); err != nil {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, index)
}
