// Copyright 2026 Veristat Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package api serves the run lifecycle over HTTP. Handlers delegate to
// the service facade; this layer only translates requests and errors.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/veristat/veristat/internal/artifact"
	veristatlog "github.com/veristat/veristat/internal/log"
	"github.com/veristat/veristat/internal/service"
	"github.com/veristat/veristat/internal/store"
	"github.com/veristat/veristat/pkg/errors"
)

// Server is the HTTP surface.
type Server struct {
	service *service.Service
	store   *store.Store
	logger  *slog.Logger
	health  func() error
}

// New creates the server. health is called by /healthz; nil means
// always healthy.
func New(svc *service.Service, st *store.Store, logger *slog.Logger, health func() error) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		service: svc,
		store:   st,
		logger:  veristatlog.WithComponent(logger, "api"),
		health:  health,
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/runs", s.handleSubmit)
	mux.HandleFunc("GET /v1/runs", s.handleList)
	mux.HandleFunc("GET /v1/runs/{id}", s.handleGet)
	mux.HandleFunc("GET /v1/runs/{id}/state", s.handleState)
	mux.HandleFunc("GET /v1/runs/{id}/manifest", s.handleManifest)
	mux.HandleFunc("GET /v1/runs/{id}/artifacts/{name}", s.handleArtifact)
	mux.HandleFunc("GET /v1/runs/{id}/report", s.handleReport)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

type submitRequest struct {
	FilePath  string         `json:"file_path"`
	RunConfig map[string]any `json:"run_config,omitempty"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.FilePath == "" {
		writeError(w, http.StatusBadRequest, "file_path is required")
		return
	}

	runID, err := s.service.Submit(r.Context(), req.FilePath, req.RunConfig)
	if err != nil {
		s.logger.Warn("submit rejected", veristatlog.Error(err))
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"run_id": runID})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	jobs, err := s.service.ListJobs(r.Context(), limit, offset)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": jobs})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	job, err := s.service.GetJob(r.Context(), r.PathValue("id"))
	if err != nil {
		s.serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	state, err := s.service.GetState(r.Context(), r.PathValue("id"))
	if err != nil {
		s.serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleManifest(w http.ResponseWriter, r *http.Request) {
	m, err := s.service.GetManifest(r.Context(), r.PathValue("id"))
	if err != nil {
		s.serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleArtifact(w http.ResponseWriter, r *http.Request) {
	doc, err := s.service.GetArtifact(r.Context(), r.PathValue("id"), r.PathValue("name"))
	if err != nil {
		s.serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// handleReport serves the Markdown report file directly.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	if !store.ValidRunID(runID) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	path, err := s.store.Path(runID, artifact.FinalReportFile)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		writeError(w, http.StatusNotFound, "report not found")
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "degraded",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// serviceError maps facade errors onto HTTP statuses.
func (s *Server) serviceError(w http.ResponseWriter, err error) {
	var notFound *errors.NotFoundError
	if errors.As(err, &notFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.logger.Error("request failed", veristatlog.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
