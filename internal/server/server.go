// Package server exposes the worker over HTTP.
//
// Routes:
//
//	GET  /healthz     → liveness probe
//	GET  /api/project → project metadata (sources, columns, active source)
//	POST /api/op      → worker request envelope in, response envelope out
//	POST /api/upload  → multipart file upload ingested as a new source
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"path"
	"strings"
	"time"

	"datastudio/internal/ingest"
	"datastudio/internal/store"
	"datastudio/internal/worker"
)

const uploadLimit = 256 << 20 // bytes

// Config controls server startup.
type Config struct {
	Addr string
}

// Server wraps http.Server for convenience.
type Server struct {
	cfg    Config
	mux    *http.ServeMux
	store  store.Store
	client *worker.Client
}

// NewServer constructs a Server with routes wired to the worker client.
func NewServer(cfg Config, st store.Store, client *worker.Client) *Server {
	s := &Server{cfg: cfg, mux: http.NewServeMux(), store: st, client: client}
	s.routes()
	return s
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	log.Printf("server: listening on %s", s.cfg.Addr)
	return http.ListenAndServe(s.cfg.Addr, s.mux)
}

// Handler returns the route mux, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/api/project", s.handleProject)
	s.mux.HandleFunc("/api/op", s.handleOp)
	s.mux.HandleFunc("/api/upload", s.handleUpload)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleProject(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	projectID := r.URL.Query().Get("project")
	if projectID == "" {
		http.Error(w, "missing project parameter", http.StatusBadRequest)
		return
	}
	meta, err := s.store.GetMetadata(r.Context(), projectID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, store.ErrProjectNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

// handleOp forwards a request envelope to the worker and relays the response
// envelope unchanged, so HTTP callers and channel callers speak the same
// protocol.
func (s *Server) handleOp(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req worker.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request envelope: "+err.Error(), http.StatusBadRequest)
		return
	}
	start := time.Now()
	payload, err := s.client.DoRaw(r.Context(), req)
	resp := worker.Response{ID: req.ID, Payload: payload}
	if err != nil {
		resp.Error = err.Error()
	}
	log.Printf("server: op=%s id=%s dur=%s err=%v", req.Type, req.ID, time.Since(start).Round(time.Millisecond), err)
	writeJSON(w, http.StatusOK, resp)
}

// handleUpload ingests a multipart file field named "file" into the project
// given by the "project" form field. The format is picked by file extension;
// anything that is not a spreadsheet is treated as delimited text.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseMultipartForm(uploadLimit); err != nil {
		http.Error(w, "bad upload: "+err.Error(), http.StatusBadRequest)
		return
	}
	projectID := r.FormValue("project")
	if projectID == "" {
		http.Error(w, "missing project field", http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "missing file field: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()

	name := header.Filename
	var rec *store.SourceRecord
	switch strings.ToLower(path.Ext(name)) {
	case ".xlsx", ".xlsm":
		rec, err = ingest.IngestXLSX(r.Context(), s.store, projectID, name, file)
	case ".tsv":
		rec, err = ingest.IngestCSV(r.Context(), s.store, projectID, name, file, ingest.CSVOptions{Comma: '\t'})
	default:
		rec, err = ingest.IngestCSV(r.Context(), s.store, projectID, name, file, ingest.CSVOptions{})
	}
	if err != nil {
		http.Error(w, fmt.Sprintf("ingest %q: %v", name, err), http.StatusUnprocessableEntity)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("server: encode response: %v", err)
	}
}
