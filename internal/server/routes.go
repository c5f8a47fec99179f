package server

import (
	"net/http"
	"strings"

	"github.com/ternarybob/lectern/internal/handlers"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// Jobs
	mux.HandleFunc("/jobs/index", s.app.JobHandler.CreateJobHandler) // POST - start an indexing job
	mux.HandleFunc("/jobs/", s.handleJobRoutes)                      // GET /{id}, POST /{id}/pause|resume|cancel, GET /{id}/events

	// Library views
	mux.HandleFunc("/library/summary", s.app.LibraryHandler.SummaryHandler)
	mux.HandleFunc("/library/files", s.app.LibraryHandler.FilesHandler)
	mux.HandleFunc("/library/files/", s.handleLibraryFileRoutes) // GET /{file_id}/pages
	mux.HandleFunc("/library/pages/", s.handleLibraryPageRoutes) // GET /{page_id}

	// System
	mux.HandleFunc("/health", s.app.APIHandler.HealthHandler)
	mux.HandleFunc("/version", s.app.APIHandler.VersionHandler)

	mux.HandleFunc("/", s.app.APIHandler.NotFoundHandler)

	return mux
}

// handleJobRoutes routes /jobs/{id} and its subpaths
func (s *Server) handleJobRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/jobs/")
	jobID, sub, _ := strings.Cut(rest, "/")
	if jobID == "" {
		s.app.APIHandler.NotFoundHandler(w, r)
		return
	}

	switch sub {
	case "":
		s.app.JobHandler.GetJobHandler(w, r, jobID)
	case "pause", "resume", "cancel":
		s.app.JobHandler.ControlHandler(w, r, jobID, sub)
	case "events":
		s.app.EventsHandler.StreamHandler(w, r, jobID)
	default:
		s.app.APIHandler.NotFoundHandler(w, r)
	}
}

// handleLibraryFileRoutes routes /library/files/{file_id}/pages
func (s *Server) handleLibraryFileRoutes(w http.ResponseWriter, r *http.Request) {
	fileID, ok := handlers.PathID("/library/files/", r.URL.Path)
	if !ok || !strings.HasSuffix(r.URL.Path, "/pages") {
		s.app.APIHandler.NotFoundHandler(w, r)
		return
	}
	s.app.LibraryHandler.PagesHandler(w, r, fileID)
}

// handleLibraryPageRoutes routes /library/pages/{page_id}
func (s *Server) handleLibraryPageRoutes(w http.ResponseWriter, r *http.Request) {
	pageID, ok := handlers.PathID("/library/pages/", r.URL.Path)
	if !ok {
		s.app.APIHandler.NotFoundHandler(w, r)
		return
	}
	s.app.LibraryHandler.PageDetailHandler(w, r, pageID)
}
