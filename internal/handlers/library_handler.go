package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/lectern/internal/catalog"
	"github.com/ternarybob/lectern/internal/jobs"
)

// LibraryHandler serves read-only catalog views. Each library root has
// its own catalog database; the library_root query parameter selects
// it, falling back to the daemon's configured root.
type LibraryHandler struct {
	manager     *jobs.Manager
	defaultRoot string
	logger      arbor.ILogger
}

// NewLibraryHandler creates a new LibraryHandler
func NewLibraryHandler(manager *jobs.Manager, defaultRoot string, logger arbor.ILogger) *LibraryHandler {
	return &LibraryHandler{
		manager:     manager,
		defaultRoot: defaultRoot,
		logger:      logger,
	}
}

// store resolves the catalog for the request's library_root. The
// returned prefix filters summary rows when an explicit root is given.
func (h *LibraryHandler) store(w http.ResponseWriter, r *http.Request) (*catalog.Store, string, bool) {
	root := r.URL.Query().Get("library_root")
	prefix := root
	if root == "" {
		root = h.defaultRoot
	}
	store, err := h.manager.CatalogFor(root)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "library_root_not_found")
		return nil, "", false
	}
	return store, prefix, true
}

// SummaryHandler handles GET /library/summary
func (h *LibraryHandler) SummaryHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}
	store, prefix, ok := h.store(w, r)
	if !ok {
		return
	}

	summary, err := store.Summary(r.Context(), prefix)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to compute library summary")
		WriteError(w, http.StatusInternalServerError, "library_summary_failed")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"ok":        true,
		"files":     summary.Files,
		"pages":     summary.Pages,
		"artifacts": summary.Artifacts,
	})
}

// FilesHandler handles GET /library/files
func (h *LibraryHandler) FilesHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}
	store, prefix, ok := h.store(w, r)
	if !ok {
		return
	}

	files, err := store.ListFiles(r.Context(), prefix)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list library files")
		WriteError(w, http.StatusInternalServerError, "library_files_failed")
		return
	}
	if files == nil {
		files = []catalog.FileSummary{}
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"ok":    true,
		"files": files,
	})
}

// PagesHandler handles GET /library/files/{file_id}/pages
func (h *LibraryHandler) PagesHandler(w http.ResponseWriter, r *http.Request, fileID int64) {
	if !RequireMethod(w, r, "GET") {
		return
	}
	store, _, ok := h.store(w, r)
	if !ok {
		return
	}

	pages, err := store.ListPages(r.Context(), fileID)
	if err != nil {
		h.logger.Error().Err(err).Int64("file_id", fileID).Msg("Failed to list file pages")
		WriteError(w, http.StatusInternalServerError, "library_pages_failed")
		return
	}
	if pages == nil {
		pages = []catalog.PageSummary{}
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"ok":    true,
		"pages": pages,
	})
}

// PageDetailHandler handles GET /library/pages/{page_id}
func (h *LibraryHandler) PageDetailHandler(w http.ResponseWriter, r *http.Request, pageID int64) {
	if !RequireMethod(w, r, "GET") {
		return
	}
	store, _, ok := h.store(w, r)
	if !ok {
		return
	}

	detail, err := store.GetPageDetail(r.Context(), pageID)
	if err != nil {
		h.logger.Error().Err(err).Int64("page_id", pageID).Msg("Failed to load page detail")
		WriteError(w, http.StatusInternalServerError, "library_page_failed")
		return
	}
	if detail == nil {
		WriteError(w, http.StatusNotFound, "page_not_found")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"ok":   true,
		"page": detail,
	})
}
