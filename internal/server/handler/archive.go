package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	s3blob "github.com/alanyoungcy/flashbot/internal/blob/s3"
	"github.com/alanyoungcy/flashbot/internal/domain"
)

// ArchiveBrowser lists and reads archived execution batches.
type ArchiveBrowser interface {
	List(ctx context.Context) ([]domain.BlobInfo, error)
	Load(ctx context.Context, path string) ([]s3blob.ArchivedExecution, error)
}

// ArchiveHandler serves archived executions and the audit log.
type ArchiveHandler struct {
	archive ArchiveBrowser
	audit   domain.AuditStore
	logger  *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler. Either source may be nil, in
// which case its endpoints answer 404.
func NewArchiveHandler(archive ArchiveBrowser, audit domain.AuditStore, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{archive: archive, audit: audit, logger: logger}
}

// ListArchives returns the archived batch objects.
// GET /api/archives
func (h *ArchiveHandler) ListArchives(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		writeError(w, http.StatusNotFound, "archiving disabled")
		return
	}
	infos, err := h.archive.List(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list archives failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list archives")
		return
	}
	if infos == nil {
		infos = []domain.BlobInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"archives": infos})
}

// GetArchive returns the rows of one archived batch.
// GET /api/archives/{path...}
func (h *ArchiveHandler) GetArchive(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		writeError(w, http.StatusNotFound, "archiving disabled")
		return
	}
	path := r.PathValue("path")
	if !strings.HasPrefix(path, s3blob.ArchivePrefix) {
		path = s3blob.ArchivePrefix + path
	}
	rows, err := h.archive.Load(r.Context(), path)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "archive not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: load archive failed",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load archive")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"path": path, "executions": rows})
}

// ListAudit returns audit log entries, newest first.
// GET /api/audit?limit=50&since=...
func (h *ArchiveHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		writeError(w, http.StatusNotFound, "audit log disabled")
		return
	}
	entries, err := h.audit.List(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list audit failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list audit log")
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
