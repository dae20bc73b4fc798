package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	s3blob "github.com/alanyoungcy/polyhedge/internal/blob/s3"
	"github.com/alanyoungcy/polyhedge/internal/domain"
)

// ClosedArchive reads the closed-position archive.
type ClosedArchive interface {
	ListClosed(ctx context.Context, at time.Time) ([]domain.BlobInfo, error)
	ReadClosed(ctx context.Context, path string) (s3blob.ClosedRecord, error)
}

// ArchiveHandler serves archived closed positions.
type ArchiveHandler struct {
	archive ClosedArchive
	logger  *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler.
func NewArchiveHandler(archive ClosedArchive, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{
		archive: archive,
		logger:  logger.With(slog.String("handler", "archive")),
	}
}

// ListClosed lists the archived positions of one month (YYYY-MM, default
// the current month).
// GET /api/archive?month=2026-03
func (h *ArchiveHandler) ListClosed(w http.ResponseWriter, r *http.Request) {
	month := time.Now().UTC()
	if v := r.URL.Query().Get("month"); v != "" {
		t, err := time.Parse("2006-01", v)
		if err != nil {
			writeError(w, r, h.logger, domain.InvalidInput("month must be YYYY-MM, got %q", v))
			return
		}
		month = t
	}

	infos, err := h.archive.ListClosed(r.Context(), month)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if infos == nil {
		infos = []domain.BlobInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"month":   month.Format("2006-01"),
		"objects": infos,
	})
}

// GetClosed returns one archived record by its object key.
// GET /api/archive/{path...}
func (h *ArchiveHandler) GetClosed(w http.ResponseWriter, r *http.Request) {
	rec, err := h.archive.ReadClosed(r.Context(), r.PathValue("path"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
