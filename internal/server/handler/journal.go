package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/polyhedge/internal/domain"
)

// JournalHandler serves the trade journal of one market.
type JournalHandler struct {
	journal domain.JournalStore
	market  string
	logger  *slog.Logger
}

// NewJournalHandler creates a JournalHandler.
func NewJournalHandler(journal domain.JournalStore, market string, logger *slog.Logger) *JournalHandler {
	return &JournalHandler{
		journal: journal,
		market:  market,
		logger:  logger.With(slog.String("handler", "journal")),
	}
}

type listJournalResponse struct {
	Entries []domain.JournalEntry `json:"entries"`
	Limit   int                   `json:"limit"`
	Offset  int                   `json:"offset"`
}

// ListJournal returns journal entries newest first. since and until accept
// RFC 3339 timestamps; position_id returns one position's entries in order.
// GET /api/journal?limit=&offset=&since=&until=&position_id=
func (h *JournalHandler) ListJournal(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	q := r.URL.Query()
	var entries []domain.JournalEntry
	if id := q.Get("position_id"); id != "" {
		entries, err = h.journal.ListByPosition(r.Context(), id)
	} else {
		if opts.Since, err = parseTime(q.Get("since"), "since"); err != nil {
			writeError(w, r, h.logger, err)
			return
		}
		if opts.Until, err = parseTime(q.Get("until"), "until"); err != nil {
			writeError(w, r, h.logger, err)
			return
		}
		entries, err = h.journal.List(r.Context(), h.market, opts)
	}
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if entries == nil {
		entries = []domain.JournalEntry{}
	}

	writeJSON(w, http.StatusOK, listJournalResponse{
		Entries: entries,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	})
}

func parseTime(v, name string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, domain.InvalidInput("%s must be an RFC 3339 timestamp, got %q", name, v)
	}
	return &t, nil
}
