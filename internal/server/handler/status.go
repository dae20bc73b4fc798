package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/polyhedge/internal/strategy"
)

// StatusHandler serves the runtime configuration for dashboards.
type StatusHandler struct {
	Mode      string
	Market    string
	Store     string
	Policy    strategy.ThresholdPolicy
	StartedAt time.Time
}

// GetStatus responds with the mode, market, store backend and thresholds.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           h.Mode,
		"market":         h.Market,
		"store":          h.Store,
		"take_profit":    h.Policy.TakeProfitProb.String(),
		"stop_loss":      h.Policy.StopLossProb.String(),
		"hedge_fraction": h.Policy.HedgeFraction.String(),
		"full_flip":      h.Policy.FullFlip(),
		"uptime_seconds": int64(time.Since(h.StartedAt).Seconds()),
	})
}
