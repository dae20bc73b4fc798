package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/polyhedge/internal/domain"
)

// PriceHandler lets an external feed push token prices into the cache the
// monitor polls.
type PriceHandler struct {
	prices domain.PriceCache
	logger *slog.Logger
}

// NewPriceHandler creates a PriceHandler.
func NewPriceHandler(prices domain.PriceCache, logger *slog.Logger) *PriceHandler {
	return &PriceHandler{
		prices: prices,
		logger: logger.With(slog.String("handler", "prices")),
	}
}

type setPriceRequest struct {
	Price     *float64   `json:"price"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

type priceResponse struct {
	TokenID   string    `json:"token_id"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// SetPrice stores the latest price of a token. timestamp defaults to now.
// PUT /api/prices/{token}
func (h *PriceHandler) SetPrice(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")
	var req setPriceRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if req.Price == nil {
		writeError(w, r, h.logger, domain.InvalidInput("price is required"))
		return
	}
	if *req.Price < 0 || *req.Price > 1 {
		writeError(w, r, h.logger, domain.InvalidInput("price must be in [0,1], got %v", *req.Price))
		return
	}
	ts := time.Now().UTC()
	if req.Timestamp != nil {
		ts = req.Timestamp.UTC()
	}

	if err := h.prices.SetPrice(r.Context(), token, *req.Price, ts); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, priceResponse{TokenID: token, Price: *req.Price, Timestamp: ts})
}

// GetPrice returns the cached price of a token.
// GET /api/prices/{token}
func (h *PriceHandler) GetPrice(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")
	price, ts, err := h.prices.GetPrice(r.Context(), token)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, priceResponse{TokenID: token, Price: price, Timestamp: ts})
}
