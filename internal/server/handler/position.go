package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polyhedge/internal/domain"
	"github.com/alanyoungcy/polyhedge/internal/service"
	"github.com/alanyoungcy/polyhedge/internal/strategy"
)

// Bet actions accepted by POST /api/bet.
const (
	ActionEvaluate = "evaluate"
	ActionEnter    = "enter"
	ActionHedge    = "hedge"
	ActionExit     = "exit"
)

// PositionService defines the methods that the position handler requires.
type PositionService interface {
	Snapshot(ctx context.Context) (domain.Position, error)
	Evaluate(ctx context.Context, q domain.Quote) (strategy.Recommendation, error)
	Enter(ctx context.Context, req service.EnterRequest) (strategy.EnterResult, error)
	Hedge(ctx context.Context, q domain.Quote) (strategy.HedgeResult, error)
	Exit(ctx context.Context, q domain.Quote) (strategy.ExitResult, error)
	Reset(ctx context.Context) error
}

// PositionHandler serves the position lifecycle endpoints.
type PositionHandler struct {
	positions PositionService
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler with the given service and logger.
func NewPositionHandler(positions PositionService, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		positions: positions,
		logger:    logger.With(slog.String("handler", "position")),
	}
}

// betRequest is the body of POST /api/bet and the direct action routes.
//
//   - action defaults to "evaluate"; the direct routes take it from the path.
//   - amount_usd is required for enter and ignored otherwise.
//   - current_prob is always required.
//   - yes_price defaults to current_prob, no_price to 1 - current_prob.
//   - request_id, when set, makes a mutating call safe to retry: a repeat
//     inside the dedup window is rejected with duplicate_request.
type betRequest struct {
	Action      string           `json:"action,omitempty"`
	AmountUSD   *decimal.Decimal `json:"amount_usd,omitempty"`
	CurrentProb *decimal.Decimal `json:"current_prob"`
	YesPrice    *decimal.Decimal `json:"yes_price,omitempty"`
	NoPrice     *decimal.Decimal `json:"no_price,omitempty"`
	RequestID   string           `json:"request_id,omitempty"`
}

func (b betRequest) quote() (domain.Quote, error) {
	if b.CurrentProb == nil {
		return domain.Quote{}, domain.InvalidInput("current_prob is required")
	}
	return domain.QuoteRequest{
		CurrentProb: *b.CurrentProb,
		YesPrice:    b.YesPrice,
		NoPrice:     b.NoPrice,
	}.Resolve()
}

type betResponse struct {
	Success  bool                 `json:"success"`
	Action   string               `json:"action"`
	Result   any                  `json:"result"`
	Position *domain.PositionView `json:"position,omitempty"`
}

// GetPosition returns the current position.
// GET /api/position
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	pos, err := h.positions.Snapshot(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, pos.View())
}

// Bet dispatches on the action field of the body.
// POST /api/bet
func (h *PositionHandler) Bet(w http.ResponseWriter, r *http.Request) {
	var req betRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	h.run(w, r, req)
}

// Action runs the action named in the path.
// POST /api/position/{action}
func (h *PositionHandler) Action(w http.ResponseWriter, r *http.Request) {
	var req betRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	req.Action = r.PathValue("action")
	h.run(w, r, req)
}

// Reset clears the position.
// POST /api/reset
func (h *PositionHandler) Reset(w http.ResponseWriter, r *http.Request) {
	if err := h.positions.Reset(r.Context()); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *PositionHandler) run(w http.ResponseWriter, r *http.Request, req betRequest) {
	action := strings.ToLower(strings.TrimSpace(req.Action))
	if action == "" {
		action = ActionEvaluate
	}

	q, err := req.quote()
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	ctx := r.Context()
	requestID := req.RequestID
	if requestID == "" {
		requestID = r.Header.Get("Idempotency-Key")
	}
	if requestID != "" && action != ActionEvaluate {
		ctx = service.WithRequestID(ctx, requestID)
	}

	var result any
	switch action {
	case ActionEvaluate:
		result, err = h.positions.Evaluate(ctx, q)
	case ActionEnter:
		if req.AmountUSD == nil {
			err = domain.InvalidInput("amount_usd is required to enter")
			break
		}
		result, err = h.positions.Enter(ctx, service.EnterRequest{AmountUSD: *req.AmountUSD, Quote: q})
	case ActionHedge:
		result, err = h.positions.Hedge(ctx, q)
	case ActionExit:
		result, err = h.positions.Exit(ctx, q)
	default:
		err = domain.InvalidInput("unknown action %q", req.Action)
	}
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	resp := betResponse{Success: true, Action: action, Result: result}
	if pos, err := h.positions.Snapshot(ctx); err == nil {
		view := pos.View()
		resp.Position = &view
	} else {
		h.logger.WarnContext(ctx, "position snapshot after action failed",
			slog.String("action", action),
			slog.String("error", err.Error()),
		)
	}
	writeJSON(w, http.StatusOK, resp)
}
