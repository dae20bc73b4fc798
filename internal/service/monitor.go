package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polyhedge/internal/domain"
	"github.com/alanyoungcy/polyhedge/internal/strategy"
)

// MonitorConfig configures the price-cache watcher.
type MonitorConfig struct {
	YesTokenID string
	// NoTokenID may be empty, in which case the NO price is 1 - yes.
	NoTokenID   string
	Interval    time.Duration
	MaxQuoteAge time.Duration
	AutoExecute bool
}

// Monitor periodically evaluates the position against the latest cached
// prices and, when AutoExecute is set, carries out the recommended hedge or
// exit itself.
type Monitor struct {
	svc    *PositionService
	prices domain.PriceCache
	cfg    MonitorConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewMonitor creates a Monitor for svc reading quotes from prices.
func NewMonitor(svc *PositionService, prices domain.PriceCache, cfg MonitorConfig, logger *slog.Logger) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	return &Monitor{
		svc:    svc,
		prices: prices,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "monitor")),
		now:    time.Now,
	}
}

// Run ticks until ctx is cancelled. Tick errors are logged, never fatal.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.InfoContext(ctx, "monitor started",
		slog.String("yes_token", m.cfg.YesTokenID),
		slog.Duration("interval", m.cfg.Interval),
		slog.Bool("auto_execute", m.cfg.AutoExecute),
	)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.InfoContext(ctx, "monitor stopped")
			return nil
		case <-ticker.C:
			if _, err := m.Tick(ctx); err != nil {
				m.logger.WarnContext(ctx, "monitor tick failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Tick runs a single quote → evaluate → (optionally) execute cycle and
// returns the recommendation it acted on.
func (m *Monitor) Tick(ctx context.Context) (strategy.Recommendation, error) {
	q, err := m.quote(ctx)
	if err != nil {
		return strategy.Recommendation{}, err
	}

	rec, err := m.svc.Evaluate(ctx, q)
	if err != nil {
		return strategy.Recommendation{}, fmt.Errorf("monitor: evaluate: %w", err)
	}

	detail := map[string]any{
		"decision":     string(rec.Decision),
		"reason":       rec.Reason,
		"current_prob": q.CurrentProb.String(),
		"yes_price":    q.YesPrice.String(),
		"no_price":     q.NoPrice.String(),
	}
	if rec.UnrealizedPnL != nil {
		detail["unrealized_pnl"] = rec.UnrealizedPnL.String()
	}
	if pos, err := m.svc.Snapshot(ctx); err == nil {
		m.svc.Publish(ctx, domain.EventEvaluated, pos, detail)
	}

	if !m.cfg.AutoExecute {
		return rec, nil
	}

	switch rec.Decision {
	case domain.DecisionTakeProfit:
		res, err := m.svc.Hedge(ctx, q)
		if errors.Is(err, domain.ErrNoPosition) {
			// Already flipped to NO; nothing left to hedge.
			return rec, nil
		}
		if err != nil {
			return rec, fmt.Errorf("monitor: auto hedge: %w", err)
		}
		m.logger.InfoContext(ctx, "auto hedge executed",
			slog.String("yes_sold", res.YesSold.String()),
			slog.String("no_bought", res.NoBought.String()),
			slog.String("locked_pnl", res.LockedPnL.String()),
		)
	case domain.DecisionStopLoss:
		res, err := m.svc.Exit(ctx, q)
		if err != nil {
			return rec, fmt.Errorf("monitor: auto exit: %w", err)
		}
		m.logger.InfoContext(ctx, "auto exit executed",
			slog.String("proceeds", res.Proceeds.String()),
			slog.String("final_pnl", res.FinalPnL.String()),
		)
	}
	return rec, nil
}

func (m *Monitor) quote(ctx context.Context) (domain.Quote, error) {
	yes, err := m.price(ctx, m.cfg.YesTokenID)
	if err != nil {
		return domain.Quote{}, err
	}
	no := decimal.NewFromInt(1).Sub(yes)
	if m.cfg.NoTokenID != "" {
		if no, err = m.price(ctx, m.cfg.NoTokenID); err != nil {
			return domain.Quote{}, err
		}
	}
	q := domain.Quote{CurrentProb: yes, YesPrice: yes, NoPrice: no}
	if err := q.Validate(); err != nil {
		return domain.Quote{}, fmt.Errorf("monitor: cached quote: %w", err)
	}
	return q, nil
}

func (m *Monitor) price(ctx context.Context, tokenID string) (decimal.Decimal, error) {
	p, ts, err := m.prices.GetPrice(ctx, tokenID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return decimal.Decimal{}, fmt.Errorf("monitor: no cached price for %s: %w", tokenID, err)
		}
		return decimal.Decimal{}, fmt.Errorf("monitor: get price %s: %w", tokenID, err)
	}
	if m.cfg.MaxQuoteAge > 0 && m.now().Sub(ts) > m.cfg.MaxQuoteAge {
		return decimal.Decimal{}, fmt.Errorf("monitor: price for %s is stale (%s old)", tokenID, m.now().Sub(ts).Round(time.Second))
	}
	return decimal.NewFromFloat(p).Round(domain.Scale), nil
}
