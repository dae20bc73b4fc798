// Package service serializes every operation on the managed position and
// fans each committed mutation out to the journal, the event bus, the
// archive and the notifiers.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polyhedge/internal/domain"
	"github.com/alanyoungcy/polyhedge/internal/strategy"
)

const defaultLockTTL = 30 * time.Second

// Notifier delivers operator alerts. event is the journal action ("enter",
// "hedge", "exit", "reset") or "error" for persistence failures.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// EnterRequest opens a position by buying AmountUSD of YES at the quote's
// yes price.
type EnterRequest struct {
	AmountUSD decimal.Decimal
	Quote     domain.Quote
}

// Options carries the optional collaborators of a PositionService. Any nil
// field disables the corresponding side effect.
type Options struct {
	Journal  domain.JournalStore
	Locks    domain.LockManager
	Bus      domain.SignalBus
	Notifier Notifier
	Archiver domain.PositionArchiver
	Dedup    *Dedup
	LockTTL  time.Duration
}

// PositionService is the single owner of the managed position. Every call
// takes the service mutex; mutations additionally hold the distributed lock
// when one is configured.
type PositionService struct {
	market string
	engine *strategy.Engine
	store  domain.PositionStore
	opts   Options
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	cached domain.Position
	loaded bool
}

// NewPositionService creates a PositionService for market.
func NewPositionService(
	market string,
	engine *strategy.Engine,
	store domain.PositionStore,
	opts Options,
	logger *slog.Logger,
) *PositionService {
	if opts.LockTTL <= 0 {
		opts.LockTTL = defaultLockTTL
	}
	return &PositionService{
		market: market,
		engine: engine,
		store:  store,
		opts:   opts,
		logger: logger.With(slog.String("component", "position_service"), slog.String("market", market)),
		now:    time.Now,
	}
}

// Market returns the market identifier the service manages.
func (s *PositionService) Market() string { return s.market }

// Dedup returns the request de-duplicator, or nil when none is configured.
func (s *PositionService) Dedup() *Dedup { return s.opts.Dedup }

// Policy returns the threshold policy the engine evaluates against.
func (s *PositionService) Policy() strategy.ThresholdPolicy { return s.engine.Policy() }

// change describes a committed mutation for the post-commit fan-out.
type change struct {
	action domain.JournalAction
	event  string
	quote  *domain.Quote
	detail map[string]any
	prev   domain.Position
	next   domain.Position
}

// Snapshot returns the current position.
func (s *PositionService) Snapshot(ctx context.Context) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current(ctx)
}

// Evaluate recommends an action for the current position at q without
// changing it.
func (s *PositionService) Evaluate(ctx context.Context, q domain.Quote) (strategy.Recommendation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, err := s.current(ctx)
	if err != nil {
		return strategy.Recommendation{}, err
	}
	return s.engine.Evaluate(pos, q)
}

// Enter opens a new YES position.
func (s *PositionService) Enter(ctx context.Context, req EnterRequest) (strategy.EnterResult, error) {
	var res strategy.EnterResult
	err := s.mutate(ctx, func(pos domain.Position) (domain.Position, *change, error) {
		if err := req.Quote.Validate(); err != nil {
			return pos, nil, err
		}
		next, r, err := s.engine.Enter(pos, req.AmountUSD, req.Quote.YesPrice)
		if err != nil {
			return pos, nil, err
		}
		now := s.now().UTC()
		next.ID = uuid.NewString()
		next.OpenedAt = &now
		res = r
		return next, &change{
			action: domain.JournalEnter,
			event:  domain.EventPositionOpened,
			quote:  &req.Quote,
			detail: map[string]any{
				"amount_usd":    r.Invested.String(),
				"shares_bought": r.SharesBought.String(),
				"price":         r.Price.String(),
			},
		}, nil
	})
	return res, err
}

// Hedge executes the take-profit hedge at q.
func (s *PositionService) Hedge(ctx context.Context, q domain.Quote) (strategy.HedgeResult, error) {
	var res strategy.HedgeResult
	err := s.mutate(ctx, func(pos domain.Position) (domain.Position, *change, error) {
		next, r, err := s.engine.Hedge(pos, q)
		if err != nil {
			return pos, nil, err
		}
		res = r
		return next, &change{
			action: domain.JournalHedge,
			event:  domain.EventPositionHedged,
			quote:  &q,
			detail: map[string]any{
				"yes_sold":   r.YesSold.String(),
				"no_bought":  r.NoBought.String(),
				"proceeds":   r.Proceeds.String(),
				"locked_pnl": r.LockedPnL.String(),
				"full_flip":  r.FullFlip,
			},
		}, nil
	})
	if err == nil && res.FullFlip {
		s.logger.WarnContext(ctx, "hedge sold every YES share, position is one-sided NO",
			slog.String("no_shares", res.NoBought.String()),
			slog.String("locked_pnl", res.LockedPnL.String()),
		)
	}
	return res, err
}

// Exit liquidates both legs at q once the stop-loss condition holds.
func (s *PositionService) Exit(ctx context.Context, q domain.Quote) (strategy.ExitResult, error) {
	var res strategy.ExitResult
	err := s.mutate(ctx, func(pos domain.Position) (domain.Position, *change, error) {
		next, r, err := s.engine.Exit(pos, q)
		if err != nil {
			return pos, nil, err
		}
		res = r
		return next, &change{
			action: domain.JournalExit,
			event:  domain.EventPositionClosed,
			quote:  &q,
			detail: map[string]any{
				"yes_sold":  r.YesSold.String(),
				"no_sold":   r.NoSold.String(),
				"proceeds":  r.Proceeds.String(),
				"final_pnl": r.FinalPnL.String(),
			},
		}, nil
	})
	return res, err
}

// Reset discards the current position and stores the empty one.
func (s *PositionService) Reset(ctx context.Context) error {
	return s.mutate(ctx, func(pos domain.Position) (domain.Position, *change, error) {
		return s.engine.Reset(), &change{
			action: domain.JournalReset,
			event:  domain.EventPositionReset,
		}, nil
	})
}

// mutate runs fn against the current position and commits its result. The
// post-commit fan-out runs after the locks are released.
func (s *PositionService) mutate(ctx context.Context, fn func(domain.Position) (domain.Position, *change, error)) error {
	requestID := RequestIDFrom(ctx)
	if requestID != "" && s.opts.Dedup != nil {
		if !s.opts.Dedup.Claim(requestID) {
			return domain.NewError(domain.ErrDuplicateRequest, "request %s already processed", requestID)
		}
	}

	ch, err := s.mutateLocked(ctx, fn)
	if err != nil {
		if requestID != "" && s.opts.Dedup != nil {
			s.opts.Dedup.Forget(requestID)
		}
		if errors.Is(err, domain.ErrPersistence) {
			s.alert(ctx, "error", "Position update failed", err.Error())
		}
		return err
	}

	s.afterCommit(ctx, ch)
	return nil
}

func (s *PositionService) mutateLocked(ctx context.Context, fn func(domain.Position) (domain.Position, *change, error)) (*change, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.opts.Locks != nil {
		unlock, err := s.opts.Locks.Acquire(ctx, "position:"+s.market, s.opts.LockTTL)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				return nil, domain.NewError(domain.ErrLockHeld, "position %s is being modified by another instance", s.market)
			}
			return nil, domain.NewError(domain.ErrPersistence, "acquire position lock: %v", err)
		}
		defer unlock()
	}

	prev, err := s.current(ctx)
	if err != nil {
		return nil, err
	}

	next, ch, err := fn(prev)
	if err != nil {
		return nil, err
	}

	next.Version = prev.Version + 1
	next.UpdatedAt = s.now().UTC()
	if err := next.Validate(); err != nil {
		return nil, fmt.Errorf("service: computed position is invalid: %w", err)
	}

	if err := s.store.Save(ctx, s.market, next); err != nil {
		s.loaded = false
		s.logger.ErrorContext(ctx, "save position failed",
			slog.String("action", string(ch.action)),
			slog.String("error", err.Error()),
		)
		return nil, domain.NewError(domain.ErrPersistence, "save position: %v", err)
	}
	s.cached, s.loaded = next, true

	ch.prev, ch.next = prev, next
	return ch, nil
}

// current returns the cached position, reloading it from the store when the
// cache is stale. With a distributed lock another instance may have written
// the record, so it always reloads.
func (s *PositionService) current(ctx context.Context) (domain.Position, error) {
	if s.loaded && s.opts.Locks == nil {
		return s.cached, nil
	}
	pos, err := s.store.Load(ctx, s.market)
	if err != nil {
		return domain.Position{}, domain.NewError(domain.ErrPersistence, "load position: %v", err)
	}
	if err := pos.Validate(); err != nil {
		return domain.Position{}, domain.NewError(domain.ErrPersistence, "stored position is invalid: %v", err)
	}
	s.cached, s.loaded = pos, true
	return pos, nil
}

func (s *PositionService) afterCommit(ctx context.Context, ch *change) {
	positionID := ch.next.ID
	if positionID == "" {
		positionID = ch.prev.ID
	}

	s.logger.InfoContext(ctx, "position "+string(ch.action),
		slog.String("position_id", positionID),
		slog.Int64("version", ch.next.Version),
		slog.String("yes_shares", ch.next.YesShares.String()),
		slog.String("no_shares", ch.next.NoShares.String()),
		slog.String("total_invested", ch.next.TotalInvested.String()),
		slog.String("total_withdrawn", ch.next.TotalWithdrawn.String()),
	)

	if s.opts.Journal != nil {
		entry := domain.JournalEntry{
			ID:         uuid.NewString(),
			Market:     s.market,
			PositionID: positionID,
			Action:     ch.action,
			Quote:      ch.quote,
			Detail:     ch.detail,
			Position:   ch.next,
			CreatedAt:  ch.next.UpdatedAt,
		}
		if err := s.opts.Journal.Append(ctx, entry); err != nil {
			s.logger.WarnContext(ctx, "journal append failed",
				slog.String("position_id", positionID),
				slog.String("error", err.Error()),
			)
		}
	}

	if ch.action == domain.JournalExit && s.opts.Archiver != nil {
		path, err := s.opts.Archiver.ArchiveClosed(ctx, s.market, ch.next)
		if err != nil {
			s.logger.WarnContext(ctx, "archive closed position failed",
				slog.String("position_id", positionID),
				slog.String("error", err.Error()),
			)
		} else {
			if ch.detail == nil {
				ch.detail = map[string]any{}
			}
			ch.detail["archive_path"] = path
		}
	}

	s.Publish(ctx, ch.event, ch.next, ch.detail)
	s.alert(ctx, string(ch.action), alertTitle(ch.event), alertMessage(s.market, ch))
}

// Publish sends a position event on the positions channel. Failures are
// logged and otherwise ignored.
func (s *PositionService) Publish(ctx context.Context, event string, pos domain.Position, detail map[string]any) {
	if s.opts.Bus == nil {
		return
	}
	payload, err := json.Marshal(domain.PositionEvent{
		Event:    event,
		Market:   s.market,
		Position: pos.View(),
		Detail:   detail,
		At:       s.now().UTC(),
	})
	if err != nil {
		s.logger.WarnContext(ctx, "marshal position event failed", slog.String("error", err.Error()))
		return
	}
	if err := s.opts.Bus.Publish(ctx, domain.PositionsChannel, payload); err != nil {
		s.logger.WarnContext(ctx, "publish position event failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (s *PositionService) alert(ctx context.Context, event, title, message string) {
	if s.opts.Notifier == nil {
		return
	}
	if err := s.opts.Notifier.Notify(ctx, event, title, message); err != nil {
		s.logger.WarnContext(ctx, "notify failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func alertTitle(event string) string {
	switch event {
	case domain.EventPositionOpened:
		return "Position opened"
	case domain.EventPositionHedged:
		return "Position hedged"
	case domain.EventPositionClosed:
		return "Position closed"
	case domain.EventPositionReset:
		return "Position reset"
	}
	return event
}

func alertMessage(market string, ch *change) string {
	p := ch.next
	switch ch.action {
	case domain.JournalEnter:
		return fmt.Sprintf("%s: bought %s YES @ %s for $%s",
			market, ch.detail["shares_bought"], ch.detail["price"], ch.detail["amount_usd"])
	case domain.JournalHedge:
		return fmt.Sprintf("%s: sold %s YES, bought %s NO, locked PnL %s",
			market, ch.detail["yes_sold"], ch.detail["no_bought"], ch.detail["locked_pnl"])
	case domain.JournalExit:
		return fmt.Sprintf("%s: exited for $%s, final PnL %s",
			market, ch.detail["proceeds"], ch.detail["final_pnl"])
	}
	return fmt.Sprintf("%s: yes=%s no=%s", market, p.YesShares, p.NoShares)
}
