// Package engine drives a trading run. Each scan delivers pending broker
// fills to the per-strategy position books, manages exits, collects closed
// positions into the run statistics and, when the schedule allows, hunts
// for new entries: pick an expiration cycle, assemble the configured
// structure, size it and hand it to the book.
package engine

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/rcc-trading/condorhawk/internal/broker"
	"github.com/rcc-trading/condorhawk/internal/chain"
	"github.com/rcc-trading/condorhawk/internal/config"
	"github.com/rcc-trading/condorhawk/internal/lifecycle"
	"github.com/rcc-trading/condorhawk/internal/models"
	"github.com/rcc-trading/condorhawk/internal/orders"
	"github.com/rcc-trading/condorhawk/internal/pricing"
	"github.com/rcc-trading/condorhawk/internal/storage"
	"github.com/rcc-trading/condorhawk/internal/strategy"
)

// closedTrade remembers how many days to expiry a position had when it
// closed, so dynamic expiry selection can follow it.
type closedTrade struct {
	tag string
	dte int
}

// runner bundles one configured strategy with its order builder, position
// book and entry bookkeeping. Books share the engine's storage but only
// restore their own strategy's positions.
type runner struct {
	cfg     config.StrategyConfig
	def     *strategy.Definition
	builder *orders.Builder
	book    *lifecycle.Book

	lastOpened     time.Time
	recentlyClosed []closedTrade
}

// Engine owns the scan loop. All methods run on a single goroutine; the
// driver calls Scan once per tick and the engine drains the host's fill
// stream itself.
type Engine struct {
	host     broker.Host
	store    storage.Interface
	logger   *log.Logger
	schedule config.ScheduleConfig
	risk     config.RiskConfig

	runners []*runner
	stats   models.RunStats
	pnls    []float64
	halted  bool
}

// New wires an engine from configuration: one definition, builder and book
// per configured strategy, all trading through the same host and persisting
// to the same store. Previously accumulated run statistics are restored
// from the store.
func New(
	host broker.Host,
	store storage.Interface,
	pricer *pricing.Engine,
	logger *log.Logger,
	cfg *config.Config,
) (*Engine, error) {
	if host == nil {
		return nil, errors.New("engine: host must not be nil")
	}
	if store == nil {
		return nil, errors.New("engine: storage must not be nil")
	}
	if pricer == nil {
		return nil, errors.New("engine: pricer must not be nil")
	}
	if cfg == nil {
		return nil, errors.New("engine: config must not be nil")
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[ENGINE] ", log.LstdFlags)
	}

	searcher := chain.NewSearcher(pricer, logger)
	tags := UUIDTags()
	cutoff := cfg.Schedule.CutoffOffset()

	runners := make([]*runner, 0, len(cfg.Strategies))
	for i := range cfg.Strategies {
		s := cfg.Strategies[i]
		def, err := strategy.New(searcher, s.Name, s.Kind, strategyParams(s))
		if err != nil {
			return nil, fmt.Errorf("strategy %q: %w", s.Name, err)
		}

		builder := orders.NewBuilder(host, pricer, logger, orders.Config{
			Underlying:                        cfg.Backtest.Underlying,
			Slippage:                          s.Slippage,
			LimitOrderRelativePriceAdjustment: s.LimitOrderRelativePriceAdjustment,
			LimitOrderAbsolutePrice:           s.LimitOrderAbsolutePrice,
			LimitOrderExpiration:              s.LimitTTL(),
			TargetPremium:                     s.TargetPremium,
			TargetPremiumPct:                  s.TargetPremiumPct,
			MaxOrderQuantity:                  s.MaxOrderQuantity,
			UseLimitOrders:                    s.UsesLimitOrders(),
			MarketCloseCutoff:                 cutoff,
		})

		book := lifecycle.NewBook(host, store, logger, tags, lifecycle.Config{
			Strategy:             s.Name,
			ProfitTarget:         s.ProfitTarget,
			StopLossMultiplier:   s.StopLossMultiplier,
			EntryDte:             s.TargetDte(),
			DteThreshold:         s.DteExitThreshold(),
			ForceDteThreshold:    s.ForceDteThreshold,
			DitThreshold:         s.DitThreshold,
			HardDitThreshold:     s.HardDitThreshold,
			Slippage:             s.Slippage,
			ValidateQuantity:     s.ValidatesQuantity(),
			ValidateBidAskSpread: s.ValidateBidAskSpread,
			BidAskSpreadRatio:    s.BidAskSpreadRatio,
			MaxOrderQuantity:     s.MaxOrderQuantity,
			MarketCloseCutoff:    cutoff,
		})

		runners = append(runners, &runner{cfg: s, def: def, builder: builder, book: book})
	}

	return &Engine{
		host:     host,
		store:    store,
		logger:   logger,
		schedule: cfg.Schedule,
		risk:     cfg.Risk,
		runners:  runners,
		stats:    store.GetStats(),
	}, nil
}

// strategyParams maps the configured knobs onto the leg-assembly
// parameters. Field names line up one to one.
func strategyParams(s config.StrategyConfig) strategy.Params {
	return strategy.Params{
		Delta:         s.Delta,
		PutDelta:      s.PutDelta,
		CallDelta:     s.CallDelta,
		NetDelta:      s.NetDelta,
		Strike:        s.Strike,
		PutStrike:     s.PutStrike,
		CallStrike:    s.CallStrike,
		FromPrice:     s.FromPrice,
		ToPrice:       s.ToPrice,
		WingSize:      s.WingSize,
		PutWingSize:   s.PutWingSize,
		CallWingSize:  s.CallWingSize,
		LeftWingSize:  s.LeftWingSize,
		RightWingSize: s.RightWingSize,
		Right:         models.OptionRight(s.Right),
		Credit:        s.IsCredit(),
	}
}

// Scan runs one engine pass at the given time: fills, exits, statistics,
// the portfolio floor, then entries. A halted engine does nothing.
func (e *Engine) Scan(now time.Time) {
	if e.halted {
		return
	}

	e.drainFills()
	for _, r := range e.runners {
		r.book.Manage(now)
	}
	e.drainFills()
	e.collectClosed()

	if e.belowFloor() {
		e.logger.Printf("portfolio value %.2f at or below floor %.2f, liquidating",
			e.host.PortfolioValue(), e.risk.PortfolioFloor)
		e.Liquidate(now)
		e.halted = true
		return
	}

	if !e.entryWindow(now) {
		return
	}
	e.openPositions(now)
	e.drainFills()
}

// drainFills forwards every queued fill event to the books. A book ignores
// tags it doesn't own, so events can fan out to all of them.
func (e *Engine) drainFills() {
	for {
		select {
		case ev := <-e.host.Fills():
			for _, r := range e.runners {
				r.book.OnFillEvent(ev)
			}
		default:
			return
		}
	}
}

// entryWindow reports whether now falls inside the trading window on a
// scheduled interval boundary. Entries fire only on whole multiples of the
// scan interval past the daily start time.
func (e *Engine) entryWindow(now time.Time) bool {
	if !e.schedule.Contains(now) {
		return false
	}
	interval := e.schedule.ScanInterval()
	if interval < time.Minute {
		return true
	}
	local := now.In(e.schedule.Location())
	y, m, d := local.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, local.Location()).Add(e.schedule.StartOffset())
	elapsed := local.Sub(start)
	if elapsed < 0 {
		return false
	}
	minutes := int(elapsed.Round(time.Minute) / time.Minute)
	step := int(interval / time.Minute)
	return minutes%step == 0
}

func (e *Engine) belowFloor() bool {
	return e.risk.PortfolioFloor > 0 && e.host.PortfolioValue() <= e.risk.PortfolioFloor
}

// Liquidate force-closes every live position and absorbs the resulting
// fills into the statistics. The driver calls it at the end of a run; the
// scan loop calls it when the portfolio floor is breached.
func (e *Engine) Liquidate(now time.Time) {
	for _, r := range e.runners {
		r.book.CloseAll(now)
	}
	e.drainFills()
	e.collectClosed()
}

// Halted reports whether the engine stopped itself at the portfolio floor.
func (e *Engine) Halted() bool { return e.halted }

// Stats returns the accumulated run statistics.
func (e *Engine) Stats() models.RunStats { return e.stats }

// ActiveCount is the number of live positions across all strategies.
func (e *Engine) ActiveCount() int {
	n := 0
	for _, r := range e.runners {
		n += r.book.ActiveCount()
	}
	return n
}

// Positions returns copies of every live position across all strategies.
func (e *Engine) Positions() []*models.Position {
	var out []*models.Position
	for _, r := range e.runners {
		out = append(out, r.book.Positions()...)
	}
	return out
}
