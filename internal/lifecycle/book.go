// Package lifecycle owns positions from order submission to terminal
// state: fill accounting against working orders, pending combo limit
// orders, exit evaluation and the close path.
package lifecycle

import (
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"sort"
	"time"

	"github.com/rcc-trading/condorhawk/internal/broker"
	"github.com/rcc-trading/condorhawk/internal/models"
	"github.com/rcc-trading/condorhawk/internal/storage"
)

// ErrRejected reports an order that failed pre-submission validation.
// Nothing is submitted for a rejected order.
var ErrRejected = errors.New("order rejected")

// TagGenerator mints a position id and the order tag stamped on every leg
// submission. Fill events are matched back to positions by tag.
type TagGenerator func(strategy string) (id, tag string)

// Exit reasons recorded on terminal positions.
const (
	ReasonStopLoss     = "stopLoss"
	ReasonProfitTarget = "profitTarget"
	ReasonDitThreshold = "ditThreshold"
	ReasonDteThreshold = "dteThreshold"
	ReasonExpiration   = "expiration"
	ReasonLiquidation  = "liquidation"
	ReasonCancelled    = "cancelled"
)

const (
	phaseOpen  = "open"
	phaseClose = "close"
)

// Config tunes exit rules and pre-submission validation.
type Config struct {
	// Strategy restricts restore to positions opened under this name,
	// so books sharing a store don't adopt each other's positions.
	// Empty adopts every stored position.
	Strategy string
	// ProfitTarget closes a position once P&L reaches this fraction of
	// the open premium.
	ProfitTarget float64
	// StopLossMultiplier sets the loss threshold as a multiple of the
	// open premium. The threshold is bounded below by the position's
	// worst-case loss, so a spread never "stops out" beyond it.
	StopLossMultiplier float64
	// EntryDte is the targeted days-to-expiry at entry. The DTE exit is
	// active only when it exceeds DteThreshold.
	EntryDte int
	// DteThreshold exits when days to expiry fall to this level. Zero
	// disables the exit.
	DteThreshold int
	// ForceDteThreshold makes the DTE exit unconditional; otherwise it
	// waits for a non-negative P&L.
	ForceDteThreshold bool
	// DitThreshold exits after this many days in trade once the position
	// is profitable. Zero disables.
	DitThreshold int
	// HardDitThreshold exits unconditionally after this many days in
	// trade. Zero disables.
	HardDitThreshold int
	// Slippage per contract leg, applied when revaluing pending limit
	// orders and pricing closes.
	Slippage float64
	// ValidateQuantity rejects orders sized above their quantity ceiling.
	ValidateQuantity bool
	// ValidateBidAskSpread defers pricing decisions while the aggregate
	// spread is too wide relative to the premium.
	ValidateBidAskSpread bool
	// BidAskSpreadRatio is the width threshold for spread validation.
	BidAskSpreadRatio float64
	// MaxOrderQuantity is the fallback quantity ceiling for descriptors
	// that don't carry their own.
	MaxOrderQuantity int
	// MarketCloseCutoff is the clock offset from midnight after which a
	// position expiring today must be closed.
	MarketCloseCutoff time.Duration
}

// DefaultConfig mirrors the standard strategy parameter defaults.
var DefaultConfig = Config{
	ProfitTarget:       0.6,
	StopLossMultiplier: 1.5,
	EntryDte:           45,
	DteThreshold:       21,
	ValidateQuantity:   true,
	BidAskSpreadRatio:  0.3,
	MaxOrderQuantity:   1,
	MarketCloseCutoff:  15*time.Hour + 45*time.Minute,
}

// workingLeg tracks one leg of a submitted order until it fills in full.
type workingLeg struct {
	phase    string
	required int
}

// pendingLimit is a combo limit order simulated over market orders: it
// converts to per-leg market orders once the aggregate mid, net of
// slippage, reaches the limit price.
type pendingLimit struct {
	positionID string
	phase      string
	limitPrice float64
}

// Book owns every live position. All methods run on the engine goroutine;
// ticks and fill events arrive sequentially, so there is no locking.
type Book struct {
	host    broker.Host
	storage storage.Interface
	logger  *log.Logger
	config  Config
	tags    TagGenerator

	positions map[string]*models.Position
	byTag     map[string]string
	working   map[string]map[string]*workingLeg
	pending   map[string]*pendingLimit
	closed    []*models.Position
}

// NewBook creates a position book and restores any persisted open
// positions from storage.
func NewBook(
	host broker.Host,
	store storage.Interface,
	logger *log.Logger,
	tags TagGenerator,
	config ...Config,
) *Book {
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}

	// Guard against nil logger
	if logger == nil {
		logger = log.New(os.Stderr, "lifecycle: ", log.LstdFlags)
	}

	// Validate and clamp config values
	if cfg.ProfitTarget < 0 {
		cfg.ProfitTarget = DefaultConfig.ProfitTarget
	}
	if cfg.StopLossMultiplier < 0 {
		cfg.StopLossMultiplier = DefaultConfig.StopLossMultiplier
	}
	if cfg.Slippage < 0 {
		cfg.Slippage = 0
	}
	if cfg.BidAskSpreadRatio <= 0 {
		cfg.BidAskSpreadRatio = DefaultConfig.BidAskSpreadRatio
	}
	if cfg.MaxOrderQuantity < 1 {
		cfg.MaxOrderQuantity = DefaultConfig.MaxOrderQuantity
	}
	if cfg.MarketCloseCutoff <= 0 {
		cfg.MarketCloseCutoff = DefaultConfig.MarketCloseCutoff
	}
	if cfg.DteThreshold < 0 {
		cfg.DteThreshold = 0
	}
	if cfg.DitThreshold < 0 {
		cfg.DitThreshold = 0
	}
	if cfg.HardDitThreshold < 0 {
		cfg.HardDitThreshold = 0
	}

	// Validate required dependencies (fail fast to avoid later panics)
	if host == nil {
		panic("lifecycle.NewBook: host must not be nil")
	}
	if store == nil {
		panic("lifecycle.NewBook: storage must not be nil")
	}
	if tags == nil {
		panic("lifecycle.NewBook: tag generator must not be nil")
	}

	b := &Book{
		host:      host,
		storage:   store,
		logger:    logger,
		config:    cfg,
		tags:      tags,
		positions: make(map[string]*models.Position),
		byTag:     make(map[string]string),
		working:   make(map[string]map[string]*workingLeg),
		pending:   make(map[string]*pendingLimit),
	}
	b.restore()
	return b
}

// restore rebuilds the in-memory order tracking from a persisted snapshot
// so a restarted run picks up where it left off.
func (b *Book) restore() {
	for _, pos := range b.storage.GetPositions() {
		if b.config.Strategy != "" && pos.Strategy != b.config.Strategy {
			continue
		}
		state := pos.GetCurrentState()
		if state == models.StateClosed || state == models.StateCancelled {
			continue
		}
		b.positions[pos.ID] = pos
		b.byTag[pos.Tag] = pos.ID

		switch state {
		case models.StateAwaitingOpenFill:
			b.rebuildWorking(pos, phaseOpen)
			// A combo limit that already converted to market legs is
			// indistinguishable from a pending one until fills arrive;
			// zero fills means the trigger never fired.
			if pos.UseLimitOrder && pos.Open.Fills == 0 {
				b.pending[pos.Tag] = &pendingLimit{
					positionID: pos.ID,
					phase:      phaseOpen,
					limitPrice: pos.Open.LimitPrice,
				}
			}
		case models.StateAwaitingCloseFill:
			b.rebuildWorking(pos, phaseClose)
			if pos.UseLimitOrder && !pos.ExitMarket && pos.Close.Fills == 0 {
				b.pending[pos.Tag] = &pendingLimit{
					positionID: pos.ID,
					phase:      phaseClose,
					limitPrice: pos.Close.LimitPrice,
				}
			}
		}
	}
	if n := len(b.positions); n > 0 {
		b.logger.Printf("restored %d open positions from storage", n)
	}
}

func (b *Book) rebuildWorking(pos *models.Position, phase string) {
	rec := pos.Open
	if phase == phaseClose {
		rec = pos.Close
	}
	legs := make(map[string]*workingLeg)
	for _, leg := range pos.Legs {
		required := models.AbsInt(leg.Side) * pos.Quantity
		if rec.LegFills[leg.Contract.Symbol] >= required {
			continue
		}
		legs[leg.Contract.Symbol] = &workingLeg{phase: phase, required: required}
	}
	if len(legs) > 0 {
		b.working[pos.Tag] = legs
	}
}

// OpenPosition validates a descriptor, registers the position and submits
// the opening order. It returns the new position id. Validation failures
// return ErrRejected and submit nothing.
func (b *Book) OpenPosition(desc *models.OrderDescriptor) (string, error) {
	if desc == nil || len(desc.Legs) == 0 {
		return "", fmt.Errorf("%w: no legs", ErrRejected)
	}

	maxQty := desc.MaxQuantity
	if maxQty <= 0 {
		maxQty = b.config.MaxOrderQuantity
	}
	wantSign := -1.0
	if desc.IsCredit {
		wantSign = 1.0
	}

	switch {
	case desc.Quantity == 0:
		return "", b.reject(desc, "zero quantity")
	case models.SignFloat(desc.MidPrice) != wantSign:
		return "", b.reject(desc, fmt.Sprintf("mid price %.2f inconsistent with credit=%t",
			desc.MidPrice, desc.IsCredit))
	case b.config.ValidateQuantity && desc.Quantity > maxQty:
		return "", b.reject(desc, fmt.Sprintf("quantity %d above maximum %d", desc.Quantity, maxQty))
	case !desc.UseLimitOrder && b.config.ValidateBidAskSpread &&
		math.Abs(desc.BidAskSpread) > b.config.BidAskSpreadRatio*math.Abs(desc.MidPrice):
		// Limit orders re-check the spread at execution time instead.
		return "", b.reject(desc, fmt.Sprintf("bid-ask spread %.2f too wide for mid %.2f",
			desc.BidAskSpread, desc.MidPrice))
	}

	now := b.host.Now()
	id, tag := b.tags(desc.Strategy)
	openDTE := broker.DaysBetween(now, desc.Expiry)
	pos := models.NewPosition(desc, id, tag, now, openDTE)
	pos.UnderlyingAtOpen = b.host.UnderlyingPrice()
	pos.Open.Orders = append(pos.Open.Orders, tag)

	b.positions[id] = pos
	b.byTag[tag] = id

	legs := make(map[string]*workingLeg, len(desc.Legs))
	for _, leg := range desc.Legs {
		legs[leg.Contract.Symbol] = &workingLeg{
			phase:    phaseOpen,
			required: models.AbsInt(leg.Side) * desc.Quantity,
		}
	}
	b.working[tag] = legs

	if desc.UseLimitOrder {
		b.pending[tag] = &pendingLimit{positionID: id, phase: phaseOpen, limitPrice: desc.LimitPrice}
	} else {
		b.submitLegs(pos, 1, tag)
	}

	b.logger.Printf("%s: opening %s x%d at %.2f %s (tag %s)",
		pos.Strategy, pos.Underlying, pos.Quantity, desc.MidPrice, creditDebit(desc.IsCredit), tag)
	b.store(pos)
	return id, nil
}

func (b *Book) reject(desc *models.OrderDescriptor, reason string) error {
	b.logger.Printf("%s: order rejected: %s", desc.Strategy, reason)
	return fmt.Errorf("%w: %s", ErrRejected, reason)
}

// submitLegs sends market orders for every leg still working on the tag.
// orderSign is +1 to trade the original sides, -1 to reverse them.
func (b *Book) submitLegs(pos *models.Position, orderSign int, tag string) {
	for _, leg := range pos.Legs {
		if _, ok := b.working[tag][leg.Contract.Symbol]; !ok {
			continue
		}
		qty := orderSign * leg.Side * pos.Quantity
		if qty == 0 {
			continue
		}
		if err := b.host.SubmitMarketOrder(leg.Contract.Symbol, qty, tag); err != nil {
			b.logger.Printf("%s: market order %s x%d failed: %v",
				pos.Tag, leg.Contract.Symbol, qty, err)
		}
	}
}

// OnFillEvent applies one execution report to the book. Events for
// unknown tags or already-completed legs are ignored; they belong to
// orders the book no longer tracks.
func (b *Book) OnFillEvent(ev broker.FillEvent) {
	if ev.Status != broker.StatusFilled && ev.Status != broker.StatusPartiallyFilled {
		return
	}
	legs, ok := b.working[ev.Tag]
	if !ok {
		return
	}
	leg, ok := legs[ev.Symbol]
	if !ok {
		return
	}
	id, ok := b.byTag[ev.Tag]
	if !ok {
		return
	}
	pos, ok := b.positions[id]
	if !ok {
		return
	}

	// A fill means the order reached the market; any pending combo
	// trigger for the tag is obsolete.
	delete(b.pending, ev.Tag)

	rec := &pos.Open
	if leg.phase == phaseClose {
		rec = &pos.Close
	}

	filled := models.AbsInt(ev.Quantity)
	rec.LegFills[ev.Symbol] += filled
	if rec.LegFills[ev.Symbol] >= leg.required {
		delete(legs, ev.Symbol)
		if len(legs) == 0 {
			delete(b.working, ev.Tag)
		}
	}

	rec.Fills += filled
	// Short fills collect premium, long fills pay it.
	rec.Premium -= float64(ev.Quantity) * ev.Price * models.ContractMultiplier

	if !rec.Filled && rec.Fills >= pos.RequiredFills() {
		rec.Filled = true
		rec.FilledAt = ev.Time
		if leg.phase == phaseOpen {
			if err := pos.TransitionState(models.StateOpenFilled, models.ConditionOpenFilled); err != nil {
				b.logger.Printf("%s: %v", pos.Tag, err)
			}
			b.logger.Printf("%s: open filled, premium %.2f", pos.Tag, pos.Open.Premium)
		}
	}

	if leg.phase == phaseClose && pos.Open.Filled && pos.Close.Filled {
		pos.FinalPnL = pos.PnL()
		pos.ClosedAt = ev.Time
		if err := pos.TransitionState(models.StateClosed, models.ConditionCloseFilled); err != nil {
			b.logger.Printf("%s: %v", pos.Tag, err)
		}
		b.logger.Printf("%s: closed (%s), P&L %.2f", pos.Tag, pos.ExitReason, pos.FinalPnL)
		b.retire(pos)
		return
	}

	b.store(pos)
}

// Manage runs one evaluation pass: pending limit orders first, then
// per-position deadline and exit checks.
func (b *Book) Manage(now time.Time) {
	b.ManagePendingLimitOrders()

	for _, id := range b.sortedIDs() {
		pos, ok := b.positions[id]
		if !ok {
			continue
		}
		switch pos.GetCurrentState() {
		case models.StateAwaitingOpenFill:
			b.manageOpening(pos, now)
		case models.StateOpenFilled:
			b.evaluateExits(pos, now)
		case models.StateAwaitingCloseFill:
			b.manageClosing(pos, now)
		}
	}
}

// manageOpening cancels an opening order that reached its fill deadline
// with zero fills. Partially filled orders keep working.
func (b *Book) manageOpening(pos *models.Position, now time.Time) {
	if pos.Open.Fills > 0 {
		return
	}
	if pos.Open.LimitExpiry.IsZero() || !now.After(pos.Open.LimitExpiry) {
		return
	}

	delete(b.pending, pos.Tag)
	delete(b.working, pos.Tag)
	pos.ExitReason = ReasonCancelled
	if err := pos.TransitionState(models.StateCancelled, models.ConditionLimitExpired); err != nil {
		b.logger.Printf("%s: %v", pos.Tag, err)
		return
	}
	pos.ClosedAt = now
	b.logger.Printf("%s: opening order expired unfilled, cancelled", pos.Tag)
	b.retire(pos)
}

// evaluateExits revalues an open position and walks the exit chain; the
// first matching rule closes the position.
func (b *Book) evaluateExits(pos *models.Position, now time.Time) {
	val := b.value(pos)
	if val.stale {
		// Quotes missing this tick; price it next tick.
		return
	}

	openPremium := pos.Open.Premium
	if b.config.ValidateBidAskSpread &&
		val.spread > b.config.BidAskSpreadRatio*math.Abs(openPremium)/models.ContractMultiplier {
		b.logger.Printf("%s: bid-ask spread %.2f too wide to price, skipping", pos.Tag, val.spread)
		return
	}

	pnl := openPremium + val.closeMid*float64(pos.Quantity)*models.ContractMultiplier
	pos.ObservePnL(pnl)

	targetProfit := math.Abs(openPremium) * b.config.ProfitTarget
	stopLoss := -math.Abs(openPremium) * b.config.StopLossMultiplier
	netMaxLoss := pos.MaxLoss*float64(pos.Quantity) + openPremium

	dte := pos.CalculateDTE(now)
	dit := pos.DaysInTrade(now)

	var reason string
	forceMarket := false
	switch {
	case netMaxLoss <= pnl && pnl <= stopLoss:
		reason = ReasonStopLoss
		forceMarket = true
	case pnl >= targetProfit:
		reason = ReasonProfitTarget
	case b.config.HardDitThreshold > 0 && dit >= b.config.HardDitThreshold:
		reason = ReasonDitThreshold
	case b.config.DitThreshold > 0 && dit >= b.config.DitThreshold && pnl >= 0:
		reason = ReasonDitThreshold
	case b.config.DteThreshold > 0 && b.config.EntryDte > b.config.DteThreshold &&
		dte <= b.config.DteThreshold && (b.config.ForceDteThreshold || pnl >= 0):
		reason = ReasonDteThreshold
	case dte == 0 && pastCutoff(now, b.config.MarketCloseCutoff):
		reason = ReasonExpiration
	default:
		return
	}

	b.closePosition(pos, val, reason, forceMarket, now)
}

// manageClosing resets a closing order that reached its deadline with
// zero fills; the position returns to OpenFilled and is repriced on the
// next pass.
func (b *Book) manageClosing(pos *models.Position, now time.Time) {
	if pos.Close.Fills > 0 {
		return
	}
	if pos.Close.LimitExpiry.IsZero() || !now.After(pos.Close.LimitExpiry) {
		return
	}

	delete(b.pending, pos.Tag)
	delete(b.working, pos.Tag)
	if err := pos.TransitionState(models.StateOpenFilled, models.ConditionCloseExpired); err != nil {
		b.logger.Printf("%s: %v", pos.Tag, err)
		return
	}
	b.logger.Printf("%s: closing order expired unfilled, repricing", pos.Tag)
	b.store(pos)
}

// positionValue is a revaluation against live quotes. closeMid is the
// signed aggregate mid of closing the position (positive pays the holder);
// closeLimit nets out slippage per contract leg.
type positionValue struct {
	closeMid   float64
	closeLimit float64
	spread     float64
	stale      bool
}

// value revalues the position's legs. Legs with no live quote fall back
// to the entry snapshot and mark the result stale.
func (b *Book) value(pos *models.Position) positionValue {
	var val positionValue
	for _, leg := range pos.Legs {
		quote := b.host.Quote(leg.Contract.Symbol)
		if quote == nil {
			quote = leg.Contract
			val.stale = true
		}
		mid := quote.MidPrice()
		val.spread += quote.BidAskSpread()
		val.closeMid += float64(leg.Side) * mid
		val.closeLimit += float64(leg.Side)*mid - float64(models.AbsInt(leg.Side))*b.config.Slippage
	}
	return val
}

// closePosition submits the closing order. Stop-loss and liquidation
// closes go straight to market; otherwise a limit order works until the
// expiration threshold.
func (b *Book) closePosition(pos *models.Position, val positionValue, reason string, forceMarket bool, now time.Time) {
	expiry := pos.Expiry
	// Past this point on expiration day only market orders make sense.
	expiration := time.Date(expiry.Year(), expiry.Month(), expiry.Day(),
		15, 40, 0, 0, expiry.Location())
	threshold := minTime(expiration, pos.LastTradeCutoff)

	useLimit := pos.UseLimitOrder && !now.After(threshold) && !forceMarket

	pos.ExitReason = reason
	pos.ExitMarket = !useLimit
	pos.UnderlyingAtClose = b.host.UnderlyingPrice()
	pos.Close.OrderMidPrice = val.closeMid
	pos.Close.LimitPrice = val.closeLimit
	pos.Close.MinPrice = val.closeMid
	pos.Close.MaxPrice = val.closeMid
	pos.Close.SubmittedAt = now
	pos.Close.LimitExpiry = minTime(now.Add(pos.LimitTTL), threshold)
	pos.Close.StalePrice = val.stale
	pos.Close.Orders = append(pos.Close.Orders, pos.Tag)

	if err := pos.TransitionState(models.StateAwaitingCloseFill, models.ConditionCloseSubmitted); err != nil {
		b.logger.Printf("%s: %v", pos.Tag, err)
		return
	}

	legs := make(map[string]*workingLeg, len(pos.Legs))
	for _, leg := range pos.Legs {
		legs[leg.Contract.Symbol] = &workingLeg{
			phase:    phaseClose,
			required: models.AbsInt(leg.Side) * pos.Quantity,
		}
	}
	b.working[pos.Tag] = legs

	if useLimit {
		b.pending[pos.Tag] = &pendingLimit{positionID: pos.ID, phase: phaseClose, limitPrice: val.closeLimit}
		b.logger.Printf("%s: closing (%s) with limit %.2f", pos.Tag, reason, val.closeLimit)
	} else {
		b.logger.Printf("%s: closing (%s) at market, mid %.2f", pos.Tag, reason, val.closeMid)
		b.submitLegs(pos, -1, pos.Tag)
	}

	b.store(pos)
}

// ManagePendingLimitOrders revalues every pending combo limit order and
// converts the ones whose aggregate mid reached the limit price into
// per-leg market orders.
func (b *Book) ManagePendingLimitOrders() {
	tags := make([]string, 0, len(b.pending))
	for tag := range b.pending {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	for _, tag := range tags {
		pl := b.pending[tag]
		pos, ok := b.positions[pl.positionID]
		if !ok {
			delete(b.pending, tag)
			continue
		}

		rec := &pos.Open
		transactionSign := -1.0
		orderSign := 1
		if pl.phase == phaseClose {
			rec = &pos.Close
			transactionSign = 1.0
			orderSign = -1
		}

		sum := 0.0
		spread := 0.0
		totalSlippage := 0.0
		stale := false
		for _, leg := range pos.Legs {
			quote := b.host.Quote(leg.Contract.Symbol)
			if quote == nil {
				stale = true
				break
			}
			sum += float64(leg.Side) * quote.MidPrice()
			spread += quote.BidAskSpread()
			totalSlippage += float64(models.AbsInt(leg.Side)) * b.config.Slippage
		}
		if stale {
			continue
		}

		midPrice := transactionSign*sum - totalSlippage
		if midPrice < rec.MinPrice {
			rec.MinPrice = midPrice
		}
		if midPrice > rec.MaxPrice {
			rec.MaxPrice = midPrice
		}

		if midPrice < pl.limitPrice {
			continue
		}
		if b.config.ValidateBidAskSpread && math.Abs(spread) > b.config.BidAskSpreadRatio*math.Abs(midPrice) {
			continue
		}

		if pl.phase == phaseOpen {
			pos.UnderlyingAtOpen = b.host.UnderlyingPrice()
		} else {
			pos.UnderlyingAtClose = b.host.UnderlyingPrice()
		}
		b.logger.Printf("%s: %s limit reached (mid %.2f >= limit %.2f), sending market orders",
			pos.Tag, pl.phase, midPrice, pl.limitPrice)
		b.submitLegs(pos, orderSign, tag)
		delete(b.pending, tag)
		b.store(pos)
	}
}

// CloseAll liquidates the book: unfilled opening orders are cancelled,
// open positions close at market, and working close limits convert to
// market orders immediately.
func (b *Book) CloseAll(now time.Time) {
	for _, id := range b.sortedIDs() {
		pos, ok := b.positions[id]
		if !ok {
			continue
		}
		switch pos.GetCurrentState() {
		case models.StateAwaitingOpenFill:
			if pos.Open.Fills > 0 {
				b.logger.Printf("%s: liquidation with a partially filled opening order, leaving it to fill", pos.Tag)
				continue
			}
			delete(b.pending, pos.Tag)
			delete(b.working, pos.Tag)
			pos.ExitReason = ReasonCancelled
			if err := pos.TransitionState(models.StateCancelled, models.ConditionLimitExpired); err != nil {
				b.logger.Printf("%s: %v", pos.Tag, err)
				continue
			}
			pos.ClosedAt = now
			b.logger.Printf("%s: liquidation cancelled the unfilled opening order", pos.Tag)
			b.retire(pos)
		case models.StateOpenFilled:
			val := b.value(pos)
			b.closePosition(pos, val, ReasonLiquidation, true, now)
		case models.StateAwaitingCloseFill:
			if _, ok := b.pending[pos.Tag]; !ok {
				continue
			}
			delete(b.pending, pos.Tag)
			pos.ExitMarket = true
			pos.UnderlyingAtClose = b.host.UnderlyingPrice()
			b.logger.Printf("%s: liquidation converting the working close limit to market orders", pos.Tag)
			b.submitLegs(pos, -1, pos.Tag)
			b.store(pos)
		}
	}
}

// retire moves a terminal position out of the live book and into history.
func (b *Book) retire(pos *models.Position) {
	delete(b.positions, pos.ID)
	delete(b.byTag, pos.Tag)
	delete(b.working, pos.Tag)
	delete(b.pending, pos.Tag)
	b.closed = append(b.closed, pos)

	if err := b.storage.RemovePosition(pos.ID); err != nil && !errors.Is(err, storage.ErrPositionNotFound) {
		b.logger.Printf("storage: removing %s: %v", pos.ID, err)
	}
	if err := b.storage.AppendHistory(pos); err != nil {
		b.logger.Printf("storage: archiving %s: %v", pos.ID, err)
	}
}

// store persists a position snapshot. Storage failures are logged and
// never interrupt trading.
func (b *Book) store(pos *models.Position) {
	if err := b.storage.SetPosition(pos); err != nil {
		b.logger.Printf("storage: saving %s: %v", pos.ID, err)
	}
}

// Positions returns deep copies of the live positions, ordered by id.
func (b *Book) Positions() []*models.Position {
	out := make([]*models.Position, 0, len(b.positions))
	for _, id := range b.sortedIDs() {
		out = append(out, b.positions[id].Copy())
	}
	return out
}

// Position returns a deep copy of one live position.
func (b *Book) Position(id string) (*models.Position, bool) {
	pos, ok := b.positions[id]
	if !ok {
		return nil, false
	}
	return pos.Copy(), true
}

// ActiveCount is the number of live (non-terminal) positions.
func (b *Book) ActiveCount() int { return len(b.positions) }

// HasExpiry reports whether any live position expires on the given date.
func (b *Book) HasExpiry(expiry time.Time) bool {
	ey, em, ed := expiry.Date()
	for _, pos := range b.positions {
		py, pm, pd := pos.Expiry.Date()
		if py == ey && pm == em && pd == ed {
			return true
		}
	}
	return false
}

// DrainClosed returns the positions that reached a terminal state since
// the last call and clears the list.
func (b *Book) DrainClosed() []*models.Position {
	out := b.closed
	b.closed = nil
	return out
}

func (b *Book) sortedIDs() []string {
	ids := make([]string, 0, len(b.positions))
	for id := range b.positions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// pastCutoff reports whether now's clock time is past the cutoff offset
// from midnight.
func pastCutoff(now time.Time, cutoff time.Duration) bool {
	y, m, d := now.Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	return now.Sub(midnight) > cutoff
}

func minTime(a, t time.Time) time.Time {
	if a.Before(t) {
		return a
	}
	return t
}

func creditDebit(isCredit bool) string {
	if isCredit {
		return "credit"
	}
	return "debit"
}
