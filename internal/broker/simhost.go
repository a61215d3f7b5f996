package broker

import (
	"fmt"
	"log"
	"os"
	"sort"
	"time"

	"github.com/rcc-trading/condorhawk/internal/models"
)

// SimConfig holds configuration for the simulated host.
type SimConfig struct {
	InitialCash  float64 // Starting cash balance
	RiskFreeRate float64 // Annualized risk-free rate
	FillBuffer   int     // Capacity of the fill event channel
}

// DefaultSimConfig provides sensible defaults for the simulated host.
var DefaultSimConfig = SimConfig{
	InitialCash:  100_000,
	RiskFreeRate: 0.001,
	FillBuffer:   256,
}

// SimHost is a deterministic in-memory Host for backtests and tests. The
// harness drives it: set the clock, load chain snapshots, then let the
// engine scan. Market orders fill immediately and completely at the quote
// mid price; slippage modeling belongs to order pricing, not the fill.
type SimHost struct {
	logger *log.Logger
	config SimConfig

	now    time.Time
	spot   float64
	chains map[string][]*models.OptionContract
	quotes map[string]*models.OptionContract

	cash      float64
	margin    float64
	marginSet bool
	fills     chan FillEvent
}

// Ensure SimHost implements Host at compile time.
var _ Host = (*SimHost)(nil)

// NewSimHost creates a simulated host. If logger is nil a default stderr
// logger is used.
func NewSimHost(logger *log.Logger, config ...SimConfig) *SimHost {
	if logger == nil {
		logger = log.New(os.Stderr, "broker: ", log.LstdFlags)
	}

	cfg := DefaultSimConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	if cfg.InitialCash <= 0 {
		cfg.InitialCash = DefaultSimConfig.InitialCash
	}
	if cfg.FillBuffer <= 0 {
		cfg.FillBuffer = DefaultSimConfig.FillBuffer
	}

	return &SimHost{
		logger: logger,
		config: cfg,
		chains: make(map[string][]*models.OptionContract),
		quotes: make(map[string]*models.OptionContract),
		cash:   cfg.InitialCash,
		fills:  make(chan FillEvent, cfg.FillBuffer),
	}
}

func expiryKey(expiry time.Time) string {
	return expiry.UTC().Format("2006-01-02")
}

// SetClock advances the host clock.
func (h *SimHost) SetClock(now time.Time) { h.now = now }

// SetUnderlyingPrice sets the current underlying spot price.
func (h *SimHost) SetUnderlyingPrice(spot float64) { h.spot = spot }

// SetMarginRemaining overrides the margin scalar. By default it tracks cash.
func (h *SimHost) SetMarginRemaining(margin float64) {
	h.margin = margin
	h.marginSet = true
}

// LoadChain installs the chain snapshot for one expiry and indexes its
// quotes by symbol. Reloading an expiry replaces the previous snapshot.
func (h *SimHost) LoadChain(expiry time.Time, contracts []*models.OptionContract) {
	key := expiryKey(expiry)
	if old, ok := h.chains[key]; ok {
		for _, c := range old {
			delete(h.quotes, c.Symbol)
		}
	}
	h.chains[key] = contracts
	for _, c := range contracts {
		h.quotes[c.Symbol] = c
	}
}

// Quote returns the current quote for a symbol, or nil when unknown.
func (h *SimHost) Quote(symbol string) *models.OptionContract {
	return h.quotes[symbol]
}

// InitialCash reports the starting cash balance.
func (h *SimHost) InitialCash() float64 { return h.config.InitialCash }

// Now returns the host clock.
func (h *SimHost) Now() time.Time { return h.now }

// UnderlyingPrice returns the current underlying spot price.
func (h *SimHost) UnderlyingPrice() float64 { return h.spot }

// Expiries returns the loaded expiries in ascending order.
func (h *SimHost) Expiries() []time.Time {
	out := make([]time.Time, 0, len(h.chains))
	for key := range h.chains {
		t, err := time.Parse("2006-01-02", key)
		if err != nil {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// Chain returns a copy of the snapshot for one expiry, nil when none is
// loaded. Contracts are shared; callers must not mutate them.
func (h *SimHost) Chain(expiry time.Time) []*models.OptionContract {
	stored, ok := h.chains[expiryKey(expiry)]
	if !ok {
		return nil
	}
	return append([]*models.OptionContract(nil), stored...)
}

// SubmitMarketOrder fills immediately at the quote mid price and reports
// the execution on Fills. The cash balance moves by the premium exchanged.
func (h *SimHost) SubmitMarketOrder(symbol string, quantity int, tag string) error {
	if quantity == 0 {
		return fmt.Errorf("broker: zero quantity order for %s", symbol)
	}
	quote, ok := h.quotes[symbol]
	if !ok {
		return fmt.Errorf("broker: no quote for %s", symbol)
	}

	price := quote.MidPrice()
	h.cash -= float64(quantity) * price * models.ContractMultiplier

	event := FillEvent{
		Tag:      tag,
		Symbol:   symbol,
		Quantity: quantity,
		Price:    price,
		Status:   StatusFilled,
		Time:     h.now,
	}
	select {
	case h.fills <- event:
	default:
		h.logger.Printf("fill buffer full, dropping event for %s (tag %s)", symbol, tag)
	}
	return nil
}

// Fills returns the fill event stream.
func (h *SimHost) Fills() <-chan FillEvent { return h.fills }

// MarginRemaining reports available margin. It mirrors cash unless
// overridden with SetMarginRemaining.
func (h *SimHost) MarginRemaining() float64 {
	if h.marginSet {
		return h.margin
	}
	return h.cash
}

// PortfolioValue reports the cash balance. Open option positions are
// valued by the position book, not here.
func (h *SimHost) PortfolioValue() float64 { return h.cash }

// RiskFreeRate returns the configured annualized risk-free rate.
func (h *SimHost) RiskFreeRate() float64 { return h.config.RiskFreeRate }
