// Package orders turns assembled option legs into sized, priced order
// descriptors: aggregate mid and limit pricing with slippage, premium-based
// quantity sizing, and the worst-case loss of the combination.
package orders

import (
	"log"
	"math"
	"os"
	"time"

	"github.com/rcc-trading/condorhawk/internal/broker"
	"github.com/rcc-trading/condorhawk/internal/models"
	"github.com/rcc-trading/condorhawk/internal/pricing"
	"github.com/rcc-trading/condorhawk/internal/util"
)

// minOrderPrice is the floor below which an aggregate mid-price carries no
// meaningful credit or debit.
const minOrderPrice = 1e-5

// Config contains configuration for the order builder. Zero values mean
// "not set" for the premium targets and the absolute limit price.
type Config struct {
	// Underlying is the ticker stamped on descriptors.
	Underlying string
	// Slippage widens each contract leg's price away from the mid when
	// forming limit prices.
	Slippage float64
	// LimitOrderRelativePriceAdjustment scales the aggregate mid into the
	// limit price, e.g. -0.1 asks for 10% less credit.
	LimitOrderRelativePriceAdjustment float64
	// LimitOrderAbsolutePrice, when non-zero, pins the limit price directly.
	LimitOrderAbsolutePrice float64
	// LimitOrderExpiration bounds how long an unfilled limit order lives.
	LimitOrderExpiration time.Duration
	// TargetPremium sizes the order to a fixed credit/debit in dollars.
	TargetPremium float64
	// TargetPremiumPct sizes the order to a fraction of portfolio value,
	// clamped to [0, 1]. Takes precedence over TargetPremium.
	TargetPremiumPct float64
	// MaxOrderQuantity is the contract count used when no premium target is
	// set, and the cap enforced by quantity validation at submission.
	MaxOrderQuantity int
	// UseLimitOrders selects limit pricing for entries and sizing.
	UseLimitOrders bool
	// MarketCloseCutoff is the clock offset from midnight on the last
	// trading day after which the position must not remain open.
	MarketCloseCutoff time.Duration
}

// DefaultConfig is the default configuration for the order builder.
var DefaultConfig = Config{
	Underlying:           "SPX",
	LimitOrderExpiration: 8 * time.Hour,
	MaxOrderQuantity:     1,
	UseLimitOrders:       true,
	MarketCloseCutoff:    15*time.Hour + 45*time.Minute,
}

// Builder prices and sizes multi-leg orders against the host's account
// scalars. It holds the account value observed at construction so premium
// targets can scale with portfolio growth.
type Builder struct {
	host         broker.Host
	pricer       *pricing.Engine
	logger       *log.Logger
	config       Config
	initialValue float64
}

// NewBuilder creates an order builder.
func NewBuilder(
	host broker.Host,
	pricer *pricing.Engine,
	logger *log.Logger,
	config ...Config,
) *Builder {
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}

	// Guard against nil logger
	if logger == nil {
		logger = log.New(os.Stderr, "orders: ", log.LstdFlags)
	}

	// Validate and clamp config values
	if cfg.Underlying == "" {
		cfg.Underlying = DefaultConfig.Underlying
	}
	if cfg.Slippage < 0 {
		cfg.Slippage = 0
	}
	if cfg.LimitOrderExpiration <= 0 {
		cfg.LimitOrderExpiration = DefaultConfig.LimitOrderExpiration
	}
	if cfg.MaxOrderQuantity < 1 {
		cfg.MaxOrderQuantity = DefaultConfig.MaxOrderQuantity
	}
	if cfg.MarketCloseCutoff <= 0 {
		cfg.MarketCloseCutoff = DefaultConfig.MarketCloseCutoff
	}
	if cfg.TargetPremiumPct > 1 {
		cfg.TargetPremiumPct = 1
	}

	// Validate required dependencies (fail fast to avoid later panics)
	if host == nil {
		panic("orders.NewBuilder: host must not be nil")
	}
	if pricer == nil {
		panic("orders.NewBuilder: pricer must not be nil")
	}

	return &Builder{
		host:         host,
		pricer:       pricer,
		logger:       logger,
		config:       cfg,
		initialValue: host.PortfolioValue(),
	}
}

// Build prices and sizes an order from assembled legs. It returns nil when
// the legs carry no meaningful premium; that is a normal no-trade outcome,
// not an error. Empty leg roles are filled in from side and right.
func (b *Builder) Build(legs []models.Leg, strategy string, isCredit bool) *models.OrderDescriptor {
	if len(legs) == 0 {
		return nil
	}

	now := b.host.Now()
	expiry := legs[0].Contract.Expiry

	orderMid := 0.0
	spread := 0.0
	contractsPerUnit := 0
	snapshots := make([]models.LegSnapshot, 0, len(legs))
	for i := range legs {
		leg := &legs[i]
		if leg.Role == "" {
			leg.Role = LegRole(leg.Side, leg.Contract.Right)
		}
		mid := leg.Contract.MidPrice()
		// Short legs collect premium, long legs pay it.
		orderMid -= float64(leg.Side) * mid
		spread += leg.Contract.BidAskSpread()
		contractsPerUnit += models.AbsInt(leg.Side)
		snapshots = append(snapshots, models.LegSnapshot{
			Symbol:       leg.Contract.Symbol,
			Role:         leg.Role,
			Side:         leg.Side,
			Strike:       leg.Contract.Strike,
			MidPrice:     mid,
			BidAskSpread: leg.Contract.BidAskSpread(),
			Greeks:       b.pricer.ComputeGreeks(leg.Contract, now),
		})
	}

	if math.Abs(orderMid) < minOrderPrice {
		b.logger.Printf("%s: aggregate mid %.5f carries no premium, no order", strategy, orderMid)
		return nil
	}

	// Limit price: pin to the absolute target when configured, otherwise
	// scale the mid by the relative adjustment. Slippage is paid once per
	// contract leg.
	var limitPrice float64
	if b.config.LimitOrderAbsolutePrice != 0 {
		limitPrice = b.config.LimitOrderAbsolutePrice
	} else {
		limitPrice = orderMid * (1 + b.config.LimitOrderRelativePriceAdjustment)
	}
	totalSlippage := float64(contractsPerUnit) * b.config.Slippage
	limitPrice -= totalSlippage

	orderMid = util.RoundToTick(orderMid, 0.01)
	limitPrice = util.RoundToTick(limitPrice, 0.01)

	sizingPrice := orderMid
	if b.config.UseLimitOrders {
		sizingPrice = limitPrice
	}
	if math.Abs(sizingPrice) <= minOrderPrice {
		b.logger.Printf("%s: sizing price %.5f too small, no order", strategy, sizingPrice)
		return nil
	}

	target, haveTarget := b.resolveTargetPremium()
	quantity := b.MaxOrderQuantity()
	if haveTarget {
		// Never commit more premium than the available margin.
		target = math.Min(b.host.MarginRemaining(), target)
		raw := math.Abs(target / (sizingPrice * models.ContractMultiplier))
		if isCredit {
			// Sell at least one contract.
			quantity = int(math.Max(1, math.Round(raw)))
		} else {
			// A debit order must not spend past the target.
			quantity = int(math.Floor(raw))
		}
	}

	return &models.OrderDescriptor{
		Strategy:        strategy,
		Underlying:      b.config.Underlying,
		Expiry:          expiry,
		Legs:            legs,
		MidPrice:        orderMid,
		LimitPrice:      limitPrice,
		BidAskSpread:    spread,
		Quantity:        quantity,
		IsCredit:        isCredit,
		MaxQuantity:     b.MaxOrderQuantity(),
		MaxLoss:         MaxLoss(legs),
		TargetPremium:   target,
		UseLimitOrder:   b.config.UseLimitOrders,
		LimitTTL:        b.config.LimitOrderExpiration,
		LastTradeCutoff: LastTradingDay(expiry).Add(b.config.MarketCloseCutoff),
		Snapshots:       snapshots,
		CreatedAt:       now,
	}
}

// MaxOrderQuantity returns the quantity cap, scaled with portfolio growth
// when dynamic premium targeting is on. The scaled cap never drops below
// the configured value.
func (b *Builder) MaxOrderQuantity() int {
	maxQty := b.config.MaxOrderQuantity
	if b.config.TargetPremiumPct > 0 && b.initialValue > 0 {
		growth := 1 + (b.host.PortfolioValue()-b.initialValue)/b.initialValue
		scaled := int(math.Round(float64(maxQty) * growth))
		if scaled > maxQty {
			maxQty = scaled
		}
	}
	return maxQty
}

// resolveTargetPremium returns the dollar premium target, or false when
// sizing falls back to the fixed maximum quantity.
func (b *Builder) resolveTargetPremium() (float64, bool) {
	if pct := b.config.TargetPremiumPct; pct > 0 {
		return b.host.PortfolioValue() * pct, true
	}
	if b.config.TargetPremium > 0 {
		return b.config.TargetPremium, true
	}
	return 0, false
}

// LegRole names a leg by side and right, e.g. "shortPut" or "longCall".
func LegRole(side int, right models.OptionRight) string {
	prefix := "long"
	if side < 0 {
		prefix = "short"
	}
	if right == models.RightCall {
		return prefix + "Call"
	}
	return prefix + "Put"
}

// Payoff evaluates the combination's expiration payoff per share at the
// given spot price.
func Payoff(legs []models.Leg, spot float64) float64 {
	payoff := 0.0
	for _, leg := range legs {
		direction := -1.0
		if leg.Contract.Right == models.RightCall {
			direction = 1.0
		}
		payoff += float64(leg.Side) * math.Max(0, direction*(spot-leg.Contract.Strike))
	}
	return payoff
}

// MaxLoss returns the worst-case expiration loss in dollars for one
// contract of the combination, capped at zero. The payoff is piecewise
// linear, so the minimum sits at a strike or at the extremes; spot zero
// and ten times spot cover the unbounded tails.
func MaxLoss(legs []models.Leg) float64 {
	if len(legs) == 0 {
		return 0
	}
	spot := legs[0].Contract.UnderlyingPrice
	maxLoss := Payoff(legs, 0)
	for _, leg := range legs {
		maxLoss = math.Min(maxLoss, Payoff(legs, leg.Contract.Strike))
	}
	maxLoss = math.Min(maxLoss, Payoff(legs, spot*10))
	return math.Min(0, maxLoss) * models.ContractMultiplier
}

// LastTradingDay returns the last weekday on or before expiry, at midnight
// in the expiry's location. Exchange holidays are not modeled.
func LastTradingDay(expiry time.Time) time.Time {
	day := time.Date(expiry.Year(), expiry.Month(), expiry.Day(), 0, 0, 0, 0, expiry.Location())
	for day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
		day = day.AddDate(0, 0, -1)
	}
	return day
}
