package models

import (
	"fmt"
	"math"
	"time"
)

// ContractMultiplier is the share count represented by one option contract.
const ContractMultiplier = 100.0

// Leg pairs a contract with a signed side: negative = short, positive =
// long, magnitude = ratio multiplier (2 for the body of a butterfly).
type Leg struct {
	Contract *OptionContract `json:"contract"`
	Side     int             `json:"side"`
	Role     string          `json:"role"` // e.g. "shortPut", "longCall"
}

// LegSnapshot freezes a leg's market data at order-construction time for
// audit and reporting. Quotes move after construction; the snapshot does not.
type LegSnapshot struct {
	Symbol       string  `json:"symbol"`
	Role         string  `json:"role"`
	Side         int     `json:"side"`
	Strike       float64 `json:"strike"`
	MidPrice     float64 `json:"mid_price"`
	BidAskSpread float64 `json:"bid_ask_spread"`
	Greeks       Greeks  `json:"greeks"`
}

// OrderDescriptor is the immutable output of the order builder: legs,
// aggregate pricing, sized quantity and the pre-computed worst-case loss.
// All fields are frozen at construction; the lifecycle manager copies
// whatever it needs to mutate.
type OrderDescriptor struct {
	Strategy     string        `json:"strategy"`
	Underlying   string        `json:"underlying"`
	Expiry       time.Time     `json:"expiry"`
	Legs         []Leg         `json:"legs"`
	MidPrice     float64       `json:"mid_price"` // signed, positive = net credit
	LimitPrice   float64       `json:"limit_price"`
	BidAskSpread float64       `json:"bid_ask_spread"`
	Quantity     int           `json:"quantity"`
	IsCredit     bool          `json:"is_credit"`
	// MaxQuantity is the quantity ceiling in force when the order was
	// built (growth-scaled); the lifecycle validates against it.
	MaxQuantity int `json:"max_quantity"`
	// MaxLoss is the worst-case loss in dollars for one contract of the
	// combination (payoff minimum times the contract multiplier), capped
	// at zero so riskless combinations report 0.
	MaxLoss         float64       `json:"max_loss"`
	TargetPremium   float64       `json:"target_premium"`
	UseLimitOrder   bool          `json:"use_limit_order"`
	LimitTTL        time.Duration `json:"limit_ttl"`
	LastTradeCutoff time.Time     `json:"last_trade_cutoff"`
	Snapshots       []LegSnapshot `json:"snapshots"`
	CreatedAt       time.Time     `json:"created_at"`
}

// NLegs returns the total contract count per unit quantity, the sum of
// absolute leg sides. A 1x2x1 butterfly reports 4.
func (o *OrderDescriptor) NLegs() int {
	n := 0
	for _, leg := range o.Legs {
		n += abs(leg.Side)
	}
	return n
}

// SideFor returns the signed side for a leg symbol.
func (o *OrderDescriptor) SideFor(symbol string) (int, bool) {
	for _, leg := range o.Legs {
		if leg.Contract.Symbol == symbol {
			return leg.Side, true
		}
	}
	return 0, false
}

// Validate rejects descriptors whose aggregate mid-price sign contradicts
// the credit/debit flag, and structurally broken ones. A rejected order is
// never submitted; the caller logs and drops it.
func (o *OrderDescriptor) Validate() error {
	if len(o.Legs) == 0 {
		return fmt.Errorf("order %s has no legs", o.Strategy)
	}
	if o.Quantity <= 0 {
		return fmt.Errorf("order %s has non-positive quantity %d", o.Strategy, o.Quantity)
	}
	want := -1.0
	if o.IsCredit {
		want = 1.0
	}
	if sign(o.MidPrice) != want {
		return fmt.Errorf("order %s mid-price %.2f contradicts credit flag %t",
			o.Strategy, o.MidPrice, o.IsCredit)
	}
	for _, leg := range o.Legs {
		if leg.Side == 0 {
			return fmt.Errorf("order %s leg %s has zero side", o.Strategy, leg.Contract.Symbol)
		}
		if err := leg.Contract.Validate(); err != nil {
			return fmt.Errorf("order %s: %w", o.Strategy, err)
		}
	}
	return nil
}

func sign(x float64) float64 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	default:
		return 0
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// AbsInt is the integer absolute value used across the order and
// lifecycle packages.
func AbsInt(n int) int { return abs(n) }

// SignFloat returns -1, 0 or +1.
func SignFloat(x float64) float64 { return sign(x) }

// IsInfOrNaN reports whether x is unusable for price math.
func IsInfOrNaN(x float64) bool {
	return math.IsInf(x, 0) || math.IsNaN(x)
}
