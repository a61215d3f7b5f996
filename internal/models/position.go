package models

import (
	"fmt"
	"time"
)

// PhaseRecord tracks one side of a position's life: the "open" phase
// (entering) or the "close" phase (exiting). Fill counters are cumulative
// and monotonic; Filled flips once every leg reaches full quantity.
type PhaseRecord struct {
	Orders        []string       `json:"orders"` // order tags submitted for this phase
	Fills         int            `json:"fills"`  // total contracts filled across legs
	LegFills      map[string]int `json:"leg_fills"`
	Filled        bool           `json:"filled"`
	StalePrice    bool           `json:"stale_price"`
	Premium       float64        `json:"premium"`         // dollars, credit positive
	OrderMidPrice float64        `json:"order_mid_price"` // combo mid at submission, per share
	LimitPrice    float64        `json:"limit_price"`
	MinPrice      float64        `json:"min_price"` // observed combo mid range while working
	MaxPrice      float64        `json:"max_price"`
	SubmittedAt   time.Time      `json:"submitted_at"`
	FilledAt      time.Time      `json:"filled_at"`
	LimitExpiry   time.Time      `json:"limit_expiry"`
}

// Position is one live instance of an OrderDescriptor, owned exclusively
// by the lifecycle manager and referenced by Tag at the host boundary.
type Position struct {
	ID         string    `json:"id"`
	Tag        string    `json:"tag"`
	Strategy   string    `json:"strategy"`
	Underlying string    `json:"underlying"`
	Expiry     time.Time `json:"expiry"`
	Legs       []Leg     `json:"legs"`
	Quantity   int       `json:"quantity"`
	IsCredit   bool      `json:"is_credit"`
	// MaxLoss mirrors the descriptor: worst-case dollars per contract.
	MaxLoss         float64       `json:"max_loss"`
	UseLimitOrder   bool          `json:"use_limit_order"`
	LimitTTL        time.Duration `json:"limit_ttl"`
	LastTradeCutoff time.Time     `json:"last_trade_cutoff"`

	Open  PhaseRecord `json:"open"`
	Close PhaseRecord `json:"close"`

	OpenDTE  int       `json:"open_dte"`
	OpenedAt time.Time `json:"opened_at"` // submission time of the opening order

	// Underlying price when each phase completed, for tested-side stats.
	UnderlyingAtOpen  float64 `json:"underlying_at_open,omitempty"`
	UnderlyingAtClose float64 `json:"underlying_at_close,omitempty"`

	State        PositionState `json:"state"`
	StateMachine *StateMachine `json:"-"`

	ExitReason  string    `json:"exit_reason,omitempty"`
	ExitMarket  bool      `json:"exit_market,omitempty"` // close was forced to market orders
	ClosedAt    time.Time `json:"closed_at,omitempty"`
	FinalPnL    float64   `json:"final_pnl,omitempty"`
	PnLMin      float64   `json:"pnl_min"` // P&L range observed while open, dollars
	PnLMax      float64   `json:"pnl_max"`
	RangeSeeded bool      `json:"range_seeded"`
}

// NewPosition builds a Position from a descriptor at submission time.
// The state machine starts in StateAwaitingOpenFill.
func NewPosition(desc *OrderDescriptor, id, tag string, now time.Time, openDTE int) *Position {
	openFills := make(map[string]int, len(desc.Legs))
	closeFills := make(map[string]int, len(desc.Legs))
	for _, leg := range desc.Legs {
		openFills[leg.Contract.Symbol] = 0
		closeFills[leg.Contract.Symbol] = 0
	}

	p := &Position{
		ID:              id,
		Tag:             tag,
		Strategy:        desc.Strategy,
		Underlying:      desc.Underlying,
		Expiry:          desc.Expiry,
		Legs:            append([]Leg(nil), desc.Legs...),
		Quantity:        desc.Quantity,
		IsCredit:        desc.IsCredit,
		MaxLoss:         desc.MaxLoss,
		UseLimitOrder:   desc.UseLimitOrder,
		LimitTTL:        desc.LimitTTL,
		LastTradeCutoff: desc.LastTradeCutoff,
		OpenDTE:         openDTE,
		OpenedAt:        now,
		State:           StateAwaitingOpenFill,
		StateMachine:    NewStateMachine(),
	}
	p.Open = PhaseRecord{
		LegFills:      openFills,
		OrderMidPrice: desc.MidPrice,
		LimitPrice:    desc.LimitPrice,
		MinPrice:      desc.MidPrice,
		MaxPrice:      desc.MidPrice,
		SubmittedAt:   now,
	}
	// The fill deadline applies to market orders too: an opening order
	// with zero fills past it is cancelled either way.
	if desc.LimitTTL > 0 {
		p.Open.LimitExpiry = now.Add(desc.LimitTTL)
	}
	p.Close = PhaseRecord{LegFills: closeFills}
	return p
}

// ensureMachine rebuilds the state machine from the canonical State field
// after deserialization. The restored state counts as entered once so the
// machine passes its own consistency checks.
func (p *Position) ensureMachine() {
	if p.StateMachine == nil {
		p.StateMachine = NewStateMachine()
		if p.State != "" && p.State != StateAwaitingOpenFill {
			p.StateMachine.currentState = p.State
			p.StateMachine.previousState = p.State
			p.StateMachine.transitionCount[p.State]++
		}
	}
}

// GetCurrentState returns the canonical position state.
func (p *Position) GetCurrentState() PositionState {
	p.ensureMachine()
	return p.StateMachine.GetCurrentState()
}

// TransitionState validates and performs a state transition, keeping the
// serialized State field in sync with the machine.
func (p *Position) TransitionState(to PositionState, condition string) error {
	p.ensureMachine()
	if err := p.StateMachine.Transition(to, condition); err != nil {
		return err
	}
	p.State = to
	return nil
}

// NLegs is the total contract count per unit quantity (sum of |side|).
func (p *Position) NLegs() int {
	n := 0
	for _, leg := range p.Legs {
		n += abs(leg.Side)
	}
	return n
}

// RequiredFills is the total fill count that completes one phase.
func (p *Position) RequiredFills() int {
	return p.NLegs() * p.Quantity
}

// CalculateDTE returns calendar days from now to expiry, floored at zero.
// Time of day is ignored: a position expiring tomorrow reports 1 all day.
func (p *Position) CalculateDTE(now time.Time) int {
	days := calendarDays(now, p.Expiry)
	if days < 0 {
		return 0
	}
	return days
}

// DaysInTrade counts calendar days since the opening order filled. Zero
// until the open phase completes.
func (p *Position) DaysInTrade(now time.Time) int {
	if p.Open.FilledAt.IsZero() {
		return 0
	}
	days := calendarDays(p.Open.FilledAt, now)
	if days < 0 {
		return 0
	}
	return days
}

// calendarDays is the signed date difference from -> to, ignoring clock time.
func calendarDays(from, to time.Time) int {
	fy, fm, fd := from.Date()
	ty, tm, td := to.Date()
	f := time.Date(fy, fm, fd, 0, 0, 0, 0, time.UTC)
	t := time.Date(ty, tm, td, 0, 0, 0, 0, time.UTC)
	return int(t.Sub(f).Hours() / 24)
}

// PnL returns the realized running P&L in dollars: open premium plus
// close premium (the latter zero until closing fills arrive).
func (p *Position) PnL() float64 {
	return p.Open.Premium + p.Close.Premium
}

// ObservePnL folds a mark-to-market P&L value into the lifetime range.
func (p *Position) ObservePnL(pnl float64) {
	if !p.RangeSeeded {
		p.PnLMin, p.PnLMax = pnl, pnl
		p.RangeSeeded = true
		return
	}
	if pnl < p.PnLMin {
		p.PnLMin = pnl
	}
	if pnl > p.PnLMax {
		p.PnLMax = pnl
	}
}

// ValidateState checks the per-state invariants.
func (p *Position) ValidateState() error {
	p.ensureMachine()
	if err := p.StateMachine.ValidateStateConsistency(); err != nil {
		return err
	}

	switch p.GetCurrentState() {
	case StateAwaitingOpenFill:
		if p.Open.Filled {
			return fmt.Errorf("position %s awaiting open fill but open phase marked filled", p.ID)
		}
		if p.Close.Fills != 0 || len(p.Close.Orders) != 0 {
			return fmt.Errorf("position %s awaiting open fill but close phase has activity", p.ID)
		}
	case StateOpenFilled:
		if !p.Open.Filled {
			return fmt.Errorf("position %s open-filled but open phase not marked filled", p.ID)
		}
		if p.Open.Fills != p.RequiredFills() {
			return fmt.Errorf("position %s open fills %d != required %d",
				p.ID, p.Open.Fills, p.RequiredFills())
		}
	case StateAwaitingCloseFill:
		if !p.Open.Filled {
			return fmt.Errorf("position %s awaiting close fill but never open-filled", p.ID)
		}
		if len(p.Close.Orders) == 0 {
			return fmt.Errorf("position %s awaiting close fill with no close orders", p.ID)
		}
	case StateClosed:
		if !p.Open.Filled || !p.Close.Filled {
			return fmt.Errorf("position %s closed with unfilled phase", p.ID)
		}
	case StateCancelled:
		if p.Open.Fills != 0 {
			return fmt.Errorf("position %s cancelled with %d open fills", p.ID, p.Open.Fills)
		}
	}
	return nil
}

// Copy returns a deep copy, used by read-only snapshot endpoints so
// callers can never mutate the lifecycle manager's book.
func (p *Position) Copy() *Position {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Legs = append([]Leg(nil), p.Legs...)
	cp.Open = p.Open.copy()
	cp.Close = p.Close.copy()
	cp.StateMachine = p.StateMachine.Copy()
	return &cp
}

func (r PhaseRecord) copy() PhaseRecord {
	cp := r
	cp.Orders = append([]string(nil), r.Orders...)
	cp.LegFills = make(map[string]int, len(r.LegFills))
	for k, v := range r.LegFills {
		cp.LegFills[k] = v
	}
	return cp
}
