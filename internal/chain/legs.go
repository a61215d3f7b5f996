package chain

import (
	"math"
	"time"

	"github.com/rcc-trading/condorhawk/internal/models"
)

// Leg side conventions, selling: naked [-1]; straddle/strangle [-1,-1];
// vertical [-1,+1] (short anchor, long wing); iron condor and iron fly
// [+1,-1,-1,+1] as [longPut, shortPut, shortCall, longCall]; butterfly
// [-1,+2,-1] as [left, middle, right]. Buying negates every side. Roles are
// left empty here and filled in by the order builder, except the butterfly,
// whose wings need left/right qualifiers to stay distinguishable.

// NakedSpec selects a single contract by delta target, strike bound or
// mid-price range.
type NakedSpec struct {
	Right     models.OptionRight
	Strike    float64
	Delta     float64
	FromPrice float64
	ToPrice   float64
	Sell      bool
}

// Naked returns the one-leg combination and its label ("Short Put",
// "Long Call"). Nil legs when no contract qualifies.
func (s *Searcher) Naked(contracts []*models.OptionContract, spec NakedSpec, now time.Time) ([]models.Leg, string) {
	side := 1
	word := "Long"
	if spec.Sell {
		side = -1
		word = "Short"
	}
	label := word + " " + rightTitle(spec.Right)

	f := Filter{ToDelta: spec.Delta, FromPrice: spec.FromPrice, ToPrice: spec.ToPrice}
	var sorted []*models.OptionContract
	switch spec.Right {
	case models.RightPut:
		f.ToStrike = spec.Strike
		sorted = s.Puts(contracts, f, now)
	case models.RightCall:
		f.FromStrike = spec.Strike
		sorted = s.Calls(contracts, f, now)
	default:
		s.logger.Printf("naked: invalid right %q", spec.Right)
		return nil, label
	}
	if len(sorted) == 0 {
		return nil, label
	}
	return []models.Leg{{Contract: sorted[0], Side: side}}, label
}

// StraddleSpec centers a put/call pair: on the ATM strike by default, on
// Strike when set, or on the strike whose put delta is 50+NetDelta when
// NetDelta is set. Zero is a meaningful net delta, hence the pointer.
type StraddleSpec struct {
	Strike   float64
	NetDelta *float64
	Sell     bool
}

// Straddle returns [put, call] at a shared strike. Nil legs when either
// side is missing.
func (s *Searcher) Straddle(contracts []*models.OptionContract, spec StraddleSpec, now time.Time) ([]models.Leg, string) {
	const label = "Straddle"
	side := 1
	if spec.Sell {
		side = -1
	}

	delta := 0.0
	if spec.NetDelta != nil && math.Abs(*spec.NetDelta) < 50 {
		delta = 50 + *spec.NetDelta
	}

	var put, call *models.OptionContract
	if spec.Strike == 0 && delta == 0 {
		for _, c := range s.ATM(contracts, "") {
			switch {
			case c.Right == models.RightPut && put == nil:
				put = c
			case c.Right == models.RightCall && call == nil:
				call = c
			}
		}
	} else {
		puts := s.Puts(contracts, Filter{ToDelta: delta, ToStrike: spec.Strike}, now)
		if len(puts) > 0 {
			put = puts[0]
			calls := s.Calls(contracts, Filter{FromStrike: put.Strike}, now)
			if len(calls) > 0 {
				call = calls[0]
			}
		}
	}
	if put == nil || call == nil {
		return nil, label
	}
	return []models.Leg{
		{Contract: put, Side: side},
		{Contract: call, Side: side},
	}, label
}

// StrangleSpec selects an OTM put and an OTM call independently.
type StrangleSpec struct {
	CallDelta  float64
	PutDelta   float64
	CallStrike float64
	PutStrike  float64
	Sell       bool
}

// Strangle returns [put, call]. Nil legs when either side is missing.
func (s *Searcher) Strangle(contracts []*models.OptionContract, spec StrangleSpec, now time.Time) ([]models.Leg, string) {
	const label = "Strangle"
	side := 1
	if spec.Sell {
		side = -1
	}

	puts := s.Puts(contracts, Filter{ToDelta: spec.PutDelta, ToStrike: spec.PutStrike}, now)
	calls := s.Calls(contracts, Filter{ToDelta: spec.CallDelta, FromStrike: spec.CallStrike}, now)
	if len(puts) == 0 || len(calls) == 0 {
		return nil, label
	}
	return []models.Leg{
		{Contract: puts[0], Side: side},
		{Contract: calls[0], Side: side},
	}, label
}

// VerticalSpec selects a two-leg vertical spread.
type VerticalSpec struct {
	Right    models.OptionRight
	Strike   float64
	Delta    float64
	WingSize float64
	Sell     bool
}

// Vertical returns [anchor, wing] with sides [-1,+1] when selling (credit)
// or [+1,-1] when buying (debit). Nil legs unless both legs resolve.
func (s *Searcher) Vertical(contracts []*models.OptionContract, spec VerticalSpec, now time.Time) ([]models.Leg, string) {
	sides := [2]int{1, -1}
	label := rightTitle(spec.Right) + " Debit Spread"
	if spec.Sell {
		sides = [2]int{-1, 1}
		label = rightTitle(spec.Right) + " Credit Spread"
	}

	spread := s.Spread(contracts, SpreadSpec{
		Right:    spec.Right,
		Strike:   spec.Strike,
		Delta:    spec.Delta,
		WingSize: spec.WingSize,
	}, now)
	if len(spread) != 2 {
		return nil, label
	}
	return []models.Leg{
		{Contract: spread[0], Side: sides[0]},
		{Contract: spread[1], Side: sides[1]},
	}, label
}

// IronCondorSpec selects put and call spreads on independent delta/strike
// anchors.
type IronCondorSpec struct {
	CallDelta    float64
	PutDelta     float64
	CallStrike   float64
	PutStrike    float64
	CallWingSize float64
	PutWingSize  float64
	Sell         bool
}

// IronCondor returns [longPut, shortPut, shortCall, longCall] with sides
// [+1,-1,-1,+1] when selling, negated when buying. Nil legs unless all four
// resolve.
func (s *Searcher) IronCondor(contracts []*models.OptionContract, spec IronCondorSpec, now time.Time) ([]models.Leg, string) {
	sides := [4]int{-1, 1, 1, -1}
	label := "Reverse Iron Condor"
	if spec.Sell {
		sides = [4]int{1, -1, -1, 1}
		label = "Iron Condor"
	}

	puts := s.Spread(contracts, SpreadSpec{
		Right:        models.RightPut,
		Strike:       spec.PutStrike,
		Delta:        spec.PutDelta,
		WingSize:     spec.PutWingSize,
		SortByStrike: true,
	}, now)
	calls := s.Spread(contracts, SpreadSpec{
		Right:    models.RightCall,
		Strike:   spec.CallStrike,
		Delta:    spec.CallDelta,
		WingSize: spec.CallWingSize,
	}, now)
	if len(puts) != 2 || len(calls) != 2 {
		return nil, label
	}
	return fourLegs(puts, calls, sides), label
}

// IronFlySpec centers put and call spreads on a shared body strike: the ATM
// strike by default, Strike when set, or the 50+NetDelta put delta strike.
type IronFlySpec struct {
	NetDelta     *float64
	Strike       float64
	CallWingSize float64
	PutWingSize  float64
	Sell         bool
}

// IronFly returns [longPut, shortPut, shortCall, longCall] sharing the body
// strike. Nil legs unless all four resolve.
func (s *Searcher) IronFly(contracts []*models.OptionContract, spec IronFlySpec, now time.Time) ([]models.Leg, string) {
	sides := [4]int{-1, 1, 1, -1}
	label := "Reverse Iron Fly"
	if spec.Sell {
		sides = [4]int{1, -1, -1, 1}
		label = "Iron Fly"
	}

	delta := 0.0
	if spec.NetDelta != nil && math.Abs(*spec.NetDelta) < 50 {
		delta = 50 + *spec.NetDelta
	}
	strike := spec.Strike
	if strike == 0 && delta == 0 {
		atm, ok := s.ATMStrike(contracts)
		if !ok {
			return nil, label
		}
		strike = atm
	}

	puts := s.Spread(contracts, SpreadSpec{
		Right:        models.RightPut,
		Strike:       strike,
		Delta:        delta,
		WingSize:     spec.PutWingSize,
		SortByStrike: true,
	}, now)
	if len(puts) != 2 {
		return nil, label
	}
	// The call spread anchors at the body, the higher of the two put
	// strikes after the ascending sort.
	calls := s.Spread(contracts, SpreadSpec{
		Right:    models.RightCall,
		Strike:   puts[1].Strike,
		WingSize: spec.CallWingSize,
	}, now)
	if len(calls) != 2 {
		return nil, label
	}
	return fourLegs(puts, calls, sides), label
}

// ButterflySpec selects a single-right butterfly around a body strike: the
// ATM strike by default, Strike when set, or the strike at put delta
// 50+NetDelta (puts) / call delta 50-NetDelta (calls). An unset wing size
// borrows the other wing's, defaulting to 1.
type ButterflySpec struct {
	Right         models.OptionRight
	NetDelta      *float64
	Strike        float64
	LeftWingSize  float64
	RightWingSize float64
	Sell          bool
}

// Butterfly returns [left, middle, right] with sides [-1,+2,-1] when
// selling or [+1,-2,+1] when buying. Wing roles carry left/right prefixes
// so the two same-right wings stay distinguishable. Nil legs unless all
// three resolve.
func (s *Searcher) Butterfly(contracts []*models.OptionContract, spec ButterflySpec, now time.Time) ([]models.Leg, string) {
	lws, rws := spec.LeftWingSize, spec.RightWingSize
	if lws <= 0 {
		lws = rws
	}
	if rws <= 0 {
		rws = lws
	}
	if lws <= 0 {
		lws, rws = 1, 1
	}

	title := rightTitle(spec.Right)
	sides := [3]int{1, -2, 1}
	label := "Debit Butterfly"
	roles := [3]string{"leftLong" + title, "short" + title, "rightLong" + title}
	if spec.Sell {
		sides = [3]int{-1, 2, -1}
		label = "Credit Butterfly"
		roles = [3]string{"leftShort" + title, "long" + title, "rightShort" + title}
	}

	delta := 0.0
	if spec.NetDelta != nil && math.Abs(*spec.NetDelta) < 50 {
		if spec.Right == models.RightPut {
			delta = 50 + *spec.NetDelta
		} else {
			delta = 50 - *spec.NetDelta
		}
	}
	strike := spec.Strike
	if strike == 0 && delta == 0 {
		atm, ok := s.ATMStrike(contracts)
		if !ok {
			return nil, label
		}
		strike = atm
	}

	var left, middle, right *models.OptionContract
	switch spec.Right {
	case models.RightPut:
		spread := s.Spread(contracts, SpreadSpec{
			Right:        models.RightPut,
			Strike:       strike,
			Delta:        delta,
			WingSize:     lws,
			SortByStrike: true,
		}, now)
		if len(spread) != 2 {
			return nil, label
		}
		left, middle = spread[0], spread[1]
		// Nudge past the body strike so the wing search cannot return it.
		wings := s.Puts(contracts, Filter{FromStrike: middle.Strike + 0.1, ToStrike: middle.Strike + rws}, now)
		if len(wings) == 0 {
			return nil, label
		}
		right = wings[0]
	case models.RightCall:
		spread := s.Spread(contracts, SpreadSpec{
			Right:    models.RightCall,
			Strike:   strike,
			Delta:    delta,
			WingSize: rws,
		}, now)
		if len(spread) != 2 {
			return nil, label
		}
		middle, right = spread[0], spread[1]
		wings := s.Calls(contracts, Filter{FromStrike: middle.Strike - lws, ToStrike: middle.Strike - 0.1}, now)
		if len(wings) == 0 {
			return nil, label
		}
		left = wings[0]
	default:
		s.logger.Printf("butterfly: invalid right %q", spec.Right)
		return nil, label
	}

	ordered := [3]*models.OptionContract{left, middle, right}
	legs := make([]models.Leg, 3)
	for i, c := range ordered {
		legs[i] = models.Leg{Contract: c, Side: sides[i], Role: roles[i]}
	}
	return legs, label
}

func fourLegs(puts, calls []*models.OptionContract, sides [4]int) []models.Leg {
	ordered := [4]*models.OptionContract{puts[0], puts[1], calls[0], calls[1]}
	legs := make([]models.Leg, 4)
	for i, c := range ordered {
		legs[i] = models.Leg{Contract: c, Side: sides[i]}
	}
	return legs
}

func rightTitle(r models.OptionRight) string {
	if r == models.RightCall {
		return "Call"
	}
	return "Put"
}
