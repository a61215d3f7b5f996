// Package strategy names the tradable option structures and binds their
// configured parameters to chain assembly: each definition turns a chain
// snapshot into the legs of one named structure.
package strategy

import (
	"fmt"
	"strings"
	"time"

	"github.com/rcc-trading/condorhawk/internal/chain"
	"github.com/rcc-trading/condorhawk/internal/models"
)

// Params carries the assembly tuning for one configured strategy. Deltas
// are in percent (16 selects the 16-delta strike), strikes and wing sizes
// in strike points. Each kind reads only the fields that apply to it.
type Params struct {
	// Delta anchors the short leg of the naked and credit-spread kinds.
	Delta float64
	// PutDelta and CallDelta anchor the two sides of strangles and iron
	// condors independently.
	PutDelta  float64
	CallDelta float64
	// NetDelta tilts the body of straddles, iron flies and butterflies
	// away from the money. Nil keeps the body on the ATM strike.
	NetDelta *float64
	// Strike pins the anchor strike directly instead of a delta search.
	Strike float64
	// PutStrike and CallStrike pin the two sides independently.
	PutStrike  float64
	CallStrike float64
	// FromPrice and ToPrice bound naked selection by contract mid-price.
	FromPrice float64
	ToPrice   float64
	// WingSize spaces the long wing of the credit-spread kinds.
	WingSize float64
	// PutWingSize and CallWingSize space the wings of iron condors and
	// iron flies.
	PutWingSize  float64
	CallWingSize float64
	// LeftWingSize and RightWingSize shape the butterfly. One unset wing
	// borrows the other.
	LeftWingSize  float64
	RightWingSize float64
	// Right selects the butterfly's option right.
	Right models.OptionRight
	// Credit sells the structure instead of buying it. The credit-spread
	// kinds ignore it and always sell.
	Credit bool
}

// Definition is one named strategy bound to its parameters. Assemble
// selects the structure's legs from a chain snapshot; nil legs mean no
// contracts qualified, a normal no-trade outcome.
type Definition struct {
	name     string
	credit   bool
	assemble func(contracts []*models.OptionContract, now time.Time) ([]models.Leg, string)
}

// Name labels the orders, tags and statistics this definition produces.
func (d *Definition) Name() string { return d.name }

// IsCredit reports whether the assembled structure collects premium.
func (d *Definition) IsCredit() bool { return d.credit }

// Assemble selects legs from a chain snapshot. The label names the
// structure for logs whether or not legs resolved.
func (d *Definition) Assemble(contracts []*models.OptionContract, now time.Time) ([]models.Leg, string) {
	return d.assemble(contracts, now)
}

// New builds the definition for a configured kind, matched
// case-insensitively. An empty name keeps the canonical kind name.
func New(searcher *chain.Searcher, name, kind string, p Params) (*Definition, error) {
	var d *Definition
	switch strings.ToLower(kind) {
	case "putcreditspread":
		d = PutCreditSpread(searcher, p)
	case "callcreditspread":
		d = CallCreditSpread(searcher, p)
	case "nakedput":
		d = NakedPut(searcher, p)
	case "nakedcall":
		d = NakedCall(searcher, p)
	case "straddle":
		d = Straddle(searcher, p)
	case "strangle":
		d = Strangle(searcher, p)
	case "ironcondor":
		d = IronCondor(searcher, p)
	case "ironfly":
		d = IronFly(searcher, p)
	case "butterfly":
		if p.Right != models.RightPut && p.Right != models.RightCall {
			return nil, fmt.Errorf("butterfly needs an option right, got %q", p.Right)
		}
		d = Butterfly(searcher, p)
	default:
		return nil, fmt.Errorf("unknown strategy kind %q", kind)
	}
	if name != "" {
		d.name = name
	}
	return d, nil
}

// PutCreditSpread sells a put vertical: the short put at the configured
// delta or strike, the long wing WingSize points below it.
func PutCreditSpread(s *chain.Searcher, p Params) *Definition {
	return creditSpread(s, "PutCreditSpread", models.RightPut, p)
}

// CallCreditSpread sells a call vertical with the long wing above the
// short strike.
func CallCreditSpread(s *chain.Searcher, p Params) *Definition {
	return creditSpread(s, "CallCreditSpread", models.RightCall, p)
}

// NakedPut trades a single put at the configured delta, strike bound or
// mid-price window. Credit sells it, debit buys it.
func NakedPut(s *chain.Searcher, p Params) *Definition {
	return naked(s, "NakedPut", models.RightPut, p)
}

// NakedCall is the call-side counterpart of NakedPut.
func NakedCall(s *chain.Searcher, p Params) *Definition {
	return naked(s, "NakedCall", models.RightCall, p)
}

// Straddle pairs a put and a call on a shared strike: the ATM strike by
// default, tilted by NetDelta or pinned by Strike.
func Straddle(s *chain.Searcher, p Params) *Definition {
	mustSearcher(s)
	return &Definition{
		name:   "Straddle",
		credit: p.Credit,
		assemble: func(contracts []*models.OptionContract, now time.Time) ([]models.Leg, string) {
			return s.Straddle(contracts, chain.StraddleSpec{
				Strike:   p.Strike,
				NetDelta: p.NetDelta,
				Sell:     p.Credit,
			}, now)
		},
	}
}

// Strangle pairs an OTM put and an OTM call selected independently by
// delta or strike.
func Strangle(s *chain.Searcher, p Params) *Definition {
	mustSearcher(s)
	return &Definition{
		name:   "Strangle",
		credit: p.Credit,
		assemble: func(contracts []*models.OptionContract, now time.Time) ([]models.Leg, string) {
			return s.Strangle(contracts, chain.StrangleSpec{
				CallDelta:  p.CallDelta,
				PutDelta:   p.PutDelta,
				CallStrike: p.CallStrike,
				PutStrike:  p.PutStrike,
				Sell:       p.Credit,
			}, now)
		},
	}
}

// IronCondor combines a put spread and a call spread on independent
// delta or strike anchors.
func IronCondor(s *chain.Searcher, p Params) *Definition {
	mustSearcher(s)
	return &Definition{
		name:   "IronCondor",
		credit: p.Credit,
		assemble: func(contracts []*models.OptionContract, now time.Time) ([]models.Leg, string) {
			return s.IronCondor(contracts, chain.IronCondorSpec{
				CallDelta:    p.CallDelta,
				PutDelta:     p.PutDelta,
				CallStrike:   p.CallStrike,
				PutStrike:    p.PutStrike,
				CallWingSize: p.CallWingSize,
				PutWingSize:  p.PutWingSize,
				Sell:         p.Credit,
			}, now)
		},
	}
}

// IronFly centers put and call spreads on a shared body strike.
func IronFly(s *chain.Searcher, p Params) *Definition {
	mustSearcher(s)
	return &Definition{
		name:   "IronFly",
		credit: p.Credit,
		assemble: func(contracts []*models.OptionContract, now time.Time) ([]models.Leg, string) {
			return s.IronFly(contracts, chain.IronFlySpec{
				NetDelta:     p.NetDelta,
				Strike:       p.Strike,
				CallWingSize: p.CallWingSize,
				PutWingSize:  p.PutWingSize,
				Sell:         p.Credit,
			}, now)
		},
	}
}

// Butterfly trades a single-right butterfly around a body strike. Right
// is required; wings default to each other.
func Butterfly(s *chain.Searcher, p Params) *Definition {
	mustSearcher(s)
	return &Definition{
		name:   "Butterfly",
		credit: p.Credit,
		assemble: func(contracts []*models.OptionContract, now time.Time) ([]models.Leg, string) {
			return s.Butterfly(contracts, chain.ButterflySpec{
				Right:         p.Right,
				NetDelta:      p.NetDelta,
				Strike:        p.Strike,
				LeftWingSize:  p.LeftWingSize,
				RightWingSize: p.RightWingSize,
				Sell:          p.Credit,
			}, now)
		},
	}
}

func naked(s *chain.Searcher, name string, right models.OptionRight, p Params) *Definition {
	mustSearcher(s)
	return &Definition{
		name:   name,
		credit: p.Credit,
		assemble: func(contracts []*models.OptionContract, now time.Time) ([]models.Leg, string) {
			return s.Naked(contracts, chain.NakedSpec{
				Right:     right,
				Strike:    p.Strike,
				Delta:     p.Delta,
				FromPrice: p.FromPrice,
				ToPrice:   p.ToPrice,
				Sell:      p.Credit,
			}, now)
		},
	}
}

func creditSpread(s *chain.Searcher, name string, right models.OptionRight, p Params) *Definition {
	mustSearcher(s)
	return &Definition{
		name:   name,
		credit: true,
		assemble: func(contracts []*models.OptionContract, now time.Time) ([]models.Leg, string) {
			return s.Vertical(contracts, chain.VerticalSpec{
				Right:    right,
				Strike:   p.Strike,
				Delta:    p.Delta,
				WingSize: p.WingSize,
				Sell:     true,
			}, now)
		},
	}
}

func mustSearcher(s *chain.Searcher) {
	if s == nil {
		panic("strategy: searcher must not be nil")
	}
}
