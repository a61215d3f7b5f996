// Package chain selects contracts from an option chain snapshot: strike,
// price and delta filters, ATM lookup, wing selection and the composition
// of multi-leg combinations.
package chain

import (
	"errors"
	"log"
	"math"
	"os"
	"sort"
	"time"

	"github.com/rcc-trading/condorhawk/internal/models"
	"github.com/rcc-trading/condorhawk/internal/pricing"
)

var (
	// ErrUnsorted is returned by LocateByDelta when the input is not
	// sorted by ascending strike.
	ErrUnsorted = errors.New("chain: contracts not sorted by ascending strike")
	// ErrMixedRights is returned by LocateByDelta when the input mixes
	// calls and puts.
	ErrMixedRights = errors.New("chain: contracts mix calls and puts")
)

// Searcher runs chain queries against a pricing engine. Delta targets are
// resolved through the engine's per-tick Greeks cache, so repeated lookups
// within one tick price each contract at most once.
type Searcher struct {
	pricer *pricing.Engine
	logger *log.Logger
}

// NewSearcher returns a Searcher backed by the given pricing engine.
func NewSearcher(pricer *pricing.Engine, logger *log.Logger) *Searcher {
	if pricer == nil {
		panic("chain.NewSearcher: pricer must not be nil")
	}
	if logger == nil {
		logger = log.New(os.Stderr, "chain: ", log.LstdFlags)
	}
	return &Searcher{pricer: pricer, logger: logger}
}

// Filter narrows a chain snapshot. Zero values deactivate a bound: strike
// and price lower bounds fall back to 0, upper bounds to +Inf. Delta bounds
// are expressed in delta percent (16 means a 0.16 delta) and are translated
// into per-right strike bounds before filtering, so the Greeks are computed
// only for the handful of contracts the bisection visits.
type Filter struct {
	Right      models.OptionRight // empty matches both rights
	FromDelta  float64
	ToDelta    float64
	FromStrike float64
	ToStrike   float64
	FromPrice  float64
	ToPrice    float64
}

// FilterContracts applies the filter and returns the matches sorted by
// ascending strike. Puts precede calls at equal strikes.
func (s *Searcher) FilterContracts(contracts []*models.OptionContract, f Filter, now time.Time) []*models.OptionContract {
	toStrike := f.ToStrike
	if toStrike == 0 {
		toStrike = math.Inf(1)
	}
	toPrice := f.ToPrice
	if toPrice == 0 {
		toPrice = math.Inf(1)
	}

	var puts, calls []*models.OptionContract
	if f.Right == "" || f.Right == models.RightPut {
		puts = collectRight(contracts, models.RightPut, f.FromStrike, toStrike, f.FromPrice, toPrice)
	}
	if f.Right == "" || f.Right == models.RightCall {
		calls = collectRight(contracts, models.RightCall, f.FromStrike, toStrike, f.FromPrice, toPrice)
	}

	if f.FromDelta != 0 || f.ToDelta != 0 {
		puts = s.deltaFilter(puts, models.RightPut, f.FromDelta, f.ToDelta, now)
		calls = s.deltaFilter(calls, models.RightCall, f.FromDelta, f.ToDelta, now)
	}

	out := make([]*models.OptionContract, 0, len(puts)+len(calls))
	out = append(out, puts...)
	out = append(out, calls...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Strike < out[j].Strike })
	return out
}

// Puts filters to puts and orders them by descending strike, so index 0 is
// the contract nearest the money.
func (s *Searcher) Puts(contracts []*models.OptionContract, f Filter, now time.Time) []*models.OptionContract {
	f.Right = models.RightPut
	out := s.FilterContracts(contracts, f, now)
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Calls filters to calls, ordered by ascending strike, index 0 nearest the
// money.
func (s *Searcher) Calls(contracts []*models.OptionContract, f Filter, now time.Time) []*models.OptionContract {
	f.Right = models.RightCall
	return s.FilterContracts(contracts, f, now)
}

func collectRight(contracts []*models.OptionContract, right models.OptionRight, fromStrike, toStrike, fromPrice, toPrice float64) []*models.OptionContract {
	var out []*models.OptionContract
	for _, c := range contracts {
		if c.Right != right {
			continue
		}
		if c.Strike < fromStrike || c.Strike > toStrike {
			continue
		}
		if mid := c.MidPrice(); mid < fromPrice || mid > toPrice {
			continue
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Strike < out[j].Strike })
	return out
}

// deltaFilter intersects the strike-filtered list with the strike range
// implied by the delta bounds. Call deltas fall as the strike rises, so the
// call bounds are inverted relative to the puts.
func (s *Searcher) deltaFilter(contracts []*models.OptionContract, right models.OptionRight, fromDelta, toDelta float64, now time.Time) []*models.OptionContract {
	if len(contracts) == 0 {
		return contracts
	}
	var lo, hi float64
	var err error
	if right == models.RightPut {
		lo, err = s.FromDeltaStrike(contracts, fromDelta, 0, now)
		if err == nil {
			hi, err = s.ToDeltaStrike(contracts, toDelta, math.Inf(1), now)
		}
	} else {
		hi, err = s.FromDeltaStrike(contracts, fromDelta, math.Inf(1), now)
		if err == nil {
			lo, err = s.ToDeltaStrike(contracts, toDelta, 0, now)
		}
	}
	if err != nil {
		// The per-right lists are built sorted, so this only fires on
		// malformed chain data. Skip the delta filter for this tick.
		s.logger.Printf("delta filter skipped: %v", err)
		return contracts
	}
	out := make([]*models.OptionContract, 0, len(contracts))
	for _, c := range contracts {
		if c.Strike >= lo && c.Strike <= hi {
			out = append(out, c)
		}
	}
	return out
}

// LocateByDelta finds the contract whose |delta| is closest to the target,
// expressed in delta percent. The input must be sorted by ascending strike
// and hold a single right; both preconditions are checked. Greeks are
// computed lazily: the two boundary contracts first, since a target outside
// the spanned delta range short-circuits to the nearer boundary, then one
// midpoint per bisection step. A zero target or empty input yields nil.
func (s *Searcher) LocateByDelta(contracts []*models.OptionContract, targetDelta float64, now time.Time) (*models.OptionContract, error) {
	if targetDelta <= 0 || len(contracts) == 0 {
		return nil, nil
	}
	if err := checkBisectable(contracts); err != nil {
		return nil, err
	}

	target := targetDelta / 100.0
	left, right := 0, len(contracts)-1
	isCall := contracts[0].Right == models.RightCall

	leftDelta := s.absDelta(contracts[left], now)
	rightDelta := s.absDelta(contracts[right], now)
	if isCall {
		// Call deltas fall with rising strike: index 0 is the deep ITM end.
		if rightDelta > target {
			return contracts[right], nil
		}
		if leftDelta < target {
			return contracts[left], nil
		}
	} else {
		if leftDelta > target {
			return contracts[left], nil
		}
		if rightDelta < target {
			return contracts[right], nil
		}
	}

	for right-left > 1 {
		mid := (left + right) / 2
		midDelta := s.absDelta(contracts[mid], now)
		if midDelta > target {
			if isCall {
				left = mid
			} else {
				right = mid
			}
		} else {
			if isCall {
				right = mid
			} else {
				left = mid
			}
		}
	}

	// Two adjacent contracts bracket the target: pick the closer delta,
	// the lower strike on a tie.
	leftDiff := math.Abs(s.absDelta(contracts[left], now) - target)
	rightDiff := math.Abs(s.absDelta(contracts[right], now) - target)
	if rightDiff < leftDiff {
		return contracts[right], nil
	}
	return contracts[left], nil
}

func (s *Searcher) absDelta(c *models.OptionContract, now time.Time) float64 {
	return math.Abs(s.pricer.ComputeGreeks(c, now).Delta)
}

func checkBisectable(contracts []*models.OptionContract) error {
	right := contracts[0].Right
	for i, c := range contracts {
		if c.Right != right {
			return ErrMixedRights
		}
		if i > 0 && contracts[i-1].Strike > c.Strike {
			return ErrUnsorted
		}
	}
	return nil
}

// FromDeltaStrike translates a lower delta bound into a strike bound. When
// the located contract fails the bound its strike is nudged one cent so the
// contract itself falls outside the filtered range. An unset delta or an
// empty chain yields def.
func (s *Searcher) FromDeltaStrike(contracts []*models.OptionContract, delta, def float64, now time.Time) (float64, error) {
	c, err := s.LocateByDelta(contracts, delta, now)
	if err != nil || c == nil {
		return def, err
	}
	if s.absDelta(c, now) >= delta/100.0 {
		return c.Strike, nil
	}
	if c.Right == models.RightPut {
		return c.Strike + 0.01, nil
	}
	return c.Strike - 0.01, nil
}

// ToDeltaStrike translates an upper delta bound into a strike bound, with
// the nudge direction mirrored.
func (s *Searcher) ToDeltaStrike(contracts []*models.OptionContract, delta, def float64, now time.Time) (float64, error) {
	c, err := s.LocateByDelta(contracts, delta, now)
	if err != nil || c == nil {
		return def, err
	}
	if s.absDelta(c, now) <= delta/100.0 {
		return c.Strike, nil
	}
	if c.Right == models.RightCall {
		return c.Strike + 0.01, nil
	}
	return c.Strike - 0.01, nil
}

// ATM returns the contracts with the strike closest to the underlying
// price: up to two (put and call on a well-formed chain) when right is
// empty, one otherwise.
func (s *Searcher) ATM(contracts []*models.OptionContract, right models.OptionRight) []*models.OptionContract {
	matched := make([]*models.OptionContract, 0, len(contracts))
	for _, c := range contracts {
		if right == "" || c.Right == right {
			matched = append(matched, c)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		di := math.Abs(matched[i].Strike - matched[i].UnderlyingPrice)
		dj := math.Abs(matched[j].Strike - matched[j].UnderlyingPrice)
		return di < dj
	})

	n := 1
	if right == "" {
		n = 2
	}
	if len(matched) < n {
		n = len(matched)
	}
	return matched[:n]
}

// ATMStrike returns the strike closest to the underlying price, false on an
// empty chain.
func (s *Searcher) ATMStrike(contracts []*models.OptionContract) (float64, bool) {
	atm := s.ATM(contracts, "")
	if len(atm) == 0 {
		return 0, false
	}
	return atm[0].Strike, true
}

// FindWing picks the long contract for a spread anchored at contracts[0].
// The input is ordered by increasing strike distance from the anchor. The
// widest contract within wingSize wins; if every candidate past the best
// undershoot overshoots, the first overshoot is taken only when its excess
// is smaller than the undershoot's shortfall.
func (s *Searcher) FindWing(contracts []*models.OptionContract, wingSize float64) *models.OptionContract {
	if len(contracts) < 2 || wingSize <= 0 {
		return nil
	}
	anchor := contracts[0].Strike
	var wing *models.OptionContract
	currentWings := 0.0
	for _, c := range contracts[1:] {
		dist := math.Abs(c.Strike - anchor)
		if dist <= wingSize {
			currentWings = dist
			wing = c
			continue
		}
		if dist-wingSize < wingSize-currentWings {
			wing = c
		}
		break
	}
	return wing
}

// SpreadSpec selects a two-leg vertical: the anchor leg by delta target or
// strike bound, the wing WingSize strikes further out.
type SpreadSpec struct {
	Right        models.OptionRight
	Strike       float64
	Delta        float64
	WingSize     float64
	SortByStrike bool
}

// Spread returns [anchor, wing] ordered by distance from the money, or by
// ascending strike when spec.SortByStrike is set. A missing wing shrinks the
// result to one contract and an empty chain to none; callers that need both
// legs check for len == 2.
func (s *Searcher) Spread(contracts []*models.OptionContract, spec SpreadSpec, now time.Time) []*models.OptionContract {
	var sorted []*models.OptionContract
	switch spec.Right {
	case models.RightPut:
		sorted = s.Puts(contracts, Filter{ToDelta: spec.Delta, ToStrike: spec.Strike}, now)
	case models.RightCall:
		sorted = s.Calls(contracts, Filter{ToDelta: spec.Delta, FromStrike: spec.Strike}, now)
	default:
		s.logger.Printf("spread: invalid right %q", spec.Right)
		return nil
	}

	wing := s.FindWing(sorted, spec.WingSize)
	var spread []*models.OptionContract
	if len(sorted) > 0 {
		spread = append(spread, sorted[0])
		if wing != nil {
			spread = append(spread, wing)
		}
	}
	if spec.SortByStrike {
		sort.SliceStable(spread, func(i, j int) bool { return spread[i].Strike < spread[j].Strike })
	}
	return spread
}
