package chain

import (
	"testing"

	"github.com/rcc-trading/condorhawk/internal/models"
)

func fptr(v float64) *float64 { return &v }

func legStrikes(legs []models.Leg) []float64 {
	out := make([]float64, len(legs))
	for i, leg := range legs {
		out[i] = leg.Contract.Strike
	}
	return out
}

func checkLegs(t *testing.T, legs []models.Leg, wantStrikes []float64, wantSides []int, wantRights []models.OptionRight) {
	t.Helper()
	if len(legs) != len(wantStrikes) {
		t.Fatalf("got %d legs %v, want strikes %v", len(legs), legStrikes(legs), wantStrikes)
	}
	for i, leg := range legs {
		if leg.Contract.Strike != wantStrikes[i] {
			t.Errorf("leg %d strike = %v, want %v", i, leg.Contract.Strike, wantStrikes[i])
		}
		if leg.Side != wantSides[i] {
			t.Errorf("leg %d side = %d, want %d", i, leg.Side, wantSides[i])
		}
		if leg.Contract.Right != wantRights[i] {
			t.Errorf("leg %d right = %s, want %s", i, leg.Contract.Right, wantRights[i])
		}
	}
}

func TestNaked(t *testing.T) {
	s, eng := newTestSearcher()
	chain := buildChain(eng, 100, strikeLadder(80, 120, 2.5), 0.20)

	legs, label := s.Naked(chain, NakedSpec{Right: models.RightPut, Delta: 16, Sell: true}, testNow)
	if label != "Short Put" {
		t.Errorf("label = %q, want Short Put", label)
	}
	checkLegs(t, legs, []float64{92.5}, []int{-1}, []models.OptionRight{models.RightPut})

	legs, label = s.Naked(chain, NakedSpec{Right: models.RightCall, Delta: 16}, testNow)
	if label != "Long Call" {
		t.Errorf("label = %q, want Long Call", label)
	}
	checkLegs(t, legs, []float64{107.5}, []int{1}, []models.OptionRight{models.RightCall})

	// A strike bound below the ladder leaves nothing to sell.
	legs, _ = s.Naked(chain, NakedSpec{Right: models.RightPut, Strike: 50, Sell: true}, testNow)
	if legs != nil {
		t.Errorf("unfillable naked = %v, want nil", legStrikes(legs))
	}
}

func TestStraddle(t *testing.T) {
	s, eng := newTestSearcher()
	chain := buildChain(eng, 100, strikeLadder(80, 120, 2.5), 0.20)

	legs, label := s.Straddle(chain, StraddleSpec{Sell: true}, testNow)
	if label != "Straddle" {
		t.Errorf("label = %q", label)
	}
	checkLegs(t, legs, []float64{100, 100}, []int{-1, -1},
		[]models.OptionRight{models.RightPut, models.RightCall})

	// Net delta shifts the shared strike off the money.
	legs, _ = s.Straddle(chain, StraddleSpec{NetDelta: fptr(-10), Sell: true}, testNow)
	checkLegs(t, legs, []float64{97.5, 97.5}, []int{-1, -1},
		[]models.OptionRight{models.RightPut, models.RightCall})

	// A net delta at or beyond 50 is ignored: plain ATM straddle.
	legs, _ = s.Straddle(chain, StraddleSpec{NetDelta: fptr(60)}, testNow)
	checkLegs(t, legs, []float64{100, 100}, []int{1, 1},
		[]models.OptionRight{models.RightPut, models.RightCall})

	// Explicit strike.
	legs, _ = s.Straddle(chain, StraddleSpec{Strike: 95, Sell: true}, testNow)
	checkLegs(t, legs, []float64{95, 95}, []int{-1, -1},
		[]models.OptionRight{models.RightPut, models.RightCall})

	if legs, _ := s.Straddle(nil, StraddleSpec{Sell: true}, testNow); legs != nil {
		t.Errorf("straddle on empty chain = %v, want nil", legStrikes(legs))
	}
}

func TestStrangle(t *testing.T) {
	s, eng := newTestSearcher()
	chain := buildChain(eng, 100, strikeLadder(80, 120, 2.5), 0.20)

	legs, label := s.Strangle(chain, StrangleSpec{PutDelta: 16, CallDelta: 16, Sell: true}, testNow)
	if label != "Strangle" {
		t.Errorf("label = %q", label)
	}
	checkLegs(t, legs, []float64{92.5, 107.5}, []int{-1, -1},
		[]models.OptionRight{models.RightPut, models.RightCall})

	// One missing side kills the whole combination.
	legs, _ = s.Strangle(chain, StrangleSpec{PutStrike: 50, CallDelta: 16, Sell: true}, testNow)
	if legs != nil {
		t.Errorf("strangle without puts = %v, want nil", legStrikes(legs))
	}
}

func TestVertical(t *testing.T) {
	s, eng := newTestSearcher()
	chain := buildChain(eng, 100, strikeLadder(80, 120, 2.5), 0.20)

	legs, label := s.Vertical(chain, VerticalSpec{Right: models.RightPut, Delta: 16, WingSize: 5, Sell: true}, testNow)
	if label != "Put Credit Spread" {
		t.Errorf("label = %q, want Put Credit Spread", label)
	}
	checkLegs(t, legs, []float64{92.5, 87.5}, []int{-1, 1},
		[]models.OptionRight{models.RightPut, models.RightPut})

	legs, label = s.Vertical(chain, VerticalSpec{Right: models.RightCall, Strike: 105, WingSize: 5}, testNow)
	if label != "Call Debit Spread" {
		t.Errorf("label = %q, want Call Debit Spread", label)
	}
	checkLegs(t, legs, []float64{105, 110}, []int{1, -1},
		[]models.OptionRight{models.RightCall, models.RightCall})

	// Without a wing size the long leg cannot resolve.
	legs, _ = s.Vertical(chain, VerticalSpec{Right: models.RightPut, Delta: 16, Sell: true}, testNow)
	if legs != nil {
		t.Errorf("wingless vertical = %v, want nil", legStrikes(legs))
	}
}

func TestIronCondor(t *testing.T) {
	s, eng := newTestSearcher()
	chain := buildChain(eng, 100, strikeLadder(80, 120, 2.5), 0.20)

	spec := IronCondorSpec{PutDelta: 16, CallDelta: 16, PutWingSize: 5, CallWingSize: 5, Sell: true}
	legs, label := s.IronCondor(chain, spec, testNow)
	if label != "Iron Condor" {
		t.Errorf("label = %q", label)
	}
	checkLegs(t, legs, []float64{87.5, 92.5, 107.5, 112.5}, []int{1, -1, -1, 1},
		[]models.OptionRight{models.RightPut, models.RightPut, models.RightCall, models.RightCall})

	spec.Sell = false
	legs, label = s.IronCondor(chain, spec, testNow)
	if label != "Reverse Iron Condor" {
		t.Errorf("label = %q", label)
	}
	checkLegs(t, legs, []float64{87.5, 92.5, 107.5, 112.5}, []int{-1, 1, 1, -1},
		[]models.OptionRight{models.RightPut, models.RightPut, models.RightCall, models.RightCall})

	// Call side too tight to fill: no partial condors.
	spec = IronCondorSpec{PutDelta: 16, CallStrike: 130, PutWingSize: 5, CallWingSize: 5, Sell: true}
	if legs, _ := s.IronCondor(chain, spec, testNow); legs != nil {
		t.Errorf("partial condor = %v, want nil", legStrikes(legs))
	}
}

func TestIronFly(t *testing.T) {
	s, eng := newTestSearcher()
	chain := buildChain(eng, 100, strikeLadder(80, 120, 2.5), 0.20)

	spec := IronFlySpec{PutWingSize: 5, CallWingSize: 5, Sell: true}
	legs, label := s.IronFly(chain, spec, testNow)
	if label != "Iron Fly" {
		t.Errorf("label = %q", label)
	}
	checkLegs(t, legs, []float64{95, 100, 100, 105}, []int{1, -1, -1, 1},
		[]models.OptionRight{models.RightPut, models.RightPut, models.RightCall, models.RightCall})

	// The two short legs share the body strike.
	if legs[1].Contract.Strike != legs[2].Contract.Strike {
		t.Errorf("body strikes differ: put %v, call %v",
			legs[1].Contract.Strike, legs[2].Contract.Strike)
	}

	if legs, _ := s.IronFly(nil, spec, testNow); legs != nil {
		t.Errorf("iron fly on empty chain = %v, want nil", legStrikes(legs))
	}
}

func TestButterfly(t *testing.T) {
	s, eng := newTestSearcher()
	chain := buildChain(eng, 100, strikeLadder(80, 120, 2.5), 0.20)

	legs, label := s.Butterfly(chain, ButterflySpec{Right: models.RightPut, LeftWingSize: 5, RightWingSize: 5}, testNow)
	if label != "Debit Butterfly" {
		t.Errorf("label = %q", label)
	}
	checkLegs(t, legs, []float64{95, 100, 105}, []int{1, -2, 1},
		[]models.OptionRight{models.RightPut, models.RightPut, models.RightPut})
	wantRoles := []string{"leftLongPut", "shortPut", "rightLongPut"}
	for i, leg := range legs {
		if leg.Role != wantRoles[i] {
			t.Errorf("leg %d role = %q, want %q", i, leg.Role, wantRoles[i])
		}
	}

	legs, label = s.Butterfly(chain, ButterflySpec{Right: models.RightCall, LeftWingSize: 5, RightWingSize: 5, Sell: true}, testNow)
	if label != "Credit Butterfly" {
		t.Errorf("label = %q", label)
	}
	checkLegs(t, legs, []float64{95, 100, 105}, []int{-1, 2, -1},
		[]models.OptionRight{models.RightCall, models.RightCall, models.RightCall})
	wantRoles = []string{"leftShortCall", "longCall", "rightShortCall"}
	for i, leg := range legs {
		if leg.Role != wantRoles[i] {
			t.Errorf("leg %d role = %q, want %q", i, leg.Role, wantRoles[i])
		}
	}

	// One wing size borrows the other.
	legs, _ = s.Butterfly(chain, ButterflySpec{Right: models.RightPut, LeftWingSize: 5}, testNow)
	checkLegs(t, legs, []float64{95, 100, 105}, []int{1, -2, 1},
		[]models.OptionRight{models.RightPut, models.RightPut, models.RightPut})

	if legs, _ := s.Butterfly(nil, ButterflySpec{Right: models.RightPut, LeftWingSize: 5}, testNow); legs != nil {
		t.Errorf("butterfly on empty chain = %v, want nil", legStrikes(legs))
	}
}
