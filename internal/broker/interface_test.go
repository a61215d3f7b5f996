package broker

import (
	"errors"
	"io"
	"log"
	"math"
	"testing"
	"time"

	"github.com/sony/gobreaker"

	"github.com/rcc-trading/condorhawk/internal/models"
)

var testExpiry = time.Date(2024, 4, 12, 0, 0, 0, 0, time.UTC)

func testContract(strike float64, right models.OptionRight, bid, ask float64) *models.OptionContract {
	return &models.OptionContract{
		Symbol:          models.FormatOSISymbol("SPX", testExpiry, right, strike),
		Right:           right,
		Strike:          strike,
		Expiry:          testExpiry,
		Bid:             bid,
		Ask:             ask,
		UnderlyingPrice: 100,
	}
}

func newTestHost(t *testing.T) *SimHost {
	t.Helper()
	return NewSimHost(log.New(io.Discard, "", 0))
}

func TestDaysBetween(t *testing.T) {
	tests := []struct {
		name     string
		from     time.Time
		to       time.Time
		expected int
	}{
		{
			name:     "same day",
			from:     time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC),
			to:       time.Date(2024, 3, 15, 16, 0, 0, 0, time.UTC),
			expected: 0,
		},
		{
			name:     "forward one week",
			from:     time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
			to:       time.Date(2024, 3, 22, 0, 0, 0, 0, time.UTC),
			expected: 7,
		},
		{
			name:     "reversed arguments",
			from:     time.Date(2024, 3, 22, 0, 0, 0, 0, time.UTC),
			to:       time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
			expected: 7,
		},
		{
			name:     "intraday times ignored",
			from:     time.Date(2024, 3, 15, 23, 59, 0, 0, time.UTC),
			to:       time.Date(2024, 3, 16, 0, 1, 0, 0, time.UTC),
			expected: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DaysBetween(tt.from, tt.to); got != tt.expected {
				t.Errorf("DaysBetween(%v, %v) = %d, want %d", tt.from, tt.to, got, tt.expected)
			}
		})
	}
}

func TestContractByStrike(t *testing.T) {
	contracts := []*models.OptionContract{
		testContract(95, models.RightPut, 1.00, 1.10),
		testContract(100, models.RightPut, 2.00, 2.10),
		testContract(100, models.RightCall, 2.50, 2.60),
		testContract(105, models.RightCall, 1.20, 1.30),
	}

	tests := []struct {
		name   string
		strike float64
		right  models.OptionRight
		want   *models.OptionContract
	}{
		{name: "find put", strike: 100, right: models.RightPut, want: contracts[1]},
		{name: "find call", strike: 105, right: models.RightCall, want: contracts[3]},
		{name: "missing strike", strike: 110, right: models.RightCall, want: nil},
		{name: "wrong right", strike: 95, right: models.RightCall, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ContractByStrike(contracts, tt.strike, tt.right); got != tt.want {
				t.Errorf("ContractByStrike(%v, %s) = %v, want %v", tt.strike, tt.right, got, tt.want)
			}
		})
	}
}

func TestSimHostClockAndScalars(t *testing.T) {
	h := newTestHost(t)

	now := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	h.SetClock(now)
	if !h.Now().Equal(now) {
		t.Errorf("Now() = %v, want %v", h.Now(), now)
	}

	h.SetUnderlyingPrice(101.25)
	if h.UnderlyingPrice() != 101.25 {
		t.Errorf("UnderlyingPrice() = %v, want 101.25", h.UnderlyingPrice())
	}

	if h.PortfolioValue() != DefaultSimConfig.InitialCash {
		t.Errorf("PortfolioValue() = %v, want %v", h.PortfolioValue(), DefaultSimConfig.InitialCash)
	}
	if h.MarginRemaining() != DefaultSimConfig.InitialCash {
		t.Errorf("MarginRemaining() = %v, want %v", h.MarginRemaining(), DefaultSimConfig.InitialCash)
	}
	if h.RiskFreeRate() != DefaultSimConfig.RiskFreeRate {
		t.Errorf("RiskFreeRate() = %v, want %v", h.RiskFreeRate(), DefaultSimConfig.RiskFreeRate)
	}

	h.SetMarginRemaining(5_000)
	if h.MarginRemaining() != 5_000 {
		t.Errorf("MarginRemaining() after override = %v, want 5000", h.MarginRemaining())
	}
}

func TestSimHostExpiriesSorted(t *testing.T) {
	h := newTestHost(t)

	later := testExpiry.AddDate(0, 1, 0)
	earlier := testExpiry.AddDate(0, 0, -14)
	h.LoadChain(later, []*models.OptionContract{testContract(100, models.RightPut, 1, 1.1)})
	h.LoadChain(testExpiry, []*models.OptionContract{testContract(100, models.RightPut, 1, 1.1)})
	h.LoadChain(earlier, []*models.OptionContract{testContract(100, models.RightPut, 1, 1.1)})

	expiries := h.Expiries()
	if len(expiries) != 3 {
		t.Fatalf("Expiries() returned %d entries, want 3", len(expiries))
	}
	for i := 1; i < len(expiries); i++ {
		if expiries[i].Before(expiries[i-1]) {
			t.Errorf("Expiries() not ascending: %v before %v", expiries[i], expiries[i-1])
		}
	}
}

func TestSimHostChainSnapshot(t *testing.T) {
	h := newTestHost(t)

	contracts := []*models.OptionContract{
		testContract(95, models.RightPut, 1.00, 1.10),
		testContract(100, models.RightCall, 2.50, 2.60),
	}
	h.LoadChain(testExpiry, contracts)

	chain := h.Chain(testExpiry)
	if len(chain) != 2 {
		t.Fatalf("Chain() returned %d contracts, want 2", len(chain))
	}

	// The returned slice is a copy; reordering it must not leak back.
	chain[0], chain[1] = chain[1], chain[0]
	again := h.Chain(testExpiry)
	if again[0] != contracts[0] {
		t.Error("Chain() slice mutation leaked into the stored snapshot")
	}

	if got := h.Chain(testExpiry.AddDate(0, 0, 7)); got != nil {
		t.Errorf("Chain() for unloaded expiry = %v, want nil", got)
	}

	// Reloading the expiry replaces the old quotes.
	replacement := []*models.OptionContract{testContract(105, models.RightCall, 0.50, 0.60)}
	h.LoadChain(testExpiry, replacement)
	if h.Quote(contracts[0].Symbol) != nil {
		t.Error("Quote() for replaced contract should be nil")
	}
	if h.Quote(replacement[0].Symbol) == nil {
		t.Error("Quote() for reloaded contract should resolve")
	}
}

func TestSimHostMarketOrderFills(t *testing.T) {
	h := newTestHost(t)
	now := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	h.SetClock(now)

	put := testContract(100, models.RightPut, 2.00, 2.10)
	h.LoadChain(testExpiry, []*models.OptionContract{put})

	// Sell two contracts at the 2.05 mid.
	if err := h.SubmitMarketOrder(put.Symbol, -2, "TEST-1234"); err != nil {
		t.Fatalf("SubmitMarketOrder failed: %v", err)
	}

	select {
	case event := <-h.Fills():
		if event.Tag != "TEST-1234" {
			t.Errorf("fill tag = %q, want TEST-1234", event.Tag)
		}
		if event.Symbol != put.Symbol {
			t.Errorf("fill symbol = %q, want %q", event.Symbol, put.Symbol)
		}
		if event.Quantity != -2 {
			t.Errorf("fill quantity = %d, want -2", event.Quantity)
		}
		if math.Abs(event.Price-2.05) > 1e-9 {
			t.Errorf("fill price = %v, want 2.05", event.Price)
		}
		if event.Status != StatusFilled {
			t.Errorf("fill status = %q, want %q", event.Status, StatusFilled)
		}
		if !event.Time.Equal(now) {
			t.Errorf("fill time = %v, want %v", event.Time, now)
		}
	default:
		t.Fatal("no fill event delivered")
	}

	// Selling credits the cash balance by qty * price * 100.
	wantCash := DefaultSimConfig.InitialCash + 2*2.05*models.ContractMultiplier
	if math.Abs(h.PortfolioValue()-wantCash) > 1e-9 {
		t.Errorf("PortfolioValue() = %v, want %v", h.PortfolioValue(), wantCash)
	}
}

func TestSimHostMarketOrderErrors(t *testing.T) {
	h := newTestHost(t)
	put := testContract(100, models.RightPut, 2.00, 2.10)
	h.LoadChain(testExpiry, []*models.OptionContract{put})

	if err := h.SubmitMarketOrder(put.Symbol, 0, "TEST-0"); err == nil {
		t.Error("zero quantity order should fail")
	}
	if err := h.SubmitMarketOrder("SPX240412C00200000", 1, "TEST-0"); err == nil {
		t.Error("order for unknown symbol should fail")
	}
}

// flakyHost wraps SimHost and fails submissions on demand.
type flakyHost struct {
	*SimHost
	shouldFail bool
	calls      int
}

func (f *flakyHost) SubmitMarketOrder(symbol string, quantity int, tag string) error {
	f.calls++
	if f.shouldFail {
		return errors.New("submission refused")
	}
	return f.SimHost.SubmitMarketOrder(symbol, quantity, tag)
}

func TestNewCircuitBreakerHost(t *testing.T) {
	h := newTestHost(t)
	cb := NewCircuitBreakerHost(h)

	if cb == nil {
		t.Fatal("NewCircuitBreakerHost returned nil")
	}
	if cb.host != Host(h) {
		t.Error("CircuitBreakerHost.host not set correctly")
	}
	if cb.breaker == nil {
		t.Error("CircuitBreakerHost.breaker not initialized")
	}
}

func TestCircuitBreakerHostPassthrough(t *testing.T) {
	h := newTestHost(t)
	now := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	h.SetClock(now)
	h.SetUnderlyingPrice(100.5)
	put := testContract(100, models.RightPut, 2.00, 2.10)
	h.LoadChain(testExpiry, []*models.OptionContract{put})

	cb := NewCircuitBreakerHost(h)

	if !cb.Now().Equal(now) {
		t.Errorf("Now() = %v, want %v", cb.Now(), now)
	}
	if cb.UnderlyingPrice() != 100.5 {
		t.Errorf("UnderlyingPrice() = %v, want 100.5", cb.UnderlyingPrice())
	}
	if len(cb.Expiries()) != 1 {
		t.Errorf("Expiries() returned %d entries, want 1", len(cb.Expiries()))
	}
	if len(cb.Chain(testExpiry)) != 1 {
		t.Errorf("Chain() returned %d contracts, want 1", len(cb.Chain(testExpiry)))
	}
	if got := cb.Quote(put.Symbol); got == nil || got.Strike != 100 {
		t.Errorf("Quote() = %v, want the loaded 100 put", got)
	}
	if cb.PortfolioValue() != h.PortfolioValue() {
		t.Error("PortfolioValue() does not pass through")
	}
	if cb.MarginRemaining() != h.MarginRemaining() {
		t.Error("MarginRemaining() does not pass through")
	}
	if cb.RiskFreeRate() != h.RiskFreeRate() {
		t.Error("RiskFreeRate() does not pass through")
	}

	if err := cb.SubmitMarketOrder(put.Symbol, 1, "TEST-1"); err != nil {
		t.Errorf("SubmitMarketOrder through breaker failed: %v", err)
	}
	select {
	case <-cb.Fills():
	default:
		t.Error("fill event not delivered through breaker")
	}
}

func TestCircuitBreakerHostTrips(t *testing.T) {
	inner := &flakyHost{SimHost: newTestHost(t), shouldFail: true}
	put := testContract(100, models.RightPut, 2.00, 2.10)
	inner.LoadChain(testExpiry, []*models.OptionContract{put})

	testSettings := CircuitBreakerSettings{
		MaxRequests:  1,
		Interval:     10 * time.Millisecond,
		Timeout:      20 * time.Millisecond,
		MinRequests:  3,
		FailureRatio: 0.5,
	}
	cb := NewCircuitBreakerHostWithSettings(inner, testSettings)

	for i := 0; i < 6; i++ {
		if err := cb.SubmitMarketOrder(put.Symbol, 1, "TEST-1"); err == nil {
			t.Errorf("call %d should fail but succeeded", i+1)
		}
	}

	if cb.breaker.State() != gobreaker.StateOpen {
		t.Fatalf("circuit breaker should be open, but state is %s", cb.breaker.State())
	}

	// While open, calls are rejected without reaching the host.
	before := inner.calls
	if err := cb.SubmitMarketOrder(put.Symbol, 1, "TEST-1"); err == nil {
		t.Error("open breaker should reject submission")
	}
	if inner.calls != before {
		t.Errorf("open breaker let %d calls through", inner.calls-before)
	}
}
