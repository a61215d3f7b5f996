package main

import (
	"io"
	"log"
	"testing"
	"time"

	"github.com/rcc-trading/condorhawk/internal/broker"
	"github.com/rcc-trading/condorhawk/internal/config"
	"github.com/rcc-trading/condorhawk/internal/models"
	"github.com/rcc-trading/condorhawk/internal/pricing"
)

func testLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func intPtr(v int) *int    { return &v }
func boolPtr(v bool) *bool { return &v }

// backtestConfig is a three-week run over a 16-delta put credit spread,
// market orders, date-driven exits disabled.
func backtestConfig() *config.Config {
	return &config.Config{
		Environment: config.EnvironmentConfig{Mode: "backtest", LogLevel: "info"},
		Schedule: config.ScheduleConfig{
			Timezone:          "UTC",
			Start:             "09:45",
			Stop:              "16:00",
			Frequency:         "1h",
			MarketCloseCutoff: "15:45",
		},
		Backtest: config.BacktestConfig{
			StartDate:    "2024-03-04",
			EndDate:      "2024-03-22",
			Underlying:   "SPX",
			InitialCash:  100_000,
			InitialPrice: 100,
			Volatility:   0.20,
			RiskFreeRate: 0.001,
			StrikeStep:   2.5,
			StrikeSpan:   8,
			Seed:         7,
		},
		Strategies: []config.StrategyConfig{{
			Name:           "put-spread",
			Kind:           "putCreditSpread",
			Delta:          16,
			WingSize:       5,
			Dte:            intPtr(45),
			DteWindow:      21,
			UseLimitOrders: boolPtr(false),
			DteThreshold:   intPtr(0),
		}},
		Risk: config.RiskConfig{MaxActivePositions: 20},
	}
}

func newTestMarket(t *testing.T) (*market, *broker.SimHost) {
	t.Helper()
	cfg := backtestConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
	host := broker.NewSimHost(testLogger())
	return newMarket(cfg, host, pricing.NewEngine()), host
}

func TestMarketListsWeeklyFridays(t *testing.T) {
	m, host := newTestMarket(t)
	now := time.Date(2024, 3, 4, 9, 45, 0, 0, time.UTC) // Monday

	m.Publish(now)

	expiries := host.Expiries()
	if len(expiries) != 7 {
		t.Fatalf("len(Expiries()) = %d, want 7", len(expiries))
	}
	for _, expiry := range expiries {
		if expiry.Weekday() != time.Friday {
			t.Errorf("expiry %s is a %s, want Friday", expiry.Format("2006-01-02"), expiry.Weekday())
		}
	}
	if first := expiries[0].Format("2006-01-02"); first != "2024-03-08" {
		t.Errorf("first expiry = %s, want 2024-03-08", first)
	}
	// 46 DTE would overshoot the 45-day entry horizon.
	if last := expiries[len(expiries)-1].Format("2006-01-02"); last != "2024-04-12" {
		t.Errorf("last expiry = %s, want 2024-04-12", last)
	}
}

func TestMarketQuotesLadderAroundSpot(t *testing.T) {
	m, host := newTestMarket(t)
	now := time.Date(2024, 3, 4, 9, 45, 0, 0, time.UTC)

	m.Publish(now)

	chain := host.Chain(time.Date(2024, 4, 12, 0, 0, 0, 0, time.UTC))
	if len(chain) != 34 {
		t.Fatalf("len(chain) = %d, want 34 (17 strikes x 2 rights)", len(chain))
	}

	var puts, calls int
	minStrike, maxStrike := chain[0].Strike, chain[0].Strike
	for _, c := range chain {
		switch c.Right {
		case models.RightPut:
			puts++
		case models.RightCall:
			calls++
		}
		if c.Strike < minStrike {
			minStrike = c.Strike
		}
		if c.Strike > maxStrike {
			maxStrike = c.Strike
		}
		if c.Bid < 0 {
			t.Errorf("%s: bid %.4f < 0", c.Symbol, c.Bid)
		}
		if c.Ask <= c.Bid {
			t.Errorf("%s: ask %.4f <= bid %.4f", c.Symbol, c.Ask, c.Bid)
		}
		if c.UnderlyingPrice != 100 {
			t.Errorf("%s: underlying %.2f, want 100", c.Symbol, c.UnderlyingPrice)
		}
	}
	if puts != 17 || calls != 17 {
		t.Errorf("puts/calls = %d/%d, want 17/17", puts, calls)
	}
	if minStrike != 80 || maxStrike != 120 {
		t.Errorf("strike range [%.1f, %.1f], want [80, 120]", minStrike, maxStrike)
	}

	atm := models.FormatOSISymbol("SPX", time.Date(2024, 4, 12, 0, 0, 0, 0, time.UTC), models.RightPut, 100)
	if host.Quote(atm) == nil {
		t.Errorf("Quote(%s) = nil, want the ATM put", atm)
	}
}

func TestMarketKeepsTradedStrikesListed(t *testing.T) {
	m, host := newTestMarket(t)
	now := time.Date(2024, 3, 4, 9, 45, 0, 0, time.UTC)
	expiry := time.Date(2024, 4, 12, 0, 0, 0, 0, time.UTC)

	m.Publish(now)
	// Re-publishing at the same instant leaves the walk alone, so the jump
	// is exactly the one we set.
	m.spot = 130
	m.Publish(now)

	chain := host.Chain(expiry)
	if len(chain) != 58 {
		t.Fatalf("len(chain) = %d, want 58 (29 strikes x 2 rights)", len(chain))
	}
	minStrike, maxStrike := chain[0].Strike, chain[0].Strike
	for _, c := range chain {
		if c.Strike < minStrike {
			minStrike = c.Strike
		}
		if c.Strike > maxStrike {
			maxStrike = c.Strike
		}
	}
	if minStrike != 80 {
		t.Errorf("min strike = %.1f, want the original 80 still listed", minStrike)
	}
	if maxStrike != 150 {
		t.Errorf("max strike = %.1f, want 150 around the new spot", maxStrike)
	}
}

func TestMarketDropsExpiredListings(t *testing.T) {
	m, _ := newTestMarket(t)

	m.Publish(time.Date(2024, 3, 4, 9, 45, 0, 0, time.UTC))
	if _, ok := m.listed["2024-03-08"]; !ok {
		t.Fatal("2024-03-08 not listed on 2024-03-04")
	}

	// The Monday after the 03-08 expiry.
	m.Publish(time.Date(2024, 3, 11, 9, 45, 0, 0, time.UTC))

	if _, ok := m.listed["2024-03-08"]; ok {
		t.Error("2024-03-08 still listed after expiring")
	}
	if len(m.expiries) != 6 {
		t.Errorf("len(expiries) = %d, want 6", len(m.expiries))
	}
	if first := m.expiries[0].Format("2006-01-02"); first != "2024-03-15" {
		t.Errorf("first expiry = %s, want 2024-03-15", first)
	}
	if last := m.expiries[len(m.expiries)-1].Format("2006-01-02"); last != "2024-04-19" {
		t.Errorf("last expiry = %s, want 2024-04-19", last)
	}
}

func TestMarketWalkIsSeeded(t *testing.T) {
	m1, _ := newTestMarket(t)
	m2, _ := newTestMarket(t)

	ticks := []time.Time{
		time.Date(2024, 3, 4, 9, 45, 0, 0, time.UTC),
		time.Date(2024, 3, 4, 10, 45, 0, 0, time.UTC),
		time.Date(2024, 3, 5, 9, 45, 0, 0, time.UTC),
	}
	for _, tick := range ticks {
		m1.Publish(tick)
		m2.Publish(tick)
	}

	if m1.spot != m2.spot {
		t.Errorf("same seed diverged: %.6f vs %.6f", m1.spot, m2.spot)
	}
	if m1.spot <= 0 {
		t.Errorf("spot = %.6f, want > 0", m1.spot)
	}
	if m1.spot == 100 {
		t.Error("spot never moved across ticks")
	}
}

func TestMarketFirstTickKeepsInitialPrice(t *testing.T) {
	m, host := newTestMarket(t)

	m.Publish(time.Date(2024, 3, 4, 9, 45, 0, 0, time.UTC))

	if host.UnderlyingPrice() != 100 {
		t.Errorf("first tick spot = %.4f, want the initial price 100", host.UnderlyingPrice())
	}
}

func TestNextFriday(t *testing.T) {
	tests := []struct {
		name string
		day  string
		want string
	}{
		{"monday", "2024-03-04", "2024-03-08"},
		{"friday is kept", "2024-03-08", "2024-03-08"},
		{"saturday rolls forward", "2024-03-09", "2024-03-15"},
		{"sunday rolls forward", "2024-03-10", "2024-03-15"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			day, err := time.Parse("2006-01-02", tt.day)
			if err != nil {
				t.Fatal(err)
			}
			if got := nextFriday(day).Format("2006-01-02"); got != tt.want {
				t.Errorf("nextFriday(%s) = %s, want %s", tt.day, got, tt.want)
			}
		})
	}
}
