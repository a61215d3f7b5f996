package main

import (
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/rcc-trading/condorhawk/internal/broker"
	"github.com/rcc-trading/condorhawk/internal/config"
	"github.com/rcc-trading/condorhawk/internal/models"
	"github.com/rcc-trading/condorhawk/internal/pricing"
)

const (
	// halfSpread is the fixed half bid-ask spread quoted on every contract.
	halfSpread = 0.05

	yearSeconds = 365.0 * 86400.0
)

// market synthesizes what the simulated host serves each tick: a geometric
// Brownian walk for the underlying and flat-volatility quotes on a strike
// ladder, refreshed for every listed weekly expiry. Strikes accumulate as
// spot wanders - once listed, a strike keeps quoting until its expiry
// passes, so open positions never lose their quotes.
type market struct {
	cfg      config.BacktestConfig
	host     *broker.SimHost
	pricer   *pricing.Engine
	rng      *rand.Rand
	spot     float64
	last     time.Time
	horizon  int
	expiries []time.Time
	listed   map[string]map[float64]bool
}

func newMarket(cfg *config.Config, host *broker.SimHost, pricer *pricing.Engine) *market {
	horizon := 0
	for i := range cfg.Strategies {
		if dte := cfg.Strategies[i].TargetDte(); dte > horizon {
			horizon = dte
		}
	}
	return &market{
		cfg:     cfg.Backtest,
		host:    host,
		pricer:  pricer,
		rng:     rand.New(rand.NewSource(cfg.Backtest.Seed)),
		spot:    cfg.Backtest.InitialPrice,
		horizon: horizon,
		listed:  make(map[string]map[float64]bool),
	}
}

// Publish advances the walk to now and reloads every listed chain.
func (m *market) Publish(now time.Time) {
	m.step(now)
	m.host.SetClock(now)
	m.host.SetUnderlyingPrice(m.spot)
	m.refreshExpiries(now)
	for _, expiry := range m.expiries {
		m.host.LoadChain(expiry, m.ladder(expiry, now))
	}
}

// step moves spot by a GBM increment sized to the wall time since the
// previous tick, so overnight and weekend gaps diffuse more than an
// intraday step.
func (m *market) step(now time.Time) {
	if !m.last.IsZero() {
		dt := now.Sub(m.last).Seconds() / yearSeconds
		if dt > 0 {
			z := m.rng.NormFloat64()
			vol := m.cfg.Volatility
			m.spot *= math.Exp((m.cfg.Drift-0.5*vol*vol)*dt + vol*math.Sqrt(dt)*z)
		}
	}
	m.last = now
}

// refreshExpiries drops listings whose expiry date has passed and extends
// the weekly cycle far enough to cover the furthest entry window.
func (m *market) refreshExpiries(now time.Time) {
	today := midnight(now)

	keep := m.expiries[:0]
	for _, expiry := range m.expiries {
		if expiry.Before(today) {
			delete(m.listed, expiryKey(expiry))
			continue
		}
		keep = append(keep, expiry)
	}
	m.expiries = keep

	next := nextFriday(today)
	if n := len(m.expiries); n > 0 {
		next = m.expiries[n-1].AddDate(0, 0, 7)
	}
	for ; broker.DaysBetween(now, next) <= m.horizon; next = next.AddDate(0, 0, 7) {
		m.expiries = append(m.expiries, next)
	}
}

// ladder quotes puts and calls on every strike listed for the expiry,
// widening the listing to a grid centered at the current spot.
func (m *market) ladder(expiry, now time.Time) []*models.OptionContract {
	key := expiryKey(expiry)
	strikes := m.listed[key]
	if strikes == nil {
		strikes = make(map[float64]bool)
		m.listed[key] = strikes
	}
	base := math.Round(m.spot/m.cfg.StrikeStep) * m.cfg.StrikeStep
	for i := -m.cfg.StrikeSpan; i <= m.cfg.StrikeSpan; i++ {
		if strike := base + float64(i)*m.cfg.StrikeStep; strike > 0 {
			strikes[strike] = true
		}
	}

	grid := make([]float64, 0, len(strikes))
	for strike := range strikes {
		grid = append(grid, strike)
	}
	sort.Float64s(grid)

	tau := m.pricer.Tau(expiry, now)
	contracts := make([]*models.OptionContract, 0, len(grid)*2)
	for _, strike := range grid {
		for _, right := range []models.OptionRight{models.RightPut, models.RightCall} {
			price := m.pricer.Price(right, m.spot, strike, tau, m.cfg.Volatility)
			contracts = append(contracts, &models.OptionContract{
				Symbol:          models.FormatOSISymbol(m.cfg.Underlying, expiry, right, strike),
				Right:           right,
				Strike:          strike,
				Expiry:          expiry,
				Bid:             math.Max(price-halfSpread, 0),
				Ask:             price + halfSpread,
				UnderlyingPrice: m.spot,
			})
		}
	}
	return contracts
}

func expiryKey(expiry time.Time) string {
	return expiry.Format("2006-01-02")
}

func midnight(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
}

func nextFriday(day time.Time) time.Time {
	for day.Weekday() != time.Friday {
		day = day.AddDate(0, 0, 1)
	}
	return day
}
