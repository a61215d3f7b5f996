// Package pricing implements Black-Scholes-Merton valuation: theoretical
// prices, the Greeks used for strike selection and risk tracking, and an
// implied-volatility solver. Results are memoized per tick so a chain scan
// prices each contract at most once per bar.
package pricing

import (
	"math"
	"time"

	"github.com/chobie/go-gaussian"

	"github.com/rcc-trading/condorhawk/internal/models"
)

const (
	// ivSeed starts the Halley iteration when no prior solve exists for
	// the contract.
	ivSeed = 0.1
	// ivTolerance is the step-size convergence tolerance shared by the
	// Halley and bisection solvers.
	ivTolerance = 1e-6
	ivMaxIter   = 100
	// Bisection bracket for the fallback solve. Volatilities above 200%
	// are treated as unresolvable quotes.
	ivBracketLo = 0.0001
	ivBracketHi = 2.0

	// sessionMinutes is the regular equity session length (09:30-16:00).
	sessionMinutes = 390.0
	secondsPerDay  = 86400.0

	// marketCloseOffset positions the close at 16:00 on the expiry date.
	marketCloseOffset = 16 * time.Hour
)

// Config contains the model parameters of the pricing engine.
type Config struct {
	// RiskFreeRate is the annualized rate used for discounting.
	RiskFreeRate float64
	// TradingDays converts between annualized and daily quantities.
	TradingDays float64
}

// DefaultConfig is the default pricing configuration.
var DefaultConfig = Config{
	RiskFreeRate: 0.001,
	TradingDays:  365.0,
}

// Engine evaluates the Black-Scholes-Merton model. It owns the per-tick
// Greeks cache and the per-contract IV seeds; contracts themselves stay
// immutable market data.
//
// The engine is driven from the single event loop and is not safe for
// concurrent use.
type Engine struct {
	norm *gaussian.Gaussian
	cfg  Config

	// cache holds one Greeks bundle per contract symbol for the current
	// tick; it is dropped wholesale when the tick advances.
	cacheTick int64
	cache     map[string]models.Greeks
	// lastIV seeds the next Halley solve with the previous tick's root.
	lastIV map[string]float64
}

// NewEngine creates a pricing engine. Zero or negative config values fall
// back to the defaults.
func NewEngine(config ...Config) *Engine {
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	if cfg.TradingDays <= 0 {
		cfg.TradingDays = DefaultConfig.TradingDays
	}

	return &Engine{
		norm:   gaussian.NewGaussian(0, 1),
		cfg:    cfg,
		cache:  make(map[string]models.Greeks),
		lastIV: make(map[string]float64),
	}
}

// Tau returns the time to expiry as a year fraction, measured to the
// 16:00 market close on the expiry date. Same-day contracts use the
// fraction of session minutes remaining instead of truncating to zero,
// so 0-DTE positions keep a usable time value through the day.
func (e *Engine) Tau(expiry, now time.Time) float64 {
	marketClose := expiry.Add(marketCloseOffset)
	diff := marketClose.Sub(now)
	if diff <= 0 {
		return 0
	}
	days := math.Floor(diff.Hours() / 24)
	remSeconds := diff.Seconds() - days*secondsPerDay
	dte := math.Max(days, remSeconds/(60.0*sessionMinutes))
	return dte / e.cfg.TradingDays
}

// D1 computes the BSM d1 term. Expired contracts (tau == 0) and contracts
// whose volatility could not be resolved (sigma == 0) collapse to signed
// infinity so the downstream Greeks reach their boundary values (delta 0
// or +/-1) without producing NaN: in the money -> +inf for calls, -inf
// for puts; out of the money the signs flip.
func (e *Engine) D1(right models.OptionRight, spot, strike, tau, sigma float64) float64 {
	if tau == 0 || sigma == 0 {
		if itm(right, spot, strike) {
			return right.Sign() * math.Inf(1)
		}
		return right.Sign() * math.Inf(-1)
	}
	return (math.Log(spot/strike) + (e.cfg.RiskFreeRate+0.5*sigma*sigma)*tau) / (sigma * math.Sqrt(tau))
}

// D2 derives d2 from a previously computed d1.
func (e *Engine) D2(d1, sigma, tau float64) float64 {
	return d1 - sigma*math.Sqrt(tau)
}

// Price returns the theoretical value of a European option without
// dividends.
func (e *Engine) Price(right models.OptionRight, spot, strike, tau, sigma float64) float64 {
	d1 := e.D1(right, spot, strike, tau, sigma)
	d2 := e.D2(d1, sigma, tau)
	xert := strike * math.Exp(-e.cfg.RiskFreeRate*tau)
	if right == models.RightCall {
		return e.norm.Cdf(d1)*spot - e.norm.Cdf(d2)*xert
	}
	return e.norm.Cdf(-d2)*xert - e.norm.Cdf(-d1)*spot
}

// Delta returns the option delta: N(d1) for calls, -N(-d1) for puts.
func (e *Engine) Delta(right models.OptionRight, spot, strike, tau, sigma float64) float64 {
	return e.deltaFromD1(right, e.D1(right, spot, strike, tau, sigma))
}

// Gamma returns the second derivative with respect to the underlying
// price. Degenerate inputs return +inf rather than dividing by zero.
func (e *Engine) Gamma(right models.OptionRight, spot, strike, tau, sigma float64) float64 {
	return e.gammaFromD1(e.D1(right, spot, strike, tau, sigma), spot, sigma, tau)
}

// Vega returns the sensitivity to a unit change in volatility.
func (e *Engine) Vega(right models.OptionRight, spot, strike, tau, sigma float64) float64 {
	return e.vegaFromD1(e.D1(right, spot, strike, tau, sigma), spot, tau)
}

// Theta returns the daily time decay (annualized theta divided by the
// configured trading-day count).
func (e *Engine) Theta(right models.OptionRight, spot, strike, tau, sigma float64) float64 {
	d1 := e.D1(right, spot, strike, tau, sigma)
	return e.thetaFromD(right, d1, e.D2(d1, sigma, tau), spot, strike, sigma, tau)
}

// Rho returns the sensitivity to the risk-free rate.
func (e *Engine) Rho(right models.OptionRight, spot, strike, tau, sigma float64) float64 {
	d1 := e.D1(right, spot, strike, tau, sigma)
	return e.rhoFromD2(right, e.D2(d1, sigma, tau), strike, tau)
}

// Vomma returns the second derivative with respect to volatility,
// +inf when sigma is zero.
func (e *Engine) Vomma(right models.OptionRight, spot, strike, tau, sigma float64) float64 {
	d1 := e.D1(right, spot, strike, tau, sigma)
	return e.vommaFromD(d1, e.D2(d1, sigma, tau), spot, sigma, tau)
}

// Elasticity returns the percentage change in option value per percentage
// change in the underlying price (delta * spot / mid).
func (e *Engine) Elasticity(delta, spot, mid float64) float64 {
	if mid == 0 {
		if delta == 0 {
			return 0
		}
		return math.Inf(int(models.SignFloat(delta)))
	}
	return delta * spot / mid
}

func (e *Engine) deltaFromD1(right models.OptionRight, d1 float64) float64 {
	if right == models.RightCall {
		return e.norm.Cdf(d1)
	}
	return -e.norm.Cdf(-d1)
}

func (e *Engine) gammaFromD1(d1, spot, sigma, tau float64) float64 {
	if sigma == 0 || tau == 0 {
		return math.Inf(1)
	}
	return e.norm.Pdf(d1) / (spot * sigma * math.Sqrt(tau))
}

func (e *Engine) vegaFromD1(d1, spot, tau float64) float64 {
	return spot * e.norm.Pdf(d1) * math.Sqrt(tau)
}

func (e *Engine) thetaFromD(right models.OptionRight, d1, d2, spot, strike, sigma, tau float64) float64 {
	// -S*N'(d1)*sigma / (2*sqrt(tau)); zero at expiry where the decay
	// term has nothing left to decay.
	sns := 0.0
	if tau > 0 {
		sns = -(spot * e.norm.Pdf(d1) * sigma) / (2.0 * math.Sqrt(tau))
	}
	rxert := e.cfg.RiskFreeRate * strike * math.Exp(-e.cfg.RiskFreeRate*tau)
	if right == models.RightCall {
		return (sns - rxert*e.norm.Cdf(d2)) / e.cfg.TradingDays
	}
	return (sns + rxert*e.norm.Cdf(-d2)) / e.cfg.TradingDays
}

func (e *Engine) rhoFromD2(right models.OptionRight, d2, strike, tau float64) float64 {
	txert := tau * e.cfg.RiskFreeRate * strike * math.Exp(-e.cfg.RiskFreeRate*tau)
	if right == models.RightCall {
		return txert * e.norm.Cdf(d2)
	}
	return -txert * e.norm.Cdf(-d2)
}

func (e *Engine) vommaFromD(d1, d2, spot, sigma, tau float64) float64 {
	if sigma == 0 {
		return math.Inf(1)
	}
	// At tau == 0 the d terms are infinite while vega is zero; the limit
	// is zero, not NaN.
	if math.IsInf(d1, 0) {
		return 0
	}
	return spot * e.norm.Pdf(d1) * math.Sqrt(tau) * d1 * d2 / sigma
}

// ImpliedVolatility solves for the volatility implied by the contract's
// current mid-price. The primary solver is Halley's method seeded with
// the previous solve for the same contract (or ivSeed), using vega and
// vomma as the first and second derivatives. Any failure falls back to
// bisection on [ivBracketLo, ivBracketHi]. When both fail the result is
// (0, false) and callers must treat the volatility as unknown.
func (e *Engine) ImpliedVolatility(c *models.OptionContract, tau float64) (float64, bool) {
	target := c.MidPrice()
	f := func(sigma float64) float64 {
		return e.Price(c.Right, c.UnderlyingPrice, c.Strike, tau, sigma) - target
	}

	seed := ivSeed
	if prev, ok := e.lastIV[c.Symbol]; ok && prev > 0 {
		seed = prev
	}
	if iv, ok := e.halley(f, c, tau, seed); ok {
		e.lastIV[c.Symbol] = iv
		return iv, true
	}
	if iv, ok := bisect(f, ivBracketLo, ivBracketHi); ok {
		e.lastIV[c.Symbol] = iv
		return iv, true
	}
	return 0, false
}

func (e *Engine) halley(f func(float64) float64, c *models.OptionContract, tau, seed float64) (float64, bool) {
	x := seed
	for i := 0; i < ivMaxIter; i++ {
		fx := f(x)
		fp := e.Vega(c.Right, c.UnderlyingPrice, c.Strike, tau, x)
		fpp := e.Vomma(c.Right, c.UnderlyingPrice, c.Strike, tau, x)
		if fp == 0 || models.IsInfOrNaN(fx) || models.IsInfOrNaN(fp) || models.IsInfOrNaN(fpp) {
			return 0, false
		}
		denom := 2*fp*fp - fx*fpp
		if denom == 0 {
			return 0, false
		}
		next := x - 2*fx*fp/denom
		if models.IsInfOrNaN(next) || next <= 0 {
			return 0, false
		}
		if math.Abs(next-x) < ivTolerance {
			return next, true
		}
		x = next
	}
	return 0, false
}

// bisect finds a sign change of f on [lo, hi]. It reports failure when
// the bracket does not straddle a root.
func bisect(f func(float64) float64, lo, hi float64) (float64, bool) {
	flo := f(lo)
	fhi := f(hi)
	if models.IsInfOrNaN(flo) || models.IsInfOrNaN(fhi) {
		return 0, false
	}
	if flo == 0 {
		return lo, true
	}
	if fhi == 0 {
		return hi, true
	}
	if flo*fhi > 0 {
		return 0, false
	}
	for hi-lo > ivTolerance {
		mid := 0.5 * (lo + hi)
		fmid := f(mid)
		if fmid == 0 {
			return mid, true
		}
		if flo*fmid < 0 {
			hi = mid
		} else {
			lo = mid
			flo = fmid
		}
	}
	return 0.5 * (lo + hi), true
}

// ComputeGreeks solves the contract's implied volatility from its mid
// quote and returns the full Greeks bundle, rounded to storage precision.
// Repeat calls for the same contract within the same tick return the
// cached bundle.
func (e *Engine) ComputeGreeks(c *models.OptionContract, now time.Time) models.Greeks {
	if g, ok := e.cachedGreeks(c.Symbol, now); ok {
		return g
	}
	tau := e.Tau(c.Expiry, now)
	iv, converged := e.ImpliedVolatility(c, tau)
	g := e.buildGreeks(c, iv, tau, now)
	g.Converged = converged
	e.storeGreeks(c.Symbol, now, g)
	return g
}

// ComputeGreeksWithSigma is ComputeGreeks for callers that already hold a
// volatility and want to skip the solve.
func (e *Engine) ComputeGreeksWithSigma(c *models.OptionContract, sigma float64, now time.Time) models.Greeks {
	if g, ok := e.cachedGreeks(c.Symbol, now); ok {
		return g
	}
	tau := e.Tau(c.Expiry, now)
	g := e.buildGreeks(c, sigma, tau, now)
	g.Converged = true
	e.storeGreeks(c.Symbol, now, g)
	return g
}

// ComputeGreeksBatch evaluates a slice of contracts in order.
func (e *Engine) ComputeGreeksBatch(contracts []*models.OptionContract, now time.Time) []models.Greeks {
	out := make([]models.Greeks, len(contracts))
	for i, c := range contracts {
		out[i] = e.ComputeGreeks(c, now)
	}
	return out
}

func (e *Engine) buildGreeks(c *models.OptionContract, sigma, tau float64, now time.Time) models.Greeks {
	spot := c.UnderlyingPrice
	d1 := e.D1(c.Right, spot, c.Strike, tau, sigma)
	d2 := e.D2(d1, sigma, tau)
	delta := e.deltaFromD1(c.Right, d1)

	g := models.Greeks{
		Delta:      delta,
		Gamma:      e.gammaFromD1(d1, spot, sigma, tau),
		Vega:       e.vegaFromD1(d1, spot, tau),
		Theta:      e.thetaFromD(c.Right, d1, d2, spot, c.Strike, sigma, tau),
		Rho:        e.rhoFromD2(c.Right, d2, c.Strike, tau),
		Vomma:      e.vommaFromD(d1, d2, spot, sigma, tau),
		Elasticity: e.Elasticity(delta, spot, c.MidPrice()),
		IV:         sigma,
		ComputedAt: now,
	}
	return g.Rounded()
}

func (e *Engine) cachedGreeks(symbol string, now time.Time) (models.Greeks, bool) {
	if now.UnixNano() != e.cacheTick {
		return models.Greeks{}, false
	}
	g, ok := e.cache[symbol]
	return g, ok
}

func (e *Engine) storeGreeks(symbol string, now time.Time, g models.Greeks) {
	tick := now.UnixNano()
	if tick != e.cacheTick {
		// New bar: everything cached for the old bar is stale.
		e.cache = make(map[string]models.Greeks, len(e.cache)+1)
		e.cacheTick = tick
	}
	e.cache[symbol] = g
}

func itm(right models.OptionRight, spot, strike float64) bool {
	if right == models.RightCall {
		return spot > strike
	}
	return spot < strike
}
