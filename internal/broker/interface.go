// Package broker defines the market boundary the engine runs against:
// chain snapshots, the clock, order routing with tagged fill events, and
// account scalars. Implementations are the deterministic SimHost here and
// whatever live adapter a deployment wires in.
package broker

import (
	"log"
	"math"
	"time"

	"github.com/sony/gobreaker"

	"github.com/rcc-trading/condorhawk/internal/models"
)

// FillStatus classifies a fill event.
type FillStatus string

const (
	// StatusFilled reports a complete execution of the submitted quantity.
	StatusFilled FillStatus = "filled"
	// StatusPartiallyFilled reports a partial execution; more events follow.
	StatusPartiallyFilled FillStatus = "partially_filled"
	// StatusRejected reports that the order was not executed at all.
	StatusRejected FillStatus = "rejected"
)

// FillEvent reports an execution on one leg of a tagged order. Quantity is
// signed: positive contracts bought, negative sold.
type FillEvent struct {
	Tag      string     `json:"tag"`
	Symbol   string     `json:"symbol"`
	Quantity int        `json:"quantity"`
	Price    float64    `json:"price"`
	Status   FillStatus `json:"status"`
	Time     time.Time  `json:"time"`
}

// Host is the engine's view of the market. Data calls answer from the
// current tick's snapshot and cannot fail; order submission is
// fire-and-forget, with executions reported on Fills and matched by tag.
type Host interface {
	// Now returns the host clock. All core time decisions use it.
	Now() time.Time

	// Market data
	UnderlyingPrice() float64
	Expiries() []time.Time
	Chain(expiry time.Time) []*models.OptionContract
	// Quote returns the current snapshot of one contract, or nil if the
	// symbol is not in any loaded chain.
	Quote(symbol string) *models.OptionContract

	// Order routing
	SubmitMarketOrder(symbol string, quantity int, tag string) error
	Fills() <-chan FillEvent

	// Account scalars
	MarginRemaining() float64
	PortfolioValue() float64
	RiskFreeRate() float64
}

// ContractByStrike finds the contract with the given strike and right.
func ContractByStrike(contracts []*models.OptionContract, strike float64, right models.OptionRight) *models.OptionContract {
	for _, c := range contracts {
		if c.Right == right && math.Abs(c.Strike-strike) <= 1e-4 {
			return c
		}
	}
	return nil
}

// DaysBetween calculates the number of calendar days between two dates.
func DaysBetween(from, to time.Time) int {
	f := from.UTC().Truncate(24 * time.Hour)
	t := to.UTC().Truncate(24 * time.Hour)
	d := int(t.Sub(f).Hours() / 24)
	if d < 0 {
		return -d
	}
	return d
}

// CircuitBreakerHost wraps a Host with a circuit breaker on the order
// submission boundary. Data calls pass straight through: they answer from
// the tick snapshot and have no failure mode worth tripping on.
type CircuitBreakerHost struct {
	host    Host
	breaker *gobreaker.CircuitBreaker
}

// Ensure CircuitBreakerHost implements Host at compile time.
var _ Host = (*CircuitBreakerHost)(nil)

// CircuitBreakerSettings configures circuit breaker behavior.
type CircuitBreakerSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Min requests before tripping
	FailureRatio float64       // Failure ratio threshold
}

// NewCircuitBreakerHost creates a CircuitBreakerHost with sensible defaults.
func NewCircuitBreakerHost(host Host) *CircuitBreakerHost {
	return NewCircuitBreakerHostWithSettings(host, CircuitBreakerSettings{
		MaxRequests:  3,                // Allow 3 requests when half-open
		Interval:     60 * time.Second, // Reset counts every minute
		Timeout:      30 * time.Second, // Open circuit for 30 seconds
		MinRequests:  5,                // Minimum requests before tripping
		FailureRatio: 0.6,              // Trip if 60% failure rate
	})
}

// NewCircuitBreakerHostWithSettings creates a CircuitBreakerHost with custom settings.
func NewCircuitBreakerHostWithSettings(host Host, settings CircuitBreakerSettings) *CircuitBreakerHost {
	gbSettings := gobreaker.Settings{
		Name:        "HostCircuitBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("Circuit breaker %s state changed from %s to %s", name, from, to)
		},
	}

	return &CircuitBreakerHost{
		host:    host,
		breaker: gobreaker.NewCircuitBreaker(gbSettings),
	}
}

// SubmitMarketOrder wraps the underlying submission with the circuit breaker.
func (c *CircuitBreakerHost) SubmitMarketOrder(symbol string, quantity int, tag string) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.host.SubmitMarketOrder(symbol, quantity, tag)
	})
	return err
}

// Now passes through to the wrapped host.
func (c *CircuitBreakerHost) Now() time.Time { return c.host.Now() }

// UnderlyingPrice passes through to the wrapped host.
func (c *CircuitBreakerHost) UnderlyingPrice() float64 { return c.host.UnderlyingPrice() }

// Expiries passes through to the wrapped host.
func (c *CircuitBreakerHost) Expiries() []time.Time { return c.host.Expiries() }

// Chain passes through to the wrapped host.
func (c *CircuitBreakerHost) Chain(expiry time.Time) []*models.OptionContract {
	return c.host.Chain(expiry)
}

// Quote passes through to the wrapped host.
func (c *CircuitBreakerHost) Quote(symbol string) *models.OptionContract {
	return c.host.Quote(symbol)
}

// Fills passes through to the wrapped host.
func (c *CircuitBreakerHost) Fills() <-chan FillEvent { return c.host.Fills() }

// MarginRemaining passes through to the wrapped host.
func (c *CircuitBreakerHost) MarginRemaining() float64 { return c.host.MarginRemaining() }

// PortfolioValue passes through to the wrapped host.
func (c *CircuitBreakerHost) PortfolioValue() float64 { return c.host.PortfolioValue() }

// RiskFreeRate passes through to the wrapped host.
func (c *CircuitBreakerHost) RiskFreeRate() float64 { return c.host.RiskFreeRate() }
