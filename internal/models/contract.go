// Package models provides the data structures shared by the pricing,
// search, order-building and lifecycle components.
package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// OptionRight identifies the contract type.
type OptionRight string

const (
	// RightCall is a call option.
	RightCall OptionRight = "call"
	// RightPut is a put option.
	RightPut OptionRight = "put"
)

// Sign returns +1 for calls and -1 for puts, the direction in which the
// payoff increases with the underlying price.
func (r OptionRight) Sign() float64 {
	if r == RightCall {
		return 1
	}
	return -1
}

// Opposite returns the other option right.
func (r OptionRight) Opposite() OptionRight {
	if r == RightCall {
		return RightPut
	}
	return RightCall
}

// OptionContract is one tradable contract from a chain snapshot. Quote
// fields (Bid, Ask, UnderlyingPrice) are refreshed by the host each tick;
// derived values (IV, Greeks) live in the pricing engine's per-tick cache,
// never on the contract itself.
type OptionContract struct {
	Symbol          string      `json:"symbol"`
	Right           OptionRight `json:"right"`
	Strike          float64     `json:"strike"`
	Expiry          time.Time   `json:"expiry"`
	Bid             float64     `json:"bid"`
	Ask             float64     `json:"ask"`
	UnderlyingPrice float64     `json:"underlying_price"`
}

// MidPrice returns (bid+ask)/2.
func (c *OptionContract) MidPrice() float64 {
	return 0.5 * (c.Bid + c.Ask)
}

// BidAskSpread returns ask-bid.
func (c *OptionContract) BidAskSpread() float64 {
	return c.Ask - c.Bid
}

// IsITM reports whether the contract is in the money at the current
// underlying price.
func (c *OptionContract) IsITM() bool {
	if c.Right == RightCall {
		return c.UnderlyingPrice > c.Strike
	}
	return c.UnderlyingPrice < c.Strike
}

// Validate checks the structural invariants of a chain entry.
func (c *OptionContract) Validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("contract has no symbol")
	}
	if c.Right != RightCall && c.Right != RightPut {
		return fmt.Errorf("contract %s: invalid right %q", c.Symbol, c.Right)
	}
	if c.Strike <= 0 {
		return fmt.Errorf("contract %s: strike must be > 0, got %v", c.Symbol, c.Strike)
	}
	if c.Bid > 0 && c.Ask > 0 && c.Bid > c.Ask {
		return fmt.Errorf("contract %s: bid %v above ask %v", c.Symbol, c.Bid, c.Ask)
	}
	return nil
}

// FormatOSISymbol builds an OSI option symbol:
// TICKER + YYMMDD + C/P + strike*1000 zero-padded to 8 digits.
// Example: SPY240315P00500000.
func FormatOSISymbol(underlying string, expiry time.Time, right OptionRight, strike float64) string {
	rightChar := "P"
	if right == RightCall {
		rightChar = "C"
	}
	return fmt.Sprintf("%s%s%s%08d",
		strings.ToUpper(underlying), expiry.Format("060102"), rightChar, int64(strike*1000+0.5))
}

// ParseOSISymbol extracts the strike and right from an OSI option symbol.
func ParseOSISymbol(symbol string) (strike float64, right OptionRight, err error) {
	if len(symbol) < 15 {
		return 0, "", fmt.Errorf("option symbol too short: %s", symbol)
	}

	// The right marker sits between the date block and the 8-digit strike.
	var pos int
	var rightChar byte
	for i := 6; i < len(symbol)-8; i++ {
		if symbol[i] == 'C' || symbol[i] == 'P' {
			rightChar = symbol[i]
			pos = i
			break
		}
	}
	if rightChar == 0 {
		return 0, "", fmt.Errorf("no option right (C/P) found in symbol: %s", symbol)
	}
	if pos+9 > len(symbol) {
		return 0, "", fmt.Errorf("symbol too short for strike extraction: %s", symbol)
	}

	strikeInt, err := strconv.ParseInt(symbol[pos+1:pos+9], 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("invalid strike in symbol %s: %w", symbol, err)
	}

	right = RightPut
	if rightChar == 'C' {
		right = RightCall
	}
	return float64(strikeInt) / 1000.0, right, nil
}
