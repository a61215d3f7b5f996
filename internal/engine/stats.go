package engine

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/rcc-trading/condorhawk/internal/models"
)

// collectClosed drains every book's terminal positions into the run
// statistics and the recent-close queues, then persists the counters.
// Storage failures are logged and never interrupt trading.
func (e *Engine) collectClosed() {
	dirty := false
	for _, r := range e.runners {
		for _, pos := range r.book.DrainClosed() {
			dirty = true
			if pos.GetCurrentState() == models.StateCancelled {
				e.stats.Cancelled++
				continue
			}
			e.updateStats(pos)
			r.recentlyClosed = append(r.recentlyClosed, closedTrade{
				tag: pos.Tag,
				dte: pos.CalculateDTE(pos.ClosedAt),
			})
		}
	}
	if !dirty {
		return
	}
	if err := e.store.SetStats(e.stats); err != nil {
		e.logger.Printf("storage: saving stats: %v", err)
	}
}

// updateStats folds one closed position into the counters. Credit
// positions open for a credit and close for a debit; debit positions the
// other way around. Losing credit positions also record which short strike
// the underlying breached, or was pressing against, at close.
func (e *Engine) updateStats(pos *models.Position) {
	s := &e.stats
	pnl := pos.FinalPnL

	if pos.IsCredit {
		s.TotalCredit += pos.Open.Premium
		s.TotalDebit += pos.Close.Premium
	} else {
		s.TotalCredit += pos.Close.Premium
		s.TotalDebit += pos.Open.Premium
	}

	s.TotalPnL += pnl
	e.pnls = append(e.pnls, pnl)

	if pnl > 0 {
		s.Won++
		s.TotalWinAmt += pnl
		s.MaxWin = math.Max(s.MaxWin, pnl)
		s.AverageWin = s.TotalWinAmt / float64(s.Won)
	} else {
		s.Lost++
		s.TotalLossAmt += pnl
		s.MaxLoss = math.Min(s.MaxLoss, pnl)
		s.AverageLoss = -s.TotalLossAmt / float64(s.Lost)

		if pos.IsCredit {
			shortPut, shortCall := shortStrikes(pos.Legs)
			priceAtClose := pos.UnderlyingAtClose
			switch {
			case priceAtClose <= shortPut:
				s.TestedPut++
			case priceAtClose >= shortCall:
				s.TestedCall++
			case priceAtClose-shortPut < shortCall-priceAtClose:
				s.TestedPut++
			default:
				s.TestedCall++
			}
		}
	}

	if trades := s.Trades(); trades > 0 {
		s.WinRate = 100 * float64(s.Won) / float64(trades)
	}
	if s.TotalCredit > 0 {
		s.PremiumCapture = 100 * s.TotalPnL / s.TotalCredit
	}
}

// shortStrikes pulls the short put and short call strikes off the legs.
// Structures without a plain shortPut/shortCall role keep the 0 and +Inf
// defaults.
func shortStrikes(legs []models.Leg) (put, call float64) {
	put, call = 0, math.Inf(1)
	for _, leg := range legs {
		if leg.Contract == nil {
			continue
		}
		switch leg.Role {
		case "shortPut":
			put = leg.Contract.Strike
		case "shortCall":
			call = leg.Contract.Strike
		}
	}
	return put, call
}

// Summary is the end-of-run report: the realized counters plus
// distribution moments over this run's per-trade P&L history.
type Summary struct {
	Stats     models.RunStats
	MeanPnL   float64
	StdDevPnL float64
}

// Summary computes the report. The mean and standard deviation cover only
// positions closed during this run; restored counters have no history.
func (e *Engine) Summary() Summary {
	out := Summary{Stats: e.stats}
	if len(e.pnls) == 0 {
		return out
	}
	mean, std := stat.MeanStdDev(e.pnls, nil)
	out.MeanPnL = mean
	if !math.IsNaN(std) {
		out.StdDevPnL = std
	}
	return out
}
