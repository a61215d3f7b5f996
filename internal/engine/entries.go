package engine

import (
	"errors"
	"sort"
	"time"

	"github.com/rcc-trading/condorhawk/internal/broker"
	"github.com/rcc-trading/condorhawk/internal/lifecycle"
)

// openPositions gives every runner one shot at a new entry, stopping early
// once the portfolio-wide position cap is reached.
func (e *Engine) openPositions(now time.Time) {
	for _, r := range e.runners {
		if e.risk.MaxActivePositions > 0 && e.ActiveCount() >= e.risk.MaxActivePositions {
			e.logger.Printf("at the portfolio position cap (%d), skipping entries", e.risk.MaxActivePositions)
			return
		}
		e.enter(r, now)
	}
}

// enter opens at most one position for the runner: capacity and spacing
// gates, expiry-cycle selection, leg assembly, sizing, submission.
func (e *Engine) enter(r *runner, now time.Time) {
	if r.cfg.MaxActivePositions > 0 && r.book.ActiveCount() >= r.cfg.MaxActivePositions {
		return
	}
	if spacing := r.cfg.EntrySpacing(); spacing > 0 && !r.lastOpened.IsZero() &&
		now.Before(r.lastOpened.Add(spacing)) {
		return
	}

	expiries := e.expiriesInWindow(r, now)
	if len(expiries) == 0 {
		return
	}
	expiry := e.selectExpiry(r, now, expiries)

	if !r.cfg.AllowMultipleEntriesPerExpiry && r.book.HasExpiry(expiry) {
		e.logger.Printf("%s: already positioned on %s", r.def.Name(), expiry.Format("2006-01-02"))
		return
	}

	contracts := e.host.Chain(expiry)
	if len(contracts) == 0 {
		return
	}
	legs, label := r.def.Assemble(contracts, now)
	if len(legs) == 0 {
		e.logger.Printf("%s: no %s available on %s", r.def.Name(), label, expiry.Format("2006-01-02"))
		return
	}

	desc := r.builder.Build(legs, r.def.Name(), r.def.IsCredit())
	if desc == nil {
		return
	}

	id, err := r.book.OpenPosition(desc)
	if err != nil {
		if errors.Is(err, lifecycle.ErrRejected) {
			e.logger.Printf("%s: %v", r.def.Name(), err)
			return
		}
		e.logger.Printf("%s: opening failed: %v", r.def.Name(), err)
		return
	}
	r.lastOpened = now
	e.logger.Printf("%s: opened %s expiring %s, qty %d (%s)",
		r.def.Name(), label, expiry.Format("2006-01-02"), desc.Quantity, shortID(id))
}

// expiriesInWindow lists the host's expiration cycles whose days to expiry
// fall inside the runner's [minDte, dte] window, furthest first.
func (e *Engine) expiriesInWindow(r *runner, now time.Time) []time.Time {
	minDte, maxDte := r.cfg.MinDte(), r.cfg.TargetDte()
	nowDate := now.Truncate(24 * time.Hour)

	var out []time.Time
	for _, expiry := range e.host.Expiries() {
		if expiry.Before(nowDate) {
			continue
		}
		dte := broker.DaysBetween(now, expiry)
		if dte >= minDte && dte <= maxDte {
			out = append(out, expiry)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].After(out[j]) })
	return out
}

// selectExpiry picks the expiration cycle to trade. The recent-close queue
// is consumed oldest first until an entry still inside the window turns up;
// with dynamic selection enabled that entry's DTE drives the choice, so a
// rolling book keeps re-entering the cycle it just left. Otherwise the
// furthest (or earliest) expiry wins.
func (e *Engine) selectExpiry(r *runner, now time.Time, expiries []time.Time) time.Time {
	minDte := r.cfg.MinDte()

	lastClosedDte := -1
	lastClosedTag := ""
	for len(r.recentlyClosed) > 0 {
		t := r.recentlyClosed[0]
		r.recentlyClosed = r.recentlyClosed[1:]
		if t.dte >= minDte {
			lastClosedDte, lastClosedTag = t.dte, t.tag
			break
		}
	}

	if r.cfg.DynamicDteSelection && lastClosedDte >= 0 {
		best := expiries[0]
		bestDiff := -1
		for _, expiry := range expiries {
			diff := broker.DaysBetween(now, expiry) - lastClosedDte
			if diff < 0 {
				diff = -diff
			}
			if bestDiff < 0 || diff < bestDiff {
				best, bestDiff = expiry, diff
			}
		}
		e.logger.Printf("%s: following the %d DTE of closed %s", r.def.Name(), lastClosedDte, lastClosedTag)
		return best
	}

	if r.cfg.UsesFurthestExpiry() {
		return expiries[0]
	}
	return expiries[len(expiries)-1]
}
