package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/rcc-trading/condorhawk/internal/config"
	"github.com/rcc-trading/condorhawk/internal/engine"
)

// driver walks simulated time across the configured date range, publishing
// a market snapshot and scanning the engine once per scheduled tick.
type driver struct {
	cfg    *config.Config
	market *market
	engine *engine.Engine
	logger *log.Logger
}

func (d *driver) Run(ctx context.Context) error {
	loc := d.cfg.Schedule.Location()
	start, err := d.cfg.Backtest.StartTime(loc)
	if err != nil {
		return fmt.Errorf("backtest start date: %w", err)
	}
	end, err := d.cfg.Backtest.EndTime(loc)
	if err != nil {
		return fmt.Errorf("backtest end date: %w", err)
	}

	interval := d.cfg.Schedule.ScanInterval()
	open := d.cfg.Schedule.StartOffset()
	stop := d.cfg.Schedule.StopOffset()

	var last time.Time
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		for tick := day.Add(open); tick.Before(day.Add(stop)); tick = tick.Add(interval) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			d.market.Publish(tick)
			d.engine.Scan(tick)
			last = tick

			if d.engine.Halted() {
				d.logger.Printf("Run halted on %s", tick.Format("2006-01-02 15:04"))
				return nil
			}
		}
	}

	if !last.IsZero() {
		if n := d.engine.ActiveCount(); n > 0 {
			d.logger.Printf("End of run, liquidating %d open position(s)", n)
		}
		d.engine.Liquidate(last)
	}
	return nil
}
