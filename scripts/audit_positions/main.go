// audit_positions - A utility to audit the position snapshot file.
// It checks the live book and trade history for state inconsistencies a
// crashed or interrupted run may have left behind, and cross-checks the
// persisted run statistics against the history.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/rcc-trading/condorhawk/internal/config"
	"github.com/rcc-trading/condorhawk/internal/models"
	"github.com/rcc-trading/condorhawk/internal/storage"
)

type auditResult struct {
	Path          string          `json:"path"`
	OpenPositions int             `json:"open_positions"`
	HistoryCount  int             `json:"history_count"`
	Stats         models.RunStats `json:"stats"`
	Issues        []string        `json:"issues"`
}

func main() {
	var (
		configPath = flag.String("config", "config.yaml", "Path to configuration file")
		jsonOutput = flag.Bool("json", false, "Output results as JSON")
		verbose    = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	store, err := storage.NewStorage(cfg.Storage.Path)
	if err != nil {
		log.Fatalf("Failed to open storage: %v", err)
	}

	positions := store.GetPositions()
	history := store.GetHistory()
	stats := store.GetStats()

	audit := &auditResult{
		Path:          cfg.Storage.Path,
		OpenPositions: len(positions),
		HistoryCount:  len(history),
		Stats:         stats,
		Issues:        analyzeBook(time.Now(), positions, history, stats),
	}

	if *jsonOutput {
		output, err := json.MarshalIndent(audit, "", "  ")
		if err != nil {
			log.Fatalf("Failed to marshal JSON: %v", err)
		}
		fmt.Println(string(output))
		return
	}

	fmt.Printf("Auditing %s\n\n", cfg.Storage.Path)
	fmt.Printf("Open positions: %d\n", len(positions))
	if *verbose {
		for _, pos := range positions {
			fmt.Printf("  %-24s %-14s %-18s exp %s qty %d\n",
				pos.Tag, pos.Strategy, pos.GetCurrentState(),
				pos.Expiry.Format("2006-01-02"), pos.Quantity)
		}
	}
	fmt.Printf("History entries: %d (won %d, lost %d, cancelled %d)\n\n",
		len(history), stats.Won, stats.Lost, stats.Cancelled)

	if len(audit.Issues) > 0 {
		fmt.Printf("POTENTIAL ISSUES FOUND:\n")
		for i, issue := range audit.Issues {
			fmt.Printf("  %d. %s\n", i+1, issue)
		}
	} else {
		fmt.Printf("No obvious issues detected.\n")
	}
}

// expiryGrace allows for settlement lag before flagging a live position
// whose contracts have already expired.
const expiryGrace = 24 * time.Hour

// analyzeBook runs the consistency checks over a storage snapshot.
func analyzeBook(now time.Time, positions, history []*models.Position, stats models.RunStats) []string {
	var issues []string

	seen := make(map[string]string, len(positions))
	for _, pos := range positions {
		if err := pos.ValidateState(); err != nil {
			issues = append(issues, err.Error())
		}
		switch pos.GetCurrentState() {
		case models.StateClosed, models.StateCancelled:
			issues = append(issues, fmt.Sprintf("position %s is %s but still in the live book",
				pos.Tag, pos.GetCurrentState()))
		}
		if !pos.Expiry.IsZero() && now.After(pos.Expiry.Add(expiryGrace)) {
			issues = append(issues, fmt.Sprintf("position %s expired %s but is still live",
				pos.Tag, pos.Expiry.Format("2006-01-02")))
		}
		if other, dup := seen[pos.Tag]; dup {
			issues = append(issues, fmt.Sprintf("tag %s is shared by positions %s and %s",
				pos.Tag, other, pos.ID))
		}
		seen[pos.Tag] = pos.ID
	}

	var settledPnL float64
	settled := 0
	for _, pos := range history {
		state := pos.GetCurrentState()
		if state != models.StateClosed && state != models.StateCancelled {
			issues = append(issues, fmt.Sprintf("history entry %s is %s, expected a terminal state",
				pos.Tag, state))
		}
		if state == models.StateClosed {
			if pos.ClosedAt.IsZero() {
				issues = append(issues, fmt.Sprintf("history entry %s closed without a close timestamp", pos.Tag))
			}
			settledPnL += pos.FinalPnL
			settled++
		}
	}

	if counted := stats.Trades() + stats.Cancelled; counted != len(history) {
		issues = append(issues, fmt.Sprintf("stats count %d trades+cancels but history holds %d entries",
			counted, len(history)))
	}
	if settled > 0 && math.Abs(stats.TotalPnL-settledPnL) > 0.01 {
		issues = append(issues, fmt.Sprintf("stats total P&L %.2f drifts from history sum %.2f",
			stats.TotalPnL, settledPnL))
	}

	return issues
}
