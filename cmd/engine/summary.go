package main

import (
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"

	"github.com/rcc-trading/condorhawk/internal/broker"
	"github.com/rcc-trading/condorhawk/internal/engine"
	"github.com/rcc-trading/condorhawk/internal/storage"
)

// printSummary renders the performance block for a finished run.
func printSummary(w io.Writer, eng *engine.Engine, host *broker.SimHost) {
	sum := eng.Summary()
	stats := sum.Stats

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Performance Statistics")

	table := tablewriter.NewWriter(w)
	table.Header("Metric", "Value")
	table.Append("Trades", fmt.Sprintf("%d", stats.Trades()))
	table.Append("Won", fmt.Sprintf("%d", stats.Won))
	table.Append("Lost", fmt.Sprintf("%d", stats.Lost))
	table.Append("Cancelled", fmt.Sprintf("%d", stats.Cancelled))
	table.Append("Win Rate", fmt.Sprintf("%.1f%%", stats.WinRate))
	table.Append("Total Credit", fmt.Sprintf("%.2f", stats.TotalCredit))
	table.Append("Total Debit", fmt.Sprintf("%.2f", stats.TotalDebit))
	table.Append("Total P&L", fmt.Sprintf("%.2f", stats.TotalPnL))
	table.Append("Average Win", fmt.Sprintf("%.2f", stats.AverageWin))
	table.Append("Average Loss", fmt.Sprintf("%.2f", stats.AverageLoss))
	table.Append("Max Win", fmt.Sprintf("%.2f", stats.MaxWin))
	table.Append("Max Loss", fmt.Sprintf("%.2f", stats.MaxLoss))
	table.Append("Tested Puts", fmt.Sprintf("%d", stats.TestedPut))
	table.Append("Tested Calls", fmt.Sprintf("%d", stats.TestedCall))
	table.Append("Premium Capture", fmt.Sprintf("%.1f%%", stats.PremiumCapture))
	table.Append("Mean P&L", fmt.Sprintf("%.2f", sum.MeanPnL))
	table.Append("P&L StdDev", fmt.Sprintf("%.2f", sum.StdDevPnL))
	table.Append("Initial Cash", fmt.Sprintf("%.2f", host.InitialCash()))
	table.Append("Final Value", fmt.Sprintf("%.2f", host.PortfolioValue()))
	table.Render()
}

// printTradeLog renders one row per retired position.
func printTradeLog(w io.Writer, store storage.Interface) {
	history := store.GetHistory()
	if len(history) == 0 {
		return
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Trade Log")

	table := tablewriter.NewWriter(w)
	table.Header("Tag", "Strategy", "Opened", "Closed", "DTE", "Qty", "Exit", "P&L")
	for _, pos := range history {
		table.Append(
			pos.Tag,
			pos.Strategy,
			pos.OpenedAt.Format("2006-01-02"),
			pos.ClosedAt.Format("2006-01-02"),
			fmt.Sprintf("%d", pos.OpenDTE),
			fmt.Sprintf("%d", pos.Quantity),
			pos.ExitReason,
			fmt.Sprintf("%.2f", pos.FinalPnL),
		)
	}
	table.Render()
}
