package models

// RunStats accumulates realized results across closed positions. Counters
// update incrementally as positions close; distribution summaries (mean,
// stddev) are computed from history when a report is built.
type RunStats struct {
	Won       int `json:"won"`
	Lost      int `json:"lost"`
	Cancelled int `json:"cancelled"`

	// WinRate is a percentage over won+lost. Cancelled entries don't count.
	WinRate float64 `json:"win_rate"`

	TotalPnL    float64 `json:"total_pnl"`
	TotalCredit float64 `json:"total_credit"`
	TotalDebit  float64 `json:"total_debit"`

	TotalWinAmt  float64 `json:"total_win_amt"`
	TotalLossAmt float64 `json:"total_loss_amt"`
	AverageWin   float64 `json:"average_win"`
	AverageLoss  float64 `json:"average_loss"` // reported positive
	MaxWin       float64 `json:"max_win"`
	MaxLoss      float64 `json:"max_loss"`

	// TestedPut/TestedCall count losing credit positions whose short strike
	// was breached or pressured at close.
	TestedPut  int `json:"tested_put"`
	TestedCall int `json:"tested_call"`

	// PremiumCapture is realized P&L as a percentage of total credit.
	PremiumCapture float64 `json:"premium_capture"`
}

// Trades is the number of closed positions counted in win/loss stats.
func (s *RunStats) Trades() int {
	return s.Won + s.Lost
}
