package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rcc-trading/condorhawk/internal/models"
)

// testPosition builds a two-leg credit spread position for storage tests.
func testPosition(id string) *models.Position {
	expiry := time.Date(2024, 4, 12, 0, 0, 0, 0, time.UTC)
	short := &models.OptionContract{
		Symbol: models.FormatOSISymbol("SPX", expiry, models.RightPut, 100),
		Right:  models.RightPut,
		Strike: 100,
		Expiry: expiry,
		Bid:    1.95,
		Ask:    2.05,
	}
	long := &models.OptionContract{
		Symbol: models.FormatOSISymbol("SPX", expiry, models.RightPut, 95),
		Right:  models.RightPut,
		Strike: 95,
		Expiry: expiry,
		Bid:    0.95,
		Ask:    1.05,
	}
	desc := &models.OrderDescriptor{
		Strategy:   "PutCreditSpread",
		Underlying: "SPX",
		Expiry:     expiry,
		Legs: []models.Leg{
			{Contract: short, Side: -1, Role: "shortPut"},
			{Contract: long, Side: 1, Role: "longPut"},
		},
		MidPrice:      1.0,
		LimitPrice:    0.95,
		Quantity:      2,
		IsCredit:      true,
		MaxLoss:       -400,
		UseLimitOrder: true,
		LimitTTL:      8 * time.Hour,
	}
	submitted := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	return models.NewPosition(desc, id, "PutCreditSpread-"+id, submitted, 28)
}

func newTestJSONStorage(t *testing.T) (*JSONStorage, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "book.json")
	s, err := NewJSONStorage(path)
	if err != nil {
		t.Fatalf("NewJSONStorage: %v", err)
	}
	return s, path
}

func TestNewJSONStorageFreshFile(t *testing.T) {
	s, path := newTestJSONStorage(t)

	if got := s.GetPositions(); len(got) != 0 {
		t.Errorf("fresh storage has %d positions, want 0", len(got))
	}
	if got := s.GetHistory(); len(got) != 0 {
		t.Errorf("fresh storage has %d history entries, want 0", len(got))
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("file created before first save: %v", err)
	}

	if err := s.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("file missing after save: %v", err)
	}
}

func TestJSONStorageReload(t *testing.T) {
	s, path := newTestJSONStorage(t)

	open := testPosition("pos-1")
	if err := s.SetPosition(open); err != nil {
		t.Fatalf("SetPosition: %v", err)
	}

	closed := testPosition("pos-0")
	closed.State = models.StateClosed
	closed.FinalPnL = 120
	closed.ExitReason = "profitTarget"
	if err := s.AppendHistory(closed); err != nil {
		t.Fatalf("AppendHistory: %v", err)
	}

	stats := models.RunStats{Won: 3, Lost: 1, TotalPnL: 450, TotalCredit: 800, WinRate: 75}
	if err := s.SetStats(stats); err != nil {
		t.Fatalf("SetStats: %v", err)
	}

	// A second storage at the same path must see the saved snapshot.
	reloaded, err := NewJSONStorage(path)
	if err != nil {
		t.Fatalf("NewJSONStorage reload: %v", err)
	}

	got, ok := reloaded.GetPosition("pos-1")
	if !ok {
		t.Fatal("reloaded storage missing pos-1")
	}
	if got.Strategy != open.Strategy || got.Quantity != open.Quantity || !got.IsCredit {
		t.Errorf("reloaded position = %+v, want fields from %+v", got, open)
	}
	if len(got.Legs) != 2 || got.Legs[0].Contract.Symbol != open.Legs[0].Contract.Symbol {
		t.Errorf("reloaded legs = %+v, want %+v", got.Legs, open.Legs)
	}
	// The state machine is not serialized; it must rebuild from State.
	if got.GetCurrentState() != models.StateAwaitingOpenFill {
		t.Errorf("reloaded state = %s, want %s", got.GetCurrentState(), models.StateAwaitingOpenFill)
	}

	hist := reloaded.GetHistory()
	if len(hist) != 1 || hist[0].ID != "pos-0" || hist[0].FinalPnL != 120 {
		t.Errorf("reloaded history = %+v, want one pos-0 with FinalPnL 120", hist)
	}
	if gotStats := reloaded.GetStats(); gotStats != stats {
		t.Errorf("reloaded stats = %+v, want %+v", gotStats, stats)
	}
}

func TestJSONStorageSaveIsAtomic(t *testing.T) {
	s, path := newTestJSONStorage(t)

	if err := s.SetPosition(testPosition("pos-1")); err != nil {
		t.Fatalf("SetPosition: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("snapshot missing after mutation: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temp file left behind: %v", err)
	}
}

func TestJSONStorageRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "book.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := NewJSONStorage(path); err == nil {
		t.Error("NewJSONStorage accepted corrupt snapshot")
	}
}

func TestJSONStorageLoadMissingFile(t *testing.T) {
	s, _ := newTestJSONStorage(t)
	if err := s.Load(); err == nil {
		t.Error("Load succeeded with no file on disk")
	}
}
