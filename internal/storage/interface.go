package storage

import (
	"github.com/rcc-trading/condorhawk/internal/models"
)

// Interface defines the contract for position-book and run-stat persistence.
//
// Implementations must be safe for concurrent use - the engine writes from
// its scan loop while the dashboard reads from request goroutines.
//
// The provided JSONStorage implementation uses sync.RWMutex to serialize
// access, ensuring all Interface methods are protected for concurrent
// readers and writers.
type Interface interface {
	// Open book
	GetPositions() []*models.Position
	GetPosition(id string) (*models.Position, bool)
	SetPosition(pos *models.Position) error
	RemovePosition(id string) error

	// Closed history and statistics
	AppendHistory(pos *models.Position) error
	GetHistory() []*models.Position
	GetStats() models.RunStats
	SetStats(stats models.RunStats) error

	// Data persistence
	Save() error
	Load() error
}

// NewStorage creates a new storage implementation (currently JSON-based).
// In the future, this can be extended to support different storage backends.
func NewStorage(path string) (Interface, error) {
	return NewJSONStorage(path)
}

// Ensure both implementations satisfy Interface.
var (
	_ Interface = (*JSONStorage)(nil)
	_ Interface = (*MockStorage)(nil)
)
