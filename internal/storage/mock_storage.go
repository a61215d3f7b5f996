package storage

import (
	"sort"

	"github.com/rcc-trading/condorhawk/internal/models"
)

// MockStorage implements Interface for testing. It mirrors JSONStorage
// semantics without touching the filesystem and can be primed to fail.
type MockStorage struct {
	saveError     error
	loadError     error
	positions     map[string]*models.Position
	history       []*models.Position
	stats         models.RunStats
	saveCallCount int
	loadCallCount int
}

// NewMockStorage creates a new mock storage for testing.
func NewMockStorage() *MockStorage {
	return &MockStorage{
		positions: make(map[string]*models.Position),
	}
}

// SetSaveError makes every saving method return err.
func (m *MockStorage) SetSaveError(err error) { m.saveError = err }

// SetLoadError makes Load return err.
func (m *MockStorage) SetLoadError(err error) { m.loadError = err }

// SaveCallCount reports how many times a save was attempted.
func (m *MockStorage) SaveCallCount() int { return m.saveCallCount }

// LoadCallCount reports how many times Load was called.
func (m *MockStorage) LoadCallCount() int { return m.loadCallCount }

func (m *MockStorage) save() error {
	m.saveCallCount++
	return m.saveError
}

// GetPositions returns copies of the open positions, ordered by ID.
func (m *MockStorage) GetPositions() []*models.Position {
	out := make([]*models.Position, 0, len(m.positions))
	for _, pos := range m.positions {
		out = append(out, pos.Copy())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetPosition returns a copy of one open position.
func (m *MockStorage) GetPosition(id string) (*models.Position, bool) {
	pos, ok := m.positions[id]
	if !ok {
		return nil, false
	}
	return pos.Copy(), true
}

// SetPosition upserts an open position.
func (m *MockStorage) SetPosition(pos *models.Position) error {
	if pos == nil || pos.ID == "" {
		return ErrInvalidPosition
	}
	m.positions[pos.ID] = pos.Copy()
	return m.save()
}

// RemovePosition drops a position from the open book.
func (m *MockStorage) RemovePosition(id string) error {
	if _, ok := m.positions[id]; !ok {
		return ErrPositionNotFound
	}
	delete(m.positions, id)
	return m.save()
}

// AppendHistory records a terminal position.
func (m *MockStorage) AppendHistory(pos *models.Position) error {
	if pos == nil || pos.ID == "" {
		return ErrInvalidPosition
	}
	m.history = append(m.history, pos.Copy())
	return m.save()
}

// GetHistory returns copies of the closed positions in close order.
func (m *MockStorage) GetHistory() []*models.Position {
	out := make([]*models.Position, 0, len(m.history))
	for _, pos := range m.history {
		out = append(out, pos.Copy())
	}
	return out
}

// GetStats returns the accumulated run statistics.
func (m *MockStorage) GetStats() models.RunStats { return m.stats }

// SetStats replaces the run statistics.
func (m *MockStorage) SetStats(stats models.RunStats) error {
	m.stats = stats
	return m.save()
}

// Save records a save attempt.
func (m *MockStorage) Save() error { return m.save() }

// Load records a load attempt.
func (m *MockStorage) Load() error {
	m.loadCallCount++
	return m.loadError
}
