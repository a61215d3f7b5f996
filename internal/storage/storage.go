// Package storage persists the position book and run statistics as a JSON
// snapshot, loaded at start and saved on every mutation.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/rcc-trading/condorhawk/internal/models"
)

// bookData is the serialized snapshot: the open book keyed by position ID,
// the closed history in close order, and the accumulated run statistics.
type bookData struct {
	Positions   map[string]*models.Position `json:"positions"`
	History     []*models.Position          `json:"history"`
	Stats       models.RunStats             `json:"stats"`
	LastUpdated time.Time                   `json:"last_updated"`
}

func newBookData() *bookData {
	return &bookData{Positions: make(map[string]*models.Position)}
}

// JSONStorage persists the book to a single JSON file. Writes go through a
// temp file and an atomic rename so a crash never leaves a torn snapshot.
type JSONStorage struct {
	mu   sync.RWMutex
	path string
	data *bookData
}

// NewJSONStorage creates a JSON storage backed by path, loading any
// existing snapshot.
func NewJSONStorage(path string) (*JSONStorage, error) {
	s := &JSONStorage{
		path: path,
		data: newBookData(),
	}

	// Load existing data if file exists
	if _, err := os.Stat(path); err == nil {
		if err := s.Load(); err != nil {
			return nil, fmt.Errorf("loading storage: %w", err)
		}
	}

	return s, nil
}

// Load replaces the in-memory snapshot with the file contents.
func (s *JSONStorage) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}

	data := newBookData()
	if err := json.Unmarshal(raw, data); err != nil {
		return err
	}
	if data.Positions == nil {
		data.Positions = make(map[string]*models.Position)
	}
	s.data = data
	return nil
}

// Save writes the snapshot to disk.
func (s *JSONStorage) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *JSONStorage) saveLocked() error {
	s.data.LastUpdated = time.Now().UTC()

	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}

	// Write to temp file first
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}

	// Atomic rename
	return os.Rename(tmp, s.path)
}

// GetPositions returns copies of the open positions, ordered by ID.
func (s *JSONStorage) GetPositions() []*models.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Position, 0, len(s.data.Positions))
	for _, pos := range s.data.Positions {
		out = append(out, pos.Copy())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetPosition returns a copy of one open position.
func (s *JSONStorage) GetPosition(id string) (*models.Position, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pos, ok := s.data.Positions[id]
	if !ok {
		return nil, false
	}
	return pos.Copy(), true
}

// SetPosition upserts an open position and saves.
func (s *JSONStorage) SetPosition(pos *models.Position) error {
	if pos == nil || pos.ID == "" {
		return ErrInvalidPosition
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Positions[pos.ID] = pos.Copy()
	return s.saveLocked()
}

// RemovePosition drops a position from the open book and saves.
func (s *JSONStorage) RemovePosition(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.Positions[id]; !ok {
		return ErrPositionNotFound
	}
	delete(s.data.Positions, id)
	return s.saveLocked()
}

// AppendHistory records a terminal position and saves.
func (s *JSONStorage) AppendHistory(pos *models.Position) error {
	if pos == nil || pos.ID == "" {
		return ErrInvalidPosition
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.History = append(s.data.History, pos.Copy())
	return s.saveLocked()
}

// GetHistory returns copies of the closed positions in close order.
func (s *JSONStorage) GetHistory() []*models.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Position, 0, len(s.data.History))
	for _, pos := range s.data.History {
		out = append(out, pos.Copy())
	}
	return out
}

// GetStats returns the accumulated run statistics.
func (s *JSONStorage) GetStats() models.RunStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.Stats
}

// SetStats replaces the run statistics and saves.
func (s *JSONStorage) SetStats(stats models.RunStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Stats = stats
	return s.saveLocked()
}
