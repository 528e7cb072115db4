package db

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/amirphl/portfolio-sync/internal/journal"
	"github.com/amirphl/portfolio-sync/internal/position"
)

type memTxKey struct{}

// MemoryStorage keeps everything in process memory. It is used by tests and
// by dry runs.
type MemoryStorage struct {
	mu sync.RWMutex

	portfolios      map[string]position.Portfolio
	nextPortfolioID int64

	// Positions by row id and auto-increment counter
	positions      map[int64]position.Position
	nextPositionID int64

	// Events (append-only)
	events []journal.Event

	// serialises RunInTx callers
	txMu sync.Mutex
}

var _ Storage = (*MemoryStorage)(nil)

func NewMemory() *MemoryStorage {
	return &MemoryStorage{
		portfolios: make(map[string]position.Portfolio),
		positions:  make(map[int64]position.Position),
		events:     make([]journal.Event, 0, 64),
	}
}

func (m *MemoryStorage) Close() error { return nil }

type memSnapshot struct {
	portfolios      map[string]position.Portfolio
	nextPortfolioID int64
	positions       map[int64]position.Position
	nextPositionID  int64
	events          int
}

// RunInTx restores the state from before fn when fn fails.
func (m *MemoryStorage) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memTxKey{}) != nil {
		return fn(ctx)
	}

	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.RLock()
	snap := memSnapshot{
		portfolios:      maps.Clone(m.portfolios),
		nextPortfolioID: m.nextPortfolioID,
		positions:       maps.Clone(m.positions),
		nextPositionID:  m.nextPositionID,
		events:          len(m.events),
	}
	m.mu.RUnlock()

	if err := fn(context.WithValue(ctx, memTxKey{}, true)); err != nil {
		m.mu.Lock()
		m.portfolios = snap.portfolios
		m.nextPortfolioID = snap.nextPortfolioID
		m.positions = snap.positions
		m.nextPositionID = snap.nextPositionID
		m.events = m.events[:snap.events]
		m.mu.Unlock()
		return err
	}
	return nil
}

// -------- PortfolioStore --------

func (m *MemoryStorage) GetOrCreatePortfolio(ctx context.Context, displayName string) (position.Portfolio, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.portfolios[displayName]; ok {
		return p, false, nil
	}
	m.nextPortfolioID++
	p := position.Portfolio{ID: m.nextPortfolioID, DisplayName: displayName, CreatedAt: time.Now().UTC()}
	m.portfolios[displayName] = p
	return p, true, nil
}

func (m *MemoryStorage) GetPortfolios(ctx context.Context) ([]position.Portfolio, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []position.Portfolio
	for _, p := range m.portfolios {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DisplayName < out[j].DisplayName })
	return out, nil
}

// -------- PositionStore --------

func (m *MemoryStorage) GetPositions(ctx context.Context, portfolioID int64) ([]position.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]position.Position, 0)
	for _, p := range m.positions {
		if p.PortfolioID == portfolioID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStorage) SavePositions(ctx context.Context, positions []position.Position) error {
	for i, p := range positions {
		if err := validateForInsert(p); err != nil {
			return fmt.Errorf("invalid position at index %d: %w", i, err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range positions {
		if !m.hasPortfolio(p.PortfolioID) {
			return fmt.Errorf("portfolio %d: %w", p.PortfolioID, ErrNotFound)
		}
	}
	for _, p := range positions {
		m.nextPositionID++
		m.positions[m.nextPositionID] = p.WithID(m.nextPositionID)
	}
	return nil
}

func (m *MemoryStorage) hasPortfolio(id int64) bool {
	for _, p := range m.portfolios {
		if p.ID == id {
			return true
		}
	}
	return false
}

func (m *MemoryStorage) DeletePosition(ctx context.Context, p position.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.positions[p.ID]; !ok {
		return fmt.Errorf("no position found to delete for ID %d: %w", p.ID, ErrNotFound)
	}
	delete(m.positions, p.ID)
	return nil
}

func (m *MemoryStorage) CountPositions(ctx context.Context, portfolioID int64) (int, error) {
	ps, _ := m.GetPositions(ctx, portfolioID)
	return len(ps), nil
}

// -------- Journaler --------

func (m *MemoryStorage) LogEvent(ctx context.Context, event journal.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	event.Time = event.Time.UTC()
	m.events = append(m.events, event)
	return nil
}

func (m *MemoryStorage) GetEvents(ctx context.Context, eventType string, start, end time.Time) ([]journal.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []journal.Event
	for _, e := range m.events {
		if e.Type == eventType && !e.Time.Before(start) && !e.Time.After(end) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}
