// Package db
package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/amirphl/portfolio-sync/internal/config"
	"github.com/amirphl/portfolio-sync/internal/db/conf"
	"github.com/amirphl/portfolio-sync/internal/journal"
	"github.com/amirphl/portfolio-sync/internal/position"
)

// ErrNotFound is returned when a row addressed by id does not exist.
var ErrNotFound = errors.New("not found")

// PortfolioStore persists tracked portfolios.
type PortfolioStore interface {
	// GetOrCreatePortfolio returns the portfolio named displayName, creating
	// it when absent; created reports whether it was created.
	GetOrCreatePortfolio(ctx context.Context, displayName string) (p position.Portfolio, created bool, err error)
	GetPortfolios(ctx context.Context) ([]position.Portfolio, error)
}

// PositionStore is the persistence gateway for positions. Every read is
// scoped to one portfolio.
type PositionStore interface {
	GetPositions(ctx context.Context, portfolioID int64) ([]position.Position, error)
	SavePositions(ctx context.Context, positions []position.Position) error
	DeletePosition(ctx context.Context, p position.Position) error
	CountPositions(ctx context.Context, portfolioID int64) (int, error)
}

// Storage is the interface for all persistent storage.
type Storage interface {
	PortfolioStore
	PositionStore
	journal.Journaler

	// RunInTx runs fn so that every storage call made with the context it
	// receives commits or rolls back together.
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
	Close() error
}

// Open connects the storage backend selected by cfg.DBDriver.
func Open(cfg config.Config) (Storage, error) {
	if cfg.DBDriver == config.DriverMemory {
		return NewMemory(), nil
	}

	c, err := conf.NewConfig(cfg.DBDriver, cfg.DBConnStr, cfg.DBMaxOpen, cfg.DBMaxIdle)
	if err != nil {
		return nil, err
	}

	switch cfg.DBDriver {
	case config.DriverPostgres:
		return New(*c)
	case config.DriverSQLite:
		return NewSQLite(*c)
	default:
		c.DB.Close()
		return nil, fmt.Errorf("unsupported db driver %q", cfg.DBDriver)
	}
}
