package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/amirphl/portfolio-sync/internal/db/conf"
	"github.com/amirphl/portfolio-sync/internal/journal"
	"github.com/amirphl/portfolio-sync/internal/position"
	_ "github.com/lib/pq"
)

// Transaction context key
type txKey struct{}

// WithTransaction adds a transaction to the context
func WithTransaction(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// GetTransaction retrieves a transaction from context, or returns nil if not present
func GetTransaction(ctx context.Context) *sql.Tx {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return nil
}

// executeWithTransaction executes a function with proper transaction management
// If a transaction exists in context, it uses that. Otherwise, it creates a new one.
func executeWithTransaction(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	if tx := GetTransaction(ctx); tx != nil {
		return fn(tx)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if fnErr := fn(tx); fnErr != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction rollback failed: %w (original error: %v)", rbErr, fnErr)
		}
		return fnErr
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return fmt.Errorf("transaction commit failed: %w", commitErr)
	}

	return nil
}

// runInTx opens a transaction unless ctx already carries one and hands fn a
// context holding it.
func runInTx(ctx context.Context, db *sql.DB, fn func(context.Context) error) error {
	if GetTransaction(ctx) != nil {
		return fn(ctx)
	}
	return executeWithTransaction(ctx, db, func(tx *sql.Tx) error {
		return fn(WithTransaction(ctx, tx))
	})
}

// queryWithTransaction executes a query using transaction from context if available
func queryWithTransaction(ctx context.Context, db *sql.DB, query string, args ...any) (*sql.Rows, error) {
	if tx := GetTransaction(ctx); tx != nil {
		return tx.QueryContext(ctx, query, args...)
	}
	return db.QueryContext(ctx, query, args...)
}

func queryRowWithTransaction(ctx context.Context, db *sql.DB, query string, args ...any) *sql.Row {
	if tx := GetTransaction(ctx); tx != nil {
		return tx.QueryRowContext(ctx, query, args...)
	}
	return db.QueryRowContext(ctx, query, args...)
}

// Default is the PostgreSQL storage.
type Default struct {
	db *sql.DB
}

var _ Storage = (*Default)(nil)

func New(c conf.Config) (*Default, error) {
	if c.DB == nil {
		return nil, errors.New("postgres storage needs an open database")
	}
	return &Default{db: c.DB}, nil
}

func (p *Default) GetDB() *sql.DB {
	return p.db
}

func (p *Default) Close() error {
	return p.db.Close()
}

func (p *Default) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return runInTx(ctx, p.db, fn)
}

func (p *Default) GetOrCreatePortfolio(ctx context.Context, displayName string) (position.Portfolio, bool, error) {
	var (
		pf      = position.Portfolio{DisplayName: displayName}
		created bool
	)
	err := executeWithTransaction(ctx, p.db, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			INSERT INTO portfolios (display_name) VALUES ($1)
			ON CONFLICT (display_name) DO NOTHING
			RETURNING id, created_at`, displayName).Scan(&pf.ID, &pf.CreatedAt)
		if err == nil {
			created = true
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to create portfolio %s: %w", displayName, err)
		}
		err = tx.QueryRowContext(ctx, `SELECT id, created_at FROM portfolios WHERE display_name=$1`, displayName).
			Scan(&pf.ID, &pf.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to get portfolio %s: %w", displayName, err)
		}
		return nil
	})
	if err != nil {
		return position.Portfolio{}, false, err
	}
	pf.CreatedAt = pf.CreatedAt.UTC()
	return pf, created, nil
}

func (p *Default) GetPortfolios(ctx context.Context) ([]position.Portfolio, error) {
	rows, err := queryWithTransaction(ctx, p.db, `SELECT id, display_name, created_at FROM portfolios ORDER BY display_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query portfolios: %w", err)
	}
	defer rows.Close()

	var out []position.Portfolio
	for rows.Next() {
		var pf position.Portfolio
		if err := rows.Scan(&pf.ID, &pf.DisplayName, &pf.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan portfolio: %w", err)
		}
		pf.CreatedAt = pf.CreatedAt.UTC()
		out = append(out, pf)
	}
	return out, rows.Err()
}

const positionColumns = `id, portfolio_id, position_id, cid, instrument_id, open_datetime, open_rate, amount,
	direction, take_profit_rate, stop_loss_rate, display_name, symbol, leverage, fingerprint`

// GetPositions retrieves the persisted positions of one portfolio
func (p *Default) GetPositions(ctx context.Context, portfolioID int64) ([]position.Position, error) {
	rows, err := queryWithTransaction(ctx, p.db,
		`SELECT `+positionColumns+` FROM positions WHERE portfolio_id=$1 ORDER BY id`, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions for portfolio %d: %w", portfolioID, err)
	}
	defer rows.Close()

	positions := make([]position.Position, 0)
	for rows.Next() {
		var pos position.Position
		if err := rows.Scan(
			&pos.ID, &pos.PortfolioID, &pos.PositionID, &pos.CID, &pos.InstrumentID, &pos.OpenDateTime,
			&pos.OpenRate, &pos.Amount, &pos.Direction, &pos.TakeProfitRate, &pos.StopLossRate,
			&pos.DisplayName, &pos.Symbol, &pos.Leverage, &pos.Fingerprint); err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		pos.OpenDateTime = pos.OpenDateTime.UTC()
		positions = append(positions, pos)
	}
	return positions, rows.Err()
}

// SavePositions inserts positions in a single transaction
func (p *Default) SavePositions(ctx context.Context, positions []position.Position) error {
	if len(positions) == 0 {
		return nil
	}

	for i, pos := range positions {
		if err := validateForInsert(pos); err != nil {
			return fmt.Errorf("invalid position at index %d: %w", i, err)
		}
	}

	return executeWithTransaction(ctx, p.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO positions (
				portfolio_id, position_id, cid, instrument_id, open_datetime, open_rate, amount,
				direction, take_profit_rate, stop_loss_rate, display_name, symbol, leverage, fingerprint
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`)
		if err != nil {
			return fmt.Errorf("failed to prepare insert statement: %w", err)
		}
		defer stmt.Close()

		for i, pos := range positions {
			_, err := stmt.ExecContext(ctx,
				pos.PortfolioID, pos.PositionID, pos.CID, pos.InstrumentID, pos.OpenDateTime, pos.OpenRate, pos.Amount,
				string(pos.Direction), pos.TakeProfitRate, pos.StopLossRate, pos.DisplayName, pos.Symbol, pos.Leverage,
				pos.Fingerprint)
			if err != nil {
				return fmt.Errorf("failed to save position at index %d (%s): %w", i, pos, err)
			}
		}
		return nil
	})
}

// DeletePosition deletes a persisted position by its row id
func (p *Default) DeletePosition(ctx context.Context, pos position.Position) error {
	return executeWithTransaction(ctx, p.db, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `DELETE FROM positions WHERE id=$1`, pos.ID)
		if err != nil {
			return fmt.Errorf("failed to delete position [ID %d]: %w", pos.ID, err)
		}
		return checkDeleted(result, pos)
	})
}

func (p *Default) CountPositions(ctx context.Context, portfolioID int64) (int, error) {
	var n int
	err := queryRowWithTransaction(ctx, p.db, `SELECT COUNT(*) FROM positions WHERE portfolio_id=$1`, portfolioID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count positions for portfolio %d: %w", portfolioID, err)
	}
	return n, nil
}

func (p *Default) LogEvent(ctx context.Context, event journal.Event) error {
	return executeWithTransaction(ctx, p.db, func(tx *sql.Tx) error {
		data, err := json.Marshal(event.Data)
		if err != nil {
			return fmt.Errorf("failed to marshal event data: %w", err)
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO events (time, type, description, data) VALUES ($1,$2,$3,$4)`,
			event.Time, event.Type, event.Description, string(data))
		if err != nil {
			return fmt.Errorf("failed to log event: %w", err)
		}
		return nil
	})
}

func (p *Default) GetEvents(ctx context.Context, eventType string, start, end time.Time) ([]journal.Event, error) {
	rows, err := queryWithTransaction(ctx, p.db,
		`SELECT time, type, description, data FROM events WHERE type=$1 AND time >= $2 AND time <= $3 ORDER BY time ASC, id ASC`,
		eventType, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []journal.Event
	for rows.Next() {
		var e journal.Event
		var data []byte
		if err := rows.Scan(&e.Time, &e.Type, &e.Description, &data); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &e.Data); err != nil {
				return nil, fmt.Errorf("failed to unmarshal event data: %w", err)
			}
		}
		e.Time = e.Time.UTC()
		events = append(events, e)
	}
	return events, rows.Err()
}

func validateForInsert(p position.Position) error {
	if p.PortfolioID == 0 {
		return fmt.Errorf("%s has no portfolio", p)
	}
	if p.Fingerprint == "" {
		return fmt.Errorf("%s has no fingerprint", p)
	}
	return nil
}

func checkDeleted(result sql.Result, p position.Position) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("no position found to delete for ID %d: %w", p.ID, ErrNotFound)
	}
	return nil
}
