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
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

// Fixed width so that stored timestamps sort lexically.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS portfolios (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    display_name TEXT NOT NULL UNIQUE,
    created_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS positions (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    portfolio_id     INTEGER NOT NULL REFERENCES portfolios(id) ON DELETE CASCADE,
    position_id      INTEGER NOT NULL,
    cid              INTEGER NOT NULL,
    instrument_id    INTEGER NOT NULL,
    open_datetime    TEXT NOT NULL,
    open_rate        TEXT NOT NULL,
    amount           TEXT NOT NULL,
    direction        TEXT NOT NULL,
    take_profit_rate TEXT,
    stop_loss_rate   TEXT,
    display_name     TEXT NOT NULL,
    symbol           TEXT NOT NULL,
    leverage         INTEGER NOT NULL,
    fingerprint      TEXT NOT NULL,
    created_at       TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS positions_portfolio_fingerprint_idx ON positions (portfolio_id, fingerprint);

CREATE TABLE IF NOT EXISTS events (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    time        TEXT NOT NULL,
    type        TEXT NOT NULL,
    description TEXT NOT NULL,
    data        TEXT
);

CREATE INDEX IF NOT EXISTS events_type_time_idx ON events (type, time);
`

// SQLite is a single-file storage for running without a database server.
type SQLite struct {
	db *sql.DB
}

var _ Storage = (*SQLite)(nil)

// NewSQLite applies the embedded schema to c.DB and returns the storage.
func NewSQLite(c conf.Config) (*SQLite, error) {
	if c.DB == nil {
		return nil, errors.New("sqlite storage needs an open database")
	}
	ctx := context.Background()
	if _, err := c.DB.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := c.DB.ExecContext(ctx, sqliteSchema); err != nil {
		return nil, fmt.Errorf("failed to apply sqlite schema: %w", err)
	}
	return &SQLite{db: c.DB}, nil
}

func (s *SQLite) GetDB() *sql.DB { return s.db }

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return runInTx(ctx, s.db, fn)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func parseStoredTime(s string) (time.Time, error) {
	t, err := time.Parse(sqliteTimeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid stored time %q: %w", s, err)
	}
	return t.UTC(), nil
}

func (s *SQLite) GetOrCreatePortfolio(ctx context.Context, displayName string) (position.Portfolio, bool, error) {
	var (
		pf      = position.Portfolio{DisplayName: displayName}
		created bool
	)
	err := executeWithTransaction(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO portfolios (display_name, created_at) VALUES (?, ?)`,
			displayName, formatTime(time.Now()))
		if err != nil {
			return fmt.Errorf("failed to create portfolio %s: %w", displayName, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		created = n > 0

		var createdAt string
		err = tx.QueryRowContext(ctx, `SELECT id, created_at FROM portfolios WHERE display_name=?`, displayName).
			Scan(&pf.ID, &createdAt)
		if err != nil {
			return fmt.Errorf("failed to get portfolio %s: %w", displayName, err)
		}
		pf.CreatedAt, err = parseStoredTime(createdAt)
		return err
	})
	if err != nil {
		return position.Portfolio{}, false, err
	}
	return pf, created, nil
}

func (s *SQLite) GetPortfolios(ctx context.Context) ([]position.Portfolio, error) {
	rows, err := queryWithTransaction(ctx, s.db, `SELECT id, display_name, created_at FROM portfolios ORDER BY display_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query portfolios: %w", err)
	}
	defer rows.Close()

	var out []position.Portfolio
	for rows.Next() {
		var (
			pf        position.Portfolio
			createdAt string
		)
		if err := rows.Scan(&pf.ID, &pf.DisplayName, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan portfolio: %w", err)
		}
		if pf.CreatedAt, err = parseStoredTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, pf)
	}
	return out, rows.Err()
}

func (s *SQLite) GetPositions(ctx context.Context, portfolioID int64) ([]position.Position, error) {
	rows, err := queryWithTransaction(ctx, s.db,
		`SELECT `+positionColumns+` FROM positions WHERE portfolio_id=? ORDER BY id`, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions for portfolio %d: %w", portfolioID, err)
	}
	defer rows.Close()

	positions := make([]position.Position, 0)
	for rows.Next() {
		var (
			pos    position.Position
			opened string
			tp, sl sql.NullString
		)
		if err := rows.Scan(
			&pos.ID, &pos.PortfolioID, &pos.PositionID, &pos.CID, &pos.InstrumentID, &opened,
			&pos.OpenRate, &pos.Amount, &pos.Direction, &tp, &sl,
			&pos.DisplayName, &pos.Symbol, &pos.Leverage, &pos.Fingerprint); err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		if pos.OpenDateTime, err = parseStoredTime(opened); err != nil {
			return nil, err
		}
		if pos.TakeProfitRate, err = nullDecimal(tp); err != nil {
			return nil, err
		}
		if pos.StopLossRate, err = nullDecimal(sl); err != nil {
			return nil, err
		}
		positions = append(positions, pos)
	}
	return positions, rows.Err()
}

func nullDecimal(s sql.NullString) (decimal.NullDecimal, error) {
	if !s.Valid {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("invalid stored decimal %q: %w", s.String, err)
	}
	return decimal.NewNullDecimal(d), nil
}

func nullDecimalText(d decimal.NullDecimal) sql.NullString {
	if !d.Valid {
		return sql.NullString{}
	}
	return sql.NullString{String: d.Decimal.String(), Valid: true}
}

func (s *SQLite) SavePositions(ctx context.Context, positions []position.Position) error {
	if len(positions) == 0 {
		return nil
	}

	for i, pos := range positions {
		if err := validateForInsert(pos); err != nil {
			return fmt.Errorf("invalid position at index %d: %w", i, err)
		}
	}

	now := formatTime(time.Now())
	return executeWithTransaction(ctx, s.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO positions (
				portfolio_id, position_id, cid, instrument_id, open_datetime, open_rate, amount,
				direction, take_profit_rate, stop_loss_rate, display_name, symbol, leverage, fingerprint, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare insert statement: %w", err)
		}
		defer stmt.Close()

		for i, pos := range positions {
			_, err := stmt.ExecContext(ctx,
				pos.PortfolioID, pos.PositionID, pos.CID, pos.InstrumentID, formatTime(pos.OpenDateTime),
				pos.OpenRate.String(), pos.Amount.String(), string(pos.Direction),
				nullDecimalText(pos.TakeProfitRate), nullDecimalText(pos.StopLossRate),
				pos.DisplayName, pos.Symbol, pos.Leverage, pos.Fingerprint, now)
			if err != nil {
				return fmt.Errorf("failed to save position at index %d (%s): %w", i, pos, err)
			}
		}
		return nil
	})
}

func (s *SQLite) DeletePosition(ctx context.Context, pos position.Position) error {
	return executeWithTransaction(ctx, s.db, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `DELETE FROM positions WHERE id=?`, pos.ID)
		if err != nil {
			return fmt.Errorf("failed to delete position [ID %d]: %w", pos.ID, err)
		}
		return checkDeleted(result, pos)
	})
}

func (s *SQLite) CountPositions(ctx context.Context, portfolioID int64) (int, error) {
	var n int
	err := queryRowWithTransaction(ctx, s.db, `SELECT COUNT(*) FROM positions WHERE portfolio_id=?`, portfolioID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count positions for portfolio %d: %w", portfolioID, err)
	}
	return n, nil
}

func (s *SQLite) LogEvent(ctx context.Context, event journal.Event) error {
	return executeWithTransaction(ctx, s.db, func(tx *sql.Tx) error {
		data, err := json.Marshal(event.Data)
		if err != nil {
			return fmt.Errorf("failed to marshal event data: %w", err)
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO events (time, type, description, data) VALUES (?,?,?,?)`,
			formatTime(event.Time), event.Type, event.Description, string(data))
		if err != nil {
			return fmt.Errorf("failed to log event: %w", err)
		}
		return nil
	})
}

func (s *SQLite) GetEvents(ctx context.Context, eventType string, start, end time.Time) ([]journal.Event, error) {
	rows, err := queryWithTransaction(ctx, s.db,
		`SELECT time, type, description, data FROM events WHERE type=? AND time >= ? AND time <= ? ORDER BY time ASC, id ASC`,
		eventType, formatTime(start), formatTime(end))
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []journal.Event
	for rows.Next() {
		var (
			e    journal.Event
			at   string
			data sql.NullString
		)
		if err := rows.Scan(&at, &e.Type, &e.Description, &data); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if e.Time, err = parseStoredTime(at); err != nil {
			return nil, err
		}
		if data.Valid && data.String != "" {
			if err := json.Unmarshal([]byte(data.String), &e.Data); err != nil {
				return nil, fmt.Errorf("failed to unmarshal event data: %w", err)
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
