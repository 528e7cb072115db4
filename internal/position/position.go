// Package position
package position

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Direction is the side of an open trade.
type Direction string

const (
	DirectionBuy  Direction = "Buy"
	DirectionSell Direction = "Sell"
)

// DirectionFromIsBuy maps the feed's IsBuy flag to a Direction.
func DirectionFromIsBuy(isBuy bool) Direction {
	if isBuy {
		return DirectionBuy
	}
	return DirectionSell
}

func parseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case DirectionBuy, DirectionSell:
		return Direction(s), nil
	}
	return "", fmt.Errorf("unknown direction %q", s)
}

// Portfolio is a tracked trading account identified by its display name.
type Portfolio struct {
	ID          int64     `json:"id"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
}

// Position is one open trade with fixed economic terms at scrape time.
// Values are never mutated in place; use the With* helpers to derive copies.
type Position struct {
	ID          int64 `json:"id"` // store row id, zero until persisted
	PortfolioID int64 `json:"portfolio_id"`

	PositionID   int64 `json:"position_id"`
	CID          int64 `json:"cid"`
	InstrumentID int64 `json:"instrument_id"`

	OpenDateTime   time.Time           `json:"open_datetime"`
	OpenRate       decimal.Decimal     `json:"open_rate"`
	Amount         decimal.Decimal     `json:"amount"`
	Direction      Direction           `json:"direction"`
	TakeProfitRate decimal.NullDecimal `json:"take_profit_rate"`
	StopLossRate   decimal.NullDecimal `json:"stop_loss_rate"`
	DisplayName    string              `json:"display_name"`
	Symbol         string              `json:"symbol"`
	Leverage       int64               `json:"leverage"`

	Fingerprint string `json:"fingerprint"`
}

func (p Position) String() string {
	return fmt.Sprintf("<Position: %s (%s)>", p.DisplayName, p.Symbol)
}

// WithFingerprint returns a copy of p carrying fp.
func (p Position) WithFingerprint(fp string) Position {
	p.Fingerprint = fp
	return p
}

// WithID returns a copy of p carrying the store row id.
func (p Position) WithID(id int64) Position {
	p.ID = id
	return p
}

// New builds a Position for portfolioID from its textual terms.
// The fingerprint is left empty; callers attach it with WithFingerprint.
func New(portfolioID int64, t Terms) (Position, error) {
	var (
		p   = Position{PortfolioID: portfolioID, DisplayName: t.DisplayName, Symbol: t.Symbol}
		err error
	)

	if p.PositionID, err = parseInt("position_id", t.PositionID); err != nil {
		return Position{}, err
	}
	if p.CID, err = parseInt("cid", t.CID); err != nil {
		return Position{}, err
	}
	if p.InstrumentID, err = parseInt("instrument_id", t.InstrumentID); err != nil {
		return Position{}, err
	}
	if p.Leverage, err = parseInt("leverage", t.Leverage); err != nil {
		return Position{}, err
	}
	if p.OpenDateTime, err = parseTime(t.OpenDateTime); err != nil {
		return Position{}, err
	}
	if p.OpenRate, err = parseDecimal("open_rate", t.OpenRate); err != nil {
		return Position{}, err
	}
	if p.Amount, err = parseDecimal("amount", t.Amount); err != nil {
		return Position{}, err
	}
	if p.Direction, err = parseDirection(t.Direction); err != nil {
		return Position{}, err
	}
	if p.TakeProfitRate, err = parseNullDecimal("take_profit_rate", t.TakeProfitRate); err != nil {
		return Position{}, err
	}
	if p.StopLossRate, err = parseNullDecimal("stop_loss_rate", t.StopLossRate); err != nil {
		return Position{}, err
	}
	if p.DisplayName == "" || p.Symbol == "" {
		return Position{}, fmt.Errorf("position %d: display name and symbol are required", p.PositionID)
	}

	return p, nil
}

// Fingerprints returns the set of fingerprints present in ps.
func Fingerprints(ps []Position) map[string]struct{} {
	set := make(map[string]struct{}, len(ps))
	for _, p := range ps {
		set[p.Fingerprint] = struct{}{}
	}
	return set
}

func parseInt(field, s string) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", field, s, err)
	}
	return v, nil
}

func parseDecimal(field, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s %q: %w", field, s, err)
	}
	return d, nil
}

func parseNullDecimal(field, s string) (decimal.NullDecimal, error) {
	if strings.TrimSpace(s) == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := parseDecimal(field, s)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}

// Feed timestamps are RFC3339, sometimes without a zone designator.
var openTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range openTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid open_datetime %q", s)
}
