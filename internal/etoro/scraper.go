package etoro

import (
	"context"
	"errors"
	"fmt"

	"github.com/amirphl/portfolio-sync/internal/position"
	"github.com/amirphl/portfolio-sync/internal/utils"
)

// ErrInstrumentNotFound means a scraped position references an instrument the
// catalog does not know; such a position cannot be fingerprinted.
var ErrInstrumentNotFound = errors.New("instrument not found")

// ErrProfileNotFound means the username does not resolve to a portfolio.
var ErrProfileNotFound = errors.New("profile not found")

// Fetcher turns a portfolio into its current, fingerprinted positions.
type Fetcher interface {
	Scrape(ctx context.Context, portfolio position.Portfolio) ([]position.Position, error)
}

// Scrape implements Fetcher with a fresh Scraper per call, so the instrument
// catalog never outlives one run.
func (c *Client) Scrape(ctx context.Context, portfolio position.Portfolio) ([]position.Position, error) {
	return NewScraper(c, nil).Scrape(ctx, portfolio)
}

// Scraper walks a portfolio's aggregated positions and collects the public
// positions under each instrument. The instrument catalog is loaded on first
// use unless one is supplied.
type Scraper struct {
	client      *Client
	instruments *Instruments
}

func NewScraper(client *Client, instruments *Instruments) *Scraper {
	return &Scraper{client: client, instruments: instruments}
}

func (s *Scraper) Scrape(ctx context.Context, portfolio position.Portfolio) ([]position.Position, error) {
	if portfolio.DisplayName == "" {
		return nil, fmt.Errorf("portfolio must have a display name")
	}
	logger := utils.GetLogger().Named("etoro")

	cid, err := s.client.ProfileCID(ctx, portfolio.DisplayName)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve cid for %s: %w", portfolio.DisplayName, err)
	}

	aggregated, err := s.client.AggregatedPositions(ctx, cid)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch aggregated positions for %s: %w", portfolio.DisplayName, err)
	}
	logger.Infow("aggregated positions fetched", "portfolio", portfolio.DisplayName, "cid", cid, "instruments", len(aggregated))

	all := make([]position.Position, 0)
	for _, agg := range aggregated {
		public, err := s.client.PublicPositions(ctx, cid, agg.InstrumentID)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch positions for instrument %d: %w", agg.InstrumentID, err)
		}
		for _, pp := range public {
			p, err := s.toPosition(ctx, portfolio.ID, pp)
			if err != nil {
				return nil, err
			}
			all = append(all, p)
		}
	}

	return all, nil
}

func (s *Scraper) lookup(ctx context.Context, id int64) (Instrument, error) {
	if s.instruments == nil {
		instruments, err := s.client.LoadInstruments(ctx)
		if err != nil {
			return Instrument{}, fmt.Errorf("failed to load instruments: %w", err)
		}
		s.instruments = instruments
	}
	in, ok := s.instruments.Lookup(id)
	if !ok {
		return Instrument{}, fmt.Errorf("%w: ID %d", ErrInstrumentNotFound, id)
	}
	return in, nil
}

func (s *Scraper) toPosition(ctx context.Context, portfolioID int64, pp PublicPosition) (position.Position, error) {
	instrumentID, err := pp.InstrumentID.Int64()
	if err != nil {
		return position.Position{}, fmt.Errorf("invalid InstrumentID %q on position %s: %w", pp.InstrumentID, pp.PositionID, err)
	}
	in, err := s.lookup(ctx, instrumentID)
	if err != nil {
		return position.Position{}, err
	}

	terms := Terms(pp, in)
	p, err := position.New(portfolioID, terms)
	if err != nil {
		return position.Position{}, fmt.Errorf("invalid position %s: %w", pp.PositionID, err)
	}
	return p.WithFingerprint(position.Fingerprint(terms)), nil
}

// Terms renders a public position and its instrument as fingerprint terms.
func Terms(pp PublicPosition, in Instrument) position.Terms {
	return position.Terms{
		PositionID:     pp.PositionID.String(),
		CID:            pp.CID.String(),
		InstrumentID:   pp.InstrumentID.String(),
		OpenDateTime:   pp.OpenDateTime,
		OpenRate:       pp.OpenRate.String(),
		Amount:         pp.Amount.String(),
		Direction:      string(position.DirectionFromIsBuy(pp.IsBuy)),
		TakeProfitRate: pp.TakeProfitRate.String(),
		StopLossRate:   pp.StopLossRate.String(),
		DisplayName:    in.DisplayName,
		Symbol:         in.Symbol,
		Leverage:       pp.Leverage.String(),
	}
}
