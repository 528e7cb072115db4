package db

import (
	"context"
	"errors"
	"testing"
	"time"

	dbconf "github.com/amirphl/portfolio-sync/internal/db/conf"
	"github.com/amirphl/portfolio-sync/internal/journal"
	"github.com/amirphl/portfolio-sync/internal/position"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLiteStorage(t *testing.T) Storage {
	t.Helper()
	c, err := dbconf.NewConfig("sqlite", ":memory:", 1, 1)
	require.NoError(t, err)
	s, err := NewSQLite(*c)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newPostgresStorage(t *testing.T) Storage {
	t.Helper()
	c, cleanup := dbconf.NewTestConfig(t)
	t.Cleanup(cleanup)
	s, err := New(*c)
	require.NoError(t, err)
	return s
}

func backends() map[string]func(t *testing.T) Storage {
	return map[string]func(t *testing.T) Storage{
		"memory":   func(*testing.T) Storage { return NewMemory() },
		"sqlite":   newSQLiteStorage,
		"postgres": newPostgresStorage,
	}
}

func testPosition(t *testing.T, portfolioID int64, positionID, amount, takeProfit string) position.Position {
	t.Helper()
	terms := position.Terms{
		PositionID:     positionID,
		CID:            "1001",
		InstrumentID:   "1",
		OpenDateTime:   "2024-03-01T10:15:30.25Z",
		OpenRate:       "182.50",
		Amount:         amount,
		Direction:      "Buy",
		TakeProfitRate: takeProfit,
		StopLossRate:   "",
		DisplayName:    "Apple",
		Symbol:         "AAPL",
		Leverage:       "2",
	}
	p, err := position.New(portfolioID, terms)
	require.NoError(t, err)
	return p.WithFingerprint(position.Fingerprint(terms))
}

func TestStorage(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			t.Run("portfolios", func(t *testing.T) {
				s := open(t)
				ctx := context.Background()

				a, created, err := s.GetOrCreatePortfolio(ctx, "alice")
				require.NoError(t, err)
				assert.True(t, created)
				assert.NotZero(t, a.ID)

				again, created, err := s.GetOrCreatePortfolio(ctx, "alice")
				require.NoError(t, err)
				assert.False(t, created)
				assert.Equal(t, a.ID, again.ID)

				_, _, err = s.GetOrCreatePortfolio(ctx, "bob")
				require.NoError(t, err)

				all, err := s.GetPortfolios(ctx)
				require.NoError(t, err)
				require.Len(t, all, 2)
				assert.Equal(t, "alice", all[0].DisplayName)
				assert.Equal(t, "bob", all[1].DisplayName)
			})

			t.Run("save, read and delete positions", func(t *testing.T) {
				s := open(t)
				ctx := context.Background()

				alice, _, err := s.GetOrCreatePortfolio(ctx, "alice")
				require.NoError(t, err)
				bob, _, err := s.GetOrCreatePortfolio(ctx, "bob")
				require.NoError(t, err)

				p1 := testPosition(t, alice.ID, "1", "2.5", "200.25")
				p2 := testPosition(t, alice.ID, "2", "10", "")
				p3 := testPosition(t, bob.ID, "3", "1", "")
				require.NoError(t, s.SavePositions(ctx, []position.Position{p1, p2}))
				require.NoError(t, s.SavePositions(ctx, []position.Position{p3}))
				require.NoError(t, s.SavePositions(ctx, nil))

				got, err := s.GetPositions(ctx, alice.ID)
				require.NoError(t, err)
				require.Len(t, got, 2)

				first := got[0]
				assert.NotZero(t, first.ID)
				assert.Equal(t, p1.Fingerprint, first.Fingerprint)
				assert.Equal(t, int64(1), first.PositionID)
				assert.True(t, p1.OpenDateTime.Equal(first.OpenDateTime))
				assert.True(t, decimal.RequireFromString("182.5").Equal(first.OpenRate))
				assert.True(t, decimal.RequireFromString("2.5").Equal(first.Amount))
				assert.Equal(t, position.DirectionBuy, first.Direction)
				require.True(t, first.TakeProfitRate.Valid)
				assert.True(t, decimal.RequireFromString("200.25").Equal(first.TakeProfitRate.Decimal))
				assert.False(t, first.StopLossRate.Valid)
				assert.Equal(t, "Apple", first.DisplayName)
				assert.Equal(t, "AAPL", first.Symbol)
				assert.Equal(t, int64(2), first.Leverage)
				assert.False(t, got[1].TakeProfitRate.Valid)

				n, err := s.CountPositions(ctx, bob.ID)
				require.NoError(t, err)
				assert.Equal(t, 1, n)

				require.NoError(t, s.DeletePosition(ctx, first))
				got, err = s.GetPositions(ctx, alice.ID)
				require.NoError(t, err)
				require.Len(t, got, 1)
				assert.Equal(t, p2.Fingerprint, got[0].Fingerprint)

				err = s.DeletePosition(ctx, first)
				assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
			})

			t.Run("duplicate fingerprints are kept", func(t *testing.T) {
				s := open(t)
				ctx := context.Background()
				pf, _, err := s.GetOrCreatePortfolio(ctx, "alice")
				require.NoError(t, err)

				p := testPosition(t, pf.ID, "1", "2.5", "")
				require.NoError(t, s.SavePositions(ctx, []position.Position{p, p}))
				n, err := s.CountPositions(ctx, pf.ID)
				require.NoError(t, err)
				assert.Equal(t, 2, n)
			})

			t.Run("empty portfolio reads as empty slice", func(t *testing.T) {
				s := open(t)
				got, err := s.GetPositions(context.Background(), 999)
				require.NoError(t, err)
				assert.NotNil(t, got)
				assert.Empty(t, got)
			})

			t.Run("rejects positions without fingerprint", func(t *testing.T) {
				s := open(t)
				ctx := context.Background()
				pf, _, err := s.GetOrCreatePortfolio(ctx, "alice")
				require.NoError(t, err)
				p := testPosition(t, pf.ID, "1", "2.5", "").WithFingerprint("")
				assert.Error(t, s.SavePositions(ctx, []position.Position{p}))
			})

			t.Run("transaction rolls back", func(t *testing.T) {
				s := open(t)
				ctx := context.Background()
				pf, _, err := s.GetOrCreatePortfolio(ctx, "alice")
				require.NoError(t, err)
				kept := testPosition(t, pf.ID, "1", "2.5", "")
				require.NoError(t, s.SavePositions(ctx, []position.Position{kept}))
				persisted, err := s.GetPositions(ctx, pf.ID)
				require.NoError(t, err)

				boom := errors.New("boom")
				err = s.RunInTx(ctx, func(ctx context.Context) error {
					if err := s.SavePositions(ctx, []position.Position{testPosition(t, pf.ID, "2", "1", "")}); err != nil {
						return err
					}
					if err := s.DeletePosition(ctx, persisted[0]); err != nil {
						return err
					}
					return boom
				})
				assert.ErrorIs(t, err, boom)

				after, err := s.GetPositions(ctx, pf.ID)
				require.NoError(t, err)
				require.Len(t, after, 1)
				assert.Equal(t, persisted[0].ID, after[0].ID)
			})

			t.Run("transaction commits", func(t *testing.T) {
				s := open(t)
				ctx := context.Background()
				pf, _, err := s.GetOrCreatePortfolio(ctx, "alice")
				require.NoError(t, err)

				err = s.RunInTx(ctx, func(ctx context.Context) error {
					return s.SavePositions(ctx, []position.Position{testPosition(t, pf.ID, "2", "1", "")})
				})
				require.NoError(t, err)
				n, err := s.CountPositions(ctx, pf.ID)
				require.NoError(t, err)
				assert.Equal(t, 1, n)
			})

			t.Run("journal", func(t *testing.T) {
				s := open(t)
				ctx := context.Background()
				base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

				require.NoError(t, s.LogEvent(ctx, journal.Event{
					Time: base.Add(time.Minute), Type: journal.TypeSync, Description: journal.SyncFailed,
					Data: map[string]any{"kind": "FetchError"},
				}))
				require.NoError(t, s.LogEvent(ctx, journal.Event{
					Time: base, Type: journal.TypeSync, Description: journal.SyncCompleted,
					Data: map[string]any{"portfolio": "alice"},
				}))
				require.NoError(t, s.LogEvent(ctx, journal.Event{Time: base, Type: "other", Description: "x"}))
				require.NoError(t, s.LogEvent(ctx, journal.Event{
					Time: base.Add(time.Hour), Type: journal.TypeSync, Description: journal.SyncCompleted,
				}))

				events, err := s.GetEvents(ctx, journal.TypeSync, base, base.Add(time.Minute))
				require.NoError(t, err)
				require.Len(t, events, 2)
				assert.Equal(t, journal.SyncCompleted, events[0].Description)
				assert.Equal(t, "alice", events[0].Data["portfolio"])
				assert.Equal(t, journal.SyncFailed, events[1].Description)
				assert.True(t, base.Add(time.Minute).Equal(events[1].Time))
			})
		})
	}
}
