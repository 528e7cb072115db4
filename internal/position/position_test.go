package position

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTerms() Terms {
	return Terms{
		PositionID:     "2145367381",
		CID:            "11853441",
		InstrumentID:   "1001",
		OpenDateTime:   "2024-03-01T14:05:11.93Z",
		OpenRate:       "179.66",
		Amount:         "2.5",
		Direction:      "Buy",
		TakeProfitRate: "359.32",
		StopLossRate:   "0.0001",
		DisplayName:    "Apple",
		Symbol:         "AAPL",
		Leverage:       "1",
	}
}

func TestFingerprint(t *testing.T) {
	t.Run("empty terms hash the empty string", func(t *testing.T) {
		assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", Fingerprint(Terms{}))
	})

	t.Run("terms are concatenated in field order", func(t *testing.T) {
		fp := Fingerprint(Terms{PositionID: "a", CID: "b", InstrumentID: "c"})
		assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", fp)
		assert.Equal(t, fp, Fingerprint(Terms{DisplayName: "a", Symbol: "b", Leverage: "c"}))
	})

	t.Run("deterministic", func(t *testing.T) {
		fp := Fingerprint(sampleTerms())
		assert.Len(t, fp, 64)
		assert.Equal(t, fp, Fingerprint(sampleTerms()))
	})

	t.Run("every field changes the digest", func(t *testing.T) {
		base := Fingerprint(sampleTerms())
		mutations := map[string]func(*Terms){
			"position_id":      func(t *Terms) { t.PositionID = "2145367382" },
			"cid":              func(t *Terms) { t.CID = "11853442" },
			"instrument_id":    func(t *Terms) { t.InstrumentID = "1002" },
			"open_datetime":    func(t *Terms) { t.OpenDateTime = "2024-03-01T14:05:12.93Z" },
			"open_rate":        func(t *Terms) { t.OpenRate = "179.67" },
			"amount":           func(t *Terms) { t.Amount = "2.6" },
			"direction":        func(t *Terms) { t.Direction = "Sell" },
			"take_profit_rate": func(t *Terms) { t.TakeProfitRate = "" },
			"stop_loss_rate":   func(t *Terms) { t.StopLossRate = "0.0002" },
			"display_name":     func(t *Terms) { t.DisplayName = "Apple Inc" },
			"symbol":           func(t *Terms) { t.Symbol = "AAPL.US" },
			"leverage":         func(t *Terms) { t.Leverage = "2" },
		}
		for name, mutate := range mutations {
			t.Run(name, func(t *testing.T) {
				terms := sampleTerms()
				mutate(&terms)
				assert.NotEqual(t, base, Fingerprint(terms))
			})
		}
	})

	t.Run("textual formatting is significant", func(t *testing.T) {
		a, b := sampleTerms(), sampleTerms()
		a.Amount, b.Amount = "2.5", "2.50"
		assert.NotEqual(t, Fingerprint(a), Fingerprint(b))
	})
}

func TestNew(t *testing.T) {
	t.Run("parses every term", func(t *testing.T) {
		p, err := New(7, sampleTerms())
		require.NoError(t, err)

		assert.Equal(t, int64(7), p.PortfolioID)
		assert.Equal(t, int64(2145367381), p.PositionID)
		assert.Equal(t, int64(11853441), p.CID)
		assert.Equal(t, int64(1001), p.InstrumentID)
		assert.Equal(t, time.Date(2024, 3, 1, 14, 5, 11, 930000000, time.UTC), p.OpenDateTime)
		assert.True(t, decimal.RequireFromString("179.66").Equal(p.OpenRate))
		assert.True(t, decimal.RequireFromString("2.5").Equal(p.Amount))
		assert.Equal(t, DirectionBuy, p.Direction)
		assert.True(t, p.TakeProfitRate.Valid)
		assert.True(t, p.StopLossRate.Valid)
		assert.Equal(t, "Apple", p.DisplayName)
		assert.Equal(t, "AAPL", p.Symbol)
		assert.Equal(t, int64(1), p.Leverage)
		assert.Empty(t, p.Fingerprint, "fingerprint is attached explicitly")
	})

	t.Run("absent rates are null", func(t *testing.T) {
		terms := sampleTerms()
		terms.TakeProfitRate, terms.StopLossRate = "", ""
		p, err := New(1, terms)
		require.NoError(t, err)
		assert.False(t, p.TakeProfitRate.Valid)
		assert.False(t, p.StopLossRate.Valid)
	})

	t.Run("timestamp without zone is read as UTC", func(t *testing.T) {
		terms := sampleTerms()
		terms.OpenDateTime = "2024-03-01T14:05:11"
		p, err := New(1, terms)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2024, 3, 1, 14, 5, 11, 0, time.UTC), p.OpenDateTime)
	})

	tests := []struct {
		name   string
		mutate func(*Terms)
	}{
		{"bad position id", func(t *Terms) { t.PositionID = "x" }},
		{"bad leverage", func(t *Terms) { t.Leverage = "1.5" }},
		{"bad open rate", func(t *Terms) { t.OpenRate = "" }},
		{"bad direction", func(t *Terms) { t.Direction = "Long" }},
		{"bad time", func(t *Terms) { t.OpenDateTime = "yesterday" }},
		{"missing symbol", func(t *Terms) { t.Symbol = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			terms := sampleTerms()
			tt.mutate(&terms)
			_, err := New(1, terms)
			assert.Error(t, err)
		})
	}
}

func TestWithFingerprint(t *testing.T) {
	p, err := New(1, sampleTerms())
	require.NoError(t, err)

	fp := Fingerprint(sampleTerms())
	q := p.WithFingerprint(fp)

	assert.Empty(t, p.Fingerprint, "original is untouched")
	assert.Equal(t, fp, q.Fingerprint)
	assert.Equal(t, "<Position: Apple (AAPL)>", q.String())
}

func TestFingerprints(t *testing.T) {
	ps := []Position{{Fingerprint: "a"}, {Fingerprint: "b"}, {Fingerprint: "a"}}
	set := Fingerprints(ps)
	assert.Len(t, set, 2)
	assert.Contains(t, set, "a")
	assert.Contains(t, set, "b")
	assert.Empty(t, Fingerprints(nil))
}

func TestDirectionFromIsBuy(t *testing.T) {
	assert.Equal(t, DirectionBuy, DirectionFromIsBuy(true))
	assert.Equal(t, DirectionSell, DirectionFromIsBuy(false))
}
