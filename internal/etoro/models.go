package etoro

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

type profileResponse struct {
	RealCID *int64 `json:"realCID"`
}

type instrumentsResponse struct {
	InstrumentDisplayDatas []instrumentDisplayData `json:"InstrumentDisplayDatas"`
}

type instrumentDisplayData struct {
	InstrumentID          int64  `json:"InstrumentID"`
	InstrumentDisplayName string `json:"InstrumentDisplayName"`
	SymbolFull            string `json:"SymbolFull"`
}

type aggregatedResponse struct {
	AggregatedPositions []AggregatedPosition `json:"AggregatedPositions"`
}

type publicPositionsResponse struct {
	PublicPositions []PublicPosition `json:"PublicPositions"`
}

// AggregatedPosition is the per-instrument summary of a portfolio.
type AggregatedPosition struct {
	InstrumentID int64           `json:"InstrumentID"`
	Direction    string          `json:"Direction"`
	Invested     decimal.Decimal `json:"Invested"`
	NetProfit    decimal.Decimal `json:"NetProfit"`
	Value        decimal.Decimal `json:"Value"`
}

// PublicPosition is one open position as the feed renders it. Numeric fields
// keep their literal JSON text so fingerprints see exactly what was sent.
type PublicPosition struct {
	PositionID     json.Number `json:"PositionID"`
	CID            json.Number `json:"CID"`
	InstrumentID   json.Number `json:"InstrumentID"`
	OpenDateTime   string      `json:"OpenDateTime"`
	OpenRate       json.Number `json:"OpenRate"`
	Amount         json.Number `json:"Amount"`
	IsBuy          bool        `json:"IsBuy"`
	TakeProfitRate json.Number `json:"TakeProfitRate"` // empty when null
	StopLossRate   json.Number `json:"StopLossRate"`   // empty when null
	Leverage       json.Number `json:"Leverage"`
}
