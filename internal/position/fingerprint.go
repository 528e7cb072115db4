package position

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Terms is the ordered tuple of economic terms a fingerprint is derived from.
// Every value is kept exactly as the feed rendered it.
type Terms struct {
	PositionID     string
	CID            string
	InstrumentID   string
	OpenDateTime   string
	OpenRate       string
	Amount         string
	Direction      string
	TakeProfitRate string // empty when absent
	StopLossRate   string // empty when absent
	DisplayName    string
	Symbol         string
	Leverage       string
}

// Fingerprint returns the hex SHA-256 of the terms concatenated in field order.
// No normalisation is applied: "1.50" and "1.5" yield different digests.
func Fingerprint(t Terms) string {
	var b strings.Builder
	for _, v := range [...]string{
		t.PositionID,
		t.CID,
		t.InstrumentID,
		t.OpenDateTime,
		t.OpenRate,
		t.Amount,
		t.Direction,
		t.TakeProfitRate,
		t.StopLossRate,
		t.DisplayName,
		t.Symbol,
		t.Leverage,
	} {
		b.WriteString(v)
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
