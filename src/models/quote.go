package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// MQuote is one top-of-book snapshot as read from a quote source.
type MQuote struct {
	Symbol    string          `json:"symbol"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	Timestamp time.Time       `json:"timestamp"`
}

// MQuoteUpdate is emitted when bid or ask moved since the previous read.
type MQuoteUpdate struct {
	Seq       int64           `json:"seq"`
	Symbol    string          `json:"symbol"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	PrevBid   decimal.Decimal `json:"prev_bid"`
	PrevAsk   decimal.Decimal `json:"prev_ask"`
	Spread    decimal.Decimal `json:"spread"`
	Mid       decimal.Decimal `json:"mid"`
	Timestamp time.Time       `json:"timestamp"`
}
