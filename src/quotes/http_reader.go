package quotes

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"rtrader-bridge/src/helpers"
	"rtrader-bridge/src/interfaces"
	"rtrader-bridge/src/models"

	"github.com/shopspring/decimal"
)

// quoteSnapshot is the JSON document served by a local quote endpoint.
// Prices may be JSON numbers or strings.
type quoteSnapshot struct {
	Symbol    string          `json:"symbol"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	Timestamp *time.Time      `json:"timestamp"`
}

// -----------------------------------------------------------------------------

// HTTPQuoteReader fetches the top of book from a JSON endpoint.
type HTTPQuoteReader struct {
	Network interfaces.INetworkManager
	URL     string
	Symbol  string
}

func NewHTTPQuoteReader(network interfaces.INetworkManager, url, symbol string) *HTTPQuoteReader {
	return &HTTPQuoteReader{Network: network, URL: url, Symbol: symbol}
}

// -----------------------------------------------------------------------------

func (r *HTTPQuoteReader) ReadQuote(ctx context.Context) (models.MQuote, error) {
	var params map[string]string
	if r.Symbol != "" {
		params = map[string]string{"symbol": r.Symbol}
	}

	body, err := r.Network.Get(ctx, r.URL, params)
	if err != nil {
		return models.MQuote{}, err
	}

	var snap quoteSnapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return models.MQuote{}, helpers.NewProtocolError("decode quote snapshot", err)
	}
	if snap.Bid.IsZero() || snap.Ask.IsZero() {
		return models.MQuote{}, helpers.NewValidationError("quote snapshot is missing bid or ask")
	}

	q := models.MQuote{
		Symbol: strings.TrimSpace(snap.Symbol),
		Bid:    snap.Bid,
		Ask:    snap.Ask,
	}
	if q.Symbol == "" {
		q.Symbol = r.Symbol
	}
	if snap.Timestamp != nil {
		q.Timestamp = snap.Timestamp.UTC()
	}
	return q, nil
}
