package interfaces

import (
	"context"

	"rtrader-bridge/src/models"
)

// -----------------------------------------------------------------------------
// IQuoteReader reads the current top of book from wherever the front-end
// publishes it.
// -----------------------------------------------------------------------------

type IQuoteReader interface {
	ReadQuote(ctx context.Context) (models.MQuote, error)
}

// -----------------------------------------------------------------------------
// IQuoteSink receives every detected bid/ask change.
// -----------------------------------------------------------------------------

type IQuoteSink interface {
	WriteUpdate(update models.MQuoteUpdate) error
	Close() error
}
