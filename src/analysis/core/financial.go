package core

import "github.com/shopspring/decimal"

var two = decimal.NewFromInt(2)

// -----------------------------------------------------------------------------

// SpreadMid returns ask-bid and the midpoint of the book.
func SpreadMid(bid, ask decimal.Decimal) (spread, mid decimal.Decimal) {
	return ask.Sub(bid), bid.Add(ask).Div(two)
}
