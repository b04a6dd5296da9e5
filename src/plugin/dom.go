package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"rtrader-bridge/src/helpers"
	"rtrader-bridge/src/logger"
	"rtrader-bridge/src/models"

	"github.com/shopspring/decimal"
)

const DefaultDepthLevels = 50

// PriceLevel is one [price, size] pair of a depth message.
type PriceLevel struct {
	Price decimal.Decimal
	Size  int64
}

func (l *PriceLevel) UnmarshalJSON(data []byte) error {
	var pair []decimal.Decimal
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("price level wants [price, size], got %d values", len(pair))
	}
	l.Price = pair[0]
	l.Size = pair[1].IntPart()
	return nil
}

func (l PriceLevel) MarshalJSON() ([]byte, error) {
	return []byte("[" + l.Price.String() + "," + fmt.Sprint(l.Size) + "]"), nil
}

// DepthMessage replaces the sides it carries. A missing side is left as is.
type DepthMessage struct {
	Type   string        `json:"type"`
	Symbol string        `json:"symbol"`
	Bids   *[]PriceLevel `json:"bids,omitempty"`
	Asks   *[]PriceLevel `json:"asks,omitempty"`
}

type BestBidAsk struct {
	Type     string          `json:"type"`
	Symbol   string          `json:"symbol"`
	BidPrice decimal.Decimal `json:"bid_price"`
	AskPrice decimal.Decimal `json:"ask_price"`
	BidSize  int64           `json:"bid_size"`
	AskSize  int64           `json:"ask_size"`
}

type subscribeDepth struct {
	Type        string `json:"type"`
	Symbol      string `json:"symbol"`
	Exchange    string `json:"exchange"`
	DepthLevels int    `json:"depth_levels"`
}

// Snapshot is a copy of one symbol's book.
type Snapshot struct {
	Symbol     string
	Bids       []PriceLevel // best first
	Asks       []PriceLevel // best first
	BBA        *BestBidAsk
	LastUpdate time.Time
}

type symbolBook struct {
	bids       []PriceLevel
	asks       []PriceLevel
	bba        *BestBidAsk
	lastUpdate time.Time
}

// -----------------------------------------------------------------------------

// Book keeps the depth of market per symbol from MARKET_DEPTH and
// BEST_BID_ASK messages.
type Book struct {
	conn     *Connector
	exchange string
	depth    int
	log      *logger.Logger
	now      func() time.Time

	mu         sync.RWMutex
	symbols    map[string]*symbolBook
	subscribed map[string]bool
	changed    chan struct{} // closed and replaced on every update
}

// NewBook registers the depth handlers on conn. conn may be nil when the
// book is fed through ApplyDepth and ApplyBestBidAsk directly.
func NewBook(conn *Connector, exchange string, depth int, log *logger.Logger) *Book {
	if exchange == "" {
		exchange = "CME"
	}
	if depth <= 0 {
		depth = DefaultDepthLevels
	}
	b := &Book{
		conn:       conn,
		exchange:   exchange,
		depth:      depth,
		log:        log,
		now:        time.Now,
		symbols:    make(map[string]*symbolBook),
		subscribed: make(map[string]bool),
		changed:    make(chan struct{}),
	}
	if conn != nil {
		conn.On(TypeMarketDepth, b.onDepth)
		conn.On(TypeBestBidAsk, b.onBestBidAsk)
	}
	return b
}

// -----------------------------------------------------------------------------

// Subscribe asks for depth updates on symbol at the book's exchange.
func (b *Book) Subscribe(symbol string) error {
	if symbol == "" {
		return helpers.NewValidationError("subscribe needs a symbol")
	}
	if b.conn == nil {
		return ErrNotConnected
	}
	err := b.conn.Send(subscribeDepth{
		Type:        TypeSubscribeDepth,
		Symbol:      symbol,
		Exchange:    b.exchange,
		DepthLevels: b.depth,
	})
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.subscribed[symbol+"@"+b.exchange] = true
	b.mu.Unlock()
	b.log.Info("Subscribed to depth for %s@%s (%d levels)", symbol, b.exchange, b.depth)
	return nil
}

// Subscriptions lists symbol@exchange keys.
func (b *Book) Subscriptions() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.subscribed))
	for k := range b.subscribed {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// -----------------------------------------------------------------------------

func (b *Book) onDepth(raw json.RawMessage) {
	var msg DepthMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		b.log.Warning("Bad %s message: %v", TypeMarketDepth, err)
		return
	}
	if err := b.ApplyDepth(msg); err != nil {
		b.log.Warning("Dropped %s message: %v", TypeMarketDepth, err)
	}
}

func (b *Book) onBestBidAsk(raw json.RawMessage) {
	var msg BestBidAsk
	if err := json.Unmarshal(raw, &msg); err != nil {
		b.log.Warning("Bad %s message: %v", TypeBestBidAsk, err)
		return
	}
	if err := b.ApplyBestBidAsk(msg); err != nil {
		b.log.Warning("Dropped %s message: %v", TypeBestBidAsk, err)
	}
}

// ApplyDepth replaces the given sides of the symbol's book. Levels are kept
// best first and empty levels are dropped.
func (b *Book) ApplyDepth(msg DepthMessage) error {
	if msg.Symbol == "" {
		return helpers.NewValidationError("depth message has no symbol")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	sb := b.ensureSymbol(msg.Symbol)
	if msg.Bids != nil {
		sb.bids = sortLevels(*msg.Bids, true)
	}
	if msg.Asks != nil {
		sb.asks = sortLevels(*msg.Asks, false)
	}
	sb.lastUpdate = b.now()
	b.notifyLocked()
	return nil
}

func (b *Book) ApplyBestBidAsk(msg BestBidAsk) error {
	if msg.Symbol == "" {
		return helpers.NewValidationError("best bid/ask message has no symbol")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	sb := b.ensureSymbol(msg.Symbol)
	sb.bba = &msg
	sb.lastUpdate = b.now()
	b.notifyLocked()
	b.log.Debug("%s: Bid %s (%d) | Ask %s (%d)", msg.Symbol, msg.BidPrice, msg.BidSize, msg.AskPrice, msg.AskSize)
	return nil
}

func (b *Book) ensureSymbol(symbol string) *symbolBook {
	sb, ok := b.symbols[symbol]
	if !ok {
		sb = &symbolBook{}
		b.symbols[symbol] = sb
	}
	return sb
}

func (b *Book) notifyLocked() {
	close(b.changed)
	b.changed = make(chan struct{})
}

func (b *Book) updates() <-chan struct{} {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.changed
}

func sortLevels(levels []PriceLevel, desc bool) []PriceLevel {
	out := make([]PriceLevel, 0, len(levels))
	for _, l := range levels {
		if l.Size > 0 {
			out = append(out, l)
		}
	}
	slices.SortStableFunc(out, func(x, y PriceLevel) int {
		if desc {
			return y.Price.Cmp(x.Price)
		}
		return x.Price.Cmp(y.Price)
	})
	return out
}

// -----------------------------------------------------------------------------

// Best returns the top of book. Depth levels win; the last best bid/ask
// message fills in when a side has no depth.
func (b *Book) Best(symbol string) (bid, ask decimal.Decimal, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	sb, exists := b.symbols[symbol]
	if !exists {
		return decimal.Zero, decimal.Zero, false
	}

	var hasBid, hasAsk bool
	if len(sb.bids) > 0 {
		bid, hasBid = sb.bids[0].Price, true
	} else if sb.bba != nil && sb.bba.BidPrice.IsPositive() {
		bid, hasBid = sb.bba.BidPrice, true
	}
	if len(sb.asks) > 0 {
		ask, hasAsk = sb.asks[0].Price, true
	} else if sb.bba != nil && sb.bba.AskPrice.IsPositive() {
		ask, hasAsk = sb.bba.AskPrice, true
	}
	if !hasBid || !hasAsk {
		return decimal.Zero, decimal.Zero, false
	}
	return bid, ask, true
}

// TopN returns up to n levels per side, best first.
func (b *Book) TopN(symbol string, n int) (bids, asks []PriceLevel) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	sb, exists := b.symbols[symbol]
	if !exists || n <= 0 {
		return nil, nil
	}
	return slices.Clone(sb.bids[:min(n, len(sb.bids))]), slices.Clone(sb.asks[:min(n, len(sb.asks))])
}

// Get returns a copy of the symbol's book.
func (b *Book) Get(symbol string) (Snapshot, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	sb, exists := b.symbols[symbol]
	if !exists {
		return Snapshot{}, false
	}
	snap := Snapshot{
		Symbol:     symbol,
		Bids:       slices.Clone(sb.bids),
		Asks:       slices.Clone(sb.asks),
		LastUpdate: sb.lastUpdate,
	}
	if sb.bba != nil {
		bba := *sb.bba
		snap.BBA = &bba
	}
	return snap, true
}

// -----------------------------------------------------------------------------

// Reader exposes one symbol's top of book to the quote poller.
func (b *Book) Reader(symbol string) *QuoteReader {
	return &QuoteReader{book: b, symbol: symbol}
}

// QuoteReader adapts a Book to the poller's quote source.
type QuoteReader struct {
	book   *Book
	symbol string
}

// ReadQuote waits until both sides of the book are known.
func (r *QuoteReader) ReadQuote(ctx context.Context) (models.MQuote, error) {
	for {
		changed := r.book.updates()
		if bid, ask, ok := r.book.Best(r.symbol); ok {
			return models.MQuote{Symbol: r.symbol, Bid: bid, Ask: ask}, nil
		}
		select {
		case <-ctx.Done():
			return models.MQuote{}, ctx.Err()
		case <-changed:
		}
	}
}
