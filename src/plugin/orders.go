package plugin

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"rtrader-bridge/src/helpers"
	"rtrader-bridge/src/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// ParseSide accepts buy/sell in any case.
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToUpper(strings.TrimSpace(s))) {
	case Buy:
		return Buy, nil
	case Sell:
		return Sell, nil
	}
	return "", helpers.NewValidationError("side must be BUY or SELL, got " + s)
}

// Price marshals as a bare JSON number.
type Price struct{ decimal.Decimal }

func (p Price) MarshalJSON() ([]byte, error) { return []byte(p.String()), nil }

func price(d decimal.Decimal) *Price { return &Price{d} }

// Order is both the request sent to the front-end and the local record
// updated from ORDER_STATUS and FILL messages.
type Order struct {
	Type            string `json:"type"`
	OrderID         string `json:"order_id"`
	Symbol          string `json:"symbol,omitempty"`
	Exchange        string `json:"exchange,omitempty"`
	Quantity        int64  `json:"quantity,omitempty"`
	Side            Side   `json:"side,omitempty"`
	OrderType       string `json:"order_type,omitempty"`
	LimitPrice      *Price `json:"limit_price,omitempty"`
	TIF             string `json:"tif,omitempty"`
	EntryType       string `json:"entry_type,omitempty"`
	EntryPrice      *Price `json:"entry_price,omitempty"`
	StopLossPrice   *Price `json:"stop_loss_price,omitempty"`
	TakeProfitPrice *Price `json:"take_profit_price,omitempty"`

	Status    string          `json:"-"`
	FilledQty int64           `json:"-"`
	FillPrice decimal.Decimal `json:"-"`
	PlacedAt  time.Time       `json:"-"`
}

type cancelOrder struct {
	Type    string `json:"type"`
	OrderID string `json:"order_id"`
}

type OrderStatus struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

type Fill struct {
	OrderID      string          `json:"order_id"`
	FillPrice    decimal.Decimal `json:"fill_price"`
	FillQuantity int64           `json:"fill_quantity"`
}

type Position struct {
	Symbol        string          `json:"symbol"`
	Quantity      int64           `json:"position"`
	AveragePrice  decimal.Decimal `json:"average_price"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
}

// -----------------------------------------------------------------------------

// OrderManager builds order requests and tracks their status, fills and
// the resulting positions.
type OrderManager struct {
	conn     *Connector
	exchange string
	log      *logger.Logger
	now      func() time.Time

	mu        sync.RWMutex
	orders    map[string]*Order
	positions map[string]Position
}

func NewOrderManager(conn *Connector, exchange string, log *logger.Logger) *OrderManager {
	if exchange == "" {
		exchange = "CME"
	}
	m := &OrderManager{
		conn:      conn,
		exchange:  exchange,
		log:       log,
		now:       time.Now,
		orders:    make(map[string]*Order),
		positions: make(map[string]Position),
	}
	conn.On(TypeOrderStatus, m.onOrderStatus)
	conn.On(TypeFill, m.onFill)
	conn.On(TypePosition, m.onPosition)
	return m
}

// -----------------------------------------------------------------------------

// newID is prefix_YYYYmmdd_HHMMSS with a random suffix so two orders in the
// same second stay distinct.
func (m *OrderManager) newID(prefix string) string {
	return prefix + "_" + m.now().Format("20060102_150405") + "_" + uuid.NewString()[:8]
}

func (m *OrderManager) base(symbol string, quantity int64, side Side) (*Order, error) {
	if symbol == "" {
		return nil, helpers.NewValidationError("order needs a symbol")
	}
	if quantity <= 0 {
		return nil, helpers.NewValidationError("order quantity must be positive")
	}
	side, err := ParseSide(string(side))
	if err != nil {
		return nil, err
	}
	return &Order{Symbol: symbol, Exchange: m.exchange, Quantity: quantity, Side: side}, nil
}

func (m *OrderManager) PlaceMarket(symbol string, quantity int64, side Side) (string, error) {
	o, err := m.base(symbol, quantity, side)
	if err != nil {
		return "", err
	}
	o.Type, o.OrderID = TypePlaceOrder, m.newID("ORD")
	o.OrderType, o.TIF = "MARKET", "DAY"
	return m.place(o)
}

func (m *OrderManager) PlaceLimit(symbol string, quantity int64, side Side, limit decimal.Decimal) (string, error) {
	o, err := m.base(symbol, quantity, side)
	if err != nil {
		return "", err
	}
	if !limit.IsPositive() {
		return "", helpers.NewValidationError("limit price must be positive")
	}
	o.Type, o.OrderID = TypePlaceOrder, m.newID("ORD")
	o.OrderType, o.TIF = "LIMIT", "DAY"
	o.LimitPrice = price(limit)
	return m.place(o)
}

// PlaceBracket sends a limit entry with a stop loss and a take profit. The
// stop must sit on the losing side of the entry and the target on the
// winning side.
func (m *OrderManager) PlaceBracket(symbol string, quantity int64, side Side, entry, stopLoss, takeProfit decimal.Decimal) (string, error) {
	o, err := m.base(symbol, quantity, side)
	if err != nil {
		return "", err
	}
	if !entry.IsPositive() || !stopLoss.IsPositive() || !takeProfit.IsPositive() {
		return "", helpers.NewValidationError("bracket prices must be positive")
	}
	ordered := stopLoss.LessThan(entry) && entry.LessThan(takeProfit)
	if o.Side == Sell {
		ordered = takeProfit.LessThan(entry) && entry.LessThan(stopLoss)
	}
	if !ordered {
		return "", helpers.NewValidationError("bracket stop and target are on the wrong side of the entry")
	}

	o.Type, o.OrderID = TypePlaceBracket, m.newID("BRK")
	o.EntryType = "LIMIT"
	o.EntryPrice = price(entry)
	o.StopLossPrice = price(stopLoss)
	o.TakeProfitPrice = price(takeProfit)
	return m.place(o)
}

// place records the order before sending so a fast status reply finds it.
func (m *OrderManager) place(o *Order) (string, error) {
	o.Status = "SENT"
	o.PlacedAt = m.now()
	m.mu.Lock()
	m.orders[o.OrderID] = o
	m.mu.Unlock()

	if err := m.conn.Send(o); err != nil {
		m.mu.Lock()
		delete(m.orders, o.OrderID)
		m.mu.Unlock()
		return "", err
	}
	m.log.Info("Placed %s %s %d %s: %s", o.Type, o.Side, o.Quantity, o.Symbol, o.OrderID)
	return o.OrderID, nil
}

// Cancel requests cancellation. Unknown ids are still sent; the front-end
// may know orders placed elsewhere.
func (m *OrderManager) Cancel(orderID string) error {
	if orderID == "" {
		return helpers.NewValidationError("cancel needs an order id")
	}
	if err := m.conn.Send(cancelOrder{Type: TypeCancelOrder, OrderID: orderID}); err != nil {
		return err
	}
	m.log.Info("Cancellation requested: %s", orderID)
	return nil
}

// -----------------------------------------------------------------------------

func (m *OrderManager) onOrderStatus(raw json.RawMessage) {
	var st OrderStatus
	if err := json.Unmarshal(raw, &st); err != nil {
		m.log.Warning("Bad %s message: %v", TypeOrderStatus, err)
		return
	}
	m.log.Info("Order %s: %s", st.OrderID, st.Status)

	m.mu.Lock()
	if o, ok := m.orders[st.OrderID]; ok {
		o.Status = st.Status
	}
	m.mu.Unlock()
}

func (m *OrderManager) onFill(raw json.RawMessage) {
	var f Fill
	if err := json.Unmarshal(raw, &f); err != nil {
		m.log.Warning("Bad %s message: %v", TypeFill, err)
		return
	}
	m.log.Info("Fill %s: %d @ %s", f.OrderID, f.FillQuantity, f.FillPrice)

	m.mu.Lock()
	if o, ok := m.orders[f.OrderID]; ok {
		o.FilledQty += f.FillQuantity
		o.FillPrice = f.FillPrice
	}
	m.mu.Unlock()
}

func (m *OrderManager) onPosition(raw json.RawMessage) {
	var p Position
	if err := json.Unmarshal(raw, &p); err != nil {
		m.log.Warning("Bad %s message: %v", TypePosition, err)
		return
	}
	if p.Symbol == "" {
		m.log.Warning("Dropped %s message without symbol", TypePosition)
		return
	}
	m.log.Info("Position %s = %d @ %s", p.Symbol, p.Quantity, p.AveragePrice)

	m.mu.Lock()
	m.positions[p.Symbol] = p
	m.mu.Unlock()
}

// -----------------------------------------------------------------------------

// Order returns a copy of a placed order.
func (m *OrderManager) Order(orderID string) (Order, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[orderID]
	if !ok {
		return Order{}, false
	}
	return *o, true
}

func (m *OrderManager) Position(symbol string) (Position, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.positions[symbol]
	return p, ok
}

// Positions returns a copy of every known position.
func (m *OrderManager) Positions() map[string]Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Position, len(m.positions))
	for k, v := range m.positions {
		out[k] = v
	}
	return out
}
