package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"rtrader-bridge/src/helpers"
	"rtrader-bridge/src/logger"
	"rtrader-bridge/src/quotes"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeFrontEnd accepts plugin sockets on /rithmic, records every message it
// gets and pushes whatever the test hands it.
type fakeFrontEnd struct {
	srv      *httptest.Server
	received chan map[string]interface{}

	mu    sync.Mutex
	conns []*websocket.Conn
	wg    sync.WaitGroup
}

func startFrontEnd(t *testing.T) *fakeFrontEnd {
	t.Helper()
	f := &fakeFrontEnd{received: make(chan map[string]interface{}, 64)}
	upgrader := websocket.Upgrader{}

	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rithmic" {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.wg.Add(1)
		defer f.wg.Done()
		f.mu.Lock()
		f.conns = append(f.conns, conn)
		f.mu.Unlock()

		for {
			var msg map[string]interface{}
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			f.received <- msg
		}
	}))

	t.Cleanup(func() {
		f.srv.Close()
		f.mu.Lock()
		for _, c := range f.conns {
			c.Close()
		}
		f.mu.Unlock()
		f.wg.Wait()
	})
	return f
}

func (f *fakeFrontEnd) options(t *testing.T) Options {
	t.Helper()
	host, port, err := net.SplitHostPort(f.srv.Listener.Addr().String())
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)
	return Options{Host: host, Port: p, Name: "test plugin", Version: "1.0", Timeout: time.Second}
}

func (f *fakeFrontEnd) next(t *testing.T) map[string]interface{} {
	t.Helper()
	select {
	case msg := <-f.received:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("front-end got no message")
		return nil
	}
}

func (f *fakeFrontEnd) push(t *testing.T, raw string) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.conns)
	require.NoError(t, f.conns[len(f.conns)-1].WriteMessage(websocket.TextMessage, []byte(raw)))
}

func (f *fakeFrontEnd) dropAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.conns {
		c.Close()
	}
}

// connect dials the fake and consumes the handshake, so the server side is
// reading by the time it returns.
func connect(t *testing.T, f *fakeFrontEnd) (*Connector, map[string]interface{}) {
	t.Helper()
	c := NewConnector(f.options(t), logger.NewNopLogger())
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() { _ = c.Close() })
	return c, f.next(t)
}

// -----------------------------------------------------------------------------

func TestConnectSendsHandshake(t *testing.T) {
	f := startFrontEnd(t)
	c, hello := connect(t, f)

	assert.Equal(t, TypeConnect, hello["type"])
	assert.Equal(t, "test plugin", hello["plugin_name"])
	assert.Equal(t, "1.0", hello["version"])
	assert.Equal(t, []interface{}{"MARKET_DATA", "ORDER_ENTRY", "LEVEL_2"}, hello["capabilities"])

	assert.Contains(t, c.opts.URL(), "/rithmic")
	assert.Error(t, c.Connect(context.Background()), "second connect must fail")
}

func TestConnectRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	c := NewConnector(Options{Host: "127.0.0.1", Port: port, Timeout: time.Second}, logger.NewNopLogger())
	err = c.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, "network", helpers.Kind(err))
	assert.ErrorIs(t, c.Send(map[string]string{"type": "X"}), ErrNotConnected)
	assert.NoError(t, c.Close())
}

func TestRoutesByType(t *testing.T) {
	f := startFrontEnd(t)
	c := NewConnector(f.options(t), logger.NewNopLogger())

	got := make(chan string, 8)
	c.On("X", func(raw json.RawMessage) { got <- "first:" + string(raw) })
	c.On("X", func(raw json.RawMessage) { got <- "second" })
	c.On("Y", func(raw json.RawMessage) { got <- "y" })

	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() { _ = c.Close() })
	f.next(t)

	f.push(t, `not json`)
	f.push(t, `{"type":"UNKNOWN"}`)
	f.push(t, `{"type":"X","n":1}`)

	recv := func() string {
		select {
		case s := <-got:
			return s
		case <-time.After(2 * time.Second):
			t.Fatal("handler not called")
			return ""
		}
	}
	assert.Equal(t, `first:{"type":"X","n":1}`, recv())
	assert.Equal(t, "second", recv())
	assert.Empty(t, got)
}

func TestServerCloseEndsListen(t *testing.T) {
	f := startFrontEnd(t)
	c, _ := connect(t, f)

	f.dropAll()
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("read loop did not stop")
	}
	assert.Equal(t, "network", helpers.Kind(c.Err()))
	assert.ErrorIs(t, c.Send(map[string]string{"type": "X"}), ErrNotConnected)
}

func TestCloseStopsListen(t *testing.T) {
	f := startFrontEnd(t)
	c, _ := connect(t, f)

	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.Err(), ErrClosed)
	assert.NoError(t, c.Close())
}

// -----------------------------------------------------------------------------

func TestBookFromSocket(t *testing.T) {
	f := startFrontEnd(t)
	c, _ := connect(t, f)
	book := NewBook(c, "", 0, logger.NewNopLogger())

	require.NoError(t, book.Subscribe("MNQZ24"))
	sub := f.next(t)
	assert.Equal(t, TypeSubscribeDepth, sub["type"])
	assert.Equal(t, "MNQZ24", sub["symbol"])
	assert.Equal(t, "CME", sub["exchange"])
	assert.EqualValues(t, DefaultDepthLevels, sub["depth_levels"])
	assert.Equal(t, []string{"MNQZ24@CME"}, book.Subscriptions())

	f.push(t, `{"type":"MARKET_DEPTH","symbol":"MNQZ24",
		"bids":[[21449.75,3],[21450.25,5],[21450.0,0]],
		"asks":[[21451.0,2],[21450.5,7]]}`)

	require.Eventually(t, func() bool {
		_, _, ok := book.Best("MNQZ24")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	bid, ask, _ := book.Best("MNQZ24")
	assert.Equal(t, "21450.25", bid.String())
	assert.Equal(t, "21450.5", ask.String())

	bids, asks := book.TopN("MNQZ24", 5)
	require.Len(t, bids, 2, "zero-size level dropped")
	assert.Equal(t, int64(5), bids[0].Size)
	assert.Equal(t, "21449.75", bids[1].Price.String())
	require.Len(t, asks, 2)
	assert.Equal(t, "21451", asks[1].Price.String())

	f.push(t, `{"type":"BEST_BID_ASK","symbol":"MNQZ24","bid_price":21450.25,"ask_price":21450.5,"bid_size":5,"ask_size":7}`)
	require.Eventually(t, func() bool {
		snap, _ := book.Get("MNQZ24")
		return snap.BBA != nil
	}, 2*time.Second, 10*time.Millisecond)
	snap, ok := book.Get("MNQZ24")
	require.True(t, ok)
	assert.Equal(t, int64(7), snap.BBA.AskSize)
}

func TestBookApplyDepth(t *testing.T) {
	book := NewBook(nil, "CME", 10, logger.NewNopLogger())
	fixed := time.Date(2024, 12, 2, 15, 0, 0, 0, time.UTC)
	book.now = func() time.Time { return fixed }

	var msg DepthMessage
	require.NoError(t, json.Unmarshal([]byte(`{"symbol":"MNQ","bids":[[100.25,1]],"asks":[[100.5,2]]}`), &msg))
	require.NoError(t, book.ApplyDepth(msg))

	// a message with only bids keeps the old asks
	require.NoError(t, json.Unmarshal([]byte(`{"symbol":"MNQ","bids":[[100.0,4]]}`), &msg))
	require.NoError(t, book.ApplyDepth(msg))

	bid, ask, ok := book.Best("MNQ")
	require.True(t, ok)
	assert.Equal(t, "100", bid.String())
	assert.Equal(t, "100.5", ask.String())

	snap, _ := book.Get("MNQ")
	assert.Equal(t, fixed, snap.LastUpdate)

	// an empty side falls back to the last best bid/ask
	require.NoError(t, json.Unmarshal([]byte(`{"symbol":"MNQ","asks":[]}`), &msg))
	require.NoError(t, book.ApplyDepth(msg))
	_, _, ok = book.Best("MNQ")
	assert.False(t, ok)

	require.NoError(t, book.ApplyBestBidAsk(BestBidAsk{Symbol: "MNQ", BidPrice: decimal.RequireFromString("100"), AskPrice: decimal.RequireFromString("100.75")}))
	_, ask, ok = book.Best("MNQ")
	require.True(t, ok)
	assert.Equal(t, "100.75", ask.String())

	assert.Error(t, book.ApplyDepth(DepthMessage{}))
	assert.ErrorIs(t, book.Subscribe("MNQ"), ErrNotConnected)

	var bad PriceLevel
	assert.Error(t, json.Unmarshal([]byte(`[1,2,3]`), &bad))
}

func TestQuoteReaderFeedsPoller(t *testing.T) {
	book := NewBook(nil, "CME", 0, logger.NewNopLogger())
	reader := book.Reader("MNQ")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := reader.ReadQuote(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded, "an empty book blocks the read")

	var msg DepthMessage
	require.NoError(t, json.Unmarshal([]byte(`{"symbol":"MNQ","bids":[[21450.25,1]],"asks":[[21450.5,1]]}`), &msg))

	// a read waiting on the book returns once depth arrives
	got := make(chan string, 1)
	go func() {
		q, _ := reader.ReadQuote(context.Background())
		got <- q.Bid.String()
	}()
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, book.ApplyDepth(msg))
	select {
	case bid := <-got:
		assert.Equal(t, "21450.25", bid)
	case <-time.After(2 * time.Second):
		t.Fatal("waiting read not woken")
	}

	poller := quotes.NewPoller(reader, time.Millisecond, logger.NewNopLogger())
	poller.Tick(context.Background())
	poller.Tick(context.Background())

	latest := poller.Buffer.GetLatest(10)
	require.Len(t, latest, 1, "unchanged book emits one update")
	assert.Equal(t, "MNQ", latest[0].Symbol)
	assert.Equal(t, "0.25", latest[0].Spread.String())
	assert.Equal(t, int64(2), poller.Metrics().Reads)
}

// -----------------------------------------------------------------------------

func TestOrderLifecycle(t *testing.T) {
	f := startFrontEnd(t)
	c, _ := connect(t, f)
	orders := NewOrderManager(c, "CME", logger.NewNopLogger())
	orders.now = func() time.Time { return time.Date(2024, 12, 2, 15, 4, 5, 0, time.UTC) }

	id, err := orders.PlaceLimit("MNQZ24", 1, "buy", decimal.RequireFromString("21448.25"))
	require.NoError(t, err)
	assert.Regexp(t, `^ORD_20241202_150405_[0-9a-f]{8}$`, id)

	req := f.next(t)
	assert.Equal(t, TypePlaceOrder, req["type"])
	assert.Equal(t, id, req["order_id"])
	assert.Equal(t, "BUY", req["side"])
	assert.Equal(t, "LIMIT", req["order_type"])
	assert.Equal(t, "DAY", req["tif"])
	assert.Equal(t, 21448.25, req["limit_price"], "price goes out as a number")
	assert.NotContains(t, req, "entry_price")

	f.push(t, `{"type":"ORDER_STATUS","order_id":"`+id+`","status":"WORKING"}`)
	f.push(t, `{"type":"FILL","order_id":"`+id+`","fill_price":21448.25,"fill_quantity":1}`)
	f.push(t, `{"type":"POSITION","symbol":"MNQZ24","position":1,"average_price":21448.25,"unrealized_pnl":1.5}`)

	require.Eventually(t, func() bool {
		_, ok := orders.Position("MNQZ24")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	o, ok := orders.Order(id)
	require.True(t, ok)
	assert.Equal(t, "WORKING", o.Status)
	assert.Equal(t, int64(1), o.FilledQty)
	assert.Equal(t, "21448.25", o.FillPrice.String())

	pos := orders.Positions()["MNQZ24"]
	assert.Equal(t, int64(1), pos.Quantity)
	assert.Equal(t, "1.5", pos.UnrealizedPnL.String())

	require.NoError(t, orders.Cancel(id))
	cancel := f.next(t)
	assert.Equal(t, map[string]interface{}{"type": TypeCancelOrder, "order_id": id}, cancel)
}

func TestMarketAndBracketMessages(t *testing.T) {
	f := startFrontEnd(t)
	c, _ := connect(t, f)
	orders := NewOrderManager(c, "", logger.NewNopLogger())

	id, err := orders.PlaceMarket("MNQZ24", 2, Sell)
	require.NoError(t, err)
	req := f.next(t)
	assert.Equal(t, "MARKET", req["order_type"])
	assert.Equal(t, "SELL", req["side"])
	assert.EqualValues(t, 2, req["quantity"])
	assert.NotContains(t, req, "limit_price")
	o, ok := orders.Order(id)
	require.True(t, ok)
	assert.Equal(t, "SENT", o.Status)

	d := decimal.RequireFromString
	id, err = orders.PlaceBracket("MNQZ24", 1, Sell, d("21450"), d("21460"), d("21430"))
	require.NoError(t, err)
	assert.Regexp(t, `^BRK_`, id)
	req = f.next(t)
	assert.Equal(t, TypePlaceBracket, req["type"])
	assert.Equal(t, "LIMIT", req["entry_type"])
	assert.Equal(t, 21450.0, req["entry_price"])
	assert.Equal(t, 21460.0, req["stop_loss_price"])
	assert.Equal(t, 21430.0, req["take_profit_price"])
	assert.Equal(t, "CME", req["exchange"])
}

func TestOrderValidation(t *testing.T) {
	f := startFrontEnd(t)
	c, _ := connect(t, f)
	orders := NewOrderManager(c, "CME", logger.NewNopLogger())
	d := decimal.RequireFromString

	tests := []struct {
		name  string
		place func() (string, error)
	}{
		{"no symbol", func() (string, error) { return orders.PlaceMarket("", 1, Buy) }},
		{"zero quantity", func() (string, error) { return orders.PlaceMarket("MNQ", 0, Buy) }},
		{"bad side", func() (string, error) { return orders.PlaceMarket("MNQ", 1, "HOLD") }},
		{"zero limit", func() (string, error) { return orders.PlaceLimit("MNQ", 1, Buy, decimal.Zero) }},
		{"buy stop above entry", func() (string, error) {
			return orders.PlaceBracket("MNQ", 1, Buy, d("100"), d("101"), d("102"))
		}},
		{"sell target above entry", func() (string, error) {
			return orders.PlaceBracket("MNQ", 1, Sell, d("100"), d("101"), d("102"))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.place()
			require.Error(t, err)
			var verr *helpers.ValidationError
			assert.True(t, errors.As(err, &verr))
		})
	}
	assert.Error(t, orders.Cancel(""))
	assert.Empty(t, f.received, "nothing invalid reached the front-end")
}

func TestPlaceAfterDisconnect(t *testing.T) {
	f := startFrontEnd(t)
	c, _ := connect(t, f)
	orders := NewOrderManager(c, "CME", logger.NewNopLogger())
	require.NoError(t, c.Close())

	_, err := orders.PlaceMarket("MNQ", 1, Buy)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Empty(t, orders.orders, "failed order is not kept")
}
