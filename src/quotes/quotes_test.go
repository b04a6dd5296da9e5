package quotes

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"rtrader-bridge/src/logger"
	"rtrader-bridge/src/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quote(bid, ask string) models.MQuote {
	return models.MQuote{
		Symbol:    "MNQ",
		Bid:       decimal.RequireFromString(bid),
		Ask:       decimal.RequireFromString(ask),
		Timestamp: time.Date(2025, 9, 2, 14, 30, 0, 0, time.UTC),
	}
}

type scriptedReader struct {
	mu     sync.Mutex
	quotes []models.MQuote
	errs   []error
	i      int
}

func (r *scriptedReader) ReadQuote(ctx context.Context) (models.MQuote, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.i >= len(r.quotes) {
		return r.quotes[len(r.quotes)-1], nil
	}
	q, err := r.quotes[r.i], r.errs[r.i]
	r.i++
	return q, err
}

type memorySink struct {
	mu      sync.Mutex
	updates []models.MQuoteUpdate
	closed  bool
}

func (s *memorySink) WriteUpdate(u models.MQuoteUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, u)
	return nil
}

func (s *memorySink) Close() error {
	s.closed = true
	return nil
}

// -----------------------------------------------------------------------------

func TestObserveDetectsChanges(t *testing.T) {
	p := NewPoller(nil, 0, logger.NewNopLogger())
	assert.Equal(t, DefaultInterval, p.Interval)

	first, changed := p.Observe(quote("21450.25", "21450.50"))
	require.True(t, changed)
	assert.Equal(t, int64(1), first.Seq)
	assert.True(t, first.PrevBid.IsZero())
	assert.Equal(t, "0.25", first.Spread.String())
	assert.Equal(t, "21450.375", first.Mid.String())

	_, changed = p.Observe(quote("21450.25", "21450.50"))
	assert.False(t, changed)

	// Same value written differently is not a change.
	_, changed = p.Observe(quote("21450.250", "21450.5"))
	assert.False(t, changed)

	second, changed := p.Observe(quote("21450.25", "21451.00"))
	require.True(t, changed)
	assert.Equal(t, int64(2), second.Seq)
	assert.Equal(t, "21450.25", second.PrevBid.String())
	assert.Equal(t, "21450.5", second.PrevAsk.String())

	m := p.Metrics()
	assert.Equal(t, int64(4), m.Reads)
	assert.Equal(t, int64(2), m.Updates)
	assert.InDelta(t, 0.5, m.SpreadMean, 1e-9)
	assert.InDelta(t, 0.25, m.SpreadStd, 1e-9)
}

func TestObserveStampsMissingTimestamp(t *testing.T) {
	p := NewPoller(nil, time.Second, logger.NewNopLogger())
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	p.Now = func() time.Time { return now }

	q := quote("1", "2")
	q.Timestamp = time.Time{}
	u, changed := p.Observe(q)
	require.True(t, changed)
	assert.Equal(t, now, u.Timestamp)
}

func TestTickFeedsSinksAndCountsErrors(t *testing.T) {
	reader := &scriptedReader{
		quotes: []models.MQuote{quote("1", "2"), {}, quote("1", "2"), quote("1.5", "2")},
		errs:   []error{nil, errors.New("feed offline"), nil, nil},
	}
	sink := &memorySink{}
	p := NewPoller(reader, time.Millisecond, logger.NewNopLogger(), sink)

	for i := 0; i < 4; i++ {
		p.Tick(context.Background())
	}

	require.Len(t, sink.updates, 2)
	assert.Equal(t, "1.5", sink.updates[1].Bid.String())
	assert.Equal(t, 2, p.Buffer.Size())

	m := p.Metrics()
	assert.Equal(t, int64(4), m.Reads)
	assert.Equal(t, int64(1), m.Errors)
	assert.Equal(t, map[string]int{"internal": 1}, p.Errors.Counts())

	require.NoError(t, p.Close())
	assert.True(t, sink.closed)
}

func TestRunStopsOnCancel(t *testing.T) {
	reader := &scriptedReader{
		quotes: []models.MQuote{quote("1", "2"), quote("1", "3")},
		errs:   []error{nil, nil},
	}
	sink := &memorySink{}
	p := NewPoller(reader, 5*time.Millisecond, logger.NewNopLogger(), sink)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	m, err := p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), m.Updates)
	assert.GreaterOrEqual(t, m.Reads, int64(2))
}

// -----------------------------------------------------------------------------

func TestCSVSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quotes.csv")

	sink, err := NewCSVSink(path)
	require.NoError(t, err)

	p := NewPoller(nil, time.Second, logger.NewNopLogger())
	u, _ := p.Observe(quote("21450.25", "21450.50"))
	require.NoError(t, sink.WriteUpdate(u))

	// Rows are flushed before Close.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "timestamp,bid,ask,spread,mid\n2025-09-02T14:30:00Z,21450.25,21450.5,0.25,21450.375\n", string(data))
	require.NoError(t, sink.Close())

	// Reopening appends without a second header.
	sink, err = NewCSVSink(path)
	require.NoError(t, err)
	require.NoError(t, sink.WriteUpdate(u))
	require.NoError(t, sink.Close())

	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(data), "timestamp,bid"))
	assert.Equal(t, 3, strings.Count(string(data), "\n"))
}

func TestCSVSinkBadPath(t *testing.T) {
	_, err := NewCSVSink(filepath.Join(t.TempDir(), "missing", "quotes.csv"))
	assert.Error(t, err)
}

// -----------------------------------------------------------------------------

type fakeNetwork struct {
	body   string
	err    error
	url    string
	params map[string]string
}

func (f *fakeNetwork) Get(ctx context.Context, url string, params map[string]string) ([]byte, error) {
	f.url, f.params = url, params
	return []byte(f.body), f.err
}

func TestHTTPQuoteReader(t *testing.T) {
	net := &fakeNetwork{body: `{"bid": 21450.25, "ask": "21450.50", "timestamp": "2025-09-02T14:30:00Z"}`}
	r := NewHTTPQuoteReader(net, "http://127.0.0.1:9000/quote", "MNQ")

	q, err := r.ReadQuote(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "MNQ", q.Symbol)
	assert.Equal(t, "21450.25", q.Bid.String())
	assert.Equal(t, "21450.5", q.Ask.String())
	assert.Equal(t, time.Date(2025, 9, 2, 14, 30, 0, 0, time.UTC), q.Timestamp)
	assert.Equal(t, map[string]string{"symbol": "MNQ"}, net.params)
}

func TestHTTPQuoteReaderErrors(t *testing.T) {
	r := NewHTTPQuoteReader(&fakeNetwork{body: `not json`}, "u", "")
	_, err := r.ReadQuote(context.Background())
	assert.Error(t, err)

	r = NewHTTPQuoteReader(&fakeNetwork{body: `{"bid": 1}`}, "u", "")
	_, err = r.ReadQuote(context.Background())
	assert.Error(t, err)

	r = NewHTTPQuoteReader(&fakeNetwork{err: errors.New("down")}, "u", "")
	_, err = r.ReadQuote(context.Background())
	assert.EqualError(t, err, "down")
}
