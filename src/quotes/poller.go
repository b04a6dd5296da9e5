package quotes

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"rtrader-bridge/src/analysis/core"
	"rtrader-bridge/src/helpers"
	"rtrader-bridge/src/interfaces"
	"rtrader-bridge/src/logger"
	"rtrader-bridge/src/models"
	"rtrader-bridge/src/utils"
)

const (
	DefaultInterval = 100 * time.Millisecond

	// spread outliers are judged against this many recent updates
	outlierWindow = 200
	outlierZScore = 4.0
)

// -----------------------------------------------------------------------------

// Poller reads the top of book on a fixed interval and emits an update
// whenever bid or ask moved.
type Poller struct {
	Reader    interfaces.IQuoteReader
	Sinks     []interfaces.IQuoteSink
	Buffer    *utils.QuoteBuffer
	Scheduler *utils.MarketScheduler
	Interval  time.Duration
	Logger    *logger.Logger
	Errors    *helpers.ErrorHandler
	Now       func() time.Time

	mu      sync.Mutex
	seq     int64
	last    *models.MQuote
	metrics models.MPollMetrics
	spreads []float64
}

func NewPoller(reader interfaces.IQuoteReader, interval time.Duration, log *logger.Logger, sinks ...interfaces.IQuoteSink) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{
		Reader:   reader,
		Sinks:    sinks,
		Buffer:   utils.NewQuoteBuffer(0),
		Interval: interval,
		Logger:   log,
		Errors:   helpers.NewErrorHandler(log),
		Now:      time.Now,
	}
}

// -----------------------------------------------------------------------------

// Run polls until ctx is done and returns the run summary. Read errors are
// counted and logged; the loop keeps going.
func (p *Poller) Run(ctx context.Context) (models.MPollMetrics, error) {
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	p.Logger.Info("Polling quotes every %v", p.Interval)
	for {
		p.Tick(ctx)

		select {
		case <-ctx.Done():
			metrics := p.Metrics()
			p.Logger.Info("Poller stopped: %d reads, %d updates, %d errors", metrics.Reads, metrics.Updates, metrics.Errors)
			return metrics, nil
		case <-ticker.C:
		}
	}
}

// -----------------------------------------------------------------------------

// Tick performs one read cycle.
func (p *Poller) Tick(ctx context.Context) {
	if p.Scheduler != nil && !p.Scheduler.IsOpen() {
		p.mu.Lock()
		p.metrics.Skipped++
		p.mu.Unlock()
		return
	}

	q, err := p.Reader.ReadQuote(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.mu.Lock()
		p.metrics.Reads++
		p.metrics.Errors++
		p.mu.Unlock()
		p.Errors.Handle(err, "quote read")
		return
	}

	update, changed := p.Observe(q)
	if !changed {
		return
	}
	p.Buffer.Append(update)
	p.flagOutlier(update)

	for _, sink := range p.Sinks {
		if err := sink.WriteUpdate(update); err != nil {
			p.Errors.Handle(err, "quote sink")
		}
	}
}

// -----------------------------------------------------------------------------

// Observe records a read and returns the update when bid or ask changed.
// The first read always counts as a change.
func (p *Poller) Observe(q models.MQuote) (models.MQuoteUpdate, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.metrics.Reads++
	if p.last != nil && p.last.Bid.Equal(q.Bid) && p.last.Ask.Equal(q.Ask) {
		return models.MQuoteUpdate{}, false
	}

	if q.Timestamp.IsZero() {
		q.Timestamp = p.Now().UTC()
	}
	spread, mid := core.SpreadMid(q.Bid, q.Ask)

	p.seq++
	update := models.MQuoteUpdate{
		Seq:       p.seq,
		Symbol:    q.Symbol,
		Bid:       q.Bid,
		Ask:       q.Ask,
		Spread:    spread,
		Mid:       mid,
		Timestamp: q.Timestamp,
	}
	if p.last != nil {
		update.PrevBid = p.last.Bid
		update.PrevAsk = p.last.Ask
	}

	last := q
	p.last = &last
	p.metrics.Updates++
	p.spreads = append(p.spreads, spread.InexactFloat64())
	return update, true
}

// -----------------------------------------------------------------------------

func (p *Poller) flagOutlier(u models.MQuoteUpdate) {
	recent := p.Buffer.GetLatest(outlierWindow)
	if len(recent) < 10 {
		return
	}
	values := make([]float64, len(recent))
	for i, r := range recent {
		values[i] = r.Spread.InexactFloat64()
	}
	mean, std := core.CalculateMeanStd(values)
	if z := core.CalculateZScore(u.Spread.InexactFloat64(), mean, std); math.Abs(z) > outlierZScore {
		p.Logger.Warning("Spread %s at seq %d is %.1f std from the recent mean %.4f", u.Spread, u.Seq, z, mean)
	}
}

// -----------------------------------------------------------------------------

// Metrics returns the counters so far with spread statistics over every
// emitted update.
func (p *Poller) Metrics() models.MPollMetrics {
	p.mu.Lock()
	defer p.mu.Unlock()

	m := p.metrics
	m.SpreadMean, m.SpreadStd = core.CalculateMeanStd(p.spreads)
	return m
}

// -----------------------------------------------------------------------------

// Close closes every sink and joins their errors.
func (p *Poller) Close() error {
	var errs []error
	for _, sink := range p.Sinks {
		if err := sink.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
