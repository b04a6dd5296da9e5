package utils

import (
	"sync"
	"time"

	"rtrader-bridge/src/logger"
)

// MarketScheduler gates quote polling on the session of one exchange. When
// disabled every instant counts as open.
type MarketScheduler struct {
	Calendar *TradingCalendar
	Enabled  bool
	Logger   *logger.Logger
	Now      func() time.Time

	mu       sync.Mutex
	lastOpen *bool
}

// -----------------------------------------------------------------------------

func NewMarketScheduler(mic string, enabled bool, l *logger.Logger) *MarketScheduler {
	ms := &MarketScheduler{
		Enabled: enabled,
		Logger:  l,
		Now:     time.Now,
	}
	if enabled {
		ms.Calendar = GetCalendar(mic)
		l.Info("MarketScheduler: gating on %s calendar (fallback=%v)", ms.Calendar.MIC, ms.Calendar.Fallback)
	}
	return ms
}

// -----------------------------------------------------------------------------

// IsOpen reports whether polling should run now and logs session changes.
func (ms *MarketScheduler) IsOpen() bool {
	if !ms.Enabled || ms.Calendar == nil {
		return true
	}
	open := ms.Calendar.IsOpenOnMinute(ms.Now().UTC())

	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.lastOpen == nil || *ms.lastOpen != open {
		if open {
			ms.Logger.Info("MarketScheduler: %s session open", ms.Calendar.MIC)
		} else {
			ms.Logger.Info("MarketScheduler: %s session closed, pausing", ms.Calendar.MIC)
		}
		ms.lastOpen = &open
	}
	return open
}
