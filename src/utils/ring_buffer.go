package utils

import (
	"sync"

	"rtrader-bridge/src/models"
)

// -----------------------------------------------------------------------------
// QuoteBuffer is a fixed-size circular buffer of quote updates. The poller
// writes while the API server reads, so every method locks.
// -----------------------------------------------------------------------------

type QuoteBuffer struct {
	mu       sync.RWMutex
	data     []models.MQuoteUpdate
	capacity int
	index    int // next write position
	size     int
}

// -----------------------------------------------------------------------------

func NewQuoteBuffer(capacity int) *QuoteBuffer {
	if capacity <= 0 {
		capacity = 1024
	}
	return &QuoteBuffer{
		data:     make([]models.MQuoteUpdate, capacity),
		capacity: capacity,
	}
}

// -----------------------------------------------------------------------------

func (qb *QuoteBuffer) Append(u models.MQuoteUpdate) {
	qb.mu.Lock()
	defer qb.mu.Unlock()

	qb.data[qb.index] = u
	qb.index = (qb.index + 1) % qb.capacity
	if qb.size < qb.capacity {
		qb.size++
	}
}

// -----------------------------------------------------------------------------

// GetLatest returns up to n newest updates, oldest first.
func (qb *QuoteBuffer) GetLatest(n int) []models.MQuoteUpdate {
	qb.mu.RLock()
	defer qb.mu.RUnlock()

	if qb.size == 0 || n <= 0 {
		return []models.MQuoteUpdate{}
	}
	count := min(n, qb.size)

	result := make([]models.MQuoteUpdate, count)
	start := (qb.index - count + qb.capacity) % qb.capacity
	for i := 0; i < count; i++ {
		result[i] = qb.data[(start+i)%qb.capacity]
	}
	return result
}

// -----------------------------------------------------------------------------

// Last returns the newest update.
func (qb *QuoteBuffer) Last() (models.MQuoteUpdate, bool) {
	latest := qb.GetLatest(1)
	if len(latest) == 0 {
		return models.MQuoteUpdate{}, false
	}
	return latest[0], true
}

func (qb *QuoteBuffer) GetAll() []models.MQuoteUpdate {
	return qb.GetLatest(qb.Size())
}

// -----------------------------------------------------------------------------

func (qb *QuoteBuffer) Size() int {
	qb.mu.RLock()
	defer qb.mu.RUnlock()
	return qb.size
}

func (qb *QuoteBuffer) Capacity() int {
	return qb.capacity
}

func (qb *QuoteBuffer) IsFull() bool {
	qb.mu.RLock()
	defer qb.mu.RUnlock()
	return qb.size == qb.capacity
}

func (qb *QuoteBuffer) Clear() {
	qb.mu.Lock()
	defer qb.mu.Unlock()
	qb.index = 0
	qb.size = 0
}
