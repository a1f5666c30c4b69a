package journal

import (
	"context"
	"sync"

	"grid_trader/internal/core"
)

const defaultMemoryCapacity = 1000

// MemoryJournal keeps the most recent trades in memory
type MemoryJournal struct {
	trades   []core.TradeRecord
	seen     map[string]struct{}
	capacity int
	mu       sync.RWMutex
}

func NewMemoryJournal(capacity int) *MemoryJournal {
	if capacity <= 0 {
		capacity = defaultMemoryCapacity
	}
	return &MemoryJournal{
		seen:     make(map[string]struct{}),
		capacity: capacity,
	}
}

// RecordTrade appends a trade. A repeated order id is ignored.
func (j *MemoryJournal) RecordTrade(ctx context.Context, trade core.TradeRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if _, dup := j.seen[trade.OrderID]; dup {
		return nil
	}
	j.trades = append(j.trades, trade)
	j.seen[trade.OrderID] = struct{}{}

	if len(j.trades) > j.capacity {
		evicted := j.trades[0]
		delete(j.seen, evicted.OrderID)
		j.trades = append([]core.TradeRecord(nil), j.trades[1:]...)
	}
	return nil
}

// RecentTrades returns up to limit trades, newest first
func (j *MemoryJournal) RecentTrades(ctx context.Context, limit int) ([]core.TradeRecord, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	n := len(j.trades)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]core.TradeRecord, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, j.trades[i])
	}
	return out, nil
}

func (j *MemoryJournal) Close() error {
	return nil
}
