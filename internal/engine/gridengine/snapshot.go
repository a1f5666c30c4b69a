package gridengine

import (
	"grid_trader/internal/trading/grid"
	"time"

	"github.com/shopspring/decimal"
)

// LevelView is the published state of one grid level
type LevelView struct {
	Index    int              `json:"index"`
	Price    decimal.Decimal  `json:"price"`
	State    grid.LevelState  `json:"state"`
	Side     string           `json:"side,omitempty"`
	OrderID  string           `json:"order_id,omitempty"`
	Quantity *decimal.Decimal `json:"quantity,omitempty"`
}

// Snapshot is the immutable engine state published after every tick.
// Readers get it through GridEngine.Snapshot and must not modify it.
type Snapshot struct {
	Exchange        string          `json:"exchange"`
	Pair            string          `json:"pair"`
	Iteration       int64           `json:"iteration"`
	LastPrice       decimal.Decimal `json:"last_price"`
	OrderSize       decimal.Decimal `json:"order_size"`
	BaseBalance     decimal.Decimal `json:"base_balance"`
	QuoteBalance    decimal.Decimal `json:"quote_balance"`
	Committed       decimal.Decimal `json:"committed_capital"`
	InvestmentCap   decimal.Decimal `json:"investment_cap"`
	RestingOrders   int             `json:"resting_orders"`
	CompletedTrades int64           `json:"completed_trades"`
	Levels          []LevelView     `json:"levels"`
	LastError       string          `json:"last_error,omitempty"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func buildLevelViews(levels []grid.Level, entries []grid.EntrySnapshot) []LevelView {
	byKey := make(map[string]grid.EntrySnapshot, len(entries))
	for _, e := range entries {
		byKey[e.Level.Key()] = e
	}

	views := make([]LevelView, len(levels))
	for i, l := range levels {
		v := LevelView{Index: l.Index, Price: l.Price, State: grid.LevelEmpty}
		if e, ok := byKey[l.Key()]; ok {
			v.State = e.State
			if e.Order != nil {
				qty := e.Order.Quantity
				v.Side = string(e.Order.Side)
				v.OrderID = e.Order.OrderID
				v.Quantity = &qty
			}
		}
		views[i] = v
	}
	return views
}
