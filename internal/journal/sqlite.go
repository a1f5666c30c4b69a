package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"grid_trader/internal/core"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

const schema = `
CREATE TABLE IF NOT EXISTS trades (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	order_id  TEXT NOT NULL UNIQUE,
	pair      TEXT NOT NULL,
	side      TEXT NOT NULL,
	price     TEXT NOT NULL,
	quantity  TEXT NOT NULL,
	role      TEXT NOT NULL,
	fee       TEXT NOT NULL,
	placed_at INTEGER NOT NULL,
	filled_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_filled_at ON trades(filled_at);
`

// SQLiteJournal appends trades to a sqlite database
type SQLiteJournal struct {
	db *sql.DB
}

func NewSQLiteJournal(dbPath string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteJournal{db: db}, nil
}

// RecordTrade inserts a trade. A repeated order id is ignored.
func (j *SQLiteJournal) RecordTrade(ctx context.Context, trade core.TradeRecord) error {
	query := `INSERT OR IGNORE INTO trades
		(order_id, pair, side, price, quantity, role, fee, placed_at, filled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := j.db.ExecContext(ctx, query,
		trade.OrderID,
		trade.Pair,
		string(trade.Side),
		trade.Price.String(),
		trade.Quantity.String(),
		string(trade.Role),
		trade.Fee.String(),
		trade.PlacedAt.UnixNano(),
		trade.FilledAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to write trade %s: %w", trade.OrderID, err)
	}
	return nil
}

// RecentTrades returns up to limit trades, newest first
func (j *SQLiteJournal) RecentTrades(ctx context.Context, limit int) ([]core.TradeRecord, error) {
	if limit <= 0 {
		limit = -1 // sqlite: no limit
	}
	rows, err := j.db.QueryContext(ctx, `SELECT order_id, pair, side, price, quantity, role, fee, placed_at, filled_at
		FROM trades ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var out []core.TradeRecord
	for rows.Next() {
		var (
			t                  core.TradeRecord
			side, role         string
			price, qty, fee    string
			placedAt, filledAt int64
		)
		if err := rows.Scan(&t.OrderID, &t.Pair, &side, &price, &qty, &role, &fee, &placedAt, &filledAt); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		t.Side = core.OrderSide(side)
		t.Role = core.Role(role)
		if t.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("corrupt price for %s: %w", t.OrderID, err)
		}
		if t.Quantity, err = decimal.NewFromString(qty); err != nil {
			return nil, fmt.Errorf("corrupt quantity for %s: %w", t.OrderID, err)
		}
		if t.Fee, err = decimal.NewFromString(fee); err != nil {
			return nil, fmt.Errorf("corrupt fee for %s: %w", t.OrderID, err)
		}
		t.PlacedAt = time.Unix(0, placedAt)
		t.FilledAt = time.Unix(0, filledAt)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}
