// Package store provides data persistence implementations.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/marketcalls/openalgo-sub012/internal/errors"
	"github.com/marketcalls/openalgo-sub012/internal/models"
)

// SQLiteStore implements DataStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-based data store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool for concurrent access
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Sandbox orders
	CREATE TABLE IF NOT EXISTS sandbox_orders (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		exchange TEXT NOT NULL,
		side TEXT NOT NULL,
		order_type TEXT NOT NULL,
		product TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		price REAL NOT NULL DEFAULT 0,
		trigger_price REAL NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		filled_qty INTEGER NOT NULL DEFAULT 0,
		average_price REAL NOT NULL DEFAULT 0,
		margin_blocked REAL NOT NULL DEFAULT 0,
		tag TEXT,
		placed_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	-- Sandbox trades (immutable fills)
	CREATE TABLE IF NOT EXISTS sandbox_trades (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		exchange TEXT NOT NULL,
		side TEXT NOT NULL,
		product TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		price REAL NOT NULL,
		executed_at DATETIME NOT NULL,
		FOREIGN KEY (order_id) REFERENCES sandbox_orders(id)
	);

	-- Open positions, one row per (user, symbol, exchange, product)
	CREATE TABLE IF NOT EXISTS sandbox_positions (
		user_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		exchange TEXT NOT NULL,
		product TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		average_price REAL NOT NULL,
		ltp REAL NOT NULL DEFAULT 0,
		pnl REAL NOT NULL DEFAULT 0,
		pnl_percent REAL NOT NULL DEFAULT 0,
		realized_pnl REAL NOT NULL DEFAULT 0,
		today_realized_pnl REAL NOT NULL DEFAULT 0,
		margin_blocked REAL NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (user_id, symbol, exchange, product)
	);

	-- Settled delivery holdings
	CREATE TABLE IF NOT EXISTS sandbox_holdings (
		user_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		exchange TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		average_price REAL NOT NULL,
		ltp REAL NOT NULL DEFAULT 0,
		pnl REAL NOT NULL DEFAULT 0,
		pnl_percent REAL NOT NULL DEFAULT 0,
		invested_value REAL NOT NULL DEFAULT 0,
		current_value REAL NOT NULL DEFAULT 0,
		settled_at DATETIME NOT NULL,
		PRIMARY KEY (user_id, symbol, exchange)
	);

	-- Virtual fund accounts
	CREATE TABLE IF NOT EXISTS sandbox_funds (
		user_id TEXT PRIMARY KEY,
		total_capital REAL NOT NULL,
		available_cash REAL NOT NULL,
		used_margin REAL NOT NULL DEFAULT 0,
		realized_pnl REAL NOT NULL DEFAULT 0,
		unrealized_pnl REAL NOT NULL DEFAULT 0,
		total_pnl REAL NOT NULL DEFAULT 0,
		last_reset DATETIME NOT NULL,
		reset_count INTEGER NOT NULL DEFAULT 0
	);

	-- End-of-day snapshots, immutable, one per (user, date)
	CREATE TABLE IF NOT EXISTS sandbox_snapshots (
		user_id TEXT NOT NULL,
		date DATE NOT NULL,
		realized_pnl REAL NOT NULL,
		unrealized_pnl REAL NOT NULL,
		total_pnl REAL NOT NULL,
		portfolio_value REAL NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (user_id, date)
	);

	-- Create indexes for performance
	CREATE INDEX IF NOT EXISTS idx_orders_status ON sandbox_orders(status);
	CREATE INDEX IF NOT EXISTS idx_orders_user ON sandbox_orders(user_id);
	CREATE INDEX IF NOT EXISTS idx_orders_symbol ON sandbox_orders(symbol);
	CREATE INDEX IF NOT EXISTS idx_trades_order ON sandbox_trades(order_id);
	CREATE INDEX IF NOT EXISTS idx_trades_user ON sandbox_trades(user_id);
	CREATE INDEX IF NOT EXISTS idx_positions_product ON sandbox_positions(product);
	CREATE INDEX IF NOT EXISTS idx_positions_updated ON sandbox_positions(updated_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ============================================================================
// Order Methods
// ============================================================================

const orderColumns = `id, user_id, symbol, exchange, side, order_type, product, quantity, price, trigger_price, status, filled_qty, average_price, margin_blocked, tag, placed_at, updated_at`

// SaveOrder inserts a new order.
func (s *SQLiteStore) SaveOrder(ctx context.Context, o *models.Order) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sandbox_orders (`+orderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, o.ID, o.UserID, o.Symbol, o.Exchange, o.Side, o.Type, o.Product, o.Quantity,
		o.Price, o.TriggerPrice, o.Status, o.FilledQty, o.AveragePrice, o.MarginBlocked,
		o.Tag, o.PlacedAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save order: %w", err)
	}
	return nil
}

func scanOrder(row interface{ Scan(...interface{}) error }) (*models.Order, error) {
	var o models.Order
	err := row.Scan(&o.ID, &o.UserID, &o.Symbol, &o.Exchange, &o.Side, &o.Type,
		&o.Product, &o.Quantity, &o.Price, &o.TriggerPrice, &o.Status, &o.FilledQty,
		&o.AveragePrice, &o.MarginBlocked, &o.Tag, &o.PlacedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// GetOrder retrieves an order by ID.
func (s *SQLiteStore) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+orderColumns+` FROM sandbox_orders WHERE id = ?
	`, orderID)
	o, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", errors.ErrOrderNotFound, orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return o, nil
}

// GetOpenOrders retrieves all orders in OPEN status.
func (s *SQLiteStore) GetOpenOrders(ctx context.Context) ([]models.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+orderColumns+` FROM sandbox_orders WHERE status = ? ORDER BY placed_at ASC
	`, models.OrderStatusOpen)
	if err != nil {
		return nil, fmt.Errorf("failed to query open orders: %w", err)
	}
	defer rows.Close()
	return collectOrders(rows)
}

// GetOrders retrieves orders matching the filter.
func (s *SQLiteStore) GetOrders(ctx context.Context, filter OrderFilter) ([]models.Order, error) {
	query := "SELECT " + orderColumns + " FROM sandbox_orders WHERE 1=1"
	args := []interface{}{}

	if filter.UserID != "" {
		query += " AND user_id = ?"
		args = append(args, filter.UserID)
	}
	if filter.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, filter.Symbol)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}
	if filter.Product != "" {
		query += " AND product = ?"
		args = append(args, filter.Product)
	}
	if !filter.StartDate.IsZero() {
		query += " AND placed_at >= ?"
		args = append(args, filter.StartDate)
	}
	if !filter.EndDate.IsZero() {
		query += " AND placed_at <= ?"
		args = append(args, filter.EndDate)
	}
	query += " ORDER BY placed_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()
	return collectOrders(rows)
}

func collectOrders(rows *sql.Rows) ([]models.Order, error) {
	var orders []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating orders: %w", err)
	}
	return orders, nil
}

// UpdateOpenOrder persists modified fields of an order still in OPEN status.
func (s *SQLiteStore) UpdateOpenOrder(ctx context.Context, o *models.Order) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sandbox_orders
		SET quantity = ?, price = ?, trigger_price = ?, margin_blocked = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, o.Quantity, o.Price, o.TriggerPrice, o.MarginBlocked, time.Now(), o.ID, models.OrderStatusOpen)
	if err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	}
	return requireOneRow(res, o.ID)
}

// CompleteOrder transitions an OPEN order to COMPLETE, exactly once.
func (s *SQLiteStore) CompleteOrder(ctx context.Context, orderID string, filledQty int, avgPrice float64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sandbox_orders
		SET status = ?, filled_qty = ?, average_price = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, models.OrderStatusComplete, filledQty, avgPrice, time.Now(), orderID, models.OrderStatusOpen)
	if err != nil {
		return fmt.Errorf("failed to complete order: %w", err)
	}
	return requireOneRow(res, orderID)
}

// CloseOrder transitions an OPEN order to CANCELLED or REJECTED, exactly once.
func (s *SQLiteStore) CloseOrder(ctx context.Context, orderID string, status models.OrderStatus) error {
	if status != models.OrderStatusCancelled && status != models.OrderStatusRejected {
		return fmt.Errorf("invalid terminal status: %s", status)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE sandbox_orders SET status = ?, updated_at = ? WHERE id = ? AND status = ?
	`, status, time.Now(), orderID, models.OrderStatusOpen)
	if err != nil {
		return fmt.Errorf("failed to close order: %w", err)
	}
	return requireOneRow(res, orderID)
}

func requireOneRow(res sql.Result, orderID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", errors.ErrOrderNotOpen, orderID)
	}
	return nil
}

// ============================================================================
// Trade Methods
// ============================================================================

// SaveTrade inserts an immutable trade record.
func (s *SQLiteStore) SaveTrade(ctx context.Context, t *models.Trade) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sandbox_trades (id, order_id, user_id, symbol, exchange, side, product, quantity, price, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.OrderID, t.UserID, t.Symbol, t.Exchange, t.Side, t.Product, t.Quantity, t.Price, t.ExecutedAt)
	if err != nil {
		return fmt.Errorf("failed to save trade: %w", err)
	}
	return nil
}

// TradeExistsForOrder reports whether a trade has already been written for
// the order; the matching engine's idempotency guard.
func (s *SQLiteStore) TradeExistsForOrder(ctx context.Context, orderID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM sandbox_trades WHERE order_id = ?
	`, orderID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check trade existence: %w", err)
	}
	return count > 0, nil
}

// GetTrades retrieves trades matching the filter.
func (s *SQLiteStore) GetTrades(ctx context.Context, filter TradeFilter) ([]models.Trade, error) {
	query := `SELECT id, order_id, user_id, symbol, exchange, side, product, quantity, price, executed_at FROM sandbox_trades WHERE 1=1`
	args := []interface{}{}

	if filter.UserID != "" {
		query += " AND user_id = ?"
		args = append(args, filter.UserID)
	}
	if filter.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, filter.Symbol)
	}
	if filter.OrderID != "" {
		query += " AND order_id = ?"
		args = append(args, filter.OrderID)
	}
	if !filter.StartDate.IsZero() {
		query += " AND executed_at >= ?"
		args = append(args, filter.StartDate)
	}
	if !filter.EndDate.IsZero() {
		query += " AND executed_at <= ?"
		args = append(args, filter.EndDate)
	}
	query += " ORDER BY executed_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []models.Trade
	for rows.Next() {
		var t models.Trade
		if err := rows.Scan(&t.ID, &t.OrderID, &t.UserID, &t.Symbol, &t.Exchange,
			&t.Side, &t.Product, &t.Quantity, &t.Price, &t.ExecutedAt); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trades: %w", err)
	}
	return trades, nil
}

// ============================================================================
// Position Methods
// ============================================================================

const positionColumns = `user_id, symbol, exchange, product, quantity, average_price, ltp, pnl, pnl_percent, realized_pnl, today_realized_pnl, margin_blocked, created_at, updated_at`

func scanPosition(row interface{ Scan(...interface{}) error }) (*models.Position, error) {
	var p models.Position
	err := row.Scan(&p.UserID, &p.Symbol, &p.Exchange, &p.Product, &p.Quantity,
		&p.AveragePrice, &p.LTP, &p.PnL, &p.PnLPercent, &p.RealizedPnL,
		&p.TodayRealizedPnL, &p.MarginBlocked, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPosition retrieves a position row.
func (s *SQLiteStore) GetPosition(ctx context.Context, userID, symbol string, exchange models.Exchange, product models.ProductType) (*models.Position, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+positionColumns+` FROM sandbox_positions
		WHERE user_id = ? AND symbol = ? AND exchange = ? AND product = ?
	`, userID, symbol, exchange, product)
	p, err := scanPosition(row)
	if err == sql.ErrNoRows {
		return nil, errors.ErrPositionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get position: %w", err)
	}
	return p, nil
}

// UpsertPosition inserts or replaces a position row.
func (s *SQLiteStore) UpsertPosition(ctx context.Context, p *models.Position) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO sandbox_positions (`+positionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.UserID, p.Symbol, p.Exchange, p.Product, p.Quantity, p.AveragePrice,
		p.LTP, p.PnL, p.PnLPercent, p.RealizedPnL, p.TodayRealizedPnL,
		p.MarginBlocked, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert position: %w", err)
	}
	return nil
}

// DeletePosition removes a position row.
func (s *SQLiteStore) DeletePosition(ctx context.Context, userID, symbol string, exchange models.Exchange, product models.ProductType) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM sandbox_positions WHERE user_id = ? AND symbol = ? AND exchange = ? AND product = ?
	`, userID, symbol, exchange, product)
	if err != nil {
		return fmt.Errorf("failed to delete position: %w", err)
	}
	return nil
}

// ListPositions retrieves all position rows for a user.
func (s *SQLiteStore) ListPositions(ctx context.Context, userID string) ([]models.Position, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+positionColumns+` FROM sandbox_positions WHERE user_id = ? ORDER BY symbol ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()
	return collectPositions(rows)
}

// ListAllPositions retrieves every position row.
func (s *SQLiteStore) ListAllPositions(ctx context.Context) ([]models.Position, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ` + positionColumns + ` FROM sandbox_positions ORDER BY user_id, symbol ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()
	return collectPositions(rows)
}

// ListPositionsModifiedBefore retrieves positions of a product last
// modified strictly before the cutoff.
func (s *SQLiteStore) ListPositionsModifiedBefore(ctx context.Context, product models.ProductType, before time.Time) ([]models.Position, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+positionColumns+` FROM sandbox_positions WHERE product = ? AND updated_at < ?
	`, product, before)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()
	return collectPositions(rows)
}

func collectPositions(rows *sql.Rows) ([]models.Position, error) {
	var positions []models.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		positions = append(positions, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating positions: %w", err)
	}
	return positions, nil
}

var positionFieldColumns = map[string]string{
	"quantity":           "quantity",
	"average_price":      "average_price",
	"ltp":                "ltp",
	"pnl":                "pnl",
	"pnl_percent":        "pnl_percent",
	"realized_pnl":       "realized_pnl",
	"today_realized_pnl": "today_realized_pnl",
	"margin_blocked":     "margin_blocked",
	"updated_at":         "updated_at",
}

// UpdatePositionFields applies a field-mask update. Unlike the general
// upsert path it leaves updated_at untouched unless the mask names it,
// which the session-boundary reset and expiry backdating depend on.
func (s *SQLiteStore) UpdatePositionFields(ctx context.Context, userID, symbol string, exchange models.Exchange, product models.ProductType, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}

	names := make([]string, 0, len(fields))
	for name := range fields {
		if _, ok := positionFieldColumns[name]; !ok {
			return fmt.Errorf("unknown position field: %s", name)
		}
		names = append(names, name)
	}
	sort.Strings(names)

	sets := make([]string, 0, len(names))
	args := make([]interface{}, 0, len(names)+4)
	for _, name := range names {
		sets = append(sets, positionFieldColumns[name]+" = ?")
		args = append(args, fields[name])
	}
	args = append(args, userID, symbol, exchange, product)

	query := "UPDATE sandbox_positions SET " + strings.Join(sets, ", ") +
		" WHERE user_id = ? AND symbol = ? AND exchange = ? AND product = ?"
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update position fields: %w", err)
	}
	return nil
}

// ============================================================================
// Holding Methods
// ============================================================================

const holdingColumns = `user_id, symbol, exchange, quantity, average_price, ltp, pnl, pnl_percent, invested_value, current_value, settled_at`

// GetHolding retrieves a holding row.
func (s *SQLiteStore) GetHolding(ctx context.Context, userID, symbol string, exchange models.Exchange) (*models.Holding, error) {
	var h models.Holding
	err := s.db.QueryRowContext(ctx, `
		SELECT `+holdingColumns+` FROM sandbox_holdings WHERE user_id = ? AND symbol = ? AND exchange = ?
	`, userID, symbol, exchange).Scan(&h.UserID, &h.Symbol, &h.Exchange, &h.Quantity,
		&h.AveragePrice, &h.LTP, &h.PnL, &h.PnLPercent, &h.InvestedValue,
		&h.CurrentValue, &h.SettledAt)
	if err == sql.ErrNoRows {
		return nil, errors.ErrHoldingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get holding: %w", err)
	}
	return &h, nil
}

// UpsertHolding inserts or replaces a holding row.
func (s *SQLiteStore) UpsertHolding(ctx context.Context, h *models.Holding) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO sandbox_holdings (`+holdingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, h.UserID, h.Symbol, h.Exchange, h.Quantity, h.AveragePrice, h.LTP,
		h.PnL, h.PnLPercent, h.InvestedValue, h.CurrentValue, h.SettledAt)
	if err != nil {
		return fmt.Errorf("failed to upsert holding: %w", err)
	}
	return nil
}

// DeleteHolding removes a holding row.
func (s *SQLiteStore) DeleteHolding(ctx context.Context, userID, symbol string, exchange models.Exchange) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM sandbox_holdings WHERE user_id = ? AND symbol = ? AND exchange = ?
	`, userID, symbol, exchange)
	if err != nil {
		return fmt.Errorf("failed to delete holding: %w", err)
	}
	return nil
}

// ListHoldings retrieves all holdings for a user.
func (s *SQLiteStore) ListHoldings(ctx context.Context, userID string) ([]models.Holding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+holdingColumns+` FROM sandbox_holdings WHERE user_id = ? ORDER BY symbol ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query holdings: %w", err)
	}
	defer rows.Close()

	var holdings []models.Holding
	for rows.Next() {
		var h models.Holding
		if err := rows.Scan(&h.UserID, &h.Symbol, &h.Exchange, &h.Quantity,
			&h.AveragePrice, &h.LTP, &h.PnL, &h.PnLPercent, &h.InvestedValue,
			&h.CurrentValue, &h.SettledAt); err != nil {
			return nil, fmt.Errorf("failed to scan holding: %w", err)
		}
		holdings = append(holdings, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating holdings: %w", err)
	}
	return holdings, nil
}

// DeleteUserPortfolio removes all positions and holdings for a user in one
// transaction. Invoked only by the capital reset path.
func (s *SQLiteStore) DeleteUserPortfolio(ctx context.Context, userID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM sandbox_positions WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("failed to delete positions: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sandbox_holdings WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("failed to delete holdings: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ============================================================================
// Funds Methods
// ============================================================================

const fundsColumns = `user_id, total_capital, available_cash, used_margin, realized_pnl, unrealized_pnl, total_pnl, last_reset, reset_count`

// GetFunds retrieves the fund account for a user.
func (s *SQLiteStore) GetFunds(ctx context.Context, userID string) (*models.Funds, error) {
	var f models.Funds
	err := s.db.QueryRowContext(ctx, `
		SELECT `+fundsColumns+` FROM sandbox_funds WHERE user_id = ?
	`, userID).Scan(&f.UserID, &f.TotalCapital, &f.AvailableCash, &f.UsedMargin,
		&f.RealizedPnL, &f.UnrealizedPnL, &f.TotalPnL, &f.LastReset, &f.ResetCount)
	if err == sql.ErrNoRows {
		return nil, errors.ErrFundsNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get funds: %w", err)
	}
	return &f, nil
}

// SaveFunds inserts or replaces a fund account.
func (s *SQLiteStore) SaveFunds(ctx context.Context, f *models.Funds) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO sandbox_funds (`+fundsColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, f.UserID, f.TotalCapital, f.AvailableCash, f.UsedMargin, f.RealizedPnL,
		f.UnrealizedPnL, f.TotalPnL, f.LastReset, f.ResetCount)
	if err != nil {
		return fmt.Errorf("failed to save funds: %w", err)
	}
	return nil
}

// ListFunds retrieves every fund account.
func (s *SQLiteStore) ListFunds(ctx context.Context) ([]models.Funds, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT ` + fundsColumns + ` FROM sandbox_funds`)
	if err != nil {
		return nil, fmt.Errorf("failed to query funds: %w", err)
	}
	defer rows.Close()

	var accounts []models.Funds
	for rows.Next() {
		var f models.Funds
		if err := rows.Scan(&f.UserID, &f.TotalCapital, &f.AvailableCash, &f.UsedMargin,
			&f.RealizedPnL, &f.UnrealizedPnL, &f.TotalPnL, &f.LastReset, &f.ResetCount); err != nil {
			return nil, fmt.Errorf("failed to scan funds: %w", err)
		}
		accounts = append(accounts, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating funds: %w", err)
	}
	return accounts, nil
}

// ============================================================================
// Snapshot Methods
// ============================================================================

// SaveSnapshot inserts an end-of-day snapshot. Snapshots are immutable;
// a second write for the same (user, date) is ignored.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snap *models.Snapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO sandbox_snapshots (user_id, date, realized_pnl, unrealized_pnl, total_pnl, portfolio_value)
		VALUES (?, ?, ?, ?, ?, ?)
	`, snap.UserID, snap.Date.Format("2006-01-02"), snap.RealizedPnL, snap.UnrealizedPnL, snap.TotalPnL, snap.PortfolioValue)
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// GetSnapshots retrieves snapshots for a user within a date range.
func (s *SQLiteStore) GetSnapshots(ctx context.Context, userID string, from, to time.Time) ([]models.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, date, realized_pnl, unrealized_pnl, total_pnl, portfolio_value, created_at
		FROM sandbox_snapshots
		WHERE user_id = ? AND date >= ? AND date <= ?
		ORDER BY date ASC
	`, userID, from.Format("2006-01-02"), to.Format("2006-01-02"))
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []models.Snapshot
	for rows.Next() {
		var snap models.Snapshot
		var date string
		if err := rows.Scan(&snap.UserID, &date, &snap.RealizedPnL, &snap.UnrealizedPnL,
			&snap.TotalPnL, &snap.PortfolioValue, &snap.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snap.Date, _ = time.Parse("2006-01-02", date)
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshots: %w", err)
	}
	return snaps, nil
}

// Ensure SQLiteStore implements DataStore.
var _ DataStore = (*SQLiteStore)(nil)
