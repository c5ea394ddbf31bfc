package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kevinzhu/tradekeeper/pkg/types"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// PostgresConfig holds PostgreSQL configuration.
type PostgresConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Database string
	SSLMode  string
	Logger   *zap.Logger
}

// NewPostgresStore creates a new PostgreSQL store.
func NewPostgresStore(cfg *PostgresConfig) (*PostgresStore, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	err = db.Ping()
	if err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	cfg.Logger.Info("postgres-store-connected",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Database))

	return &PostgresStore{
		db:     db,
		logger: cfg.Logger,
	}, nil
}

// SaveTrade appends a trade to the ledger table. Already-stored trade IDs
// are left untouched, matching the ledger engine's idempotence contract.
func (p *PostgresStore) SaveTrade(ctx context.Context, trade *types.Trade) error {
	query := `
		INSERT INTO trades (trade_id, ticker, side, quantity, price, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (trade_id) DO NOTHING
	`

	_, err := p.db.ExecContext(ctx, query,
		trade.ID,
		trade.Ticker,
		string(trade.Side),
		trade.Quantity.String(),
		trade.Price.String(),
		trade.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}

	return nil
}

// ListTrades returns all stored trades in ledger order.
func (p *PostgresStore) ListTrades(ctx context.Context) ([]*types.Trade, error) {
	query := `
		SELECT trade_id, ticker, side, quantity, price, executed_at
		FROM trades
		ORDER BY executed_at, trade_id
	`

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var trades []*types.Trade
	for rows.Next() {
		var (
			t        types.Trade
			side     string
			quantity string
			price    string
		)
		err = rows.Scan(&t.ID, &t.Ticker, &side, &quantity, &price, &t.ExecutedAt)
		if err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}

		t.Side = types.Side(side)
		t.Quantity, err = decimal.NewFromString(quantity)
		if err != nil {
			return nil, fmt.Errorf("parse trade %s quantity: %w", t.ID, err)
		}
		t.Price, err = decimal.NewFromString(price)
		if err != nil {
			return nil, fmt.Errorf("parse trade %s price: %w", t.ID, err)
		}

		trades = append(trades, &t)
	}

	return trades, rows.Err()
}

// SaveOrder inserts or updates a synthetic order.
func (p *PostgresStore) SaveOrder(ctx context.Context, order *types.SyntheticOrder) error {
	query := `
		INSERT INTO synthetic_orders (
			order_id, ticker, side, quantity, trail_amount, trail_percent,
			limit_price, state, native_order_id, best_seen, last_price,
			fill_price, submit_attempts, error_message, created_at,
			updated_at, expires_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17
		)
		ON CONFLICT (order_id) DO UPDATE SET
			state = EXCLUDED.state,
			native_order_id = EXCLUDED.native_order_id,
			best_seen = EXCLUDED.best_seen,
			last_price = EXCLUDED.last_price,
			fill_price = EXCLUDED.fill_price,
			submit_attempts = EXCLUDED.submit_attempts,
			error_message = EXCLUDED.error_message,
			updated_at = EXCLUDED.updated_at
	`

	var expiresAt *time.Time
	if !order.ExpiresAt.IsZero() {
		expiresAt = &order.ExpiresAt
	}

	_, err := p.db.ExecContext(ctx, query,
		order.ID,
		order.Ticker,
		string(order.Side),
		order.Quantity.String(),
		order.TrailAmount.String(),
		order.TrailPercent.String(),
		order.LimitPrice.String(),
		string(order.State),
		order.NativeOrderID,
		order.BestSeen.String(),
		order.LastPrice.String(),
		order.FillPrice.String(),
		order.SubmitAttempts,
		order.ErrorMessage,
		order.CreatedAt,
		order.UpdatedAt,
		expiresAt,
	)
	if err != nil {
		return fmt.Errorf("upsert order: %w", err)
	}

	p.logger.Debug("order-persisted",
		zap.String("order-id", order.ID),
		zap.String("state", string(order.State)))

	return nil
}

const orderColumns = `
	order_id, ticker, side, quantity, trail_amount, trail_percent,
	limit_price, state, native_order_id, best_seen, last_price,
	fill_price, submit_attempts, error_message, created_at,
	updated_at, expires_at
`

// ListOpenOrders returns orders in non-terminal states.
func (p *PostgresStore) ListOpenOrders(ctx context.Context) ([]*types.SyntheticOrder, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM synthetic_orders
		WHERE state IN ('pending', 'active', 'triggered')
		ORDER BY created_at
	`
	return p.queryOrders(ctx, query)
}

// ListOrders returns all orders, newest first.
func (p *PostgresStore) ListOrders(ctx context.Context) ([]*types.SyntheticOrder, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM synthetic_orders
		ORDER BY created_at DESC
	`
	return p.queryOrders(ctx, query)
}

func (p *PostgresStore) queryOrders(ctx context.Context, query string) ([]*types.SyntheticOrder, error) {
	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var orders []*types.SyntheticOrder
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}

	return orders, rows.Err()
}

func scanOrder(rows *sql.Rows) (*types.SyntheticOrder, error) {
	var (
		o            types.SyntheticOrder
		side         string
		state        string
		quantity     string
		trailAmount  string
		trailPercent string
		limitPrice   string
		bestSeen     string
		lastPrice    string
		fillPrice    string
		expiresAt    sql.NullTime
	)

	err := rows.Scan(
		&o.ID, &o.Ticker, &side, &quantity, &trailAmount, &trailPercent,
		&limitPrice, &state, &o.NativeOrderID, &bestSeen, &lastPrice,
		&fillPrice, &o.SubmitAttempts, &o.ErrorMessage, &o.CreatedAt,
		&o.UpdatedAt, &expiresAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan order: %w", err)
	}

	o.Side = types.Side(side)
	o.State = types.OrderState(state)
	if expiresAt.Valid {
		o.ExpiresAt = expiresAt.Time
	}

	for _, field := range []struct {
		dst *decimal.Decimal
		src string
	}{
		{&o.Quantity, quantity},
		{&o.TrailAmount, trailAmount},
		{&o.TrailPercent, trailPercent},
		{&o.LimitPrice, limitPrice},
		{&o.BestSeen, bestSeen},
		{&o.LastPrice, lastPrice},
		{&o.FillPrice, fillPrice},
	} {
		*field.dst, err = decimal.NewFromString(field.src)
		if err != nil {
			return nil, fmt.Errorf("parse order %s decimal: %w", o.ID, err)
		}
	}

	return &o, nil
}

// SaveAlertRule inserts or updates an alert rule.
func (p *PostgresStore) SaveAlertRule(ctx context.Context, rule *types.AlertRule) error {
	query := `
		INSERT INTO alert_rules (
			rule_id, metric, operator, threshold, message,
			cooldown_seconds, last_fired_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (rule_id) DO UPDATE SET
			last_fired_at = EXCLUDED.last_fired_at
	`

	var lastFired *time.Time
	if !rule.LastFiredAt.IsZero() {
		lastFired = &rule.LastFiredAt
	}

	_, err := p.db.ExecContext(ctx, query,
		rule.ID,
		rule.Metric,
		string(rule.Operator),
		rule.Threshold.String(),
		rule.Message,
		int64(rule.Cooldown.Seconds()),
		lastFired,
		rule.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert alert rule: %w", err)
	}

	return nil
}

// DeleteAlertRule removes an alert rule.
func (p *PostgresStore) DeleteAlertRule(ctx context.Context, ruleID string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM alert_rules WHERE rule_id = $1`, ruleID)
	if err != nil {
		return fmt.Errorf("delete alert rule: %w", err)
	}
	return nil
}

// ListAlertRules returns all alert rules.
func (p *PostgresStore) ListAlertRules(ctx context.Context) ([]*types.AlertRule, error) {
	query := `
		SELECT rule_id, metric, operator, threshold, message,
			cooldown_seconds, last_fired_at, created_at
		FROM alert_rules
		ORDER BY created_at
	`

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query alert rules: %w", err)
	}
	defer rows.Close()

	var rules []*types.AlertRule
	for rows.Next() {
		var (
			r         types.AlertRule
			operator  string
			threshold string
			cooldown  int64
			lastFired sql.NullTime
		)
		err = rows.Scan(&r.ID, &r.Metric, &operator, &threshold, &r.Message, &cooldown, &lastFired, &r.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan alert rule: %w", err)
		}

		r.Operator = types.AlertOperator(operator)
		r.Threshold, err = decimal.NewFromString(threshold)
		if err != nil {
			return nil, fmt.Errorf("parse rule %s threshold: %w", r.ID, err)
		}
		r.Cooldown = time.Duration(cooldown) * time.Second
		if lastFired.Valid {
			r.LastFiredAt = lastFired.Time
		}

		rules = append(rules, &r)
	}

	return rules, rows.Err()
}

// Close closes the database connection.
func (p *PostgresStore) Close() error {
	p.logger.Info("closing-postgres-store")
	return p.db.Close()
}
