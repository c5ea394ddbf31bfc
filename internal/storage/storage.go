package storage

import (
	"context"

	"github.com/kevinzhu/tradekeeper/pkg/types"
)

// Store is the durable home of the trade ledger, the synthetic order table
// and the alert rule table. Implementations must survive restart: the order
// engine's recovery path reloads non-terminal orders from here.
type Store interface {
	// SaveTrade appends a trade to the ledger. Saving an already-stored
	// trade ID is a no-op.
	SaveTrade(ctx context.Context, trade *types.Trade) error

	// ListTrades returns all stored trades in ledger order.
	ListTrades(ctx context.Context) ([]*types.Trade, error)

	// SaveOrder inserts or updates a synthetic order.
	SaveOrder(ctx context.Context, order *types.SyntheticOrder) error

	// ListOpenOrders returns orders in non-terminal states.
	ListOpenOrders(ctx context.Context) ([]*types.SyntheticOrder, error)

	// ListOrders returns all orders, newest first.
	ListOrders(ctx context.Context) ([]*types.SyntheticOrder, error)

	// SaveAlertRule inserts or updates an alert rule.
	SaveAlertRule(ctx context.Context, rule *types.AlertRule) error

	// DeleteAlertRule removes an alert rule.
	DeleteAlertRule(ctx context.Context, ruleID string) error

	// ListAlertRules returns all alert rules.
	ListAlertRules(ctx context.Context) ([]*types.AlertRule, error)

	// Close closes the store.
	Close() error
}
