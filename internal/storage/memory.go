package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/kevinzhu/tradekeeper/pkg/types"
	"go.uber.org/zap"
)

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-memory Store for local runs and tests. It honors
// the same contracts as the Postgres implementation but provides no
// durability across restarts.
type MemoryStore struct {
	mu     sync.RWMutex
	trades map[string]*types.Trade
	orders map[string]*types.SyntheticOrder
	rules  map[string]*types.AlertRule
	logger *zap.Logger
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	return &MemoryStore{
		trades: make(map[string]*types.Trade),
		orders: make(map[string]*types.SyntheticOrder),
		rules:  make(map[string]*types.AlertRule),
		logger: logger,
	}
}

// SaveTrade appends a trade; already-stored trade IDs are ignored.
func (m *MemoryStore) SaveTrade(_ context.Context, trade *types.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.trades[trade.ID]; ok {
		return nil
	}
	cp := *trade
	m.trades[trade.ID] = &cp
	return nil
}

// ListTrades returns all stored trades in ledger order.
func (m *MemoryStore) ListTrades(_ context.Context) ([]*types.Trade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*types.Trade, 0, len(m.trades))
	for _, t := range m.trades {
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

// SaveOrder inserts or updates a synthetic order.
func (m *MemoryStore) SaveOrder(_ context.Context, order *types.SyntheticOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *order
	m.orders[order.ID] = &cp
	return nil
}

// ListOpenOrders returns orders in non-terminal states.
func (m *MemoryStore) ListOpenOrders(_ context.Context) ([]*types.SyntheticOrder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*types.SyntheticOrder
	for _, o := range m.orders {
		if !o.State.Terminal() {
			cp := *o
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ListOrders returns all orders, newest first.
func (m *MemoryStore) ListOrders(_ context.Context) ([]*types.SyntheticOrder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*types.SyntheticOrder, 0, len(m.orders))
	for _, o := range m.orders {
		cp := *o
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// SaveAlertRule inserts or updates an alert rule.
func (m *MemoryStore) SaveAlertRule(_ context.Context, rule *types.AlertRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *rule
	m.rules[rule.ID] = &cp
	return nil
}

// DeleteAlertRule removes an alert rule.
func (m *MemoryStore) DeleteAlertRule(_ context.Context, ruleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.rules, ruleID)
	return nil
}

// ListAlertRules returns all alert rules.
func (m *MemoryStore) ListAlertRules(_ context.Context) ([]*types.AlertRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*types.AlertRule, 0, len(m.rules))
	for _, r := range m.rules {
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error {
	m.logger.Info("closing-memory-store")
	return nil
}
