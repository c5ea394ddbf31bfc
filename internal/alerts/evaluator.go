package alerts

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kevinzhu/tradekeeper/internal/pricefeed"
	"github.com/kevinzhu/tradekeeper/internal/storage"
	"github.com/kevinzhu/tradekeeper/pkg/types"
	"go.uber.org/zap"
)

// Notifier pushes fired alerts to the user.
type Notifier interface {
	Notify(ctx context.Context, title, message string) error
}

// Config holds alert evaluator configuration.
type Config struct {
	Feed            *pricefeed.Subscriber
	Store           storage.Store
	Notifier        Notifier
	Logger          *zap.Logger
	DefaultCooldown time.Duration
}

// Evaluator watches metric streams and fires alert rules against them.
// Rules sharing a metric share one feed subscription; each rule fires at
// most once per cooldown window.
type Evaluator struct {
	mu       sync.Mutex
	rules    map[string]*types.AlertRule // by rule ID
	byMetric map[string][]string         // metric -> rule IDs
	watchers map[string]*pricefeed.Subscription

	feed     *pricefeed.Subscriber
	store    storage.Store
	notifier Notifier
	logger   *zap.Logger
	cooldown time.Duration

	ctx context.Context
	wg  sync.WaitGroup
}

// New creates a new alert evaluator.
func New(cfg *Config) *Evaluator {
	cooldown := cfg.DefaultCooldown
	if cooldown <= 0 {
		cooldown = 5 * time.Minute
	}

	return &Evaluator{
		rules:    make(map[string]*types.AlertRule),
		byMetric: make(map[string][]string),
		watchers: make(map[string]*pricefeed.Subscription),
		feed:     cfg.Feed,
		store:    cfg.Store,
		notifier: cfg.Notifier,
		logger:   cfg.Logger,
		cooldown: cooldown,
	}
}

// Start loads persisted rules and begins watching their metrics.
func (e *Evaluator) Start(ctx context.Context) error {
	e.ctx = ctx

	rules, err := e.store.ListAlertRules(ctx)
	if err != nil {
		return fmt.Errorf("load alert rules: %w", err)
	}

	for _, rule := range rules {
		if err := e.attach(rule); err != nil {
			return err
		}
	}

	e.logger.Info("alert-evaluator-started", zap.Int("rule-count", len(rules)))
	return nil
}

// AddRule validates, persists and activates a new alert rule. A zero
// cooldown takes the evaluator's default.
func (e *Evaluator) AddRule(ctx context.Context, rule *types.AlertRule) (*types.AlertRule, error) {
	if rule.Metric == "" {
		return nil, &types.ValidationError{Field: "metric", Message: "metric is required"}
	}
	if !rule.Operator.Valid() {
		return nil, &types.ValidationError{Field: "operator", Message: "operator must be one of > >= < <="}
	}
	if rule.Cooldown < 0 {
		return nil, &types.ValidationError{Field: "cooldown", Message: "cooldown cannot be negative"}
	}

	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	if rule.Cooldown == 0 {
		rule.Cooldown = e.cooldown
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now().UTC()
	}

	if err := e.store.SaveAlertRule(ctx, rule); err != nil {
		return nil, fmt.Errorf("persist alert rule: %w", err)
	}
	if err := e.attach(rule); err != nil {
		return nil, err
	}

	e.logger.Info("alert-rule-added",
		zap.String("rule-id", rule.ID),
		zap.String("metric", rule.Metric),
		zap.String("operator", string(rule.Operator)),
		zap.String("threshold", rule.Threshold.String()))

	snapshot := *rule
	return &snapshot, nil
}

// DeleteRule removes a rule; the metric watcher is released when it served
// no other rules.
func (e *Evaluator) DeleteRule(ctx context.Context, ruleID string) error {
	e.mu.Lock()
	rule, ok := e.rules[ruleID]
	if !ok {
		e.mu.Unlock()
		return &types.ValidationError{Field: "rule_id", Message: "unknown alert rule"}
	}
	delete(e.rules, ruleID)

	ids := e.byMetric[rule.Metric]
	for i, id := range ids {
		if id == ruleID {
			e.byMetric[rule.Metric] = append(ids[:i], ids[i+1:]...)
			break
		}
	}

	var release *pricefeed.Subscription
	if len(e.byMetric[rule.Metric]) == 0 {
		delete(e.byMetric, rule.Metric)
		release = e.watchers[rule.Metric]
		delete(e.watchers, rule.Metric)
	}
	e.mu.Unlock()

	if release != nil {
		release.Close()
	}

	if err := e.store.DeleteAlertRule(ctx, ruleID); err != nil {
		return fmt.Errorf("delete alert rule: %w", err)
	}

	e.logger.Info("alert-rule-deleted", zap.String("rule-id", ruleID))
	return nil
}

// List returns snapshots of all active rules, oldest first.
func (e *Evaluator) List() []*types.AlertRule {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]*types.AlertRule, 0, len(e.rules))
	for _, rule := range e.rules {
		snapshot := *rule
		out = append(out, &snapshot)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// attach indexes a rule and ensures its metric has a watcher.
func (e *Evaluator) attach(rule *types.AlertRule) error {
	e.mu.Lock()
	e.rules[rule.ID] = rule
	e.byMetric[rule.Metric] = append(e.byMetric[rule.Metric], rule.ID)
	_, watching := e.watchers[rule.Metric]
	e.mu.Unlock()

	if watching {
		return nil
	}

	sub, err := e.feed.Subscribe(e.ctx, rule.Metric, 64)
	if err != nil {
		return fmt.Errorf("subscribe metric %s: %w", rule.Metric, err)
	}

	e.mu.Lock()
	e.watchers[rule.Metric] = sub
	e.mu.Unlock()

	e.wg.Add(1)
	go e.watchMetric(rule.Metric, sub)
	return nil
}

func (e *Evaluator) watchMetric(metric string, sub *pricefeed.Subscription) {
	defer e.wg.Done()

	for {
		select {
		case <-e.ctx.Done():
			return
		case tick, ok := <-sub.Ticks():
			if !ok {
				return
			}
			e.evaluateTick(tick)
		}
	}
}

// evaluateTick checks every rule on the tick's metric and fires those whose
// predicate holds and whose cooldown has lapsed.
func (e *Evaluator) evaluateTick(tick types.PriceTick) {
	now := time.Now().UTC()

	e.mu.Lock()
	var fired []*types.AlertRule
	for _, id := range e.byMetric[tick.Metric] {
		rule := e.rules[id]
		if !rule.Satisfied(tick.Value) {
			EvaluationsTotal.WithLabelValues("miss").Inc()
			continue
		}
		if rule.InCooldown(now) {
			EvaluationsTotal.WithLabelValues("cooldown").Inc()
			continue
		}
		rule.LastFiredAt = now
		snapshot := *rule
		fired = append(fired, &snapshot)
	}
	e.mu.Unlock()

	for _, rule := range fired {
		e.fire(rule, tick)
	}
}

func (e *Evaluator) fire(rule *types.AlertRule, tick types.PriceTick) {
	EvaluationsTotal.WithLabelValues("fired").Inc()
	FiredTotal.WithLabelValues(rule.Metric).Inc()

	e.logger.Info("alert-fired",
		zap.String("rule-id", rule.ID),
		zap.String("metric", rule.Metric),
		zap.String("operator", string(rule.Operator)),
		zap.String("threshold", rule.Threshold.String()),
		zap.String("value", tick.Value.String()))

	message := rule.Message
	if message == "" {
		message = fmt.Sprintf("%s is %s (rule: %s %s)",
			rule.Metric, tick.Value, rule.Operator, rule.Threshold)
	}

	if e.notifier != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := e.notifier.Notify(ctx, "Alert: "+rule.Metric, message); err != nil {
			e.logger.Warn("alert-notify-error", zap.Error(err), zap.String("rule-id", rule.ID))
		}
		cancel()
	}

	// Persist the fire time so cooldowns survive restart.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.store.SaveAlertRule(ctx, rule); err != nil {
		e.logger.Warn("alert-rule-persist-error", zap.Error(err), zap.String("rule-id", rule.ID))
	}
}

// Close waits for all metric watchers to stop.
func (e *Evaluator) Close() error {
	e.logger.Info("closing-alert-evaluator")

	e.mu.Lock()
	subs := make([]*pricefeed.Subscription, 0, len(e.watchers))
	for _, sub := range e.watchers {
		subs = append(subs, sub)
	}
	e.watchers = make(map[string]*pricefeed.Subscription)
	e.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}

	e.wg.Wait()
	return nil
}
