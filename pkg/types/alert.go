package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// AlertOperator is the comparison applied between a metric value and an
// alert rule's threshold.
type AlertOperator string

const (
	AlertGT  AlertOperator = ">"
	AlertGTE AlertOperator = ">="
	AlertLT  AlertOperator = "<"
	AlertLTE AlertOperator = "<="
)

// Valid reports whether op is a known comparison operator.
func (op AlertOperator) Valid() bool {
	switch op {
	case AlertGT, AlertGTE, AlertLT, AlertLTE:
		return true
	}
	return false
}

// AlertRule is a user-defined predicate over a named metric. After firing,
// the rule enters a cooldown during which it cannot re-fire; cooldown
// expiry re-arms it.
type AlertRule struct {
	ID        string
	Metric    string // ticker symbol or named metric like "USD/SGD"
	Operator  AlertOperator
	Threshold decimal.Decimal
	Message   string
	Cooldown  time.Duration

	LastFiredAt time.Time // zero until first fire
	CreatedAt   time.Time
}

// Satisfied reports whether value trips the rule's predicate.
func (r *AlertRule) Satisfied(value decimal.Decimal) bool {
	switch r.Operator {
	case AlertGT:
		return value.GreaterThan(r.Threshold)
	case AlertGTE:
		return value.GreaterThanOrEqual(r.Threshold)
	case AlertLT:
		return value.LessThan(r.Threshold)
	case AlertLTE:
		return value.LessThanOrEqual(r.Threshold)
	}
	return false
}

// InCooldown reports whether the rule fired within its cooldown window
// ending at now.
func (r *AlertRule) InCooldown(now time.Time) bool {
	if r.LastFiredAt.IsZero() {
		return false
	}
	return now.Sub(r.LastFiredAt) < r.Cooldown
}
