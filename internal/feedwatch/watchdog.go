package feedwatch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Notifier receives staleness and recovery notifications.
type Notifier interface {
	NotifyUrgent(ctx context.Context, title, message string) error
	Notify(ctx context.Context, title, message string) error
}

// Watchdog monitors price feed liveness. It marks the feed stale when no
// tick arrives within StaleAfter, and uses hysteresis on recovery: ticks
// must flow gap-free for ResumeWithin before the feed is healthy again, so
// a flapping connection does not flap the health state with it.
type Watchdog struct {
	healthy atomic.Bool // lock-free reads from hot paths

	checkInterval time.Duration
	staleAfter    time.Duration
	resumeWithin  time.Duration
	notifier      Notifier
	logger        *zap.Logger

	mu             sync.RWMutex
	lastTick       time.Time
	staleSince     time.Time
	probationStart time.Time

	ctx context.Context
	wg  sync.WaitGroup
}

// Config holds feed watchdog configuration.
type Config struct {
	CheckInterval time.Duration
	StaleAfter    time.Duration
	ResumeWithin  time.Duration
	Notifier      Notifier
	Logger        *zap.Logger
}

// Status holds current watchdog state for debugging.
type Status struct {
	Healthy    bool
	LastTick   time.Time
	StaleSince time.Time
}

// New creates a new feed watchdog.
func New(cfg *Config) (*Watchdog, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if cfg.StaleAfter <= 0 {
		return nil, fmt.Errorf("stale-after must be positive")
	}
	if cfg.ResumeWithin <= 0 {
		return nil, fmt.Errorf("resume-within must be positive")
	}

	checkInterval := cfg.CheckInterval
	if checkInterval <= 0 {
		checkInterval = cfg.StaleAfter / 4
		if checkInterval < time.Second {
			checkInterval = time.Second
		}
	}

	w := &Watchdog{
		checkInterval: checkInterval,
		staleAfter:    cfg.StaleAfter,
		resumeWithin:  cfg.ResumeWithin,
		notifier:      cfg.Notifier,
		logger:        cfg.Logger,
		lastTick:      time.Now(),
	}
	w.healthy.Store(true)
	FeedHealthy.Set(1)

	return w, nil
}

// Start begins the liveness check loop.
func (w *Watchdog) Start(ctx context.Context) error {
	w.ctx = ctx
	w.mu.Lock()
	w.lastTick = time.Now()
	w.mu.Unlock()

	w.wg.Add(1)
	go w.checkLoop()
	return nil
}

// Observe records a tick arrival. Safe to call from the feed hot path.
func (w *Watchdog) Observe(at time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.lastTick = at
	if !w.healthy.Load() && w.probationStart.IsZero() {
		w.probationStart = at
		w.logger.Info("feed-recovery-probation-started")
	}
}

// IsHealthy reports the current feed health. Lock-free.
func (w *Watchdog) IsHealthy() bool {
	return w.healthy.Load()
}

// Status returns a snapshot of the watchdog state.
func (w *Watchdog) Status() Status {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return Status{
		Healthy:    w.healthy.Load(),
		LastTick:   w.lastTick,
		StaleSince: w.staleSince,
	}
}

func (w *Watchdog) checkLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.check(time.Now())
		}
	}
}

// check evaluates the staleness state machine at one point in time. Split
// out from the loop so tests can drive it with synthetic clocks.
func (w *Watchdog) check(now time.Time) {
	w.mu.Lock()
	gap := now.Sub(w.lastTick)

	if w.healthy.Load() {
		if gap <= w.staleAfter {
			w.mu.Unlock()
			return
		}

		w.healthy.Store(false)
		w.staleSince = w.lastTick
		w.probationStart = time.Time{}
		w.mu.Unlock()

		FeedHealthy.Set(0)
		StaleTransitionsTotal.Inc()
		w.logger.Warn("price-feed-stale", zap.Duration("gap", gap))
		w.notifyUrgent("Price feed stale",
			fmt.Sprintf("no ticks for %s", gap.Round(time.Second)))
		return
	}

	// Stale: a fresh gap resets any recovery probation. Otherwise a full
	// gap-free probation window restores health.
	if gap > w.staleAfter {
		if !w.probationStart.IsZero() {
			w.probationStart = time.Time{}
			w.logger.Info("feed-recovery-probation-reset", zap.Duration("gap", gap))
		}
		w.mu.Unlock()
		return
	}

	if w.probationStart.IsZero() || now.Sub(w.probationStart) < w.resumeWithin {
		w.mu.Unlock()
		return
	}

	downFor := now.Sub(w.staleSince)
	w.healthy.Store(true)
	w.staleSince = time.Time{}
	w.probationStart = time.Time{}
	w.mu.Unlock()

	FeedHealthy.Set(1)
	w.logger.Info("price-feed-recovered", zap.Duration("down-for", downFor))
	w.notify("Price feed recovered",
		fmt.Sprintf("ticks flowing again after %s", downFor.Round(time.Second)))
}

func (w *Watchdog) notify(title, message string) {
	if w.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := w.notifier.Notify(ctx, title, message); err != nil {
		w.logger.Warn("feed-watchdog-notify-error", zap.Error(err))
	}
}

func (w *Watchdog) notifyUrgent(title, message string) {
	if w.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := w.notifier.NotifyUrgent(ctx, title, message); err != nil {
		w.logger.Warn("feed-watchdog-notify-error", zap.Error(err))
	}
}

// Close waits for the check loop to stop.
func (w *Watchdog) Close() error {
	w.wg.Wait()
	return nil
}
