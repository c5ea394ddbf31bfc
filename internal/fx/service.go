package fx

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/kevinzhu/tradekeeper/internal/pricefeed"
	"github.com/kevinzhu/tradekeeper/pkg/cache"
	"github.com/kevinzhu/tradekeeper/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Config holds FX rate service configuration.
type Config struct {
	BaseURL      string
	Pairs        []string // currency pairs like "USD/SGD"
	PollInterval time.Duration
	Feed         *pricefeed.Subscriber
	Cache        cache.Cache
	Logger       *zap.Logger
}

// Service polls a public exchange rate API and publishes each configured
// pair into the price feed as a named metric, letting alert rules watch
// currency rates the same way they watch tickers. Rates are cached so
// lookup queries between polls stay local.
type Service struct {
	baseURL  string
	pairs    []pair
	interval time.Duration
	feed     *pricefeed.Subscriber
	cache    cache.Cache
	client   *http.Client
	logger   *zap.Logger

	ctx context.Context
	wg  sync.WaitGroup
}

type pair struct {
	base  string
	quote string
}

func (p pair) metric() string {
	return p.base + "/" + p.quote
}

// New creates a new FX rate service. Malformed pairs are rejected up front.
func New(cfg *Config) (*Service, error) {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = time.Hour
	}

	pairs := make([]pair, 0, len(cfg.Pairs))
	for _, raw := range cfg.Pairs {
		parts := strings.Split(raw, "/")
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, &types.ValidationError{
				Field:   "fx_pairs",
				Message: fmt.Sprintf("malformed currency pair %q, want BASE/QUOTE", raw),
			}
		}
		pairs = append(pairs, pair{
			base:  strings.ToUpper(parts[0]),
			quote: strings.ToUpper(parts[1]),
		})
	}

	return &Service{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		pairs:    pairs,
		interval: interval,
		feed:     cfg.Feed,
		cache:    cfg.Cache,
		client:   &http.Client{Timeout: 15 * time.Second},
		logger:   cfg.Logger,
	}, nil
}

// Start polls once immediately, then on the configured interval.
func (s *Service) Start(ctx context.Context) error {
	s.ctx = ctx

	if len(s.pairs) == 0 {
		s.logger.Info("fx-service-disabled")
		return nil
	}

	s.logger.Info("fx-service-starting",
		zap.Int("pair-count", len(s.pairs)),
		zap.Duration("poll-interval", s.interval))

	s.wg.Add(1)
	go s.pollLoop()
	return nil
}

func (s *Service) pollLoop() {
	defer s.wg.Done()

	s.pollAll()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			s.logger.Info("fx-service-stopping")
			return
		case <-ticker.C:
			s.pollAll()
		}
	}
}

func (s *Service) pollAll() {
	for _, p := range s.pairs {
		rate, err := s.fetchRate(s.ctx, p)
		if err != nil {
			PollsTotal.WithLabelValues("error").Inc()
			s.logger.Warn("fx-rate-fetch-error",
				zap.Error(err),
				zap.String("pair", p.metric()))
			continue
		}

		PollsTotal.WithLabelValues("success").Inc()

		if s.cache != nil {
			s.cache.Set("fx:"+p.metric(), rate, 2*s.interval)
		}

		s.feed.Publish(types.PriceTick{
			Metric: p.metric(),
			Value:  rate,
			At:     time.Now().UTC(),
		})
	}
}

// Rate returns the most recently fetched rate for a pair, if cached.
func (s *Service) Rate(metric string) (decimal.Decimal, bool) {
	if s.cache == nil {
		return decimal.Zero, false
	}

	value, ok := s.cache.Get("fx:" + metric)
	if !ok {
		return decimal.Zero, false
	}

	rate, ok := value.(decimal.Decimal)
	return rate, ok
}

type latestResponse struct {
	Base  string             `json:"base"`
	Date  string             `json:"date"`
	Rates map[string]float64 `json:"rates"`
}

func (s *Service) fetchRate(ctx context.Context, p pair) (decimal.Decimal, error) {
	url := fmt.Sprintf("%s/latest?from=%s&to=%s", s.baseURL, p.base, p.quote)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("build request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("fetch rate: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return decimal.Zero, fmt.Errorf("rate API returned status %d: %s", resp.StatusCode, string(body))
	}

	var parsed latestResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return decimal.Zero, fmt.Errorf("decode rate response: %w", err)
	}

	raw, ok := parsed.Rates[p.quote]
	if !ok {
		return decimal.Zero, fmt.Errorf("rate for %s missing from response", p.quote)
	}

	rate := decimal.NewFromFloat(raw)
	if !rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("non-positive rate %s for %s", rate, p.metric())
	}

	return rate, nil
}

// Close waits for the poll loop to stop.
func (s *Service) Close() error {
	s.wg.Wait()
	return nil
}
