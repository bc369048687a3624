// Package oracle resolves asset prices in the lending base currency (8
// decimals). Prices come from registered sources consulted in priority order;
// quotes older than the freshness window are skipped.
package oracle

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// BaseCurrencyDecimals is the precision of every price returned.
const BaseCurrencyDecimals = 8

var (
	// ErrNoFreshQuote indicates no source produced a usable price.
	ErrNoFreshQuote = errors.New("oracle: no fresh price available")
	// ErrPriceNotSet is returned by a source without a quote for the asset.
	ErrPriceNotSet = errors.New("oracle: price not set")
	// ErrInvalidPrice rejects zero or negative prices.
	ErrInvalidPrice = errors.New("oracle: price must be positive")
)

// Quote is a price observation for one asset.
type Quote struct {
	Price     *big.Int
	Timestamp time.Time
	Source    string
}

// Source produces quotes for assets.
type Source interface {
	Quote(asset common.Address) (Quote, error)
}

// StaticSource holds prices pushed by an operator or feeder.
type StaticSource struct {
	mu     sync.RWMutex
	name   string
	prices map[common.Address]Quote
	now    func() time.Time
}

// NewStaticSource returns an empty source.
func NewStaticSource(name string) *StaticSource {
	return &StaticSource{name: name, prices: make(map[common.Address]Quote), now: time.Now}
}

// SetClock overrides the timestamp source used for new quotes.
func (s *StaticSource) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// SetPrice records the price of asset.
func (s *StaticSource) SetPrice(asset common.Address, price *big.Int) error {
	if price == nil || price.Sign() <= 0 {
		return ErrInvalidPrice
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[asset] = Quote{Price: new(big.Int).Set(price), Timestamp: s.now(), Source: s.name}
	return nil
}

// Quote returns the last recorded price of asset.
func (s *StaticSource) Quote(asset common.Address) (Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.prices[asset]
	if !ok {
		return Quote{}, fmt.Errorf("%w: %s", ErrPriceNotSet, asset.Hex())
	}
	q.Price = new(big.Int).Set(q.Price)
	return q, nil
}

// Aggregator consults registered sources in priority order until a fresh
// quote is obtained.
type Aggregator struct {
	mu       sync.RWMutex
	priority []string
	sources  map[string]Source
	maxAge   time.Duration
	now      func() time.Time
}

// NewAggregator constructs an aggregator. A zero maxAge accepts quotes of any age.
func NewAggregator(maxAge time.Duration) *Aggregator {
	return &Aggregator{sources: make(map[string]Source), maxAge: maxAge, now: time.Now}
}

// SetClock overrides the freshness reference clock.
func (a *Aggregator) SetClock(now func() time.Time) {
	a.mu.Lock()
	a.now = now
	a.mu.Unlock()
}

// Register adds or replaces a source. New names are appended to the priority list.
func (a *Aggregator) Register(name string, source Source) {
	trimmed := strings.ToLower(strings.TrimSpace(name))
	if trimmed == "" || source == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.sources[trimmed]; !exists {
		a.priority = append(a.priority, trimmed)
	}
	a.sources[trimmed] = source
}

// GetAssetPrice returns the first fresh positive price among the sources.
func (a *Aggregator) GetAssetPrice(asset common.Address) (*big.Int, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var lastErr error
	for _, name := range a.priority {
		q, err := a.sources[name].Quote(asset)
		if err != nil {
			lastErr = err
			continue
		}
		if q.Price == nil || q.Price.Sign() <= 0 {
			lastErr = ErrInvalidPrice
			continue
		}
		if a.maxAge > 0 && a.now().Sub(q.Timestamp) > a.maxAge {
			lastErr = fmt.Errorf("%w: %s quote from %s is stale", ErrNoFreshQuote, name, q.Timestamp.UTC().Format(time.RFC3339))
			continue
		}
		return q.Price, nil
	}
	if lastErr == nil {
		lastErr = ErrNoFreshQuote
	}
	return nil, fmt.Errorf("oracle: %s: %w", asset.Hex(), lastErr)
}
