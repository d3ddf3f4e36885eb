// Package currency resolves exchange rates and converts monetary amounts
// into a caller's base currency.
//
// Rate sets are cached in two tiers behind one lookup path: a near tier
// (in-process map) and a far tier (durable store), both with the same TTL.
// When the external source fails, a bundled static table takes over and is
// written into both tiers with the current timestamp, so a prolonged outage
// is absorbed after the first failed call instead of being retried on every
// request. External unavailability never escapes this package.
package currency

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/fieldline/be-sales-conversions/internal/errors"
	"github.com/fieldline/be-sales-conversions/internal/metrics"
)

// RateSet is the rate table for one base currency. Fallback is true when the
// table came from the bundled static snapshot rather than the live source.
type RateSet struct {
	Base      string                     `json:"base"`
	Rates     map[string]decimal.Decimal `json:"rates"`
	FetchedAt time.Time                  `json:"fetched_at"`
	Fallback  bool                       `json:"fallback"`
}

// Conversion is the result of converting one amount between two currencies.
// Estimated is true when a fallback or derived rate was used instead of a
// direct quote; callers surface this so displayed totals can be marked as
// estimates.
type Conversion struct {
	Amount    decimal.Decimal `json:"amount"`
	Rate      decimal.Decimal `json:"rate"`
	From      string          `json:"from"`
	To        string          `json:"to"`
	Estimated bool            `json:"estimated"`
}

// FarStore is the durable cache tier. GetRateSet returns (nil, nil) when no
// entry exists for the base.
type FarStore interface {
	GetRateSet(ctx context.Context, base string) (*RateSet, error)
	PutRateSet(ctx context.Context, set *RateSet) error
}

type conversionEntry struct {
	conv     Conversion
	cachedAt time.Time
}

// Normalizer converts amounts between currencies with tiered rate caching.
type Normalizer struct {
	source RateSource
	far    FarStore // nil disables the far tier
	ttl    time.Duration
	log    zerolog.Logger

	mu          sync.RWMutex
	rateSets    map[string]*RateSet
	conversions map[string]conversionEntry

	group singleflight.Group
	now   func() time.Time
}

// NewNormalizer creates a Normalizer. ttl bounds the age of every cached
// rate set and conversion in both tiers.
func NewNormalizer(source RateSource, far FarStore, ttl time.Duration, log zerolog.Logger) *Normalizer {
	if ttl <= 0 {
		ttl = 60 * 24 * time.Hour
	}
	return &Normalizer{
		source:      source,
		far:         far,
		ttl:         ttl,
		log:         log,
		rateSets:    make(map[string]*RateSet),
		conversions: make(map[string]conversionEntry),
		now:         time.Now,
	}
}

// Rates returns the rate set for base, from the near tier, the far tier, the
// external source, or the static fallback table, in that order. Concurrent
// misses for the same base collapse into one outstanding load. The only
// error condition is a base code absent from every table.
func (n *Normalizer) Rates(ctx context.Context, base string) (*RateSet, error) {
	base = strings.ToUpper(strings.TrimSpace(base))
	if err := validateCode(base); err != nil {
		return nil, err
	}

	if set := n.nearRateSet(base); set != nil {
		metrics.RateCacheLookups.WithLabelValues("near", "hit").Inc()
		return set, nil
	}
	metrics.RateCacheLookups.WithLabelValues("near", "miss").Inc()

	v, err, _ := n.group.Do("rates:"+base, func() (any, error) {
		return n.loadRateSet(ctx, base)
	})
	if err != nil {
		return nil, err
	}
	return v.(*RateSet), nil
}

// loadRateSet is the single-flight body behind Rates.
func (n *Normalizer) loadRateSet(ctx context.Context, base string) (*RateSet, error) {
	// Another waiter may have populated the near tier while we queued.
	if set := n.nearRateSet(base); set != nil {
		return set, nil
	}

	if n.far != nil {
		set, err := n.far.GetRateSet(ctx, base)
		if err != nil {
			n.log.Warn().Err(err).Str("base", base).Msg("far rate cache read failed")
		}
		if set != nil && n.fresh(set.FetchedAt) {
			metrics.RateCacheLookups.WithLabelValues("far", "hit").Inc()
			n.storeNear(set)
			return set, nil
		}
		metrics.RateCacheLookups.WithLabelValues("far", "miss").Inc()
	}

	rates, err := n.source.FetchRates(ctx, base)
	if err == nil {
		set := &RateSet{Base: base, Rates: rates, FetchedAt: n.now()}
		n.persist(ctx, set)
		return set, nil
	}

	n.log.Warn().Err(err).Str("base", base).Msg("rate source unavailable, using static fallback table")
	metrics.RateSourceFallbacks.Inc()

	set := fallbackRateSet(base, n.now())
	if set == nil {
		return nil, errors.Newf(errors.ErrCodeValidation, "unsupported currency code %q", base)
	}
	// Writing the fallback into both tiers absorbs a prolonged outage: the
	// next TTL window is served from cache instead of re-hitting the source.
	n.persist(ctx, set)
	return set, nil
}

// Convert converts amount from one currency to another. Results are cached
// per exact (amount, from, to) triple, so repeated calls within the TTL
// window return bit-identical values. A direct source conversion is
// preferred; on failure the rate is derived through USD from whichever rate
// table is available and the result is marked estimated.
func (n *Normalizer) Convert(ctx context.Context, amount decimal.Decimal, from, to string) (Conversion, error) {
	from = strings.ToUpper(strings.TrimSpace(from))
	to = strings.ToUpper(strings.TrimSpace(to))
	if err := validateCode(from); err != nil {
		return Conversion{}, err
	}
	if err := validateCode(to); err != nil {
		return Conversion{}, err
	}

	if from == to {
		return Conversion{Amount: amount.Round(2), Rate: decimal.NewFromInt(1), From: from, To: to}, nil
	}

	key := from + ":" + to + ":" + amount.String()
	n.mu.RLock()
	entry, ok := n.conversions[key]
	n.mu.RUnlock()
	if ok && n.fresh(entry.cachedAt) {
		return entry.conv, nil
	}

	conv, err := n.convert(ctx, amount, from, to)
	if err != nil {
		return Conversion{}, err
	}

	n.mu.Lock()
	n.conversions[key] = conversionEntry{conv: conv, cachedAt: n.now()}
	n.mu.Unlock()

	return conv, nil
}

func (n *Normalizer) convert(ctx context.Context, amount decimal.Decimal, from, to string) (Conversion, error) {
	rate, err := n.source.FetchPair(ctx, from, to)
	if err == nil {
		return Conversion{
			Amount: amount.Mul(rate).Round(2),
			Rate:   rate,
			From:   from,
			To:     to,
		}, nil
	}

	// Derive from -> USD -> to from whichever USD table is available.
	set, rerr := n.Rates(ctx, "USD")
	if rerr != nil {
		return Conversion{}, rerr
	}

	fromRate, okFrom := set.Rates[from]
	toRate, okTo := set.Rates[to]
	if !okFrom || fromRate.IsZero() {
		return Conversion{}, errors.Newf(errors.ErrCodeValidation, "unsupported currency code %q", from)
	}
	if !okTo {
		return Conversion{}, errors.Newf(errors.ErrCodeValidation, "unsupported currency code %q", to)
	}

	// A cross rate is an estimate even when the table is live: the direct
	// pair quote failed and this is a derivation, not a quote.
	derived := toRate.DivRound(fromRate, 8)
	return Conversion{
		Amount:    amount.Mul(derived).Round(2),
		Rate:      derived,
		From:      from,
		To:        to,
		Estimated: true,
	}, nil
}

// nearRateSet returns a fresh near-tier entry or nil.
func (n *Normalizer) nearRateSet(base string) *RateSet {
	n.mu.RLock()
	defer n.mu.RUnlock()
	set, ok := n.rateSets[base]
	if !ok || !n.fresh(set.FetchedAt) {
		return nil
	}
	return set
}

func (n *Normalizer) storeNear(set *RateSet) {
	n.mu.Lock()
	n.rateSets[set.Base] = set
	n.mu.Unlock()
}

// persist writes a rate set to both tiers. Far-tier failures are logged,
// never propagated.
func (n *Normalizer) persist(ctx context.Context, set *RateSet) {
	n.storeNear(set)
	if n.far == nil {
		return
	}
	if err := n.far.PutRateSet(ctx, set); err != nil {
		n.log.Warn().Err(err).Str("base", set.Base).Msg("far rate cache write failed")
	}
}

func (n *Normalizer) fresh(at time.Time) bool {
	return n.now().Sub(at) < n.ttl
}

func validateCode(code string) error {
	if len(code) != 3 {
		return errors.InvalidInput("currency", "currency must be a 3-letter ISO code")
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return errors.InvalidInput("currency", "currency must be a 3-letter ISO code")
		}
	}
	return nil
}
