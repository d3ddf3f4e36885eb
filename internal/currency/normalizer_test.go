package currency

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldline/be-sales-conversions/internal/errors"
	"github.com/fieldline/be-sales-conversions/internal/logger"
)

// fakeSource is a scriptable RateSource.
type fakeSource struct {
	mu         sync.Mutex
	rates      map[string]map[string]decimal.Decimal
	pairRates  map[string]decimal.Decimal
	down       bool
	rateCalls  int
	pairCalls  int
	blockRates chan struct{} // when set, FetchRates waits until closed
}

func (f *fakeSource) FetchRates(ctx context.Context, base string) (map[string]decimal.Decimal, error) {
	f.mu.Lock()
	f.rateCalls++
	block := f.blockRates
	f.mu.Unlock()
	if block != nil {
		<-block
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return nil, errors.New(errors.ErrCodeUnavailable, "source down")
	}
	rates, ok := f.rates[base]
	if !ok {
		return nil, errors.New(errors.ErrCodeUnavailable, "no table")
	}
	return rates, nil
}

func (f *fakeSource) FetchPair(ctx context.Context, from, to string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pairCalls++
	if f.down {
		return decimal.Zero, errors.New(errors.ErrCodeUnavailable, "source down")
	}
	rate, ok := f.pairRates[from+":"+to]
	if !ok {
		return decimal.Zero, errors.New(errors.ErrCodeUnavailable, "no pair")
	}
	return rate, nil
}

// fakeFar is an in-memory FarStore.
type fakeFar struct {
	mu   sync.Mutex
	sets map[string]*RateSet
	puts int
}

func newFakeFar() *fakeFar { return &fakeFar{sets: make(map[string]*RateSet)} }

func (f *fakeFar) GetRateSet(ctx context.Context, base string) (*RateSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sets[base], nil
}

func (f *fakeFar) PutRateSet(ctx context.Context, set *RateSet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets[set.Base] = set
	f.puts++
	return nil
}

func newTestNormalizer(source RateSource, far FarStore) *Normalizer {
	return NewNormalizer(source, far, 60*24*time.Hour, logger.Nop().Logger)
}

func TestConvert_DirectPair(t *testing.T) {
	source := &fakeSource{pairRates: map[string]decimal.Decimal{
		"USD:EUR": decimal.RequireFromString("0.9"),
	}}
	n := newTestNormalizer(source, nil)

	conv, err := n.Convert(context.Background(), decimal.RequireFromString("100"), "USD", "EUR")
	require.NoError(t, err)
	assert.True(t, conv.Amount.Equal(decimal.RequireFromString("90.00")), "amount = %s", conv.Amount)
	assert.False(t, conv.Estimated)
}

func TestConvert_SameCurrencyIdentity(t *testing.T) {
	n := newTestNormalizer(&fakeSource{down: true}, nil)

	conv, err := n.Convert(context.Background(), decimal.RequireFromString("42.50"), "USD", "USD")
	require.NoError(t, err)
	assert.True(t, conv.Amount.Equal(decimal.RequireFromString("42.50")))
	assert.True(t, conv.Rate.Equal(decimal.NewFromInt(1)))
	assert.False(t, conv.Estimated)
}

func TestConvert_FallbackWhenSourceDown(t *testing.T) {
	far := newFakeFar()
	n := newTestNormalizer(&fakeSource{down: true}, far)

	conv, err := n.Convert(context.Background(), decimal.RequireFromString("100"), "EUR", "GBP")
	require.NoError(t, err)
	assert.True(t, conv.Estimated, "fallback rates must flag the result as estimated")
	assert.True(t, conv.Amount.IsPositive())

	// The fallback rate set was written into the far tier with a fresh
	// timestamp so the outage is not retried per request.
	set, _ := far.GetRateSet(context.Background(), "USD")
	require.NotNil(t, set)
	assert.True(t, set.Fallback)
}

func TestConvert_DerivedThroughLiveTableIsEstimated(t *testing.T) {
	// The pair endpoint has no quote, so the rate is derived through a live
	// USD table. A derivation is an estimate even when the table is live.
	source := &fakeSource{rates: map[string]map[string]decimal.Decimal{
		"USD": {
			"EUR": decimal.RequireFromString("0.90"),
			"GBP": decimal.RequireFromString("0.80"),
		},
	}}
	n := newTestNormalizer(source, nil)

	conv, err := n.Convert(context.Background(), decimal.RequireFromString("100"), "EUR", "GBP")
	require.NoError(t, err)
	assert.True(t, conv.Estimated, "cross rates are estimates even from a live table")
	assert.True(t, conv.Rate.Equal(decimal.RequireFromString("0.88888889")), "rate = %s", conv.Rate)
	assert.True(t, conv.Amount.Equal(decimal.RequireFromString("88.89")), "amount = %s", conv.Amount)
}

func TestConvert_NeverFailsForFallbackCodes(t *testing.T) {
	n := newTestNormalizer(&fakeSource{down: true}, nil)

	for _, pair := range [][2]string{{"JPY", "CHF"}, {"NGN", "BRL"}, {"ZAR", "INR"}} {
		conv, err := n.Convert(context.Background(), decimal.NewFromInt(10), pair[0], pair[1])
		require.NoError(t, err, "%s -> %s", pair[0], pair[1])
		assert.True(t, conv.Amount.IsPositive())
	}
}

func TestConvert_RoundTrip(t *testing.T) {
	n := newTestNormalizer(&fakeSource{down: true}, nil)
	ctx := context.Background()

	start := decimal.RequireFromString("250.00")
	there, err := n.Convert(ctx, start, "USD", "EUR")
	require.NoError(t, err)
	back, err := n.Convert(ctx, there.Amount, "EUR", "USD")
	require.NoError(t, err)

	diff := back.Amount.Sub(start).Abs()
	assert.True(t, diff.LessThanOrEqual(decimal.RequireFromString("0.02")),
		"round trip drifted by %s", diff)
}

func TestConvert_CachedTripleIsStable(t *testing.T) {
	source := &fakeSource{pairRates: map[string]decimal.Decimal{
		"USD:EUR": decimal.RequireFromString("0.91"),
	}}
	n := newTestNormalizer(source, nil)
	ctx := context.Background()
	amount := decimal.RequireFromString("123.45")

	first, err := n.Convert(ctx, amount, "USD", "EUR")
	require.NoError(t, err)

	// A rate change within the TTL window must not be observed.
	source.mu.Lock()
	source.pairRates["USD:EUR"] = decimal.RequireFromString("0.5")
	source.mu.Unlock()

	second, err := n.Convert(ctx, amount, "USD", "EUR")
	require.NoError(t, err)
	assert.True(t, first.Amount.Equal(second.Amount))
	assert.True(t, first.Rate.Equal(second.Rate))
	assert.Equal(t, 1, source.pairCalls, "second call must be served from cache")
}

func TestRates_FarTierServesNearMiss(t *testing.T) {
	far := newFakeFar()
	far.sets["EUR"] = &RateSet{
		Base:      "EUR",
		Rates:     map[string]decimal.Decimal{"USD": decimal.RequireFromString("1.11")},
		FetchedAt: time.Now(),
	}
	source := &fakeSource{down: true}
	n := newTestNormalizer(source, far)

	set, err := n.Rates(context.Background(), "EUR")
	require.NoError(t, err)
	assert.False(t, set.Fallback)
	assert.Equal(t, 0, source.rateCalls, "fresh far-tier entry must short-circuit the source")
}

func TestRates_StaleFarTierRefetches(t *testing.T) {
	far := newFakeFar()
	far.sets["EUR"] = &RateSet{
		Base:      "EUR",
		Rates:     map[string]decimal.Decimal{"USD": decimal.RequireFromString("1.11")},
		FetchedAt: time.Now().Add(-61 * 24 * time.Hour),
	}
	source := &fakeSource{rates: map[string]map[string]decimal.Decimal{
		"EUR": {"USD": decimal.RequireFromString("1.09")},
	}}
	n := newTestNormalizer(source, far)

	set, err := n.Rates(context.Background(), "EUR")
	require.NoError(t, err)
	assert.Equal(t, 1, source.rateCalls)
	assert.True(t, set.Rates["USD"].Equal(decimal.RequireFromString("1.09")))
	assert.Equal(t, 1, far.puts, "live refetch must refresh the far tier")
}

func TestRates_ConcurrentMissesCoalesce(t *testing.T) {
	block := make(chan struct{})
	source := &fakeSource{
		rates: map[string]map[string]decimal.Decimal{
			"USD": {"EUR": decimal.RequireFromString("0.9")},
		},
		blockRates: block,
	}
	n := newTestNormalizer(source, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			set, err := n.Rates(context.Background(), "USD")
			assert.NoError(t, err)
			assert.NotNil(t, set)
		}()
	}

	// Give the goroutines time to pile up behind the single flight.
	time.Sleep(50 * time.Millisecond)
	close(block)
	wg.Wait()

	source.mu.Lock()
	calls := source.rateCalls
	source.mu.Unlock()
	assert.Equal(t, 1, calls, "concurrent misses must collapse into one fetch")
}

func TestConvert_InvalidCode(t *testing.T) {
	n := newTestNormalizer(&fakeSource{down: true}, nil)

	_, err := n.Convert(context.Background(), decimal.NewFromInt(1), "usd1", "EUR")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeValidation, errors.CodeOf(err))
}
