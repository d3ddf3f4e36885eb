package service

import (
	"context"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/fieldline/be-sales-conversions/internal/currency"
	"github.com/fieldline/be-sales-conversions/internal/errors"
	"github.com/fieldline/be-sales-conversions/internal/logger"
	"github.com/fieldline/be-sales-conversions/internal/repository"
)

// maxConcurrentConversions bounds the parallel currency lookups issued for
// one totals request.
const maxConcurrentConversions = 4

// Converter is the currency normalization contract the aggregation needs.
type Converter interface {
	Convert(ctx context.Context, amount decimal.Decimal, from, to string) (currency.Conversion, error)
}

// Totals is the aggregated revenue and commission over a record batch,
// expressed in one target currency. Estimated is true when any subset was
// converted with a fallback rate, or left unconverted because its pair
// could not be resolved at all.
type Totals struct {
	Revenue    decimal.Decimal `json:"revenue"`
	Commission decimal.Decimal `json:"commission"`
	Currency   string          `json:"currency"`
	Estimated  bool            `json:"estimated"`
}

// AggregationService computes display totals over conversion records.
type AggregationService struct {
	converter Converter
	log       *logger.Logger
}

// NewAggregationService creates a new aggregation service.
func NewAggregationService(converter Converter, log *logger.Logger) *AggregationService {
	return &AggregationService{converter: converter, log: log}
}

// currencyBucket accumulates the sums for one source currency.
type currencyBucket struct {
	revenue    decimal.Decimal
	commission decimal.Decimal
}

// Totals sums revenue and commission across the batch, restricted to
// approved records; rejected and in-flight figures never count toward a
// displayed total. The normalizer is called once per distinct
// (source, target) currency pair, pairs are converted concurrently, and a
// pair that cannot be converted falls back to its unconverted sums with the
// result flagged as estimated.
func (s *AggregationService) Totals(ctx context.Context, records []*repository.ConversionRecord, target string) (*Totals, error) {
	target = strings.ToUpper(strings.TrimSpace(target))
	if len(target) != 3 {
		return nil, errors.InvalidInput("currency", "target currency must be a 3-letter ISO code")
	}

	buckets := make(map[string]*currencyBucket)
	for _, rec := range records {
		if rec.Status != repository.StatusApproved {
			continue
		}
		bucket, ok := buckets[rec.Currency]
		if !ok {
			bucket = &currencyBucket{revenue: decimal.Zero, commission: decimal.Zero}
			buckets[rec.Currency] = bucket
		}
		bucket.revenue = bucket.revenue.Add(rec.RevenueAmount)
		bucket.commission = bucket.commission.Add(rec.CommissionAmount)
	}

	totals := &Totals{Revenue: decimal.Zero, Commission: decimal.Zero, Currency: target}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentConversions)

	for code, bucket := range buckets {
		g.Go(func() error {
			revenue, comm, estimated := s.convertBucket(gctx, code, target, bucket)
			mu.Lock()
			totals.Revenue = totals.Revenue.Add(revenue)
			totals.Commission = totals.Commission.Add(comm)
			totals.Estimated = totals.Estimated || estimated
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	totals.Revenue = totals.Revenue.Round(2)
	totals.Commission = totals.Commission.Round(2)
	return totals, nil
}

// convertBucket converts one source currency's sums into the target with a
// single normalizer call, reusing the returned pair rate for the commission
// sum. A conversion failure never aborts the aggregation; the unconverted
// sums are used and the subset is flagged as estimated.
func (s *AggregationService) convertBucket(ctx context.Context, from, target string, bucket *currencyBucket) (revenue, comm decimal.Decimal, estimated bool) {
	if from == target {
		return bucket.revenue, bucket.commission, false
	}

	conv, err := s.converter.Convert(ctx, bucket.revenue, from, target)
	if err != nil {
		s.log.Warn().Err(err).
			Str("from", from).
			Str("to", target).
			Msg("Currency conversion failed, totals include unconverted amounts")
		return bucket.revenue, bucket.commission, true
	}

	return conv.Amount, bucket.commission.Mul(conv.Rate).Round(2), conv.Estimated
}
