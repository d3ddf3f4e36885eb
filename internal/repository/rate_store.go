package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/fieldline/be-sales-conversions/internal/currency"
	"github.com/fieldline/be-sales-conversions/internal/database"
	"github.com/fieldline/be-sales-conversions/internal/errors"
)

// RateStore is the durable far tier of the currency normalizer's cache, one
// row per base currency. Staleness is judged by the normalizer, not here.
type RateStore struct {
	db *database.DB
}

// NewRateStore creates a new RateStore.
func NewRateStore(db *database.DB) *RateStore {
	return &RateStore{db: db}
}

// GetRateSet returns the stored rate set for base, or (nil, nil) when none
// has ever been written.
func (r *RateStore) GetRateSet(ctx context.Context, base string) (*currency.RateSet, error) {
	query := `
		SELECT base, rates, fetched_at, fallback
		FROM exchange_rate_sets
		WHERE base = $1
	`

	set := &currency.RateSet{}
	var ratesJSON []byte
	err := r.db.QueryRow(ctx, query, base).Scan(&set.Base, &ratesJSON, &set.FetchedAt, &set.Fallback)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to read rate set")
	}

	if err := json.Unmarshal(ratesJSON, &set.Rates); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal rate set")
	}
	return set, nil
}

// PutRateSet upserts the rate set for its base currency.
func (r *RateStore) PutRateSet(ctx context.Context, set *currency.RateSet) error {
	ratesJSON, err := json.Marshal(set.Rates)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal rate set")
	}

	query := `
		INSERT INTO exchange_rate_sets (base, rates, fetched_at, fallback)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (base) DO UPDATE
		SET rates = EXCLUDED.rates,
		    fetched_at = EXCLUDED.fetched_at,
		    fallback = EXCLUDED.fallback
	`

	if _, err := r.db.Exec(ctx, query, set.Base, ratesJSON, set.FetchedAt, set.Fallback); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to write rate set")
	}
	return nil
}
