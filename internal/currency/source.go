package currency

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fieldline/be-sales-conversions/internal/errors"
	"github.com/fieldline/be-sales-conversions/internal/metrics"
)

// RateSource is the external exchange-rate provider. It may be unavailable;
// the Normalizer absorbs every failure with the static fallback table.
type RateSource interface {
	// FetchRates returns the full rate table for a base currency.
	FetchRates(ctx context.Context, base string) (map[string]decimal.Decimal, error)
	// FetchPair returns the direct conversion rate for one currency pair.
	FetchPair(ctx context.Context, from, to string) (decimal.Decimal, error)
}

// APIClient talks to an exchangerate-api.com style HTTP endpoint.
type APIClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewAPIClient creates a rate source client with a bounded request timeout.
func NewAPIClient(baseURL, apiKey string, timeout time.Duration) *APIClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &APIClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// FetchRates fetches the latest rate table for base.
func (c *APIClient) FetchRates(ctx context.Context, base string) (map[string]decimal.Decimal, error) {
	url := fmt.Sprintf("%s/%s/latest/%s", c.baseURL, c.apiKey, base)

	var apiResp struct {
		Result          string             `json:"result"`
		ConversionRates map[string]float64 `json:"conversion_rates"`
	}
	if err := c.get(ctx, url, &apiResp); err != nil {
		return nil, err
	}
	if apiResp.Result != "success" {
		metrics.RateSourceRequests.WithLabelValues("error").Inc()
		return nil, errors.Newf(errors.ErrCodeUnavailable, "rate source returned result %q", apiResp.Result)
	}

	rates := make(map[string]decimal.Decimal, len(apiResp.ConversionRates))
	for code, rate := range apiResp.ConversionRates {
		rates[code] = decimal.NewFromFloat(rate)
	}
	metrics.RateSourceRequests.WithLabelValues("ok").Inc()
	return rates, nil
}

// FetchPair fetches the direct rate for a single currency pair.
func (c *APIClient) FetchPair(ctx context.Context, from, to string) (decimal.Decimal, error) {
	url := fmt.Sprintf("%s/%s/pair/%s/%s", c.baseURL, c.apiKey, from, to)

	var apiResp struct {
		Result         string  `json:"result"`
		ConversionRate float64 `json:"conversion_rate"`
	}
	if err := c.get(ctx, url, &apiResp); err != nil {
		return decimal.Zero, err
	}
	if apiResp.Result != "success" {
		metrics.RateSourceRequests.WithLabelValues("error").Inc()
		return decimal.Zero, errors.Newf(errors.ErrCodeUnavailable, "rate source returned result %q", apiResp.Result)
	}

	metrics.RateSourceRequests.WithLabelValues("ok").Inc()
	return decimal.NewFromFloat(apiResp.ConversionRate), nil
}

func (c *APIClient) get(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to build rate source request")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		metrics.RateSourceRequests.WithLabelValues("error").Inc()
		return errors.Wrap(err, errors.ErrCodeUnavailable, "rate source request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.RateSourceRequests.WithLabelValues("error").Inc()
		return errors.Newf(errors.ErrCodeUnavailable, "rate source returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		metrics.RateSourceRequests.WithLabelValues("error").Inc()
		return errors.Wrap(err, errors.ErrCodeUnavailable, "failed to decode rate source response")
	}
	return nil
}
