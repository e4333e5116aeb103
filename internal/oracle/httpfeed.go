/*

This file contains the HTTP price feed oracle. It fetches spot rates from a
JSON endpoint with bounded retries and strict response validation; anything
questionable is surfaced as ErrOracleStale so the dependent transition aborts
instead of pricing against bad data.

Expected response shape:

	{"rate": "1.2345", "confidence": 0.99, "as_of": "2026-08-29T10:00:00Z"}

*/

package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/basin-labs/vase/internal/logger"
	"github.com/basin-labs/vase/internal/types"
)

var feedLogger = logger.GetForComponent("price_feed")

const (
	feedMaxRetries     = 3
	feedTimeoutSeconds = 10
	feedMaxBodyBytes   = 1 << 20
)

type feedResponse struct {
	Rate       string    `json:"rate"`
	Confidence float64   `json:"confidence"`
	AsOf       time.Time `json:"as_of"`
}

// HTTPFeed fetches rates from a JSON price endpoint.
type HTTPFeed struct {
	baseURL string
	client  *http.Client
}

// NewHTTPFeed returns a feed against the given endpoint base URL.
func NewHTTPFeed(baseURL string) (*HTTPFeed, error) {
	if baseURL == "" {
		return nil, errors.New("price feed base URL is empty")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("price feed base URL is invalid: %w", err)
	}
	return &HTTPFeed{
		baseURL: baseURL,
		client:  &http.Client{Timeout: feedTimeoutSeconds * time.Second},
	}, nil
}

// Rate implements PriceOracle. Transient fetch failures are retried with a
// short backoff before the reading is declared unavailable.
func (h *HTTPFeed) Rate(ctx context.Context, base, quote string) (Quote, error) {
	if base == "" || quote == "" {
		return Quote{}, errors.Join(types.ErrOracleStale, errors.New("base and quote denoms are required"))
	}
	if base == quote {
		return Quote{Rate: sdkmath.LegacyOneDec(), Confidence: 1.0, AsOf: time.Now().UTC()}, nil
	}

	endpoint := fmt.Sprintf("%s?base=%s&quote=%s", h.baseURL, url.QueryEscape(base), url.QueryEscape(quote))

	var lastErr error
	for attempt := 1; attempt <= feedMaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return Quote{}, errors.Join(types.ErrOracleStale, err)
		}

		q, err := h.fetch(ctx, endpoint)
		if err == nil {
			return q, nil
		}
		lastErr = err
		feedLogger.Warn().
			Err(err).
			Int("attempt", attempt).
			Str("base", base).
			Str("quote", quote).
			Msg("Price feed fetch failed")

		if attempt < feedMaxRetries {
			select {
			case <-ctx.Done():
				return Quote{}, errors.Join(types.ErrOracleStale, ctx.Err())
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}
	}

	return Quote{}, errors.Join(types.ErrOracleStale,
		fmt.Errorf("price feed unavailable for %s/%s after %d attempts: %w", base, quote, feedMaxRetries, lastErr))
}

func (h *HTTPFeed) fetch(ctx context.Context, endpoint string) (Quote, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Quote{}, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return Quote{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Quote{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, feedMaxBodyBytes))
	if err != nil {
		return Quote{}, fmt.Errorf("failed to read response body: %w", err)
	}

	var parsed feedResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Quote{}, fmt.Errorf("failed to decode response: %w", err)
	}

	rate, err := sdkmath.LegacyNewDecFromStr(parsed.Rate)
	if err != nil {
		return Quote{}, fmt.Errorf("rate %q is not a valid decimal: %w", parsed.Rate, err)
	}
	if !rate.IsPositive() {
		return Quote{}, fmt.Errorf("rate is not positive: %s", rate)
	}
	if math.IsNaN(parsed.Confidence) || math.IsInf(parsed.Confidence, 0) ||
		parsed.Confidence < 0 || parsed.Confidence > 1 {
		return Quote{}, fmt.Errorf("confidence out of range [0,1]: %f", parsed.Confidence)
	}
	if parsed.AsOf.IsZero() {
		return Quote{}, errors.New("response has no as_of timestamp")
	}

	return Quote{Rate: rate, Confidence: parsed.Confidence, AsOf: parsed.AsOf}, nil
}
