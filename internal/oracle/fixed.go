/*

This file contains the fixed-rate oracle: a static, settable rate table used
in sim mode and tests. Readings are stamped fresh with full confidence unless
a test overrides them.

*/

package oracle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/basin-labs/vase/internal/types"
)

type pair struct {
	base, quote string
}

// Fixed is a static rate table. A denom quoted against itself is always 1.
type Fixed struct {
	mu     sync.RWMutex
	quotes map[pair]Quote
}

// NewFixed returns an empty fixed oracle.
func NewFixed() *Fixed {
	return &Fixed{quotes: make(map[pair]Quote)}
}

// SetRate stores a fresh full-confidence rate for base/quote.
func (f *Fixed) SetRate(base, quote string, rate sdkmath.LegacyDec) {
	f.SetQuote(base, quote, Quote{Rate: rate, Confidence: 1.0, AsOf: time.Now().UTC()})
}

// SetQuote stores a complete reading, letting tests control confidence and
// timestamp.
func (f *Fixed) SetQuote(base, quote string, q Quote) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quotes[pair{base, quote}] = q
}

// Rate implements PriceOracle.
func (f *Fixed) Rate(ctx context.Context, base, quote string) (Quote, error) {
	if err := ctx.Err(); err != nil {
		return Quote{}, errors.Join(types.ErrOracleStale, err)
	}
	if base == quote {
		return Quote{Rate: sdkmath.LegacyOneDec(), Confidence: 1.0, AsOf: time.Now().UTC()}, nil
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	if q, ok := f.quotes[pair{base, quote}]; ok {
		return q, nil
	}
	// Derive the inverse when only the opposite direction is configured.
	if q, ok := f.quotes[pair{quote, base}]; ok && !q.Rate.IsNil() && q.Rate.IsPositive() {
		return Quote{
			Rate:       sdkmath.LegacyOneDec().Quo(q.Rate),
			Confidence: q.Confidence,
			AsOf:       q.AsOf,
		}, nil
	}
	return Quote{}, errors.Join(types.ErrOracleStale,
		fmt.Errorf("no rate configured for %s/%s", base, quote))
}
