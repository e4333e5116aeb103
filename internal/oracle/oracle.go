/*

This file contains the price oracle interface and the freshness gate. A stale
or low-confidence reading is treated as unavailable: the dependent operation
fails with ErrOracleStale instead of falling back to a default rate.

*/

package oracle

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/basin-labs/vase/internal/types"
)

// Quote is one exchange-rate reading. Rate converts one unit of the base
// denom into the quote denom.
type Quote struct {
	Rate       sdkmath.LegacyDec `json:"rate"`
	Confidence float64           `json:"confidence"` // [0,1]
	AsOf       time.Time         `json:"as_of"`
}

// PriceOracle supplies exchange rates between denoms.
type PriceOracle interface {
	Rate(ctx context.Context, base, quote string) (Quote, error)
}

// Freshness holds the gate thresholds, taken from the engine parameters.
type Freshness struct {
	MaxAge        time.Duration
	MinConfidence float64
}

// Validate rejects readings that are stale, under-confident or malformed.
func (f Freshness) Validate(q Quote, now time.Time) error {
	if q.Rate.IsNil() || !q.Rate.IsPositive() {
		return errors.Join(types.ErrOracleStale, fmt.Errorf("rate is not positive: %s", q.Rate))
	}
	if math.IsNaN(q.Confidence) || math.IsInf(q.Confidence, 0) {
		return errors.Join(types.ErrOracleStale, fmt.Errorf("confidence is not finite: %f", q.Confidence))
	}
	if q.Confidence < f.MinConfidence {
		return errors.Join(types.ErrOracleStale,
			fmt.Errorf("confidence %.4f below threshold %.4f", q.Confidence, f.MinConfidence))
	}
	if q.AsOf.IsZero() {
		return errors.Join(types.ErrOracleStale, errors.New("reading has no timestamp"))
	}
	if age := now.Sub(q.AsOf); age > f.MaxAge {
		return errors.Join(types.ErrOracleStale,
			fmt.Errorf("reading is %s old, max age %s", age, f.MaxAge))
	}
	return nil
}

// FreshnessFromParams builds the gate from the persisted engine parameters.
func FreshnessFromParams(params types.EngineParameters) Freshness {
	return Freshness{
		MaxAge:        time.Duration(params.OracleMaxAgeSeconds) * time.Second,
		MinConfidence: params.OracleMinConfidence,
	}
}
