package circuit

import (
	"errors"
	"fmt"
)

// Errors returned by proof generation and verification.
var (
	// ErrInvalidInput means a metric is outside its configured bound.
	// The circuit enforces the same ranges in-constraint, so a proof for
	// such inputs is unproducible either way; this surfaces the reason.
	ErrInvalidInput = errors.New("metric outside configured bound")

	// ErrInvalidProof means the proof or its public outputs do not
	// verify against the verifying key.
	ErrInvalidProof = errors.New("proof verification failed")
)

// RawMetrics is the private input tuple for one score computation.
// It is fetched per evaluation and never persisted past the proof.
type RawMetrics struct {
	DaysAgoAdded  uint64 `json:"daysAgoAdded"`
	IsActive      bool   `json:"isActive"`
	Volume        uint64 `json:"volume"`
	MarketCap     uint64 `json:"marketCap"`
	TotalSupply   uint64 `json:"totalSupply"`
	HasSourceCode bool   `json:"hasSourceCode"`
}

// Validate rejects metrics that exceed their normalization bound. The
// constraint system repeats these checks, so an out-of-range value can
// never reach a valid proof even if this pre-check is bypassed.
func (m RawMetrics) Validate(b Bounds) error {
	if err := b.Validate(); err != nil {
		return err
	}
	checks := []struct {
		name  string
		value uint64
		bound uint64
	}{
		{"days_ago_added", m.DaysAgoAdded, b.MaxDaysAgo},
		{"volume", m.Volume, b.MaxVolume},
		{"market_cap", m.MarketCap, b.MaxMarketCap},
		{"total_supply", m.TotalSupply, b.MaxTotalSupply},
	}
	for _, c := range checks {
		if c.value > c.bound {
			return fmt.Errorf("%w: %s=%d exceeds %d", ErrInvalidInput, c.name, c.value, c.bound)
		}
	}
	return nil
}

func boolToUint64(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}
