package circuit

import (
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc"
)

// Default normalization bounds: the maximum expected value of each metric.
// They are baked into the constraint system at compile time; changing any
// of them requires recompiling the circuit and rotating keys.
const (
	DefaultMaxDaysAgo     = 5_000
	DefaultMaxVolume      = 1_000_000_000
	DefaultMaxMarketCap   = 2_000_000_000
	DefaultMaxTotalSupply = 100_000_000_000
)

// Bounds holds the normalization bounds for the four magnitude metrics.
type Bounds struct {
	MaxDaysAgo     uint64
	MaxVolume      uint64
	MaxMarketCap   uint64
	MaxTotalSupply uint64
}

// DefaultBounds returns the bounds every vendor compiles with.
func DefaultBounds() Bounds {
	return Bounds{
		MaxDaysAgo:     DefaultMaxDaysAgo,
		MaxVolume:      DefaultMaxVolume,
		MaxMarketCap:   DefaultMaxMarketCap,
		MaxTotalSupply: DefaultMaxTotalSupply,
	}
}

// Validate checks that all bounds are usable as field divisors. A zero
// bound has no modular inverse, so normalization would be undefined.
func (b Bounds) Validate() error {
	for name, v := range map[string]uint64{
		"max_days_ago":     b.MaxDaysAgo,
		"max_volume":       b.MaxVolume,
		"max_market_cap":   b.MaxMarketCap,
		"max_total_supply": b.MaxTotalSupply,
	} {
		if v == 0 {
			return fmt.Errorf("%w: bound %s must be non-zero", ErrInvalidInput, name)
		}
	}
	return nil
}

// fieldModulus is the BN254 scalar field modulus all score arithmetic
// happens in.
func fieldModulus() *big.Int {
	return ecc.BN254.ScalarField()
}

// inverseOf returns v^-1 mod r. Bounds are validated non-zero and are far
// below the prime modulus, so the inverse always exists.
func inverseOf(v uint64) *big.Int {
	return new(big.Int).ModInverse(new(big.Int).SetUint64(v), fieldModulus())
}

// addressSpaceInverse is (2^160)^-1 mod r, the divisor that maps the sum
// of the two address halves into the unit range for the signature term.
func addressSpaceInverse() *big.Int {
	space := new(big.Int).Lsh(big.NewInt(1), 160)
	return new(big.Int).ModInverse(space, fieldModulus())
}
