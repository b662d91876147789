// Package circuit implements the trust-score constraint system: a groth16
// circuit over BN254 that computes a composite token legitimacy score from
// private on-chain metrics and binds it to the token address.
package circuit

import (
	"github.com/consensys/gnark/frontend"

	"github.com/pendergraft/trustgate/internal/token"
)

// scoreCircuit is the constraint system for one score computation.
//
// Public outputs, in wire order: (score, signature, address_part1,
// address_part2). All raw metrics stay private; the normalization bounds
// are compile-time constants, not witness values.
type scoreCircuit struct {
	Score        frontend.Variable `gnark:",public"`
	Signature    frontend.Variable `gnark:",public"`
	AddressPart1 frontend.Variable `gnark:",public"`
	AddressPart2 frontend.Variable `gnark:",public"`

	DaysAgoAdded  frontend.Variable
	IsActive      frontend.Variable
	Volume        frontend.Variable
	MarketCap     frontend.Variable
	TotalSupply   frontend.Variable
	HasSourceCode frontend.Variable

	bounds Bounds
}

func newScoreCircuit(b Bounds) *scoreCircuit {
	return &scoreCircuit{bounds: b}
}

// Define builds the constraints.
//
// score = is_active * (days/X) * (volume/Y) * (mcap/Z) * (supply/W) * has_source
// signature = score * (part1 + part2) / 2^160
//
// Division by a bound is multiplication by its modular inverse, computed
// once at construction. A single zero factor collapses the score to zero;
// the product is an AND of all dimensions, never a weighted sum.
func (c *scoreCircuit) Define(api frontend.API) error {
	// Switch flags must be bits; without this a prover could submit
	// is_active=2 and inflate the score.
	api.AssertIsBoolean(c.IsActive)
	api.AssertIsBoolean(c.HasSourceCode)

	// Each raw metric must stay within its bound; raw > bound would push
	// the normalized value past 1 and silently inflate the score.
	api.AssertIsLessOrEqual(c.DaysAgoAdded, c.bounds.MaxDaysAgo)
	api.AssertIsLessOrEqual(c.Volume, c.bounds.MaxVolume)
	api.AssertIsLessOrEqual(c.MarketCap, c.bounds.MaxMarketCap)
	api.AssertIsLessOrEqual(c.TotalSupply, c.bounds.MaxTotalSupply)

	// Address halves must fit 80 bits each so they concatenate to a
	// 160-bit address and a proof cannot be rebound to another token.
	api.ToBinary(c.AddressPart1, token.PartBits)
	api.ToBinary(c.AddressPart2, token.PartBits)

	normDays := api.Mul(c.DaysAgoAdded, inverseOf(c.bounds.MaxDaysAgo))
	normVolume := api.Mul(c.Volume, inverseOf(c.bounds.MaxVolume))
	normMarketCap := api.Mul(c.MarketCap, inverseOf(c.bounds.MaxMarketCap))
	normSupply := api.Mul(c.TotalSupply, inverseOf(c.bounds.MaxTotalSupply))

	score := api.Mul(c.IsActive, normDays)
	score = api.Mul(score, normVolume)
	score = api.Mul(score, normMarketCap)
	score = api.Mul(score, normSupply)
	score = api.Mul(score, c.HasSourceCode)

	influence := api.Mul(api.Add(c.AddressPart1, c.AddressPart2), addressSpaceInverse())
	signature := api.Mul(score, influence)

	api.AssertIsEqual(c.Score, score)
	api.AssertIsEqual(c.Signature, signature)

	return nil
}
