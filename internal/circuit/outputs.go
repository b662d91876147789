package circuit

import (
	"fmt"
	"math/big"

	"github.com/pendergraft/trustgate/internal/token"
)

// Outputs are the four public field elements a proof reveals, in the
// fixed wire order (score, signature, address_part1, address_part2).
// The order is part of the interop contract and must not change.
type Outputs struct {
	Score        *big.Int
	Signature    *big.Int
	AddressPart1 *big.Int
	AddressPart2 *big.Int
}

// ComputeOutputs mirrors the circuit arithmetic in plain modular math.
// Provers use it to fill the public witness; the aggregator and tests use
// it to cross-check revealed scores. It applies the same input validation
// the constraints enforce.
func ComputeOutputs(b Bounds, addr token.Address, m RawMetrics) (*Outputs, error) {
	if err := m.Validate(b); err != nil {
		return nil, err
	}

	r := fieldModulus()
	mulMod := func(acc *big.Int, v *big.Int) *big.Int {
		return acc.Mul(acc, v).Mod(acc, r)
	}

	score := new(big.Int).SetUint64(boolToUint64(m.IsActive))
	mulMod(score, new(big.Int).SetUint64(m.DaysAgoAdded))
	mulMod(score, inverseOf(b.MaxDaysAgo))
	mulMod(score, new(big.Int).SetUint64(m.Volume))
	mulMod(score, inverseOf(b.MaxVolume))
	mulMod(score, new(big.Int).SetUint64(m.MarketCap))
	mulMod(score, inverseOf(b.MaxMarketCap))
	mulMod(score, new(big.Int).SetUint64(m.TotalSupply))
	mulMod(score, inverseOf(b.MaxTotalSupply))
	mulMod(score, new(big.Int).SetUint64(boolToUint64(m.HasSourceCode)))

	part1, part2 := addr.Parts()
	influence := new(big.Int).Add(part1, part2)
	mulMod(influence, addressSpaceInverse())

	signature := new(big.Int).Set(score)
	mulMod(signature, influence)

	return &Outputs{
		Score:        score,
		Signature:    signature,
		AddressPart1: part1,
		AddressPart2: part2,
	}, nil
}

// Address reassembles the token address the outputs are bound to.
func (o *Outputs) Address() (token.Address, error) {
	return token.Join(o.AddressPart1, o.AddressPart2)
}

// Equal reports whether two output tuples are element-wise identical.
func (o *Outputs) Equal(other *Outputs) bool {
	if o == nil || other == nil {
		return o == other
	}
	return o.Score.Cmp(other.Score) == 0 &&
		o.Signature.Cmp(other.Signature) == 0 &&
		o.AddressPart1.Cmp(other.AddressPart1) == 0 &&
		o.AddressPart2.Cmp(other.AddressPart2) == 0
}

// Slice returns the outputs in wire order.
func (o *Outputs) Slice() []*big.Int {
	return []*big.Int{o.Score, o.Signature, o.AddressPart1, o.AddressPart2}
}

// NormalizedScore maps the field-element score back to an approximate
// fraction in [0,1) by dividing by the field modulus. Display only.
func (o *Outputs) NormalizedScore() float64 {
	score := new(big.Float).SetInt(o.Score)
	modulus := new(big.Float).SetInt(fieldModulus())
	f, _ := new(big.Float).Quo(score, modulus).Float64()
	return f
}

// FieldElement parses a 0x-prefixed hex field element and reduces nothing:
// values at or above the modulus are rejected.
func FieldElement(s string) (*big.Int, error) {
	if len(s) < 3 || s[0] != '0' || (s[1] != 'x' && s[1] != 'X') {
		return nil, fmt.Errorf("field element %q: missing 0x prefix", s)
	}
	v, ok := new(big.Int).SetString(s[2:], 16)
	if !ok {
		return nil, fmt.Errorf("field element %q: not hex", s)
	}
	if v.Cmp(fieldModulus()) >= 0 {
		return nil, fmt.Errorf("field element %q: exceeds modulus", s)
	}
	return v, nil
}

// FormatFieldElement renders a field element in the 0x hex form used on
// the wire.
func FormatFieldElement(v *big.Int) string {
	return fmt.Sprintf("0x%064x", v)
}
