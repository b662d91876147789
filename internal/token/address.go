// Package token defines the token address type shared by the circuit,
// the aggregation protocol and the whitelist.
package token

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// AddressBits is the width of an EVM token address.
const AddressBits = 160

// PartBits is the width of each address half. The two halves concatenate
// to the full 160-bit address and each fits comfortably inside the BN254
// scalar field.
const PartBits = AddressBits / 2

var (
	// ErrInvalidAddress is returned when a string is not a valid hex address.
	ErrInvalidAddress = errors.New("invalid token address")

	partMask = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), PartBits), big.NewInt(1))
)

// Address is a 20-byte token contract address.
type Address struct {
	inner common.Address
}

// Parse parses a 0x-prefixed hex string into an Address.
func Parse(s string) (Address, error) {
	if !common.IsHexAddress(s) {
		return Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return Address{inner: common.HexToAddress(s)}, nil
}

// FromCommon wraps a go-ethereum address.
func FromCommon(a common.Address) Address {
	return Address{inner: a}
}

// Hex returns the checksummed 0x-prefixed hex form.
func (a Address) Hex() string {
	return a.inner.Hex()
}

// Bytes returns the 20-byte representation.
func (a Address) Bytes() []byte {
	return a.inner.Bytes()
}

// IsZero reports whether the address is the zero address.
func (a Address) IsZero() bool {
	return a.inner == (common.Address{})
}

// Parts splits the address into its upper and lower 80-bit halves.
// part1 holds bits 159..80, part2 holds bits 79..0, matching the
// on-chain splitAddress convention (addr >> 80, addr & (1<<80)-1).
func (a Address) Parts() (part1, part2 *big.Int) {
	full := new(big.Int).SetBytes(a.inner.Bytes())
	part1 = new(big.Int).Rsh(full, PartBits)
	part2 = new(big.Int).And(full, partMask)
	return part1, part2
}

// Join reassembles an address from its two 80-bit halves. It fails if
// either half exceeds 80 bits.
func Join(part1, part2 *big.Int) (Address, error) {
	if part1 == nil || part2 == nil {
		return Address{}, fmt.Errorf("%w: nil address part", ErrInvalidAddress)
	}
	if part1.Sign() < 0 || part2.Sign() < 0 || part1.BitLen() > PartBits || part2.BitLen() > PartBits {
		return Address{}, fmt.Errorf("%w: address part out of range", ErrInvalidAddress)
	}
	full := new(big.Int).Lsh(part1, PartBits)
	full.Or(full, part2)
	var buf [20]byte
	full.FillBytes(buf[:])
	return Address{inner: common.BytesToAddress(buf[:])}, nil
}

// MarshalText implements encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.Hex()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// String implements fmt.Stringer.
func (a Address) String() string {
	return a.Hex()
}
