package circuit

import (
	"bytes"
	"fmt"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"

	"github.com/pendergraft/trustgate/internal/token"
)

// Proof artifact tags, kept for interop with verifiers that dispatch on
// curve and scheme.
const (
	CurveID  = "bn254"
	SchemeID = "groth16"
)

// Proof is the serialized zero-knowledge proof for one score computation.
type Proof struct {
	Curve  string `json:"curve"`
	Scheme string `json:"scheme"`
	Data   []byte `json:"proof"`
}

// System is a compiled score circuit for a fixed set of bounds. Compiling
// is expensive; one System is shared by every proof a vendor produces.
type System struct {
	bounds Bounds
	cs     constraint.ConstraintSystem
}

// Compile builds the constraint system for the given bounds.
func Compile(b Bounds) (*System, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	cs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, newScoreCircuit(b))
	if err != nil {
		return nil, fmt.Errorf("compiling score circuit: %w", err)
	}
	return &System{bounds: b, cs: cs}, nil
}

// Bounds returns the bounds the system was compiled with.
func (s *System) Bounds() Bounds {
	return s.bounds
}

// Setup runs the groth16 trusted setup and returns the key pair.
func (s *System) Setup() (groth16.ProvingKey, groth16.VerifyingKey, error) {
	pk, vk, err := groth16.Setup(s.cs)
	if err != nil {
		return nil, nil, fmt.Errorf("groth16 setup: %w", err)
	}
	return pk, vk, nil
}

// Prove generates a proof that the score and signature for addr were
// computed correctly from metrics. Inputs violating a bound fail with
// ErrInvalidInput before any proving work.
func (s *System) Prove(pk groth16.ProvingKey, addr token.Address, m RawMetrics) (*Proof, *Outputs, error) {
	outputs, err := ComputeOutputs(s.bounds, addr, m)
	if err != nil {
		return nil, nil, err
	}

	assignment := &scoreCircuit{
		Score:         outputs.Score,
		Signature:     outputs.Signature,
		AddressPart1:  outputs.AddressPart1,
		AddressPart2:  outputs.AddressPart2,
		DaysAgoAdded:  m.DaysAgoAdded,
		IsActive:      boolToUint64(m.IsActive),
		Volume:        m.Volume,
		MarketCap:     m.MarketCap,
		TotalSupply:   m.TotalSupply,
		HasSourceCode: boolToUint64(m.HasSourceCode),
	}
	witness, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		return nil, nil, fmt.Errorf("building witness: %w", err)
	}

	proof, err := groth16.Prove(s.cs, pk, witness)
	if err != nil {
		return nil, nil, fmt.Errorf("generating proof: %w", err)
	}

	var buf bytes.Buffer
	if _, err := proof.WriteTo(&buf); err != nil {
		return nil, nil, fmt.Errorf("serializing proof: %w", err)
	}

	return &Proof{Curve: CurveID, Scheme: SchemeID, Data: buf.Bytes()}, outputs, nil
}

// Verify checks a proof against the verifying key and the revealed public
// outputs. Any failure is reported as ErrInvalidProof; callers must treat
// it as fail-closed.
func Verify(vk groth16.VerifyingKey, p *Proof, o *Outputs) error {
	if p == nil || o == nil {
		return fmt.Errorf("%w: missing proof or outputs", ErrInvalidProof)
	}
	if p.Curve != CurveID || p.Scheme != SchemeID {
		return fmt.Errorf("%w: unsupported artifact %s/%s", ErrInvalidProof, p.Curve, p.Scheme)
	}

	proof := groth16.NewProof(ecc.BN254)
	if _, err := proof.ReadFrom(bytes.NewReader(p.Data)); err != nil {
		return fmt.Errorf("%w: malformed proof: %v", ErrInvalidProof, err)
	}

	assignment := &scoreCircuit{
		Score:        o.Score,
		Signature:    o.Signature,
		AddressPart1: o.AddressPart1,
		AddressPart2: o.AddressPart2,
	}
	publicWitness, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return fmt.Errorf("%w: building public witness: %v", ErrInvalidProof, err)
	}

	if err := groth16.Verify(proof, vk, publicWitness); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}
	return nil
}

// MarshalProvingKey serializes a proving key for storage.
func MarshalProvingKey(pk groth16.ProvingKey) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := pk.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("serializing proving key: %w", err)
	}
	return buf.Bytes(), nil
}

// UnmarshalProvingKey deserializes a stored proving key.
func UnmarshalProvingKey(data []byte) (groth16.ProvingKey, error) {
	pk := groth16.NewProvingKey(ecc.BN254)
	if _, err := pk.ReadFrom(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("parsing proving key: %w", err)
	}
	return pk, nil
}

// MarshalVerifyingKey serializes a verifying key for storage.
func MarshalVerifyingKey(vk groth16.VerifyingKey) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := vk.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("serializing verifying key: %w", err)
	}
	return buf.Bytes(), nil
}

// UnmarshalVerifyingKey deserializes a stored verifying key.
func UnmarshalVerifyingKey(data []byte) (groth16.VerifyingKey, error) {
	vk := groth16.NewVerifyingKey(ecc.BN254)
	if _, err := vk.ReadFrom(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("parsing verifying key: %w", err)
	}
	return vk, nil
}
