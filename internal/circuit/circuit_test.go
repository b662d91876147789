package circuit

import (
	"encoding/json"
	"math/big"
	"sync"
	"testing"

	"github.com/consensys/gnark/backend/groth16"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pendergraft/trustgate/internal/token"
)

var (
	setupOnce sync.Once
	testSys   *System
	testPK    groth16.ProvingKey
	testVK    groth16.VerifyingKey
	setupErr  error
)

// testSystem compiles the circuit and runs setup once per test binary.
func testSystem(t *testing.T) (*System, groth16.ProvingKey, groth16.VerifyingKey) {
	t.Helper()
	setupOnce.Do(func() {
		testSys, setupErr = Compile(DefaultBounds())
		if setupErr != nil {
			return
		}
		testPK, testVK, setupErr = testSys.Setup()
	})
	require.NoError(t, setupErr)
	return testSys, testPK, testVK
}

func specExample(t *testing.T) (token.Address, RawMetrics) {
	t.Helper()
	addr, err := token.Join(big.NewInt(5), big.NewInt(2))
	require.NoError(t, err)
	return addr, RawMetrics{
		DaysAgoAdded:  365,
		IsActive:      true,
		Volume:        100_000,
		MarketCap:     1_000_000,
		TotalSupply:   10_000_000,
		HasSourceCode: true,
	}
}

func TestProveAndVerify(t *testing.T) {
	sys, pk, vk := testSystem(t)
	addr, metrics := specExample(t)

	proof, outputs, err := sys.Prove(pk, addr, metrics)
	require.NoError(t, err)
	require.NoError(t, Verify(vk, proof, outputs))

	bound, err := outputs.Address()
	require.NoError(t, err)
	assert.Equal(t, addr, bound)
}

func TestDeterministicOutputs(t *testing.T) {
	addr, metrics := specExample(t)

	first, err := ComputeOutputs(DefaultBounds(), addr, metrics)
	require.NoError(t, err)
	second, err := ComputeOutputs(DefaultBounds(), addr, metrics)
	require.NoError(t, err)

	assert.True(t, first.Equal(second))
}

func TestComputeOutputsMatchesFieldArithmetic(t *testing.T) {
	addr, metrics := specExample(t)
	b := DefaultBounds()

	outputs, err := ComputeOutputs(b, addr, metrics)
	require.NoError(t, err)

	r := fieldModulus()
	expected := big.NewInt(365)
	expected.Mul(expected, big.NewInt(100_000))
	expected.Mul(expected, big.NewInt(1_000_000))
	expected.Mul(expected, big.NewInt(10_000_000))
	divisor := new(big.Int).SetUint64(b.MaxDaysAgo)
	divisor.Mul(divisor, new(big.Int).SetUint64(b.MaxVolume))
	divisor.Mul(divisor, new(big.Int).SetUint64(b.MaxMarketCap))
	divisor.Mul(divisor, new(big.Int).SetUint64(b.MaxTotalSupply))
	expected.Mul(expected, new(big.Int).ModInverse(divisor.Mod(divisor, r), r))
	expected.Mod(expected, r)

	assert.Zero(t, outputs.Score.Cmp(expected))

	// signature = score * (5 + 2) / 2^160
	sig := new(big.Int).Mul(expected, big.NewInt(7))
	sig.Mul(sig, addressSpaceInverse())
	sig.Mod(sig, r)
	assert.Zero(t, outputs.Signature.Cmp(sig))
}

func TestMultiplicativeCollapse(t *testing.T) {
	addr, metrics := specExample(t)

	cases := map[string]func(*RawMetrics){
		"inactive":       func(m *RawMetrics) { m.IsActive = false },
		"no source code": func(m *RawMetrics) { m.HasSourceCode = false },
		"zero volume":    func(m *RawMetrics) { m.Volume = 0 },
		"zero supply":    func(m *RawMetrics) { m.TotalSupply = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			m := metrics
			mutate(&m)
			outputs, err := ComputeOutputs(DefaultBounds(), addr, m)
			require.NoError(t, err)
			assert.Zero(t, outputs.Score.Sign(), "score must collapse to exactly zero")
			assert.Zero(t, outputs.Signature.Sign())
		})
	}
}

func TestOutOfBoundsRejected(t *testing.T) {
	sys, pk, _ := testSystem(t)
	addr, metrics := specExample(t)

	cases := map[string]func(*RawMetrics){
		"days over bound":   func(m *RawMetrics) { m.DaysAgoAdded = DefaultMaxDaysAgo + 1 },
		"volume over bound": func(m *RawMetrics) { m.Volume = DefaultMaxVolume + 1 },
		"mcap over bound":   func(m *RawMetrics) { m.MarketCap = DefaultMaxMarketCap + 1 },
		"supply over bound": func(m *RawMetrics) { m.TotalSupply = DefaultMaxTotalSupply + 1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			m := metrics
			mutate(&m)
			_, _, err := sys.Prove(pk, addr, m)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestAddressBindingRejected(t *testing.T) {
	sys, pk, vk := testSystem(t)
	addr, metrics := specExample(t)

	proof, outputs, err := sys.Prove(pk, addr, metrics)
	require.NoError(t, err)

	// Rebinding the same proof to a different token must fail.
	other := &Outputs{
		Score:        outputs.Score,
		Signature:    outputs.Signature,
		AddressPart1: big.NewInt(9),
		AddressPart2: big.NewInt(9),
	}
	assert.ErrorIs(t, Verify(vk, proof, other), ErrInvalidProof)
}

func TestTamperedScoreRejected(t *testing.T) {
	sys, pk, vk := testSystem(t)
	addr, metrics := specExample(t)

	proof, outputs, err := sys.Prove(pk, addr, metrics)
	require.NoError(t, err)

	tampered := &Outputs{
		Score:        new(big.Int).Add(outputs.Score, big.NewInt(1)),
		Signature:    outputs.Signature,
		AddressPart1: outputs.AddressPart1,
		AddressPart2: outputs.AddressPart2,
	}
	assert.ErrorIs(t, Verify(vk, proof, tampered), ErrInvalidProof)
}

func TestVerifyingKeyRoundTrip(t *testing.T) {
	sys, pk, vk := testSystem(t)
	addr, metrics := specExample(t)

	data, err := MarshalVerifyingKey(vk)
	require.NoError(t, err)
	restored, err := UnmarshalVerifyingKey(data)
	require.NoError(t, err)

	proof, outputs, err := sys.Prove(pk, addr, metrics)
	require.NoError(t, err)
	assert.NoError(t, Verify(restored, proof, outputs))
}

func TestProofArtifactJSON(t *testing.T) {
	sys, pk, vk := testSystem(t)
	addr, metrics := specExample(t)

	proof, outputs, err := sys.Prove(pk, addr, metrics)
	require.NoError(t, err)

	data, err := json.Marshal(proof)
	require.NoError(t, err)

	var decoded Proof
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, CurveID, decoded.Curve)
	assert.Equal(t, SchemeID, decoded.Scheme)
	assert.NoError(t, Verify(vk, &decoded, outputs))
}

func TestVerifyRejectsWrongArtifactTags(t *testing.T) {
	_, _, vk := testSystem(t)
	err := Verify(vk, &Proof{Curve: "bls12-381", Scheme: SchemeID}, &Outputs{
		Score: big.NewInt(0), Signature: big.NewInt(0),
		AddressPart1: big.NewInt(0), AddressPart2: big.NewInt(0),
	})
	assert.ErrorIs(t, err, ErrInvalidProof)
}

func TestFieldElementParsing(t *testing.T) {
	v, err := FieldElement("0x0a")
	require.NoError(t, err)
	assert.EqualValues(t, 10, v.Int64())

	round, err := FieldElement(FormatFieldElement(big.NewInt(42)))
	require.NoError(t, err)
	assert.EqualValues(t, 42, round.Int64())

	_, err = FieldElement("10")
	assert.Error(t, err)

	_, err = FieldElement(FormatFieldElement(fieldModulus()))
	assert.Error(t, err)
}
