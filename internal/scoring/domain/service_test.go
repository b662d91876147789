package domain

import (
	"context"
	"sync"
	"testing"

	"github.com/consensys/gnark/backend/groth16"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pendergraft/trustgate/internal/circuit"
	"github.com/pendergraft/trustgate/internal/marketdata"
	"github.com/pendergraft/trustgate/internal/token"
)

// mockProvider implements marketdata.Provider for testing
type mockProvider struct {
	metrics circuit.RawMetrics
	info    marketdata.TokenInfo
	err     error
}

func (m *mockProvider) FetchMetrics(ctx context.Context, addr token.Address) (circuit.RawMetrics, marketdata.TokenInfo, error) {
	if m.err != nil {
		return circuit.RawMetrics{}, marketdata.TokenInfo{}, m.err
	}
	return m.metrics, m.info, nil
}

var (
	setupOnce sync.Once
	testSys   *circuit.System
	testPK    groth16.ProvingKey
	testVK    groth16.VerifyingKey
	setupErr  error
)

// testSystem compiles the circuit and runs setup once for the package.
func testSystem(t *testing.T) (*circuit.System, groth16.ProvingKey, groth16.VerifyingKey) {
	t.Helper()
	setupOnce.Do(func() {
		testSys, setupErr = circuit.Compile(circuit.DefaultBounds())
		if setupErr != nil {
			return
		}
		testPK, testVK, setupErr = testSys.Setup()
	})
	require.NoError(t, setupErr)
	return testSys, testPK, testVK
}

func goodMetrics() circuit.RawMetrics {
	return circuit.RawMetrics{
		DaysAgoAdded:  365,
		IsActive:      true,
		Volume:        100_000,
		MarketCap:     1_000_000,
		TotalSupply:   10_000_000,
		HasSourceCode: true,
	}
}

func TestEvaluate(t *testing.T) {
	sys, pk, vk := testSystem(t)
	provider := &mockProvider{
		metrics: goodMetrics(),
		info:    marketdata.TokenInfo{Name: "Tether", Symbol: "USDT"},
	}

	svc, err := NewService("vendor-alpha", "v1.0.0", provider, sys, pk)
	require.NoError(t, err)

	attestation, err := svc.Evaluate(context.Background(), EvaluateRequest{
		Address: "0x0000000000000000000000000000000000000005",
		Epoch:   "2026-08-31",
	})
	require.NoError(t, err)

	assert.Equal(t, "vendor-alpha", attestation.VendorID)
	assert.Equal(t, "0x0000000000000000000000000000000000000005", attestation.Address)
	assert.Equal(t, "2026-08-31", attestation.Epoch)
	assert.Equal(t, "v1.0.0", attestation.KeyVersion)
	assert.Equal(t, "Tether", attestation.TokenName)
	assert.Equal(t, "USDT", attestation.TokenSymbol)
	assert.NotEmpty(t, attestation.ID)
	assert.NotNil(t, attestation.Proof)

	// The attestation must verify against the public outputs it reveals
	outputs, err := parseOutputs(attestation)
	require.NoError(t, err)
	require.NoError(t, circuit.Verify(vk, attestation.Proof, outputs))

	// And the revealed parts must reassemble the claimed address
	addr, err := outputs.Address()
	require.NoError(t, err)
	assert.Equal(t, attestation.Address, addr.Hex())
}

func TestEvaluateDefaultsEpoch(t *testing.T) {
	sys, pk, _ := testSystem(t)
	provider := &mockProvider{metrics: goodMetrics()}

	svc, err := NewService("vendor-alpha", "v1.0.0", provider, sys, pk)
	require.NoError(t, err)

	attestation, err := svc.Evaluate(context.Background(), EvaluateRequest{
		Address: "0x0000000000000000000000000000000000000005",
	})
	require.NoError(t, err)
	assert.Regexp(t, `^\d{4}-\d{2}-\d{2}$`, attestation.Epoch)
}

func TestEvaluateInvalidAddress(t *testing.T) {
	sys, pk, _ := testSystem(t)
	svc, err := NewService("vendor-alpha", "v1.0.0", &mockProvider{metrics: goodMetrics()}, sys, pk)
	require.NoError(t, err)

	_, err = svc.Evaluate(context.Background(), EvaluateRequest{Address: "not-an-address"})
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func TestEvaluateInvalidEpoch(t *testing.T) {
	sys, pk, _ := testSystem(t)
	svc, err := NewService("vendor-alpha", "v1.0.0", &mockProvider{metrics: goodMetrics()}, sys, pk)
	require.NoError(t, err)

	_, err = svc.Evaluate(context.Background(), EvaluateRequest{
		Address: "0x0000000000000000000000000000000000000005",
		Epoch:   "bad epoch!",
	})
	assert.ErrorIs(t, err, ErrInvalidEpoch)
}

func TestEvaluateDataUnavailable(t *testing.T) {
	sys, pk, _ := testSystem(t)
	provider := &mockProvider{err: marketdata.ErrDataUnavailable}
	svc, err := NewService("vendor-alpha", "v1.0.0", provider, sys, pk)
	require.NoError(t, err)

	_, err = svc.Evaluate(context.Background(), EvaluateRequest{
		Address: "0x0000000000000000000000000000000000000005",
	})
	assert.ErrorIs(t, err, marketdata.ErrDataUnavailable)
}

func TestEvaluateOutOfBoundsMetrics(t *testing.T) {
	sys, pk, _ := testSystem(t)
	bad := goodMetrics()
	bad.Volume = circuit.DefaultMaxVolume + 1
	provider := &mockProvider{metrics: bad}

	svc, err := NewService("vendor-alpha", "v1.0.0", provider, sys, pk)
	require.NoError(t, err)

	_, err = svc.Evaluate(context.Background(), EvaluateRequest{
		Address: "0x0000000000000000000000000000000000000005",
	})
	assert.ErrorIs(t, err, circuit.ErrInvalidInput)
}

func TestEvaluateMetricsOffline(t *testing.T) {
	sys, pk, vk := testSystem(t)
	svc, err := NewService("vendor-beta", "v1.0.0", &mockProvider{}, sys, pk)
	require.NoError(t, err)

	attestation, err := svc.EvaluateMetrics(context.Background(), EvaluateRequest{
		Address: "0x0000000000000000000000000000000000000005",
		Epoch:   "2026-08-31",
	}, goodMetrics())
	require.NoError(t, err)

	assert.Equal(t, "vendor-beta", attestation.VendorID)
	outputs, err := parseOutputs(attestation)
	require.NoError(t, err)
	require.NoError(t, circuit.Verify(vk, attestation.Proof, outputs))
}

func TestNewServiceRejectsBadVendorID(t *testing.T) {
	sys, pk, _ := testSystem(t)
	_, err := NewService("Bad_Vendor", "v1.0.0", &mockProvider{}, sys, pk)
	assert.ErrorIs(t, err, ErrInvalidVendorID)
}

func parseOutputs(a *Attestation) (*circuit.Outputs, error) {
	score, err := circuit.FieldElement(a.Score)
	if err != nil {
		return nil, err
	}
	signature, err := circuit.FieldElement(a.Signature)
	if err != nil {
		return nil, err
	}
	part1, err := circuit.FieldElement(a.AddressPart1)
	if err != nil {
		return nil, err
	}
	part2, err := circuit.FieldElement(a.AddressPart2)
	if err != nil {
		return nil, err
	}
	return &circuit.Outputs{Score: score, Signature: signature, AddressPart1: part1, AddressPart2: part2}, nil
}
