package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/consensys/gnark/backend/groth16"
	"github.com/google/uuid"

	"github.com/pendergraft/trustgate/internal/circuit"
	"github.com/pendergraft/trustgate/internal/marketdata"
	"github.com/pendergraft/trustgate/internal/observability/metrics"
	"github.com/pendergraft/trustgate/internal/token"
	"github.com/pendergraft/trustgate/internal/validation"
)

// Common errors returned by the scoring service.
var (
	ErrInvalidAddress  = errors.New("invalid address")
	ErrInvalidEpoch    = errors.New("invalid epoch")
	ErrInvalidVendorID = errors.New("invalid vendor id")
)

type service struct {
	vendorID   string
	keyVersion string
	provider   marketdata.Provider
	system     *circuit.System
	provingKey groth16.ProvingKey
	now        func() time.Time
}

// NewService creates a vendor scoring service. The system and proving key
// must come from the same compilation.
func NewService(vendorID, keyVersion string, provider marketdata.Provider, system *circuit.System, pk groth16.ProvingKey) (*service, error) {
	if err := validation.ValidateVendorID(vendorID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidVendorID, err)
	}
	return &service{
		vendorID:   vendorID,
		keyVersion: keyVersion,
		provider:   provider,
		system:     system,
		provingKey: pk,
		now:        time.Now,
	}, nil
}

// Evaluate fetches market metrics for a token, runs the score circuit and
// returns a proved attestation. The metrics never leave this method; only
// the public outputs appear in the attestation.
func (s *service) Evaluate(ctx context.Context, req EvaluateRequest) (*Attestation, error) {
	if err := validation.ValidateAddress(req.Address); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	addr, err := token.Parse(req.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}

	epoch := req.Epoch
	if epoch == "" {
		epoch = s.now().UTC().Format("2006-01-02")
	}
	if err := validation.ValidateEpoch(epoch); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEpoch, err)
	}

	rawMetrics, info, err := s.provider.FetchMetrics(ctx, addr)
	if err != nil {
		metrics.Evaluation(s.vendorID, "data_unavailable")
		return nil, err
	}

	attestation, err := s.attest(addr, epoch, rawMetrics)
	if err != nil {
		metrics.Evaluation(s.vendorID, "error")
		return nil, err
	}
	attestation.TokenName = info.Name
	attestation.TokenSymbol = info.Symbol

	metrics.Evaluation(s.vendorID, "ok")
	return attestation, nil
}

// EvaluateMetrics proves an attestation from caller-supplied metrics,
// bypassing the market data providers. Used for offline evaluation.
func (s *service) EvaluateMetrics(ctx context.Context, req EvaluateRequest, m circuit.RawMetrics) (*Attestation, error) {
	if err := validation.ValidateAddress(req.Address); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	addr, err := token.Parse(req.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}

	epoch := req.Epoch
	if epoch == "" {
		epoch = s.now().UTC().Format("2006-01-02")
	}
	if err := validation.ValidateEpoch(epoch); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEpoch, err)
	}

	attestation, err := s.attest(addr, epoch, m)
	if err != nil {
		metrics.Evaluation(s.vendorID, "error")
		return nil, err
	}
	metrics.Evaluation(s.vendorID, "ok")
	return attestation, nil
}

func (s *service) attest(addr token.Address, epoch string, m circuit.RawMetrics) (*Attestation, error) {
	start := time.Now()
	proof, outputs, err := s.system.Prove(s.provingKey, addr, m)
	if err != nil {
		return nil, err
	}
	metrics.ProveDuration(time.Since(start))

	return &Attestation{
		ID:           uuid.New().String(),
		VendorID:     s.vendorID,
		Address:      addr.Hex(),
		Epoch:        epoch,
		Score:        circuit.FormatFieldElement(outputs.Score),
		Signature:    circuit.FormatFieldElement(outputs.Signature),
		AddressPart1: circuit.FormatFieldElement(outputs.AddressPart1),
		AddressPart2: circuit.FormatFieldElement(outputs.AddressPart2),
		Proof:        proof,
		KeyVersion:   s.keyVersion,
		CreatedAt:    s.now().UTC(),
	}, nil
}
