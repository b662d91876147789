package domain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/consensys/gnark/backend/groth16"
	"github.com/google/uuid"

	"github.com/pendergraft/trustgate/internal/circuit"
	"github.com/pendergraft/trustgate/internal/observability/metrics"
	"github.com/pendergraft/trustgate/internal/storage"
	"github.com/pendergraft/trustgate/internal/token"
	"github.com/pendergraft/trustgate/internal/validation"
)

// Common errors returned by the aggregation service.
var (
	ErrNotFound           = errors.New("certification not found")
	ErrInvalidAttestation = errors.New("invalid attestation")
	ErrDuplicateVendor    = errors.New("vendor already attested for this token and epoch")
	ErrQuorumNotMet       = errors.New("quorum not met")
	ErrDisputed           = errors.New("vendors disagree on score")
)

// AttestationStore defines the attestation storage operations needed by the
// aggregation domain.
type AttestationStore interface {
	RecordAttestation(ctx context.Context, a *storage.Attestation) error
	ListAttestations(ctx context.Context, address, epoch string) ([]storage.Attestation, error)
}

// CertificationStore defines the certification storage operations needed by
// the aggregation domain.
type CertificationStore interface {
	RecordCertification(ctx context.Context, c *storage.Certification) error
	GetCertification(ctx context.Context, address, epoch string) (*storage.Certification, error)
}

// Config holds the agreement parameters for a collection round.
type Config struct {
	// Quorum is the minimum number of distinct vendors.
	Quorum int
	// ToleranceDelta is the maximum absolute difference between any two
	// agreed scores, on their canonical integer representatives. Zero
	// means exact equality.
	ToleranceDelta *big.Int
	// Window bounds how long Wait blocks for quorum.
	Window time.Duration
}

type service struct {
	attestations   AttestationStore
	certifications CertificationStore
	vk             groth16.VerifyingKey
	cfg            Config

	mu     sync.Mutex
	signal map[string]*quorumSignal
}

// quorumSignal is a broadcast channel shared by the waiters on one
// (address, epoch) round, refcounted so abandoned rounds do not pin
// map entries.
type quorumSignal struct {
	ch   chan struct{}
	refs int
}

// NewService creates an aggregation service. The verifying key must match
// the circuit version vendors prove against.
func NewService(attestations AttestationStore, certifications CertificationStore, vk groth16.VerifyingKey, cfg Config) *service {
	if cfg.Quorum < 1 {
		cfg.Quorum = 1
	}
	if cfg.ToleranceDelta == nil {
		cfg.ToleranceDelta = new(big.Int)
	}
	if cfg.Window <= 0 {
		cfg.Window = 5 * time.Minute
	}
	return &service{
		attestations:   attestations,
		certifications: certifications,
		vk:             vk,
		cfg:            cfg,
		signal:         make(map[string]*quorumSignal),
	}
}

// Submit validates and records one vendor attestation. The proof is
// verified against the revealed outputs and the revealed address parts
// must reassemble the claimed token address. Submission order is
// irrelevant; vendors may submit concurrently.
func (s *service) Submit(ctx context.Context, att Attestation) error {
	outputs, err := s.validate(att)
	if err != nil {
		metrics.Attestation(att.VendorID, "rejected")
		return err
	}

	if err := circuit.Verify(s.vk, att.Proof, outputs); err != nil {
		metrics.Attestation(att.VendorID, "invalid_proof")
		return err
	}

	proofBytes, err := json.Marshal(att.Proof)
	if err != nil {
		return fmt.Errorf("encoding proof: %w", err)
	}

	record := &storage.Attestation{
		ID:        uuid.New().String(),
		VendorID:  att.VendorID,
		Address:   normalizeAddress(att.Address),
		Epoch:     att.Epoch,
		Score:     outputs.Score.String(),
		Signature: outputs.Signature.String(),
		Proof:     proofBytes,
	}
	if err := s.attestations.RecordAttestation(ctx, record); err != nil {
		if errors.Is(err, storage.ErrDuplicateAttestation) {
			metrics.Attestation(att.VendorID, "duplicate")
			return fmt.Errorf("%w: %s", ErrDuplicateVendor, att.VendorID)
		}
		return fmt.Errorf("recording attestation: %w", err)
	}

	metrics.Attestation(att.VendorID, "ok")
	s.broadcast(record.Address, record.Epoch)
	return nil
}

// Certify evaluates the current attestation set for a token and epoch.
// Under quorum it fails with ErrQuorumNotMet without persisting anything,
// so callers can retry as more vendors arrive. At or above quorum the
// outcome (certified or disputed) is persisted; disputes also return
// ErrDisputed.
func (s *service) Certify(ctx context.Context, address, epoch string) (*Certification, error) {
	if err := validation.ValidateAddress(address); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAttestation, err)
	}
	address = normalizeAddress(address)

	attestations, err := s.attestations.ListAttestations(ctx, address, epoch)
	if err != nil {
		return nil, fmt.Errorf("listing attestations: %w", err)
	}
	if len(attestations) < s.cfg.Quorum {
		return nil, fmt.Errorf("%w: have %d of %d vendors", ErrQuorumNotMet, len(attestations), s.cfg.Quorum)
	}

	scores := make([]*big.Int, 0, len(attestations))
	vendors := make([]string, 0, len(attestations))
	for _, a := range attestations {
		v, ok := new(big.Int).SetString(a.Score, 10)
		if !ok {
			return nil, fmt.Errorf("%w: stored score %q", ErrInvalidAttestation, a.Score)
		}
		scores = append(scores, v)
		vendors = append(vendors, a.VendorID)
	}
	sort.Slice(scores, func(i, j int) bool { return scores[i].Cmp(scores[j]) < 0 })
	sort.Strings(vendors)

	cert := &Certification{
		Address:   address,
		Epoch:     epoch,
		Quorum:    s.cfg.Quorum,
		VendorIDs: vendors,
	}

	// Agreement: the spread between the extreme scores stays within the
	// tolerance delta.
	spread := new(big.Int).Sub(scores[len(scores)-1], scores[0])
	if spread.Cmp(s.cfg.ToleranceDelta) > 0 {
		cert.Status = StatusDisputed
	} else {
		cert.Status = StatusCertified
		// Lower median, deterministic regardless of arrival order.
		cert.AgreedScore = circuit.FormatFieldElement(scores[(len(scores)-1)/2])
	}

	if err := s.persist(ctx, cert, attestations); err != nil {
		return nil, err
	}
	metrics.Certification(cert.Status)

	if cert.Status == StatusDisputed {
		return cert, fmt.Errorf("%w: %s spread exceeds tolerance", ErrDisputed, spread)
	}
	return cert, nil
}

// Wait blocks until the token reaches quorum within the evaluation window
// and returns the certification outcome. The window is bounded by the
// service config and by ctx. Deadline expiry under quorum returns
// ErrQuorumNotMet.
func (s *service) Wait(ctx context.Context, address, epoch string) (*Certification, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Window)
	defer cancel()

	address = normalizeAddress(address)
	for {
		ch, release := s.subscribe(address, epoch)

		cert, err := s.Certify(ctx, address, epoch)
		if !errors.Is(err, ErrQuorumNotMet) {
			release()
			return cert, err
		}

		select {
		case <-ch:
			release()
		case <-ctx.Done():
			release()
			return nil, fmt.Errorf("%w: evaluation window expired", ErrQuorumNotMet)
		}
	}
}

// Get returns the recorded certification for a token and epoch.
func (s *service) Get(ctx context.Context, address, epoch string) (*Certification, error) {
	if err := validation.ValidateAddress(address); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAttestation, err)
	}
	record, err := s.certifications.GetCertification(ctx, normalizeAddress(address), epoch)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting certification: %w", err)
	}

	cert := &Certification{
		Address:   record.Address,
		Epoch:     record.Epoch,
		Status:    record.Status,
		Quorum:    record.Quorum,
		VendorIDs: record.VendorIDs,
	}
	if record.AgreedScore != "" {
		v, ok := new(big.Int).SetString(record.AgreedScore, 10)
		if !ok {
			return nil, fmt.Errorf("stored agreed score %q is not decimal", record.AgreedScore)
		}
		cert.AgreedScore = circuit.FormatFieldElement(v)
	}
	if record.CreatedAt != "" {
		if t, err := time.Parse("2006-01-02 15:04:05", record.CreatedAt); err == nil {
			cert.CreatedAt = t
		}
	}
	return cert, nil
}

func (s *service) validate(att Attestation) (*circuit.Outputs, error) {
	if err := validation.ValidateVendorID(att.VendorID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAttestation, err)
	}
	if err := validation.ValidateAddress(att.Address); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAttestation, err)
	}
	if err := validation.ValidateEpoch(att.Epoch); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAttestation, err)
	}
	if att.Proof == nil {
		return nil, fmt.Errorf("%w: missing proof", ErrInvalidAttestation)
	}

	outputs, err := parseOutputs(att.Score, att.Signature, att.AddressPart1, att.AddressPart2)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAttestation, err)
	}

	// The revealed parts must reassemble the address the vendor claims to
	// have scored.
	bound, err := outputs.Address()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAttestation, err)
	}
	if bound.Hex() != normalizeAddress(att.Address) {
		return nil, fmt.Errorf("%w: proof is bound to %s, not %s", ErrInvalidAttestation, bound.Hex(), att.Address)
	}
	return outputs, nil
}

func (s *service) persist(ctx context.Context, cert *Certification, attestations []storage.Attestation) error {
	proofSet := make([]json.RawMessage, 0, len(attestations))
	for _, a := range attestations {
		proofSet = append(proofSet, json.RawMessage(a.Proof))
	}
	proofSetBytes, err := json.Marshal(proofSet)
	if err != nil {
		return fmt.Errorf("encoding proof set: %w", err)
	}

	var agreed string
	if cert.AgreedScore != "" {
		v, err := circuit.FieldElement(cert.AgreedScore)
		if err != nil {
			return err
		}
		agreed = v.String()
	}

	record := &storage.Certification{
		ID:          uuid.New().String(),
		Address:     cert.Address,
		Epoch:       cert.Epoch,
		Status:      cert.Status,
		AgreedScore: agreed,
		Quorum:      cert.Quorum,
		VendorIDs:   cert.VendorIDs,
		ProofSet:    proofSetBytes,
	}
	if err := s.certifications.RecordCertification(ctx, record); err != nil {
		return fmt.Errorf("recording certification: %w", err)
	}
	return nil
}

// subscribe registers a waiter for the round's broadcast. The returned
// release func must be called once the waiter is done with the channel;
// the map entry is dropped when the last waiter releases it.
func (s *service) subscribe(address, epoch string) (<-chan struct{}, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := address + "@" + epoch
	sig, ok := s.signal[key]
	if !ok {
		sig = &quorumSignal{ch: make(chan struct{})}
		s.signal[key] = sig
	}
	sig.refs++
	return sig.ch, func() { s.unsubscribe(key, sig) }
}

func (s *service) unsubscribe(key string, sig *quorumSignal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sig.refs--
	// broadcast may already have replaced or removed the entry.
	if sig.refs == 0 && s.signal[key] == sig {
		delete(s.signal, key)
	}
}

func (s *service) broadcast(address, epoch string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := address + "@" + epoch
	if sig, ok := s.signal[key]; ok {
		close(sig.ch)
		delete(s.signal, key)
	}
}

// normalizeAddress puts an address in the canonical checksummed form used
// as the storage key.
func normalizeAddress(s string) string {
	a, err := token.Parse(s)
	if err != nil {
		return s
	}
	return a.Hex()
}

func parseOutputs(score, signature, part1, part2 string) (*circuit.Outputs, error) {
	scoreV, err := circuit.FieldElement(score)
	if err != nil {
		return nil, err
	}
	signatureV, err := circuit.FieldElement(signature)
	if err != nil {
		return nil, err
	}
	part1V, err := circuit.FieldElement(part1)
	if err != nil {
		return nil, err
	}
	part2V, err := circuit.FieldElement(part2)
	if err != nil {
		return nil, err
	}
	return &circuit.Outputs{Score: scoreV, Signature: signatureV, AddressPart1: part1V, AddressPart2: part2V}, nil
}
