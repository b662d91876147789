package domain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/consensys/gnark/backend/groth16"

	"github.com/pendergraft/trustgate/internal/circuit"
	"github.com/pendergraft/trustgate/internal/observability/metrics"
	"github.com/pendergraft/trustgate/internal/storage"
	"github.com/pendergraft/trustgate/internal/token"
	"github.com/pendergraft/trustgate/internal/validation"
)

// Common errors returned by the whitelist service.
var (
	ErrNotFound          = errors.New("token not listed")
	ErrInvalidSubmission = errors.New("invalid submission")
	ErrInvalidThreshold  = errors.New("invalid threshold")
)

// Store defines the storage operations needed by the whitelist domain.
type Store interface {
	GetWhitelistEntry(ctx context.Context, address string) (*storage.WhitelistEntry, error)
	UpsertWhitelistEntry(ctx context.Context, entry *storage.WhitelistEntry) error
	ListWhitelistEntries(ctx context.Context, filter storage.WhitelistFilter, pagination storage.PaginationParams) (*storage.PaginatedResult[storage.WhitelistEntry], error)
	GetThreshold(ctx context.Context) (string, error)
	SetThreshold(ctx context.Context, value string) error
}

type service struct {
	store Store
	vk    groth16.VerifyingKey

	// commitMu serializes commits per token so at most one transition
	// lands per submission.
	mu       sync.Mutex
	commitMu map[string]*sync.Mutex
}

// NewService creates a whitelist service bound to a fixed verifying key.
func NewService(store Store, vk groth16.VerifyingKey) *service {
	return &service{
		store:    store,
		vk:       vk,
		commitMu: make(map[string]*sync.Mutex),
	}
}

// EnsureThreshold seeds the submission threshold if none is set yet.
// Existing thresholds are left untouched.
func (s *service) EnsureThreshold(ctx context.Context, initial string) error {
	_, err := s.store.GetThreshold(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("reading threshold: %w", err)
	}
	v, ok := new(big.Int).SetString(initial, 10)
	if !ok || v.Sign() < 0 {
		return fmt.Errorf("%w: %q", ErrInvalidThreshold, initial)
	}
	return s.store.SetThreshold(ctx, v.String())
}

// Submit verifies a certified proof and commits the resulting state
// transition. Verification fails closed: any proof defect leaves the
// stored state untouched. The threshold is read at commit time, so an
// update between verify and commit applies to this submission.
func (s *service) Submit(ctx context.Context, req SubmitRequest) (*Entry, error) {
	if err := validation.ValidateAddress(req.Address); err != nil {
		metrics.Submission("rejected")
		return nil, fmt.Errorf("%w: %v", ErrInvalidSubmission, err)
	}
	if req.Proof == nil {
		metrics.Submission("rejected")
		return nil, fmt.Errorf("%w: missing proof", ErrInvalidSubmission)
	}

	outputs, err := parseOutputs(req.Score, req.Signature, req.AddressPart1, req.AddressPart2)
	if err != nil {
		metrics.Submission("rejected")
		return nil, fmt.Errorf("%w: %v", ErrInvalidSubmission, err)
	}

	addr, err := token.Parse(req.Address)
	if err != nil {
		metrics.Submission("rejected")
		return nil, fmt.Errorf("%w: %v", ErrInvalidSubmission, err)
	}

	// The revealed parts must be bound to the submitted token.
	bound, err := outputs.Address()
	if err != nil {
		metrics.Submission("rejected")
		return nil, fmt.Errorf("%w: %v", ErrInvalidSubmission, err)
	}
	if bound != addr {
		metrics.Submission("rejected")
		return nil, fmt.Errorf("%w: proof is bound to %s, not %s", ErrInvalidSubmission, bound.Hex(), addr.Hex())
	}

	if err := circuit.Verify(s.vk, req.Proof, outputs); err != nil {
		metrics.ProofVerify("invalid")
		metrics.Submission("invalid_proof")
		return nil, err
	}
	metrics.ProofVerify("valid")

	return s.commit(ctx, addr, outputs, req.Proof)
}

// commit applies the state machine under the per-token lock.
func (s *service) commit(ctx context.Context, addr token.Address, outputs *circuit.Outputs, proof *circuit.Proof) (*Entry, error) {
	unlock := s.lock(addr.Hex())
	defer unlock()

	address := addr.Hex()
	prior, err := s.store.GetWhitelistEntry(ctx, address)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("loading whitelist entry: %w", err)
	}

	priorState := storage.StateUnlisted
	if prior != nil {
		priorState = prior.State
	}

	proofHash := hashProof(proof)

	// Identical certified proof again: refresh the timestamp, nothing else.
	if prior != nil && prior.LastProofHash == proofHash && prior.LastScore == outputs.Score.String() {
		if err := s.store.UpsertWhitelistEntry(ctx, prior); err != nil {
			return nil, fmt.Errorf("refreshing whitelist entry: %w", err)
		}
		refreshed, err := s.store.GetWhitelistEntry(ctx, address)
		if err != nil {
			return nil, fmt.Errorf("reloading whitelist entry: %w", err)
		}
		metrics.Submission("idempotent")
		return toEntry(refreshed), nil
	}

	threshold, err := s.currentThreshold(ctx)
	if err != nil {
		return nil, err
	}

	next := storage.StateUnlisted
	whitelisted := false
	if outputs.Score.Cmp(threshold) >= 0 {
		next = storage.StateWhitelisted
		whitelisted = true
	} else if priorState == storage.StateWhitelisted || priorState == storage.StateDelisted {
		next = storage.StateDelisted
	}

	entry := &storage.WhitelistEntry{
		Address:       address,
		State:         next,
		IsWhitelisted: whitelisted,
		LastScore:     outputs.Score.String(),
		LastProofHash: proofHash,
	}
	if err := s.store.UpsertWhitelistEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("committing whitelist entry: %w", err)
	}

	// Every submission passes through pending before settling.
	metrics.WhitelistTransition(priorState, storage.StatePending)
	metrics.WhitelistTransition(storage.StatePending, next)
	metrics.Submission(next)

	stored, err := s.store.GetWhitelistEntry(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("reloading whitelist entry: %w", err)
	}
	return toEntry(stored), nil
}

// Get returns the whitelist state for a token. Unknown tokens report the
// unlisted state rather than an error.
func (s *service) Get(ctx context.Context, address string) (*Entry, error) {
	if err := validation.ValidateAddress(address); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSubmission, err)
	}
	addr, err := token.Parse(address)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSubmission, err)
	}

	entry, err := s.store.GetWhitelistEntry(ctx, addr.Hex())
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return &Entry{Address: addr.Hex(), State: StateUnlisted}, nil
		}
		return nil, fmt.Errorf("getting whitelist entry: %w", err)
	}
	return toEntry(entry), nil
}

// List returns a page of whitelist entries.
func (s *service) List(ctx context.Context, filter ListFilter, pagination PaginationParams) (*ListResult, error) {
	if pagination.Limit <= 0 || pagination.Limit > 100 {
		pagination.Limit = 50
	}
	result, err := s.store.ListWhitelistEntries(ctx, storage.WhitelistFilter{
		State:       filter.State,
		Whitelisted: filter.Whitelisted,
	}, storage.PaginationParams{
		Limit:  pagination.Limit,
		Cursor: pagination.Cursor,
	})
	if err != nil {
		return nil, fmt.Errorf("listing whitelist entries: %w", err)
	}

	entries := make([]Entry, 0, len(result.Data))
	for i := range result.Data {
		entries = append(entries, *toEntry(&result.Data[i]))
	}
	return &ListResult{
		Entries:    entries,
		HasMore:    result.HasMore,
		NextCursor: result.NextCursor,
	}, nil
}

// GetThreshold returns the current submission threshold in wire form.
func (s *service) GetThreshold(ctx context.Context) (*Threshold, error) {
	v, err := s.currentThreshold(ctx)
	if err != nil {
		return nil, err
	}
	return &Threshold{Value: circuit.FormatFieldElement(v)}, nil
}

// UpdateThreshold replaces the submission threshold. The change applies to
// future submissions only; settled entries are never re-evaluated.
func (s *service) UpdateThreshold(ctx context.Context, value string) (*Threshold, error) {
	v, err := circuit.FieldElement(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidThreshold, err)
	}
	if err := s.store.SetThreshold(ctx, v.String()); err != nil {
		return nil, fmt.Errorf("setting threshold: %w", err)
	}
	return &Threshold{Value: circuit.FormatFieldElement(v)}, nil
}

func (s *service) currentThreshold(ctx context.Context) (*big.Int, error) {
	raw, err := s.store.GetThreshold(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return new(big.Int), nil
		}
		return nil, fmt.Errorf("reading threshold: %w", err)
	}
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("%w: stored value %q", ErrInvalidThreshold, raw)
	}
	return v, nil
}

func (s *service) lock(address string) func() {
	s.mu.Lock()
	m, ok := s.commitMu[address]
	if !ok {
		m = &sync.Mutex{}
		s.commitMu[address] = m
	}
	s.mu.Unlock()
	m.Lock()
	return m.Unlock
}

func hashProof(p *circuit.Proof) string {
	h := sha256.Sum256(p.Data)
	return hex.EncodeToString(h[:])
}

func toEntry(e *storage.WhitelistEntry) *Entry {
	entry := &Entry{
		Address:       e.Address,
		State:         e.State,
		IsWhitelisted: e.IsWhitelisted,
		LastUpdatedAt: e.LastUpdatedAt,
		CreatedAt:     e.CreatedAt,
	}
	if e.LastScore != "" {
		if v, ok := new(big.Int).SetString(e.LastScore, 10); ok {
			entry.LastScore = circuit.FormatFieldElement(v)
		}
	}
	return entry
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
