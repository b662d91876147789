package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pendergraft/trustgate/internal/config"
)

// WhitelistStore handles whitelist state and the submission threshold
type WhitelistStore interface {
	GetWhitelistEntry(ctx context.Context, address string) (*WhitelistEntry, error)
	UpsertWhitelistEntry(ctx context.Context, entry *WhitelistEntry) error
	ListWhitelistEntries(ctx context.Context, filter WhitelistFilter, pagination PaginationParams) (*PaginatedResult[WhitelistEntry], error)
	GetThreshold(ctx context.Context) (string, error)
	SetThreshold(ctx context.Context, value string) error
}

// AttestationStore handles vendor attestation records
type AttestationStore interface {
	RecordAttestation(ctx context.Context, a *Attestation) error
	ListAttestations(ctx context.Context, address, epoch string) ([]Attestation, error)
}

// CertificationStore handles aggregated certification results
type CertificationStore interface {
	RecordCertification(ctx context.Context, c *Certification) error
	GetCertification(ctx context.Context, address, epoch string) (*Certification, error)
}

// CircuitKeyStore handles versioned circuit key artifacts
type CircuitKeyStore interface {
	StoreCircuitKeys(ctx context.Context, k *CircuitKeys) error
	GetCircuitKeys(ctx context.Context, version string) (*CircuitKeys, error)
	GetActiveCircuitKeys(ctx context.Context) (*CircuitKeys, error)
}

// APIKeyStore handles API key operations
type APIKeyStore interface {
	CreateAPIKey(ctx context.Context, name string) (key string, err error)
	ValidateAPIKey(ctx context.Context, key string) (*APIKey, error)
	ListAPIKeys(ctx context.Context) ([]APIKey, error)
	RevokeAPIKey(ctx context.Context, id string) error
}

// Store combines all storage interfaces with lifecycle methods.
// Domain services define their own minimal interfaces based on their actual usage.
type Store interface {
	WhitelistStore
	AttestationStore
	CertificationStore
	CircuitKeyStore
	APIKeyStore

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}

// Whitelist lifecycle states
const (
	StateUnlisted    = "unlisted"
	StatePending     = "pending_verification"
	StateWhitelisted = "whitelisted"
	StateDelisted    = "delisted"
)

// WhitelistEntry is the persistent whitelist state for one token.
// Scores are canonical decimal field-element strings.
type WhitelistEntry struct {
	Address       string
	State         string
	IsWhitelisted bool
	LastScore     string
	LastProofHash string
	LastUpdatedAt string
	CreatedAt     string
}

// Attestation is one vendor's certified claim for a token and epoch
type Attestation struct {
	ID        string
	VendorID  string
	Address   string
	Epoch     string
	Score     string
	Signature string
	Proof     []byte
	CreatedAt string
}

// Certification statuses
const (
	CertificationCertified = "certified"
	CertificationDisputed  = "disputed"
)

// Certification is the aggregator's recorded outcome for a token and epoch
type Certification struct {
	ID          string
	Address     string
	Epoch       string
	Status      string
	AgreedScore string
	Quorum      int
	VendorIDs   []string
	ProofSet    []byte
	CreatedAt   string
}

// CircuitKeys is a versioned proving/verifying key artifact pair produced
// by one circuit compilation. Bounds changes rotate the version.
type CircuitKeys struct {
	ID           string
	Version      string
	Bounds       string
	ProvingKey   []byte
	VerifyingKey []byte
	Active       bool
	CreatedAt    string
}

// APIKey represents an API key
type APIKey struct {
	ID         string
	Name       string
	KeyHash    string
	CreatedAt  string
	LastUsedAt string
	RevokedAt  string
}

// WhitelistFilter contains filter options for listing whitelist entries
type WhitelistFilter struct {
	State       string
	Whitelisted *bool
}

// PaginationParams contains pagination options
type PaginationParams struct {
	Limit  int
	Cursor string
}

// PaginatedResult contains paginated results
type PaginatedResult[T any] struct {
	Data       []T
	HasMore    bool
	NextCursor string
}

// New creates a new store based on configuration
func New(cfg config.StorageConfig, logger *slog.Logger) (Store, error) {
	switch cfg.Type {
	case "sqlite":
		return NewSQLiteStore(cfg.SQLite.Path, logger)
	case "postgres":
		return NewPostgresStore(cfg.Postgres.URL, logger)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
