package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const pgTimeFormat = "2006-01-02 15:04:05"

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresStore creates a new Postgres store
func NewPostgresStore(url string, logger *slog.Logger) (*PostgresStore, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &PostgresStore{db: db, logger: logger}, nil
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Migrate runs database migrations
func (s *PostgresStore) Migrate(ctx context.Context) error {
	schema := `
	-- Whitelist state, one row per token
	CREATE TABLE IF NOT EXISTS whitelist_entries (
		address TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		is_whitelisted BOOLEAN NOT NULL DEFAULT FALSE,
		last_score TEXT,
		last_proof_hash TEXT,
		last_updated_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ DEFAULT NOW()
	);

	-- Vendor attestations
	CREATE TABLE IF NOT EXISTS attestations (
		id UUID PRIMARY KEY,
		vendor_id TEXT NOT NULL,
		address TEXT NOT NULL,
		epoch TEXT NOT NULL,
		score TEXT NOT NULL,
		signature TEXT NOT NULL,
		proof BYTEA NOT NULL,
		created_at TIMESTAMPTZ DEFAULT NOW(),
		UNIQUE(vendor_id, address, epoch)
	);

	-- Aggregated certification outcomes
	CREATE TABLE IF NOT EXISTS certifications (
		id UUID PRIMARY KEY,
		address TEXT NOT NULL,
		epoch TEXT NOT NULL,
		status TEXT NOT NULL,
		agreed_score TEXT,
		quorum INTEGER NOT NULL,
		vendor_ids TEXT,
		proof_set BYTEA,
		created_at TIMESTAMPTZ DEFAULT NOW(),
		UNIQUE(address, epoch)
	);

	-- Versioned circuit key artifacts
	CREATE TABLE IF NOT EXISTS circuit_keys (
		id UUID PRIMARY KEY,
		version TEXT NOT NULL UNIQUE,
		bounds TEXT,
		proving_key BYTEA,
		verifying_key BYTEA NOT NULL,
		active BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ DEFAULT NOW()
	);

	-- Settings (submission threshold)
	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TIMESTAMPTZ DEFAULT NOW()
	);

	-- API keys
	CREATE TABLE IF NOT EXISTS api_keys (
		id UUID PRIMARY KEY,
		key_hash TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		created_at TIMESTAMPTZ DEFAULT NOW(),
		last_used_at TIMESTAMPTZ,
		revoked_at TIMESTAMPTZ
	);

	-- Indexes
	CREATE INDEX IF NOT EXISTS idx_attestations_lookup ON attestations(address, epoch);
	CREATE INDEX IF NOT EXISTS idx_certifications_lookup ON certifications(address, epoch);
	CREATE INDEX IF NOT EXISTS idx_whitelist_state ON whitelist_entries(state);
	CREATE INDEX IF NOT EXISTS idx_circuit_keys_active ON circuit_keys(active);
	`

	_, err := s.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	s.logger.Info("database migrations complete")
	return nil
}

// GetWhitelistEntry retrieves the whitelist state for a token
func (s *PostgresStore) GetWhitelistEntry(ctx context.Context, address string) (*WhitelistEntry, error) {
	query := `
		SELECT address, state, is_whitelisted, last_score, last_proof_hash, last_updated_at, created_at
		FROM whitelist_entries
		WHERE address = $1
	`
	var e WhitelistEntry
	var lastScore, lastProofHash sql.NullString
	var lastUpdated sql.NullTime
	var createdAt time.Time
	err := s.db.QueryRowContext(ctx, query, address).Scan(
		&e.Address, &e.State, &e.IsWhitelisted, &lastScore, &lastProofHash, &lastUpdated, &createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	e.LastScore = lastScore.String
	e.LastProofHash = lastProofHash.String
	if lastUpdated.Valid {
		e.LastUpdatedAt = lastUpdated.Time.Format(pgTimeFormat)
	}
	e.CreatedAt = createdAt.Format(pgTimeFormat)
	return &e, nil
}

// UpsertWhitelistEntry creates or replaces the whitelist state for a token
func (s *PostgresStore) UpsertWhitelistEntry(ctx context.Context, entry *WhitelistEntry) error {
	query := `
		INSERT INTO whitelist_entries (address, state, is_whitelisted, last_score, last_proof_hash, last_updated_at, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (address) DO UPDATE SET
			state = EXCLUDED.state,
			is_whitelisted = EXCLUDED.is_whitelisted,
			last_score = EXCLUDED.last_score,
			last_proof_hash = EXCLUDED.last_proof_hash,
			last_updated_at = NOW()
	`
	_, err := s.db.ExecContext(ctx, query,
		entry.Address, entry.State, entry.IsWhitelisted, entry.LastScore, entry.LastProofHash)
	return err
}

// ListWhitelistEntries lists whitelist entries with filtering and cursor-based pagination
func (s *PostgresStore) ListWhitelistEntries(ctx context.Context, filter WhitelistFilter, pagination PaginationParams) (*PaginatedResult[WhitelistEntry], error) {
	query := `
		SELECT address, state, is_whitelisted, last_score, last_proof_hash, last_updated_at, created_at
		FROM whitelist_entries
	`
	var conds []string
	var args []any
	argIdx := 1
	if pagination.Cursor != "" {
		conds = append(conds, fmt.Sprintf("address > $%d", argIdx))
		args = append(args, pagination.Cursor)
		argIdx++
	}
	if filter.State != "" {
		conds = append(conds, fmt.Sprintf("state = $%d", argIdx))
		args = append(args, filter.State)
		argIdx++
	}
	if filter.Whitelisted != nil {
		conds = append(conds, fmt.Sprintf("is_whitelisted = $%d", argIdx))
		args = append(args, *filter.Whitelisted)
		argIdx++
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY address LIMIT $%d", argIdx)
	args = append(args, pagination.Limit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []WhitelistEntry
	for rows.Next() {
		var e WhitelistEntry
		var lastScore, lastProofHash sql.NullString
		var lastUpdated sql.NullTime
		var createdAt time.Time
		if err := rows.Scan(&e.Address, &e.State, &e.IsWhitelisted, &lastScore, &lastProofHash, &lastUpdated, &createdAt); err != nil {
			return nil, err
		}
		e.LastScore = lastScore.String
		e.LastProofHash = lastProofHash.String
		if lastUpdated.Valid {
			e.LastUpdatedAt = lastUpdated.Time.Format(pgTimeFormat)
		}
		e.CreatedAt = createdAt.Format(pgTimeFormat)
		entries = append(entries, e)
	}

	hasMore := len(entries) > pagination.Limit
	var nextCursor string
	if hasMore {
		entries = entries[:pagination.Limit]
	}
	if len(entries) > 0 {
		nextCursor = entries[len(entries)-1].Address
	}

	return &PaginatedResult[WhitelistEntry]{
		Data:       entries,
		HasMore:    hasMore,
		NextCursor: nextCursor,
	}, rows.Err()
}

// GetThreshold returns the current submission threshold
func (s *PostgresStore) GetThreshold(ctx context.Context) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = 'threshold'").Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return value, err
}

// SetThreshold updates the submission threshold
func (s *PostgresStore) SetThreshold(ctx context.Context, value string) error {
	query := `
		INSERT INTO settings (key, value, updated_at) VALUES ('threshold', $1, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`
	_, err := s.db.ExecContext(ctx, query, value)
	return err
}

// RecordAttestation stores one vendor attestation
func (s *PostgresStore) RecordAttestation(ctx context.Context, a *Attestation) error {
	query := `
		INSERT INTO attestations (id, vendor_id, address, epoch, score, signature, proof, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
	`
	_, err := s.db.ExecContext(ctx, query, a.ID, a.VendorID, a.Address, a.Epoch, a.Score, a.Signature, a.Proof)
	if err != nil && strings.Contains(err.Error(), "duplicate key") {
		return ErrDuplicateAttestation
	}
	return err
}

// ListAttestations lists attestations for a token and epoch
func (s *PostgresStore) ListAttestations(ctx context.Context, address, epoch string) ([]Attestation, error) {
	query := `
		SELECT id, vendor_id, address, epoch, score, signature, proof, created_at
		FROM attestations
		WHERE address = $1 AND epoch = $2
		ORDER BY created_at
	`
	rows, err := s.db.QueryContext(ctx, query, address, epoch)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attestations []Attestation
	for rows.Next() {
		var a Attestation
		var createdAt time.Time
		if err := rows.Scan(&a.ID, &a.VendorID, &a.Address, &a.Epoch, &a.Score, &a.Signature, &a.Proof, &createdAt); err != nil {
			return nil, err
		}
		a.CreatedAt = createdAt.Format(pgTimeFormat)
		attestations = append(attestations, a)
	}
	return attestations, rows.Err()
}

// RecordCertification stores the aggregation outcome for a token and epoch
func (s *PostgresStore) RecordCertification(ctx context.Context, c *Certification) error {
	query := `
		INSERT INTO certifications (id, address, epoch, status, agreed_score, quorum, vendor_ids, proof_set, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (address, epoch) DO UPDATE SET
			status = EXCLUDED.status,
			agreed_score = EXCLUDED.agreed_score,
			quorum = EXCLUDED.quorum,
			vendor_ids = EXCLUDED.vendor_ids,
			proof_set = EXCLUDED.proof_set
	`
	_, err := s.db.ExecContext(ctx, query,
		c.ID, c.Address, c.Epoch, c.Status, c.AgreedScore, c.Quorum, strings.Join(c.VendorIDs, ","), c.ProofSet)
	return err
}

// GetCertification retrieves the aggregation outcome for a token and epoch
func (s *PostgresStore) GetCertification(ctx context.Context, address, epoch string) (*Certification, error) {
	query := `
		SELECT id, address, epoch, status, agreed_score, quorum, vendor_ids, proof_set, created_at
		FROM certifications
		WHERE address = $1 AND epoch = $2
	`
	var c Certification
	var agreedScore, vendorIDs sql.NullString
	var createdAt time.Time
	err := s.db.QueryRowContext(ctx, query, address, epoch).Scan(
		&c.ID, &c.Address, &c.Epoch, &c.Status, &agreedScore, &c.Quorum, &vendorIDs, &c.ProofSet, &createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.AgreedScore = agreedScore.String
	if vendorIDs.String != "" {
		c.VendorIDs = strings.Split(vendorIDs.String, ",")
	}
	c.CreatedAt = createdAt.Format(pgTimeFormat)
	return &c, nil
}

// StoreCircuitKeys stores a versioned key artifact pair. Marking the new
// version active deactivates every other version in the same transaction.
func (s *PostgresStore) StoreCircuitKeys(ctx context.Context, k *CircuitKeys) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if k.Active {
		if _, err := tx.ExecContext(ctx, "UPDATE circuit_keys SET active = FALSE"); err != nil {
			return err
		}
	}

	query := `
		INSERT INTO circuit_keys (id, version, bounds, proving_key, verifying_key, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
	`
	if _, err := tx.ExecContext(ctx, query, k.ID, k.Version, k.Bounds, k.ProvingKey, k.VerifyingKey, k.Active); err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return ErrKeyVersionExists
		}
		return err
	}
	return tx.Commit()
}

// GetCircuitKeys retrieves a key artifact pair by version
func (s *PostgresStore) GetCircuitKeys(ctx context.Context, version string) (*CircuitKeys, error) {
	query := `
		SELECT id, version, bounds, proving_key, verifying_key, active, created_at
		FROM circuit_keys
		WHERE version = $1
	`
	return s.scanCircuitKeys(s.db.QueryRowContext(ctx, query, version))
}

// GetActiveCircuitKeys retrieves the currently active key artifact pair
func (s *PostgresStore) GetActiveCircuitKeys(ctx context.Context) (*CircuitKeys, error) {
	query := `
		SELECT id, version, bounds, proving_key, verifying_key, active, created_at
		FROM circuit_keys
		WHERE active = TRUE
	`
	return s.scanCircuitKeys(s.db.QueryRowContext(ctx, query))
}

func (s *PostgresStore) scanCircuitKeys(row *sql.Row) (*CircuitKeys, error) {
	var k CircuitKeys
	var bounds sql.NullString
	var createdAt time.Time
	err := row.Scan(&k.ID, &k.Version, &bounds, &k.ProvingKey, &k.VerifyingKey, &k.Active, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	k.Bounds = bounds.String
	k.CreatedAt = createdAt.Format(pgTimeFormat)
	return &k, nil
}

// CreateAPIKey creates a new API key
func (s *PostgresStore) CreateAPIKey(ctx context.Context, name string) (string, error) {
	key := generateAPIKey()
	hash := hashAPIKey(key)
	id := generateID()
	_, err := s.db.ExecContext(ctx, "INSERT INTO api_keys (id, key_hash, name, created_at) VALUES ($1, $2, $3, NOW())", id, hash, name)
	if err != nil {
		return "", err
	}
	return key, nil
}

// ValidateAPIKey validates an API key
func (s *PostgresStore) ValidateAPIKey(ctx context.Context, key string) (*APIKey, error) {
	hash := hashAPIKey(key)
	var ak APIKey
	var createdAt time.Time
	err := s.db.QueryRowContext(ctx, "SELECT id, key_hash, name, created_at FROM api_keys WHERE key_hash = $1 AND revoked_at IS NULL", hash).Scan(
		&ak.ID, &ak.KeyHash, &ak.Name, &createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	ak.CreatedAt = createdAt.Format(pgTimeFormat)
	// Update last used
	_, _ = s.db.ExecContext(ctx, "UPDATE api_keys SET last_used_at = NOW() WHERE id = $1", ak.ID)
	return &ak, nil
}

// ListAPIKeys lists all API keys
func (s *PostgresStore) ListAPIKeys(ctx context.Context) ([]APIKey, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name, created_at, last_used_at FROM api_keys WHERE revoked_at IS NULL")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []APIKey
	for rows.Next() {
		var k APIKey
		var createdAt time.Time
		var lastUsed sql.NullTime
		if err := rows.Scan(&k.ID, &k.Name, &createdAt, &lastUsed); err != nil {
			return nil, err
		}
		k.CreatedAt = createdAt.Format(pgTimeFormat)
		if lastUsed.Valid {
			k.LastUsedAt = lastUsed.Time.Format(pgTimeFormat)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// RevokeAPIKey revokes an API key
func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "UPDATE api_keys SET revoked_at = NOW() WHERE id = $1", id)
	return err
}
