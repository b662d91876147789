package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate runs database migrations
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	schema := `
	-- Whitelist state, one row per token
	CREATE TABLE IF NOT EXISTS whitelist_entries (
		address TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		is_whitelisted INTEGER NOT NULL DEFAULT 0,
		last_score TEXT,
		last_proof_hash TEXT,
		last_updated_at TEXT,
		created_at TEXT DEFAULT (datetime('now'))
	);

	-- Vendor attestations
	CREATE TABLE IF NOT EXISTS attestations (
		id TEXT PRIMARY KEY,
		vendor_id TEXT NOT NULL,
		address TEXT NOT NULL,
		epoch TEXT NOT NULL,
		score TEXT NOT NULL,
		signature TEXT NOT NULL,
		proof BLOB NOT NULL,
		created_at TEXT DEFAULT (datetime('now')),
		UNIQUE(vendor_id, address, epoch)
	);

	-- Aggregated certification outcomes
	CREATE TABLE IF NOT EXISTS certifications (
		id TEXT PRIMARY KEY,
		address TEXT NOT NULL,
		epoch TEXT NOT NULL,
		status TEXT NOT NULL,
		agreed_score TEXT,
		quorum INTEGER NOT NULL,
		vendor_ids TEXT,
		proof_set BLOB,
		created_at TEXT DEFAULT (datetime('now')),
		UNIQUE(address, epoch)
	);

	-- Versioned circuit key artifacts
	CREATE TABLE IF NOT EXISTS circuit_keys (
		id TEXT PRIMARY KEY,
		version TEXT NOT NULL UNIQUE,
		bounds TEXT,
		proving_key BLOB,
		verifying_key BLOB NOT NULL,
		active INTEGER NOT NULL DEFAULT 0,
		created_at TEXT DEFAULT (datetime('now'))
	);

	-- Settings (submission threshold)
	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TEXT DEFAULT (datetime('now'))
	);

	-- API keys
	CREATE TABLE IF NOT EXISTS api_keys (
		id TEXT PRIMARY KEY,
		key_hash TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		created_at TEXT DEFAULT (datetime('now')),
		last_used_at TEXT,
		revoked_at TEXT
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
func (s *SQLiteStore) GetWhitelistEntry(ctx context.Context, address string) (*WhitelistEntry, error) {
	query := `
		SELECT address, state, is_whitelisted, last_score, last_proof_hash, last_updated_at, created_at
		FROM whitelist_entries
		WHERE address = ?
	`
	var e WhitelistEntry
	var lastScore, lastProofHash, lastUpdated sql.NullString
	err := s.db.QueryRowContext(ctx, query, address).Scan(
		&e.Address, &e.State, &e.IsWhitelisted, &lastScore, &lastProofHash, &lastUpdated, &e.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	e.LastScore = lastScore.String
	e.LastProofHash = lastProofHash.String
	e.LastUpdatedAt = lastUpdated.String
	return &e, err
}

// UpsertWhitelistEntry creates or replaces the whitelist state for a token.
// last_updated_at is written by the store on every upsert, with millisecond
// precision so rapid resubmissions still move the timestamp.
func (s *SQLiteStore) UpsertWhitelistEntry(ctx context.Context, entry *WhitelistEntry) error {
	query := `
		INSERT INTO whitelist_entries (address, state, is_whitelisted, last_score, last_proof_hash, last_updated_at, created_at)
		VALUES (?, ?, ?, ?, ?, strftime('%Y-%m-%d %H:%M:%f', 'now'), datetime('now'))
		ON CONFLICT(address) DO UPDATE SET
			state = excluded.state,
			is_whitelisted = excluded.is_whitelisted,
			last_score = excluded.last_score,
			last_proof_hash = excluded.last_proof_hash,
			last_updated_at = strftime('%Y-%m-%d %H:%M:%f', 'now')
	`
	_, err := s.db.ExecContext(ctx, query,
		entry.Address, entry.State, entry.IsWhitelisted, entry.LastScore, entry.LastProofHash)
	return err
}

// ListWhitelistEntries lists whitelist entries with filtering and cursor-based pagination
func (s *SQLiteStore) ListWhitelistEntries(ctx context.Context, filter WhitelistFilter, pagination PaginationParams) (*PaginatedResult[WhitelistEntry], error) {
	query := `
		SELECT address, state, is_whitelisted, last_score, last_proof_hash, last_updated_at, created_at
		FROM whitelist_entries
	`
	var conds []string
	var args []any
	if pagination.Cursor != "" {
		conds = append(conds, "address > ?")
		args = append(args, pagination.Cursor)
	}
	if filter.State != "" {
		conds = append(conds, "state = ?")
		args = append(args, filter.State)
	}
	if filter.Whitelisted != nil {
		conds = append(conds, "is_whitelisted = ?")
		args = append(args, *filter.Whitelisted)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY address LIMIT ?"
	args = append(args, pagination.Limit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []WhitelistEntry
	for rows.Next() {
		var e WhitelistEntry
		var lastScore, lastProofHash, lastUpdated sql.NullString
		if err := rows.Scan(&e.Address, &e.State, &e.IsWhitelisted, &lastScore, &lastProofHash, &lastUpdated, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.LastScore = lastScore.String
		e.LastProofHash = lastProofHash.String
		e.LastUpdatedAt = lastUpdated.String
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
func (s *SQLiteStore) GetThreshold(ctx context.Context) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = 'threshold'").Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return value, err
}

// SetThreshold updates the submission threshold
func (s *SQLiteStore) SetThreshold(ctx context.Context, value string) error {
	query := `
		INSERT INTO settings (key, value, updated_at) VALUES ('threshold', ?, datetime('now'))
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = datetime('now')
	`
	_, err := s.db.ExecContext(ctx, query, value)
	return err
}

// RecordAttestation stores one vendor attestation
func (s *SQLiteStore) RecordAttestation(ctx context.Context, a *Attestation) error {
	query := `
		INSERT INTO attestations (id, vendor_id, address, epoch, score, signature, proof, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, datetime('now'))
	`
	_, err := s.db.ExecContext(ctx, query, a.ID, a.VendorID, a.Address, a.Epoch, a.Score, a.Signature, a.Proof)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return ErrDuplicateAttestation
	}
	return err
}

// ListAttestations lists attestations for a token and epoch
func (s *SQLiteStore) ListAttestations(ctx context.Context, address, epoch string) ([]Attestation, error) {
	query := `
		SELECT id, vendor_id, address, epoch, score, signature, proof, created_at
		FROM attestations
		WHERE address = ? AND epoch = ?
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
		if err := rows.Scan(&a.ID, &a.VendorID, &a.Address, &a.Epoch, &a.Score, &a.Signature, &a.Proof, &a.CreatedAt); err != nil {
			return nil, err
		}
		attestations = append(attestations, a)
	}
	return attestations, rows.Err()
}

// RecordCertification stores the aggregation outcome for a token and epoch
func (s *SQLiteStore) RecordCertification(ctx context.Context, c *Certification) error {
	query := `
		INSERT INTO certifications (id, address, epoch, status, agreed_score, quorum, vendor_ids, proof_set, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, datetime('now'))
		ON CONFLICT(address, epoch) DO UPDATE SET
			status = excluded.status,
			agreed_score = excluded.agreed_score,
			quorum = excluded.quorum,
			vendor_ids = excluded.vendor_ids,
			proof_set = excluded.proof_set
	`
	_, err := s.db.ExecContext(ctx, query,
		c.ID, c.Address, c.Epoch, c.Status, c.AgreedScore, c.Quorum, strings.Join(c.VendorIDs, ","), c.ProofSet)
	return err
}

// GetCertification retrieves the aggregation outcome for a token and epoch
func (s *SQLiteStore) GetCertification(ctx context.Context, address, epoch string) (*Certification, error) {
	query := `
		SELECT id, address, epoch, status, agreed_score, quorum, vendor_ids, proof_set, created_at
		FROM certifications
		WHERE address = ? AND epoch = ?
	`
	var c Certification
	var agreedScore, vendorIDs sql.NullString
	err := s.db.QueryRowContext(ctx, query, address, epoch).Scan(
		&c.ID, &c.Address, &c.Epoch, &c.Status, &agreedScore, &c.Quorum, &vendorIDs, &c.ProofSet, &c.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	c.AgreedScore = agreedScore.String
	if vendorIDs.String != "" {
		c.VendorIDs = strings.Split(vendorIDs.String, ",")
	}
	return &c, err
}

// StoreCircuitKeys stores a versioned key artifact pair. Marking the new
// version active deactivates every other version in the same transaction.
func (s *SQLiteStore) StoreCircuitKeys(ctx context.Context, k *CircuitKeys) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if k.Active {
		if _, err := tx.ExecContext(ctx, "UPDATE circuit_keys SET active = 0"); err != nil {
			return err
		}
	}

	query := `
		INSERT INTO circuit_keys (id, version, bounds, proving_key, verifying_key, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, datetime('now'))
	`
	if _, err := tx.ExecContext(ctx, query, k.ID, k.Version, k.Bounds, k.ProvingKey, k.VerifyingKey, k.Active); err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrKeyVersionExists
		}
		return err
	}
	return tx.Commit()
}

// GetCircuitKeys retrieves a key artifact pair by version
func (s *SQLiteStore) GetCircuitKeys(ctx context.Context, version string) (*CircuitKeys, error) {
	query := `
		SELECT id, version, bounds, proving_key, verifying_key, active, created_at
		FROM circuit_keys
		WHERE version = ?
	`
	return s.scanCircuitKeys(s.db.QueryRowContext(ctx, query, version))
}

// GetActiveCircuitKeys retrieves the currently active key artifact pair
func (s *SQLiteStore) GetActiveCircuitKeys(ctx context.Context) (*CircuitKeys, error) {
	query := `
		SELECT id, version, bounds, proving_key, verifying_key, active, created_at
		FROM circuit_keys
		WHERE active = 1
	`
	return s.scanCircuitKeys(s.db.QueryRowContext(ctx, query))
}

func (s *SQLiteStore) scanCircuitKeys(row *sql.Row) (*CircuitKeys, error) {
	var k CircuitKeys
	var bounds sql.NullString
	err := row.Scan(&k.ID, &k.Version, &bounds, &k.ProvingKey, &k.VerifyingKey, &k.Active, &k.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	k.Bounds = bounds.String
	return &k, err
}

// CreateAPIKey creates a new API key
func (s *SQLiteStore) CreateAPIKey(ctx context.Context, name string) (string, error) {
	key := generateAPIKey()
	hash := hashAPIKey(key)
	id := generateID()
	_, err := s.db.ExecContext(ctx, "INSERT INTO api_keys (id, key_hash, name, created_at) VALUES (?, ?, ?, datetime('now'))", id, hash, name)
	if err != nil {
		return "", err
	}
	return key, nil
}

// ValidateAPIKey validates an API key
func (s *SQLiteStore) ValidateAPIKey(ctx context.Context, key string) (*APIKey, error) {
	hash := hashAPIKey(key)
	var ak APIKey
	err := s.db.QueryRowContext(ctx, "SELECT id, key_hash, name, created_at FROM api_keys WHERE key_hash = ? AND revoked_at IS NULL", hash).Scan(
		&ak.ID, &ak.KeyHash, &ak.Name, &ak.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	// Update last used
	_, _ = s.db.ExecContext(ctx, "UPDATE api_keys SET last_used_at = datetime('now') WHERE id = ?", ak.ID)
	return &ak, err
}

// ListAPIKeys lists all API keys
func (s *SQLiteStore) ListAPIKeys(ctx context.Context) ([]APIKey, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name, created_at, last_used_at FROM api_keys WHERE revoked_at IS NULL")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []APIKey
	for rows.Next() {
		var k APIKey
		var lastUsed sql.NullString
		if err := rows.Scan(&k.ID, &k.Name, &k.CreatedAt, &lastUsed); err != nil {
			return nil, err
		}
		if lastUsed.Valid {
			k.LastUsedAt = lastUsed.String
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// RevokeAPIKey revokes an API key
func (s *SQLiteStore) RevokeAPIKey(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "UPDATE api_keys SET revoked_at = datetime('now') WHERE id = ?", id)
	return err
}
