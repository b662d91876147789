//go:build e2e

package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/consensys/gnark/backend/groth16"
	"github.com/stretchr/testify/require"

	"github.com/pendergraft/trustgate/internal/circuit"
	"github.com/pendergraft/trustgate/internal/config"
	scoringDomain "github.com/pendergraft/trustgate/internal/scoring/domain"
	"github.com/pendergraft/trustgate/internal/server"
	"github.com/pendergraft/trustgate/internal/storage"
	"github.com/pendergraft/trustgate/pkg/client"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestContext holds shared test infrastructure
type TestContext struct {
	PostgresContainer *postgres.PostgresContainer
	ConnString        string
	TestServer        *httptest.Server
	Store             storage.Store

	// Vendor-side prover loaded from the keys the server generated at
	// startup. Proofs made with this key verify against the server's vk.
	System     *circuit.System
	ProvingKey groth16.ProvingKey
}

// setupPostgresE starts a Postgres container and returns the connection string
func setupPostgresE(ctx context.Context) (*postgres.PostgresContainer, string, error) {
	postgresContainer, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("trustgate"),
		postgres.WithUsername("trustgate"),
		postgres.WithPassword("trustgate"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		return nil, "", fmt.Errorf("failed to start postgres container: %w", err)
	}

	connString, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = postgresContainer.Terminate(ctx)
		return nil, "", fmt.Errorf("failed to get postgres connection string: %w", err)
	}

	return postgresContainer, connString, nil
}

// startServerE starts the trustgate server in-process against the given database
func startServerE(connString string) (*httptest.Server, storage.Store, error) {
	cfg := &config.Config{
		Server: config.ServerConfig{
			Port: 8080,
			Host: "0.0.0.0",
		},
		Storage: config.StorageConfig{
			Type: "postgres",
			Postgres: config.PostgresConfig{
				URL: connString,
			},
		},
		Auth:      config.AuthConfig{Type: "api-key"},
		Logging:   config.LoggingConfig{Level: "debug", Format: "text"},
		Metrics:   config.MetricsConfig{Enabled: false},
		RateLimit: config.RateLimitConfig{Enabled: false},
		Security:  config.SecurityConfig{FilterEnabled: false, MaxBodySizeMB: 50},
		Proxy:     config.ProxyConfig{TrustProxy: false},
		Circuit: config.CircuitConfig{
			KeyVersion:     "v1.0.0",
			MaxDaysAgo:     3650,
			MaxVolume:      1_000_000_000,
			MaxMarketCap:   1_000_000_000,
			MaxTotalSupply: 1_000_000_000,
		},
		Aggregation: config.AggregationConfig{
			Quorum:         2,
			ToleranceDelta: "0",
			WaitSeconds:    5,
		},
		Whitelist: config.WhitelistConfig{InitialThreshold: "0"},
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	store, err := storage.New(cfg.Storage, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create store: %w", err)
	}

	if err := store.Migrate(context.Background()); err != nil {
		return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	srv, err := server.New(context.Background(), cfg, store, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create server: %w", err)
	}

	testServer := httptest.NewServer(srv.Handler())

	return testServer, store, nil
}

// loadProverE loads the active circuit keys the server generated at startup
// and rebuilds the constraint system from their bounds
func loadProverE(ctx context.Context, store storage.Store) (*circuit.System, groth16.ProvingKey, error) {
	keys, err := store.GetActiveCircuitKeys(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load active circuit keys: %w", err)
	}

	var bounds circuit.Bounds
	if err := json.Unmarshal([]byte(keys.Bounds), &bounds); err != nil {
		return nil, nil, fmt.Errorf("failed to parse circuit bounds: %w", err)
	}

	system, err := circuit.Compile(bounds)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to compile circuit: %w", err)
	}

	pk, err := circuit.UnmarshalProvingKey(keys.ProvingKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode proving key: %w", err)
	}

	return system, pk, nil
}

// newClient creates a new API client for the test server
func newClient(testServer *httptest.Server, apiKey string) *client.Client {
	return client.New(testServer.URL, apiKey)
}

// createTestAPIKey creates a test API key using the store directly
func createTestAPIKey(t *testing.T, store storage.Store, name string) string {
	key, err := store.CreateAPIKey(context.Background(), name)
	require.NoError(t, err, "Failed to create API key")
	return key
}

// proveAttestation produces a real proved attestation for the given vendor,
// token and metrics, in wire form
func proveAttestation(t *testing.T, vendorID, address, epoch string, m circuit.RawMetrics) client.Attestation {
	t.Helper()

	svc, err := scoringDomain.NewService(vendorID, "v1.0.0", nil, testCtx.System, testCtx.ProvingKey)
	require.NoError(t, err, "Failed to create scoring service")

	att, err := svc.EvaluateMetrics(context.Background(), scoringDomain.EvaluateRequest{
		Address: address,
		Epoch:   epoch,
	}, m)
	require.NoError(t, err, "Failed to prove attestation")

	return client.Attestation{
		VendorID:     att.VendorID,
		Address:      att.Address,
		Epoch:        att.Epoch,
		Score:        att.Score,
		Signature:    att.Signature,
		AddressPart1: att.AddressPart1,
		AddressPart2: att.AddressPart2,
		Proof: &client.Proof{
			Curve:  att.Proof.Curve,
			Scheme: att.Proof.Scheme,
			Data:   att.Proof.Data,
		},
	}
}

// toWhitelistSubmission converts an attestation to a whitelist submission
func toWhitelistSubmission(att client.Attestation) client.WhitelistSubmission {
	return client.WhitelistSubmission{
		Address:      att.Address,
		Score:        att.Score,
		Signature:    att.Signature,
		AddressPart1: att.AddressPart1,
		AddressPart2: att.AddressPart2,
		Proof:        att.Proof,
	}
}

// sampleMetrics returns a metrics set well inside the circuit bounds
func sampleMetrics() circuit.RawMetrics {
	return circuit.RawMetrics{
		DaysAgoAdded:  400,
		IsActive:      true,
		Volume:        5_000_000,
		MarketCap:     250_000_000,
		TotalSupply:   100_000_000,
		HasSourceCode: true,
	}
}

// assertHTTPError asserts that an error is an APIError with the expected code
func assertHTTPError(t *testing.T, err error, expectedCode string) {
	t.Helper()
	require.Error(t, err, "Expected an error")
	apiErr, ok := err.(*client.APIError)
	require.True(t, ok, "Error should be an APIError")
	require.Equal(t, expectedCode, apiErr.Code, "Error code mismatch")
}
