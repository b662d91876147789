//go:build e2e

package e2e

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pendergraft/trustgate/internal/circuit"
)

// TestCertification_QuorumFlow tests the full attestation to certification flow
func TestCertification_QuorumFlow(t *testing.T) {
	ctx := context.Background()
	apiKey := createTestAPIKey(t, testCtx.Store, "test-cert-flow")
	c := newClient(testCtx.TestServer, apiKey)

	const (
		address = "0x1111111111111111111111111111111111111101"
		epoch   = "2026-08-15"
	)
	metrics := sampleMetrics()

	attA := proveAttestation(t, "vendor-alpha", address, epoch, metrics)
	attB := proveAttestation(t, "vendor-beta", address, epoch, metrics)

	t.Run("first vendor alone does not reach quorum", func(t *testing.T) {
		ack, err := c.SubmitAttestation(ctx, attA)
		require.NoError(t, err)
		assert.Equal(t, "accepted", ack.Status)

		_, err = c.GetCertification(ctx, address, epoch)
		assertHTTPError(t, err, "QUORUM_NOT_MET")
	})

	t.Run("second vendor completes the quorum", func(t *testing.T) {
		_, err := c.SubmitAttestation(ctx, attB)
		require.NoError(t, err)

		cert, err := c.GetCertification(ctx, address, epoch)
		require.NoError(t, err)

		assert.Equal(t, "certified", cert.Status)
		assert.Equal(t, 2, cert.Quorum)
		assert.ElementsMatch(t, []string{"vendor-alpha", "vendor-beta"}, cert.VendorIDs)

		// Same metrics produce the same score, so the agreed score is
		// the score both vendors attested to
		assert.Equal(t, attA.Score, cert.AgreedScore)
	})

	t.Run("vendor cannot attest twice for the same token and epoch", func(t *testing.T) {
		again := proveAttestation(t, "vendor-alpha", address, epoch, metrics)
		_, err := c.SubmitAttestation(ctx, again)
		assertHTTPError(t, err, "DUPLICATE")
	})

	t.Run("same token in another epoch starts a fresh round", func(t *testing.T) {
		other := proveAttestation(t, "vendor-alpha", address, "2026-08-16", metrics)
		_, err := c.SubmitAttestation(ctx, other)
		require.NoError(t, err)

		_, err = c.GetCertification(ctx, address, "2026-08-16")
		assertHTTPError(t, err, "QUORUM_NOT_MET")
	})
}

// TestCertification_Dispute tests that disagreeing vendors produce a disputed outcome
func TestCertification_Dispute(t *testing.T) {
	ctx := context.Background()
	apiKey := createTestAPIKey(t, testCtx.Store, "test-cert-dispute")
	c := newClient(testCtx.TestServer, apiKey)

	const (
		address = "0x1111111111111111111111111111111111111102"
		epoch   = "2026-08-15"
	)

	lowActivity := sampleMetrics()
	lowActivity.Volume = 1_000

	attA := proveAttestation(t, "vendor-alpha", address, epoch, sampleMetrics())
	attB := proveAttestation(t, "vendor-beta", address, epoch, lowActivity)

	_, err := c.SubmitAttestation(ctx, attA)
	require.NoError(t, err)
	_, err = c.SubmitAttestation(ctx, attB)
	require.NoError(t, err)

	cert, err := c.GetCertification(ctx, address, epoch)
	require.NoError(t, err)

	assert.Equal(t, "disputed", cert.Status)
	assert.Empty(t, cert.AgreedScore)
	assert.ElementsMatch(t, []string{"vendor-alpha", "vendor-beta"}, cert.VendorIDs)
}

// TestCertification_RejectsTamperedScore tests that a forged score fails proof verification
func TestCertification_RejectsTamperedScore(t *testing.T) {
	ctx := context.Background()
	apiKey := createTestAPIKey(t, testCtx.Store, "test-cert-tamper")
	c := newClient(testCtx.TestServer, apiKey)

	att := proveAttestation(t, "vendor-alpha", "0x1111111111111111111111111111111111111103", "2026-08-15", sampleMetrics())

	// Bump the claimed score; the proof no longer matches the outputs
	v, err := circuit.FieldElement(att.Score)
	require.NoError(t, err)
	att.Score = circuit.FormatFieldElement(v.Add(v, big.NewInt(1)))

	_, err = c.SubmitAttestation(ctx, att)
	assertHTTPError(t, err, "INVALID_PROOF")
}

// TestCertification_RejectsInvalidRequest tests input validation on submission
func TestCertification_RejectsInvalidRequest(t *testing.T) {
	ctx := context.Background()
	apiKey := createTestAPIKey(t, testCtx.Store, "test-cert-invalid")
	c := newClient(testCtx.TestServer, apiKey)

	t.Run("malformed address", func(t *testing.T) {
		att := proveAttestation(t, "vendor-alpha", "0x1111111111111111111111111111111111111104", "2026-08-15", sampleMetrics())
		att.Address = "not-an-address"
		_, err := c.SubmitAttestation(ctx, att)
		assertHTTPError(t, err, "INVALID_REQUEST")
	})

	t.Run("malformed epoch", func(t *testing.T) {
		att := proveAttestation(t, "vendor-alpha", "0x1111111111111111111111111111111111111104", "2026-08-15", sampleMetrics())
		att.Epoch = "august"
		_, err := c.SubmitAttestation(ctx, att)
		assertHTTPError(t, err, "INVALID_REQUEST")
	})
}
