package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

const testAddress = "0x1f9840a85d5aF5bf1D1762F925BDADdC4201F984"

func TestClient_SubmitAttestation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/attestations" {
			t.Errorf("Expected path /api/v1/attestations, got %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST method, got %s", r.Method)
		}
		if r.Header.Get("X-API-Key") != "my-api-key" {
			t.Errorf("Expected X-API-Key header, got %s", r.Header.Get("X-API-Key"))
		}

		var att Attestation
		if err := json.NewDecoder(r.Body).Decode(&att); err != nil {
			t.Fatalf("Failed to decode request: %v", err)
		}
		if att.VendorID != "acme-ratings" {
			t.Errorf("Expected vendor acme-ratings, got %s", att.VendorID)
		}
		if att.Proof == nil || att.Proof.Curve != "bn254" {
			t.Errorf("Expected bn254 proof, got %+v", att.Proof)
		}

		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{
			"status":   "accepted",
			"vendorId": att.VendorID,
			"address":  att.Address,
			"epoch":    att.Epoch,
		})
	}))
	defer server.Close()

	client := New(server.URL, "my-api-key")
	ack, err := client.SubmitAttestation(context.Background(), Attestation{
		VendorID: "acme-ratings",
		Address:  testAddress,
		Epoch:    "2026-08-31",
		Score:    "0x01",
		Proof:    &Proof{Curve: "bn254", Scheme: "groth16", Data: []byte{0, 1, 2}},
	})
	if err != nil {
		t.Fatalf("SubmitAttestation() error = %v", err)
	}

	if ack.Status != "accepted" {
		t.Errorf("SubmitAttestation().Status = %s, want accepted", ack.Status)
	}
	if ack.Epoch != "2026-08-31" {
		t.Errorf("SubmitAttestation().Epoch = %s, want 2026-08-31", ack.Epoch)
	}
}

func TestClient_GetCertification(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/certifications/"+testAddress {
			t.Errorf("Expected certification path, got %s", r.URL.Path)
		}
		if r.URL.Query().Get("epoch") != "2026-08-31" {
			t.Errorf("Expected epoch query, got %s", r.URL.Query().Get("epoch"))
		}

		json.NewEncoder(w).Encode(map[string]any{
			"address":     testAddress,
			"epoch":       "2026-08-31",
			"status":      "certified",
			"agreedScore": "0x02",
			"quorum":      3,
			"vendorIds":   []string{"acme-ratings", "beta-scores", "gamma-audit"},
		})
	}))
	defer server.Close()

	client := New(server.URL, "")
	cert, err := client.GetCertification(context.Background(), testAddress, "2026-08-31")
	if err != nil {
		t.Fatalf("GetCertification() error = %v", err)
	}

	if cert.Status != "certified" {
		t.Errorf("GetCertification().Status = %s, want certified", cert.Status)
	}
	if len(cert.VendorIDs) != 3 {
		t.Errorf("GetCertification().VendorIDs has %d items, want 3", len(cert.VendorIDs))
	}
}

func TestClient_SubmitWhitelist(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/whitelist/submit" {
			t.Errorf("Expected path /api/v1/whitelist/submit, got %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST method, got %s", r.Method)
		}

		var sub WhitelistSubmission
		if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
			t.Fatalf("Failed to decode request: %v", err)
		}

		json.NewEncoder(w).Encode(map[string]any{
			"address":       sub.Address,
			"state":         "whitelisted",
			"isWhitelisted": true,
			"lastScore":     sub.Score,
		})
	}))
	defer server.Close()

	client := New(server.URL, "")
	entry, err := client.SubmitWhitelist(context.Background(), WhitelistSubmission{
		Address: testAddress,
		Score:   "0x02",
		Proof:   &Proof{Curve: "bn254", Scheme: "groth16", Data: []byte{0, 1, 2}},
	})
	if err != nil {
		t.Fatalf("SubmitWhitelist() error = %v", err)
	}

	if !entry.IsWhitelisted {
		t.Error("SubmitWhitelist().IsWhitelisted = false, want true")
	}
	if entry.State != "whitelisted" {
		t.Errorf("SubmitWhitelist().State = %s, want whitelisted", entry.State)
	}
}

func TestClient_GetWhitelistEntry(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/whitelist/"+testAddress {
			t.Errorf("Expected whitelist path, got %s", r.URL.Path)
		}

		json.NewEncoder(w).Encode(map[string]any{
			"address":       testAddress,
			"state":         "unlisted",
			"isWhitelisted": false,
		})
	}))
	defer server.Close()

	client := New(server.URL, "")
	entry, err := client.GetWhitelistEntry(context.Background(), testAddress)
	if err != nil {
		t.Fatalf("GetWhitelistEntry() error = %v", err)
	}

	if entry.State != "unlisted" {
		t.Errorf("GetWhitelistEntry().State = %s, want unlisted", entry.State)
	}
}

func TestClient_ListWhitelist(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/whitelist" {
			t.Errorf("Expected path /api/v1/whitelist, got %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("state") != "whitelisted" || q.Get("limit") != "10" {
			t.Errorf("Unexpected query: %s", r.URL.RawQuery)
		}

		json.NewEncoder(w).Encode(map[string]any{
			"entries": []map[string]any{
				{"address": testAddress, "state": "whitelisted", "isWhitelisted": true},
			},
			"hasMore":    true,
			"nextCursor": testAddress,
		})
	}))
	defer server.Close()

	client := New(server.URL, "")
	resp, err := client.ListWhitelist(context.Background(), ListWhitelistOptions{
		State: "whitelisted",
		Limit: 10,
	})
	if err != nil {
		t.Fatalf("ListWhitelist() error = %v", err)
	}

	if len(resp.Entries) != 1 {
		t.Errorf("ListWhitelist() returned %d entries, want 1", len(resp.Entries))
	}
	if !resp.HasMore {
		t.Error("ListWhitelist().HasMore = false, want true")
	}
}

func TestClient_UpdateThreshold(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/whitelist/threshold" {
			t.Errorf("Expected threshold path, got %s", r.URL.Path)
		}
		if r.Method != http.MethodPut {
			t.Errorf("Expected PUT method, got %s", r.Method)
		}
		if r.Header.Get("X-API-Key") != "admin-key" {
			t.Errorf("Expected X-API-Key header, got %s", r.Header.Get("X-API-Key"))
		}

		var req Threshold
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("Failed to decode request: %v", err)
		}

		json.NewEncoder(w).Encode(req)
	}))
	defer server.Close()

	client := New(server.URL, "admin-key")
	threshold, err := client.UpdateThreshold(context.Background(), "0x0a")
	if err != nil {
		t.Fatalf("UpdateThreshold() error = %v", err)
	}

	if threshold.Value != "0x0a" {
		t.Errorf("UpdateThreshold().Value = %s, want 0x0a", threshold.Value)
	}
}

func TestClient_ErrorHandling(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{
				"code":    "QUORUM_NOT_MET",
				"message": "Not enough vendor attestations",
			},
		})
	}))
	defer server.Close()

	client := New(server.URL, "")
	_, err := client.GetCertification(context.Background(), testAddress, "")
	if err == nil {
		t.Fatal("Expected error for 404 response")
	}

	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("Expected APIError, got %T", err)
	}
	if apiErr.Code != "QUORUM_NOT_MET" {
		t.Errorf("Expected code QUORUM_NOT_MET, got %s", apiErr.Code)
	}
}
