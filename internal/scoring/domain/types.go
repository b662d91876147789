// Package domain contains the business logic for vendor-side token scoring.
package domain

import (
	"time"

	"github.com/pendergraft/trustgate/internal/circuit"
)

// EvaluateRequest asks a vendor to score one token for an epoch. An empty
// epoch defaults to the current UTC date.
type EvaluateRequest struct {
	Address string `json:"address"`
	Epoch   string `json:"epoch,omitempty"`
}

// Attestation is one vendor's certified claim about a token. Score and
// Signature are 0x-prefixed field elements; the raw metrics that produced
// them stay private to the vendor.
type Attestation struct {
	ID           string         `json:"id"`
	VendorID     string         `json:"vendorId"`
	Address      string         `json:"address"`
	Epoch        string         `json:"epoch"`
	Score        string         `json:"score"`
	Signature    string         `json:"signature"`
	AddressPart1 string         `json:"addressPart1"`
	AddressPart2 string         `json:"addressPart2"`
	Proof        *circuit.Proof `json:"proof"`
	KeyVersion   string         `json:"keyVersion"`
	TokenName    string         `json:"tokenName,omitempty"`
	TokenSymbol  string         `json:"tokenSymbol,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
}

// NormalizedScore returns the score mapped into [0, 1) for display.
func (a *Attestation) NormalizedScore() (float64, error) {
	v, err := circuit.FieldElement(a.Score)
	if err != nil {
		return 0, err
	}
	return (&circuit.Outputs{Score: v}).NormalizedScore(), nil
}
