// Package domain contains the business logic for multi-vendor attestation
// aggregation.
package domain

import (
	"time"

	"github.com/pendergraft/trustgate/internal/circuit"
)

// Attestation is a vendor's submitted claim for one token and epoch. Score,
// Signature and the address parts are 0x-prefixed field elements.
type Attestation struct {
	VendorID     string         `json:"vendorId"`
	Address      string         `json:"address"`
	Epoch        string         `json:"epoch"`
	Score        string         `json:"score"`
	Signature    string         `json:"signature"`
	AddressPart1 string         `json:"addressPart1"`
	AddressPart2 string         `json:"addressPart2"`
	Proof        *circuit.Proof `json:"proof"`
}

// Certification statuses.
const (
	StatusCertified = "certified"
	StatusDisputed  = "disputed"
)

// Certification is the aggregation outcome for one token and epoch.
type Certification struct {
	Address     string    `json:"address"`
	Epoch       string    `json:"epoch"`
	Status      string    `json:"status"`
	AgreedScore string    `json:"agreedScore,omitempty"`
	Quorum      int       `json:"quorum"`
	VendorIDs   []string  `json:"vendorIds"`
	CreatedAt   time.Time `json:"createdAt,omitempty"`
}
