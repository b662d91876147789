// Package validation provides input validation for Trustgate.
package validation

import (
	"errors"
	"regexp"
	"strings"

	"golang.org/x/mod/semver"
)

// Vendor ID validation
// Lowercase alphanumeric with hyphens, 2-64 chars
var vendorIDRegex = regexp.MustCompile(`^[a-z][a-z0-9-]{0,62}[a-z0-9]$`)

// ValidateVendorID validates a scoring vendor identifier
func ValidateVendorID(id string) error {
	if len(id) < 2 {
		return errors.New("vendor id too short (min 2 chars)")
	}
	if len(id) > 64 {
		return errors.New("vendor id too long (max 64 chars)")
	}
	if !vendorIDRegex.MatchString(id) {
		return errors.New("invalid vendor id: must be lowercase alphanumeric with hyphens, starting with a letter")
	}
	if strings.Contains(id, "--") {
		return errors.New("invalid characters in vendor id")
	}
	return nil
}

// Epoch labels are opaque but constrained to a safe charset so they can
// travel in URLs and database keys unescaped.
var epochRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9:._-]{0,63}$`)

// ValidateEpoch validates an evaluation epoch label
func ValidateEpoch(epoch string) error {
	if epoch == "" {
		return errors.New("epoch cannot be empty")
	}
	if !epochRegex.MatchString(epoch) {
		return errors.New("invalid epoch: must be alphanumeric with : . _ - separators, max 64 chars")
	}
	return nil
}

// ValidateKeyVersion validates a circuit key version string
func ValidateKeyVersion(v string) error {
	// Normalize: strip leading 'v' if present, then add it back for semver library
	normalized := strings.TrimPrefix(v, "v")
	if normalized == "" {
		return errors.New("version cannot be empty")
	}

	// semver library expects version to start with 'v'
	versionWithV := "v" + normalized
	if !semver.IsValid(versionWithV) {
		return errors.New("invalid semver version: must be in format X.Y.Z or X.Y.Z-prerelease")
	}

	// Require major.minor.patch (not just major or major.minor)
	parts := strings.SplitN(normalized, "-", 2) // Split off prerelease/build
	mainPart := parts[0]
	dotCount := strings.Count(mainPart, ".")
	if dotCount < 2 {
		return errors.New("invalid semver version: must be in format X.Y.Z (major.minor.patch)")
	}

	return nil
}

// NormalizeVersion normalizes a version string (strips leading 'v')
func NormalizeVersion(v string) string {
	return strings.TrimPrefix(v, "v")
}

// CompareVersions compares two versions
// Returns -1 if v1 < v2, 0 if v1 == v2, 1 if v1 > v2
func CompareVersions(v1, v2 string) int {
	n1 := "v" + NormalizeVersion(v1)
	n2 := "v" + NormalizeVersion(v2)
	return semver.Compare(n1, n2)
}

// ValidateAddress validates an Ethereum address
func ValidateAddress(addr string) error {
	if len(addr) != 42 {
		return errors.New("invalid address length: must be 42 characters (0x + 40 hex)")
	}
	if !strings.HasPrefix(addr, "0x") {
		return errors.New("invalid address: must start with 0x")
	}
	// Check hex characters
	for _, c := range addr[2:] {
		isDigit := c >= '0' && c <= '9'
		isLowerHex := c >= 'a' && c <= 'f'
		isUpperHex := c >= 'A' && c <= 'F'
		if !isDigit && !isLowerHex && !isUpperHex {
			return errors.New("invalid address: contains non-hex characters")
		}
	}
	return nil
}
