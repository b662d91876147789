package storage

import "errors"

// Common storage errors
var (
	ErrNotFound             = errors.New("not found")
	ErrDuplicateAttestation = errors.New("vendor already attested for this epoch")
	ErrKeyVersionExists     = errors.New("circuit key version already exists")
)
