package model

import (
	"errors"
	"strings"
)

var (
	// ErrNotFound is returned when a record, carrier, or key does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadySigned is returned when a signature is attached to a record
	// that already carries one. Signing is a one-time transition.
	ErrAlreadySigned = errors.New("record already signed")

	// ErrNoActiveKey is returned when a carrier has no active signing key.
	ErrNoActiveKey = errors.New("no active signing key for carrier")

	// ErrChainConflict is returned when another writer extended the carrier's
	// chain between reading the tip and committing.
	ErrChainConflict = errors.New("carrier chain was extended concurrently")

	// ErrHashMismatch is returned on the write path when a stored record no
	// longer reproduces its recordHash.
	ErrHashMismatch = errors.New("record hash mismatch")

	// ErrSignerMismatch is returned when a signature names a key that belongs
	// to a different carrier than the record.
	ErrSignerMismatch = errors.New("signer key belongs to another carrier")

	// ErrKeyGeneration is returned when a keypair cannot be generated or stored.
	ErrKeyGeneration = errors.New("key generation failed")
)

// FieldError describes one invalid input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ErrValidation is returned when the caller supplies malformed or
// out-of-range input. It lists every offending field.
type ErrValidation struct {
	Fields []FieldError `json:"fields"`
}

func (e *ErrValidation) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Add records an invalid field.
func (e *ErrValidation) Add(field, msg string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: msg})
}

// OrNil returns e when at least one field was recorded, nil otherwise.
func (e *ErrValidation) OrNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// NewValidationError builds an ErrValidation for a single field.
func NewValidationError(field, msg string) *ErrValidation {
	return &ErrValidation{Fields: []FieldError{{Field: field, Message: msg}}}
}
