package model

import "github.com/google/uuid"

// Verification error codes surfaced in VerificationResult.Errors.
const (
	CodeHashMismatch     = "HASH_MISMATCH"
	CodeSignatureInvalid = "SIGNATURE_INVALID"
	CodeChainBroken      = "CHAIN_BROKEN"
	CodeUnknownSigner    = "UNKNOWN_SIGNER"
	CodeSignerMismatch   = "SIGNER_MISMATCH"
)

// VerificationError is a structured integrity failure. Verification never
// reports these as Go errors.
type VerificationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// VerificationResult is the outcome of verifying one record.
type VerificationResult struct {
	RecordID     uuid.UUID `json:"record_id"`
	Valid        bool      `json:"valid"`
	HashValid    bool      `json:"hash_valid"`
	RecordHash   string    `json:"record_hash"`
	ComputedHash string    `json:"computed_hash"`
	// SignatureValid is nil for unsigned records.
	SignatureValid *bool               `json:"signature_valid"`
	ChainValid     bool                `json:"chain_valid"`
	Errors         []VerificationError `json:"errors"`
}

// BatchVerifyItem is the per-id outcome of a batch verification.
type BatchVerifyItem struct {
	RecordID string              `json:"record_id"`
	Result   *VerificationResult `json:"result,omitempty"`
	Error    string              `json:"error,omitempty"`
}

// BatchVerifyResult aggregates a batch verification.
type BatchVerifyResult struct {
	Total   int               `json:"total"`
	Valid   int               `json:"valid"`
	Invalid int               `json:"invalid"`
	Results []BatchVerifyItem `json:"results"`
}

// ChainVerificationResult is the outcome of walking a carrier's chain.
type ChainVerificationResult struct {
	CarrierID         string              `json:"carrier_id"`
	Valid             bool                `json:"valid"`
	TotalRecords      int                 `json:"total_records"`
	VerifiedRecords   int                 `json:"verified_records"`
	BrokenAt          *uuid.UUID          `json:"broken_at,omitempty"`
	InvalidSignatures int                 `json:"invalid_signatures"`
	Errors            []VerificationError `json:"errors"`
}

// BatchCreateItem is the per-item outcome of a batch create.
type BatchCreateItem struct {
	Index    int        `json:"index"`
	Success  bool       `json:"success"`
	RecordID *uuid.UUID `json:"record_id,omitempty"`
	Error    string     `json:"error,omitempty"`
}

// BatchCreateResult aggregates a batch create. Partial success is expected.
type BatchCreateResult struct {
	Total   int               `json:"total"`
	Success int               `json:"success"`
	Errors  int               `json:"errors"`
	Results []BatchCreateItem `json:"results"`
}
