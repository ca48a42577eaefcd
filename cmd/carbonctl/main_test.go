package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jmerrifield20/CarbonLedger/pkg/client"
)

func TestParseTimeFlag(t *testing.T) {
	got, err := parseTimeFlag("from", "2026-03-01")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("got %v", got)
	}
	if got, err := parseTimeFlag("from", ""); err != nil || got != nil {
		t.Errorf("empty flag: got %v, %v", got, err)
	}
	if _, err := parseTimeFlag("to", "yesterday"); err == nil {
		t.Error("expected parse error")
	}
}

func TestErrorCodesAndSigLabel(t *testing.T) {
	if got := errorCodes(nil); got != "-" {
		t.Errorf("errorCodes(nil) = %q", got)
	}
	errs := []client.VerificationError{{Code: "HASH_MISMATCH"}, {Code: "CHAIN_BROKEN"}}
	if got := errorCodes(errs); got != "HASH_MISMATCH,CHAIN_BROKEN" {
		t.Errorf("errorCodes = %q", got)
	}
	f := false
	if sigLabel(nil) != "unsigned" || sigLabel(&f) != "no" {
		t.Error("unexpected signature labels")
	}
}

func TestChainVerify_brokenChainFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/carriers/C1/chain/verify" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"carrier_id": "C1", "valid": false, "total_records": 3, "verified_records": 1,
			"broken_at": "550e8400-e29b-41d4-a716-446655440000",
			"errors":    []map[string]string{{"code": "HASH_MISMATCH", "message": "tampered"}},
		})
	}))
	defer srv.Close()

	rootCmd.SetArgs([]string{"--ledger", srv.URL, "-o", "json", "chain", "verify", "C1"})
	err := rootCmd.Execute()
	if !errors.Is(err, errVerificationFailed) {
		t.Fatalf("expected errVerificationFailed, got %v", err)
	}
}
