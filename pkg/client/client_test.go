package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/CarbonLedger/internal/carbon/handler"
	"github.com/jmerrifield20/CarbonLedger/internal/carbon/ledger"
	"github.com/jmerrifield20/CarbonLedger/internal/carbon/service"
	"github.com/jmerrifield20/CarbonLedger/internal/export"
	"github.com/jmerrifield20/CarbonLedger/internal/identity"
	"github.com/jmerrifield20/CarbonLedger/internal/keys"
	"github.com/jmerrifield20/CarbonLedger/pkg/client"
	"go.uber.org/zap"
)

// ── Stub server ─────────────────────────────────────────────────────────

func stubLedgerServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/records/missing", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
	})

	mux.HandleFunc("/api/v1/records", func(w http.ResponseWriter, r *http.Request) {
		var in map[string]any
		json.NewDecoder(r.Body).Decode(&in)
		if in["carrier_id"] == "" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"validation failed","fields":[{"field":"carrier_id","message":"is required"}]}`))
			return
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"id":               "550e8400-e29b-41d4-a716-446655440000",
			"carrier_id":       in["carrier_id"],
			"sequence":         1,
			"record_hash":      strings.Repeat("a", 64),
			"prev_record_hash": nil,
			"state":            "CREATED",
		})
	})

	mux.HandleFunc("/api/v1/records/batch", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]any{
			"total": 1, "success": 0, "errors": 1,
			"results": []map[string]any{{"index": 0, "success": false, "error": "validation failed"}},
		})
	})

	mux.HandleFunc("/api/v1/carriers/me/records", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-123" {
			http.Error(w, `{"error":"missing bearer token"}`, http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"records": []any{}, "total": 0, "limit": 10, "offset": 0,
		})
	})

	mux.HandleFunc("/api/v1/export/summary", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("carrierId") != "C1" || q.Get("minGrade") != "2" || q.Get("from") != "2026-01-01T00:00:00Z" {
			http.Error(w, `{"error":"unexpected filter"}`, http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"record_count":       2,
			"data_quality_score": 90,
			"by_grade":           map[string]any{"1": map[string]any{"records": 2}},
		})
	})

	mux.HandleFunc("/api/v1/auth/token", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Admin-Secret") != "s3cret" {
			http.Error(w, `{"error":"invalid admin secret"}`, http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok-123", "token_type": "Bearer", "expires_in": 3600, "carrier_id": "C1",
		})
	})

	return httptest.NewServer(mux)
}

// ── Construction ────────────────────────────────────────────────────────

func TestNew_invalidURL(t *testing.T) {
	for _, u := range []string{"", "not a url", "/relative"} {
		if _, err := client.New(u); err == nil {
			t.Errorf("New(%q): expected error", u)
		}
	}
}

func TestNew_nilHTTPClient(t *testing.T) {
	if _, err := client.New("http://localhost", client.WithHTTPClient(nil)); err == nil {
		t.Fatal("expected error for nil http client")
	}
}

func TestMustNew_panics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	client.MustNew("")
}

// ── Stubbed calls ───────────────────────────────────────────────────────

func TestCreateRecord_success(t *testing.T) {
	srv := stubLedgerServer(t)
	defer srv.Close()

	c := client.MustNew(srv.URL)
	rec, err := c.CreateRecord(context.Background(), client.RecordInput{CarrierID: "C1"})
	if err != nil {
		t.Fatalf("CreateRecord: %v", err)
	}
	if rec.Sequence != 1 || rec.PrevRecordHash != nil {
		t.Errorf("got sequence %d prev %v", rec.Sequence, rec.PrevRecordHash)
	}
}

func TestCreateRecord_validationError(t *testing.T) {
	srv := stubLedgerServer(t)
	defer srv.Close()

	_, err := client.MustNew(srv.URL).CreateRecord(context.Background(), client.RecordInput{})
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest || len(apiErr.Fields) != 1 || apiErr.Fields[0].Field != "carrier_id" {
		t.Errorf("unexpected error: %+v", apiErr)
	}
}

func TestGetRecord_notFound(t *testing.T) {
	srv := stubLedgerServer(t)
	defer srv.Close()

	_, err := client.MustNew(srv.URL).GetRecord(context.Background(), "missing")
	if !errors.Is(err, client.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestBatchCreate_allFailedStillReturnsResults(t *testing.T) {
	srv := stubLedgerServer(t)
	defer srv.Close()

	res, err := client.MustNew(srv.URL).BatchCreate(context.Background(), []client.RecordInput{{}})
	if err != nil {
		t.Fatalf("BatchCreate: %v", err)
	}
	if res.Errors != 1 || res.Results[0].Success {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestMyRecords_bearerToken(t *testing.T) {
	srv := stubLedgerServer(t)
	defer srv.Close()

	if _, err := client.MustNew(srv.URL).MyRecords(context.Background(), 10, 0); err == nil {
		t.Fatal("expected 401 without a token")
	}
	page, err := client.MustNew(srv.URL, client.WithBearerToken("tok-123")).MyRecords(context.Background(), 10, 0)
	if err != nil {
		t.Fatalf("MyRecords: %v", err)
	}
	if page.Records == nil {
		t.Error("expected empty records slice")
	}
}

func TestExportSummary_filterEncoding(t *testing.T) {
	srv := stubLedgerServer(t)
	defer srv.Close()

	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sum, err := client.MustNew(srv.URL).ExportSummary(context.Background(), client.ExportFilter{
		CarrierID: "C1", MinGrade: 2, From: &from,
	})
	if err != nil {
		t.Fatalf("ExportSummary: %v", err)
	}
	if sum.RecordCount != 2 || sum.ByGrade["1"].Records != 2 {
		t.Errorf("unexpected summary: %+v", sum)
	}
}

func TestIssueToken_adminSecret(t *testing.T) {
	srv := stubLedgerServer(t)
	defer srv.Close()

	_, err := client.MustNew(srv.URL).IssueToken(context.Background(), "C1")
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
	tok, err := client.MustNew(srv.URL, client.WithAdminSecret("s3cret")).IssueToken(context.Background(), "C1")
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if tok.AccessToken != "tok-123" || tok.ExpiresIn != 3600 {
		t.Errorf("unexpected token: %+v", tok)
	}
}

// ── Against the real router ─────────────────────────────────────────────

func realLedgerServer(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	store := ledger.NewMemoryStore()
	sealer, err := keys.NewSealer([]byte("client-test-master-secret"))
	if err != nil {
		t.Fatal(err)
	}
	km := keys.NewManager(keys.NewMemoryKeyStore(), sealer, logger)
	svc := service.NewLedgerService(store, km, logger)
	key, err := identity.DeriveTokenKey([]byte("client-test-token-secret"))
	if err != nil {
		t.Fatal(err)
	}
	tokens := identity.NewCarrierTokenIssuer(key, "https://ledger.test", time.Hour)

	r := gin.New()
	v1 := r.Group("/api/v1")
	handler.NewRecordHandler(svc, tokens, logger).Register(v1)
	handler.NewKeyHandler(km, logger).Register(v1)
	handler.NewVerifyHandler(svc, logger).Register(v1)
	handler.NewExportHandler(export.NewExporter(store, "client-test", logger), logger).Register(v1)
	handler.NewAuthHandler(tokens, "admin", logger).Register(v1)
	return httptest.NewServer(r)
}

func TestRoundTrip_signAndVerifyChain(t *testing.T) {
	srv := realLedgerServer(t)
	defer srv.Close()
	ctx := context.Background()
	c := client.MustNew(srv.URL)

	if _, err := c.GenerateKeyPair(ctx, "C1"); err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	var ids []string
	for i := 0; i < 3; i++ {
		rec, err := c.CreateRecord(ctx, client.RecordInput{
			OrderID: "ORD-9", FleetID: "F1", CarrierID: "C1",
			DistanceKm: 500, CargoWeightTonnes: 10, FuelConsumedLiters: 150, FuelType: "DIESEL",
			TTWEmissionsGrams: 320000, WTTEmissionsGrams: 80000, EmissionIntensity: 80,
			Grade: 1, Source: "TELEMATICS",
		})
		if err != nil {
			t.Fatalf("CreateRecord: %v", err)
		}
		if rec.Sequence != int64(i+1) {
			t.Fatalf("sequence = %d, want %d", rec.Sequence, i+1)
		}
		signed, err := c.SignRecord(ctx, rec.ID)
		if err != nil {
			t.Fatalf("SignRecord: %v", err)
		}
		if signed.State != "SIGNED" || signed.SignerKeyID == "" {
			t.Errorf("record not signed: %+v", signed)
		}
		ids = append(ids, rec.ID)
	}

	res, err := c.VerifyRecord(ctx, ids[1])
	if err != nil {
		t.Fatalf("VerifyRecord: %v", err)
	}
	if !res.Valid || res.SignatureValid == nil || !*res.SignatureValid {
		t.Errorf("expected valid signed record: %+v", res)
	}

	chain, err := c.VerifyChain(ctx, "C1")
	if err != nil {
		t.Fatalf("VerifyChain: %v", err)
	}
	if !chain.Valid || chain.VerifiedRecords != 3 {
		t.Errorf("unexpected chain result: %+v", chain)
	}

	tip, err := c.ChainTip(ctx, "C1")
	if err != nil {
		t.Fatalf("ChainTip: %v", err)
	}
	if tip.RecordID != ids[2] || tip.Sequence != 3 {
		t.Errorf("unexpected tip: %+v", tip)
	}

	byOrder, err := c.GetRecordsByOrder(ctx, "ORD-9")
	if err != nil || len(byOrder) != 3 {
		t.Fatalf("GetRecordsByOrder = %d records, %v", len(byOrder), err)
	}

	csv, err := c.ExportCSV(ctx, client.ExportFilter{CarrierID: "C1"}, true)
	if err != nil {
		t.Fatalf("ExportCSV: %v", err)
	}
	if lines := strings.Count(strings.TrimSpace(string(csv)), "\n"); lines != 3 {
		t.Errorf("csv has %d data lines, want 3", lines)
	}

	if _, err := c.SignRecord(ctx, ids[0]); err == nil {
		t.Error("expected conflict when signing twice")
	}
}

func TestRoundTrip_carrierToken(t *testing.T) {
	srv := realLedgerServer(t)
	defer srv.Close()
	ctx := context.Background()

	admin := client.MustNew(srv.URL, client.WithAdminSecret("admin"))
	tok, err := admin.IssueToken(ctx, "C7")
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	carrier := client.MustNew(srv.URL, client.WithBearerToken(tok.AccessToken))
	if _, err := carrier.CreateRecord(ctx, client.RecordInput{
		CarrierID: "C7", DistanceKm: 100, CargoWeightTonnes: 2, FuelType: "DIESEL",
		TTWEmissionsGrams: 1000, EmissionIntensity: 5, Grade: 2, Source: "MODELED",
	}); err != nil {
		t.Fatalf("CreateRecord: %v", err)
	}
	page, err := carrier.MyRecords(ctx, 0, 0)
	if err != nil {
		t.Fatalf("MyRecords: %v", err)
	}
	if page.Total != 1 || page.Records[0].CarrierID != "C7" {
		t.Errorf("unexpected page: %+v", page)
	}
}
