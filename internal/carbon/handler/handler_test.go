package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/CarbonLedger/internal/anomaly"
	"github.com/jmerrifield20/CarbonLedger/internal/audit"
	"github.com/jmerrifield20/CarbonLedger/internal/carbon/handler"
	"github.com/jmerrifield20/CarbonLedger/internal/carbon/ledger"
	"github.com/jmerrifield20/CarbonLedger/internal/carbon/service"
	"github.com/jmerrifield20/CarbonLedger/internal/export"
	"github.com/jmerrifield20/CarbonLedger/internal/identity"
	"github.com/jmerrifield20/CarbonLedger/internal/keys"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const adminSecret = "test-admin-secret"

type testEnv struct {
	router *gin.Engine
	tokens *identity.CarrierTokenIssuer
}

func setupRouter(t *testing.T, withTokens bool) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	store := ledger.NewMemoryStore()
	sealer, err := keys.NewSealer([]byte("handler-test-master-secret"))
	if err != nil {
		t.Fatal(err)
	}
	km := keys.NewManager(keys.NewMemoryKeyStore(), sealer, logger)
	svc := service.NewLedgerService(store, km, logger)
	svc.SetMetrics(handler.MetricsRecorder{})

	var tokens *identity.CarrierTokenIssuer
	if withTokens {
		key, err := identity.DeriveTokenKey([]byte("handler-test-token-secret"))
		if err != nil {
			t.Fatal(err)
		}
		tokens = identity.NewCarrierTokenIssuer(key, "https://ledger.test", time.Hour)
	}

	sweeper := audit.New(store, svc, audit.Config{}, logger)
	sweeper.SetMetricsRecord(handler.RecordChainSweep)

	r := gin.New()
	r.Use(handler.PrometheusMiddleware())
	r.GET("/metrics", handler.MetricsHandler())
	v1 := r.Group("/api/v1")
	handler.NewRecordHandler(svc, tokens, logger).Register(v1)
	handler.NewKeyHandler(km, logger).Register(v1)
	handler.NewVerifyHandler(svc, logger).Register(v1)
	handler.NewAnomalyHandler(anomaly.NewDetector(store, logger), logger).Register(v1)
	handler.NewExportHandler(export.NewExporter(store, "handler-test", logger), logger).Register(v1)
	handler.NewAuthHandler(tokens, adminSecret, logger).Register(v1)
	handler.NewAuditHandler(sweeper, adminSecret, logger).Register(v1)
	return &testEnv{router: r, tokens: tokens}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func recordBody(carrier string) map[string]any {
	return map[string]any{
		"order_id":             "ORD-1",
		"fleet_id":             "FLEET-1",
		"carrier_id":           carrier,
		"distance_km":          500,
		"cargo_weight_tonnes":  10,
		"fuel_consumed_liters": 150,
		"fuel_type":            "diesel",
		"ttw_emissions_grams":  320000,
		"wtt_emissions_grams":  80000,
		"emission_intensity":   80,
		"grade":                1,
		"source":               "TELEMATICS",
	}
}

func (e *testEnv) create(t *testing.T, carrier string) map[string]any {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/v1/records", recordBody(carrier))
	if w.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	return decode(t, w)
}

// ── Records ───────────────────────────────────────────────────────────────

func TestCreateRecord_201_chainScenario(t *testing.T) {
	env := setupRouter(t, false)

	a := env.create(t, "C")
	if a["prev_record_hash"] != nil {
		t.Errorf("genesis prev_record_hash = %v, want null", a["prev_record_hash"])
	}
	if a["state"] != "CREATED" {
		t.Errorf("state = %v", a["state"])
	}
	b := env.create(t, "C")
	if b["prev_record_hash"] != a["record_hash"] {
		t.Errorf("B.prev = %v, want %v", b["prev_record_hash"], a["record_hash"])
	}

	w := env.do(t, http.MethodGet, "/api/v1/carriers/C/chain/verify", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	res := decode(t, w)
	if res["valid"] != true || res["total_records"] != float64(2) || res["verified_records"] != float64(2) {
		t.Errorf("chain = %v", res)
	}
}

func TestCreateRecord_400_validation(t *testing.T) {
	env := setupRouter(t, false)
	body := recordBody("C")
	body["grade"] = 7
	body["cargo_weight_tonnes"] = 0

	w := env.do(t, http.MethodPost, "/api/v1/records", body)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	fields, _ := decode(t, w)["fields"].([]any)
	if len(fields) != 2 {
		t.Errorf("fields = %v, want 2 entries", fields)
	}
}

func TestBatchCreate(t *testing.T) {
	env := setupRouter(t, false)

	bad := recordBody("C")
	bad["source"] = "GUESS"
	w := env.do(t, http.MethodPost, "/api/v1/records/batch", map[string]any{
		"records": []any{recordBody("C"), bad, recordBody("C")},
	})
	if w.Code != http.StatusMultiStatus {
		t.Fatalf("expected 207, got %d: %s", w.Code, w.Body.String())
	}
	res := decode(t, w)
	if res["success"] != float64(2) || res["errors"] != float64(1) {
		t.Errorf("batch = %v", res)
	}

	many := make([]any, handler.MaxBatchSize+1)
	for i := range many {
		many[i] = recordBody("C")
	}
	w = env.do(t, http.MethodPost, "/api/v1/records/batch", map[string]any{"records": many})
	if w.Code != http.StatusBadRequest {
		t.Errorf("oversized batch: expected 400, got %d", w.Code)
	}
}

func TestGetRecord(t *testing.T) {
	env := setupRouter(t, false)
	rec := env.create(t, "C")

	w := env.do(t, http.MethodGet, "/api/v1/records/"+rec["id"].(string), nil)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	w = env.do(t, http.MethodGet, "/api/v1/records/00000000-0000-4000-8000-000000000000", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
	w = env.do(t, http.MethodGet, "/api/v1/records/not-a-uuid", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestGetRecordsByOrder(t *testing.T) {
	env := setupRouter(t, false)
	env.create(t, "C")
	env.create(t, "D")

	w := env.do(t, http.MethodGet, "/api/v1/orders/ORD-1/records", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if decode(t, w)["count"] != float64(2) {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestAppendCustody(t *testing.T) {
	env := setupRouter(t, false)
	rec := env.create(t, "C")
	path := "/api/v1/records/" + rec["id"].(string) + "/custody"

	w := env.do(t, http.MethodPost, path, map[string]string{"actor": "auditor", "action": "reviewed"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	custody, _ := decode(t, w)["chain_of_custody"].([]any)
	if len(custody) != 2 {
		t.Errorf("custody = %v", custody)
	}

	w = env.do(t, http.MethodPost, path, map[string]string{"actor": "auditor"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing action: expected 400, got %d", w.Code)
	}
}

func TestChainTip(t *testing.T) {
	env := setupRouter(t, false)
	w := env.do(t, http.MethodGet, "/api/v1/carriers/C/chain/tip", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("empty chain: expected 404, got %d", w.Code)
	}
	env.create(t, "C")
	last := env.create(t, "C")
	w = env.do(t, http.MethodGet, "/api/v1/carriers/C/chain/tip", nil)
	if w.Code != http.StatusOK || decode(t, w)["record_hash"] != last["record_hash"] {
		t.Errorf("tip = %d %s", w.Code, w.Body.String())
	}
}

// ── Carrier identity ──────────────────────────────────────────────────────

func TestGetMyRecords_headerMode(t *testing.T) {
	env := setupRouter(t, false)
	for i := 0; i < 3; i++ {
		env.create(t, "C")
	}
	env.create(t, "D")

	w := env.do(t, http.MethodGet, "/api/v1/carriers/me/records?limit=2", nil, identity.CarrierHeader, "C")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	page := decode(t, w)
	recs, _ := page["records"].([]any)
	if page["total"] != float64(3) || len(recs) != 2 {
		t.Errorf("page = %v", page)
	}

	w = env.do(t, http.MethodGet, "/api/v1/carriers/me/records", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("no carrier: expected 401, got %d", w.Code)
	}
}

func TestAuthToken_and_GetMyRecords(t *testing.T) {
	env := setupRouter(t, true)
	env.create(t, "C")

	w := env.do(t, http.MethodPost, "/api/v1/auth/token", map[string]string{"carrier_id": "C"})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("no secret: expected 401, got %d", w.Code)
	}

	w = env.do(t, http.MethodPost, "/api/v1/auth/token", map[string]string{"carrier_id": "C"},
		identity.AdminSecretHeader, adminSecret)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	tok := decode(t, w)["access_token"].(string)

	w = env.do(t, http.MethodGet, "/api/v1/carriers/me/records", nil, "Authorization", "Bearer "+tok)
	if w.Code != http.StatusOK || decode(t, w)["total"] != float64(1) {
		t.Errorf("me/records = %d %s", w.Code, w.Body.String())
	}

	// The header fallback is off once tokens are configured.
	w = env.do(t, http.MethodGet, "/api/v1/carriers/me/records", nil, identity.CarrierHeader, "C")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("header with tokens enabled: expected 401, got %d", w.Code)
	}
}

// ── Keys, signing, verification ───────────────────────────────────────────

func TestKeysAndSigning(t *testing.T) {
	env := setupRouter(t, false)
	rec := env.create(t, "C")
	id := rec["id"].(string)

	w := env.do(t, http.MethodPost, "/api/v1/records/"+id+"/sign", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("sign without key: expected 409, got %d", w.Code)
	}

	w = env.do(t, http.MethodPost, "/api/v1/carriers/C/keys", nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("generate key: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	kp := decode(t, w)
	if kp["private_key"] == nil || kp["public_key"] == nil {
		t.Errorf("key pair = %v", kp)
	}

	w = env.do(t, http.MethodGet, "/api/v1/carriers/C/keys", nil)
	if strings.Contains(w.Body.String(), "private_key") {
		t.Error("private key re-exposed by list")
	}

	w = env.do(t, http.MethodPost, "/api/v1/records/"+id+"/sign", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("sign: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	signed := decode(t, w)
	if signed["state"] != "SIGNED" || signed["signer_key_id"] != kp["key_id"] {
		t.Errorf("signed = %v", signed)
	}

	w = env.do(t, http.MethodPost, "/api/v1/records/"+id+"/sign", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("second sign: expected 409, got %d", w.Code)
	}

	w = env.do(t, http.MethodGet, "/api/v1/records/"+id+"/verify", nil)
	res := decode(t, w)
	if res["valid"] != true || res["signature_valid"] != true {
		t.Errorf("verify = %v", res)
	}
}

func TestGenerateKeyPair_loggedOnce(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.InfoLevel)
	logger := zap.New(core)

	sealer, err := keys.NewSealer([]byte("handler-test-master-secret"))
	if err != nil {
		t.Fatal(err)
	}
	km := keys.NewManager(keys.NewMemoryKeyStore(), sealer, logger)
	r := gin.New()
	handler.NewKeyHandler(km, logger).Register(r.Group("/api/v1"))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/carriers/C/keys", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("generate key: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if n := logs.FilterMessage("signing key generated").Len(); n != 1 {
		t.Errorf("signing key generated logged %d times, want 1", n)
	}
}

func TestVerifyRecord_unsigned(t *testing.T) {
	env := setupRouter(t, false)
	rec := env.create(t, "C")

	w := env.do(t, http.MethodGet, "/api/v1/records/"+rec["id"].(string)+"/verify", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	res := decode(t, w)
	if res["valid"] != true || res["chain_valid"] != true || res["signature_valid"] != nil {
		t.Errorf("verify = %v", res)
	}
}

func TestBatchVerify(t *testing.T) {
	env := setupRouter(t, false)
	a := env.create(t, "C")
	b := env.create(t, "C")

	w := env.do(t, http.MethodPost, "/api/v1/verify/batch", map[string]any{
		"record_ids": []string{a["id"].(string), b["id"].(string), "nope"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	res := decode(t, w)
	if res["valid"] != float64(2) || res["invalid"] != float64(1) {
		t.Errorf("batch = %v", res)
	}

	w = env.do(t, http.MethodPost, "/api/v1/verify/batch", map[string]any{"record_ids": []string{}})
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty batch: expected 400, got %d", w.Code)
	}
}

// ── Anomalies ─────────────────────────────────────────────────────────────

func TestAnomalyEndpoints(t *testing.T) {
	env := setupRouter(t, false)
	var ids []string
	for i := 0; i < 6; i++ {
		ids = append(ids, env.create(t, "C")["id"].(string))
	}

	w := env.do(t, http.MethodGet, "/api/v1/records/"+ids[0]+"/anomalies", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if decode(t, w)["is_anomalous"] != false {
		t.Errorf("report = %s", w.Body.String())
	}

	w = env.do(t, http.MethodGet, "/api/v1/carriers/C/anomalies?lastDays=7&limit=3", nil)
	if w.Code != http.StatusOK || decode(t, w)["total_records"] != float64(3) {
		t.Errorf("carrier anomalies = %d %s", w.Code, w.Body.String())
	}
	w = env.do(t, http.MethodGet, "/api/v1/carriers/C/anomalies?limit=abc", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad limit: expected 400, got %d", w.Code)
	}

	w = env.do(t, http.MethodPost, "/api/v1/anomalies/batch", map[string]any{"record_ids": ids})
	if w.Code != http.StatusOK || decode(t, w)["total"] != float64(6) {
		t.Errorf("batch = %d %s", w.Code, w.Body.String())
	}
}

// ── Exports ───────────────────────────────────────────────────────────────

func TestExports(t *testing.T) {
	env := setupRouter(t, false)
	env.create(t, "C")
	env.create(t, "D")

	w := env.do(t, http.MethodGet, "/api/v1/export/json?carrierId=C", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("json: expected 200, got %d", w.Code)
	}
	meta, _ := decode(t, w)["metadata"].(map[string]any)
	if meta["count"] != float64(1) {
		t.Errorf("metadata = %v", meta)
	}

	w = env.do(t, http.MethodGet, "/api/v1/export/csv?includeIntegrity=true", nil)
	if w.Code != http.StatusOK || !strings.HasPrefix(w.Header().Get("Content-Type"), "text/csv") {
		t.Fatalf("csv: %d %s", w.Code, w.Header().Get("Content-Type"))
	}
	if lines := strings.Count(w.Body.String(), "\n"); lines != 3 {
		t.Errorf("csv lines = %d, want 3", lines)
	}

	w = env.do(t, http.MethodGet, "/api/v1/export/summary", nil)
	if w.Code != http.StatusOK || decode(t, w)["record_count"] != float64(2) {
		t.Errorf("summary = %d %s", w.Code, w.Body.String())
	}

	for _, q := range []string{"minGrade=9", "minGrade=x", "from=yesterday",
		fmt.Sprintf("from=%s&to=%s", "2026-02-01T00:00:00Z", "2026-01-01T00:00:00Z")} {
		w = env.do(t, http.MethodGet, "/api/v1/export/summary?"+q, nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", q, w.Code)
		}
	}
}

// ── Audit, metrics, rate limiting ─────────────────────────────────────────

func TestAuditEndpoints(t *testing.T) {
	env := setupRouter(t, false)
	env.create(t, "C")

	w := env.do(t, http.MethodPost, "/api/v1/audit/sweep", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("sweep without secret: expected 401, got %d", w.Code)
	}
	w = env.do(t, http.MethodPost, "/api/v1/audit/sweep", nil, identity.AdminSecretHeader, adminSecret)
	if w.Code != http.StatusOK || decode(t, w)["valid"] != float64(1) {
		t.Errorf("sweep = %d %s", w.Code, w.Body.String())
	}
	w = env.do(t, http.MethodGet, "/api/v1/audit/status", nil)
	if w.Code != http.StatusOK || decode(t, w)["broken"] != float64(0) {
		t.Errorf("status = %d %s", w.Code, w.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := setupRouter(t, false)
	env.create(t, "C")

	w := env.do(t, http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "carbon_records_created_total") {
		t.Error("records counter missing from /metrics")
	}
}

func TestRateLimiter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := gin.New()
	r.Use(handler.RateLimiter(ctx, 1, 2))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	codes := make([]int, 3)
	for i := range codes {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
		codes[i] = w.Code
	}
	if codes[0] != http.StatusNoContent || codes[1] != http.StatusNoContent || codes[2] != http.StatusTooManyRequests {
		t.Errorf("codes = %v, want [204 204 429]", codes)
	}
}
