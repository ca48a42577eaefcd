package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	apiPrefix = "/api/v1"
	// maxBody bounds how much of a response is read. Exports are the largest.
	maxBody = 64 << 20
)

// ErrNotFound is matched by errors.Is for any 404 response.
var ErrNotFound = errors.New("not found")

// FieldError is one field-level validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// APIError is returned for any non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
	Fields     []FieldError
}

func (e *APIError) Error() string {
	if len(e.Fields) > 0 {
		parts := make([]string, 0, len(e.Fields))
		for _, f := range e.Fields {
			parts = append(parts, f.Field+": "+f.Message)
		}
		return fmt.Sprintf("http %d: %s (%s)", e.StatusCode, e.Message, strings.Join(parts, "; "))
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// Is lets errors.Is(err, ErrNotFound) match 404 responses.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Client talks to a carbon ledger over HTTP.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	bearerToken string
	carrierID   string
	adminSecret string
}

// Option configures a Client.
type Option func(*Client) error

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		if hc == nil {
			return errors.New("http client must not be nil")
		}
		c.httpClient = hc
		return nil
	}
}

// WithBearerToken sets a carrier token for authenticated endpoints.
func WithBearerToken(token string) Option {
	return func(c *Client) error {
		c.bearerToken = token
		return nil
	}
}

// WithCarrierID sends X-Carrier-ID on every request. Only honoured by ledgers
// running without a token secret.
func WithCarrierID(carrierID string) Option {
	return func(c *Client) error {
		c.carrierID = carrierID
		return nil
	}
}

// WithAdminSecret sends X-Admin-Secret for token issuance and audit sweeps.
func WithAdminSecret(secret string) Option {
	return func(c *Client) error {
		c.adminSecret = secret
		return nil
	}
}

// New creates a Client for the ledger at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q", baseURL)
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error.
func MustNew(baseURL string, opts ...Option) *Client {
	c, err := New(baseURL, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// ── Records ───────────────────────────────────────────────────────────────

// CreateRecord appends a record to its carrier's chain.
func (c *Client) CreateRecord(ctx context.Context, in RecordInput) (*Record, error) {
	var rec Record
	if err := c.doJSON(ctx, http.MethodPost, "/records", nil, in, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// BatchCreate submits up to 100 records. A partial failure is not an error;
// inspect the per-item results.
func (c *Client) BatchCreate(ctx context.Context, in []RecordInput) (*BatchCreateResult, error) {
	var res BatchCreateResult
	err := c.doJSON(ctx, http.MethodPost, "/records/batch", nil, map[string]any{"records": in}, &res)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnprocessableEntity && res.Total > 0 {
		return &res, nil
	}
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// GetRecord fetches a record by id.
func (c *Client) GetRecord(ctx context.Context, id string) (*Record, error) {
	var rec Record
	if err := c.doJSON(ctx, http.MethodGet, "/records/"+url.PathEscape(id), nil, nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetRecordsByOrder returns every record for an order.
func (c *Client) GetRecordsByOrder(ctx context.Context, orderID string) ([]Record, error) {
	var out struct {
		Records []Record `json:"records"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/orders/"+url.PathEscape(orderID)+"/records", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Records, nil
}

// MyRecords pages through the authenticated carrier's records.
func (c *Client) MyRecords(ctx context.Context, limit, offset int) (*RecordPage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	var page RecordPage
	if err := c.doJSON(ctx, http.MethodGet, "/carriers/me/records", q, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// AppendCustody adds a chain-of-custody entry to a record.
func (c *Client) AppendCustody(ctx context.Context, id, actor, action, system string) (*Record, error) {
	body := map[string]string{"actor": actor, "action": action, "system": system}
	var rec Record
	if err := c.doJSON(ctx, http.MethodPost, "/records/"+url.PathEscape(id)+"/custody", nil, body, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// ChainTip returns the newest record of a carrier.
func (c *Client) ChainTip(ctx context.Context, carrierID string) (*ChainTip, error) {
	var tip ChainTip
	if err := c.doJSON(ctx, http.MethodGet, "/carriers/"+url.PathEscape(carrierID)+"/chain/tip", nil, nil, &tip); err != nil {
		return nil, err
	}
	return &tip, nil
}

// ── Keys and verification ─────────────────────────────────────────────────

// GenerateKeyPair creates a new active signing key for a carrier. The
// returned private key is never shown again.
func (c *Client) GenerateKeyPair(ctx context.Context, carrierID string) (*KeyPair, error) {
	var kp KeyPair
	if err := c.doJSON(ctx, http.MethodPost, "/carriers/"+url.PathEscape(carrierID)+"/keys", nil, nil, &kp); err != nil {
		return nil, err
	}
	return &kp, nil
}

// ListKeys returns a carrier's keys without private material.
func (c *Client) ListKeys(ctx context.Context, carrierID string) ([]KeyPair, error) {
	var out struct {
		Keys []KeyPair `json:"keys"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/carriers/"+url.PathEscape(carrierID)+"/keys", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Keys, nil
}

// SignRecord signs a record with its carrier's active key.
func (c *Client) SignRecord(ctx context.Context, id string) (*Record, error) {
	var rec Record
	if err := c.doJSON(ctx, http.MethodPost, "/records/"+url.PathEscape(id)+"/sign", nil, nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// VerifyRecord checks a record's hash, link and signature.
func (c *Client) VerifyRecord(ctx context.Context, id string) (*VerificationResult, error) {
	var res VerificationResult
	if err := c.doJSON(ctx, http.MethodGet, "/records/"+url.PathEscape(id)+"/verify", nil, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// BatchVerify verifies up to 100 records.
func (c *Client) BatchVerify(ctx context.Context, ids []string) (*BatchVerifyResult, error) {
	var res BatchVerifyResult
	if err := c.doJSON(ctx, http.MethodPost, "/verify/batch", nil, map[string]any{"record_ids": ids}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// VerifyChain walks a carrier's whole chain.
func (c *Client) VerifyChain(ctx context.Context, carrierID string) (*ChainVerification, error) {
	var res ChainVerification
	if err := c.doJSON(ctx, http.MethodGet, "/carriers/"+url.PathEscape(carrierID)+"/chain/verify", nil, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ── Anomalies ─────────────────────────────────────────────────────────────

// DetectAnomalies screens one record against its baseline.
func (c *Client) DetectAnomalies(ctx context.Context, id string) (*AnomalyReport, error) {
	var rep AnomalyReport
	if err := c.doJSON(ctx, http.MethodGet, "/records/"+url.PathEscape(id)+"/anomalies", nil, nil, &rep); err != nil {
		return nil, err
	}
	return &rep, nil
}

// CarrierAnomalies screens a carrier's recent records. Zero values use the
// server defaults.
func (c *Client) CarrierAnomalies(ctx context.Context, carrierID string, lastDays, limit int) (*CarrierAnomalies, error) {
	q := url.Values{}
	if lastDays > 0 {
		q.Set("lastDays", strconv.Itoa(lastDays))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var rep CarrierAnomalies
	if err := c.doJSON(ctx, http.MethodGet, "/carriers/"+url.PathEscape(carrierID)+"/anomalies", q, nil, &rep); err != nil {
		return nil, err
	}
	return &rep, nil
}

// BatchAnomalyCheck screens up to 100 records.
func (c *Client) BatchAnomalyCheck(ctx context.Context, ids []string) (*BatchAnomalyResult, error) {
	var res BatchAnomalyResult
	if err := c.doJSON(ctx, http.MethodPost, "/anomalies/batch", nil, map[string]any{"record_ids": ids}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ── Exports ───────────────────────────────────────────────────────────────

func (f ExportFilter) values() url.Values {
	q := url.Values{}
	if f.CarrierID != "" {
		q.Set("carrierId", f.CarrierID)
	}
	if f.OrderID != "" {
		q.Set("orderId", f.OrderID)
	}
	if f.FleetID != "" {
		q.Set("fleetId", f.FleetID)
	}
	if f.From != nil {
		q.Set("from", f.From.UTC().Format(time.RFC3339))
	}
	if f.To != nil {
		q.Set("to", f.To.UTC().Format(time.RFC3339))
	}
	if f.MinGrade > 0 {
		q.Set("minGrade", strconv.Itoa(f.MinGrade))
	}
	return q
}

// ExportJSON returns the filtered records with export metadata.
func (c *Client) ExportJSON(ctx context.Context, f ExportFilter) (*JSONExport, error) {
	var out JSONExport
	if err := c.doJSON(ctx, http.MethodGet, "/export/json", f.values(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ExportCSV returns the filtered records as CSV bytes.
func (c *Client) ExportCSV(ctx context.Context, f ExportFilter, includeIntegrity bool) ([]byte, error) {
	q := f.values()
	if includeIntegrity {
		q.Set("includeIntegrity", "true")
	}
	req, err := c.newRequest(ctx, http.MethodGet, "/export/csv", q, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

// ExportSummary returns the emissions rollup for the filter.
func (c *Client) ExportSummary(ctx context.Context, f ExportFilter) (*Summary, error) {
	var out Summary
	if err := c.doJSON(ctx, http.MethodGet, "/export/summary", f.values(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ── Identity and audit ────────────────────────────────────────────────────

// IssueToken mints a carrier bearer token. Requires WithAdminSecret.
func (c *Client) IssueToken(ctx context.Context, carrierID string) (*Token, error) {
	var tok Token
	if err := c.doJSON(ctx, http.MethodPost, "/auth/token", nil, map[string]string{"carrier_id": carrierID}, &tok); err != nil {
		return nil, err
	}
	return &tok, nil
}

// Sweep runs an audit sweep across all chains. Requires WithAdminSecret.
func (c *Client) Sweep(ctx context.Context) (*SweepReport, error) {
	var rep SweepReport
	if err := c.doJSON(ctx, http.MethodPost, "/audit/sweep", nil, nil, &rep); err != nil {
		return nil, err
	}
	return &rep, nil
}

// AuditStatus returns the number of broken chains seen by the last sweep and
// that sweep's report, which is nil before the first sweep.
func (c *Client) AuditStatus(ctx context.Context) (int, *SweepReport, error) {
	var out struct {
		Broken    int          `json:"broken"`
		LastSweep *SweepReport `json:"last_sweep"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/audit/status", nil, nil, &out); err != nil {
		return 0, nil, err
	}
	return out.Broken, out.LastSweep, nil
}

// ── Internal ──────────────────────────────────────────────────────────────

func (c *Client) newRequest(ctx context.Context, method, path string, q url.Values, body any) (*http.Request, error) {
	u := c.baseURL + apiPrefix + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// doJSON sends body as JSON and decodes the response into out. On an error
// status the body is still decoded into out when it parses.
func (c *Client) doJSON(ctx context.Context, method, path string, q url.Values, body, out any) error {
	req, err := c.newRequest(ctx, method, path, q, body)
	if err != nil {
		return err
	}
	raw, err := c.do(req)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && out != nil && len(raw) > 0 {
			_ = json.Unmarshal(raw, out)
		}
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// do executes req with the configured credentials. The body is returned
// alongside an *APIError for non-2xx responses.
func (c *Client) do(req *http.Request) ([]byte, error) {
	if c.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}
	if c.carrierID != "" {
		req.Header.Set("X-Carrier-ID", c.carrierID)
	}
	if c.adminSecret != "" {
		req.Header.Set("X-Admin-Secret", c.adminSecret)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return raw, nil
	}

	apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	var body struct {
		Error  string       `json:"error"`
		Fields []FieldError `json:"fields"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		apiErr.Message = body.Error
		apiErr.Fields = body.Fields
	}
	return raw, apiErr
}
