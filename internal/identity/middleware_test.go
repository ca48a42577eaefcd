package identity_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/CarbonLedger/internal/identity"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newCarrierRouter(tokens *identity.CarrierTokenIssuer) *gin.Engine {
	r := gin.New()
	r.GET("/me", identity.RequireCarrier(tokens), func(c *gin.Context) {
		c.String(http.StatusOK, identity.CarrierFromCtx(c))
	})
	return r
}

func TestRequireCarrier(t *testing.T) {
	ti := newTestCarrierIssuer(t, time.Hour)
	r := newCarrierRouter(ti)

	carrierTok, _ := ti.Issue("carrier-7")
	adminTok, _ := ti.IssueAdmin(0)

	tests := []struct {
		name   string
		auth   string
		status int
		body   string
	}{
		{"valid", "Bearer " + carrierTok, http.StatusOK, "carrier-7"},
		{"missing", "", http.StatusUnauthorized, ""},
		{"garbage", "Bearer not.a.jwt", http.StatusUnauthorized, ""},
		{"admin token", "Bearer " + adminTok, http.StatusForbidden, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			r.ServeHTTP(w, req)
			if w.Code != tt.status {
				t.Errorf("status = %d, want %d", w.Code, tt.status)
			}
			if tt.body != "" && w.Body.String() != tt.body {
				t.Errorf("body = %q, want %q", w.Body.String(), tt.body)
			}
		})
	}
}

func TestRequireCarrier_headerFallback(t *testing.T) {
	r := newCarrierRouter(nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set(identity.CarrierHeader, "dev-carrier")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || w.Body.String() != "dev-carrier" {
		t.Errorf("got %d %q", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 without header", w.Code)
	}
}

func TestRequireAdminSecret(t *testing.T) {
	handler := func(c *gin.Context) { c.Status(http.StatusNoContent) }

	r := gin.New()
	r.POST("/on", identity.RequireAdminSecret("s3cret"), handler)
	r.POST("/off", identity.RequireAdminSecret(""), handler)

	cases := []struct {
		path, secret string
		status       int
	}{
		{"/on", "s3cret", http.StatusNoContent},
		{"/on", "wrong", http.StatusUnauthorized},
		{"/on", "", http.StatusUnauthorized},
		{"/off", "anything", http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, tc.path, nil)
		if tc.secret != "" {
			req.Header.Set(identity.AdminSecretHeader, tc.secret)
		}
		r.ServeHTTP(w, req)
		if w.Code != tc.status {
			t.Errorf("%s with %q: status = %d, want %d", tc.path, tc.secret, w.Code, tc.status)
		}
	}
}
