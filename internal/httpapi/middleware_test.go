package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strconv"
	"strings"
	"testing"

	"voidmod.org/internal/obs"
)

func TestLoginRateLimitExceeded(t *testing.T) {
	c := newTestAPI(t, WithRateLimits(0, 2))

	for i := 0; i < 2; i++ {
		expectStatus(t, c.do(http.MethodPost, "/api/auth/login", "", map[string]string{"sessionKey": "wrong"}), http.StatusUnauthorized)
	}
	body := expectStatus(t, c.do(http.MethodPost, "/api/auth/login", "", map[string]string{"sessionKey": "wrong"}), http.StatusTooManyRequests)
	if body["error"] != "rate limit exceeded" {
		t.Fatalf("unexpected error: %v", body["error"])
	}
	if id, _ := body["request_id"].(string); id == "" {
		t.Fatalf("expected request_id in body")
	}

	// the login budget does not apply to other routes
	expectStatus(t, c.do(http.MethodGet, "/healthz", "", nil), http.StatusOK)
}

func (c *apiClient) loginFrom(forwardedFor string) int {
	c.t.Helper()
	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/api/auth/login", strings.NewReader(`{"sessionKey":"wrong"}`))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-For", forwardedFor)
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	resp.Body.Close()
	return resp.StatusCode
}

func TestLoginLimitIgnoresForwardedForFromUntrustedPeer(t *testing.T) {
	c := newTestAPI(t, WithRateLimits(0, 2))

	var last int
	for i := 1; i <= 3; i++ {
		last = c.loginFrom("10.0.0." + strconv.Itoa(i))
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("expected rotating X-Forwarded-For to share one budget, got %d", last)
	}
}

func TestLoginLimitUsesForwardedForFromTrustedProxy(t *testing.T) {
	c := newTestAPI(t, WithRateLimits(0, 2), WithTrustedProxies(netip.MustParsePrefix("127.0.0.0/8")))

	for i := 1; i <= 3; i++ {
		if got := c.loginFrom("10.0.0." + strconv.Itoa(i)); got != http.StatusUnauthorized {
			t.Fatalf("client %d: expected its own budget, got %d", i, got)
		}
	}
	if got := c.loginFrom("10.0.0.1"); got != http.StatusUnauthorized {
		t.Fatalf("expected second attempt within budget, got %d", got)
	}
	if got := c.loginFrom("10.0.0.1"); got != http.StatusTooManyRequests {
		t.Fatalf("expected third attempt to be limited, got %d", got)
	}
}

func TestAccessLogIgnoresSpoofedAddress(t *testing.T) {
	c := newTestAPI(t)

	var buf bytes.Buffer
	restore := obs.SetOutput(&buf)
	defer restore()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.RemoteAddr = "203.0.113.9:5555"
	req.Header.Set("X-Forwarded-For", "198.51.100.1")
	req.Header.Set("X-Real-IP", "198.51.100.2")
	c.handler.ServeHTTP(httptest.NewRecorder(), req)

	if !strings.Contains(buf.String(), `"ip":"203.0.113.9"`) || strings.Contains(buf.String(), "198.51.100.") {
		t.Fatalf("expected the socket address in the access log, got %q", buf.String())
	}
}

func TestAccessLogEmitsStructuredEntry(t *testing.T) {
	c := newTestAPI(t)

	var buf bytes.Buffer
	restore := obs.SetOutput(&buf)
	defer restore()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.RemoteAddr = "203.0.113.9:5555"
	rr := httptest.NewRecorder()
	c.handler.ServeHTTP(rr, req)

	var entry map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var candidate map[string]any
		if err := json.Unmarshal([]byte(line), &candidate); err != nil {
			t.Fatalf("log is not valid JSON: %v", err)
		}
		if candidate["msg"] == "request_complete" {
			entry = candidate
		}
	}
	if entry == nil {
		t.Fatalf("expected a request_complete entry, got %q", buf.String())
	}
	for _, key := range []string{"ts", "level", "request_id", "method", "path", "status", "duration_ms", "ip"} {
		if _, ok := entry[key]; !ok {
			t.Fatalf("expected key %q in log entry", key)
		}
	}
	if entry["status"] != float64(http.StatusOK) || entry["ip"] != "203.0.113.9" {
		t.Fatalf("unexpected entry: %v", entry)
	}
	if entry["request_id"] != rr.Header().Get("X-Request-ID") {
		t.Fatalf("log request_id %v does not match response header %q", entry["request_id"], rr.Header().Get("X-Request-ID"))
	}
}

func TestSecurityHeaders(t *testing.T) {
	c := newTestAPI(t)

	rr := httptest.NewRecorder()
	c.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if got := rr.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Fatalf("unexpected X-Frame-Options: %q", got)
	}
	if got := rr.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("unexpected X-Content-Type-Options: %q", got)
	}
	if rr.Header().Get("Content-Security-Policy") == "" {
		t.Fatalf("expected a content security policy")
	}
}

func TestProductionRedirectsToHTTPS(t *testing.T) {
	c := newTestAPI(t, WithProduction(true))

	rr := httptest.NewRecorder()
	c.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "http://console.example/healthz", nil))
	if rr.Code != http.StatusMovedPermanently {
		t.Fatalf("expected 301, got %d", rr.Code)
	}
	if got := rr.Header().Get("Location"); got != "https://console.example/healthz" {
		t.Fatalf("unexpected location: %q", got)
	}

	req := httptest.NewRequest(http.MethodGet, "http://console.example/healthz", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	rr = httptest.NewRecorder()
	c.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 behind a TLS proxy, got %d", rr.Code)
	}
}

func TestCORSAllowsConfiguredOrigins(t *testing.T) {
	c := newTestAPI(t, WithCORSOrigins("https://console.example"))

	preflight := func(origin string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodOptions, "/api/tickets", nil)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		rr := httptest.NewRecorder()
		c.handler.ServeHTTP(rr, req)
		return rr
	}

	rr := preflight("https://console.example")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://console.example" {
		t.Fatalf("unexpected allow origin: %q", got)
	}
	if !strings.Contains(rr.Header().Get("Access-Control-Allow-Headers"), "Authorization") {
		t.Fatalf("expected Authorization to be an allowed header")
	}

	rr = preflight("https://evil.example")
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("unexpected allow origin for foreign site: %q", got)
	}
}

func TestBodyLimit(t *testing.T) {
	c := newTestAPI(t)

	big := `{"sessionKey":"` + strings.Repeat("a", maxBodyBytes) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(big))
	rr := httptest.NewRecorder()
	c.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rr.Code)
	}
}
