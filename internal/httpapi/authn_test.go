package httpapi

import (
	"net/http"
	"testing"

	"voidmod.org/internal/auth"
)

func TestExtractBearerToken(t *testing.T) {
	cases := []struct {
		header string
		token  string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"bearer   abc  ", "abc", true},
		{"", "", false},
		{"Bearer ", "", false},
		{"Basic dXNlcjpwdw==", "", false},
	}
	for _, tc := range cases {
		token, err := extractBearerToken(tc.header)
		if tc.ok && (err != nil || token != tc.token) {
			t.Fatalf("%q: expected %q, got %q (%v)", tc.header, tc.token, token, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("%q: expected an error", tc.header)
		}
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	c := newTestAPI(t)

	body := expectStatus(t, c.do(http.MethodGet, "/api/dashboard/stats", "", nil), http.StatusUnauthorized)
	if body["error"] != "authentication required" {
		t.Fatalf("unexpected error: %v", body["error"])
	}
	expectStatus(t, c.do(http.MethodGet, "/api/dashboard/stats", "not-a-jwt", nil), http.StatusUnauthorized)
}

func TestMissingKeyRevokesToken(t *testing.T) {
	c := newTestAPI(t)
	token := c.tokenFor("k1", "Mika", auth.RoleModerator)

	expectStatus(t, c.do(http.MethodGet, "/api/auth/me", token, nil), http.StatusOK)

	c.keys.mu.Lock()
	delete(c.keys.keys, "k1")
	c.keys.mu.Unlock()

	body := expectStatus(t, c.do(http.MethodGet, "/api/auth/me", token, nil), http.StatusUnauthorized)
	if body["error"] != "key invalid or disabled" {
		t.Fatalf("unexpected error: %v", body["error"])
	}
}
