package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGuardMiddleware(t *testing.T) {
	guard := NewGuard(Config{Tokens: []string{"admin-token", " "}, ReadOnlyTokens: []string{"viewer-token"}})
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	handler := guard.Middleware(next)

	cases := []struct {
		name   string
		method string
		header string
		want   int
	}{
		{"missing token", http.MethodGet, "", http.StatusUnauthorized},
		{"wrong scheme", http.MethodGet, "Basic admin-token", http.StatusUnauthorized},
		{"unknown token", http.MethodGet, "Bearer nope", http.StatusUnauthorized},
		{"admin write", http.MethodPost, "Bearer admin-token", http.StatusNoContent},
		{"viewer read", http.MethodGet, "bearer viewer-token", http.StatusNoContent},
		{"viewer write", http.MethodPost, "Bearer viewer-token", http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, "/api/v1/plugins", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("expected status %d, got %d", tc.want, rec.Code)
			}
		})
	}
}

func TestGuardDisabledWithoutTokens(t *testing.T) {
	if (Config{Tokens: []string{}}).Enabled() {
		t.Fatalf("empty config must be disabled")
	}
	handler := NewGuard(Config{}).Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/init", nil))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected pass-through, got %d", rec.Code)
	}
}
