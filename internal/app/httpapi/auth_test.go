package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/playforge-studio/modelplane/pkg/logger"
)

func TestWrapWithAdminAuthEmptyAllowlist(t *testing.T) {
	var called bool
	wrapped := wrapWithAdminAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}), nil, logger.NewDefault("test"))

	req := httptest.NewRequest(http.MethodPost, "/v1/models", nil)
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 with empty allowlist, got %d", rec.Code)
	}
	if called {
		t.Fatalf("expected handler not to run with empty allowlist")
	}

	// Public paths bypass the allowlist check entirely.
	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec = httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected public path to pass through, got %d", rec.Code)
	}
}

func TestWrapWithAdminAuthRejectsWrongKey(t *testing.T) {
	wrapped := wrapWithAdminAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), []string{"right-key"}, logger.NewDefault("test"))

	req := httptest.NewRequest(http.MethodPost, "/v1/models", nil)
	req.Header.Set("X-Admin-Key", "wrong-key")
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong key, got %d", rec.Code)
	}
	if rec.Header().Get("WWW-Authenticate") == "" {
		t.Fatalf("expected WWW-Authenticate header on 401")
	}
}

func TestWrapWithAdminAuthAcceptsBearerToken(t *testing.T) {
	wrapped := wrapWithAdminAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), []string{"right-key"}, logger.NewDefault("test"))

	req := httptest.NewRequest(http.MethodPost, "/v1/models", nil)
	req.Header.Set("Authorization", "Bearer right-key")
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for valid bearer token, got %d", rec.Code)
	}
}

func TestWrapWithAdminAuthRecordsKeyIDOnBox(t *testing.T) {
	wrapped := wrapWithAdminAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), []string{"right-key"}, logger.NewDefault("test"))

	box := &adminKeyBox{}
	req := httptest.NewRequest(http.MethodPost, "/v1/models", nil)
	req.Header.Set("X-Admin-Key", "right-key")
	req = req.WithContext(context.WithValue(req.Context(), ctxAdminKeyBox, box))
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	if box.id == "" {
		t.Fatalf("expected admin key id to be recorded on the box")
	}
	if box.id != adminKeyID("right-key") {
		t.Fatalf("box.id = %q, want %q", box.id, adminKeyID("right-key"))
	}
}

func TestTokenAllowedConstantTime(t *testing.T) {
	allowlist := []string{"alpha", "beta"}
	if !tokenAllowed(allowlist, "beta") {
		t.Fatalf("expected beta to be allowed")
	}
	if tokenAllowed(allowlist, "gamma") {
		t.Fatalf("expected gamma to be rejected")
	}
}

func TestNormalizeTokensDropsBlanks(t *testing.T) {
	got := normalizeTokens([]string{" a ", "", "  ", "b"})
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("normalizeTokens() = %v, want [a b]", got)
	}
}
