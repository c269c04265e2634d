package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	app "github.com/playforge-studio/modelplane/internal/app"
	"github.com/playforge-studio/modelplane/pkg/logger"
)

func newTestApplication(t *testing.T) *app.Application {
	t.Helper()
	application, err := app.New(app.Stores{}, logger.NewDefault("test"))
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	return application
}

func doJSON(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthzAndVersion(t *testing.T) {
	h := NewHandler(newTestApplication(t), nil, nil, nil)

	rec := doJSON(t, h, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d, want 200", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/system/version", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("system/version status = %d, want 200", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode version body: %v", err)
	}
	if body["version"] == "" {
		t.Fatalf("expected non-empty version field, got %+v", body)
	}
}

func TestRegisterModelRequiresAdminAuth(t *testing.T) {
	h := NewHandler(newTestApplication(t), []string{"admin-secret"}, nil, nil)

	rec := doJSON(t, h, http.MethodPost, "/v1/models", map[string]interface{}{
		"name": "gpt-test", "kind": "hosted", "provider": "openrouter",
		"use_case": "npc_dialogue", "version": "v1",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without admin key, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRegisterModelWithAdminKeySucceeds(t *testing.T) {
	h := NewHandler(newTestApplication(t), []string{"admin-secret"}, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/models", bytes.NewReader(mustJSON(t, map[string]interface{}{
		"name": "gpt-test", "kind": "hosted", "provider": "openrouter",
		"use_case": "npc_dialogue", "version": "v1",
	})))
	req.Header.Set("X-Admin-Key", "admin-secret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["model_id"] == "" {
		t.Fatalf("expected model_id in response, got %+v", resp)
	}
}

func TestRegisterModelWithoutAllowlistIsUnavailable(t *testing.T) {
	h := NewHandler(newTestApplication(t), nil, nil, nil)

	rec := doJSON(t, h, http.MethodPost, "/v1/models", map[string]interface{}{
		"name": "gpt-test", "kind": "hosted", "provider": "openrouter",
		"use_case": "npc_dialogue", "version": "v1",
	})
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when allowlist is empty, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRegisterModelValidationError(t *testing.T) {
	h := NewHandler(newTestApplication(t), []string{"admin-secret"}, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/models", bytes.NewReader(mustJSON(t, map[string]interface{}{
		"kind": "hosted", "provider": "openrouter", "use_case": "npc_dialogue", "version": "v1",
	})))
	req.Header.Set("X-Admin-Key", "admin-secret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing name, got %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body["code"] != "invalid_argument" {
		t.Fatalf("expected invalid_argument code, got %+v", body)
	}
}

func TestGetCurrentNotFound(t *testing.T) {
	h := NewHandler(newTestApplication(t), nil, nil, nil)

	rec := doJSON(t, h, http.MethodGet, "/v1/models/current?use_case=unknown", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unregistered use case, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestListAuditRequiresAdminAuth(t *testing.T) {
	audit := newAuditLog(10, nil)
	h := NewHandler(newTestApplication(t), []string{"admin-secret"}, audit, nil)

	rec := doJSON(t, h, http.MethodGet, "/v1/audit", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without admin key, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/audit", nil)
	req.Header.Set("X-Admin-Key", "admin-secret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with admin key, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestParsePriorityDefaultsToBalanced(t *testing.T) {
	if got := parsePriority("bogus"); got != "balanced" {
		t.Fatalf("parsePriority(bogus) = %q, want balanced", got)
	}
	if got := parsePriority("cost"); got != "cost" {
		t.Fatalf("parsePriority(cost) = %q, want cost", got)
	}
}

func mustJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}
