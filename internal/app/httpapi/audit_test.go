package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestAuditLogRingBufferTrims(t *testing.T) {
	l := newAuditLog(3, nil)
	for i := 0; i < 5; i++ {
		l.add(auditEntry{Path: "/v1/models"})
	}
	if got := len(l.list()); got != 3 {
		t.Fatalf("expected ring buffer capped at 3 entries, got %d", got)
	}
}

func TestAuditLogListLimit(t *testing.T) {
	l := newAuditLog(10, nil)
	for i := 0; i < 5; i++ {
		l.add(auditEntry{Path: "/v1/models"})
	}
	if got := len(l.listLimit(2)); got != 2 {
		t.Fatalf("listLimit(2) returned %d entries, want 2", got)
	}
	if got := len(l.listLimit(0)); got != 5 {
		t.Fatalf("listLimit(0) returned %d entries, want all 5", got)
	}
}

func TestWrapWithAuditRecordsAdminKeyID(t *testing.T) {
	audit := newAuditLog(10, nil)
	inner := wrapWithAdminAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), []string{"secret"}, nil)

	mw := wrapWithAudit(audit)
	wrapped := mw(inner)

	req := httptest.NewRequest(http.MethodPost, "/v1/models", nil)
	req.Header.Set("X-Admin-Key", "secret")
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	entries := audit.list()
	if len(entries) != 1 {
		t.Fatalf("expected one audit entry, got %d", len(entries))
	}
	if entries[0].AdminKeyID != adminKeyID("secret") {
		t.Fatalf("entries[0].AdminKeyID = %q, want %q", entries[0].AdminKeyID, adminKeyID("secret"))
	}
	if entries[0].Status != http.StatusOK {
		t.Fatalf("entries[0].Status = %d, want 200", entries[0].Status)
	}
}

func TestFileAuditSinkWritesJSONLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.jsonl")

	sink, err := newFileAuditSink(path)
	if err != nil {
		t.Fatalf("newFileAuditSink: %v", err)
	}
	if err := sink.Write(auditEntry{Path: "/v1/models", Method: http.MethodPost, Status: 201}); err != nil {
		t.Fatalf("write: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read audit file: %v", err)
	}
	var entry auditEntry
	if err := json.Unmarshal(data[:len(data)-1], &entry); err != nil {
		t.Fatalf("decode written entry: %v", err)
	}
	if entry.Path != "/v1/models" || entry.Status != 201 {
		t.Fatalf("unexpected entry: %+v", entry)
	}
}

func TestClientIPPrefersForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.RemoteAddr = "10.0.0.1:5000"
	req.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")

	if got := clientIP(req); got != "203.0.113.5" {
		t.Fatalf("clientIP() = %q, want 203.0.113.5", got)
	}

	req2 := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req2.RemoteAddr = "10.0.0.2:5000"
	if got := clientIP(req2); got != "10.0.0.2:5000" {
		t.Fatalf("clientIP() fallback = %q, want 10.0.0.2:5000", got)
	}
}
