package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/helioscrm/helios/internal/model"
	"github.com/helioscrm/helios/internal/service"
	"github.com/helioscrm/helios/internal/store"
)

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	st, err := store.Open("sqlite", "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	plans := func(model.Environment) model.RateLimit {
		return model.RateLimit{PerMinute: 3, PerHour: 100, PerDay: 1000, PerMonth: 10000}
	}

	recorder := service.NewUsageRecorder(st, 64, logger)
	recorder.Start(context.Background())
	t.Cleanup(recorder.Close)

	auth := service.NewAuthService(st, recorder, logger)
	keys := service.NewKeyService(st, st, plans, logger)
	sessions := service.NewSessionService(st, "test-jwt-secret", time.Hour, logger)

	cfg := DefaultConfig()
	cfg.IPRatePerMinute = 0 // the IP guard gets in the way of loop-heavy tests
	srv := New(cfg, st, auth, keys, sessions, logger)

	admin := &model.Admin{
		Email:        "ops@helioscrm.test",
		PasswordHash: store.HashPassword("hunter2"),
		Name:         "Ops",
		IsActive:     true,
	}
	if err := st.CreateAdmin(context.Background(), admin); err != nil {
		t.Fatalf("CreateAdmin: %v", err)
	}
	return srv, st
}

func doJSON(t *testing.T, srv *Server, method, path, token string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var buf io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		buf = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, buf)
	req.RemoteAddr = "203.0.113.10:4242"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	out := map[string]interface{}{}
	if rec.Body.Len() > 0 {
		_ = json.Unmarshal(rec.Body.Bytes(), &out)
	}
	return rec, out
}

func login(t *testing.T, srv *Server) string {
	t.Helper()
	rec, out := doJSON(t, srv, "POST", "/api/v1/system/admin/session", "", map[string]string{
		"email": "ops@helioscrm.test", "password": "hunter2",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login: %d %s", rec.Code, rec.Body.String())
	}
	token, _ := out["session_token"].(string)
	if token == "" {
		t.Fatal("no session token")
	}
	return token
}

func createKey(t *testing.T, srv *Server, token string, body map[string]interface{}) (id, secret string) {
	t.Helper()
	if body == nil {
		body = map[string]interface{}{}
	}
	if body["name"] == nil {
		body["name"] = "partner key"
	}
	if body["scopes"] == nil {
		body["scopes"] = []string{model.ScopeReadLeads, model.ScopeWriteLeads}
	}
	rec, out := doJSON(t, srv, "POST", "/api/v1/system/api-key", token, body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create key: %d %s", rec.Code, rec.Body.String())
	}
	id, _ = out["api_key_id"].(string)
	secret, _ = out["secret"].(string)
	if id == "" || secret == "" {
		t.Fatalf("create key response: %v", out)
	}
	return id, secret
}

func TestHealthEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, path := range []string{"/healthz", "/readyz"} {
		rec, _ := doJSON(t, srv, "GET", path, "", nil)
		if rec.Code != http.StatusOK {
			t.Errorf("%s: %d", path, rec.Code)
		}
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	srv, _ := newTestServer(t)

	rec, _ := doJSON(t, srv, "POST", "/api/v1/system/admin/session", "", map[string]string{
		"email": "ops@helioscrm.test", "password": "wrong",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status: %d", rec.Code)
	}
}

func TestKeyManagementRequiresSession(t *testing.T) {
	srv, _ := newTestServer(t)

	rec, _ := doJSON(t, srv, "GET", "/api/v1/system/api-key", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no token: %d", rec.Code)
	}
	rec, _ = doJSON(t, srv, "GET", "/api/v1/system/api-key", "garbage", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad token: %d", rec.Code)
	}
}

func TestKeyLifecycleOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t)
	token := login(t, srv)

	id, secret := createKey(t, srv, token, nil)

	// The list must expose the prefix but never hash or secret.
	rec, out := doJSON(t, srv, "GET", "/api/v1/system/api-key", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: %d", rec.Code)
	}
	if bytes.Contains(rec.Body.Bytes(), []byte(secret)) {
		t.Error("plaintext secret leaked in list response")
	}
	resource, _ := out["resource"].([]interface{})
	if len(resource) != 1 {
		t.Fatalf("list length: %d", len(resource))
	}

	// Partner call with the fresh secret.
	rec, _ = doJSON(t, srv, "GET", "/api/v1/leads", secret, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("partner call: %d %s", rec.Code, rec.Body.String())
	}

	// Rotate, then the old secret is dead and the new one works.
	rec, out = doJSON(t, srv, "POST", "/api/v1/system/api-key/"+id+"/rotate", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("rotate: %d", rec.Code)
	}
	newSecret, _ := out["secret"].(string)

	rec, _ = doJSON(t, srv, "GET", "/api/v1/leads", secret, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("old secret after rotate: %d", rec.Code)
	}
	rec, _ = doJSON(t, srv, "GET", "/api/v1/leads", newSecret, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("new secret: %d", rec.Code)
	}

	// Revoke, then even the new secret is refused.
	rec, _ = doJSON(t, srv, "DELETE", "/api/v1/system/api-key/"+id, token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("revoke: %d", rec.Code)
	}
	rec, _ = doJSON(t, srv, "GET", "/api/v1/leads", newSecret, nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("revoked secret: %d", rec.Code)
	}
}

func TestPartnerScopeEnforcement(t *testing.T) {
	srv, _ := newTestServer(t)
	token := login(t, srv)

	_, secret := createKey(t, srv, token, map[string]interface{}{
		"name":   "read only",
		"scopes": []string{model.ScopeReadLeads},
	})

	rec, _ := doJSON(t, srv, "GET", "/api/v1/leads", secret, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("read: %d", rec.Code)
	}

	rec, out := doJSON(t, srv, "POST", "/api/v1/leads", secret, map[string]interface{}{
		"name": "Sunny Homeowner", "email": "sunny@example.test",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("write with read-only key: %d", rec.Code)
	}
	errObj, _ := out["error"].(map[string]interface{})
	if errObj["kind"] != string(service.KindScopeDenied) {
		t.Errorf("kind: %v", errObj["kind"])
	}
}

func TestPartnerRateLimitResponse(t *testing.T) {
	srv, _ := newTestServer(t)
	token := login(t, srv)

	// Plan gives 3/minute.
	_, secret := createKey(t, srv, token, nil)

	for i := 0; i < 3; i++ {
		rec, _ := doJSON(t, srv, "GET", "/api/v1/leads", secret, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("call %d: %d", i+1, rec.Code)
		}
	}

	rec, out := doJSON(t, srv, "GET", "/api/v1/leads", secret, nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status: %d", rec.Code)
	}
	if got := rec.Header().Get("X-RateLimit-Window"); got != "minute" {
		t.Errorf("X-RateLimit-Window: %q", got)
	}
	errObj, _ := out["error"].(map[string]interface{})
	if errObj["kind"] != string(service.KindRateLimited) {
		t.Errorf("kind: %v", errObj["kind"])
	}
}

func TestPartnerLeadSubmission(t *testing.T) {
	srv, st := newTestServer(t)
	token := login(t, srv)

	_, secret := createKey(t, srv, token, nil)

	rec, out := doJSON(t, srv, "POST", "/api/v1/leads", secret, map[string]interface{}{
		"name":           "Sunny Homeowner",
		"email":          "sunny@example.test",
		"system_size_kw": 8.5,
		"source":         "partner-referral",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create lead: %d %s", rec.Code, rec.Body.String())
	}
	leadID, _ := out["id"].(string)
	if leadID == "" {
		t.Fatal("no lead id")
	}

	lead, err := st.GetLead(context.Background(), leadID)
	if err != nil {
		t.Fatalf("GetLead: %v", err)
	}
	if lead.Status != "new" || lead.SystemSizeKW != 8.5 {
		t.Errorf("stored lead: %+v", lead)
	}

	rec, _ = doJSON(t, srv, "GET", fmt.Sprintf("/api/v1/leads/%s", leadID), secret, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("get lead: %d", rec.Code)
	}
}

func TestUsageEndpointShowsTraffic(t *testing.T) {
	srv, _ := newTestServer(t)
	token := login(t, srv)

	id, secret := createKey(t, srv, token, nil)
	for i := 0; i < 2; i++ {
		if rec, _ := doJSON(t, srv, "GET", "/api/v1/leads", secret, nil); rec.Code != http.StatusOK {
			t.Fatalf("partner call: %d", rec.Code)
		}
	}

	// The recorder drains asynchronously; counters are updated inline.
	deadline := time.Now().Add(2 * time.Second)
	for {
		rec, out := doJSON(t, srv, "GET", "/api/v1/system/api-key/"+id+"/usage", token, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("usage: %d", rec.Code)
		}
		usage, _ := out["usage"].(map[string]interface{})
		if total, _ := usage["total_count"].(float64); total != 2 {
			t.Fatalf("total_count: %v", usage["total_count"])
		}
		logs, _ := out["logs"].([]interface{})
		if len(logs) == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("usage logs never drained: %d", len(logs))
		}
		time.Sleep(20 * time.Millisecond)
	}
}
