package net

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"storyloom/server/internal/app"
	"storyloom/server/internal/channel"
	"storyloom/server/internal/net/ws"
	"storyloom/server/internal/snapshot"
)

func newTestServer(t *testing.T) (*httptest.Server, *app.Registry) {
	t.Helper()

	snapshots, err := snapshot.Open(":memory:")
	if err != nil {
		t.Fatalf("open snapshots failed: %v", err)
	}
	t.Cleanup(func() { snapshots.Close() })

	store := channel.NewMemoryStore()
	registry := app.NewRegistry(store, snapshots, nil)
	t.Cleanup(registry.Close)

	handler := NewHTTPHandler(registry, snapshots, ws.NewHandler(store, ws.HandlerConfig{}), HTTPHandlerConfig{})
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv, registry
}

func createSession(t *testing.T, srv *httptest.Server, title string) int64 {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"title": title})
	resp, err := http.Post(srv.URL+"/api/sessions", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("create request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create returned %d", resp.StatusCode)
	}
	var created createSessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode create response failed: %v", err)
	}
	return created.SessionID
}

func TestCreateSessionAndListSaved(t *testing.T) {
	srv, registry := newTestServer(t)

	sessionID := createSession(t, srv, "An Evening Tale")
	host, err := registry.Host(sessionID)
	if err != nil {
		t.Fatalf("host not registered: %v", err)
	}
	if got := host.State().Title; got != "An Evening Tale" {
		t.Fatalf("session title = %q", got)
	}

	resp, err := http.Get(srv.URL + "/api/sessions")
	if err != nil {
		t.Fatalf("list request failed: %v", err)
	}
	defer resp.Body.Close()
	var entries []savedSessionEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		t.Fatalf("decode list failed: %v", err)
	}
	if len(entries) != 1 || entries[0].SessionID != sessionID || entries[0].Role != snapshot.RoleHost {
		t.Fatalf("unexpected saved sessions %+v", entries)
	}
}

func TestDeleteSession(t *testing.T) {
	srv, registry := newTestServer(t)
	sessionID := createSession(t, srv, "Short Lived")

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/sessions/"+strconv.FormatInt(sessionID, 10), nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete returned %d", resp.StatusCode)
	}
	if _, err := registry.Host(sessionID); err == nil {
		t.Fatalf("host survived deletion")
	}
}

func TestResumeUnknownSessionIs404(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Post(srv.URL+"/api/sessions/424242/resume", "application/json", nil)
	if err != nil {
		t.Fatalf("resume request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestDeleteUnknownSessionIs404(t *testing.T) {
	srv, _ := newTestServer(t)
	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/sessions/424242", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health returned %d", resp.StatusCode)
	}
}
