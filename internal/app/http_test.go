package app

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"inkwell/internal/authpw"
)

func newTestServer(t *testing.T) (*httptest.Server, *Service, *memStore) {
	t.Helper()
	svc, st, _ := newTestService()
	httpServer := NewHTTPServer(svc, authpw.NewService(st), "*")
	server := httptest.NewServer(httpServer.Handler())
	t.Cleanup(server.Close)
	return server, svc, st
}

func doJSON(t *testing.T, method, url, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	payload := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&payload)
	return resp, payload
}

func TestHealthEndpoint(t *testing.T) {
	server, _, _ := newTestServer(t)
	resp, payload := doJSON(t, http.MethodGet, server.URL+"/api/health", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if payload["ok"] != true {
		t.Fatalf("unexpected payload %v", payload)
	}
}

func TestMutationsRequireSession(t *testing.T) {
	server, _, st := newTestServer(t)
	seedUser(st, "author", "Author")
	seedPost(st, "p1", "author", "Hello")

	for _, route := range []struct{ method, path string }{
		{http.MethodPost, "/api/posts/p1/like"},
		{http.MethodPost, "/api/posts/p1/save"},
		{http.MethodPost, "/api/posts/p1/comments"},
		{http.MethodGet, "/api/notifications"},
		{http.MethodPost, "/api/posts"},
	} {
		resp, _ := doJSON(t, route.method, server.URL+route.path, "", nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("%s %s: expected 401, got %d", route.method, route.path, resp.StatusCode)
		}
	}
}

func TestPublicReadsNeedNoSession(t *testing.T) {
	server, _, st := newTestServer(t)
	seedUser(st, "author", "Author")
	seedPost(st, "p1", "author", "Hello")

	for _, path := range []string{"/api/posts", "/api/posts/p1", "/api/posts/p1/comments", "/api/users/author"} {
		resp, _ := doJSON(t, http.MethodGet, server.URL+path, "", nil)
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s: expected 200, got %d", path, resp.StatusCode)
		}
	}
}

func TestSignUpSignInAndToggleFlow(t *testing.T) {
	server, _, st := newTestServer(t)
	seedUser(st, "author", "Author")
	seedPost(st, "p1", "author", "Hello")

	resp, payload := doJSON(t, http.MethodPost, server.URL+"/api/auth/signup", "", map[string]any{
		"email":       "ada@example.com",
		"password":    "correct-horse",
		"displayName": "Ada",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("signup: expected 201, got %d (%v)", resp.StatusCode, payload)
	}
	token, _ := payload["accessToken"].(string)
	if token == "" {
		t.Fatalf("signup returned no access token: %v", payload)
	}

	resp, payload = doJSON(t, http.MethodPost, server.URL+"/api/posts/p1/like", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("like: expected 200, got %d (%v)", resp.StatusCode, payload)
	}
	if payload["liked"] != true || payload["likesCount"] != float64(1) {
		t.Fatalf("unexpected like payload %v", payload)
	}

	resp, payload = doJSON(t, http.MethodPost, server.URL+"/api/posts/p1/like", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unlike: expected 200, got %d", resp.StatusCode)
	}
	if payload["liked"] != false || payload["likesCount"] != float64(0) {
		t.Fatalf("unexpected unlike payload %v", payload)
	}

	resp, payload = doJSON(t, http.MethodPost, server.URL+"/api/auth/signin", "", map[string]any{
		"email":    "ada@example.com",
		"password": "correct-horse",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("signin: expected 200, got %d (%v)", resp.StatusCode, payload)
	}
}

func TestCreateCommentOverHTTP(t *testing.T) {
	server, svc, st := newTestServer(t)
	seedUser(st, "author", "Author")
	seedUser(st, "alice", "Alice")
	seedPost(st, "p1", "author", "Hello")

	session, err := svc.CreateSession(t.Context(), "alice")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	resp, payload := doJSON(t, http.MethodPost, server.URL+"/api/posts/p1/comments", session.Token, map[string]any{
		"text": "well said",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%v)", resp.StatusCode, payload)
	}
	if payload["text"] != "well said" || payload["authorName"] != "Alice" {
		t.Fatalf("unexpected comment payload %v", payload)
	}

	resp, payload = doJSON(t, http.MethodPost, server.URL+"/api/posts/p1/comments", session.Token, map[string]any{
		"text": strings.Repeat("x", 1001),
	})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for oversized comment, got %d (%v)", resp.StatusCode, payload)
	}
}

func TestMissingPostReturns404(t *testing.T) {
	server, svc, st := newTestServer(t)
	seedUser(st, "alice", "Alice")

	session, err := svc.CreateSession(t.Context(), "alice")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	resp, payload := doJSON(t, http.MethodPost, server.URL+"/api/posts/missing/like", session.Token, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d (%v)", resp.StatusCode, payload)
	}
	if payload["code"] != "NOT_FOUND" {
		t.Fatalf("unexpected error payload %v", payload)
	}
}

func TestUploadsUnavailableWithoutObjectStore(t *testing.T) {
	server, svc, st := newTestServer(t)
	seedUser(st, "alice", "Alice")
	session, err := svc.CreateSession(t.Context(), "alice")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	resp, _ := doJSON(t, http.MethodPost, server.URL+"/api/uploads", session.Token, nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
}
