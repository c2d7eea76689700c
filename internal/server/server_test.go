package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/codekarta/filedock/internal/access"
	"github.com/codekarta/filedock/internal/auth"
	"github.com/codekarta/filedock/internal/events"
	"github.com/codekarta/filedock/internal/tenant"
	"github.com/codekarta/filedock/internal/vfs"
	"github.com/codekarta/filedock/pkg/models"
	"github.com/codekarta/filedock/pkg/protocol"
)

type testEnv struct {
	server *httptest.Server
	roots  map[string]string

	aliceToken string // user in tenant acme
	bobToken   string // user in tenant globex
	rootToken  string // superadmin
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	roots := map[string]string{
		"acme":   t.TempDir(),
		"globex": t.TempDir(),
	}
	registry := tenant.NewStatic([]tenant.Tenant{
		{ID: "acme", Name: "Acme", Root: roots["acme"]},
		{ID: "globex", Name: "Globex", Root: roots["globex"]},
	})
	users := auth.NewMemoryUsers()
	for _, u := range []struct{ name, pass, role, tenantID string }{
		{"alice", "hunter2", auth.RoleUser, "acme"},
		{"bob", "builder", auth.RoleUser, "globex"},
		{"root", "toor", auth.RoleSuperadmin, ""},
	} {
		if err := users.Add(u.name, u.pass, u.role, u.tenantID); err != nil {
			t.Fatal(err)
		}
	}

	authHandler := auth.New(users, "test-secret", time.Hour)
	ops := vfs.NewOps(vfs.NewResolver(registry), access.NewMemoryStore(), vfs.Options{})
	srv := New(ops, authHandler, events.NewBroadcaster(), 10<<20, 10*time.Second)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	env := &testEnv{server: ts, roots: roots}
	env.aliceToken = env.login(t, "alice", "hunter2")
	env.bobToken = env.login(t, "bob", "builder")
	env.rootToken = env.login(t, "root", "toor")
	return env
}

func (e *testEnv) login(t *testing.T, username, password string) string {
	t.Helper()
	body, _ := json.Marshal(protocol.LoginRequest{Username: username, Password: password})
	resp, err := http.Post(e.server.URL+"/api/v1/auth/token", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login %s: status %d", username, resp.StatusCode)
	}
	var lr protocol.LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		t.Fatal(err)
	}
	return lr.Token
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, e.server.URL+path, reader)
	if err != nil {
		t.Fatal(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, data
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	env := newTestEnv(t)
	body, _ := json.Marshal(protocol.LoginRequest{Username: "alice", Password: "wrong"})
	resp, err := http.Post(env.server.URL+"/api/v1/auth/token", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestProtectedEndpointsRequireToken(t *testing.T) {
	env := newTestEnv(t)
	resp, _ := env.do(t, http.MethodGet, "/api/v1/files?path=/", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestCreateListDelete(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodPost, "/api/v1/folder", env.aliceToken,
		protocol.CreateRequest{Path: "/", Name: "docs"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create folder: status %d", resp.StatusCode)
	}

	resp, _ = env.do(t, http.MethodPost, "/api/v1/file", env.aliceToken,
		protocol.CreateRequest{Path: "/docs", Name: "note.txt", Content: "hello"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create file: status %d", resp.StatusCode)
	}

	resp, data := env.do(t, http.MethodGet, "/api/v1/files?path=/docs", env.aliceToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: status %d", resp.StatusCode)
	}
	var list protocol.ListResponse
	if err := json.Unmarshal(data, &list); err != nil {
		t.Fatal(err)
	}
	if len(list.Entries) != 1 || list.Entries[0].Name != "note.txt" {
		t.Fatalf("entries = %v", list.Entries)
	}

	resp, _ = env.do(t, http.MethodDelete, "/api/v1/delete?path=/docs/note.txt", env.aliceToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete: status %d", resp.StatusCode)
	}

	resp, data = env.do(t, http.MethodGet, "/api/v1/files?path=/docs", env.aliceToken, nil)
	if err := json.Unmarshal(data, &list); err != nil {
		t.Fatal(err)
	}
	if len(list.Entries) != 0 {
		t.Errorf("entries after delete = %v", list.Entries)
	}
}

func TestListHonorsLimitParam(t *testing.T) {
	env := newTestEnv(t)
	for _, n := range []string{"a.txt", "b.txt", "c.txt", "d.txt"} {
		mustWriteFile(t, filepath.Join(env.roots["acme"], n), "x")
	}

	resp, data := env.do(t, http.MethodGet, "/api/v1/files?path=/&page=1&limit=2", env.aliceToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: status %d", resp.StatusCode)
	}
	var list protocol.ListResponse
	if err := json.Unmarshal(data, &list); err != nil {
		t.Fatal(err)
	}
	if len(list.Entries) != 2 {
		t.Errorf("entries = %d, want 2", len(list.Entries))
	}
	if list.Pagination.TotalPages != 2 || list.Pagination.TotalItems != 4 {
		t.Errorf("pagination = %+v", list.Pagination)
	}
}

func TestDeleteRootForbidden(t *testing.T) {
	env := newTestEnv(t)
	resp, _ := env.do(t, http.MethodDelete, "/api/v1/delete?path=/", env.aliceToken, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", resp.StatusCode)
	}
}

func TestRenameConflict(t *testing.T) {
	env := newTestEnv(t)
	mustWriteFile(t, filepath.Join(env.roots["acme"], "a.txt"), "a")
	mustWriteFile(t, filepath.Join(env.roots["acme"], "b.txt"), "b")

	resp, _ := env.do(t, http.MethodPost, "/api/v1/rename", env.aliceToken,
		protocol.RenameRequest{Path: "/a.txt", NewName: "b.txt"})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}
}

func TestMissingPathIs404(t *testing.T) {
	env := newTestEnv(t)
	resp, _ := env.do(t, http.MethodPost, "/api/v1/rename", env.aliceToken,
		protocol.RenameRequest{Path: "/ghost.txt", NewName: "x.txt"})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestTenantIsolation(t *testing.T) {
	env := newTestEnv(t)
	mustWriteFile(t, filepath.Join(env.roots["acme"], "secret.txt"), "acme only")

	// Bob's listing is locked to his tenant and sees nothing of acme.
	resp, data := env.do(t, http.MethodGet, "/api/v1/files?path=/", env.bobToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: status %d", resp.StatusCode)
	}
	var list protocol.ListResponse
	if err := json.Unmarshal(data, &list); err != nil {
		t.Fatal(err)
	}
	if len(list.Entries) != 0 {
		t.Errorf("bob sees %v", list.Entries)
	}

	// Asking for another tenant explicitly is forbidden.
	resp, _ = env.do(t, http.MethodGet, "/api/v1/files?path=/&tenantId=acme", env.bobToken, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("cross-tenant list: status %d, want 403", resp.StatusCode)
	}

	// A superadmin may name any tenant.
	resp, data = env.do(t, http.MethodGet, "/api/v1/files?path=/&tenantId=acme", env.rootToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("superadmin list: status %d", resp.StatusCode)
	}
	if err := json.Unmarshal(data, &list); err != nil {
		t.Fatal(err)
	}
	if len(list.Entries) != 1 || list.Entries[0].Name != "secret.txt" {
		t.Errorf("superadmin sees %v", list.Entries)
	}
}

func TestUploadMultipart(t *testing.T) {
	env := newTestEnv(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("basePath", "/incoming"); err != nil {
		t.Fatal(err)
	}
	uploads := []struct{ rel, base, content string }{
		{"one.txt", "one.txt", "1"},
		{"sub/two.txt", "two.txt", "2"},
	}
	for _, u := range uploads {
		if err := mw.WriteField("relativePaths", u.rel); err != nil {
			t.Fatal(err)
		}
		part, err := mw.CreateFormFile("files", u.base)
		if err != nil {
			t.Fatal(err)
		}
		fmt.Fprint(part, u.content)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}

	req, err := http.NewRequest(http.MethodPost, env.server.URL+"/api/v1/upload", &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+env.aliceToken)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upload: status %d", resp.StatusCode)
	}
	var ur protocol.UploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&ur); err != nil {
		t.Fatal(err)
	}
	if len(ur.Uploaded) != 2 || len(ur.Failures) != 0 {
		t.Fatalf("upload response = %+v", ur)
	}
	if _, err := os.Stat(filepath.Join(env.roots["acme"], "incoming", "sub", "two.txt")); err != nil {
		t.Errorf("nested upload missing: %v", err)
	}
}

func TestDownloadAccessLevels(t *testing.T) {
	env := newTestEnv(t)
	mustWriteFile(t, filepath.Join(env.roots["acme"], "open.txt"), "public bytes")
	mustWriteFile(t, filepath.Join(env.roots["acme"], "closed.txt"), "private bytes")

	resp, _ := env.do(t, http.MethodPost, "/api/v1/access-level", env.aliceToken,
		protocol.AccessLevelRequest{Path: "/open.txt", AccessLevel: models.AccessPublic})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("set access level: status %d", resp.StatusCode)
	}

	// Public file, no token.
	resp, data := env.do(t, http.MethodGet, "/api/v1/download?path=/open.txt&tenantId=acme", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("public download: status %d", resp.StatusCode)
	}
	if string(data) != "public bytes" {
		t.Errorf("body = %q", data)
	}

	// Private file, no token.
	resp, _ = env.do(t, http.MethodGet, "/api/v1/download?path=/closed.txt&tenantId=acme", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("anonymous private download: status %d, want 401", resp.StatusCode)
	}

	// Private file, wrong tenant's token.
	resp, _ = env.do(t, http.MethodGet, "/api/v1/download?path=/closed.txt&tenantId=acme", env.bobToken, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("cross-tenant private download: status %d, want 403", resp.StatusCode)
	}

	// Private file, owner's token.
	resp, data = env.do(t, http.MethodGet, "/api/v1/download?path=/closed.txt", env.aliceToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("owner download: status %d", resp.StatusCode)
	}
	if string(data) != "private bytes" {
		t.Errorf("body = %q", data)
	}
}

func TestSearchEndpoints(t *testing.T) {
	env := newTestEnv(t)
	mustWriteFile(t, filepath.Join(env.roots["acme"], "report-q1.pdf"), "a")
	mustWriteFile(t, filepath.Join(env.roots["globex"], "report-q2.pdf"), "g")

	// Single-tenant search.
	resp, data := env.do(t, http.MethodGet, "/api/v1/search?q=report", env.aliceToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("search: status %d", resp.StatusCode)
	}
	var sr protocol.SearchResponse
	if err := json.Unmarshal(data, &sr); err != nil {
		t.Fatal(err)
	}
	if len(sr.Results) != 1 || sr.Results[0].Name != "report-q1.pdf" {
		t.Fatalf("results = %v", sr.Results)
	}

	// Cross-tenant search is superadmin-only.
	resp, _ = env.do(t, http.MethodGet, "/api/v1/search?q=report&tenantId=all", env.aliceToken, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("user cross-tenant search: status %d, want 403", resp.StatusCode)
	}

	resp, data = env.do(t, http.MethodGet, "/api/v1/search?q=report&tenantId=all", env.rootToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("superadmin search: status %d", resp.StatusCode)
	}
	if err := json.Unmarshal(data, &sr); err != nil {
		t.Fatal(err)
	}
	if len(sr.Results) != 2 {
		t.Fatalf("cross-tenant results = %v", sr.Results)
	}
	if sr.Results[0].Name != "Acme / report-q1.pdf" {
		t.Errorf("decorated name = %s", sr.Results[0].Name)
	}

	// A decorated result path downloads through the same endpoint.
	resp, data = env.do(t, http.MethodGet, "/api/v1/download?path="+sr.Results[1].Path, env.rootToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("decorated download: status %d", resp.StatusCode)
	}
	if string(data) != "g" {
		t.Errorf("body = %q", data)
	}

	// Missing query is a 400.
	resp, _ = env.do(t, http.MethodGet, "/api/v1/search", env.aliceToken, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty query: status %d, want 400", resp.StatusCode)
	}
}

func TestInvalidRegexIs400(t *testing.T) {
	env := newTestEnv(t)
	resp, _ := env.do(t, http.MethodGet, "/api/v1/search?q=%5Bunclosed&regex=true", env.aliceToken, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHealthIsPublic(t *testing.T) {
	env := newTestEnv(t)
	resp, err := http.Get(env.server.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func mustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}
