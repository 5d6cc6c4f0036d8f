package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/misaka10987/basileus"
	"github.com/misaka10987/basileus/identity"
	"github.com/misaka10987/basileus/perm"
	"github.com/misaka10987/basileus/pkce"
)

type testUser struct {
	pass   string
	hasPwd bool
	perms  perm.Set
}

type testStore struct {
	mu    sync.Mutex
	users map[string]*testUser
}

func newTestStore() *testStore {
	return &testStore{users: make(map[string]*testUser)}
}

func (m *testStore) Exists(ctx context.Context, user string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.users[user]
	return ok, nil
}

func (m *testStore) CreateUser(ctx context.Context, user string) error {
	if !identity.ValidUsername(user) {
		return fmt.Errorf("%w: %q", identity.ErrInvalidUsername, user)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[user]; ok {
		return fmt.Errorf("%w: %s", identity.ErrExists, user)
	}
	m.users[user] = &testUser{}
	return nil
}

func (m *testStore) DeleteUser(ctx context.Context, user string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[user]; !ok {
		return fmt.Errorf("%w: %s", identity.ErrNotFound, user)
	}
	delete(m.users, user)
	return nil
}

func (m *testStore) CountUsers(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.users)), nil
}

func (m *testStore) SetPassword(ctx context.Context, user, pass string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[user]
	if !ok {
		return fmt.Errorf("%w: %s", identity.ErrNotFound, user)
	}
	u.pass, u.hasPwd = pass, true
	return nil
}

func (m *testStore) DeletePassword(ctx context.Context, user string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[user]
	if !ok {
		return fmt.Errorf("%w: %s", identity.ErrNotFound, user)
	}
	if !u.hasPwd {
		return fmt.Errorf("%w: %s", identity.ErrNoPassword, user)
	}
	u.pass, u.hasPwd = "", false
	return nil
}

func (m *testStore) HasPassword(ctx context.Context, user string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[user]
	if !ok {
		return false, fmt.Errorf("%w: %s", identity.ErrNotFound, user)
	}
	return u.hasPwd, nil
}

func (m *testStore) VerifyPassword(ctx context.Context, user, pass string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[user]
	if !ok {
		return false, fmt.Errorf("%w: %s", identity.ErrNotFound, user)
	}
	if !u.hasPwd {
		return false, fmt.Errorf("%w: %s", identity.ErrNoPassword, user)
	}
	return u.pass == pass, nil
}

func (m *testStore) GetPermissions(ctx context.Context, user string) (perm.Set, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[user]
	if !ok {
		return perm.Set{}, fmt.Errorf("%w: %s", identity.ErrNotFound, user)
	}
	return u.perms, nil
}

func (m *testStore) SetPermissions(ctx context.Context, user string, perms perm.Set) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[user]
	if !ok {
		return fmt.Errorf("%w: %s", identity.ErrNotFound, user)
	}
	u.perms = perms
	return nil
}

var _ basileus.Store = (*testStore)(nil)

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	core, err := basileus.New(newTestStore(), basileus.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err != nil {
		t.Fatalf("basileus.New: %v", err)
	}
	ctx := context.Background()
	if err := core.CreateUser(ctx, "admin", "admin-secret"); err != nil {
		t.Fatalf("create admin: %v", err)
	}
	if err := core.Perms().Give(ctx, "admin", AdminPerm); err != nil {
		t.Fatalf("grant admin: %v", err)
	}

	api, err := New(core, Config{
		Version: "test",
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("httpapi.New: %v", err)
	}

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		t:       t,
	}
}

func (c *apiClient) do(method, path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	return c.do(http.MethodPost, path, body, headers)
}

func (c *apiClient) get(path string, params url.Values, headers map[string]string) *http.Response {
	c.t.Helper()
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		c.t.Fatalf("parse url: %v", err)
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}
	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("get request: %v", err)
	}
	return resp
}

func (c *apiClient) login(user, pass string) string {
	c.t.Helper()
	resp := c.post("/v1/login", map[string]any{"user": user, "password": pass}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("unexpected login status: %d", resp.StatusCode)
	}
	var payload tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		c.t.Fatalf("decode login response: %v", err)
	}
	if payload.Token == "" {
		c.t.Fatalf("empty token issued")
	}
	return payload.Token
}

func bearerHeader(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestLoginSessionLogout(t *testing.T) {
	api := newTestAPI(t)
	token := api.login("admin", "admin-secret")

	resp := api.get("/v1/session", nil, bearerHeader(token))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected session status: %d", resp.StatusCode)
	}
	session := decode[map[string]any](t, resp)
	if session["user"] != "admin" {
		t.Fatalf("unexpected session user: %v", session["user"])
	}
	if session["issued_at"] == "" {
		t.Fatalf("expected issued_at")
	}

	resp = api.post("/v1/logout", nil, bearerHeader(token))
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("unexpected logout status: %d", resp.StatusCode)
	}

	resp = api.get("/v1/session", nil, bearerHeader(token))
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", resp.StatusCode)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	api := newTestAPI(t)

	for _, body := range []map[string]any{
		{"user": "admin", "password": "wrong"},
		{"user": "ghost", "password": "whatever"},
	} {
		resp := api.post("/v1/login", body, nil)
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("expected 401 for %v, got %d", body, resp.StatusCode)
		}
	}
}

func TestUserManagementRequiresAdmin(t *testing.T) {
	api := newTestAPI(t)
	admin := api.login("admin", "admin-secret")

	// Create a plain user.
	resp := api.post("/v1/users", map[string]any{"name": "alice", "password": "wonderland"}, bearerHeader(admin))
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	// Duplicate creation conflicts.
	resp = api.post("/v1/users", map[string]any{"name": "alice", "password": "x"}, bearerHeader(admin))
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}

	// A non-admin cannot manage users.
	alice := api.login("alice", "wonderland")
	resp = api.post("/v1/users", map[string]any{"name": "eve", "password": "x"}, bearerHeader(alice))
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}

	// Unauthenticated requests never reach the handler.
	resp = api.post("/v1/users", map[string]any{"name": "eve", "password": "x"}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}

	resp = api.get("/v1/users", nil, bearerHeader(admin))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	count := decode[map[string]any](t, resp)
	if count["count"].(float64) != 2 {
		t.Fatalf("unexpected user count: %v", count["count"])
	}

	resp = api.do(http.MethodDelete, "/v1/users/alice", nil, bearerHeader(admin))
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}

	resp = api.get("/v1/users/alice", nil, bearerHeader(admin))
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after deletion, got %d", resp.StatusCode)
	}
}

func TestPermissionEndpoints(t *testing.T) {
	api := newTestAPI(t)
	admin := api.login("admin", "admin-secret")

	resp := api.post("/v1/users", map[string]any{"name": "alice", "password": "wonderland"}, bearerHeader(admin))
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	resp = api.do(http.MethodPut, "/v1/users/alice/permissions", map[string]any{"permissions": "door.open window.open"}, bearerHeader(admin))
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}

	resp = api.get("/v1/users/alice/permissions", nil, bearerHeader(admin))
	perms := decode[map[string]any](t, resp)
	if perms["permissions"] != "door.open window.open" {
		t.Fatalf("unexpected permissions: %v", perms["permissions"])
	}

	resp = api.post("/v1/users/alice/permissions/give", map[string]any{"permissions": "roof.open"}, bearerHeader(admin))
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	resp = api.post("/v1/users/alice/permissions/revoke", map[string]any{"permissions": "window.open"}, bearerHeader(admin))
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}

	resp = api.get("/v1/users/alice/permissions", nil, bearerHeader(admin))
	perms = decode[map[string]any](t, resp)
	if perms["permissions"] != "door.open roof.open" {
		t.Fatalf("unexpected permissions after give/revoke: %v", perms["permissions"])
	}

	resp = api.get("/v1/users/alice/permissions/check", url.Values{"require": []string{"door.open"}}, bearerHeader(admin))
	check := decode[map[string]any](t, resp)
	if check["ok"] != true {
		t.Fatalf("expected check ok, got %v", check["ok"])
	}
	resp = api.get("/v1/users/alice/permissions/check", url.Values{"require": []string{"door.open window.open"}}, bearerHeader(admin))
	check = decode[map[string]any](t, resp)
	if check["ok"] != false {
		t.Fatalf("expected check to fail, got %v", check["ok"])
	}
}

func TestSelfAccess(t *testing.T) {
	api := newTestAPI(t)
	admin := api.login("admin", "admin-secret")

	resp := api.post("/v1/users", map[string]any{"name": "alice", "password": "wonderland"}, bearerHeader(admin))
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	alice := api.login("alice", "wonderland")

	// Own permissions are readable, other users' are not.
	resp = api.get("/v1/users/alice/permissions", nil, bearerHeader(alice))
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	resp = api.get("/v1/users/admin/permissions", nil, bearerHeader(alice))
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}

	// Changing the own password revokes the session that changed it.
	resp = api.do(http.MethodPut, "/v1/users/alice/password", map[string]any{"password": "rabbit-hole"}, bearerHeader(alice))
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	resp = api.get("/v1/session", nil, bearerHeader(alice))
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 after password change, got %d", resp.StatusCode)
	}
	api.login("alice", "rabbit-hole")
}

func TestPKCEFlow(t *testing.T) {
	api := newTestAPI(t)
	admin := api.login("admin", "admin-secret")

	resp := api.post("/v1/users", map[string]any{"name": "alice", "password": "wonderland"}, bearerHeader(admin))
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"

	// The auth request needs no bearer token.
	resp = api.post("/v1/pkce/auth", map[string]any{
		"user":                  "alice",
		"password":              "wonderland",
		"code_challenge":        pkce.S256Challenge(verifier),
		"code_challenge_method": "S256",
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected auth status: %d", resp.StatusCode)
	}
	auth := decode[map[string]any](t, resp)
	code := auth["code"].(string)
	if code == "" {
		t.Fatalf("expected code")
	}

	resp = api.post("/v1/pkce/token", map[string]any{"code": code, "code_verifier": verifier}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected token status: %d", resp.StatusCode)
	}
	payload := decode[tokenResponse](t, resp)

	resp = api.get("/v1/session", nil, bearerHeader(payload.Token))
	session := decode[map[string]any](t, resp)
	if session["user"] != "alice" {
		t.Fatalf("unexpected session user: %v", session["user"])
	}

	// A code redeems once.
	resp = api.post("/v1/pkce/token", map[string]any{"code": code, "code_verifier": verifier}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 on replay, got %d", resp.StatusCode)
	}
}

func TestPKCEAuthRejections(t *testing.T) {
	api := newTestAPI(t)
	challenge := pkce.S256Challenge("some-verifier")

	tests := []struct {
		name string
		body map[string]any
		want int
	}{
		{"wrong password", map[string]any{"user": "admin", "password": "wrong", "code_challenge": challenge}, http.StatusUnauthorized},
		{"unknown user", map[string]any{"user": "ghost", "password": "x", "code_challenge": challenge}, http.StatusNotFound},
		{"plain method", map[string]any{"user": "admin", "password": "admin-secret", "code_challenge": "raw", "code_challenge_method": "plain"}, http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := api.post("/v1/pkce/auth", tc.body, nil)
			resp.Body.Close()
			if resp.StatusCode != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, resp.StatusCode)
			}
		})
	}
}

func TestHealthAndInfoArePublic(t *testing.T) {
	api := newTestAPI(t)

	for _, path := range []string{"/healthz", "/readyz", "/v1/info"} {
		resp := api.get(path, nil, nil)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200 for %s, got %d", path, resp.StatusCode)
		}
	}
}

func TestMethodNotAllowed(t *testing.T) {
	api := newTestAPI(t)

	resp := api.get("/v1/login", nil, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Allow") != "POST" {
		t.Fatalf("unexpected Allow header: %q", resp.Header.Get("Allow"))
	}
}

func TestGarbageTokenRejected(t *testing.T) {
	api := newTestAPI(t)

	resp := api.get("/v1/session", nil, bearerHeader("garbage"))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if msg, _ := body["error"].(string); msg == "" {
		t.Fatalf("expected error message, got %v", body)
	}
}
